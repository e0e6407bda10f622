// Package storage provides database abstractions.
package storage

import "errors"

// ErrNotFound is returned by Get when a key does not exist.
var ErrNotFound = errors.New("key not found")

// DB is the interface for key-value storage.
type DB interface {
	Get(key []byte) ([]byte, error)
	Put(key, value []byte) error
	Delete(key []byte) error
	Has(key []byte) (bool, error)
	// ForEach iterates over all keys with the given prefix in ascending
	// key order. The callback receives a copy of the key and value.
	// Return a non-nil error from fn to stop iteration early.
	ForEach(prefix []byte, fn func(key, value []byte) error) error
	Close() error
}

// Batch collects writes that are applied together by Commit.
type Batch interface {
	Put(key, value []byte) error
	Delete(key []byte) error
	// Commit applies every buffered write. Backends that support it
	// apply the whole batch atomically.
	Commit() error
}

// Batcher is implemented by databases that can create atomic batches.
type Batcher interface {
	NewBatch() Batch
}

// NewBatch returns an atomic batch when db supports one, and a
// buffered batch that replays writes one by one otherwise.
func NewBatch(db DB) Batch {
	if b, ok := db.(Batcher); ok {
		return b.NewBatch()
	}
	return &replayBatch{db: db}
}

type batchOp struct {
	key    []byte
	value  []byte
	delete bool
}

// opBuffer copies and records writes in order.
type opBuffer struct {
	ops []batchOp
}

func (o *opBuffer) Put(key, value []byte) error {
	k := make([]byte, len(key))
	copy(k, key)
	v := make([]byte, len(value))
	copy(v, value)
	o.ops = append(o.ops, batchOp{key: k, value: v})
	return nil
}

func (o *opBuffer) Delete(key []byte) error {
	k := make([]byte, len(key))
	copy(k, key)
	o.ops = append(o.ops, batchOp{key: k, delete: true})
	return nil
}

// replayBatch applies buffered writes non-atomically.
type replayBatch struct {
	opBuffer
	db DB
}

func (r *replayBatch) Commit() error {
	for _, op := range r.ops {
		var err error
		if op.delete {
			err = r.db.Delete(op.key)
		} else {
			err = r.db.Put(op.key, op.value)
		}
		if err != nil {
			return err
		}
	}
	r.ops = nil
	return nil
}
