package storage

// PrefixDB wraps a DB and prepends a fixed prefix to all keys, giving each
// component (engine state, ledger, nonces, records) its own keyspace.
type PrefixDB struct {
	inner  DB
	prefix []byte
}

// NewPrefixDB creates a new PrefixDB wrapping inner with the given prefix.
func NewPrefixDB(inner DB, prefix []byte) *PrefixDB {
	p := make([]byte, len(prefix))
	copy(p, prefix)
	return &PrefixDB{inner: inner, prefix: p}
}

func prefixKey(prefix, key []byte) []byte {
	out := make([]byte, len(prefix)+len(key))
	copy(out, prefix)
	copy(out[len(prefix):], key)
	return out
}

// Get retrieves a value by key.
func (p *PrefixDB) Get(key []byte) ([]byte, error) {
	return p.inner.Get(prefixKey(p.prefix, key))
}

// Put stores a key-value pair.
func (p *PrefixDB) Put(key, value []byte) error {
	return p.inner.Put(prefixKey(p.prefix, key), value)
}

// Delete removes a key.
func (p *PrefixDB) Delete(key []byte) error {
	return p.inner.Delete(prefixKey(p.prefix, key))
}

// Has checks if a key exists.
func (p *PrefixDB) Has(key []byte) (bool, error) {
	return p.inner.Has(prefixKey(p.prefix, key))
}

// ForEach iterates over keys with the given prefix inside this namespace.
// Keys passed to fn have the namespace prefix stripped.
func (p *PrefixDB) ForEach(prefix []byte, fn func(key, value []byte) error) error {
	return p.inner.ForEach(prefixKey(p.prefix, prefix), func(key, value []byte) error {
		return fn(key[len(p.prefix):], value)
	})
}

// DeleteAll removes every key in this namespace from the inner DB.
func (p *PrefixDB) DeleteAll() error {
	var keys [][]byte
	err := p.inner.ForEach(p.prefix, func(key, _ []byte) error {
		keys = append(keys, key)
		return nil
	})
	if err != nil {
		return err
	}
	b := NewBatch(p.inner)
	for _, key := range keys {
		if err := b.Delete(key); err != nil {
			return err
		}
	}
	return b.Commit()
}

// Close is a no-op; the inner DB manages its own lifecycle.
func (p *PrefixDB) Close() error {
	return nil
}

// NewBatch creates a batch on the inner DB scoped to this namespace.
func (p *PrefixDB) NewBatch() Batch {
	return WithPrefix(NewBatch(p.inner), p.prefix)
}

// WithPrefix scopes an existing batch to a key prefix, so several
// namespaces can share one atomic commit.
func WithPrefix(b Batch, prefix []byte) Batch {
	p := make([]byte, len(prefix))
	copy(p, prefix)
	return &prefixBatch{inner: b, prefix: p}
}

type prefixBatch struct {
	inner  Batch
	prefix []byte
}

func (pb *prefixBatch) Put(key, value []byte) error {
	return pb.inner.Put(prefixKey(pb.prefix, key), value)
}

func (pb *prefixBatch) Delete(key []byte) error {
	return pb.inner.Delete(prefixKey(pb.prefix, key))
}

func (pb *prefixBatch) Commit() error {
	return pb.inner.Commit()
}
