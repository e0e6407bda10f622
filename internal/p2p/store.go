package p2p

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/Klingon-tech/crystal/internal/storage"
	"github.com/libp2p/go-libp2p/core/peer"
)

// Namespaces inside the node database. The token instance uses single
// letter prefixes, so everything networking keeps lives under "p/".
var (
	prefixBans  = []byte("p/ban/")
	prefixPeers = []byte("p/peer/")
)

const (
	staleThreshold    = 24 * time.Hour
	persistInterval   = 5 * time.Minute
	maxPersistedPeers = 500
)

// table is a JSON-valued keyspace keyed by peer ID string.
type table[T any] struct {
	db *storage.PrefixDB
}

func newTable[T any](db storage.DB, prefix []byte) table[T] {
	return table[T]{db: storage.NewPrefixDB(db, prefix)}
}

func (t table[T]) get(id string) (*T, error) {
	data, err := t.db.Get([]byte(id))
	if err != nil {
		return nil, err
	}
	v := new(T)
	if err := json.Unmarshal(data, v); err != nil {
		return nil, fmt.Errorf("decode %s: %w", id, err)
	}
	return v, nil
}

func (t table[T]) has(id string) (bool, error) {
	return t.db.Has([]byte(id))
}

func (t table[T]) put(id string, v *T) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode %s: %w", id, err)
	}
	return t.db.Put([]byte(id), data)
}

func (t table[T]) del(id string) error {
	return t.db.Delete([]byte(id))
}

// each skips entries that fail to decode.
func (t table[T]) each(fn func(*T) error) error {
	return t.db.ForEach(nil, func(_, value []byte) error {
		v := new(T)
		if err := json.Unmarshal(value, v); err != nil {
			return nil
		}
		return fn(v)
	})
}

func (t table[T]) count() (int, error) {
	n := 0
	err := t.db.ForEach(nil, func(_, _ []byte) error {
		n++
		return nil
	})
	return n, err
}

// prune deletes, in one batch, every entry that is corrupt or for which
// drop returns true.
func (t table[T]) prune(drop func(*T) bool) (int, error) {
	batch := t.db.NewBatch()
	n := 0
	err := t.db.ForEach(nil, func(key, value []byte) error {
		v := new(T)
		if err := json.Unmarshal(value, v); err == nil && !drop(v) {
			return nil
		}
		n++
		return batch.Delete(append([]byte(nil), key...))
	})
	if err != nil {
		return 0, fmt.Errorf("scan for prune: %w", err)
	}
	if n == 0 {
		return 0, nil
	}
	if err := batch.Commit(); err != nil {
		return 0, fmt.Errorf("commit prune: %w", err)
	}
	return n, nil
}

// BanRecord is a persisted ban entry.
type BanRecord struct {
	ID        string `json:"id"`
	Reason    string `json:"reason"`
	Score     int    `json:"score"`
	BannedAt  int64  `json:"banned_at"`
	ExpiresAt int64  `json:"expires_at"` // 0 = permanent
}

// IsExpired returns true if the ban has a non-zero expiry that has passed.
func (r *BanRecord) IsExpired() bool {
	return r.ExpiresAt > 0 && time.Now().Unix() >= r.ExpiresAt
}

// BanStore persists bans.
type BanStore struct {
	t table[BanRecord]
}

// NewBanStore creates a BanStore inside db.
func NewBanStore(db storage.DB) *BanStore {
	return &BanStore{t: newTable[BanRecord](db, prefixBans)}
}

// Get returns the ban for id, or storage.ErrNotFound.
func (bs *BanStore) Get(id peer.ID) (*BanRecord, error) { return bs.t.get(id.String()) }

// Put persists rec.
func (bs *BanStore) Put(rec *BanRecord) error { return bs.t.put(rec.ID, rec) }

// Delete removes the ban for id.
func (bs *BanStore) Delete(id peer.ID) error { return bs.t.del(id.String()) }

// ForEach iterates over all ban records.
func (bs *BanStore) ForEach(fn func(*BanRecord) error) error { return bs.t.each(fn) }

// PruneExpired removes expired and corrupt bans.
func (bs *BanStore) PruneExpired() (int, error) {
	return bs.t.prune(func(r *BanRecord) bool { return r.IsExpired() })
}

// PeerRecord is a persisted address book entry.
type PeerRecord struct {
	ID       string   `json:"id"`
	Addrs    []string `json:"addrs"`
	LastSeen int64    `json:"last_seen"`
	Source   string   `json:"source"`
}

// PeerStore persists known peers so restarts can reconnect without seeds.
type PeerStore struct {
	t table[PeerRecord]
}

// NewPeerStore creates a PeerStore inside db.
func NewPeerStore(db storage.DB) *PeerStore {
	return &PeerStore{t: newTable[PeerRecord](db, prefixPeers)}
}

// Save persists rec. New peers are skipped once maxPersistedPeers are stored.
func (ps *PeerStore) Save(rec PeerRecord) error {
	exists, err := ps.t.has(rec.ID)
	if err != nil {
		return fmt.Errorf("check peer: %w", err)
	}
	if !exists {
		n, err := ps.t.count()
		if err != nil {
			return fmt.Errorf("count peers: %w", err)
		}
		if n >= maxPersistedPeers {
			return nil
		}
	}
	return ps.t.put(rec.ID, &rec)
}

// Load returns the record for id.
func (ps *PeerStore) Load(id peer.ID) (*PeerRecord, error) { return ps.t.get(id.String()) }

// LoadAll returns every decodable record.
func (ps *PeerStore) LoadAll() ([]PeerRecord, error) {
	var out []PeerRecord
	err := ps.t.each(func(r *PeerRecord) error {
		out = append(out, *r)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("iterate peers: %w", err)
	}
	return out, nil
}

// Delete removes the record for id.
func (ps *PeerStore) Delete(id peer.ID) error { return ps.t.del(id.String()) }

// Count returns the number of stored records.
func (ps *PeerStore) Count() (int, error) { return ps.t.count() }

// PruneStale removes records not seen within threshold.
func (ps *PeerStore) PruneStale(threshold time.Duration) (int, error) {
	cutoff := time.Now().Add(-threshold).Unix()
	return ps.t.prune(func(r *PeerRecord) bool { return r.LastSeen < cutoff })
}
