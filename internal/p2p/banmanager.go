package p2p

import (
	"context"
	"sync"
	"time"

	klog "github.com/Klingon-tech/crystal/internal/log"
	"github.com/libp2p/go-libp2p/core/peer"
)

// Ban thresholds and durations.
const (
	BanThreshold = 100
	BanDuration  = 24 * time.Hour
	banPruneTick = 10 * time.Minute
)

// Penalty values for different offenses.
const (
	PenaltyMalformedRecord = 50  // Not a decodable record.
	PenaltyInvalidRecord   = 25  // Record ID does not match its contents.
	PenaltyHandshakeFail   = 100 // Deployment mismatch bans at once.
)

// BanManager tracks peer offense scores and manages bans.
type BanManager struct {
	mu     sync.RWMutex
	scores map[peer.ID]int
	bans   map[peer.ID]*BanRecord
	store  *BanStore // nil disables persistence
	// disconnect is called for a freshly banned peer. May be nil.
	disconnect func(peer.ID) error
}

// NewBanManager creates a BanManager. store may be nil to keep bans in
// memory only; node may be nil when banned peers need not be dropped.
func NewBanManager(store *BanStore, node *Node) *BanManager {
	bm := &BanManager{
		scores: make(map[peer.ID]int),
		bans:   make(map[peer.ID]*BanRecord),
		store:  store,
	}
	if node != nil {
		bm.disconnect = node.DisconnectPeer
	}
	return bm
}

// LoadBans restores persisted, unexpired bans.
func (bm *BanManager) LoadBans() {
	if bm.store == nil {
		return
	}
	if n, err := bm.store.PruneExpired(); err == nil && n > 0 {
		klog.P2P.Debug().Int("pruned", n).Msg("Expired bans removed")
	}

	bm.mu.Lock()
	defer bm.mu.Unlock()
	bm.store.ForEach(func(rec *BanRecord) error {
		id, err := peer.Decode(rec.ID)
		if err != nil || rec.IsExpired() {
			return nil
		}
		bm.bans[id] = rec
		return nil
	})
}

// Score returns the accumulated, not yet banned score of id.
func (bm *BanManager) Score(id peer.ID) int {
	bm.mu.RLock()
	defer bm.mu.RUnlock()
	return bm.scores[id]
}

// RecordOffense adds penalty to the score of id. Reaching BanThreshold
// bans the peer for BanDuration and drops its connections.
func (bm *BanManager) RecordOffense(id peer.ID, penalty int, reason string) {
	bm.mu.Lock()
	if rec, ok := bm.bans[id]; ok && !rec.IsExpired() {
		bm.mu.Unlock()
		return
	}
	bm.scores[id] += penalty
	if bm.scores[id] < BanThreshold {
		bm.mu.Unlock()
		return
	}

	now := time.Now()
	rec := &BanRecord{
		ID:        id.String(),
		Reason:    reason,
		Score:     bm.scores[id],
		BannedAt:  now.Unix(),
		ExpiresAt: now.Add(BanDuration).Unix(),
	}
	bm.bans[id] = rec
	delete(bm.scores, id)
	bm.mu.Unlock()

	if bm.store != nil {
		if err := bm.store.Put(rec); err != nil {
			klog.P2P.Warn().Err(err).Msg("Persist ban failed")
		}
	}
	klog.P2P.Warn().
		Str("peer", shortID(id)).
		Str("reason", reason).
		Int("score", rec.Score).
		Msg("Peer banned")

	if bm.disconnect != nil {
		go bm.disconnect(id)
	}
}

// IsBanned returns true if the peer is currently banned.
func (bm *BanManager) IsBanned(id peer.ID) bool {
	bm.mu.RLock()
	rec, ok := bm.bans[id]
	bm.mu.RUnlock()
	if !ok {
		return false
	}
	if !rec.IsExpired() {
		return true
	}

	bm.mu.Lock()
	delete(bm.bans, id)
	bm.mu.Unlock()
	if bm.store != nil {
		bm.store.Delete(id)
	}
	return false
}

// Unban manually removes a ban and resets the score.
func (bm *BanManager) Unban(id peer.ID) {
	bm.mu.Lock()
	delete(bm.bans, id)
	delete(bm.scores, id)
	bm.mu.Unlock()

	if bm.store != nil {
		bm.store.Delete(id)
	}
}

// BanList returns a snapshot of all active bans.
func (bm *BanManager) BanList() []BanRecord {
	bm.mu.RLock()
	defer bm.mu.RUnlock()
	var list []BanRecord
	for _, rec := range bm.bans {
		if !rec.IsExpired() {
			list = append(list, *rec)
		}
	}
	return list
}

// RunPruneLoop drops expired bans periodically until ctx is done.
func (bm *BanManager) RunPruneLoop(ctx context.Context) {
	ticker := time.NewTicker(banPruneTick)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			bm.pruneExpired()
		}
	}
}

func (bm *BanManager) pruneExpired() {
	bm.mu.Lock()
	for id, rec := range bm.bans {
		if rec.IsExpired() {
			delete(bm.bans, id)
		}
	}
	bm.mu.Unlock()

	if bm.store != nil {
		bm.store.PruneExpired()
	}
}

func shortID(id peer.ID) string {
	s := id.String()
	if len(s) > 16 {
		return s[:16]
	}
	return s
}
