package p2p

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/Klingon-tech/crystal/internal/storage"
)

func TestBanStore_PutGetDelete(t *testing.T) {
	bs := NewBanStore(storage.NewMemory())
	id := generateTestPeerID(t)

	rec := &BanRecord{ID: id.String(), Reason: "spam", Score: 120, BannedAt: 1, ExpiresAt: 0}
	if err := bs.Put(rec); err != nil {
		t.Fatalf("Put: %v", err)
	}
	got, err := bs.Get(id)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if *got != *rec {
		t.Errorf("Get = %+v, want %+v", got, rec)
	}

	if err := bs.Delete(id); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, err := bs.Get(id); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("Get after Delete = %v, want ErrNotFound", err)
	}
}

func TestBanStore_PruneExpired(t *testing.T) {
	db := storage.NewMemory()
	bs := NewBanStore(db)
	now := time.Now().Unix()

	bs.Put(&BanRecord{ID: "expired", ExpiresAt: now - 10})
	bs.Put(&BanRecord{ID: "active", ExpiresAt: now + 3600})
	bs.Put(&BanRecord{ID: "permanent"})
	db.Put(append(append([]byte(nil), prefixBans...), "corrupt"...), []byte("{"))

	n, err := bs.PruneExpired()
	if err != nil {
		t.Fatalf("PruneExpired: %v", err)
	}
	if n != 2 {
		t.Errorf("pruned %d, want 2", n)
	}

	var left []string
	bs.ForEach(func(r *BanRecord) error {
		left = append(left, r.ID)
		return nil
	})
	if len(left) != 2 || left[0] != "active" || left[1] != "permanent" {
		t.Errorf("remaining = %v, want [active permanent]", left)
	}
}

func TestBanRecord_IsExpired(t *testing.T) {
	now := time.Now().Unix()
	tests := []struct {
		name string
		exp  int64
		want bool
	}{
		{"permanent", 0, false},
		{"future", now + 60, false},
		{"past", now - 60, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := &BanRecord{ExpiresAt: tt.exp}
			if got := r.IsExpired(); got != tt.want {
				t.Errorf("IsExpired = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestPeerStore_SaveLoad(t *testing.T) {
	ps := NewPeerStore(storage.NewMemory())
	id := generateTestPeerID(t)

	rec := PeerRecord{
		ID:       id.String(),
		Addrs:    []string{"/ip4/127.0.0.1/tcp/30373"},
		LastSeen: time.Now().Unix(),
		Source:   SourceSeed,
	}
	if err := ps.Save(rec); err != nil {
		t.Fatalf("Save: %v", err)
	}
	got, err := ps.Load(id)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if got.ID != rec.ID || got.Source != SourceSeed || len(got.Addrs) != 1 {
		t.Errorf("Load = %+v", got)
	}

	rec.Source = SourceDHT
	ps.Save(rec)
	if n, _ := ps.Count(); n != 1 {
		t.Errorf("Count after overwrite = %d, want 1", n)
	}
	if err := ps.Delete(id); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if n, _ := ps.Count(); n != 0 {
		t.Errorf("Count after Delete = %d, want 0", n)
	}
}

func TestPeerStore_Capacity(t *testing.T) {
	ps := NewPeerStore(storage.NewMemory())
	for i := 0; i < maxPersistedPeers; i++ {
		if err := ps.Save(PeerRecord{ID: fmt.Sprintf("p%04d", i)}); err != nil {
			t.Fatalf("Save %d: %v", i, err)
		}
	}
	ps.Save(PeerRecord{ID: "overflow"})
	if ok, _ := ps.t.has("overflow"); ok {
		t.Error("new peer stored past capacity")
	}
	if n, _ := ps.Count(); n != maxPersistedPeers {
		t.Errorf("Count = %d, want %d", n, maxPersistedPeers)
	}
	if err := ps.Save(PeerRecord{ID: "p0000", Source: SourceMDNS}); err != nil {
		t.Errorf("update at capacity: %v", err)
	}
}

func TestPeerStore_PruneStale(t *testing.T) {
	ps := NewPeerStore(storage.NewMemory())
	now := time.Now()
	ps.Save(PeerRecord{ID: "fresh", LastSeen: now.Unix()})
	ps.Save(PeerRecord{ID: "stale", LastSeen: now.Add(-48 * time.Hour).Unix()})

	n, err := ps.PruneStale(staleThreshold)
	if err != nil {
		t.Fatalf("PruneStale: %v", err)
	}
	if n != 1 {
		t.Errorf("pruned %d, want 1", n)
	}
	all, _ := ps.LoadAll()
	if len(all) != 1 || all[0].ID != "fresh" {
		t.Errorf("LoadAll = %+v", all)
	}
}

func TestStores_ShareDatabase(t *testing.T) {
	db := storage.NewMemory()
	NewBanStore(db).Put(&BanRecord{ID: "x"})
	NewPeerStore(db).Save(PeerRecord{ID: "x"})

	if n, _ := NewPeerStore(db).Count(); n != 1 {
		t.Errorf("peer count = %d, want 1", n)
	}
	var bans int
	NewBanStore(db).ForEach(func(*BanRecord) error { bans++; return nil })
	if bans != 1 {
		t.Errorf("ban count = %d, want 1", bans)
	}
}
