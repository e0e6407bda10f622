package p2p

import (
	"crypto/rand"
	"testing"
	"time"

	"github.com/Klingon-tech/crystal/internal/storage"
	libp2pcrypto "github.com/libp2p/go-libp2p/core/crypto"
	"github.com/libp2p/go-libp2p/core/peer"
)

func generateTestPeerID(t *testing.T) peer.ID {
	t.Helper()
	priv, _, err := libp2pcrypto.GenerateEd25519Key(rand.Reader)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	id, err := peer.IDFromPrivateKey(priv)
	if err != nil {
		t.Fatalf("peer id from key: %v", err)
	}
	return id
}

func TestBanManager_ScoreAccumulation(t *testing.T) {
	bm := NewBanManager(nil, nil)
	id := peer.ID("test-peer")

	bm.RecordOffense(id, PenaltyInvalidRecord, "bad id 1")
	bm.RecordOffense(id, PenaltyInvalidRecord, "bad id 2")
	if bm.IsBanned(id) {
		t.Error("peer should not be banned at 50 points")
	}
	if got := bm.Score(id); got != 2*PenaltyInvalidRecord {
		t.Errorf("Score = %d, want %d", got, 2*PenaltyInvalidRecord)
	}
}

func TestBanManager_ThresholdBan(t *testing.T) {
	bm := NewBanManager(nil, nil)
	id := peer.ID("test-peer")

	bm.RecordOffense(id, PenaltyMalformedRecord, "garbage 1")
	bm.RecordOffense(id, PenaltyMalformedRecord, "garbage 2")

	if !bm.IsBanned(id) {
		t.Error("peer should be banned at threshold")
	}
	if bm.Score(id) != 0 {
		t.Error("score should reset once banned")
	}
}

func TestBanManager_InstantBan(t *testing.T) {
	bm := NewBanManager(nil, nil)
	id := peer.ID("test-peer")

	bm.RecordOffense(id, PenaltyHandshakeFail, "deployment mismatch")
	if !bm.IsBanned(id) {
		t.Error("peer should be banned after handshake fail")
	}
}

func TestBanManager_IsBanned_NotBanned(t *testing.T) {
	bm := NewBanManager(nil, nil)
	if bm.IsBanned(peer.ID("unknown")) {
		t.Error("unknown peer should not be banned")
	}
}

func TestBanManager_Unban(t *testing.T) {
	bm := NewBanManager(nil, nil)
	id := peer.ID("test-peer")
	bm.RecordOffense(id, PenaltyHandshakeFail, "bad handshake")
	if !bm.IsBanned(id) {
		t.Fatal("peer should be banned")
	}

	bm.Unban(id)
	if bm.IsBanned(id) {
		t.Error("peer should not be banned after Unban")
	}
}

func TestBanManager_ExpiredBanLifted(t *testing.T) {
	bm := NewBanManager(nil, nil)
	id := peer.ID("old")
	bm.bans[id] = &BanRecord{ID: id.String(), ExpiresAt: time.Now().Add(-time.Minute).Unix()}

	if bm.IsBanned(id) {
		t.Error("expired ban should not count")
	}
	if len(bm.BanList()) != 0 {
		t.Error("expired ban should be gone from BanList")
	}
}

func TestBanManager_Persistence(t *testing.T) {
	db := storage.NewMemory()
	store := NewBanStore(db)
	bm := NewBanManager(store, nil)

	id := generateTestPeerID(t)
	bm.RecordOffense(id, PenaltyHandshakeFail, "deployment mismatch")
	if !bm.IsBanned(id) {
		t.Fatal("peer should be banned")
	}

	bm2 := NewBanManager(NewBanStore(db), nil)
	bm2.LoadBans()
	if !bm2.IsBanned(id) {
		t.Error("ban should survive reload from store")
	}
	list := bm2.BanList()
	if len(list) != 1 || list[0].Reason != "deployment mismatch" {
		t.Errorf("BanList = %+v", list)
	}
}

func TestBanManager_AlreadyBannedIgnoresOffense(t *testing.T) {
	bm := NewBanManager(nil, nil)
	id := peer.ID("test-peer")
	bm.RecordOffense(id, PenaltyHandshakeFail, "bad handshake")
	bm.RecordOffense(id, PenaltyInvalidRecord, "bad record")

	list := bm.BanList()
	if len(list) != 1 {
		t.Fatalf("expected 1 ban, got %d", len(list))
	}
	if list[0].Reason != "bad handshake" {
		t.Errorf("reason = %q, want the original", list[0].Reason)
	}
}

func TestBanManager_MultiPeer(t *testing.T) {
	bm := NewBanManager(nil, nil)
	bm.RecordOffense(peer.ID("a"), PenaltyHandshakeFail, "bad")
	bm.RecordOffense(peer.ID("b"), PenaltyInvalidRecord, "bad record")

	if !bm.IsBanned(peer.ID("a")) {
		t.Error("peer a should be banned")
	}
	if bm.IsBanned(peer.ID("b")) {
		t.Error("peer b should not be banned")
	}
}
