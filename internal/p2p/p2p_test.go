package p2p

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/Klingon-tech/crystal/internal/storage"
	"github.com/Klingon-tech/crystal/pkg/types"
	"github.com/libp2p/go-libp2p/core/peer"
)

var testToken = types.Address{0xc7, 0x57}

// startTestNode creates, starts, and returns a P2P node on a random port.
func startTestNode(t *testing.T) *Node {
	t.Helper()
	n := New(Config{ListenAddr: "127.0.0.1", Port: 0, NoDiscover: true, Token: testToken})
	if err := n.Start(); err != nil {
		t.Fatalf("start node: %v", err)
	}
	t.Cleanup(func() { n.Stop() })
	return n
}

// connectNodes connects node B to node A and waits for the gossip mesh.
func connectNodes(t *testing.T, a, b *Node) {
	t.Helper()
	info := peer.AddrInfo{ID: a.host.ID(), Addrs: a.host.Addrs()}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := b.host.Connect(ctx, info); err != nil {
		t.Fatalf("connect nodes: %v", err)
	}
	time.Sleep(300 * time.Millisecond)
}

// eventually polls cond until it holds or five seconds pass.
func eventually(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.After(5 * time.Second)
	for !cond() {
		select {
		case <-deadline:
			t.Fatalf("timed out waiting for %s", what)
		case <-time.After(50 * time.Millisecond):
		}
	}
}

// --- Node lifecycle ---

func TestNode_New(t *testing.T) {
	n := New(Config{ListenAddr: "127.0.0.1", Port: 0})
	if n.host != nil {
		t.Error("host should be nil before Start")
	}
	if n.ID() != "" {
		t.Error("ID should be empty before Start")
	}
	if n.Addrs() != nil {
		t.Error("Addrs should be nil before Start")
	}
	if n.peerStore != nil {
		t.Error("peerStore should be nil without a DB")
	}
}

func TestNode_StartStop(t *testing.T) {
	n := New(Config{ListenAddr: "127.0.0.1", Port: 0, NoDiscover: true, Token: testToken})
	if err := n.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if n.ID() == "" {
		t.Error("ID should not be empty after Start")
	}
	if len(n.Addrs()) == 0 {
		t.Error("Addrs should not be empty after Start")
	}
	if n.BanManager == nil {
		t.Error("BanManager should exist after Start")
	}
	if err := n.Stop(); err != nil {
		t.Fatalf("Stop: %v", err)
	}
}

func TestNode_StopBeforeStart(t *testing.T) {
	n := New(Config{})
	if err := n.Stop(); err != nil {
		t.Errorf("Stop before Start: %v", err)
	}
}

func TestNode_AddRemovePeer(t *testing.T) {
	n := New(Config{})
	id := peer.ID("peer-1")

	n.addPeer(id, "")
	n.addPeer(id, SourceSeed)
	if n.PeerCount() != 1 {
		t.Fatalf("PeerCount = %d, want 1", n.PeerCount())
	}
	if got := n.PeerList()[0].Source; got != SourceSeed {
		t.Errorf("Source = %q, want a late source to fill in", got)
	}
	n.addPeer(id, SourceDHT)
	if got := n.PeerList()[0].Source; got != SourceSeed {
		t.Errorf("Source = %q, first known source should stick", got)
	}

	n.countRecord(id)
	n.PeerList()[0].Records = 100
	if got := n.PeerList()[0].Records; got != 1 {
		t.Errorf("Records = %d, PeerList must return copies", got)
	}

	n.removePeer(id)
	if n.PeerCount() != 0 {
		t.Errorf("PeerCount after remove = %d", n.PeerCount())
	}
}

func TestNode_Rendezvous(t *testing.T) {
	if got := New(Config{NetworkID: "testnet"}).rendezvous(); got != "crystal/testnet" {
		t.Errorf("rendezvous = %q", got)
	}
	if got := New(Config{}).rendezvous(); got != "crystal" {
		t.Errorf("rendezvous = %q", got)
	}
}

func TestRecordTopic(t *testing.T) {
	want := "/crystal/c757000000000000000000000000000000000000/records/1.0.0"
	if got := RecordTopic(testToken); got != want {
		t.Errorf("RecordTopic = %q, want %q", got, want)
	}
	if RecordTopic(types.Address{1}) == RecordTopic(testToken) {
		t.Error("tokens must not share a topic")
	}
}

func TestNode_PublishRecord_NotStarted(t *testing.T) {
	n := New(Config{})
	if err := n.PublishRecord([]byte("{}")); err != ErrNotStarted {
		t.Errorf("PublishRecord = %v, want ErrNotStarted", err)
	}
}

// --- Record gossip ---

type gossipRecord struct {
	Seq  uint64 `json:"seq"`
	Kind string `json:"kind"`
}

func TestTwoNodes_RecordGossip(t *testing.T) {
	nodeA := startTestNode(t)
	nodeB := startTestNode(t)

	var received atomic.Value
	nodeB.SetRecordHandler(func(_ peer.ID, data []byte) error {
		var r gossipRecord
		if err := json.Unmarshal(data, &r); err != nil {
			return err
		}
		received.Store(r)
		return nil
	})
	connectNodes(t, nodeA, nodeB)

	if err := nodeA.BroadcastRecord(gossipRecord{Seq: 7, Kind: "challenge"}); err != nil {
		t.Fatalf("BroadcastRecord: %v", err)
	}
	eventually(t, "record gossip", func() bool { return received.Load() != nil })

	if r := received.Load().(gossipRecord); r.Seq != 7 || r.Kind != "challenge" {
		t.Errorf("received %+v", r)
	}
	eventually(t, "record count", func() bool {
		for _, p := range nodeB.PeerList() {
			if p.ID == nodeA.ID() && p.Records == 1 {
				return true
			}
		}
		return false
	})
}

func TestTwoNodes_DifferentTokensDoNotMix(t *testing.T) {
	nodeA := New(Config{ListenAddr: "127.0.0.1", NoDiscover: true, Token: types.Address{0x01}})
	if err := nodeA.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	t.Cleanup(func() { nodeA.Stop() })
	nodeB := startTestNode(t)

	var got atomic.Int32
	nodeB.SetRecordHandler(func(peer.ID, []byte) error {
		got.Add(1)
		return nil
	})
	connectNodes(t, nodeA, nodeB)

	nodeA.PublishRecord([]byte(`{"seq":1}`))
	time.Sleep(500 * time.Millisecond)
	if got.Load() != 0 {
		t.Error("record crossed token topics")
	}
}

func TestTwoNodes_InvalidRecordPenalised(t *testing.T) {
	nodeA := startTestNode(t)
	nodeB := startTestNode(t)

	var calls atomic.Int32
	nodeB.SetRecordHandler(func(peer.ID, []byte) error {
		calls.Add(1)
		return &InvalidRecordError{Reason: "id mismatch"}
	})
	connectNodes(t, nodeA, nodeB)

	if err := nodeA.PublishRecord([]byte(`{"seq":1}`)); err != nil {
		t.Fatalf("PublishRecord: %v", err)
	}
	eventually(t, "handler call", func() bool { return calls.Load() == 1 })
	eventually(t, "penalty", func() bool {
		return nodeB.BanManager.Score(nodeA.ID()) == PenaltyInvalidRecord
	})
	for _, p := range nodeB.PeerList() {
		if p.Records != 0 {
			t.Errorf("invalid record counted for %s", p.ID)
		}
	}
}

func TestPanicRecovery_RecordHandler(t *testing.T) {
	nodeA := startTestNode(t)
	nodeB := startTestNode(t)

	var calls atomic.Int32
	nodeB.SetRecordHandler(func(peer.ID, []byte) error {
		calls.Add(1)
		panic("test panic in record handler")
	})
	connectNodes(t, nodeA, nodeB)

	nodeA.PublishRecord([]byte(`{"seq":1}`))
	eventually(t, "first call", func() bool { return calls.Load() >= 1 })

	// The read loop must survive the panic.
	nodeA.PublishRecord([]byte(`{"seq":2}`))
	eventually(t, "second call", func() bool { return calls.Load() >= 2 })
}

// --- DHT, persistence and identity ---

func TestNode_StartStop_WithDHT(t *testing.T) {
	n := New(Config{ListenAddr: "127.0.0.1", DB: storage.NewMemory(), Token: testToken})
	if err := n.Start(); err != nil {
		t.Fatalf("Start with DHT: %v", err)
	}
	if n.dht == nil {
		t.Error("DHT should be initialized when NoDiscover is false")
	}
	if n.peerStore == nil {
		t.Error("peerStore should be initialized when DB is provided")
	}
	if err := n.Stop(); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if n.dht != nil {
		t.Error("DHT should be nil after Stop")
	}
}

func TestNode_PeerPersistence(t *testing.T) {
	db := storage.NewMemory()
	nodeA := New(Config{ListenAddr: "127.0.0.1", NoDiscover: true, DB: db, Token: testToken})
	if err := nodeA.Start(); err != nil {
		t.Fatalf("Start nodeA: %v", err)
	}
	t.Cleanup(func() { nodeA.Stop() })
	nodeB := startTestNode(t)
	connectNodes(t, nodeA, nodeB)

	eventually(t, "peer", func() bool { return nodeA.PeerCount() >= 1 })
	nodeA.persistPeers()

	records, err := NewPeerStore(db).LoadAll()
	if err != nil {
		t.Fatalf("LoadAll: %v", err)
	}
	found := false
	for _, rec := range records {
		if rec.ID == nodeB.ID().String() && len(rec.Addrs) > 0 {
			found = true
		}
	}
	if !found {
		t.Errorf("nodeB not persisted: %+v", records)
	}
}

func TestLoadOrCreateIdentity(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "p2p")

	k1, err := loadOrCreateIdentity(dir)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	k2, err := loadOrCreateIdentity(dir)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if !k1.Equals(k2) {
		t.Error("identity changed across loads")
	}
	info, err := os.Stat(filepath.Join(dir, identityFile))
	if err != nil {
		t.Fatalf("stat: %v", err)
	}
	if info.Mode().Perm() != 0600 {
		t.Errorf("key mode = %v, want 0600", info.Mode().Perm())
	}

	os.WriteFile(filepath.Join(dir, identityFile), []byte("zz"), 0600)
	if _, err := loadOrCreateIdentity(dir); err == nil {
		t.Error("corrupt key accepted")
	}
}

func TestThreeNodes_DHTDiscovery(t *testing.T) {
	start := func(server bool) *Node {
		n := New(Config{ListenAddr: "127.0.0.1", DHTServer: server, Token: testToken})
		if err := n.Start(); err != nil {
			t.Fatalf("Start: %v", err)
		}
		t.Cleanup(func() { n.Stop() })
		return n
	}
	nodeA := start(true)
	nodeB := start(false)
	nodeC := start(false)

	info := peer.AddrInfo{ID: nodeA.host.ID(), Addrs: nodeA.host.Addrs()}
	for _, n := range []*Node{nodeB, nodeC} {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		err := n.host.Connect(ctx, info)
		cancel()
		if err != nil {
			t.Fatalf("connect to A: %v", err)
		}
	}

	eventually(t, "A to see both", func() bool { return nodeA.PeerCount() >= 2 })
	if nodeB.PeerCount() < 1 || nodeC.PeerCount() < 1 {
		t.Errorf("clients lost A: B=%d C=%d", nodeB.PeerCount(), nodeC.PeerCount())
	}
}
