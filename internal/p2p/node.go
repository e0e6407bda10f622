// Package p2p gossips committed token records between observer nodes
// using libp2p. Nothing received here changes token state; peers only
// learn what other instances of the same deployment have committed.
package p2p

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	klog "github.com/Klingon-tech/crystal/internal/log"
	"github.com/Klingon-tech/crystal/internal/storage"
	"github.com/Klingon-tech/crystal/pkg/types"
	"github.com/libp2p/go-libp2p"
	dht "github.com/libp2p/go-libp2p-kad-dht"
	pubsub "github.com/libp2p/go-libp2p-pubsub"
	libp2pcrypto "github.com/libp2p/go-libp2p/core/crypto"
	"github.com/libp2p/go-libp2p/core/host"
	"github.com/libp2p/go-libp2p/core/peer"
)

// ErrNotStarted is returned by operations that need a running host.
var ErrNotStarted = errors.New("p2p node not started")

const (
	rendezvousFallback = "crystal"
	identityFile       = "node.key"
)

// Config holds P2P node configuration.
type Config struct {
	ListenAddr string
	Port       int
	Seeds      []string
	MaxPeers   int
	NoDiscover bool
	DB         storage.DB // peer and ban persistence; nil disables it
	DHTServer  bool
	NetworkID  string // isolates discovery per network
	DataDir    string // holds the persistent identity key
	// Token selects the record topic.
	Token types.Address
}

// Node represents a P2P node built on libp2p.
type Node struct {
	host   host.Host
	pubsub *pubsub.PubSub
	config Config
	ctx    context.Context
	cancel context.CancelFunc

	topic         *pubsub.Topic
	sub           *pubsub.Subscription
	recordHandler func(peer.ID, []byte) error

	mu    sync.RWMutex
	peers map[peer.ID]*Peer

	BanManager      *BanManager
	peerStore       *PeerStore   // nil if Config.DB is nil
	dht             *dht.IpfsDHT // nil if NoDiscover
	connNotify      *connNotifier
	onPeerConnected func(peer.ID)

	// Handshake state.
	deployment       types.Hash
	handshakeEnabled bool
	recordCountFn    func() uint64
}

// New creates a P2P node. Nothing listens until Start.
func New(cfg Config) *Node {
	ctx, cancel := context.WithCancel(context.Background())
	n := &Node{
		config: cfg,
		ctx:    ctx,
		cancel: cancel,
		peers:  make(map[peer.ID]*Peer),
	}
	if cfg.DB != nil {
		n.peerStore = NewPeerStore(cfg.DB)
	}
	return n
}

// rendezvous returns the discovery namespace for this node.
func (n *Node) rendezvous() string {
	if n.config.NetworkID != "" {
		return "crystal/" + n.config.NetworkID
	}
	return rendezvousFallback
}

// Start creates the libp2p host, joins the record topic and begins discovery.
func (n *Node) Start() error {
	if n.config.DB != nil {
		n.BanManager = NewBanManager(NewBanStore(n.config.DB), n)
		n.BanManager.LoadBans()
	} else {
		n.BanManager = NewBanManager(nil, n)
	}

	gater := &connGater{bans: n.BanManager, known: n.hasPeer}
	if n.config.MaxPeers > 0 {
		gater.full = func() bool { return n.PeerCount() >= n.config.MaxPeers }
	}
	opts := []libp2p.Option{
		libp2p.ListenAddrStrings(fmt.Sprintf("/ip4/%s/tcp/%d", n.config.ListenAddr, n.config.Port)),
		libp2p.ConnectionGater(gater),
	}
	if n.config.DataDir != "" {
		priv, err := loadOrCreateIdentity(n.config.DataDir)
		if err != nil {
			return fmt.Errorf("load p2p identity: %w", err)
		}
		opts = append(opts, libp2p.Identity(priv))
	}

	h, err := libp2p.New(opts...)
	if err != nil {
		return fmt.Errorf("create libp2p host: %w", err)
	}
	n.host = h

	n.connNotify = &connNotifier{node: n}
	h.Network().Notify(n.connNotify)

	if !n.config.NoDiscover {
		if err := n.initDHT(); err != nil {
			h.Close()
			return fmt.Errorf("init dht: %w", err)
		}
	}

	ps, err := pubsub.NewGossipSub(n.ctx, h, pubsub.WithMaxMessageSize(maxRecordBytes))
	if err != nil {
		n.closeDHT()
		h.Close()
		return fmt.Errorf("create pubsub: %w", err)
	}
	n.pubsub = ps

	if err := n.joinRecordTopic(); err != nil {
		n.closeDHT()
		h.Close()
		return err
	}

	if n.handshakeEnabled {
		n.registerHandshakeHandler()
	}

	go n.readLoop()
	go n.BanManager.RunPruneLoop(n.ctx)
	go n.loadPersistedPeers()

	if len(n.config.Seeds) > 0 {
		klog.P2P.Info().Int("seeds", len(n.config.Seeds)).Msg("Connecting to seeds...")
	}
	n.connectSeedsOnce()
	go n.connectSeedsLoop()

	if !n.config.NoDiscover {
		n.startMDNS()
		go n.runDHTDiscovery()
	}
	if n.peerStore != nil {
		go n.runPersistLoop()
	}

	klog.P2P.Info().
		Str("id", n.host.ID().String()).
		Str("topic", RecordTopic(n.config.Token)).
		Msg("P2P node started")
	return nil
}

// Stop shuts down the P2P node.
func (n *Node) Stop() error {
	n.persistPeers()
	n.cancel()
	if n.sub != nil {
		n.sub.Cancel()
	}
	if n.topic != nil {
		n.topic.Close()
	}
	n.closeDHT()
	if n.host != nil {
		return n.host.Close()
	}
	return nil
}

// Host returns the underlying libp2p host (nil before Start).
func (n *Node) Host() host.Host {
	return n.host
}

// SetPeerConnectedHandler registers a callback invoked when a new peer connects.
func (n *Node) SetPeerConnectedHandler(fn func(peer.ID)) {
	n.onPeerConnected = fn
}

// SetDeployment sets the deployment hash compared during the handshake.
// A non-zero hash enables the handshake protocol. Call before Start.
func (n *Node) SetDeployment(h types.Hash) {
	n.deployment = h
	n.handshakeEnabled = !h.IsZero()
}

// SetRecordCountFn sets the function reporting the local record count
// during the handshake.
func (n *Node) SetRecordCountFn(fn func() uint64) {
	n.recordCountFn = fn
}

// DisconnectPeer closes all connections to a peer and forgets it.
func (n *Node) DisconnectPeer(id peer.ID) error {
	if n.host == nil {
		return ErrNotStarted
	}
	n.removePeer(id)
	return n.host.Network().ClosePeer(id)
}

// ID returns the peer ID of this node.
func (n *Node) ID() peer.ID {
	if n.host == nil {
		return ""
	}
	return n.host.ID()
}

// Addrs returns the full multiaddrs of this node.
func (n *Node) Addrs() []string {
	if n.host == nil {
		return nil
	}
	var addrs []string
	for _, a := range n.host.Addrs() {
		addrs = append(addrs, fmt.Sprintf("%s/p2p/%s", a, n.host.ID()))
	}
	return addrs
}

// PeerCount returns the number of connected peers.
func (n *Node) PeerCount() int {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return len(n.peers)
}

// PeerList returns a snapshot of connected peers.
func (n *Node) PeerList() []*Peer {
	n.mu.RLock()
	defer n.mu.RUnlock()
	out := make([]*Peer, 0, len(n.peers))
	for _, p := range n.peers {
		cp := *p
		out = append(out, &cp)
	}
	return out
}

func (n *Node) hasPeer(id peer.ID) bool {
	n.mu.RLock()
	defer n.mu.RUnlock()
	_, ok := n.peers[id]
	return ok
}

func (n *Node) addPeer(id peer.ID, source string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if p, ok := n.peers[id]; ok {
		if p.Source == "" {
			p.Source = source
		}
		return
	}
	n.peers[id] = &Peer{ID: id, ConnectedAt: time.Now(), Source: source}
}

func (n *Node) removePeer(id peer.ID) {
	n.mu.Lock()
	defer n.mu.Unlock()
	delete(n.peers, id)
}

func (n *Node) countRecord(id peer.ID) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if p, ok := n.peers[id]; ok {
		p.Records++
	}
}

// --- Peer persistence ---

func (n *Node) persistPeers() {
	if n.peerStore == nil || n.host == nil {
		return
	}
	now := time.Now().Unix()
	for _, p := range n.PeerList() {
		addrs := n.host.Peerstore().Addrs(p.ID)
		rec := PeerRecord{
			ID:       p.ID.String(),
			Addrs:    make([]string, len(addrs)),
			LastSeen: now,
			Source:   p.Source,
		}
		for i, a := range addrs {
			rec.Addrs[i] = a.String()
		}
		if err := n.peerStore.Save(rec); err != nil {
			klog.P2P.Debug().Err(err).Str("peer", shortID(p.ID)).Msg("Persist peer failed")
		}
	}
}

func (n *Node) loadPersistedPeers() {
	if n.peerStore == nil {
		return
	}
	n.peerStore.PruneStale(staleThreshold)

	records, err := n.peerStore.LoadAll()
	if err != nil {
		return
	}
	for _, rec := range records {
		id, err := peer.Decode(rec.ID)
		if err != nil || id == n.host.ID() {
			continue
		}
		info := peer.AddrInfo{ID: id}
		for _, addr := range rec.Addrs {
			ai, err := peer.AddrInfoFromString(addr + "/p2p/" + rec.ID)
			if err != nil {
				continue
			}
			info.Addrs = append(info.Addrs, ai.Addrs...)
		}
		if len(info.Addrs) == 0 {
			continue
		}
		ctx, cancel := context.WithTimeout(n.ctx, peerConnectTimeout)
		if err := n.host.Connect(ctx, info); err == nil {
			n.addPeer(id, rec.Source)
		}
		cancel()
	}
}

func (n *Node) runPersistLoop() {
	ticker := time.NewTicker(persistInterval)
	defer ticker.Stop()
	for {
		select {
		case <-n.ctx.Done():
			return
		case <-ticker.C:
			n.persistPeers()
			n.peerStore.PruneStale(staleThreshold)
		}
	}
}

// loadOrCreateIdentity keeps the peer ID stable across restarts by storing
// the Ed25519 key hex-encoded in dataDir.
func loadOrCreateIdentity(dataDir string) (libp2pcrypto.PrivKey, error) {
	keyPath := filepath.Join(dataDir, identityFile)

	data, err := os.ReadFile(keyPath)
	if err == nil {
		raw, err := hex.DecodeString(strings.TrimSpace(string(data)))
		if err != nil {
			return nil, fmt.Errorf("decode node key: %w", err)
		}
		return libp2pcrypto.UnmarshalEd25519PrivateKey(raw)
	}
	if !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("read node key: %w", err)
	}

	priv, _, err := libp2pcrypto.GenerateEd25519Key(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("generate key: %w", err)
	}
	raw, err := priv.Raw()
	if err != nil {
		return nil, fmt.Errorf("marshal key: %w", err)
	}
	if err := os.MkdirAll(dataDir, 0700); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}
	if err := os.WriteFile(keyPath, []byte(hex.EncodeToString(raw)), 0600); err != nil {
		return nil, fmt.Errorf("save node key: %w", err)
	}
	return priv, nil
}
