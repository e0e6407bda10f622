// Package node provides a reusable token node that can be embedded in any
// binary: it owns the state database, the token instance, the optional P2P
// observer and the RPC server.
package node

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/Klingon-tech/crystal/config"
	"github.com/Klingon-tech/crystal/internal/crystal"
	klog "github.com/Klingon-tech/crystal/internal/log"
	"github.com/Klingon-tech/crystal/internal/p2p"
	"github.com/Klingon-tech/crystal/internal/rpc"
	"github.com/Klingon-tech/crystal/internal/storage"
	"github.com/libp2p/go-libp2p/core/peer"
	"github.com/rs/zerolog"
)

// statusInterval is how often the node logs a status line.
const statusInterval = time.Minute

// Node is a fully-initialized token node.
type Node struct {
	cfg        *config.Config
	deployment *config.Deployment
	logger     zerolog.Logger

	// Core
	db      storage.DB
	crystal *crystal.Crystal

	// Networking
	p2pNode *p2p.Node

	// RPC
	rpcServer *rpc.Server

	// Highest record sequence seen from peers, plus one.
	remoteHigh atomic.Uint64

	// Lifecycle
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates and initializes a new Node. It performs all setup steps
// (logger, deployment, storage, token instance, P2P, RPC) but does NOT start
// background goroutines. Call Start() for that.
func New(cfg *config.Config) (*Node, error) {
	// ── 1. Init logger ──────────────────────────────────────────────
	logFile := cfg.Log.File
	if logFile == "" {
		logsDir := cfg.LogsDir()
		if err := os.MkdirAll(logsDir, 0755); err != nil {
			return nil, fmt.Errorf("creating logs dir: %w", err)
		}
		logFile = filepath.Join(logsDir, "crystal.log")
	}
	if err := klog.Init(cfg.Log.Level, cfg.Log.JSON, logFile); err != nil {
		return nil, fmt.Errorf("initializing logger: %w", err)
	}

	// ── 2. Deployment ───────────────────────────────────────────────
	deployment, err := loadDeployment(cfg)
	if err != nil {
		return nil, err
	}
	opts, err := crystalOptions(deployment)
	if err != nil {
		return nil, err
	}
	logger := klog.WithToken(deployment.Symbol).With().Str("component", "node").Logger()

	logger.Info().
		Str("network", string(cfg.Network)).
		Str("token", opts.Token.String()).
		Str("deployment", opts.DeploymentID.String()).
		Uint64("target", deployment.ChainLengthTarget).
		Uint64("stalled_duration", deployment.StalledDuration).
		Msg("Starting Crystal node")

	// ── 3. Open storage ─────────────────────────────────────────────
	if err := os.MkdirAll(cfg.StateDir(), 0700); err != nil {
		return nil, fmt.Errorf("creating state dir: %w", err)
	}
	db, err := storage.NewBadger(cfg.StateDir())
	if err != nil {
		return nil, fmt.Errorf("open database at %s: %w", cfg.StateDir(), err)
	}
	logger.Info().Str("path", cfg.StateDir()).Msg("Database opened")

	// ── 4. Token instance ───────────────────────────────────────────
	c, err := crystal.Open(db, opts)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("open token state: %w", err)
	}
	r := c.Round()
	logger.Info().
		Uint64("round", r.Number).
		Uint64("length", r.ChainLength).
		Uint64("records", c.RecordCount()).
		Str("supply", c.TotalSupply().Dec()).
		Msg("Token state loaded")

	ctx, cancel := context.WithCancel(context.Background())
	n := &Node{
		cfg:        cfg,
		deployment: deployment,
		logger:     logger,
		db:         db,
		crystal:    c,
		ctx:        ctx,
		cancel:     cancel,
	}

	// ── 5. P2P ──────────────────────────────────────────────────────
	if cfg.P2P.Enabled {
		n.p2pNode = p2p.New(p2p.Config{
			ListenAddr: cfg.P2P.ListenAddr,
			Port:       cfg.P2P.Port,
			Seeds:      cfg.P2P.Seeds,
			MaxPeers:   cfg.P2P.MaxPeers,
			NoDiscover: cfg.P2P.NoDiscover,
			DB:         db,
			DHTServer:  cfg.P2P.DHTServer,
			NetworkID:  string(cfg.Network),
			DataDir:    cfg.NetworkDataDir(),
			Token:      opts.Token,
		})
		n.p2pNode.SetDeployment(opts.DeploymentID)
		n.p2pNode.SetRecordCountFn(c.RecordCount)
		n.p2pNode.SetRecordHandler(n.handleRemoteRecord)
		n.p2pNode.SetPeerConnectedHandler(func(id peer.ID) {
			logger.Debug().Str("peer", id.String()).Msg("Peer connected")
		})
	}

	// ── 6. RPC server ───────────────────────────────────────────────
	if cfg.RPC.Enabled {
		rpcAddr := fmt.Sprintf("%s:%d", cfg.RPC.Addr, cfg.RPC.Port)
		n.rpcServer = rpc.New(rpcAddr, c, n.p2pNode, cfg.RPC)
	} else {
		logger.Warn().Msg("RPC disabled by config")
	}

	return n, nil
}

// Start brings up P2P and RPC and launches background goroutines.
func (n *Node) Start() error {
	if n.p2pNode != nil {
		if err := n.p2pNode.Start(); err != nil {
			return fmt.Errorf("start P2P: %w", err)
		}
		n.crystal.Subscribe(n.publishRecord)
		for _, addr := range n.p2pNode.Addrs() {
			n.logger.Info().Str("addr", addr).Msg("P2P listening")
		}
	}

	if n.rpcServer != nil {
		if err := n.rpcServer.Start(); err != nil {
			return fmt.Errorf("start RPC at %s: %w", n.rpcServer.Addr(), err)
		}
		if n.p2pNode != nil {
			n.rpcServer.SetBanManager(n.p2pNode.BanManager)
		}
		n.logger.Info().Str("addr", n.rpcServer.Addr()).Msg("RPC server started")
	}

	n.wg.Add(1)
	go func() {
		defer n.wg.Done()
		n.runStatusLoop()
	}()

	n.logger.Info().
		Bool("p2p", n.p2pNode != nil).
		Bool("rpc", n.rpcServer != nil).
		Msg("Node started successfully")
	return nil
}

// Stop performs graceful shutdown in reverse order.
func (n *Node) Stop() {
	n.cancel()
	n.wg.Wait()

	if n.rpcServer != nil {
		n.rpcServer.Stop()
	}
	if n.p2pNode != nil {
		n.p2pNode.Stop()
	}
	if n.db != nil {
		n.db.Close()
	}

	n.logger.Info().Msg("Goodbye!")
}

// Crystal returns the token instance.
func (n *Node) Crystal() *crystal.Crystal {
	return n.crystal
}

// Deployment returns the loaded deployment.
func (n *Node) Deployment() *config.Deployment {
	return n.deployment
}

// RPCAddr returns the address the RPC server is listening on.
func (n *Node) RPCAddr() string {
	if n.rpcServer == nil {
		return ""
	}
	return n.rpcServer.Addr()
}

// RemoteRecords returns one past the highest record sequence peers have
// gossiped, zero if none.
func (n *Node) RemoteRecords() uint64 {
	return n.remoteHigh.Load()
}

// ── Gossip ──────────────────────────────────────────────────────────

// publishRecord gossips a record this instance committed.
func (n *Node) publishRecord(rec crystal.Record) {
	if err := n.p2pNode.BroadcastRecord(rec); err != nil {
		n.logger.Debug().Err(err).Uint64("seq", rec.Seq).Msg("Record broadcast failed")
	}
}

// handleRemoteRecord checks a gossiped record. Received records are only
// counted; they never change local state.
func (n *Node) handleRemoteRecord(from peer.ID, data []byte) error {
	rec, err := decodeRecord(data)
	if err != nil {
		return err
	}

	next := rec.Seq + 1
	for {
		cur := n.remoteHigh.Load()
		if next <= cur || n.remoteHigh.CompareAndSwap(cur, next) {
			break
		}
	}

	n.logger.Debug().
		Str("peer", from.String()).
		Uint64("seq", rec.Seq).
		Str("kind", string(rec.Kind)).
		Msg("Record received")
	return nil
}

// ── Status ──────────────────────────────────────────────────────────

func (n *Node) runStatusLoop() {
	ticker := time.NewTicker(statusInterval)
	defer ticker.Stop()
	for {
		select {
		case <-n.ctx.Done():
			return
		case <-ticker.C:
			n.logStatus()
		}
	}
}

func (n *Node) logStatus() {
	r := n.crystal.Round()
	ev := n.logger.Info().
		Uint64("round", r.Number).
		Uint64("length", r.ChainLength).
		Bool("stalled", uint64(time.Now().Unix()) > r.Deadline).
		Str("next_mint", n.crystal.NextMint().Dec()).
		Str("minted", n.crystal.TotalMinted().Dec()).
		Uint64("records", n.crystal.RecordCount())
	if n.p2pNode != nil {
		ev = ev.Int("peers", n.p2pNode.PeerCount()).Uint64("remote_records", n.RemoteRecords())
	}
	ev.Msg("Status")
}
