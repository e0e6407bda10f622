package p2p

import (
	"context"
	"time"

	klog "github.com/Klingon-tech/crystal/internal/log"
	dht "github.com/libp2p/go-libp2p-kad-dht"
	"github.com/libp2p/go-libp2p/core/peer"
	"github.com/libp2p/go-libp2p/p2p/discovery/mdns"
	drouting "github.com/libp2p/go-libp2p/p2p/discovery/routing"
	dutil "github.com/libp2p/go-libp2p/p2p/discovery/util"
)

const (
	dhtDiscoveryInterval = 30 * time.Second
	dhtFindTimeout       = 20 * time.Second
	seedRetryInterval    = 10 * time.Second
	seedConnectTimeout   = 10 * time.Second
	peerConnectTimeout   = 5 * time.Second
)

// discoveryNotifee connects to peers announced over mDNS.
type discoveryNotifee struct {
	node *Node
}

// HandlePeerFound is called when a peer is discovered via mDNS.
func (d *discoveryNotifee) HandlePeerFound(pi peer.AddrInfo) {
	if pi.ID == d.node.host.ID() || d.node.full() {
		return
	}
	ctx, cancel := context.WithTimeout(d.node.ctx, peerConnectTimeout)
	defer cancel()
	if err := d.node.host.Connect(ctx, pi); err == nil {
		d.node.addPeer(pi.ID, SourceMDNS)
	}
}

func (n *Node) full() bool {
	return n.config.MaxPeers > 0 && n.PeerCount() >= n.config.MaxPeers
}

func (n *Node) startMDNS() {
	svc := mdns.NewMdnsService(n.host, n.rendezvous(), &discoveryNotifee{node: n})
	if err := svc.Start(); err != nil {
		klog.P2P.Debug().Err(err).Msg("mDNS unavailable")
	}
}

// connectSeedsOnce dials every seed once and reports whether any connected.
func (n *Node) connectSeedsOnce() bool {
	connected := false
	for _, addr := range n.config.Seeds {
		info, err := peer.AddrInfoFromString(addr)
		if err != nil {
			klog.P2P.Warn().Str("addr", addr).Err(err).Msg("Bad seed address")
			continue
		}
		ctx, cancel := context.WithTimeout(n.ctx, seedConnectTimeout)
		err = n.host.Connect(ctx, *info)
		cancel()
		if err != nil {
			klog.P2P.Warn().Str("peer", shortID(info.ID)).Err(err).Msg("Seed connect failed")
			continue
		}
		n.addPeer(info.ID, SourceSeed)
		klog.P2P.Info().Str("peer", shortID(info.ID)).Msg("Seed connected")
		connected = true
	}
	return connected
}

// connectSeedsLoop retries the seeds while the node has no peers.
func (n *Node) connectSeedsLoop() {
	if len(n.config.Seeds) == 0 {
		return
	}
	ticker := time.NewTicker(seedRetryInterval)
	defer ticker.Stop()
	for {
		select {
		case <-n.ctx.Done():
			return
		case <-ticker.C:
			if n.PeerCount() == 0 {
				klog.P2P.Info().Int("seeds", len(n.config.Seeds)).Msg("No peers, retrying seeds...")
				n.connectSeedsOnce()
			}
		}
	}
}

func (n *Node) initDHT() error {
	mode := dht.ModeClient
	if n.config.DHTServer {
		mode = dht.ModeServer
	}
	kad, err := dht.New(n.ctx, n.host, dht.Mode(mode))
	if err != nil {
		return err
	}
	n.dht = kad
	return kad.Bootstrap(n.ctx)
}

func (n *Node) closeDHT() {
	if n.dht != nil {
		n.dht.Close()
		n.dht = nil
	}
}

// runDHTDiscovery advertises the rendezvous and looks for peers under it.
func (n *Node) runDHTDiscovery() {
	if n.dht == nil {
		return
	}
	rd := drouting.NewRoutingDiscovery(n.dht)
	dutil.Advertise(n.ctx, rd, n.rendezvous())

	ticker := time.NewTicker(dhtDiscoveryInterval)
	defer ticker.Stop()
	for {
		select {
		case <-n.ctx.Done():
			return
		case <-ticker.C:
			n.findDHTPeers(rd)
		}
	}
}

func (n *Node) findDHTPeers(rd *drouting.RoutingDiscovery) {
	ctx, cancel := context.WithTimeout(n.ctx, dhtFindTimeout)
	defer cancel()

	found, err := rd.FindPeers(ctx, n.rendezvous())
	if err != nil {
		return
	}
	for p := range found {
		if p.ID == n.host.ID() || len(p.Addrs) == 0 || n.hasPeer(p.ID) {
			continue
		}
		if n.full() {
			return
		}
		cctx, ccancel := context.WithTimeout(n.ctx, peerConnectTimeout)
		if err := n.host.Connect(cctx, p); err == nil {
			n.addPeer(p.ID, SourceDHT)
		}
		ccancel()
	}
}
