package p2p

import (
	"github.com/libp2p/go-libp2p/core/control"
	"github.com/libp2p/go-libp2p/core/network"
	"github.com/libp2p/go-libp2p/core/peer"
	ma "github.com/multiformats/go-multiaddr"
)

// connGater rejects banned peers at the transport level and refuses new
// inbound peers once the node is full.
type connGater struct {
	bans *BanManager
	// full reports whether MaxPeers has been reached. May be nil.
	full func() bool
	// known reports whether a peer is already connected. May be nil.
	known func(peer.ID) bool
}

// InterceptPeerDial rejects outbound dials to banned peers.
func (g *connGater) InterceptPeerDial(p peer.ID) bool {
	return !g.bans.IsBanned(p)
}

// InterceptAddrDial allows all address dials; filtering is per peer.
func (g *connGater) InterceptAddrDial(peer.ID, ma.Multiaddr) bool {
	return true
}

// InterceptAccept allows all inbound connections; the identity is not known yet.
func (g *connGater) InterceptAccept(network.ConnMultiaddrs) bool {
	return true
}

// InterceptSecured runs once the remote identity is authenticated.
func (g *connGater) InterceptSecured(dir network.Direction, p peer.ID, _ network.ConnMultiaddrs) bool {
	if g.bans.IsBanned(p) {
		return false
	}
	if dir == network.DirInbound && g.full != nil && g.full() {
		return g.known != nil && g.known(p)
	}
	return true
}

// InterceptUpgraded allows all fully upgraded connections.
func (g *connGater) InterceptUpgraded(network.Conn) (bool, control.DisconnectReason) {
	return true, 0
}
