package p2p

import (
	"github.com/libp2p/go-libp2p/core/network"
	"github.com/multiformats/go-multiaddr"
)

// connNotifier keeps the peer table in step with libp2p connections.
type connNotifier struct {
	node *Node
}

// Connected is called when a new connection is opened.
func (cn *connNotifier) Connected(_ network.Network, conn network.Conn) {
	remote := conn.RemotePeer()
	if remote == cn.node.host.ID() {
		return
	}
	cn.node.addPeer(remote, "")
	if fn := cn.node.onPeerConnected; fn != nil {
		go fn(remote)
	}
	// The dialer starts the handshake; the listener answers in its stream handler.
	if cn.node.handshakeEnabled && conn.Stat().Direction == network.DirOutbound {
		go cn.node.doHandshake(remote)
	}
}

// Disconnected forgets the peer once its last connection closes.
func (cn *connNotifier) Disconnected(net network.Network, conn network.Conn) {
	remote := conn.RemotePeer()
	if len(net.ConnsToPeer(remote)) == 0 {
		cn.node.removePeer(remote)
	}
}

// Listen is called when the node starts listening on a new address.
func (cn *connNotifier) Listen(network.Network, multiaddr.Multiaddr) {}

// ListenClose is called when the node stops listening on an address.
func (cn *connNotifier) ListenClose(network.Network, multiaddr.Multiaddr) {}
