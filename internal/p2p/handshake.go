package p2p

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"time"

	klog "github.com/Klingon-tech/crystal/internal/log"
	"github.com/Klingon-tech/crystal/pkg/types"
	"github.com/libp2p/go-libp2p/core/network"
	"github.com/libp2p/go-libp2p/core/peer"
)

const (
	handshakeTimeout  = 10 * time.Second
	maxHandshakeBytes = 4096
)

// HandshakeMessage is exchanged by peers right after connecting. Peers of
// different deployments never share a topic, so a mismatch is a ban.
type HandshakeMessage struct {
	ProtocolVersion uint32     `json:"protocol_version"`
	Deployment      types.Hash `json:"deployment"`
	NetworkID       string     `json:"network_id"`
	Records         uint64     `json:"records"`
}

// registerHandshakeHandler answers handshakes started by dialers.
func (n *Node) registerHandshakeHandler() {
	n.host.SetStreamHandler(HandshakeProtocol, func(stream network.Stream) {
		defer stream.Close()
		remote := stream.Conn().RemotePeer()
		_ = stream.SetDeadline(time.Now().Add(handshakeTimeout))

		var theirs HandshakeMessage
		if err := json.NewDecoder(io.LimitReader(stream, maxHandshakeBytes)).Decode(&theirs); err != nil {
			klog.P2P.Debug().Err(err).Str("peer", shortID(remote)).Msg("Handshake read failed")
			return
		}
		ours := n.buildHandshakeMessage()
		if err := json.NewEncoder(stream).Encode(&ours); err != nil {
			klog.P2P.Debug().Err(err).Str("peer", shortID(remote)).Msg("Handshake write failed")
			return
		}
		n.checkHandshake(remote, theirs)
	})
}

// doHandshake runs the dialer side of the handshake.
func (n *Node) doHandshake(id peer.ID) {
	ctx, cancel := context.WithTimeout(n.ctx, handshakeTimeout)
	defer cancel()

	stream, err := n.host.NewStream(ctx, id, HandshakeProtocol)
	if err != nil {
		// Peers without the protocol are tolerated; they never join our topic.
		klog.P2P.Debug().Str("peer", shortID(id)).Msg("Peer does not support handshake")
		return
	}
	defer stream.Close()
	_ = stream.SetDeadline(time.Now().Add(handshakeTimeout))

	ours := n.buildHandshakeMessage()
	if err := json.NewEncoder(stream).Encode(&ours); err != nil {
		klog.P2P.Debug().Err(err).Str("peer", shortID(id)).Msg("Handshake send failed")
		return
	}
	stream.CloseWrite()

	var theirs HandshakeMessage
	if err := json.NewDecoder(io.LimitReader(stream, maxHandshakeBytes)).Decode(&theirs); err != nil {
		klog.P2P.Debug().Err(err).Str("peer", shortID(id)).Msg("Handshake response read failed")
		return
	}
	n.checkHandshake(id, theirs)
}

func (n *Node) checkHandshake(id peer.ID, msg HandshakeMessage) {
	reason := n.validateHandshake(msg)
	if reason == "" {
		klog.P2P.Debug().
			Str("peer", shortID(id)).
			Uint64("records", msg.Records).
			Msg("Handshake complete")
		return
	}
	klog.P2P.Warn().Str("peer", shortID(id)).Str("reason", reason).Msg("Handshake rejected, banning peer")
	if n.BanManager != nil {
		n.BanManager.RecordOffense(id, PenaltyHandshakeFail, reason)
	}
	n.DisconnectPeer(id)
}

// validateHandshake returns the reason msg is unacceptable, or "".
func (n *Node) validateHandshake(msg HandshakeMessage) string {
	if msg.Deployment != n.deployment {
		return fmt.Sprintf("deployment mismatch: peer=%s local=%s",
			msg.Deployment.String()[:18], n.deployment.String()[:18])
	}
	if msg.ProtocolVersion < MinProtocolVersion {
		return fmt.Sprintf("protocol version too low: peer=%d min=%d",
			msg.ProtocolVersion, MinProtocolVersion)
	}
	return ""
}

func (n *Node) buildHandshakeMessage() HandshakeMessage {
	msg := HandshakeMessage{
		ProtocolVersion: ProtocolVersion,
		Deployment:      n.deployment,
		NetworkID:       n.config.NetworkID,
	}
	if n.recordCountFn != nil {
		msg.Records = n.recordCountFn()
	}
	return msg
}
