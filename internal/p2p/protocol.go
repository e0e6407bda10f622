package p2p

import (
	"github.com/Klingon-tech/crystal/pkg/types"
	"github.com/libp2p/go-libp2p/core/protocol"
)

// HandshakeProtocol is the stream protocol used to compare deployments.
const HandshakeProtocol = protocol.ID("/crystal/handshake/1.0.0")

// Protocol versions advertised and accepted during the handshake.
const (
	ProtocolVersion    uint32 = 1
	MinProtocolVersion uint32 = 1
)

// maxRecordBytes bounds a single gossip message. Records are small JSON
// objects; anything larger is dropped by pubsub before it reaches us.
const maxRecordBytes = 64 * 1024

// RecordTopic returns the GossipSub topic carrying the committed records
// of the token at addr.
func RecordTopic(token types.Address) string {
	return "/crystal/" + token.Hex() + "/records/1.0.0"
}
