package p2p

import (
	"time"

	"github.com/libp2p/go-libp2p/core/peer"
)

// Peer sources.
const (
	SourceSeed   = "seed"
	SourceMDNS   = "mdns"
	SourceDHT    = "dht"
	SourceGossip = "gossip"
)

// Peer represents a connected peer.
type Peer struct {
	ID          peer.ID
	ConnectedAt time.Time
	Source      string
	// Records counts valid records received from this peer.
	Records uint64
}
