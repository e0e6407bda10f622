package p2p

import (
	"encoding/json"
	"errors"
	"fmt"

	klog "github.com/Klingon-tech/crystal/internal/log"
	pubsub "github.com/libp2p/go-libp2p-pubsub"
	"github.com/libp2p/go-libp2p/core/peer"
)

// InvalidRecordError is returned by a record handler to have the sender
// penalised. Penalty defaults to PenaltyInvalidRecord when zero.
type InvalidRecordError struct {
	Reason  string
	Penalty int
}

func (e *InvalidRecordError) Error() string { return "invalid record: " + e.Reason }

// SetRecordHandler registers the callback for records received from peers.
// Returning an *InvalidRecordError penalises the sender; other errors are
// only logged.
func (n *Node) SetRecordHandler(fn func(from peer.ID, data []byte) error) {
	n.recordHandler = fn
}

// PublishRecord gossips an encoded record.
func (n *Node) PublishRecord(data []byte) error {
	if n.topic == nil {
		return ErrNotStarted
	}
	return n.topic.Publish(n.ctx, data)
}

// BroadcastRecord encodes v as JSON and gossips it.
func (n *Node) BroadcastRecord(v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal record: %w", err)
	}
	return n.PublishRecord(data)
}

func (n *Node) joinRecordTopic() error {
	name := RecordTopic(n.config.Token)
	t, err := n.pubsub.Join(name)
	if err != nil {
		return fmt.Errorf("join %s: %w", name, err)
	}
	sub, err := t.Subscribe()
	if err != nil {
		t.Close()
		return fmt.Errorf("subscribe %s: %w", name, err)
	}
	n.topic, n.sub = t, sub
	return nil
}

func (n *Node) readLoop() {
	for {
		msg, err := n.sub.Next(n.ctx)
		if err != nil {
			return
		}
		if msg.ReceivedFrom == n.host.ID() {
			continue
		}
		n.handleRecordMessage(msg)
	}
}

func (n *Node) handleRecordMessage(msg *pubsub.Message) {
	from := msg.ReceivedFrom
	defer func() {
		if r := recover(); r != nil {
			klog.P2P.Error().Interface("panic", r).Str("peer", shortID(from)).Msg("Record handler panicked")
		}
	}()
	n.addPeer(from, SourceGossip)
	if n.recordHandler == nil {
		return
	}

	err := n.recordHandler(from, msg.Data)
	if err == nil {
		n.countRecord(from)
		return
	}
	var invalid *InvalidRecordError
	if !errors.As(err, &invalid) {
		klog.P2P.Debug().Err(err).Str("peer", shortID(from)).Msg("Record not handled")
		return
	}
	penalty := invalid.Penalty
	if penalty == 0 {
		penalty = PenaltyInvalidRecord
	}
	klog.P2P.Debug().Str("peer", shortID(from)).Str("reason", invalid.Reason).Msg("Invalid record")
	if n.BanManager != nil {
		n.BanManager.RecordOffense(from, penalty, invalid.Reason)
	}
}
