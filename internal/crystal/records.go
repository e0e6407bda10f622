package crystal

import (
	"encoding/binary"
	"encoding/json"
	"fmt"

	"github.com/Klingon-tech/crystal/internal/storage"
	"github.com/Klingon-tech/crystal/pkg/crypto"
	"github.com/Klingon-tech/crystal/pkg/types"
	"github.com/holiman/uint256"
)

// RecordKind names the payload carried by a Record.
type RecordKind string

// Record kinds.
const (
	KindChainProgress RecordKind = "chain_progress"
	KindChallenge     RecordKind = "challenge"
	KindRoundClosed   RecordKind = "round_closed"
	KindTransfer      RecordKind = "transfer"
	KindApproval      RecordKind = "approval"
	KindFlashLoan     RecordKind = "flash_loan"
)

// Record is one entry of the append-only event log.
type Record struct {
	Seq     uint64          `json:"seq"`
	ID      types.Hash      `json:"id"`
	Kind    RecordKind      `json:"kind"`
	Time    uint64          `json:"time"`
	Payload json.RawMessage `json:"payload"`
}

// FlashLoanRecord is the payload of a repaid flash loan.
type FlashLoanRecord struct {
	Initiator types.Address `json:"initiator"`
	Borrower  types.Address `json:"borrower"`
	Amount    *uint256.Int  `json:"amount"`
	Fee       *uint256.Int  `json:"fee"`
}

// Listener is called with records after they are committed.
type Listener func(Record)

// RecordID computes the BLAKE3 identifier of a record.
func RecordID(seq uint64, kind RecordKind, time uint64, payload []byte) types.Hash {
	buf := make([]byte, 0, 16+len(kind)+len(payload))
	buf = binary.BigEndian.AppendUint64(buf, seq)
	buf = binary.BigEndian.AppendUint64(buf, time)
	buf = append(buf, kind...)
	buf = append(buf, payload...)
	return crypto.Hash(buf)
}

// Verify checks that the record ID matches its contents.
func (r Record) Verify() bool {
	return RecordID(r.Seq, r.Kind, r.Time, r.Payload) == r.ID
}

type pendingRecord struct {
	kind    RecordKind
	payload interface{}
}

func recordKey(seq uint64) []byte {
	var k [8]byte
	binary.BigEndian.PutUint64(k[:], seq)
	return k[:]
}

// buildRecords assigns sequence numbers starting at next.
func buildRecords(next, now uint64, pending []pendingRecord) ([]Record, error) {
	out := make([]Record, 0, len(pending))
	for i, p := range pending {
		payload, err := json.Marshal(p.payload)
		if err != nil {
			return nil, fmt.Errorf("marshal %s record: %w", p.kind, err)
		}
		seq := next + uint64(i)
		out = append(out, Record{
			Seq:     seq,
			ID:      RecordID(seq, p.kind, now, payload),
			Kind:    p.kind,
			Time:    now,
			Payload: payload,
		})
	}
	return out, nil
}

// readRecords returns up to limit records with Seq >= from.
func readRecords(db storage.DB, from uint64, limit int) ([]Record, error) {
	var out []Record
	errStop := fmt.Errorf("stop")
	err := db.ForEach(nil, func(key, value []byte) error {
		if len(key) != 8 || binary.BigEndian.Uint64(key) < from {
			return nil
		}
		var r Record
		if err := json.Unmarshal(value, &r); err != nil {
			return fmt.Errorf("decode record %x: %w", key, err)
		}
		out = append(out, r)
		if limit > 0 && len(out) >= limit {
			return errStop
		}
		return nil
	})
	if err != nil && err != errStop {
		return nil, err
	}
	return out, nil
}
