package ledger

import (
	"github.com/Klingon-tech/crystal/pkg/types"
	"github.com/holiman/uint256"
)

// journalEntry is a revertible ledger change.
type journalEntry interface {
	revert(l *Ledger)
}

// journal tracks ledger modifications for snapshot/revert.
type journal struct {
	entries   []journalEntry
	snapshots map[int]int // snapshot ID -> entry index
	nextID    int
}

func newJournal() *journal {
	return &journal{snapshots: make(map[int]int)}
}

func (j *journal) append(entry journalEntry) {
	j.entries = append(j.entries, entry)
}

func (j *journal) snapshot() int {
	id := j.nextID
	j.nextID++
	j.snapshots[id] = len(j.entries)
	return id
}

func (j *journal) revertToSnapshot(id int, l *Ledger) bool {
	idx, ok := j.snapshots[id]
	if !ok {
		return false
	}
	for i := len(j.entries) - 1; i >= idx; i-- {
		j.entries[i].revert(l)
	}
	j.entries = j.entries[:idx]

	for sid := range j.snapshots {
		if sid >= id {
			delete(j.snapshots, sid)
		}
	}
	return true
}

func (j *journal) reset() {
	j.entries = j.entries[:0]
	j.snapshots = make(map[int]int)
}

type balanceChange struct {
	addr types.Address
	prev *uint256.Int // nil if the account had no entry
}

func (ch balanceChange) revert(l *Ledger) {
	if ch.prev == nil {
		delete(l.balances, ch.addr)
	} else {
		l.balances[ch.addr] = ch.prev
	}
	l.dirtyBalances[ch.addr] = struct{}{}
}

type allowanceChange struct {
	key  allowanceKey
	prev *uint256.Int
}

func (ch allowanceChange) revert(l *Ledger) {
	if ch.prev == nil {
		delete(l.allowances, ch.key)
	} else {
		l.allowances[ch.key] = ch.prev
	}
	l.dirtyAllowances[ch.key] = struct{}{}
}

type supplyChange struct {
	prev *uint256.Int
}

func (ch supplyChange) revert(l *Ledger) {
	l.supply = ch.prev
	l.supplyDirty = true
}

type eventChange struct{}

func (eventChange) revert(l *Ledger) {
	l.events = l.events[:len(l.events)-1]
}
