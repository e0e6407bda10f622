// Package ledger implements the fungible-token bookkeeping the puzzle mints
// into: balances, allowances, total supply against a hard cap, and a
// journal so a whole operation can be rolled back.
package ledger

import (
	"errors"
	"fmt"

	"github.com/Klingon-tech/crystal/pkg/types"
	"github.com/holiman/uint256"
)

// Ledger errors.
var (
	ErrInsufficientBalance   = errors.New("insufficient balance")
	ErrInsufficientAllowance = errors.New("insufficient allowance")
	ErrCapExceeded           = errors.New("supply cap exceeded")
	ErrZeroAddress           = errors.New("zero address")
)

// Metadata describes the token.
type Metadata struct {
	Name     string       `json:"name"`
	Symbol   string       `json:"symbol"`
	Decimals uint8        `json:"decimals"`
	Cap      *uint256.Int `json:"cap"`
}

// EventKind names a ledger event.
type EventKind string

// Ledger event kinds.
const (
	EventTransfer EventKind = "transfer"
	EventApproval EventKind = "approval"
)

// Event is a Transfer (From -> To) or an Approval (owner From grants
// spender To). A mint is a transfer from the zero address.
type Event struct {
	Kind  EventKind     `json:"kind"`
	From  types.Address `json:"from"`
	To    types.Address `json:"to"`
	Value *uint256.Int  `json:"value"`
}

type allowanceKey struct {
	owner   types.Address
	spender types.Address
}

// Ledger holds balances and allowances. It is not safe for concurrent use.
type Ledger struct {
	meta       Metadata
	supply     *uint256.Int
	balances   map[types.Address]*uint256.Int
	allowances map[allowanceKey]*uint256.Int

	journal *journal
	events  []Event

	dirtyBalances   map[types.Address]struct{}
	dirtyAllowances map[allowanceKey]struct{}
	supplyDirty     bool
}

// New creates an empty ledger.
func New(meta Metadata) (*Ledger, error) {
	if meta.Cap == nil || meta.Cap.IsZero() {
		return nil, fmt.Errorf("ledger cap must be positive")
	}
	meta.Cap = meta.Cap.Clone()
	return &Ledger{
		meta:            meta,
		supply:          new(uint256.Int),
		balances:        make(map[types.Address]*uint256.Int),
		allowances:      make(map[allowanceKey]*uint256.Int),
		journal:         newJournal(),
		dirtyBalances:   make(map[types.Address]struct{}),
		dirtyAllowances: make(map[allowanceKey]struct{}),
	}, nil
}

// Metadata returns the token metadata.
func (l *Ledger) Metadata() Metadata {
	m := l.meta
	m.Cap = l.meta.Cap.Clone()
	return m
}

// TotalSupply returns the circulating supply.
func (l *Ledger) TotalSupply() *uint256.Int {
	return l.supply.Clone()
}

// BalanceOf returns the balance of addr.
func (l *Ledger) BalanceOf(addr types.Address) *uint256.Int {
	if b, ok := l.balances[addr]; ok {
		return b.Clone()
	}
	return new(uint256.Int)
}

// Allowance returns how much spender may move out of owner's balance.
func (l *Ledger) Allowance(owner, spender types.Address) *uint256.Int {
	if a, ok := l.allowances[allowanceKey{owner, spender}]; ok {
		return a.Clone()
	}
	return new(uint256.Int)
}

// Mint creates amount new tokens for to. Fails with ErrCapExceeded when
// the supply would pass the cap.
func (l *Ledger) Mint(to types.Address, amount *uint256.Int) error {
	if to.IsZero() {
		return fmt.Errorf("mint: %w", ErrZeroAddress)
	}
	next, overflow := new(uint256.Int).AddOverflow(l.supply, amount)
	if overflow || next.Gt(l.meta.Cap) {
		return fmt.Errorf("mint %s: %w", amount.Dec(), ErrCapExceeded)
	}
	l.setSupply(next)
	l.setBalance(to, new(uint256.Int).Add(l.BalanceOf(to), amount))
	l.emit(Event{Kind: EventTransfer, To: to, Value: amount.Clone()})
	return nil
}

// Transfer moves amount from from to to.
func (l *Ledger) Transfer(from, to types.Address, amount *uint256.Int) error {
	if from.IsZero() || to.IsZero() {
		return fmt.Errorf("transfer: %w", ErrZeroAddress)
	}
	bal := l.BalanceOf(from)
	if bal.Lt(amount) {
		return fmt.Errorf("transfer %s from %s (have %s): %w",
			amount.Dec(), from, bal.Dec(), ErrInsufficientBalance)
	}
	l.setBalance(from, bal.Sub(bal, amount))
	l.setBalance(to, new(uint256.Int).Add(l.BalanceOf(to), amount))
	l.emit(Event{Kind: EventTransfer, From: from, To: to, Value: amount.Clone()})
	return nil
}

// Approve sets spender's allowance over owner's balance.
func (l *Ledger) Approve(owner, spender types.Address, amount *uint256.Int) error {
	if owner.IsZero() || spender.IsZero() {
		return fmt.Errorf("approve: %w", ErrZeroAddress)
	}
	l.setAllowance(allowanceKey{owner, spender}, amount.Clone())
	l.emit(Event{Kind: EventApproval, From: owner, To: spender, Value: amount.Clone()})
	return nil
}

// TransferFrom moves amount from from to to on behalf of spender, spending
// the allowance. An allowance of 2^256-1 is never decreased.
func (l *Ledger) TransferFrom(spender, from, to types.Address, amount *uint256.Int) error {
	key := allowanceKey{from, spender}
	allowed := l.Allowance(from, spender)
	if allowed.Lt(amount) {
		return fmt.Errorf("transferFrom %s by %s (allowed %s): %w",
			amount.Dec(), spender, allowed.Dec(), ErrInsufficientAllowance)
	}
	if err := l.Transfer(from, to, amount); err != nil {
		return err
	}
	if !allowed.Eq(maxAllowance) {
		l.setAllowance(key, allowed.Sub(allowed, amount))
	}
	return nil
}

var maxAllowance = new(uint256.Int).SetAllOne()

// Snapshot returns an identifier for the current state.
func (l *Ledger) Snapshot() int {
	return l.journal.snapshot()
}

// RevertToSnapshot undoes every change made since the snapshot was taken,
// including emitted events.
func (l *Ledger) RevertToSnapshot(id int) error {
	if !l.journal.revertToSnapshot(id, l) {
		return fmt.Errorf("unknown snapshot %d", id)
	}
	return nil
}

// PendingEvents returns the events emitted since the last Finalise.
func (l *Ledger) PendingEvents() []Event {
	return append([]Event(nil), l.events...)
}

// Finalise ends the current operation: it returns the events emitted since
// the last call and drops the journal, so earlier snapshots become invalid.
func (l *Ledger) Finalise() []Event {
	ev := l.events
	l.events = nil
	l.journal.reset()
	return ev
}

func (l *Ledger) setBalance(addr types.Address, v *uint256.Int) {
	prev, ok := l.balances[addr]
	if !ok {
		prev = nil
	}
	l.journal.append(balanceChange{addr: addr, prev: prev})
	l.balances[addr] = v
	l.dirtyBalances[addr] = struct{}{}
}

func (l *Ledger) setAllowance(key allowanceKey, v *uint256.Int) {
	prev, ok := l.allowances[key]
	if !ok {
		prev = nil
	}
	l.journal.append(allowanceChange{key: key, prev: prev})
	l.allowances[key] = v
	l.dirtyAllowances[key] = struct{}{}
}

func (l *Ledger) setSupply(v *uint256.Int) {
	l.journal.append(supplyChange{prev: l.supply})
	l.supply = v
	l.supplyDirty = true
}

func (l *Ledger) emit(ev Event) {
	l.journal.append(eventChange{})
	l.events = append(l.events, ev)
}
