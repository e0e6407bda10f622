package flash

import (
	"sync/atomic"

	"github.com/Klingon-tech/crystal/pkg/types"
	"github.com/holiman/uint256"
)

// LedgerHost is a Host acting directly on a ledger. Challenges are always
// refused as reentrant. It must only be used from the borrower callback;
// once closed every mutating call fails with ErrHostClosed.
type LedgerHost struct {
	ledger Ledger
	self   types.Address
	closed atomic.Bool
}

// NewLedgerHost returns a host acting as self on l.
func NewLedgerHost(l Ledger, self types.Address) *LedgerHost {
	return &LedgerHost{ledger: l, self: self}
}

// Close ends the host. The lender closes it when the loan is settled.
func (h *LedgerHost) Close() { h.closed.Store(true) }

// Self returns the borrower address the host acts as.
func (h *LedgerHost) Self() types.Address { return h.self }

// BalanceOf returns the balance of addr.
func (h *LedgerHost) BalanceOf(addr types.Address) *uint256.Int {
	return h.ledger.BalanceOf(addr)
}

// Transfer moves the borrower's tokens to to.
func (h *LedgerHost) Transfer(to types.Address, amount *uint256.Int) error {
	if h.closed.Load() {
		return ErrHostClosed
	}
	return h.ledger.Transfer(h.self, to, amount)
}

// Approve sets an allowance from the borrower to spender.
func (h *LedgerHost) Approve(spender types.Address, amount *uint256.Int) error {
	if h.closed.Load() {
		return ErrHostClosed
	}
	return h.ledger.Approve(h.self, spender, amount)
}

// Challenge always fails with ErrReentrantCall.
func (h *LedgerHost) Challenge(*uint256.Int, string) (bool, error) {
	return false, ErrReentrantCall
}
