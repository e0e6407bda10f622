package nupow

import (
	"fmt"

	"github.com/Klingon-tech/crystal/pkg/types"
	"github.com/holiman/uint256"
)

// Minter credits newly issued supply to an account. The ledger implements it.
type Minter interface {
	Mint(to types.Address, amount *uint256.Int) error
}

// MintGate is the only path by which puzzle rewards enter circulation.
// It keeps cumulative issuance at or below the cap.
type MintGate struct {
	maxTotal *uint256.Int
	total    *uint256.Int
}

// NewMintGate creates a gate that has already issued total out of maxTotal.
func NewMintGate(maxTotal, total *uint256.Int) *MintGate {
	return &MintGate{maxTotal: maxTotal.Clone(), total: total.Clone()}
}

// TotalMinted returns the cumulative amount issued so far.
func (g *MintGate) TotalMinted() *uint256.Int {
	return g.total.Clone()
}

// Headroom returns how much can still be issued.
func (g *MintGate) Headroom() *uint256.Int {
	return new(uint256.Int).Sub(g.maxTotal, g.total)
}

// Issue mints min(reward, headroom) to the solver. A zero amount skips the
// ledger entirely. When the ledger refuses the mint nothing is counted.
func (g *MintGate) Issue(m Minter, to types.Address, reward *uint256.Int) (*uint256.Int, error) {
	amount := g.Headroom()
	if reward.Lt(amount) {
		amount.Set(reward)
	}
	if amount.IsZero() {
		return amount, nil
	}
	if err := m.Mint(to, amount); err != nil {
		return new(uint256.Int), fmt.Errorf("mint %s to %s: %w", amount.Dec(), to, err)
	}
	g.total.Add(g.total, amount)
	return amount, nil
}
