// Package nupow implements the NuPoW puzzle chain: a self-tightening hash
// puzzle whose rounds close on inactivity and whose per-solve reward is
// retargeted from how long each closed round ran.
package nupow

import (
	"errors"
	"fmt"

	"github.com/holiman/uint256"
)

// ErrInvalidParams is returned when the immutable parameters are unusable.
var ErrInvalidParams = errors.New("invalid nupow parameters")

// Params holds the immutable configuration fixed at deployment.
type Params struct {
	// ChainLengthTarget is the number of solves a round should reach
	// before it stalls.
	ChainLengthTarget uint64
	// StalledDuration is the number of seconds without a solve that ends
	// a round.
	StalledDuration uint64
	// MaxMint is the ceiling for the per-solve reward.
	MaxMint *uint256.Int
	// MaxTotalMint is the cap on cumulative puzzle issuance.
	MaxTotalMint *uint256.Int
}

// Validate rejects zero or contradictory parameters.
func (p Params) Validate() error {
	if p.ChainLengthTarget == 0 {
		return fmt.Errorf("%w: chain length target must be positive", ErrInvalidParams)
	}
	if p.StalledDuration == 0 {
		return fmt.Errorf("%w: stalled duration must be positive", ErrInvalidParams)
	}
	if p.MaxMint == nil || p.MaxMint.IsZero() {
		return fmt.Errorf("%w: max mint must be positive", ErrInvalidParams)
	}
	if p.MaxTotalMint == nil || p.MaxTotalMint.IsZero() {
		return fmt.Errorf("%w: max total mint must be positive", ErrInvalidParams)
	}
	if p.MaxMint.Gt(p.MaxTotalMint) {
		return fmt.Errorf("%w: max mint %s exceeds max total mint %s",
			ErrInvalidParams, p.MaxMint.Dec(), p.MaxTotalMint.Dec())
	}
	return nil
}

func (p Params) clone() Params {
	out := p
	if p.MaxMint != nil {
		out.MaxMint = p.MaxMint.Clone()
	}
	if p.MaxTotalMint != nil {
		out.MaxTotalMint = p.MaxTotalMint.Clone()
	}
	return out
}
