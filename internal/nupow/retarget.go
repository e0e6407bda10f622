package nupow

import "github.com/holiman/uint256"

// NextMint applies the retarget rule to the reward after a round that
// reached achieved solves against target:
//
//	achieved > target: halve (floor)
//	achieved < target: double, or 0 -> 1, capped at maxMint
//	otherwise:         unchanged
func NextMint(current *uint256.Int, achieved, target uint64, maxMint *uint256.Int) *uint256.Int {
	switch {
	case achieved > target:
		return new(uint256.Int).Rsh(current, 1)
	case achieved < target:
		if current.IsZero() {
			return uint256.NewInt(1)
		}
		half := new(uint256.Int).Rsh(maxMint, 1)
		if current.Gt(half) {
			return maxMint.Clone()
		}
		return new(uint256.Int).Lsh(current, 1)
	default:
		return current.Clone()
	}
}

// Adjustment describes one retarget step.
type Adjustment struct {
	ChainLength uint64
	Previous    *uint256.Int
	Next        *uint256.Int
}

// RetargetController owns the per-solve reward.
type RetargetController struct {
	next    *uint256.Int
	target  uint64
	maxMint *uint256.Int
}

// NewRetargetController starts the reward at initial, clamped to maxMint.
func NewRetargetController(initial *uint256.Int, target uint64, maxMint *uint256.Int) *RetargetController {
	next := initial.Clone()
	if next.Gt(maxMint) {
		next.Set(maxMint)
	}
	return &RetargetController{next: next, target: target, maxMint: maxMint.Clone()}
}

// NextMint returns a copy of the current reward.
func (r *RetargetController) NextMint() *uint256.Int {
	return r.next.Clone()
}

// Close retargets the reward from the length of the round being closed.
func (r *RetargetController) Close(chainLength uint64) Adjustment {
	prev := r.next
	r.next = NextMint(prev, chainLength, r.target, r.maxMint)
	return Adjustment{ChainLength: chainLength, Previous: prev.Clone(), Next: r.next.Clone()}
}
