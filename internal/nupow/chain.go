package nupow

import (
	"github.com/Klingon-tech/crystal/pkg/types"
	"github.com/holiman/uint256"
)

// Round is the live state of one puzzle round.
type Round struct {
	Number         uint64        `json:"number"`
	Tip            types.Hash    `json:"tip"`
	ChainLength    uint64        `json:"chain_length"`
	LastChallenger types.Address `json:"last_challenger"`
	// Deadline is the unix time after which the round is stalled.
	Deadline uint64 `json:"deadline"`
}

// Attempt is the result of judging one seed against the current tip.
type Attempt struct {
	Passed      bool
	Candidate   types.Hash
	PreviousTip types.Hash
	ChainLength uint64
}

// PuzzleChain holds the round state and applies the puzzle to attempts.
// Tip and chain length only ever change together.
type PuzzleChain struct {
	round    Round
	duration uint64
}

// NewPuzzleChain returns the genesis chain: genesis tip, no solves and a
// zero deadline, so the first attempt closes the empty genesis round.
func NewPuzzleChain(stalledDuration uint64) *PuzzleChain {
	return &PuzzleChain{
		round:    Round{Tip: GenesisTip},
		duration: stalledDuration,
	}
}

// restorePuzzleChain rebuilds a chain from persisted round state.
func restorePuzzleChain(r Round, stalledDuration uint64) *PuzzleChain {
	return &PuzzleChain{round: r, duration: stalledDuration}
}

// Round returns a copy of the current round.
func (c *PuzzleChain) Round() Round {
	return c.round
}

// Stalled reports whether the round deadline has passed at now.
func (c *PuzzleChain) Stalled(now uint64) bool {
	return now > c.round.Deadline
}

// Reset closes the current round and opens the next one at genesis values.
// The new round's deadline starts at now + StalledDuration. Returns the
// round that was closed.
func (c *PuzzleChain) Reset(now uint64) Round {
	closed := c.round
	c.round = Round{
		Number:   closed.Number + 1,
		Tip:      GenesisTip,
		Deadline: now + c.duration,
	}
	return closed
}

// Attempt judges seed for solver against the current tip. On a pass the
// tip becomes the candidate, the chain grows by one and the deadline moves
// to now + StalledDuration. A failed attempt changes nothing.
func (c *PuzzleChain) Attempt(seed *uint256.Int, solver types.Address, now uint64) Attempt {
	prev := c.round.Tip
	candidate, ok := Evaluate(prev, seed, solver)
	if !ok {
		return Attempt{Candidate: candidate, PreviousTip: prev, ChainLength: c.round.ChainLength}
	}
	c.round.Tip = candidate
	c.round.ChainLength++
	c.round.LastChallenger = solver
	c.round.Deadline = now + c.duration
	return Attempt{
		Passed:      true,
		Candidate:   candidate,
		PreviousTip: prev,
		ChainLength: c.round.ChainLength,
	}
}
