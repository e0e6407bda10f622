package nupow

import (
	"github.com/Klingon-tech/crystal/pkg/types"
	"github.com/holiman/uint256"
)

// ChainProgress is emitted for every passing attempt.
type ChainProgress struct {
	Solver      types.Address `json:"solver"`
	ChainLength uint64        `json:"chain_length"`
	PreviousTip types.Hash    `json:"previous_tip"`
	NewTip      types.Hash    `json:"new_tip"`
	Minted      *uint256.Int  `json:"minted"`
	Tag         string        `json:"tag"`
}

// ChallengeAttempt is emitted for every judged attempt, pass or fail.
type ChallengeAttempt struct {
	Passed   bool          `json:"passed"`
	Minted   *uint256.Int  `json:"minted"`
	Receiver types.Address `json:"receiver"`
}

// RoundClosed is emitted when a stalled round is closed and retargeted.
type RoundClosed struct {
	Round        uint64       `json:"round"`
	ChainLength  uint64       `json:"chain_length"`
	PreviousMint *uint256.Int `json:"previous_mint"`
	NextMint     *uint256.Int `json:"next_mint"`
	ClosedAt     uint64       `json:"closed_at"`
}

// Outcome is everything one challenge produced.
type Outcome struct {
	Passed    bool
	Candidate types.Hash
	Minted    *uint256.Int
	// Closed is set when the challenge first closed a stalled round.
	Closed *RoundClosed
	// Progress is set when the attempt passed.
	Progress *ChainProgress
	Attempt  ChallengeAttempt
}
