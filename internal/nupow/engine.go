package nupow

import (
	"fmt"

	klog "github.com/Klingon-tech/crystal/internal/log"
	"github.com/Klingon-tech/crystal/pkg/types"
	"github.com/holiman/uint256"
	"github.com/rs/zerolog"
)

// State is the persisted form of an engine.
type State struct {
	Round       Round        `json:"round"`
	NextMint    *uint256.Int `json:"next_mint"`
	TotalMinted *uint256.Int `json:"total_minted"`
}

// Engine is the challenge state machine: it owns the puzzle chain, the
// retarget controller and the mint gate. It is not safe for concurrent
// use; callers serialise access.
type Engine struct {
	params   Params
	chain    *PuzzleChain
	retarget *RetargetController
	gate     *MintGate
	minter   Minter
	log      zerolog.Logger
}

// NewEngine creates an engine at genesis: reward at MaxMint, nothing minted.
func NewEngine(params Params, minter Minter) (*Engine, error) {
	if err := params.Validate(); err != nil {
		return nil, err
	}
	params = params.clone()
	return &Engine{
		params:   params,
		chain:    NewPuzzleChain(params.StalledDuration),
		retarget: NewRetargetController(params.MaxMint, params.ChainLengthTarget, params.MaxMint),
		gate:     NewMintGate(params.MaxTotalMint, new(uint256.Int)),
		minter:   minter,
		log:      klog.Puzzle,
	}, nil
}

// RestoreEngine rebuilds an engine from persisted state.
func RestoreEngine(params Params, st State, minter Minter) (*Engine, error) {
	if err := params.Validate(); err != nil {
		return nil, err
	}
	if st.NextMint == nil || st.TotalMinted == nil {
		return nil, fmt.Errorf("restore engine: incomplete state")
	}
	if st.NextMint.Gt(params.MaxMint) {
		return nil, fmt.Errorf("restore engine: next mint %s above max mint", st.NextMint.Dec())
	}
	if st.TotalMinted.Gt(params.MaxTotalMint) {
		return nil, fmt.Errorf("restore engine: total minted %s above cap", st.TotalMinted.Dec())
	}
	params = params.clone()
	return &Engine{
		params:   params,
		chain:    restorePuzzleChain(st.Round, params.StalledDuration),
		retarget: NewRetargetController(st.NextMint, params.ChainLengthTarget, params.MaxMint),
		gate:     NewMintGate(params.MaxTotalMint, st.TotalMinted),
		minter:   minter,
		log:      klog.Puzzle,
	}, nil
}

// Params returns a copy of the immutable parameters.
func (e *Engine) Params() Params { return e.params.clone() }

// Round returns the current round.
func (e *Engine) Round() Round { return e.chain.Round() }

// NextMint returns the current per-solve reward.
func (e *Engine) NextMint() *uint256.Int { return e.retarget.NextMint() }

// TotalMinted returns cumulative puzzle issuance.
func (e *Engine) TotalMinted() *uint256.Int { return e.gate.TotalMinted() }

// State returns a snapshot suitable for persistence.
func (e *Engine) State() State {
	return State{
		Round:       e.chain.Round(),
		NextMint:    e.retarget.NextMint(),
		TotalMinted: e.gate.TotalMinted(),
	}
}

// Rewind puts the engine back to st, a State taken from it earlier. It is
// used to undo an attempt whose effects could not be persisted.
func (e *Engine) Rewind(st State) {
	e.chain = restorePuzzleChain(st.Round, e.params.StalledDuration)
	e.retarget = NewRetargetController(st.NextMint, e.params.ChainLengthTarget, e.params.MaxMint)
	e.gate = NewMintGate(e.params.MaxTotalMint, st.TotalMinted)
}

// Challenge processes one attempt at time now (unix seconds).
//
// A stalled round is closed and retargeted first, so the attempt is judged
// against a fresh genesis tip under the new reward. A failed attempt
// changes nothing else. A ledger error while minting is logged and counted
// as a zero mint; the round still advances.
func (e *Engine) Challenge(seed *uint256.Int, tag string, caller types.Address, now uint64) Outcome {
	var out Outcome

	if e.chain.Stalled(now) {
		closed := e.chain.Reset(now)
		adj := e.retarget.Close(closed.ChainLength)
		out.Closed = &RoundClosed{
			Round:        closed.Number,
			ChainLength:  closed.ChainLength,
			PreviousMint: adj.Previous,
			NextMint:     adj.Next,
			ClosedAt:     now,
		}
		e.log.Info().
			Uint64("round", closed.Number).
			Uint64("length", closed.ChainLength).
			Str("prev_mint", adj.Previous.Dec()).
			Str("next_mint", adj.Next.Dec()).
			Msg("Round closed")
	}

	att := e.chain.Attempt(seed, caller, now)
	out.Candidate = att.Candidate
	if !att.Passed {
		out.Minted = new(uint256.Int)
		out.Attempt = ChallengeAttempt{Passed: false, Minted: new(uint256.Int), Receiver: caller}
		e.log.Debug().
			Str("solver", caller.String()).
			Str("candidate", att.Candidate.String()).
			Msg("Attempt rejected")
		return out
	}

	minted, err := e.gate.Issue(e.minter, caller, e.retarget.NextMint())
	if err != nil {
		e.log.Warn().Err(err).Str("solver", caller.String()).Msg("Mint failed, no reward issued")
	}

	out.Passed = true
	out.Minted = minted
	out.Progress = &ChainProgress{
		Solver:      caller,
		ChainLength: att.ChainLength,
		PreviousTip: att.PreviousTip,
		NewTip:      att.Candidate,
		Minted:      minted.Clone(),
		Tag:         tag,
	}
	out.Attempt = ChallengeAttempt{Passed: true, Minted: minted.Clone(), Receiver: caller}

	e.log.Info().
		Str("solver", caller.String()).
		Uint64("length", att.ChainLength).
		Str("tip", att.Candidate.String()).
		Str("minted", minted.Dec()).
		Msg("Chain progress")
	return out
}

// Preview returns what Challenge would produce at now without changing
// any state or touching the ledger.
func (e *Engine) Preview(seed *uint256.Int, caller types.Address, now uint64) Outcome {
	return e.clone().Challenge(seed, "", caller, now)
}

// clone copies the value state; the copy mints into nothing.
func (e *Engine) clone() *Engine {
	return &Engine{
		params:   e.params,
		chain:    restorePuzzleChain(e.chain.Round(), e.params.StalledDuration),
		retarget: NewRetargetController(e.retarget.NextMint(), e.params.ChainLengthTarget, e.params.MaxMint),
		gate:     NewMintGate(e.params.MaxTotalMint, e.gate.TotalMinted()),
		minter:   nopMinter{},
		log:      zerolog.Nop(),
	}
}

type nopMinter struct{}

func (nopMinter) Mint(types.Address, *uint256.Int) error { return nil }
