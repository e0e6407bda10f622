package crystal

import (
	"encoding/binary"

	"github.com/Klingon-tech/crystal/internal/nupow"
	"github.com/Klingon-tech/crystal/pkg/types"
	"github.com/holiman/uint256"
)

// Info summarises the instance.
type Info struct {
	Token             types.Address `json:"token"`
	Deployment        types.Hash    `json:"deployment"`
	Name              string        `json:"name"`
	Symbol            string        `json:"symbol"`
	Decimals          uint8         `json:"decimals"`
	Cap               *uint256.Int  `json:"cap"`
	TotalSupply       *uint256.Int  `json:"total_supply"`
	TotalMinted       *uint256.Int  `json:"total_minted"`
	NextMint          *uint256.Int  `json:"next_mint"`
	ChainLengthTarget uint64        `json:"chain_length_target"`
	StalledDuration   uint64        `json:"stalled_duration"`
	MaxMint           *uint256.Int  `json:"max_mint"`
	MaxTotalMint      *uint256.Int  `json:"max_total_mint"`
	Reserve           types.Address `json:"reserve"`
	Round             nupow.Round   `json:"round"`
	// Stalled reports whether the next challenge closes the live round.
	Stalled           bool          `json:"stalled"`
	Records           uint64        `json:"records"`
}

// Info returns a consistent snapshot of the instance.
func (c *Crystal) Info() Info {
	c.mu.Lock()
	defer c.mu.Unlock()
	meta := c.ledger.Metadata()
	p := c.engine.Params()
	round := c.engine.Round()
	return Info{
		Token:             c.token,
		Deployment:        c.deployment,
		Name:              meta.Name,
		Symbol:            meta.Symbol,
		Decimals:          meta.Decimals,
		Cap:               meta.Cap,
		TotalSupply:       c.ledger.TotalSupply(),
		TotalMinted:       c.engine.TotalMinted(),
		NextMint:          c.engine.NextMint(),
		ChainLengthTarget: p.ChainLengthTarget,
		StalledDuration:   p.StalledDuration,
		MaxMint:           p.MaxMint,
		MaxTotalMint:      p.MaxTotalMint,
		Reserve:           c.reserve,
		Round:             round,
		Stalled:           c.now() > round.Deadline,
		Records:           c.nextSeq,
	}
}

// Token returns the token's own address.
func (c *Crystal) Token() types.Address { return c.token }

// Params returns the immutable puzzle parameters.
func (c *Crystal) Params() nupow.Params {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.engine.Params()
}

// Round returns the live round.
func (c *Crystal) Round() nupow.Round {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.engine.Round()
}

// ChainLength returns the number of solves in the live round.
func (c *Crystal) ChainLength() uint64 { return c.Round().ChainLength }

// LastHash returns the live tip.
func (c *Crystal) LastHash() types.Hash { return c.Round().Tip }

// LastChallenger returns the most recent solver of the live round.
func (c *Crystal) LastChallenger() types.Address { return c.Round().LastChallenger }

// StalledTimestamp returns the unix time after which the live round stalls.
func (c *Crystal) StalledTimestamp() uint64 { return c.Round().Deadline }

// NextMint returns the current per-solve reward.
func (c *Crystal) NextMint() *uint256.Int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.engine.NextMint()
}

// TotalMinted returns cumulative puzzle issuance.
func (c *Crystal) TotalMinted() *uint256.Int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.engine.TotalMinted()
}

// TotalSupply returns the ledger supply, including allocations.
func (c *Crystal) TotalSupply() *uint256.Int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ledger.TotalSupply()
}

// BalanceOf returns the balance of addr.
func (c *Crystal) BalanceOf(addr types.Address) *uint256.Int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ledger.BalanceOf(addr)
}

// Allowance returns spender's allowance over owner's balance.
func (c *Crystal) Allowance(owner, spender types.Address) *uint256.Int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ledger.Allowance(owner, spender)
}

// Nonce returns the next expected signed-call nonce for addr.
func (c *Crystal) Nonce(addr types.Address) uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.nonces[addr]
}

func beBytes(v uint64) []byte {
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], v)
	return b[:]
}

func beUint64(b []byte) uint64 {
	return binary.BigEndian.Uint64(b)
}
