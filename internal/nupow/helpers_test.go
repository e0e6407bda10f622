package nupow

import (
	"errors"
	"testing"

	"github.com/Klingon-tech/crystal/pkg/types"
	"github.com/holiman/uint256"
)

// findSeed searches for a seed that beats tip for solver.
func findSeed(t *testing.T, tip types.Hash, solver types.Address) *uint256.Int {
	t.Helper()
	seed := new(uint256.Int)
	one := uint256.NewInt(1)
	for i := 0; i < 1<<22; i++ {
		if _, ok := Evaluate(tip, seed, solver); ok {
			return seed
		}
		seed.Add(seed, one)
	}
	t.Fatalf("no seed found below tip %s", tip)
	return nil
}

// failSeed returns a seed that does not beat tip for solver.
func failSeed(t *testing.T, tip types.Hash, solver types.Address) *uint256.Int {
	t.Helper()
	for i := uint64(0); i < 1<<16; i++ {
		seed := uint256.NewInt(i)
		if _, ok := Evaluate(tip, seed, solver); !ok {
			return seed
		}
	}
	t.Fatalf("no failing seed found for tip %s", tip)
	return nil
}

// recordingMinter records mints and optionally fails.
type recordingMinter struct {
	minted map[types.Address]*uint256.Int
	fail   bool
}

func newRecordingMinter() *recordingMinter {
	return &recordingMinter{minted: make(map[types.Address]*uint256.Int)}
}

var errLedgerDown = errors.New("ledger down")

func (m *recordingMinter) Mint(to types.Address, amount *uint256.Int) error {
	if m.fail {
		return errLedgerDown
	}
	cur, ok := m.minted[to]
	if !ok {
		cur = new(uint256.Int)
		m.minted[to] = cur
	}
	cur.Add(cur, amount)
	return nil
}

func (m *recordingMinter) balance(a types.Address) *uint256.Int {
	if v, ok := m.minted[a]; ok {
		return v.Clone()
	}
	return new(uint256.Int)
}

var maxMint = new(uint256.Int).Lsh(uint256.NewInt(1), 60)

func testParams() Params {
	return Params{
		ChainLengthTarget: 5,
		StalledDuration:   10,
		MaxMint:           maxMint.Clone(),
		MaxTotalMint:      new(uint256.Int).Lsh(uint256.NewInt(1), 255),
	}
}
