package nupow

import (
	"errors"
	"testing"

	"github.com/Klingon-tech/crystal/pkg/types"
	"github.com/holiman/uint256"
)

func TestMintGate_Headroom(t *testing.T) {
	m := newRecordingMinter()
	g := NewMintGate(uint256.NewInt(25), new(uint256.Int))
	solver := types.Address{0x01}

	want := []uint64{10, 10, 5, 0, 0}
	for i, w := range want {
		got, err := g.Issue(m, solver, uint256.NewInt(10))
		if err != nil {
			t.Fatalf("issue %d: %v", i, err)
		}
		if got.Uint64() != w {
			t.Fatalf("issue %d: minted %d, want %d", i, got.Uint64(), w)
		}
	}
	if g.TotalMinted().Uint64() != 25 {
		t.Errorf("total = %d, want 25", g.TotalMinted().Uint64())
	}
	if m.balance(solver).Uint64() != 25 {
		t.Errorf("ledger balance = %d, want 25", m.balance(solver).Uint64())
	}
	if !g.Headroom().IsZero() {
		t.Errorf("headroom = %d, want 0", g.Headroom().Uint64())
	}
}

func TestMintGate_ZeroRewardSkipsLedger(t *testing.T) {
	m := newRecordingMinter()
	m.fail = true
	g := NewMintGate(uint256.NewInt(25), new(uint256.Int))

	got, err := g.Issue(m, types.Address{0x01}, new(uint256.Int))
	if err != nil {
		t.Fatalf("zero reward should not reach the ledger: %v", err)
	}
	if !got.IsZero() {
		t.Errorf("minted %d, want 0", got.Uint64())
	}
}

func TestMintGate_LedgerError(t *testing.T) {
	m := newRecordingMinter()
	m.fail = true
	g := NewMintGate(uint256.NewInt(25), uint256.NewInt(3))

	got, err := g.Issue(m, types.Address{0x01}, uint256.NewInt(10))
	if !errors.Is(err, errLedgerDown) {
		t.Fatalf("err = %v, want errLedgerDown", err)
	}
	if !got.IsZero() {
		t.Errorf("minted %d, want 0", got.Uint64())
	}
	if g.TotalMinted().Uint64() != 3 {
		t.Errorf("total changed to %d after failed mint", g.TotalMinted().Uint64())
	}
}
