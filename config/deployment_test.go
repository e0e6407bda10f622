package config

import (
	"errors"
	"path/filepath"
	"testing"

	"github.com/Klingon-tech/crystal/internal/nupow"
	"github.com/Klingon-tech/crystal/pkg/crypto"
	"github.com/Klingon-tech/crystal/pkg/types"
	"github.com/holiman/uint256"
)

func TestDeployment_PresetsValid(t *testing.T) {
	for _, d := range []*Deployment{QuartzDeployment(), TestDeployment()} {
		if err := d.Validate(); err != nil {
			t.Errorf("%s should be valid: %v", d.Name, err)
		}
	}
}

func TestQuartzDeployment_Values(t *testing.T) {
	d := QuartzDeployment()
	if d.ChainLengthTarget != 37 || d.StalledDuration != 1800 {
		t.Errorf("target/duration = %d/%d", d.ChainLengthTarget, d.StalledDuration)
	}
	if d.MaxTotalMint.Hex() != "0xffff000cfe1de000cfe1de000cfe1de000cfe1de000cfe1de000cfe1de000000" {
		t.Errorf("max total mint = %s", d.MaxTotalMint.Hex())
	}
	if !d.MaxMint.Eq(new(uint256.Int).Lsh(uint256.NewInt(1), 60)) {
		t.Errorf("max mint = %s", d.MaxMint.Dec())
	}
}

func TestTestDeployment_MintFitsCap(t *testing.T) {
	d := TestDeployment()
	total := new(uint256.Int).Add(d.MaxTotalMint, d.Alloc[TestnetReserve])
	if !total.Eq(d.Cap) {
		t.Errorf("max total mint + reserve = %s, want cap %s", total.Dec(), d.Cap.Dec())
	}
}

func TestDeploymentFor(t *testing.T) {
	if DeploymentFor(Mainnet).Symbol != "NPQ" {
		t.Error("mainnet should run Quartz")
	}
	if DeploymentFor(Testnet).ChainLengthTarget != 5 {
		t.Error("testnet should run the test deployment")
	}
}

func TestTestnetReserve_MatchesKey(t *testing.T) {
	raw, _ := types.HexToHash(TestnetReservePrivKey)
	key, err := crypto.PrivateKeyFromBytes(raw[:])
	if err != nil {
		t.Fatalf("PrivateKeyFromBytes: %v", err)
	}
	want, _ := types.HexToAddress(TestnetReserve)
	if key.Address() != want {
		t.Errorf("key address = %s, want %s", key.Address(), want)
	}
}

func TestDeployment_ValidateRejects(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(d *Deployment)
		params bool
	}{
		{"zero target", func(d *Deployment) { d.ChainLengthTarget = 0 }, true},
		{"zero duration", func(d *Deployment) { d.StalledDuration = 0 }, true},
		{"zero max mint", func(d *Deployment) { d.MaxMint = new(uint256.Int) }, true},
		{"max mint above total", func(d *Deployment) { d.MaxTotalMint = uint256.NewInt(1) }, true},
		{"missing max total", func(d *Deployment) { d.MaxTotalMint = nil }, true},
		{"missing symbol", func(d *Deployment) { d.Symbol = "" }, false},
		{"zero cap", func(d *Deployment) { d.Cap = new(uint256.Int) }, false},
		{"bad reserve", func(d *Deployment) { d.Reserve = "0x1234" }, false},
		{"bad alloc address", func(d *Deployment) { d.Alloc["nope"] = uint256.NewInt(1) }, false},
		{"zero alloc", func(d *Deployment) { d.Alloc[TestnetReserve] = new(uint256.Int) }, false},
		{"alloc above cap", func(d *Deployment) { d.Cap = uint256.NewInt(10) }, false},
		{"mint ceiling above cap", func(d *Deployment) { d.MaxTotalMint = pow2(255) }, true},
		{"mint ceiling ignores alloc", func(d *Deployment) {
			d.Cap, d.MaxTotalMint, d.MaxMint = uint256.NewInt(1000), uint256.NewInt(1000), uint256.NewInt(600)
			d.Alloc = map[string]*uint256.Int{TestnetReserve: uint256.NewInt(100)}
		}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := TestDeployment()
			tt.mutate(d)
			err := d.Validate()
			if err == nil {
				t.Fatal("expected error")
			}
			if got := errors.Is(err, nupow.ErrInvalidParams); got != tt.params {
				t.Errorf("errors.Is(err, ErrInvalidParams) = %v, want %v (err: %v)", got, tt.params, err)
			}
		})
	}
}

func TestDeployment_SaveLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "deployment.json")
	d := TestDeployment()
	if err := d.Save(path); err != nil {
		t.Fatalf("Save: %v", err)
	}
	loaded, err := LoadDeployment(path)
	if err != nil {
		t.Fatalf("LoadDeployment: %v", err)
	}

	h1, _ := d.Hash()
	h2, _ := loaded.Hash()
	if h1 != h2 {
		t.Errorf("hash changed across save/load: %s vs %s", h1, h2)
	}
	if !loaded.Cap.Eq(d.Cap) || !loaded.MaxMint.Eq(d.MaxMint) {
		t.Error("amounts changed across save/load")
	}
}

func TestDeployment_HashAndTokenAddress(t *testing.T) {
	a, b := TestDeployment(), TestDeployment()
	ha, _ := a.Hash()
	hb, _ := b.Hash()
	if ha != hb {
		t.Fatal("hash must be deterministic")
	}

	b.StalledDuration = 11
	hb, _ = b.Hash()
	if ha == hb {
		t.Error("hash should change with parameters")
	}

	ta, _ := a.TokenAddress()
	tb, _ := b.TokenAddress()
	if ta.IsZero() || ta == tb {
		t.Errorf("token addresses %s / %s", ta, tb)
	}
	if want := types.BytesToAddress(crypto.Keccak256(ha[:])[12:]); ta != want {
		t.Errorf("token address = %s, want %s", ta, want)
	}
}

func TestDeployment_AllocationsSorted(t *testing.T) {
	d := TestDeployment()
	d.Alloc["0x0000000000000000000000000000000000000001"] = uint256.NewInt(7)
	allocs, err := d.Allocations()
	if err != nil {
		t.Fatalf("Allocations: %v", err)
	}
	if len(allocs) != 2 {
		t.Fatalf("got %d allocations", len(allocs))
	}
	if allocs[0].Address != (types.Address{19: 1}) || allocs[0].Amount.Uint64() != 7 {
		t.Errorf("first allocation = %+v", allocs[0])
	}
}
