package config

import (
	"encoding/json"
	"fmt"
	"os"
	"sort"

	"github.com/Klingon-tech/crystal/internal/nupow"
	"github.com/Klingon-tech/crystal/pkg/crypto"
	"github.com/Klingon-tech/crystal/pkg/types"
	"github.com/holiman/uint256"
)

// =============================================================================
// Deployment (immutable token parameters)
// These MUST match across all nodes observing the same token.
// =============================================================================

// Decimals of every Crystal token.
const Decimals = 18

// Deployment holds the immutable parameters of one token.
type Deployment struct {
	// Token identity
	Name      string `json:"name"`
	Symbol    string `json:"symbol"`
	Decimals  uint8  `json:"decimals"`
	ExtraData string `json:"extra_data,omitempty"`

	// Ledger supply ceiling, allocations included.
	Cap *uint256.Int `json:"cap"`

	// Puzzle economics
	ChainLengthTarget uint64       `json:"chain_length_target"`
	StalledDuration   uint64       `json:"stalled_duration"` // seconds
	MaxMint           *uint256.Int `json:"max_mint"`
	MaxTotalMint      *uint256.Int `json:"max_total_mint"`

	// Reserve is the account whose balance the flash facility lends.
	// The zero address lends nothing.
	Reserve string `json:"reserve"`

	// Initial allocations (address -> amount in base units)
	Alloc map[string]*uint256.Int `json:"alloc"`
}

// Allocation is one parsed initial balance.
type Allocation struct {
	Address types.Address
	Amount  *uint256.Int
}

// =============================================================================
// Testnet Identity
//
// Derived from the well-known BIP-39 test mnemonic (DO NOT use on mainnet):
//
//	abandon abandon abandon abandon abandon abandon abandon abandon
//	abandon abandon abandon abandon abandon abandon abandon abandon
//	abandon abandon abandon abandon abandon abandon abandon art
//
// Derivation path: m/44'/60'/0'/0/0 (no passphrase)
// =============================================================================

const (
	// TestnetMnemonic is the well-known seed phrase for the testnet reserve.
	TestnetMnemonic = "abandon abandon abandon abandon abandon abandon abandon abandon abandon abandon abandon abandon abandon abandon abandon abandon abandon abandon abandon abandon abandon abandon abandon art"

	// TestnetReservePrivKey is the private key (hex) derived from TestnetMnemonic.
	TestnetReservePrivKey = "1053fae1b3ac64f178bcc21026fd06a3f4544ec2f35338b001f02d1d8efa3d5f"

	// TestnetReserve is the address derived from TestnetMnemonic.
	// Address = Keccak256(pubkey X||Y)[12:]
	TestnetReserve = "0xf278cf59f82edcf871d630f28ecc8056f25c1cdb"
)

// quartzCap is the Quartz ledger cap.
var quartzCap = mustHexUint("0xffff000cfe1de000cfe1de000cfe1de000cfe1de000cfe1de000cfe1de000000")

func mustHexUint(s string) *uint256.Int {
	v, err := types.ParseUint256(s)
	if err != nil {
		panic(err)
	}
	return v
}

func pow2(n uint) *uint256.Int {
	return new(uint256.Int).Lsh(uint256.NewInt(1), n)
}

// =============================================================================
// Pre-defined deployments
// =============================================================================

// QuartzDeployment returns the mainnet deployment: NuPoW Quartz.
func QuartzDeployment() *Deployment {
	return &Deployment{
		Name:              "NuPoW Quartz",
		Symbol:            "NPQ",
		Decimals:          Decimals,
		ExtraData:         "Crystal Quartz",
		Cap:               quartzCap.Clone(),
		ChainLengthTarget: 37,
		StalledDuration:   1800, // 30 minutes
		MaxMint:           pow2(60),
		MaxTotalMint:      quartzCap.Clone(),
		Reserve:           "0x0000000000000000000000000000000000000000", // flash lending disabled
		Alloc:             map[string]*uint256.Int{},
	}
}

// TestDeployment returns the testnet deployment with short rounds.
func TestDeployment() *Deployment {
	return &Deployment{
		Name:              "NuPoW Test",
		Symbol:            "NPT",
		Decimals:          Decimals,
		ExtraData:         "Crystal Testnet",
		Cap:               pow2(255),
		ChainLengthTarget: 5,
		StalledDuration:   10,
		MaxMint:           pow2(60),
		MaxTotalMint:      new(uint256.Int).Sub(pow2(255), pow2(64)), // cap less the reserve allocation
		Reserve:           TestnetReserve,
		Alloc: map[string]*uint256.Int{
			TestnetReserve: pow2(64), // flash loan liquidity
		},
	}
}

// DeploymentFor returns the built-in deployment for the given network.
func DeploymentFor(network NetworkType) *Deployment {
	switch network {
	case Testnet:
		return TestDeployment()
	default:
		return QuartzDeployment()
	}
}

// =============================================================================
// Deployment file I/O
// =============================================================================

// LoadDeployment loads a deployment from a file.
func LoadDeployment(path string) (*Deployment, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading deployment file: %w", err)
	}

	var d Deployment
	if err := json.Unmarshal(data, &d); err != nil {
		return nil, fmt.Errorf("parsing deployment file: %w", err)
	}

	if err := d.Validate(); err != nil {
		return nil, fmt.Errorf("invalid deployment: %w", err)
	}

	return &d, nil
}

// Save writes the deployment to a file.
func (d *Deployment) Save(path string) error {
	data, err := json.MarshalIndent(d, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding deployment: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("writing deployment file: %w", err)
	}

	return nil
}

// Params returns the puzzle parameters.
func (d *Deployment) Params() nupow.Params {
	return nupow.Params{
		ChainLengthTarget: d.ChainLengthTarget,
		StalledDuration:   d.StalledDuration,
		MaxMint:           d.MaxMint,
		MaxTotalMint:      d.MaxTotalMint,
	}
}

// Validate checks that the deployment is usable. Puzzle parameter errors
// wrap nupow.ErrInvalidParams.
func (d *Deployment) Validate() error {
	if d.Name == "" || d.Symbol == "" {
		return fmt.Errorf("name and symbol are required")
	}
	if d.Cap == nil || d.Cap.IsZero() {
		return fmt.Errorf("cap must be positive")
	}
	if d.MaxMint == nil || d.MaxTotalMint == nil {
		return fmt.Errorf("%w: max_mint and max_total_mint are required", nupow.ErrInvalidParams)
	}
	if err := d.Params().Validate(); err != nil {
		return err
	}
	if _, err := types.ParseAddress(d.Reserve); err != nil {
		return fmt.Errorf("invalid reserve address %q: %w", d.Reserve, err)
	}

	allocs, err := d.Allocations()
	if err != nil {
		return err
	}
	total := new(uint256.Int)
	for _, a := range allocs {
		if _, overflow := total.AddOverflow(total, a.Amount); overflow {
			return fmt.Errorf("genesis allocations overflow")
		}
	}
	if total.Gt(d.Cap) {
		return fmt.Errorf("genesis allocations (%s) exceed cap (%s)", total.Dec(), d.Cap.Dec())
	}
	// Puzzle issuance must always fit in what the allocations leave.
	if headroom := new(uint256.Int).Sub(d.Cap, total); d.MaxTotalMint.Gt(headroom) {
		return fmt.Errorf("%w: max_total_mint %s exceeds cap less allocations %s",
			nupow.ErrInvalidParams, d.MaxTotalMint.Dec(), headroom.Dec())
	}
	return nil
}

// ReserveAddress returns the parsed reserve address.
func (d *Deployment) ReserveAddress() (types.Address, error) {
	return types.ParseAddress(d.Reserve)
}

// Allocations returns the parsed allocations sorted by address.
func (d *Deployment) Allocations() ([]Allocation, error) {
	out := make([]Allocation, 0, len(d.Alloc))
	for addrStr, v := range d.Alloc {
		addr, err := types.ParseAddress(addrStr)
		if err != nil {
			return nil, fmt.Errorf("invalid alloc address %q: %w", addrStr, err)
		}
		if v == nil || v.IsZero() {
			return nil, fmt.Errorf("alloc for %s must be positive", addr)
		}
		out = append(out, Allocation{Address: addr, Amount: v.Clone()})
	}
	sort.Slice(out, func(i, j int) bool {
		return string(out[i].Address[:]) < string(out[j].Address[:])
	})
	return out, nil
}

// Hash returns a BLAKE3 hash of the deployment.
// Used to bind a data directory to the deployment it was created with.
func (d *Deployment) Hash() (types.Hash, error) {
	data, err := json.Marshal(d)
	if err != nil {
		return types.Hash{}, err
	}
	return crypto.Hash(data), nil
}

// TokenAddress derives the token's own address from the deployment hash:
// the last 20 bytes of its Keccak-256.
func (d *Deployment) TokenAddress() (types.Address, error) {
	h, err := d.Hash()
	if err != nil {
		return types.Address{}, err
	}
	return types.BytesToAddress(crypto.Keccak256(h[:])[12:]), nil
}
