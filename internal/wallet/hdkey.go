package wallet

import (
	"errors"
	"fmt"

	"github.com/Klingon-tech/crystal/pkg/crypto"
	"github.com/Klingon-tech/crystal/pkg/types"
	"github.com/tyler-smith/go-bip32"
)

// BIP-44 path m/44'/60'/account'/0/index. Addresses are Keccak-derived,
// so the Ethereum coin type keeps keys interchangeable with other tools.
const (
	PurposeBIP44 = bip32.FirstHardenedChild + 44
	CoinTypeETH  = bip32.FirstHardenedChild + 60
	// ChainExternal is the only chain used; solvers have no change addresses.
	ChainExternal = 0
)

// ErrPublicOnly is returned when a private key is needed from a neutered key.
var ErrPublicOnly = errors.New("key has no private part")

// HDKey represents a hierarchical deterministic key (BIP-32).
type HDKey struct {
	key *bip32.Key
}

// NewMasterKey creates a master HD key from a 64-byte seed.
func NewMasterKey(seed []byte) (*HDKey, error) {
	if len(seed) != SeedSize {
		return nil, fmt.Errorf("seed must be %d bytes, got %d", SeedSize, len(seed))
	}
	master, err := bip32.NewMasterKey(seed)
	if err != nil {
		return nil, fmt.Errorf("create master key: %w", err)
	}
	return &HDKey{key: master}, nil
}

// DeriveChild derives a child key. Add bip32.FirstHardenedChild to index
// for hardened derivation.
func (k *HDKey) DeriveChild(index uint32) (*HDKey, error) {
	child, err := k.key.NewChildKey(index)
	if err != nil {
		return nil, fmt.Errorf("derive child %d: %w", index, err)
	}
	return &HDKey{key: child}, nil
}

// DerivePath derives a key along a sequence of indices.
func (k *HDKey) DerivePath(indices ...uint32) (*HDKey, error) {
	current := k
	for _, idx := range indices {
		child, err := current.DeriveChild(idx)
		if err != nil {
			return nil, err
		}
		current = child
	}
	return current, nil
}

// DeriveSolver derives the key at m/44'/60'/account'/0/index.
func (k *HDKey) DeriveSolver(account, index uint32) (*HDKey, error) {
	return k.DerivePath(
		PurposeBIP44,
		CoinTypeETH,
		bip32.FirstHardenedChild+account,
		ChainExternal,
		index,
	)
}

// SolverPath formats the derivation path of DeriveSolver.
func SolverPath(account, index uint32) string {
	return fmt.Sprintf("m/44'/60'/%d'/0/%d", account, index)
}

// PrivateKeyBytes returns the raw 32-byte private key, or nil for a
// public-only key.
func (k *HDKey) PrivateKeyBytes() []byte {
	if !k.key.IsPrivate {
		return nil
	}
	raw := k.key.Key
	if len(raw) == 33 && raw[0] == 0 {
		return raw[1:]
	}
	return raw
}

// PublicKeyBytes returns the compressed 33-byte public key.
func (k *HDKey) PublicKeyBytes() []byte {
	return k.key.PublicKey().Key
}

// Signer returns the signing key of this node.
func (k *HDKey) Signer() (*crypto.PrivateKey, error) {
	priv := k.PrivateKeyBytes()
	if priv == nil {
		return nil, ErrPublicOnly
	}
	return crypto.PrivateKeyFromBytes(priv)
}

// Address returns the solver address: Keccak-256 of the uncompressed
// public key, last 20 bytes.
func (k *HDKey) Address() (types.Address, error) {
	return crypto.AddressFromPubKey(k.PublicKeyBytes())
}

// IsPrivate returns true if this key contains a private key.
func (k *HDKey) IsPrivate() bool {
	return k.key.IsPrivate
}

// Depth returns the derivation depth (0 for master).
func (k *HDKey) Depth() uint8 {
	return k.key.Depth
}

// Neuter returns a public-key-only copy for watch-only use.
func (k *HDKey) Neuter() *HDKey {
	return &HDKey{key: k.key.PublicKey()}
}
