// Package crypto provides cryptographic primitives for the Crystal node.
package crypto

import (
	"fmt"

	"github.com/Klingon-tech/crystal/pkg/types"
	"github.com/decred/dcrd/dcrec/secp256k1/v4"
	"github.com/zeebo/blake3"
	"golang.org/x/crypto/sha3"
)

// Hash computes a BLAKE3-256 hash of the input data.
// Used for record identifiers and deployment hashes, never for the puzzle.
func Hash(data []byte) types.Hash {
	return blake3.Sum256(data)
}

// Keccak256 calculates the legacy Keccak-256 hash of the concatenated inputs.
func Keccak256(data ...[]byte) []byte {
	d := sha3.NewLegacyKeccak256()
	for _, b := range data {
		d.Write(b)
	}
	return d.Sum(nil)
}

// Keccak256Hash is Keccak256 returned as a types.Hash.
func Keccak256Hash(data ...[]byte) types.Hash {
	var h types.Hash
	d := sha3.NewLegacyKeccak256()
	for _, b := range data {
		d.Write(b)
	}
	d.Sum(h[:0])
	return h
}

// AddressFromPubKey derives an address from a compressed or uncompressed
// secp256k1 public key.
func AddressFromPubKey(pubKey []byte) (types.Address, error) {
	pk, err := secp256k1.ParsePubKey(pubKey)
	if err != nil {
		return types.Address{}, fmt.Errorf("parse public key: %w", err)
	}
	return pubKeyAddress(pk), nil
}

// pubKeyAddress is Keccak256(X || Y)[12:].
func pubKeyAddress(pk *secp256k1.PublicKey) types.Address {
	uncompressed := pk.SerializeUncompressed()
	return types.BytesToAddress(Keccak256(uncompressed[1:]))
}
