package crypto

import (
	"bytes"
	"errors"
	"fmt"

	"github.com/Klingon-tech/crystal/pkg/types"
	"github.com/decred/dcrd/dcrec/secp256k1/v4"
	"github.com/decred/dcrd/dcrec/secp256k1/v4/ecdsa"
)

// SignatureSize is the length of a recoverable signature: r || s || v.
const SignatureSize = 65

// ErrBadSignatureEncoding is returned for signatures that are not 65 bytes,
// carry a recovery id other than 0 or 1, or have a high s value.
var ErrBadSignatureEncoding = errors.New("malformed signature")

// Signer signs 32-byte digests on behalf of one address.
type Signer interface {
	// Sign returns a recoverable ECDSA signature, r || s || v.
	Sign(hash []byte) ([]byte, error)
	// PublicKey returns the compressed 33-byte public key.
	PublicKey() []byte
}

// PrivateKey is a secp256k1 signing key.
type PrivateKey struct {
	key *secp256k1.PrivateKey
}

// GenerateKey creates a new random key.
func GenerateKey() (*PrivateKey, error) {
	key, err := secp256k1.GeneratePrivateKey()
	if err != nil {
		return nil, fmt.Errorf("generate key: %w", err)
	}
	return &PrivateKey{key: key}, nil
}

// PrivateKeyFromBytes loads a key from its 32-byte scalar. Zero and
// out-of-range scalars are rejected.
func PrivateKeyFromBytes(b []byte) (*PrivateKey, error) {
	if len(b) != 32 {
		return nil, fmt.Errorf("private key must be 32 bytes, got %d", len(b))
	}
	var scalar secp256k1.ModNScalar
	if overflow := scalar.SetByteSlice(b); overflow || scalar.IsZero() {
		return nil, fmt.Errorf("private key out of range")
	}
	return &PrivateKey{key: secp256k1.NewPrivateKey(&scalar)}, nil
}

// Sign produces a low-s recoverable signature over a 32-byte hash in the
// Ethereum layout r || s || v with v in {0, 1}. Signing is deterministic
// (RFC 6979).
func (pk *PrivateKey) Sign(hash []byte) ([]byte, error) {
	if len(hash) != 32 {
		return nil, fmt.Errorf("hash must be 32 bytes, got %d", len(hash))
	}
	compact := ecdsa.SignCompact(pk.key, hash, false)
	sig := make([]byte, SignatureSize)
	copy(sig, compact[1:])
	sig[64] = compact[0] - 27
	return sig, nil
}

// PublicKey returns the compressed 33-byte public key.
func (pk *PrivateKey) PublicKey() []byte {
	return pk.key.PubKey().SerializeCompressed()
}

// Address returns the account address controlled by this key.
func (pk *PrivateKey) Address() types.Address {
	return pubKeyAddress(pk.key.PubKey())
}

// Serialize returns the 32-byte private key scalar.
func (pk *PrivateKey) Serialize() []byte {
	return pk.key.Serialize()
}

// Zero clears the key material.
func (pk *PrivateKey) Zero() {
	pk.key.Zero()
}

// RecoverPubKey returns the public key that produced sig over hash.
func RecoverPubKey(hash, sig []byte) (*secp256k1.PublicKey, error) {
	if len(hash) != 32 {
		return nil, fmt.Errorf("hash must be 32 bytes, got %d", len(hash))
	}
	if len(sig) != SignatureSize || sig[64] > 1 {
		return nil, ErrBadSignatureEncoding
	}
	var s secp256k1.ModNScalar
	if overflow := s.SetByteSlice(sig[32:64]); overflow || s.IsOverHalfOrder() {
		return nil, ErrBadSignatureEncoding
	}

	compact := make([]byte, SignatureSize)
	compact[0] = sig[64] + 27
	copy(compact[1:], sig[:64])
	pub, _, err := ecdsa.RecoverCompact(compact, hash)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadSignatureEncoding, err)
	}
	return pub, nil
}

// RecoverAddress returns the address whose key produced sig over hash.
func RecoverAddress(hash, sig []byte) (types.Address, error) {
	pub, err := RecoverPubKey(hash, sig)
	if err != nil {
		return types.Address{}, err
	}
	return pubKeyAddress(pub), nil
}

// VerifySignature reports whether sig over hash was made by publicKey,
// compressed or uncompressed. Returns false on any error.
func VerifySignature(hash, sig, publicKey []byte) bool {
	want, err := secp256k1.ParsePubKey(publicKey)
	if err != nil {
		return false
	}
	got, err := RecoverPubKey(hash, sig)
	if err != nil {
		return false
	}
	return bytes.Equal(got.SerializeCompressed(), want.SerializeCompressed())
}
