// Package types defines the primitive value types shared by the Crystal node.
package types

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/holiman/uint256"
)

// HashSize is the length of a hash in bytes.
const HashSize = 32

// Hash represents a 256-bit hash value. Puzzle tips and candidates are
// hashes read as big-endian unsigned integers.
type Hash [HashSize]byte

// MaxHash is the largest representable hash (all bits set).
var MaxHash = func() Hash {
	var h Hash
	for i := range h {
		h[i] = 0xff
	}
	return h
}()

// BytesToHash copies b into a Hash, left-padding with zeros or keeping
// the trailing HashSize bytes when b is longer.
func BytesToHash(b []byte) Hash {
	var h Hash
	if len(b) > HashSize {
		b = b[len(b)-HashSize:]
	}
	copy(h[HashSize-len(b):], b)
	return h
}

// HashFromUint256 returns the 32-byte big-endian form of v.
func HashFromUint256(v *uint256.Int) Hash {
	return Hash(v.Bytes32())
}

// IsZero returns true if the hash is all zeros.
func (h Hash) IsZero() bool {
	return h == Hash{}
}

// Uint256 interprets the hash as a big-endian unsigned integer.
func (h Hash) Uint256() *uint256.Int {
	return new(uint256.Int).SetBytes32(h[:])
}

// Less reports whether h is numerically smaller than o.
func (h Hash) Less(o Hash) bool {
	for i := 0; i < HashSize; i++ {
		if h[i] != o[i] {
			return h[i] < o[i]
		}
	}
	return false
}

// String returns the 0x-prefixed hex encoding of the hash.
func (h Hash) String() string {
	return "0x" + hex.EncodeToString(h[:])
}

// Bytes returns a copy of the hash as a byte slice.
func (h Hash) Bytes() []byte {
	b := make([]byte, HashSize)
	copy(b, h[:])
	return b
}

// MarshalJSON encodes the hash as a hex string.
func (h Hash) MarshalJSON() ([]byte, error) {
	return json.Marshal(h.String())
}

// UnmarshalJSON decodes a hex string into a hash.
func (h *Hash) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	if s == "" {
		*h = Hash{}
		return nil
	}
	parsed, err := HexToHash(s)
	if err != nil {
		return err
	}
	*h = parsed
	return nil
}

// HexToHash converts a hex string, with or without 0x prefix, to a Hash.
// Returns an error if the string is not exactly 64 hex characters.
func HexToHash(s string) (Hash, error) {
	b, err := hex.DecodeString(strip0x(s))
	if err != nil {
		return Hash{}, fmt.Errorf("invalid hex: %w", err)
	}
	if len(b) != HashSize {
		return Hash{}, fmt.Errorf("hash must be %d bytes, got %d", HashSize, len(b))
	}
	var h Hash
	copy(h[:], b)
	return h, nil
}

func strip0x(s string) string {
	if strings.HasPrefix(s, "0x") || strings.HasPrefix(s, "0X") {
		return s[2:]
	}
	return s
}
