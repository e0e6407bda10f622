package types

import (
	"encoding/hex"
	"encoding/json"
	"fmt"

	"golang.org/x/crypto/sha3"
)

// AddressSize is the length of an address in bytes.
const AddressSize = 20

// Address is a 160-bit account identity: the trailing 20 bytes of the
// Keccak-256 hash of an uncompressed secp256k1 public key.
type Address [AddressSize]byte

// BytesToAddress copies the trailing AddressSize bytes of b into an Address.
func BytesToAddress(b []byte) Address {
	var a Address
	if len(b) > AddressSize {
		b = b[len(b)-AddressSize:]
	}
	copy(a[AddressSize-len(b):], b)
	return a
}

// IsZero returns true if the address is all zeros.
func (a Address) IsZero() bool {
	return a == Address{}
}

// String returns the EIP-55 mixed-case checksummed address ("0xAbC...").
func (a Address) String() string {
	lower := hex.EncodeToString(a[:])
	d := sha3.NewLegacyKeccak256()
	d.Write([]byte(lower))
	sum := d.Sum(nil)

	out := []byte(lower)
	for i := range out {
		if out[i] < 'a' {
			continue
		}
		nibble := sum[i/2]
		if i%2 == 0 {
			nibble >>= 4
		}
		if nibble&0x0f >= 8 {
			out[i] -= 'a' - 'A'
		}
	}
	return "0x" + string(out)
}

// Hex returns the lower-case hex address without prefix.
func (a Address) Hex() string {
	return hex.EncodeToString(a[:])
}

// Bytes returns a copy of the address as a byte slice.
func (a Address) Bytes() []byte {
	b := make([]byte, AddressSize)
	copy(b, a[:])
	return b
}

// Word returns the address left-padded to a 32-byte word.
func (a Address) Word() [32]byte {
	var w [32]byte
	copy(w[32-AddressSize:], a[:])
	return w
}

// MarshalJSON encodes the address as a checksummed hex string.
func (a Address) MarshalJSON() ([]byte, error) {
	return json.Marshal(a.String())
}

// UnmarshalJSON decodes a hex string into an address.
func (a *Address) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	if s == "" {
		*a = Address{}
		return nil
	}
	parsed, err := ParseAddress(s)
	if err != nil {
		return err
	}
	*a = parsed
	return nil
}

// ParseAddress parses a hex address with or without 0x prefix.
// Checksum casing is not enforced.
func ParseAddress(s string) (Address, error) {
	if s == "" {
		return Address{}, fmt.Errorf("empty address")
	}
	return HexToAddress(s)
}

// HexToAddress converts a hex string to an Address.
// Returns an error if the string is not exactly 40 hex characters.
func HexToAddress(s string) (Address, error) {
	b, err := hex.DecodeString(strip0x(s))
	if err != nil {
		return Address{}, fmt.Errorf("invalid hex: %w", err)
	}
	if len(b) != AddressSize {
		return Address{}, fmt.Errorf("address must be %d bytes, got %d", AddressSize, len(b))
	}
	var a Address
	copy(a[:], b)
	return a, nil
}
