package types

import (
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/holiman/uint256"
)

// ParseUint256 parses a decimal string or a 0x-prefixed hex string of up
// to 64 digits. Leading zeros are accepted in both forms.
func ParseUint256(s string) (*uint256.Int, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, fmt.Errorf("empty number")
	}
	if strings.HasPrefix(s, "0x") || strings.HasPrefix(s, "0X") {
		digits := s[2:]
		if digits == "" {
			return nil, fmt.Errorf("empty hex number")
		}
		if len(digits)%2 == 1 {
			digits = "0" + digits
		}
		b, err := hex.DecodeString(digits)
		if err != nil {
			return nil, fmt.Errorf("invalid hex number: %w", err)
		}
		if len(b) > 32 {
			return nil, fmt.Errorf("number exceeds 256 bits")
		}
		return new(uint256.Int).SetBytes(b), nil
	}
	trimmed := strings.TrimLeft(s, "0")
	if trimmed == "" {
		return new(uint256.Int), nil
	}
	v, err := uint256.FromDecimal(trimmed)
	if err != nil {
		return nil, fmt.Errorf("invalid decimal number: %w", err)
	}
	return v, nil
}
