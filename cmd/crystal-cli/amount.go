package main

import (
	"fmt"
	"strings"

	"github.com/Klingon-tech/crystal/config"
	"github.com/Klingon-tech/crystal/pkg/types"
	"github.com/holiman/uint256"
)

// unit is one whole token in base units.
var unit = new(uint256.Int).Exp(uint256.NewInt(10), uint256.NewInt(config.Decimals))

// formatAmount converts base units to a decimal string with full precision.
func formatAmount(v *uint256.Int) string {
	if v == nil {
		return "0." + strings.Repeat("0", config.Decimals)
	}
	whole, frac := new(uint256.Int), new(uint256.Int)
	whole.DivMod(v, unit, frac)
	f := frac.Dec()
	return whole.Dec() + "." + strings.Repeat("0", config.Decimals-len(f)) + f
}

// parseAmount converts a decimal token amount such as "1.5" to base units.
// A 0x-prefixed value is taken as raw base units.
func parseAmount(s string) (*uint256.Int, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, fmt.Errorf("empty amount")
	}
	if strings.HasPrefix(s, "-") {
		return nil, fmt.Errorf("negative amount")
	}
	if strings.HasPrefix(s, "0x") || strings.HasPrefix(s, "0X") {
		return types.ParseUint256(s)
	}

	parts := strings.SplitN(s, ".", 2)
	if parts[0] == "" {
		parts[0] = "0"
	}
	if !isDigits(parts[0]) {
		return nil, fmt.Errorf("invalid whole part %q", parts[0])
	}
	whole, err := types.ParseUint256(parts[0])
	if err != nil {
		return nil, err
	}

	frac := new(uint256.Int)
	if len(parts) == 2 {
		fracStr := parts[1]
		if fracStr == "" || len(fracStr) > config.Decimals {
			return nil, fmt.Errorf("fraction must have 1 to %d digits", config.Decimals)
		}
		if !isDigits(fracStr) {
			return nil, fmt.Errorf("invalid fractional part %q", fracStr)
		}
		fracStr += strings.Repeat("0", config.Decimals-len(fracStr))
		if frac, err = types.ParseUint256(fracStr); err != nil {
			return nil, err
		}
	}

	result, overflow := new(uint256.Int).MulOverflow(whole, unit)
	if overflow {
		return nil, fmt.Errorf("amount too large")
	}
	if _, overflow := result.AddOverflow(result, frac); overflow {
		return nil, fmt.Errorf("amount too large")
	}
	return result, nil
}

func isDigits(s string) bool {
	for _, c := range s {
		if c < '0' || c > '9' {
			return false
		}
	}
	return s != ""
}
