package types

import (
	"strings"
	"testing"

	"github.com/holiman/uint256"
)

func TestParseUint256(t *testing.T) {
	tests := []struct {
		in      string
		want    *uint256.Int
		wantErr bool
	}{
		{"0", uint256.NewInt(0), false},
		{"1234", uint256.NewInt(1234), false},
		{"000042", uint256.NewInt(42), false},
		{"0x10", uint256.NewInt(16), false},
		{"0x0000000000000010", uint256.NewInt(16), false},
		{"0xabc", uint256.NewInt(0xabc), false},
		{"1152921504606846976", uint256.NewInt(1 << 60), false},
		{"0x" + strings.Repeat("ff", 32), new(uint256.Int).SetAllOne(), false},
		{"0x" + strings.Repeat("ff", 33), nil, true},
		{"0x", nil, true},
		{"", nil, true},
		{"12a", nil, true},
		{"-1", nil, true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseUint256(tt.in)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParseUint256(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
			}
			if err == nil && !got.Eq(tt.want) {
				t.Errorf("ParseUint256(%q) = %s, want %s", tt.in, got.Dec(), tt.want.Dec())
			}
		})
	}
}
