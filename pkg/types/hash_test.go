package types

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/holiman/uint256"
)

func TestHash_IsZero(t *testing.T) {
	var zero Hash
	if !zero.IsZero() {
		t.Error("zero-value Hash should be zero")
	}

	nonZero := Hash{0x01}
	if nonZero.IsZero() {
		t.Error("non-zero Hash should not be zero")
	}
}

func TestHash_String(t *testing.T) {
	var h Hash
	s := h.String()
	if len(s) != 66 {
		t.Errorf("String() length = %d, want 66", len(s))
	}
	if s != "0x"+strings.Repeat("0", 64) {
		t.Errorf("zero hash String() = %s, want all zeros", s)
	}

	h[0] = 0xab
	h[31] = 0xcd
	s = h.String()
	if !strings.HasPrefix(s, "0xab") {
		t.Errorf("String() should start with '0xab', got %s", s[:4])
	}
	if !strings.HasSuffix(s, "cd") {
		t.Errorf("String() should end with 'cd', got %s", s[64:])
	}
}

func TestHash_Bytes(t *testing.T) {
	h := Hash{0x01, 0x02, 0x03}
	b := h.Bytes()

	if len(b) != HashSize {
		t.Errorf("Bytes() length = %d, want %d", len(b), HashSize)
	}
	b[0] = 0xFF
	if h[0] == 0xFF {
		t.Error("Bytes() should return a copy, not a reference")
	}
}

func TestHexToHash(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		wantErr bool
	}{
		{"valid", strings.Repeat("ab", 32), false},
		{"valid prefixed", "0x" + strings.Repeat("ab", 32), false},
		{"too short", "abcd", true},
		{"too long", strings.Repeat("ab", 33), true},
		{"not hex", strings.Repeat("zz", 32), true},
		{"empty", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := HexToHash(tt.input)
			if (err != nil) != tt.wantErr {
				t.Errorf("HexToHash(%q) error = %v, wantErr %v", tt.input, err, tt.wantErr)
			}
		})
	}
}

func TestHash_Uint256RoundTrip(t *testing.T) {
	v := uint256.NewInt(0x1000000000000000)
	h := HashFromUint256(v)
	if h[24] != 0x10 {
		t.Fatalf("big-endian layout wrong: %s", h)
	}
	if !h.Uint256().Eq(v) {
		t.Fatalf("Uint256() = %s, want %s", h.Uint256(), v)
	}

	max := MaxHash.Uint256()
	if !max.Eq(new(uint256.Int).SetAllOne()) {
		t.Fatal("MaxHash should be 2^256-1")
	}
}

func TestHash_Less(t *testing.T) {
	a := Hash{31: 1}
	b := Hash{0: 1}
	if !a.Less(b) {
		t.Error("a should be less than b")
	}
	if b.Less(a) {
		t.Error("b should not be less than a")
	}
	if a.Less(a) {
		t.Error("hash should not be less than itself")
	}
	if !a.Less(MaxHash) {
		t.Error("any non-max hash is less than MaxHash")
	}
}

func TestBytesToHash(t *testing.T) {
	h := BytesToHash([]byte{0x01, 0x02})
	if h[30] != 0x01 || h[31] != 0x02 {
		t.Errorf("BytesToHash should left-pad, got %s", h)
	}
}

func TestHash_JSON(t *testing.T) {
	h := Hash{0xde, 0xad}
	data, err := json.Marshal(h)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var got Hash
	if err := json.Unmarshal(data, &got); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if got != h {
		t.Errorf("got %s, want %s", got, h)
	}
}
