package wallet

import (
	"bytes"
	"encoding/hex"
	"errors"
	"strings"
	"testing"
)

const (
	// 24-word vector used by the test deployment's reserve.
	artMnemonic = "abandon abandon abandon abandon abandon abandon abandon abandon abandon abandon abandon abandon abandon abandon abandon abandon abandon abandon abandon abandon abandon abandon abandon art"
	// Well-known development mnemonic.
	junkMnemonic = "test test test test test test test test test test test junk"
)

func TestGenerateMnemonic(t *testing.T) {
	m1, err := GenerateMnemonic()
	if err != nil {
		t.Fatalf("GenerateMnemonic() error: %v", err)
	}
	m2, err := GenerateMnemonic()
	if err != nil {
		t.Fatalf("GenerateMnemonic() error: %v", err)
	}
	if n := len(strings.Fields(m1)); n != 24 {
		t.Errorf("word count = %d, want 24", n)
	}
	if !ValidateMnemonic(m1) {
		t.Error("generated mnemonic does not validate")
	}
	if m1 == m2 {
		t.Error("two generated mnemonics should not be identical")
	}
}

func TestValidateMnemonic(t *testing.T) {
	tests := []struct {
		name     string
		mnemonic string
		want     bool
	}{
		{"24 words", artMnemonic, true},
		{"12 words", junkMnemonic, true},
		{"messy spacing and case", "  Test test TEST test test test test test test test test\tjunk ", true},
		{"bad checksum", strings.Replace(artMnemonic, " art", " abandon", 1), false},
		{"unknown word", "zzzz " + junkMnemonic[5:], false},
		{"empty", "", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ValidateMnemonic(tt.mnemonic); got != tt.want {
				t.Errorf("ValidateMnemonic() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestSeedFromMnemonic_KnownVector(t *testing.T) {
	// BIP-39 reference vector.
	mnemonic := "abandon abandon abandon abandon abandon abandon abandon abandon abandon abandon abandon about"
	seed, err := SeedFromMnemonic(mnemonic, "TREZOR")
	if err != nil {
		t.Fatalf("SeedFromMnemonic() error: %v", err)
	}
	want, _ := hex.DecodeString("c55257c360c07c72029aebc1b53c05ed0362ada38ead3e3e9efa3708e53495531f09a6987599d18264c1e1c92f2cf141630c7a3c4ab7c81b2f001698e7463b04")
	if !bytes.Equal(seed, want) {
		t.Errorf("seed = %x, want %x", seed, want)
	}
}

func TestSeedFromMnemonic_Passphrase(t *testing.T) {
	s1, err := SeedFromMnemonic(artMnemonic, "")
	if err != nil {
		t.Fatalf("SeedFromMnemonic() error: %v", err)
	}
	s2, err := SeedFromMnemonic(artMnemonic, "extra")
	if err != nil {
		t.Fatalf("SeedFromMnemonic() error: %v", err)
	}
	if len(s1) != SeedSize {
		t.Errorf("seed length = %d, want %d", len(s1), SeedSize)
	}
	if bytes.Equal(s1, s2) {
		t.Error("passphrase should change the seed")
	}
}

func TestSeedFromMnemonic_Invalid(t *testing.T) {
	if _, err := SeedFromMnemonic("not a mnemonic", ""); !errors.Is(err, ErrInvalidMnemonic) {
		t.Errorf("err = %v, want ErrInvalidMnemonic", err)
	}
}
