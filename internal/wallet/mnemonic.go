// Package wallet derives solver identities from BIP-39 mnemonics and keeps
// their seeds in password-encrypted keystore files.
package wallet

import (
	"errors"
	"fmt"
	"strings"

	"github.com/tyler-smith/go-bip39"
)

// MnemonicEntropyBits is the entropy size for 24-word mnemonics.
const MnemonicEntropyBits = 256

// SeedSize is the length of a BIP-39 seed in bytes.
const SeedSize = 64

// ErrInvalidMnemonic is returned for a mnemonic with unknown words or a bad checksum.
var ErrInvalidMnemonic = errors.New("invalid mnemonic")

// GenerateMnemonic creates a new 24-word BIP-39 mnemonic.
func GenerateMnemonic() (string, error) {
	entropy, err := bip39.NewEntropy(MnemonicEntropyBits)
	if err != nil {
		return "", fmt.Errorf("generate entropy: %w", err)
	}
	return bip39.NewMnemonic(entropy)
}

// NormalizeMnemonic lower-cases the words and collapses whitespace, so a
// phrase typed at a prompt matches the one that was written down.
func NormalizeMnemonic(mnemonic string) string {
	return strings.Join(strings.Fields(strings.ToLower(mnemonic)), " ")
}

// ValidateMnemonic reports whether mnemonic has valid words and checksum.
func ValidateMnemonic(mnemonic string) bool {
	return bip39.IsMnemonicValid(NormalizeMnemonic(mnemonic))
}

// SeedFromMnemonic derives the 64-byte seed with PBKDF2-SHA512 as BIP-39 specifies.
func SeedFromMnemonic(mnemonic, passphrase string) ([]byte, error) {
	mnemonic = NormalizeMnemonic(mnemonic)
	if !bip39.IsMnemonicValid(mnemonic) {
		return nil, ErrInvalidMnemonic
	}
	seed, err := bip39.NewSeedWithErrorChecking(mnemonic, passphrase)
	if err != nil {
		return nil, fmt.Errorf("derive seed: %w", err)
	}
	return seed, nil
}
