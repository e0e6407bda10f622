package wallet

import (
	"crypto/rand"
	"encoding/binary"
	"errors"
	"fmt"

	"golang.org/x/crypto/argon2"
	"golang.org/x/crypto/chacha20poly1305"
)

// SaltSize is the Argon2id salt length.
const SaltSize = 32

const kdfArgon2id = "argon2id"

// ErrDecrypt is returned for a wrong password or tampered ciphertext.
var ErrDecrypt = errors.New("decrypt failed: wrong password or corrupted data")

// EncryptionParams holds Argon2id parameters.
type EncryptionParams struct {
	Memory      uint32 `json:"memory"` // KiB
	Iterations  uint32 `json:"iterations"`
	Parallelism uint8  `json:"parallelism"`
}

// DefaultParams returns the Argon2id parameters used for new keystores.
func DefaultParams() EncryptionParams {
	return EncryptionParams{
		Memory:      64 * 1024,
		Iterations:  3,
		Parallelism: 4,
	}
}

// Sealed is password-encrypted data as stored in a keystore file. The KDF
// parameters are authenticated as associated data, so they cannot be
// weakened without failing decryption.
type Sealed struct {
	KDF        string           `json:"kdf"`
	Params     EncryptionParams `json:"params"`
	Salt       []byte           `json:"salt"`
	Nonce      []byte           `json:"nonce"`
	Ciphertext []byte           `json:"ciphertext"`
}

func (s *Sealed) associatedData() []byte {
	ad := make([]byte, 0, len(s.KDF)+9)
	ad = append(ad, s.KDF...)
	ad = binary.BigEndian.AppendUint32(ad, s.Params.Memory)
	ad = binary.BigEndian.AppendUint32(ad, s.Params.Iterations)
	return append(ad, s.Params.Parallelism)
}

func deriveKey(password, salt []byte, p EncryptionParams) []byte {
	return argon2.IDKey(password, salt, p.Iterations, p.Memory, p.Parallelism, chacha20poly1305.KeySize)
}

func zero(b []byte) {
	for i := range b {
		b[i] = 0
	}
}

// Seal encrypts data under password with Argon2id and XChaCha20-Poly1305.
func Seal(data, password []byte, params EncryptionParams) (*Sealed, error) {
	if params.Memory == 0 || params.Iterations == 0 || params.Parallelism == 0 {
		return nil, fmt.Errorf("invalid argon2id parameters %+v", params)
	}
	s := &Sealed{
		KDF:    kdfArgon2id,
		Params: params,
		Salt:   make([]byte, SaltSize),
		Nonce:  make([]byte, chacha20poly1305.NonceSizeX),
	}
	if _, err := rand.Read(s.Salt); err != nil {
		return nil, fmt.Errorf("generate salt: %w", err)
	}
	if _, err := rand.Read(s.Nonce); err != nil {
		return nil, fmt.Errorf("generate nonce: %w", err)
	}

	key := deriveKey(password, s.Salt, params)
	defer zero(key)
	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return nil, fmt.Errorf("create cipher: %w", err)
	}
	s.Ciphertext = aead.Seal(nil, s.Nonce, data, s.associatedData())
	return s, nil
}

// Open decrypts s with password.
func (s *Sealed) Open(password []byte) ([]byte, error) {
	if s.KDF != kdfArgon2id {
		return nil, fmt.Errorf("unsupported kdf %q", s.KDF)
	}
	if len(s.Salt) != SaltSize || len(s.Nonce) != chacha20poly1305.NonceSizeX ||
		len(s.Ciphertext) < chacha20poly1305.Overhead {
		return nil, fmt.Errorf("malformed sealed data")
	}
	if s.Params.Iterations == 0 || s.Params.Parallelism == 0 {
		return nil, fmt.Errorf("invalid argon2id parameters %+v", s.Params)
	}

	key := deriveKey(password, s.Salt, s.Params)
	defer zero(key)
	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return nil, fmt.Errorf("create cipher: %w", err)
	}
	plain, err := aead.Open(nil, s.Nonce, s.Ciphertext, s.associatedData())
	if err != nil {
		return nil, ErrDecrypt
	}
	return plain, nil
}
