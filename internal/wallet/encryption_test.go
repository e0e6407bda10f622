package wallet

import (
	"bytes"
	"encoding/json"
	"testing"
)

// fastParams returns low-cost Argon2 params for fast tests.
func fastParams() EncryptionParams {
	return EncryptionParams{Memory: 64, Iterations: 1, Parallelism: 1}
}

func TestSealOpen_Roundtrip(t *testing.T) {
	for _, plain := range [][]byte{[]byte("secret solver seed"), {}} {
		s, err := Seal(plain, []byte("strong-password-123"), fastParams())
		if err != nil {
			t.Fatalf("Seal() error: %v", err)
		}
		got, err := s.Open([]byte("strong-password-123"))
		if err != nil {
			t.Fatalf("Open() error: %v", err)
		}
		if !bytes.Equal(got, plain) {
			t.Errorf("Open() = %q, want %q", got, plain)
		}
	}
}

func TestSeal_FreshSaltAndNonce(t *testing.T) {
	a, _ := Seal([]byte("x"), []byte("p"), fastParams())
	b, _ := Seal([]byte("x"), []byte("p"), fastParams())
	if bytes.Equal(a.Salt, b.Salt) || bytes.Equal(a.Nonce, b.Nonce) || bytes.Equal(a.Ciphertext, b.Ciphertext) {
		t.Error("two seals of the same data should differ")
	}
}

func TestSeal_RejectsZeroParams(t *testing.T) {
	if _, err := Seal([]byte("x"), []byte("p"), EncryptionParams{}); err == nil {
		t.Error("zero parameters accepted")
	}
}

func TestOpen_Failures(t *testing.T) {
	password := []byte("correct")
	fresh := func() *Sealed {
		s, err := Seal([]byte("seed bytes"), password, fastParams())
		if err != nil {
			t.Fatalf("Seal() error: %v", err)
		}
		return s
	}

	tests := []struct {
		name     string
		mutate   func(*Sealed)
		password []byte
	}{
		{"wrong password", func(*Sealed) {}, []byte("wrong")},
		{"flipped ciphertext", func(s *Sealed) { s.Ciphertext[0] ^= 1 }, password},
		{"weakened memory", func(s *Sealed) { s.Params.Memory = 32 }, password},
		{"other kdf", func(s *Sealed) { s.KDF = "scrypt" }, password},
		{"short nonce", func(s *Sealed) { s.Nonce = s.Nonce[:12] }, password},
		{"truncated", func(s *Sealed) { s.Ciphertext = s.Ciphertext[:4] }, password},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := fresh()
			tt.mutate(s)
			if _, err := s.Open(tt.password); err == nil {
				t.Error("Open() should fail")
			}
		})
	}

	if _, err := fresh().Open([]byte("wrong")); err != ErrDecrypt {
		t.Errorf("wrong password error = %v, want ErrDecrypt", err)
	}
}

func TestSealed_JSON(t *testing.T) {
	s, _ := Seal([]byte("seed"), []byte("pw"), fastParams())
	data, err := json.Marshal(s)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var back Sealed
	if err := json.Unmarshal(data, &back); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	got, err := back.Open([]byte("pw"))
	if err != nil || string(got) != "seed" {
		t.Errorf("Open after JSON = %q, %v", got, err)
	}
}
