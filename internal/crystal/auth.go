package crystal

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/Klingon-tech/crystal/internal/nupow"
	"github.com/Klingon-tech/crystal/pkg/crypto"
	"github.com/Klingon-tech/crystal/pkg/types"
	"github.com/holiman/uint256"
)

// Signed-call errors.
var (
	ErrBadSignature = errors.New("invalid signature")
	ErrBadNonce     = errors.New("invalid nonce")
)

// Action names bound into signed-call digests.
const (
	ActionChallenge = "challenge"
	ActionTransfer  = "transfer"
	ActionApprove   = "approve"
)

// Auth authorises a call on behalf of the address of PubKey. With PubKey
// empty the signer is recovered from Signature.
type Auth struct {
	PubKey    []byte `json:"pubkey"`
	Signature []byte `json:"signature"`
	Nonce     uint64 `json:"nonce"`
}

// ChallengeDigest is the message signed for a challenge.
func ChallengeDigest(token types.Address, nonce uint64, seed *uint256.Int, tag string) types.Hash {
	seedWord := seed.Bytes32()
	return digest(token, ActionChallenge, nonce, seedWord[:], []byte(tag))
}

// TransferDigest is the message signed for a transfer.
func TransferDigest(token types.Address, nonce uint64, to types.Address, amount *uint256.Int) types.Hash {
	w := amount.Bytes32()
	return digest(token, ActionTransfer, nonce, to[:], w[:])
}

// ApproveDigest is the message signed for an approval.
func ApproveDigest(token types.Address, nonce uint64, spender types.Address, amount *uint256.Int) types.Hash {
	w := amount.Bytes32()
	return digest(token, ActionApprove, nonce, spender[:], w[:])
}

// digest = Keccak256("crystal" || token || len(action) || action || nonce || fields...)
// where every variable-length field is prefixed with its 4-byte length.
func digest(token types.Address, action string, nonce uint64, fields ...[]byte) types.Hash {
	parts := [][]byte{[]byte("crystal"), token[:], lenPrefixed([]byte(action)), beBytes(nonce)}
	for _, f := range fields {
		parts = append(parts, lenPrefixed(f))
	}
	return crypto.Keccak256Hash(parts...)
}

func lenPrefixed(b []byte) []byte {
	out := make([]byte, 4+len(b))
	binary.BigEndian.PutUint32(out, uint32(len(b)))
	copy(out[4:], b)
	return out
}

// Sign produces an Auth for digest d.
func Sign(signer crypto.Signer, nonce uint64, d types.Hash) (Auth, error) {
	sig, err := signer.Sign(d[:])
	if err != nil {
		return Auth{}, err
	}
	return Auth{PubKey: signer.PublicKey(), Signature: sig, Nonce: nonce}, nil
}

// authorize verifies a and returns the signer. Callers hold mu.
func (c *Crystal) authorize(a Auth, d types.Hash) (types.Address, error) {
	var addr types.Address
	if len(a.PubKey) == 0 {
		recovered, err := crypto.RecoverAddress(d[:], a.Signature)
		if err != nil {
			return types.Address{}, fmt.Errorf("%w: %v", ErrBadSignature, err)
		}
		addr = recovered
	} else {
		fromKey, err := crypto.AddressFromPubKey(a.PubKey)
		if err != nil {
			return types.Address{}, fmt.Errorf("%w: %v", ErrBadSignature, err)
		}
		if !crypto.VerifySignature(d[:], a.Signature, a.PubKey) {
			return types.Address{}, ErrBadSignature
		}
		addr = fromKey
	}
	if want := c.nonces[addr]; a.Nonce != want {
		return types.Address{}, fmt.Errorf("%w: got %d, want %d", ErrBadNonce, a.Nonce, want)
	}
	return addr, nil
}

// bumpNonce consumes addr's nonce. Callers are inside apply, which
// restores it if the operation is rolled back.
func (c *Crystal) bumpNonce(addr types.Address) {
	if _, ok := c.nonceUndo[addr]; !ok && c.nonceUndo != nil {
		c.nonceUndo[addr] = c.nonces[addr]
	}
	c.nonces[addr]++
	c.dirty[addr] = struct{}{}
}

// SignedChallenge submits a challenge authorised by a. The nonce is
// consumed whether or not the attempt passes, but not when the attempt
// fails to persist.
func (c *Crystal) SignedChallenge(a Auth, seed *uint256.Int, tag string) (types.Address, nupow.Outcome, error) {
	c.mu.Lock()
	caller, err := c.authorize(a, ChallengeDigest(c.token, a.Nonce, seed, tag))
	if err != nil {
		c.mu.Unlock()
		return types.Address{}, nupow.Outcome{}, err
	}
	out, recs, err := c.challengeLocked(caller, seed, tag, true)
	c.mu.Unlock()
	c.notify(recs)
	return caller, out, err
}

// SignedTransfer moves amount from the signer to to. The nonce is only
// consumed when the transfer succeeds.
func (c *Crystal) SignedTransfer(a Auth, to types.Address, amount *uint256.Int) (types.Address, error) {
	return c.signedMutate(a, TransferDigest(c.token, a.Nonce, to, amount), func(from types.Address) error {
		return c.ledger.Transfer(from, to, amount)
	})
}

// SignedApprove sets an allowance from the signer to spender.
func (c *Crystal) SignedApprove(a Auth, spender types.Address, amount *uint256.Int) (types.Address, error) {
	return c.signedMutate(a, ApproveDigest(c.token, a.Nonce, spender, amount), func(owner types.Address) error {
		return c.ledger.Approve(owner, spender, amount)
	})
}

func (c *Crystal) signedMutate(a Auth, d types.Hash, op func(signer types.Address) error) (types.Address, error) {
	c.mu.Lock()
	signer, err := c.authorize(a, d)
	if err != nil {
		c.mu.Unlock()
		return types.Address{}, err
	}
	recs, err := c.mutateLocked(func() error {
		if err := op(signer); err != nil {
			return err
		}
		c.bumpNonce(signer)
		return nil
	})
	c.mu.Unlock()
	c.notify(recs)
	return signer, err
}
