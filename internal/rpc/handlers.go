package rpc

import (
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/Klingon-tech/crystal/internal/crystal"
	"github.com/Klingon-tech/crystal/internal/flash"
	"github.com/Klingon-tech/crystal/internal/ledger"
	"github.com/Klingon-tech/crystal/internal/p2p"
	"github.com/Klingon-tech/crystal/pkg/types"
	"github.com/holiman/uint256"
)

// Record page sizes for events_list.
const (
	defaultEventsLimit = 100
	maxEventsLimit     = 1000
)

// ── Token state endpoints ───────────────────────────────────────────────

func (s *Server) handleCrystalGetInfo(_ *Request) (interface{}, *Error) {
	info := s.crystal.Info()
	return &info, nil
}

func (s *Server) handleNuPoWGetRound(_ *Request) (interface{}, *Error) {
	info := s.crystal.Info()
	return &RoundResult{
		Round:    info.Round,
		Stalled:  info.Stalled,
		NextMint: info.NextMint,
	}, nil
}

func (s *Server) handleNuPoWPreview(req *Request) (interface{}, *Error) {
	var params PreviewParam
	if err := parseParams(req, &params); err != nil {
		return nil, err
	}
	caller, rpcErr := decodeAddress("caller", params.Caller)
	if rpcErr != nil {
		return nil, rpcErr
	}
	seed, rpcErr := decodeAmount("seed", params.Seed)
	if rpcErr != nil {
		return nil, rpcErr
	}
	return NewOutcomeResult(s.crystal.Preview(caller, seed)), nil
}

func (s *Server) handleTokenBalanceOf(req *Request) (interface{}, *Error) {
	var params AddressParam
	if err := parseParams(req, &params); err != nil {
		return nil, err
	}
	addr, rpcErr := decodeAddress("address", params.Address)
	if rpcErr != nil {
		return nil, rpcErr
	}
	return &BalanceResult{Address: addr, Balance: s.crystal.BalanceOf(addr)}, nil
}

func (s *Server) handleTokenAllowance(req *Request) (interface{}, *Error) {
	var params AllowanceParam
	if err := parseParams(req, &params); err != nil {
		return nil, err
	}
	owner, rpcErr := decodeAddress("owner", params.Owner)
	if rpcErr != nil {
		return nil, rpcErr
	}
	spender, rpcErr := decodeAddress("spender", params.Spender)
	if rpcErr != nil {
		return nil, rpcErr
	}
	return &AllowanceResult{
		Owner:     owner,
		Spender:   spender,
		Allowance: s.crystal.Allowance(owner, spender),
	}, nil
}

func (s *Server) handleAccountGetNonce(req *Request) (interface{}, *Error) {
	var params AddressParam
	if err := parseParams(req, &params); err != nil {
		return nil, err
	}
	addr, rpcErr := decodeAddress("address", params.Address)
	if rpcErr != nil {
		return nil, rpcErr
	}
	return &NonceResult{Address: addr, Nonce: s.crystal.Nonce(addr)}, nil
}

func (s *Server) handleEventsList(req *Request) (interface{}, *Error) {
	var params EventsParam
	if err := parseOptionalParams(req, &params); err != nil {
		return nil, err
	}
	limit := params.Limit
	if limit <= 0 {
		limit = defaultEventsLimit
	}
	if limit > maxEventsLimit {
		limit = maxEventsLimit
	}
	recs, err := s.crystal.Records(params.From, limit)
	if err != nil {
		return nil, &Error{Code: CodeInternalError, Message: fmt.Sprintf("read records: %v", err)}
	}
	if recs == nil {
		recs = []crystal.Record{}
	}
	return &EventsResult{Total: s.crystal.RecordCount(), Records: recs}, nil
}

// ── Signed endpoints ────────────────────────────────────────────────────

func (s *Server) handleNuPoWChallenge(req *Request) (interface{}, *Error) {
	var params ChallengeParam
	if err := parseParams(req, &params); err != nil {
		return nil, err
	}
	seed, rpcErr := decodeAmount("seed", params.Seed)
	if rpcErr != nil {
		return nil, rpcErr
	}
	auth, rpcErr := decodeAuth(params.Auth)
	if rpcErr != nil {
		return nil, rpcErr
	}

	caller, out, err := s.crystal.SignedChallenge(auth, seed, params.Tag)
	if err != nil {
		return nil, callError(err)
	}
	s.logger.Debug().
		Str("caller", caller.String()).
		Bool("passed", out.Passed).
		Msg("Challenge via RPC")
	return &ChallengeResult{Caller: caller, OutcomeResult: *NewOutcomeResult(out)}, nil
}

func (s *Server) handleTokenTransfer(req *Request) (interface{}, *Error) {
	var params TransferParam
	if err := parseParams(req, &params); err != nil {
		return nil, err
	}
	to, rpcErr := decodeAddress("to", params.To)
	if rpcErr != nil {
		return nil, rpcErr
	}
	amount, rpcErr := decodeAmount("amount", params.Amount)
	if rpcErr != nil {
		return nil, rpcErr
	}
	auth, rpcErr := decodeAuth(params.Auth)
	if rpcErr != nil {
		return nil, rpcErr
	}

	signer, err := s.crystal.SignedTransfer(auth, to, amount)
	if err != nil {
		return nil, callError(err)
	}
	return &MutationResult{Signer: signer, Nonce: s.crystal.Nonce(signer)}, nil
}

func (s *Server) handleTokenApprove(req *Request) (interface{}, *Error) {
	var params ApproveParam
	if err := parseParams(req, &params); err != nil {
		return nil, err
	}
	spender, rpcErr := decodeAddress("spender", params.Spender)
	if rpcErr != nil {
		return nil, rpcErr
	}
	amount, rpcErr := decodeAmount("amount", params.Amount)
	if rpcErr != nil {
		return nil, rpcErr
	}
	auth, rpcErr := decodeAuth(params.Auth)
	if rpcErr != nil {
		return nil, rpcErr
	}

	signer, err := s.crystal.SignedApprove(auth, spender, amount)
	if err != nil {
		return nil, callError(err)
	}
	return &MutationResult{Signer: signer, Nonce: s.crystal.Nonce(signer)}, nil
}

// ── Flash endpoints ─────────────────────────────────────────────────────

func (s *Server) handleFlashMaxLoan(req *Request) (interface{}, *Error) {
	var params AssetParam
	if err := parseOptionalParams(req, &params); err != nil {
		return nil, err
	}
	asset, rpcErr := s.decodeAsset(params.Asset)
	if rpcErr != nil {
		return nil, rpcErr
	}
	return &AmountResult{Asset: asset, Amount: s.crystal.MaxFlashLoan(asset)}, nil
}

func (s *Server) handleFlashFee(req *Request) (interface{}, *Error) {
	var params FlashFeeParam
	if err := parseParams(req, &params); err != nil {
		return nil, err
	}
	asset, rpcErr := s.decodeAsset(params.Asset)
	if rpcErr != nil {
		return nil, rpcErr
	}
	amount, rpcErr := decodeAmount("amount", params.Amount)
	if rpcErr != nil {
		return nil, rpcErr
	}
	fee, err := s.crystal.FlashFee(asset, amount)
	if err != nil {
		return nil, callError(err)
	}
	return &AmountResult{Asset: asset, Amount: fee}, nil
}

// ── Network endpoints ───────────────────────────────────────────────────

func (s *Server) handleNetGetPeerInfo(_ *Request) (interface{}, *Error) {
	if s.p2pNode == nil {
		return &PeerInfoResult{Count: 0, Peers: []PeerInfo{}}, nil
	}

	peers := s.p2pNode.PeerList()
	infos := make([]PeerInfo, len(peers))
	for i, p := range peers {
		infos[i] = PeerInfo{
			ID:          p.ID.String(),
			ConnectedAt: p.ConnectedAt.UTC().Format(time.RFC3339),
			Source:      p.Source,
			Records:     p.Records,
		}
	}

	return &PeerInfoResult{
		Count: len(infos),
		Peers: infos,
	}, nil
}

func (s *Server) handleNetGetNodeInfo(_ *Request) (interface{}, *Error) {
	if s.p2pNode == nil {
		return &NodeInfoResult{ID: "", Addrs: []string{}}, nil
	}

	return &NodeInfoResult{
		ID:    s.p2pNode.ID().String(),
		Addrs: s.p2pNode.Addrs(),
		Topic: p2p.RecordTopic(s.crystal.Token()),
	}, nil
}

func (s *Server) handleNetGetBanList(_ *Request) (interface{}, *Error) {
	if s.banManager == nil {
		return &BanListResult{Count: 0, Bans: []BanEntry{}}, nil
	}

	records := s.banManager.BanList()
	entries := make([]BanEntry, len(records))
	for i, r := range records {
		entries[i] = BanEntry{
			ID:        r.ID,
			Reason:    r.Reason,
			Score:     r.Score,
			BannedAt:  r.BannedAt,
			ExpiresAt: r.ExpiresAt,
		}
	}

	return &BanListResult{
		Count: len(entries),
		Bans:  entries,
	}, nil
}

// ── Helpers ─────────────────────────────────────────────────────────────

func decodeAddress(field, s string) (types.Address, *Error) {
	if s == "" {
		return types.Address{}, &Error{Code: CodeInvalidParams, Message: field + " is required"}
	}
	addr, err := types.ParseAddress(s)
	if err != nil {
		return types.Address{}, &Error{Code: CodeInvalidParams, Message: fmt.Sprintf("invalid %s: %v", field, err)}
	}
	return addr, nil
}

func decodeAmount(field, s string) (*uint256.Int, *Error) {
	if s == "" {
		return nil, &Error{Code: CodeInvalidParams, Message: field + " is required"}
	}
	v, err := types.ParseUint256(s)
	if err != nil {
		return nil, &Error{Code: CodeInvalidParams, Message: fmt.Sprintf("invalid %s: %v", field, err)}
	}
	return v, nil
}

// decodeAsset defaults an empty asset to the token itself.
func (s *Server) decodeAsset(v string) (types.Address, *Error) {
	if v == "" {
		return s.crystal.Token(), nil
	}
	return decodeAddress("asset", v)
}

func decodeHexField(field, s string) ([]byte, *Error) {
	b, err := hex.DecodeString(strings.TrimPrefix(s, "0x"))
	if err != nil || len(b) == 0 {
		return nil, &Error{Code: CodeInvalidParams, Message: fmt.Sprintf("invalid %s: must be hex", field)}
	}
	return b, nil
}

// decodeAuth decodes signed-call authorisation. The public key may be
// omitted; the signer is then recovered from the signature.
func decodeAuth(p AuthParam) (crystal.Auth, *Error) {
	var pub []byte
	if p.PubKey != "" {
		var rpcErr *Error
		if pub, rpcErr = decodeHexField("auth.pubkey", p.PubKey); rpcErr != nil {
			return crystal.Auth{}, rpcErr
		}
	}
	sig, rpcErr := decodeHexField("auth.signature", p.Signature)
	if rpcErr != nil {
		return crystal.Auth{}, rpcErr
	}
	return crystal.Auth{PubKey: pub, Signature: sig, Nonce: p.Nonce}, nil
}

// EncodeAuth converts a signed Auth to its wire form.
func EncodeAuth(a crystal.Auth) AuthParam {
	return AuthParam{
		PubKey:    hex.EncodeToString(a.PubKey),
		Signature: hex.EncodeToString(a.Signature),
		Nonce:     a.Nonce,
	}
}

// callError maps a refused call to an RPC error.
func callError(err error) *Error {
	switch {
	case errors.Is(err, crystal.ErrBadSignature), errors.Is(err, crystal.ErrBadNonce):
		return &Error{Code: CodeUnauthorized, Message: err.Error()}
	case errors.Is(err, crystal.ErrReentrantCall),
		errors.Is(err, ledger.ErrInsufficientBalance),
		errors.Is(err, ledger.ErrInsufficientAllowance),
		errors.Is(err, ledger.ErrCapExceeded),
		errors.Is(err, ledger.ErrZeroAddress),
		errors.Is(err, flash.ErrUnsupportedAsset):
		return &Error{Code: CodeRejected, Message: err.Error()}
	default:
		return &Error{Code: CodeInternalError, Message: err.Error()}
	}
}
