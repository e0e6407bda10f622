package rpc

import (
	"github.com/Klingon-tech/crystal/internal/crystal"
	"github.com/Klingon-tech/crystal/internal/nupow"
	"github.com/Klingon-tech/crystal/pkg/types"
	"github.com/holiman/uint256"
)

// JSON-RPC 2.0 error codes.
const (
	CodeParseError     = -32700
	CodeInvalidRequest = -32600
	CodeMethodNotFound = -32601
	CodeInvalidParams  = -32602
	CodeInternalError  = -32603
	CodeNotFound       = -32000
	// CodeRejected means the call was valid but the token refused it.
	CodeRejected     = -32001
	CodeUnauthorized = -32002
	CodeRateLimited  = -32005
)

// Request is a JSON-RPC 2.0 request.
type Request struct {
	JSONRPC string      `json:"jsonrpc"`
	Method  string      `json:"method"`
	Params  interface{} `json:"params"`
	ID      interface{} `json:"id"`
}

// Response is a JSON-RPC 2.0 response.
type Response struct {
	JSONRPC string      `json:"jsonrpc"`
	Result  interface{} `json:"result,omitempty"`
	Error   *Error      `json:"error,omitempty"`
	ID      interface{} `json:"id"`
}

// Error is a JSON-RPC 2.0 error object.
type Error struct {
	Code    int         `json:"code"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
}

// ── Param types ─────────────────────────────────────────────────────────

// AuthParam carries the signature authorising a mutating call. Public key
// and signature are hex encoded.
type AuthParam struct {
	PubKey    string `json:"pubkey,omitempty"`
	Signature string `json:"signature"`
	Nonce     uint64 `json:"nonce"`
}

// AddressParam is used by token_balanceOf and account_getNonce.
type AddressParam struct {
	Address string `json:"address"`
}

// AllowanceParam is used by token_allowance.
type AllowanceParam struct {
	Owner   string `json:"owner"`
	Spender string `json:"spender"`
}

// PreviewParam is used by nupow_preview.
type PreviewParam struct {
	Caller string `json:"caller"`
	Seed   string `json:"seed"`
}

// ChallengeParam is used by nupow_challenge.
type ChallengeParam struct {
	Seed string    `json:"seed"`
	Tag  string    `json:"tag"`
	Auth AuthParam `json:"auth"`
}

// TransferParam is used by token_transfer.
type TransferParam struct {
	To     string    `json:"to"`
	Amount string    `json:"amount"`
	Auth   AuthParam `json:"auth"`
}

// ApproveParam is used by token_approve.
type ApproveParam struct {
	Spender string    `json:"spender"`
	Amount  string    `json:"amount"`
	Auth    AuthParam `json:"auth"`
}

// AssetParam is used by flash_maxLoan. An empty asset means the token.
type AssetParam struct {
	Asset string `json:"asset,omitempty"`
}

// FlashFeeParam is used by flash_fee.
type FlashFeeParam struct {
	Asset  string `json:"asset,omitempty"`
	Amount string `json:"amount"`
}

// EventsParam is used by events_list.
type EventsParam struct {
	From  uint64 `json:"from"`
	Limit int    `json:"limit,omitempty"`
}

// ── Result types ────────────────────────────────────────────────────────

// RoundResult is returned by nupow_getRound.
type RoundResult struct {
	nupow.Round
	Stalled  bool         `json:"stalled"`
	NextMint *uint256.Int `json:"next_mint"`
}

// OutcomeResult describes one judged attempt.
type OutcomeResult struct {
	Passed    bool                 `json:"passed"`
	Candidate types.Hash           `json:"candidate"`
	Minted    *uint256.Int         `json:"minted"`
	Closed    *nupow.RoundClosed   `json:"closed,omitempty"`
	Progress  *nupow.ChainProgress `json:"progress,omitempty"`
}

// NewOutcomeResult converts an engine outcome for the wire.
func NewOutcomeResult(o nupow.Outcome) *OutcomeResult {
	minted := o.Minted
	if minted == nil {
		minted = new(uint256.Int)
	}
	return &OutcomeResult{
		Passed:    o.Passed,
		Candidate: o.Candidate,
		Minted:    minted,
		Closed:    o.Closed,
		Progress:  o.Progress,
	}
}

// ChallengeResult is returned by nupow_challenge.
type ChallengeResult struct {
	Caller types.Address `json:"caller"`
	OutcomeResult
}

// MutationResult is returned by token_transfer and token_approve.
type MutationResult struct {
	Signer types.Address `json:"signer"`
	// Nonce is the signer's next nonce.
	Nonce uint64 `json:"nonce"`
}

// BalanceResult is returned by token_balanceOf.
type BalanceResult struct {
	Address types.Address `json:"address"`
	Balance *uint256.Int  `json:"balance"`
}

// AllowanceResult is returned by token_allowance.
type AllowanceResult struct {
	Owner     types.Address `json:"owner"`
	Spender   types.Address `json:"spender"`
	Allowance *uint256.Int  `json:"allowance"`
}

// NonceResult is returned by account_getNonce.
type NonceResult struct {
	Address types.Address `json:"address"`
	Nonce   uint64        `json:"nonce"`
}

// AmountResult is returned by flash_maxLoan and flash_fee.
type AmountResult struct {
	Asset  types.Address `json:"asset"`
	Amount *uint256.Int  `json:"amount"`
}

// EventsResult is returned by events_list.
type EventsResult struct {
	Total   uint64           `json:"total"`
	Records []crystal.Record `json:"records"`
}

// PeerInfo describes a connected peer.
type PeerInfo struct {
	ID          string `json:"id"`
	ConnectedAt string `json:"connected_at"`
	Source      string `json:"source"`
	Records     uint64 `json:"records"`
}

// PeerInfoResult is returned by net_getPeerInfo.
type PeerInfoResult struct {
	Count int        `json:"count"`
	Peers []PeerInfo `json:"peers"`
}

// NodeInfoResult is returned by net_getNodeInfo.
type NodeInfoResult struct {
	ID    string   `json:"id"`
	Addrs []string `json:"addrs"`
	Topic string   `json:"topic,omitempty"`
}

// BanEntry describes a single banned peer.
type BanEntry struct {
	ID        string `json:"id"`
	Reason    string `json:"reason"`
	Score     int    `json:"score"`
	BannedAt  int64  `json:"banned_at"`
	ExpiresAt int64  `json:"expires_at"`
}

// BanListResult is returned by net_getBanList.
type BanListResult struct {
	Count int        `json:"count"`
	Bans  []BanEntry `json:"bans"`
}
