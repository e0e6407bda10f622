// Package rpcclient provides a JSON-RPC 2.0 client for crystald nodes.
package rpcclient

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/Klingon-tech/crystal/internal/crystal"
	"github.com/Klingon-tech/crystal/internal/rpc"
	"github.com/Klingon-tech/crystal/pkg/crypto"
	"github.com/Klingon-tech/crystal/pkg/types"
	"github.com/holiman/uint256"
)

// Client is a JSON-RPC 2.0 HTTP client.
type Client struct {
	endpoint string
	http     *http.Client
}

// New creates a new RPC client targeting the given endpoint URL.
func New(endpoint string) *Client {
	return NewWithTimeout(endpoint, 10*time.Second)
}

// NewWithTimeout creates a new RPC client with a custom HTTP timeout.
func NewWithTimeout(endpoint string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Client{
		endpoint: endpoint,
		http: &http.Client{
			Timeout: timeout,
		},
	}
}

// request is a JSON-RPC 2.0 request.
type request struct {
	JSONRPC string      `json:"jsonrpc"`
	Method  string      `json:"method"`
	Params  interface{} `json:"params,omitempty"`
	ID      int         `json:"id"`
}

// response is a JSON-RPC 2.0 response.
type response struct {
	JSONRPC string          `json:"jsonrpc"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *rpcError       `json:"error,omitempty"`
	ID      int             `json:"id"`
}

// rpcError is a JSON-RPC 2.0 error.
type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// RPCError is returned when the server responds with an error.
type RPCError struct {
	Code    int
	Message string
}

func (e *RPCError) Error() string {
	return fmt.Sprintf("rpc error %d: %s", e.Code, e.Message)
}

// Call invokes a JSON-RPC method and unmarshals the result into the provided pointer.
// If result is nil, the response result is discarded.
func (c *Client) Call(method string, params, result interface{}) error {
	req := request{
		JSONRPC: "2.0",
		Method:  method,
		Params:  params,
		ID:      1,
	}

	body, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}

	resp, err := c.http.Post(c.endpoint, "application/json", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	var rpcResp response
	if err := json.Unmarshal(data, &rpcResp); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}

	if rpcResp.Error != nil {
		return &RPCError{
			Code:    rpcResp.Error.Code,
			Message: rpcResp.Error.Message,
		}
	}

	if result != nil && rpcResp.Result != nil {
		if err := json.Unmarshal(rpcResp.Result, result); err != nil {
			return fmt.Errorf("decode result: %w", err)
		}
	}

	return nil
}

// Info calls crystal_getInfo.
func (c *Client) Info() (*crystal.Info, error) {
	var info crystal.Info
	if err := c.Call("crystal_getInfo", nil, &info); err != nil {
		return nil, err
	}
	return &info, nil
}

// Round calls nupow_getRound.
func (c *Client) Round() (*rpc.RoundResult, error) {
	var r rpc.RoundResult
	if err := c.Call("nupow_getRound", nil, &r); err != nil {
		return nil, err
	}
	return &r, nil
}

// Nonce returns the next signed-call nonce of addr.
func (c *Client) Nonce(addr types.Address) (uint64, error) {
	var r rpc.NonceResult
	if err := c.Call("account_getNonce", rpc.AddressParam{Address: addr.String()}, &r); err != nil {
		return 0, err
	}
	return r.Nonce, nil
}

// BalanceOf calls token_balanceOf.
func (c *Client) BalanceOf(addr types.Address) (*uint256.Int, error) {
	var r rpc.BalanceResult
	if err := c.Call("token_balanceOf", rpc.AddressParam{Address: addr.String()}, &r); err != nil {
		return nil, err
	}
	return r.Balance, nil
}

// Preview calls nupow_preview.
func (c *Client) Preview(caller types.Address, seed *uint256.Int) (*rpc.OutcomeResult, error) {
	var r rpc.OutcomeResult
	if err := c.Call("nupow_preview", rpc.PreviewParam{Caller: caller.String(), Seed: seed.Dec()}, &r); err != nil {
		return nil, err
	}
	return &r, nil
}

// Challenge signs and submits a challenge with signer's current nonce.
func (c *Client) Challenge(signer crypto.Signer, token types.Address, seed *uint256.Int, tag string) (*rpc.ChallengeResult, error) {
	addr, err := crypto.AddressFromPubKey(signer.PublicKey())
	if err != nil {
		return nil, err
	}
	nonce, err := c.Nonce(addr)
	if err != nil {
		return nil, fmt.Errorf("get nonce: %w", err)
	}
	auth, err := crystal.Sign(signer, nonce, crystal.ChallengeDigest(token, nonce, seed, tag))
	if err != nil {
		return nil, fmt.Errorf("sign challenge: %w", err)
	}
	var r rpc.ChallengeResult
	params := rpc.ChallengeParam{Seed: seed.Dec(), Tag: tag, Auth: rpc.EncodeAuth(auth)}
	if err := c.Call("nupow_challenge", params, &r); err != nil {
		return nil, err
	}
	return &r, nil
}

// Transfer signs and submits a transfer with signer's current nonce.
func (c *Client) Transfer(signer crypto.Signer, token, to types.Address, amount *uint256.Int) (*rpc.MutationResult, error) {
	return c.signedMutation(signer, "token_transfer", func(nonce uint64) types.Hash {
		return crystal.TransferDigest(token, nonce, to, amount)
	}, func(a rpc.AuthParam) interface{} {
		return rpc.TransferParam{To: to.String(), Amount: amount.Dec(), Auth: a}
	})
}

// Approve signs and submits an approval with signer's current nonce.
func (c *Client) Approve(signer crypto.Signer, token, spender types.Address, amount *uint256.Int) (*rpc.MutationResult, error) {
	return c.signedMutation(signer, "token_approve", func(nonce uint64) types.Hash {
		return crystal.ApproveDigest(token, nonce, spender, amount)
	}, func(a rpc.AuthParam) interface{} {
		return rpc.ApproveParam{Spender: spender.String(), Amount: amount.Dec(), Auth: a}
	})
}

func (c *Client) signedMutation(signer crypto.Signer, method string,
	digest func(nonce uint64) types.Hash, params func(rpc.AuthParam) interface{}) (*rpc.MutationResult, error) {
	addr, err := crypto.AddressFromPubKey(signer.PublicKey())
	if err != nil {
		return nil, err
	}
	nonce, err := c.Nonce(addr)
	if err != nil {
		return nil, fmt.Errorf("get nonce: %w", err)
	}
	auth, err := crystal.Sign(signer, nonce, digest(nonce))
	if err != nil {
		return nil, fmt.Errorf("sign %s: %w", method, err)
	}
	var r rpc.MutationResult
	if err := c.Call(method, params(rpc.EncodeAuth(auth)), &r); err != nil {
		return nil, err
	}
	return &r, nil
}

// FlashFee calls flash_fee for the token.
func (c *Client) FlashFee(amount *uint256.Int) (*uint256.Int, error) {
	var r rpc.AmountResult
	if err := c.Call("flash_fee", rpc.FlashFeeParam{Amount: amount.Dec()}, &r); err != nil {
		return nil, err
	}
	return r.Amount, nil
}

// Events calls events_list.
func (c *Client) Events(from uint64, limit int) (*rpc.EventsResult, error) {
	var r rpc.EventsResult
	if err := c.Call("events_list", rpc.EventsParam{From: from, Limit: limit}, &r); err != nil {
		return nil, err
	}
	return &r, nil
}
