// Package rpc implements the JSON-RPC 2.0 API server.
package rpc

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	"github.com/Klingon-tech/crystal/config"
	"github.com/Klingon-tech/crystal/internal/crystal"
	klog "github.com/Klingon-tech/crystal/internal/log"
	"github.com/Klingon-tech/crystal/internal/p2p"
	"github.com/rs/zerolog"
)

// maxBodySize is the maximum allowed request body size (1 MB).
const maxBodySize = 1 << 20

// mutating lists the methods that change token state. They are subject to
// the per-IP rate limit.
var mutating = map[string]bool{
	"nupow_challenge": true,
	"token_transfer":  true,
	"token_approve":   true,
}

// Server is the JSON-RPC 2.0 HTTP server.
type Server struct {
	addr        string
	crystal     *crystal.Crystal
	p2pNode     *p2p.Node       // nil when P2P is disabled.
	banManager  *p2p.BanManager // For net_getBanList (nil = disabled).
	server      *http.Server
	logger      zerolog.Logger
	ln          net.Listener
	allowedNets []*net.IPNet // Empty = allow all.
	corsOrigins []string     // Empty = no CORS headers.
	limiter     *ipLimiter   // nil = unlimited.
}

// New creates a new RPC server. A zero-value RPCConfig allows all IPs,
// disables CORS and does not rate limit.
func New(addr string, c *crystal.Crystal, p2pNode *p2p.Node, rpcCfg config.RPCConfig) *Server {
	s := &Server{
		addr:        addr,
		crystal:     c,
		p2pNode:     p2pNode,
		logger:      klog.WithComponent("rpc"),
		allowedNets: parseAllowedIPs(rpcCfg.AllowedIPs),
		corsOrigins: rpcCfg.CORSOrigins,
		limiter:     newIPLimiter(rpcCfg.RateLimit, rpcCfg.RateBurst),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/", s.handleRequest)

	s.server = &http.Server{
		Handler:      mux,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
	}

	return s
}

// parseAllowedIPs converts string IP/CIDR entries into net.IPNet.
func parseAllowedIPs(entries []string) []*net.IPNet {
	var nets []*net.IPNet
	for _, entry := range entries {
		_, ipNet, err := net.ParseCIDR(entry)
		if err == nil {
			nets = append(nets, ipNet)
			continue
		}
		// Try as a single IP (add /32 or /128).
		ip := net.ParseIP(entry)
		if ip == nil {
			continue
		}
		bits := 32
		if ip.To4() == nil {
			bits = 128
		}
		nets = append(nets, &net.IPNet{IP: ip, Mask: net.CIDRMask(bits, bits)})
	}
	return nets
}

// Start begins listening and serving in a background goroutine.
// It returns immediately after the listener is bound.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("rpc listen: %w", err)
	}
	s.ln = ln

	go func() {
		if err := s.server.Serve(ln); err != nil && err != http.ErrServerClosed {
			s.logger.Error().Err(err).Msg("RPC server error")
		}
	}()

	return nil
}

// Addr returns the listener address (useful when bound to :0).
func (s *Server) Addr() string {
	if s.ln != nil {
		return s.ln.Addr().String()
	}
	return s.addr
}

// Stop gracefully shuts down the server.
func (s *Server) Stop() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.server.Shutdown(ctx)
}

// SetBanManager sets the ban manager for net_getBanList.
func (s *Server) SetBanManager(bm *p2p.BanManager) {
	s.banManager = bm
}

// handleRequest is the main HTTP handler for JSON-RPC requests.
func (s *Server) handleRequest(w http.ResponseWriter, r *http.Request) {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		host = r.RemoteAddr
	}

	// IP filtering.
	if len(s.allowedNets) > 0 {
		ip := net.ParseIP(host)
		if ip == nil || !s.isIPAllowed(ip) {
			http.Error(w, "forbidden", http.StatusForbidden)
			return
		}
	}

	// CORS headers.
	s.setCORSHeaders(w, r)

	// Handle CORS preflight.
	if r.Method == http.MethodOptions {
		w.WriteHeader(http.StatusNoContent)
		return
	}

	if r.Method != http.MethodPost {
		writeError(w, nil, CodeInvalidRequest, "only POST method is allowed")
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodySize+1))
	if err != nil {
		writeError(w, nil, CodeParseError, "failed to read request body")
		return
	}
	if len(body) > maxBodySize {
		writeError(w, nil, CodeInvalidRequest, "request body too large")
		return
	}

	var req Request
	if err := json.Unmarshal(body, &req); err != nil {
		writeError(w, nil, CodeParseError, "invalid JSON")
		return
	}

	if req.JSONRPC != "2.0" {
		writeError(w, req.ID, CodeInvalidRequest, "jsonrpc must be \"2.0\"")
		return
	}

	if mutating[req.Method] && !s.limiter.Allow(host) {
		s.logger.Debug().Str("client", host).Str("method", req.Method).Msg("Rate limited")
		writeError(w, req.ID, CodeRateLimited, "rate limit exceeded")
		return
	}

	result, rpcErr := s.dispatch(&req)
	if rpcErr != nil {
		writeJSON(w, Response{
			JSONRPC: "2.0",
			Error:   rpcErr,
			ID:      req.ID,
		})
		return
	}

	writeJSON(w, Response{
		JSONRPC: "2.0",
		Result:  result,
		ID:      req.ID,
	})
}

// dispatch routes a request to the appropriate handler.
func (s *Server) dispatch(req *Request) (interface{}, *Error) {
	switch req.Method {
	case "crystal_getInfo":
		return s.handleCrystalGetInfo(req)
	case "nupow_getRound":
		return s.handleNuPoWGetRound(req)
	case "nupow_preview":
		return s.handleNuPoWPreview(req)
	case "nupow_challenge":
		return s.handleNuPoWChallenge(req)
	case "token_balanceOf":
		return s.handleTokenBalanceOf(req)
	case "token_allowance":
		return s.handleTokenAllowance(req)
	case "token_transfer":
		return s.handleTokenTransfer(req)
	case "token_approve":
		return s.handleTokenApprove(req)
	case "flash_maxLoan":
		return s.handleFlashMaxLoan(req)
	case "flash_fee":
		return s.handleFlashFee(req)
	case "account_getNonce":
		return s.handleAccountGetNonce(req)
	case "events_list":
		return s.handleEventsList(req)
	case "net_getPeerInfo":
		return s.handleNetGetPeerInfo(req)
	case "net_getNodeInfo":
		return s.handleNetGetNodeInfo(req)
	case "net_getBanList":
		return s.handleNetGetBanList(req)
	default:
		return nil, &Error{Code: CodeMethodNotFound, Message: fmt.Sprintf("method %q not found", req.Method)}
	}
}

// writeJSON writes a JSON-RPC response.
func writeJSON(w http.ResponseWriter, resp Response) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(resp)
}

// writeError writes a JSON-RPC error response.
func writeError(w http.ResponseWriter, id interface{}, code int, message string) {
	writeJSON(w, Response{
		JSONRPC: "2.0",
		Error:   &Error{Code: code, Message: message},
		ID:      id,
	})
}

// isIPAllowed checks if the IP is in the allowed networks list.
func (s *Server) isIPAllowed(ip net.IP) bool {
	for _, n := range s.allowedNets {
		if n.Contains(ip) {
			return true
		}
	}
	return false
}

// setCORSHeaders adds CORS headers based on the configured origins.
func (s *Server) setCORSHeaders(w http.ResponseWriter, r *http.Request) {
	if len(s.corsOrigins) == 0 {
		return
	}

	origin := r.Header.Get("Origin")
	if origin == "" {
		return
	}

	allowed := false
	for _, o := range s.corsOrigins {
		if o == "*" {
			w.Header().Set("Access-Control-Allow-Origin", "*")
			allowed = true
			break
		}
		if o == origin {
			w.Header().Set("Access-Control-Allow-Origin", origin)
			allowed = true
			break
		}
	}

	if allowed {
		w.Header().Set("Access-Control-Allow-Methods", "POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
	}
}

// parseParams unmarshals the request params into the given target.
func parseParams(req *Request, target interface{}) *Error {
	if req.Params == nil {
		return &Error{Code: CodeInvalidParams, Message: "params required"}
	}

	data, err := json.Marshal(req.Params)
	if err != nil {
		return &Error{Code: CodeInvalidParams, Message: "invalid params"}
	}

	if err := json.Unmarshal(data, target); err != nil {
		return &Error{Code: CodeInvalidParams, Message: fmt.Sprintf("invalid params: %v", err)}
	}
	return nil
}

// parseOptionalParams is parseParams for methods whose params may be omitted.
func parseOptionalParams(req *Request, target interface{}) *Error {
	if req.Params == nil {
		return nil
	}
	return parseParams(req, target)
}
