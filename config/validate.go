package config

import (
	"fmt"
	"net"

	klog "github.com/Klingon-tech/crystal/internal/log"
)

// Validate checks runtime node config for obvious operator mistakes.
func Validate(cfg *Config) error {
	if cfg == nil {
		return fmt.Errorf("config is nil")
	}
	if cfg.Network != Mainnet && cfg.Network != Testnet {
		return fmt.Errorf("network must be %q or %q", Mainnet, Testnet)
	}
	if cfg.P2P.Port < 0 || cfg.P2P.Port > 65535 {
		return fmt.Errorf("p2p.port must be in range [0, 65535]")
	}
	if cfg.P2P.MaxPeers < 0 {
		return fmt.Errorf("p2p.maxpeers must not be negative")
	}
	if cfg.RPC.Port < 0 || cfg.RPC.Port > 65535 {
		return fmt.Errorf("rpc.port must be in range [0, 65535]")
	}
	for i, ip := range cfg.RPC.AllowedIPs {
		if net.ParseIP(ip) == nil {
			return fmt.Errorf("rpc.allowed[%d] %q is not an IP address", i, ip)
		}
	}
	if cfg.RPC.RateLimit < 0 {
		return fmt.Errorf("rpc.ratelimit must not be negative")
	}
	if cfg.RPC.RateLimit > 0 && cfg.RPC.RateBurst < 1 {
		return fmt.Errorf("rpc.burst must be at least 1 when rpc.ratelimit is set")
	}
	if cfg.Log.Level != "" && !klog.ValidLevel(cfg.Log.Level) {
		return fmt.Errorf("log.level %q is not one of trace, debug, info, warn, error", cfg.Log.Level)
	}
	return nil
}
