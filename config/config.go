// Package config handles application configuration.
//
// Configuration is split into two categories:
//   - Deployment: the token's immutable parameters, identical on every node
//   - Node settings: runtime configuration, can vary per node
package config

import (
	"os"
	"path/filepath"
	"runtime"
)

// NetworkType selects the built-in deployment.
type NetworkType string

const (
	Mainnet NetworkType = "mainnet"
	Testnet NetworkType = "testnet"
)

// =============================================================================
// Node Configuration (runtime, per-node settings)
// =============================================================================

// Config holds node-specific runtime configuration.
// These settings can vary between nodes without changing the token.
type Config struct {
	// Core
	Network NetworkType `conf:"network"`
	DataDir string      `conf:"datadir"`

	// DeploymentFile overrides the built-in deployment for Network.
	DeploymentFile string `conf:"deployment"`

	// P2P networking
	P2P P2PConfig

	// RPC server
	RPC RPCConfig

	// Logging
	Log LogConfig
}

// P2PConfig holds peer-to-peer network settings.
type P2PConfig struct {
	Enabled    bool     `conf:"p2p.enabled"`
	ListenAddr string   `conf:"p2p.listen"`
	Port       int      `conf:"p2p.port"`
	Seeds      []string `conf:"p2p.seeds"`
	MaxPeers   int      `conf:"p2p.maxpeers"`
	NoDiscover bool     `conf:"p2p.nodiscover"`
	DHTServer  bool     `conf:"p2p.dhtserver"` // Run DHT in server mode (for seeds)
}

// RPCConfig holds RPC server settings.
type RPCConfig struct {
	Enabled     bool     `conf:"rpc.enabled"`
	Addr        string   `conf:"rpc.addr"`
	Port        int      `conf:"rpc.port"`
	AllowedIPs  []string `conf:"rpc.allowed"`
	CORSOrigins []string `conf:"rpc.cors"` // Allowed CORS origins ("*" = all).

	// Mutating calls per second per client IP; 0 disables the limit.
	RateLimit float64 `conf:"rpc.ratelimit"`
	RateBurst int     `conf:"rpc.burst"`
}

// LogConfig holds logging settings.
type LogConfig struct {
	Level string `conf:"log.level"`
	File  string `conf:"log.file"`
	JSON  bool   `conf:"log.json"`
}

// =============================================================================
// Directory helpers
// =============================================================================

// DefaultDataDir returns the platform-specific default data directory.
//
//	Linux:   ~/.crystal
//	macOS:   ~/Library/Application Support/Crystal
//	Windows: %APPDATA%\Crystal
func DefaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".crystal"
	}
	switch runtime.GOOS {
	case "darwin":
		return filepath.Join(home, "Library", "Application Support", "Crystal")
	case "windows":
		appData := os.Getenv("APPDATA")
		if appData != "" {
			return filepath.Join(appData, "Crystal")
		}
		return filepath.Join(home, "AppData", "Roaming", "Crystal")
	default:
		return filepath.Join(home, ".crystal")
	}
}

// NetworkDataDir returns the network-specific data directory.
func (c *Config) NetworkDataDir() string {
	return filepath.Join(c.DataDir, string(c.Network))
}

// StateDir returns the token state database directory.
func (c *Config) StateDir() string {
	return filepath.Join(c.NetworkDataDir(), "state")
}

// KeystoreDir returns the keystore directory.
func (c *Config) KeystoreDir() string {
	return filepath.Join(c.NetworkDataDir(), "keystore")
}

// LogsDir returns the logs directory.
func (c *Config) LogsDir() string {
	return filepath.Join(c.DataDir, "logs")
}

// ConfigFile returns the config file path.
func (c *Config) ConfigFile() string {
	return filepath.Join(c.DataDir, "crystal.conf")
}
