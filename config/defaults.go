package config

// DefaultMainnet returns the default node configuration for mainnet.
func DefaultMainnet() *Config {
	return &Config{
		Network: Mainnet,
		DataDir: DefaultDataDir(),
		P2P: P2PConfig{
			Enabled:    false,
			ListenAddr: "0.0.0.0",
			Port:       30373,
			MaxPeers:   50,
			// Seeds are libp2p multiaddrs, e.g.:
			//   "/ip4/203.0.113.1/tcp/30373/p2p/12D3KooW..."
			Seeds: []string{},
		},
		RPC: RPCConfig{
			Enabled:    true,
			Addr:       "127.0.0.1",
			Port:       8575,
			AllowedIPs: []string{"127.0.0.1"},
			RateLimit:  5,
			RateBurst:  10,
		},
		Log: LogConfig{
			Level: "info",
			JSON:  false,
		},
	}
}

// DefaultTestnet returns the default node configuration for testnet.
func DefaultTestnet() *Config {
	cfg := DefaultMainnet()
	cfg.Network = Testnet
	cfg.P2P.Port = 30374
	cfg.RPC.Port = 8675
	return cfg
}

// Default returns the default node configuration for the given network.
func Default(network NetworkType) *Config {
	switch network {
	case Testnet:
		return DefaultTestnet()
	default:
		return DefaultMainnet()
	}
}
