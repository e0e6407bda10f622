package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "crystal.conf")
	content := `# comment
network = testnet
rpc.port = 9000
rpc.allowed = 127.0.0.1, 10.0.0.1
rpc.ratelimit = 2.5
log.level = "debug"
p2p.seeds = '/ip4/1.2.3.4/tcp/1'
`
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}

	values, err := LoadFile(path)
	if err != nil {
		t.Fatalf("LoadFile: %v", err)
	}
	cfg := DefaultMainnet()
	if err := ApplyFileConfig(cfg, values); err != nil {
		t.Fatalf("ApplyFileConfig: %v", err)
	}

	if cfg.Network != Testnet || cfg.RPC.Port != 9000 || cfg.RPC.RateLimit != 2.5 {
		t.Errorf("network=%s port=%d rate=%v", cfg.Network, cfg.RPC.Port, cfg.RPC.RateLimit)
	}
	if len(cfg.RPC.AllowedIPs) != 2 || cfg.RPC.AllowedIPs[1] != "10.0.0.1" {
		t.Errorf("allowed = %v", cfg.RPC.AllowedIPs)
	}
	if cfg.Log.Level != "debug" {
		t.Errorf("quotes not stripped: %q", cfg.Log.Level)
	}
	if len(cfg.P2P.Seeds) != 1 || cfg.P2P.Seeds[0] != "/ip4/1.2.3.4/tcp/1" {
		t.Errorf("seeds = %v", cfg.P2P.Seeds)
	}
}

func TestLoadFile_Missing(t *testing.T) {
	values, err := LoadFile(filepath.Join(t.TempDir(), "absent.conf"))
	if err != nil || len(values) != 0 {
		t.Errorf("missing file: values=%v err=%v", values, err)
	}
}

func TestLoadFile_Malformed(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.conf")
	os.WriteFile(path, []byte("no equals sign\n"), 0644)
	if _, err := LoadFile(path); err == nil {
		t.Error("expected error for malformed line")
	}
}

func TestApplyFileConfig_BadNumber(t *testing.T) {
	cfg := DefaultMainnet()
	if err := ApplyFileConfig(cfg, map[string]string{"rpc.port": "many"}); err == nil {
		t.Error("expected error for non-numeric port")
	}
}

func TestApplyFileConfig_KeysAndAliases(t *testing.T) {
	cfg := DefaultTestnet()
	err := ApplyFileConfig(cfg, map[string]string{
		"p2p":            "yes",
		"rpc":            "off",
		"p2p.dhtserver":  "1",
		"p2p.maxpeers":   "7",
		"rpc.cors":       "*",
		"deployment":     "/tmp/d.json",
		"no.such.option": "ignored",
	})
	if err != nil {
		t.Fatalf("ApplyFileConfig: %v", err)
	}
	if !cfg.P2P.Enabled || cfg.RPC.Enabled || !cfg.P2P.DHTServer || cfg.P2P.MaxPeers != 7 {
		t.Errorf("p2p=%+v rpc.enabled=%v", cfg.P2P, cfg.RPC.Enabled)
	}
	if len(cfg.RPC.CORSOrigins) != 1 || cfg.DeploymentFile != "/tmp/d.json" {
		t.Errorf("cors=%v deployment=%q", cfg.RPC.CORSOrigins, cfg.DeploymentFile)
	}
}

func TestApplyFileConfig_BadFloat(t *testing.T) {
	cfg := DefaultMainnet()
	if err := ApplyFileConfig(cfg, map[string]string{"rpc.ratelimit": "fast"}); err == nil {
		t.Error("expected error for non-numeric rate limit")
	}
}

func TestParseFlags_Overrides(t *testing.T) {
	f, err := parseFlags([]string{"--testnet", "--rpc-port", "7000", "--rpc=false", "--p2p", "--rpc-ratelimit", "0", "--log-json"})
	if err != nil {
		t.Fatalf("parseFlags: %v", err)
	}
	cfg := DefaultMainnet()
	ApplyFlags(cfg, f)

	if cfg.Network != Testnet {
		t.Errorf("network = %s", cfg.Network)
	}
	if cfg.RPC.Port != 7000 || cfg.RPC.Enabled {
		t.Errorf("rpc port=%d enabled=%v", cfg.RPC.Port, cfg.RPC.Enabled)
	}
	if !cfg.P2P.Enabled || !cfg.Log.JSON {
		t.Error("bool flags not applied")
	}
	if cfg.RPC.RateLimit != 0 {
		t.Errorf("explicit zero rate limit not applied: %v", cfg.RPC.RateLimit)
	}
}

func TestParseFlags_UnsetKeepsConfig(t *testing.T) {
	f, err := parseFlags(nil)
	if err != nil {
		t.Fatalf("parseFlags: %v", err)
	}
	cfg := DefaultTestnet()
	cfg.RPC.Enabled = false
	ApplyFlags(cfg, f)
	if cfg.RPC.Enabled {
		t.Error("default flag value overrode file config")
	}
	if cfg.RPC.RateLimit != 5 {
		t.Errorf("rate limit = %v", cfg.RPC.RateLimit)
	}
}

func TestParseFlags_StrayPositional(t *testing.T) {
	if _, err := parseFlags([]string{"--p2p", "yes", "--rpc-port", "1"}); err == nil {
		t.Error("expected error when a positional argument stops parsing")
	}
}

func TestBuild_Precedence(t *testing.T) {
	dir := t.TempDir()
	f, err := parseFlags([]string{"--datadir", dir, "--testnet", "--rpc-port", "7001"})
	if err != nil {
		t.Fatalf("parseFlags: %v", err)
	}

	// First start writes the default config file.
	cfg, err := build(f)
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	if _, err := os.Stat(cfg.ConfigFile()); err != nil {
		t.Fatalf("default config not written: %v", err)
	}
	if _, err := os.Stat(cfg.StateDir()); err != nil {
		t.Fatalf("state dir not created: %v", err)
	}

	// File values beat defaults, flags beat the file.
	os.WriteFile(cfg.ConfigFile(), []byte("rpc.port = 6000\nrpc.burst = 3\nnetwork = testnet\n"), 0644)
	cfg, err = build(f)
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	if cfg.RPC.Port != 7001 || cfg.RPC.RateBurst != 3 {
		t.Errorf("port=%d burst=%d", cfg.RPC.Port, cfg.RPC.RateBurst)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(c *Config)
		ok     bool
	}{
		{"defaults", func(c *Config) {}, true},
		{"bad network", func(c *Config) { c.Network = "devnet" }, false},
		{"bad p2p port", func(c *Config) { c.P2P.Port = 70000 }, false},
		{"bad rpc port", func(c *Config) { c.RPC.Port = -1 }, false},
		{"bad allowed ip", func(c *Config) { c.RPC.AllowedIPs = []string{"localhost"} }, false},
		{"negative rate", func(c *Config) { c.RPC.RateLimit = -1 }, false},
		{"rate without burst", func(c *Config) { c.RPC.RateBurst = 0 }, false},
		{"unlimited without burst", func(c *Config) { c.RPC.RateLimit, c.RPC.RateBurst = 0, 0 }, true},
		{"bad log level", func(c *Config) { c.Log.Level = "loud" }, false},
		{"trace level", func(c *Config) { c.Log.Level = "trace" }, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultMainnet()
			tt.mutate(cfg)
			err := Validate(cfg)
			if (err == nil) != tt.ok {
				t.Errorf("Validate() = %v, want ok=%v", err, tt.ok)
			}
		})
	}

	if Validate(nil) == nil {
		t.Error("nil config should be rejected")
	}
}

func TestWriteDefaultConfig_RoundTrip(t *testing.T) {
	for _, network := range []NetworkType{Mainnet, Testnet} {
		path := filepath.Join(t.TempDir(), "crystal.conf")
		if err := WriteDefaultConfig(path, network); err != nil {
			t.Fatalf("WriteDefaultConfig: %v", err)
		}
		values, err := LoadFile(path)
		if err != nil {
			t.Fatalf("LoadFile: %v", err)
		}
		cfg := &Config{}
		if err := ApplyFileConfig(cfg, values); err != nil {
			t.Fatalf("ApplyFileConfig: %v", err)
		}

		want := Default(network)
		if cfg.Network != network || cfg.P2P.Port != want.P2P.Port || cfg.RPC.Port != want.RPC.Port {
			t.Errorf("%s: network=%s p2p=%d rpc=%d", network, cfg.Network, cfg.P2P.Port, cfg.RPC.Port)
		}
		if cfg.RPC.RateLimit != want.RPC.RateLimit || cfg.RPC.RateBurst != want.RPC.RateBurst {
			t.Errorf("%s: rate=%v burst=%d", network, cfg.RPC.RateLimit, cfg.RPC.RateBurst)
		}
	}
}
