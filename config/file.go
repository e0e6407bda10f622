package config

import (
	"bufio"
	"fmt"
	"os"
	"reflect"
	"strconv"
	"strings"
)

// LoadFile loads node configuration from a .conf file.
// Format: key = value (one per line, # for comments)
func LoadFile(path string) (map[string]string, error) {
	file, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return make(map[string]string), nil
		}
		return nil, err
	}
	defer file.Close()

	values := make(map[string]string)
	scanner := bufio.NewScanner(file)
	lineNum := 0

	for scanner.Scan() {
		lineNum++
		line := strings.TrimSpace(scanner.Text())

		// Skip empty lines and comments
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		parts := strings.SplitN(line, "=", 2)
		if len(parts) != 2 {
			return nil, fmt.Errorf("line %d: invalid format (expected key = value)", lineNum)
		}

		key := strings.TrimSpace(parts[0])
		value := strings.TrimSpace(parts[1])

		// Remove quotes if present
		if len(value) >= 2 {
			if (value[0] == '"' && value[len(value)-1] == '"') ||
				(value[0] == '\'' && value[len(value)-1] == '\'') {
				value = value[1 : len(value)-1]
			}
		}

		values[key] = value
	}

	return values, scanner.Err()
}

// ApplyFileConfig applies file configuration to a Config struct.
func ApplyFileConfig(cfg *Config, values map[string]string) error {
	for key, value := range values {
		if err := setConfigValue(cfg, key, value); err != nil {
			return fmt.Errorf("config key %q: %w", key, err)
		}
	}
	return nil
}

// keyAliases maps shorthand keys to their conf tag.
var keyAliases = map[string]string{
	"p2p": "p2p.enabled",
	"rpc": "rpc.enabled",
}

// setConfigValue sets the Config field whose conf tag is key. Unknown keys
// are ignored. Deployment parameters have no tag and are never read here.
func setConfigValue(cfg *Config, key, value string) error {
	if alias, ok := keyAliases[key]; ok {
		key = alias
	}
	field, ok := confField(reflect.ValueOf(cfg).Elem(), key)
	if !ok {
		return nil
	}

	switch field.Kind() {
	case reflect.String:
		field.SetString(value)
	case reflect.Bool:
		field.SetBool(parseBool(value))
	case reflect.Int:
		n, err := strconv.Atoi(value)
		if err != nil {
			return err
		}
		field.SetInt(int64(n))
	case reflect.Float64:
		f, err := strconv.ParseFloat(value, 64)
		if err != nil {
			return err
		}
		field.SetFloat(f)
	case reflect.Slice:
		field.Set(reflect.ValueOf(parseStringList(value)))
	default:
		return fmt.Errorf("unsupported field kind %s", field.Kind())
	}
	return nil
}

// confField finds the settable field tagged conf:"key", descending into
// nested structs.
func confField(v reflect.Value, key string) (reflect.Value, bool) {
	t := v.Type()
	for i := 0; i < t.NumField(); i++ {
		f := v.Field(i)
		if tag := t.Field(i).Tag.Get("conf"); tag == key {
			return f, true
		}
		if f.Kind() == reflect.Struct {
			if found, ok := confField(f, key); ok {
				return found, true
			}
		}
	}
	return reflect.Value{}, false
}

// parseBool parses a boolean value.
func parseBool(s string) bool {
	s = strings.ToLower(s)
	return s == "true" || s == "1" || s == "yes" || s == "on"
}

// parseStringList parses a comma-separated list.
func parseStringList(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	result := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			result = append(result, p)
		}
	}
	return result
}

// WriteDefaultConfig writes a default node configuration file.
func WriteDefaultConfig(path string, network NetworkType) error {
	content := `# Crystal Node Configuration
#
# This file contains NODE settings only.
# Token parameters (chain length target, stalled duration, mint limits,
# cap, reserve) come from the deployment and never change after launch.

# Network: mainnet (NuPoW Quartz) or testnet
network = ` + string(network) + `

# Data directory (default: ~/.crystal)
# datadir = ~/.crystal

# Deployment file overriding the built-in one (JSON)
# deployment = /path/to/deployment.json

# ============================================================================
# P2P Record Gossip
# ============================================================================

p2p.enabled = false
p2p.listen = 0.0.0.0
p2p.port = ` + defaultPort(network) + `
p2p.maxpeers = 50

# Seed nodes (comma-separated libp2p multiaddrs)
# p2p.seeds = /ip4/203.0.113.1/tcp/30373/p2p/12D3KooW...

# Disable peer discovery (for private networks)
# p2p.nodiscover = false

# Run DHT in server mode (for seed nodes)
# p2p.dhtserver = false

# ============================================================================
# RPC Server
# ============================================================================

rpc.enabled = true
rpc.addr = 127.0.0.1
rpc.port = ` + defaultRPCPort(network) + `
rpc.allowed = 127.0.0.1
# CORS allowed origins ("*" for all)
# rpc.cors = http://localhost:3000

# Mutating calls per second per client IP (0 = unlimited)
rpc.ratelimit = 5
rpc.burst = 10

# ============================================================================
# Logging
# ============================================================================

log.level = info
# log.file =
log.json = false
`
	return os.WriteFile(path, []byte(content), 0644)
}

func defaultPort(network NetworkType) string {
	if network == Testnet {
		return "30374"
	}
	return "30373"
}

func defaultRPCPort(network NetworkType) string {
	if network == Testnet {
		return "8675"
	}
	return "8575"
}
