package config

import (
	"errors"
	"flag"
	"fmt"
	"os"
	"strings"
)

// Version is the daemon version string.
const Version = "0.1.0"

// Flags holds parsed command-line flags.
type Flags struct {
	// Commands
	Help    bool
	Version bool

	// Core
	Network    string
	DataDir    string
	Config     string
	Deployment string

	// P2P
	P2P        bool
	P2PPort    int
	Seeds      string
	MaxPeers   int
	NoDiscover bool
	DHTServer  bool

	// RPC
	RPC          bool
	RPCAddr      string
	RPCPort      int
	RPCAllowed   string
	RPCCORS      string
	RPCRateLimit float64
	RPCBurst     int

	// Logging
	LogLevel string
	LogFile  string
	LogJSON  bool

	// Remaining args
	Args []string

	// Explicitly-set bool flags (for true/false overrides).
	SetP2P        bool
	SetRPC        bool
	SetNoDiscover bool
	SetLogJSON    bool
	SetRateLimit  bool
}

// ParseFlags parses the process command line, exiting on malformed input.
func ParseFlags() *Flags {
	f, err := parseFlags(os.Args[1:])
	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			os.Exit(0)
		}
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	return f
}

func parseFlags(args []string) (*Flags, error) {
	f := &Flags{}
	fs := flag.NewFlagSet("crystald", flag.ContinueOnError)

	// Commands
	fs.BoolVar(&f.Help, "help", false, "Show help message")
	fs.BoolVar(&f.Help, "h", false, "Show help message (shorthand)")
	fs.BoolVar(&f.Version, "version", false, "Show version information")
	fs.BoolVar(&f.Version, "v", false, "Show version (shorthand)")

	// Core
	fs.StringVar(&f.Network, "network", "", "Network type (mainnet or testnet)")
	testnet := fs.Bool("testnet", false, "Use testnet (shorthand for --network=testnet)")
	fs.StringVar(&f.DataDir, "datadir", "", "Data directory path")
	fs.StringVar(&f.Config, "config", "", "Config file path")
	fs.StringVar(&f.Config, "c", "", "Config file path (shorthand)")
	fs.StringVar(&f.Deployment, "deployment", "", "Deployment file path (JSON)")

	// P2P
	fs.BoolVar(&f.P2P, "p2p", false, "Enable P2P record gossip")
	fs.IntVar(&f.P2PPort, "p2p-port", 0, "P2P listen port")
	fs.StringVar(&f.Seeds, "seeds", "", "Seed nodes as comma-separated libp2p multiaddrs")
	fs.IntVar(&f.MaxPeers, "maxpeers", 0, "Maximum number of peers")
	fs.BoolVar(&f.NoDiscover, "nodiscover", false, "Disable peer discovery")
	fs.BoolVar(&f.DHTServer, "dht-server", false, "Run DHT in server mode (for seeds)")

	// RPC
	fs.BoolVar(&f.RPC, "rpc", true, "Enable RPC server")
	fs.StringVar(&f.RPCAddr, "rpc-addr", "", "RPC listen address")
	fs.IntVar(&f.RPCPort, "rpc-port", 0, "RPC listen port")
	fs.StringVar(&f.RPCAllowed, "rpc-allowed", "", "Allowed IPs for RPC")
	fs.StringVar(&f.RPCCORS, "rpc-cors", "", "Allowed CORS origins for RPC (comma-separated)")
	fs.Float64Var(&f.RPCRateLimit, "rpc-ratelimit", 0, "Mutating RPC calls per second per IP (0 = unlimited)")
	fs.IntVar(&f.RPCBurst, "rpc-burst", 0, "Burst size for the RPC rate limit")

	// Logging
	fs.StringVar(&f.LogLevel, "log-level", "", "Log level (trace, debug, info, warn, error)")
	fs.StringVar(&f.LogFile, "log-file", "", "Log file path")
	fs.BoolVar(&f.LogJSON, "log-json", false, "Output logs as JSON")

	fs.Usage = func() {
		printUsage()
	}

	if err := fs.Parse(args); err != nil {
		return nil, err
	}

	if *testnet {
		f.Network = string(Testnet)
	}
	f.SetP2P = isFlagSet(fs, "p2p")
	f.SetRPC = isFlagSet(fs, "rpc")
	f.SetNoDiscover = isFlagSet(fs, "nodiscover")
	f.SetLogJSON = isFlagSet(fs, "log-json")
	f.SetRateLimit = isFlagSet(fs, "rpc-ratelimit")

	f.Args = fs.Args()

	// Detect unparsed flags caused by positional arguments stopping the parser.
	for _, arg := range f.Args {
		if strings.HasPrefix(arg, "-") {
			return nil, fmt.Errorf("flag %q was not parsed (positional argument stopped parsing)", arg)
		}
	}

	return f, nil
}

// ApplyFlags applies command-line flags to a Config struct.
func ApplyFlags(cfg *Config, f *Flags) {
	// Core
	if f.Network != "" {
		cfg.Network = NetworkType(f.Network)
	}
	if f.DataDir != "" {
		cfg.DataDir = f.DataDir
	}
	if f.Deployment != "" {
		cfg.DeploymentFile = f.Deployment
	}

	// P2P
	if f.SetP2P {
		cfg.P2P.Enabled = f.P2P
	}
	if f.P2PPort != 0 {
		cfg.P2P.Port = f.P2PPort
	}
	if f.Seeds != "" {
		cfg.P2P.Seeds = parseStringList(f.Seeds)
	}
	if f.MaxPeers != 0 {
		cfg.P2P.MaxPeers = f.MaxPeers
	}
	if f.SetNoDiscover {
		cfg.P2P.NoDiscover = f.NoDiscover
	}
	if f.DHTServer {
		cfg.P2P.DHTServer = true
	}

	// RPC
	if f.SetRPC {
		cfg.RPC.Enabled = f.RPC
	}
	if f.RPCAddr != "" {
		cfg.RPC.Addr = f.RPCAddr
	}
	if f.RPCPort != 0 {
		cfg.RPC.Port = f.RPCPort
	}
	if f.RPCAllowed != "" {
		cfg.RPC.AllowedIPs = parseStringList(f.RPCAllowed)
	}
	if f.RPCCORS != "" {
		cfg.RPC.CORSOrigins = parseStringList(f.RPCCORS)
	}
	if f.SetRateLimit {
		cfg.RPC.RateLimit = f.RPCRateLimit
	}
	if f.RPCBurst != 0 {
		cfg.RPC.RateBurst = f.RPCBurst
	}

	// Logging
	if f.LogLevel != "" {
		cfg.Log.Level = f.LogLevel
	}
	if f.LogFile != "" {
		cfg.Log.File = f.LogFile
	}
	if f.SetLogJSON {
		cfg.Log.JSON = f.LogJSON
	}
}

// isFlagSet checks if a flag was explicitly set.
func isFlagSet(fs *flag.FlagSet, name string) bool {
	found := false
	fs.Visit(func(f *flag.Flag) {
		if f.Name == name {
			found = true
		}
	})
	return found
}

func printUsage() {
	usage := `Crystal - NuPoW puzzle-minted token node

Usage:
  crystald [options]
  crystald --help

Commands:
  --help, -h      Show this help message
  --version, -v   Show version information

Core Options:
  --network       Network type: mainnet (default) or testnet
  --testnet       Shorthand for --network=testnet
  --datadir       Data directory (default: ~/.crystal)
  --config, -c    Config file path (default: <datadir>/crystal.conf)
  --deployment    Deployment file (default: built-in for the network)

P2P Options:
  --p2p           Enable P2P record gossip (default: false)
  --p2p-port      P2P listen port (mainnet: 30373, testnet: 30374)
  --seeds         Seed nodes as comma-separated libp2p multiaddrs
  --maxpeers      Maximum number of peers (default: 50)
  --nodiscover    Disable peer discovery
  --dht-server    Run DHT in server mode (for seed nodes)

RPC Options:
  --rpc           Enable RPC server (default: true)
  --rpc-addr      RPC listen address (default: 127.0.0.1)
  --rpc-port      RPC port (mainnet: 8575, testnet: 8675)
  --rpc-allowed   Allowed IPs for RPC (comma-separated)
  --rpc-cors      Allowed CORS origins for RPC (comma-separated)
  --rpc-ratelimit Mutating calls per second per client IP (default: 5)
  --rpc-burst     Burst size for the rate limit (default: 10)

Logging Options:
  --log-level     Log level: trace, debug, info, warn, error (default: info)
  --log-file      Log file path (default: stdout)
  --log-json      Output logs as JSON

Examples:
  # Start a mainnet (NuPoW Quartz) node
  crystald

  # Start a testnet node that gossips records
  crystald --testnet --p2p

  # Run a custom deployment
  crystald --deployment=./deployment.json --datadir=/path/to/data

Note:
  Token parameters come from the deployment and cannot be changed at
  runtime. A data directory is bound to the deployment it was created with.
`
	fmt.Print(usage)
}

// Load loads configuration with the following precedence:
// 1. Default values
// 2. Auto-create data dirs + default config (idempotent)
// 3. Config file
// 4. Command-line flags
func Load() (*Config, *Flags, error) {
	flags := ParseFlags()

	if flags.Help {
		printUsage()
		os.Exit(0)
	}
	if flags.Version {
		fmt.Println("crystald version " + Version)
		os.Exit(0)
	}

	cfg, err := build(flags)
	if err != nil {
		return nil, nil, err
	}
	return cfg, flags, nil
}

func build(flags *Flags) (*Config, error) {
	// Determine network first (needed for defaults)
	network := Mainnet
	if strings.ToLower(flags.Network) == string(Testnet) {
		network = Testnet
	}

	cfg := Default(network)
	if flags.DataDir != "" {
		cfg.DataDir = flags.DataDir
	}

	// Auto-create data directories and default config on first start.
	if err := EnsureDataDirs(cfg); err != nil {
		return nil, fmt.Errorf("ensuring data dirs: %w", err)
	}

	configPath := flags.Config
	if configPath == "" {
		configPath = cfg.ConfigFile()
	}

	fileValues, err := LoadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("loading config file: %w", err)
	}
	if err := ApplyFileConfig(cfg, fileValues); err != nil {
		return nil, fmt.Errorf("applying config file: %w", err)
	}

	// Flags have the highest precedence.
	ApplyFlags(cfg, flags)
	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// EnsureDataDirs creates the data directory structure and a default config
// file if they don't already exist. Safe to call on every startup.
func EnsureDataDirs(cfg *Config) error {
	dirs := []string{
		cfg.DataDir,
		cfg.NetworkDataDir(),
		cfg.StateDir(),
		cfg.KeystoreDir(),
		cfg.LogsDir(),
	}

	for _, dir := range dirs {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("creating directory %s: %w", dir, err)
		}
	}

	configPath := cfg.ConfigFile()
	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		if err := WriteDefaultConfig(configPath, cfg.Network); err != nil {
			return fmt.Errorf("writing config file: %w", err)
		}
	}

	return nil
}
