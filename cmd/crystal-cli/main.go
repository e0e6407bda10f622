// crystal-cli is a command-line client for interacting with a crystald node.
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"strings"
	"syscall"

	"github.com/Klingon-tech/crystal/config"
	"github.com/Klingon-tech/crystal/internal/crystal"
	"github.com/Klingon-tech/crystal/internal/rpcclient"
	"github.com/Klingon-tech/crystal/internal/wallet"
	"github.com/Klingon-tech/crystal/pkg/crypto"
	"github.com/Klingon-tech/crystal/pkg/types"
	"github.com/holiman/uint256"
	"golang.org/x/term"
)

// globals holds the flags that precede the subcommand.
type globals struct {
	rpcURL  string
	dataDir string
	network config.NetworkType
}

// keystoreDir returns the keystore path matching crystald's layout:
// <datadir>/<network>/keystore
func (g globals) keystoreDir() string {
	cfg := config.Config{DataDir: g.dataDir, Network: g.network}
	return cfg.KeystoreDir()
}

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(1)
	}

	g := globals{dataDir: config.DefaultDataDir(), network: config.Mainnet}
	args := os.Args[1:]
	for len(args) > 0 {
		switch {
		case args[0] == "--rpc" && len(args) > 1:
			g.rpcURL = args[1]
			args = args[2:]
		case strings.HasPrefix(args[0], "--rpc="):
			g.rpcURL = args[0][len("--rpc="):]
			args = args[1:]
		case args[0] == "--datadir" && len(args) > 1:
			g.dataDir = args[1]
			args = args[2:]
		case strings.HasPrefix(args[0], "--datadir="):
			g.dataDir = args[0][len("--datadir="):]
			args = args[1:]
		case args[0] == "--network" && len(args) > 1:
			g.network = config.NetworkType(args[1])
			args = args[2:]
		case strings.HasPrefix(args[0], "--network="):
			g.network = config.NetworkType(args[0][len("--network="):])
			args = args[1:]
		case args[0] == "--testnet":
			g.network = config.Testnet
			args = args[1:]
		default:
			goto dispatch
		}
	}

dispatch:
	if g.network != config.Mainnet && g.network != config.Testnet {
		fatal("unknown network %q (want mainnet or testnet)", g.network)
	}
	if g.rpcURL == "" {
		g.rpcURL = fmt.Sprintf("http://127.0.0.1:%d", config.Default(g.network).RPC.Port)
	}
	if len(args) == 0 {
		usage()
		os.Exit(1)
	}

	client := rpcclient.New(g.rpcURL)
	cmd, cmdArgs := args[0], args[1:]

	switch cmd {
	case "wallet-create":
		cmdWalletCreate(g, cmdArgs)
	case "wallet-address":
		cmdWalletAddress(g, cmdArgs)
	case "info":
		cmdInfo(client)
	case "round":
		cmdRound(client)
	case "balance":
		cmdBalance(client, cmdArgs)
	case "nonce":
		cmdNonce(client, cmdArgs)
	case "preview":
		cmdPreview(client, cmdArgs)
	case "challenge":
		cmdChallenge(g, client, cmdArgs)
	case "transfer":
		cmdTransfer(g, client, cmdArgs)
	case "approve":
		cmdApprove(g, client, cmdArgs)
	case "flash-fee":
		cmdFlashFee(client, cmdArgs)
	case "events":
		cmdEvents(client, cmdArgs)
	case "help", "--help", "-h":
		usage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", cmd)
		usage()
		os.Exit(1)
	}
}

func usage() {
	fmt.Fprintf(os.Stderr, `Usage: crystal-cli [global flags] <command> [flags]

Global flags:
  --rpc <url>         RPC endpoint (default: http://127.0.0.1:8575, 8675 on testnet)
  --datadir <path>    Data directory (default: ~/.crystal)
  --network <net>     mainnet (default) or testnet
  --testnet           Shorthand for --network testnet

Wallet:
  wallet-create --name <n> [--mnemonic "..."]
                                  Create (or import) a wallet
  wallet-address --wallet <w> [--new] [--label <l>]
                                  List wallet addresses, or derive a new one

Queries:
  info                            Show token parameters and supply
  round                           Show the current puzzle round
  balance <address>               Show address balance
  nonce <address>                 Show the next signed-call nonce
  preview --caller <addr> --seed <n>
                                  Judge a seed without submitting it
  flash-fee --amount <amt>        Show the flash loan fee for an amount
  events [--from <seq>] [--limit <n>]
                                  List committed records

Signed calls (prompt for the wallet password):
  challenge --wallet <w> [--from <addr>] --seed <n> [--tag <t>]
                                  Submit a puzzle attempt
  transfer --wallet <w> [--from <addr>] --to <addr> --amount <amt>
                                  Transfer tokens
  approve --wallet <w> [--from <addr>] --spender <addr> --amount <amt|max>
                                  Set an allowance

Amounts are whole tokens with up to 18 decimals ("1.5"), or raw base units
as 0x hex. Seeds are decimal or 0x hex.
`)
}

// ── wallet ──────────────────────────────────────────────────────────────

func cmdWalletCreate(g globals, args []string) {
	fs := flag.NewFlagSet("wallet-create", flag.ExitOnError)
	name := fs.String("name", "", "Wallet name")
	mnemonic := fs.String("mnemonic", "", "Import this BIP-39 mnemonic instead of generating one")
	fs.Parse(args)

	if *name == "" {
		fatal("Usage: crystal-cli wallet-create --name <name> [--mnemonic \"word1 word2 ...\"]")
	}

	phrase := wallet.NormalizeMnemonic(*mnemonic)
	if phrase == "" {
		generated, err := wallet.GenerateMnemonic()
		if err != nil {
			fatal("generate mnemonic: %v", err)
		}
		phrase = generated
		fmt.Println("Mnemonic (write this down!):")
		fmt.Printf("  %s\n\n", phrase)
	} else if !wallet.ValidateMnemonic(phrase) {
		fatal("invalid mnemonic")
	}

	password := readNewPassword()
	defer zero(password)

	seed, err := wallet.SeedFromMnemonic(phrase, "")
	if err != nil {
		fatal("derive seed: %v", err)
	}
	defer zero(seed)

	ks, err := wallet.NewKeystore(g.keystoreDir())
	if err != nil {
		fatal("open keystore: %v", err)
	}
	first, err := ks.Create(*name, seed, password)
	if err != nil {
		fatal("create wallet: %v", err)
	}

	fmt.Printf("\nWallet created: %s\n", *name)
	fmt.Printf("Address: %s (%s)\n", first.Address, first.Path())
}

func cmdWalletAddress(g globals, args []string) {
	fs := flag.NewFlagSet("wallet-address", flag.ExitOnError)
	walletName := fs.String("wallet", "", "Wallet name")
	derive := fs.Bool("new", false, "Derive and record the next address")
	label := fs.String("label", "", "Label for a new address")
	fs.Parse(args)

	if *walletName == "" {
		fatal("Usage: crystal-cli wallet-address --wallet <name> [--new] [--label <label>]")
	}

	ks, err := wallet.NewKeystore(g.keystoreDir())
	if err != nil {
		fatal("open keystore: %v", err)
	}

	if *derive {
		password, err := readPassword("Enter password: ")
		if err != nil {
			fatal("read password: %v", err)
		}
		defer zero(password)
		entry, err := ks.NewAddress(*walletName, password, *label)
		if err != nil {
			fatal("new address: %v", err)
		}
		fmt.Printf("Address: %s (%s)\n", entry.Address, entry.Path())
		return
	}

	accounts, err := ks.ListAccounts(*walletName)
	if err != nil {
		fatal("list accounts: %v", err)
	}
	if len(accounts) == 0 {
		fmt.Println("No addresses found.")
		return
	}
	for _, acct := range accounts {
		line := fmt.Sprintf("  %-22s %s", acct.Path(), acct.Address)
		if acct.Name != "" {
			line += "  " + acct.Name
		}
		fmt.Println(line)
	}
}

// unlockSigner prompts for the wallet password and returns the key of from,
// or of the wallet's first address when from is empty.
func unlockSigner(g globals, walletName, from string) *crypto.PrivateKey {
	ks, err := wallet.NewKeystore(g.keystoreDir())
	if err != nil {
		fatal("open keystore: %v", err)
	}

	var addr types.Address
	if from == "" {
		accounts, err := ks.ListAccounts(walletName)
		if err != nil {
			fatal("list accounts: %v", err)
		}
		if len(accounts) == 0 {
			fatal("wallet %q has no addresses", walletName)
		}
		addr = accounts[0].Address
	} else {
		addr = mustAddress("from", from)
	}

	password, err := readPassword("Enter password: ")
	if err != nil {
		fatal("read password: %v", err)
	}
	defer zero(password)

	key, err := ks.Signer(walletName, password, addr)
	if err != nil {
		fatal("unlock: %v", err)
	}
	return key
}

// ── queries ─────────────────────────────────────────────────────────────

func cmdInfo(client *rpcclient.Client) {
	info, err := client.Info()
	if err != nil {
		fatal("crystal_getInfo: %v", err)
	}

	fmt.Printf("Token:        %s (%s)\n", info.Name, info.Symbol)
	fmt.Printf("Address:      %s\n", info.Token)
	fmt.Printf("Deployment:   %s\n", info.Deployment)
	fmt.Printf("Supply:       %s\n", formatAmount(info.TotalSupply))
	fmt.Printf("Minted:       %s / %s\n", formatAmount(info.TotalMinted), formatAmount(info.MaxTotalMint))
	fmt.Printf("Cap:          %s\n", formatAmount(info.Cap))
	fmt.Printf("Next mint:    %s\n", formatAmount(info.NextMint))
	fmt.Printf("Target:       %d links in %ds\n", info.ChainLengthTarget, info.StalledDuration)
	fmt.Printf("Round:        %d (length %d)\n", info.Round.Number, info.Round.ChainLength)
	fmt.Printf("Reserve:      %s\n", info.Reserve)
	fmt.Printf("Records:      %d\n", info.Records)
}

func cmdRound(client *rpcclient.Client) {
	r, err := client.Round()
	if err != nil {
		fatal("nupow_getRound: %v", err)
	}

	fmt.Printf("Round:        %d\n", r.Number)
	fmt.Printf("Chain length: %d\n", r.ChainLength)
	fmt.Printf("Tip:          %s\n", r.Tip)
	fmt.Printf("Last solver:  %s\n", r.LastChallenger)
	fmt.Printf("Deadline:     %d\n", r.Deadline)
	fmt.Printf("Stalled:      %t\n", r.Stalled)
	fmt.Printf("Next mint:    %s\n", formatAmount(r.NextMint))
}

func cmdBalance(client *rpcclient.Client, args []string) {
	if len(args) < 1 {
		fatal("Usage: crystal-cli balance <address>")
	}
	addr := mustAddress("address", args[0])
	bal, err := client.BalanceOf(addr)
	if err != nil {
		fatal("token_balanceOf: %v", err)
	}
	fmt.Printf("Address: %s\n", addr)
	fmt.Printf("Balance: %s\n", formatAmount(bal))
}

func cmdNonce(client *rpcclient.Client, args []string) {
	if len(args) < 1 {
		fatal("Usage: crystal-cli nonce <address>")
	}
	n, err := client.Nonce(mustAddress("address", args[0]))
	if err != nil {
		fatal("account_getNonce: %v", err)
	}
	fmt.Println(n)
}

func cmdPreview(client *rpcclient.Client, args []string) {
	fs := flag.NewFlagSet("preview", flag.ExitOnError)
	caller := fs.String("caller", "", "Address the attempt is judged for")
	seedStr := fs.String("seed", "", "Seed (decimal or 0x hex)")
	fs.Parse(args)

	if *caller == "" || *seedStr == "" {
		fatal("Usage: crystal-cli preview --caller <addr> --seed <n>")
	}
	seed, err := types.ParseUint256(*seedStr)
	if err != nil {
		fatal("invalid seed: %v", err)
	}

	res, err := client.Preview(mustAddress("caller", *caller), seed)
	if err != nil {
		fatal("nupow_preview: %v", err)
	}
	fmt.Printf("Candidate: %s\n", res.Candidate)
	fmt.Printf("Passes:    %t\n", res.Passed)
	if res.Passed {
		fmt.Printf("Would mint: %s\n", formatAmount(res.Minted))
	}
}

func cmdFlashFee(client *rpcclient.Client, args []string) {
	fs := flag.NewFlagSet("flash-fee", flag.ExitOnError)
	amountStr := fs.String("amount", "", "Loan amount")
	fs.Parse(args)

	if *amountStr == "" {
		fatal("Usage: crystal-cli flash-fee --amount <amt>")
	}
	amount, err := parseAmount(*amountStr)
	if err != nil {
		fatal("invalid amount: %v", err)
	}
	fee, err := client.FlashFee(amount)
	if err != nil {
		fatal("flash_fee: %v", err)
	}
	fmt.Printf("Fee: %s\n", formatAmount(fee))
}

func cmdEvents(client *rpcclient.Client, args []string) {
	fs := flag.NewFlagSet("events", flag.ExitOnError)
	from := fs.Uint64("from", 0, "First record sequence")
	limit := fs.Int("limit", 20, "Maximum records to return")
	asJSON := fs.Bool("json", false, "Print raw records")
	fs.Parse(args)

	res, err := client.Events(*from, *limit)
	if err != nil {
		fatal("events_list: %v", err)
	}

	if *asJSON {
		printJSON(res)
		return
	}
	fmt.Printf("Total records: %d\n", res.Total)
	for _, rec := range res.Records {
		fmt.Printf("  #%-6d %-14s %s  %s\n", rec.Seq, rec.Kind, rec.ID, describeRecord(rec))
	}
}

// describeRecord summarises a record payload on one line.
func describeRecord(rec crystal.Record) string {
	var fields map[string]interface{}
	if err := json.Unmarshal(rec.Payload, &fields); err != nil {
		return string(rec.Payload)
	}
	var parts []string
	for _, key := range []string{"from", "to", "value", "caller", "solver", "passed", "round", "chain_length", "minted", "initiator", "borrower", "amount", "fee"} {
		if v, ok := fields[key]; ok {
			parts = append(parts, fmt.Sprintf("%s=%v", key, v))
		}
	}
	return strings.Join(parts, " ")
}

// ── signed calls ────────────────────────────────────────────────────────

func cmdChallenge(g globals, client *rpcclient.Client, args []string) {
	fs := flag.NewFlagSet("challenge", flag.ExitOnError)
	walletName := fs.String("wallet", "", "Wallet name")
	from := fs.String("from", "", "Signing address (default: first wallet address)")
	seedStr := fs.String("seed", "", "Seed (decimal or 0x hex)")
	tag := fs.String("tag", "", "Free-form tag recorded with the attempt")
	fs.Parse(args)

	if *walletName == "" || *seedStr == "" {
		fatal("Usage: crystal-cli challenge --wallet <name> --seed <n> [--tag <t>]")
	}
	seed, err := types.ParseUint256(*seedStr)
	if err != nil {
		fatal("invalid seed: %v", err)
	}

	token := tokenAddress(client)
	key := unlockSigner(g, *walletName, *from)
	defer key.Zero()

	res, err := client.Challenge(key, token, seed, *tag)
	if err != nil {
		fatal("nupow_challenge: %v", err)
	}
	fmt.Printf("Caller:    %s\n", res.Caller)
	fmt.Printf("Candidate: %s\n", res.Candidate)
	fmt.Printf("Passed:    %t\n", res.Passed)
	if res.Closed != nil {
		fmt.Printf("Closed round %d at length %d, next mint %s\n",
			res.Closed.Round, res.Closed.ChainLength, formatAmount(res.Closed.NextMint))
	}
	if res.Passed {
		fmt.Printf("Minted:    %s\n", formatAmount(res.Minted))
	}
}

func cmdTransfer(g globals, client *rpcclient.Client, args []string) {
	fs := flag.NewFlagSet("transfer", flag.ExitOnError)
	walletName := fs.String("wallet", "", "Wallet name")
	from := fs.String("from", "", "Signing address (default: first wallet address)")
	toAddr := fs.String("to", "", "Recipient address")
	amountStr := fs.String("amount", "", "Amount to send (e.g. 1.5)")
	fs.Parse(args)

	if *walletName == "" || *toAddr == "" || *amountStr == "" {
		fatal("Usage: crystal-cli transfer --wallet <name> --to <addr> --amount <amt>")
	}
	to := mustAddress("to", *toAddr)
	amount, err := parseAmount(*amountStr)
	if err != nil {
		fatal("invalid amount: %v", err)
	}

	token := tokenAddress(client)
	key := unlockSigner(g, *walletName, *from)
	defer key.Zero()

	res, err := client.Transfer(key, token, to, amount)
	if err != nil {
		fatal("token_transfer: %v", err)
	}
	fmt.Printf("Transferred %s from %s to %s (next nonce %d)\n",
		formatAmount(amount), res.Signer, to, res.Nonce)
}

func cmdApprove(g globals, client *rpcclient.Client, args []string) {
	fs := flag.NewFlagSet("approve", flag.ExitOnError)
	walletName := fs.String("wallet", "", "Wallet name")
	from := fs.String("from", "", "Signing address (default: first wallet address)")
	spenderAddr := fs.String("spender", "", "Spender address")
	amountStr := fs.String("amount", "", "Allowance (\"max\" for unlimited)")
	fs.Parse(args)

	if *walletName == "" || *spenderAddr == "" || *amountStr == "" {
		fatal("Usage: crystal-cli approve --wallet <name> --spender <addr> --amount <amt|max>")
	}
	spender := mustAddress("spender", *spenderAddr)
	amount := new(uint256.Int).SetAllOne()
	if *amountStr != "max" {
		var err error
		if amount, err = parseAmount(*amountStr); err != nil {
			fatal("invalid amount: %v", err)
		}
	}

	token := tokenAddress(client)
	key := unlockSigner(g, *walletName, *from)
	defer key.Zero()

	res, err := client.Approve(key, token, spender, amount)
	if err != nil {
		fatal("token_approve: %v", err)
	}
	fmt.Printf("Approved %s to spend from %s (next nonce %d)\n", spender, res.Signer, res.Nonce)
}

// tokenAddress fetches the token address signed calls are bound to.
func tokenAddress(client *rpcclient.Client) types.Address {
	info, err := client.Info()
	if err != nil {
		fatal("crystal_getInfo: %v", err)
	}
	return info.Token
}

// ── helpers ─────────────────────────────────────────────────────────────

func mustAddress(field, s string) types.Address {
	addr, err := types.ParseAddress(s)
	if err != nil {
		fatal("invalid %s address: %v", field, err)
	}
	return addr
}

func printJSON(v interface{}) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		fatal("encode: %v", err)
	}
	fmt.Println(string(data))
}

func readNewPassword() []byte {
	password, err := readPassword("Enter password: ")
	if err != nil {
		fatal("read password: %v", err)
	}
	confirm, err := readPassword("Confirm password: ")
	if err != nil {
		fatal("read password: %v", err)
	}
	defer zero(confirm)
	if string(password) != string(confirm) {
		fatal("passwords do not match")
	}
	return password
}

func readPassword(prompt string) ([]byte, error) {
	fmt.Fprint(os.Stderr, prompt)
	password, err := term.ReadPassword(int(syscall.Stdin))
	fmt.Fprintln(os.Stderr) // newline after hidden input
	if err != nil {
		return nil, err
	}
	return password, nil
}

func zero(b []byte) {
	for i := range b {
		b[i] = 0
	}
}

// ── Error helper ────────────────────────────────────────────────────────

func fatal(format string, args ...interface{}) {
	fmt.Fprintf(os.Stderr, "Error: "+format+"\n", args...)
	os.Exit(1)
}
