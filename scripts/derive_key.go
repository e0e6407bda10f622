// derive_key.go prints the solver key, pubkey and address at a BIP-44 index
// of a mnemonic. The testnet reserve constants come from index 0 of the
// well-known test mnemonic.
// Usage: go run scripts/derive_key.go [-index n] "<mnemonic>"
package main

import (
	"encoding/hex"
	"flag"
	"fmt"
	"os"

	"github.com/Klingon-tech/crystal/internal/wallet"
	"github.com/Klingon-tech/crystal/pkg/crypto"
)

func main() {
	index := flag.Uint("index", 0, "address index under account 0")
	flag.Parse()
	if flag.NArg() < 1 {
		fmt.Fprintln(os.Stderr, "usage: derive_key [-index n] \"<mnemonic>\"")
		os.Exit(1)
	}

	seed, err := wallet.SeedFromMnemonic(flag.Arg(0), "")
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	master, err := wallet.NewMasterKey(seed)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	hd, err := master.DeriveSolver(0, uint32(*index))
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	key, err := hd.Signer()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	defer key.Zero()

	addr, err := crypto.AddressFromPubKey(key.PublicKey())
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	fmt.Printf("path=%s\n", wallet.SolverPath(0, uint32(*index)))
	fmt.Printf("privkey=%s\n", hex.EncodeToString(key.Serialize()))
	fmt.Printf("pubkey=%s\n", hex.EncodeToString(key.PublicKey()))
	fmt.Printf("address=%s\n", addr.String())
}
