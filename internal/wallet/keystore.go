package wallet

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	klog "github.com/Klingon-tech/crystal/internal/log"
	"github.com/Klingon-tech/crystal/pkg/crypto"
	"github.com/Klingon-tech/crystal/pkg/types"
)

const (
	keystoreVersion = 1
	walletExt       = ".wallet"
)

// Keystore errors.
var (
	ErrWalletExists   = errors.New("wallet already exists")
	ErrWalletNotFound = errors.New("wallet not found")
	ErrBadWalletName  = errors.New("invalid wallet name")
)

// keystoreFile is the on-disk JSON format for an encrypted wallet.
type keystoreFile struct {
	Version   int            `json:"version"`
	CreatedAt time.Time      `json:"created_at"`
	Seed      *Sealed        `json:"seed"`
	Accounts  []AccountEntry `json:"accounts"`
	// NextIndex is the next unused index under account 0.
	NextIndex uint32 `json:"next_index"`
}

// AccountEntry records a derived solver address. Addresses are public, so
// they are kept in the clear for listing without a password.
type AccountEntry struct {
	Account uint32        `json:"account"`
	Index   uint32        `json:"index"`
	Name    string        `json:"name,omitempty"`
	Address types.Address `json:"address"`
}

// Path returns the BIP-44 path of the entry.
func (a AccountEntry) Path() string { return SolverPath(a.Account, a.Index) }

// Keystore manages encrypted wallet files in one directory.
type Keystore struct {
	path   string
	params EncryptionParams
}

// NewKeystore opens the keystore at path, creating the directory if needed.
func NewKeystore(path string) (*Keystore, error) {
	if err := os.MkdirAll(path, 0700); err != nil {
		return nil, fmt.Errorf("create keystore dir: %w", err)
	}
	return &Keystore{path: path, params: DefaultParams()}, nil
}

// SetParams changes the Argon2id parameters used for new wallets.
func (ks *Keystore) SetParams(p EncryptionParams) { ks.params = p }

func (ks *Keystore) walletPath(name string) (string, error) {
	if name == "" || strings.ContainsAny(name, `/\`) || name == "." || name == ".." {
		return "", fmt.Errorf("%w: %q", ErrBadWalletName, name)
	}
	return filepath.Join(ks.path, name+walletExt), nil
}

// Create stores seed encrypted under password and records the first
// solver address, m/44'/60'/0'/0/0.
func (ks *Keystore) Create(name string, seed, password []byte) (AccountEntry, error) {
	path, err := ks.walletPath(name)
	if err != nil {
		return AccountEntry{}, err
	}
	if _, err := os.Stat(path); err == nil {
		return AccountEntry{}, fmt.Errorf("%w: %q", ErrWalletExists, name)
	}

	first, err := deriveEntry(seed, 0, 0)
	if err != nil {
		return AccountEntry{}, err
	}
	first.Name = "default"

	sealed, err := Seal(seed, password, ks.params)
	if err != nil {
		return AccountEntry{}, fmt.Errorf("encrypt seed: %w", err)
	}
	kf := &keystoreFile{
		Version:   keystoreVersion,
		CreatedAt: time.Now().UTC(),
		Seed:      sealed,
		Accounts:  []AccountEntry{first},
		NextIndex: 1,
	}
	if err := writeFile(path, kf); err != nil {
		return AccountEntry{}, err
	}
	klog.Wallet.Info().Str("wallet", name).Str("address", first.Address.String()).Msg("Wallet created")
	return first, nil
}

// Load decrypts and returns the wallet seed.
func (ks *Keystore) Load(name string, password []byte) ([]byte, error) {
	_, kf, err := ks.read(name)
	if err != nil {
		return nil, err
	}
	seed, err := kf.Seed.Open(password)
	if err != nil {
		return nil, fmt.Errorf("unlock wallet %q: %w", name, err)
	}
	return seed, nil
}

// Signer unlocks the wallet and returns the key of the recorded address.
func (ks *Keystore) Signer(name string, password []byte, addr types.Address) (*crypto.PrivateKey, error) {
	_, kf, err := ks.read(name)
	if err != nil {
		return nil, err
	}
	for _, a := range kf.Accounts {
		if a.Address != addr {
			continue
		}
		seed, err := kf.Seed.Open(password)
		if err != nil {
			return nil, fmt.Errorf("unlock wallet %q: %w", name, err)
		}
		defer zero(seed)
		return deriveSigner(seed, a.Account, a.Index)
	}
	return nil, fmt.Errorf("address %s not in wallet %q", addr, name)
}

// NewAddress derives the next solver address under account 0 and records it.
func (ks *Keystore) NewAddress(name string, password []byte, label string) (AccountEntry, error) {
	path, kf, err := ks.read(name)
	if err != nil {
		return AccountEntry{}, err
	}
	seed, err := kf.Seed.Open(password)
	if err != nil {
		return AccountEntry{}, fmt.Errorf("unlock wallet %q: %w", name, err)
	}
	defer zero(seed)

	entry, err := deriveEntry(seed, 0, kf.NextIndex)
	if err != nil {
		return AccountEntry{}, err
	}
	entry.Name = label
	kf.Accounts = append(kf.Accounts, entry)
	kf.NextIndex++
	if err := writeFile(path, kf); err != nil {
		return AccountEntry{}, err
	}
	return entry, nil
}

// AddAccount records an entry derived elsewhere. Re-adding the same path
// with the same address is a no-op.
func (ks *Keystore) AddAccount(name string, acct AccountEntry) error {
	path, kf, err := ks.read(name)
	if err != nil {
		return err
	}
	for _, e := range kf.Accounts {
		if e.Account == acct.Account && e.Index == acct.Index {
			if e.Address == acct.Address {
				return nil
			}
			return fmt.Errorf("path %s already holds %s", e.Path(), e.Address)
		}
		if e.Address == acct.Address {
			return nil
		}
	}
	kf.Accounts = append(kf.Accounts, acct)
	if acct.Account == 0 && acct.Index >= kf.NextIndex {
		kf.NextIndex = acct.Index + 1
	}
	return writeFile(path, kf)
}

// ListAccounts returns the recorded addresses of a wallet.
func (ks *Keystore) ListAccounts(name string) ([]AccountEntry, error) {
	_, kf, err := ks.read(name)
	if err != nil {
		return nil, err
	}
	return kf.Accounts, nil
}

// List returns the names of all wallets in the keystore.
func (ks *Keystore) List() ([]string, error) {
	entries, err := os.ReadDir(ks.path)
	if err != nil {
		return nil, fmt.Errorf("read keystore dir: %w", err)
	}
	var names []string
	for _, e := range entries {
		if !e.IsDir() && filepath.Ext(e.Name()) == walletExt {
			names = append(names, strings.TrimSuffix(e.Name(), walletExt))
		}
	}
	return names, nil
}

// Delete removes a wallet file.
func (ks *Keystore) Delete(name string) error {
	path, err := ks.walletPath(name)
	if err != nil {
		return err
	}
	if err := os.Remove(path); err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("%w: %q", ErrWalletNotFound, name)
		}
		return err
	}
	return nil
}

func (ks *Keystore) read(name string) (string, *keystoreFile, error) {
	path, err := ks.walletPath(name)
	if err != nil {
		return "", nil, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return "", nil, fmt.Errorf("%w: %q", ErrWalletNotFound, name)
		}
		return "", nil, fmt.Errorf("read wallet: %w", err)
	}
	var kf keystoreFile
	if err := json.Unmarshal(data, &kf); err != nil {
		return "", nil, fmt.Errorf("parse wallet: %w", err)
	}
	if kf.Version != keystoreVersion {
		return "", nil, fmt.Errorf("unsupported wallet version: %d", kf.Version)
	}
	if kf.Seed == nil {
		return "", nil, fmt.Errorf("wallet %q has no seed", name)
	}
	return path, &kf, nil
}

// writeFile replaces path atomically so a crash never leaves a torn wallet.
func writeFile(path string, kf *keystoreFile) error {
	data, err := json.MarshalIndent(kf, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal wallet: %w", err)
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0600); err != nil {
		return fmt.Errorf("write wallet: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("write wallet: %w", err)
	}
	return nil
}

func deriveSigner(seed []byte, account, index uint32) (*crypto.PrivateKey, error) {
	master, err := NewMasterKey(seed)
	if err != nil {
		return nil, err
	}
	key, err := master.DeriveSolver(account, index)
	if err != nil {
		return nil, err
	}
	return key.Signer()
}

func deriveEntry(seed []byte, account, index uint32) (AccountEntry, error) {
	signer, err := deriveSigner(seed, account, index)
	if err != nil {
		return AccountEntry{}, err
	}
	defer signer.Zero()
	return AccountEntry{Account: account, Index: index, Address: signer.Address()}, nil
}
