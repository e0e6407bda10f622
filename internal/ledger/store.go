package ledger

import (
	"errors"
	"fmt"

	"github.com/Klingon-tech/crystal/internal/storage"
	"github.com/Klingon-tech/crystal/pkg/types"
	"github.com/holiman/uint256"
)

// Key layout inside the ledger namespace.
var (
	prefixBalance   = []byte("b/") // b/<addr(20)> -> amount (big-endian, minimal)
	prefixAllowance = []byte("a/") // a/<owner(20)><spender(20)> -> amount
	keySupply       = []byte("supply")
)

func balanceKey(addr types.Address) []byte {
	k := make([]byte, 0, len(prefixBalance)+types.AddressSize)
	k = append(k, prefixBalance...)
	return append(k, addr[:]...)
}

func allowanceStoreKey(key allowanceKey) []byte {
	k := make([]byte, 0, len(prefixAllowance)+2*types.AddressSize)
	k = append(k, prefixAllowance...)
	k = append(k, key.owner[:]...)
	return append(k, key.spender[:]...)
}

// Load reads a ledger from db. An empty db yields an empty ledger.
func Load(db storage.DB, meta Metadata) (*Ledger, error) {
	l, err := New(meta)
	if err != nil {
		return nil, err
	}

	data, err := db.Get(keySupply)
	switch {
	case err == nil:
		l.supply = new(uint256.Int).SetBytes(data)
	case !errors.Is(err, storage.ErrNotFound):
		return nil, fmt.Errorf("load supply: %w", err)
	}

	err = db.ForEach(prefixBalance, func(key, value []byte) error {
		if len(key) != len(prefixBalance)+types.AddressSize {
			return fmt.Errorf("malformed balance key %x", key)
		}
		addr := types.BytesToAddress(key[len(prefixBalance):])
		l.balances[addr] = new(uint256.Int).SetBytes(value)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("load balances: %w", err)
	}

	err = db.ForEach(prefixAllowance, func(key, value []byte) error {
		if len(key) != len(prefixAllowance)+2*types.AddressSize {
			return fmt.Errorf("malformed allowance key %x", key)
		}
		raw := key[len(prefixAllowance):]
		k := allowanceKey{
			owner:   types.BytesToAddress(raw[:types.AddressSize]),
			spender: types.BytesToAddress(raw[types.AddressSize:]),
		}
		l.allowances[k] = new(uint256.Int).SetBytes(value)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("load allowances: %w", err)
	}

	if l.supply.Gt(l.meta.Cap) {
		return nil, fmt.Errorf("stored supply %s exceeds cap %s", l.supply.Dec(), l.meta.Cap.Dec())
	}
	return l, nil
}

// Flush writes every entry changed since the last MarkClean into b.
// Zero balances and allowances are deleted. The entries stay dirty until
// MarkClean, so a batch that fails to commit can be flushed again.
func (l *Ledger) Flush(b storage.Batch) error {
	for addr := range l.dirtyBalances {
		v, ok := l.balances[addr]
		var err error
		if !ok || v.IsZero() {
			err = b.Delete(balanceKey(addr))
		} else {
			err = b.Put(balanceKey(addr), v.Bytes())
		}
		if err != nil {
			return fmt.Errorf("flush balance %s: %w", addr, err)
		}
	}
	for key := range l.dirtyAllowances {
		v, ok := l.allowances[key]
		var err error
		if !ok || v.IsZero() {
			err = b.Delete(allowanceStoreKey(key))
		} else {
			err = b.Put(allowanceStoreKey(key), v.Bytes())
		}
		if err != nil {
			return fmt.Errorf("flush allowance: %w", err)
		}
	}
	if l.supplyDirty {
		if err := b.Put(keySupply, l.supply.Bytes()); err != nil {
			return fmt.Errorf("flush supply: %w", err)
		}
	}
	return nil
}

// MarkClean records that everything flushed so far has been committed.
func (l *Ledger) MarkClean() {
	l.dirtyBalances = make(map[types.Address]struct{})
	l.dirtyAllowances = make(map[allowanceKey]struct{})
	l.supplyDirty = false
}
