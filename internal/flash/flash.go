// Package flash implements an ERC-3156 style flash lender over the token
// ledger. The fee is flat and pegged to the current mining reward.
package flash

import (
	"errors"
	"fmt"

	klog "github.com/Klingon-tech/crystal/internal/log"
	"github.com/Klingon-tech/crystal/pkg/crypto"
	"github.com/Klingon-tech/crystal/pkg/types"
	"github.com/holiman/uint256"
)

// CallbackSuccess is the value a borrower returns to accept a loan.
var CallbackSuccess = crypto.Keccak256Hash([]byte("ERC3156FlashBorrower.onFlashLoan"))

// Flash loan errors.
var (
	ErrUnsupportedAsset = errors.New("unsupported flash loan asset")
	ErrExceedsMaxLoan   = errors.New("amount exceeds max flash loan")
	ErrCallbackFailed   = errors.New("flash borrower callback failed")
	ErrRepaymentFailed  = errors.New("flash loan not repaid")
	ErrLoanSettled      = errors.New("flash loan already settled")
	ErrReentrantCall    = errors.New("reentrant call during flash loan")
	ErrHostClosed       = errors.New("flash loan host used after the loan ended")
)

// Ledger is the token bookkeeping the lender moves funds through.
type Ledger interface {
	BalanceOf(addr types.Address) *uint256.Int
	Transfer(from, to types.Address, amount *uint256.Int) error
	Approve(owner, spender types.Address, amount *uint256.Int) error
	TransferFrom(spender, from, to types.Address, amount *uint256.Int) error
	Snapshot() int
	RevertToSnapshot(id int) error
}

// Host is what a borrower may do while its callback runs. Every action is
// taken as the borrower.
type Host interface {
	Self() types.Address
	BalanceOf(addr types.Address) *uint256.Int
	Transfer(to types.Address, amount *uint256.Int) error
	Approve(spender types.Address, amount *uint256.Int) error
	Challenge(seed *uint256.Int, tag string) (bool, error)
}

// Borrower receives flash loans.
type Borrower interface {
	Address() types.Address
	// OnFlashLoan runs with the loaned funds credited. To accept, it
	// approves the token for amount+fee and returns CallbackSuccess.
	OnFlashLoan(host Host, initiator, asset types.Address, amount, fee *uint256.Int, data []byte) (types.Hash, error)
}

// Facility lends the reserve's balance of the token.
type Facility struct {
	token   types.Address
	reserve types.Address
	ledger  Ledger
	fee     func() *uint256.Int
}

// New creates a facility lending token out of reserve. fee returns the
// current mining reward.
func New(token, reserve types.Address, ledger Ledger, fee func() *uint256.Int) *Facility {
	return &Facility{token: token, reserve: reserve, ledger: ledger, fee: fee}
}

// Token returns the only asset the facility lends.
func (f *Facility) Token() types.Address { return f.token }

// Reserve returns the account loans are drawn from and repaid to.
func (f *Facility) Reserve() types.Address { return f.reserve }

// MaxFlashLoan returns the reserve balance for the token and zero for any
// other asset.
func (f *Facility) MaxFlashLoan(asset types.Address) *uint256.Int {
	if asset != f.token {
		return new(uint256.Int)
	}
	return f.ledger.BalanceOf(f.reserve)
}

// FlashFee returns the current reward regardless of amount.
func (f *Facility) FlashFee(asset types.Address, amount *uint256.Int) (*uint256.Int, error) {
	if asset != f.token {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedAsset, asset)
	}
	return f.fee(), nil
}

// Loan is an open flash loan between Begin and Settle.
type Loan struct {
	Initiator types.Address
	Borrower  types.Address
	Asset     types.Address
	Amount    *uint256.Int
	Fee       *uint256.Int

	f        *Facility
	snapshot int
	settled  bool
}

// Begin snapshots the ledger and credits amount to borrower.
func (f *Facility) Begin(initiator, borrower, asset types.Address, amount *uint256.Int) (*Loan, error) {
	fee, err := f.FlashFee(asset, amount)
	if err != nil {
		return nil, err
	}
	if avail := f.MaxFlashLoan(asset); amount.Gt(avail) {
		return nil, fmt.Errorf("%w: requested %s, available %s", ErrExceedsMaxLoan, amount.Dec(), avail.Dec())
	}
	if _, overflow := new(uint256.Int).AddOverflow(amount, fee); overflow {
		return nil, fmt.Errorf("%w: amount plus fee overflows", ErrExceedsMaxLoan)
	}

	snap := f.ledger.Snapshot()
	if err := f.ledger.Transfer(f.reserve, borrower, amount); err != nil {
		f.ledger.RevertToSnapshot(snap)
		return nil, fmt.Errorf("flash loan transfer: %w", err)
	}
	return &Loan{
		Initiator: initiator,
		Borrower:  borrower,
		Asset:     asset,
		Amount:    amount.Clone(),
		Fee:       fee,
		f:         f,
		snapshot:  snap,
	}, nil
}

// Settle checks the callback result and pulls amount+fee back from the
// borrower. On any failure the ledger is reverted to the state before
// Begin and the error wraps ErrCallbackFailed or ErrRepaymentFailed.
func (ln *Loan) Settle(result types.Hash, callbackErr error) error {
	if ln.settled {
		return ErrLoanSettled
	}
	ln.settled = true

	var err error
	switch {
	case callbackErr != nil:
		err = fmt.Errorf("%w: %v", ErrCallbackFailed, callbackErr)
	case result != CallbackSuccess:
		err = fmt.Errorf("%w: unexpected return value %s", ErrCallbackFailed, result)
	default:
		due := new(uint256.Int).Add(ln.Amount, ln.Fee)
		if terr := ln.f.ledger.TransferFrom(ln.f.token, ln.Borrower, ln.f.reserve, due); terr != nil {
			err = fmt.Errorf("%w: %v", ErrRepaymentFailed, terr)
		}
	}

	if err != nil {
		if rerr := ln.f.ledger.RevertToSnapshot(ln.snapshot); rerr != nil {
			return fmt.Errorf("%v (revert failed: %v)", err, rerr)
		}
		klog.Flash.Warn().
			Str("borrower", ln.Borrower.String()).
			Str("amount", ln.Amount.Dec()).
			Err(err).
			Msg("Flash loan defaulted")
		return err
	}

	klog.Flash.Info().
		Str("borrower", ln.Borrower.String()).
		Str("amount", ln.Amount.Dec()).
		Str("fee", ln.Fee.Dec()).
		Msg("Flash loan repaid")
	return nil
}

// FlashLoan runs a whole loan on the calling goroutine: Begin, the
// borrower callback through a LedgerHost, then Settle. The host is closed
// before FlashLoan returns. A panicking callback counts as a default.
func (f *Facility) FlashLoan(initiator types.Address, b Borrower, asset types.Address, amount *uint256.Int, data []byte) (*Loan, error) {
	ln, err := f.Begin(initiator, b.Address(), asset, amount)
	if err != nil {
		return nil, err
	}
	host := NewLedgerHost(f.ledger, ln.Borrower)
	result, cbErr := Invoke(b, host, ln, data)
	host.Close()
	if err := ln.Settle(result, cbErr); err != nil {
		return nil, err
	}
	return ln, nil
}

// Invoke calls the borrower for ln, turning a panic into an error.
func Invoke(b Borrower, host Host, ln *Loan, data []byte) (result types.Hash, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("borrower panicked: %v", r)
		}
	}()
	return b.OnFlashLoan(host, ln.Initiator, ln.Asset, ln.Amount.Clone(), ln.Fee.Clone(), data)
}
