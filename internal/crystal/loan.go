package crystal

import (
	"github.com/Klingon-tech/crystal/internal/flash"
	"github.com/Klingon-tech/crystal/pkg/types"
	"github.com/holiman/uint256"
)

// MaxFlashLoan returns the reserve balance for the token, zero otherwise.
func (c *Crystal) MaxFlashLoan(asset types.Address) *uint256.Int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.flash.MaxFlashLoan(asset)
}

// FlashFee returns the current reward for any amount of the token.
func (c *Crystal) FlashFee(asset types.Address, amount *uint256.Int) (*uint256.Int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.flash.FlashFee(asset, amount)
}

// FlashLoan lends amount of asset to b. The whole loan, callback included,
// is one operation: other callers wait until it ends and never see the
// lent funds. The borrower acts only through the Host it is given, which
// refuses challenges. The loan is committed only if it is repaid with the
// fee; otherwise nothing it did survives.
func (c *Crystal) FlashLoan(initiator types.Address, b flash.Borrower, asset types.Address, amount *uint256.Int, data []byte) error {
	c.mu.Lock()
	recs, err := c.apply(func() ([]pendingRecord, error) {
		ln, err := c.flash.FlashLoan(initiator, b, asset, amount, data)
		if err != nil {
			return nil, err
		}
		return append(c.ledgerRecords(), pendingRecord{KindFlashLoan, FlashLoanRecord{
			Initiator: ln.Initiator,
			Borrower:  ln.Borrower,
			Amount:    ln.Amount,
			Fee:       ln.Fee,
		}}), nil
	})
	c.mu.Unlock()
	c.notify(recs)
	return err
}
