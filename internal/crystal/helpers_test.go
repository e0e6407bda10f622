package crystal

import (
	"errors"
	"testing"
	"time"

	"github.com/Klingon-tech/crystal/internal/ledger"
	klog "github.com/Klingon-tech/crystal/internal/log"
	"github.com/Klingon-tech/crystal/internal/nupow"
	"github.com/Klingon-tech/crystal/internal/storage"
	"github.com/Klingon-tech/crystal/pkg/types"
	"github.com/holiman/uint256"
)

var (
	testToken   = types.Address{0xc7, 0x57}
	testReserve = types.Address{0x5e, 0x5e}
	testDeploy  = types.Hash{0xde, 0x91}
	maxMint     = new(uint256.Int).Lsh(uint256.NewInt(1), 60)
)

type fakeClock struct{ t int64 }

func (f *fakeClock) Now() time.Time { return time.Unix(f.t, 0) }

func testOptions(clock *fakeClock) Options {
	return Options{
		Token:        testToken,
		DeploymentID: testDeploy,
		Metadata: ledger.Metadata{
			Name:     "NuPoW Test",
			Symbol:   "NPT",
			Decimals: 18,
			Cap:      new(uint256.Int).Lsh(uint256.NewInt(1), 255),
		},
		Params: nupow.Params{
			ChainLengthTarget: 5,
			StalledDuration:   10,
			MaxMint:           maxMint.Clone(),
			MaxTotalMint:      new(uint256.Int).Lsh(uint256.NewInt(1), 254),
		},
		Reserve: testReserve,
		Allocations: []Allocation{
			{Address: testReserve, Amount: uint256.NewInt(1_000_000)},
		},
		Clock: clock.Now,
	}
}

func openTest(t *testing.T, db storage.DB, opts Options) *Crystal {
	t.Helper()
	klog.Init("error", false, "")
	c, err := Open(db, opts)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	return c
}

func newTestCrystal(t *testing.T) (*Crystal, *fakeClock, storage.DB) {
	t.Helper()
	clock := &fakeClock{t: 1_700_000_000}
	db := storage.NewMemory()
	return openTest(t, db, testOptions(clock)), clock, db
}

// findSeed searches for a seed that beats the tip the next challenge at
// the current time will be judged against.
func findSeed(t *testing.T, c *Crystal, solver types.Address) *uint256.Int {
	t.Helper()
	r := c.Round()
	tip := r.Tip
	if uint64(c.clock().Unix()) > r.Deadline {
		tip = nupow.GenesisTip
	}
	seed := new(uint256.Int)
	one := uint256.NewInt(1)
	for i := 0; i < 1<<22; i++ {
		if _, ok := nupow.Evaluate(tip, seed, solver); ok {
			return seed
		}
		seed.Add(seed, one)
	}
	t.Fatalf("no seed found below %s", tip)
	return nil
}

func kinds(recs []Record) []RecordKind {
	out := make([]RecordKind, len(recs))
	for i, r := range recs {
		out[i] = r.Kind
	}
	return out
}

func equalKinds(a, b []RecordKind) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

var errDiskFull = errors.New("disk full")

// failingDB fails the next batch commit while failNext is set.
type failingDB struct {
	storage.DB
	failNext bool
}

func (f *failingDB) NewBatch() storage.Batch {
	return &failingBatch{Batch: storage.NewBatch(f.DB), db: f}
}

type failingBatch struct {
	storage.Batch
	db *failingDB
}

func (b *failingBatch) Commit() error {
	if b.db.failNext {
		b.db.failNext = false
		return errDiskFull
	}
	return b.Batch.Commit()
}
