// Package crystal is the single authoritative NuPoW token instance. It
// serialises every operation over the puzzle engine, the ledger and the
// flash facility, and commits each one atomically to storage together
// with the records it emitted.
package crystal

import (
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/Klingon-tech/crystal/internal/flash"
	"github.com/Klingon-tech/crystal/internal/ledger"
	klog "github.com/Klingon-tech/crystal/internal/log"
	"github.com/Klingon-tech/crystal/internal/nupow"
	"github.com/Klingon-tech/crystal/internal/storage"
	"github.com/Klingon-tech/crystal/pkg/types"
	"github.com/holiman/uint256"
)

// Errors returned by the instance.
var (
	// ErrReentrantCall is returned when a borrower tries to challenge from
	// inside its flash loan callback.
	ErrReentrantCall = flash.ErrReentrantCall
	ErrDeployment    = errors.New("stored deployment does not match")
)

// Storage namespaces.
var (
	prefixState   = []byte("s/")
	prefixLedger  = []byte("l/")
	prefixNonce   = []byte("n/")
	prefixRecords = []byte("e/")

	keyState = []byte("state")
)

// Allocation is a balance minted when the instance is first created.
type Allocation struct {
	Address types.Address `json:"address"`
	Amount  *uint256.Int  `json:"amount"`
}

// Options configures a new instance.
type Options struct {
	// Token is the token's own address, the only asset the flash facility
	// lends and the spender borrowers approve for repayment.
	Token types.Address
	// DeploymentID identifies the immutable configuration; reopening a
	// database with a different ID fails.
	DeploymentID types.Hash
	Metadata     ledger.Metadata
	Params       nupow.Params
	// Reserve holds the liquidity lent by the flash facility.
	Reserve     types.Address
	Allocations []Allocation
	// Clock defaults to time.Now.
	Clock func() time.Time
}

type persistedState struct {
	Deployment types.Hash  `json:"deployment"`
	Engine     nupow.State `json:"engine"`
	NextSeq    uint64      `json:"next_seq"`
}

// Crystal is the token instance. All methods are safe for concurrent use.
// Operations run one at a time: mu is held for the whole of each one,
// including a flash loan's borrower callback, so concurrent callers wait
// for a loan to finish. A borrower acts only through its flash.Host and
// must not call the instance from inside the callback.
type Crystal struct {
	mu sync.Mutex

	token      types.Address
	deployment types.Hash
	reserve    types.Address
	clock      func() time.Time

	engine *nupow.Engine
	ledger *ledger.Ledger
	flash  *flash.Facility

	db      storage.DB
	records *storage.PrefixDB
	nonces  map[types.Address]uint64
	dirty   map[types.Address]struct{}
	nextSeq uint64

	// nonceUndo holds the nonces an operation in progress has bumped,
	// at their values before it started.
	nonceUndo map[types.Address]uint64

	listenMu  sync.RWMutex
	listeners []Listener
}

// Open loads the instance from db, creating it at genesis when db is empty.
func Open(db storage.DB, opts Options) (*Crystal, error) {
	if err := opts.Params.Validate(); err != nil {
		return nil, err
	}
	if opts.Token.IsZero() {
		return nil, fmt.Errorf("token address must be set")
	}
	clock := opts.Clock
	if clock == nil {
		clock = time.Now
	}

	l, err := ledger.Load(storage.NewPrefixDB(db, prefixLedger), opts.Metadata)
	if err != nil {
		return nil, fmt.Errorf("load ledger: %w", err)
	}

	c := &Crystal{
		token:      opts.Token,
		deployment: opts.DeploymentID,
		reserve:    opts.Reserve,
		clock:      clock,
		ledger:     l,
		db:         db,
		records:    storage.NewPrefixDB(db, prefixRecords),
		nonces:     make(map[types.Address]uint64),
		dirty:      make(map[types.Address]struct{}),
	}
	c.flash = flash.New(opts.Token, opts.Reserve, l, c.currentReward)

	stateDB := storage.NewPrefixDB(db, prefixState)
	data, err := stateDB.Get(keyState)
	switch {
	case errors.Is(err, storage.ErrNotFound):
		if err := c.genesis(opts); err != nil {
			return nil, err
		}
	case err != nil:
		return nil, fmt.Errorf("load state: %w", err)
	default:
		if err := c.restore(opts, data); err != nil {
			return nil, err
		}
	}
	return c, nil
}

func (c *Crystal) genesis(opts Options) error {
	engine, err := nupow.NewEngine(opts.Params, c.ledger)
	if err != nil {
		return err
	}
	c.engine = engine

	_, err = c.apply(func() ([]pendingRecord, error) {
		for _, a := range opts.Allocations {
			if err := c.ledger.Mint(a.Address, a.Amount); err != nil {
				return nil, fmt.Errorf("allocation to %s: %w", a.Address, err)
			}
		}
		return c.ledgerRecords(), nil
	})
	if err != nil {
		return fmt.Errorf("write genesis: %w", err)
	}
	klog.Node.Info().
		Str("token", c.token.String()).
		Str("symbol", opts.Metadata.Symbol).
		Int("allocations", len(opts.Allocations)).
		Msg("Created genesis state")
	return nil
}

func (c *Crystal) restore(opts Options, data []byte) error {
	var st persistedState
	if err := json.Unmarshal(data, &st); err != nil {
		return fmt.Errorf("decode state: %w", err)
	}
	if st.Deployment != opts.DeploymentID {
		return fmt.Errorf("%w: stored %s, configured %s", ErrDeployment, st.Deployment, opts.DeploymentID)
	}
	engine, err := nupow.RestoreEngine(opts.Params, st.Engine, c.ledger)
	if err != nil {
		return err
	}
	c.engine = engine
	c.nextSeq = st.NextSeq

	err = storage.NewPrefixDB(c.db, prefixNonce).ForEach(nil, func(key, value []byte) error {
		if len(key) != types.AddressSize || len(value) != 8 {
			return fmt.Errorf("malformed nonce entry %x", key)
		}
		c.nonces[types.BytesToAddress(key)] = beUint64(value)
		return nil
	})
	if err != nil {
		return fmt.Errorf("load nonces: %w", err)
	}
	return nil
}

// Subscribe registers fn to receive every committed record.
func (c *Crystal) Subscribe(fn Listener) {
	c.listenMu.Lock()
	c.listeners = append(c.listeners, fn)
	c.listenMu.Unlock()
}

func (c *Crystal) notify(recs []Record) {
	if len(recs) == 0 {
		return
	}
	c.listenMu.RLock()
	ls := c.listeners
	c.listenMu.RUnlock()
	for _, r := range recs {
		for _, fn := range ls {
			fn(r)
		}
	}
}

func (c *Crystal) now() uint64 {
	return uint64(c.clock().Unix())
}

// currentReward is the flash fee source. Callers hold mu.
func (c *Crystal) currentReward() *uint256.Int {
	return c.engine.NextMint()
}

// Challenge submits seed as caller. A rejected attempt is not an error;
// the outcome and the records report it.
func (c *Crystal) Challenge(caller types.Address, seed *uint256.Int, tag string) (nupow.Outcome, error) {
	c.mu.Lock()
	out, recs, err := c.challengeLocked(caller, seed, tag, false)
	c.mu.Unlock()
	c.notify(recs)
	return out, err
}

// challengeLocked runs one attempt, consuming caller's nonce when signed.
// If it cannot be persisted the round, the reward, any mint and the nonce
// are rolled back and the error is returned with an empty outcome.
func (c *Crystal) challengeLocked(caller types.Address, seed *uint256.Int, tag string, signed bool) (nupow.Outcome, []Record, error) {
	var out nupow.Outcome
	recs, err := c.apply(func() ([]pendingRecord, error) {
		if signed {
			c.bumpNonce(caller)
		}
		out = c.engine.Challenge(seed, tag, caller, c.now())

		var pending []pendingRecord
		if out.Closed != nil {
			pending = append(pending, pendingRecord{KindRoundClosed, out.Closed})
		}
		pending = append(pending, c.ledgerRecords()...)
		if out.Progress != nil {
			pending = append(pending, pendingRecord{KindChainProgress, out.Progress})
		}
		return append(pending, pendingRecord{KindChallenge, out.Attempt}), nil
	})
	if err != nil {
		return nupow.Outcome{}, nil, err
	}
	return out, recs, nil
}

// Preview returns the outcome Challenge would produce right now without
// changing anything.
func (c *Crystal) Preview(caller types.Address, seed *uint256.Int) nupow.Outcome {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.engine.Preview(seed, caller, c.now())
}

// Transfer moves amount from from to to.
func (c *Crystal) Transfer(from, to types.Address, amount *uint256.Int) error {
	return c.mutate(func() error { return c.ledger.Transfer(from, to, amount) })
}

// Approve sets spender's allowance over owner's balance.
func (c *Crystal) Approve(owner, spender types.Address, amount *uint256.Int) error {
	return c.mutate(func() error { return c.ledger.Approve(owner, spender, amount) })
}

// TransferFrom moves amount from from to to on behalf of spender.
func (c *Crystal) TransferFrom(spender, from, to types.Address, amount *uint256.Int) error {
	return c.mutate(func() error { return c.ledger.TransferFrom(spender, from, to, amount) })
}

// mutate runs a ledger operation and commits its records. A failing
// operation leaves no trace.
func (c *Crystal) mutate(op func() error) error {
	c.mu.Lock()
	recs, err := c.mutateLocked(op)
	c.mu.Unlock()
	c.notify(recs)
	return err
}

func (c *Crystal) mutateLocked(op func() error) ([]Record, error) {
	return c.apply(func() ([]pendingRecord, error) {
		if err := op(); err != nil {
			return nil, err
		}
		return c.ledgerRecords(), nil
	})
}

// apply runs op as one operation and commits the records it returns.
// When op or the commit fails, the ledger, the engine and the nonces are
// put back as they were and nothing is written. Callers hold mu.
func (c *Crystal) apply(op func() ([]pendingRecord, error)) ([]Record, error) {
	snap := c.ledger.Snapshot()
	engineState := c.engine.State()
	c.nonceUndo = make(map[types.Address]uint64)
	defer func() { c.nonceUndo = nil }()

	pending, err := op()
	if err == nil {
		var recs []Record
		if recs, err = c.commit(pending); err == nil {
			c.ledger.Finalise()
			return recs, nil
		}
	}

	if rerr := c.ledger.RevertToSnapshot(snap); rerr != nil {
		klog.Node.Error().Err(rerr).Msg("Ledger rollback failed")
	}
	c.ledger.Finalise()
	c.engine.Rewind(engineState)
	for addr, n := range c.nonceUndo {
		c.nonces[addr] = n
	}
	return nil, err
}

// ledgerRecords converts the ledger events of the operation in progress.
func (c *Crystal) ledgerRecords() []pendingRecord {
	events := c.ledger.PendingEvents()
	out := make([]pendingRecord, 0, len(events))
	for _, ev := range events {
		out = append(out, ledgerRecord(ev))
	}
	return out
}

func ledgerRecord(ev ledger.Event) pendingRecord {
	kind := KindTransfer
	if ev.Kind == ledger.EventApproval {
		kind = KindApproval
	}
	return pendingRecord{kind, ev}
}

// commit writes engine state, ledger changes, nonces and records in one
// batch. In-memory bookkeeping only moves on once the batch is committed.
// Callers hold mu.
func (c *Crystal) commit(pending []pendingRecord) ([]Record, error) {
	now := c.now()
	recs, err := buildRecords(c.nextSeq, now, pending)
	if err != nil {
		return nil, err
	}

	batch := storage.NewBatch(c.db)
	st, err := json.Marshal(persistedState{
		Deployment: c.deployment,
		Engine:     c.engine.State(),
		NextSeq:    c.nextSeq + uint64(len(recs)),
	})
	if err != nil {
		return nil, fmt.Errorf("marshal state: %w", err)
	}
	if err := storage.WithPrefix(batch, prefixState).Put(keyState, st); err != nil {
		return nil, err
	}
	if err := c.ledger.Flush(storage.WithPrefix(batch, prefixLedger)); err != nil {
		return nil, err
	}
	nb := storage.WithPrefix(batch, prefixNonce)
	for addr := range c.dirty {
		if err := nb.Put(addr[:], beBytes(c.nonces[addr])); err != nil {
			return nil, err
		}
	}
	rb := storage.WithPrefix(batch, prefixRecords)
	for _, r := range recs {
		data, err := json.Marshal(r)
		if err != nil {
			return nil, fmt.Errorf("marshal record: %w", err)
		}
		if err := rb.Put(recordKey(r.Seq), data); err != nil {
			return nil, err
		}
	}
	if err := batch.Commit(); err != nil {
		klog.Storage.Error().Err(err).Msg("Commit failed")
		return nil, fmt.Errorf("commit: %w", err)
	}

	c.ledger.MarkClean()
	c.dirty = make(map[types.Address]struct{})
	c.nextSeq += uint64(len(recs))
	return recs, nil
}

// Records returns up to limit committed records starting at sequence from.
// A limit of zero returns all of them.
func (c *Crystal) Records(from uint64, limit int) ([]Record, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return readRecords(c.records, from, limit)
}

// RecordCount returns the number of committed records.
func (c *Crystal) RecordCount() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.nextSeq
}
