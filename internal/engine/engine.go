package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/roach88/livegraph/internal/graph"
	"github.com/roach88/livegraph/internal/ir"
	"github.com/roach88/livegraph/internal/livequery"
	"github.com/roach88/livegraph/internal/rules"
	"github.com/roach88/livegraph/internal/schema"
	"github.com/roach88/livegraph/internal/store"
	"github.com/roach88/livegraph/internal/txn"
)

var (
	// ErrClosed is returned by every write after Close.
	ErrClosed = errors.New("engine closed")

	// ErrSchemaMismatch means the store was written under a different
	// schema than the one the engine was started with.
	ErrSchemaMismatch = errors.New("schema does not match store")

	// ErrNoStore is returned by operations that need a durable log.
	ErrNoStore = errors.New("engine has no store")
)

// Receipt describes a committed transaction.
type Receipt struct {
	Seq       int64        `json:"seq"`
	TxID      string       `json:"tx_id"`
	ClientID  string       `json:"client_id,omitempty"` // the submitted Transaction.ID
	Changelog ir.Changelog `json:"changelog"`
	Expanded  []ir.Op      `json:"expanded"`
}

// Option configures an Engine.
type Option func(*Engine)

// WithStore persists every commit to s and restores state from it on New.
func WithStore(s *store.Store) Option {
	return func(e *Engine) { e.store = s }
}

// WithMaxOps sets the per-transaction op budget, cascades included.
//
// Default: txn.DefaultMaxOps.
func WithMaxOps(n int) Option {
	return func(e *Engine) { e.maxOps = n }
}

// WithIDGenerator sets the generator behind NewID. Tests pass a
// FixedGenerator for reproducible ids.
func WithIDGenerator(g IDGenerator) Option {
	return func(e *Engine) { e.ids = g }
}

// WithClock resumes seqs from c. Its current value must equal the seq of
// the restored snapshot.
func WithClock(c *Clock) Option {
	return func(e *Engine) { e.clock = c }
}

// Engine is the single writer in front of the graph.
//
// Thread-safety model:
//   - Transact, Subscribe, Close: serialized on the writer lock
//   - Snapshot, Query: lock-free reads of the published snapshot
//
// Each commit authorizes, persists, publishes the new snapshot and hands
// its changelog to the live query engine before the lock is released, so
// subscribers see commits in seq order and readers never see a snapshot
// that is not durable.
type Engine struct {
	reg        *schema.Registry
	eval       *rules.Evaluator
	proc       *txn.Processor
	live       *livequery.Engine
	store      *store.Store
	clock      *Clock
	ids        IDGenerator
	maxOps     int
	schemaHash string

	mu     sync.Mutex
	closed bool
	snap   atomic.Pointer[graph.Snapshot]
}

// New validates rs against reg and starts an engine. With a store, the
// last committed snapshot is restored and the store's schema hash must
// match reg.
func New(ctx context.Context, reg *schema.Registry, rs *rules.RuleSet, opts ...Option) (*Engine, error) {
	if rs == nil {
		rs = rules.NewRuleSet()
	}
	if errs := rs.Validate(reg); len(errs) > 0 {
		return nil, fmt.Errorf("invalid rules: %w", errors.Join(errs...))
	}
	hash, err := reg.Hash()
	if err != nil {
		return nil, fmt.Errorf("schema hash: %w", err)
	}

	e := &Engine{
		reg:        reg,
		eval:       rules.NewEvaluator(reg, rs),
		ids:        UUIDv7Generator{},
		maxOps:     txn.DefaultMaxOps,
		schemaHash: hash,
	}
	for _, opt := range opts {
		opt(e)
	}
	e.proc = txn.NewProcessor(reg, e.eval, txn.WithMaxOps(e.maxOps))
	e.live = livequery.NewEngine(reg, e.eval)

	snap := graph.New(reg)
	if e.store != nil {
		stored, err := e.store.SchemaHash(ctx)
		if err != nil {
			return nil, err
		}
		if stored != "" && stored != hash {
			return nil, fmt.Errorf("%w: store has %s, engine has %s", ErrSchemaMismatch, shortHash(stored), shortHash(hash))
		}
		snap, err = e.store.LoadSnapshot(ctx, reg)
		if err != nil {
			return nil, err
		}
	}

	if e.clock == nil {
		e.clock = NewClockAt(snap.Seq())
	} else if e.clock.Current() != snap.Seq() {
		return nil, fmt.Errorf("clock at seq %d, snapshot at seq %d", e.clock.Current(), snap.Seq())
	}
	e.snap.Store(snap)

	slog.Info("engine started",
		"schema_hash", shortHash(hash),
		"seq", snap.Seq(),
		"entities", snap.Len(),
		"durable", e.store != nil,
	)
	return e, nil
}

// Transact applies tx on behalf of who and publishes the result. A
// rejected transaction returns a *txn.Error and changes nothing.
func (e *Engine) Transact(ctx context.Context, tx ir.Transaction, who ir.Identity) (*Receipt, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	start := time.Now()

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return nil, ErrClosed
	}

	base := e.snap.Load()
	seq := e.clock.Peek()
	res, err := e.proc.Apply(base, tx, who, seq)
	if err != nil {
		rejectionsTotal.WithLabelValues(string(txn.CodeOf(err))).Inc()
		slog.Info("transaction rejected",
			"client_id", tx.ID,
			"identity", who.ID,
			"ops", len(tx.Ops),
			"code", txn.CodeOf(err),
			"error", err,
		)
		return nil, err
	}

	txID, err := ir.TransactionID(res.Expanded, seq)
	if err != nil {
		return nil, fmt.Errorf("transaction id: %w", err)
	}
	if e.store != nil {
		c := store.Commit{
			Seq:           seq,
			TxID:          txID,
			Actor:         who,
			Ops:           res.Expanded,
			Touches:       res.Touches,
			SchemaHash:    e.schemaHash,
			EngineVersion: ir.EngineVersion,
			IRVersion:     ir.IRVersion,
		}
		if err := e.store.WriteCommit(ctx, c, res.Delta); err != nil {
			return nil, err
		}
	}

	e.clock.Next()
	e.snap.Store(res.Snapshot)
	cl := ir.Changelog{Seq: seq, TxID: txID, Touches: res.Touches}
	scheduled := e.live.Notify(res.Snapshot, cl)

	cascaded := countCascades(res.Expanded)
	commitsTotal.Inc()
	cascadeDeletesTotal.Add(float64(cascaded))
	commitDuration.Observe(time.Since(start).Seconds())
	slog.Debug("transaction committed",
		"seq", seq,
		"tx_id", shortHash(txID),
		"client_id", tx.ID,
		"identity", who.ID,
		"ops", len(res.Expanded),
		"cascaded", cascaded,
		"touches", len(res.Touches),
		"subscriptions", scheduled,
	)

	return &Receipt{
		Seq:       seq,
		TxID:      txID,
		ClientID:  tx.ID,
		Changelog: cl,
		Expanded:  res.Expanded,
	}, nil
}

// TransactAdmin applies tx with rules bypassed.
func (e *Engine) TransactAdmin(ctx context.Context, tx ir.Transaction) (*Receipt, error) {
	return e.Transact(ctx, tx, ir.Identity{Admin: true})
}

// Expand returns tx with cascade deletes made explicit against the
// current snapshot. Nothing is committed.
func (e *Engine) Expand(tx ir.Transaction) ([]ir.Op, error) {
	return e.proc.Expand(e.Snapshot(), tx)
}

// Query evaluates q once against the current snapshot.
func (e *Engine) Query(q livequery.Query, who ir.Identity) (livequery.Result, error) {
	return e.live.Query(q, who, e.Snapshot())
}

// Subscribe opens a live query. The writer lock is held while the
// subscription is registered, so no commit falls between its initial
// result and its first update.
func (e *Engine) Subscribe(ctx context.Context, q livequery.Query, who ir.Identity) (*livequery.Subscription, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return nil, ErrClosed
	}
	return e.live.Subscribe(ctx, q, who, e.snap.Load())
}

// Snapshot returns the latest committed snapshot.
func (e *Engine) Snapshot() *graph.Snapshot { return e.snap.Load() }

// Seq returns the seq of the latest commit.
func (e *Engine) Seq() int64 { return e.clock.Current() }

// Registry returns the schema.
func (e *Engine) Registry() *schema.Registry { return e.reg }

// Evaluator returns the permission evaluator.
func (e *Engine) Evaluator() *rules.Evaluator { return e.eval }

// Store returns the backing store, or nil for an in-memory engine.
func (e *Engine) Store() *store.Store { return e.store }

// SchemaHash returns the hash of the engine's schema.
func (e *Engine) SchemaHash() string { return e.schemaHash }

// Subscriptions returns the number of open live queries.
func (e *Engine) Subscriptions() int { return e.live.Len() }

// NewID returns a fresh entity id.
func (e *Engine) NewID() string { return e.ids.Generate() }

// Close ends every subscription and rejects further writes. The store is
// owned by the caller and stays open.
func (e *Engine) Close() {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return
	}
	e.closed = true
	e.mu.Unlock()

	e.live.Close()
	slog.Info("engine stopped", "seq", e.Seq())
}

func countCascades(ops []ir.Op) int {
	n := 0
	for _, op := range ops {
		if op.Cascade {
			n++
		}
	}
	return n
}

func shortHash(h string) string {
	if len(h) > 12 {
		return h[:12]
	}
	return h
}
