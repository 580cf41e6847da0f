// Package optimistic applies a client's transactions to a local shadow
// snapshot before the engine confirms them.
//
// The shadow is always the last confirmed snapshot with every pending
// transaction re-applied in submission order. A confirmation or
// rejection replaces the confirmed snapshot and rebuilds the shadow, so a
// rejected transaction disappears from the local view and its error is
// reported through the Pending handle.
package optimistic

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"

	"github.com/roach88/livegraph/internal/engine"
	"github.com/roach88/livegraph/internal/graph"
	"github.com/roach88/livegraph/internal/ir"
	"github.com/roach88/livegraph/internal/livequery"
	"github.com/roach88/livegraph/internal/txn"
)

// ErrClosed is returned by Transact after Close.
var ErrClosed = errors.New("optimistic client closed")

// Remote is the authoritative side. *engine.Engine implements it.
type Remote interface {
	Transact(ctx context.Context, tx ir.Transaction, who ir.Identity) (*engine.Receipt, error)
	Snapshot() *graph.Snapshot
}

var _ Remote = (*engine.Engine)(nil)

// Status is the lifecycle state of a submitted transaction.
type Status int

const (
	StatusPending Status = iota
	StatusCommitted
	StatusRejected
)

func (s Status) String() string {
	switch s {
	case StatusPending:
		return "pending"
	case StatusCommitted:
		return "committed"
	case StatusRejected:
		return "rejected"
	}
	return fmt.Sprintf("Status(%d)", int(s))
}

// Pending tracks one submitted transaction.
type Pending struct {
	tx   ir.Transaction
	done chan struct{}

	mu      sync.Mutex
	status  Status
	receipt *engine.Receipt
	err     error
}

// ID returns the client transaction id.
func (p *Pending) ID() string { return p.tx.ID }

// Transaction returns the transaction as submitted.
func (p *Pending) Transaction() ir.Transaction { return p.tx }

// Status returns the current lifecycle state.
func (p *Pending) Status() Status {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.status
}

// Done is closed once the transaction is committed or rejected.
func (p *Pending) Done() <-chan struct{} { return p.done }

// Wait blocks until the engine has decided and returns its receipt or
// rejection.
func (p *Pending) Wait(ctx context.Context) (*engine.Receipt, error) {
	select {
	case <-p.done:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.receipt, p.err
}

func (p *Pending) settle(receipt *engine.Receipt, err error) {
	p.mu.Lock()
	if err != nil {
		p.status, p.err = StatusRejected, err
	} else {
		p.status, p.receipt = StatusCommitted, receipt
	}
	p.mu.Unlock()
	close(p.done)
}

// Option configures a Client.
type Option func(*Client)

// WithIDGenerator sets the source of client transaction ids.
func WithIDGenerator(g engine.IDGenerator) Option {
	return func(c *Client) { c.ids = g }
}

// WithQueueSize bounds how many transactions may wait to be sent before
// Transact blocks. Default: 64.
func WithQueueSize(n int) Option {
	return func(c *Client) { c.queueSize = n }
}

// Client is one identity's optimistic view of the store. Transactions are
// sent to the remote one at a time, in submission order.
type Client struct {
	remote    Remote
	proc      *txn.Processor
	who       ir.Identity
	ids       engine.IDGenerator
	queueSize int

	mu        sync.Mutex
	confirmed *graph.Snapshot
	shadow    *graph.Snapshot
	pending   []*Pending
	closed    bool

	outbox chan *Pending
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewClient starts a client acting as who. proc must share the remote's
// schema and rules so local decisions match the engine's.
func NewClient(remote Remote, proc *txn.Processor, who ir.Identity, opts ...Option) *Client {
	c := &Client{
		remote:    remote,
		proc:      proc,
		who:       who,
		ids:       engine.UUIDv7Generator{},
		queueSize: 64,
	}
	for _, opt := range opts {
		opt(c)
	}
	snap := remote.Snapshot()
	c.confirmed, c.shadow = snap, snap
	c.outbox = make(chan *Pending, c.queueSize)
	c.ctx, c.cancel = context.WithCancel(context.Background())

	c.wg.Add(1)
	go c.send()
	return c
}

// Transact applies tx to the shadow snapshot and queues it for the
// remote. A transaction the local processor already rejects is never
// sent; its error is returned directly.
func (c *Client) Transact(ctx context.Context, tx ir.Transaction) (*Pending, error) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil, ErrClosed
	}
	if tx.ID == "" {
		tx.ID = c.ids.Generate()
	}
	tx.BaseSeq = c.confirmed.Seq()
	res, err := c.proc.Apply(c.shadow, tx, c.who, c.shadow.Seq()+1)
	if err != nil {
		c.mu.Unlock()
		slog.Debug("optimistic transaction rejected locally", "client_id", tx.ID, "error", err)
		return nil, err
	}
	p := &Pending{tx: tx, done: make(chan struct{})}
	c.pending = append(c.pending, p)
	c.shadow = res.Snapshot
	c.mu.Unlock()

	select {
	case c.outbox <- p:
		return p, nil
	case <-ctx.Done():
		c.settle(p, nil, ctx.Err())
		return nil, ctx.Err()
	case <-c.ctx.Done():
		c.settle(p, nil, ErrClosed)
		return nil, ErrClosed
	}
}

// Snapshot returns the shadow: confirmed state plus pending transactions.
func (c *Client) Snapshot() *graph.Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.shadow
}

// Confirmed returns the last snapshot received from the remote.
func (c *Client) Confirmed() *graph.Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.confirmed
}

// Pending returns the number of transactions awaiting a decision.
func (c *Client) Pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.pending)
}

// Query evaluates q against the shadow snapshot.
func (c *Client) Query(q livequery.Query) (livequery.Result, error) {
	plan, err := livequery.Compile(c.proc.Registry(), q)
	if err != nil {
		return livequery.Result{}, err
	}
	return livequery.Evaluate(plan, c.Snapshot(), c.proc.Evaluator(), c.who)
}

// Refresh adopts the remote's latest snapshot, picking up commits made by
// other clients, and rebuilds the shadow.
func (c *Client) Refresh() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.adopt(c.remote.Snapshot())
}

// Close stops sending. Transactions still queued are rejected with
// ErrClosed.
func (c *Client) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	c.mu.Unlock()

	c.cancel()
	c.wg.Wait()
	for {
		select {
		case p := <-c.outbox:
			c.settle(p, nil, ErrClosed)
		default:
			return
		}
	}
}

func (c *Client) send() {
	defer c.wg.Done()
	for {
		select {
		case <-c.ctx.Done():
			return
		case p := <-c.outbox:
			receipt, err := c.remote.Transact(c.ctx, p.tx, c.who)
			c.settle(p, receipt, err)
		}
	}
}

// settle records the remote's decision and rebuilds the shadow.
func (c *Client) settle(p *Pending, receipt *engine.Receipt, err error) {
	c.mu.Lock()
	c.pending = slices.DeleteFunc(c.pending, func(q *Pending) bool { return q == p })
	c.adopt(c.remote.Snapshot())
	c.mu.Unlock()

	if err != nil {
		slog.Debug("optimistic transaction rejected", "client_id", p.tx.ID, "code", txn.CodeOf(err), "error", err)
	} else {
		slog.Debug("optimistic transaction committed", "client_id", p.tx.ID, "seq", receipt.Seq)
	}
	p.settle(receipt, err)
}

// adopt must be called with c.mu held. Pending transactions that no
// longer apply locally are left out of the shadow; the remote still
// decides them.
func (c *Client) adopt(confirmed *graph.Snapshot) {
	if confirmed.Seq() < c.confirmed.Seq() {
		confirmed = c.confirmed
	}
	c.confirmed = confirmed
	shadow := confirmed
	for _, p := range c.pending {
		res, err := c.proc.Apply(shadow, p.tx, c.who, shadow.Seq()+1)
		if err != nil {
			slog.Debug("pending transaction no longer applies locally", "client_id", p.tx.ID, "error", err)
			continue
		}
		shadow = res.Snapshot
	}
	c.shadow = shadow
}
