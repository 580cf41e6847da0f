package livequery

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"

	"github.com/roach88/livegraph/internal/graph"
	"github.com/roach88/livegraph/internal/ir"
	"github.com/roach88/livegraph/internal/rules"
	"github.com/roach88/livegraph/internal/schema"
)

// ErrClosed is returned by Subscribe after Close.
var ErrClosed = errors.New("live query engine closed")

// Engine tracks subscriptions and routes committed changelogs to the ones
// whose dependencies they touch.
//
// Thread-safety model:
//   - Subscribe, Notify, Close: safe from any goroutine
//   - Notify never blocks on a subscriber; each subscription recomputes
//     on its own goroutine
//
// The caller must not let a commit slip between reading the snapshot it
// passes to Subscribe and the subscription being registered; the store
// engine holds its writer lock across both.
type Engine struct {
	reg  *schema.Registry
	eval *rules.Evaluator

	mu     sync.Mutex
	subs   map[uint64]*Subscription
	nextID uint64
	closed bool
}

// NewEngine creates a live query engine.
func NewEngine(reg *schema.Registry, eval *rules.Evaluator) *Engine {
	return &Engine{reg: reg, eval: eval, subs: make(map[uint64]*Subscription)}
}

// Query evaluates q once against snap.
func (e *Engine) Query(q Query, who ir.Identity, snap *graph.Snapshot) (Result, error) {
	plan, err := Compile(e.reg, q)
	if err != nil {
		return Result{}, err
	}
	return Evaluate(plan, snap, e.eval, who)
}

// Subscribe evaluates q against snap and opens a subscription. The first
// value on C() is that initial result; later values follow commits that
// change it. The subscription ends when ctx is cancelled or Close is
// called.
func (e *Engine) Subscribe(ctx context.Context, q Query, who ir.Identity, snap *graph.Snapshot) (*Subscription, error) {
	plan, err := Compile(e.reg, q)
	if err != nil {
		return nil, err
	}
	initial, err := Evaluate(plan, snap, e.eval, who)
	if err != nil {
		return nil, fmt.Errorf("subscribe: %w", err)
	}

	deps := make(map[string]bool)
	for _, typ := range plan.Types(e.reg) {
		for _, dep := range e.eval.DependentTypes(typ, rules.View) {
			deps[dep] = true
		}
	}

	ctx, cancel := context.WithCancel(ctx)
	sub := &Subscription{
		engine:  e,
		plan:    plan,
		who:     who,
		deps:    deps,
		queue:   newSnapshotQueue(),
		out:     make(chan Result),
		done:    make(chan struct{}),
		cancel:  cancel,
		initial: initial,
	}

	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		cancel()
		return nil, ErrClosed
	}
	e.nextID++
	sub.id = e.nextID
	e.subs[sub.id] = sub
	e.mu.Unlock()

	subscriptionsActive.Inc()
	slog.Debug("subscription opened",
		"subscription", sub.id,
		"type", plan.Type,
		"identity", who.ID,
		"seq", snap.Seq(),
		"deps", sub.Dependencies(),
	)
	go sub.run(ctx)
	return sub, nil
}

// Notify hands a committed snapshot and its changelog to every
// subscription whose dependency set the changelog touches. It returns
// how many subscriptions were scheduled for recompute.
func (e *Engine) Notify(snap *graph.Snapshot, cl ir.Changelog) int {
	types := cl.Types()

	e.mu.Lock()
	defer e.mu.Unlock()

	n := 0
	for _, sub := range e.subs {
		if !sub.dependsOn(types) {
			continue
		}
		if sub.queue.Enqueue(snap) {
			n++
		}
	}
	return n
}

// Len returns the number of open subscriptions.
func (e *Engine) Len() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.subs)
}

// Close ends every subscription and rejects new ones.
func (e *Engine) Close() {
	e.mu.Lock()
	e.closed = true
	subs := make([]*Subscription, 0, len(e.subs))
	for _, sub := range e.subs {
		subs = append(subs, sub)
	}
	e.mu.Unlock()

	for _, sub := range subs {
		sub.Close()
	}
}

func (e *Engine) remove(id uint64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, ok := e.subs[id]; ok {
		delete(e.subs, id)
		subscriptionsActive.Dec()
	}
}

// Subscription is one open live query.
type Subscription struct {
	id      uint64
	engine  *Engine
	plan    *Plan
	who     ir.Identity
	deps    map[string]bool
	queue   *snapshotQueue
	out     chan Result
	done    chan struct{}
	cancel  context.CancelFunc
	initial Result
}

// ID identifies the subscription within its engine.
func (s *Subscription) ID() uint64 { return s.id }

// C delivers results. It is closed when the subscription ends.
func (s *Subscription) C() <-chan Result { return s.out }

// Done is closed once the subscription has stopped.
func (s *Subscription) Done() <-chan struct{} { return s.done }

// Plan returns the compiled query.
func (s *Subscription) Plan() *Plan { return s.plan }

// Pending returns the number of snapshots queued for recompute.
func (s *Subscription) Pending() int { return s.queue.Len() }

// Dependencies returns the entity types whose changes trigger recompute.
func (s *Subscription) Dependencies() []string {
	out := make([]string, 0, len(s.deps))
	for t := range s.deps {
		out = append(out, t)
	}
	slices.Sort(out)
	return out
}

// Close stops emissions, releases dependency tracking, and waits for the
// subscription goroutine to exit.
func (s *Subscription) Close() {
	s.cancel()
	<-s.done
}

func (s *Subscription) dependsOn(types []string) bool {
	for _, t := range types {
		if s.deps[t] {
			return true
		}
	}
	return false
}

func (s *Subscription) run(ctx context.Context) {
	defer func() {
		s.engine.remove(s.id)
		s.queue.Close()
		close(s.out)
		close(s.done)
		slog.Debug("subscription closed", "subscription", s.id)
	}()

	last := s.initial
	if !s.send(ctx, last) {
		return
	}
	emissionsTotal.WithLabelValues("initial").Inc()

	for {
		select {
		case <-ctx.Done():
			return
		case <-s.queue.Wait():
		}

		snap, ok := s.queue.DrainLatest()
		if !ok || snap.Seq() <= last.Seq {
			continue
		}
		res, err := Evaluate(s.plan, snap, s.engine.eval, s.who)
		if err != nil {
			slog.Error("live query recompute failed",
				"subscription", s.id,
				"seq", snap.Seq(),
				"error", err,
			)
			continue
		}
		recomputesTotal.Inc()
		if res.Hash == last.Hash {
			last.Seq = res.Seq
			skippedTotal.Inc()
			continue
		}
		last = res
		if !s.send(ctx, res) {
			return
		}
		emissionsTotal.WithLabelValues("update").Inc()
	}
}

func (s *Subscription) send(ctx context.Context, res Result) bool {
	select {
	case s.out <- res:
		return true
	case <-ctx.Done():
		return false
	}
}
