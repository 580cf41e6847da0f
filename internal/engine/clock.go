package engine

import "sync/atomic"

// Clock hands out commit seqs. Every accepted transaction is stamped with
// the next value; seqs never come from wall-clock time, so replaying the
// log reproduces them exactly.
//
// Clock is safe for concurrent use, but only the writer advances it.
type Clock struct {
	seq atomic.Int64
}

// NewClock creates a clock at 0. The first commit gets seq 1.
func NewClock() *Clock {
	return &Clock{}
}

// NewClockAt creates a clock resuming after start, e.g. the last seq
// restored from the store.
func NewClockAt(start int64) *Clock {
	c := &Clock{}
	c.seq.Store(start)
	return c
}

// Next advances the clock and returns the new seq.
func (c *Clock) Next() int64 {
	return c.seq.Add(1)
}

// Peek returns the seq Next would return, without advancing.
func (c *Clock) Peek() int64 {
	return c.seq.Load() + 1
}

// Current returns the last seq handed out.
func (c *Clock) Current() int64 {
	return c.seq.Load()
}
