package clock

import (
	"sync/atomic"
	"time"
)

// Clock reports the current simulation tick.
type Clock interface {
	Now() int64
}

// SimClock is a manually advanced clock shared by all nodes of a simulation.
type SimClock struct {
	now atomic.Int64
}

// NewSimClock creates a clock starting at tick 0.
func NewSimClock() *SimClock {
	return &SimClock{}
}

// Now returns the current tick.
func (c *SimClock) Now() int64 {
	return c.now.Load()
}

// Advance moves the clock forward by one tick and returns the new value.
func (c *SimClock) Advance() int64 {
	return c.now.Add(1)
}

// Set jumps the clock to t. Used by tests to age state.
func (c *SimClock) Set(t int64) {
	c.now.Store(t)
}

// WallClock maps wall time onto ticks of a fixed period, for nodes running
// over a real network instead of inside a lock-step simulation.
type WallClock struct {
	start  time.Time
	period time.Duration
	since  func(time.Time) time.Duration
}

// NewWallClock starts counting ticks of the given period from now.
func NewWallClock(period time.Duration) *WallClock {
	if period <= 0 {
		period = time.Second
	}
	return &WallClock{
		start:  time.Now(),
		period: period,
		since:  time.Since,
	}
}

// Now returns the number of whole periods elapsed since the clock started.
func (c *WallClock) Now() int64 {
	return int64(c.since(c.start) / c.period)
}

// Func adapts a plain function to Clock.
type Func func() int64

// Now calls f.
func (f Func) Now() int64 {
	return f()
}
