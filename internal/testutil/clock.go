package testutil

import (
	"sync"
	"sync/atomic"
	"time"
)

// Clock is a manual time source. Its Now method fits the now-func options
// of the vault and pulse modules, and NewTicker fits pulse.TickerFactory.
type Clock struct {
	mu      sync.Mutex
	now     time.Time
	tickers []*Ticker
}

// NewClock returns a Clock set to now, or to 2025-01-01 00:00 UTC.
func NewClock(now ...time.Time) *Clock {
	t := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	if len(now) > 0 {
		t = now[0]
	}
	return &Clock{now: t}
}

func (c *Clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// Advance moves the clock forward by d and fires every running ticker whose
// next tick has come due. Like time.Ticker, a tick is dropped when the
// previous one has not been received yet.
func (c *Clock) Advance(d time.Duration) time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
	for _, t := range c.tickers {
		t.fire(c.now)
	}
	return c.now
}

// Set overrides the current time without firing tickers.
func (c *Clock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = t
}

// NewTicker returns a Ticker with period d driven by Advance.
func (c *Clock) NewTicker(d time.Duration) *Ticker {
	if d <= 0 {
		d = time.Nanosecond
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	t := &Ticker{ch: make(chan time.Time, 1), period: d, next: c.now.Add(d)}
	c.tickers = append(c.tickers, t)
	return t
}

// Ticker is a Clock-driven ticker.
type Ticker struct {
	ch      chan time.Time
	period  time.Duration
	next    time.Time // guarded by the owning Clock's mu
	stopped atomic.Bool
}

func (t *Ticker) C() <-chan time.Time { return t.ch }

func (t *Ticker) Stop() { t.stopped.Store(true) }

// Stopped reports whether Stop has been called.
func (t *Ticker) Stopped() bool { return t.stopped.Load() }

// Period returns the tick interval.
func (t *Ticker) Period() time.Duration { return t.period }

func (t *Ticker) fire(now time.Time) {
	if t.stopped.Load() || now.Before(t.next) {
		return
	}
	missed := now.Sub(t.next)/t.period + 1
	t.next = t.next.Add(missed * t.period)
	select {
	case t.ch <- now:
	default:
	}
}
