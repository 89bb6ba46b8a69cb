package stream

import (
	"sync"
	"time"
)

// Throttler rate-limits UI renders during streaming to a configured fps.
// Requests arriving faster than the budget collapse into a single pending
// timer; the number of suppressed immediate renders is counted.
type Throttler struct {
	mu         sync.Mutex
	interval   time.Duration
	render     func()
	lastRender time.Time
	pending    *time.Timer
	throttled  int
}

// NewThrottler creates a throttler invoking render at most fps times/second.
func NewThrottler(fps int, render func()) *Throttler {
	if fps <= 0 {
		fps = 24
	}
	return &Throttler{
		interval: time.Second / time.Duration(fps),
		render:   render,
	}
}

// Request asks for a render. Renders immediately when the budget allows,
// otherwise arms (or leaves armed) one pending timer.
func (t *Throttler) Request() {
	t.mu.Lock()
	now := time.Now()
	if now.Sub(t.lastRender) >= t.interval {
		t.lastRender = now
		t.mu.Unlock()
		t.render()
		return
	}
	t.throttled++
	if t.pending == nil {
		delay := t.interval - now.Sub(t.lastRender)
		t.pending = time.AfterFunc(delay, t.firePending)
	}
	t.mu.Unlock()
}

func (t *Throttler) firePending() {
	t.mu.Lock()
	t.pending = nil
	t.lastRender = time.Now()
	t.mu.Unlock()
	t.render()
}

// ForceFlush cancels any pending timer and renders immediately.
func (t *Throttler) ForceFlush() {
	t.mu.Lock()
	if t.pending != nil {
		t.pending.Stop()
		t.pending = nil
	}
	t.lastRender = time.Now()
	t.mu.Unlock()
	t.render()
}

// ThrottledRenders returns the count of suppressed immediate renders.
func (t *Throttler) ThrottledRenders() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.throttled
}
