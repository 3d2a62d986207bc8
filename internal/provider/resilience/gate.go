package resilience

import (
	"context"
	"sync"
	"time"
)

// CallGate enforces a provider's minimum inter-call interval. It is a plain
// "time since last call" gate, not a token bucket: providers differ in
// throttling rules and none of them need burst accounting, only spacing.
type CallGate struct {
	mu          sync.Mutex
	minInterval time.Duration
	lastCall    time.Time

	// now is swappable for tests.
	now func() time.Time
}

// NewCallGate creates a gate with the given minimum interval between calls.
// A zero or negative interval disables the gate.
func NewCallGate(minInterval time.Duration) *CallGate {
	return &CallGate{
		minInterval: minInterval,
		now:         time.Now,
	}
}

// Wait blocks until the interval since the previous call has elapsed, then
// reserves the current slot. It returns early with the context error if the
// caller's deadline passes first.
func (g *CallGate) Wait(ctx context.Context) error {
	if g.minInterval <= 0 {
		return nil
	}

	g.mu.Lock()
	now := g.now()
	wait := g.minInterval - now.Sub(g.lastCall)
	if wait <= 0 {
		g.lastCall = now
		g.mu.Unlock()
		return nil
	}
	// Reserve the slot before sleeping so concurrent callers queue up
	// behind this one instead of racing for the same slot.
	prev := g.lastCall
	reserved := now.Add(wait)
	g.lastCall = reserved
	g.mu.Unlock()

	timer := time.NewTimer(wait)
	defer timer.Stop()

	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		// Give the slot back unless a later caller already queued past it;
		// an aborted wait must not push the next call out a full interval.
		g.mu.Lock()
		if g.lastCall.Equal(reserved) {
			g.lastCall = prev
		}
		g.mu.Unlock()
		return ctx.Err()
	}
}

// TryReserve claims the current slot without blocking. It reports false
// when the minimum interval since the previous call has not elapsed yet,
// letting the caller fail fast instead of eating its deadline in the gate.
func (g *CallGate) TryReserve() bool {
	if g.minInterval <= 0 {
		return true
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	now := g.now()
	if now.Sub(g.lastCall) < g.minInterval {
		return false
	}
	g.lastCall = now
	return true
}

// TrySince reports how long until the next call is allowed. Zero means a
// call may proceed immediately.
func (g *CallGate) TrySince() time.Duration {
	if g.minInterval <= 0 {
		return 0
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	wait := g.minInterval - g.now().Sub(g.lastCall)
	if wait < 0 {
		return 0
	}
	return wait
}
