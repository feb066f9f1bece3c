package session

import (
	"context"
	"fmt"
	"sync"
	"time"

	"k8s.io/utils/clock"
)

// TickInterval is how often a running Countdown recomputes.
const TickInterval = time.Second

// PausedLabel is shown instead of the countdown while a session is paused.
const PausedLabel = "Призупинено"

// Remaining returns the time left on the session clock. The second result is
// false when the clock does not apply: the session is not active or has no
// end time recorded.
func Remaining(s State, now time.Time) (time.Duration, bool) {
	if s.Status != StatusActive || s.EndTime == nil {
		return 0, false
	}
	ref := now
	if s.IsPaused && s.PausedAt != nil {
		ref = *s.PausedAt
	}
	left := s.EndTime.Sub(ref)
	if left < 0 {
		left = 0
	}
	return left, true
}

// Expired reports whether a running (not paused) session has no time left.
func Expired(s State, now time.Time) bool {
	left, ok := Remaining(s, now)
	return ok && !s.IsPaused && left == 0
}

// FormatRemaining renders d as HH:MM:SS, truncating to whole seconds.
func FormatRemaining(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	total := int64(d / time.Second)
	return fmt.Sprintf("%02d:%02d:%02d", total/3600, (total%3600)/60, total%60)
}

// Source delivers session state changes, pushed or polled.
type Source interface {
	Subscribe(ctx context.Context, sessionID string) (<-chan Snapshot, error)
}

// Countdown tracks one session's clock and fires onExpire once each time
// the remaining time reaches zero while the session is running.
type Countdown struct {
	clk      clock.WithTicker
	onExpire func()

	mu    sync.Mutex
	state State
	fired bool
}

func NewCountdown(clk clock.WithTicker, onExpire func()) *Countdown {
	if clk == nil {
		clk = clock.RealClock{}
	}
	return &Countdown{clk: clk, onExpire: onExpire}
}

// Update replaces the tracked state. A state with time left re-arms the
// expiry signal.
func (c *Countdown) Update(s State) (time.Duration, bool) {
	c.mu.Lock()
	c.state = s
	if left, ok := Remaining(s, c.clk.Now()); !ok || left > 0 {
		c.fired = false
	}
	c.mu.Unlock()
	return c.Tick()
}

// Tick recomputes the remaining time against the clock.
func (c *Countdown) Tick() (time.Duration, bool) {
	c.mu.Lock()
	now := c.clk.Now()
	left, ok := Remaining(c.state, now)
	fire := false
	if ok && left == 0 && !c.state.IsPaused && !c.fired {
		c.fired = true
		fire = true
	}
	c.mu.Unlock()

	if fire && c.onExpire != nil {
		c.onExpire()
	}
	return left, ok
}

func (c *Countdown) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Run ticks every TickInterval and applies updates until ctx is done. emit is
// called after every recomputation.
func (c *Countdown) Run(ctx context.Context, updates <-chan Snapshot, emit func(left time.Duration, ok bool)) error {
	t := c.clk.NewTicker(TickInterval)
	defer t.Stop()
	for {
		var (
			left time.Duration
			ok   bool
		)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case snap, open := <-updates:
			if !open {
				updates = nil
				continue
			}
			left, ok = c.Update(snap.State)
		case <-t.C():
			left, ok = c.Tick()
		}
		if emit != nil {
			emit(left, ok)
		}
	}
}
