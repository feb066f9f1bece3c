package live

import (
	"context"
	"time"

	"github.com/golang/glog"
	"k8s.io/utils/clock"

	"github.com/mind-engage/mindengage-nmt/internal/session"
)

// DefaultPollInterval is used when a Poller is built with a zero interval.
const DefaultPollInterval = 5 * time.Second

// GetFunc reads the current state of a session from storage.
type GetFunc func(ctx context.Context, sessionID string) (session.Snapshot, error)

// Poller is a Source that re-reads session state on an interval and emits
// only when it changed.
type Poller struct {
	get      GetFunc
	clk      clock.WithTicker
	interval time.Duration
}

func NewPoller(get GetFunc, clk clock.WithTicker, interval time.Duration) *Poller {
	if clk == nil {
		clk = clock.RealClock{}
	}
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	return &Poller{get: get, clk: clk, interval: interval}
}

// Subscribe reads the session once, failing if it cannot, then keeps
// polling until ctx is done. Read errors while polling are logged and the
// next tick tries again.
func (p *Poller) Subscribe(ctx context.Context, sessionID string) (<-chan session.Snapshot, error) {
	first, err := p.get(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	ch := make(chan session.Snapshot, 1)
	ch <- first

	go func() {
		defer close(ch)
		t := p.clk.NewTicker(p.interval)
		defer t.Stop()
		last := first
		for {
			select {
			case <-ctx.Done():
				return
			case <-t.C():
			}
			s, err := p.get(ctx, sessionID)
			if err != nil {
				if ctx.Err() == nil {
					glog.Warningf("poll session %s: %v", sessionID, err)
				}
				continue
			}
			if s.State.Equal(last.State) {
				continue
			}
			last = s
			select {
			case ch <- s:
			case <-ctx.Done():
				return
			}
		}
	}()
	return ch, nil
}
