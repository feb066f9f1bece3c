package live

import (
	"context"
	"sync"
	"time"

	"github.com/golang/glog"
	"k8s.io/apimachinery/pkg/util/sets"
	"k8s.io/apimachinery/pkg/util/wait"
	"k8s.io/utils/clock"

	"github.com/mind-engage/mindengage-nmt/internal/exam"
	"github.com/mind-engage/mindengage-nmt/internal/session"
)

// DefaultSweepInterval is used when Run is given a zero interval.
const DefaultSweepInterval = time.Second

// Sessions is the part of exam.Service the sweeper drives.
type Sessions interface {
	ListSessions(ctx context.Context, opts exam.SessionListOpts) ([]exam.Session, error)
	ExpireSession(ctx context.Context, id string) (int, error)
}

// Sweeper keeps a Countdown for every active session and finalizes the
// session's open attempts when its countdown expires.
type Sweeper struct {
	svc Sessions
	clk clock.WithTicker

	mu         sync.Mutex
	countdowns map[string]*session.Countdown
	due        []string
}

func NewSweeper(svc Sessions, clk clock.WithTicker) *Sweeper {
	if clk == nil {
		clk = clock.RealClock{}
	}
	return &Sweeper{svc: svc, clk: clk, countdowns: map[string]*session.Countdown{}}
}

// Sweep refreshes the countdowns from storage and expires every session
// whose countdown fired. A failed expiry is retried on the next sweep.
func (s *Sweeper) Sweep(ctx context.Context) error {
	active, err := s.svc.ListSessions(ctx, exam.SessionListOpts{Status: session.StatusActive})
	if err != nil {
		return err
	}

	s.mu.Lock()
	seen := sets.New[string]()
	for _, ss := range active {
		seen.Insert(ss.ID)
		cd, ok := s.countdowns[ss.ID]
		if !ok {
			id := ss.ID
			cd = session.NewCountdown(s.clk, func() { s.due = append(s.due, id) })
			s.countdowns[id] = cd
		}
		cd.Update(ss.State)
	}
	for id := range s.countdowns {
		if !seen.Has(id) {
			delete(s.countdowns, id)
		}
	}
	due := s.due
	s.due = nil
	s.mu.Unlock()

	for _, id := range due {
		n, err := s.svc.ExpireSession(ctx, id)
		if err != nil {
			glog.Errorf("sweeper: expire session %s: %v", id, err)
			s.mu.Lock()
			delete(s.countdowns, id)
			s.mu.Unlock()
			continue
		}
		glog.Infof("sweeper: session %s expired, %d attempts finalized", id, n)
	}
	return nil
}

// Tracked returns the ids of sessions with a live countdown.
func (s *Sweeper) Tracked() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return sets.List(sets.KeySet(s.countdowns))
}

// Run sweeps every interval until ctx is done.
func (s *Sweeper) Run(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = DefaultSweepInterval
	}
	glog.Infof("sweeper: running every %s", interval)
	wait.UntilWithContext(ctx, func(ctx context.Context) {
		if err := s.Sweep(ctx); err != nil && ctx.Err() == nil {
			glog.Warningf("sweeper: %v", err)
		}
	}, interval)
}
