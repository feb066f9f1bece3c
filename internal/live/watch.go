package live

import (
	"context"
	"net/http"
	"time"

	"github.com/golang/glog"
	"github.com/gorilla/websocket"
	"k8s.io/utils/clock"

	"github.com/mind-engage/mindengage-nmt/internal/session"
)

const writeWait = 10 * time.Second

// Tick is one countdown reading as sent to clients. RemainingMs is null when
// the clock does not apply to the session.
type Tick struct {
	SessionID   string         `json:"sessionId"`
	Status      session.Status `json:"status"`
	IsPaused    bool           `json:"isPaused"`
	EndTime     *time.Time     `json:"endTime,omitempty"`
	RemainingMs *int64         `json:"remainingMs"`
	Display     string         `json:"display"`
}

func NewTick(s session.Snapshot, left time.Duration, ok bool) Tick {
	t := Tick{SessionID: s.ID, Status: s.Status, IsPaused: s.IsPaused, EndTime: s.EndTime}
	if ok {
		ms := left.Milliseconds()
		t.RemainingMs = &ms
		t.Display = session.FormatRemaining(left)
	}
	if s.IsPaused {
		t.Display = session.PausedLabel
	}
	return t
}

// Reading computes the tick for s at now.
func Reading(s session.Snapshot, now time.Time) Tick {
	left, ok := session.Remaining(s.State, now)
	if !ok && s.Status == session.StatusActive {
		glog.Warningf("session %s is active without an end time", s.ID)
	}
	return NewTick(s, left, ok)
}

// Watcher streams a session's countdown over a WebSocket, one message per
// second plus one per state change.
type Watcher struct {
	src      session.Source
	clk      clock.WithTicker
	upgrader websocket.Upgrader
}

// NewWatcher builds a Watcher. A nil checkOrigin accepts any origin.
func NewWatcher(src session.Source, clk clock.WithTicker, checkOrigin func(*http.Request) bool) *Watcher {
	if clk == nil {
		clk = clock.RealClock{}
	}
	if checkOrigin == nil {
		checkOrigin = func(*http.Request) bool { return true }
	}
	return &Watcher{
		src: src,
		clk: clk,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     checkOrigin,
		},
	}
}

// Serve upgrades the request and streams ticks for initial.ID until the
// client goes away.
func (wt *Watcher) Serve(w http.ResponseWriter, r *http.Request, initial session.Snapshot) {
	conn, err := wt.upgrader.Upgrade(w, r, nil)
	if err != nil {
		glog.Errorf("watch %s: upgrade: %v", initial.ID, err)
		return
	}
	defer conn.Close()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	// Reads only detect the close; clients send nothing meaningful.
	go func() {
		defer cancel()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	updates, err := wt.src.Subscribe(ctx, initial.ID)
	if err != nil {
		glog.Errorf("watch %s: subscribe: %v", initial.ID, err)
		_ = conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseInternalServerErr, "subscribe failed"))
		return
	}

	cd := session.NewCountdown(wt.clk, nil)
	send := func(left time.Duration, ok bool) {
		tick := NewTick(session.Snapshot{ID: initial.ID, State: cd.State()}, left, ok)
		_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
		if err := conn.WriteJSON(tick); err != nil {
			glog.V(2).Infof("watch %s: write: %v", initial.ID, err)
			cancel()
		}
	}
	send(cd.Update(initial.State))
	if err := cd.Run(ctx, updates, send); err != nil && ctx.Err() == nil {
		glog.Warningf("watch %s: %v", initial.ID, err)
	}
	glog.V(2).Infof("watch %s: closed", initial.ID)
}
