// Package live delivers session clock state to clients and finalizes
// attempts when a session's time runs out.
package live

import (
	"context"
	"sync"

	"github.com/golang/glog"

	"github.com/mind-engage/mindengage-nmt/internal/session"
)

// Hub fans session snapshots out to in-process subscribers. A slow
// subscriber only ever sees the latest snapshot.
type Hub struct {
	mu   sync.Mutex
	subs map[string]map[chan session.Snapshot]struct{}
	last map[string]session.Snapshot
}

func NewHub() *Hub {
	return &Hub{
		subs: map[string]map[chan session.Snapshot]struct{}{},
		last: map[string]session.Snapshot{},
	}
}

// Publish records s as the latest state of its session and hands it to
// every subscriber.
func (h *Hub) Publish(s session.Snapshot) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.last[s.ID] = s
	for ch := range h.subs[s.ID] {
		offer(ch, s)
	}
	glog.V(2).Infof("hub: session %s -> %d subscribers", s.ID, len(h.subs[s.ID]))
}

// Subscribe returns a channel of snapshots for sessionID, starting with the
// last published one if any. The channel is closed when ctx is done.
func (h *Hub) Subscribe(ctx context.Context, sessionID string) (<-chan session.Snapshot, error) {
	ch := make(chan session.Snapshot, 1)
	h.mu.Lock()
	if h.subs[sessionID] == nil {
		h.subs[sessionID] = map[chan session.Snapshot]struct{}{}
	}
	h.subs[sessionID][ch] = struct{}{}
	if s, ok := h.last[sessionID]; ok {
		ch <- s
	}
	h.mu.Unlock()

	go func() {
		<-ctx.Done()
		h.mu.Lock()
		defer h.mu.Unlock()
		delete(h.subs[sessionID], ch)
		if len(h.subs[sessionID]) == 0 {
			delete(h.subs, sessionID)
		}
		close(ch)
	}()
	return ch, nil
}

// Forget drops the remembered state of a deleted session.
func (h *Hub) Forget(sessionID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.last, sessionID)
}

// offer replaces a pending snapshot with s. Callers hold the hub lock, so
// nothing else sends on ch concurrently.
func offer(ch chan session.Snapshot, s session.Snapshot) {
	select {
	case ch <- s:
		return
	default:
	}
	select {
	case <-ch:
	default:
	}
	ch <- s
}
