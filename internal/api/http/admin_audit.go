package http

import (
	"context"
	"net/http"
	"strconv"
	"strings"

	syncx "github.com/mind-engage/mindengage-nmt/internal/sync"
)

// EventSearcher reads the audit log.
type EventSearcher interface {
	Search(ctx context.Context, opts syncx.SearchOpts) ([]syncx.Event, error)
}

// GET /api/admin/events?type=AttemptFinished&key=...&after=120&limit=100
func AuditEventsHandler(events EventSearcher) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		after, _ := strconv.ParseInt(q.Get("after"), 10, 64)
		list, err := events.Search(r.Context(), syncx.SearchOpts{
			Type:     strings.TrimSpace(q.Get("type")),
			Key:      strings.TrimSpace(q.Get("key")),
			AfterSeq: after,
			Limit:    parseIntDefault(q.Get("limit"), 100),
		})
		if err != nil {
			writeError(w, r, err)
			return
		}
		if list == nil {
			list = []syncx.Event{}
		}
		respondJSON(w, http.StatusOK, list)
	}
}
