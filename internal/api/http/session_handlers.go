package http

import (
	"context"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/mind-engage/mindengage-nmt/internal/exam"
	"github.com/mind-engage/mindengage-nmt/internal/live"
	"github.com/mind-engage/mindengage-nmt/internal/rbac"
	"github.com/mind-engage/mindengage-nmt/internal/session"
)

// GET /api/sessions?status=active&limit=50&offset=0
// Admins see every session; students only running sessions that admit them.
func ListSessionsHandler(svc *exam.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var (
			list []exam.Session
			err  error
		)
		if rbac.IsAdmin(r.Context()) {
			list, err = svc.ListSessions(r.Context(), exam.SessionListOpts{
				Status: session.Status(strings.TrimSpace(r.URL.Query().Get("status"))),
				Limit:  parseIntDefault(r.URL.Query().Get("limit"), 50),
				Offset: parseIntDefault(r.URL.Query().Get("offset"), 0),
			})
		} else {
			list, err = svc.ActiveSessionsFor(r.Context(), rbac.SubjectFromContext(r.Context()))
		}
		if err != nil {
			writeError(w, r, err)
			return
		}
		if list == nil {
			list = []exam.Session{}
		}
		respondJSON(w, http.StatusOK, list)
	}
}

func CreateSessionHandler(svc *exam.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var in exam.NewSession
		if err := decodeJSON(r, &in); err != nil {
			badRequest(w, err.Error())
			return
		}
		ss, err := svc.CreateSession(r.Context(), in)
		if err != nil {
			writeError(w, r, err)
			return
		}
		respondJSON(w, http.StatusCreated, ss)
	}
}

// visibleSession loads the session from the URL and checks the caller may
// see it.
func visibleSession(w http.ResponseWriter, r *http.Request, svc *exam.Service) (exam.Session, bool) {
	ss, err := svc.GetSession(r.Context(), chi.URLParam(r, "sessionID"))
	if err != nil {
		writeError(w, r, err)
		return exam.Session{}, false
	}
	if !rbac.IsAdmin(r.Context()) && !ss.Allows(rbac.SubjectFromContext(r.Context())) {
		forbidden(w)
		return exam.Session{}, false
	}
	return ss, true
}

func GetSessionHandler(svc *exam.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if ss, ok := visibleSession(w, r, svc); ok {
			respondJSON(w, http.StatusOK, ss)
		}
	}
}

type forgetter interface {
	Forget(sessionID string)
}

// DELETE /api/sessions/{sessionID} drops the session with its attempts.
func DeleteSessionHandler(svc *exam.Service, hub forgetter) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "sessionID")
		if err := svc.DeleteSession(r.Context(), id); err != nil {
			writeError(w, r, err)
			return
		}
		if hub != nil {
			hub.Forget(id)
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

type allowedStudentsReq struct {
	AllowedStudents []string `json:"allowedStudents"`
}

// PUT /api/sessions/{sessionID}/students
func SetAllowedStudentsHandler(svc *exam.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req allowedStudentsReq
		if err := decodeJSON(r, &req); err != nil {
			badRequest(w, err.Error())
			return
		}
		ss, err := svc.SetAllowedStudents(r.Context(), chi.URLParam(r, "sessionID"), req.AllowedStudents)
		if err != nil {
			writeError(w, r, err)
			return
		}
		respondJSON(w, http.StatusOK, ss)
	}
}

// TransitionHandler applies one lifecycle step (start, pause, resume,
// finish). An illegal step answers 409 and leaves the session as it was.
func TransitionHandler(step func(ctx context.Context, id string) (exam.Session, error)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ss, err := step(r.Context(), chi.URLParam(r, "sessionID"))
		if err != nil {
			writeError(w, r, err)
			return
		}
		respondJSON(w, http.StatusOK, ss)
	}
}

// GET /api/sessions/{sessionID}/clock returns one countdown reading, for
// clients that poll instead of watching.
func ClockHandler(svc *exam.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if ss, ok := visibleSession(w, r, svc); ok {
			respondJSON(w, http.StatusOK, live.Reading(ss.Snapshot(), svc.Now()))
		}
	}
}

// GET /api/sessions/{sessionID}/watch upgrades to a WebSocket streaming
// live.Tick messages.
func WatchHandler(svc *exam.Service, wt *live.Watcher) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if ss, ok := visibleSession(w, r, svc); ok {
			wt.Serve(w, r, ss.Snapshot())
		}
	}
}

// GET /api/sessions/{sessionID}/tests returns the session's tests in order.
// Students get them without answer keys, and only once the session started.
func SessionTestsHandler(svc *exam.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ss, ok := visibleSession(w, r, svc)
		if !ok {
			return
		}
		admin := rbac.IsAdmin(r.Context())
		if !admin && ss.Status == session.StatusDraft {
			writeError(w, r, exam.ErrSessionNotActive)
			return
		}
		tests, err := svc.SessionTests(r.Context(), ss)
		if err != nil {
			writeError(w, r, err)
			return
		}
		if !admin {
			for i := range tests {
				tests[i] = tests[i].Public()
			}
		}
		respondJSON(w, http.StatusOK, tests)
	}
}
