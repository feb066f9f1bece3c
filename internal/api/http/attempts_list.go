package http

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/golang/glog"

	"github.com/mind-engage/mindengage-nmt/internal/exam"
	"github.com/mind-engage/mindengage-nmt/internal/rbac"
	"github.com/mind-engage/mindengage-nmt/internal/report"
)

// GET /api/attempts?sessionId=...&studentId=...&status=...&limit=50&offset=0
// RBAC:
// - attempt:view-all can list any filters
// - otherwise studentId is forced to the caller
func ListAttemptsHandler(svc *exam.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		studentID := strings.TrimSpace(q.Get("studentId"))
		if !rbac.Can(r.Context(), rbac.PermAttemptViewAll) {
			studentID = rbac.SubjectFromContext(r.Context())
		}
		list, err := svc.ListAttempts(r.Context(), exam.AttemptListOpts{
			SessionID: strings.TrimSpace(q.Get("sessionId")),
			StudentID: studentID,
			Status:    exam.AttemptStatus(strings.TrimSpace(q.Get("status"))),
			Limit:     parseIntDefault(q.Get("limit"), 50),
			Offset:    parseIntDefault(q.Get("offset"), 0),
		})
		if err != nil {
			writeError(w, r, err)
			return
		}
		if list == nil {
			list = []exam.Attempt{}
		}
		if !rbac.IsAdmin(r.Context()) {
			if list, err = hideScores(r.Context(), svc, list); err != nil {
				writeError(w, r, err)
				return
			}
		}
		respondJSON(w, http.StatusOK, list)
	}
}

// hideScores clears per-test scores of attempts whose session keeps
// detailed results from students.
func hideScores(ctx context.Context, svc *exam.Service, list []exam.Attempt) ([]exam.Attempt, error) {
	detailed := map[string]bool{}
	for i := range list {
		show, ok := detailed[list[i].SessionID]
		if !ok {
			ss, err := svc.GetSession(ctx, list[i].SessionID)
			if err != nil {
				return nil, err
			}
			show = ss.ShowDetailedResultsToStudent
			detailed[list[i].SessionID] = show
		}
		if !show {
			list[i].ScoreByTest = nil
		}
	}
	return list, nil
}

// sessionResults loads everything a results view needs.
func sessionResults(r *http.Request, svc *exam.Service) (exam.Session, []exam.Attempt, []exam.Test, map[string]string, error) {
	ss, err := svc.GetSession(r.Context(), chi.URLParam(r, "sessionID"))
	if err != nil {
		return exam.Session{}, nil, nil, nil, err
	}
	attempts, err := svc.SessionAttempts(r.Context(), ss.ID)
	if err != nil {
		return ss, nil, nil, nil, err
	}
	tests, err := svc.SessionTests(r.Context(), ss)
	if err != nil {
		return ss, nil, nil, nil, err
	}
	subjects, err := svc.SubjectNames(r.Context())
	if err != nil {
		return ss, nil, nil, nil, err
	}
	return ss, attempts, tests, subjects, nil
}

// GET /api/sessions/{sessionID}/results
func SessionResultsHandler(svc *exam.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		_, attempts, tests, subjects, err := sessionResults(r, svc)
		if err != nil {
			writeError(w, r, err)
			return
		}
		out := make([]report.Summary, 0, len(attempts))
		for _, a := range attempts {
			out = append(out, report.Summarize(a, tests, subjects))
		}
		respondJSON(w, http.StatusOK, out)
	}
}

// GET /api/sessions/{sessionID}/results.csv
func ResultsCSVHandler(svc *exam.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ss, attempts, tests, subjects, err := sessionResults(r, svc)
		if err != nil {
			writeError(w, r, err)
			return
		}
		w.Header().Set("Content-Type", "text/csv; charset=utf-8")
		w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", "results_"+ss.ID+".csv"))
		if err := report.WriteResultsCSV(w, attempts, tests, subjects); err != nil {
			// headers already sent
			glog.Errorf("results csv for session %s: %v", ss.ID, err)
		}
	}
}
