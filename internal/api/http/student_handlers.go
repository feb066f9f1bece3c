package http

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/mind-engage/mindengage-nmt/internal/exam"
	"github.com/mind-engage/mindengage-nmt/internal/grading"
	"github.com/mind-engage/mindengage-nmt/internal/rbac"
	"github.com/mind-engage/mindengage-nmt/internal/report"
)

type attemptView struct {
	exam.Attempt
	Summary report.Summary `json:"summary"`
}

// viewAttempt attaches a result summary. Students see scores only when the
// session shows detailed results.
func viewAttempt(ctx context.Context, svc *exam.Service, a exam.Attempt) (attemptView, error) {
	ss, err := svc.GetSession(ctx, a.SessionID)
	if err != nil {
		return attemptView{}, err
	}
	tests, err := svc.SessionTests(ctx, ss)
	if err != nil {
		return attemptView{}, err
	}
	subjects, err := svc.SubjectNames(ctx)
	if err != nil {
		return attemptView{}, err
	}
	v := attemptView{Attempt: a, Summary: report.Summarize(a, tests, subjects)}
	if !rbac.IsAdmin(ctx) && !ss.ShowDetailedResultsToStudent {
		v.Summary = v.Summary.ForStudent(ss)
		v.ScoreByTest = nil
	}
	return v, nil
}

// POST /api/sessions/{sessionID}/attempt
// Returns the caller's attempt, creating it on first entry.
func OpenAttemptHandler(svc *exam.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		a, err := svc.OpenAttempt(r.Context(), chi.URLParam(r, "sessionID"), rbac.SubjectFromContext(r.Context()))
		if err != nil {
			writeError(w, r, err)
			return
		}
		v, err := viewAttempt(r.Context(), svc, a)
		if err != nil {
			writeError(w, r, err)
			return
		}
		respondJSON(w, http.StatusOK, v)
	}
}

// ownAttempt loads the attempt from the URL; students may only touch
// their own.
func ownAttempt(w http.ResponseWriter, r *http.Request, svc *exam.Service) (exam.Attempt, bool) {
	a, err := svc.GetAttempt(r.Context(), chi.URLParam(r, "attemptID"))
	if err != nil {
		writeError(w, r, err)
		return exam.Attempt{}, false
	}
	if !rbac.IsAdmin(r.Context()) && a.StudentID != rbac.SubjectFromContext(r.Context()) {
		forbidden(w)
		return exam.Attempt{}, false
	}
	return a, true
}

func GetAttemptHandler(svc *exam.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		a, ok := ownAttempt(w, r, svc)
		if !ok {
			return
		}
		v, err := viewAttempt(r.Context(), svc, a)
		if err != nil {
			writeError(w, r, err)
			return
		}
		respondJSON(w, http.StatusOK, v)
	}
}

type saveAnswerReq struct {
	Value grading.Value `json:"value"`
}

// PUT /api/attempts/{attemptID}/answers/{questionID}
func SaveAnswerHandler(svc *exam.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req saveAnswerReq
		if err := decodeJSON(r, &req); err != nil {
			badRequest(w, err.Error())
			return
		}
		a, err := svc.SaveAnswer(r.Context(), chi.URLParam(r, "attemptID"),
			rbac.SubjectFromContext(r.Context()), chi.URLParam(r, "questionID"), req.Value)
		if err != nil {
			writeError(w, r, err)
			return
		}
		respondJSON(w, http.StatusOK, a)
	}
}

// POST /api/attempts/{attemptID}/finish
// Finishing twice returns the stored result.
func SubmitAttemptHandler(svc *exam.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		a, ok := ownAttempt(w, r, svc)
		if !ok {
			return
		}
		a, err := svc.FinishAttempt(r.Context(), a.ID, exam.TriggerStudent)
		if err != nil {
			writeError(w, r, err)
			return
		}
		v, err := viewAttempt(r.Context(), svc, a)
		if err != nil {
			writeError(w, r, err)
			return
		}
		respondJSON(w, http.StatusOK, v)
	}
}
