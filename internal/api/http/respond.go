package http

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/golang/glog"
	"github.com/pkg/errors"

	"github.com/mind-engage/mindengage-nmt/internal/exam"
	"github.com/mind-engage/mindengage-nmt/internal/questionset"
	"github.com/mind-engage/mindengage-nmt/internal/storage"
)

type errorBody struct {
	Error    string                `json:"error"`
	Problems []questionset.Problem `json:"problems,omitempty"`
}

func respondJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError maps domain errors to HTTP statuses.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	var verr *questionset.ValidationError
	status := http.StatusInternalServerError
	body := errorBody{Error: err.Error()}
	switch {
	case errors.As(err, &verr):
		status = http.StatusBadRequest
		body.Problems = verr.Problems
	case errors.Is(err, exam.ErrNotFound), errors.Is(err, storage.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, exam.ErrInvalidInput), errors.Is(err, storage.ErrInvalidKey),
		errors.Is(err, questionset.ErrUnreadable), errors.Is(err, questionset.ErrNotArray):
		status = http.StatusBadRequest
	case errors.Is(err, exam.ErrInvalidTransition), errors.Is(err, exam.ErrAttemptFinished),
		errors.Is(err, exam.ErrSessionNotActive):
		status = http.StatusConflict
	case errors.Is(err, exam.ErrNotAllowed), errors.Is(err, exam.ErrForbidden),
		errors.Is(err, exam.ErrBadCredentials):
		status = http.StatusForbidden
	}
	if status == http.StatusInternalServerError {
		glog.Errorf("%s %s: %v", r.Method, r.URL.Path, err)
	}
	respondJSON(w, status, body)
}

func badRequest(w http.ResponseWriter, msg string) {
	respondJSON(w, http.StatusBadRequest, errorBody{Error: msg})
}

func forbidden(w http.ResponseWriter) {
	respondJSON(w, http.StatusForbidden, errorBody{Error: "forbidden"})
}

func decodeJSON(r *http.Request, v any) error {
	dec := json.NewDecoder(r.Body)
	return errors.Wrap(dec.Decode(v), "bad json")
}

func parseIntDefault(s string, def int) int {
	if s == "" {
		return def
	}
	if v, err := strconv.Atoi(s); err == nil && v >= 0 {
		return v
	}
	return def
}
