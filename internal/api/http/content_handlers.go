package http

import (
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/mind-engage/mindengage-nmt/internal/exam"
	"github.com/mind-engage/mindengage-nmt/internal/questionset"
	"github.com/mind-engage/mindengage-nmt/internal/rbac"
)

// maxImportBytes caps an uploaded question file.
const maxImportBytes = 8 << 20

type subjectReq struct {
	Name        string `json:"name"`
	Description string `json:"description"`
}

func ListSubjectsHandler(svc *exam.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		list, err := svc.ListSubjects(r.Context())
		if err != nil {
			writeError(w, r, err)
			return
		}
		if list == nil {
			list = []exam.Subject{}
		}
		respondJSON(w, http.StatusOK, list)
	}
}

func CreateSubjectHandler(svc *exam.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req subjectReq
		if err := decodeJSON(r, &req); err != nil {
			badRequest(w, err.Error())
			return
		}
		sub, err := svc.CreateSubject(r.Context(), req.Name, req.Description)
		if err != nil {
			writeError(w, r, err)
			return
		}
		respondJSON(w, http.StatusCreated, sub)
	}
}

func UpdateSubjectHandler(svc *exam.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req subjectReq
		if err := decodeJSON(r, &req); err != nil {
			badRequest(w, err.Error())
			return
		}
		sub, err := svc.UpdateSubject(r.Context(), chi.URLParam(r, "subjectID"), req.Name, req.Description)
		if err != nil {
			writeError(w, r, err)
			return
		}
		respondJSON(w, http.StatusOK, sub)
	}
}

func DeleteSubjectHandler(svc *exam.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := svc.DeleteSubject(r.Context(), chi.URLParam(r, "subjectID")); err != nil {
			writeError(w, r, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

// GET /api/tests?subjectId=...
// Students get tests without answer keys.
func ListTestsHandler(svc *exam.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		list, err := svc.ListTests(r.Context(), exam.TestListOpts{
			SubjectID: strings.TrimSpace(r.URL.Query().Get("subjectId")),
		})
		if err != nil {
			writeError(w, r, err)
			return
		}
		out := make([]exam.Test, 0, len(list))
		for _, t := range list {
			out = append(out, visibleTest(r, t))
		}
		respondJSON(w, http.StatusOK, out)
	}
}

func GetTestHandler(svc *exam.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		t, err := svc.GetTest(r.Context(), chi.URLParam(r, "testID"))
		if err != nil {
			writeError(w, r, err)
			return
		}
		respondJSON(w, http.StatusOK, visibleTest(r, t))
	}
}

func visibleTest(r *http.Request, t exam.Test) exam.Test {
	if rbac.IsAdmin(r.Context()) {
		return t
	}
	return t.Public()
}

func CreateTestHandler(svc *exam.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var in exam.TestInput
		if err := decodeJSON(r, &in); err != nil {
			badRequest(w, err.Error())
			return
		}
		t, err := svc.CreateTest(r.Context(), in)
		if err != nil {
			writeError(w, r, err)
			return
		}
		respondJSON(w, http.StatusCreated, t)
	}
}

func UpdateTestHandler(svc *exam.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var in exam.TestInput
		if err := decodeJSON(r, &in); err != nil {
			badRequest(w, err.Error())
			return
		}
		t, err := svc.UpdateTest(r.Context(), chi.URLParam(r, "testID"), in)
		if err != nil {
			writeError(w, r, err)
			return
		}
		respondJSON(w, http.StatusOK, t)
	}
}

func DeleteTestHandler(svc *exam.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := svc.DeleteTest(r.Context(), chi.URLParam(r, "testID")); err != nil {
			writeError(w, r, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

// POST /api/tests/{testID}/questions/import
// Body is a JSON array, either raw or as multipart file=. Any invalid
// question rejects the whole file and the test is left untouched.
func ImportQuestionsHandler(svc *exam.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var src io.Reader = http.MaxBytesReader(w, r.Body, maxImportBytes)
		if strings.HasPrefix(r.Header.Get("Content-Type"), "multipart/form-data") {
			f, _, err := r.FormFile("file")
			if err != nil {
				badRequest(w, "file required")
				return
			}
			defer f.Close()
			src = io.LimitReader(f, maxImportBytes)
		}
		qs, err := questionset.Read(src)
		if err != nil {
			writeError(w, r, err)
			return
		}
		t, err := svc.ReplaceQuestions(r.Context(), chi.URLParam(r, "testID"), qs)
		if err != nil {
			writeError(w, r, err)
			return
		}
		respondJSON(w, http.StatusOK, map[string]any{"imported": len(qs), "test": t})
	}
}

// GET /api/tests/{testID}/questions/export
func ExportQuestionsHandler(svc *exam.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		t, err := svc.GetTest(r.Context(), chi.URLParam(r, "testID"))
		if err != nil {
			writeError(w, r, err)
			return
		}
		b, err := questionset.Export(t.Questions)
		if err != nil {
			writeError(w, r, err)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", "questions_"+t.ID+".json"))
		_, _ = w.Write(b)
	}
}

// POST /api/tests/{testID}/questions adds a question or replaces the one
// with the same id.
func AddQuestionHandler(svc *exam.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var q exam.Question
		if err := decodeJSON(r, &q); err != nil {
			badRequest(w, err.Error())
			return
		}
		t, err := svc.AddQuestion(r.Context(), chi.URLParam(r, "testID"), q)
		if err != nil {
			writeError(w, r, err)
			return
		}
		respondJSON(w, http.StatusOK, t)
	}
}

func DeleteQuestionHandler(svc *exam.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		t, err := svc.RemoveQuestion(r.Context(), chi.URLParam(r, "testID"), chi.URLParam(r, "questionID"))
		if err != nil {
			writeError(w, r, err)
			return
		}
		respondJSON(w, http.StatusOK, t)
	}
}
