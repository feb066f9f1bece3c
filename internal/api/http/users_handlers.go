package http

import (
	"bufio"
	"context"
	"encoding/csv"
	"encoding/json"
	"io"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/pkg/errors"

	"github.com/mind-engage/mindengage-nmt/internal/exam"
	"github.com/mind-engage/mindengage-nmt/internal/rbac"
)

// Authenticator adapts the profile store to the login handler.
func Authenticator(svc *exam.Service) func(ctx context.Context, email, password string) (string, string, error) {
	return func(ctx context.Context, email, password string) (string, string, error) {
		p, err := svc.Authenticate(ctx, email, password)
		if err != nil {
			return "", "", err
		}
		return p.ID, string(p.Role), nil
	}
}

// RoleLookup reads the stored role of a profile.
func RoleLookup(svc *exam.Service) func(ctx context.Context, id string) (string, error) {
	return func(ctx context.Context, id string) (string, error) {
		p, err := svc.GetProfile(ctx, id)
		if err != nil {
			return "", err
		}
		return string(p.Role), nil
	}
}

// GET /api/me
func MeHandler(svc *exam.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		p, err := svc.GetProfile(r.Context(), rbac.SubjectFromContext(r.Context()))
		if err != nil {
			writeError(w, r, err)
			return
		}
		respondJSON(w, http.StatusOK, p)
	}
}

// GET /api/users?role=student
func ListUsersHandler(svc *exam.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		role := exam.Role(strings.TrimSpace(r.URL.Query().Get("role")))
		if role != "" && !role.Valid() {
			badRequest(w, "invalid role")
			return
		}
		list, err := svc.ListProfiles(r.Context(), role)
		if err != nil {
			writeError(w, r, err)
			return
		}
		if list == nil {
			list = []exam.Profile{}
		}
		respondJSON(w, http.StatusOK, list)
	}
}

// POST /api/users
func CreateUserHandler(svc *exam.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var in exam.NewProfile
		if err := decodeJSON(r, &in); err != nil {
			badRequest(w, err.Error())
			return
		}
		p, created, err := svc.UpsertProfile(r.Context(), in)
		if err != nil {
			writeError(w, r, err)
			return
		}
		status := http.StatusOK
		if created {
			status = http.StatusCreated
		}
		respondJSON(w, status, p)
	}
}

type rowError struct {
	Row   int    `json:"row"`
	Email string `json:"email,omitempty"`
	Error string `json:"error"`
}

// POST /api/users/bulk
// Accepts either multipart file= (CSV or JSON) or a raw JSON array. Rows are
// upserted independently; failures are reported per row.
func BulkUpsertUsersHandler(svc *exam.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var (
			rows []exam.NewProfile
			err  error
		)
		if strings.HasPrefix(r.Header.Get("Content-Type"), "multipart/form-data") {
			f, _, ferr := r.FormFile("file")
			if ferr != nil {
				badRequest(w, "file required")
				return
			}
			defer f.Close()
			rows, err = decodeUserRows(f)
		} else {
			err = decodeJSON(r, &rows)
		}
		if err != nil {
			badRequest(w, err.Error())
			return
		}

		inserted, updated := 0, 0
		failed := []rowError{}
		for i, row := range rows {
			_, created, err := svc.UpsertProfile(r.Context(), row)
			switch {
			case err != nil:
				failed = append(failed, rowError{Row: i + 1, Email: row.Email, Error: err.Error()})
			case created:
				inserted++
			default:
				updated++
			}
		}
		respondJSON(w, http.StatusOK, map[string]any{"inserted": inserted, "updated": updated, "errors": failed})
	}
}

// decodeUserRows sniffs the first non-space byte to tell JSON from CSV.
func decodeUserRows(r io.Reader) ([]exam.NewProfile, error) {
	br := bufio.NewReader(r)
	for {
		b, err := br.Peek(1)
		if err != nil {
			return nil, errors.New("empty file")
		}
		if b[0] == ' ' || b[0] == '\n' || b[0] == '\r' || b[0] == '\t' {
			_, _ = br.ReadByte()
			continue
		}
		if b[0] == '[' {
			var rows []exam.NewProfile
			if err := json.NewDecoder(br).Decode(&rows); err != nil {
				return nil, errors.Wrap(err, "bad json")
			}
			return rows, nil
		}
		return parseCSV(br)
	}
}

func parseCSV(r io.Reader) ([]exam.NewProfile, error) {
	cr := csv.NewReader(r)
	cr.TrimLeadingSpace = true
	cr.FieldsPerRecord = -1
	hdr, err := cr.Read()
	if err != nil {
		return nil, errors.Wrap(err, "bad csv")
	}
	idx := map[string]int{}
	for i, h := range hdr {
		h = strings.ToLower(strings.TrimSpace(strings.TrimPrefix(h, "\ufeff")))
		h = strings.ReplaceAll(h, "_", "")
		idx[h] = i
	}
	if _, ok := idx["email"]; !ok {
		return nil, errors.New("missing column: email")
	}
	col := func(rec []string, name string) string {
		if i, ok := idx[name]; ok && i < len(rec) {
			return strings.TrimSpace(rec[i])
		}
		return ""
	}
	var rows []exam.NewProfile
	for {
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, errors.Wrap(err, "bad csv")
		}
		rows = append(rows, exam.NewProfile{
			ID:       col(rec, "id"),
			Email:    col(rec, "email"),
			FullName: col(rec, "fullname"),
			Role:     exam.Role(strings.ToLower(col(rec, "role"))),
			Class:    col(rec, "class"),
			Password: col(rec, "password"),
		})
	}
	return rows, nil
}

type updateUserRoleReq struct {
	Role string `json:"role"`
}

// PUT /api/users/{userID}/role
func UpdateUserRoleHandler(svc *exam.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req updateUserRoleReq
		if err := decodeJSON(r, &req); err != nil {
			badRequest(w, err.Error())
			return
		}
		role := exam.Role(strings.ToLower(strings.TrimSpace(req.Role)))
		p, err := svc.SetRole(r.Context(), chi.URLParam(r, "userID"), role)
		if err != nil {
			writeError(w, r, err)
			return
		}
		respondJSON(w, http.StatusOK, p)
	}
}

type changePasswordReq struct {
	OldPassword string `json:"old_password"`
	NewPassword string `json:"new_password"`
}

// POST /api/me/password
func ChangePasswordHandler(svc *exam.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID := rbac.SubjectFromContext(r.Context())
		if userID == "" {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		var req changePasswordReq
		if err := decodeJSON(r, &req); err != nil {
			badRequest(w, err.Error())
			return
		}
		if err := svc.ChangePassword(r.Context(), userID, req.OldPassword, req.NewPassword); err != nil {
			writeError(w, r, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}
