package http

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	auth "github.com/mind-engage/mindengage-nmt/internal/auth/middleware"
	"github.com/mind-engage/mindengage-nmt/internal/exam"
	"github.com/mind-engage/mindengage-nmt/internal/live"
	"github.com/mind-engage/mindengage-nmt/internal/storage"
)

type apiFixture struct {
	t       *testing.T
	srv     *httptest.Server
	svc     *exam.Service
	admin   string
	student string
	other   string
}

func newAPI(t *testing.T) *apiFixture {
	t.Helper()
	store := exam.NewInMemoryStore()
	hub := live.NewHub()
	svc := exam.NewService(store, exam.WithPublisher(hub))
	ctx := context.Background()
	for _, p := range []exam.Profile{
		{ID: "adm", Email: "admin@nmt.local", Role: exam.RoleAdmin},
		{ID: "stu", Email: "olena@school.ua", Role: exam.RoleStudent},
		{ID: "oth", Email: "taras@school.ua", Role: exam.RoleStudent},
	} {
		require.NoError(t, store.PutProfile(ctx, p))
	}
	blobs, err := storage.NewFSStore(t.TempDir())
	require.NoError(t, err)

	a := auth.NewAuthService("test-secret", time.Hour)
	r := chi.NewRouter()
	Mount(r, Deps{Service: svc, Auth: a, Blobs: blobs, Hub: hub, Watcher: live.NewWatcher(hub, nil, nil)})
	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)

	tok := func(sub, role string) string {
		s, _, err := a.IssueJWT(sub, role)
		require.NoError(t, err)
		return s
	}
	return &apiFixture{
		t:       t,
		srv:     srv,
		svc:     svc,
		admin:   tok("adm", "admin"),
		student: tok("stu", "student"),
		other:   tok("oth", "student"),
	}
}

func (f *apiFixture) do(token, method, path string, body interface{}) (int, []byte) {
	f.t.Helper()
	var rd io.Reader
	switch b := body.(type) {
	case nil:
	case string:
		rd = strings.NewReader(b)
	default:
		raw, err := json.Marshal(b)
		require.NoError(f.t, err)
		rd = bytes.NewReader(raw)
	}
	req, err := http.NewRequest(method, f.srv.URL+path, rd)
	require.NoError(f.t, err)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := http.DefaultClient.Do(req)
	require.NoError(f.t, err)
	defer resp.Body.Close()
	out, err := io.ReadAll(resp.Body)
	require.NoError(f.t, err)
	return resp.StatusCode, out
}

func (f *apiFixture) decode(token, method, path string, body interface{}, want int, v interface{}) {
	f.t.Helper()
	code, raw := f.do(token, method, path, body)
	require.Equal(f.t, want, code, "%s %s: %s", method, path, raw)
	if v != nil {
		require.NoError(f.t, json.Unmarshal(raw, v))
	}
}

const questionsJSON = `[
  {"id":"q1","questionText":"2+2?","type":"single_choice","points":2,
   "options":[{"id":"A","text":"4"},{"id":"B","text":"5"}],"correctAnswers":["A"]},
  {"id":"q2","questionText":"Столиця України","type":"text_input","points":1,"correctAnswers":["Київ"]}
]`

// seedSession creates a subject, a test with two questions and a started
// session admitting stu.
func (f *apiFixture) seedSession() (testID, sessionID string) {
	var sub exam.Subject
	f.decode(f.admin, http.MethodPost, "/api/subjects", map[string]string{"name": "Математика"}, http.StatusCreated, &sub)
	var tst exam.Test
	f.decode(f.admin, http.MethodPost, "/api/tests", exam.TestInput{SubjectID: sub.ID, Title: "Алгебра"}, http.StatusCreated, &tst)
	f.decode(f.admin, http.MethodPost, "/api/tests/"+tst.ID+"/questions/import", questionsJSON, http.StatusOK, nil)

	var ss exam.Session
	f.decode(f.admin, http.MethodPost, "/api/sessions", exam.NewSession{
		Title:           "Пробне НМТ",
		TestIDs:         []string{tst.ID},
		DurationMinutes: 60,
		AllowedStudents: []string{"stu"},
	}, http.StatusCreated, &ss)
	f.decode(f.admin, http.MethodPost, "/api/sessions/"+ss.ID+"/start", nil, http.StatusOK, nil)
	return tst.ID, ss.ID
}

func TestStudentFlow(t *testing.T) {
	f := newAPI(t)
	_, sessionID := f.seedSession()

	var sessions []exam.Session
	f.decode(f.student, http.MethodGet, "/api/sessions", nil, http.StatusOK, &sessions)
	require.Len(t, sessions, 1)
	f.decode(f.other, http.MethodGet, "/api/sessions", nil, http.StatusOK, &sessions)
	assert.Empty(t, sessions)

	code, raw := f.do(f.student, http.MethodGet, "/api/sessions/"+sessionID+"/tests", nil)
	require.Equal(t, http.StatusOK, code)
	assert.NotContains(t, string(raw), "Київ", "answer keys are hidden from students")

	var view attemptView
	f.decode(f.student, http.MethodPost, "/api/sessions/"+sessionID+"/attempt", nil, http.StatusOK, &view)
	attemptID := view.ID
	var again attemptView
	f.decode(f.student, http.MethodPost, "/api/sessions/"+sessionID+"/attempt", nil, http.StatusOK, &again)
	assert.Equal(t, attemptID, again.ID, "one attempt per student")

	f.decode(f.student, http.MethodPut, "/api/attempts/"+attemptID+"/answers/q1", map[string]interface{}{"value": "A"}, http.StatusOK, nil)
	f.decode(f.student, http.MethodPut, "/api/attempts/"+attemptID+"/answers/q2", map[string]interface{}{"value": " київ "}, http.StatusOK, nil)
	code, _ = f.do(f.other, http.MethodPut, "/api/attempts/"+attemptID+"/answers/q1", map[string]interface{}{"value": "B"})
	assert.Equal(t, http.StatusForbidden, code)
	code, _ = f.do(f.student, http.MethodPut, "/api/attempts/"+attemptID+"/answers/nope", map[string]interface{}{"value": "B"})
	assert.Equal(t, http.StatusNotFound, code)

	f.decode(f.student, http.MethodPost, "/api/attempts/"+attemptID+"/finish", nil, http.StatusOK, &view)
	assert.Equal(t, exam.AttemptFinished, view.Status)
	assert.Nil(t, view.ScoreByTest, "scores hidden without detailed results")
	assert.Empty(t, view.Summary.Tests)

	code, _ = f.do(f.student, http.MethodPut, "/api/attempts/"+attemptID+"/answers/q1", map[string]interface{}{"value": "B"})
	assert.Equal(t, http.StatusConflict, code)
	f.decode(f.student, http.MethodPost, "/api/attempts/"+attemptID+"/finish", nil, http.StatusOK, nil)

	var admView attemptView
	f.decode(f.admin, http.MethodGet, "/api/attempts/"+attemptID, nil, http.StatusOK, &admView)
	require.Len(t, admView.Summary.Tests, 1)
	assert.Equal(t, 3, admView.Summary.Tests[0].Score)
	assert.Equal(t, 200, admView.Summary.Tests[0].NMT)

	code, _ = f.do(f.other, http.MethodGet, "/api/attempts/"+attemptID, nil)
	assert.Equal(t, http.StatusForbidden, code)

	var mine []exam.Attempt
	f.decode(f.other, http.MethodGet, "/api/attempts?studentId=stu", nil, http.StatusOK, &mine)
	assert.Empty(t, mine, "students only list their own attempts")
}

func TestAttemptListHidesScores(t *testing.T) {
	f := newAPI(t)
	_, sessionID := f.seedSession()
	var view attemptView
	f.decode(f.student, http.MethodPost, "/api/sessions/"+sessionID+"/attempt", nil, http.StatusOK, &view)
	f.decode(f.student, http.MethodPut, "/api/attempts/"+view.ID+"/answers/q1", map[string]interface{}{"value": "A"}, http.StatusOK, nil)
	f.decode(f.student, http.MethodPost, "/api/attempts/"+view.ID+"/finish", nil, http.StatusOK, nil)

	var mine []exam.Attempt
	f.decode(f.student, http.MethodGet, "/api/attempts", nil, http.StatusOK, &mine)
	require.Len(t, mine, 1)
	assert.Equal(t, exam.AttemptFinished, mine[0].Status)
	assert.Nil(t, mine[0].ScoreByTest)
	code, raw := f.do(f.student, http.MethodGet, "/api/attempts?sessionId="+sessionID, nil)
	require.Equal(t, http.StatusOK, code)
	assert.NotContains(t, string(raw), "scoreByTest")

	var all []exam.Attempt
	f.decode(f.admin, http.MethodGet, "/api/attempts?sessionId="+sessionID, nil, http.StatusOK, &all)
	require.Len(t, all, 1)
	assert.Len(t, all[0].ScoreByTest, 1)
}

func TestResultsCSV(t *testing.T) {
	f := newAPI(t)
	_, sessionID := f.seedSession()
	var view attemptView
	f.decode(f.student, http.MethodPost, "/api/sessions/"+sessionID+"/attempt", nil, http.StatusOK, &view)
	f.decode(f.student, http.MethodPut, "/api/attempts/"+view.ID+"/answers/q1", map[string]interface{}{"value": "B"}, http.StatusOK, nil)
	f.decode(f.admin, http.MethodPost, "/api/sessions/"+sessionID+"/finish", nil, http.StatusOK, nil)

	req, err := http.NewRequest(http.MethodGet, f.srv.URL+"/api/sessions/"+sessionID+"/results.csv", nil)
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer "+f.admin)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, resp.Header.Get("Content-Type"), "text/csv")
	assert.Contains(t, resp.Header.Get("Content-Disposition"), "attachment")
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(string(body)), "\n")
	require.Len(t, lines, 3)
	assert.True(t, strings.HasPrefix(lines[0], `"studentId"`))
	assert.Contains(t, lines[1], `"Математика"`)

	code, _ := f.do(f.student, http.MethodGet, "/api/sessions/"+sessionID+"/results.csv", nil)
	assert.Equal(t, http.StatusForbidden, code)

	var results []json.RawMessage
	f.decode(f.admin, http.MethodGet, "/api/sessions/"+sessionID+"/results", nil, http.StatusOK, &results)
	assert.Len(t, results, 1)
}

func TestSessionLifecycleErrors(t *testing.T) {
	f := newAPI(t)
	_, sessionID := f.seedSession()

	code, _ := f.do(f.student, http.MethodPost, "/api/sessions/"+sessionID+"/pause", nil)
	assert.Equal(t, http.StatusForbidden, code)

	code, _ = f.do(f.admin, http.MethodPost, "/api/sessions/"+sessionID+"/start", nil)
	assert.Equal(t, http.StatusConflict, code, "already active")
	f.decode(f.admin, http.MethodPost, "/api/sessions/"+sessionID+"/pause", nil, http.StatusOK, nil)

	var tick live.Tick
	f.decode(f.student, http.MethodGet, "/api/sessions/"+sessionID+"/clock", nil, http.StatusOK, &tick)
	assert.True(t, tick.IsPaused)
	code, _ = f.do(f.other, http.MethodGet, "/api/sessions/"+sessionID+"/clock", nil)
	assert.Equal(t, http.StatusForbidden, code)

	code, _ = f.do(f.admin, http.MethodGet, "/api/sessions/missing", nil)
	assert.Equal(t, http.StatusNotFound, code)
	code, _ = f.do(f.admin, http.MethodPut, "/api/sessions/"+sessionID+"/students", map[string]interface{}{"allowedStudents": []string{}})
	assert.Equal(t, http.StatusBadRequest, code)
	f.decode(f.admin, http.MethodPut, "/api/sessions/"+sessionID+"/students", map[string]interface{}{"allowedStudents": []string{"all"}}, http.StatusOK, nil)
	f.decode(f.other, http.MethodGet, "/api/sessions/"+sessionID+"/clock", nil, http.StatusOK, nil)

	f.decode(f.admin, http.MethodDelete, "/api/sessions/"+sessionID, nil, http.StatusNoContent, nil)
	code, _ = f.do(f.admin, http.MethodGet, "/api/sessions/"+sessionID, nil)
	assert.Equal(t, http.StatusNotFound, code)

	code, _ = f.do("", http.MethodGet, "/api/sessions", nil)
	assert.Equal(t, http.StatusUnauthorized, code)
}

func TestImportRejectsWholeBatch(t *testing.T) {
	f := newAPI(t)
	testID, _ := f.seedSession()

	code, raw := f.do(f.admin, http.MethodPost, "/api/tests/"+testID+"/questions/import",
		`[{"id":"n1","questionText":"x","type":"numeric_input","points":1,"correctAnswers":["1"]},
		  {"id":"n2","questionText":"y","type":"essay","points":1,"correctAnswers":[]}]`)
	require.Equal(t, http.StatusBadRequest, code)
	var body errorBody
	require.NoError(t, json.Unmarshal(raw, &body))
	assert.NotEmpty(t, body.Problems)

	code, raw = f.do(f.admin, http.MethodPost, "/api/tests/"+testID+"/questions/import", `{"id":"q"}`)
	assert.Equal(t, http.StatusBadRequest, code)
	assert.Contains(t, string(raw), "масивом")

	var tst exam.Test
	f.decode(f.admin, http.MethodGet, "/api/tests/"+testID, nil, http.StatusOK, &tst)
	assert.Len(t, tst.Questions, 2, "failed import leaves the test untouched")

	code, raw = f.do(f.admin, http.MethodGet, "/api/tests/"+testID+"/questions/export", nil)
	require.Equal(t, http.StatusOK, code)
	assert.Contains(t, string(raw), `"correctAnswers"`)

	f.decode(f.student, http.MethodGet, "/api/tests/"+testID, nil, http.StatusOK, &tst)
	assert.Empty(t, tst.Questions[0].CorrectAnswers.Values)
}

func TestBulkUsersCSV(t *testing.T) {
	f := newAPI(t)

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	fw, err := mw.CreateFormFile("file", "students.csv")
	require.NoError(t, err)
	_, _ = fw.Write([]byte("email,full_name,class,password\nivan@school.ua,Іван Петренко,11-А,secret1\n,No Email,11-Б,secret2\n"))
	require.NoError(t, mw.Close())

	req, err := http.NewRequest(http.MethodPost, f.srv.URL+"/api/users/bulk", &buf)
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer "+f.admin)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var out struct {
		Inserted int        `json:"inserted"`
		Updated  int        `json:"updated"`
		Errors   []rowError `json:"errors"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	assert.Equal(t, 1, out.Inserted)
	require.Len(t, out.Errors, 1)
	assert.Equal(t, 2, out.Errors[0].Row)

	var students []exam.Profile
	f.decode(f.admin, http.MethodGet, "/api/users?role=student", nil, http.StatusOK, &students)
	assert.Len(t, students, 3)

	code, _ := f.do(f.student, http.MethodGet, "/api/users", nil)
	assert.Equal(t, http.StatusForbidden, code)

	code, _ = f.do(f.admin, http.MethodPut, "/api/users/adm/role", map[string]string{"role": "student"})
	assert.Equal(t, http.StatusBadRequest, code, "last admin")
}

func TestLoginAndMe(t *testing.T) {
	f := newAPI(t)
	_, _, err := f.svc.UpsertProfile(context.Background(), exam.NewProfile{Email: "maria@school.ua", Password: "secret1"})
	require.NoError(t, err)

	var tok struct {
		AccessToken string `json:"access_token"`
	}
	f.decode("", http.MethodPost, "/auth/login", map[string]string{"email": "MARIA@school.ua", "password": "secret1"}, http.StatusOK, &tok)

	var me exam.Profile
	f.decode(tok.AccessToken, http.MethodGet, "/api/me", nil, http.StatusOK, &me)
	assert.Equal(t, "maria@school.ua", me.Email)

	code, _ := f.do(tok.AccessToken, http.MethodPost, "/api/me/password", map[string]string{"old_password": "wrong", "new_password": "secret2"})
	assert.Equal(t, http.StatusForbidden, code)
	f.decode(tok.AccessToken, http.MethodPost, "/api/me/password", map[string]string{"old_password": "secret1", "new_password": "secret2"}, http.StatusNoContent, nil)

	code, _ = f.do("", http.MethodPost, "/auth/login", map[string]string{"email": "maria@school.ua", "password": "secret1"})
	assert.Equal(t, http.StatusUnauthorized, code)
}

func TestAssetsRoundTrip(t *testing.T) {
	f := newAPI(t)

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	fw, err := mw.CreateFormFile("file", "graph.png")
	require.NoError(t, err)
	_, _ = fw.Write([]byte("\x89PNG fake"))
	require.NoError(t, mw.Close())

	req, err := http.NewRequest(http.MethodPost, f.srv.URL+"/api/assets", &buf)
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer "+f.admin)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	var up map[string]string
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&up))
	assert.True(t, strings.HasPrefix(up["key"], "questions/"))

	got, err := http.Get(f.srv.URL + up["url"])
	require.NoError(t, err)
	defer got.Body.Close()
	assert.Equal(t, http.StatusOK, got.StatusCode)
	assert.Equal(t, "image/png", got.Header.Get("Content-Type"))

	code, _ := f.do("", http.MethodGet, "/assets/../../etc/passwd", nil)
	assert.NotEqual(t, http.StatusOK, code)
}
