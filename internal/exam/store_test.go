package exam_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mind-engage/mindengage-nmt/internal/db"
	"github.com/mind-engage/mindengage-nmt/internal/exam"
	"github.com/mind-engage/mindengage-nmt/internal/grading"
	"github.com/mind-engage/mindengage-nmt/internal/session"
)

var t0 = time.Date(2025, 5, 20, 9, 0, 0, 0, time.UTC)

func newSQLStore(t *testing.T) exam.Store {
	t.Helper()
	dbh, err := db.Open(context.Background(), db.DriverSQLite, ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = dbh.Close() })
	return exam.NewSQLStore(dbh)
}

func eachStore(t *testing.T, fn func(t *testing.T, st exam.Store)) {
	t.Run("memory", func(t *testing.T) { fn(t, exam.NewInMemoryStore()) })
	t.Run("sqlite", func(t *testing.T) { fn(t, newSQLStore(t)) })
}

func seedSession(t *testing.T, st exam.Store, id string) exam.Session {
	t.Helper()
	ss := exam.Session{
		ID:              id,
		Title:           "Пробне НМТ",
		TestIDs:         []string{"t1"},
		DurationMinutes: 10,
		State:           session.State{Status: session.StatusDraft},
		AllowedStudents: []string{exam.AllStudents},
		CreatedAt:       t0,
	}
	require.NoError(t, st.PutSession(context.Background(), ss))
	return ss
}

func TestStoreSessionRoundTrip(t *testing.T) {
	eachStore(t, func(t *testing.T, st exam.Store) {
		ctx := context.Background()
		ss := seedSession(t, st, "s1")
		ss.State, _ = ss.State.Start(ss.Duration(), t0)
		ss.State, _ = ss.State.Pause(t0.Add(time.Minute))
		ss.ShowDetailedResultsToStudent = true
		require.NoError(t, st.PutSession(ctx, ss))

		got, err := st.GetSession(ctx, "s1")
		require.NoError(t, err)
		assert.Equal(t, session.StatusActive, got.Status)
		assert.True(t, got.IsPaused)
		assert.True(t, got.ShowDetailedResultsToStudent)
		assert.True(t, got.EndTime.Equal(t0.Add(10*time.Minute)))
		assert.True(t, got.PausedAt.Equal(t0.Add(time.Minute)))
		assert.Equal(t, []string{"t1"}, got.TestIDs)

		_, err = st.GetSession(ctx, "missing")
		assert.ErrorIs(t, err, exam.ErrNotFound)
	})
}

func TestStoreListSessionsForStudent(t *testing.T) {
	eachStore(t, func(t *testing.T, st exam.Store) {
		ctx := context.Background()
		open := seedSession(t, st, "open")
		open.Status = session.StatusActive
		open.CreatedAt = t0.Add(time.Hour)
		require.NoError(t, st.PutSession(ctx, open))

		closed := seedSession(t, st, "closed")
		closed.Status = session.StatusActive
		closed.AllowedStudents = []string{"u2"}
		require.NoError(t, st.PutSession(ctx, closed))

		seedSession(t, st, "draft")

		got, err := st.ListSessions(ctx, exam.SessionListOpts{Status: session.StatusActive, StudentID: "u1"})
		require.NoError(t, err)
		require.Len(t, got, 1)
		assert.Equal(t, "open", got[0].ID)

		got, err = st.ListSessions(ctx, exam.SessionListOpts{Status: session.StatusActive, StudentID: "u2"})
		require.NoError(t, err)
		require.Len(t, got, 2)
		assert.Equal(t, "open", got[0].ID, "newest first")
	})
}

func TestStoreFindOrCreateAttemptIsUnique(t *testing.T) {
	eachStore(t, func(t *testing.T, st exam.Store) {
		ctx := context.Background()
		seedSession(t, st, "s1")

		const n = 8
		var (
			wg      sync.WaitGroup
			mu      sync.Mutex
			ids     = map[string]bool{}
			created int
		)
		for i := 0; i < n; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				a, ok, err := st.FindOrCreateAttempt(ctx, exam.Attempt{
					ID:        "a" + string(rune('0'+i)),
					SessionID: "s1",
					StudentID: "u1",
					Status:    exam.AttemptInProgress,
					StartedAt: t0,
				})
				if !assert.NoError(t, err) {
					return
				}
				mu.Lock()
				defer mu.Unlock()
				ids[a.ID] = true
				if ok {
					created++
				}
			}(i)
		}
		wg.Wait()
		assert.Len(t, ids, 1)
		assert.Equal(t, 1, created)

		list, err := st.ListAttempts(ctx, exam.AttemptListOpts{SessionID: "s1"})
		require.NoError(t, err)
		assert.Len(t, list, 1)
	})
}

func TestStoreListAttemptsPaging(t *testing.T) {
	eachStore(t, func(t *testing.T, st exam.Store) {
		ctx := context.Background()
		seedSession(t, st, "s1")
		for i, student := range []string{"u1", "u2", "u3"} {
			_, _, err := st.FindOrCreateAttempt(ctx, exam.Attempt{
				ID: "a-" + student, SessionID: "s1", StudentID: student,
				Status: exam.AttemptInProgress, StartedAt: t0.Add(time.Duration(i) * time.Second),
			})
			require.NoError(t, err)
		}
		ids := func(list []exam.Attempt) []string {
			out := []string{}
			for _, a := range list {
				out = append(out, a.ID)
			}
			return out
		}

		list, err := st.ListAttempts(ctx, exam.AttemptListOpts{SessionID: "s1", Offset: 1})
		require.NoError(t, err)
		assert.Equal(t, []string{"a-u2", "a-u3"}, ids(list))

		list, err = st.ListAttempts(ctx, exam.AttemptListOpts{SessionID: "s1", Limit: 1, Offset: 1})
		require.NoError(t, err)
		assert.Equal(t, []string{"a-u2"}, ids(list))

		list, err = st.ListAttempts(ctx, exam.AttemptListOpts{Offset: 5})
		require.NoError(t, err)
		assert.Empty(t, list)
	})
}

func TestStoreAnswersAndFinalize(t *testing.T) {
	eachStore(t, func(t *testing.T, st exam.Store) {
		ctx := context.Background()
		seedSession(t, st, "s1")
		a, _, err := st.FindOrCreateAttempt(ctx, exam.Attempt{ID: "a1", SessionID: "s1", StudentID: "u1", Status: exam.AttemptInProgress, StartedAt: t0})
		require.NoError(t, err)

		_, err = st.SaveAnswer(ctx, a.ID, "q1", grading.Answer{Value: grading.Text("A"), TestID: "t1", SubjectID: "math"}, t0)
		require.NoError(t, err)
		_, err = st.SaveAnswer(ctx, a.ID, "q2", grading.Answer{Value: grading.List("B"), TestID: "t1"}, t0)
		require.NoError(t, err)
		got, err := st.SaveAnswer(ctx, a.ID, "q2", grading.Answer{Value: grading.List("B", "C"), TestID: "t1"}, t0.Add(30*time.Second))
		require.NoError(t, err)
		require.Len(t, got.Answers, 2)
		assert.Equal(t, []string{"B", "C"}, got.Answers["q2"].Value.List)
		assert.Equal(t, "math", got.Answers["q1"].SubjectID)
		assert.True(t, got.Answers["q1"].SavedAt.Equal(t0))
		assert.True(t, got.Answers["q2"].SavedAt.Equal(t0.Add(30*time.Second)))

		done, changed, err := st.FinalizeAttempt(ctx, a.ID, map[string]int{"t1": 15}, t0.Add(time.Minute))
		require.NoError(t, err)
		assert.True(t, changed)
		assert.Equal(t, exam.AttemptFinished, done.Status)
		assert.Equal(t, map[string]int{"t1": 15}, done.ScoreByTest)
		require.NotNil(t, done.FinishedAt)

		again, changed, err := st.FinalizeAttempt(ctx, a.ID, map[string]int{"t1": 0}, t0.Add(2*time.Minute))
		require.NoError(t, err)
		assert.False(t, changed)
		assert.Equal(t, map[string]int{"t1": 15}, again.ScoreByTest)
		assert.True(t, again.FinishedAt.Equal(t0.Add(time.Minute)))

		_, err = st.SaveAnswer(ctx, a.ID, "q1", grading.Answer{Value: grading.Text("B")}, t0)
		assert.ErrorIs(t, err, exam.ErrAttemptFinished)
	})
}

func TestStoreProfiles(t *testing.T) {
	eachStore(t, func(t *testing.T, st exam.Store) {
		ctx := context.Background()
		require.NoError(t, st.PutProfile(ctx, exam.Profile{ID: "u1", Email: "a@school.ua", Role: exam.RoleStudent, Class: "11-А", CreatedAt: t0}))
		require.NoError(t, st.PutProfile(ctx, exam.Profile{ID: "u2", Email: "b@school.ua", Role: exam.RoleAdmin, CreatedAt: t0}))

		p, err := st.GetProfileByEmail(ctx, "a@school.ua")
		require.NoError(t, err)
		assert.Equal(t, "u1", p.ID)
		assert.Equal(t, "11-А", p.Class)

		students, err := st.ListProfiles(ctx, exam.RoleStudent)
		require.NoError(t, err)
		assert.Len(t, students, 1)

		assert.Error(t, st.PutProfile(ctx, exam.Profile{ID: "u3", Email: "a@school.ua", Role: exam.RoleStudent, CreatedAt: t0}))
	})
}

func TestStoreTestsAndSubjects(t *testing.T) {
	eachStore(t, func(t *testing.T, st exam.Store) {
		ctx := context.Background()
		require.NoError(t, st.PutSubject(ctx, exam.Subject{ID: "math", Name: "Математика", CreatedAt: t0}))
		require.NoError(t, st.PutTest(ctx, exam.Test{
			ID: "t1", SubjectID: "math", Title: "Алгебра", CreatedAt: t0,
			Questions: []exam.Question{
				{ID: "q1", Type: grading.SingleChoice, Points: 5, CorrectAnswers: exam.CorrectAnswers{Values: []string{"A"}}},
				{ID: "m1", Type: grading.Matching, Points: 4, CorrectAnswers: exam.CorrectAnswers{Matches: []grading.Match{{PromptID: "p", OptionID: "o"}}}},
			},
		}))
		got, err := st.GetTest(ctx, "t1")
		require.NoError(t, err)
		require.Len(t, got.Questions, 2)
		assert.Equal(t, []string{"A"}, got.Questions[0].CorrectAnswers.Values)
		assert.Equal(t, "o", got.Questions[1].CorrectAnswers.Matches[0].OptionID)
		assert.Equal(t, 9.0, got.MaxScore())

		list, err := st.ListTests(ctx, exam.TestListOpts{SubjectID: "other"})
		require.NoError(t, err)
		assert.Empty(t, list)

		require.NoError(t, st.DeleteTest(ctx, "t1"))
		assert.ErrorIs(t, st.DeleteTest(ctx, "t1"), exam.ErrNotFound)
	})
}

func TestStoreDeleteSessionDropsAttempts(t *testing.T) {
	eachStore(t, func(t *testing.T, st exam.Store) {
		ctx := context.Background()
		seedSession(t, st, "s1")
		_, _, err := st.FindOrCreateAttempt(ctx, exam.Attempt{ID: "a1", SessionID: "s1", StudentID: "u1", Status: exam.AttemptInProgress, StartedAt: t0})
		require.NoError(t, err)
		_, err = st.SaveAnswer(ctx, "a1", "q1", grading.Answer{Value: grading.Text("A"), TestID: "t1"}, t0)
		require.NoError(t, err)

		require.NoError(t, st.DeleteSession(ctx, "s1"))
		_, err = st.GetAttempt(ctx, "a1")
		assert.ErrorIs(t, err, exam.ErrNotFound)
		assert.ErrorIs(t, st.DeleteSession(ctx, "s1"), exam.ErrNotFound)
	})
}
