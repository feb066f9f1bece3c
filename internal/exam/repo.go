package exam

import (
	"context"
	"time"

	"github.com/mind-engage/mindengage-nmt/internal/grading"
	"github.com/mind-engage/mindengage-nmt/internal/session"
)

type TestListOpts struct {
	SubjectID string
}

type SessionListOpts struct {
	Status    session.Status // optional filter
	StudentID string         // only sessions this student is allowed into
	Limit     int
	Offset    int
}

type AttemptListOpts struct {
	SessionID string
	StudentID string
	Status    AttemptStatus
	Limit     int
	Offset    int
}

type SubjectStore interface {
	PutSubject(ctx context.Context, s Subject) error
	GetSubject(ctx context.Context, id string) (Subject, error)
	ListSubjects(ctx context.Context) ([]Subject, error)
	DeleteSubject(ctx context.Context, id string) error
}

type TestStore interface {
	PutTest(ctx context.Context, t Test) error
	GetTest(ctx context.Context, id string) (Test, error)
	ListTests(ctx context.Context, opts TestListOpts) ([]Test, error)
	DeleteTest(ctx context.Context, id string) error
}

// SessionStore lists sessions newest first.
type SessionStore interface {
	PutSession(ctx context.Context, s Session) error
	GetSession(ctx context.Context, id string) (Session, error)
	ListSessions(ctx context.Context, opts SessionListOpts) ([]Session, error)
	DeleteSession(ctx context.Context, id string) error
}

// AttemptStore keeps at most one attempt per (session, student).
type AttemptStore interface {
	// FindOrCreateAttempt inserts a unless an attempt for the same session and
	// student exists, and returns the stored attempt. created reports whether
	// a was inserted.
	FindOrCreateAttempt(ctx context.Context, a Attempt) (stored Attempt, created bool, err error)
	FindAttempt(ctx context.Context, sessionID, studentID string) (Attempt, error)
	GetAttempt(ctx context.Context, id string) (Attempt, error)
	ListAttempts(ctx context.Context, opts AttemptListOpts) ([]Attempt, error)
	// SaveAnswer merges one answer into an in-progress attempt, stamped with at.
	SaveAnswer(ctx context.Context, attemptID, questionID string, ans grading.Answer, at time.Time) (Attempt, error)
	// FinalizeAttempt stores scores and marks the attempt finished only if it
	// is still in progress. changed is false when another caller got there
	// first; the stored attempt is returned either way.
	FinalizeAttempt(ctx context.Context, id string, scores map[string]int, at time.Time) (stored Attempt, changed bool, err error)
}

type ProfileStore interface {
	PutProfile(ctx context.Context, p Profile) error
	GetProfile(ctx context.Context, id string) (Profile, error)
	GetProfileByEmail(ctx context.Context, email string) (Profile, error)
	ListProfiles(ctx context.Context, role Role) ([]Profile, error)
}

type Store interface {
	SubjectStore
	TestStore
	SessionStore
	AttemptStore
	ProfileStore
}

func page[T any](items []T, limit, offset int) []T {
	if offset > 0 {
		if offset >= len(items) {
			return []T{}
		}
		items = items[offset:]
	}
	if limit > 0 && limit < len(items) {
		items = items[:limit]
	}
	return items
}
