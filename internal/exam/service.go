package exam

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/golang/glog"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"golang.org/x/sync/singleflight"
	utilerrors "k8s.io/apimachinery/pkg/util/errors"
	"k8s.io/apimachinery/pkg/util/wait"
	"k8s.io/utils/clock"

	"github.com/mind-engage/mindengage-nmt/internal/db"
	"github.com/mind-engage/mindengage-nmt/internal/grading"
	"github.com/mind-engage/mindengage-nmt/internal/session"
	syncx "github.com/mind-engage/mindengage-nmt/internal/sync"
)

// DefaultDurationMinutes applies when a session is created without a duration.
const DefaultDurationMinutes = 120

// Trigger names what caused an attempt to be finalized.
type Trigger string

const (
	TriggerStudent         Trigger = "student"
	TriggerExpiry          Trigger = "expiry"
	TriggerSessionFinished Trigger = "session_finished"
)

// EventLog records domain events for audit.
type EventLog interface {
	Append(ctx context.Context, e syncx.Event) error
}

// Publisher is told about every persisted session state change.
type Publisher interface {
	Publish(s session.Snapshot)
}

type Service struct {
	store     Store
	scorer    grading.Scorer
	clock     clock.PassiveClock
	events    EventLog
	publisher Publisher
	backoff   wait.Backoff
	newID     func() string

	// transitions serializes read-modify-write of session state.
	transitions sync.Mutex
	finishing   singleflight.Group
}

type ServiceOption func(*Service)

func WithScorer(sc grading.Scorer) ServiceOption    { return func(s *Service) { s.scorer = sc } }
func WithClock(c clock.PassiveClock) ServiceOption  { return func(s *Service) { s.clock = c } }
func WithEventLog(l EventLog) ServiceOption         { return func(s *Service) { s.events = l } }
func WithPublisher(p Publisher) ServiceOption       { return func(s *Service) { s.publisher = p } }
func WithBackoff(b wait.Backoff) ServiceOption      { return func(s *Service) { s.backoff = b } }
func WithIDGenerator(f func() string) ServiceOption { return func(s *Service) { s.newID = f } }

func NewService(store Store, opts ...ServiceOption) *Service {
	s := &Service{
		store:   store,
		scorer:  grading.NewEngine(),
		clock:   clock.RealClock{},
		backoff: db.DefaultBackoff,
		newID:   uuid.NewString,
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

func (s *Service) Store() Store { return s.store }

func (s *Service) Now() time.Time { return s.clock.Now() }

// --- sessions ---

type NewSession struct {
	Title                        string   `json:"title"`
	TestIDs                      []string `json:"testIds"`
	DurationMinutes              int      `json:"durationMinutes"`
	AllowedStudents              []string `json:"allowedStudents"`
	ShowDetailedResultsToStudent bool     `json:"showDetailedResultsToStudent"`
}

func (s *Service) CreateSession(ctx context.Context, in NewSession) (Session, error) {
	title := strings.TrimSpace(in.Title)
	if title == "" {
		return Session{}, invalid("session title is required")
	}
	if len(in.TestIDs) == 0 {
		return Session{}, invalid("at least one test is required")
	}
	for _, id := range in.TestIDs {
		if _, err := s.store.GetTest(ctx, id); err != nil {
			if errors.Is(err, ErrNotFound) {
				return Session{}, invalid("unknown test %q", id)
			}
			return Session{}, err
		}
	}
	duration := in.DurationMinutes
	if duration == 0 {
		duration = DefaultDurationMinutes
	}
	if duration < 1 {
		return Session{}, invalid("duration must be at least one minute")
	}
	allowed := in.AllowedStudents
	if len(allowed) == 0 {
		allowed = []string{AllStudents}
	}

	ss := Session{
		ID:                           s.newID(),
		Title:                        title,
		TestIDs:                      append([]string(nil), in.TestIDs...),
		DurationMinutes:              duration,
		State:                        session.State{Status: session.StatusDraft},
		AllowedStudents:              allowed,
		ShowDetailedResultsToStudent: in.ShowDetailedResultsToStudent,
		CreatedAt:                    s.clock.Now(),
	}
	if err := s.store.PutSession(ctx, ss); err != nil {
		return Session{}, err
	}
	s.record(ctx, syncx.TypeSessionCreated, ss.ID, map[string]interface{}{"title": ss.Title, "testIds": ss.TestIDs})
	glog.Infof("session %s created (%d tests, %d min)", ss.ID, len(ss.TestIDs), ss.DurationMinutes)
	return ss, nil
}

// GetSession reads a session, retrying transient storage failures.
func (s *Service) GetSession(ctx context.Context, id string) (Session, error) {
	var ss Session
	err := s.fetch(ctx, func(ctx context.Context) error {
		var err error
		ss, err = s.store.GetSession(ctx, id)
		return err
	})
	return ss, err
}

func (s *Service) ListSessions(ctx context.Context, opts SessionListOpts) ([]Session, error) {
	return s.store.ListSessions(ctx, opts)
}

// ActiveSessionsFor lists running sessions studentID may join, newest first.
func (s *Service) ActiveSessionsFor(ctx context.Context, studentID string) ([]Session, error) {
	return s.store.ListSessions(ctx, SessionListOpts{Status: session.StatusActive, StudentID: studentID})
}

func (s *Service) DeleteSession(ctx context.Context, id string) error {
	return s.store.DeleteSession(ctx, id)
}

func (s *Service) SetAllowedStudents(ctx context.Context, id string, students []string) (Session, error) {
	clean := make([]string, 0, len(students))
	for _, st := range students {
		if st = strings.TrimSpace(st); st != "" {
			clean = append(clean, st)
		}
	}
	if len(clean) == 0 {
		return Session{}, invalid("allowed students must not be empty; use %q to admit everyone", AllStudents)
	}
	s.transitions.Lock()
	defer s.transitions.Unlock()
	ss, err := s.GetSession(ctx, id)
	if err != nil {
		return Session{}, err
	}
	ss.AllowedStudents = clean
	if err := s.store.PutSession(ctx, ss); err != nil {
		return Session{}, err
	}
	return ss, nil
}

func (s *Service) StartSession(ctx context.Context, id string) (Session, error) {
	return s.transition(ctx, id, syncx.TypeSessionStarted, func(ss Session, now time.Time) (session.State, error) {
		return ss.State.Start(ss.Duration(), now)
	})
}

func (s *Service) PauseSession(ctx context.Context, id string) (Session, error) {
	return s.transition(ctx, id, syncx.TypeSessionPaused, func(ss Session, now time.Time) (session.State, error) {
		return ss.State.Pause(now)
	})
}

func (s *Service) ResumeSession(ctx context.Context, id string) (Session, error) {
	return s.transition(ctx, id, syncx.TypeSessionResumed, func(ss Session, now time.Time) (session.State, error) {
		if ss.IsPaused && (ss.PausedAt == nil || ss.EndTime == nil) {
			glog.Warningf("session %s: resumed without pausedAt/endTime; end time left unchanged", ss.ID)
		}
		return ss.State.Resume(now)
	})
}

// FinishSession ends the session and finalizes every attempt still in
// progress.
func (s *Service) FinishSession(ctx context.Context, id string) (Session, error) {
	ss, err := s.transition(ctx, id, syncx.TypeSessionFinished, func(ss Session, now time.Time) (session.State, error) {
		return ss.State.Finish(now)
	})
	if err != nil {
		return ss, err
	}
	_, err = s.finishOpenAttempts(ctx, id, TriggerSessionFinished)
	return ss, err
}

// ExpireSession finalizes in-progress attempts once the session clock has
// run out. It returns how many attempts were finalized.
func (s *Service) ExpireSession(ctx context.Context, id string) (int, error) {
	ss, err := s.GetSession(ctx, id)
	if err != nil {
		return 0, err
	}
	if !session.Expired(ss.State, s.clock.Now()) {
		return 0, nil
	}
	return s.finishOpenAttempts(ctx, id, TriggerExpiry)
}

func (s *Service) transition(ctx context.Context, id, event string, fn func(Session, time.Time) (session.State, error)) (Session, error) {
	s.transitions.Lock()
	defer s.transitions.Unlock()

	ss, err := s.GetSession(ctx, id)
	if err != nil {
		return Session{}, err
	}
	next, err := fn(ss, s.clock.Now())
	if err != nil {
		return ss, err
	}
	ss.State = next
	if err := s.store.PutSession(ctx, ss); err != nil {
		return Session{}, err
	}
	if s.publisher != nil {
		s.publisher.Publish(ss.Snapshot())
	}
	s.record(ctx, event, ss.ID, ss.Snapshot())
	glog.Infof("session %s: %s", ss.ID, event)
	return ss, nil
}

func (s *Service) finishOpenAttempts(ctx context.Context, sessionID string, trigger Trigger) (int, error) {
	open, err := s.store.ListAttempts(ctx, AttemptListOpts{SessionID: sessionID, Status: AttemptInProgress})
	if err != nil {
		return 0, err
	}
	var (
		errs []error
		n    int
	)
	for _, a := range open {
		if _, err := s.FinishAttempt(ctx, a.ID, trigger); err != nil {
			glog.Errorf("session %s: finalize attempt %s: %v", sessionID, a.ID, err)
			errs = append(errs, err)
			continue
		}
		n++
	}
	return n, utilerrors.NewAggregate(errs)
}

// SessionTests resolves the session's tests in order. Tests that no longer
// exist are skipped.
func (s *Service) SessionTests(ctx context.Context, ss Session) ([]Test, error) {
	out := make([]Test, 0, len(ss.TestIDs))
	for _, id := range ss.TestIDs {
		t, err := s.store.GetTest(ctx, id)
		if errors.Is(err, ErrNotFound) {
			glog.Warningf("session %s references missing test %s", ss.ID, id)
			continue
		}
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, nil
}

// --- attempts ---

// OpenAttempt returns the student's attempt for the session, creating it if
// the session is running and admits the student. An attempt opened after
// the session ended comes back finalized.
func (s *Service) OpenAttempt(ctx context.Context, sessionID, studentID string) (Attempt, error) {
	ss, err := s.GetSession(ctx, sessionID)
	if err != nil {
		return Attempt{}, err
	}
	a, err := s.store.FindAttempt(ctx, sessionID, studentID)
	switch {
	case err == nil:
		return s.settle(ctx, ss, a)
	case !errors.Is(err, ErrNotFound):
		return Attempt{}, err
	}

	if ss.Status != session.StatusActive {
		return Attempt{}, errors.Wrapf(ErrSessionNotActive, "session %s is %s", ss.ID, ss.Status)
	}
	if !ss.Allows(studentID) {
		return Attempt{}, ErrNotAllowed
	}
	a, created, err := s.store.FindOrCreateAttempt(ctx, Attempt{
		ID:        s.newID(),
		SessionID: sessionID,
		StudentID: studentID,
		Status:    AttemptInProgress,
		StartedAt: s.clock.Now(),
		Answers:   map[string]grading.Answer{},
	})
	if err != nil {
		return Attempt{}, err
	}
	if created {
		glog.V(1).Infof("attempt %s started by %s in session %s", a.ID, studentID, sessionID)
		s.record(ctx, syncx.TypeAttemptStarted, a.ID, map[string]string{"sessionId": sessionID, "studentId": studentID})
	}
	return s.settle(ctx, ss, a)
}

// settle finalizes an in-progress attempt whose session is over.
func (s *Service) settle(ctx context.Context, ss Session, a Attempt) (Attempt, error) {
	if a.Status != AttemptInProgress {
		return a, nil
	}
	switch {
	case ss.Status == session.StatusFinished:
		return s.FinishAttempt(ctx, a.ID, TriggerSessionFinished)
	case session.Expired(ss.State, s.clock.Now()):
		return s.FinishAttempt(ctx, a.ID, TriggerExpiry)
	}
	return a, nil
}

func (s *Service) GetAttempt(ctx context.Context, id string) (Attempt, error) {
	return s.store.GetAttempt(ctx, id)
}

func (s *Service) SessionAttempts(ctx context.Context, sessionID string) ([]Attempt, error) {
	return s.store.ListAttempts(ctx, AttemptListOpts{SessionID: sessionID})
}

func (s *Service) ListAttempts(ctx context.Context, opts AttemptListOpts) ([]Attempt, error) {
	return s.store.ListAttempts(ctx, opts)
}

// SaveAnswer records studentID's answer to one question, replacing any
// earlier answer to it. The test and subject are taken from the session's
// tests.
func (s *Service) SaveAnswer(ctx context.Context, attemptID, studentID, questionID string, v grading.Value) (Attempt, error) {
	a, err := s.store.GetAttempt(ctx, attemptID)
	if err != nil {
		return Attempt{}, err
	}
	if a.StudentID != studentID {
		return Attempt{}, ErrForbidden
	}
	if a.Status == AttemptFinished {
		return Attempt{}, ErrAttemptFinished
	}
	ss, err := s.GetSession(ctx, a.SessionID)
	if err != nil {
		return Attempt{}, err
	}
	if settled, err := s.settle(ctx, ss, a); err != nil {
		return Attempt{}, err
	} else if settled.Status == AttemptFinished {
		return Attempt{}, ErrAttemptFinished
	}

	tests, err := s.SessionTests(ctx, ss)
	if err != nil {
		return Attempt{}, err
	}
	for _, t := range tests {
		if _, ok := t.Question(questionID); ok {
			return s.store.SaveAnswer(ctx, attemptID, questionID, grading.Answer{
				Value:     v,
				TestID:    t.ID,
				SubjectID: t.SubjectID,
			}, s.clock.Now())
		}
	}
	return Attempt{}, notFound("question", questionID)
}

// FinishAttempt scores and finalizes an attempt. It is idempotent: concurrent
// calls share one scoring run and a finished attempt is returned unchanged.
func (s *Service) FinishAttempt(ctx context.Context, attemptID string, trigger Trigger) (Attempt, error) {
	v, err, _ := s.finishing.Do(attemptID, func() (interface{}, error) {
		return s.finalize(ctx, attemptID, trigger)
	})
	if err != nil {
		return Attempt{}, err
	}
	return v.(Attempt), nil
}

func (s *Service) finalize(ctx context.Context, attemptID string, trigger Trigger) (Attempt, error) {
	a, err := s.store.GetAttempt(ctx, attemptID)
	if err != nil {
		return Attempt{}, err
	}
	if a.Status == AttemptFinished {
		return a, nil
	}
	ss, err := s.GetSession(ctx, a.SessionID)
	if err != nil {
		return Attempt{}, err
	}
	tests, err := s.SessionTests(ctx, ss)
	if err != nil {
		return Attempt{}, err
	}
	var questions []grading.Q
	for _, t := range tests {
		questions = append(questions, t.GradingQuestions()...)
	}
	scores := s.scorer.ScoreAttempt(questions, a.Answers)

	done, changed, err := s.store.FinalizeAttempt(ctx, attemptID, scores, s.clock.Now())
	if err != nil {
		return Attempt{}, errors.Wrapf(err, "finalize attempt %s", attemptID)
	}
	if changed {
		glog.Infof("attempt %s finished (%s): %v", attemptID, trigger, scores)
		s.record(ctx, syncx.TypeAttemptFinished, attemptID, map[string]interface{}{
			"sessionId":   a.SessionID,
			"studentId":   a.StudentID,
			"trigger":     trigger,
			"scoreByTest": scores,
		})
	}
	return done, nil
}

// --- helpers ---

func (s *Service) fetch(ctx context.Context, fn func(context.Context) error) error {
	return db.Retry(ctx, s.backoff, transient, fn)
}

func transient(err error) bool {
	return !errors.Is(err, ErrNotFound) &&
		!errors.Is(err, context.Canceled) &&
		!errors.Is(err, context.DeadlineExceeded)
}

func (s *Service) record(ctx context.Context, typ, key string, data interface{}) {
	if s.events == nil {
		return
	}
	e, err := syncx.NewEvent(typ, key, data)
	if err == nil {
		err = s.events.Append(ctx, e)
	}
	if err != nil {
		glog.Warningf("event log: %s %s: %v", typ, key, err)
	}
}
