package exam

import (
	"bytes"
	"encoding/json"
	"time"

	"github.com/pkg/errors"
	"k8s.io/apimachinery/pkg/util/sets"

	"github.com/mind-engage/mindengage-nmt/internal/grading"
	"github.com/mind-engage/mindengage-nmt/internal/session"
)

// AllStudents in a session's allow-list admits every student.
const AllStudents = "all"

// Fallback labels for references that no longer resolve.
const (
	UnknownSubject = "Невідомий предмет"
	UnknownTest    = "Невідомий тест"
)

type Subject struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Description string    `json:"description,omitempty"`
	CreatedAt   time.Time `json:"createdAt"`
}

type Option struct {
	ID   string `json:"id"`
	Text string `json:"text"`
}

type MatchPrompt struct {
	ID   string `json:"id"`
	Text string `json:"text"`
}

// CorrectAnswers is a JSON array of strings for choice and input questions
// or of {promptId, optionId} objects for matching questions.
type CorrectAnswers struct {
	Values  []string
	Matches []grading.Match
}

func (c CorrectAnswers) MarshalJSON() ([]byte, error) {
	if len(c.Matches) > 0 {
		return json.Marshal(c.Matches)
	}
	if c.Values == nil {
		return []byte("[]"), nil
	}
	return json.Marshal(c.Values)
}

func (c *CorrectAnswers) UnmarshalJSON(data []byte) error {
	*c = CorrectAnswers{}
	var items []json.RawMessage
	if err := json.Unmarshal(data, &items); err != nil {
		return errors.Wrap(err, "correctAnswers must be an array")
	}
	for _, raw := range items {
		raw = bytes.TrimSpace(raw)
		if len(raw) > 0 && raw[0] == '{' {
			var m grading.Match
			if err := json.Unmarshal(raw, &m); err != nil {
				return errors.Wrap(err, "correctAnswers entry")
			}
			c.Matches = append(c.Matches, m)
			continue
		}
		var v grading.Value
		if err := json.Unmarshal(raw, &v); err != nil {
			return err
		}
		c.Values = append(c.Values, v.String())
	}
	if len(c.Matches) > 0 && len(c.Values) > 0 {
		return errors.New("correctAnswers mixes strings and pairs")
	}
	return nil
}

type Question struct {
	ID             string               `json:"id"`
	QuestionText   string               `json:"questionText"`
	Type           grading.QuestionType `json:"type"`
	Points         float64              `json:"points"`
	ImageURL       string               `json:"imageUrl,omitempty"`
	Options        []Option             `json:"options,omitempty"`
	MatchPrompts   []MatchPrompt        `json:"matchPrompts,omitempty"`
	CorrectAnswers CorrectAnswers       `json:"correctAnswers"`
}

// Grading returns the grader's view of q as part of testID.
func (q Question) Grading(testID string) grading.Q {
	return grading.Q{
		ID:        q.ID,
		TestID:    testID,
		Type:      q.Type,
		Points:    q.Points,
		AnswerKey: q.CorrectAnswers.Values,
		MatchKey:  q.CorrectAnswers.Matches,
	}
}

type Test struct {
	ID          string     `json:"id"`
	SubjectID   string     `json:"subjectId"`
	Title       string     `json:"title"`
	Description string     `json:"description,omitempty"`
	Questions   []Question `json:"questions"`
	CreatedAt   time.Time  `json:"createdAt"`
}

// MaxScore is the sum of question points.
func (t Test) MaxScore() float64 {
	return grading.MaxScore(t.GradingQuestions())
}

func (t Test) GradingQuestions() []grading.Q {
	out := make([]grading.Q, 0, len(t.Questions))
	for _, q := range t.Questions {
		out = append(out, q.Grading(t.ID))
	}
	return out
}

// Public strips answer keys for students.
func (t Test) Public() Test {
	qs := make([]Question, len(t.Questions))
	copy(qs, t.Questions)
	for i := range qs {
		qs[i].CorrectAnswers = CorrectAnswers{}
	}
	t.Questions = qs
	return t
}

func (t Test) Question(id string) (Question, bool) {
	for _, q := range t.Questions {
		if q.ID == id {
			return q, true
		}
	}
	return Question{}, false
}

type Session struct {
	ID              string   `json:"id"`
	Title           string   `json:"title"`
	TestIDs         []string `json:"testIds"`
	DurationMinutes int      `json:"durationMinutes"`
	session.State
	AllowedStudents              []string  `json:"allowedStudents"`
	ShowDetailedResultsToStudent bool      `json:"showDetailedResultsToStudent"`
	CreatedAt                    time.Time `json:"createdAt"`
}

func (s Session) Duration() time.Duration {
	return time.Duration(s.DurationMinutes) * time.Minute
}

// Allows reports whether studentID may take the session.
func (s Session) Allows(studentID string) bool {
	allowed := sets.New[string](s.AllowedStudents...)
	return allowed.Has(AllStudents) || (studentID != "" && allowed.Has(studentID))
}

func (s Session) Snapshot() session.Snapshot {
	return session.Snapshot{ID: s.ID, State: s.State}
}

type AttemptStatus string

const (
	AttemptInProgress AttemptStatus = "in_progress"
	AttemptFinished   AttemptStatus = "finished"
)

type Attempt struct {
	ID          string                    `json:"id"`
	SessionID   string                    `json:"sessionId"`
	StudentID   string                    `json:"studentId"`
	Status      AttemptStatus             `json:"status"`
	StartedAt   time.Time                 `json:"startedAt"`
	FinishedAt  *time.Time                `json:"finishedAt,omitempty"`
	Answers     map[string]grading.Answer `json:"answers"`
	ScoreByTest map[string]int            `json:"scoreByTest,omitempty"`
}

type Role string

const (
	RoleAdmin   Role = "admin"
	RoleStudent Role = "student"
)

func (r Role) Valid() bool { return r == RoleAdmin || r == RoleStudent }

type Profile struct {
	ID           string    `json:"id"`
	Email        string    `json:"email"`
	FullName     string    `json:"fullName,omitempty"`
	Role         Role      `json:"role"`
	Class        string    `json:"class,omitempty"`
	PasswordHash string    `json:"-"`
	CreatedAt    time.Time `json:"createdAt"`
}
