package exam

import (
	"context"
	"strings"

	"github.com/pkg/errors"

	"github.com/mind-engage/mindengage-nmt/internal/grading"
)

func (s *Service) CreateSubject(ctx context.Context, name, description string) (Subject, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return Subject{}, invalid("subject name is required")
	}
	sub := Subject{ID: s.newID(), Name: name, Description: strings.TrimSpace(description), CreatedAt: s.clock.Now()}
	if err := s.store.PutSubject(ctx, sub); err != nil {
		return Subject{}, err
	}
	return sub, nil
}

func (s *Service) UpdateSubject(ctx context.Context, id, name, description string) (Subject, error) {
	sub, err := s.store.GetSubject(ctx, id)
	if err != nil {
		return Subject{}, err
	}
	if name = strings.TrimSpace(name); name == "" {
		return Subject{}, invalid("subject name is required")
	}
	sub.Name = name
	sub.Description = strings.TrimSpace(description)
	if err := s.store.PutSubject(ctx, sub); err != nil {
		return Subject{}, err
	}
	return sub, nil
}

// SubjectNames maps subject ids to names for display.
func (s *Service) SubjectNames(ctx context.Context) (map[string]string, error) {
	subs, err := s.store.ListSubjects(ctx)
	if err != nil {
		return nil, err
	}
	out := make(map[string]string, len(subs))
	for _, sub := range subs {
		out[sub.ID] = sub.Name
	}
	return out, nil
}

type TestInput struct {
	SubjectID   string `json:"subjectId"`
	Title       string `json:"title"`
	Description string `json:"description"`
}

func (in TestInput) validate(ctx context.Context, store SubjectStore) error {
	if strings.TrimSpace(in.Title) == "" {
		return invalid("test title is required")
	}
	if in.SubjectID == "" {
		return invalid("subjectId is required")
	}
	if _, err := store.GetSubject(ctx, in.SubjectID); err != nil {
		if errors.Is(err, ErrNotFound) {
			return invalid("unknown subject %q", in.SubjectID)
		}
		return err
	}
	return nil
}

func (s *Service) CreateTest(ctx context.Context, in TestInput) (Test, error) {
	if err := in.validate(ctx, s.store); err != nil {
		return Test{}, err
	}
	t := Test{
		ID:          s.newID(),
		SubjectID:   in.SubjectID,
		Title:       strings.TrimSpace(in.Title),
		Description: strings.TrimSpace(in.Description),
		Questions:   []Question{},
		CreatedAt:   s.clock.Now(),
	}
	if err := s.store.PutTest(ctx, t); err != nil {
		return Test{}, err
	}
	return t, nil
}

func (s *Service) UpdateTest(ctx context.Context, id string, in TestInput) (Test, error) {
	t, err := s.store.GetTest(ctx, id)
	if err != nil {
		return Test{}, err
	}
	if err := in.validate(ctx, s.store); err != nil {
		return Test{}, err
	}
	t.SubjectID = in.SubjectID
	t.Title = strings.TrimSpace(in.Title)
	t.Description = strings.TrimSpace(in.Description)
	if err := s.store.PutTest(ctx, t); err != nil {
		return Test{}, err
	}
	return t, nil
}

// ReplaceQuestions swaps a test's whole question list, as a JSON import does.
// Scores of finished attempts are not recomputed.
func (s *Service) ReplaceQuestions(ctx context.Context, testID string, qs []Question) (Test, error) {
	t, err := s.store.GetTest(ctx, testID)
	if err != nil {
		return Test{}, err
	}
	seen := map[string]bool{}
	for i, q := range qs {
		if err := ValidateQuestion(q); err != nil {
			return Test{}, errors.Wrapf(err, "question %d", i+1)
		}
		if seen[q.ID] {
			return Test{}, invalid("duplicate question id %q", q.ID)
		}
		seen[q.ID] = true
	}
	t.Questions = append([]Question{}, qs...)
	if err := s.store.PutTest(ctx, t); err != nil {
		return Test{}, err
	}
	return t, nil
}

// AddQuestion appends q, or replaces the question with the same id.
func (s *Service) AddQuestion(ctx context.Context, testID string, q Question) (Test, error) {
	if q.ID == "" {
		q.ID = s.newID()
	}
	if err := ValidateQuestion(q); err != nil {
		return Test{}, err
	}
	t, err := s.store.GetTest(ctx, testID)
	if err != nil {
		return Test{}, err
	}
	replaced := false
	for i := range t.Questions {
		if t.Questions[i].ID == q.ID {
			t.Questions[i] = q
			replaced = true
		}
	}
	if !replaced {
		t.Questions = append(t.Questions, q)
	}
	if err := s.store.PutTest(ctx, t); err != nil {
		return Test{}, err
	}
	return t, nil
}

func (s *Service) RemoveQuestion(ctx context.Context, testID, questionID string) (Test, error) {
	t, err := s.store.GetTest(ctx, testID)
	if err != nil {
		return Test{}, err
	}
	kept := t.Questions[:0]
	for _, q := range t.Questions {
		if q.ID != questionID {
			kept = append(kept, q)
		}
	}
	if len(kept) == len(t.Questions) {
		return Test{}, notFound("question", questionID)
	}
	t.Questions = kept
	if err := s.store.PutTest(ctx, t); err != nil {
		return Test{}, err
	}
	return t, nil
}

// ValidateQuestion checks what the grader relies on.
func ValidateQuestion(q Question) error {
	if strings.TrimSpace(q.ID) == "" {
		return invalid("question id is required")
	}
	if !q.Type.Valid() {
		return invalid("unsupported question type %q", q.Type)
	}
	if q.Points < 0 {
		return invalid("points must not be negative")
	}
	switch q.Type {
	case grading.Matching:
		if len(q.CorrectAnswers.Values) > 0 {
			return invalid("matching answers must be prompt/option pairs")
		}
	default:
		if len(q.CorrectAnswers.Matches) > 0 {
			return invalid("%s answers must be strings", q.Type)
		}
	}
	return nil
}

// DeleteSubject refuses to drop a subject that still has tests.
func (s *Service) DeleteSubject(ctx context.Context, id string) error {
	tests, err := s.store.ListTests(ctx, TestListOpts{SubjectID: id})
	if err != nil {
		return err
	}
	if len(tests) > 0 {
		return invalid("subject %s still has %d tests", id, len(tests))
	}
	return s.store.DeleteSubject(ctx, id)
}

// DeleteTest removes a test. Sessions referencing it skip it from then on.
func (s *Service) DeleteTest(ctx context.Context, id string) error {
	return s.store.DeleteTest(ctx, id)
}

func (s *Service) ListSubjects(ctx context.Context) ([]Subject, error) {
	return s.store.ListSubjects(ctx)
}

func (s *Service) GetSubject(ctx context.Context, id string) (Subject, error) {
	return s.store.GetSubject(ctx, id)
}

func (s *Service) ListTests(ctx context.Context, opts TestListOpts) ([]Test, error) {
	return s.store.ListTests(ctx, opts)
}

// GetTest reads a test, retrying transient storage failures.
func (s *Service) GetTest(ctx context.Context, id string) (Test, error) {
	var t Test
	err := s.fetch(ctx, func(ctx context.Context) error {
		var err error
		t, err = s.store.GetTest(ctx, id)
		return err
	})
	return t, err
}
