package exam

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/mind-engage/mindengage-nmt/internal/grading"
)

type memoryStore struct {
	mu        sync.RWMutex
	subjects  map[string]Subject
	tests     map[string]Test
	sessions  map[string]Session
	attempts  map[string]Attempt
	byStudent map[string]string // sessionID|studentID -> attemptID
	profiles  map[string]Profile
}

// NewInMemoryStore returns a Store for tests and single-process offline use.
func NewInMemoryStore() Store {
	return &memoryStore{
		subjects:  map[string]Subject{},
		tests:     map[string]Test{},
		sessions:  map[string]Session{},
		attempts:  map[string]Attempt{},
		byStudent: map[string]string{},
		profiles:  map[string]Profile{},
	}
}

func attemptKey(sessionID, studentID string) string { return sessionID + "|" + studentID }

// --- subjects ---

func (m *memoryStore) PutSubject(_ context.Context, s Subject) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.subjects[s.ID] = s
	return nil
}

func (m *memoryStore) GetSubject(_ context.Context, id string) (Subject, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.subjects[id]
	if !ok {
		return Subject{}, notFound("subject", id)
	}
	return s, nil
}

func (m *memoryStore) ListSubjects(context.Context) ([]Subject, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]Subject, 0, len(m.subjects))
	for _, s := range m.subjects {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (m *memoryStore) DeleteSubject(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.subjects[id]; !ok {
		return notFound("subject", id)
	}
	delete(m.subjects, id)
	return nil
}

// --- tests ---

func (m *memoryStore) PutTest(_ context.Context, t Test) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	t.Questions = append([]Question(nil), t.Questions...)
	m.tests[t.ID] = t
	return nil
}

func (m *memoryStore) GetTest(_ context.Context, id string) (Test, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	t, ok := m.tests[id]
	if !ok {
		return Test{}, notFound("test", id)
	}
	t.Questions = append([]Question(nil), t.Questions...)
	return t, nil
}

func (m *memoryStore) ListTests(_ context.Context, opts TestListOpts) ([]Test, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := []Test{}
	for _, t := range m.tests {
		if opts.SubjectID != "" && t.SubjectID != opts.SubjectID {
			continue
		}
		t.Questions = append([]Question(nil), t.Questions...)
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (m *memoryStore) DeleteTest(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.tests[id]; !ok {
		return notFound("test", id)
	}
	delete(m.tests, id)
	return nil
}

// --- sessions ---

func (m *memoryStore) PutSession(_ context.Context, s Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sessions[s.ID] = s
	return nil
}

func (m *memoryStore) GetSession(_ context.Context, id string) (Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessions[id]
	if !ok {
		return Session{}, notFound("session", id)
	}
	return s, nil
}

func (m *memoryStore) ListSessions(_ context.Context, opts SessionListOpts) ([]Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := []Session{}
	for _, s := range m.sessions {
		if opts.Status != "" && s.Status != opts.Status {
			continue
		}
		if opts.StudentID != "" && !s.Allows(opts.StudentID) {
			continue
		}
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return page(out, opts.Limit, opts.Offset), nil
}

func (m *memoryStore) DeleteSession(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.sessions[id]; !ok {
		return notFound("session", id)
	}
	delete(m.sessions, id)
	for aid, a := range m.attempts {
		if a.SessionID == id {
			delete(m.attempts, aid)
			delete(m.byStudent, attemptKey(a.SessionID, a.StudentID))
		}
	}
	return nil
}

// --- attempts ---

func (m *memoryStore) FindOrCreateAttempt(_ context.Context, a Attempt) (Attempt, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	k := attemptKey(a.SessionID, a.StudentID)
	if id, ok := m.byStudent[k]; ok {
		return cloneAttempt(m.attempts[id]), false, nil
	}
	if a.Answers == nil {
		a.Answers = map[string]grading.Answer{}
	}
	m.attempts[a.ID] = cloneAttempt(a)
	m.byStudent[k] = a.ID
	return cloneAttempt(a), true, nil
}

func (m *memoryStore) FindAttempt(_ context.Context, sessionID, studentID string) (Attempt, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	id, ok := m.byStudent[attemptKey(sessionID, studentID)]
	if !ok {
		return Attempt{}, notFound("attempt", attemptKey(sessionID, studentID))
	}
	return cloneAttempt(m.attempts[id]), nil
}

func (m *memoryStore) GetAttempt(_ context.Context, id string) (Attempt, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	a, ok := m.attempts[id]
	if !ok {
		return Attempt{}, notFound("attempt", id)
	}
	return cloneAttempt(a), nil
}

func (m *memoryStore) ListAttempts(_ context.Context, opts AttemptListOpts) ([]Attempt, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := []Attempt{}
	for _, a := range m.attempts {
		if opts.SessionID != "" && a.SessionID != opts.SessionID {
			continue
		}
		if opts.StudentID != "" && a.StudentID != opts.StudentID {
			continue
		}
		if opts.Status != "" && a.Status != opts.Status {
			continue
		}
		out = append(out, cloneAttempt(a))
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].StartedAt.Equal(out[j].StartedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].StartedAt.Before(out[j].StartedAt)
	})
	return page(out, opts.Limit, opts.Offset), nil
}

func (m *memoryStore) SaveAnswer(_ context.Context, attemptID, questionID string, ans grading.Answer, at time.Time) (Attempt, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.attempts[attemptID]
	if !ok {
		return Attempt{}, notFound("attempt", attemptID)
	}
	if a.Status == AttemptFinished {
		return Attempt{}, ErrAttemptFinished
	}
	a = cloneAttempt(a)
	ans.SavedAt = at
	a.Answers[questionID] = ans
	m.attempts[attemptID] = a
	return cloneAttempt(a), nil
}

func (m *memoryStore) FinalizeAttempt(_ context.Context, id string, scores map[string]int, at time.Time) (Attempt, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.attempts[id]
	if !ok {
		return Attempt{}, false, notFound("attempt", id)
	}
	if a.Status == AttemptFinished {
		return cloneAttempt(a), false, nil
	}
	a = cloneAttempt(a)
	a.Status = AttemptFinished
	a.FinishedAt = &at
	a.ScoreByTest = map[string]int{}
	for k, v := range scores {
		a.ScoreByTest[k] = v
	}
	m.attempts[id] = a
	return cloneAttempt(a), true, nil
}

func cloneAttempt(a Attempt) Attempt {
	answers := make(map[string]grading.Answer, len(a.Answers))
	for k, v := range a.Answers {
		answers[k] = v
	}
	a.Answers = answers
	if a.ScoreByTest != nil {
		scores := make(map[string]int, len(a.ScoreByTest))
		for k, v := range a.ScoreByTest {
			scores[k] = v
		}
		a.ScoreByTest = scores
	}
	return a
}

// --- profiles ---

func (m *memoryStore) PutProfile(_ context.Context, p Profile) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for id, other := range m.profiles {
		if id != p.ID && other.Email == p.Email {
			return invalid("email %q already in use", p.Email)
		}
	}
	m.profiles[p.ID] = p
	return nil
}

func (m *memoryStore) GetProfile(_ context.Context, id string) (Profile, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.profiles[id]
	if !ok {
		return Profile{}, notFound("profile", id)
	}
	return p, nil
}

func (m *memoryStore) GetProfileByEmail(_ context.Context, email string) (Profile, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, p := range m.profiles {
		if p.Email == email {
			return p, nil
		}
	}
	return Profile{}, notFound("profile", email)
}

func (m *memoryStore) ListProfiles(_ context.Context, role Role) ([]Profile, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := []Profile{}
	for _, p := range m.profiles {
		if role != "" && p.Role != role {
			continue
		}
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Email < out[j].Email })
	return out, nil
}
