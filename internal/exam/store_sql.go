package exam

import (
	"context"
	"database/sql"
	"encoding/json"
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"

	"github.com/mind-engage/mindengage-nmt/internal/db"
	"github.com/mind-engage/mindengage-nmt/internal/grading"
	"github.com/mind-engage/mindengage-nmt/internal/session"
)

type SQLStore struct {
	db *sql.DB
}

// NewSQLStore works against the schema created by db.Open for either driver.
func NewSQLStore(dbh *sql.DB) *SQLStore {
	return &SQLStore{db: dbh}
}

// --- subjects ---

func (s *SQLStore) PutSubject(ctx context.Context, sub Subject) error {
	_, err := s.db.ExecContext(ctx, `INSERT INTO subjects (id,name,description,created_at)
		VALUES ($1,$2,$3,$4)
		ON CONFLICT (id) DO UPDATE SET name=EXCLUDED.name, description=EXCLUDED.description`,
		sub.ID, sub.Name, sub.Description, toMillis(sub.CreatedAt))
	return errors.Wrap(err, "put subject")
}

func (s *SQLStore) GetSubject(ctx context.Context, id string) (Subject, error) {
	row := s.db.QueryRowContext(ctx, `SELECT id,name,description,created_at FROM subjects WHERE id=$1`, id)
	sub, err := scanSubject(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Subject{}, notFound("subject", id)
	}
	return sub, err
}

func (s *SQLStore) ListSubjects(ctx context.Context) ([]Subject, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id,name,description,created_at FROM subjects ORDER BY name`)
	if err != nil {
		return nil, errors.Wrap(err, "list subjects")
	}
	defer rows.Close()
	out := []Subject{}
	for rows.Next() {
		sub, err := scanSubject(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, sub)
	}
	return out, rows.Err()
}

func (s *SQLStore) DeleteSubject(ctx context.Context, id string) error {
	return s.deleteByID(ctx, "subjects", "subject", id)
}

func scanSubject(sc scanner) (Subject, error) {
	var (
		sub     Subject
		created int64
	)
	if err := sc.Scan(&sub.ID, &sub.Name, &sub.Description, &created); err != nil {
		return Subject{}, err
	}
	sub.CreatedAt = fromMillis(created)
	return sub, nil
}

// --- tests ---

func (s *SQLStore) PutTest(ctx context.Context, t Test) error {
	qs := t.Questions
	if qs == nil {
		qs = []Question{}
	}
	qj, err := json.Marshal(qs)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `INSERT INTO tests (id,subject_id,title,description,questions_json,created_at)
		VALUES ($1,$2,$3,$4,$5,$6)
		ON CONFLICT (id) DO UPDATE SET subject_id=EXCLUDED.subject_id, title=EXCLUDED.title,
			description=EXCLUDED.description, questions_json=EXCLUDED.questions_json`,
		t.ID, t.SubjectID, t.Title, t.Description, string(qj), toMillis(t.CreatedAt))
	return errors.Wrap(err, "put test")
}

func (s *SQLStore) GetTest(ctx context.Context, id string) (Test, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id,subject_id,title,description,questions_json,created_at FROM tests WHERE id=$1`, id)
	t, err := scanTest(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Test{}, notFound("test", id)
	}
	return t, err
}

func (s *SQLStore) ListTests(ctx context.Context, opts TestListOpts) ([]Test, error) {
	q := `SELECT id,subject_id,title,description,questions_json,created_at FROM tests`
	var args []interface{}
	if opts.SubjectID != "" {
		q += ` WHERE subject_id=$1`
		args = append(args, opts.SubjectID)
	}
	q += ` ORDER BY created_at DESC`
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, errors.Wrap(err, "list tests")
	}
	defer rows.Close()
	out := []Test{}
	for rows.Next() {
		t, err := scanTest(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

func (s *SQLStore) DeleteTest(ctx context.Context, id string) error {
	return s.deleteByID(ctx, "tests", "test", id)
}

func scanTest(sc scanner) (Test, error) {
	var (
		t       Test
		qjson   string
		created int64
	)
	if err := sc.Scan(&t.ID, &t.SubjectID, &t.Title, &t.Description, &qjson, &created); err != nil {
		return Test{}, err
	}
	if err := json.Unmarshal([]byte(qjson), &t.Questions); err != nil {
		return Test{}, errors.Wrapf(err, "test %s questions", t.ID)
	}
	t.CreatedAt = fromMillis(created)
	return t, nil
}

// --- sessions ---

const sessionCols = `id,title,test_ids_json,duration_minutes,status,allowed_students_json,show_detailed,
	start_time,end_time,is_paused,paused_at,created_at`

func (s *SQLStore) PutSession(ctx context.Context, ss Session) error {
	tj, err := json.Marshal(nonNil(ss.TestIDs))
	if err != nil {
		return err
	}
	aj, err := json.Marshal(nonNil(ss.AllowedStudents))
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `INSERT INTO sessions (`+sessionCols+`)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)
		ON CONFLICT (id) DO UPDATE SET title=EXCLUDED.title, test_ids_json=EXCLUDED.test_ids_json,
			duration_minutes=EXCLUDED.duration_minutes, status=EXCLUDED.status,
			allowed_students_json=EXCLUDED.allowed_students_json, show_detailed=EXCLUDED.show_detailed,
			start_time=EXCLUDED.start_time, end_time=EXCLUDED.end_time,
			is_paused=EXCLUDED.is_paused, paused_at=EXCLUDED.paused_at`,
		ss.ID, ss.Title, string(tj), ss.DurationMinutes, string(ss.Status), string(aj), boolInt(ss.ShowDetailedResultsToStudent),
		nullMillis(ss.StartTime), nullMillis(ss.EndTime), boolInt(ss.IsPaused), nullMillis(ss.PausedAt), toMillis(ss.CreatedAt))
	return errors.Wrap(err, "put session")
}

func (s *SQLStore) GetSession(ctx context.Context, id string) (Session, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+sessionCols+` FROM sessions WHERE id=$1`, id)
	ss, err := scanSession(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Session{}, notFound("session", id)
	}
	return ss, err
}

func (s *SQLStore) ListSessions(ctx context.Context, opts SessionListOpts) ([]Session, error) {
	q := `SELECT ` + sessionCols + ` FROM sessions`
	var args []interface{}
	if opts.Status != "" {
		q += ` WHERE status=$1`
		args = append(args, string(opts.Status))
	}
	q += ` ORDER BY created_at DESC`
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, errors.Wrap(err, "list sessions")
	}
	defer rows.Close()
	out := []Session{}
	for rows.Next() {
		ss, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		if opts.StudentID != "" && !ss.Allows(opts.StudentID) {
			continue
		}
		out = append(out, ss)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return page(out, opts.Limit, opts.Offset), nil
}

// DeleteSession removes the session with its attempts and answers.
func (s *SQLStore) DeleteSession(ctx context.Context, id string) error {
	return db.WithTx(ctx, s.db, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `DELETE FROM attempt_answers
			WHERE attempt_id IN (SELECT id FROM attempts WHERE session_id=$1)`, id); err != nil {
			return errors.Wrap(err, "delete answers")
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM attempts WHERE session_id=$1`, id); err != nil {
			return errors.Wrap(err, "delete attempts")
		}
		res, err := tx.ExecContext(ctx, `DELETE FROM sessions WHERE id=$1`, id)
		if err != nil {
			return errors.Wrap(err, "delete session")
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return notFound("session", id)
		}
		return nil
	})
}

func scanSession(sc scanner) (Session, error) {
	var (
		ss                     Session
		tj, aj, status         string
		showDetailed, isPaused int
		start, end, pausedAt   sql.NullInt64
		created                int64
	)
	if err := sc.Scan(&ss.ID, &ss.Title, &tj, &ss.DurationMinutes, &status, &aj, &showDetailed,
		&start, &end, &isPaused, &pausedAt, &created); err != nil {
		return Session{}, err
	}
	if err := json.Unmarshal([]byte(tj), &ss.TestIDs); err != nil {
		return Session{}, errors.Wrapf(err, "session %s test ids", ss.ID)
	}
	if err := json.Unmarshal([]byte(aj), &ss.AllowedStudents); err != nil {
		return Session{}, errors.Wrapf(err, "session %s allowed students", ss.ID)
	}
	ss.Status = session.Status(status)
	ss.ShowDetailedResultsToStudent = showDetailed != 0
	ss.StartTime = millisPtr(start)
	ss.EndTime = millisPtr(end)
	ss.IsPaused = isPaused != 0
	ss.PausedAt = millisPtr(pausedAt)
	ss.CreatedAt = fromMillis(created)
	return ss, nil
}

// --- attempts ---

const attemptCols = `id,session_id,student_id,status,score_json,started_at,finished_at`

func (s *SQLStore) FindOrCreateAttempt(ctx context.Context, a Attempt) (Attempt, bool, error) {
	res, err := s.db.ExecContext(ctx, `INSERT INTO attempts (id,session_id,student_id,status,score_json,started_at)
		VALUES ($1,$2,$3,$4,'{}',$5)
		ON CONFLICT (session_id, student_id) DO NOTHING`,
		a.ID, a.SessionID, a.StudentID, string(AttemptInProgress), toMillis(a.StartedAt))
	if err != nil {
		return Attempt{}, false, errors.Wrap(err, "create attempt")
	}
	n, err := res.RowsAffected()
	if err != nil {
		return Attempt{}, false, err
	}
	stored, err := s.FindAttempt(ctx, a.SessionID, a.StudentID)
	if err != nil {
		return Attempt{}, false, err
	}
	return stored, n > 0, nil
}

func (s *SQLStore) FindAttempt(ctx context.Context, sessionID, studentID string) (Attempt, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+attemptCols+` FROM attempts WHERE session_id=$1 AND student_id=$2`, sessionID, studentID)
	a, err := scanAttempt(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Attempt{}, notFound("attempt", sessionID+"|"+studentID)
	}
	if err != nil {
		return Attempt{}, err
	}
	return s.withAnswers(ctx, a)
}

func (s *SQLStore) GetAttempt(ctx context.Context, id string) (Attempt, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+attemptCols+` FROM attempts WHERE id=$1`, id)
	a, err := scanAttempt(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Attempt{}, notFound("attempt", id)
	}
	if err != nil {
		return Attempt{}, err
	}
	return s.withAnswers(ctx, a)
}

func (s *SQLStore) ListAttempts(ctx context.Context, opts AttemptListOpts) ([]Attempt, error) {
	var (
		where []string
		args  []interface{}
	)
	add := func(cond string, v interface{}) {
		args = append(args, v)
		where = append(where, strings.Replace(cond, "?", "$"+strconv.Itoa(len(args)), 1))
	}
	if opts.SessionID != "" {
		add("session_id=?", opts.SessionID)
	}
	if opts.StudentID != "" {
		add("student_id=?", opts.StudentID)
	}
	if opts.Status != "" {
		add("status=?", string(opts.Status))
	}
	q := `SELECT ` + attemptCols + ` FROM attempts`
	if len(where) > 0 {
		q += ` WHERE ` + strings.Join(where, " AND ")
	}
	q += ` ORDER BY started_at, id`
	if opts.Limit > 0 {
		args = append(args, opts.Limit)
		q += ` LIMIT $` + strconv.Itoa(len(args))
		if opts.Offset > 0 {
			args = append(args, opts.Offset)
			q += ` OFFSET $` + strconv.Itoa(len(args))
		}
	}

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, errors.Wrap(err, "list attempts")
	}
	var out []Attempt
	for rows.Next() {
		a, err := scanAttempt(rows)
		if err != nil {
			rows.Close()
			return nil, err
		}
		out = append(out, a)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if opts.Limit <= 0 {
		// OFFSET needs a LIMIT on sqlite.
		out = page(out, 0, opts.Offset)
	}
	// Answers are loaded after the cursor is closed; sqlite runs on one connection.
	result := make([]Attempt, 0, len(out))
	for _, a := range out {
		a, err := s.withAnswers(ctx, a)
		if err != nil {
			return nil, err
		}
		result = append(result, a)
	}
	return result, nil
}

func (s *SQLStore) SaveAnswer(ctx context.Context, attemptID, questionID string, ans grading.Answer, at time.Time) (Attempt, error) {
	vj, err := json.Marshal(ans.Value)
	if err != nil {
		return Attempt{}, err
	}
	res, err := s.db.ExecContext(ctx, `INSERT INTO attempt_answers (attempt_id,question_id,value_json,test_id,subject_id,updated_at)
		SELECT $1,$2,$3,$4,$5,CAST($6 AS BIGINT) WHERE EXISTS (SELECT 1 FROM attempts WHERE id=$1 AND status='in_progress')
		ON CONFLICT (attempt_id, question_id) DO UPDATE SET value_json=EXCLUDED.value_json,
			test_id=EXCLUDED.test_id, subject_id=EXCLUDED.subject_id, updated_at=EXCLUDED.updated_at`,
		attemptID, questionID, string(vj), ans.TestID, ans.SubjectID, toMillis(at))
	if err != nil {
		return Attempt{}, errors.Wrap(err, "save answer")
	}
	if n, _ := res.RowsAffected(); n == 0 {
		a, err := s.GetAttempt(ctx, attemptID)
		if err != nil {
			return Attempt{}, err
		}
		if a.Status == AttemptFinished {
			return Attempt{}, ErrAttemptFinished
		}
	}
	return s.GetAttempt(ctx, attemptID)
}

func (s *SQLStore) FinalizeAttempt(ctx context.Context, id string, scores map[string]int, at time.Time) (Attempt, bool, error) {
	if scores == nil {
		scores = map[string]int{}
	}
	sj, err := json.Marshal(scores)
	if err != nil {
		return Attempt{}, false, err
	}
	res, err := s.db.ExecContext(ctx, `UPDATE attempts SET status='finished', score_json=$1, finished_at=$2
		WHERE id=$3 AND status='in_progress'`,
		string(sj), toMillis(at), id)
	if err != nil {
		return Attempt{}, false, errors.Wrap(err, "finalize attempt")
	}
	n, err := res.RowsAffected()
	if err != nil {
		return Attempt{}, false, err
	}
	a, err := s.GetAttempt(ctx, id)
	if err != nil {
		return Attempt{}, false, err
	}
	return a, n > 0, nil
}

func (s *SQLStore) withAnswers(ctx context.Context, a Attempt) (Attempt, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT question_id,value_json,test_id,subject_id,updated_at FROM attempt_answers WHERE attempt_id=$1`, a.ID)
	if err != nil {
		return Attempt{}, errors.Wrap(err, "load answers")
	}
	defer rows.Close()
	a.Answers = map[string]grading.Answer{}
	for rows.Next() {
		var (
			qid, vj string
			saved   int64
			ans     grading.Answer
		)
		if err := rows.Scan(&qid, &vj, &ans.TestID, &ans.SubjectID, &saved); err != nil {
			return Attempt{}, err
		}
		ans.SavedAt = fromMillis(saved)
		if err := json.Unmarshal([]byte(vj), &ans.Value); err != nil {
			return Attempt{}, errors.Wrapf(err, "attempt %s answer %s", a.ID, qid)
		}
		a.Answers[qid] = ans
	}
	return a, rows.Err()
}

func scanAttempt(sc scanner) (Attempt, error) {
	var (
		a        Attempt
		status   string
		sj       string
		started  int64
		finished sql.NullInt64
	)
	if err := sc.Scan(&a.ID, &a.SessionID, &a.StudentID, &status, &sj, &started, &finished); err != nil {
		return Attempt{}, err
	}
	a.Status = AttemptStatus(status)
	a.StartedAt = fromMillis(started)
	a.FinishedAt = millisPtr(finished)
	if a.Status == AttemptFinished {
		if err := json.Unmarshal([]byte(sj), &a.ScoreByTest); err != nil {
			return Attempt{}, errors.Wrapf(err, "attempt %s scores", a.ID)
		}
	}
	return a, nil
}

// --- profiles ---

const profileCols = `id,email,full_name,role,class,password_hash,created_at`

func (s *SQLStore) PutProfile(ctx context.Context, p Profile) error {
	_, err := s.db.ExecContext(ctx, `INSERT INTO users (`+profileCols+`)
		VALUES ($1,$2,$3,$4,$5,$6,$7)
		ON CONFLICT (id) DO UPDATE SET email=EXCLUDED.email, full_name=EXCLUDED.full_name,
			role=EXCLUDED.role, class=EXCLUDED.class, password_hash=EXCLUDED.password_hash`,
		p.ID, p.Email, p.FullName, string(p.Role), p.Class, p.PasswordHash, toMillis(p.CreatedAt))
	return errors.Wrap(err, "put profile")
}

func (s *SQLStore) GetProfile(ctx context.Context, id string) (Profile, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+profileCols+` FROM users WHERE id=$1`, id)
	p, err := scanProfile(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Profile{}, notFound("profile", id)
	}
	return p, err
}

func (s *SQLStore) GetProfileByEmail(ctx context.Context, email string) (Profile, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+profileCols+` FROM users WHERE email=$1`, email)
	p, err := scanProfile(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Profile{}, notFound("profile", email)
	}
	return p, err
}

func (s *SQLStore) ListProfiles(ctx context.Context, role Role) ([]Profile, error) {
	var (
		rows *sql.Rows
		err  error
	)
	if role == "" {
		rows, err = s.db.QueryContext(ctx, `SELECT `+profileCols+` FROM users ORDER BY email`)
	} else {
		rows, err = s.db.QueryContext(ctx, `SELECT `+profileCols+` FROM users WHERE role=$1 ORDER BY email`, string(role))
	}
	if err != nil {
		return nil, errors.Wrap(err, "list profiles")
	}
	defer rows.Close()
	out := []Profile{}
	for rows.Next() {
		p, err := scanProfile(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func scanProfile(sc scanner) (Profile, error) {
	var (
		p       Profile
		role    string
		created int64
	)
	if err := sc.Scan(&p.ID, &p.Email, &p.FullName, &role, &p.Class, &p.PasswordHash, &created); err != nil {
		return Profile{}, err
	}
	p.Role = Role(role)
	p.CreatedAt = fromMillis(created)
	return p, nil
}

// --- helpers ---

type scanner interface {
	Scan(dest ...interface{}) error
}

func (s *SQLStore) deleteByID(ctx context.Context, table, kind, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM `+table+` WHERE id=$1`, id)
	if err != nil {
		return errors.Wrapf(err, "delete %s", kind)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return notFound(kind, id)
	}
	return nil
}

func toMillis(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixMilli()
}

func fromMillis(ms int64) time.Time {
	if ms == 0 {
		return time.Time{}
	}
	return time.UnixMilli(ms).UTC()
}

func nullMillis(t *time.Time) sql.NullInt64 {
	if t == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: t.UnixMilli(), Valid: true}
}

func millisPtr(n sql.NullInt64) *time.Time {
	if !n.Valid {
		return nil
	}
	t := time.UnixMilli(n.Int64).UTC()
	return &t
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}

