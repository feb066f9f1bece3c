package report

import (
	"github.com/mind-engage/mindengage-nmt/internal/exam"
	"github.com/mind-engage/mindengage-nmt/internal/grading"
)

type TestResult struct {
	TestID    string  `json:"testId"`
	Title     string  `json:"title"`
	SubjectID string  `json:"subjectId"`
	Subject   string  `json:"subject"`
	Score     int     `json:"score"`
	MaxScore  float64 `json:"maxScore"`
	NMT       int     `json:"nmtScore"`
	Answered  bool    `json:"answered"`
}

type Summary struct {
	AttemptID  string             `json:"attemptId"`
	StudentID  string             `json:"studentId"`
	Status     exam.AttemptStatus `json:"status"`
	Tests      []TestResult       `json:"tests"`
	TotalScore int                `json:"totalScore"`
	TotalMax   float64            `json:"totalMaxScore"`
}

// Summarize lays out an attempt's stored scores against the session's tests.
// A test with no stored score counts as 0 and is marked unanswered.
func Summarize(a exam.Attempt, tests []exam.Test, subjects map[string]string) Summary {
	s := Summary{
		AttemptID: a.ID,
		StudentID: a.StudentID,
		Status:    a.Status,
		Tests:     make([]TestResult, 0, len(tests)),
	}
	for _, t := range tests {
		score, answered := a.ScoreByTest[t.ID]
		maxScore := t.MaxScore()
		name, ok := subjects[t.SubjectID]
		if !ok {
			name = exam.UnknownSubject
		}
		title := t.Title
		if title == "" {
			title = exam.UnknownTest
		}
		s.Tests = append(s.Tests, TestResult{
			TestID:    t.ID,
			Title:     title,
			SubjectID: t.SubjectID,
			Subject:   name,
			Score:     score,
			MaxScore:  maxScore,
			NMT:       grading.ConvertToNMTScale(float64(score), maxScore),
			Answered:  answered,
		})
		s.TotalScore += score
		s.TotalMax += maxScore
	}
	return s
}

// ForStudent hides scores unless the session shows detailed results.
func (s Summary) ForStudent(ss exam.Session) Summary {
	if ss.ShowDetailedResultsToStudent {
		return s
	}
	return Summary{AttemptID: s.AttemptID, StudentID: s.StudentID, Status: s.Status, Tests: []TestResult{}}
}
