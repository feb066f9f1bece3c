// Package report renders session results for admins and students.
package report

import (
	"bufio"
	"io"
	"strconv"
	"strings"

	"github.com/pkg/errors"

	"github.com/mind-engage/mindengage-nmt/internal/exam"
	"github.com/mind-engage/mindengage-nmt/internal/grading"
)

// Columns of the results export, in order.
var Columns = []string{
	"studentId",
	"subject",
	"testTitle",
	"questionId",
	"questionText",
	"questionType",
	"studentAnswer",
	"correctAnswer",
	"pointsReceived",
	"maxPoints",
}

const (
	notAvailable  = "N/A"
	invalidFormat = "Invalid format"
)

type sessionQuestion struct {
	q     exam.Question
	owner exam.Test
}

// WriteResultsCSV writes one row per attempt and session question. Every
// field is quoted. pointsReceived stays blank: scores are kept per test,
// not per question.
func WriteResultsCSV(w io.Writer, attempts []exam.Attempt, tests []exam.Test, subjects map[string]string) error {
	byID := make(map[string]exam.Test, len(tests))
	var (
		order     []string
		questions = map[string]sessionQuestion{}
	)
	for _, t := range tests {
		byID[t.ID] = t
		for _, q := range t.Questions {
			if _, seen := questions[q.ID]; !seen {
				order = append(order, q.ID)
			}
			questions[q.ID] = sessionQuestion{q: q, owner: t}
		}
	}

	bw := bufio.NewWriter(w)
	writeRow(bw, Columns)
	for _, a := range attempts {
		for _, qid := range order {
			sq := questions[qid]
			ans, answered := a.Answers[qid]

			test, ok := byID[ans.TestID]
			if !answered || !ok {
				test = sq.owner
			}
			subject, ok := subjects[test.SubjectID]
			if !ok || subject == "" {
				subject = notAvailable
			}
			title := test.Title
			if title == "" {
				title = notAvailable
			}

			var value *grading.Value
			if answered {
				value = &ans.Value
			}
			writeRow(bw, []string{
				a.StudentID,
				subject,
				title,
				sq.q.ID,
				strings.ReplaceAll(sq.q.QuestionText, "\n", " "),
				string(sq.q.Type),
				StudentAnswer(sq.q, value),
				CorrectAnswer(sq.q),
				"",
				strconv.FormatFloat(sq.q.Points, 'f', -1, 64),
			})
		}
	}
	return errors.Wrap(bw.Flush(), "write results csv")
}

func writeRow(w *bufio.Writer, fields []string) {
	for i, f := range fields {
		if i > 0 {
			w.WriteByte(',')
		}
		w.WriteByte('"')
		w.WriteString(strings.ReplaceAll(f, `"`, `""`))
		w.WriteByte('"')
	}
	w.WriteByte('\n')
}

// CorrectAnswer renders the answer key: "p->o; p->o" for matching, a
// comma-separated list otherwise.
func CorrectAnswer(q exam.Question) string {
	if q.Type == grading.Matching {
		pairs := make([]string, 0, len(q.CorrectAnswers.Matches))
		for _, m := range q.CorrectAnswers.Matches {
			pairs = append(pairs, m.PromptID+"->"+m.OptionID)
		}
		return strings.Join(pairs, "; ")
	}
	return strings.Join(q.CorrectAnswers.Values, ", ")
}

// StudentAnswer renders a recorded value. A nil or null value is "N/A".
func StudentAnswer(q exam.Question, v *grading.Value) string {
	if v == nil || v.Kind == grading.KindNone {
		return notAvailable
	}
	if q.Type == grading.Matching {
		if v.Kind != grading.KindMatches {
			return invalidFormat
		}
		return strings.Join(v.Pairs(), "; ")
	}
	switch v.Kind {
	case grading.KindList:
		return strings.Join(v.List, ", ")
	default:
		return v.String()
	}
}
