package grading

import (
	"fmt"
	"math"
	"sort"
	"time"
)

// QuestionType is one of the five auto-graded question kinds.
type QuestionType string

const (
	SingleChoice   QuestionType = "single_choice"
	MultipleChoice QuestionType = "multiple_choice"
	NumericInput   QuestionType = "numeric_input"
	TextInput      QuestionType = "text_input"
	Matching       QuestionType = "matching"
)

// Types lists the supported question types in display order.
var Types = []QuestionType{SingleChoice, MultipleChoice, NumericInput, TextInput, Matching}

func (t QuestionType) Valid() bool {
	for _, k := range Types {
		if k == t {
			return true
		}
	}
	return false
}

// Match is one expected prompt->option pair of a matching question.
type Match struct {
	PromptID string `json:"promptId"`
	OptionID string `json:"optionId"`
}

// Q is a minimal view of a question needed for grading.
type Q struct {
	ID        string
	TestID    string
	Type      QuestionType
	Points    float64
	AnswerKey []string
	MatchKey  []Match
}

// Answer is what the student recorded for one question.
type Answer struct {
	Value     Value     `json:"value"`
	TestID    string    `json:"testId"`
	SubjectID string    `json:"subjectId"`
	SavedAt   time.Time `json:"savedAt"`
}

// Result is the outcome of grading a single question response.
type Result struct {
	Points    float64  // fractional points awarded
	MaxPoints float64  // the question's max points
	Correct   bool     // full credit
	Feedback  []string // optional notes
}

// Strategy grades a single question.
type Strategy interface {
	Grade(q Q, v Value) Result
}

// Scorer turns a set of answers into rounded per-test scores.
type Scorer interface {
	ScoreAttempt(questions []Q, answers map[string]Answer) map[string]int
}

// Engine routes by question type to the correct Strategy.
type Engine struct {
	strategies map[QuestionType]Strategy
}

type Option func(*Engine)

// WithStrategy installs or replaces the strategy for a question type.
func WithStrategy(t QuestionType, s Strategy) Option {
	return func(e *Engine) { e.strategies[t] = s }
}

// NewEngine installs built-in strategies.
func NewEngine(opts ...Option) *Engine {
	e := &Engine{
		strategies: map[QuestionType]Strategy{
			SingleChoice:   exactTextStrategy{},
			NumericInput:   exactTextStrategy{},
			TextInput:      exactTextStrategy{},
			MultipleChoice: setStrategy{},
			Matching:       matchingStrategy{},
		},
	}
	for _, o := range opts {
		o(e)
	}
	return e
}

func (e *Engine) Grade(q Q, v Value) Result {
	s, ok := e.strategies[q.Type]
	if !ok {
		return Result{MaxPoints: q.Points, Feedback: []string{fmt.Sprintf("unsupported question type %q", q.Type)}}
	}
	return s.Grade(q, v)
}

// ScoreAttempt grades every answered question and returns the per-test
// totals keyed by each question's current TestID. Fractional question
// scores are summed per test and rounded once. Tests without any non-empty
// answer are absent from the result.
func (e *Engine) ScoreAttempt(questions []Q, answers map[string]Answer) map[string]int {
	sums := map[string]float64{}
	for _, q := range questions {
		a, ok := answers[q.ID]
		if !ok || a.Value.IsEmpty() {
			continue
		}
		sums[q.TestID] += e.Grade(q, a.Value).Points
	}
	out := make(map[string]int, len(sums))
	for testID, s := range sums {
		out[testID] = roundHalfUp(s)
	}
	return out
}

// --- Strategies ---

// exactTextStrategy serves single_choice, numeric_input and text_input:
// exactly one key, compared trimmed and case-insensitively.
type exactTextStrategy struct{}

func (exactTextStrategy) Grade(q Q, v Value) Result {
	res := Result{MaxPoints: q.Points}
	if len(q.AnswerKey) != 1 {
		res.Feedback = append(res.Feedback, "answer key must hold exactly one value")
		return res
	}
	if v.Kind == KindMatches {
		return res
	}
	if normalize(v.String()) == normalize(q.AnswerKey[0]) {
		res.Points = q.Points
		res.Correct = true
	}
	return res
}

// setStrategy serves multiple_choice: all or nothing, order-insensitive.
type setStrategy struct{}

func (setStrategy) Grade(q Q, v Value) Result {
	res := Result{MaxPoints: q.Points}
	var picked []string
	if v.Kind == KindList {
		picked = v.List
	}
	if sortedEqual(picked, q.AnswerKey) {
		res.Points = q.Points
		res.Correct = true
	}
	return res
}

// matchingStrategy gives proportional credit per correct pair.
type matchingStrategy struct{}

func (matchingStrategy) Grade(q Q, v Value) Result {
	res := Result{MaxPoints: q.Points}
	if len(q.MatchKey) == 0 || v.Kind != KindMatches {
		return res
	}
	hits := 0
	for _, m := range q.MatchKey {
		if got, ok := v.Matches[m.PromptID]; ok && got == m.OptionID {
			hits++
		}
	}
	res.Points = float64(hits) * (q.Points / float64(len(q.MatchKey)))
	res.Correct = hits == len(q.MatchKey)
	res.Feedback = append(res.Feedback, fmt.Sprintf("pairs: %d/%d", hits, len(q.MatchKey)))
	return res
}

// helpers

func sortedEqual(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	as := append([]string(nil), a...)
	bs := append([]string(nil), b...)
	sort.Strings(as)
	sort.Strings(bs)
	for i := range as {
		if as[i] != bs[i] {
			return false
		}
	}
	return true
}

func roundHalfUp(x float64) int {
	return int(math.Floor(x + 0.5))
}
