package grading

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGradeByType(t *testing.T) {
	e := NewEngine()
	tests := []struct {
		name   string
		q      Q
		v      Value
		points float64
	}{
		{"single exact", Q{Type: SingleChoice, Points: 5, AnswerKey: []string{"A"}}, Text("A"), 5},
		{"single case and space", Q{Type: SingleChoice, Points: 5, AnswerKey: []string{" b "}}, Text("B"), 5},
		{"single wrong", Q{Type: SingleChoice, Points: 5, AnswerKey: []string{"A"}}, Text("C"), 0},
		{"single two keys never match", Q{Type: SingleChoice, Points: 5, AnswerKey: []string{"A", "B"}}, Text("A"), 0},
		{"numeric compared as text", Q{Type: NumericInput, Points: 2, AnswerKey: []string{"3.50"}}, Text("3.5"), 0},
		{"numeric exact text", Q{Type: NumericInput, Points: 2, AnswerKey: []string{"42"}}, Text(" 42 "), 2},
		{"text cyrillic casefold", Q{Type: TextInput, Points: 1, AnswerKey: []string{"Київ"}}, Text("київ"), 1},
		{"text mapping value", Q{Type: TextInput, Points: 1, AnswerKey: []string{"x"}}, Matches(map[string]string{"p": "x"}), 0},
		{"multi same order", Q{Type: MultipleChoice, Points: 10, AnswerKey: []string{"B", "C"}}, List("B", "C"), 10},
		{"multi other order", Q{Type: MultipleChoice, Points: 10, AnswerKey: []string{"B", "C"}}, List("C", "B"), 10},
		{"multi subset", Q{Type: MultipleChoice, Points: 10, AnswerKey: []string{"B", "C"}}, List("B"), 0},
		{"multi superset", Q{Type: MultipleChoice, Points: 10, AnswerKey: []string{"B", "C"}}, List("A", "B", "C"), 0},
		{"multi text value", Q{Type: MultipleChoice, Points: 10, AnswerKey: []string{"B"}}, Text("B"), 0},
		{"unknown type", Q{Type: "essay", Points: 3, AnswerKey: []string{"x"}}, Text("x"), 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := e.Grade(tt.q, tt.v)
			assert.Equal(t, tt.points, res.Points)
			assert.Equal(t, tt.q.Points, res.MaxPoints)
		})
	}
}

func TestMatchingPartialCredit(t *testing.T) {
	e := NewEngine()
	q := Q{
		Type:   Matching,
		Points: 10,
		MatchKey: []Match{
			{PromptID: "p1", OptionID: "o1"},
			{PromptID: "p2", OptionID: "o2"},
			{PromptID: "p3", OptionID: "o3"},
			{PromptID: "p4", OptionID: "o4"},
		},
	}
	res := e.Grade(q, Matches(map[string]string{"p1": "o1", "p2": "o2", "p3": "o3", "p4": "o1"}))
	assert.Equal(t, 7.5, res.Points)
	assert.False(t, res.Correct)

	res = e.Grade(Q{Type: Matching, Points: 10}, Matches(map[string]string{"p1": "o1"}))
	assert.Zero(t, res.Points)

	res = e.Grade(q, Text("o1"))
	assert.Zero(t, res.Points)
}

func TestScoreAttemptRoundsOncePerTest(t *testing.T) {
	e := NewEngine()
	questions := []Q{
		{ID: "m1", TestID: "t1", Type: Matching, Points: 10, MatchKey: []Match{
			{PromptID: "p1", OptionID: "o1"}, {PromptID: "p2", OptionID: "o2"},
			{PromptID: "p3", OptionID: "o3"}, {PromptID: "p4", OptionID: "o4"},
		}},
		{ID: "m2", TestID: "t1", Type: Matching, Points: 1, MatchKey: []Match{
			{PromptID: "a", OptionID: "x"}, {PromptID: "b", OptionID: "y"},
		}},
	}
	answers := map[string]Answer{
		"m1": {Value: Matches(map[string]string{"p1": "o1", "p2": "o2", "p3": "o3"}), TestID: "t1"},
		"m2": {Value: Matches(map[string]string{"a": "x"}), TestID: "t1"},
	}
	// 7.5 + 0.5 = 8.0; rounding each question first would give 8 + 1 = 9.
	assert.Equal(t, map[string]int{"t1": 8}, e.ScoreAttempt(questions, answers))

	single := map[string]Answer{"m1": answers["m1"]}
	assert.Equal(t, map[string]int{"t1": 8}, e.ScoreAttempt(questions[:1], single))
}

func TestScoreAttemptEmptyAnswers(t *testing.T) {
	e := NewEngine()
	questions := []Q{
		{ID: "q1", TestID: "t1", Type: SingleChoice, Points: 5, AnswerKey: []string{"A"}},
		{ID: "q2", TestID: "t2", Type: MultipleChoice, Points: 5, AnswerKey: []string{"A"}},
		{ID: "q3", TestID: "t3", Type: Matching, Points: 5, MatchKey: []Match{{PromptID: "p", OptionID: "o"}}},
		{ID: "q4", TestID: "t4", Type: TextInput, Points: 5, AnswerKey: []string{"x"}},
	}
	answers := map[string]Answer{
		"q1": {Value: Text("   "), TestID: "t1"},
		"q2": {Value: List(), TestID: "t2"},
		"q3": {Value: Matches(map[string]string{}), TestID: "t3"},
		"q4": {Value: Text("wrong"), TestID: "t4"},
	}
	got := e.ScoreAttempt(questions, answers)
	assert.Equal(t, map[string]int{"t4": 0}, got)
	assert.Empty(t, e.ScoreAttempt(questions, nil))
}

func TestScoreAttemptDeterministic(t *testing.T) {
	e := NewEngine()
	questions := []Q{
		{ID: "q1", TestID: "t1", Type: SingleChoice, Points: 5, AnswerKey: []string{"A"}},
		{ID: "q2", TestID: "t1", Type: MultipleChoice, Points: 10, AnswerKey: []string{"B", "C"}},
		{ID: "q3", TestID: "t2", Type: NumericInput, Points: 3, AnswerKey: []string{"7"}},
	}
	answers := map[string]Answer{
		"q1": {Value: Text("A"), TestID: "t1"},
		"q2": {Value: List("C", "B"), TestID: "t1"},
		"q3": {Value: Text("7"), TestID: "t2"},
	}
	first := e.ScoreAttempt(questions, answers)
	for i := 0; i < 20; i++ {
		require.Equal(t, first, e.ScoreAttempt(questions, answers))
	}
	assert.Equal(t, map[string]int{"t1": 15, "t2": 3}, first)
}

func TestScoreAttemptCreditsQuestionTest(t *testing.T) {
	e := NewEngine()
	questions := []Q{
		{ID: "q1", TestID: "t2", Type: SingleChoice, Points: 4, AnswerKey: []string{"A"}},
		{ID: "q2", TestID: "t2", Type: NumericInput, Points: 1, AnswerKey: []string{"3"}},
	}
	// q1 was answered while it still belonged to t1.
	got := e.ScoreAttempt(questions, map[string]Answer{
		"q1": {Value: Text("A"), TestID: "t1"},
		"q2": {Value: Text("3")},
	})
	assert.Equal(t, map[string]int{"t2": 5}, got)
}

func TestWithStrategyOverride(t *testing.T) {
	e := NewEngine(WithStrategy(TextInput, fixedStrategy{points: 1}))
	res := e.Grade(Q{Type: TextInput, Points: 9, AnswerKey: []string{"a"}}, Text("b"))
	assert.Equal(t, 1.0, res.Points)
}

type fixedStrategy struct{ points float64 }

func (f fixedStrategy) Grade(q Q, _ Value) Result {
	return Result{Points: f.points, MaxPoints: q.Points}
}

func TestValueJSON(t *testing.T) {
	tests := []struct {
		in    string
		kind  Kind
		empty bool
	}{
		{`"A"`, KindText, false},
		{`"  "`, KindText, true},
		{`42`, KindText, false},
		{`["B","C"]`, KindList, false},
		{`[]`, KindList, true},
		{`{"p1":"o1"}`, KindMatches, false},
		{`{}`, KindMatches, true},
		{`null`, KindNone, true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			var v Value
			require.NoError(t, json.Unmarshal([]byte(tt.in), &v))
			assert.Equal(t, tt.kind, v.Kind)
			assert.Equal(t, tt.empty, v.IsEmpty())
		})
	}

	var v Value
	require.NoError(t, json.Unmarshal([]byte(`42`), &v))
	assert.Equal(t, "42", v.Text)

	out, err := json.Marshal(struct {
		V Value `json:"v"`
	}{Matches(map[string]string{"p": "o"})})
	require.NoError(t, err)
	assert.JSONEq(t, `{"v":{"p":"o"}}`, string(out))
}
