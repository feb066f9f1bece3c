package grading

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/pkg/errors"
)

// Kind tells which shape an answer value has.
type Kind int

const (
	KindNone Kind = iota
	KindText
	KindList
	KindMatches
)

// Value is a recorded answer: a single string, a list of strings or a
// prompt->option mapping. On the wire it is the bare JSON value.
type Value struct {
	Kind    Kind
	Text    string
	List    []string
	Matches map[string]string
}

func Text(s string) Value               { return Value{Kind: KindText, Text: s} }
func List(items ...string) Value        { return Value{Kind: KindList, List: items} }
func Matches(m map[string]string) Value { return Value{Kind: KindMatches, Matches: m} }

// IsEmpty reports whether the value counts as "not answered": missing,
// whitespace-only text, an empty list or an empty mapping.
func (v Value) IsEmpty() bool {
	switch v.Kind {
	case KindText:
		return strings.TrimSpace(v.Text) == ""
	case KindList:
		return len(v.List) == 0
	case KindMatches:
		return len(v.Matches) == 0
	default:
		return true
	}
}

// String renders the value the way a browser would coerce it to text.
// Lists are comma-joined; mappings have no text form.
func (v Value) String() string {
	switch v.Kind {
	case KindText:
		return v.Text
	case KindList:
		return strings.Join(v.List, ",")
	case KindMatches:
		return "[object Object]"
	default:
		return ""
	}
}

func (v Value) MarshalJSON() ([]byte, error) {
	switch v.Kind {
	case KindText:
		return json.Marshal(v.Text)
	case KindList:
		if v.List == nil {
			return []byte("[]"), nil
		}
		return json.Marshal(v.List)
	case KindMatches:
		if v.Matches == nil {
			return []byte("{}"), nil
		}
		return json.Marshal(v.Matches)
	default:
		return []byte("null"), nil
	}
}

func (v *Value) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	*v = Value{}
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		return nil
	}
	var raw interface{}
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	if err := dec.Decode(&raw); err != nil {
		return errors.Wrap(err, "answer value")
	}
	switch t := raw.(type) {
	case []interface{}:
		items := make([]string, 0, len(t))
		for _, e := range t {
			items = append(items, scalarText(e))
		}
		*v = List(items...)
	case map[string]interface{}:
		m := make(map[string]string, len(t))
		for k, e := range t {
			m[k] = scalarText(e)
		}
		*v = Matches(m)
	default:
		*v = Text(scalarText(t))
	}
	return nil
}

// Pairs returns the mapping as "prompt->option" strings ordered by prompt.
func (v Value) Pairs() []string {
	keys := make([]string, 0, len(v.Matches))
	for k := range v.Matches {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	out := make([]string, 0, len(keys))
	for _, k := range keys {
		out = append(out, k+"->"+v.Matches[k])
	}
	return out
}

func scalarText(e interface{}) string {
	switch s := e.(type) {
	case nil:
		return ""
	case string:
		return s
	case json.Number:
		return s.String()
	default:
		return fmt.Sprint(s)
	}
}
