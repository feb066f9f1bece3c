// Package questionset reads and writes the JSON question lists that admins
// import into and export from a test.
package questionset

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/pkg/errors"
	"github.com/xeipuuv/gojsonschema"

	"github.com/mind-engage/mindengage-nmt/internal/exam"
)

// Messages shown to the admin who uploaded the file.
const (
	MsgUnreadable  = "Не вдалося прочитати файл."
	MsgNotArray    = "JSON має бути масивом."
	MsgInvalidItem = "Один або більше об'єктів питань мають невірну структуру або непідтримуваний тип."
)

var (
	ErrUnreadable = errors.New(MsgUnreadable)
	ErrNotArray   = errors.New(MsgNotArray)
)

// Problem is one rule an entry broke. Path is "<index>.<field>".
type Problem struct {
	Path    string `json:"path"`
	Message string `json:"message"`
}

// ValidationError rejects a whole batch and lists every problem found.
type ValidationError struct {
	Problems []Problem `json:"problems"`
}

func (e *ValidationError) Error() string {
	if len(e.Problems) == 0 {
		return MsgInvalidItem
	}
	parts := make([]string, 0, len(e.Problems))
	for _, p := range e.Problems {
		parts = append(parts, p.Path+": "+p.Message)
	}
	return MsgInvalidItem + " (" + strings.Join(parts, "; ") + ")"
}

const schemaJSON = `{
  "$schema": "http://json-schema.org/draft-07/schema#",
  "type": "array",
  "items": {
    "type": "object",
    "required": ["id", "questionText", "type", "points", "correctAnswers"],
    "properties": {
      "id": {"type": "string", "minLength": 1},
      "questionText": {"type": "string"},
      "type": {"enum": ["single_choice", "multiple_choice", "numeric_input", "text_input", "matching"]},
      "points": {"type": "number", "minimum": 0},
      "imageUrl": {"type": "string"},
      "options": {"type": "array", "items": {"$ref": "#/definitions/choice"}},
      "matchPrompts": {"type": "array", "items": {"$ref": "#/definitions/choice"}},
      "correctAnswers": {"type": "array"}
    },
    "allOf": [
      {
        "if": {"properties": {"type": {"const": "matching"}}},
        "then": {
          "required": ["matchPrompts", "options"],
          "properties": {"correctAnswers": {"items": {"$ref": "#/definitions/pair"}}}
        },
        "else": {
          "properties": {"correctAnswers": {"items": {"type": "string"}}}
        }
      },
      {
        "if": {"properties": {"type": {"enum": ["single_choice", "multiple_choice"]}}},
        "then": {"required": ["options"]}
      }
    ]
  },
  "definitions": {
    "choice": {
      "type": "object",
      "required": ["id", "text"],
      "properties": {"id": {"type": "string"}, "text": {"type": "string"}}
    },
    "pair": {
      "type": "object",
      "required": ["promptId", "optionId"],
      "properties": {
        "promptId": {"type": "string", "minLength": 1},
        "optionId": {"type": "string", "minLength": 1}
      }
    }
  }
}`

var loadSchema = sync.OnceValues(func() (*gojsonschema.Schema, error) {
	return gojsonschema.NewSchema(gojsonschema.NewStringLoader(schemaJSON))
})

var utf8BOM = []byte("\xef\xbb\xbf")

// Read parses an uploaded file. See Parse.
func Read(r io.Reader) ([]exam.Question, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, errors.Wrap(ErrUnreadable, err.Error())
	}
	return Parse(data)
}

// Parse decodes a JSON array of questions. Any malformed entry rejects the
// whole batch with a *ValidationError.
func Parse(data []byte) ([]exam.Question, error) {
	data = bytes.TrimSpace(bytes.TrimPrefix(data, utf8BOM))
	if len(data) == 0 || !json.Valid(data) {
		return nil, ErrUnreadable
	}
	if data[0] != '[' {
		return nil, ErrNotArray
	}

	schema, err := loadSchema()
	if err != nil {
		return nil, errors.Wrap(err, "compile question schema")
	}
	res, err := schema.Validate(gojsonschema.NewBytesLoader(data))
	if err != nil {
		return nil, errors.Wrap(ErrUnreadable, err.Error())
	}
	if !res.Valid() {
		verr := &ValidationError{}
		for _, re := range res.Errors() {
			verr.Problems = append(verr.Problems, Problem{Path: re.Field(), Message: re.Description()})
		}
		return nil, verr
	}

	var qs []exam.Question
	if err := json.Unmarshal(data, &qs); err != nil {
		return nil, &ValidationError{Problems: []Problem{{Path: "(root)", Message: err.Error()}}}
	}
	verr := &ValidationError{}
	seen := make(map[string]int, len(qs))
	for i, q := range qs {
		if err := exam.ValidateQuestion(q); err != nil {
			verr.Problems = append(verr.Problems, Problem{Path: fmt.Sprintf("%d", i), Message: err.Error()})
		}
		if j, dup := seen[q.ID]; dup {
			verr.Problems = append(verr.Problems, Problem{Path: fmt.Sprintf("%d.id", i), Message: fmt.Sprintf("duplicates entry %d", j)})
		}
		seen[q.ID] = i
	}
	if len(verr.Problems) > 0 {
		return nil, verr
	}
	return qs, nil
}

// Export renders questions the way Parse reads them back.
func Export(qs []exam.Question) ([]byte, error) {
	if qs == nil {
		qs = []exam.Question{}
	}
	return json.MarshalIndent(qs, "", "  ")
}
