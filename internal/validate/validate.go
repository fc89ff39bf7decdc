// Package validate checks decoded request bodies against a small schema
// description and reports every violation it finds.
package validate

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
)

type Type string

const (
	TypeString  Type = "string"
	TypeNumber  Type = "number"
	TypeInteger Type = "integer"
	TypeBoolean Type = "boolean"
	TypeObject  Type = "object"
	TypeArray   Type = "array"
	TypeAny     Type = "any"
)

const (
	CodeInvalidType = "invalid_type"
	CodeTooSmall    = "too_small"
	CodeRequired    = "required"
	CodeTooBig      = "too_big"
)

type Field struct {
	Name     string
	Type     Type
	Required bool
	// MinLength applies to strings, counted after trimming whitespace.
	MinLength int
	// Positive requires numbers to be greater than zero.
	Positive bool
	// Maximum, when set, is the largest number accepted.
	Maximum float64
	// Message replaces the default text of a too_small violation.
	Message string
}

type Schema struct {
	Fields []Field
}

// Violation describes one field that failed validation.
type Violation struct {
	Code     string   `json:"code"`
	Path     []string `json:"path"`
	Message  string   `json:"message"`
	Expected string   `json:"expected,omitempty"`
	Received string   `json:"received,omitempty"`
}

// Validate checks doc, a value decoded from JSON, against s. Unknown fields
// are ignored. A nil result means doc conforms.
func (s Schema) Validate(doc any) []Violation {
	object, ok := doc.(map[string]any)
	if !ok {
		return []Violation{{
			Code:     CodeInvalidType,
			Path:     []string{},
			Message:  "Expected object, received " + typeName(doc),
			Expected: string(TypeObject),
			Received: typeName(doc),
		}}
	}

	var violations []Violation
	for _, field := range s.Fields {
		value, present := object[field.Name]
		if !present || value == nil {
			if field.Required {
				violations = append(violations, Violation{
					Code:     CodeRequired,
					Path:     []string{field.Name},
					Message:  "Required",
					Expected: string(field.Type),
					Received: "undefined",
				})
			}
			continue
		}
		if violation, bad := field.check(value); bad {
			violations = append(violations, violation)
		}
	}
	return violations
}

func (f Field) check(value any) (Violation, bool) {
	received := typeName(value)
	if !f.accepts(value) {
		return Violation{
			Code:     CodeInvalidType,
			Path:     []string{f.Name},
			Message:  fmt.Sprintf("Expected %s, received %s", f.Type, received),
			Expected: string(f.Type),
			Received: received,
		}, true
	}

	switch typed := value.(type) {
	case string:
		if f.MinLength > 0 && len(strings.TrimSpace(typed)) < f.MinLength {
			return Violation{
				Code:    CodeTooSmall,
				Path:    []string{f.Name},
				Message: f.tooSmall(fmt.Sprintf("String must contain at least %d character(s)", f.MinLength)),
			}, true
		}
	default:
		number, ok := toFloat(value)
		if !ok {
			break
		}
		if f.Positive && number <= 0 {
			return Violation{
				Code:    CodeTooSmall,
				Path:    []string{f.Name},
				Message: f.tooSmall("Number must be greater than 0"),
			}, true
		}
		if f.Maximum > 0 && number > f.Maximum {
			return Violation{
				Code:    CodeTooBig,
				Path:    []string{f.Name},
				Message: fmt.Sprintf("Number must be less than or equal to %s", strconv.FormatFloat(f.Maximum, 'f', -1, 64)),
			}, true
		}
	}
	return Violation{}, false
}

func (f Field) tooSmall(fallback string) string {
	if f.Message != "" {
		return f.Message
	}
	return fallback
}

func (f Field) accepts(value any) bool {
	switch f.Type {
	case TypeAny, "":
		return true
	case TypeString:
		_, ok := value.(string)
		return ok
	case TypeBoolean:
		_, ok := value.(bool)
		return ok
	case TypeObject:
		_, ok := value.(map[string]any)
		return ok
	case TypeArray:
		_, ok := value.([]any)
		return ok
	case TypeNumber:
		_, ok := toFloat(value)
		return ok
	case TypeInteger:
		number, ok := toFloat(value)
		return ok && number == math.Trunc(number) && !math.IsInf(number, 0)
	default:
		return false
	}
}

func toFloat(value any) (float64, bool) {
	switch typed := value.(type) {
	case int:
		return float64(typed), true
	case int64:
		return float64(typed), true
	case float64:
		return typed, true
	case json.Number:
		f, err := typed.Float64()
		return f, err == nil
	default:
		return 0, false
	}
}

func typeName(value any) string {
	switch value.(type) {
	case nil:
		return "null"
	case string:
		return "string"
	case bool:
		return "boolean"
	case map[string]any:
		return "object"
	case []any:
		return "array"
	case int, int64, float64, json.Number:
		return "number"
	default:
		return fmt.Sprintf("%T", value)
	}
}
