package validate

import (
	"reflect"
	"testing"
)

var testSchema = Schema{Fields: []Field{
	{Name: "sql", Type: TypeString, Required: true, MinLength: 1},
	{Name: "params", Type: TypeObject},
	{Name: "maxResults", Type: TypeInteger, Positive: true},
	{Name: "dryRun", Type: TypeBoolean},
}}

func TestValidateAcceptsConformingDocument(t *testing.T) {
	doc := map[string]any{
		"sql":        "SELECT 1",
		"params":     map[string]any{"a": int64(1)},
		"maxResults": int64(10),
		"dryRun":     true,
		"extra":      "ignored",
	}
	if violations := testSchema.Validate(doc); violations != nil {
		t.Fatalf("violations = %+v", violations)
	}
}

func TestValidateReportsEveryViolation(t *testing.T) {
	doc := map[string]any{
		"sql":        "   ",
		"params":     []any{},
		"maxResults": 1.5,
		"dryRun":     "yes",
	}
	violations := testSchema.Validate(doc)
	if len(violations) != 4 {
		t.Fatalf("violations = %+v", violations)
	}

	codes := make([]string, len(violations))
	for i, violation := range violations {
		codes[i] = violation.Code
	}
	want := []string{CodeTooSmall, CodeInvalidType, CodeInvalidType, CodeInvalidType}
	if !reflect.DeepEqual(codes, want) {
		t.Fatalf("codes = %v, want %v", codes, want)
	}
	if violations[1].Expected != "object" || violations[1].Received != "array" {
		t.Fatalf("params violation = %+v", violations[1])
	}
}

func TestValidateRequiredField(t *testing.T) {
	violations := testSchema.Validate(map[string]any{"sql": nil})
	if len(violations) != 1 || violations[0].Code != CodeRequired || violations[0].Path[0] != "sql" {
		t.Fatalf("violations = %+v", violations)
	}
}

func TestValidatePositiveNumber(t *testing.T) {
	for _, value := range []any{int64(0), int64(-3), float64(-1)} {
		violations := testSchema.Validate(map[string]any{"sql": "x", "maxResults": value})
		if len(violations) != 1 || violations[0].Code != CodeTooSmall {
			t.Fatalf("maxResults=%v violations = %+v", value, violations)
		}
	}
}

func TestValidateNonObjectDocument(t *testing.T) {
	for _, doc := range []any{nil, "text", []any{int64(1)}, int64(3)} {
		violations := testSchema.Validate(doc)
		if len(violations) != 1 || violations[0].Code != CodeInvalidType || len(violations[0].Path) != 0 {
			t.Fatalf("doc %#v violations = %+v", doc, violations)
		}
	}
}

func TestValidateMaximum(t *testing.T) {
	schema := Schema{Fields: []Field{{Name: "timeoutMs", Type: TypeInteger, Positive: true, Maximum: 1000}}}
	if violations := schema.Validate(map[string]any{"timeoutMs": int64(1000)}); violations != nil {
		t.Fatalf("violations = %+v", violations)
	}
	violations := schema.Validate(map[string]any{"timeoutMs": int64(18446744073710)})
	if len(violations) != 1 || violations[0].Code != CodeTooBig || violations[0].Message != "Number must be less than or equal to 1000" {
		t.Fatalf("violations = %+v", violations)
	}
}
