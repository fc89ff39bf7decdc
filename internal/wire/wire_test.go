package wire

import (
	"encoding/json"
	"testing"

	"github.com/bqbridge/bqbridge/internal/columnar"
	"github.com/bqbridge/bqbridge/internal/jsonvalue"
)

func TestParseQueryRequest(t *testing.T) {
	doc, err := jsonvalue.Unmarshal([]byte(`{"sql":"SELECT @x","params":{"x":1},"maxResults":5,"timeoutMs":2500}`))
	if err != nil {
		t.Fatalf("Unmarshal() error = %v", err)
	}
	request, violations := ParseQueryRequest(doc)
	if violations != nil {
		t.Fatalf("violations = %+v", violations)
	}
	if request.SQL != "SELECT @x" || request.MaxResults != 5 || request.TimeoutMs != 2500 {
		t.Fatalf("request = %+v", request)
	}
	if request.Params["x"] != int64(1) {
		t.Fatalf("params = %#v", request.Params)
	}
}

func TestParseQueryRequestRejectsMissingSQL(t *testing.T) {
	_, violations := ParseQueryRequest(map[string]any{"sql": ""})
	if len(violations) != 1 || violations[0].Message != sqlRequiredMessage {
		t.Fatalf("violations = %+v", violations)
	}
	_, violations = ParseQueryRequest(map[string]any{})
	if len(violations) != 1 || violations[0].Code != "required" {
		t.Fatalf("violations = %+v", violations)
	}
}

func TestParseQueryRequestBoundsTimeout(t *testing.T) {
	if _, violations := ParseQueryRequest(map[string]any{"sql": "SELECT 1", "timeoutMs": int64(MaxTimeoutMs)}); violations != nil {
		t.Fatalf("violations = %+v", violations)
	}
	_, violations := ParseQueryRequest(map[string]any{"sql": "SELECT 1", "timeoutMs": int64(18446744073710)})
	if len(violations) != 1 || violations[0].Code != "too_big" || violations[0].Path[0] != "timeoutMs" {
		t.Fatalf("violations = %+v", violations)
	}
}

func TestParseValidateRequestIgnoresQueryOnlyFields(t *testing.T) {
	request, violations := ParseValidateRequest(map[string]any{"sql": "SELECT 1", "maxResults": "nope"})
	if violations != nil {
		t.Fatalf("violations = %+v", violations)
	}
	if request.SQL != "SELECT 1" || request.Params != nil {
		t.Fatalf("request = %+v", request)
	}
}

func TestBytesFormatting(t *testing.T) {
	if FormatBytes(nil) != "" {
		t.Fatal("expected empty string for unknown bytes")
	}
	value := int64(123456789012)
	text := FormatBytes(&value)
	if text != "123456789012" {
		t.Fatalf("FormatBytes() = %q", text)
	}
	parsed, err := ParseBytes(text)
	if err != nil || *parsed != value {
		t.Fatalf("ParseBytes() = %v, %v", parsed, err)
	}
	if parsed, err := ParseBytes(""); parsed != nil || err != nil {
		t.Fatalf("ParseBytes(\"\") = %v, %v", parsed, err)
	}
}

func TestQueryResponseOmitsUnknownMetadata(t *testing.T) {
	raw, err := json.Marshal(QueryResponse{Rows: []columnar.Row{{{Name: "b", Value: int64(1)}, {Name: "a", Value: nil}}}, RowCount: 1})
	if err != nil {
		t.Fatalf("Marshal() error = %v", err)
	}
	if string(raw) != `{"rows":[{"b":1,"a":null}],"rowCount":1}` {
		t.Fatalf("json = %s", raw)
	}
}
