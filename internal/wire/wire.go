// Package wire holds the JSON payloads exchanged between the gateway and its
// clients, and the shape schemas requests are checked against.
package wire

import (
	"strconv"

	"github.com/bqbridge/bqbridge/internal/columnar"
	"github.com/bqbridge/bqbridge/internal/validate"
)

const (
	HeaderRowCount            = "X-Row-Count"
	HeaderTotalBytesProcessed = "X-Total-Bytes-Processed"
)

const sqlRequiredMessage = "SQL query is required"

// MaxTimeoutMs bounds timeoutMs so it always fits a time.Duration.
const MaxTimeoutMs = 6 * 60 * 60 * 1000

var QueryRequestSchema = validate.Schema{Fields: []validate.Field{
	{Name: "sql", Type: validate.TypeString, Required: true, MinLength: 1, Message: sqlRequiredMessage},
	{Name: "params", Type: validate.TypeObject},
	{Name: "maxResults", Type: validate.TypeInteger, Positive: true},
	{Name: "timeoutMs", Type: validate.TypeInteger, Positive: true, Maximum: MaxTimeoutMs},
}}

var ValidateRequestSchema = validate.Schema{Fields: []validate.Field{
	{Name: "sql", Type: validate.TypeString, Required: true, MinLength: 1, Message: sqlRequiredMessage},
	{Name: "params", Type: validate.TypeObject},
}}

type QueryRequest struct {
	SQL        string         `json:"sql"`
	Params     map[string]any `json:"params,omitempty"`
	MaxResults int            `json:"maxResults,omitempty"`
	TimeoutMs  int64          `json:"timeoutMs,omitempty"`
}

type ValidateRequest struct {
	SQL    string         `json:"sql"`
	Params map[string]any `json:"params,omitempty"`
}

type QueryResponse struct {
	Rows                []columnar.Row `json:"rows"`
	RowCount            int            `json:"rowCount"`
	TotalBytesProcessed string         `json:"totalBytesProcessed,omitempty"`
	CacheHit            *bool          `json:"cacheHit,omitempty"`
}

type ArrowQueryResponse struct {
	Data                string `json:"data"`
	RowCount            int    `json:"rowCount"`
	TotalBytesProcessed string `json:"totalBytesProcessed,omitempty"`
	CacheHit            *bool  `json:"cacheHit,omitempty"`
}

type SchemaField struct {
	Name string `json:"name"`
	Type string `json:"type"`
	Mode string `json:"mode,omitempty"`
}

type ValidationResponse struct {
	Valid               bool          `json:"valid"`
	Error               string        `json:"error,omitempty"`
	TotalBytesProcessed string        `json:"totalBytesProcessed,omitempty"`
	Schema              []SchemaField `json:"schema,omitempty"`
}

type ErrorEnvelope struct {
	Error   string `json:"error"`
	Code    string `json:"code,omitempty"`
	Details any    `json:"details,omitempty"`
}

// ParseQueryRequest checks doc against QueryRequestSchema and converts it.
func ParseQueryRequest(doc any) (QueryRequest, []validate.Violation) {
	if violations := QueryRequestSchema.Validate(doc); violations != nil {
		return QueryRequest{}, violations
	}
	object := doc.(map[string]any)
	return QueryRequest{
		SQL:        object["sql"].(string),
		Params:     paramsOf(object),
		MaxResults: int(integerOf(object["maxResults"])),
		TimeoutMs:  integerOf(object["timeoutMs"]),
	}, nil
}

// ParseValidateRequest checks doc against ValidateRequestSchema and converts it.
func ParseValidateRequest(doc any) (ValidateRequest, []validate.Violation) {
	if violations := ValidateRequestSchema.Validate(doc); violations != nil {
		return ValidateRequest{}, violations
	}
	object := doc.(map[string]any)
	return ValidateRequest{SQL: object["sql"].(string), Params: paramsOf(object)}, nil
}

// FormatBytes renders a byte count the way the service reports it: a decimal
// string, or empty when unknown.
func FormatBytes(value *int64) string {
	if value == nil {
		return ""
	}
	return strconv.FormatInt(*value, 10)
}

// ParseBytes reverses FormatBytes.
func ParseBytes(value string) (*int64, error) {
	if value == "" {
		return nil, nil
	}
	parsed, err := strconv.ParseInt(value, 10, 64)
	if err != nil {
		return nil, err
	}
	return &parsed, nil
}

func paramsOf(object map[string]any) map[string]any {
	params, _ := object["params"].(map[string]any)
	return params
}

func integerOf(value any) int64 {
	switch typed := value.(type) {
	case int64:
		return typed
	case int:
		return int64(typed)
	case float64:
		return int64(typed)
	default:
		return 0
	}
}
