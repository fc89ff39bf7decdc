package query

import (
	"context"
	"time"

	"github.com/bqbridge/bqbridge/internal/columnar"
)

// Job is one statement sent to the remote service.
type Job struct {
	SQL          string
	Params       map[string]any
	MaxResults   int
	UseLegacySQL bool
	// Timeout is the remote job deadline; zero leaves it to the service.
	Timeout time.Duration
}

type SchemaField struct {
	Name string `json:"name"`
	Type string `json:"type"`
	Mode string `json:"mode,omitempty"`
}

// JobStats is the job metadata the remote service surfaced. Nil pointers
// mean the service did not report the value.
type JobStats struct {
	JobID               string
	TotalBytesProcessed *int64
	CacheHit            *bool
	Schema              []SchemaField
}

type RowSet struct {
	Rows  []columnar.Row
	Stats *JobStats
}

// Backend is the remote query capability. DryRun plans a statement without
// executing it and must not incur cost; Run executes it.
type Backend interface {
	DryRun(ctx context.Context, job Job) (JobStats, error)
	Run(ctx context.Context, job Job) (RowSet, error)
}

type Options struct {
	Params     map[string]any
	MaxResults int
	// Timeout bounds the remote call only. Zero selects the gateway default.
	Timeout time.Duration
	DryRun  bool
	// UseLegacySQL overrides the gateway default when set.
	UseLegacySQL *bool
}

type Result struct {
	Rows                []columnar.Row
	TotalBytesProcessed *int64
	CacheHit            *bool
	JobID               string
}

type ColumnarResult struct {
	Data                []byte
	RowCount            int
	TotalBytesProcessed *int64
	CacheHit            *bool
	JobID               string
}

type ValidationResult struct {
	Valid               bool
	Error               string
	TotalBytesProcessed *int64
	Schema              []SchemaField
}
