package query

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/bqbridge/bqbridge/internal/columnar"
)

type fakeBackend struct {
	dryRunCalls int
	runCalls    int
	lastJob     Job

	stats  JobStats
	rowSet RowSet
	err    error
	block  bool
}

func (f *fakeBackend) DryRun(ctx context.Context, job Job) (JobStats, error) {
	f.dryRunCalls++
	f.lastJob = job
	if f.block {
		<-ctx.Done()
		return JobStats{}, ctx.Err()
	}
	if f.err != nil {
		return JobStats{}, f.err
	}
	return f.stats, nil
}

func (f *fakeBackend) Run(ctx context.Context, job Job) (RowSet, error) {
	f.runCalls++
	f.lastJob = job
	if f.block {
		<-ctx.Done()
		return RowSet{}, ctx.Err()
	}
	if f.err != nil {
		return RowSet{}, f.err
	}
	return f.rowSet, nil
}

func newTestGateway(backend Backend, cfg Config) *Gateway {
	return NewGateway(backend, cfg, slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func int64Ptr(v int64) *int64 { return &v }
func boolPtr(v bool) *bool    { return &v }

func TestExecuteRowsDryRunNeverReturnsRows(t *testing.T) {
	backend := &fakeBackend{
		stats:  JobStats{JobID: "job-1", TotalBytesProcessed: int64Ptr(2048), CacheHit: boolPtr(false)},
		rowSet: RowSet{Rows: []columnar.Row{{{Name: "x", Value: int64(1)}}}},
	}
	gateway := newTestGateway(backend, Config{})

	result, err := gateway.ExecuteRows(context.Background(), "SELECT 1", Options{DryRun: true})
	if err != nil {
		t.Fatalf("ExecuteRows() error = %v", err)
	}
	if len(result.Rows) != 0 {
		t.Fatalf("rows = %d, want 0", len(result.Rows))
	}
	if result.Rows == nil {
		t.Fatal("expected empty, non-nil rows")
	}
	if backend.runCalls != 0 || backend.dryRunCalls != 1 {
		t.Fatalf("run calls = %d, dry run calls = %d", backend.runCalls, backend.dryRunCalls)
	}
	if result.JobID != "job-1" || *result.TotalBytesProcessed != 2048 || *result.CacheHit {
		t.Fatalf("unexpected metadata: %+v", result)
	}
}

func TestExecuteRowsReturnsRowsAndMetadata(t *testing.T) {
	backend := &fakeBackend{rowSet: RowSet{
		Rows: []columnar.Row{
			{{Name: "id", Value: int64(1)}},
			{{Name: "id", Value: int64(2)}},
			{{Name: "id", Value: int64(3)}},
		},
		Stats: &JobStats{JobID: "job-2", TotalBytesProcessed: int64Ptr(10), CacheHit: boolPtr(true)},
	}}
	gateway := newTestGateway(backend, Config{UseLegacySQL: true})

	result, err := gateway.ExecuteRows(context.Background(), "SELECT id FROM t", Options{
		MaxResults: 2,
		Params:     map[string]any{"limit": int64(5)},
	})
	if err != nil {
		t.Fatalf("ExecuteRows() error = %v", err)
	}
	if len(result.Rows) != 2 {
		t.Fatalf("rows = %d, want truncation to 2", len(result.Rows))
	}
	if result.JobID != "job-2" || !*result.CacheHit {
		t.Fatalf("unexpected metadata: %+v", result)
	}
	if backend.lastJob.MaxResults != 2 || !backend.lastJob.UseLegacySQL || backend.lastJob.Params["limit"] != int64(5) {
		t.Fatalf("unexpected job: %+v", backend.lastJob)
	}
}

func TestExecuteRowsWithoutStatsLeavesMetadataAbsent(t *testing.T) {
	gateway := newTestGateway(&fakeBackend{rowSet: RowSet{}}, Config{})
	result, err := gateway.ExecuteRows(context.Background(), "SELECT 1", Options{})
	if err != nil {
		t.Fatalf("ExecuteRows() error = %v", err)
	}
	if result.Rows == nil || result.TotalBytesProcessed != nil || result.CacheHit != nil {
		t.Fatalf("unexpected result: %+v", result)
	}
}

func TestExecuteRowsLegacySQLOverride(t *testing.T) {
	backend := &fakeBackend{}
	gateway := newTestGateway(backend, Config{UseLegacySQL: true})
	if _, err := gateway.ExecuteRows(context.Background(), "SELECT 1", Options{UseLegacySQL: boolPtr(false)}); err != nil {
		t.Fatalf("ExecuteRows() error = %v", err)
	}
	if backend.lastJob.UseLegacySQL {
		t.Fatal("expected per-call override to disable legacy SQL")
	}
}

func TestExecuteRowsTimeout(t *testing.T) {
	backend := &fakeBackend{block: true}
	gateway := newTestGateway(backend, Config{DefaultTimeout: time.Hour})

	_, err := gateway.ExecuteRows(context.Background(), "SELECT 1", Options{Timeout: 10 * time.Millisecond})
	var timeoutErr *TimeoutError
	if !errors.As(err, &timeoutErr) {
		t.Fatalf("error = %v, want *TimeoutError", err)
	}
	if timeoutErr.Timeout != 10*time.Millisecond {
		t.Fatalf("timeout = %s", timeoutErr.Timeout)
	}
	if backend.lastJob.Timeout != 10*time.Millisecond {
		t.Fatalf("job timeout = %s, want the call deadline passed to the backend", backend.lastJob.Timeout)
	}
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatal("expected TimeoutError to unwrap to context.DeadlineExceeded")
	}
}

func TestExecuteRowsDefaultTimeoutApplies(t *testing.T) {
	gateway := newTestGateway(&fakeBackend{block: true}, Config{DefaultTimeout: 10 * time.Millisecond})
	_, err := gateway.ExecuteRows(context.Background(), "SELECT 1", Options{})
	var timeoutErr *TimeoutError
	if !errors.As(err, &timeoutErr) {
		t.Fatalf("error = %v, want *TimeoutError", err)
	}
}

func TestExecuteRowsCallerCancellationIsNotTimeout(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := newTestGateway(&fakeBackend{block: true}, Config{DefaultTimeout: time.Hour}).ExecuteRows(ctx, "SELECT 1", Options{})
	var timeoutErr *TimeoutError
	if errors.As(err, &timeoutErr) {
		t.Fatal("caller cancellation must not be reported as a timeout")
	}
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("error = %v, want context.Canceled", err)
	}
}

func TestExecuteRowsPropagatesRemoteError(t *testing.T) {
	remote := &RemoteError{StatusCode: 404, Message: "Not found: Table p:d.t"}
	_, err := newTestGateway(&fakeBackend{err: remote}, Config{}).ExecuteRows(context.Background(), "SELECT 1", Options{})
	var remoteErr *RemoteError
	if !errors.As(err, &remoteErr) || remoteErr.HTTPStatus() != 404 {
		t.Fatalf("error = %v, want remote 404", err)
	}
}

func TestExecuteRowsRejectsBlankSQL(t *testing.T) {
	backend := &fakeBackend{}
	if _, err := newTestGateway(backend, Config{}).ExecuteRows(context.Background(), "  ", Options{}); err == nil {
		t.Fatal("expected error for blank sql")
	}
	if backend.runCalls != 0 {
		t.Fatal("blank sql must not reach the backend")
	}
}

func TestExecuteColumnarEncodesRows(t *testing.T) {
	backend := &fakeBackend{rowSet: RowSet{
		Rows: []columnar.Row{
			{{Name: "a", Value: int64(1)}},
			{{Name: "b", Value: "x"}},
		},
		Stats: &JobStats{TotalBytesProcessed: int64Ptr(99)},
	}}
	result, err := newTestGateway(backend, Config{}).ExecuteColumnar(context.Background(), "SELECT 1", Options{})
	if err != nil {
		t.Fatalf("ExecuteColumnar() error = %v", err)
	}
	if result.RowCount != 2 || *result.TotalBytesProcessed != 99 {
		t.Fatalf("unexpected result: %+v", result)
	}
	rows, err := columnar.DecodeRows(result.Data)
	if err != nil {
		t.Fatalf("DecodeRows() error = %v", err)
	}
	if b, _ := rows[0].Get("b"); b != nil {
		t.Fatalf("row 0 b = %#v, want nil", b)
	}
	if b, _ := rows[1].Get("b"); b != "x" {
		t.Fatalf("row 1 b = %#v", b)
	}
}

func TestExecuteColumnarDryRunEncodesEmptyBuffer(t *testing.T) {
	backend := &fakeBackend{stats: JobStats{TotalBytesProcessed: int64Ptr(7)}}
	result, err := newTestGateway(backend, Config{}).ExecuteColumnar(context.Background(), "SELECT 1", Options{DryRun: true})
	if err != nil {
		t.Fatalf("ExecuteColumnar() error = %v", err)
	}
	if result.RowCount != 0 || backend.runCalls != 0 {
		t.Fatalf("unexpected result: %+v (run calls %d)", result, backend.runCalls)
	}
	table, err := columnar.DecodeTable(result.Data)
	if err != nil {
		t.Fatalf("DecodeTable() error = %v", err)
	}
	if len(table.Columns) != 0 || len(table.Rows) != 0 {
		t.Fatalf("unexpected table: %+v", table)
	}
}

func TestValidateSuccess(t *testing.T) {
	backend := &fakeBackend{stats: JobStats{
		TotalBytesProcessed: int64Ptr(512),
		Schema:              []SchemaField{{Name: "id", Type: "INTEGER", Mode: "NULLABLE"}, {}},
	}}
	result := newTestGateway(backend, Config{}).Validate(context.Background(), "SELECT id FROM t", Options{})
	if !result.Valid || result.Error != "" {
		t.Fatalf("unexpected result: %+v", result)
	}
	if *result.TotalBytesProcessed != 512 || len(result.Schema) != 2 {
		t.Fatalf("unexpected result: %+v", result)
	}
	if result.Schema[1].Name != "" || result.Schema[1].Type != "" {
		t.Fatalf("absent name/type must default to empty: %+v", result.Schema[1])
	}
	if backend.runCalls != 0 || backend.dryRunCalls != 1 {
		t.Fatal("validate must only dry run")
	}
}

func TestValidateNeverFails(t *testing.T) {
	cases := []struct {
		name    string
		gateway *Gateway
		sql     string
		want    string
	}{
		{name: "remote message", gateway: newTestGateway(&fakeBackend{err: &RemoteError{StatusCode: 400, Message: "Syntax error"}}, Config{}), sql: "SELEC 1", want: "Syntax error"},
		{name: "remote without message", gateway: newTestGateway(&fakeBackend{err: &RemoteError{StatusCode: 500}}, Config{}), sql: "SELECT 1", want: unknownValidationError},
		{name: "plain error", gateway: newTestGateway(&fakeBackend{err: errors.New("boom")}, Config{}), sql: "SELECT 1", want: "boom"},
		{name: "no backend", gateway: newTestGateway(nil, Config{}), sql: "SELECT 1", want: "query backend is not configured"},
		{name: "timeout", gateway: newTestGateway(&fakeBackend{block: true}, Config{DefaultTimeout: 5 * time.Millisecond}), sql: "SELECT 1", want: "query exceeded timeout of 5ms"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			result := tc.gateway.Validate(context.Background(), tc.sql, Options{})
			if result.Valid {
				t.Fatal("expected invalid result")
			}
			if result.Error != tc.want {
				t.Fatalf("error = %q, want %q", result.Error, tc.want)
			}
		})
	}
}
