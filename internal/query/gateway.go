// Package query runs statements against the remote analytical service in
// one of three modes: row fetch, columnar fetch, and dry-run validation.
package query

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/bqbridge/bqbridge/internal/columnar"
	"github.com/bqbridge/bqbridge/internal/observability"
)

const (
	modeRows     = "rows"
	modeColumnar = "columnar"
	modeDryRun   = "dry_run"
	modeValidate = "validate"

	unknownValidationError = "Unknown validation error"
)

type Config struct {
	DefaultTimeout time.Duration
	UseLegacySQL   bool
}

// Gateway wraps a Backend with timeouts, timing, and metrics. It holds no
// per-call state and is safe for concurrent use.
type Gateway struct {
	backend Backend
	config  Config
	logger  *slog.Logger
	now     func() time.Time
}

func NewGateway(backend Backend, cfg Config, logger *slog.Logger) *Gateway {
	if logger == nil {
		logger = slog.Default()
	}
	return &Gateway{backend: backend, config: cfg, logger: logger, now: time.Now}
}

// ExecuteRows runs sql and returns its rows. With opts.DryRun set the
// statement is only planned: the result has no rows and carries the job
// metadata instead.
func (g *Gateway) ExecuteRows(ctx context.Context, sql string, opts Options) (Result, error) {
	if err := g.ready(sql); err != nil {
		return Result{}, err
	}
	job := g.job(sql, opts)

	if opts.DryRun {
		stats, err := g.dryRun(ctx, modeDryRun, job, opts.Timeout)
		if err != nil {
			return Result{}, err
		}
		return Result{
			Rows:                []columnar.Row{},
			TotalBytesProcessed: stats.TotalBytesProcessed,
			CacheHit:            stats.CacheHit,
			JobID:               stats.JobID,
		}, nil
	}

	rowSet, err := g.run(ctx, modeRows, job, opts.Timeout)
	if err != nil {
		return Result{}, err
	}
	return resultFromRowSet(rowSet, opts.MaxResults), nil
}

// ExecuteColumnar is ExecuteRows followed by columnar encoding of the rows.
func (g *Gateway) ExecuteColumnar(ctx context.Context, sql string, opts Options) (ColumnarResult, error) {
	if err := g.ready(sql); err != nil {
		return ColumnarResult{}, err
	}
	job := g.job(sql, opts)

	var result Result
	if opts.DryRun {
		stats, err := g.dryRun(ctx, modeDryRun, job, opts.Timeout)
		if err != nil {
			return ColumnarResult{}, err
		}
		result = Result{TotalBytesProcessed: stats.TotalBytesProcessed, CacheHit: stats.CacheHit, JobID: stats.JobID}
	} else {
		rowSet, err := g.run(ctx, modeColumnar, job, opts.Timeout)
		if err != nil {
			return ColumnarResult{}, err
		}
		result = resultFromRowSet(rowSet, opts.MaxResults)
	}

	data, err := columnar.EncodeRows(result.Rows)
	if err != nil {
		return ColumnarResult{}, fmt.Errorf("encode columnar result: %w", err)
	}
	observability.ObserveColumnarEncoded(len(data))
	return ColumnarResult{
		Data:                data,
		RowCount:            len(result.Rows),
		TotalBytesProcessed: result.TotalBytesProcessed,
		CacheHit:            result.CacheHit,
		JobID:               result.JobID,
	}, nil
}

// Validate dry-runs sql. It never returns an error: every failure is
// reported through ValidationResult.Error.
func (g *Gateway) Validate(ctx context.Context, sql string, opts Options) ValidationResult {
	if err := g.ready(sql); err != nil {
		return ValidationResult{Valid: false, Error: validationMessage(err)}
	}
	stats, err := g.dryRun(ctx, modeValidate, g.job(sql, opts), opts.Timeout)
	if err != nil {
		return ValidationResult{Valid: false, Error: validationMessage(err)}
	}

	var schema []SchemaField
	if stats.Schema != nil {
		schema = make([]SchemaField, len(stats.Schema))
		copy(schema, stats.Schema)
	}
	return ValidationResult{
		Valid:               true,
		TotalBytesProcessed: stats.TotalBytesProcessed,
		Schema:              schema,
	}
}

func (g *Gateway) ready(sql string) error {
	if g == nil || g.backend == nil {
		return errors.New("query backend is not configured")
	}
	if strings.TrimSpace(sql) == "" {
		return errors.New("sql is required")
	}
	return nil
}

func (g *Gateway) job(sql string, opts Options) Job {
	legacy := g.config.UseLegacySQL
	if opts.UseLegacySQL != nil {
		legacy = *opts.UseLegacySQL
	}
	maxResults := opts.MaxResults
	if maxResults < 0 {
		maxResults = 0
	}
	return Job{SQL: sql, Params: opts.Params, MaxResults: maxResults, UseLegacySQL: legacy}
}

func (g *Gateway) timeout(requested time.Duration) time.Duration {
	if requested > 0 {
		return requested
	}
	return g.config.DefaultTimeout
}

func (g *Gateway) dryRun(ctx context.Context, mode string, job Job, requested time.Duration) (JobStats, error) {
	callCtx, cancel, timeout := g.bound(ctx, requested)
	defer cancel()
	job.Timeout = timeout

	start := g.now()
	stats, err := g.backend.DryRun(callCtx, job)
	err = g.finish(ctx, callCtx, mode, start, timeout, err)
	if err != nil {
		return JobStats{}, err
	}
	if stats.TotalBytesProcessed != nil {
		g.logger.DebugContext(ctx, "gateway_dry_run_estimate",
			slog.String("trace_id", observability.TraceIDFromContext(ctx)),
			slog.Int64("total_bytes_processed", *stats.TotalBytesProcessed),
		)
	}
	return stats, nil
}

func (g *Gateway) run(ctx context.Context, mode string, job Job, requested time.Duration) (RowSet, error) {
	callCtx, cancel, timeout := g.bound(ctx, requested)
	defer cancel()
	job.Timeout = timeout

	start := g.now()
	rowSet, err := g.backend.Run(callCtx, job)
	err = g.finish(ctx, callCtx, mode, start, timeout, err)
	if err != nil {
		return RowSet{}, err
	}
	if rowSet.Stats != nil && rowSet.Stats.TotalBytesProcessed != nil {
		observability.AddBytesProcessed(mode, *rowSet.Stats.TotalBytesProcessed)
	}
	return rowSet, nil
}

func (g *Gateway) bound(ctx context.Context, requested time.Duration) (context.Context, context.CancelFunc, time.Duration) {
	timeout := g.timeout(requested)
	if timeout <= 0 {
		callCtx, cancel := context.WithCancel(ctx)
		return callCtx, cancel, 0
	}
	callCtx, cancel := context.WithTimeout(ctx, timeout)
	return callCtx, cancel, timeout
}

// finish classifies err, records the call, and emits the timing log.
func (g *Gateway) finish(parent, callCtx context.Context, mode string, start time.Time, timeout time.Duration, err error) error {
	elapsed := g.now().Sub(start)
	if err != nil && timeout > 0 && parent.Err() == nil && errors.Is(callCtx.Err(), context.DeadlineExceeded) {
		err = &TimeoutError{Timeout: timeout}
	}

	outcome := "ok"
	var timeoutErr *TimeoutError
	var remoteErr *RemoteError
	switch {
	case err == nil:
	case errors.As(err, &timeoutErr):
		outcome = "timeout"
	case errors.As(err, &remoteErr):
		outcome = "remote_error"
	default:
		outcome = "error"
	}
	observability.ObserveGatewayCall(mode, outcome, elapsed)

	attrs := []any{
		slog.String("trace_id", observability.TraceIDFromContext(parent)),
		slog.String("mode", mode),
		slog.String("outcome", outcome),
		slog.Int64("elapsed_ms", elapsed.Milliseconds()),
	}
	if err != nil {
		attrs = append(attrs, slog.String("error", err.Error()))
	}
	g.logger.DebugContext(parent, "gateway_call", attrs...)
	return err
}

func resultFromRowSet(rowSet RowSet, maxResults int) Result {
	rows := rowSet.Rows
	if rows == nil {
		rows = []columnar.Row{}
	}
	if maxResults > 0 && len(rows) > maxResults {
		rows = rows[:maxResults]
	}
	result := Result{Rows: rows}
	if rowSet.Stats != nil {
		result.TotalBytesProcessed = rowSet.Stats.TotalBytesProcessed
		result.CacheHit = rowSet.Stats.CacheHit
		result.JobID = rowSet.Stats.JobID
	}
	return result
}

func validationMessage(err error) string {
	var remoteErr *RemoteError
	message := err.Error()
	if errors.As(err, &remoteErr) {
		message = remoteErr.Message
	}
	if strings.TrimSpace(message) == "" {
		return unknownValidationError
	}
	return message
}
