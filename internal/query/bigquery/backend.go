// Package bigquery implements query.Backend on the BigQuery client library.
package bigquery

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"sort"
	"strings"
	"time"

	bq "cloud.google.com/go/bigquery"
	"cloud.google.com/go/civil"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"

	"github.com/bqbridge/bqbridge/internal/columnar"
	"github.com/bqbridge/bqbridge/internal/query"
)

const cancelTimeout = 10 * time.Second

type Config struct {
	ProjectID       string
	Location        string
	CredentialsFile string
}

type Backend struct {
	client *bq.Client
}

// New constructs the client once. Credentials come from CredentialsFile when
// set and from application default credentials otherwise.
func New(ctx context.Context, cfg Config, opts ...option.ClientOption) (*Backend, error) {
	if strings.TrimSpace(cfg.ProjectID) == "" {
		return nil, fmt.Errorf("bigquery project id is required")
	}
	if cfg.CredentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(cfg.CredentialsFile))
	}
	client, err := bq.NewClient(ctx, cfg.ProjectID, opts...)
	if err != nil {
		return nil, fmt.Errorf("create bigquery client: %w", err)
	}
	if cfg.Location != "" {
		client.Location = cfg.Location
	}
	return &Backend{client: client}, nil
}

func (b *Backend) Close() error {
	if b == nil || b.client == nil {
		return nil
	}
	return b.client.Close()
}

func (b *Backend) DryRun(ctx context.Context, job query.Job) (query.JobStats, error) {
	q, err := b.newQuery(job)
	if err != nil {
		return query.JobStats{}, err
	}
	q.DryRun = true

	j, err := q.Run(ctx)
	if err != nil {
		return query.JobStats{}, classify(err)
	}
	status := j.LastStatus()
	if status == nil {
		return query.JobStats{JobID: j.ID()}, nil
	}
	if err := status.Err(); err != nil {
		return query.JobStats{}, classify(err)
	}
	stats := jobStats(j.ID(), status.Statistics)
	return stats, nil
}

func (b *Backend) Run(ctx context.Context, job query.Job) (query.RowSet, error) {
	q, err := b.newQuery(job)
	if err != nil {
		return query.RowSet{}, err
	}

	if job.Timeout > 0 {
		q.JobTimeout = job.Timeout
	}

	j, err := q.Run(ctx)
	if err != nil {
		return query.RowSet{}, classify(err)
	}
	status, err := j.Wait(ctx)
	if err != nil {
		if ctx.Err() != nil {
			cancelJob(j)
		}
		return query.RowSet{}, classify(err)
	}
	if err := status.Err(); err != nil {
		return query.RowSet{}, classify(err)
	}
	stats := jobStats(j.ID(), status.Statistics)

	it, err := j.Read(ctx)
	if err != nil {
		return query.RowSet{}, classify(err)
	}
	if job.MaxResults > 0 {
		it.PageInfo().MaxSize = job.MaxResults
	}

	rows := make([]columnar.Row, 0)
	for job.MaxResults <= 0 || len(rows) < job.MaxResults {
		var values []bq.Value
		err := it.Next(&values)
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			return query.RowSet{}, classify(err)
		}
		rows = append(rows, rowFromValues(it.Schema, values))
	}
	if stats.Schema == nil && it.Schema != nil {
		stats.Schema = schemaFields(it.Schema)
	}
	return query.RowSet{Rows: rows, Stats: &stats}, nil
}

// cancelJob stops a job whose caller has given up. The caller's context is
// already done, so the request runs on its own deadline.
func cancelJob(j *bq.Job) {
	ctx, cancel := context.WithTimeout(context.Background(), cancelTimeout)
	defer cancel()
	_ = j.Cancel(ctx)
}

func (b *Backend) newQuery(job query.Job) (*bq.Query, error) {
	if b == nil || b.client == nil {
		return nil, fmt.Errorf("bigquery client is not configured")
	}
	params, err := queryParameters(job.Params)
	if err != nil {
		return nil, err
	}
	q := b.client.Query(job.SQL)
	q.UseLegacySQL = job.UseLegacySQL
	q.Parameters = params
	return q, nil
}

func jobStats(jobID string, statistics *bq.JobStatistics) query.JobStats {
	stats := query.JobStats{JobID: jobID}
	if statistics == nil {
		return stats
	}
	total := statistics.TotalBytesProcessed
	stats.TotalBytesProcessed = &total
	if details, ok := statistics.Details.(*bq.QueryStatistics); ok && details != nil {
		cacheHit := details.CacheHit
		stats.CacheHit = &cacheHit
		if details.Schema != nil {
			stats.Schema = schemaFields(details.Schema)
		}
	}
	return stats
}

func schemaFields(schema bq.Schema) []query.SchemaField {
	fields := make([]query.SchemaField, 0, len(schema))
	for _, field := range schema {
		if field == nil {
			fields = append(fields, query.SchemaField{})
			continue
		}
		fields = append(fields, query.SchemaField{
			Name: field.Name,
			Type: string(field.Type),
			Mode: fieldMode(field),
		})
	}
	return fields
}

func fieldMode(field *bq.FieldSchema) string {
	switch {
	case field.Repeated:
		return "REPEATED"
	case field.Required:
		return "REQUIRED"
	default:
		return "NULLABLE"
	}
}

// queryParameters converts named parameters in name order. Arrays must be
// homogeneous scalars; objects are not supported.
func queryParameters(params map[string]any) ([]bq.QueryParameter, error) {
	if len(params) == 0 {
		return nil, nil
	}
	names := make([]string, 0, len(params))
	for name := range params {
		names = append(names, name)
	}
	sort.Strings(names)

	out := make([]bq.QueryParameter, 0, len(params))
	for _, name := range names {
		value, err := parameterValue(params[name])
		if err != nil {
			return nil, fmt.Errorf("query parameter %q: %w", name, err)
		}
		out = append(out, bq.QueryParameter{Name: name, Value: value})
	}
	return out, nil
}

func parameterValue(value any) (any, error) {
	switch typed := value.(type) {
	case nil:
		return bq.NullString{}, nil
	case bool, int64, float64, string:
		return typed, nil
	case int:
		return int64(typed), nil
	case []any:
		return arrayParameter(typed)
	default:
		return nil, fmt.Errorf("unsupported parameter type %T", value)
	}
}

func arrayParameter(values []any) (any, error) {
	if len(values) == 0 {
		return []string{}, nil
	}
	switch values[0].(type) {
	case string:
		return homogeneous[string](values)
	case int64:
		return homogeneous[int64](values)
	case float64:
		return homogeneous[float64](values)
	case bool:
		return homogeneous[bool](values)
	default:
		return nil, fmt.Errorf("unsupported array element type %T", values[0])
	}
}

func homogeneous[T any](values []any) ([]T, error) {
	out := make([]T, len(values))
	for i, value := range values {
		typed, ok := value.(T)
		if !ok {
			return nil, fmt.Errorf("array elements must share one type, element %d is %T", i, value)
		}
		out[i] = typed
	}
	return out, nil
}

func rowFromValues(schema bq.Schema, values []bq.Value) columnar.Row {
	row := make(columnar.Row, 0, len(values))
	for i, value := range values {
		name := fmt.Sprintf("f%d_", i)
		var field *bq.FieldSchema
		if i < len(schema) && schema[i] != nil {
			field = schema[i]
			name = field.Name
		}
		row = append(row, columnar.Field{Name: name, Value: normalizeValue(field, value)})
	}
	return row
}

// normalizeValue maps client values onto the JSON-representable set the
// codec understands: records become maps and repeated fields become slices.
func normalizeValue(field *bq.FieldSchema, value bq.Value) any {
	if value == nil {
		return nil
	}
	if field != nil && field.Repeated {
		items, ok := value.([]bq.Value)
		if !ok {
			return value
		}
		element := *field
		element.Repeated = false
		out := make([]any, len(items))
		for i, item := range items {
			out[i] = normalizeValue(&element, item)
		}
		return out
	}

	switch typed := value.(type) {
	case []bq.Value:
		if field != nil && field.Type == bq.RecordFieldType {
			record := make(map[string]any, len(typed))
			for i, item := range typed {
				var sub *bq.FieldSchema
				name := fmt.Sprintf("f%d_", i)
				if i < len(field.Schema) && field.Schema[i] != nil {
					sub = field.Schema[i]
					name = sub.Name
				}
				record[name] = normalizeValue(sub, item)
			}
			return record
		}
		out := make([]any, len(typed))
		for i, item := range typed {
			out[i] = normalizeValue(nil, item)
		}
		return out
	case *big.Rat:
		if field != nil && field.Type == bq.BigNumericFieldType {
			return bq.BigNumericString(typed)
		}
		return bq.NumericString(typed)
	case civil.Date:
		return typed.String()
	case civil.Time:
		return bq.CivilTimeString(typed)
	case civil.DateTime:
		return bq.CivilDateTimeString(typed)
	case *bq.IntervalValue:
		return typed.String()
	case time.Time:
		return typed.UTC()
	case int, int8, int16, int32, int64, uint8, uint16, uint32, float32, float64, bool, string, []byte:
		return typed
	default:
		return fmt.Sprint(typed)
	}
}
