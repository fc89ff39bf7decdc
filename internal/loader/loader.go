// Package loader moves columnar query results into a local database: it
// decodes the portable text form, replaces or extends the target table, and
// refreshes the connector's schema view once the data is in place.
package loader

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/bqbridge/bqbridge/internal/columnar"
)

// Connector is a local database able to ingest columnar buffers.
type Connector interface {
	Exec(ctx context.Context, sql string) error
	InsertColumnar(ctx context.Context, buf []byte, opts InsertOptions) (int, error)
	RefreshTableSchemas(ctx context.Context) error
}

// InsertOptions names the target table. With Create set the table is
// created from the buffer's schema when it does not exist yet.
type InsertOptions struct {
	Name   string
	Schema string
	Create bool
}

type TableOptions struct {
	// KeepExisting appends to the table instead of dropping it first.
	KeepExisting bool
	// CreateView adds a view over the loaded table. ViewSQL is the view's
	// SELECT; it defaults to selecting every column of the table.
	CreateView bool
	ViewName   string
	ViewSQL    string
}

type TableSpec struct {
	Table    string
	Portable string
	Options  TableOptions
}

// LoadToTable loads one portable columnar buffer into table and returns the
// number of rows inserted. Steps run strictly in order: drop, decode and
// insert, optional view, schema refresh.
func LoadToTable(ctx context.Context, conn Connector, portable, table string, opts TableOptions) (int, error) {
	count, err := loadOne(ctx, conn, portable, table, opts)
	if err != nil {
		return 0, err
	}
	if err := conn.RefreshTableSchemas(ctx); err != nil {
		return 0, fmt.Errorf("refresh table schemas: %w", err)
	}
	return count, nil
}

// LoadTables loads every spec concurrently. All loads run to completion; if
// any failed the result is a *BatchError and no counts are returned. The
// schema view is refreshed once, after every load has finished.
func LoadTables(ctx context.Context, conn Connector, specs []TableSpec) (map[string]int, error) {
	if err := checkDistinct(specs); err != nil {
		return nil, err
	}

	counts := make([]int, len(specs))
	errs := make([]error, len(specs))
	var wg sync.WaitGroup
	for i, spec := range specs {
		wg.Add(1)
		go func() {
			defer wg.Done()
			counts[i], errs[i] = loadOne(ctx, conn, spec.Portable, spec.Table, spec.Options)
		}()
	}
	wg.Wait()

	batchErr := &BatchError{}
	for i, err := range errs {
		if err != nil {
			batchErr.Failures = append(batchErr.Failures, TableError{Table: specs[i].Table, Err: err})
		}
	}

	if err := conn.RefreshTableSchemas(ctx); err != nil && len(batchErr.Failures) == 0 {
		return nil, fmt.Errorf("refresh table schemas: %w", err)
	}
	if len(batchErr.Failures) > 0 {
		return nil, batchErr
	}

	result := make(map[string]int, len(specs))
	for i, spec := range specs {
		result[spec.Table] = counts[i]
	}
	return result, nil
}

func loadOne(ctx context.Context, conn Connector, portable, table string, opts TableOptions) (int, error) {
	if conn == nil {
		return 0, errors.New("connector is required")
	}
	if strings.TrimSpace(table) == "" {
		return 0, errors.New("table name is required")
	}

	if !opts.KeepExisting {
		if err := conn.Exec(ctx, "DROP TABLE IF EXISTS "+QuoteIdent(table)); err != nil {
			return 0, fmt.Errorf("drop table %q: %w", table, err)
		}
	}

	buf, err := columnar.DecodePortable(portable)
	if err != nil {
		return 0, err
	}
	count, err := conn.InsertColumnar(ctx, buf, InsertOptions{Name: table, Create: true})
	if err != nil {
		return 0, fmt.Errorf("insert into %q: %w", table, err)
	}

	if opts.CreateView {
		viewName := opts.ViewName
		if viewName == "" {
			viewName = table + "_view"
		}
		viewSQL := strings.TrimSpace(opts.ViewSQL)
		if viewSQL == "" {
			viewSQL = "SELECT * FROM " + QuoteIdent(table)
		}
		statement := fmt.Sprintf("CREATE OR REPLACE VIEW %s AS %s", QuoteIdent(viewName), viewSQL)
		if err := conn.Exec(ctx, statement); err != nil {
			return 0, fmt.Errorf("create view %q: %w", viewName, err)
		}
	}
	return count, nil
}

func checkDistinct(specs []TableSpec) error {
	seen := make(map[string]struct{}, len(specs))
	for _, spec := range specs {
		if _, ok := seen[spec.Table]; ok {
			return fmt.Errorf("table %q appears more than once in the batch", spec.Table)
		}
		seen[spec.Table] = struct{}{}
	}
	return nil
}

type TableError struct {
	Table string
	Err   error
}

// BatchError collects every failed load of a LoadTables call.
type BatchError struct {
	Failures []TableError
}

func (e *BatchError) Error() string {
	failures := append([]TableError(nil), e.Failures...)
	sort.Slice(failures, func(i, j int) bool { return failures[i].Table < failures[j].Table })
	parts := make([]string, 0, len(failures))
	for _, failure := range failures {
		parts = append(parts, fmt.Sprintf("%s: %v", failure.Table, failure.Err))
	}
	return fmt.Sprintf("%d of the table loads failed: %s", len(failures), strings.Join(parts, "; "))
}

func (e *BatchError) Unwrap() []error {
	errs := make([]error, 0, len(e.Failures))
	for _, failure := range e.Failures {
		errs = append(errs, failure.Err)
	}
	return errs
}

// QuoteIdent quotes a SQL identifier, doubling embedded quotes.
func QuoteIdent(value string) string {
	return `"` + strings.ReplaceAll(value, `"`, `""`) + `"`
}
