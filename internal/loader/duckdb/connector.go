// Package duckdb is the local DuckDB connector used to load query results
// for offline analysis.
package duckdb

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	_ "github.com/marcboeker/go-duckdb/v2"

	"github.com/bqbridge/bqbridge/internal/columnar"
	"github.com/bqbridge/bqbridge/internal/loader"
)

const (
	defaultBatchSize = 500
	defaultSchema    = "main"
)

type Column struct {
	Name string `json:"name"`
	Type string `json:"type"`
}

type Connector struct {
	// BatchSize bounds the rows per INSERT statement. Zero means 500.
	BatchSize int

	db     *sql.DB
	mu     sync.RWMutex
	tables map[string][]Column
}

// Open opens the database file at path, or an in-memory database when
// path is empty.
func Open(path string) (*Connector, error) {
	db, err := sql.Open("duckdb", path)
	if err != nil {
		return nil, fmt.Errorf("open duckdb: %w", err)
	}
	return New(db), nil
}

func New(db *sql.DB) *Connector {
	return &Connector{db: db, tables: map[string][]Column{}}
}

func (c *Connector) Close() error {
	return c.db.Close()
}

func (c *Connector) Exec(ctx context.Context, statement string) error {
	statement = stripTrailingSemicolons(statement)
	if statement == "" {
		return errors.New("sql is required")
	}
	if _, err := c.db.ExecContext(ctx, statement); err != nil {
		return fmt.Errorf("execute statement: %w", err)
	}
	return nil
}

// InsertColumnar decodes buf and inserts its rows inside one transaction.
// A buffer without columns inserts nothing and creates nothing.
func (c *Connector) InsertColumnar(ctx context.Context, buf []byte, opts loader.InsertOptions) (int, error) {
	if strings.TrimSpace(opts.Name) == "" {
		return 0, errors.New("table name is required")
	}
	table, err := columnar.DecodeTable(buf)
	if err != nil {
		return 0, err
	}
	if len(table.Columns) == 0 {
		return 0, nil
	}

	target := qualifiedName(opts.Schema, opts.Name)
	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin transaction: %w", err)
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback()
		}
	}()

	if opts.Create {
		if _, err := tx.ExecContext(ctx, createTableSQL(target, table.Columns)); err != nil {
			return 0, fmt.Errorf("create table %s: %w", target, err)
		}
	}

	batchSize := c.BatchSize
	if batchSize <= 0 {
		batchSize = defaultBatchSize
	}
	for start := 0; start < len(table.Rows); start += batchSize {
		end := min(start+batchSize, len(table.Rows))
		statement, args, err := insertSQL(target, table.Columns, table.Rows[start:end])
		if err != nil {
			return 0, err
		}
		if _, err := tx.ExecContext(ctx, statement, args...); err != nil {
			return 0, fmt.Errorf("insert rows %d-%d into %s: %w", start, end-1, target, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit transaction: %w", err)
	}
	committed = true
	return len(table.Rows), nil
}

// RefreshTableSchemas replaces the cached table listing with a fresh read
// of information_schema.columns.
func (c *Connector) RefreshTableSchemas(ctx context.Context) error {
	rows, err := c.db.QueryContext(ctx, refreshSQL)
	if err != nil {
		return fmt.Errorf("query table schemas: %w", err)
	}
	defer func() { _ = rows.Close() }()

	tables := map[string][]Column{}
	for rows.Next() {
		var schema, table string
		var column Column
		if err := rows.Scan(&schema, &table, &column.Name, &column.Type); err != nil {
			return fmt.Errorf("scan table schema: %w", err)
		}
		key := table
		if schema != defaultSchema {
			key = schema + "." + table
		}
		tables[key] = append(tables[key], column)
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("iterate table schemas: %w", err)
	}

	c.mu.Lock()
	c.tables = tables
	c.mu.Unlock()
	return nil
}

// Tables returns the listing from the last refresh. Tables outside the
// main schema are keyed as schema.table.
func (c *Connector) Tables() map[string][]Column {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make(map[string][]Column, len(c.tables))
	for name, columns := range c.tables {
		out[name] = append([]Column(nil), columns...)
	}
	return out
}

// TableNames lists the refreshed tables in sorted order.
func (c *Connector) TableNames() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	names := make([]string, 0, len(c.tables))
	for name := range c.tables {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

const refreshSQL = `SELECT table_schema, table_name, column_name, data_type
FROM information_schema.columns
WHERE table_schema NOT IN ('information_schema', 'pg_catalog')
ORDER BY table_schema, table_name, ordinal_position`

func createTableSQL(target string, columns []columnar.Column) string {
	defs := make([]string, 0, len(columns))
	for _, column := range columns {
		defs = append(defs, loader.QuoteIdent(column.Name)+" "+sqlType(column.Type))
	}
	return fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s (%s)", target, strings.Join(defs, ", "))
}

func insertSQL(target string, columns []columnar.Column, rows []columnar.Row) (string, []any, error) {
	names := make([]string, len(columns))
	placeholders := make([]string, len(columns))
	for i, column := range columns {
		names[i] = loader.QuoteIdent(column.Name)
		placeholders[i] = "?"
	}
	tuple := "(" + strings.Join(placeholders, ", ") + ")"

	tuples := make([]string, len(rows))
	args := make([]any, 0, len(rows)*len(columns))
	for r, row := range rows {
		tuples[r] = tuple
		for _, column := range columns {
			value, _ := row.Get(column.Name)
			bound, err := bindValue(column.Type, value)
			if err != nil {
				return "", nil, fmt.Errorf("bind column %q: %w", column.Name, err)
			}
			args = append(args, bound)
		}
	}
	statement := fmt.Sprintf("INSERT INTO %s (%s) VALUES %s", target, strings.Join(names, ", "), strings.Join(tuples, ", "))
	return statement, args, nil
}

func sqlType(typ columnar.ColumnType) string {
	switch typ {
	case columnar.TypeBoolean:
		return "BOOLEAN"
	case columnar.TypeInt64:
		return "BIGINT"
	case columnar.TypeFloat64:
		return "DOUBLE"
	case columnar.TypeBinary:
		return "BLOB"
	case columnar.TypeTimestamp:
		return "TIMESTAMPTZ"
	case columnar.TypeDate:
		return "DATE"
	default:
		return "VARCHAR"
	}
}

func bindValue(typ columnar.ColumnType, value any) (any, error) {
	if value == nil {
		return nil, nil
	}
	switch typ {
	case columnar.TypeJSON:
		encoded, err := json.Marshal(value)
		if err != nil {
			return nil, err
		}
		return string(encoded), nil
	case columnar.TypeOther:
		switch value.(type) {
		case string, int64, float64, bool:
			return value, nil
		}
		encoded, err := json.Marshal(value)
		if err != nil {
			return fmt.Sprint(value), nil
		}
		return string(encoded), nil
	default:
		return value, nil
	}
}

func qualifiedName(schema, name string) string {
	if schema == "" {
		return loader.QuoteIdent(name)
	}
	return loader.QuoteIdent(schema) + "." + loader.QuoteIdent(name)
}

func stripTrailingSemicolons(sqlText string) string {
	trimmed := strings.TrimSpace(sqlText)
	for strings.HasSuffix(trimmed, ";") {
		trimmed = strings.TrimSpace(strings.TrimSuffix(trimmed, ";"))
	}
	return trimmed
}
