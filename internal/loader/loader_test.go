package loader

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/bqbridge/bqbridge/internal/columnar"
)

type fakeConnector struct {
	mu         sync.Mutex
	log        []string
	refreshes  int
	insertErr  map[string]error
	refreshErr error
}

func (f *fakeConnector) record(entry string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.log = append(f.log, entry)
}

func (f *fakeConnector) Exec(_ context.Context, sql string) error {
	f.record("exec " + sql)
	return nil
}

func (f *fakeConnector) InsertColumnar(_ context.Context, buf []byte, opts InsertOptions) (int, error) {
	f.record("insert " + opts.Name)
	if err := f.insertErr[opts.Name]; err != nil {
		return 0, err
	}
	rows, err := columnar.DecodeRows(buf)
	if err != nil {
		return 0, err
	}
	return len(rows), nil
}

func (f *fakeConnector) RefreshTableSchemas(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.refreshes++
	f.log = append(f.log, "refresh")
	return f.refreshErr
}

func portableRows(t *testing.T, n int) string {
	t.Helper()
	rows := make([]columnar.Row, n)
	for i := range rows {
		rows[i] = columnar.Row{{Name: "id", Value: int64(i)}}
	}
	buf, err := columnar.EncodeRows(rows)
	if err != nil {
		t.Fatalf("EncodeRows() error = %v", err)
	}
	return columnar.EncodePortable(buf)
}

func TestLoadToTableOrdersSteps(t *testing.T) {
	conn := &fakeConnector{}
	count, err := LoadToTable(context.Background(), conn, portableRows(t, 3), "events", TableOptions{CreateView: true})
	if err != nil {
		t.Fatalf("LoadToTable() error = %v", err)
	}
	if count != 3 {
		t.Fatalf("count = %d", count)
	}
	want := []string{
		`exec DROP TABLE IF EXISTS "events"`,
		"insert events",
		`exec CREATE OR REPLACE VIEW "events_view" AS SELECT * FROM "events"`,
		"refresh",
	}
	if strings.Join(conn.log, "\n") != strings.Join(want, "\n") {
		t.Fatalf("log = %#v", conn.log)
	}
}

func TestLoadToTableKeepExistingSkipsDrop(t *testing.T) {
	conn := &fakeConnector{}
	if _, err := LoadToTable(context.Background(), conn, portableRows(t, 1), "events", TableOptions{KeepExisting: true}); err != nil {
		t.Fatalf("LoadToTable() error = %v", err)
	}
	if len(conn.log) != 2 || conn.log[0] != "insert events" || conn.log[1] != "refresh" {
		t.Fatalf("log = %#v", conn.log)
	}
}

func TestLoadToTableCustomView(t *testing.T) {
	conn := &fakeConnector{}
	opts := TableOptions{CreateView: true, ViewName: "recent", ViewSQL: "SELECT id FROM events WHERE id > 1"}
	if _, err := LoadToTable(context.Background(), conn, portableRows(t, 2), "events", opts); err != nil {
		t.Fatalf("LoadToTable() error = %v", err)
	}
	if conn.log[2] != `exec CREATE OR REPLACE VIEW "recent" AS SELECT id FROM events WHERE id > 1` {
		t.Fatalf("view statement = %q", conn.log[2])
	}
}

func TestLoadToTableRejectsMalformedPortableText(t *testing.T) {
	conn := &fakeConnector{}
	_, err := LoadToTable(context.Background(), conn, "%%% not base64 %%%", "events", TableOptions{})
	var decodeErr *columnar.DecodeError
	if !errors.As(err, &decodeErr) {
		t.Fatalf("error = %v, want *columnar.DecodeError", err)
	}
	for _, entry := range conn.log {
		if strings.HasPrefix(entry, "insert") || entry == "refresh" {
			t.Fatalf("unexpected step after decode failure: %#v", conn.log)
		}
	}
}

func TestLoadToTableRequiresName(t *testing.T) {
	if _, err := LoadToTable(context.Background(), &fakeConnector{}, portableRows(t, 1), "  ", TableOptions{}); err == nil {
		t.Fatal("expected error for blank table name")
	}
}

func TestLoadTablesReturnsCountsAfterSingleRefresh(t *testing.T) {
	conn := &fakeConnector{}
	counts, err := LoadTables(context.Background(), conn, []TableSpec{
		{Table: "a", Portable: portableRows(t, 1)},
		{Table: "b", Portable: portableRows(t, 4)},
		{Table: "c", Portable: portableRows(t, 0)},
	})
	if err != nil {
		t.Fatalf("LoadTables() error = %v", err)
	}
	if counts["a"] != 1 || counts["b"] != 4 || counts["c"] != 0 || len(counts) != 3 {
		t.Fatalf("counts = %#v", counts)
	}
	if conn.refreshes != 1 || conn.log[len(conn.log)-1] != "refresh" {
		t.Fatalf("refreshes = %d log = %#v", conn.refreshes, conn.log)
	}
}

func TestLoadTablesCollectsEveryFailure(t *testing.T) {
	conn := &fakeConnector{insertErr: map[string]error{
		"a": errors.New("disk full"),
		"c": errors.New("constraint violated"),
	}}
	counts, err := LoadTables(context.Background(), conn, []TableSpec{
		{Table: "a", Portable: portableRows(t, 1)},
		{Table: "b", Portable: portableRows(t, 2)},
		{Table: "c", Portable: portableRows(t, 3)},
	})
	if counts != nil {
		t.Fatalf("counts = %#v, want none on failure", counts)
	}
	var batchErr *BatchError
	if !errors.As(err, &batchErr) {
		t.Fatalf("error = %v, want *BatchError", err)
	}
	if len(batchErr.Failures) != 2 {
		t.Fatalf("failures = %#v", batchErr.Failures)
	}
	if !strings.Contains(err.Error(), "a: insert into") || !strings.Contains(err.Error(), "c: insert into") {
		t.Fatalf("error text = %q", err.Error())
	}

	inserted := 0
	for _, entry := range conn.log {
		if strings.HasPrefix(entry, "insert") {
			inserted++
		}
	}
	if inserted != 3 {
		t.Fatalf("inserts attempted = %d, want every load to run", inserted)
	}
	if conn.refreshes != 1 {
		t.Fatalf("refreshes = %d", conn.refreshes)
	}
}

func TestLoadTablesRejectsDuplicateTables(t *testing.T) {
	conn := &fakeConnector{}
	_, err := LoadTables(context.Background(), conn, []TableSpec{
		{Table: "a", Portable: portableRows(t, 1)},
		{Table: "a", Portable: portableRows(t, 1)},
	})
	if err == nil {
		t.Fatal("expected error for duplicate table")
	}
	if len(conn.log) != 0 {
		t.Fatalf("log = %#v", conn.log)
	}
}

func TestLoadTablesReportsRefreshFailure(t *testing.T) {
	conn := &fakeConnector{refreshErr: errors.New("catalog locked")}
	if _, err := LoadTables(context.Background(), conn, []TableSpec{{Table: "a", Portable: portableRows(t, 1)}}); err == nil {
		t.Fatal("expected refresh error")
	}
}

func TestQuoteIdent(t *testing.T) {
	if got := QuoteIdent(`we"ird`); got != `"we""ird"` {
		t.Fatalf("QuoteIdent() = %s", got)
	}
}
