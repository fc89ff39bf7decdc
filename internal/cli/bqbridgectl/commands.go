package bqbridgectl

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/bqbridge/bqbridge/internal/client"
	"github.com/bqbridge/bqbridge/internal/columnar"
	"github.com/bqbridge/bqbridge/internal/loader"
	"github.com/bqbridge/bqbridge/internal/session"
	"github.com/bqbridge/bqbridge/internal/storage"
	"github.com/bqbridge/bqbridge/internal/wire"
)

const defaultResultTable = "result"

type runner struct {
	options Options
	stdout  io.Writer
	client  *client.Client
}

type fetchSummary struct {
	RowCount            int    `json:"rowCount"`
	TotalBytesProcessed string `json:"totalBytesProcessed,omitempty"`
	Bytes               int    `json:"bytes"`
	Location            string `json:"location"`
}

type loadSummary struct {
	RowCounts map[string]int `json:"rowCounts"`
	Tables    []string       `json:"tables"`
}

func (r *runner) health(ctx context.Context) error {
	status, err := r.client.Health(ctx)
	if err != nil {
		return err
	}
	return writeJSON(r.stdout, status)
}

func (r *runner) ready(ctx context.Context) error {
	status, err := r.client.Ready(ctx)
	if err != nil {
		return err
	}
	return writeJSON(r.stdout, status)
}

func (r *runner) query(ctx context.Context, f flags) error {
	request, err := queryRequest(f)
	if err != nil {
		return err
	}
	response, err := r.client.Query(ctx, request)
	if err != nil {
		return err
	}
	return writeJSON(r.stdout, response)
}

func (r *runner) validate(ctx context.Context, f flags) error {
	if strings.TrimSpace(f.sql) == "" {
		return usageError("validate requires -sql")
	}
	response, err := r.client.Validate(ctx, wire.ValidateRequest{SQL: f.sql, Params: f.params})
	if err != nil {
		return err
	}
	if err := writeJSON(r.stdout, response); err != nil {
		return err
	}
	if !response.Valid {
		return fmt.Errorf("query is invalid: %s", response.Error)
	}
	return nil
}

func (r *runner) fetch(ctx context.Context, f flags) error {
	request, err := queryRequest(f)
	if err != nil {
		return err
	}
	if strings.TrimSpace(f.out) == "" {
		return usageError("fetch requires -out")
	}
	result, err := r.client.QueryArrowBinary(ctx, request)
	if err != nil {
		return err
	}

	location, err := r.writeResult(ctx, f, result.Data)
	if err != nil {
		return err
	}
	return writeJSON(r.stdout, fetchSummary{
		RowCount:            result.RowCount,
		TotalBytesProcessed: wire.FormatBytes(result.TotalBytesProcessed),
		Bytes:               len(result.Data),
		Location:            location,
	})
}

func (r *runner) writeResult(ctx context.Context, f flags, buf []byte) (string, error) {
	if !storage.IsObjectURI(f.out) {
		if err := os.WriteFile(f.out, buf, 0o644); err != nil {
			return "", fmt.Errorf("write %s: %w", f.out, err)
		}
		return f.out, nil
	}

	loc, err := storage.ParseLocation(f.out)
	if err != nil {
		return "", usageError(err.Error())
	}
	if loc.IsDir() {
		key, err := storage.BuildResultKey(loc.Key, firstNonEmpty(f.table, defaultResultTable), r.options.Now())
		if err != nil {
			return "", usageError(err.Error())
		}
		loc.Key = key
	}
	store, err := r.openStore(ctx, loc)
	if err != nil {
		return "", err
	}
	if _, err := storage.WriteBuffer(ctx, store, loc.Key, buf, columnar.ContentType); err != nil {
		return "", fmt.Errorf("write %s: %w", loc, err)
	}
	return loc.String(), nil
}

// load has three modes. Without -in the query runs through the API; with
// -table and -in one buffer is loaded; with only -in every table=source
// pair is loaded concurrently.
func (r *runner) load(ctx context.Context, f flags) error {
	sources, err := r.loadPlan(f)
	if err != nil {
		return err
	}

	openLocalDB := r.options.OpenLocalDB
	if openLocalDB == nil {
		openLocalDB = defaultOpenLocalDB
	}
	db, err := openLocalDB(f.db)
	if err != nil {
		return fmt.Errorf("open local database: %w", err)
	}
	defer func() { _ = db.Close() }()

	tableOptions := loader.TableOptions{
		KeepExisting: f.keepExisting,
		CreateView:   f.createView,
		ViewSQL:      f.viewSQL,
	}

	counts := map[string]int{}
	switch {
	case sources == nil:
		s := session.New(r.client, db)
		count, err := s.QueryToTable(ctx, f.sql, f.table, session.TableOptions{
			Params:       f.params,
			MaxResults:   f.maxResults,
			TimeoutMs:    f.timeoutMs,
			KeepExisting: f.keepExisting,
			CreateView:   f.createView,
			ViewSQL:      f.viewSQL,
		})
		if err != nil {
			return err
		}
		counts[f.table] = count
	case len(sources) == 1:
		buf, err := r.readSource(ctx, sources[0].location)
		if err != nil {
			return err
		}
		count, err := loader.LoadToTable(ctx, db, columnar.EncodePortable(buf), sources[0].table, tableOptions)
		if err != nil {
			return err
		}
		counts[sources[0].table] = count
	default:
		specs := make([]loader.TableSpec, 0, len(sources))
		for _, source := range sources {
			buf, err := r.readSource(ctx, source.location)
			if err != nil {
				return err
			}
			specs = append(specs, loader.TableSpec{
				Table:    source.table,
				Portable: columnar.EncodePortable(buf),
				Options:  tableOptions,
			})
		}
		if counts, err = loader.LoadTables(ctx, db, specs); err != nil {
			return err
		}
	}

	return writeJSON(r.stdout, loadSummary{RowCounts: counts, Tables: db.TableNames()})
}

type loadSource struct {
	table    string
	location string
}

// loadPlan returns no sources for a load through the API.
func (r *runner) loadPlan(f flags) ([]loadSource, error) {
	in := strings.TrimSpace(f.in)
	table := strings.TrimSpace(f.table)
	switch {
	case in == "":
		if table == "" {
			return nil, usageError("load requires -table")
		}
		if strings.TrimSpace(f.sql) == "" {
			return nil, usageError("load requires -sql or -in")
		}
		return nil, nil
	case table != "":
		return []loadSource{{table: table, location: in}}, nil
	}

	var sources []loadSource
	for _, entry := range strings.Split(in, ",") {
		name, location, ok := strings.Cut(strings.TrimSpace(entry), "=")
		name, location = strings.TrimSpace(name), strings.TrimSpace(location)
		if !ok || name == "" || location == "" {
			return nil, usageError(fmt.Sprintf("invalid -in entry %q, want table=source", entry))
		}
		sources = append(sources, loadSource{table: name, location: location})
	}
	return sources, nil
}

func (r *runner) readSource(ctx context.Context, source string) ([]byte, error) {
	if !storage.IsObjectURI(source) {
		buf, err := os.ReadFile(source)
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", source, err)
		}
		return buf, nil
	}
	loc, err := storage.ParseLocation(source)
	if err != nil {
		return nil, usageError(err.Error())
	}
	if loc.IsDir() {
		return nil, usageError(fmt.Sprintf("%s names a directory, not an object", loc))
	}
	store, err := r.openStore(ctx, loc)
	if err != nil {
		return nil, err
	}
	buf, err := storage.ReadBuffer(ctx, store, loc.Key)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", loc, err)
	}
	return buf, nil
}

func (r *runner) openStore(ctx context.Context, loc storage.Location) (storage.ObjectStore, error) {
	open := r.options.OpenStore
	if open == nil {
		open = defaultOpenStore(r.options.ObjectStore)
	}
	store, err := open(ctx, loc)
	if err != nil {
		return nil, fmt.Errorf("open object store: %w", err)
	}
	return store, nil
}

func queryRequest(f flags) (wire.QueryRequest, error) {
	if strings.TrimSpace(f.sql) == "" {
		return wire.QueryRequest{}, usageError("-sql is required")
	}
	return wire.QueryRequest{
		SQL:        f.sql,
		Params:     f.params,
		MaxResults: f.maxResults,
		TimeoutMs:  f.timeoutMs,
	}, nil
}
