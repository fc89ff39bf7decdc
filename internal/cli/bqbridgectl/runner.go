package bqbridgectl

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/bqbridge/bqbridge/internal/client"
	"github.com/bqbridge/bqbridge/internal/config"
	"github.com/bqbridge/bqbridge/internal/jsonvalue"
	"github.com/bqbridge/bqbridge/internal/loader"
	"github.com/bqbridge/bqbridge/internal/loader/duckdb"
	"github.com/bqbridge/bqbridge/internal/storage"
	"github.com/bqbridge/bqbridge/internal/storage/s3"
)

// LocalDatabase is the local connector the load command writes into.
type LocalDatabase interface {
	loader.Connector
	TableNames() []string
	Close() error
}

type Options struct {
	BaseURL     string
	RoutePrefix string
	APIKey      string
	BearerToken string
	Timeout     time.Duration
	DBPath      string
	ObjectStore config.ObjectStoreConfig
	HTTPClient  *http.Client
	Stdout      io.Writer
	Stderr      io.Writer

	// OpenStore and OpenLocalDB default to the S3 store and DuckDB.
	OpenStore   func(ctx context.Context, loc storage.Location) (storage.ObjectStore, error)
	OpenLocalDB func(path string) (LocalDatabase, error)
	Now         func() time.Time
}

type flags struct {
	sql          string
	params       map[string]any
	maxResults   int
	timeoutMs    int64
	out          string
	in           string
	db           string
	table        string
	keepExisting bool
	createView   bool
	viewSQL      string
}

func Run(ctx context.Context, args []string, defaults Options) int {
	stdout := defaults.Stdout
	if stdout == nil {
		stdout = io.Discard
	}
	stderr := defaults.Stderr
	if stderr == nil {
		stderr = io.Discard
	}

	fs := flag.NewFlagSet("bqbridgectl", flag.ContinueOnError)
	fs.SetOutput(stderr)

	baseURL := fs.String("base-url", firstNonEmpty(defaults.BaseURL, "http://localhost:8080"), "bqbridge API base URL")
	routePrefix := fs.String("route-prefix", firstNonEmpty(defaults.RoutePrefix, client.DefaultRoutePrefix), "query route prefix")
	apiKey := fs.String("api-key", defaults.APIKey, "API key for authenticated requests")
	bearerToken := fs.String("bearer-token", defaults.BearerToken, "JWT bearer token for authenticated requests")
	timeout := fs.Duration("timeout", durationOr(defaults.Timeout, 5*time.Minute), "HTTP timeout (e.g. 30s)")
	paramsRaw := fs.String("params", "", "query parameters as a JSON object")

	var f flags
	fs.StringVar(&f.sql, "sql", "", "SQL statement")
	fs.IntVar(&f.maxResults, "max-results", 0, "maximum rows to return")
	fs.Int64Var(&f.timeoutMs, "timeout-ms", 0, "remote query timeout in milliseconds")
	fs.StringVar(&f.out, "out", "", "fetch destination: file path or s3://bucket/key (a trailing / generates the key)")
	fs.StringVar(&f.in, "in", "", "load source: file path, s3://bucket/key, or table=source pairs separated by commas")
	fs.StringVar(&f.db, "db", defaults.DBPath, "local DuckDB database file (empty for in-memory)")
	fs.StringVar(&f.table, "table", "", "target table name")
	fs.BoolVar(&f.keepExisting, "keep-existing", false, "append to the table instead of replacing it")
	fs.BoolVar(&f.createView, "create-view", false, "create <table>_view over the loaded table")
	fs.StringVar(&f.viewSQL, "view-sql", "", "SELECT used for the view (implies -create-view)")

	if err := fs.Parse(args); err != nil {
		return 2
	}
	if fs.NArg() < 1 {
		writeUsage(stderr)
		return 2
	}
	if strings.TrimSpace(*paramsRaw) != "" {
		params, err := parseParams(*paramsRaw)
		if err != nil {
			_, _ = fmt.Fprintf(stderr, "invalid -params: %v\n", err)
			return 2
		}
		f.params = params
	}
	if f.viewSQL != "" {
		f.createView = true
	}

	r := &runner{
		options: defaults,
		stdout:  stdout,
		client: client.New(client.Options{
			BaseURL:     *baseURL,
			RoutePrefix: *routePrefix,
			APIKey:      *apiKey,
			BearerToken: *bearerToken,
			Timeout:     *timeout,
			HTTPClient:  defaults.HTTPClient,
		}),
	}
	if r.options.Now == nil {
		r.options.Now = time.Now
	}

	var err error
	switch command := strings.TrimSpace(fs.Arg(0)); command {
	case "health":
		err = r.health(ctx)
	case "ready":
		err = r.ready(ctx)
	case "query":
		err = r.query(ctx, f)
	case "validate":
		err = r.validate(ctx, f)
	case "fetch":
		err = r.fetch(ctx, f)
	case "load":
		err = r.load(ctx, f)
	default:
		_, _ = fmt.Fprintf(stderr, "unknown command %q\n\n", command)
		writeUsage(stderr)
		return 2
	}
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "%v\n", err)
		var usage usageError
		if errors.As(err, &usage) {
			return 2
		}
		return 1
	}
	return 0
}

type usageError string

func (e usageError) Error() string { return string(e) }

func parseParams(raw string) (map[string]any, error) {
	value, err := jsonvalue.Unmarshal([]byte(raw))
	if err != nil {
		return nil, err
	}
	params, ok := value.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("expected a JSON object")
	}
	return params, nil
}

func writeJSON(w io.Writer, value any) error {
	formatted, err := json.MarshalIndent(value, "", "  ")
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(w, string(formatted))
	return err
}

func writeUsage(w io.Writer) {
	_, _ = fmt.Fprintln(w, "usage: bqbridgectl [flags] <command>")
	_, _ = fmt.Fprintln(w, "")
	_, _ = fmt.Fprintln(w, "commands:")
	_, _ = fmt.Fprintln(w, "  health     GET /v1/health")
	_, _ = fmt.Fprintln(w, "  ready      GET /v1/ready")
	_, _ = fmt.Fprintln(w, "  query      run -sql and print rows as JSON")
	_, _ = fmt.Fprintln(w, "  validate   dry-run -sql and print the estimate")
	_, _ = fmt.Fprintln(w, "  fetch      run -sql and write the Arrow stream to -out")
	_, _ = fmt.Fprintln(w, "  load       load -sql results (or -in buffers) into -table in the -db DuckDB file")
}

func firstNonEmpty(a, b string) string {
	if strings.TrimSpace(a) != "" {
		return strings.TrimSpace(a)
	}
	return b
}

func durationOr(v, fallback time.Duration) time.Duration {
	if v > 0 {
		return v
	}
	return fallback
}

func defaultOpenLocalDB(path string) (LocalDatabase, error) {
	return duckdb.Open(path)
}

func defaultOpenStore(cfg config.ObjectStoreConfig) func(ctx context.Context, loc storage.Location) (storage.ObjectStore, error) {
	return func(ctx context.Context, loc storage.Location) (storage.ObjectStore, error) {
		return s3.ForLocation(ctx, cfg, loc)
	}
}
