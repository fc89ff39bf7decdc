// Package session tracks client-side query activity against the gateway and
// loads columnar results into a local database.
package session

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"github.com/bqbridge/bqbridge/internal/client"
	"github.com/bqbridge/bqbridge/internal/columnar"
	"github.com/bqbridge/bqbridge/internal/loader"
	"github.com/bqbridge/bqbridge/internal/wire"
)

var ErrLocalDatabaseNotReady = errors.New("local database not ready")

const queryFailedMessage = "Query failed"

// Gateway is the part of *client.Client a session uses.
type Gateway interface {
	Query(ctx context.Context, request wire.QueryRequest) (wire.QueryResponse, error)
	QueryArrow(ctx context.Context, request wire.QueryRequest) (wire.ArrowQueryResponse, error)
	Validate(ctx context.Context, request wire.ValidateRequest) (wire.ValidationResponse, error)
}

// State is an immutable snapshot. LastQueryTime is nil until a load into
// the local database has completed.
type State struct {
	Loading       bool
	Error         string
	LastQueryTime *time.Duration
}

// Update is a partial change to State; nil fields are left as they are.
type Update struct {
	Loading       *bool
	Error         *string
	LastQueryTime *time.Duration
}

func (s State) Apply(update Update) State {
	next := s
	if update.Loading != nil {
		next.Loading = *update.Loading
	}
	if update.Error != nil {
		next.Error = *update.Error
	}
	if update.LastQueryTime != nil {
		elapsed := *update.LastQueryTime
		next.LastQueryTime = &elapsed
	}
	return next
}

type Session struct {
	gateway   Gateway
	connector loader.Connector
	state     atomic.Pointer[State]
	now       func() time.Time
}

// New returns a session. connector may be nil; QueryToTable then fails with
// ErrLocalDatabaseNotReady.
func New(gateway Gateway, connector loader.Connector) *Session {
	s := &Session{gateway: gateway, connector: connector, now: time.Now}
	s.state.Store(&State{})
	return s
}

func (s *Session) State() State {
	return *s.state.Load()
}

func (s *Session) ClearError() {
	s.apply(Update{Error: ptr("")})
}

type TableOptions struct {
	Params       map[string]any
	MaxResults   int
	TimeoutMs    int64
	KeepExisting bool
	CreateView   bool
	ViewName     string
	ViewSQL      string
}

// QueryToTable fetches sql as columnar data and loads it into table. It
// returns the row count reported by the gateway.
func (s *Session) QueryToTable(ctx context.Context, sql, table string, opts TableOptions) (int, error) {
	start := s.now()
	s.begin()

	if s.connector == nil {
		return 0, s.fail(ErrLocalDatabaseNotReady)
	}
	response, err := s.gateway.QueryArrow(ctx, wire.QueryRequest{
		SQL:        sql,
		Params:     opts.Params,
		MaxResults: opts.MaxResults,
		TimeoutMs:  opts.TimeoutMs,
	})
	if err != nil {
		return 0, s.fail(err)
	}
	if _, err := loader.LoadToTable(ctx, s.connector, response.Data, table, loader.TableOptions{
		KeepExisting: opts.KeepExisting,
		CreateView:   opts.CreateView,
		ViewName:     opts.ViewName,
		ViewSQL:      opts.ViewSQL,
	}); err != nil {
		return 0, s.fail(err)
	}

	elapsed := s.now().Sub(start)
	s.apply(Update{Loading: ptr(false), LastQueryTime: &elapsed})
	return response.RowCount, nil
}

func (s *Session) ExecuteQuery(ctx context.Context, sql string, params map[string]any) ([]columnar.Row, error) {
	s.begin()
	response, err := s.gateway.Query(ctx, wire.QueryRequest{SQL: sql, Params: params})
	if err != nil {
		return nil, s.fail(err)
	}
	s.apply(Update{Loading: ptr(false)})
	return response.Rows, nil
}

// ExecuteQueryArrow returns the raw columnar buffer and the row count.
func (s *Session) ExecuteQueryArrow(ctx context.Context, sql string, params map[string]any) ([]byte, int, error) {
	s.begin()
	response, err := s.gateway.QueryArrow(ctx, wire.QueryRequest{SQL: sql, Params: params})
	if err != nil {
		return nil, 0, s.fail(err)
	}
	buf, err := columnar.DecodePortable(response.Data)
	if err != nil {
		return nil, 0, s.fail(err)
	}
	s.apply(Update{Loading: ptr(false)})
	return buf, response.RowCount, nil
}

// Validate dry-runs sql. An invalid statement is a successful call with
// Valid false; only transport failures are recorded as session errors.
func (s *Session) Validate(ctx context.Context, sql string, params map[string]any) (wire.ValidationResponse, error) {
	s.begin()
	response, err := s.gateway.Validate(ctx, wire.ValidateRequest{SQL: sql, Params: params})
	if err != nil {
		return wire.ValidationResponse{}, s.fail(err)
	}
	s.apply(Update{Loading: ptr(false)})
	return response, nil
}

func (s *Session) begin() {
	s.apply(Update{Loading: ptr(true), Error: ptr("")})
}

func (s *Session) fail(err error) error {
	message := err.Error()
	var apiErr *client.APIError
	if errors.As(err, &apiErr) {
		message = apiErr.Message
	}
	if message == "" {
		message = queryFailedMessage
	}
	s.apply(Update{Loading: ptr(false), Error: &message})
	return err
}

// apply swaps in update applied to the current state. Concurrent updates
// retry until one wins; none is lost.
func (s *Session) apply(update Update) State {
	for {
		current := s.state.Load()
		next := current.Apply(update)
		if s.state.CompareAndSwap(current, &next) {
			return next
		}
	}
}

func ptr[T any](value T) *T {
	return &value
}
