package api

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/bqbridge/bqbridge/internal/apierror"
	"github.com/bqbridge/bqbridge/internal/columnar"
	"github.com/bqbridge/bqbridge/internal/config"
	"github.com/bqbridge/bqbridge/internal/jsonvalue"
	"github.com/bqbridge/bqbridge/internal/observability"
	"github.com/bqbridge/bqbridge/internal/query"
	"github.com/bqbridge/bqbridge/internal/wire"
)

const defaultMaxBodyBytes = 1 << 20

func handleQuery(cfg config.Config, deps Dependencies, w http.ResponseWriter, r *http.Request) {
	request, ok := admitQuery(cfg, deps, w, r)
	if !ok {
		return
	}
	result, err := deps.Gateway.ExecuteRows(r.Context(), request.SQL, queryOptions(request))
	if err != nil {
		writeError(deps, w, r, err)
		return
	}
	rows := result.Rows
	if rows == nil {
		rows = []columnar.Row{}
	}
	writeJSON(w, http.StatusOK, wire.QueryResponse{
		Rows:                rows,
		RowCount:            len(rows),
		TotalBytesProcessed: wire.FormatBytes(result.TotalBytesProcessed),
		CacheHit:            result.CacheHit,
	})
}

func handleQueryArrow(cfg config.Config, deps Dependencies, w http.ResponseWriter, r *http.Request) {
	request, ok := admitQuery(cfg, deps, w, r)
	if !ok {
		return
	}
	result, err := deps.Gateway.ExecuteColumnar(r.Context(), request.SQL, queryOptions(request))
	if err != nil {
		writeError(deps, w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, wire.ArrowQueryResponse{
		Data:                columnar.EncodePortable(result.Data),
		RowCount:            result.RowCount,
		TotalBytesProcessed: wire.FormatBytes(result.TotalBytesProcessed),
		CacheHit:            result.CacheHit,
	})
}

func handleQueryArrowBinary(cfg config.Config, deps Dependencies, w http.ResponseWriter, r *http.Request) {
	request, ok := admitQuery(cfg, deps, w, r)
	if !ok {
		return
	}
	result, err := deps.Gateway.ExecuteColumnar(r.Context(), request.SQL, queryOptions(request))
	if err != nil {
		writeError(deps, w, r, err)
		return
	}
	w.Header().Set("Content-Type", columnar.ContentType)
	w.Header().Set("Content-Length", strconv.Itoa(len(result.Data)))
	w.Header().Set(wire.HeaderRowCount, strconv.Itoa(result.RowCount))
	if bytes := wire.FormatBytes(result.TotalBytesProcessed); bytes != "" {
		w.Header().Set(wire.HeaderTotalBytesProcessed, bytes)
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(result.Data)
}

func handleValidate(cfg config.Config, deps Dependencies, w http.ResponseWriter, r *http.Request) {
	if !gatewayConfigured(deps, w, r) {
		return
	}
	doc, err := decodeBody(cfg, w, r)
	if err != nil {
		writeError(deps, w, r, err)
		return
	}
	request, violations := wire.ParseValidateRequest(doc)
	if violations != nil {
		writeError(deps, w, r, apierror.RequestShape(violations))
		return
	}
	if err := authorize(r.Context(), deps, request.SQL, request.Params); err != nil {
		writeError(deps, w, r, err)
		return
	}

	result := deps.Gateway.Validate(r.Context(), request.SQL, query.Options{Params: request.Params})
	response := wire.ValidationResponse{
		Valid:               result.Valid,
		Error:               result.Error,
		TotalBytesProcessed: wire.FormatBytes(result.TotalBytesProcessed),
	}
	for _, field := range result.Schema {
		response.Schema = append(response.Schema, wire.SchemaField{Name: field.Name, Type: field.Type, Mode: field.Mode})
	}
	writeJSON(w, http.StatusOK, response)
}

// admitQuery runs the shared front half of the query routes: body decode,
// shape validation, then authorization. It writes the error response itself
// and reports false when the request must not reach the gateway.
func admitQuery(cfg config.Config, deps Dependencies, w http.ResponseWriter, r *http.Request) (wire.QueryRequest, bool) {
	if !gatewayConfigured(deps, w, r) {
		return wire.QueryRequest{}, false
	}
	doc, err := decodeBody(cfg, w, r)
	if err != nil {
		writeError(deps, w, r, err)
		return wire.QueryRequest{}, false
	}
	request, violations := wire.ParseQueryRequest(doc)
	if violations != nil {
		writeError(deps, w, r, apierror.RequestShape(violations))
		return wire.QueryRequest{}, false
	}
	if err := authorize(r.Context(), deps, request.SQL, request.Params); err != nil {
		writeError(deps, w, r, err)
		return wire.QueryRequest{}, false
	}
	return request, true
}

func gatewayConfigured(deps Dependencies, w http.ResponseWriter, r *http.Request) bool {
	if deps.Gateway != nil {
		return true
	}
	writeError(deps, w, r, apierror.NotConfigured())
	return false
}

func decodeBody(cfg config.Config, w http.ResponseWriter, r *http.Request) (any, error) {
	limit := int64(cfg.HTTP.MaxBodyBytes)
	if limit <= 0 {
		limit = defaultMaxBodyBytes
	}
	body := http.MaxBytesReader(w, r.Body, limit)
	doc, err := jsonvalue.Decode(body)
	if err != nil {
		return nil, apierror.MalformedBody(err)
	}
	return doc, nil
}

func authorize(ctx context.Context, deps Dependencies, sql string, params map[string]any) error {
	allowed, err := deps.Authorizer.Authorize(ctx, sql, params)
	if err != nil {
		return fmt.Errorf("authorize query: %w", err)
	}
	if !allowed {
		observability.IncrementAuthorizationDenied()
		return apierror.Authorization("")
	}
	return nil
}

func queryOptions(request wire.QueryRequest) query.Options {
	return query.Options{
		Params:     request.Params,
		MaxResults: request.MaxResults,
		Timeout:    time.Duration(request.TimeoutMs) * time.Millisecond,
	}
}

func writeError(deps Dependencies, w http.ResponseWriter, r *http.Request, err error) {
	status, envelope := apierror.Translate(r.Context(), deps.Logger, err)
	writeJSON(w, status, envelope)
}
