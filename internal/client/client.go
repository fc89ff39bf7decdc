// Package client calls the gateway's HTTP routes.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/bqbridge/bqbridge/internal/observability"
	"github.com/bqbridge/bqbridge/internal/wire"
)

const DefaultRoutePrefix = "/v1/bigquery"

type Options struct {
	BaseURL     string
	RoutePrefix string
	APIKey      string
	BearerToken string
	Timeout     time.Duration
	HTTPClient  *http.Client
}

type Client struct {
	baseURL     string
	routePrefix string
	apiKey      string
	bearerToken string
	http        *http.Client
}

func New(opts Options) *Client {
	httpClient := opts.HTTPClient
	if httpClient == nil {
		timeout := opts.Timeout
		if timeout <= 0 {
			timeout = 5 * time.Minute
		}
		httpClient = &http.Client{Timeout: timeout}
	}
	prefix := strings.TrimRight(strings.TrimSpace(opts.RoutePrefix), "/")
	if prefix == "" {
		prefix = DefaultRoutePrefix
	}
	return &Client{
		baseURL:     strings.TrimRight(strings.TrimSpace(opts.BaseURL), "/"),
		routePrefix: prefix,
		apiKey:      strings.TrimSpace(opts.APIKey),
		bearerToken: strings.TrimSpace(opts.BearerToken),
		http:        httpClient,
	}
}

// APIError is a non-2xx response. Message comes from the error envelope
// when the server sent one.
type APIError struct {
	Status  int
	Code    string
	Message string
	Details any
}

func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("%s (%s)", e.Message, e.Code)
	}
	return e.Message
}

// BinaryResult is the raw columnar response of QueryArrowBinary.
type BinaryResult struct {
	Data                []byte
	RowCount            int
	TotalBytesProcessed *int64
}

func (c *Client) Query(ctx context.Context, request wire.QueryRequest) (wire.QueryResponse, error) {
	var response wire.QueryResponse
	err := c.postJSON(ctx, "/query", request, &response)
	return response, err
}

func (c *Client) QueryArrow(ctx context.Context, request wire.QueryRequest) (wire.ArrowQueryResponse, error) {
	var response wire.ArrowQueryResponse
	err := c.postJSON(ctx, "/query/arrow", request, &response)
	return response, err
}

func (c *Client) QueryArrowBinary(ctx context.Context, request wire.QueryRequest) (BinaryResult, error) {
	resp, err := c.post(ctx, "/query/arrow/binary", request)
	if err != nil {
		return BinaryResult{}, err
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return BinaryResult{}, fmt.Errorf("read response body: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return BinaryResult{}, apiError(resp, body)
	}

	result := BinaryResult{Data: body}
	if raw := resp.Header.Get(wire.HeaderRowCount); raw != "" {
		if result.RowCount, err = strconv.Atoi(raw); err != nil {
			return BinaryResult{}, fmt.Errorf("parse %s header: %w", wire.HeaderRowCount, err)
		}
	}
	if result.TotalBytesProcessed, err = wire.ParseBytes(resp.Header.Get(wire.HeaderTotalBytesProcessed)); err != nil {
		return BinaryResult{}, fmt.Errorf("parse %s header: %w", wire.HeaderTotalBytesProcessed, err)
	}
	return result, nil
}

func (c *Client) Validate(ctx context.Context, request wire.ValidateRequest) (wire.ValidationResponse, error) {
	var response wire.ValidationResponse
	err := c.postJSON(ctx, "/validate", request, &response)
	return response, err
}

func (c *Client) Health(ctx context.Context) (map[string]any, error) {
	return c.getStatus(ctx, "/v1/health")
}

func (c *Client) Ready(ctx context.Context) (map[string]any, error) {
	return c.getStatus(ctx, "/v1/ready")
}

func (c *Client) getStatus(ctx context.Context, path string) (map[string]any, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return nil, err
	}
	var status map[string]any
	if err := c.do(req, &status); err != nil {
		return nil, err
	}
	return status, nil
}

func (c *Client) postJSON(ctx context.Context, route string, payload, out any) error {
	resp, err := c.post(ctx, route, payload)
	if err != nil {
		return err
	}
	return decodeResponse(resp, out)
}

func (c *Client) post(ctx context.Context, route string, payload any) (*http.Response, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("encode request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+c.routePrefix+route, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	return c.send(req)
}

func (c *Client) do(req *http.Request, out any) error {
	resp, err := c.send(req)
	if err != nil {
		return err
	}
	return decodeResponse(resp, out)
}

func (c *Client) send(req *http.Request) (*http.Response, error) {
	if c.apiKey != "" {
		req.Header.Set("X-API-Key", c.apiKey)
	}
	if c.bearerToken != "" {
		req.Header.Set("Authorization", "Bearer "+c.bearerToken)
	}
	if traceID := observability.TraceIDFromContext(req.Context()); traceID != "" {
		req.Header.Set(observability.TraceHeader, traceID)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s %s: %w", req.Method, req.URL.Path, err)
	}
	return resp, nil
}

func decodeResponse(resp *http.Response, out any) error {
	defer func() { _ = resp.Body.Close() }()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response body: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return apiError(resp, body)
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

func apiError(resp *http.Response, body []byte) *APIError {
	apiErr := &APIError{Status: resp.StatusCode}
	var envelope wire.ErrorEnvelope
	if err := json.Unmarshal(body, &envelope); err == nil {
		apiErr.Code = envelope.Code
		apiErr.Message = envelope.Error
		apiErr.Details = envelope.Details
	}
	if apiErr.Message == "" {
		apiErr.Message = fmt.Sprintf("HTTP %d: %s", resp.StatusCode, http.StatusText(resp.StatusCode))
	}
	return apiErr
}
