// Package apierror classifies failures into the uniform error envelope
// returned by every gateway route.
package apierror

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/bqbridge/bqbridge/internal/observability"
	"github.com/bqbridge/bqbridge/internal/query"
	"github.com/bqbridge/bqbridge/internal/validate"
	"github.com/bqbridge/bqbridge/internal/wire"
)

type Kind string

const (
	KindRequestShape    Kind = "request_shape"
	KindAuthorization   Kind = "authorization"
	KindValidation      Kind = "validation"
	KindTimeout         Kind = "timeout"
	KindRemoteService   Kind = "remote_service"
	KindUnauthenticated Kind = "unauthenticated"
	KindNotConfigured   Kind = "not_configured"
	KindAuthMissing     Kind = "auth_missing"
	KindGeneric         Kind = "generic"
)

const (
	CodeValidation      = "VALIDATION_ERROR"
	CodeAuthorization   = "AUTHORIZATION_ERROR"
	CodeTimeout         = "TIMEOUT_ERROR"
	CodeBigQuery        = "BIGQUERY_ERROR"
	CodeInternal        = "INTERNAL_ERROR"
	CodeUnauthenticated = "UNAUTHENTICATED"
	CodeNotConfigured   = "QUERY_NOT_CONFIGURED"
	CodeAuthMissing     = "AUTH_MIDDLEWARE_MISSING"
)

const (
	invalidBodyMessage     = "Invalid request body"
	notAuthorizedMessage   = "Query not authorized"
	internalFailureMessage = "Internal server error"
)

// Error is a failure raised by the transport layer itself.
type Error struct {
	Kind    Kind
	Message string
	Details any
	Err     error
}

func (e *Error) Error() string {
	if e.Message != "" {
		return e.Message
	}
	if e.Err != nil {
		return e.Err.Error()
	}
	return string(e.Kind)
}

func (e *Error) Unwrap() error {
	return e.Err
}

func RequestShape(violations []validate.Violation) *Error {
	return &Error{Kind: KindRequestShape, Message: invalidBodyMessage, Details: violations}
}

// MalformedBody reports a body that is not JSON at all.
func MalformedBody(err error) *Error {
	return &Error{
		Kind:    KindRequestShape,
		Message: invalidBodyMessage,
		Details: []validate.Violation{{Code: "invalid_json", Path: []string{}, Message: err.Error()}},
		Err:     err,
	}
}

func Authorization(message string) *Error {
	if message == "" {
		message = notAuthorizedMessage
	}
	return &Error{Kind: KindAuthorization, Message: message}
}

func Unauthenticated(message string) *Error {
	return &Error{Kind: KindUnauthenticated, Message: message}
}

// NotConfigured reports a query route served without a gateway.
func NotConfigured() *Error {
	return &Error{Kind: KindNotConfigured, Message: "query dependencies are not configured"}
}

// AuthMissing reports that auth is required but no middleware was supplied.
func AuthMissing() *Error {
	return &Error{Kind: KindAuthMissing, Message: "auth middleware is required by configuration"}
}

func Validation(message string, details any) *Error {
	return &Error{Kind: KindValidation, Message: message, Details: details}
}

// Translate maps err to a status code and envelope. The first matching rule
// wins. It emits exactly one log record and never fails.
func Translate(ctx context.Context, logger *slog.Logger, err error) (int, wire.ErrorEnvelope) {
	status, envelope := classify(err)

	observability.IncrementAPIError(envelope.Code)
	if logger != nil {
		level := slog.LevelWarn
		if status >= http.StatusInternalServerError {
			level = slog.LevelError
		}
		cause := "<nil>"
		if err != nil {
			cause = err.Error()
		}
		logger.Log(ctx, level, "api_error",
			slog.String("trace_id", observability.TraceIDFromContext(ctx)),
			slog.String("code", envelope.Code),
			slog.Int("status", status),
			slog.String("error", cause),
		)
	}
	return status, envelope
}

func classify(err error) (int, wire.ErrorEnvelope) {
	var apiErr *Error
	if errors.As(err, &apiErr) {
		switch apiErr.Kind {
		case KindRequestShape:
			return http.StatusBadRequest, wire.ErrorEnvelope{Error: apiErr.Error(), Code: CodeValidation, Details: apiErr.Details}
		case KindAuthorization:
			return http.StatusForbidden, wire.ErrorEnvelope{Error: apiErr.Error(), Code: CodeAuthorization, Details: apiErr.Details}
		case KindValidation:
			return http.StatusBadRequest, wire.ErrorEnvelope{Error: apiErr.Error(), Code: CodeValidation, Details: apiErr.Details}
		case KindTimeout:
			return http.StatusGatewayTimeout, wire.ErrorEnvelope{Error: apiErr.Error(), Code: CodeTimeout, Details: apiErr.Details}
		case KindUnauthenticated:
			return http.StatusUnauthorized, wire.ErrorEnvelope{Error: apiErr.Error(), Code: CodeUnauthenticated}
		case KindNotConfigured:
			return http.StatusNotImplemented, wire.ErrorEnvelope{Error: apiErr.Error(), Code: CodeNotConfigured}
		case KindAuthMissing:
			return http.StatusInternalServerError, wire.ErrorEnvelope{Error: apiErr.Error(), Code: CodeAuthMissing}
		}
	}

	var timeoutErr *query.TimeoutError
	if errors.As(err, &timeoutErr) {
		return http.StatusGatewayTimeout, wire.ErrorEnvelope{
			Error:   timeoutErr.Error(),
			Code:    CodeTimeout,
			Details: map[string]any{"timeoutMs": timeoutErr.Timeout.Milliseconds()},
		}
	}

	var remoteErr *query.RemoteError
	if errors.As(err, &remoteErr) {
		envelope := wire.ErrorEnvelope{Error: remoteErr.Error(), Code: CodeBigQuery}
		if len(remoteErr.Details) > 0 {
			envelope.Details = remoteErr.Details
		}
		return remoteErr.HTTPStatus(), envelope
	}

	message := internalFailureMessage
	if err != nil && err.Error() != "" {
		message = err.Error()
	}
	return http.StatusInternalServerError, wire.ErrorEnvelope{Error: message, Code: CodeInternal}
}
