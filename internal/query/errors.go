package query

import (
	"context"
	"fmt"
	"net/http"
	"time"
)

// RemoteErrorDetail is one sub-error reported by the remote service.
type RemoteErrorDetail struct {
	Reason   string `json:"reason,omitempty"`
	Location string `json:"location,omitempty"`
	Message  string `json:"message,omitempty"`
}

// RemoteError is a failure reported by the remote service. StatusCode is the
// HTTP status the service associated with it.
type RemoteError struct {
	StatusCode int
	Message    string
	Reason     string
	Details    []RemoteErrorDetail
	Err        error
}

func (e *RemoteError) Error() string {
	if e.Message != "" {
		return e.Message
	}
	if e.Err != nil {
		return e.Err.Error()
	}
	return fmt.Sprintf("remote query service returned status %d", e.StatusCode)
}

func (e *RemoteError) Unwrap() error {
	return e.Err
}

// HTTPStatus keeps 404 and 403 from the service and maps everything else to 500.
func (e *RemoteError) HTTPStatus() int {
	switch e.StatusCode {
	case http.StatusNotFound, http.StatusForbidden:
		return e.StatusCode
	default:
		return http.StatusInternalServerError
	}
}

type TimeoutError struct {
	Timeout time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("query exceeded timeout of %s", e.Timeout)
}

func (e *TimeoutError) Unwrap() error {
	return context.DeadlineExceeded
}
