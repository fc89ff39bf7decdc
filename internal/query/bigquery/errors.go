package bigquery

import (
	"context"
	"errors"
	"net/http"

	bq "cloud.google.com/go/bigquery"
	"google.golang.org/api/googleapi"

	"github.com/bqbridge/bqbridge/internal/query"
)

// classify turns client failures into *query.RemoteError. Context errors
// pass through so the gateway can tell timeouts from remote failures.
func classify(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return err
	}

	var apiErr *googleapi.Error
	if errors.As(err, &apiErr) {
		remote := &query.RemoteError{
			StatusCode: apiErr.Code,
			Message:    apiErr.Message,
			Err:        err,
		}
		for _, item := range apiErr.Errors {
			if remote.Reason == "" {
				remote.Reason = item.Reason
			}
			remote.Details = append(remote.Details, query.RemoteErrorDetail{
				Reason:  item.Reason,
				Message: item.Message,
			})
		}
		return remote
	}

	var jobErr *bq.Error
	if errors.As(err, &jobErr) {
		return &query.RemoteError{
			StatusCode: statusForReason(jobErr.Reason),
			Message:    jobErr.Message,
			Reason:     jobErr.Reason,
			Details: []query.RemoteErrorDetail{{
				Reason:   jobErr.Reason,
				Location: jobErr.Location,
				Message:  jobErr.Message,
			}},
			Err: err,
		}
	}

	var multi bq.MultiError
	if errors.As(err, &multi) && len(multi) > 0 {
		return classify(multi[0])
	}
	return err
}

// statusForReason follows the reason codes documented for BigQuery job errors.
func statusForReason(reason string) int {
	switch reason {
	case "notFound":
		return http.StatusNotFound
	case "accessDenied":
		return http.StatusForbidden
	case "invalidQuery", "invalid":
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}
