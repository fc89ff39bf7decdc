package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/bqbridge/bqbridge/internal/apierror"
	"github.com/bqbridge/bqbridge/internal/authz"
	"github.com/bqbridge/bqbridge/internal/config"
	"github.com/bqbridge/bqbridge/internal/observability"
	"github.com/bqbridge/bqbridge/internal/query"
	"github.com/bqbridge/bqbridge/internal/wire"
)

const codeNotReady = "NOT_READY"

type ReadinessCheck func(ctx context.Context) error

// QueryGateway is the subset of *query.Gateway the routes depend on.
type QueryGateway interface {
	ExecuteRows(ctx context.Context, sql string, opts query.Options) (query.Result, error)
	ExecuteColumnar(ctx context.Context, sql string, opts query.Options) (query.ColumnarResult, error)
	Validate(ctx context.Context, sql string, opts query.Options) query.ValidationResult
}

type Dependencies struct {
	Logger            *slog.Logger
	Readiness         ReadinessCheck
	AuthMiddleware    func(http.Handler) http.Handler
	DependencyTimeout time.Duration
	Gateway           QueryGateway
	Authorizer        authz.Authorizer
}

// NewHandler builds the HTTP surface: the four query routes under
// cfg.HTTP.RoutePrefix plus the operational endpoints under /v1.
func NewHandler(cfg config.Config, deps Dependencies) http.Handler {
	if deps.Authorizer == nil {
		deps.Authorizer = authz.AllowAll
	}
	if deps.Readiness == nil {
		deps.Readiness = CheckBigQueryProject(cfg)
	}

	mux := http.NewServeMux()

	mux.HandleFunc("GET /v1/health", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{"status": "ok", "service": cfg.Service.Name})
	})

	mux.HandleFunc("GET /v1/ready", func(w http.ResponseWriter, r *http.Request) {
		timeout := deps.DependencyTimeout
		if timeout <= 0 {
			timeout = 2 * time.Second
		}
		ctx, cancel := context.WithTimeout(r.Context(), timeout)
		defer cancel()
		if err := deps.Readiness(ctx); err != nil {
			writeJSON(w, http.StatusServiceUnavailable, wire.ErrorEnvelope{Error: err.Error(), Code: codeNotReady})
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"status": "ready"})
	})

	mux.Handle("GET /v1/metrics", promhttp.Handler())

	routes := map[string]http.HandlerFunc{
		"POST " + cfg.HTTP.RoutePrefix + "/query": func(w http.ResponseWriter, r *http.Request) {
			handleQuery(cfg, deps, w, r)
		},
		"POST " + cfg.HTTP.RoutePrefix + "/query/arrow": func(w http.ResponseWriter, r *http.Request) {
			handleQueryArrow(cfg, deps, w, r)
		},
		"POST " + cfg.HTTP.RoutePrefix + "/query/arrow/binary": func(w http.ResponseWriter, r *http.Request) {
			handleQueryArrowBinary(cfg, deps, w, r)
		},
		"POST " + cfg.HTTP.RoutePrefix + "/validate": func(w http.ResponseWriter, r *http.Request) {
			handleValidate(cfg, deps, w, r)
		},
	}
	for pattern, handler := range routes {
		mux.Handle(pattern, protect(cfg, deps, handler))
	}

	middlewares := []func(http.Handler) http.Handler{
		observability.TraceMiddleware,
		observability.MetricsMiddleware,
	}
	if deps.Logger != nil {
		middlewares = append(middlewares, observability.LoggingMiddleware(deps.Logger))
	}
	if len(cfg.HTTP.CORSOrigins) > 0 {
		middlewares = append(middlewares, cors.Handler(cors.Options{
			AllowedOrigins: cfg.HTTP.CORSOrigins,
			AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
			AllowedHeaders: []string{"Accept", "Authorization", "Content-Type", "X-API-Key", observability.TraceHeader},
			ExposedHeaders: []string{wire.HeaderRowCount, wire.HeaderTotalBytesProcessed, observability.TraceHeader},
			MaxAge:         300,
		}))
	}
	middlewares = append(middlewares, middleware.Recoverer)
	return chain(mux, middlewares...)
}

func protect(cfg config.Config, deps Dependencies, handler http.Handler) http.Handler {
	if !cfg.Auth.Required {
		return handler
	}
	if deps.AuthMiddleware == nil {
		if deps.Logger != nil {
			deps.Logger.Error("auth required but auth middleware missing")
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			writeError(deps, w, r, apierror.AuthMissing())
		})
	}
	return deps.AuthMiddleware(handler)
}

// CheckBigQueryProject reports not ready until a project id is configured.
func CheckBigQueryProject(cfg config.Config) ReadinessCheck {
	return func(_ context.Context) error {
		if cfg.BigQuery.ProjectID == "" {
			return errors.New("bigquery project id is not configured")
		}
		return nil
	}
}

func CombineReadinessChecks(checks ...ReadinessCheck) ReadinessCheck {
	filtered := make([]ReadinessCheck, 0, len(checks))
	for _, check := range checks {
		if check != nil {
			filtered = append(filtered, check)
		}
	}
	return func(ctx context.Context) error {
		for _, check := range filtered {
			if err := check(ctx); err != nil {
				return err
			}
		}
		return nil
	}
}

func chain(base http.Handler, middlewares ...func(http.Handler) http.Handler) http.Handler {
	wrapped := base
	for i := len(middlewares) - 1; i >= 0; i-- {
		wrapped = middlewares[i](wrapped)
	}
	return wrapped
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
