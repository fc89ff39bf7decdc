package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/bqbridge/bqbridge/internal/api"
	"github.com/bqbridge/bqbridge/internal/auth"
	"github.com/bqbridge/bqbridge/internal/authz"
	"github.com/bqbridge/bqbridge/internal/config"
	"github.com/bqbridge/bqbridge/internal/observability"
	"github.com/bqbridge/bqbridge/internal/query"
	"github.com/bqbridge/bqbridge/internal/query/bigquery"
)

const defaultShutdownTimeout = 10 * time.Second

func main() {
	cfg, err := config.LoadFromEnv("bqbridge-api")
	if err != nil {
		slog.Error("failed to load config", slog.Any("error", err))
		os.Exit(1)
	}

	logger := observability.NewLogger(cfg, os.Stdout)

	deps := api.Dependencies{
		Logger:            logger,
		Authorizer:        buildAuthorizer(cfg),
		DependencyTimeout: time.Second,
	}
	if strings.TrimSpace(cfg.BigQuery.ProjectID) != "" {
		backend, err := bigquery.New(context.Background(), bigquery.Config{
			ProjectID:       cfg.BigQuery.ProjectID,
			Location:        cfg.BigQuery.Location,
			CredentialsFile: cfg.BigQuery.CredentialsFile,
		})
		if err != nil {
			logger.Error("failed to initialize bigquery client", slog.Any("error", err))
			os.Exit(1)
		}
		defer func() { _ = backend.Close() }()
		deps.Gateway = query.NewGateway(backend, query.Config{
			DefaultTimeout: cfg.Gateway.DefaultTimeout,
			UseLegacySQL:   cfg.BigQuery.UseLegacySQL,
		}, logger)
	} else {
		logger.Warn("bigquery project id is not configured; query routes will return 501")
	}

	if cfg.Auth.Required {
		validator, err := buildValidator(cfg)
		if err != nil {
			logger.Error("failed to configure authentication", slog.Any("error", err))
			os.Exit(1)
		}
		deps.AuthMiddleware = auth.Middleware(logger, validator)
	}

	handler := api.NewHandler(cfg, deps)
	server := &http.Server{
		Addr:         cfg.HTTP.Address,
		Handler:      handler,
		ReadTimeout:  cfg.HTTP.ReadTimeout,
		WriteTimeout: cfg.HTTP.WriteTimeout,
		IdleTimeout:  cfg.HTTP.IdleTimeout,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go func() {
		logger.Info("starting api server",
			slog.String("addr", cfg.HTTP.Address),
			slog.String("route_prefix", cfg.HTTP.RoutePrefix),
			slog.String("authz_policy", cfg.Authz.Policy),
		)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("api server failed", slog.Any("error", err))
			stop()
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout(cfg))
	defer cancel()

	logger.Info("shutting down api server")
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown failed", slog.Any("error", err))
		_ = server.Close()
		os.Exit(1)
	}
}

func shutdownTimeout(cfg config.Config) time.Duration {
	if cfg.HTTP.ShutdownTimeout <= 0 {
		return defaultShutdownTimeout
	}
	return cfg.HTTP.ShutdownTimeout
}

func buildAuthorizer(cfg config.Config) authz.Authorizer {
	var authorizers []authz.Authorizer
	if cfg.Authz.Policy == config.AuthzPolicyKeywords {
		authorizers = append(authorizers, authz.NewKeywordBlocker(cfg.Authz.BlockedKeywords...))
	}
	if role := strings.TrimSpace(cfg.Authz.RequiredRole); role != "" {
		authorizers = append(authorizers, authz.RequireRole(role))
	}
	if len(authorizers) == 0 {
		return authz.AllowAll
	}
	return authz.All(authorizers...)
}

func buildValidator(cfg config.Config) (auth.CredentialValidator, error) {
	var validators []auth.CredentialValidator
	if strings.TrimSpace(cfg.Auth.StaticKeys) != "" {
		static, err := auth.NewStaticAPIKeyValidator(cfg.Auth.StaticKeys)
		if err != nil {
			return nil, fmt.Errorf("parse static auth keys: %w", err)
		}
		validators = append(validators, static)
	}
	if strings.TrimSpace(cfg.Auth.JWTSecret) != "" {
		jwtValidator, err := auth.NewJWTValidator(cfg.Auth.JWTSecret, cfg.Auth.JWTIssuer)
		if err != nil {
			return nil, fmt.Errorf("configure jwt validator: %w", err)
		}
		validators = append(validators, jwtValidator)
	}
	if len(validators) == 0 {
		return nil, errors.New("auth is required but no static keys or jwt secret are configured")
	}
	return auth.AnyOf(validators...), nil
}
