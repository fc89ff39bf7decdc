package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/bqbridge/bqbridge/internal/cli/bqbridgectl"
	"github.com/bqbridge/bqbridge/internal/config"
)

func main() {
	cfg, err := config.LoadFromEnv("bqbridgectl")
	if err != nil {
		_, _ = fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	timeout := parseDurationWithDefault(strings.TrimSpace(os.Getenv("BQBRIDGE_CLI_TIMEOUT")), 5*time.Minute)
	options := bqbridgectl.Options{
		BaseURL:     envOr("BQBRIDGE_API_URL", "http://localhost:8080"),
		RoutePrefix: cfg.HTTP.RoutePrefix,
		APIKey:      strings.TrimSpace(os.Getenv("BQBRIDGE_API_KEY")),
		BearerToken: strings.TrimSpace(os.Getenv("BQBRIDGE_BEARER_TOKEN")),
		Timeout:     timeout,
		DBPath:      cfg.LocalDB.Path,
		ObjectStore: cfg.ObjectStore,
		Stdout:      os.Stdout,
		Stderr:      os.Stderr,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	code := bqbridgectl.Run(ctx, os.Args[1:], options)
	stop()
	os.Exit(code)
}

func envOr(key, fallback string) string {
	if value := strings.TrimSpace(os.Getenv(key)); value != "" {
		return value
	}
	return fallback
}

func parseDurationWithDefault(raw string, fallback time.Duration) time.Duration {
	if raw == "" {
		return fallback
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil {
		_, _ = fmt.Fprintf(os.Stderr, "invalid BQBRIDGE_CLI_TIMEOUT %q; using %s\n", raw, fallback)
		return fallback
	}
	return parsed
}
