package config

import (
	"log/slog"
	"os"
	"path/filepath"
	"reflect"
	"testing"
	"time"
)

func TestLoadDefaultsForDevProfile(t *testing.T) {
	cfg, err := Load("bqbridge-api", mapLookup(map[string]string{}))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Profile != ProfileDev {
		t.Fatalf("Profile = %q, want %q", cfg.Profile, ProfileDev)
	}
	if cfg.HTTP.Address != ":8080" {
		t.Fatalf("HTTP.Address = %q", cfg.HTTP.Address)
	}
	if cfg.HTTP.RoutePrefix != "/v1/bigquery" {
		t.Fatalf("HTTP.RoutePrefix = %q", cfg.HTTP.RoutePrefix)
	}
	if !reflect.DeepEqual(cfg.HTTP.CORSOrigins, []string{"*"}) {
		t.Fatalf("HTTP.CORSOrigins = %v", cfg.HTTP.CORSOrigins)
	}
	if cfg.Observability.LogLevel != slog.LevelDebug {
		t.Fatalf("LogLevel = %v", cfg.Observability.LogLevel)
	}
	if cfg.Auth.Required {
		t.Fatal("Auth.Required should default to false in dev")
	}
	if cfg.Authz.Policy != AuthzPolicyAllowAll {
		t.Fatalf("Authz.Policy = %q", cfg.Authz.Policy)
	}
	if cfg.Gateway.DefaultTimeout != 60*time.Second {
		t.Fatalf("Gateway.DefaultTimeout = %s", cfg.Gateway.DefaultTimeout)
	}
	if cfg.BigQuery.ProjectID != "" || cfg.BigQuery.Location != "US" {
		t.Fatalf("BigQuery = %+v", cfg.BigQuery)
	}
	if cfg.ObjectStore.Endpoint != "localhost:9000" {
		t.Fatalf("ObjectStore.Endpoint = %q", cfg.ObjectStore.Endpoint)
	}
}

func TestLoadProdProfileDefaults(t *testing.T) {
	cfg, err := Load("bqbridge-api", mapLookup(map[string]string{"BQBRIDGE_PROFILE": "prod"}))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Profile != ProfileProd {
		t.Fatalf("Profile = %q, want %q", cfg.Profile, ProfileProd)
	}
	if !cfg.Auth.Required {
		t.Fatal("Auth.Required should default to true in prod")
	}
	if cfg.Authz.Policy != AuthzPolicyKeywords {
		t.Fatalf("Authz.Policy = %q", cfg.Authz.Policy)
	}
	if cfg.HTTP.CORSOrigins != nil {
		t.Fatalf("HTTP.CORSOrigins = %v, want none in prod", cfg.HTTP.CORSOrigins)
	}
	if cfg.Observability.LogLevel != slog.LevelInfo {
		t.Fatalf("LogLevel = %v", cfg.Observability.LogLevel)
	}
	if !cfg.ObjectStore.UseSSL || cfg.ObjectStore.AutoCreateBucket {
		t.Fatalf("ObjectStore = %+v", cfg.ObjectStore)
	}
}

func TestLoadWithEnvOverrides(t *testing.T) {
	lookup := mapLookup(map[string]string{
		"BQBRIDGE_PROFILE":                   "test",
		"BQBRIDGE_SERVICE_NAME":              "bqbridge-custom",
		"BQBRIDGE_HTTP_ADDR":                 ":9999",
		"BQBRIDGE_HTTP_READ_TIMEOUT":         "2s",
		"BQBRIDGE_HTTP_WRITE_TIMEOUT":        "3s",
		"BQBRIDGE_HTTP_ROUTE_PREFIX":         "/api/bq/",
		"BQBRIDGE_HTTP_MAX_BODY_BYTES":       "4096",
		"BQBRIDGE_HTTP_CORS_ORIGINS":         "https://a.example.com, https://b.example.com",
		"BQBRIDGE_BIGQUERY_PROJECT_ID":       "analytics-prod",
		"BQBRIDGE_BIGQUERY_LOCATION":         "EU",
		"BQBRIDGE_BIGQUERY_CREDENTIALS_FILE": "/secrets/sa.json",
		"BQBRIDGE_BIGQUERY_USE_LEGACY_SQL":   "true",
		"BQBRIDGE_GATEWAY_DEFAULT_TIMEOUT":   "45s",
		"BQBRIDGE_AUTHZ_POLICY":              "keywords",
		"BQBRIDGE_AUTHZ_BLOCKED_KEYWORDS":    "DROP,MERGE",
		"BQBRIDGE_AUTHZ_REQUIRED_ROLE":       "query_reader",
		"BQBRIDGE_AUTH_REQUIRED":             "true",
		"BQBRIDGE_AUTH_STATIC_KEYS":          "k1:svc:query_reader",
		"BQBRIDGE_AUTH_JWT_SECRET":           "s3cret",
		"BQBRIDGE_AUTH_JWT_ISSUER":           "bqbridge",
		"BQBRIDGE_OBJECTSTORE_BUCKET":        "bqbridge-prod",
		"BQBRIDGE_OBJECTSTORE_USE_SSL":       "true",
		"BQBRIDGE_LOCALDB_PATH":              "/tmp/local.duckdb",
		"BQBRIDGE_LOG_LEVEL":                 "error",
		"BQBRIDGE_LOG_JSON":                  "false",
	})
	cfg, err := Load("bqbridge-api", lookup)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Service.Name != "bqbridge-custom" {
		t.Fatalf("Service.Name = %q", cfg.Service.Name)
	}
	if cfg.HTTP.Address != ":9999" || cfg.HTTP.ReadTimeout != 2*time.Second || cfg.HTTP.WriteTimeout != 3*time.Second {
		t.Fatalf("HTTP = %+v", cfg.HTTP)
	}
	if cfg.HTTP.RoutePrefix != "/api/bq" {
		t.Fatalf("HTTP.RoutePrefix = %q", cfg.HTTP.RoutePrefix)
	}
	if cfg.HTTP.MaxBodyBytes != 4096 {
		t.Fatalf("HTTP.MaxBodyBytes = %d", cfg.HTTP.MaxBodyBytes)
	}
	if !reflect.DeepEqual(cfg.HTTP.CORSOrigins, []string{"https://a.example.com", "https://b.example.com"}) {
		t.Fatalf("HTTP.CORSOrigins = %v", cfg.HTTP.CORSOrigins)
	}
	want := BigQueryConfig{ProjectID: "analytics-prod", Location: "EU", CredentialsFile: "/secrets/sa.json", UseLegacySQL: true}
	if cfg.BigQuery != want {
		t.Fatalf("BigQuery = %+v", cfg.BigQuery)
	}
	if cfg.Gateway.DefaultTimeout != 45*time.Second {
		t.Fatalf("Gateway.DefaultTimeout = %s", cfg.Gateway.DefaultTimeout)
	}
	if cfg.Authz.Policy != AuthzPolicyKeywords || !reflect.DeepEqual(cfg.Authz.BlockedKeywords, []string{"DROP", "MERGE"}) || cfg.Authz.RequiredRole != "query_reader" {
		t.Fatalf("Authz = %+v", cfg.Authz)
	}
	if !cfg.Auth.Required || cfg.Auth.StaticKeys != "k1:svc:query_reader" || cfg.Auth.JWTSecret != "s3cret" || cfg.Auth.JWTIssuer != "bqbridge" {
		t.Fatalf("Auth = %+v", cfg.Auth)
	}
	if cfg.ObjectStore.Bucket != "bqbridge-prod" || !cfg.ObjectStore.UseSSL {
		t.Fatalf("ObjectStore = %+v", cfg.ObjectStore)
	}
	if cfg.LocalDB.Path != "/tmp/local.duckdb" {
		t.Fatalf("LocalDB.Path = %q", cfg.LocalDB.Path)
	}
	if cfg.Observability.LogLevel != slog.LevelError || cfg.Observability.LogJSON {
		t.Fatalf("Observability = %+v", cfg.Observability)
	}
}

func TestLoadErrorsOnInvalidValues(t *testing.T) {
	tests := []map[string]string{
		{"BQBRIDGE_PROFILE": "oops"},
		{"BQBRIDGE_HTTP_READ_TIMEOUT": "NaN"},
		{"BQBRIDGE_HTTP_ROUTE_PREFIX": "no-slash"},
		{"BQBRIDGE_HTTP_MAX_BODY_BYTES": "0"},
		{"BQBRIDGE_GATEWAY_DEFAULT_TIMEOUT": "-1s"},
		{"BQBRIDGE_AUTHZ_POLICY": "deny_all"},
		{"BQBRIDGE_AUTH_REQUIRED": "not-bool"},
		{"BQBRIDGE_LOG_LEVEL": "verbose"},
	}
	for _, env := range tests {
		_, err := Load("bqbridge-api", mapLookup(env))
		if err == nil {
			t.Fatalf("Load() expected error for env %#v", env)
		}
	}
}

func TestFileLookupSitsUnderEnvironment(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bqbridge.yaml")
	content := "bigquery_project_id: from-file\n" +
		"bigquery_location: EU\n" +
		"gateway_default_timeout: 15s\n" +
		"http_cors_origins:\n  - https://app.example.com\n  - https://admin.example.com\n"
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write config file: %v", err)
	}

	fileLookup, err := FileLookup(path)
	if err != nil {
		t.Fatalf("FileLookup() error = %v", err)
	}
	env := mapLookup(map[string]string{"BQBRIDGE_BIGQUERY_LOCATION": "asia-northeast1"})
	cfg, err := Load("bqbridge-api", Chain(env, fileLookup))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.BigQuery.ProjectID != "from-file" {
		t.Fatalf("ProjectID = %q", cfg.BigQuery.ProjectID)
	}
	if cfg.BigQuery.Location != "asia-northeast1" {
		t.Fatalf("Location = %q, want environment to win", cfg.BigQuery.Location)
	}
	if cfg.Gateway.DefaultTimeout != 15*time.Second {
		t.Fatalf("DefaultTimeout = %s", cfg.Gateway.DefaultTimeout)
	}
	if !reflect.DeepEqual(cfg.HTTP.CORSOrigins, []string{"https://app.example.com", "https://admin.example.com"}) {
		t.Fatalf("CORSOrigins = %v", cfg.HTTP.CORSOrigins)
	}
}

func TestFileLookupMissingFile(t *testing.T) {
	if _, err := FileLookup(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Fatal("expected error for missing file")
	}
}

func mapLookup(values map[string]string) LookupFunc {
	return func(key string) (string, bool) {
		value, ok := values[key]
		return value, ok
	}
}
