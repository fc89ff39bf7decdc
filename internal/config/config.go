package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"
)

const envPrefix = "BQBRIDGE_"

type LookupFunc func(string) (string, bool)

type Profile string

const (
	ProfileDev  Profile = "dev"
	ProfileTest Profile = "test"
	ProfileProd Profile = "prod"
)

const (
	AuthzPolicyAllowAll = "allow_all"
	AuthzPolicyKeywords = "keywords"
)

type Config struct {
	Profile       Profile
	Service       ServiceConfig
	HTTP          HTTPConfig
	BigQuery      BigQueryConfig
	Gateway       GatewayConfig
	Authz         AuthzConfig
	Auth          AuthConfig
	ObjectStore   ObjectStoreConfig
	LocalDB       LocalDBConfig
	Observability ObservabilityConfig
}

type ServiceConfig struct {
	Name string
}

type HTTPConfig struct {
	Address         string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration
	RoutePrefix     string
	MaxBodyBytes    int
	CORSOrigins     []string
}

type BigQueryConfig struct {
	ProjectID       string
	Location        string
	CredentialsFile string
	UseLegacySQL    bool
}

type GatewayConfig struct {
	DefaultTimeout time.Duration
}

type AuthzConfig struct {
	Policy          string
	BlockedKeywords []string
	RequiredRole    string
}

type AuthConfig struct {
	Required   bool
	StaticKeys string
	JWTSecret  string
	JWTIssuer  string
}

type ObjectStoreConfig struct {
	Endpoint         string
	Region           string
	Bucket           string
	AccessKeyID      string
	SecretAccessKey  string
	UseSSL           bool
	Prefix           string
	AutoCreateBucket bool
}

type LocalDBConfig struct {
	Path string
}

type ObservabilityConfig struct {
	LogLevel slog.Level
	LogJSON  bool
}

// LoadFromEnv reads the process environment. When BQBRIDGE_CONFIG_FILE names
// a file, its values sit underneath the environment.
func LoadFromEnv(serviceName string) (Config, error) {
	lookup := LookupFunc(os.LookupEnv)
	if path, ok := os.LookupEnv(envPrefix + "CONFIG_FILE"); ok && strings.TrimSpace(path) != "" {
		fileLookup, err := FileLookup(strings.TrimSpace(path))
		if err != nil {
			return Config{}, err
		}
		lookup = Chain(lookup, fileLookup)
	}
	return Load(serviceName, lookup)
}

func Load(serviceName string, lookup LookupFunc) (Config, error) {
	if lookup == nil {
		return Config{}, fmt.Errorf("lookup function is required")
	}

	profile := ProfileDev
	if raw, ok := lookup(envPrefix + "PROFILE"); ok {
		profile = Profile(strings.ToLower(strings.TrimSpace(raw)))
	}
	if !isValidProfile(profile) {
		return Config{}, fmt.Errorf("invalid %sPROFILE: %q", envPrefix, profile)
	}

	cfg := defaultsForProfile(profile)
	if serviceName != "" {
		cfg.Service.Name = serviceName
	}

	appliers := []func() error{
		func() error { return applyString(lookup, envPrefix+"SERVICE_NAME", &cfg.Service.Name) },
		func() error { return applyString(lookup, envPrefix+"HTTP_ADDR", &cfg.HTTP.Address) },
		func() error { return applyDuration(lookup, envPrefix+"HTTP_READ_TIMEOUT", &cfg.HTTP.ReadTimeout) },
		func() error { return applyDuration(lookup, envPrefix+"HTTP_WRITE_TIMEOUT", &cfg.HTTP.WriteTimeout) },
		func() error { return applyDuration(lookup, envPrefix+"HTTP_IDLE_TIMEOUT", &cfg.HTTP.IdleTimeout) },
		func() error { return applyDuration(lookup, envPrefix+"HTTP_SHUTDOWN_TIMEOUT", &cfg.HTTP.ShutdownTimeout) },
		func() error { return applyString(lookup, envPrefix+"HTTP_ROUTE_PREFIX", &cfg.HTTP.RoutePrefix) },
		func() error { return applyInt(lookup, envPrefix+"HTTP_MAX_BODY_BYTES", &cfg.HTTP.MaxBodyBytes) },
		func() error { return applyList(lookup, envPrefix+"HTTP_CORS_ORIGINS", &cfg.HTTP.CORSOrigins) },
		func() error { return applyString(lookup, envPrefix+"BIGQUERY_PROJECT_ID", &cfg.BigQuery.ProjectID) },
		func() error { return applyString(lookup, envPrefix+"BIGQUERY_LOCATION", &cfg.BigQuery.Location) },
		func() error { return applyString(lookup, envPrefix+"BIGQUERY_CREDENTIALS_FILE", &cfg.BigQuery.CredentialsFile) },
		func() error { return applyBool(lookup, envPrefix+"BIGQUERY_USE_LEGACY_SQL", &cfg.BigQuery.UseLegacySQL) },
		func() error { return applyDuration(lookup, envPrefix+"GATEWAY_DEFAULT_TIMEOUT", &cfg.Gateway.DefaultTimeout) },
		func() error { return applyString(lookup, envPrefix+"AUTHZ_POLICY", &cfg.Authz.Policy) },
		func() error { return applyList(lookup, envPrefix+"AUTHZ_BLOCKED_KEYWORDS", &cfg.Authz.BlockedKeywords) },
		func() error { return applyString(lookup, envPrefix+"AUTHZ_REQUIRED_ROLE", &cfg.Authz.RequiredRole) },
		func() error { return applyBool(lookup, envPrefix+"AUTH_REQUIRED", &cfg.Auth.Required) },
		func() error { return applyString(lookup, envPrefix+"AUTH_STATIC_KEYS", &cfg.Auth.StaticKeys) },
		func() error { return applyString(lookup, envPrefix+"AUTH_JWT_SECRET", &cfg.Auth.JWTSecret) },
		func() error { return applyString(lookup, envPrefix+"AUTH_JWT_ISSUER", &cfg.Auth.JWTIssuer) },
		func() error { return applyString(lookup, envPrefix+"OBJECTSTORE_ENDPOINT", &cfg.ObjectStore.Endpoint) },
		func() error { return applyString(lookup, envPrefix+"OBJECTSTORE_REGION", &cfg.ObjectStore.Region) },
		func() error { return applyString(lookup, envPrefix+"OBJECTSTORE_BUCKET", &cfg.ObjectStore.Bucket) },
		func() error { return applyString(lookup, envPrefix+"OBJECTSTORE_ACCESS_KEY", &cfg.ObjectStore.AccessKeyID) },
		func() error { return applyString(lookup, envPrefix+"OBJECTSTORE_SECRET_KEY", &cfg.ObjectStore.SecretAccessKey) },
		func() error { return applyBool(lookup, envPrefix+"OBJECTSTORE_USE_SSL", &cfg.ObjectStore.UseSSL) },
		func() error { return applyString(lookup, envPrefix+"OBJECTSTORE_PREFIX", &cfg.ObjectStore.Prefix) },
		func() error {
			return applyBool(lookup, envPrefix+"OBJECTSTORE_AUTO_CREATE_BUCKET", &cfg.ObjectStore.AutoCreateBucket)
		},
		func() error { return applyString(lookup, envPrefix+"LOCALDB_PATH", &cfg.LocalDB.Path) },
		func() error { return applyBool(lookup, envPrefix+"LOG_JSON", &cfg.Observability.LogJSON) },
		func() error { return applyLogLevel(lookup, envPrefix+"LOG_LEVEL", &cfg.Observability.LogLevel) },
	}
	for _, apply := range appliers {
		if err := apply(); err != nil {
			return Config{}, err
		}
	}

	if cfg.Service.Name == "" {
		return Config{}, fmt.Errorf("service name is required")
	}
	if cfg.HTTP.Address == "" {
		return Config{}, fmt.Errorf("http address is required")
	}
	if !strings.HasPrefix(cfg.HTTP.RoutePrefix, "/") {
		return Config{}, fmt.Errorf("invalid %sHTTP_ROUTE_PREFIX: %q must start with /", envPrefix, cfg.HTTP.RoutePrefix)
	}
	cfg.HTTP.RoutePrefix = strings.TrimRight(cfg.HTTP.RoutePrefix, "/")
	if cfg.HTTP.MaxBodyBytes <= 0 {
		return Config{}, fmt.Errorf("invalid %sHTTP_MAX_BODY_BYTES: must be positive", envPrefix)
	}
	switch cfg.Authz.Policy {
	case AuthzPolicyAllowAll, AuthzPolicyKeywords:
	default:
		return Config{}, fmt.Errorf("invalid %sAUTHZ_POLICY: %q", envPrefix, cfg.Authz.Policy)
	}
	if cfg.Gateway.DefaultTimeout < 0 {
		return Config{}, fmt.Errorf("invalid %sGATEWAY_DEFAULT_TIMEOUT: must not be negative", envPrefix)
	}
	return cfg, nil
}

func defaultsForProfile(profile Profile) Config {
	cfg := Config{
		Profile: profile,
		Service: ServiceConfig{Name: "bqbridge-api"},
		HTTP: HTTPConfig{
			Address:         ":8080",
			ReadTimeout:     5 * time.Second,
			WriteTimeout:    5 * time.Minute,
			IdleTimeout:     60 * time.Second,
			ShutdownTimeout: 10 * time.Second,
			RoutePrefix:     "/v1/bigquery",
			MaxBodyBytes:    1 << 20,
			CORSOrigins:     []string{"*"},
		},
		BigQuery: BigQueryConfig{
			Location: "US",
		},
		Gateway: GatewayConfig{
			DefaultTimeout: 60 * time.Second,
		},
		Authz: AuthzConfig{
			Policy: AuthzPolicyAllowAll,
		},
		ObjectStore: ObjectStoreConfig{
			Endpoint:         "localhost:9000",
			Region:           "us-east-1",
			Bucket:           "bqbridge",
			AccessKeyID:      "minio",
			SecretAccessKey:  "miniostorage",
			UseSSL:           false,
			Prefix:           "",
			AutoCreateBucket: true,
		},
		LocalDB: LocalDBConfig{
			Path: "",
		},
		Observability: ObservabilityConfig{
			LogLevel: slog.LevelDebug,
			LogJSON:  true,
		},
		Auth: AuthConfig{
			Required: false,
		},
	}

	switch profile {
	case ProfileTest:
		cfg.HTTP.Address = ":18080"
		cfg.Observability.LogLevel = slog.LevelWarn
		cfg.Gateway.DefaultTimeout = 5 * time.Second
		cfg.Auth.Required = false
	case ProfileProd:
		cfg.Observability.LogLevel = slog.LevelInfo
		cfg.Auth.Required = true
		cfg.Authz.Policy = AuthzPolicyKeywords
		cfg.HTTP.CORSOrigins = nil
		cfg.ObjectStore.UseSSL = true
		cfg.ObjectStore.AutoCreateBucket = false
	}

	return cfg
}

func isValidProfile(profile Profile) bool {
	switch profile {
	case ProfileDev, ProfileTest, ProfileProd:
		return true
	default:
		return false
	}
}

// Chain returns the first value found, asking lookups in order.
func Chain(lookups ...LookupFunc) LookupFunc {
	return func(key string) (string, bool) {
		for _, lookup := range lookups {
			if lookup == nil {
				continue
			}
			if value, ok := lookup(key); ok {
				return value, true
			}
		}
		return "", false
	}
}

func applyString(lookup LookupFunc, key string, dst *string) error {
	raw, ok := lookup(key)
	if !ok {
		return nil
	}
	*dst = strings.TrimSpace(raw)
	return nil
}

func applyList(lookup LookupFunc, key string, dst *[]string) error {
	raw, ok := lookup(key)
	if !ok {
		return nil
	}
	values := make([]string, 0)
	for _, item := range strings.Split(raw, ",") {
		item = strings.TrimSpace(item)
		if item != "" {
			values = append(values, item)
		}
	}
	*dst = values
	return nil
}

func applyDuration(lookup LookupFunc, key string, dst *time.Duration) error {
	raw, ok := lookup(key)
	if !ok {
		return nil
	}
	value, err := time.ParseDuration(strings.TrimSpace(raw))
	if err != nil {
		return fmt.Errorf("invalid %s: %w", key, err)
	}
	*dst = value
	return nil
}

func applyBool(lookup LookupFunc, key string, dst *bool) error {
	raw, ok := lookup(key)
	if !ok {
		return nil
	}
	value, err := strconv.ParseBool(strings.TrimSpace(raw))
	if err != nil {
		return fmt.Errorf("invalid %s: %w", key, err)
	}
	*dst = value
	return nil
}

func applyInt(lookup LookupFunc, key string, dst *int) error {
	raw, ok := lookup(key)
	if !ok {
		return nil
	}
	value, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil {
		return fmt.Errorf("invalid %s: %w", key, err)
	}
	*dst = value
	return nil
}

func applyLogLevel(lookup LookupFunc, key string, dst *slog.Level) error {
	raw, ok := lookup(key)
	if !ok {
		return nil
	}
	level := strings.ToLower(strings.TrimSpace(raw))
	switch level {
	case "debug":
		*dst = slog.LevelDebug
	case "info":
		*dst = slog.LevelInfo
	case "warn", "warning":
		*dst = slog.LevelWarn
	case "error":
		*dst = slog.LevelError
	default:
		return fmt.Errorf("invalid %s: %q", key, raw)
	}
	return nil
}
