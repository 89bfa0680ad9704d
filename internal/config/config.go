package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"
)

const envPrefix = "QUERYGATE_"

type LookupFunc func(string) (string, bool)

type Profile string

const (
	ProfileDev  Profile = "dev"
	ProfileTest Profile = "test"
	ProfileProd Profile = "prod"
)

type Config struct {
	Profile       Profile
	Service       ServiceConfig
	HTTP          HTTPConfig
	Generator     GeneratorConfig
	Store         StoreConfig
	ObjectStore   ObjectStoreConfig
	Datasets      DatasetsConfig
	History       HistoryConfig
	Eval          EvalConfig
	Schema        SchemaConfig
	Observability ObservabilityConfig
	Auth          AuthConfig
}

type ServiceConfig struct {
	Name string
}

type HTTPConfig struct {
	Address        string
	ReadTimeout    time.Duration
	WriteTimeout   time.Duration
	IdleTimeout    time.Duration
	RequestTimeout time.Duration
}

const (
	BackendScripted = "scripted"
	BackendOllama   = "ollama"
	BackendOpenAI   = "openai"
)

type GeneratorConfig struct {
	Backend     string
	BaseURL     string
	APIKey      string
	Model       string
	Temperature float64
	Timeout     time.Duration
	MaxTokens   int
	// ScriptDelay slows the scripted backend per token, for demos.
	ScriptDelay time.Duration
}

const (
	DriverDuckDB     = "duckdb"
	DriverClickHouse = "clickhouse"
)

type StoreConfig struct {
	Driver             string
	DuckDBPath         string
	MaxOpenConns       int
	ClickHouseURL      string
	ClickHouseUser     string
	ClickHousePassword string
	ClickHouseDatabase string
	QueryTimeout       time.Duration
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

// DatasetsConfig exposes Parquet objects under the object store as DuckDB views.
type DatasetsConfig struct {
	Enabled bool
}

type HistoryConfig struct {
	DSN             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxIdleTime time.Duration
	ConnMaxLifetime time.Duration
	// RetentionInterval is how often old runs and audits are pruned; zero disables pruning.
	RetentionInterval time.Duration
	RetentionMaxAge   time.Duration
	// KeepRuns evaluation runs are never pruned regardless of age.
	KeepRuns int
}

type EvalConfig struct {
	FixturesPath     string
	Concurrency      int
	CaseTimeout      time.Duration
	ExecutionTimeout time.Duration
	RunOnStart       bool
}

type SchemaConfig struct {
	Path string
	// Introspect builds the schema from the DuckDB catalog instead of the file.
	Introspect bool
}

type ObservabilityConfig struct {
	LogLevel slog.Level
	LogJSON  bool
}

type AuthConfig struct {
	Required   bool
	StaticKeys string
}

func LoadFromEnv(serviceName string) (Config, error) {
	return Load(serviceName, os.LookupEnv)
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
	return apply(cfg, lookup)
}

// apply overlays every QUERYGATE_* key found by lookup onto cfg and validates the result.
func apply(cfg Config, lookup LookupFunc) (Config, error) {
	stringFields := []struct {
		key string
		dst *string
	}{
		{"SERVICE_NAME", &cfg.Service.Name},
		{"HTTP_ADDR", &cfg.HTTP.Address},
		{"GENERATOR_BACKEND", &cfg.Generator.Backend},
		{"GENERATOR_BASE_URL", &cfg.Generator.BaseURL},
		{"GENERATOR_API_KEY", &cfg.Generator.APIKey},
		{"GENERATOR_MODEL", &cfg.Generator.Model},
		{"STORE_DRIVER", &cfg.Store.Driver},
		{"STORE_DUCKDB_PATH", &cfg.Store.DuckDBPath},
		{"STORE_CLICKHOUSE_URL", &cfg.Store.ClickHouseURL},
		{"STORE_CLICKHOUSE_USER", &cfg.Store.ClickHouseUser},
		{"STORE_CLICKHOUSE_PASSWORD", &cfg.Store.ClickHousePassword},
		{"STORE_CLICKHOUSE_DATABASE", &cfg.Store.ClickHouseDatabase},
		{"OBJECTSTORE_ENDPOINT", &cfg.ObjectStore.Endpoint},
		{"OBJECTSTORE_REGION", &cfg.ObjectStore.Region},
		{"OBJECTSTORE_BUCKET", &cfg.ObjectStore.Bucket},
		{"OBJECTSTORE_ACCESS_KEY", &cfg.ObjectStore.AccessKeyID},
		{"OBJECTSTORE_SECRET_KEY", &cfg.ObjectStore.SecretAccessKey},
		{"OBJECTSTORE_PREFIX", &cfg.ObjectStore.Prefix},
		{"HISTORY_DSN", &cfg.History.DSN},
		{"EVAL_FIXTURES_PATH", &cfg.Eval.FixturesPath},
		{"SCHEMA_PATH", &cfg.Schema.Path},
		{"AUTH_STATIC_KEYS", &cfg.Auth.StaticKeys},
	}
	for _, item := range stringFields {
		if err := applyString(lookup, envPrefix+item.key, item.dst); err != nil {
			return Config{}, err
		}
	}

	durations := []struct {
		key string
		dst *time.Duration
	}{
		{"HTTP_READ_TIMEOUT", &cfg.HTTP.ReadTimeout},
		{"HTTP_WRITE_TIMEOUT", &cfg.HTTP.WriteTimeout},
		{"HTTP_IDLE_TIMEOUT", &cfg.HTTP.IdleTimeout},
		{"HTTP_REQUEST_TIMEOUT", &cfg.HTTP.RequestTimeout},
		{"GENERATOR_TIMEOUT", &cfg.Generator.Timeout},
		{"GENERATOR_SCRIPT_DELAY", &cfg.Generator.ScriptDelay},
		{"STORE_QUERY_TIMEOUT", &cfg.Store.QueryTimeout},
		{"HISTORY_CONN_MAX_IDLE_TIME", &cfg.History.ConnMaxIdleTime},
		{"HISTORY_CONN_MAX_LIFETIME", &cfg.History.ConnMaxLifetime},
		{"HISTORY_RETENTION_INTERVAL", &cfg.History.RetentionInterval},
		{"HISTORY_RETENTION_MAX_AGE", &cfg.History.RetentionMaxAge},
		{"EVAL_CASE_TIMEOUT", &cfg.Eval.CaseTimeout},
		{"EVAL_EXECUTION_TIMEOUT", &cfg.Eval.ExecutionTimeout},
	}
	for _, item := range durations {
		if err := applyDuration(lookup, envPrefix+item.key, item.dst); err != nil {
			return Config{}, err
		}
	}

	ints := []struct {
		key string
		dst *int
	}{
		{"GENERATOR_MAX_TOKENS", &cfg.Generator.MaxTokens},
		{"STORE_MAX_OPEN_CONNS", &cfg.Store.MaxOpenConns},
		{"HISTORY_MAX_OPEN_CONNS", &cfg.History.MaxOpenConns},
		{"HISTORY_MAX_IDLE_CONNS", &cfg.History.MaxIdleConns},
		{"HISTORY_KEEP_RUNS", &cfg.History.KeepRuns},
		{"EVAL_CONCURRENCY", &cfg.Eval.Concurrency},
	}
	for _, item := range ints {
		if err := applyInt(lookup, envPrefix+item.key, item.dst); err != nil {
			return Config{}, err
		}
	}

	bools := []struct {
		key string
		dst *bool
	}{
		{"OBJECTSTORE_USE_SSL", &cfg.ObjectStore.UseSSL},
		{"OBJECTSTORE_AUTO_CREATE_BUCKET", &cfg.ObjectStore.AutoCreateBucket},
		{"DATASETS_ENABLED", &cfg.Datasets.Enabled},
		{"EVAL_RUN_ON_START", &cfg.Eval.RunOnStart},
		{"SCHEMA_INTROSPECT", &cfg.Schema.Introspect},
		{"LOG_JSON", &cfg.Observability.LogJSON},
		{"AUTH_REQUIRED", &cfg.Auth.Required},
	}
	for _, item := range bools {
		if err := applyBool(lookup, envPrefix+item.key, item.dst); err != nil {
			return Config{}, err
		}
	}

	if err := applyFloat(lookup, envPrefix+"GENERATOR_TEMPERATURE", &cfg.Generator.Temperature); err != nil {
		return Config{}, err
	}
	if err := applyLogLevel(lookup, envPrefix+"LOG_LEVEL", &cfg.Observability.LogLevel); err != nil {
		return Config{}, err
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) Validate() error {
	if c.Service.Name == "" {
		return fmt.Errorf("service name is required")
	}
	if c.HTTP.Address == "" {
		return fmt.Errorf("http address is required")
	}
	switch c.Generator.Backend {
	case BackendScripted:
	case BackendOllama, BackendOpenAI:
		if c.Generator.BaseURL == "" {
			return fmt.Errorf("generator base url is required for backend %q", c.Generator.Backend)
		}
		if c.Generator.Model == "" {
			return fmt.Errorf("generator model is required for backend %q", c.Generator.Backend)
		}
	default:
		return fmt.Errorf("invalid generator backend %q", c.Generator.Backend)
	}
	switch c.Store.Driver {
	case DriverDuckDB:
	case DriverClickHouse:
		if c.Store.ClickHouseURL == "" {
			return fmt.Errorf("clickhouse url is required for driver %q", c.Store.Driver)
		}
		if c.Datasets.Enabled {
			return fmt.Errorf("parquet datasets require the %q driver", DriverDuckDB)
		}
	default:
		return fmt.Errorf("invalid store driver %q", c.Store.Driver)
	}
	if c.Generator.MaxTokens <= 0 {
		return fmt.Errorf("generator max tokens must be positive")
	}
	if c.Eval.Concurrency <= 0 {
		return fmt.Errorf("eval concurrency must be positive")
	}
	if c.History.RetentionInterval > 0 && c.History.RetentionMaxAge <= 0 {
		return fmt.Errorf("history retention max age must be positive when retention is enabled")
	}
	if c.History.KeepRuns < 0 {
		return fmt.Errorf("history keep runs must not be negative")
	}
	return nil
}

func defaultsForProfile(profile Profile) Config {
	cfg := Config{
		Profile: profile,
		Service: ServiceConfig{Name: "querygate-api"},
		HTTP: HTTPConfig{
			Address:        ":8080",
			ReadTimeout:    5 * time.Second,
			WriteTimeout:   5 * time.Minute,
			IdleTimeout:    60 * time.Second,
			RequestTimeout: 60 * time.Second,
		},
		Generator: GeneratorConfig{
			Backend:     BackendScripted,
			Model:       "gpt-5",
			Temperature: 0.1,
			Timeout:     45 * time.Second,
			MaxTokens:   64,
		},
		Store: StoreConfig{
			Driver:             DriverDuckDB,
			MaxOpenConns:       8,
			ClickHouseUser:     "default",
			ClickHouseDatabase: "default",
			QueryTimeout:       10 * time.Second,
		},
		ObjectStore: ObjectStoreConfig{
			Endpoint:         "localhost:9000",
			Region:           "us-east-1",
			Bucket:           "querygate",
			AccessKeyID:      "minio",
			SecretAccessKey:  "miniostorage",
			UseSSL:           false,
			Prefix:           "",
			AutoCreateBucket: true,
		},
		History: HistoryConfig{
			MaxOpenConns:      10,
			MaxIdleConns:      10,
			ConnMaxIdleTime:   5 * time.Minute,
			ConnMaxLifetime:   30 * time.Minute,
			RetentionInterval: time.Hour,
			RetentionMaxAge:   30 * 24 * time.Hour,
			KeepRuns:          100,
		},
		Eval: EvalConfig{
			Concurrency:      1,
			CaseTimeout:      60 * time.Second,
			ExecutionTimeout: 10 * time.Second,
		},
		Observability: ObservabilityConfig{
			LogLevel: slog.LevelDebug,
			LogJSON:  true,
		},
		Auth: AuthConfig{
			Required:   false,
			StaticKeys: "",
		},
	}

	switch profile {
	case ProfileTest:
		cfg.HTTP.Address = ":18080"
		cfg.Observability.LogLevel = slog.LevelWarn
		cfg.Auth.Required = false
		cfg.Eval.CaseTimeout = 5 * time.Second
	case ProfileProd:
		cfg.Observability.LogLevel = slog.LevelInfo
		cfg.Auth.Required = true
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

func applyString(lookup LookupFunc, key string, dst *string) error {
	raw, ok := lookup(key)
	if !ok {
		return nil
	}
	*dst = strings.TrimSpace(raw)
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

func applyFloat(lookup LookupFunc, key string, dst *float64) error {
	raw, ok := lookup(key)
	if !ok {
		return nil
	}
	value, err := strconv.ParseFloat(strings.TrimSpace(raw), 64)
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
