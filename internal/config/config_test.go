package config

import (
	"errors"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"
)

func TestLoadDefaultsForDevProfile(t *testing.T) {
	cfg, err := Load("querygate-api", mapLookup(map[string]string{}))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Profile != ProfileDev {
		t.Fatalf("Profile = %q, want %q", cfg.Profile, ProfileDev)
	}
	if cfg.HTTP.Address != ":8080" {
		t.Fatalf("HTTP.Address = %q", cfg.HTTP.Address)
	}
	if cfg.Observability.LogLevel != slog.LevelDebug {
		t.Fatalf("LogLevel = %v", cfg.Observability.LogLevel)
	}
	if cfg.Auth.Required {
		t.Fatal("Auth.Required should default to false in dev")
	}
	if cfg.Generator.Backend != BackendScripted {
		t.Fatalf("Generator.Backend = %q", cfg.Generator.Backend)
	}
	if cfg.Generator.MaxTokens != 64 {
		t.Fatalf("Generator.MaxTokens = %d", cfg.Generator.MaxTokens)
	}
	if cfg.Store.Driver != DriverDuckDB {
		t.Fatalf("Store.Driver = %q", cfg.Store.Driver)
	}
	if cfg.Store.QueryTimeout != 10*time.Second {
		t.Fatalf("Store.QueryTimeout = %s", cfg.Store.QueryTimeout)
	}
	if cfg.Eval.Concurrency != 1 {
		t.Fatalf("Eval.Concurrency = %d", cfg.Eval.Concurrency)
	}
	if cfg.History.DSN != "" {
		t.Fatalf("History.DSN = %q", cfg.History.DSN)
	}
	if cfg.ObjectStore.Endpoint != "localhost:9000" {
		t.Fatalf("ObjectStore.Endpoint = %q", cfg.ObjectStore.Endpoint)
	}
}

func TestLoadProdProfileDefaults(t *testing.T) {
	cfg, err := Load("querygate-api", mapLookup(map[string]string{"QUERYGATE_PROFILE": "prod"}))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Profile != ProfileProd {
		t.Fatalf("Profile = %q, want %q", cfg.Profile, ProfileProd)
	}
	if !cfg.Auth.Required {
		t.Fatal("Auth.Required should default to true in prod")
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
		"QUERYGATE_PROFILE":                   "test",
		"QUERYGATE_SERVICE_NAME":              "querygate-custom",
		"QUERYGATE_HTTP_ADDR":                 ":9999",
		"QUERYGATE_HTTP_READ_TIMEOUT":         "2s",
		"QUERYGATE_HTTP_REQUEST_TIMEOUT":      "7s",
		"QUERYGATE_LOG_LEVEL":                 "error",
		"QUERYGATE_AUTH_REQUIRED":             "true",
		"QUERYGATE_AUTH_STATIC_KEYS":          "k1:t1:query_reader",
		"QUERYGATE_GENERATOR_BACKEND":         "openai",
		"QUERYGATE_GENERATOR_BASE_URL":        "https://api.example.com",
		"QUERYGATE_GENERATOR_API_KEY":         "secret-key",
		"QUERYGATE_GENERATOR_MODEL":           "gpt-5.2",
		"QUERYGATE_GENERATOR_TEMPERATURE":     "0.3",
		"QUERYGATE_GENERATOR_TIMEOUT":         "21s",
		"QUERYGATE_GENERATOR_MAX_TOKENS":      "80",
		"QUERYGATE_STORE_DRIVER":              "clickhouse",
		"QUERYGATE_STORE_CLICKHOUSE_URL":      "http://clickhouse:8123",
		"QUERYGATE_STORE_CLICKHOUSE_PASSWORD": "pw",
		"QUERYGATE_STORE_QUERY_TIMEOUT":       "3s",
		"QUERYGATE_HISTORY_DSN":               "postgres://example",
		"QUERYGATE_HISTORY_MAX_OPEN_CONNS":    "42",
		"QUERYGATE_EVAL_CONCURRENCY":          "4",
		"QUERYGATE_EVAL_CASE_TIMEOUT":         "90s",
		"QUERYGATE_EVAL_RUN_ON_START":         "true",
		"QUERYGATE_EVAL_FIXTURES_PATH":        "/etc/querygate/cases.yaml",
		"QUERYGATE_SCHEMA_PATH":               "/etc/querygate/schema.yaml",
		"QUERYGATE_OBJECTSTORE_BUCKET":        "querygate-prod",
		"QUERYGATE_OBJECTSTORE_USE_SSL":       "true",
	})
	cfg, err := Load("querygate-api", lookup)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Service.Name != "querygate-custom" || cfg.HTTP.Address != ":9999" {
		t.Fatalf("Service/HTTP = %+v / %+v", cfg.Service, cfg.HTTP)
	}
	if cfg.HTTP.ReadTimeout != 2*time.Second || cfg.HTTP.RequestTimeout != 7*time.Second {
		t.Fatalf("HTTP = %+v", cfg.HTTP)
	}
	if cfg.Observability.LogLevel != slog.LevelError {
		t.Fatalf("LogLevel = %v", cfg.Observability.LogLevel)
	}
	if !cfg.Auth.Required || cfg.Auth.StaticKeys != "k1:t1:query_reader" {
		t.Fatalf("Auth = %+v", cfg.Auth)
	}
	if cfg.Generator.Backend != BackendOpenAI || cfg.Generator.Model != "gpt-5.2" || cfg.Generator.APIKey != "secret-key" {
		t.Fatalf("Generator = %+v", cfg.Generator)
	}
	if cfg.Generator.Temperature != 0.3 || cfg.Generator.Timeout != 21*time.Second || cfg.Generator.MaxTokens != 80 {
		t.Fatalf("Generator = %+v", cfg.Generator)
	}
	if cfg.Store.Driver != DriverClickHouse || cfg.Store.ClickHouseURL != "http://clickhouse:8123" || cfg.Store.QueryTimeout != 3*time.Second {
		t.Fatalf("Store = %+v", cfg.Store)
	}
	if cfg.History.DSN != "postgres://example" || cfg.History.MaxOpenConns != 42 {
		t.Fatalf("History = %+v", cfg.History)
	}
	if cfg.Eval.Concurrency != 4 || cfg.Eval.CaseTimeout != 90*time.Second || !cfg.Eval.RunOnStart {
		t.Fatalf("Eval = %+v", cfg.Eval)
	}
	if cfg.Eval.FixturesPath != "/etc/querygate/cases.yaml" || cfg.Schema.Path != "/etc/querygate/schema.yaml" {
		t.Fatalf("paths = %q %q", cfg.Eval.FixturesPath, cfg.Schema.Path)
	}
	if cfg.ObjectStore.Bucket != "querygate-prod" || !cfg.ObjectStore.UseSSL {
		t.Fatalf("ObjectStore = %+v", cfg.ObjectStore)
	}
}

func TestLoadErrorsOnInvalidValues(t *testing.T) {
	tests := []map[string]string{
		{"QUERYGATE_PROFILE": "oops"},
		{"QUERYGATE_HTTP_READ_TIMEOUT": "NaN"},
		{"QUERYGATE_HISTORY_MAX_OPEN_CONNS": "oops"},
		{"QUERYGATE_GENERATOR_TEMPERATURE": "bad"},
		{"QUERYGATE_AUTH_REQUIRED": "not-bool"},
		{"QUERYGATE_LOG_LEVEL": "verbose"},
		{"QUERYGATE_GENERATOR_BACKEND": "markov"},
		{"QUERYGATE_GENERATOR_BACKEND": "ollama"},
		{"QUERYGATE_STORE_DRIVER": "sqlite"},
		{"QUERYGATE_STORE_DRIVER": "clickhouse"},
		{"QUERYGATE_EVAL_CONCURRENCY": "0"},
		{"QUERYGATE_GENERATOR_MAX_TOKENS": "-1"},
		{"QUERYGATE_STORE_DRIVER": "clickhouse", "QUERYGATE_STORE_CLICKHOUSE_URL": "http://ch:8123", "QUERYGATE_DATASETS_ENABLED": "true"},
	}
	for _, env := range tests {
		_, err := Load("querygate-api", mapLookup(env))
		if err == nil {
			t.Fatalf("Load() expected error for env %#v", env)
		}
	}
}

func TestHolderUpdateSwapsSnapshot(t *testing.T) {
	base, err := Load("querygate-api", mapLookup(map[string]string{}))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	holder := NewHolder(base)
	before := holder.Current()

	next, err := holder.Update(map[string]string{
		"generator.model":              "llama3.1",
		"QUERYGATE_STORE_QUERY_TIMEOUT": "2s",
	}, nil)
	if err != nil {
		t.Fatalf("Update() error = %v", err)
	}
	if next.Generator.Model != "llama3.1" || next.Store.QueryTimeout != 2*time.Second {
		t.Fatalf("next = %+v / %+v", next.Generator, next.Store)
	}
	if holder.Current().Generator.Model != "llama3.1" {
		t.Fatalf("Current() = %q", holder.Current().Generator.Model)
	}
	if before.Generator.Model != "gpt-5" {
		t.Fatalf("earlier snapshot changed: %q", before.Generator.Model)
	}
}

func TestHolderUpdateRejectsUnknownAndInvalidKeys(t *testing.T) {
	base, _ := Load("querygate-api", mapLookup(map[string]string{}))
	holder := NewHolder(base)

	cases := []map[string]string{
		{"generator.flavour": "x"},
		{"store.driver": "sqlite"},
		{"profile": "prod"},
	}
	for _, overrides := range cases {
		if _, err := holder.Update(overrides, nil); err == nil {
			t.Fatalf("Update(%v) expected error", overrides)
		}
	}
	_, err := holder.Update(map[string]string{"generator.flavour": "x", "generator.model": "m"}, nil)
	if err == nil || !strings.Contains(err.Error(), "QUERYGATE_GENERATOR_FLAVOUR") {
		t.Fatalf("Update() error = %v", err)
	}
	if holder.Current().Generator.Model != "gpt-5" {
		t.Fatalf("failed update leaked: %q", holder.Current().Generator.Model)
	}
}

func TestHolderUpdateRunsPrepareBeforePublishing(t *testing.T) {
	base, _ := Load("querygate-api", mapLookup(map[string]string{}))
	holder := NewHolder(base)

	_, err := holder.Update(map[string]string{"generator.model": "m3"}, func(next Config) error {
		if next.Generator.Model != "m3" {
			t.Errorf("prepare saw model %q", next.Generator.Model)
		}
		if holder.current.Load().Generator.Model != "gpt-5" {
			t.Errorf("snapshot published before prepare returned")
		}
		return errors.New("runtime build failed")
	})
	if err == nil || err.Error() != "runtime build failed" {
		t.Fatalf("Update() error = %v", err)
	}
	if holder.Current().Generator.Model != "gpt-5" {
		t.Fatalf("failed prepare leaked: %q", holder.Current().Generator.Model)
	}

	prepared := 0
	if _, err := holder.Update(map[string]string{"generator.model": "m3"}, func(Config) error {
		prepared++
		return nil
	}); err != nil {
		t.Fatalf("Update() error = %v", err)
	}
	if prepared != 1 || holder.Current().Generator.Model != "m3" {
		t.Fatalf("prepared = %d, model = %q", prepared, holder.Current().Generator.Model)
	}
}

func TestHolderConcurrentReadersSeeWholeSnapshots(t *testing.T) {
	base, _ := Load("querygate-api", mapLookup(map[string]string{}))
	holder := NewHolder(base)

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 200; j++ {
				cfg := holder.Current()
				if cfg.Generator.Model == "m2" && cfg.Generator.MaxTokens != 32 {
					t.Errorf("torn snapshot: %+v", cfg.Generator)
					return
				}
			}
		}()
	}
	for j := 0; j < 50; j++ {
		if _, err := holder.Update(map[string]string{"generator.model": "m2", "generator.max_tokens": "32"}, nil); err != nil {
			t.Fatalf("Update() error = %v", err)
		}
	}
	wg.Wait()
}

func TestSummaryRedactsSecrets(t *testing.T) {
	cfg, _ := Load("querygate-api", mapLookup(map[string]string{"QUERYGATE_GENERATOR_API_KEY": "sk-secret"}))
	summary := cfg.Summary()
	if summary["generator_api_key_set"] != true {
		t.Fatalf("summary = %v", summary)
	}
	for key, value := range summary {
		if s, ok := value.(string); ok && strings.Contains(s, "sk-secret") {
			t.Fatalf("summary leaks secret in %s", key)
		}
	}
}

func mapLookup(values map[string]string) LookupFunc {
	return func(key string) (string, bool) {
		value, ok := values[key]
		return value, ok
	}
}
