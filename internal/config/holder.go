package config

import (
	"fmt"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
)

// Holder publishes immutable config snapshots. Readers keep the snapshot they loaded for
// the whole request; Update swaps in a new one.
type Holder struct {
	current atomic.Pointer[Config]
	mu      sync.Mutex
}

func NewHolder(cfg Config) *Holder {
	h := &Holder{}
	h.current.Store(&cfg)
	return h
}

func (h *Holder) Current() Config {
	return *h.current.Load()
}

// Update applies overrides to a copy of the current snapshot and publishes it when valid.
// Keys are either environment names (QUERYGATE_GENERATOR_MODEL) or dotted names
// (generator.model). Unknown keys are rejected and nothing changes. A non-nil prepare runs
// with the candidate snapshot before it is published; its error also leaves the holder as is.
func (h *Holder) Update(overrides map[string]string, prepare func(Config) error) (Config, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	next, err := ApplyOverrides(h.Current(), overrides)
	if err != nil {
		return Config{}, err
	}
	if prepare != nil {
		if err := prepare(next); err != nil {
			return Config{}, err
		}
	}
	h.current.Store(&next)
	return next, nil
}

func ApplyOverrides(base Config, overrides map[string]string) (Config, error) {
	values := make(map[string]string, len(overrides))
	for key, value := range overrides {
		values[envKey(key)] = value
	}
	if _, ok := values[envPrefix+"PROFILE"]; ok {
		return Config{}, fmt.Errorf("profile cannot be changed at runtime")
	}

	seen := map[string]bool{}
	lookup := func(key string) (string, bool) {
		seen[key] = true
		value, ok := values[key]
		return value, ok
	}
	next, err := apply(base, lookup)
	if err != nil {
		return Config{}, err
	}

	var unknown []string
	for key := range values {
		if !seen[key] {
			unknown = append(unknown, key)
		}
	}
	if len(unknown) > 0 {
		sort.Strings(unknown)
		return Config{}, fmt.Errorf("unknown config keys: %s", strings.Join(unknown, ", "))
	}
	return next, nil
}

func envKey(key string) string {
	key = strings.TrimSpace(key)
	upper := strings.ToUpper(strings.NewReplacer(".", "_", "-", "_").Replace(key))
	if strings.HasPrefix(upper, envPrefix) {
		return upper
	}
	return envPrefix + upper
}

// Summary is the config view safe to return to clients.
func (c Config) Summary() map[string]any {
	return map[string]any{
		"profile":                       string(c.Profile),
		"service":                       c.Service.Name,
		"generator_backend":             c.Generator.Backend,
		"generator_base_url":            c.Generator.BaseURL,
		"generator_model":               c.Generator.Model,
		"generator_api_key_set":         c.Generator.APIKey != "",
		"generator_max_tokens":          c.Generator.MaxTokens,
		"generator_timeout":             c.Generator.Timeout.String(),
		"store_driver":                  c.Store.Driver,
		"store_duckdb_path":             c.Store.DuckDBPath,
		"store_clickhouse_url":          c.Store.ClickHouseURL,
		"store_clickhouse_user":         c.Store.ClickHouseUser,
		"store_clickhouse_database":     c.Store.ClickHouseDatabase,
		"store_clickhouse_password_set": c.Store.ClickHousePassword != "",
		"store_query_timeout":           c.Store.QueryTimeout.String(),
		"datasets_enabled":              c.Datasets.Enabled,
		"history_configured":            c.History.DSN != "",
		"history_keep_runs":             c.History.KeepRuns,
		"history_retention_max_age":     c.History.RetentionMaxAge.String(),
		"eval_concurrency":              c.Eval.Concurrency,
		"eval_case_timeout":             c.Eval.CaseTimeout.String(),
		"objectstore_endpoint":          c.ObjectStore.Endpoint,
		"objectstore_bucket":            c.ObjectStore.Bucket,
		"objectstore_secret_key_set":    c.ObjectStore.SecretAccessKey != "",
		"http_request_timeout":          c.HTTP.RequestTimeout.String(),
		"auth_required":                 c.Auth.Required,
	}
}
