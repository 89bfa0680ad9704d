package seed

import (
	"fmt"
	"strconv"
	"strings"
)

type LookupFunc func(string) (string, bool)

type Config struct {
	Customers int
	Products  int
	Orders    int
	// OrderWindowDays spreads order dates over this many days before now.
	OrderWindowDays int
	Seed            int64
	// Reset replaces existing rows. Without it a populated database is left alone.
	Reset       bool
	LoadDuckDB  bool
	LoadParquet bool
}

func DefaultConfig() Config {
	return Config{
		Customers:       100,
		Products:        50,
		Orders:          1000,
		OrderWindowDays: 365,
		Seed:            1,
		LoadDuckDB:      true,
	}
}

func LoadConfigFromEnv(lookup LookupFunc) (Config, error) {
	if lookup == nil {
		return Config{}, fmt.Errorf("lookup function is required")
	}

	cfg := DefaultConfig()
	ints := []struct {
		key string
		dst *int
	}{
		{"QUERYGATE_SEED_CUSTOMERS", &cfg.Customers},
		{"QUERYGATE_SEED_PRODUCTS", &cfg.Products},
		{"QUERYGATE_SEED_ORDERS", &cfg.Orders},
		{"QUERYGATE_SEED_ORDER_WINDOW_DAYS", &cfg.OrderWindowDays},
	}
	for _, field := range ints {
		if err := applyInt(lookup, field.key, field.dst); err != nil {
			return Config{}, err
		}
	}
	if err := applyInt64(lookup, "QUERYGATE_SEED_RANDOM_SEED", &cfg.Seed); err != nil {
		return Config{}, err
	}
	if err := applyBool(lookup, "QUERYGATE_SEED_RESET", &cfg.Reset); err != nil {
		return Config{}, err
	}
	if err := applyBool(lookup, "QUERYGATE_SEED_DUCKDB", &cfg.LoadDuckDB); err != nil {
		return Config{}, err
	}
	if err := applyBool(lookup, "QUERYGATE_SEED_PARQUET", &cfg.LoadParquet); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) Validate() error {
	if c.Customers <= 0 {
		return fmt.Errorf("QUERYGATE_SEED_CUSTOMERS must be > 0")
	}
	if c.Products <= 0 {
		return fmt.Errorf("QUERYGATE_SEED_PRODUCTS must be > 0")
	}
	if c.Orders < 0 {
		return fmt.Errorf("QUERYGATE_SEED_ORDERS must be >= 0")
	}
	if c.OrderWindowDays <= 0 {
		return fmt.Errorf("QUERYGATE_SEED_ORDER_WINDOW_DAYS must be > 0")
	}
	if !c.LoadDuckDB && !c.LoadParquet {
		return fmt.Errorf("at least one of QUERYGATE_SEED_DUCKDB or QUERYGATE_SEED_PARQUET must be true")
	}
	return nil
}

func applyBool(lookup LookupFunc, key string, dst *bool) error {
	raw, ok := lookup(key)
	if !ok {
		return nil
	}
	v, err := strconv.ParseBool(strings.TrimSpace(raw))
	if err != nil {
		return fmt.Errorf("invalid %s: %w", key, err)
	}
	*dst = v
	return nil
}

func applyInt(lookup LookupFunc, key string, dst *int) error {
	raw, ok := lookup(key)
	if !ok {
		return nil
	}
	v, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil {
		return fmt.Errorf("invalid %s: %w", key, err)
	}
	*dst = v
	return nil
}

func applyInt64(lookup LookupFunc, key string, dst *int64) error {
	raw, ok := lookup(key)
	if !ok {
		return nil
	}
	v, err := strconv.ParseInt(strings.TrimSpace(raw), 10, 64)
	if err != nil {
		return fmt.Errorf("invalid %s: %w", key, err)
	}
	*dst = v
	return nil
}
