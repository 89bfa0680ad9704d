package app

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/querygate/querygate/internal/config"
)

func TestManagerReloadSwapsRuntimeAndKeepsHistory(t *testing.T) {
	holder := config.NewHolder(testConfig(t, nil))
	manager, err := NewManager(context.Background(), holder, Options{})
	if err != nil {
		t.Fatalf("NewManager() error = %v", err)
	}
	defer func() { _ = manager.Close() }()
	manager.drain = 10 * time.Millisecond

	before := manager.Runtime()
	if _, err := before.Evaluate(context.Background(), nil, nil); err != nil {
		t.Fatalf("Evaluate() error = %v", err)
	}

	next, err := manager.Reload(context.Background(), map[string]string{"generator.max_tokens": "48"})
	if err != nil {
		t.Fatalf("Reload() error = %v", err)
	}
	if next.Generator.MaxTokens != 48 || manager.Config().Generator.MaxTokens != 48 {
		t.Fatalf("MaxTokens = %d / %d", next.Generator.MaxTokens, manager.Config().Generator.MaxTokens)
	}
	after := manager.Runtime()
	if after == before {
		t.Fatal("expected a new runtime")
	}
	if before.Config.Generator.MaxTokens != 64 {
		t.Fatalf("old runtime config changed: %d", before.Config.Generator.MaxTokens)
	}
	runs, err := after.History.ListRuns(context.Background(), 10)
	if err != nil || len(runs) != 1 {
		t.Fatalf("ListRuns() = %v, %v", runs, err)
	}
}

func TestManagerReloadRejectsBadOverridesWithoutChanges(t *testing.T) {
	holder := config.NewHolder(testConfig(t, nil))
	manager, err := NewManager(context.Background(), holder, Options{})
	if err != nil {
		t.Fatalf("NewManager() error = %v", err)
	}
	defer func() { _ = manager.Close() }()

	before := manager.Runtime()
	cases := []map[string]string{
		{"generator.max_tokens": "zero"},
		{"no.such.key": "1"},
		{"store.driver": "clickhouse"},
		{"schema.path": filepath.Join(t.TempDir(), "missing.yaml")},
	}
	for _, overrides := range cases {
		if _, err := manager.Reload(context.Background(), overrides); err == nil {
			t.Fatalf("Reload(%v) expected error", overrides)
		}
	}
	if manager.Runtime() != before || manager.Config().Store.Driver != config.DriverDuckDB || manager.Config().Schema.Path != "" {
		t.Fatal("failed reload must not change the runtime")
	}
}
