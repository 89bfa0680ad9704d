package app

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/querygate/querygate/internal/config"
	"github.com/querygate/querygate/internal/eval"
	"github.com/querygate/querygate/internal/failure"
	"github.com/querygate/querygate/internal/history"
	"github.com/querygate/querygate/internal/nl2sql"
	"github.com/querygate/querygate/internal/seed"
	"github.com/querygate/querygate/internal/storage"
)

func testConfig(t *testing.T, values map[string]string) config.Config {
	t.Helper()
	lookup := map[string]string{"QUERYGATE_PROFILE": "test"}
	for key, value := range values {
		lookup[key] = value
	}
	cfg, err := config.Load("querygate-api", func(key string) (string, bool) {
		value, ok := lookup[key]
		return value, ok
	})
	if err != nil {
		t.Fatalf("config.Load() error = %v", err)
	}
	return cfg
}

func buildRuntime(t *testing.T, cfg config.Config, opts Options) *Runtime {
	t.Helper()
	rt, err := Build(context.Background(), cfg, opts)
	if err != nil {
		t.Fatalf("Build() error = %v", err)
	}
	t.Cleanup(func() { _ = rt.Close() })
	return rt
}

func TestBuildAnswersAgainstSeededInMemoryDatabase(t *testing.T) {
	store := history.NewMemoryStore()
	rt := buildRuntime(t, testConfig(t, nil), Options{History: store})

	answer, err := rt.Answer(context.Background(), "trace-1", "count orders with status completed")
	if err != nil {
		t.Fatalf("Answer() error = %v", err)
	}
	if answer.Normalized != "SELECT COUNT(*) FROM orders WHERE status = 'completed'" {
		t.Fatalf("Normalized = %q", answer.Normalized)
	}
	if answer.Result.RowCount != 1 {
		t.Fatalf("RowCount = %d", answer.Result.RowCount)
	}
	if err := rt.Ready(context.Background()); err != nil {
		t.Fatalf("Ready() error = %v", err)
	}

	audits := store.Audits()
	if len(audits) != 1 || audits[0].TraceID != "trace-1" || audits[0].Outcome != "ok" || audits[0].Provider != "scripted" {
		t.Fatalf("audits = %+v", audits)
	}
}

func TestAnswerRecordsFailureKind(t *testing.T) {
	store := history.NewMemoryStore()
	rt := buildRuntime(t, testConfig(t, nil), Options{History: store})

	_, err := rt.Answer(context.Background(), "trace-2", "something the script does not know")
	if kind, ok := failure.KindOf(err); !ok || kind != failure.KindGenerationFailed {
		t.Fatalf("Answer() error = %v", err)
	}
	audits := store.Audits()
	if len(audits) != 1 || audits[0].Outcome != string(failure.KindGenerationFailed) || audits[0].ErrorMessage == "" {
		t.Fatalf("audits = %+v", audits)
	}
}

func TestEvaluateStoresReport(t *testing.T) {
	store := history.NewMemoryStore()
	rt := buildRuntime(t, testConfig(t, map[string]string{"QUERYGATE_EVAL_CONCURRENCY": "2"}), Options{History: store})

	var progress atomic.Int64
	report, err := rt.Evaluate(context.Background(), nil, func(eval.Progress) { progress.Add(1) })
	if err != nil {
		t.Fatalf("Evaluate() error = %v", err)
	}
	if report.Totals.Total != len(rt.Fixtures) || report.Totals.Matched != report.Totals.Total || report.Totals.Executed != report.Totals.Total {
		t.Fatalf("totals = %+v", report.Totals)
	}
	if int(progress.Load()) != len(rt.Fixtures) {
		t.Fatalf("progress callbacks = %d", progress.Load())
	}
	stored, err := store.GetReport(context.Background(), report.RunID)
	if err != nil {
		t.Fatalf("GetReport() error = %v", err)
	}
	if stored.Totals.Total != report.Totals.Total {
		t.Fatalf("stored totals = %+v", stored.Totals)
	}
}

func TestBuildAttachesParquetDatasets(t *testing.T) {
	objects := storage.NewMemoryStore()
	cfg := seed.DefaultConfig()
	cfg.Orders = 40
	if _, err := seed.WriteParquet(context.Background(), objects, seed.NewGenerator(5).Generate(cfg)); err != nil {
		t.Fatalf("WriteParquet() error = %v", err)
	}

	rt := buildRuntime(t, testConfig(t, map[string]string{
		"QUERYGATE_DATASETS_ENABLED": "true",
		"QUERYGATE_SCHEMA_INTROSPECT": "true",
	}), Options{ObjectStore: objects})

	answer, err := rt.Answer(context.Background(), "", "count all orders")
	if err != nil {
		t.Fatalf("Answer() error = %v", err)
	}
	if answer.Result.Rows[0][0] != int64(40) {
		t.Fatalf("count = %v", answer.Result.Rows[0][0])
	}
	if _, ok := rt.Schema.Table("customers"); !ok {
		t.Fatalf("introspected schema = %+v", rt.Schema)
	}
}

func TestBuildFailsWithoutDatasetObjects(t *testing.T) {
	cfg := testConfig(t, map[string]string{"QUERYGATE_DATASETS_ENABLED": "true"})
	if _, err := Build(context.Background(), cfg, Options{ObjectStore: storage.NewMemoryStore()}); err == nil {
		t.Fatal("expected error when no parquet objects exist")
	}
}

func TestBuildUsesBackendOverride(t *testing.T) {
	backend := backendFunc(func(context.Context, nl2sql.BackendRequest) (nl2sql.BackendResponse, error) {
		return nl2sql.BackendResponse{}, errors.New("offline")
	})
	rt := buildRuntime(t, testConfig(t, nil), Options{Backend: backend})
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if _, err := rt.Answer(ctx, "", "count all orders"); err == nil {
		t.Fatal("expected backend failure")
	}
}

func TestNewBackendRejectsIncompleteHostedConfig(t *testing.T) {
	if _, err := newBackend(config.GeneratorConfig{Backend: config.BackendOpenAI, BaseURL: "https://api.example.com"}); err == nil {
		t.Fatal("expected missing api key error")
	}
	if _, err := newBackend(config.GeneratorConfig{Backend: "carrier-pigeon"}); err == nil {
		t.Fatal("expected unsupported backend error")
	}
	backend, err := newBackend(config.GeneratorConfig{Backend: config.BackendOllama, BaseURL: "http://localhost:11434", Model: "llama3"})
	if err != nil || backend == nil {
		t.Fatalf("newBackend(ollama) = %v, %v", backend, err)
	}
}

type backendFunc func(ctx context.Context, req nl2sql.BackendRequest) (nl2sql.BackendResponse, error)

func (f backendFunc) Complete(ctx context.Context, req nl2sql.BackendRequest) (nl2sql.BackendResponse, error) {
	return f(ctx, req)
}
