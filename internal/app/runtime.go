// Package app builds the query and evaluation runtime from a config snapshot.
package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/querygate/querygate/internal/config"
	"github.com/querygate/querygate/internal/eval"
	"github.com/querygate/querygate/internal/failure"
	"github.com/querygate/querygate/internal/grammar"
	"github.com/querygate/querygate/internal/history"
	"github.com/querygate/querygate/internal/nl2sql"
	"github.com/querygate/querygate/internal/pipeline"
	"github.com/querygate/querygate/internal/query"
	"github.com/querygate/querygate/internal/query/clickhouse"
	"github.com/querygate/querygate/internal/query/duckdb"
	"github.com/querygate/querygate/internal/schema"
	"github.com/querygate/querygate/internal/seed"
	"github.com/querygate/querygate/internal/storage"
	s3store "github.com/querygate/querygate/internal/storage/s3"
	"github.com/querygate/querygate/internal/validate"
)

// Options replaces parts of the runtime that would otherwise be built from config.
type Options struct {
	Logger *slog.Logger
	// Backend overrides the generation backend named by the config.
	Backend nl2sql.Backend
	// ObjectStore overrides the S3 store used for Parquet datasets.
	ObjectStore storage.ObjectStore
	History     history.Store
}

// Runtime is everything one config snapshot needs to answer and evaluate queries. It is
// immutable after Build and safe for concurrent use.
type Runtime struct {
	Config    config.Config
	Schema    schema.Schema
	Grammar   *grammar.Grammar
	Generator *nl2sql.Generator
	Validator *validate.Validator
	Executor  *query.Executor
	Pipeline  *pipeline.Service
	Fixtures  []eval.TestCase
	History   history.Store

	store  query.Store
	logger *slog.Logger
}

func Build(ctx context.Context, cfg config.Config, opts Options) (*Runtime, error) {
	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	hist := opts.History
	if hist == nil {
		hist = history.NewMemoryStore()
	}

	declared, err := schema.LoadOrDefault(cfg.Schema.Path)
	if err != nil {
		return nil, err
	}
	store, sch, err := openStore(ctx, cfg, opts, declared, logger)
	if err != nil {
		return nil, err
	}
	rt, err := assemble(cfg, opts, store, sch, hist, logger)
	if err != nil {
		_ = store.Close()
		return nil, err
	}
	logger.Info("runtime ready",
		slog.String("generator_backend", cfg.Generator.Backend),
		slog.String("store_driver", cfg.Store.Driver),
		slog.Int("tables", len(sch.Tables)),
		slog.Int("fixtures", len(rt.Fixtures)),
	)
	return rt, nil
}

func assemble(cfg config.Config, opts Options, store query.Store, sch schema.Schema, hist history.Store, logger *slog.Logger) (*Runtime, error) {
	g, err := sch.Grammar()
	if err != nil {
		return nil, fmt.Errorf("build grammar: %w", err)
	}
	backend := opts.Backend
	if backend == nil {
		backend, err = newBackend(cfg.Generator)
		if err != nil {
			return nil, err
		}
	}
	generator, err := nl2sql.NewGenerator(backend, g, nl2sql.GeneratorOptions{MaxTokens: cfg.Generator.MaxTokens, Logger: logger})
	if err != nil {
		return nil, err
	}
	validator, err := validate.New(g)
	if err != nil {
		return nil, err
	}
	executor, err := query.NewExecutor(store, cfg.Store.QueryTimeout, logger)
	if err != nil {
		return nil, err
	}
	service, err := pipeline.New(generator, validator, executor, pipeline.Options{
		RequestTimeout: cfg.HTTP.RequestTimeout,
		MaxTokens:      cfg.Generator.MaxTokens,
		Schema:         sch,
		Logger:         logger,
	})
	if err != nil {
		return nil, err
	}
	fixtures, err := eval.LoadFixturesOrDefault(cfg.Eval.FixturesPath)
	if err != nil {
		return nil, err
	}
	return &Runtime{
		Config:    cfg,
		Schema:    sch,
		Grammar:   g,
		Generator: generator,
		Validator: validator,
		Executor:  executor,
		Pipeline:  service,
		Fixtures:  fixtures,
		History:   hist,
		store:     store,
		logger:    logger,
	}, nil
}

// Evaluate runs cases (the configured fixtures when empty) and stores the report. A failure
// to store is logged; the report is still returned.
func (r *Runtime) Evaluate(ctx context.Context, cases []eval.TestCase, progress func(eval.Progress)) (eval.Report, error) {
	if len(cases) == 0 {
		cases = r.Fixtures
	}
	evaluator, err := eval.New(r.Generator, r.Validator, r.Executor, eval.Options{
		Concurrency:      r.Config.Eval.Concurrency,
		CaseTimeout:      r.Config.Eval.CaseTimeout,
		ExecutionTimeout: r.Config.Eval.ExecutionTimeout,
		Schema:           r.Schema,
		Logger:           r.logger,
		Progress:         progress,
	})
	if err != nil {
		return eval.Report{}, err
	}
	report, err := evaluator.Run(ctx, cases)
	if err != nil {
		return eval.Report{}, err
	}
	if err := r.History.SaveReport(ctx, report); err != nil {
		r.logger.ErrorContext(ctx, "failed to store evaluation report",
			slog.String("run_id", report.RunID),
			slog.Any("error", err),
		)
	}
	return report, nil
}

// Answer runs the pipeline and records an audit entry for the request.
func (r *Runtime) Answer(ctx context.Context, traceID, naturalLanguage string) (pipeline.Answer, error) {
	start := time.Now()
	answer, err := r.Pipeline.Run(ctx, naturalLanguage)
	audit := history.QueryAudit{
		TraceID:         traceID,
		NaturalLanguage: naturalLanguage,
		GeneratedQuery:  answer.Query.RawText,
		Provider:        answer.Query.Provider,
		Outcome:         eval.OutcomeOK,
		Duration:        time.Since(start),
	}
	if err != nil {
		audit.Outcome = "error"
		if kind, ok := failure.KindOf(err); ok {
			audit.Outcome = string(kind)
		}
		audit.ErrorMessage = err.Error()
	}
	// The audit write must not be cut short by a request that already timed out.
	auditCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 2*time.Second)
	defer cancel()
	if recordErr := r.History.RecordQuery(auditCtx, audit); recordErr != nil {
		r.logger.WarnContext(ctx, "failed to record query audit", slog.Any("error", recordErr))
	}
	return answer, err
}

func (r *Runtime) Ready(ctx context.Context) error {
	return r.Executor.Ping(ctx)
}

func (r *Runtime) Close() error {
	return r.store.Close()
}

func newBackend(cfg config.GeneratorConfig) (nl2sql.Backend, error) {
	switch cfg.Backend {
	case config.BackendScripted:
		return nl2sql.NewDecoder(nl2sql.NewScriptedSampler(nl2sql.DefaultScript(), cfg.ScriptDelay), "scripted")
	case config.BackendOllama:
		sampler, err := nl2sql.NewOllamaSampler(nl2sql.OllamaConfig{
			BaseURL:     cfg.BaseURL,
			Model:       cfg.Model,
			Temperature: cfg.Temperature,
			Timeout:     cfg.Timeout,
		})
		if err != nil {
			return nil, fmt.Errorf("ollama backend: %w", err)
		}
		return nl2sql.NewDecoder(sampler, "ollama")
	case config.BackendOpenAI:
		backend, err := nl2sql.NewResponsesBackend(nl2sql.OpenAIConfig{
			BaseURL:     cfg.BaseURL,
			APIKey:      cfg.APIKey,
			Model:       cfg.Model,
			Temperature: cfg.Temperature,
			Timeout:     cfg.Timeout,
		})
		if err != nil {
			return nil, fmt.Errorf("openai backend: %w", err)
		}
		return backend, nil
	default:
		return nil, fmt.Errorf("unsupported generator backend %q", cfg.Backend)
	}
}

func openStore(ctx context.Context, cfg config.Config, opts Options, declared schema.Schema, logger *slog.Logger) (query.Store, schema.Schema, error) {
	switch cfg.Store.Driver {
	case config.DriverClickHouse:
		store, err := clickhouse.New(clickhouse.Config{
			URL:          cfg.Store.ClickHouseURL,
			User:         cfg.Store.ClickHouseUser,
			Password:     cfg.Store.ClickHousePassword,
			Database:     cfg.Store.ClickHouseDatabase,
			Timeout:      cfg.Store.QueryTimeout,
			MaxOpenConns: cfg.Store.MaxOpenConns,
		})
		if err != nil {
			return nil, schema.Schema{}, err
		}
		return store, declared, nil
	case config.DriverDuckDB:
		return openDuckDB(ctx, cfg, opts, declared, logger)
	default:
		return nil, schema.Schema{}, fmt.Errorf("unsupported store driver %q", cfg.Store.Driver)
	}
}

func openDuckDB(ctx context.Context, cfg config.Config, opts Options, declared schema.Schema, logger *slog.Logger) (query.Store, schema.Schema, error) {
	duckCfg := duckdb.Config{Path: cfg.Store.DuckDBPath, MaxOpenConns: cfg.Store.MaxOpenConns}
	if cfg.Datasets.Enabled {
		objects := opts.ObjectStore
		if objects == nil {
			var err error
			objects, err = s3store.New(ctx, s3store.Config{
				Endpoint:         cfg.ObjectStore.Endpoint,
				Region:           cfg.ObjectStore.Region,
				Bucket:           cfg.ObjectStore.Bucket,
				AccessKeyID:      cfg.ObjectStore.AccessKeyID,
				SecretAccessKey:  cfg.ObjectStore.SecretAccessKey,
				UseSSL:           cfg.ObjectStore.UseSSL,
				Prefix:           cfg.ObjectStore.Prefix,
				AutoCreateBucket: cfg.ObjectStore.AutoCreateBucket,
			})
			if err != nil {
				return nil, schema.Schema{}, fmt.Errorf("initialize object store: %w", err)
			}
		}
		datasets, err := discoverDatasets(ctx, objects, declared.TableNames())
		if err != nil {
			return nil, schema.Schema{}, err
		}
		duckCfg.ObjectStore = objects
		duckCfg.Datasets = datasets
	}

	store, err := duckdb.Open(ctx, duckCfg)
	if err != nil {
		return nil, schema.Schema{}, err
	}
	if strings.TrimSpace(cfg.Store.DuckDBPath) == "" && !cfg.Datasets.Enabled {
		// An in-memory database starts empty; give it the sample tables.
		result, err := seed.LoadDuckDB(ctx, store.DB(), seed.NewGenerator(1).Generate(seed.DefaultConfig()), false)
		if err != nil {
			_ = store.Close()
			return nil, schema.Schema{}, fmt.Errorf("seed in-memory database: %w", err)
		}
		logger.Info("seeded in-memory database", slog.Int("orders", result.Orders))
	}

	if !cfg.Schema.Introspect {
		return store, declared, nil
	}
	introspected, err := store.Schema(ctx)
	if err != nil {
		_ = store.Close()
		return nil, schema.Schema{}, err
	}
	return store, introspected, nil
}

func discoverDatasets(ctx context.Context, objects storage.ObjectStore, tables []string) ([]duckdb.Dataset, error) {
	var datasets []duckdb.Dataset
	for _, table := range tables {
		prefix, err := storage.DatasetPrefix(table)
		if err != nil {
			return nil, err
		}
		listed, err := objects.List(ctx, prefix)
		if err != nil {
			return nil, fmt.Errorf("list dataset %s: %w", table, err)
		}
		dataset := duckdb.Dataset{Table: table}
		for _, object := range listed {
			if strings.HasSuffix(object.Key, ".parquet") {
				dataset.Objects = append(dataset.Objects, object.Key)
			}
		}
		if len(dataset.Objects) > 0 {
			datasets = append(datasets, dataset)
		}
	}
	if len(datasets) == 0 {
		return nil, errors.New("datasets enabled but no parquet objects found")
	}
	return datasets, nil
}
