package main

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/querygate/querygate/internal/config"
	"github.com/querygate/querygate/internal/observability"
	"github.com/querygate/querygate/internal/query/duckdb"
	"github.com/querygate/querygate/internal/seed"
	s3store "github.com/querygate/querygate/internal/storage/s3"
)

func main() {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		slog.Warn("failed to read .env file", slog.Any("error", err))
	}

	cfg, err := config.LoadFromEnv("querygate-seed")
	if err != nil {
		slog.Error("failed to load config", slog.Any("error", err))
		os.Exit(1)
	}
	seedCfg, err := seed.LoadConfigFromEnv(os.LookupEnv)
	if err != nil {
		slog.Error("failed to load seed config", slog.Any("error", err))
		os.Exit(1)
	}
	logger := observability.NewLogger(cfg, os.Stdout)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	data := seed.NewGenerator(seedCfg.Seed).Generate(seedCfg)
	logger.Info("generated sample data",
		slog.Int("customers", len(data.Customers)),
		slog.Int("products", len(data.Products)),
		slog.Int("orders", len(data.Orders)),
		slog.Int64("seed", seedCfg.Seed),
	)

	if seedCfg.LoadDuckDB {
		if err := loadDuckDB(ctx, logger, cfg, seedCfg, data); err != nil {
			logger.Error("duckdb seed failed", slog.Any("error", err))
			os.Exit(1)
		}
	}
	if seedCfg.LoadParquet {
		if err := loadParquet(ctx, logger, cfg, data); err != nil {
			logger.Error("parquet seed failed", slog.Any("error", err))
			os.Exit(1)
		}
	}
}

func loadDuckDB(ctx context.Context, logger *slog.Logger, cfg config.Config, seedCfg seed.Config, data seed.Dataset) error {
	if strings.TrimSpace(cfg.Store.DuckDBPath) == "" {
		return errors.New("QUERYGATE_STORE_DUCKDB_PATH is required to seed a database file")
	}
	store, err := duckdb.Open(ctx, duckdb.Config{Path: cfg.Store.DuckDBPath, MaxOpenConns: 1})
	if err != nil {
		return err
	}
	defer func() { _ = store.Close() }()

	result, err := seed.LoadDuckDB(ctx, store.DB(), data, seedCfg.Reset)
	if err != nil {
		return err
	}
	if result.Skipped {
		logger.Info("duckdb already populated; set QUERYGATE_SEED_RESET=true to replace", slog.String("path", cfg.Store.DuckDBPath))
		return nil
	}
	logger.Info("seeded duckdb",
		slog.String("path", cfg.Store.DuckDBPath),
		slog.Int("customers", result.Customers),
		slog.Int("products", result.Products),
		slog.Int("orders", result.Orders),
	)
	return nil
}

func loadParquet(ctx context.Context, logger *slog.Logger, cfg config.Config, data seed.Dataset) error {
	objects, err := s3store.New(ctx, s3store.Config{
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
		return err
	}
	written, err := seed.WriteParquet(ctx, objects, data)
	if err != nil {
		return err
	}
	for _, object := range written {
		logger.Info("wrote dataset object", slog.String("key", object.Key), slog.Int64("size", object.Size))
	}
	return nil
}
