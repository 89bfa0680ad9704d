package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/querygate/querygate/internal/api"
	"github.com/querygate/querygate/internal/app"
	"github.com/querygate/querygate/internal/auth"
	"github.com/querygate/querygate/internal/config"
	"github.com/querygate/querygate/internal/history"
	historypostgres "github.com/querygate/querygate/internal/history/postgres"
	"github.com/querygate/querygate/internal/observability"
)

func main() {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		slog.Warn("failed to read .env file", slog.Any("error", err))
	}

	cfg, err := config.LoadFromEnv("querygate-api")
	if err != nil {
		slog.Error("failed to load config", slog.Any("error", err))
		os.Exit(1)
	}
	logger := observability.NewLogger(cfg, os.Stdout)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	opts := app.Options{Logger: logger}
	readiness := []api.ReadinessCheck{}
	if cfg.History.DSN != "" {
		historyDB, err := historypostgres.Open(ctx, historypostgres.DBConfig{
			DSN:             cfg.History.DSN,
			ApplicationName: cfg.Service.Name,
			MaxOpenConns:    cfg.History.MaxOpenConns,
			MaxIdleConns:    cfg.History.MaxIdleConns,
			ConnMaxIdleTime: cfg.History.ConnMaxIdleTime,
			ConnMaxLifetime: cfg.History.ConnMaxLifetime,
		})
		if err != nil {
			logger.Error("failed to open history db", slog.Any("error", err))
			os.Exit(1)
		}
		defer func() { _ = historyDB.Close() }()
		repo := historypostgres.NewRepository(historyDB)
		opts.History = repo
		readiness = append(readiness, repo.HealthCheck)
	}

	manager, err := app.NewManager(ctx, config.NewHolder(cfg), opts)
	if err != nil {
		logger.Error("failed to build query runtime", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() { _ = manager.Close() }()

	deps := api.Dependencies{
		Logger:           logger,
		Runtimes:         manager,
		Readiness:        api.CombineReadinessChecks(append(readiness, api.CheckRuntime(manager))...),
		DependencyTimout: time.Second,
	}
	if cfg.Auth.Required {
		validator, err := auth.NewStaticAPIKeyValidator(cfg.Auth.StaticKeys)
		if err != nil {
			logger.Error("failed to parse static auth keys", slog.Any("error", err))
			os.Exit(1)
		}
		deps.AuthMiddleware = auth.Middleware(logger, validator)
	}

	if pruner, ok := manager.Runtime().History.(history.Pruner); ok && cfg.History.RetentionInterval > 0 {
		retention := &history.Retention{
			Store: pruner,
			Config: history.RetentionConfig{
				Interval: cfg.History.RetentionInterval,
				MaxAge:   cfg.History.RetentionMaxAge,
				KeepRuns: cfg.History.KeepRuns,
			},
			Logger: logger,
		}
		go func() {
			if err := retention.Run(ctx); err != nil {
				logger.Error("history retention stopped", slog.Any("error", err))
			}
		}()
	}

	if cfg.Eval.RunOnStart {
		go func() {
			report, err := manager.Runtime().Evaluate(ctx, nil, nil)
			if err != nil {
				logger.Error("startup evaluation failed", slog.Any("error", err))
				return
			}
			logger.Info("startup evaluation finished",
				slog.String("run_id", report.RunID),
				slog.Float64("match_accuracy", report.Totals.MatchAccuracy),
				slog.Float64("execution_accuracy", report.Totals.ExecutionAccuracy),
			)
		}()
	}

	server := &http.Server{
		Addr:         cfg.HTTP.Address,
		Handler:      api.NewHandler(cfg, deps),
		ReadTimeout:  cfg.HTTP.ReadTimeout,
		WriteTimeout: cfg.HTTP.WriteTimeout,
		IdleTimeout:  cfg.HTTP.IdleTimeout,
	}

	go func() {
		logger.Info("starting api server", slog.String("addr", cfg.HTTP.Address), slog.String("profile", string(cfg.Profile)))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("api server failed", slog.Any("error", err))
			stop()
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	logger.Info("shutting down api server")
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown failed", slog.Any("error", err))
		_ = server.Close()
		os.Exit(1)
	}
}
