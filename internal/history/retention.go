package history

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/querygate/querygate/internal/observability"
)

type RetentionConfig struct {
	Interval time.Duration
	MaxAge   time.Duration
	KeepRuns int
}

// Retention prunes a history store on a fixed interval.
type Retention struct {
	Store  Pruner
	Config RetentionConfig
	Logger *slog.Logger
	Clock  func() time.Time
}

// Run prunes once per interval until ctx ends. A failed pass is logged and retried on the
// next tick.
func (r *Retention) Run(ctx context.Context) error {
	if r.Config.Interval <= 0 {
		return errors.New("retention interval must be positive")
	}
	ticker := time.NewTicker(r.Config.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			result, err := r.RunOnce(ctx)
			if err != nil {
				if r.Logger != nil {
					r.Logger.ErrorContext(ctx, "history retention failed", slog.Any("error", err))
				}
				continue
			}
			if r.Logger != nil {
				r.Logger.InfoContext(ctx, "history retention completed",
					slog.Int64("runs_deleted", result.RunsDeleted),
					slog.Int64("audits_deleted", result.AuditsDeleted),
				)
			}
		}
	}
}

func (r *Retention) RunOnce(ctx context.Context) (PruneResult, error) {
	if r.Store == nil {
		return PruneResult{}, errors.New("history store is required")
	}
	if r.Config.MaxAge <= 0 {
		return PruneResult{}, errors.New("retention max age must be positive")
	}
	clock := r.Clock
	if clock == nil {
		clock = time.Now
	}
	result, err := r.Store.Prune(ctx, r.Config.KeepRuns, clock().UTC().Add(-r.Config.MaxAge))
	if err != nil {
		return PruneResult{}, err
	}
	observability.AddHistoryPruned("run", result.RunsDeleted)
	observability.AddHistoryPruned("audit", result.AuditsDeleted)
	return result, nil
}
