package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/querygate/querygate/internal/eval"
	"github.com/querygate/querygate/internal/history"
)

type Repository struct {
	db  *sql.DB
	now func() time.Time
}

func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db, now: time.Now}
}

func (r *Repository) HealthCheck(ctx context.Context) error {
	if err := r.db.PingContext(ctx); err != nil {
		return fmt.Errorf("ping history db: %w", err)
	}
	return nil
}

// SaveReport stores the run row, its full JSON document and one row per outcome in a single
// transaction.
func (r *Repository) SaveReport(ctx context.Context, report eval.Report) error {
	document, err := json.Marshal(report)
	if err != nil {
		return fmt.Errorf("encode report: %w", err)
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `
INSERT INTO evaluation_run (run_id, started_at, finished_at, total_cases, matched_cases, executed_cases, match_accuracy, execution_accuracy, mean_generation_latency_ms, report_json)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10::jsonb)`,
		report.RunID,
		report.StartedAt,
		report.FinishedAt,
		report.Totals.Total,
		report.Totals.Matched,
		report.Totals.Executed,
		report.Totals.MatchAccuracy,
		report.Totals.ExecutionAccuracy,
		report.Totals.MeanGenerationLatencyMS,
		string(document),
	); err != nil {
		return fmt.Errorf("insert evaluation run: %w", err)
	}

	for position, outcome := range report.Outcomes {
		if _, err := tx.ExecContext(ctx, `
INSERT INTO evaluation_outcome (run_id, position, case_id, category, generated_query, matched, executed, outcome, error_message, generation_latency_ms, execution_latency_ms)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
			report.RunID,
			position,
			outcome.CaseID,
			outcome.Category.String(),
			outcome.GeneratedQuery,
			outcome.Matched,
			outcome.Executed,
			outcome.Outcome,
			outcome.Error,
			outcome.GenerationLatencyMS,
			outcome.ExecutionLatencyMS,
		); err != nil {
			return fmt.Errorf("insert outcome %q: %w", outcome.CaseID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit evaluation run: %w", err)
	}
	return nil
}

func (r *Repository) ListRuns(ctx context.Context, limit int) ([]history.RunSummary, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := r.db.QueryContext(ctx, `
SELECT run_id, started_at, finished_at, total_cases, matched_cases, executed_cases, match_accuracy, execution_accuracy, mean_generation_latency_ms
FROM evaluation_run
ORDER BY started_at DESC
LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("list evaluation runs: %w", err)
	}
	defer func() { _ = rows.Close() }()

	out := make([]history.RunSummary, 0)
	for rows.Next() {
		var run history.RunSummary
		if err := rows.Scan(
			&run.RunID,
			&run.StartedAt,
			&run.FinishedAt,
			&run.Total,
			&run.Matched,
			&run.Executed,
			&run.MatchAccuracy,
			&run.ExecutionAccuracy,
			&run.MeanGenerationLatencyMS,
		); err != nil {
			return nil, fmt.Errorf("scan evaluation run: %w", err)
		}
		out = append(out, run)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate evaluation runs: %w", err)
	}
	return out, nil
}

func (r *Repository) GetReport(ctx context.Context, runID string) (eval.Report, error) {
	var document []byte
	if err := r.db.QueryRowContext(ctx, `
SELECT report_json
FROM evaluation_run
WHERE run_id = $1`, runID).Scan(&document); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return eval.Report{}, history.ErrNotFound
		}
		return eval.Report{}, fmt.Errorf("get evaluation run: %w", err)
	}
	var report eval.Report
	if err := json.Unmarshal(document, &report); err != nil {
		return eval.Report{}, fmt.Errorf("decode evaluation run %s: %w", runID, err)
	}
	return report, nil
}

func (r *Repository) RecordQuery(ctx context.Context, audit history.QueryAudit) error {
	createdAt := audit.CreatedAt
	if createdAt.IsZero() {
		createdAt = r.now().UTC()
	}
	if _, err := r.db.ExecContext(ctx, `
INSERT INTO query_audit (trace_id, natural_language, generated_query, outcome, error_message, provider, duration_ms, created_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		audit.TraceID,
		audit.NaturalLanguage,
		audit.GeneratedQuery,
		audit.Outcome,
		audit.ErrorMessage,
		audit.Provider,
		audit.Duration.Milliseconds(),
		createdAt,
	); err != nil {
		return fmt.Errorf("insert query audit: %w", err)
	}
	return nil
}

// Prune removes old runs and audits in one transaction. Outcome rows follow their run through
// the foreign key cascade.
func (r *Repository) Prune(ctx context.Context, keepRuns int, olderThan time.Time) (history.PruneResult, error) {
	if keepRuns < 0 {
		keepRuns = 0
	}
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return history.PruneResult{}, fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	runs, err := tx.ExecContext(ctx, `
DELETE FROM evaluation_run
WHERE started_at < $2
  AND run_id NOT IN (SELECT run_id FROM evaluation_run ORDER BY started_at DESC LIMIT $1)`,
		keepRuns, olderThan,
	)
	if err != nil {
		return history.PruneResult{}, fmt.Errorf("delete evaluation runs: %w", err)
	}
	audits, err := tx.ExecContext(ctx, `DELETE FROM query_audit WHERE created_at < $1`, olderThan)
	if err != nil {
		return history.PruneResult{}, fmt.Errorf("delete query audits: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return history.PruneResult{}, fmt.Errorf("commit prune: %w", err)
	}

	var result history.PruneResult
	result.RunsDeleted, _ = runs.RowsAffected()
	result.AuditsDeleted, _ = audits.RowsAffected()
	return result, nil
}

var (
	_ history.Store  = (*Repository)(nil)
	_ history.Pruner = (*Repository)(nil)
)
