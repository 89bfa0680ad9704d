package history

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/querygate/querygate/internal/eval"
)

var ErrNotFound = errors.New("not found")

// RunSummary is the list view of a stored evaluation report.
type RunSummary struct {
	RunID                   string    `json:"run_id"`
	StartedAt               time.Time `json:"started_at"`
	FinishedAt              time.Time `json:"finished_at"`
	Total                   int       `json:"total"`
	Matched                 int       `json:"matched"`
	Executed                int       `json:"executed"`
	MatchAccuracy           float64   `json:"match_accuracy"`
	ExecutionAccuracy       float64   `json:"execution_accuracy"`
	MeanGenerationLatencyMS float64   `json:"mean_generation_latency_ms"`
}

// QueryAudit records one interactive request and how it ended.
type QueryAudit struct {
	TraceID         string
	NaturalLanguage string
	GeneratedQuery  string
	Outcome         string
	ErrorMessage    string
	Provider        string
	Duration        time.Duration
	CreatedAt       time.Time
}

type Store interface {
	SaveReport(ctx context.Context, report eval.Report) error
	ListRuns(ctx context.Context, limit int) ([]RunSummary, error)
	GetReport(ctx context.Context, runID string) (eval.Report, error)
	RecordQuery(ctx context.Context, audit QueryAudit) error
}

// PruneResult counts what one retention pass removed.
type PruneResult struct {
	RunsDeleted   int64 `json:"runs_deleted"`
	AuditsDeleted int64 `json:"audits_deleted"`
}

// Pruner deletes evaluation runs started before olderThan, except the newest keepRuns, and
// query audits created before olderThan.
type Pruner interface {
	Prune(ctx context.Context, keepRuns int, olderThan time.Time) (PruneResult, error)
}

func Summarize(report eval.Report) RunSummary {
	return RunSummary{
		RunID:                   report.RunID,
		StartedAt:               report.StartedAt,
		FinishedAt:              report.FinishedAt,
		Total:                   report.Totals.Total,
		Matched:                 report.Totals.Matched,
		Executed:                report.Totals.Executed,
		MatchAccuracy:           report.Totals.MatchAccuracy,
		ExecutionAccuracy:       report.Totals.ExecutionAccuracy,
		MeanGenerationLatencyMS: report.Totals.MeanGenerationLatencyMS,
	}
}

// MemoryStore keeps history in process. It is used when no history database is configured.
type MemoryStore struct {
	mu      sync.RWMutex
	reports map[string]eval.Report
	audits  []QueryAudit
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{reports: map[string]eval.Report{}}
}

func (m *MemoryStore) SaveReport(_ context.Context, report eval.Report) error {
	if report.RunID == "" {
		return errors.New("run id is required")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.reports[report.RunID] = report
	return nil
}

func (m *MemoryStore) ListRuns(_ context.Context, limit int) ([]RunSummary, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]RunSummary, 0, len(m.reports))
	for _, report := range m.reports {
		out = append(out, Summarize(report))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartedAt.After(out[j].StartedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *MemoryStore) GetReport(_ context.Context, runID string) (eval.Report, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	report, ok := m.reports[runID]
	if !ok {
		return eval.Report{}, ErrNotFound
	}
	return report, nil
}

func (m *MemoryStore) RecordQuery(_ context.Context, audit QueryAudit) error {
	if audit.CreatedAt.IsZero() {
		audit.CreatedAt = time.Now().UTC()
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.audits = append(m.audits, audit)
	return nil
}

func (m *MemoryStore) Prune(_ context.Context, keepRuns int, olderThan time.Time) (PruneResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	runs := make([]eval.Report, 0, len(m.reports))
	for _, report := range m.reports {
		runs = append(runs, report)
	}
	sort.Slice(runs, func(i, j int) bool { return runs[i].StartedAt.After(runs[j].StartedAt) })

	var result PruneResult
	for i, report := range runs {
		if i < keepRuns || !report.StartedAt.Before(olderThan) {
			continue
		}
		delete(m.reports, report.RunID)
		result.RunsDeleted++
	}

	kept := m.audits[:0]
	for _, audit := range m.audits {
		if audit.CreatedAt.Before(olderThan) {
			result.AuditsDeleted++
			continue
		}
		kept = append(kept, audit)
	}
	m.audits = kept
	return result, nil
}

var (
	_ Store  = (*MemoryStore)(nil)
	_ Pruner = (*MemoryStore)(nil)
)

func (m *MemoryStore) Audits() []QueryAudit {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]QueryAudit(nil), m.audits...)
}
