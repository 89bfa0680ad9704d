package eval

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/querygate/querygate/internal/failure"
	"github.com/querygate/querygate/internal/nl2sql"
	"github.com/querygate/querygate/internal/observability"
	"github.com/querygate/querygate/internal/query"
	"github.com/querygate/querygate/internal/schema"
	"github.com/querygate/querygate/internal/validate"
)

const (
	OutcomeOK = "ok"

	defaultCaseTimeout = 30 * time.Second
)

type Generator interface {
	Generate(ctx context.Context, req nl2sql.GenerationRequest) (nl2sql.GeneratedQuery, error)
}

type Executor interface {
	Execute(ctx context.Context, q nl2sql.GeneratedQuery, timeout time.Duration) query.ExecutionResult
}

// Progress is emitted once per finished case.
type Progress struct {
	Current int     `json:"current"`
	Total   int     `json:"total"`
	CaseID  string  `json:"case_id"`
	Outcome Outcome `json:"outcome"`
}

type Options struct {
	// Concurrency bounds the number of cases in flight. Zero runs sequentially.
	Concurrency int
	// CaseTimeout covers generation and execution of one case.
	CaseTimeout time.Duration
	// ExecutionTimeout caps execution inside the case deadline. Zero uses the remaining case time.
	ExecutionTimeout time.Duration
	Schema           schema.Schema
	Logger           *slog.Logger
	Progress         func(Progress)
	Now              func() time.Time
}

type Evaluator struct {
	generator Generator
	validator *validate.Validator
	executor  Executor
	opts      Options
}

func New(generator Generator, validator *validate.Validator, executor Executor, opts Options) (*Evaluator, error) {
	if generator == nil {
		return nil, errors.New("generator is required")
	}
	if validator == nil {
		return nil, errors.New("validator is required")
	}
	if executor == nil {
		return nil, errors.New("executor is required")
	}
	if opts.Concurrency <= 0 {
		opts.Concurrency = 1
	}
	if opts.CaseTimeout <= 0 {
		opts.CaseTimeout = defaultCaseTimeout
	}
	if opts.Logger == nil {
		opts.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if len(opts.Schema.Tables) == 0 {
		opts.Schema = schema.Default()
	}
	return &Evaluator{generator: generator, validator: validator, executor: executor, opts: opts}, nil
}

// Run evaluates every case and returns the report once all of them have finished or timed
// out. A failing case never stops the batch. The error is non-nil only for invalid input.
func (e *Evaluator) Run(ctx context.Context, cases []TestCase) (Report, error) {
	if err := ValidateFixtures(cases); err != nil {
		return Report{}, fmt.Errorf("evaluation fixtures: %w", err)
	}

	runID := uuid.NewString()
	startedAt := e.opts.Now().UTC()
	logger := e.opts.Logger.With(slog.String("run_id", runID))
	logger.InfoContext(ctx, "evaluation started",
		slog.Int("cases", len(cases)),
		slog.Int("concurrency", e.opts.Concurrency),
	)

	outcomes := make([]Outcome, len(cases))
	jobs := make(chan int)
	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		finished int
	)
	workers := e.opts.Concurrency
	if workers > len(cases) {
		workers = len(cases)
	}
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for idx := range jobs {
				outcome := e.runCase(ctx, logger, cases[idx])
				outcomes[idx] = outcome

				mu.Lock()
				finished++
				current := finished
				mu.Unlock()
				if e.opts.Progress != nil {
					e.opts.Progress(Progress{Current: current, Total: len(cases), CaseID: outcome.CaseID, Outcome: outcome})
				}
			}
		}()
	}
	for idx := range cases {
		jobs <- idx
	}
	close(jobs)
	wg.Wait()

	report := buildReport(runID, startedAt, e.opts.Now().UTC(), outcomes)
	observability.IncrementEvaluationRuns()
	for _, category := range Categories {
		stats := report.Categories[category]
		observability.SetEvaluationAccuracy(category.String(), stats.MatchAccuracy, stats.ExecutionAccuracy)
	}
	logger.InfoContext(ctx, "evaluation finished",
		slog.Int("total", report.Totals.Total),
		slog.Int("matched", report.Totals.Matched),
		slog.Int("executed", report.Totals.Executed),
		slog.Float64("match_accuracy", report.Totals.MatchAccuracy),
		slog.Float64("execution_accuracy", report.Totals.ExecutionAccuracy),
	)
	return report, nil
}

func (e *Evaluator) runCase(ctx context.Context, logger *slog.Logger, tc TestCase) Outcome {
	outcome := Outcome{
		CaseID:               tc.ID,
		Category:             tc.Category,
		NaturalLanguageQuery: tc.NaturalLanguageQuery,
		ExpectedQuery:        tc.ExpectedQuery,
	}

	caseCtx, cancel := context.WithTimeout(ctx, e.opts.CaseTimeout)
	defer cancel()

	generated, err := e.generator.Generate(caseCtx, nl2sql.GenerationRequest{
		NaturalLanguage: tc.NaturalLanguageQuery,
		Schema:          e.opts.Schema,
	})
	if err != nil {
		outcome.Outcome = string(failure.KindGenerationFailed)
		outcome.Error = err.Error()
		logger.WarnContext(ctx, "evaluation case generation failed", slog.String("case_id", tc.ID), slog.String("error", err.Error()))
		return outcome
	}
	outcome.GeneratedQuery = generated.RawText
	outcome.GenerationLatency = generated.GenerationLatency

	validated := e.validator.Validate(generated)
	outcome.NormalizedQuery = validated.Normalized
	if !validated.Valid {
		observability.IncrementGrammarViolation()
		outcome.Outcome = string(failure.KindGrammarViolation)
		outcome.Error = validated.Message
		logger.ErrorContext(ctx, "generated statement violates grammar",
			slog.String("case_id", tc.ID),
			slog.String("query", generated.RawText),
			slog.Int("offset", validated.Offset),
			slog.Bool("grammar_valid_claimed", generated.GrammarValid),
		)
		return outcome
	}
	outcome.Matched = validated.Normalized == e.validator.Grammar().Normalize(tc.ExpectedQuery)

	executed := e.executor.Execute(caseCtx, generated, e.executionTimeout(caseCtx))
	if executed.Failure != nil {
		outcome.Outcome = string(executed.Failure.Kind)
		outcome.Error = executed.Failure.Message
		return outcome
	}
	outcome.Executed = true
	outcome.Outcome = OutcomeOK
	outcome.RowCount = executed.Success.RowCount
	outcome.ExecutionLatency = executed.Success.Latency
	return outcome
}

func (e *Evaluator) executionTimeout(ctx context.Context) time.Duration {
	timeout := e.opts.ExecutionTimeout
	if deadline, ok := ctx.Deadline(); ok {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			remaining = time.Millisecond
		}
		if timeout <= 0 || remaining < timeout {
			timeout = remaining
		}
	}
	return timeout
}
