package pipeline

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/querygate/querygate/internal/failure"
	"github.com/querygate/querygate/internal/nl2sql"
	"github.com/querygate/querygate/internal/observability"
	"github.com/querygate/querygate/internal/query"
	"github.com/querygate/querygate/internal/schema"
	"github.com/querygate/querygate/internal/validate"
)

const defaultRequestTimeout = 30 * time.Second

type Generator interface {
	Generate(ctx context.Context, req nl2sql.GenerationRequest) (nl2sql.GeneratedQuery, error)
}

type Executor interface {
	Execute(ctx context.Context, q nl2sql.GeneratedQuery, timeout time.Duration) query.ExecutionResult
}

// Answer is returned only when every stage succeeded.
type Answer struct {
	Query      nl2sql.GeneratedQuery `json:"query"`
	Normalized string                `json:"normalized"`
	Result     query.Success         `json:"result"`
}

type Options struct {
	// RequestTimeout bounds generation and execution together.
	RequestTimeout time.Duration
	MaxTokens      int
	Schema         schema.Schema
	Logger         *slog.Logger
}

type Service struct {
	generator Generator
	validator *validate.Validator
	executor  Executor
	opts      Options
}

func New(generator Generator, validator *validate.Validator, executor Executor, opts Options) (*Service, error) {
	if generator == nil {
		return nil, errors.New("generator is required")
	}
	if validator == nil {
		return nil, errors.New("validator is required")
	}
	if executor == nil {
		return nil, errors.New("executor is required")
	}
	if opts.RequestTimeout <= 0 {
		opts.RequestTimeout = defaultRequestTimeout
	}
	if opts.Logger == nil {
		opts.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	if len(opts.Schema.Tables) == 0 {
		opts.Schema = schema.Default()
	}
	return &Service{generator: generator, validator: validator, executor: executor, opts: opts}, nil
}

func (s *Service) Validator() *validate.Validator { return s.validator }

// Run translates, validates and executes one request under a single deadline. Any failure is
// returned as a *failure.Error and no partial answer is produced.
func (s *Service) Run(ctx context.Context, naturalLanguage string) (Answer, error) {
	if strings.TrimSpace(naturalLanguage) == "" {
		return Answer{}, failure.New(failure.KindGenerationFailed, "natural language request is empty")
	}
	ctx, cancel := context.WithTimeout(ctx, s.opts.RequestTimeout)
	defer cancel()

	generated, err := s.generator.Generate(ctx, nl2sql.GenerationRequest{
		NaturalLanguage: naturalLanguage,
		Schema:          s.opts.Schema,
		MaxTokens:       s.opts.MaxTokens,
	})
	if err != nil {
		if _, ok := failure.KindOf(err); !ok {
			err = failure.Wrap(failure.KindGenerationFailed, "generation failed", err)
		}
		return Answer{}, err
	}

	validated := s.validator.Validate(generated)
	if !validated.Valid {
		observability.IncrementGrammarViolation()
		s.opts.Logger.ErrorContext(ctx, "generated statement violates grammar",
			slog.String("trace_id", observability.TraceIDFromContext(ctx)),
			slog.String("provider", generated.Provider),
			slog.String("query", generated.RawText),
			slog.Int("offset", validated.Offset),
			slog.Bool("grammar_valid_claimed", generated.GrammarValid),
		)
		return Answer{}, validated.Err()
	}

	timeout := s.opts.RequestTimeout
	if deadline, ok := ctx.Deadline(); ok {
		timeout = time.Until(deadline)
		if timeout <= 0 {
			return Answer{}, failure.New(failure.KindTimeout, "request deadline passed before execution")
		}
	}
	executed := s.executor.Execute(ctx, generated, timeout)
	if executed.Failure != nil {
		return Answer{}, executed.Err()
	}
	return Answer{Query: generated, Normalized: validated.Normalized, Result: *executed.Success}, nil
}

// Validate checks text against the grammar without generating or executing.
func (s *Service) Validate(text string) validate.Result {
	return s.validator.ValidateText(text)
}
