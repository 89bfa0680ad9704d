package nl2sql

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/querygate/querygate/internal/failure"
	"github.com/querygate/querygate/internal/grammar"
	"github.com/querygate/querygate/internal/observability"
	"github.com/querygate/querygate/internal/schema"
)

const (
	StopEndOfStatement = "end_of_statement"
	StopMaxTokens      = "max_tokens"
	StopToolCall       = "tool_call"
)

const defaultMaxTokens = 64

type GenerationRequest struct {
	NaturalLanguage string
	Schema          schema.Schema
	MaxTokens       int
}

// GeneratedQuery is immutable once returned by Generate.
type GeneratedQuery struct {
	RawText           string        `json:"raw_text"`
	GrammarValid      bool          `json:"grammar_valid"`
	GenerationLatency time.Duration `json:"-"`
	Provider          string        `json:"provider"`
	Model             string        `json:"model"`
	StopReason        string        `json:"stop_reason"`
}

func (q GeneratedQuery) LatencyMS() float64 {
	return float64(q.GenerationLatency.Microseconds()) / 1000
}

type BackendRequest struct {
	Prompt    string
	Grammar   *grammar.Grammar
	MaxTokens int
}

type BackendResponse struct {
	Text       string
	StopReason string
	// GrammarEnforced is true when the backend constrained every token to the grammar.
	GrammarEnforced bool
	Provider        string
	Model           string
}

// Backend is a text-generation service that can be constrained by a grammar.
type Backend interface {
	Complete(ctx context.Context, req BackendRequest) (BackendResponse, error)
}

// ClarificationError is returned by backends that answered with a question instead of a
// statement.
type ClarificationError struct {
	Message string
}

func (e *ClarificationError) Error() string {
	return "needs clarification: " + e.Message
}

type GeneratorOptions struct {
	MaxTokens int
	Logger    *slog.Logger
	Now       func() time.Time
}

type Generator struct {
	backend   Backend
	grammar   *grammar.Grammar
	maxTokens int
	logger    *slog.Logger
	now       func() time.Time
}

func NewGenerator(backend Backend, g *grammar.Grammar, opts GeneratorOptions) (*Generator, error) {
	if backend == nil {
		return nil, errors.New("generation backend is required")
	}
	if g == nil {
		return nil, errors.New("grammar is required")
	}
	maxTokens := opts.MaxTokens
	if maxTokens <= 0 {
		maxTokens = defaultMaxTokens
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	return &Generator{backend: backend, grammar: g, maxTokens: maxTokens, logger: logger, now: now}, nil
}

func (g *Generator) Grammar() *grammar.Grammar { return g.grammar }

// Generate translates one request. Every failure is a *failure.Error of kind
// generation-failed; nothing is retried.
func (g *Generator) Generate(ctx context.Context, req GenerationRequest) (GeneratedQuery, error) {
	if strings.TrimSpace(req.NaturalLanguage) == "" {
		return GeneratedQuery{}, failure.New(failure.KindGenerationFailed, "natural language request is empty")
	}
	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = g.maxTokens
	}

	start := time.Now()
	resp, err := g.complete(ctx, BackendRequest{
		Prompt:    BuildPrompt(req, g.now().UTC()),
		Grammar:   g.grammar,
		MaxTokens: maxTokens,
	})
	elapsed := time.Since(start)
	if err != nil {
		observability.ObserveGeneration(resp.Provider, elapsed, true)
		g.logger.WarnContext(ctx, "generation failed",
			slog.String("trace_id", observability.TraceIDFromContext(ctx)),
			slog.String("duration", elapsed.String()),
			slog.String("error", err.Error()),
		)
		return GeneratedQuery{}, generationFailure(err)
	}

	text := strings.TrimSpace(resp.Text)
	switch {
	case resp.StopReason == StopMaxTokens:
		observability.ObserveGeneration(resp.Provider, elapsed, true)
		return GeneratedQuery{}, failure.New(failure.KindGenerationFailed, fmt.Sprintf("token budget of %d exhausted before statement was complete", maxTokens))
	case text == "":
		observability.ObserveGeneration(resp.Provider, elapsed, true)
		return GeneratedQuery{}, failure.New(failure.KindGenerationFailed, "backend returned empty output")
	}

	observability.ObserveGeneration(resp.Provider, elapsed, false)
	return GeneratedQuery{
		RawText:           text,
		GrammarValid:      resp.GrammarEnforced,
		GenerationLatency: elapsed,
		Provider:          resp.Provider,
		Model:             resp.Model,
		StopReason:        resp.StopReason,
	}, nil
}

type completion struct {
	resp BackendResponse
	err  error
}

// complete returns when the backend answers or ctx ends, whichever is first. A backend that
// ignores cancellation is abandoned.
func (g *Generator) complete(ctx context.Context, req BackendRequest) (BackendResponse, error) {
	done := make(chan completion, 1)
	go func() {
		resp, err := g.backend.Complete(ctx, req)
		done <- completion{resp: resp, err: err}
	}()
	select {
	case out := <-done:
		if out.err == nil && ctx.Err() != nil {
			return out.resp, ctx.Err()
		}
		return out.resp, out.err
	case <-ctx.Done():
		return BackendResponse{}, ctx.Err()
	}
}

func generationFailure(err error) error {
	var clarification *ClarificationError
	switch {
	case errors.As(err, &clarification):
		return failure.Wrap(failure.KindGenerationFailed, clarification.Message, err)
	case errors.Is(err, context.DeadlineExceeded):
		return failure.Wrap(failure.KindGenerationFailed, "generation timed out", err)
	case errors.Is(err, context.Canceled):
		return failure.Wrap(failure.KindGenerationFailed, "generation cancelled", err)
	default:
		return failure.Wrap(failure.KindGenerationFailed, "generation backend failed", err)
	}
}

// BuildPrompt renders the instruction handed to the backend.
func BuildPrompt(req GenerationRequest, now time.Time) string {
	timestamp := now.Format("2006-01-02 15:04:05")
	return fmt.Sprintf(
		"Convert the request into a single read-only SQL SELECT statement.\n"+
			"Schema:\n%s\n\n"+
			"Rules:\n- Use only the listed tables and columns.\n- Query exactly one table.\n"+
			"- Use NOW() - INTERVAL n UNIT for relative time ranges.\n- Do not add a LIMIT unless asked.\n\n"+
			"Current UTC time: %s\n\nRequest: %s",
		req.Schema.Describe(),
		timestamp,
		strings.TrimSpace(req.NaturalLanguage),
	)
}
