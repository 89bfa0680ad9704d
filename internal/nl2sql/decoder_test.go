package nl2sql

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/querygate/querygate/internal/failure"
	"github.com/querygate/querygate/internal/grammar"
	"github.com/querygate/querygate/internal/schema"
)

func testGrammar(t *testing.T) *grammar.Grammar {
	t.Helper()
	g, err := schema.Default().Grammar()
	if err != nil {
		t.Fatalf("Grammar() error = %v", err)
	}
	return g
}

type funcSampler func(ctx context.Context, req SampleRequest) (string, error)

func (f funcSampler) Sample(ctx context.Context, req SampleRequest) (string, error) { return f(ctx, req) }
func (f funcSampler) Model() string                                                 { return "func" }

func TestDecoderReplaysScriptedStatementWithinGrammar(t *testing.T) {
	g := testGrammar(t)
	decoder, err := NewDecoder(NewScriptedSampler(DefaultScript(), 0), "")
	if err != nil {
		t.Fatalf("NewDecoder() error = %v", err)
	}

	prompt := BuildPrompt(GenerationRequest{NaturalLanguage: "count orders with status completed", Schema: schema.Default()}, time.Now())
	resp, err := decoder.Complete(context.Background(), BackendRequest{Prompt: prompt, Grammar: g, MaxTokens: 32})
	if err != nil {
		t.Fatalf("Complete() error = %v", err)
	}
	if resp.Text != "SELECT COUNT(*) FROM orders WHERE status = 'completed'" {
		t.Fatalf("Text = %q", resp.Text)
	}
	if !resp.GrammarEnforced || resp.StopReason != StopEndOfStatement || resp.Provider != "local" || resp.Model != "scripted" {
		t.Fatalf("unexpected response: %+v", resp)
	}
	if _, err := g.Parse(resp.Text); err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
}

func TestDecoderOffersOnlyLegalChoices(t *testing.T) {
	g := testGrammar(t)
	var steps []SampleRequest
	sampler := funcSampler(func(_ context.Context, req SampleRequest) (string, error) {
		steps = append(steps, req)
		script := []string{"select", "*", "from", "products", "limit", "5"}
		if req.Step < len(script) {
			return script[req.Step], nil
		}
		return EndOfStatement, nil
	})
	decoder, _ := NewDecoder(sampler, "test")
	resp, err := decoder.Complete(context.Background(), BackendRequest{Grammar: g, MaxTokens: 16})
	if err != nil {
		t.Fatalf("Complete() error = %v", err)
	}
	if resp.Text != "SELECT * FROM products LIMIT 5" {
		t.Fatalf("Text = %q", resp.Text)
	}
	if len(steps[0].Choices) != 1 || steps[0].Choices[0] != "SELECT" || steps[0].End {
		t.Fatalf("unexpected first step: %+v", steps[0])
	}
	limitStep := steps[5]
	if !limitStep.Number || limitStep.String || len(limitStep.Choices) != 0 {
		t.Fatalf("unexpected LIMIT step: %+v", limitStep)
	}
	if last := steps[len(steps)-1]; !last.End {
		t.Fatalf("final step should allow end: %+v", last)
	}
}

func TestDecoderRejectsChoicesOutsideGrammar(t *testing.T) {
	g := testGrammar(t)
	cases := map[string]funcSampler{
		"ddl keyword": func(_ context.Context, req SampleRequest) (string, error) { return "DROP", nil },
		"early end": func(_ context.Context, req SampleRequest) (string, error) {
			if req.Step == 0 {
				return "SELECT", nil
			}
			return EndOfStatement, nil
		},
		"unknown column": func(_ context.Context, req SampleRequest) (string, error) {
			return []string{"SELECT", "secret_column"}[req.Step], nil
		},
	}
	for name, sampler := range cases {
		t.Run(name, func(t *testing.T) {
			decoder, _ := NewDecoder(sampler, "test")
			_, err := decoder.Complete(context.Background(), BackendRequest{Grammar: g, MaxTokens: 16})
			if !errors.Is(err, ErrChoiceRejected) {
				t.Fatalf("Complete() error = %v, want ErrChoiceRejected", err)
			}
		})
	}
}

func TestDecoderStopsAtTokenBudget(t *testing.T) {
	g := testGrammar(t)
	decoder, _ := NewDecoder(NewScriptedSampler(DefaultScript(), 0), "")
	prompt := BuildPrompt(GenerationRequest{NaturalLanguage: "count all orders"}, time.Now())
	resp, err := decoder.Complete(context.Background(), BackendRequest{Prompt: prompt, Grammar: g, MaxTokens: 3})
	if err != nil {
		t.Fatalf("Complete() error = %v", err)
	}
	if resp.StopReason != StopMaxTokens {
		t.Fatalf("StopReason = %q", resp.StopReason)
	}

	generator, err := NewGenerator(decoder, g, GeneratorOptions{MaxTokens: 3})
	if err != nil {
		t.Fatalf("NewGenerator() error = %v", err)
	}
	_, err = generator.Generate(context.Background(), GenerationRequest{NaturalLanguage: "count all orders", Schema: schema.Default()})
	if kind, ok := failure.KindOf(err); !ok || kind != failure.KindGenerationFailed {
		t.Fatalf("Generate() error = %v, want generation-failed", err)
	}
}

func TestDecoderHonoursCancellation(t *testing.T) {
	g := testGrammar(t)
	decoder, _ := NewDecoder(NewScriptedSampler(DefaultScript(), time.Second), "")
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	prompt := BuildPrompt(GenerationRequest{NaturalLanguage: "count all orders"}, time.Now())
	_, err := decoder.Complete(ctx, BackendRequest{Prompt: prompt, Grammar: g})
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("Complete() error = %v", err)
	}
}
