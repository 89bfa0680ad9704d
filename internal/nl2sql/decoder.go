package nl2sql

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/querygate/querygate/internal/grammar"
)

// EndOfStatement is the choice a sampler returns to finish a complete statement.
const EndOfStatement = "<end>"

// SampleRequest describes one decoding step. Choices are the literal tokens the grammar
// allows next; Number and String report whether an open literal may follow.
type SampleRequest struct {
	Prompt  string
	Prefix  string
	Step    int
	Choices []string
	Number  bool
	String  bool
	End     bool
}

// Sampler picks the next token of a statement. It may only answer with one of the
// offered choices, a literal of an offered class, or EndOfStatement when End is set.
type Sampler interface {
	Sample(ctx context.Context, req SampleRequest) (string, error)
	Model() string
}

// ErrChoiceRejected is returned when a sampler picks a token the grammar does not allow.
var ErrChoiceRejected = errors.New("sampler choice rejected by grammar")

// Decoder enforces the grammar locally, one token at a time, so everything it returns
// parses.
type Decoder struct {
	sampler  Sampler
	provider string
}

func NewDecoder(sampler Sampler, provider string) (*Decoder, error) {
	if sampler == nil {
		return nil, errors.New("sampler is required")
	}
	if strings.TrimSpace(provider) == "" {
		provider = "local"
	}
	return &Decoder{sampler: sampler, provider: provider}, nil
}

func (d *Decoder) Complete(ctx context.Context, req BackendRequest) (BackendResponse, error) {
	out := BackendResponse{GrammarEnforced: true, Provider: d.provider, Model: d.sampler.Model()}
	if req.Grammar == nil {
		return out, errors.New("decoder requires a grammar")
	}
	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = defaultMaxTokens
	}

	var tokens []string
	for step := 0; ; step++ {
		if err := ctx.Err(); err != nil {
			return out, err
		}
		prefix := strings.Join(tokens, " ")
		next, err := req.Grammar.Next(prefix)
		if err != nil {
			return out, fmt.Errorf("continuations after %q: %w", prefix, err)
		}
		if step == maxTokens {
			if next.Complete {
				break
			}
			out.Text = req.Grammar.Normalize(prefix)
			out.StopReason = StopMaxTokens
			return out, nil
		}

		sample := sampleRequest(req.Prompt, prefix, step, next)
		choice, err := d.sampler.Sample(ctx, sample)
		if err != nil {
			return out, fmt.Errorf("sample step %d: %w", step, err)
		}
		choice = strings.TrimSpace(choice)
		if choice == EndOfStatement {
			if !next.Complete {
				return out, fmt.Errorf("%w: end of statement after %q", ErrChoiceRejected, prefix)
			}
			break
		}
		token, ok := resolveChoice(req.Grammar, next, choice)
		if !ok {
			return out, fmt.Errorf("%w: %q after %q", ErrChoiceRejected, choice, prefix)
		}
		tokens = append(tokens, token)
	}

	out.Text = req.Grammar.Normalize(strings.Join(tokens, " "))
	out.StopReason = StopEndOfStatement
	return out, nil
}

func sampleRequest(prompt, prefix string, step int, next grammar.Continuations) SampleRequest {
	req := SampleRequest{Prompt: prompt, Prefix: prefix, Step: step, End: next.Complete}
	for _, term := range next.Terminals {
		switch term.Kind {
		case grammar.TermNumber:
			req.Number = true
		case grammar.TermString:
			req.String = true
		default:
			req.Choices = append(req.Choices, term.Text)
		}
	}
	return req
}

// resolveChoice maps a sampled token onto an allowed terminal and returns the text to emit.
func resolveChoice(g *grammar.Grammar, next grammar.Continuations, choice string) (string, bool) {
	for _, term := range next.Terminals {
		if !g.Accepts(term, choice) {
			continue
		}
		if term.Open() {
			return choice, true
		}
		return term.Text, true
	}
	return "", false
}
