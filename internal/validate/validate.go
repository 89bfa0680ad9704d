package validate

import (
	"errors"

	"github.com/querygate/querygate/internal/failure"
	"github.com/querygate/querygate/internal/grammar"
	"github.com/querygate/querygate/internal/nl2sql"
)

// Result is the outcome of re-parsing a generated statement. Kind and Offset are only set
// when Valid is false.
type Result struct {
	Valid      bool         `json:"valid"`
	Normalized string       `json:"normalized"`
	Kind       failure.Kind `json:"kind,omitempty"`
	Offset     int          `json:"offset"`
	Message    string       `json:"message,omitempty"`
	Expected   []string     `json:"expected,omitempty"`
}

// Err returns the result as a *failure.Error, or nil when the statement is valid.
func (r Result) Err() error {
	if r.Valid {
		return nil
	}
	err := failure.New(r.Kind, r.Message)
	err.Offset = r.Offset
	return err
}

// Validator checks generated text against the grammar independently of how it was
// produced. It holds no mutable state and is safe for concurrent use.
type Validator struct {
	grammar *grammar.Grammar
}

func New(g *grammar.Grammar) (*Validator, error) {
	if g == nil {
		return nil, errors.New("grammar is required")
	}
	return &Validator{grammar: g}, nil
}

func (v *Validator) Grammar() *grammar.Grammar { return v.grammar }

func (v *Validator) Validate(q nl2sql.GeneratedQuery) Result {
	return v.ValidateText(q.RawText)
}

func (v *Validator) ValidateText(text string) Result {
	normalized := v.grammar.Normalize(text)
	tree, err := v.grammar.Parse(text)
	if err != nil {
		out := Result{Normalized: normalized, Kind: failure.KindGrammarViolation, Offset: 0, Message: err.Error()}
		var parseErr *grammar.ParseError
		if errors.As(err, &parseErr) {
			out.Offset = parseErr.Offset
			out.Expected = append([]string(nil), parseErr.Expected...)
		}
		return out
	}
	return Result{Valid: true, Normalized: v.grammar.Unparse(tree), Offset: -1}
}
