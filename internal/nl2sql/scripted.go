package nl2sql

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/querygate/querygate/internal/grammar"
)

// ScriptEntry answers prompts whose request contains Match with SQL.
type ScriptEntry struct {
	Match string `yaml:"match" json:"match"`
	SQL   string `yaml:"sql" json:"sql"`
}

// ScriptedSampler replays canned statements token by token. It is deterministic and is used
// for tests and offline demos.
type ScriptedSampler struct {
	entries []ScriptEntry
	delay   time.Duration
}

func NewScriptedSampler(entries []ScriptEntry, delay time.Duration) *ScriptedSampler {
	return &ScriptedSampler{entries: append([]ScriptEntry(nil), entries...), delay: delay}
}

func (s *ScriptedSampler) Model() string { return "scripted" }

func (s *ScriptedSampler) Sample(ctx context.Context, req SampleRequest) (string, error) {
	if s.delay > 0 {
		timer := time.NewTimer(s.delay)
		defer timer.Stop()
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-timer.C:
		}
	}

	statement, ok := s.lookup(req.Prompt)
	if !ok {
		return "", fmt.Errorf("no scripted statement for request")
	}
	tokens, err := grammar.Tokenize(statement)
	if err != nil {
		return "", fmt.Errorf("tokenize scripted statement: %w", err)
	}
	if req.Step >= len(tokens) {
		return EndOfStatement, nil
	}
	return tokens[req.Step].Text, nil
}

func (s *ScriptedSampler) lookup(prompt string) (string, bool) {
	request := strings.ToLower(requestFromPrompt(prompt))
	for _, entry := range s.entries {
		if strings.Contains(request, strings.ToLower(entry.Match)) {
			return entry.SQL, true
		}
	}
	return "", false
}

func requestFromPrompt(prompt string) string {
	const marker = "Request: "
	if idx := strings.LastIndex(prompt, marker); idx >= 0 {
		return prompt[idx+len(marker):]
	}
	return prompt
}

// DefaultScript answers the built-in evaluation fixtures.
func DefaultScript() []ScriptEntry {
	return []ScriptEntry{
		{Match: "count all orders", SQL: "SELECT COUNT(*) FROM orders"},
		{Match: "sum the total amount", SQL: "SELECT SUM(total_amount) FROM orders"},
		{Match: "last 30 hours", SQL: "SELECT SUM(total_amount) FROM orders WHERE order_date >= NOW() - INTERVAL 30 HOUR"},
		{Match: "status completed", SQL: "SELECT COUNT(*) FROM orders WHERE status = 'completed'"},
		{Match: "average order amount by status", SQL: "SELECT status, AVG(total_amount) FROM orders GROUP BY status"},
	}
}
