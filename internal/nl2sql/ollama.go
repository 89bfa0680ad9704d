package nl2sql

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

const (
	numberPattern = `^[0-9]+(\.[0-9]+)?$`
	stringPattern = `^'[^']*'$`
)

type OllamaConfig struct {
	BaseURL     string
	Model       string
	Temperature float64
	Timeout     time.Duration
}

// OllamaSampler asks a local model for one token per step. The allowed set is passed as a
// JSON schema so the server samples only legal tokens.
type OllamaSampler struct {
	baseURL     string
	model       string
	temperature float64
	client      *http.Client
}

func NewOllamaSampler(cfg OllamaConfig) (*OllamaSampler, error) {
	if strings.TrimSpace(cfg.BaseURL) == "" {
		return nil, fmt.Errorf("base URL is required")
	}
	model := strings.TrimSpace(cfg.Model)
	if model == "" {
		return nil, fmt.Errorf("model is required")
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &OllamaSampler{
		baseURL:     strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/"),
		model:       model,
		temperature: cfg.Temperature,
		client:      &http.Client{Timeout: timeout},
	}, nil
}

func (s *OllamaSampler) Model() string { return s.model }

func (s *OllamaSampler) Sample(ctx context.Context, req SampleRequest) (string, error) {
	body, err := json.Marshal(buildOllamaPayload(s.model, s.temperature, req))
	if err != nil {
		return "", fmt.Errorf("marshal generate payload: %w", err)
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, s.baseURL+"/api/generate", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("build generate request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(httpReq)
	if err != nil {
		return "", fmt.Errorf("request generate: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	rawRespBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("read generate response body: %w", err)
	}
	if resp.StatusCode >= 400 {
		return "", fmt.Errorf("generate failed status=%d body=%s", resp.StatusCode, string(rawRespBody))
	}

	var parsed struct {
		Response string `json:"response"`
	}
	if err := json.Unmarshal(rawRespBody, &parsed); err != nil {
		return "", fmt.Errorf("decode generate response: %w", err)
	}
	var step struct {
		Token string `json:"token"`
	}
	if err := json.Unmarshal([]byte(parsed.Response), &step); err != nil {
		return "", fmt.Errorf("decode sampled token %q: %w", parsed.Response, err)
	}
	return step.Token, nil
}

func buildOllamaPayload(model string, temperature float64, req SampleRequest) map[string]any {
	var options []any
	closed := append([]string(nil), req.Choices...)
	if req.End {
		closed = append(closed, EndOfStatement)
	}
	if len(closed) > 0 {
		options = append(options, map[string]any{"type": "string", "enum": closed})
	}
	if req.Number {
		options = append(options, map[string]any{"type": "string", "pattern": numberPattern})
	}
	if req.String {
		options = append(options, map[string]any{"type": "string", "pattern": stringPattern})
	}

	prefix := req.Prefix
	if prefix == "" {
		prefix = "(empty)"
	}
	prompt := fmt.Sprintf(
		"%s\n\nStatement so far: %s\nReply with the next token of the statement, or %s when it is finished.",
		req.Prompt, prefix, EndOfStatement,
	)
	return map[string]any{
		"model":  model,
		"prompt": prompt,
		"stream": false,
		"format": map[string]any{
			"type": "object",
			"properties": map[string]any{
				"token": map[string]any{"anyOf": options},
			},
			"required": []string{"token"},
		},
		"options": map[string]any{
			"temperature": temperature,
			"num_predict": 32,
		},
	}
}
