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

const sqlToolName = "sql_generator"

type OpenAIConfig struct {
	BaseURL     string
	APIKey      string
	Model       string
	Temperature float64
	Timeout     time.Duration
}

// ResponsesBackend calls a hosted Responses API with a custom tool whose input format is the
// grammar. Enforcement happens on the provider side and is re-checked by validation.
type ResponsesBackend struct {
	baseURL     string
	apiKey      string
	model       string
	temperature float64
	client      *http.Client
}

func NewResponsesBackend(cfg OpenAIConfig) (*ResponsesBackend, error) {
	if strings.TrimSpace(cfg.BaseURL) == "" {
		return nil, fmt.Errorf("base URL is required")
	}
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, fmt.Errorf("api key is required")
	}
	model := strings.TrimSpace(cfg.Model)
	if model == "" {
		model = "gpt-5"
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &ResponsesBackend{
		baseURL:     strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/"),
		apiKey:      strings.TrimSpace(cfg.APIKey),
		model:       model,
		temperature: cfg.Temperature,
		client:      &http.Client{Timeout: timeout},
	}, nil
}

func (b *ResponsesBackend) Complete(ctx context.Context, req BackendRequest) (BackendResponse, error) {
	out := BackendResponse{Provider: "openai-responses", Model: b.model}
	if req.Grammar == nil {
		return out, fmt.Errorf("responses backend requires a grammar")
	}
	body, err := json.Marshal(buildResponsesPayload(b.model, b.temperature, req))
	if err != nil {
		return out, fmt.Errorf("marshal responses payload: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, b.baseURL+"/v1/responses", bytes.NewReader(body))
	if err != nil {
		return out, fmt.Errorf("build responses request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+b.apiKey)

	resp, err := b.client.Do(httpReq)
	if err != nil {
		return out, fmt.Errorf("request responses: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	rawRespBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return out, fmt.Errorf("read responses body: %w", err)
	}
	if resp.StatusCode >= 400 {
		return out, fmt.Errorf("responses call failed status=%d body=%s", resp.StatusCode, string(rawRespBody))
	}

	var parsed struct {
		Output []struct {
			Type    string `json:"type"`
			Name    string `json:"name"`
			Input   string `json:"input"`
			Content []struct {
				Type string `json:"type"`
				Text string `json:"text"`
			} `json:"content"`
		} `json:"output"`
	}
	if err := json.Unmarshal(rawRespBody, &parsed); err != nil {
		return out, fmt.Errorf("decode responses body: %w", err)
	}

	var message string
	for _, item := range parsed.Output {
		switch item.Type {
		case "custom_tool_call":
			if item.Name != sqlToolName {
				continue
			}
			out.Text = stripMarkdownSQL(item.Input)
			out.StopReason = StopToolCall
			out.GrammarEnforced = true
			return out, nil
		case "message":
			for _, content := range item.Content {
				if strings.TrimSpace(content.Text) != "" && message == "" {
					message = strings.TrimSpace(content.Text)
				}
			}
		}
	}
	if message != "" {
		return out, &ClarificationError{Message: message}
	}
	return out, fmt.Errorf("no statement in responses output")
}

func buildResponsesPayload(model string, temperature float64, req BackendRequest) map[string]any {
	payload := map[string]any{
		"model": model,
		"input": req.Prompt + "\n\nCall the " + sqlToolName + " tool with the statement. " +
			"If the request is too ambiguous to answer, reply with a short clarification question instead.",
		"tools": []map[string]any{
			{
				"type":        "custom",
				"name":        sqlToolName,
				"description": "Runs read-only SELECT statements over a single table with optional WHERE, GROUP BY, ORDER BY and LIMIT clauses. The input must follow the grammar exactly.",
				"format": map[string]any{
					"type":       "grammar",
					"syntax":     "lark",
					"definition": req.Grammar.Lark(),
				},
			},
		},
		"parallel_tool_calls": false,
	}
	if temperature > 0 {
		payload["temperature"] = temperature
	}
	if req.MaxTokens > 0 {
		payload["max_output_tokens"] = req.MaxTokens * 16
	}
	return payload
}

func stripMarkdownSQL(value string) string {
	trimmed := strings.TrimSpace(value)
	if strings.HasPrefix(trimmed, "```") {
		trimmed = strings.TrimPrefix(trimmed, "```sql")
		trimmed = strings.TrimPrefix(trimmed, "```")
		trimmed = strings.TrimSuffix(trimmed, "```")
		return strings.TrimSpace(trimmed)
	}
	return trimmed
}
