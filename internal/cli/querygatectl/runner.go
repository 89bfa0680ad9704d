package querygatectl

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/querygate/querygate/internal/eval"
)

type Options struct {
	BaseURL    string
	APIKey     string
	Timeout    time.Duration
	HTTPClient *http.Client
	Stdout     io.Writer
	Stderr     io.Writer
	// Lines feeds the interactive shell. Nil opens a readline terminal.
	Lines LineReader
}

type client struct {
	http    *http.Client
	baseURL string
	apiKey  string
	stdout  io.Writer
	stderr  io.Writer
}

// call describes one API request built from command arguments.
type call struct {
	method string
	path   string
	body   any
}

func Run(ctx context.Context, args []string, defaults Options) int {
	stdout := defaults.Stdout
	if stdout == nil {
		stdout = io.Discard
	}
	stderr := defaults.Stderr
	if stderr == nil {
		stderr = io.Discard
	}

	fs := flag.NewFlagSet("querygatectl", flag.ContinueOnError)
	fs.SetOutput(stderr)

	baseURL := fs.String("base-url", firstNonEmpty(defaults.BaseURL, "http://localhost:8080"), "QueryGate API base URL")
	apiKey := fs.String("api-key", defaults.APIKey, "API key for authenticated requests")
	timeout := fs.Duration("timeout", durationOr(defaults.Timeout, 30*time.Second), "HTTP timeout (e.g. 30s)")

	if err := fs.Parse(args); err != nil {
		return 2
	}
	if fs.NArg() < 1 {
		writeUsage(stderr)
		return 2
	}

	httpClient := defaults.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: *timeout}
	}
	c := &client{
		http:    httpClient,
		baseURL: strings.TrimRight(*baseURL, "/"),
		apiKey:  strings.TrimSpace(*apiKey),
		stdout:  stdout,
		stderr:  stderr,
	}

	command := strings.TrimSpace(fs.Arg(0))
	rest := fs.Args()[1:]
	if command == "shell" {
		lines := defaults.Lines
		if lines == nil {
			terminal, err := newTerminal(*baseURL)
			if err != nil {
				_, _ = fmt.Fprintf(stderr, "open terminal: %v\n", err)
				return 1
			}
			defer func() { _ = terminal.Close() }()
			lines = terminal
		}
		return runShell(ctx, c, lines)
	}

	req, err := buildCall(command, rest)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "%v\n\n", err)
		writeUsage(stderr)
		return 2
	}
	return c.do(ctx, req)
}

func buildCall(command string, args []string) (call, error) {
	text := strings.TrimSpace(strings.Join(args, " "))
	switch command {
	case "health":
		return call{method: http.MethodGet, path: "/v1/health"}, nil
	case "ready":
		return call{method: http.MethodGet, path: "/v1/ready"}, nil
	case "grammar":
		return call{method: http.MethodGet, path: "/v1/grammar"}, nil
	case "schema":
		return call{method: http.MethodGet, path: "/v1/schema"}, nil
	case "query":
		if text == "" {
			return call{}, errors.New("query needs a natural language request")
		}
		return call{method: http.MethodPost, path: "/v1/query", body: map[string]string{"natural_language_query": text}}, nil
	case "validate":
		if text == "" {
			return call{}, errors.New("validate needs a statement")
		}
		return call{method: http.MethodPost, path: "/v1/validate", body: map[string]string{"query": text}}, nil
	case "evaluate":
		if len(args) == 0 {
			return call{method: http.MethodPost, path: "/v1/evaluate"}, nil
		}
		cases, err := eval.LoadFixtures(args[0])
		if err != nil {
			return call{}, err
		}
		return call{method: http.MethodPost, path: "/v1/evaluate", body: map[string]any{"cases": cases}}, nil
	case "evaluations":
		if len(args) == 0 {
			return call{method: http.MethodGet, path: "/v1/evaluations"}, nil
		}
		return call{method: http.MethodGet, path: "/v1/evaluations/" + url.PathEscape(args[0])}, nil
	case "config":
		if len(args) == 0 {
			return call{method: http.MethodGet, path: "/v1/config"}, nil
		}
		overrides := make(map[string]string, len(args))
		for _, arg := range args {
			key, value, ok := strings.Cut(arg, "=")
			if !ok || strings.TrimSpace(key) == "" {
				return call{}, fmt.Errorf("config override %q must be key=value", arg)
			}
			overrides[strings.TrimSpace(key)] = value
		}
		return call{method: http.MethodPost, path: "/v1/config", body: map[string]any{"overrides": overrides}}, nil
	default:
		return call{}, fmt.Errorf("unknown command %q", command)
	}
}

// do sends req and prints the response. Exit code 1 means the request failed or the API
// answered with an error.
func (c *client) do(ctx context.Context, req call) int {
	code, responseBody, err := c.send(ctx, req)
	if err != nil {
		_, _ = fmt.Fprintf(c.stderr, "request failed: %v\n", err)
		return 1
	}

	if code >= 400 {
		_, _ = fmt.Fprintf(c.stderr, "http %d: %s\n", code, strings.TrimSpace(string(responseBody)))
		return 1
	}

	if pretty, ok := prettyJSON(responseBody); ok {
		_, _ = fmt.Fprintln(c.stdout, pretty)
		return 0
	}
	if len(responseBody) > 0 {
		_, _ = fmt.Fprintln(c.stdout, strings.TrimRight(string(responseBody), "\n"))
	}
	return 0
}

func (c *client) send(ctx context.Context, req call) (int, []byte, error) {
	var body io.Reader
	if req.body != nil {
		raw, err := json.Marshal(req.body)
		if err != nil {
			return 0, nil, fmt.Errorf("encode request: %w", err)
		}
		body = bytes.NewReader(raw)
	}
	httpReq, err := http.NewRequestWithContext(ctx, req.method, c.baseURL+req.path, body)
	if err != nil {
		return 0, nil, err
	}
	httpReq.Header.Set("Accept", "application/json")
	if body != nil {
		httpReq.Header.Set("Content-Type", "application/json")
	}
	if c.apiKey != "" {
		httpReq.Header.Set("X-API-Key", c.apiKey)
	}

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return 0, nil, err
	}
	defer func() { _ = resp.Body.Close() }()

	responseBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return 0, nil, err
	}
	return resp.StatusCode, responseBody, nil
}

func prettyJSON(raw []byte) (string, bool) {
	if len(bytes.TrimSpace(raw)) == 0 {
		return "", false
	}
	var anyValue any
	if err := json.Unmarshal(raw, &anyValue); err != nil {
		return "", false
	}
	formatted, err := json.MarshalIndent(anyValue, "", "  ")
	if err != nil {
		return "", false
	}
	return string(formatted), true
}

func writeUsage(w io.Writer) {
	_, _ = fmt.Fprintln(w, "usage: querygatectl [flags] <command> [args]")
	_, _ = fmt.Fprintln(w, "")
	_, _ = fmt.Fprintln(w, "commands:")
	_, _ = fmt.Fprintln(w, "  health                 GET /v1/health")
	_, _ = fmt.Fprintln(w, "  ready                  GET /v1/ready")
	_, _ = fmt.Fprintln(w, "  query <text>           POST /v1/query")
	_, _ = fmt.Fprintln(w, "  validate <sql>         POST /v1/validate")
	_, _ = fmt.Fprintln(w, "  grammar                GET /v1/grammar")
	_, _ = fmt.Fprintln(w, "  schema                 GET /v1/schema")
	_, _ = fmt.Fprintln(w, "  evaluate [fixtures]    POST /v1/evaluate")
	_, _ = fmt.Fprintln(w, "  evaluations [run_id]   GET /v1/evaluations")
	_, _ = fmt.Fprintln(w, "  config [key=value...]  GET or POST /v1/config")
	_, _ = fmt.Fprintln(w, "  shell                  interactive query prompt")
}

func firstNonEmpty(a, b string) string {
	if strings.TrimSpace(a) != "" {
		return strings.TrimSpace(a)
	}
	return b
}

func durationOr(v, fallback time.Duration) time.Duration {
	if v > 0 {
		return v
	}
	return fallback
}
