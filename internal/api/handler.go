package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/querygate/querygate/internal/app"
	"github.com/querygate/querygate/internal/auth"
	"github.com/querygate/querygate/internal/config"
	"github.com/querygate/querygate/internal/failure"
	"github.com/querygate/querygate/internal/nl2sql"
	"github.com/querygate/querygate/internal/observability"
)

const maxRequestBytes = 1 << 20

type ReadinessCheck func(ctx context.Context) error

// Runtimes hands out the current runtime and applies config reloads.
type Runtimes interface {
	Runtime() *app.Runtime
	Config() config.Config
	Reload(ctx context.Context, overrides map[string]string) (config.Config, error)
}

type Dependencies struct {
	Logger           *slog.Logger
	Runtimes         Runtimes
	Readiness        ReadinessCheck
	AuthMiddleware   func(http.Handler) http.Handler
	DependencyTimout time.Duration
}

type route struct {
	pattern string
	role    string
	handler func(Dependencies, http.ResponseWriter, *http.Request)
}

func NewHandler(cfg config.Config, deps Dependencies) http.Handler {
	mux := http.NewServeMux()

	health := func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{"status": "ok", "service": cfg.Service.Name})
	}
	mux.HandleFunc("GET /v1/health", health)
	mux.HandleFunc("GET /health", health)

	mux.HandleFunc("GET /v1/ready", func(w http.ResponseWriter, r *http.Request) {
		if deps.Readiness == nil {
			writeJSON(w, http.StatusOK, map[string]any{"status": "ready"})
			return
		}
		timeout := deps.DependencyTimout
		if timeout <= 0 {
			timeout = 2 * time.Second
		}
		ctx, cancel := context.WithTimeout(r.Context(), timeout)
		defer cancel()
		if err := deps.Readiness(ctx); err != nil {
			writeError(r.Context(), w, http.StatusServiceUnavailable, "NOT_READY", err.Error(), true, nil)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"status": "ready"})
	})

	mux.Handle("GET /v1/metrics", promhttp.Handler())

	routes := []route{
		{"POST /v1/query", auth.RoleQueryReader, handleQuery},
		{"POST /query", auth.RoleQueryReader, handleQuery},
		{"POST /v1/validate", auth.RoleQueryReader, handleValidate},
		{"GET /v1/grammar", auth.RoleQueryReader, handleGrammar},
		{"GET /v1/schema", auth.RoleQueryReader, handleSchema},
		{"POST /v1/evaluate", auth.RoleEvaluator, handleEvaluate},
		{"POST /evaluate", auth.RoleEvaluator, handleEvaluate},
		{"GET /v1/evaluate/stream", auth.RoleEvaluator, handleEvaluateStream},
		{"GET /v1/evaluations", auth.RoleEvaluator, handleListEvaluations},
		{"GET /v1/evaluations/{run_id}", auth.RoleEvaluator, handleGetEvaluation},
		{"GET /v1/config", auth.RoleAdmin, handleGetConfig},
		{"POST /v1/config", auth.RoleAdmin, handlePostConfig},
	}
	for _, rt := range routes {
		handler := rt.handler
		var h http.Handler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if deps.Runtimes == nil {
				writeError(r.Context(), w, http.StatusNotImplemented, "RUNTIME_NOT_CONFIGURED", "query runtime is not configured", false, nil)
				return
			}
			handler(deps, w, r)
		})
		mux.Handle(rt.pattern, protect(cfg, deps, auth.RequireRole(rt.role, h)))
	}

	middlewares := []func(http.Handler) http.Handler{
		observability.TraceMiddleware,
		observability.MetricsMiddleware,
	}
	if deps.Logger != nil {
		middlewares = append(middlewares, observability.LoggingMiddleware(deps.Logger))
	}
	return chain(mux, middlewares...)
}

func protect(cfg config.Config, deps Dependencies, next http.Handler) http.Handler {
	if !cfg.Auth.Required {
		return next
	}
	if deps.AuthMiddleware == nil {
		if deps.Logger != nil {
			deps.Logger.Error("auth required but auth middleware missing")
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			writeError(r.Context(), w, http.StatusInternalServerError, "AUTH_MIDDLEWARE_MISSING", "auth middleware is required by configuration", false, nil)
		})
	}
	return deps.AuthMiddleware(next)
}

// CheckRuntime reports the current runtime's store as the readiness signal.
func CheckRuntime(runtimes Runtimes) ReadinessCheck {
	return func(ctx context.Context) error {
		rt := runtimes.Runtime()
		if rt == nil {
			return errors.New("runtime is not initialized")
		}
		return rt.Ready(ctx)
	}
}

func CombineReadinessChecks(checks ...ReadinessCheck) ReadinessCheck {
	filtered := make([]ReadinessCheck, 0, len(checks))
	for _, check := range checks {
		if check != nil {
			filtered = append(filtered, check)
		}
	}
	return func(ctx context.Context) error {
		for _, check := range filtered {
			if err := check(ctx); err != nil {
				return err
			}
		}
		return nil
	}
}

func chain(base http.Handler, middlewares ...func(http.Handler) http.Handler) http.Handler {
	wrapped := base
	for i := len(middlewares) - 1; i >= 0; i-- {
		wrapped = middlewares[i](wrapped)
	}
	return wrapped
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dst any, allowEmpty bool) error {
	decoder := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBytes))
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(dst); err != nil {
		if allowEmpty && errors.Is(err, io.EOF) {
			return nil
		}
		return err
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(ctx context.Context, w http.ResponseWriter, status int, code, message string, retryable bool, extra map[string]any) {
	writeJSON(w, status, map[string]any{
		"error_code": code,
		"message":    message,
		"retryable":  retryable,
		"context":    extra,
		"trace_id":   observability.TraceIDFromContext(ctx),
	})
}

var failureStatus = map[failure.Kind]struct {
	status int
	code   string
}{
	failure.KindGenerationFailed: {http.StatusBadGateway, "GENERATION_FAILED"},
	failure.KindGrammarViolation: {http.StatusUnprocessableEntity, "GRAMMAR_VIOLATION"},
	failure.KindConnectionError:  {http.StatusServiceUnavailable, "CONNECTION_ERROR"},
	failure.KindQueryError:       {http.StatusBadRequest, "QUERY_ERROR"},
	failure.KindTimeout:          {http.StatusGatewayTimeout, "TIMEOUT"},
}

// writeFailure maps a classified pipeline error to its status code. Anything unclassified
// is an internal error.
func writeFailure(ctx context.Context, w http.ResponseWriter, err error) {
	kind, ok := failure.KindOf(err)
	mapping, known := failureStatus[kind]
	if !ok || !known {
		writeError(ctx, w, http.StatusInternalServerError, "INTERNAL", err.Error(), false, nil)
		return
	}

	extra := map[string]any{"kind": string(kind)}
	message := err.Error()
	var typed *failure.Error
	if errors.As(err, &typed) {
		message = typed.Message
		if typed.Offset >= 0 {
			extra["offset"] = typed.Offset
		}
	}
	var clarification *nl2sql.ClarificationError
	if errors.As(err, &clarification) {
		extra["clarification"] = clarification.Message
	}
	writeError(ctx, w, mapping.status, mapping.code, message, kind.Retryable(), extra)
}
