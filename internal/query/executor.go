package query

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"strings"
	"syscall"
	"time"

	"github.com/querygate/querygate/internal/failure"
	"github.com/querygate/querygate/internal/nl2sql"
	"github.com/querygate/querygate/internal/observability"
)

const defaultTimeout = 10 * time.Second

type Executor struct {
	store          Store
	defaultTimeout time.Duration
	logger         *slog.Logger
}

func NewExecutor(store Store, timeout time.Duration, logger *slog.Logger) (*Executor, error) {
	if store == nil {
		return nil, errors.New("store is required")
	}
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Executor{store: store, defaultTimeout: timeout, logger: logger}, nil
}

func (e *Executor) Ping(ctx context.Context) error {
	return e.store.Ping(ctx)
}

type queryOutcome struct {
	rows Rows
	err  error
}

// Execute submits q.RawText unchanged and waits at most timeout (the executor default when
// timeout is zero). A store that ignores cancellation is abandoned when the deadline passes.
// Nothing is retried.
func (e *Executor) Execute(ctx context.Context, q nl2sql.GeneratedQuery, timeout time.Duration) ExecutionResult {
	if timeout <= 0 {
		timeout = e.defaultTimeout
	}
	if strings.TrimSpace(q.RawText) == "" {
		return failed(failure.KindQueryError, "statement is empty")
	}

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	start := time.Now()
	done := make(chan queryOutcome, 1)
	go func() {
		rows, err := e.store.Query(ctx, q.RawText)
		done <- queryOutcome{rows: rows, err: err}
	}()

	var result ExecutionResult
	select {
	case out := <-done:
		switch {
		case out.err != nil:
			result = classify(ctx, out.err)
		case ctx.Err() != nil:
			result = classify(ctx, ctx.Err())
		default:
			result = succeeded(out.rows, time.Since(start))
		}
	case <-ctx.Done():
		result = classify(ctx, ctx.Err())
	}

	elapsed := time.Since(start)
	outcome := "ok"
	if result.Failure != nil {
		outcome = string(result.Failure.Kind)
		observability.WithTrace(ctx, e.logger).WarnContext(ctx, "statement execution failed",
			slog.String("kind", outcome),
			slog.String("message", result.Failure.Message),
			slog.String("duration", elapsed.String()),
		)
	}
	observability.ObserveExecution(outcome, elapsed)
	return result
}

func classify(ctx context.Context, err error) ExecutionResult {
	if isTimeout(err) || ctx.Err() != nil {
		return failed(failure.KindTimeout, fmt.Sprintf("execution did not finish in time: %v", err))
	}
	if isConnectionError(err) {
		return failed(failure.KindConnectionError, err.Error())
	}
	return failed(failure.KindQueryError, err.Error())
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

func isConnectionError(err error) bool {
	if errors.Is(err, ErrConnection) || errors.Is(err, driver.ErrBadConn) || errors.Is(err, sql.ErrConnDone) {
		return true
	}
	if errors.Is(err, syscall.ECONNREFUSED) || errors.Is(err, syscall.ECONNRESET) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr)
}
