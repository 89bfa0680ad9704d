package query

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/url"
	"testing"
	"time"

	"github.com/querygate/querygate/internal/failure"
	"github.com/querygate/querygate/internal/nl2sql"
)

type timeoutError struct{}

func (timeoutError) Error() string   { return "i/o timeout" }
func (timeoutError) Timeout() bool   { return true }
func (timeoutError) Temporary() bool { return true }

type fakeStore struct {
	query func(ctx context.Context, sql string) (Rows, error)
	seen  []string
}

func (f *fakeStore) Query(ctx context.Context, sql string) (Rows, error) {
	f.seen = append(f.seen, sql)
	return f.query(ctx, sql)
}

func (f *fakeStore) Ping(context.Context) error { return nil }
func (f *fakeStore) Close() error               { return nil }

func TestExecuteReturnsRowsAndSubmitsTextVerbatim(t *testing.T) {
	store := &fakeStore{query: func(context.Context, string) (Rows, error) {
		return Rows{Columns: []string{"status", "n"}, Rows: [][]any{{"completed", int64(3)}, {"pending", int64(1)}}}, nil
	}}
	executor, err := NewExecutor(store, time.Second, nil)
	if err != nil {
		t.Fatalf("NewExecutor() error = %v", err)
	}

	raw := "select status, count(*) from orders group by status ;"
	result := executor.Execute(context.Background(), nl2sql.GeneratedQuery{RawText: raw}, 0)
	if !result.OK() || result.Failure != nil {
		t.Fatalf("Execute() = %+v", result.Failure)
	}
	if result.Success.RowCount != 2 || result.Success.Columns[1] != "n" {
		t.Fatalf("unexpected success: %+v", result.Success)
	}
	if store.seen[0] != raw {
		t.Fatalf("store received %q", store.seen[0])
	}
	if result.Err() != nil {
		t.Fatalf("Err() = %v", result.Err())
	}
}

func TestExecuteNeverExceedsTimeoutWhenStoreIgnoresCancellation(t *testing.T) {
	release := make(chan struct{})
	defer close(release)
	store := &fakeStore{query: func(context.Context, string) (Rows, error) {
		<-release
		return Rows{}, nil
	}}
	executor, _ := NewExecutor(store, time.Second, nil)

	timeout := 50 * time.Millisecond
	start := time.Now()
	result := executor.Execute(context.Background(), nl2sql.GeneratedQuery{RawText: "SELECT * FROM orders"}, timeout)
	elapsed := time.Since(start)

	if elapsed > timeout+250*time.Millisecond {
		t.Fatalf("Execute() took %v with timeout %v", elapsed, timeout)
	}
	if result.OK() || result.Failure.Kind != failure.KindTimeout {
		t.Fatalf("Execute() = %+v", result)
	}
}

func TestExecuteClassifiesStoreErrors(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want failure.Kind
	}{
		{"engine rejection", errors.New("Binder Error: column unknown not found"), failure.KindQueryError},
		{"connection sentinel", fmt.Errorf("post: %w", ErrConnection), failure.KindConnectionError},
		{"network", &net.OpError{Op: "dial", Net: "tcp", Err: errors.New("connection refused")}, failure.KindConnectionError},
		{"deadline", fmt.Errorf("query: %w", context.DeadlineExceeded), failure.KindTimeout},
		{"client timeout", &url.Error{Op: "Post", URL: "http://clickhouse:8123", Err: timeoutError{}}, failure.KindTimeout},
		{"read timeout", &net.OpError{Op: "read", Net: "tcp", Err: timeoutError{}}, failure.KindTimeout},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			store := &fakeStore{query: func(context.Context, string) (Rows, error) { return Rows{}, tc.err }}
			executor, _ := NewExecutor(store, time.Second, nil)
			result := executor.Execute(context.Background(), nl2sql.GeneratedQuery{RawText: "SELECT * FROM orders"}, 0)
			if result.Success != nil || result.Failure == nil {
				t.Fatalf("expected failure only, got %+v", result)
			}
			if result.Failure.Kind != tc.want {
				t.Fatalf("Kind = %q, want %q", result.Failure.Kind, tc.want)
			}
			kind, ok := failure.KindOf(result.Err())
			if !ok || kind != tc.want {
				t.Fatalf("KindOf(Err()) = %q", kind)
			}
		})
	}
}

func TestExecuteRejectsEmptyStatement(t *testing.T) {
	store := &fakeStore{query: func(context.Context, string) (Rows, error) {
		t.Fatal("store should not be called")
		return Rows{}, nil
	}}
	executor, _ := NewExecutor(store, time.Second, nil)
	result := executor.Execute(context.Background(), nl2sql.GeneratedQuery{RawText: "  "}, 0)
	if result.Failure == nil || result.Failure.Kind != failure.KindQueryError {
		t.Fatalf("Execute() = %+v", result)
	}
}

func TestNewExecutorRequiresStore(t *testing.T) {
	if _, err := NewExecutor(nil, 0, nil); err == nil {
		t.Fatal("expected error")
	}
}
