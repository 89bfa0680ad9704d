package query

import (
	"context"
	"errors"
	"time"

	"github.com/querygate/querygate/internal/failure"
)

// ErrConnection marks store errors caused by reaching the database rather than by the
// statement itself.
var ErrConnection = errors.New("store connection failed")

type Rows struct {
	Columns []string
	Rows    [][]any
}

// Store is an analytical database that runs a single read-only statement.
type Store interface {
	Query(ctx context.Context, sql string) (Rows, error)
	Ping(ctx context.Context) error
	Close() error
}

type Success struct {
	Columns  []string      `json:"columns"`
	Rows     [][]any       `json:"rows"`
	RowCount int           `json:"row_count"`
	Latency  time.Duration `json:"-"`
}

type Failure struct {
	Kind    failure.Kind `json:"kind"`
	Message string       `json:"message"`
}

// ExecutionResult holds exactly one of Success or Failure.
type ExecutionResult struct {
	Success *Success
	Failure *Failure
}

func (r ExecutionResult) OK() bool {
	return r.Success != nil
}

// Err returns the failure as a *failure.Error, or nil on success.
func (r ExecutionResult) Err() error {
	if r.Failure == nil {
		return nil
	}
	return failure.New(r.Failure.Kind, r.Failure.Message)
}

func succeeded(rows Rows, latency time.Duration) ExecutionResult {
	data := rows.Rows
	if data == nil {
		data = [][]any{}
	}
	return ExecutionResult{Success: &Success{
		Columns:  rows.Columns,
		Rows:     data,
		RowCount: len(data),
		Latency:  latency,
	}}
}

func failed(kind failure.Kind, message string) ExecutionResult {
	return ExecutionResult{Failure: &Failure{Kind: kind, Message: message}}
}
