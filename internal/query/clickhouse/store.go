package clickhouse

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"math"
	"math/big"
	"net/url"
	"strings"
	"time"

	ch "github.com/ClickHouse/clickhouse-go/v2"

	"github.com/querygate/querygate/internal/query"
)

type Config struct {
	// URL is a clickhouse-go DSN. clickhouse:// and tcp:// use the native protocol,
	// http:// and https:// the HTTP interface.
	URL          string
	User         string
	Password     string
	Database     string
	Timeout      time.Duration
	MaxOpenConns int
}

// Store runs statements on a pooled ClickHouse connection. It is safe for concurrent use.
type Store struct {
	db *sql.DB
}

// Server exception codes that mean the credentials or the database are unusable rather than
// the statement being wrong.
var connectionExceptionCodes = map[int32]bool{
	81:  true, // UNKNOWN_DATABASE
	192: true, // UNKNOWN_USER
	193: true, // WRONG_PASSWORD
	194: true, // REQUIRED_PASSWORD
	516: true, // AUTHENTICATION_FAILED
}

func New(cfg Config) (*Store, error) {
	options, err := buildOptions(cfg)
	if err != nil {
		return nil, err
	}
	db := ch.OpenDB(options)
	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	return NewWithDB(db), nil
}

// NewWithDB wraps an existing pool, typically a sqlmock in tests.
func NewWithDB(db *sql.DB) *Store {
	return &Store{db: db}
}

func buildOptions(cfg Config) (*ch.Options, error) {
	raw := strings.TrimSpace(cfg.URL)
	if raw == "" {
		return nil, fmt.Errorf("clickhouse url is required")
	}
	parsed, err := url.Parse(raw)
	if err != nil || parsed.Scheme == "" || parsed.Host == "" {
		return nil, fmt.Errorf("invalid clickhouse url %q", raw)
	}
	options, err := ch.ParseDSN(raw)
	if err != nil {
		return nil, fmt.Errorf("parse clickhouse url: %w", err)
	}
	if user := strings.TrimSpace(cfg.User); user != "" {
		options.Auth.Username = user
	}
	if cfg.Password != "" {
		options.Auth.Password = cfg.Password
	}
	if database := strings.TrimSpace(cfg.Database); database != "" {
		options.Auth.Database = database
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	options.DialTimeout = timeout
	options.ReadTimeout = timeout
	if options.Settings == nil {
		options.Settings = ch.Settings{}
	}
	options.Settings["readonly"] = 1
	return options, nil
}

func (s *Store) DB() *sql.DB { return s.db }

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) Ping(ctx context.Context) error {
	if err := s.db.PingContext(ctx); err != nil {
		return fmt.Errorf("%w: %v", query.ErrConnection, err)
	}
	return nil
}

func (s *Store) Query(ctx context.Context, sqlText string) (query.Rows, error) {
	rows, err := s.db.QueryContext(ctx, stripTrailingSemicolons(sqlText))
	if err != nil {
		return query.Rows{}, classify(fmt.Errorf("execute query: %w", err))
	}
	defer func() { _ = rows.Close() }()

	columns, err := rows.Columns()
	if err != nil {
		return query.Rows{}, classify(fmt.Errorf("query columns: %w", err))
	}

	resultRows := make([][]any, 0)
	for rows.Next() {
		values := make([]any, len(columns))
		scanTargets := make([]any, len(columns))
		for i := range values {
			scanTargets[i] = &values[i]
		}
		if err := rows.Scan(scanTargets...); err != nil {
			return query.Rows{}, classify(fmt.Errorf("scan row: %w", err))
		}
		resultRows = append(resultRows, normalizeValues(values))
	}
	if err := rows.Err(); err != nil {
		return query.Rows{}, classify(fmt.Errorf("iterate rows: %w", err))
	}
	return query.Rows{Columns: columns, Rows: resultRows}, nil
}

// classify marks authentication failures and dropped connections with query.ErrConnection.
// Other server exceptions are statement errors and pass through.
func classify(err error) error {
	var exception *ch.Exception
	if errors.As(err, &exception) {
		if connectionExceptionCodes[exception.Code] {
			return fmt.Errorf("%w: %v", query.ErrConnection, err)
		}
		return err
	}
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
		return fmt.Errorf("%w: %v", query.ErrConnection, err)
	}
	return err
}

func normalizeValues(values []any) []any {
	normalized := make([]any, len(values))
	for i, value := range values {
		normalized[i] = normalizeValue(value)
	}
	return normalized
}

// normalizeValue maps the driver's column types onto the JSON-friendly set the DuckDB store
// returns: int64 for integers that fit, float64 for other numbers, string for bytes.
func normalizeValue(value any) any {
	switch typed := value.(type) {
	case []byte:
		return string(typed)
	case int8:
		return int64(typed)
	case int16:
		return int64(typed)
	case int32:
		return int64(typed)
	case int:
		return int64(typed)
	case uint8:
		return int64(typed)
	case uint16:
		return int64(typed)
	case uint32:
		return int64(typed)
	case uint64:
		if typed <= math.MaxInt64 {
			return int64(typed)
		}
		return new(big.Int).SetUint64(typed).String()
	case float32:
		return float64(typed)
	case *big.Int:
		if typed == nil {
			return nil
		}
		if typed.IsInt64() {
			return typed.Int64()
		}
		return typed.String()
	case interface{ InexactFloat64() float64 }:
		// Decimal columns
		return typed.InexactFloat64()
	default:
		return typed
	}
}

func stripTrailingSemicolons(sqlText string) string {
	trimmed := strings.TrimSpace(sqlText)
	for strings.HasSuffix(trimmed, ";") {
		trimmed = strings.TrimSpace(strings.TrimSuffix(trimmed, ";"))
	}
	return trimmed
}
