package duckdb

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	_ "github.com/marcboeker/go-duckdb/v2"

	"github.com/querygate/querygate/internal/query"
	"github.com/querygate/querygate/internal/schema"
	"github.com/querygate/querygate/internal/storage"
)

// Dataset exposes Parquet objects from object storage as one table.
type Dataset struct {
	Table   string
	Objects []string
}

type Config struct {
	// Path is the database file; empty opens an in-memory database.
	Path         string
	MaxOpenConns int
	Datasets     []Dataset
	ObjectStore  storage.ObjectStore
}

// Store runs statements on a pooled DuckDB database. It is safe for concurrent use.
type Store struct {
	db      *sql.DB
	workDir string
}

func Open(ctx context.Context, cfg Config) (*Store, error) {
	db, err := sql.Open("duckdb", strings.TrimSpace(cfg.Path))
	if err != nil {
		return nil, fmt.Errorf("open duckdb: %w", err)
	}
	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping duckdb: %w", err)
	}

	store := &Store{db: db}
	if len(cfg.Datasets) > 0 {
		if err := store.attachDatasets(ctx, cfg.ObjectStore, cfg.Datasets); err != nil {
			_ = store.Close()
			return nil, err
		}
	}
	return store, nil
}

func (s *Store) DB() *sql.DB { return s.db }

func (s *Store) Ping(ctx context.Context) error {
	if err := s.db.PingContext(ctx); err != nil {
		return fmt.Errorf("%w: %v", query.ErrConnection, err)
	}
	return nil
}

func (s *Store) Close() error {
	err := s.db.Close()
	if s.workDir != "" {
		_ = os.RemoveAll(s.workDir)
	}
	return err
}

func (s *Store) Query(ctx context.Context, sqlText string) (query.Rows, error) {
	rows, err := s.db.QueryContext(ctx, sqlText)
	if err != nil {
		return query.Rows{}, fmt.Errorf("execute query: %w", err)
	}
	defer func() { _ = rows.Close() }()

	columns, err := rows.Columns()
	if err != nil {
		return query.Rows{}, fmt.Errorf("query columns: %w", err)
	}

	resultRows := make([][]any, 0)
	for rows.Next() {
		values := make([]any, len(columns))
		scanTargets := make([]any, len(columns))
		for i := range values {
			scanTargets[i] = &values[i]
		}
		if err := rows.Scan(scanTargets...); err != nil {
			return query.Rows{}, fmt.Errorf("scan row: %w", err)
		}
		resultRows = append(resultRows, normalizeValues(values))
	}
	if err := rows.Err(); err != nil {
		return query.Rows{}, fmt.Errorf("iterate rows: %w", err)
	}
	return query.Rows{Columns: columns, Rows: resultRows}, nil
}

// Schema introspects the tables and views of the main schema.
func (s *Store) Schema(ctx context.Context) (schema.Schema, error) {
	rows, err := s.db.QueryContext(ctx, `
SELECT table_name, column_name, data_type
FROM information_schema.columns
WHERE table_schema = 'main'
ORDER BY table_name, ordinal_position`)
	if err != nil {
		return schema.Schema{}, fmt.Errorf("list columns: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out schema.Schema
	index := map[string]int{}
	for rows.Next() {
		var tableName, columnName, dataType string
		if err := rows.Scan(&tableName, &columnName, &dataType); err != nil {
			return schema.Schema{}, fmt.Errorf("scan column: %w", err)
		}
		i, ok := index[tableName]
		if !ok {
			i = len(out.Tables)
			index[tableName] = i
			out.Tables = append(out.Tables, schema.Table{Name: tableName})
		}
		out.Tables[i].Columns = append(out.Tables[i].Columns, schema.Column{Name: columnName, Type: dataType})
	}
	if err := rows.Err(); err != nil {
		return schema.Schema{}, fmt.Errorf("iterate columns: %w", err)
	}
	if err := out.Validate(); err != nil {
		return schema.Schema{}, fmt.Errorf("introspected schema: %w", err)
	}
	return out, nil
}

// attachDatasets downloads every dataset object and creates a view per table over the
// local Parquet copies.
func (s *Store) attachDatasets(ctx context.Context, objects storage.ObjectStore, datasets []Dataset) error {
	if objects == nil {
		return fmt.Errorf("object store is required for parquet datasets")
	}
	workDir, err := os.MkdirTemp("", "querygate-datasets-")
	if err != nil {
		return fmt.Errorf("create dataset temp dir: %w", err)
	}
	s.workDir = workDir

	groupedPaths := map[string][]string{}
	for _, dataset := range datasets {
		if strings.TrimSpace(dataset.Table) == "" || len(dataset.Objects) == 0 {
			return fmt.Errorf("dataset needs a table and at least one object")
		}
		for index, key := range dataset.Objects {
			reader, err := objects.Get(ctx, key)
			if err != nil {
				return fmt.Errorf("get object %q: %w", key, err)
			}
			localPath := filepath.Join(workDir, fmt.Sprintf("%s_%d.parquet", sanitizeFileComponent(dataset.Table), index))
			if _, err := writeParquetFile(localPath, reader); err != nil {
				_ = reader.Close()
				return fmt.Errorf("dataset %q object %q: %w", dataset.Table, key, err)
			}
			if err := reader.Close(); err != nil {
				return fmt.Errorf("close object %q: %w", key, err)
			}
			groupedPaths[dataset.Table] = append(groupedPaths[dataset.Table], localPath)
		}
	}

	tables := make([]string, 0, len(groupedPaths))
	for table := range groupedPaths {
		tables = append(tables, table)
	}
	sort.Strings(tables)
	for _, tableName := range tables {
		viewSQL := fmt.Sprintf(`CREATE OR REPLACE VIEW %s AS SELECT * FROM read_parquet(%s)`, QuoteIdent(tableName), quoteStringArray(groupedPaths[tableName]))
		if _, err := s.db.ExecContext(ctx, viewSQL); err != nil {
			return fmt.Errorf("create view for table %q: %w", tableName, err)
		}
	}
	return nil
}

func normalizeValues(values []any) []any {
	normalized := make([]any, len(values))
	for i, value := range values {
		switch typed := value.(type) {
		case []byte:
			normalized[i] = string(typed)
		case interface{ Float64() float64 }:
			// DECIMAL values
			normalized[i] = typed.Float64()
		default:
			normalized[i] = typed
		}
	}
	return normalized
}

func QuoteIdent(value string) string {
	return `"` + strings.ReplaceAll(value, `"`, `""`) + `"`
}

func quoteStringArray(values []string) string {
	quoted := make([]string, 0, len(values))
	for _, value := range values {
		quoted = append(quoted, `'`+strings.ReplaceAll(value, `'`, `''`)+`'`)
	}
	return "[" + strings.Join(quoted, ",") + "]"
}

func sanitizeFileComponent(value string) string {
	value = strings.ReplaceAll(value, "/", "_")
	value = strings.ReplaceAll(value, "..", "_")
	if value == "" {
		return "table"
	}
	return value
}
