package seed

import (
	"context"
	"database/sql"
	"testing"

	_ "github.com/marcboeker/go-duckdb/v2"
)

func openDuckDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := sql.Open("duckdb", "")
	if err != nil {
		t.Fatalf("open duckdb: %v", err)
	}
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func TestLoadDuckDBInsertsOnceUnlessReset(t *testing.T) {
	db := openDuckDB(t)
	cfg := DefaultConfig()
	cfg.Customers, cfg.Products, cfg.Orders = 4, 2, 30
	data := fixedGenerator(3).Generate(cfg)

	result, err := LoadDuckDB(context.Background(), db, data, false)
	if err != nil {
		t.Fatalf("LoadDuckDB() error = %v", err)
	}
	if result.Skipped || result.Orders != 30 || result.Customers != 4 {
		t.Fatalf("result = %+v", result)
	}

	again, err := LoadDuckDB(context.Background(), db, data, false)
	if err != nil {
		t.Fatalf("second LoadDuckDB() error = %v", err)
	}
	if !again.Skipped {
		t.Fatal("expected populated database to be skipped")
	}

	smaller := fixedGenerator(3).Generate(Config{Customers: 1, Products: 1, Orders: 5, OrderWindowDays: 1})
	if _, err := LoadDuckDB(context.Background(), db, smaller, true); err != nil {
		t.Fatalf("reset LoadDuckDB() error = %v", err)
	}
	var orders int64
	if err := db.QueryRow(`SELECT COUNT(*) FROM orders`).Scan(&orders); err != nil {
		t.Fatalf("count orders: %v", err)
	}
	if orders != 5 {
		t.Fatalf("orders = %d, want 5", orders)
	}
}
