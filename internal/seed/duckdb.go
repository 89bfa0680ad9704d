package seed

import (
	"context"
	"database/sql"
	"fmt"
)

var tableDDL = []string{
	`CREATE TABLE IF NOT EXISTS orders (
	id INTEGER,
	customer_id INTEGER,
	product_id INTEGER,
	order_date TIMESTAMP,
	total_amount DECIMAL(10,2),
	status VARCHAR,
	created_at TIMESTAMP DEFAULT current_timestamp,
	updated_at TIMESTAMP DEFAULT current_timestamp
)`,
	`CREATE TABLE IF NOT EXISTS customers (
	id INTEGER,
	name VARCHAR,
	email VARCHAR,
	created_at TIMESTAMP DEFAULT current_timestamp
)`,
	`CREATE TABLE IF NOT EXISTS products (
	id INTEGER,
	name VARCHAR,
	price DECIMAL(10,2),
	category VARCHAR,
	created_at TIMESTAMP DEFAULT current_timestamp
)`,
}

// LoadResult reports what LoadDuckDB did.
type LoadResult struct {
	Skipped   bool
	Customers int
	Products  int
	Orders    int
}

// LoadDuckDB creates the sample tables and inserts data in one transaction. When orders
// already has rows and reset is false nothing is written.
func LoadDuckDB(ctx context.Context, db *sql.DB, data Dataset, reset bool) (LoadResult, error) {
	for _, ddl := range tableDDL {
		if _, err := db.ExecContext(ctx, ddl); err != nil {
			return LoadResult{}, fmt.Errorf("create sample table: %w", err)
		}
	}

	if !reset {
		var existing int64
		if err := db.QueryRowContext(ctx, `SELECT COUNT(*) FROM orders`).Scan(&existing); err != nil {
			return LoadResult{}, fmt.Errorf("count existing orders: %w", err)
		}
		if existing > 0 {
			return LoadResult{Skipped: true}, nil
		}
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return LoadResult{}, fmt.Errorf("begin seed tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if reset {
		for _, table := range []string{"orders", "customers", "products"} {
			if _, err := tx.ExecContext(ctx, "DELETE FROM "+table); err != nil {
				return LoadResult{}, fmt.Errorf("clear %s: %w", table, err)
			}
		}
	}

	for _, customer := range data.Customers {
		if _, err := tx.ExecContext(ctx, `INSERT INTO customers (id, name, email, created_at) VALUES (?, ?, ?, ?)`,
			customer.ID, customer.Name, customer.Email, customer.CreatedAt); err != nil {
			return LoadResult{}, fmt.Errorf("insert customer %d: %w", customer.ID, err)
		}
	}
	for _, product := range data.Products {
		if _, err := tx.ExecContext(ctx, `INSERT INTO products (id, name, price, category, created_at) VALUES (?, ?, ?, ?, ?)`,
			product.ID, product.Name, product.Price, product.Category, product.CreatedAt); err != nil {
			return LoadResult{}, fmt.Errorf("insert product %d: %w", product.ID, err)
		}
	}
	for _, order := range data.Orders {
		if _, err := tx.ExecContext(ctx, `INSERT INTO orders (id, customer_id, product_id, order_date, total_amount, status, created_at, updated_at) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
			order.ID, order.CustomerID, order.ProductID, order.OrderDate, order.TotalAmount, order.Status, order.CreatedAt, order.UpdatedAt); err != nil {
			return LoadResult{}, fmt.Errorf("insert order %d: %w", order.ID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return LoadResult{}, fmt.Errorf("commit seed tx: %w", err)
	}
	return LoadResult{Customers: len(data.Customers), Products: len(data.Products), Orders: len(data.Orders)}, nil
}
