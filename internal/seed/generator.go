package seed

import (
	"fmt"
	"math"
	"math/rand"
	"time"
)

var (
	productCategories = []string{"Electronics", "Clothing", "Books", "Home", "Sports"}
	orderStatuses     = []string{"pending", "completed", "cancelled", "shipped"}
)

type Customer struct {
	ID        int64     `parquet:"id"`
	Name      string    `parquet:"name"`
	Email     string    `parquet:"email"`
	CreatedAt time.Time `parquet:"created_at,timestamp(millisecond)"`
}

type Product struct {
	ID        int64     `parquet:"id"`
	Name      string    `parquet:"name"`
	Price     float64   `parquet:"price"`
	Category  string    `parquet:"category"`
	CreatedAt time.Time `parquet:"created_at,timestamp(millisecond)"`
}

type Order struct {
	ID          int64     `parquet:"id"`
	CustomerID  int64     `parquet:"customer_id"`
	ProductID   int64     `parquet:"product_id"`
	OrderDate   time.Time `parquet:"order_date,timestamp(millisecond)"`
	TotalAmount float64   `parquet:"total_amount"`
	Status      string    `parquet:"status"`
	CreatedAt   time.Time `parquet:"created_at,timestamp(millisecond)"`
	UpdatedAt   time.Time `parquet:"updated_at,timestamp(millisecond)"`
}

// Dataset is one generated copy of the sample e-commerce tables.
type Dataset struct {
	Customers []Customer
	Products  []Product
	Orders    []Order
}

type Generator struct {
	rnd *rand.Rand
	now func() time.Time
}

func NewGenerator(seed int64) *Generator {
	return &Generator{
		rnd: rand.New(rand.NewSource(seed)),
		now: func() time.Time { return time.Now().UTC().Truncate(time.Second) },
	}
}

// Generate returns the same rows for the same seed and clock.
func (g *Generator) Generate(cfg Config) Dataset {
	now := g.now()
	data := Dataset{
		Customers: make([]Customer, 0, cfg.Customers),
		Products:  make([]Product, 0, cfg.Products),
		Orders:    make([]Order, 0, cfg.Orders),
	}
	for i := 1; i <= cfg.Customers; i++ {
		data.Customers = append(data.Customers, Customer{
			ID:        int64(i),
			Name:      fmt.Sprintf("Customer %d", i),
			Email:     fmt.Sprintf("customer%d@example.com", i),
			CreatedAt: now,
		})
	}
	for i := 1; i <= cfg.Products; i++ {
		data.Products = append(data.Products, Product{
			ID:        int64(i),
			Name:      fmt.Sprintf("Product %d", i),
			Price:     round2(10 + g.rnd.Float64()*990),
			Category:  pickOne(g.rnd, productCategories),
			CreatedAt: now,
		})
	}
	for i := 1; i <= cfg.Orders; i++ {
		orderDate := now.Add(-time.Duration(g.rnd.Intn(cfg.OrderWindowDays+1)) * 24 * time.Hour)
		data.Orders = append(data.Orders, Order{
			ID:          int64(i),
			CustomerID:  int64(g.rnd.Intn(cfg.Customers) + 1),
			ProductID:   int64(g.rnd.Intn(cfg.Products) + 1),
			OrderDate:   orderDate,
			TotalAmount: round2(10 + g.rnd.Float64()*490),
			Status:      pickOne(g.rnd, orderStatuses),
			CreatedAt:   now,
			UpdatedAt:   now,
		})
	}
	return data
}

func round2(value float64) float64 {
	return math.Round(value*100) / 100
}

func pickOne(r *rand.Rand, values []string) string {
	return values[r.Intn(len(values))]
}
