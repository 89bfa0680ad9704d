package grammar

import "testing"

func TestNormalize(t *testing.T) {
	g := testGrammar(t)
	cases := []struct {
		in   string
		want string
	}{
		{"select count(*) from orders where status='completed';", "SELECT COUNT(*) FROM orders WHERE status = 'completed'"},
		{"  SELECT   SUM( total_amount )\nFROM orders ;; ", "SELECT SUM(total_amount) FROM orders"},
		{"SELECT SUM(total_amount) FROM orders WHERE order_date >= now ( ) - interval 30 hour", "SELECT SUM(total_amount) FROM orders WHERE order_date >= NOW() - INTERVAL 30 HOUR"},
		{"SELECT status,AVG(total_amount) FROM orders GROUP BY status", "SELECT status, AVG(total_amount) FROM orders GROUP BY status"},
		{"select id from orders where status in ('A  b','c')", "SELECT id FROM orders WHERE status IN ('A  b', 'c')"},
		{"SELECT Status FROM Orders", "SELECT Status FROM Orders"},
		{"SELECT # FROM   orders;", "SELECT # FROM orders"},
		{"select\v* from\u00a0orders", "SELECT * FROM orders"},
		{"", ""},
	}
	for _, tc := range cases {
		if got := g.Normalize(tc.in); got != tc.want {
			t.Fatalf("Normalize(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}

func TestNormalizeIsIdempotent(t *testing.T) {
	g := testGrammar(t)
	inputs := []string{
		"select count(*) from orders where status='completed';",
		"SELECT * FROM orders; DROP TABLE orders;",
		"SELECT name , email FROM customers ORDER BY name desc LIMIT 5",
		"SELECT 'unterminated FROM orders",
		"  \t;; ",
		"SELECT (((status))) FROM orders WHERE x>=-1",
		"SELECT \"quoted\" , `ticked` FROM orders",
		"SELECT 'a;' FROM orders ;",
		"select\v* from orders",
		"select\u00a0* from orders",
		"select\u0085count(*)\u2003from orders\f",
		"select\u00a0# from\v orders",
	}
	for _, in := range inputs {
		once := g.Normalize(in)
		twice := g.Normalize(once)
		if once != twice {
			t.Fatalf("Normalize not idempotent for %q: %q then %q", in, once, twice)
		}
	}
}

func TestUnparseMatchesNormalize(t *testing.T) {
	g := testGrammar(t)
	inputs := []string{
		"select count(*) from orders where status = 'completed' ;",
		"SELECT status, avg(total_amount) FROM orders GROUP BY status",
		"SELECT * FROM products WHERE price <= 10 ORDER BY price ASC LIMIT 3",
	}
	for _, in := range inputs {
		tree, err := g.Parse(in)
		if err != nil {
			t.Fatalf("Parse(%q) error = %v", in, err)
		}
		if got, want := g.Unparse(tree), g.Normalize(in); got != want {
			t.Fatalf("Unparse() = %q, Normalize() = %q", got, want)
		}
		if tree.String() != g.Normalize(in) {
			t.Fatalf("Tree.String() = %q", tree.String())
		}
	}
}
