package eval

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/querygate/querygate/internal/schema"
)

func TestDefaultFixturesParseUnderDefaultGrammar(t *testing.T) {
	g, err := schema.Default().Grammar()
	if err != nil {
		t.Fatalf("Grammar() error = %v", err)
	}
	cases := DefaultFixtures()
	if len(cases) != 5 {
		t.Fatalf("len(DefaultFixtures()) = %d", len(cases))
	}
	if cases[0].ID != "basic-count" || cases[0].Category != CategoryBasic {
		t.Fatalf("first case = %+v", cases[0])
	}
	for _, tc := range cases {
		if _, err := g.Parse(tc.ExpectedQuery); err != nil {
			t.Fatalf("expected query of %q does not parse: %v", tc.ID, err)
		}
	}
}

func TestParseFixturesRejectsBadInput(t *testing.T) {
	cases := map[string]string{
		"unknown category": "- {id: a, natural_language_query: x, expected_query: SELECT * FROM orders, category: joins}\n",
		"duplicate id": "- {id: a, natural_language_query: x, expected_query: SELECT * FROM orders, category: basic}\n" +
			"- {id: a, natural_language_query: y, expected_query: SELECT * FROM orders, category: basic}\n",
		"missing expected": "- {id: a, natural_language_query: x, category: basic}\n",
		"empty":            "[]\n",
	}
	for name, data := range cases {
		t.Run(name, func(t *testing.T) {
			if _, err := ParseFixtures([]byte(data)); err == nil {
				t.Fatal("expected error")
			}
		})
	}
}

func TestLoadFixturesKeepsFileOrder(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cases.yaml")
	data := strings.Join([]string{
		"- id: z-last-alphabetically",
		"  natural_language_query: count all orders",
		"  expected_query: SELECT COUNT(*) FROM orders",
		"  category: Basic",
		"- id: a-first-alphabetically",
		"  natural_language_query: average order amount by status",
		"  expected_query: SELECT status, AVG(total_amount) FROM orders GROUP BY status",
		"  category: complex",
		"",
	}, "\n")
	if err := os.WriteFile(path, []byte(data), 0o600); err != nil {
		t.Fatalf("write fixtures: %v", err)
	}
	cases, err := LoadFixtures(path)
	if err != nil {
		t.Fatalf("LoadFixtures() error = %v", err)
	}
	if cases[0].ID != "z-last-alphabetically" || cases[1].Category != CategoryComplex {
		t.Fatalf("cases = %+v", cases)
	}

	defaults, err := LoadFixturesOrDefault("")
	if err != nil || len(defaults) != 5 {
		t.Fatalf("LoadFixturesOrDefault() = %d, %v", len(defaults), err)
	}
}

func TestCategoryRoundTripsThroughText(t *testing.T) {
	for _, category := range Categories {
		text, err := category.MarshalText()
		if err != nil {
			t.Fatalf("MarshalText() error = %v", err)
		}
		var parsed Category
		if err := parsed.UnmarshalText(text); err != nil || parsed != category {
			t.Fatalf("UnmarshalText(%q) = %v, %v", text, parsed, err)
		}
	}
	if _, err := Category(0).MarshalText(); err == nil {
		t.Fatal("expected error for zero category")
	}
}
