package grammar

import (
	"errors"
	"fmt"
	"strings"
)

// Vocabulary is the set of identifiers a generated statement may reference.
type Vocabulary struct {
	Tables  []string
	Columns []string
}

// SQL builds the read-only SELECT subset over vocab: one table, an optional aggregate,
// WHERE/GROUP BY/ORDER BY/LIMIT clauses and literal values. DDL, DML, joins, subqueries and
// statement batches are not part of the language.
func SQL(vocab Vocabulary) (*Grammar, error) {
	tables, err := words("table", vocab.Tables)
	if err != nil {
		return nil, err
	}
	columns, err := words("column", vocab.Columns)
	if err != nil {
		return nil, err
	}

	commaColumn := Seq(Symbol(","), Ref("column_name"))
	g, err := New("query", []Production{
		{Name: "query", Expr: Seq(
			Keyword("SELECT"), Ref("select_list"),
			Keyword("FROM"), Ref("table_name"),
			Opt(Ref("where_clause")),
			Opt(Ref("group_clause")),
			Opt(Ref("order_clause")),
			Opt(Ref("limit_clause")),
		)},
		{Name: "select_list", Expr: Alt(
			Symbol("*"),
			Ref("aggregate_function"),
			Ref("group_select_list"),
			Ref("column_list"),
		)},
		{Name: "aggregate_function", Expr: Alt(
			Seq(Call("COUNT"), Symbol("("), Symbol("*"), Symbol(")")),
			Seq(Ref("aggregate_func_name"), Symbol("("), Ref("column_name"), Symbol(")")),
		)},
		{Name: "aggregate_func_name", Expr: Alt(Call("SUM"), Call("AVG"), Call("MAX"), Call("MIN"))},
		{Name: "column_list", Expr: Seq(Ref("column_name"), Many(commaColumn))},
		{Name: "group_select_list", Expr: Seq(
			Ref("column_name"), Many(commaColumn), Symbol(","), Ref("aggregate_function"),
		)},
		{Name: "where_clause", Expr: Seq(
			Keyword("WHERE"), Ref("condition"),
			Many(Seq(Alt(Keyword("AND"), Keyword("OR")), Ref("condition"))),
		)},
		{Name: "condition", Expr: Alt(
			Seq(Ref("column_name"), Ref("comparison_operator"), Ref("value")),
			Seq(Ref("column_name"), Keyword("IN"), Symbol("("), Ref("value"), Many(Seq(Symbol(","), Ref("value"))), Symbol(")")),
			Seq(Ref("column_name"), Alt(Symbol(">="), Symbol("<=")), Call("NOW"), Symbol("("), Symbol(")"),
				Symbol("-"), Keyword("INTERVAL"), Number(), Ref("time_unit")),
		)},
		{Name: "comparison_operator", Expr: Alt(
			Symbol("="), Symbol("!="), Symbol(">"), Symbol("<"), Symbol(">="), Symbol("<="),
		)},
		{Name: "value", Expr: Alt(String(), Number(), Keyword("NULL"))},
		{Name: "time_unit", Expr: Alt(
			Keyword("HOUR"), Keyword("DAY"), Keyword("WEEK"), Keyword("MONTH"), Keyword("YEAR"),
		)},
		{Name: "group_clause", Expr: Seq(Keyword("GROUP"), Keyword("BY"), Ref("column_name"), Many(commaColumn))},
		{Name: "order_clause", Expr: Seq(
			Keyword("ORDER"), Keyword("BY"), Ref("sort_item"), Many(Seq(Symbol(","), Ref("sort_item"))),
		)},
		{Name: "sort_item", Expr: Seq(Ref("column_name"), Opt(Alt(Keyword("ASC"), Keyword("DESC"))))},
		{Name: "limit_clause", Expr: Seq(Keyword("LIMIT"), Number())},
		{Name: "table_name", Expr: Alt(tables...)},
		{Name: "column_name", Expr: Alt(columns...)},
	})
	if err != nil {
		return nil, err
	}

	for _, name := range append(append([]string(nil), vocab.Tables...), vocab.Columns...) {
		if g.IsKeyword(name) {
			return nil, fmt.Errorf("identifier %q collides with keyword", name)
		}
	}
	return g, nil
}

func words(kind string, names []string) ([]Expr, error) {
	if len(names) == 0 {
		return nil, fmt.Errorf("at least one %s name is required", kind)
	}
	seen := map[string]struct{}{}
	out := make([]Expr, 0, len(names))
	for _, name := range names {
		if name == "" {
			return nil, errors.New(kind + " name is empty")
		}
		if !isIdentifier(name) {
			return nil, fmt.Errorf("%s name %q is not a plain identifier", kind, name)
		}
		if _, dup := seen[name]; dup {
			continue
		}
		seen[name] = struct{}{}
		out = append(out, Word(name))
	}
	return out, nil
}

func isIdentifier(name string) bool {
	for i, r := range name {
		switch {
		case r == '_', r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z':
		case r >= '0' && r <= '9' && i > 0:
		default:
			return false
		}
	}
	return strings.TrimSpace(name) != ""
}
