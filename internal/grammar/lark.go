package grammar

import (
	"fmt"
	"strconv"
	"strings"
)

// Lark renders the production table as a Lark grammar for hosted backends that take a
// grammar definition as the output constraint.
func (g *Grammar) Lark() string {
	var b strings.Builder
	fmt.Fprintf(&b, "start: %s\n\n", g.start)
	for _, name := range g.order {
		fmt.Fprintf(&b, "%s: %s\n", name, larkExpr(g.rules[name], false))
	}
	b.WriteString("\n")
	b.WriteString("NUMBER: /[0-9]+(\\.[0-9]+)?/\n")
	b.WriteString("STRING: /'[^']*'/\n")
	b.WriteString("%import common.WS\n")
	b.WriteString("%ignore WS\n")
	return b.String()
}

func larkExpr(expr Expr, nested bool) string {
	switch e := expr.(type) {
	case litExpr:
		switch e.term.Kind {
		case TermKeyword:
			return strconv.Quote(e.term.Text) + "i"
		case TermNumber:
			return "NUMBER"
		case TermString:
			return "STRING"
		default:
			return strconv.Quote(e.term.Text)
		}
	case refExpr:
		return e.name
	case seqExpr:
		parts := make([]string, 0, len(e.items))
		for _, item := range e.items {
			parts = append(parts, larkExpr(item, true))
		}
		return strings.Join(parts, " ")
	case altExpr:
		parts := make([]string, 0, len(e.choices))
		for _, choice := range e.choices {
			parts = append(parts, larkExpr(choice, false))
		}
		joined := strings.Join(parts, " | ")
		if nested {
			return "(" + joined + ")"
		}
		return joined
	case optExpr:
		return "[" + larkExpr(e.inner, false) + "]"
	case manyExpr:
		return "(" + larkExpr(e.inner, false) + ")*"
	default:
		return ""
	}
}
