package grammar

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

// Expr is one right-hand side element of a production.
type Expr interface {
	isExpr()
}

type litExpr struct{ term Terminal }
type refExpr struct{ name string }
type seqExpr struct{ items []Expr }
type altExpr struct{ choices []Expr }
type optExpr struct{ inner Expr }
type manyExpr struct{ inner Expr }

func (litExpr) isExpr()  {}
func (refExpr) isExpr()  {}
func (seqExpr) isExpr()  {}
func (altExpr) isExpr()  {}
func (optExpr) isExpr()  {}
func (manyExpr) isExpr() {}

func Keyword(text string) Expr {
	return litExpr{term: Terminal{Kind: TermKeyword, Text: strings.ToUpper(text)}}
}

// Call is a keyword that opens an argument list, rendered without a space before "(".
func Call(text string) Expr {
	return litExpr{term: Terminal{Kind: TermKeyword, Text: strings.ToUpper(text), Call: true}}
}

func Symbol(text string) Expr { return litExpr{term: Terminal{Kind: TermSymbol, Text: text}} }
func Word(text string) Expr   { return litExpr{term: Terminal{Kind: TermWord, Text: text}} }
func Number() Expr            { return litExpr{term: Terminal{Kind: TermNumber}} }
func String() Expr            { return litExpr{term: Terminal{Kind: TermString}} }
func Ref(name string) Expr    { return refExpr{name: name} }
func Seq(items ...Expr) Expr  { return seqExpr{items: items} }
func Alt(choices ...Expr) Expr {
	return altExpr{choices: choices}
}
func Opt(inner Expr) Expr { return optExpr{inner: inner} }

// Many matches inner zero or more times.
func Many(inner Expr) Expr { return manyExpr{inner: inner} }

type Production struct {
	Name string
	Expr Expr
}

// Grammar is an immutable production table. It is safe for concurrent use.
type Grammar struct {
	start    string
	order    []string
	rules    map[string]Expr
	keywords map[string]Terminal
}

func New(start string, productions []Production) (*Grammar, error) {
	if len(productions) == 0 {
		return nil, errors.New("grammar has no productions")
	}
	g := &Grammar{
		start:    start,
		rules:    make(map[string]Expr, len(productions)),
		keywords: map[string]Terminal{},
	}
	for _, production := range productions {
		name := strings.TrimSpace(production.Name)
		if name == "" {
			return nil, errors.New("production name is required")
		}
		if production.Expr == nil {
			return nil, fmt.Errorf("production %q has no expression", name)
		}
		if _, exists := g.rules[name]; exists {
			return nil, fmt.Errorf("production %q defined twice", name)
		}
		g.rules[name] = production.Expr
		g.order = append(g.order, name)
	}
	if _, ok := g.rules[start]; !ok {
		return nil, fmt.Errorf("start rule %q is not defined", start)
	}

	for _, name := range g.order {
		if err := g.check(name, g.rules[name]); err != nil {
			return nil, err
		}
	}
	if err := g.checkLeftRecursion(); err != nil {
		return nil, err
	}
	return g, nil
}

func MustNew(start string, productions []Production) *Grammar {
	g, err := New(start, productions)
	if err != nil {
		panic(err)
	}
	return g
}

func (g *Grammar) Start() string { return g.start }

// Rules returns production names in definition order.
func (g *Grammar) Rules() []string {
	return append([]string(nil), g.order...)
}

// Keywords returns the sorted keyword set.
func (g *Grammar) Keywords() []string {
	out := make([]string, 0, len(g.keywords))
	for keyword := range g.keywords {
		out = append(out, keyword)
	}
	sort.Strings(out)
	return out
}

func (g *Grammar) IsKeyword(text string) bool {
	_, ok := g.keywords[strings.ToUpper(text)]
	return ok
}

func (g *Grammar) check(rule string, expr Expr) error {
	switch e := expr.(type) {
	case litExpr:
		switch e.term.Kind {
		case TermKeyword:
			if e.term.Text == "" {
				return fmt.Errorf("rule %q: empty keyword", rule)
			}
			if existing, ok := g.keywords[e.term.Text]; ok && existing.Call != e.term.Call {
				return fmt.Errorf("rule %q: keyword %s used both as call and plain keyword", rule, e.term.Text)
			}
			g.keywords[e.term.Text] = e.term
		case TermSymbol, TermWord:
			if e.term.Text == "" {
				return fmt.Errorf("rule %q: empty literal", rule)
			}
		}
		return nil
	case refExpr:
		if _, ok := g.rules[e.name]; !ok {
			return fmt.Errorf("rule %q references undefined nonterminal %q", rule, e.name)
		}
		return nil
	case seqExpr:
		if len(e.items) == 0 {
			return fmt.Errorf("rule %q: empty sequence", rule)
		}
		for _, item := range e.items {
			if err := g.check(rule, item); err != nil {
				return err
			}
		}
		return nil
	case altExpr:
		if len(e.choices) == 0 {
			return fmt.Errorf("rule %q: empty alternation", rule)
		}
		for _, choice := range e.choices {
			if err := g.check(rule, choice); err != nil {
				return err
			}
		}
		return nil
	case optExpr:
		return g.check(rule, e.inner)
	case manyExpr:
		if g.nullable(e.inner, map[string]bool{}) {
			return fmt.Errorf("rule %q: repetition of an expression that can match nothing", rule)
		}
		return g.check(rule, e.inner)
	default:
		return fmt.Errorf("rule %q: unsupported expression %T", rule, expr)
	}
}

func (g *Grammar) nullable(expr Expr, visiting map[string]bool) bool {
	switch e := expr.(type) {
	case litExpr:
		return false
	case refExpr:
		if visiting[e.name] {
			return false
		}
		rule, ok := g.rules[e.name]
		if !ok {
			return false
		}
		visiting[e.name] = true
		defer delete(visiting, e.name)
		return g.nullable(rule, visiting)
	case seqExpr:
		for _, item := range e.items {
			if !g.nullable(item, visiting) {
				return false
			}
		}
		return true
	case altExpr:
		for _, choice := range e.choices {
			if g.nullable(choice, visiting) {
				return true
			}
		}
		return false
	case optExpr, manyExpr:
		return true
	default:
		return false
	}
}

// leftRefs collects the nonterminals that may be entered without consuming a token.
func (g *Grammar) leftRefs(expr Expr, out map[string]bool) {
	switch e := expr.(type) {
	case refExpr:
		out[e.name] = true
	case seqExpr:
		for _, item := range e.items {
			g.leftRefs(item, out)
			if !g.nullable(item, map[string]bool{}) {
				return
			}
		}
	case altExpr:
		for _, choice := range e.choices {
			g.leftRefs(choice, out)
		}
	case optExpr:
		g.leftRefs(e.inner, out)
	case manyExpr:
		g.leftRefs(e.inner, out)
	}
}

func (g *Grammar) checkLeftRecursion() error {
	edges := make(map[string][]string, len(g.rules))
	for _, name := range g.order {
		refs := map[string]bool{}
		g.leftRefs(g.rules[name], refs)
		for ref := range refs {
			edges[name] = append(edges[name], ref)
		}
		sort.Strings(edges[name])
	}

	const (
		unvisited = iota
		active
		done
	)
	state := make(map[string]int, len(g.rules))
	var visit func(string) error
	visit = func(name string) error {
		switch state[name] {
		case active:
			return fmt.Errorf("rule %q is left-recursive", name)
		case done:
			return nil
		}
		state[name] = active
		for _, next := range edges[name] {
			if err := visit(next); err != nil {
				return err
			}
		}
		state[name] = done
		return nil
	}
	for _, name := range g.order {
		if err := visit(name); err != nil {
			return err
		}
	}
	return nil
}
