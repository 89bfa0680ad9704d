package grammar

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"unicode/utf8"
)

// Node is a parse tree node. Nonterminal nodes carry the rule name; leaves carry the token.
type Node struct {
	Rule     string
	Token    *Token
	Children []*Node

	pending *nodeList
}

func (n *Node) Leaf() bool { return n.Token != nil }

// Find returns the first node in depth-first order produced by rule.
func (n *Node) Find(rule string) *Node {
	if n == nil {
		return nil
	}
	if n.Rule == rule {
		return n
	}
	for _, child := range n.Children {
		if found := child.Find(rule); found != nil {
			return found
		}
	}
	return nil
}

func (n *Node) FindAll(rule string) []*Node {
	var out []*Node
	n.walk(func(node *Node) {
		if node.Rule == rule {
			out = append(out, node)
		}
	})
	return out
}

func (n *Node) Tokens() []Token {
	var out []Token
	n.walk(func(node *Node) {
		if node.Token != nil {
			out = append(out, *node.Token)
		}
	})
	return out
}

func (n *Node) walk(fn func(*Node)) {
	if n == nil {
		return
	}
	fn(n)
	for _, child := range n.Children {
		child.walk(fn)
	}
}

type Tree struct {
	Root    *Node
	grammar *Grammar
}

// String renders the tree in canonical form.
func (t *Tree) String() string {
	return t.grammar.Unparse(t)
}

// ParseError locates the farthest point the parser reached and what it would have accepted.
type ParseError struct {
	Offset   int
	Line     int
	Column   int
	Found    string
	Expected []string
}

func (e *ParseError) Error() string {
	if len(e.Expected) == 0 {
		return fmt.Sprintf("syntax error at offset %d: unexpected %s", e.Offset, e.Found)
	}
	return fmt.Sprintf("syntax error at offset %d: unexpected %s, expected %s", e.Offset, e.Found, strings.Join(e.Expected, " | "))
}

// nodeList is a persistent list of sibling nodes, newest first. Extending it never copies,
// so backtracking over long repetitions stays linear.
type nodeList struct {
	node *Node
	prev *nodeList
	size int
}

func (l *nodeList) push(node *Node) *nodeList {
	size := 1
	if l != nil {
		size = l.size + 1
	}
	return &nodeList{node: node, prev: l, size: size}
}

func (l *nodeList) slice() []*Node {
	if l == nil {
		return nil
	}
	out := make([]*Node, l.size)
	for cur := l; cur != nil; cur = cur.prev {
		out[cur.size-1] = cur.node
	}
	return out
}

type continuation func(pos int, acc *nodeList) bool

type matcher struct {
	g      *Grammar
	tokens []Token

	farthest int
	expected map[Terminal]struct{}

	next map[Terminal]struct{}
}

func newMatcher(g *Grammar, tokens []Token) *matcher {
	return &matcher{
		g:        g,
		tokens:   tokens,
		farthest: -1,
		expected: map[Terminal]struct{}{},
		next:     map[Terminal]struct{}{},
	}
}

func (m *matcher) fail(pos int, term Terminal) {
	if pos == len(m.tokens) && term.Kind != TermEnd {
		m.next[term] = struct{}{}
	}
	if pos > m.farthest {
		m.farthest = pos
		m.expected = map[Terminal]struct{}{}
	}
	if pos == m.farthest {
		m.expected[term] = struct{}{}
	}
}

// match runs expr at pos, appending its nodes to acc, and hands every successful derivation
// to k until k returns true. Rule nodes keep their children as a pending list; build turns
// the accepted tree into plain slices.
func (m *matcher) match(expr Expr, pos int, acc *nodeList, k continuation) bool {
	switch e := expr.(type) {
	case litExpr:
		if pos < len(m.tokens) && e.term.Matches(m.tokens[pos]) {
			tok := m.tokens[pos]
			return k(pos+1, acc.push(&Node{Token: &tok}))
		}
		m.fail(pos, e.term)
		return false
	case refExpr:
		return m.match(m.g.rules[e.name], pos, nil, func(next int, children *nodeList) bool {
			return k(next, acc.push(&Node{Rule: e.name, pending: children}))
		})
	case seqExpr:
		return m.matchSeq(e.items, pos, acc, k)
	case altExpr:
		for _, choice := range e.choices {
			if m.match(choice, pos, acc, k) {
				return true
			}
		}
		return false
	case optExpr:
		if m.match(e.inner, pos, acc, k) {
			return true
		}
		return k(pos, acc)
	case manyExpr:
		return m.matchMany(e, pos, acc, k)
	default:
		return false
	}
}

func (m *matcher) matchSeq(items []Expr, pos int, acc *nodeList, k continuation) bool {
	if len(items) == 0 {
		return k(pos, acc)
	}
	return m.match(items[0], pos, acc, func(next int, acc *nodeList) bool {
		return m.matchSeq(items[1:], next, acc, k)
	})
}

func (m *matcher) matchMany(e manyExpr, pos int, acc *nodeList, k continuation) bool {
	if m.match(e.inner, pos, acc, func(next int, acc *nodeList) bool {
		return m.matchMany(e, next, acc, k)
	}) {
		return true
	}
	return k(pos, acc)
}

// build materializes pending children of the accepted tree.
func build(n *Node) *Node {
	if n.pending != nil {
		n.Children = n.pending.slice()
		n.pending = nil
	}
	for _, child := range n.Children {
		build(child)
	}
	return n
}

func (m *matcher) parseError(text string) *ParseError {
	out := &ParseError{Offset: len(text), Found: "end of input"}
	pos := m.farthest
	if pos >= 0 && pos < len(m.tokens) {
		tok := m.tokens[pos]
		out.Offset = tok.Offset
		out.Line = tok.Line
		out.Column = tok.Column
		out.Found = fmt.Sprintf("%q", tok.Text)
	} else {
		out.Line, out.Column = lineColumn(text, len(text))
	}
	terms := make([]Terminal, 0, len(m.expected))
	for term := range m.expected {
		terms = append(terms, term)
	}
	sort.Slice(terms, func(i, j int) bool { return terminalLess(terms[i], terms[j]) })
	for _, term := range terms {
		out.Expected = append(out.Expected, term.String())
	}
	return out
}

func lineColumn(text string, offset int) (int, int) {
	line, column := 1, 1
	for _, r := range text[:offset] {
		if r == '\n' {
			line++
			column = 1
			continue
		}
		column++
	}
	return line, column
}

// MaxStatementBytes bounds the text Parse and Next accept.
const MaxStatementBytes = 8 << 10

func (g *Grammar) tokenize(text string) ([]Token, string, error) {
	trimmed := trimStatement(text)
	if len(trimmed) > MaxStatementBytes {
		line, column := lineColumn(trimmed, MaxStatementBytes)
		return nil, trimmed, &ParseError{
			Offset: MaxStatementBytes,
			Line:   line,
			Column: column,
			Found:  fmt.Sprintf("statement of %d bytes (limit %d)", len(trimmed), MaxStatementBytes),
		}
	}
	tokens, err := lex(trimmed)
	if err != nil {
		var lexErr *LexError
		if errors.As(err, &lexErr) {
			found := "invalid character"
			if lexErr.Offset >= 0 && lexErr.Offset < len(trimmed) {
				r, _ := utf8.DecodeRuneInString(trimmed[lexErr.Offset:])
				found = fmt.Sprintf("%q", string(r))
			}
			return nil, trimmed, &ParseError{Offset: lexErr.Offset, Line: lexErr.Line, Column: lexErr.Column, Found: found}
		}
		return nil, trimmed, err
	}
	return tokens, trimmed, nil
}

// Parse accepts exactly one statement of the grammar. Trailing whitespace and statement
// terminators are ignored; offsets in a ParseError refer to text.
func (g *Grammar) Parse(text string) (*Tree, error) {
	tokens, trimmed, err := g.tokenize(text)
	if err != nil {
		return nil, err
	}
	m := newMatcher(g, tokens)
	var root *Node
	ok := m.match(Ref(g.start), 0, nil, func(pos int, acc *nodeList) bool {
		if pos != len(tokens) {
			m.fail(pos, End)
			return false
		}
		root = acc.node
		return true
	})
	if !ok {
		return nil, m.parseError(trimmed)
	}
	return &Tree{Root: build(root), grammar: g}, nil
}

// Continuations is the set of terminals that may follow a prefix.
type Continuations struct {
	Terminals []Terminal
	// Complete reports whether the prefix is itself a full statement.
	Complete bool
}

func (c Continuations) Allows(term Terminal) bool {
	if term.Kind == TermEnd {
		return c.Complete
	}
	for _, candidate := range c.Terminals {
		if candidate.Kind == term.Kind && candidate.Text == term.Text {
			return true
		}
	}
	return false
}

// Next returns the legal continuations of a prefix made of whole tokens. A prefix no
// statement can start with yields a ParseError.
func (g *Grammar) Next(prefix string) (Continuations, error) {
	tokens, trimmed, err := g.tokenize(prefix)
	if err != nil {
		return Continuations{}, err
	}
	m := newMatcher(g, tokens)
	complete := false
	m.match(Ref(g.start), 0, nil, func(pos int, _ *nodeList) bool {
		if pos == len(tokens) {
			complete = true
		}
		return false
	})
	if len(m.next) == 0 && !complete {
		return Continuations{}, m.parseError(trimmed)
	}

	out := Continuations{Complete: complete, Terminals: make([]Terminal, 0, len(m.next))}
	for term := range m.next {
		out.Terminals = append(out.Terminals, term)
	}
	sort.Slice(out.Terminals, func(i, j int) bool { return terminalLess(out.Terminals[i], out.Terminals[j]) })
	return out, nil
}

// Accepts reports whether text is exactly one token matching term.
func (g *Grammar) Accepts(term Terminal, text string) bool {
	tokens, err := lex(text)
	if err != nil || len(tokens) != 1 {
		return false
	}
	return term.Matches(tokens[0])
}

// countParses enumerates derivations of text, stopping at limit.
func (g *Grammar) countParses(text string, limit int) int {
	tokens, _, err := g.tokenize(text)
	if err != nil {
		return 0
	}
	m := newMatcher(g, tokens)
	count := 0
	m.match(Ref(g.start), 0, nil, func(pos int, _ *nodeList) bool {
		if pos == len(tokens) {
			count++
		}
		return count >= limit
	})
	return count
}
