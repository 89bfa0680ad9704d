package grammar

import (
	"strings"
)

// Normalize canonicalizes a statement for comparison: trailing terminators are dropped,
// keywords are upper-cased, identifiers and string literals are kept verbatim and tokens are
// joined with canonical spacing. Text that does not lex only has its whitespace collapsed.
// Normalize is idempotent.
func (g *Grammar) Normalize(text string) string {
	trimmed := strings.TrimSpace(trimStatement(text))
	tokens, err := lex(trimmed)
	if err != nil {
		return strings.Join(strings.Fields(trimmed), " ")
	}
	return g.render(tokens)
}

// Unparse renders a parse tree. Unparse(Parse(x)) equals Normalize(x).
func (g *Grammar) Unparse(tree *Tree) string {
	if tree == nil || tree.Root == nil {
		return ""
	}
	return g.render(tree.Root.Tokens())
}

func (g *Grammar) render(tokens []Token) string {
	var b strings.Builder
	var prev *Token
	for i := range tokens {
		tok := tokens[i]
		text := tok.Text
		keyword, isKeyword := Terminal{}, false
		if tok.Kind == TokenIdent {
			keyword, isKeyword = g.keywords[strings.ToUpper(text)]
			if isKeyword {
				text = keyword.Text
			}
		}
		if prev != nil && g.spaceBetween(*prev, tok) {
			b.WriteByte(' ')
		}
		b.WriteString(text)
		prev = &tokens[i]
	}
	return b.String()
}

func (g *Grammar) spaceBetween(prev, cur Token) bool {
	if cur.Kind == TokenSymbol && (cur.Text == "," || cur.Text == ")") {
		return false
	}
	if prev.Kind == TokenSymbol && prev.Text == "(" {
		return false
	}
	if cur.Kind == TokenSymbol && cur.Text == "(" && prev.Kind == TokenIdent {
		if keyword, ok := g.keywords[strings.ToUpper(prev.Text)]; ok && keyword.Call {
			return false
		}
	}
	return true
}
