package grammar

import (
	"fmt"
	"strings"
	"unicode"

	"github.com/alecthomas/participle/v2/lexer"
)

type TokenKind int

const (
	TokenIdent TokenKind = iota + 1
	TokenNumber
	TokenString
	TokenSymbol
)

type Token struct {
	Kind   TokenKind
	Text   string
	Offset int
	Line   int
	Column int
}

var sqlLexer = lexer.MustSimple([]lexer.SimpleRule{
	{Name: "String", Pattern: `'[^']*'`},
	{Name: "Number", Pattern: `[0-9]+(\.[0-9]+)?`},
	{Name: "Ident", Pattern: `[A-Za-z_][A-Za-z0-9_]*`},
	{Name: "Operator", Pattern: `!=|>=|<=|[=<>,()*;-]`},
	// Same set as unicode.IsSpace.
	{Name: "Whitespace", Pattern: `[\t\n\v\f\r \x{85}\p{Z}]+`},
})

var tokenKinds = func() map[lexer.TokenType]TokenKind {
	symbols := sqlLexer.Symbols()
	return map[lexer.TokenType]TokenKind{
		symbols["String"]:   TokenString,
		symbols["Number"]:   TokenNumber,
		symbols["Ident"]:    TokenIdent,
		symbols["Operator"]: TokenSymbol,
	}
}()

// LexError reports input that no token rule accepts.
type LexError struct {
	Offset  int
	Line    int
	Column  int
	Message string
}

func (e *LexError) Error() string {
	return fmt.Sprintf("%d:%d: %s", e.Line, e.Column, e.Message)
}

func lex(text string) ([]Token, error) {
	lx, err := sqlLexer.LexString("", text)
	if err != nil {
		return nil, lexFailure(err)
	}
	raw, err := lexer.ConsumeAll(lx)
	if err != nil {
		return nil, lexFailure(err)
	}

	tokens := make([]Token, 0, len(raw))
	for _, tok := range raw {
		if tok.EOF() {
			continue
		}
		kind, ok := tokenKinds[tok.Type]
		if !ok {
			continue
		}
		tokens = append(tokens, Token{
			Kind:   kind,
			Text:   tok.Value,
			Offset: tok.Pos.Offset,
			Line:   tok.Pos.Line,
			Column: tok.Pos.Column,
		})
	}
	return tokens, nil
}

func lexFailure(err error) error {
	out := &LexError{Offset: -1, Message: err.Error()}
	if positioned, ok := err.(interface{ Position() lexer.Position }); ok {
		pos := positioned.Position()
		out.Offset = pos.Offset
		out.Line = pos.Line
		out.Column = pos.Column
	}
	if messaged, ok := err.(interface{ Message() string }); ok {
		out.Message = messaged.Message()
	}
	return out
}

// trimStatement removes trailing whitespace and statement terminators. Leading whitespace is
// kept so token offsets still point into the caller's text.
func trimStatement(text string) string {
	trimmed := strings.TrimRightFunc(text, unicode.IsSpace)
	for strings.HasSuffix(trimmed, ";") {
		trimmed = strings.TrimRightFunc(strings.TrimSuffix(trimmed, ";"), unicode.IsSpace)
	}
	return trimmed
}

// Tokenize splits a statement into tokens, ignoring trailing terminators.
func Tokenize(text string) ([]Token, error) {
	return lex(trimStatement(text))
}
