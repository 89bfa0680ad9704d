package grammar

import (
	"fmt"
	"strings"
)

type TerminalKind int

const (
	TermKeyword TerminalKind = iota + 1
	TermSymbol
	TermWord
	TermNumber
	TermString
	TermEnd
)

// Terminal is a leaf of the grammar. Keywords match case-insensitively, words (table and
// column names) match exactly, numbers and strings are open token classes.
type Terminal struct {
	Kind TerminalKind
	Text string
	// Call marks keywords written directly against their opening parenthesis, e.g. COUNT(*).
	Call bool
}

// End is the pseudo-terminal offered when a prefix is already a complete statement.
var End = Terminal{Kind: TermEnd}

func (t Terminal) String() string {
	switch t.Kind {
	case TermKeyword, TermSymbol, TermWord:
		return t.Text
	case TermNumber:
		return "NUMBER"
	case TermString:
		return "STRING"
	case TermEnd:
		return "<end>"
	default:
		return fmt.Sprintf("terminal(%d)", t.Kind)
	}
}

// Open reports whether the terminal stands for a class of tokens rather than one literal.
func (t Terminal) Open() bool {
	return t.Kind == TermNumber || t.Kind == TermString
}

func (t Terminal) Matches(tok Token) bool {
	switch t.Kind {
	case TermKeyword:
		return tok.Kind == TokenIdent && strings.EqualFold(tok.Text, t.Text)
	case TermWord:
		return tok.Kind == TokenIdent && tok.Text == t.Text
	case TermSymbol:
		return tok.Kind == TokenSymbol && tok.Text == t.Text
	case TermNumber:
		return tok.Kind == TokenNumber
	case TermString:
		return tok.Kind == TokenString
	default:
		return false
	}
}

func terminalLess(a, b Terminal) bool {
	if a.Kind != b.Kind {
		return a.Kind < b.Kind
	}
	return a.Text < b.Text
}
