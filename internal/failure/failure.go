package failure

import (
	"context"
	"errors"
	"fmt"
)

type Kind string

const (
	KindGenerationFailed Kind = "generation-failed"
	KindGrammarViolation Kind = "grammar-violation"
	KindConnectionError  Kind = "connection-error"
	KindQueryError       Kind = "query-error"
	KindTimeout          Kind = "timeout"
)

func (k Kind) Valid() bool {
	switch k {
	case KindGenerationFailed, KindGrammarViolation, KindConnectionError, KindQueryError, KindTimeout:
		return true
	default:
		return false
	}
}

// Error is the only failure shape that leaves the core. Offset is the byte offset of a
// grammar violation and -1 otherwise.
type Error struct {
	Kind    Kind
	Message string
	Offset  int
	Err     error
}

func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message, Offset: -1}
}

func Wrap(kind Kind, message string, err error) *Error {
	return &Error{Kind: kind, Message: message, Offset: -1, Err: err}
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// KindOf reports the kind carried by err. Bare context errors map to timeout so that a
// cancelled request still surfaces a classified failure.
func KindOf(err error) (Kind, bool) {
	if err == nil {
		return "", false
	}
	var typed *Error
	if errors.As(err, &typed) {
		return typed.Kind, true
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return KindTimeout, true
	}
	return "", false
}

// Retryable reports whether a caller-level retry policy may resubmit. The core itself never
// retries.
func (k Kind) Retryable() bool {
	switch k {
	case KindConnectionError, KindTimeout, KindGenerationFailed:
		return true
	case KindGrammarViolation, KindQueryError:
		return false
	default:
		return false
	}
}
