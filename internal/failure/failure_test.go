package failure

import (
	"context"
	"errors"
	"fmt"
	"testing"
)

func TestKindOfUnwrapsWrappedErrors(t *testing.T) {
	base := Wrap(KindQueryError, "execute", errors.New("unknown column"))
	wrapped := fmt.Errorf("pipeline: %w", base)

	kind, ok := KindOf(wrapped)
	if !ok || kind != KindQueryError {
		t.Fatalf("KindOf() = %q, %v", kind, ok)
	}
	if base.Offset != -1 {
		t.Fatalf("Offset = %d", base.Offset)
	}
}

func TestKindOfMapsContextErrorsToTimeout(t *testing.T) {
	kind, ok := KindOf(fmt.Errorf("call: %w", context.DeadlineExceeded))
	if !ok || kind != KindTimeout {
		t.Fatalf("KindOf() = %q, %v", kind, ok)
	}
	if _, ok := KindOf(errors.New("plain")); ok {
		t.Fatal("plain error should not be classified")
	}
}

func TestErrorMessageIncludesKindAndCause(t *testing.T) {
	err := Wrap(KindConnectionError, "dial store", errors.New("refused"))
	if got := err.Error(); got != "connection-error: dial store: refused" {
		t.Fatalf("Error() = %q", got)
	}
	if got := New(KindTimeout, "deadline").Error(); got != "timeout: deadline" {
		t.Fatalf("Error() = %q", got)
	}
}

func TestKindValid(t *testing.T) {
	for _, kind := range []Kind{KindGenerationFailed, KindGrammarViolation, KindConnectionError, KindQueryError, KindTimeout} {
		if !kind.Valid() {
			t.Fatalf("%q should be valid", kind)
		}
	}
	if Kind("other").Valid() {
		t.Fatal("unexpected valid kind")
	}
}
