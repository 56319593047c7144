package errs

import (
	"errors"
	"fmt"
	"testing"
)

func TestOfUnwrapsChain(t *testing.T) {
	base := New(Timeout, "command timed out")
	wrapped := fmt.Errorf("invoke failed: %w", base)

	kind, ok := Of(wrapped)
	if !ok || kind != Timeout {
		t.Fatalf("Of(wrapped) = %v, %v; want Timeout, true", kind, ok)
	}
}

func TestIsMatchesOnKindOnly(t *testing.T) {
	a := New(StateInvalid, "stale ack handle")
	b := &Error{Kind: StateInvalid}
	if !errors.Is(a, b) {
		t.Fatalf("expected errors.Is to match on Kind alone")
	}
	c := &Error{Kind: Timeout}
	if errors.Is(a, c) {
		t.Fatalf("expected errors.Is to not match across different Kinds")
	}
}
