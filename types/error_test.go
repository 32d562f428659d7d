package types

import (
	"errors"
	"fmt"
	"testing"
)

func TestError_ChainingAndHelpers(t *testing.T) {
	t.Parallel()

	root := errors.New("root")
	err := NewError(ErrStoreUnavailable, "store query failed").
		WithCause(root).
		WithTraceID("trace-1")

	if GetErrorCode(err) != ErrStoreUnavailable {
		t.Fatalf("expected code %s, got %s", ErrStoreUnavailable, GetErrorCode(err))
	}
	if err.TraceID != "trace-1" {
		t.Fatalf("expected trace id, got %q", err.TraceID)
	}
	if !errors.Is(err, root) {
		t.Fatalf("expected errors.Is unwrap to root")
	}
	if got := err.Error(); got == "" {
		t.Fatalf("expected non-empty error string")
	}
}

func TestGetErrorCode_Wrapped(t *testing.T) {
	t.Parallel()

	inner := NewError(ErrEmptyTrace, "no spans recorded")
	wrapped := fmt.Errorf("fetch trace: %w", inner)

	if GetErrorCode(wrapped) != ErrEmptyTrace {
		t.Fatalf("expected code to survive wrapping, got %s", GetErrorCode(wrapped))
	}
	if !IsEmptyTrace(wrapped) {
		t.Fatalf("expected IsEmptyTrace on wrapped error")
	}
	if IsEmptyTrace(errors.New("plain")) {
		t.Fatalf("plain errors must not report empty trace")
	}
}
