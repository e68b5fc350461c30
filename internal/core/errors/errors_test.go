package errors

import (
	"errors"
	"fmt"
	"testing"
)

func TestDomainError(t *testing.T) {
	t.Run("New", func(t *testing.T) {
		err := New(CodeConfig, "unknown merge strategy")
		if err.Error() != "[CONFIG_ERROR] unknown merge strategy" {
			t.Errorf("expected [CONFIG_ERROR] unknown merge strategy, got %s", err.Error())
		}
	})

	t.Run("Wrap", func(t *testing.T) {
		original := errors.New("original error")
		err := Wrap(original, CodeTimeout, "parse timed out")
		expected := "[TIMEOUT] parse timed out: original error"
		if err.Error() != expected {
			t.Errorf("expected %s, got %s", expected, err.Error())
		}
	})

	t.Run("Unwrap", func(t *testing.T) {
		cause := errors.New("underlying")
		err := Wrap(cause, CodeSpool, "spool write failed")
		if !errors.Is(err, cause) {
			t.Error("expected errors.Is to reach the cause")
		}
	})

	t.Run("IsCode", func(t *testing.T) {
		err := New(CodeSerialization, "missing file_path")
		if !IsCode(err, CodeSerialization) {
			t.Error("expected IsCode to return true for CodeSerialization")
		}
		if IsCode(err, CodeTimeout) {
			t.Error("expected IsCode to return false for CodeTimeout")
		}
	})

	t.Run("IsCodeWithWrapped", func(t *testing.T) {
		err := New(CodeSerialization, "missing file_path")
		wrapped := fmt.Errorf("outer: %w", err)
		if !IsCode(wrapped, CodeSerialization) {
			t.Error("expected IsCode to see through wrapping")
		}
	})

	t.Run("WithContext", func(t *testing.T) {
		err := AddContext(errors.New("plain"), CtxPath, "a.go")
		var de *DomainError
		if !errors.As(err, &de) {
			t.Fatal("expected a DomainError")
		}
		if de.Context[CtxPath] != "a.go" {
			t.Errorf("expected path context, got %#v", de.Context)
		}
	})
}

func TestTierFailureIsNarrow(t *testing.T) {
	err := TierFailure("structural", "grammar missing", nil)
	if !IsTierFailure(err) {
		t.Fatal("expected tier failure to be recognized")
	}
	if IsTierFailure(New(CodeInternal, "bug")) {
		t.Fatal("internal error must not count as tier failure")
	}
	var de *DomainError
	if !errors.As(err, &de) || de.Context[CtxTier] != "structural" {
		t.Fatalf("expected tier context, got %#v", err)
	}
}
