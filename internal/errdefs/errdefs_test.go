package errdefs

import (
	"errors"
	"fmt"
	"strings"
	"testing"
)

func TestNotFound(t *testing.T) {
	err := NotFound("record", 42)
	if !IsNotFound(err) {
		t.Fatalf("expected not found, got %v", err)
	}
	if !strings.Contains(err.Error(), "record 42") {
		t.Errorf("expected message to name the key, got %q", err.Error())
	}
}

func TestClassification(t *testing.T) {
	cause := errors.New("boom")

	tests := []struct {
		name  string
		err   error
		check func(error) bool
	}{
		{"initialization", &InitializationError{Component: "embedding", Err: cause}, IsInitialization},
		{"conflict", &ConflictError{Slot: 1, RecordID: 2, Err: cause}, IsConflict},
		{"provider", &ProviderError{Provider: "openai", Op: "chat", Err: cause}, IsProvider},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			wrapped := fmt.Errorf("outer: %w", tt.err)
			if !tt.check(wrapped) {
				t.Errorf("expected %s classification through wrapping", tt.name)
			}
			if !errors.Is(wrapped, cause) {
				t.Error("expected cause to be reachable via Unwrap")
			}
		})
	}
}

func TestClassification_Negative(t *testing.T) {
	err := errors.New("plain")
	if IsNotFound(err) || IsConflict(err) || IsInitialization(err) || IsProvider(err) {
		t.Error("plain error should not match any class")
	}
}
