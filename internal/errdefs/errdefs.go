// Package errdefs holds the error taxonomy shared by the memory subsystem and
// the conversation layer. Callers classify failures with errors.Is and errors.As.
package errdefs

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound is returned when a record, slot or mapping does not exist.
	ErrNotFound = errors.New("not found")

	// ErrInvalidInput is returned for caller errors such as an empty message.
	ErrInvalidInput = errors.New("invalid input")
)

// InitializationError reports that a component (embedding model, index
// snapshot, store) could not be brought up. It is fatal for the operation that
// triggered it and is not retried automatically.
type InitializationError struct {
	Component string
	Err       error
}

func (e *InitializationError) Error() string {
	return fmt.Sprintf("%s initialization failed: %v", e.Component, e.Err)
}

func (e *InitializationError) Unwrap() error { return e.Err }

// ConflictError reports an attempt to bind a slot or record that is already
// bound. It indicates a consistency bug and aborts the write.
type ConflictError struct {
	Slot     int64
	RecordID int64
	Err      error
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("mapping conflict for slot %d / record %d: %v", e.Slot, e.RecordID, e.Err)
}

func (e *ConflictError) Unwrap() error { return e.Err }

// ProviderError wraps a failure of an external embedding or completion call.
type ProviderError struct {
	Provider string
	Op       string
	Err      error
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("%s %s failed: %v", e.Provider, e.Op, e.Err)
}

func (e *ProviderError) Unwrap() error { return e.Err }

// NotFound wraps ErrNotFound with the kind and key that was looked up.
func NotFound(kind string, key any) error {
	return fmt.Errorf("%s %v: %w", kind, key, ErrNotFound)
}

// IsNotFound reports whether err is or wraps ErrNotFound.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// IsConflict reports whether err is or wraps a ConflictError.
func IsConflict(err error) bool {
	var ce *ConflictError
	return errors.As(err, &ce)
}

// IsInitialization reports whether err is or wraps an InitializationError.
func IsInitialization(err error) bool {
	var ie *InitializationError
	return errors.As(err, &ie)
}

// IsProvider reports whether err is or wraps a ProviderError.
func IsProvider(err error) bool {
	var pe *ProviderError
	return errors.As(err, &pe)
}
