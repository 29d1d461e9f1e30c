package domain

import (
	"errors"
	"fmt"
)

// Sentinel errors surfaced to API callers.
var (
	ErrJobNotFound      = errors.New("job not found")
	ErrJobTerminal      = errors.New("job already in a terminal state")
	ErrEmptyQuestion    = errors.New("question is empty")
	ErrEmptyBatch       = errors.New("no source URLs provided")
	ErrDimMismatch      = errors.New("embedding dimension mismatch")
	ErrEmptyDocument    = errors.New("document has no extractable text")
	ErrDocumentNotFound = errors.New("document not found")
	ErrNotConfigured    = errors.New("required configuration missing")
	ErrInvalidURL       = errors.New("invalid source URL")
)

// ValidationError wraps a sentinel with the offending field and value.
type ValidationError struct {
	Field   string
	Value   string
	Wrapped error
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation: %s: %s (value=%q)", e.Wrapped, e.Field, e.Value)
}

func (e *ValidationError) Unwrap() error { return e.Wrapped }

// NewValidationError creates a ValidationError.
func NewValidationError(field, value string, wrapped error) *ValidationError {
	return &ValidationError{Field: field, Value: value, Wrapped: wrapped}
}
