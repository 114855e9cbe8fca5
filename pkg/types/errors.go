package types

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrValidation marks malformed input. *ValidationError wraps it.
	ErrValidation = errors.New("validation failed")
	// ErrUnknownTestType is a validation failure for an unresolvable test type.
	ErrUnknownTestType = fmt.Errorf("%w: unknown test type", ErrValidation)
	ErrNotFound        = errors.New("not found")
	// ErrIdempotencyConflict means another commit already owns the key.
	ErrIdempotencyConflict = errors.New("idempotency key already recorded")
	ErrStorage             = errors.New("storage failure")
	ErrProjectHasChildren  = errors.New("project still has measurements")
)

// FieldError names one offending input field, e.g. "items[2].longitude".
type FieldError struct {
	Field  string `json:"field"`
	Detail string `json:"detail"`
}

// ValidationError collects every field problem found in one request.
type ValidationError struct {
	Fields []FieldError
	// UnknownTestType is set when at least one item referenced a test type
	// that does not exist.
	UnknownTestType bool
}

func (e *ValidationError) Error() string {
	if len(e.Fields) == 0 {
		return ErrValidation.Error()
	}
	parts := make([]string, 0, len(e.Fields))
	for _, f := range e.Fields {
		parts = append(parts, f.Field+": "+f.Detail)
	}
	return ErrValidation.Error() + ": " + strings.Join(parts, "; ")
}

func (e *ValidationError) Is(target error) bool {
	if target == ErrValidation {
		return true
	}
	return target == ErrUnknownTestType && e.UnknownTestType
}

// Add appends a field error.
func (e *ValidationError) Add(field, detail string) {
	e.Fields = append(e.Fields, FieldError{Field: field, Detail: detail})
}

// Err returns e when it holds at least one field error, nil otherwise.
func (e *ValidationError) Err() error {
	if len(e.Fields) == 0 {
		return nil
	}
	return e
}

// Invalid builds a single-field validation error.
func Invalid(field, detail string) error {
	return &ValidationError{Fields: []FieldError{{Field: field, Detail: detail}}}
}

// StorageError wraps a backend failure so it matches ErrStorage while
// keeping the cause inspectable.
func StorageError(op string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", op, errors.Join(ErrStorage, err))
}
