package common

import (
	"errors"
	"fmt"
)

var (
	// Repository-level errors.
	ErrorNotFound = errors.New("not found")

	// Service-level errors.
	// ErrValidation is matched (errors.Is) by every *ValidationError.
	ErrValidation = errors.New("validation error")
)

// ValidationError reports missing or malformed local configuration, e.g. a
// direction without a pixel id for an objective that requires one. It is
// fatal and never retried; the message is meant to be shown to the user.
type ValidationError struct {
	Entity string // "direction", "creative", "settings", ...
	ID     string
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.ID != "" {
		return fmt.Sprintf("invalid %s %s: %s: %s", e.Entity, e.ID, e.Field, e.Reason)
	}
	return fmt.Sprintf("invalid %s: %s: %s", e.Entity, e.Field, e.Reason)
}

func (e *ValidationError) Is(target error) bool {
	return target == ErrValidation
}

// NewValidationError is a shorthand constructor.
func NewValidationError(entity, id, field, reason string) *ValidationError {
	return &ValidationError{Entity: entity, ID: id, Field: field, Reason: reason}
}
