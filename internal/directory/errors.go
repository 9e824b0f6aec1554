package directory

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"tlr.org/internal/auth"
)

var (
	ErrNotFound     = errors.New("directory: not found")
	ErrConflict     = errors.New("directory: conflict")
	ErrInvalidInput = errors.New("directory: invalid input")
)

// ErrUserNotFound also matches auth.ErrNotFound so token checks treat a
// deleted user as an invalid token.
var ErrUserNotFound = fmt.Errorf("%w: %w", ErrNotFound, auth.ErrNotFound)

// ErrEmailTaken is the field message for a duplicate user email.
const ErrEmailTaken = "This email address has already been taken."

// ValidationError carries field level messages.
type ValidationError struct {
	Fields map[string][]string
}

// Add records msg against field.
func (e *ValidationError) Add(field, msg string) {
	if e.Fields == nil {
		e.Fields = map[string][]string{}
	}
	e.Fields[field] = append(e.Fields[field], msg)
}

// Empty reports whether no field errors were recorded.
func (e *ValidationError) Empty() bool { return e == nil || len(e.Fields) == 0 }

// Err returns e, or nil when it holds no errors.
func (e *ValidationError) Err() error {
	if e.Empty() {
		return nil
	}
	return e
}

func (e *ValidationError) Error() string {
	keys := make([]string, 0, len(e.Fields))
	for k := range e.Fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, k+": "+strings.Join(e.Fields[k], ", "))
	}
	return "validation failed: " + strings.Join(parts, "; ")
}

func (e *ValidationError) Unwrap() error { return ErrInvalidInput }

// FieldError builds a single field validation error.
func FieldError(field, msg string) error {
	v := &ValidationError{}
	v.Add(field, msg)
	return v
}
