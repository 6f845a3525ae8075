package domain

import (
	"errors"
	"fmt"
)

// Base error types (sentinel errors).
var (
	ErrNotFound     = errors.New("not found")
	ErrInvalidInput = errors.New("invalid input")
	ErrUnsupported  = errors.New("unsupported operation")
	ErrInternal     = errors.New("internal error")
	ErrCancelled    = errors.New("cancelled")
)

// Specific errors.
var (
	ErrSourceNotFound = fmt.Errorf("source: %w", ErrNotFound)
	ErrLayerNotFound  = fmt.Errorf("layer: %w", ErrNotFound)
	ErrJobNotFound    = fmt.Errorf("job: %w", ErrNotFound)
	ErrCursorDone     = errors.New("cursor exhausted")
	ErrCursorClosed   = errors.New("cursor closed")
)

// ValidationError reports invalid input to the API itself. It is always
// fatal to the whole call and is raised before any layer work starts.
type ValidationError struct {
	Field      string      // Field that failed validation
	Value      interface{} // The invalid value
	Constraint string      // The constraint that was violated
	Message    string      // Human-readable message
}

// Error implements the error interface.
func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation error for %s: %s (value: %v, constraint: %s)",
		e.Field, e.Message, e.Value, e.Constraint)
}

// Unwrap returns the underlying error type.
func (e *ValidationError) Unwrap() error {
	return ErrInvalidInput
}

// ConversionError reports a failure scoped to one layer or one record.
// It carries the layer name and, where known, an approximate record
// offset so the failure is actionable without a re-run. It is caught at
// the layer converter boundary and never propagates past the
// orchestrator.
type ConversionError struct {
	Layer  string // Layer the failure belongs to
	Field  string // Offending field, if the failure is field-scoped
	Offset int64  // Approximate record offset, -1 when unknown
	Err    error  // Underlying cause
}

// Error implements the error interface.
func (e *ConversionError) Error() string {
	switch {
	case e.Field != "":
		return fmt.Sprintf("conversion error in layer %s, field %s: %v", e.Layer, e.Field, e.Err)
	case e.Offset >= 0:
		return fmt.Sprintf("conversion error in layer %s near record %d: %v", e.Layer, e.Offset, e.Err)
	default:
		return fmt.Sprintf("conversion error in layer %s: %v", e.Layer, e.Err)
	}
}

// Unwrap returns the underlying error.
func (e *ConversionError) Unwrap() error {
	return e.Err
}

// NewConversionError wraps err as a layer-scoped conversion error with
// an unknown offset.
func NewConversionError(layer string, err error) *ConversionError {
	return &ConversionError{Layer: layer, Offset: -1, Err: err}
}

// StorageError represents an error during storage operations.
type StorageError struct {
	Operation string // Operation that failed (download, upload, list)
	Key       string // Object key
	Err       error  // Underlying error
}

// Error implements the error interface.
func (e *StorageError) Error() string {
	if e.Key != "" {
		return fmt.Sprintf("storage error during %s for %s: %v",
			e.Operation, e.Key, e.Err)
	}
	return fmt.Sprintf("storage error during %s: %v", e.Operation, e.Err)
}

// Unwrap returns the underlying error.
func (e *StorageError) Unwrap() error {
	return e.Err
}

// ConfigError represents a configuration error.
type ConfigError struct {
	Field   string // Configuration field
	Message string // Error message
}

// Error implements the error interface.
func (e *ConfigError) Error() string {
	return fmt.Sprintf("configuration error for %s: %s", e.Field, e.Message)
}

// Unwrap returns the underlying error.
func (e *ConfigError) Unwrap() error {
	return ErrInvalidInput
}
