// Package errors provides custom error types for the grimoire system.
// These errors enable programmatic error checking across the reconciliation,
// manifest and community merge layers.
package errors

import (
	"errors"
	"fmt"
	"strings"
)

// New returns an error that formats as the given text.
// It's an alias for the standard library errors.New for convenience.
var New = errors.New

// Is and As are re-exported so callers need a single errors import.
var (
	Is = errors.Is
	As = errors.As
)

// Common sentinel errors for the grimoire system
var (
	// ErrNotFound indicates that a requested resource was not found
	ErrNotFound = errors.New("not found")

	// ErrInvalidInput indicates that provided input was invalid
	ErrInvalidInput = errors.New("invalid input")

	// ErrMalformed indicates persisted state that cannot be parsed
	ErrMalformed = errors.New("malformed")

	// ErrConflict indicates that stale or conflicting writes blocked completion
	ErrConflict = errors.New("conflict")

	// ErrLocked indicates another writer holds the corpus directory
	ErrLocked = errors.New("locked")

	// ErrCanceled indicates that an operation was canceled
	ErrCanceled = errors.New("operation canceled")
)

// NotFoundError represents an error when a resource is not found
type NotFoundError struct {
	Resource string
	ID       string
}

// Error implements the error interface
func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s with ID %s not found", e.Resource, e.ID)
}

// Is implements errors.Is support
func (e *NotFoundError) Is(target error) bool {
	return target == ErrNotFound
}

// NewNotFoundError creates a new NotFoundError
func NewNotFoundError(resource, id string) *NotFoundError {
	return &NotFoundError{Resource: resource, ID: id}
}

// MissingInputError reports a required source file or directory that does not exist.
type MissingInputError struct {
	Kind string // "file", "directory", "bundle"
	Path string
	Err  error
}

// Error implements the error interface
func (e *MissingInputError) Error() string {
	if e.Kind != "" {
		return fmt.Sprintf("missing input %s: %s", e.Kind, e.Path)
	}
	return fmt.Sprintf("missing input: %s", e.Path)
}

// Unwrap implements errors.Unwrap
func (e *MissingInputError) Unwrap() error {
	return e.Err
}

// Is implements errors.Is support
func (e *MissingInputError) Is(target error) bool {
	return target == ErrNotFound
}

// NewMissingInputError creates a new MissingInputError
func NewMissingInputError(kind, path string, err error) *MissingInputError {
	return &MissingInputError{Kind: kind, Path: path, Err: err}
}

// ManifestError reports a manifest file that exists but cannot be parsed.
// Recovering from it would risk double- or under-processing, so it is fatal.
type ManifestError struct {
	Path string
	Err  error
}

// Error implements the error interface
func (e *ManifestError) Error() string {
	return fmt.Sprintf("malformed manifest %s: %v", e.Path, e.Err)
}

// Unwrap implements errors.Unwrap
func (e *ManifestError) Unwrap() error {
	return e.Err
}

// Is implements errors.Is support
func (e *ManifestError) Is(target error) bool {
	return target == ErrMalformed
}

// NewManifestError creates a new ManifestError
func NewManifestError(path string, err error) *ManifestError {
	return &ManifestError{Path: path, Err: err}
}

// ConflictError is returned only when a caller asks that conflicts block completion.
type ConflictError struct {
	AnnotationIDs []string
}

// Error implements the error interface
func (e *ConflictError) Error() string {
	return fmt.Sprintf("%d conflicting bundle(s) blocked completion: %s",
		len(e.AnnotationIDs), strings.Join(e.AnnotationIDs, ", "))
}

// Is implements errors.Is support
func (e *ConflictError) Is(target error) bool {
	return target == ErrConflict
}

// NewConflictError creates a new ConflictError
func NewConflictError(annotationIDs []string) *ConflictError {
	return &ConflictError{AnnotationIDs: annotationIDs}
}

// ValidationError represents a validation failure
type ValidationError struct {
	Field   string
	Value   any
	Message string
}

// Error implements the error interface
func (e *ValidationError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("validation failed for field %s: %s", e.Field, e.Message)
	}
	return fmt.Sprintf("validation failed: %s", e.Message)
}

// Is implements errors.Is support
func (e *ValidationError) Is(target error) bool {
	return target == ErrInvalidInput
}

// NewValidationError creates a new ValidationError
func NewValidationError(field string, value any, message string) *ValidationError {
	return &ValidationError{Field: field, Value: value, Message: message}
}

// ConfigError represents a configuration error
type ConfigError struct {
	Component string
	Message   string
	Err       error
}

// Error implements the error interface
func (e *ConfigError) Error() string {
	if e.Component != "" {
		return fmt.Sprintf("configuration error in %s: %s", e.Component, e.Message)
	}
	return fmt.Sprintf("configuration error: %s", e.Message)
}

// Unwrap implements errors.Unwrap
func (e *ConfigError) Unwrap() error {
	return e.Err
}

// NewConfigError creates a new ConfigError
func NewConfigError(component, message string, err error) *ConfigError {
	return &ConfigError{
		Component: component,
		Message:   message,
		Err:       err,
	}
}

// ParseError represents an error when parsing data formats
type ParseError struct {
	Format  string // "json", "yaml", "timestamp", etc.
	File    string
	Message string
	Err     error
}

// Error implements the error interface
func (e *ParseError) Error() string {
	if e.File != "" {
		return fmt.Sprintf("parse error in %s file %s: %s", e.Format, e.File, e.Message)
	}
	return fmt.Sprintf("%s parse error: %s", e.Format, e.Message)
}

// Unwrap implements errors.Unwrap
func (e *ParseError) Unwrap() error {
	return e.Err
}

// NewParseError creates a new ParseError
func NewParseError(format, file string, message string, err error) *ParseError {
	return &ParseError{
		Format:  format,
		File:    file,
		Message: message,
		Err:     err,
	}
}

// IOError represents an error during I/O operations
type IOError struct {
	Operation string // "read", "write", "create", "delete", "open", "rename"
	Path      string
	Message   string
	Err       error
}

// Error implements the error interface
func (e *IOError) Error() string {
	if e.Path != "" {
		return fmt.Sprintf("IO error during %s of %s: %s", e.Operation, e.Path, e.Message)
	}
	return fmt.Sprintf("IO error during %s: %s", e.Operation, e.Message)
}

// Unwrap implements errors.Unwrap
func (e *IOError) Unwrap() error {
	return e.Err
}

// NewIOError creates a new IOError
func NewIOError(operation, path string, err error) *IOError {
	message := ""
	if err != nil {
		message = err.Error()
	}
	return &IOError{
		Operation: operation,
		Path:      path,
		Message:   message,
		Err:       err,
	}
}

// ResourceError represents an error during resource operations
type ResourceError struct {
	Operation string // "load", "save", "apply", "export"
	Resource  string // "manifest", "bundle", "table", "corpus"
	ID        string
	Message   string
	Err       error
}

// Error implements the error interface
func (e *ResourceError) Error() string {
	if e.ID != "" {
		return fmt.Sprintf("failed to %s %s %s: %s", e.Operation, e.Resource, e.ID, e.Message)
	}
	return fmt.Sprintf("failed to %s %s: %s", e.Operation, e.Resource, e.Message)
}

// Unwrap implements errors.Unwrap
func (e *ResourceError) Unwrap() error {
	return e.Err
}

// NewResourceError creates a new ResourceError
func NewResourceError(operation, resource, id string, err error) *ResourceError {
	message := ""
	if err != nil {
		message = err.Error()
	}
	return &ResourceError{
		Operation: operation,
		Resource:  resource,
		ID:        id,
		Message:   message,
		Err:       err,
	}
}

// Helper functions for error checking

// IsNotFound checks if an error is a not found error
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// IsValidationError checks if an error is a validation error
func IsValidationError(err error) bool {
	return errors.Is(err, ErrInvalidInput)
}

// IsMalformed checks if an error reports unparseable persisted state
func IsMalformed(err error) bool {
	return errors.Is(err, ErrMalformed)
}

// IsConflict checks if an error reports blocking conflicts
func IsConflict(err error) bool {
	return errors.Is(err, ErrConflict)
}

// IsCanceled checks if an error is a cancellation error
func IsCanceled(err error) bool {
	return errors.Is(err, ErrCanceled)
}

// Helper wrapping functions for common patterns

// WrapValidation wraps an error as a ValidationError
func WrapValidation(field string, err error) error {
	if err == nil {
		return nil
	}
	return &ValidationError{Field: field, Message: err.Error()}
}

// WrapCanceled marks a context error as ErrCanceled, keeping the cause.
func WrapCanceled(err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%w: %w", ErrCanceled, err)
}

// WrapIO wraps an error as an IOError
func WrapIO(operation, path string, err error) error {
	if err == nil {
		return nil
	}
	return NewIOError(operation, path, err)
}

// WrapResource wraps an error as a ResourceError
func WrapResource(operation, resource, id string, err error) error {
	if err == nil {
		return nil
	}
	return NewResourceError(operation, resource, id, err)
}

// WrapParse wraps an error as a ParseError
func WrapParse(format, file string, err error) error {
	if err == nil {
		return nil
	}
	return NewParseError(format, file, err.Error(), err)
}
