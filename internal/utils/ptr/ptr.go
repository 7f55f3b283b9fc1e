// Package ptr has small helpers for optional values.
package ptr

// To creates a pointer to the given value.
func To[T any](v T) *T {
	return &v
}
