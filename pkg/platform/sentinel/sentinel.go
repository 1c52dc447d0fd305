// Package sentinel holds errors for infrastructure facts. Stores and services return them,
// optionally wrapped, and transports map them to responses with errors.Is.
package sentinel

import "errors"

var (
	// ErrNotFound: the requested record does not exist.
	ErrNotFound = errors.New("not found")
	// ErrInvalidInput: a caller-supplied filter or identifier could not be parsed.
	ErrInvalidInput = errors.New("invalid input")
	// ErrUnavailable: a backing service is temporarily unavailable.
	ErrUnavailable = errors.New("unavailable")
)
