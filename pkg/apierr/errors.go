// Package apierr holds the error taxonomy shared by the NDB client packages
// and the classifier that detects API-level failures hidden inside
// successful (HTTP 200) responses.
package apierr

import (
	"errors"
	"fmt"
	"strings"
)

// Sentinels for errors.Is checks.
var (
	// ErrNotFound matches an APIError that reports a missing record.
	ErrNotFound = errors.New("not found")

	// ErrConversion matches any ConversionError.
	ErrConversion = errors.New("conversion failed")

	// ErrUsage matches any UsageError.
	ErrUsage = errors.New("invalid usage")
)

// APIError is a logical failure reported by the upstream API inside an
// otherwise successful response.
type APIError struct {
	// Message is the upstream error text.
	Message string

	// Code is the machine-readable code, when the upstream provides one
	// (e.g. "API_KEY_INVALID").
	Code string

	// Status is the status embedded in the error envelope, 0 if absent.
	Status int

	// Parameter names the offending query parameter, if reported.
	Parameter string

	// Count and NotFound mirror the counters of multi-item report responses.
	Count    int
	NotFound int
}

// Error implements the error interface.
func (e *APIError) Error() string {
	var b strings.Builder
	b.WriteString("ndb api error")
	if e.Status != 0 {
		fmt.Fprintf(&b, " (status %d)", e.Status)
	}
	if e.Code != "" {
		fmt.Fprintf(&b, " [%s]", e.Code)
	}
	b.WriteString(": ")
	b.WriteString(e.Message)
	if e.Parameter != "" {
		fmt.Fprintf(&b, " (parameter %q)", e.Parameter)
	}
	if e.Count > 0 {
		fmt.Fprintf(&b, " (%d of %d not found)", e.NotFound, e.Count)
	}
	return b.String()
}

// IsNotFound reports whether the upstream signalled a missing record.
func (e *APIError) IsNotFound() bool {
	if e.Count > 0 && e.NotFound == e.Count {
		return true
	}
	if e.Status == 404 || strings.EqualFold(e.Code, "NOT_FOUND") {
		return true
	}
	return strings.Contains(strings.ToLower(e.Message), "not found")
}

// Is lets errors.Is(err, ErrNotFound) match not-found API errors.
func (e *APIError) Is(target error) bool {
	return target == ErrNotFound && e.IsNotFound()
}

// ConversionError reports a raw record that does not have the shape a
// converter expects.
type ConversionError struct {
	// Type is the domain type being built (e.g. "Food").
	Type string

	// Field is the JSON field at fault, empty for whole-record failures.
	Field string

	// Err is the underlying decode or validation error.
	Err error
}

// Error implements the error interface.
func (e *ConversionError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("convert %s: %v", e.Type, e.Err)
	}
	return fmt.Sprintf("convert %s: field %q: %v", e.Type, e.Field, e.Err)
}

// Unwrap returns the underlying cause.
func (e *ConversionError) Unwrap() error {
	return e.Err
}

// Is matches ErrConversion.
func (e *ConversionError) Is(target error) bool {
	return target == ErrConversion
}

// UsageError is returned synchronously, before any request is made, when a
// caller-supplied parameter violates a known upstream limit.
type UsageError struct {
	Parameter string
	Reason    string
}

// Error implements the error interface.
func (e *UsageError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Parameter, e.Reason)
}

// Is matches ErrUsage.
func (e *UsageError) Is(target error) bool {
	return target == ErrUsage
}

// Usagef builds a UsageError with a formatted reason.
func Usagef(parameter, format string, args ...any) *UsageError {
	return &UsageError{Parameter: parameter, Reason: fmt.Sprintf(format, args...)}
}
