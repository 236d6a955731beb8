// Package errors provides the structured error type (ReviewError) used for
// kind-based classification and retry semantics across the pipeline.
package errors

import (
	"errors"
	"fmt"
	"strings"
	"unicode"
)

// Kind classifies an error for propagation and retry decisions.
type Kind string

const (
	// Malformed input; never retried.
	KindValidation Kind = "validation"
	// Path traversal, disallowed entry, quota exceeded, virus hit; audited,
	// never retried.
	KindSecurity Kind = "security"
	// Queue/blob timeout, model rate limit; retried via lease expiry.
	KindTransient Kind = "transient"
	// Invalid archive, unreadable blob; fails the project.
	KindFatal Kind = "fatal"
	// Broken invariant; fails the project.
	KindInternal Kind = "internal"
	// Context cancellation; transient unless the process is shutting down.
	KindCanceled Kind = "canceled"
	// Unknown entity lookups.
	KindNotFound Kind = "not_found"
	// Illegal status transition.
	KindConflict Kind = "conflict"
)

// Severity indicates how critical an error is.
type Severity string

const (
	SeverityFatal   Severity = "fatal"
	SeverityError   Severity = "error"
	SeverityWarning Severity = "warning"
	SeverityInfo    Severity = "info"
)

// ContextFields carries structured context for a ReviewError.
type ContextFields map[string]any

// ReviewError is a structured error with kind, retryability, and context.
type ReviewError struct {
	Kind      Kind          `json:"kind"`
	Severity  Severity      `json:"severity"`
	Message   string        `json:"message"`
	Cause     error         `json:"cause,omitempty"`
	Retryable bool          `json:"retryable"`
	Context   ContextFields `json:"context,omitempty"`
}

// Error implements the error interface.
func (e *ReviewError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s (%s): %s: %v", e.Kind, e.Severity, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s (%s): %s", e.Kind, e.Severity, e.Message)
}

// Unwrap supports errors.Is / errors.As chains.
func (e *ReviewError) Unwrap() error {
	return e.Cause
}

// WithContext adds a context field to the error.
func (e *ReviewError) WithContext(key string, value any) *ReviewError {
	if e.Context == nil {
		e.Context = make(ContextFields)
	}
	e.Context[key] = value
	return e
}

// New creates a ReviewError.
func New(kind Kind, severity Severity, message string) *ReviewError {
	return &ReviewError{Kind: kind, Severity: severity, Message: message}
}

// Wrap creates a ReviewError wrapping a cause.
func Wrap(err error, kind Kind, severity Severity, message string) *ReviewError {
	return &ReviewError{Kind: kind, Severity: severity, Message: message, Cause: err}
}

// IsKind checks whether err (or anything it wraps) is a ReviewError of the
// given kind.
func IsKind(err error, kind Kind) bool {
	var re *ReviewError
	if errors.As(err, &re) {
		return re.Kind == kind
	}
	return false
}

// IsRetryable reports whether an error may be retried. Transient and
// canceled errors retry through lease expiry; anything explicitly marked
// retryable does too.
func IsRetryable(err error) bool {
	var re *ReviewError
	if errors.As(err, &re) {
		return re.Retryable || re.Kind == KindTransient || re.Kind == KindCanceled
	}
	return false
}

// GetKind extracts the kind from an error, defaulting to KindInternal.
func GetKind(err error) Kind {
	var re *ReviewError
	if errors.As(err, &re) {
		return re.Kind
	}
	return KindInternal
}

// maxSanitizedLen caps path and filename fragments in persisted messages.
const maxSanitizedLen = 256

// Sanitize strips control characters from a message and caps its length so
// hostile archive entry names cannot pollute logs or persisted errors.
func Sanitize(msg string) string {
	var b strings.Builder
	for _, r := range msg {
		if unicode.IsControl(r) {
			continue
		}
		b.WriteRune(r)
		if b.Len() >= maxSanitizedLen {
			break
		}
	}
	return b.String()
}
