package errors

// Validation creates a validation error (surfaced as 400/422 by callers).
func Validation(message string) *ReviewError {
	return New(KindValidation, SeverityWarning, message)
}

// Security creates a security-policy error; these are audited and never
// retried.
func Security(message string) *ReviewError {
	return New(KindSecurity, SeverityError, message)
}

// Transient creates a retryable external error.
func Transient(message string) *ReviewError {
	e := New(KindTransient, SeverityWarning, message)
	e.Retryable = true
	return e
}

// WrapTransient wraps a cause as a retryable external error.
func WrapTransient(err error, message string) *ReviewError {
	e := Wrap(err, KindTransient, SeverityWarning, message)
	e.Retryable = true
	return e
}

// Fatal creates a fatal-external error that fails the project.
func Fatal(message string) *ReviewError {
	return New(KindFatal, SeverityError, message)
}

// WrapFatal wraps a cause as a fatal-external error.
func WrapFatal(err error, message string) *ReviewError {
	return Wrap(err, KindFatal, SeverityError, message)
}

// Internal creates an internal invariant error.
func Internal(message string) *ReviewError {
	return New(KindInternal, SeverityFatal, message)
}

// WrapInternal wraps a cause as an internal invariant error.
func WrapInternal(err error, message string) *ReviewError {
	return Wrap(err, KindInternal, SeverityFatal, message)
}

// Canceled wraps a context cancellation.
func Canceled(err error, message string) *ReviewError {
	e := Wrap(err, KindCanceled, SeverityWarning, message)
	e.Retryable = true
	return e
}

// NotFound creates an unknown-entity error.
func NotFound(message string) *ReviewError {
	return New(KindNotFound, SeverityWarning, message)
}

// Conflict creates an illegal-transition error.
func Conflict(message string) *ReviewError {
	return New(KindConflict, SeverityWarning, message)
}
