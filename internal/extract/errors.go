package extract

import "fmt"

// Code identifies why an extraction was rejected.
type Code string

const (
	CodeTooManyEntries        Code = "TOO_MANY_ENTRIES"
	CodeDisallowedFileType    Code = "DISALLOWED_FILE_TYPE"
	CodePathTraversal         Code = "PATH_TRAVERSAL"
	CodeSuspiciousCompression Code = "SUSPICIOUS_COMPRESSION"
	CodeExtractionTooLarge    Code = "EXTRACTION_TOO_LARGE"
	CodeSizeMismatch          Code = "SIZE_MISMATCH"
	CodeInvalidArchive        Code = "INVALID_ARCHIVE"
)

// Error is a policy violation raised while extracting an untrusted archive.
type Error struct {
	Code  Code
	Entry string
	Cause error
}

func (e *Error) Error() string {
	if e.Entry != "" {
		if e.Cause != nil {
			return fmt.Sprintf("%s: entry %q: %v", e.Code, e.Entry, e.Cause)
		}
		return fmt.Sprintf("%s: entry %q", e.Code, e.Entry)
	}
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Code, e.Cause)
	}
	return string(e.Code)
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// CodeOf extracts the policy code from an error, or empty if err is not an
// extraction error.
func CodeOf(err error) Code {
	if ee, ok := err.(*Error); ok {
		return ee.Code
	}
	return ""
}
