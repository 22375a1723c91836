package objectstore

import "errors"

// ErrorCode classifies a failure returned by a Store implementation, mirroring
// the small set of error kinds the coordinator and recovery backend must
// distinguish. Modeled on the teacher's ErrorCode enum (one int type, a
// String method, no cross-package cycle with its callers).
type ErrorCode int

const (
	// ErrStoreUnavailable covers connect/IO failures; retryable by the caller.
	ErrStoreUnavailable ErrorCode = iota
	// ErrCorrupt covers a header of the wrong length, an omap enumeration
	// truncated by MaxItems, or an omap/header state that violates the
	// R==0-implies-empty-omap invariant. Not retryable.
	ErrCorrupt
	// ErrAlreadyExists is returned by Create on an existing object.
	// Callers treat it as success.
	ErrAlreadyExists
	// ErrVersionMismatch is the CAS failure signal. It never escapes the
	// Coordinator: every verb retries it internally.
	ErrVersionMismatch
	// ErrNotMember is returned when an init-time membership check fails.
	// Fatal for that node.
	ErrNotMember
	// ErrInvalidArgument covers malformed caller input, such as the
	// administrative tool receiving a non-numeric node id.
	ErrInvalidArgument
)

func (c ErrorCode) String() string {
	switch c {
	case ErrStoreUnavailable:
		return "StoreUnavailable"
	case ErrCorrupt:
		return "Corrupt"
	case ErrAlreadyExists:
		return "AlreadyExists"
	case ErrVersionMismatch:
		return "VersionMismatch"
	case ErrNotMember:
		return "NotMember"
	case ErrInvalidArgument:
		return "InvalidArgument"
	default:
		return "Unknown"
	}
}

// StoreError wraps an ErrorCode with a human-readable message and, where
// relevant, the object name the failure concerns.
type StoreError struct {
	Code    ErrorCode
	Object  string
	Message string
}

func (e *StoreError) Error() string {
	if e.Object != "" {
		return e.Code.String() + ": " + e.Object + ": " + e.Message
	}
	return e.Code.String() + ": " + e.Message
}

// Is supports errors.Is(err, objectstore.Code(objectstore.ErrCorrupt)) style
// checks against a code-only StoreError sentinel by comparing codes.
func (e *StoreError) Is(target error) bool {
	var se *StoreError
	if errors.As(target, &se) {
		return e.Code == se.Code
	}
	return false
}

// Code returns sentinel-style errors for use with errors.Is without
// constructing a full StoreError, e.g. in comparisons inside tests.
func Code(code ErrorCode) error {
	return &StoreError{Code: code}
}
