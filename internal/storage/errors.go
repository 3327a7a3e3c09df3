package storage

import "errors"

// Common storage errors
var (
	ErrNotFound         = errors.New("object not found")
	ErrConflict         = errors.New("object already exists")
	ErrPermissionDenied = errors.New("permission denied")
	ErrDigestMismatch   = errors.New("content digest mismatch")
	ErrBackendNotReady  = errors.New("storage backend is not ready")
)

// BackendError wraps a failure of the underlying store so callers can
// distinguish transient I/O trouble from a clean "absent" result.
type BackendError struct {
	Op    string // the backend operation: list, get, put, remove
	Key   string
	Cause error
}

func (e *BackendError) Error() string {
	if e.Key != "" {
		return "storage " + e.Op + " " + e.Key + ": " + e.Cause.Error()
	}
	return "storage " + e.Op + ": " + e.Cause.Error()
}

func (e *BackendError) Unwrap() error {
	return e.Cause
}

func backendErr(op, key string, cause error) error {
	return &BackendError{Op: op, Key: key, Cause: cause}
}
