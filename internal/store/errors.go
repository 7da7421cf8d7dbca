package store

import "errors"

var (
	// ErrStorageUnavailable wraps backend failures; the operation may be retried.
	ErrStorageUnavailable = errors.New("storage unavailable")
	// ErrConflict means a concurrent unit of work committed first.
	ErrConflict = errors.New("storage conflict")
	ErrNotFound = errors.New("not found")
)
