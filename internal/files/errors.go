package files

import (
	"errors"
	"fmt"
)

// ValidationError reports malformed caller input. Never retried.
type ValidationError struct {
	Msg string
}

func (e *ValidationError) Error() string { return e.Msg }

// NotFoundError reports a missing owner, file, or folder. Lookups that
// find a record owned by someone else report NotFound as well, so
// existence never leaks across owners.
type NotFoundError struct {
	Resource string
	ID       string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s not found: %s", e.Resource, e.ID)
}

// StorageError reports a remote-store or metadata-store failure,
// surfaced after any applicable compensation has run.
type StorageError struct {
	Msg string
	Err error
}

func (e *StorageError) Error() string {
	if e.Err != nil {
		return e.Msg + ": " + e.Err.Error()
	}
	return e.Msg
}

func (e *StorageError) Unwrap() error { return e.Err }

func validationf(format string, args ...any) error {
	return &ValidationError{Msg: fmt.Sprintf(format, args...)}
}

func notFound(resource, id string) error {
	return &NotFoundError{Resource: resource, ID: id}
}

// storagef wraps cause as a StorageError unless it already is one, so
// the original category survives compensation paths.
func storagef(cause error, format string, args ...any) error {
	var se *StorageError
	if errors.As(cause, &se) {
		return cause
	}
	return &StorageError{Msg: fmt.Sprintf(format, args...), Err: cause}
}

// IsValidation reports whether err is a ValidationError.
func IsValidation(err error) bool {
	var e *ValidationError
	return errors.As(err, &e)
}

// IsNotFound reports whether err is a NotFoundError.
func IsNotFound(err error) bool {
	var e *NotFoundError
	return errors.As(err, &e)
}

// IsStorage reports whether err is a StorageError.
func IsStorage(err error) bool {
	var e *StorageError
	return errors.As(err, &e)
}
