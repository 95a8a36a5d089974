package simplestorage

import (
	"errors"
	"fmt"
)

// Error kinds. Every error returned by the facade matches exactly one of
// these through errors.Is.
var (
	// ErrInvalidArguments indicates a malformed path or name, or a rename
	// across parents
	ErrInvalidArguments = errors.New("invalid arguments")

	// ErrConstraintViolated indicates a create on a key that already exists
	ErrConstraintViolated = errors.New("constraint violated")

	// ErrNotFound indicates the addressed key does not exist
	ErrNotFound = errors.New("not found")

	// ErrUnauthorized is propagated from the backend, never generated here
	ErrUnauthorized = errors.New("unauthorized")

	// ErrGeneric covers codec failures, unexpected backend errors and failed
	// tree operations
	ErrGeneric = errors.New("storage failure")
)

// ErrContentAlreadyExists is returned when a document create collides with
// an existing key. It matches ErrConstraintViolated.
var ErrContentAlreadyExists = &kindError{kind: ErrConstraintViolated, msg: "content already exists"}

type kindError struct {
	kind error
	msg  string
}

func (e *kindError) Error() string { return e.msg }
func (e *kindError) Unwrap() error { return e.kind }

// StorageError represents an error related to storage operations
type StorageError struct {
	Kind    error
	Backend string
	Key     string
	Op      string
	Err     error
}

func (e *StorageError) Error() string {
	kind := e.Kind
	if kind == nil {
		kind = ErrGeneric
	}
	if e.Err == nil {
		return fmt.Sprintf("storage operation %s failed for key %q on backend %s: %v", e.Op, e.Key, e.backend(), kind)
	}
	return fmt.Sprintf("storage operation %s failed for key %q on backend %s: %v: %v", e.Op, e.Key, e.backend(), kind, e.Err)
}

func (e *StorageError) backend() string {
	if e.Backend == "" {
		return "unknown"
	}
	return e.Backend
}

func (e *StorageError) Unwrap() []error {
	errs := make([]error, 0, 2)
	if e.Kind != nil {
		errs = append(errs, e.Kind)
	}
	if e.Err != nil {
		errs = append(errs, e.Err)
	}
	return errs
}

// KindOf reports the taxonomy kind of err. The outermost StorageError wins;
// bare sentinel matches come next and anything else is ErrGeneric.
func KindOf(err error) error {
	if err == nil {
		return nil
	}
	var se *StorageError
	if errors.As(err, &se) && se.Kind != nil {
		return se.Kind
	}
	for _, kind := range []error{ErrInvalidArguments, ErrConstraintViolated, ErrNotFound, ErrUnauthorized} {
		if errors.Is(err, kind) {
			return kind
		}
	}
	return ErrGeneric
}

// NewStorageError builds an error of the given kind for a driver.
func NewStorageError(kind error, backend, op, key string, err error) *StorageError {
	return &StorageError{Kind: kind, Backend: backend, Op: op, Key: key, Err: err}
}

func newError(kind error, op, key string, err error) *StorageError {
	return &StorageError{Kind: kind, Op: op, Key: key, Err: err}
}

// wrapBackend classifies a BlobStore error. Not-found and unauthorized are
// kept; everything else becomes ErrGeneric.
func wrapBackend(op, key string, err error) error {
	if err == nil {
		return nil
	}
	var se *StorageError
	if errors.As(err, &se) {
		return err
	}
	switch {
	case errors.Is(err, ErrNotFound):
		return newError(ErrNotFound, op, key, err)
	case errors.Is(err, ErrUnauthorized):
		return newError(ErrUnauthorized, op, key, err)
	default:
		return newError(ErrGeneric, op, key, err)
	}
}
