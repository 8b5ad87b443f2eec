package queue

import (
	"errors"
	"fmt"
)

// ErrInvalidItem marks an enqueue request the store refuses to persist.
var ErrInvalidItem = errors.New("invalid queue item")

// ErrorClassifier allows errors to declare their classification so callers
// (API handlers, CLI output) can map them without string matching.
type ErrorClassifier interface {
	// ErrorKind returns a string classification such as "storage" or "validation".
	ErrorKind() string
}

// StorageError reports that the durable store could not complete an
// operation. No partial effect is visible when it is returned.
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string {
	if e == nil {
		return "<nil>"
	}
	return fmt.Sprintf("queue storage: %s: %v", e.Op, e.Err)
}

func (e *StorageError) Unwrap() error { return e.Err }

// ErrorKind implements ErrorClassifier.
func (e *StorageError) ErrorKind() string { return "storage" }

func storageErr(op string, err error) error {
	if err == nil {
		return nil
	}
	var existing *StorageError
	if errors.As(err, &existing) {
		return err
	}
	return &StorageError{Op: op, Err: err}
}

// IsStorageError reports whether err (or anything it wraps) is a StorageError.
func IsStorageError(err error) bool {
	var target *StorageError
	return errors.As(err, &target)
}

// ErrorKind classifies err for status mapping. Unclassified errors report "internal".
func ErrorKind(err error) string {
	if err == nil {
		return ""
	}
	if errors.Is(err, ErrInvalidItem) {
		return "validation"
	}
	var classifier ErrorClassifier
	if errors.As(err, &classifier) {
		return classifier.ErrorKind()
	}
	return "internal"
}
