package store

import (
	"errors"
	"fmt"
)

// ErrNotFound reports that a referenced row (asset, attempt, job) does not
// exist. Jobs referencing missing rows are settled failed, not retried.
var ErrNotFound = errors.New("store: not found")

// ErrorClass splits database failures into those a retry might fix and
// those it never will.
type ErrorClass int

const (
	// ClassTransient covers connection loss, serialization failures and
	// resource exhaustion. The queue's re-emission gives these another run.
	ClassTransient ErrorClass = iota

	// ClassPermanent covers integrity violations, bad data and schema
	// mismatches. Retrying cannot help.
	ClassPermanent
)

// ClassifiedError wraps a database error with its retry class.
type ClassifiedError struct {
	Class ErrorClass
	Err   error
}

func (e *ClassifiedError) Error() string {
	switch e.Class {
	case ClassPermanent:
		return fmt.Sprintf("permanent: %v", e.Err)
	default:
		return fmt.Sprintf("transient: %v", e.Err)
	}
}

func (e *ClassifiedError) Unwrap() error { return e.Err }

// IsTransient reports whether err carries a transient classification.
// Unclassified errors report false.
func IsTransient(err error) bool {
	var ce *ClassifiedError
	return errors.As(err, &ce) && ce.Class == ClassTransient
}

// IsPermanent reports whether err carries a permanent classification.
func IsPermanent(err error) bool {
	var ce *ClassifiedError
	return errors.As(err, &ce) && ce.Class == ClassPermanent
}
