// Package errors provides the error handling used throughout activestore. It
// is a thin layer over github.com/pkg/errors plus a Fatal marker for errors
// that should abort the calling program rather than be retried.
package errors

import (
	"fmt"

	"github.com/pkg/errors"
)

// New creates a new error based on a message.
func New(message string) error {
	return errors.New(message)
}

// Errorf creates a new error based on a format string and values.
func Errorf(format string, args ...interface{}) error {
	return errors.Errorf(format, args...)
}

// Wrap wraps an error retrieved from outside the package with a message.
func Wrap(err error, message string) error {
	return errors.Wrap(err, message)
}

// Wrapf wraps an error retrieved from outside the package with a formatted message.
func Wrapf(err error, format string, args ...interface{}) error {
	return errors.Wrapf(err, format, args...)
}

// WithStack annotates the error with the current stack trace, if it does not
// already carry one.
func WithStack(err error) error {
	return errors.WithStack(err)
}

// As calls errors.As on err and target.
func As(err error, target interface{}) bool {
	return errors.As(err, target)
}

// Is calls errors.Is on err and target.
func Is(err, target error) bool {
	return errors.Is(err, target)
}

// Unwrap calls errors.Unwrap on err.
func Unwrap(err error) error {
	return errors.Unwrap(err)
}

// Cause returns the original error that was wrapped.
func Cause(err error) error {
	return errors.Cause(err)
}

// fatalError is a marker type for errors that should cause the program to
// abort immediately instead of being retried or converted to one of the
// typed failures in taxonomy.go.
type fatalError string

func (e fatalError) Error() string {
	return string(e)
}

// Fatal creates an error that, once observed by the CLI layer, always
// terminates the program instead of being retried.
func Fatal(message string) error {
	return fatalError(message)
}

// Fatalf creates a fatal error based on a format string and values.
func Fatalf(format string, args ...interface{}) error {
	return fatalError(fmt.Sprintf(format, args...))
}

// IsFatal checks if err is a fatal error.
func IsFatal(err error) bool {
	_, ok := err.(fatalError)
	return ok
}
