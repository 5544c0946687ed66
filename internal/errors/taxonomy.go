package errors

import "fmt"

// InvalidInputError reports a malformed request: a bad URI, a missing
// variable name, an unsupported reduction method, a conflicting missing-value
// spec, or a selection that does not fit the variable's shape.
type InvalidInputError struct {
	Reason string
}

func (e *InvalidInputError) Error() string { return "invalid input: " + e.Reason }

// InvalidInput builds an InvalidInputError.
func InvalidInput(format string, args ...interface{}) error {
	return &InvalidInputError{Reason: fmt.Sprintf(format, args...)}
}

// NotFoundError reports a missing file or object in the backing store.
type NotFoundError struct {
	Path string
}

func (e *NotFoundError) Error() string { return fmt.Sprintf("not found: %s", e.Path) }

// NotFound builds a NotFoundError.
func NotFound(path string) error {
	return &NotFoundError{Path: path}
}

// UnsupportedFeatureError reports a feature the engine deliberately does not
// implement in v1: non-null compression/filters sent to the remote reducer,
// or an unrecognized HDF5 filter ID.
type UnsupportedFeatureError struct {
	Feature string
}

func (e *UnsupportedFeatureError) Error() string { return "unsupported feature: " + e.Feature }

// UnsupportedFeature builds an UnsupportedFeatureError.
func UnsupportedFeature(format string, args ...interface{}) error {
	return &UnsupportedFeatureError{Feature: fmt.Sprintf(format, args...)}
}

// RemoteReductionFailureError reports a non-2xx response from the
// active-storage server, carrying the HTTP status and the decoded body.
type RemoteReductionFailureError struct {
	StatusCode int
	Body       string
}

func (e *RemoteReductionFailureError) Error() string {
	return fmt.Sprintf("active storage reduction failed: HTTP %d: %s", e.StatusCode, e.Body)
}

// RemoteReductionFailure builds a RemoteReductionFailureError.
func RemoteReductionFailure(statusCode int, body string) error {
	return &RemoteReductionFailureError{StatusCode: statusCode, Body: body}
}

// TransportFailureError reports a connect timeout, DNS failure, TLS error, or
// other I/O error while talking to a backend or an active-storage server.
type TransportFailureError struct {
	Op  string
	Err error
}

func (e *TransportFailureError) Error() string {
	return fmt.Sprintf("transport failure during %s: %v", e.Op, e.Err)
}

func (e *TransportFailureError) Unwrap() error { return e.Err }

// TransportFailure builds a TransportFailureError.
func TransportFailure(op string, err error) error {
	return &TransportFailureError{Op: op, Err: err}
}

// DecodeFailureError reports that compressed/filtered chunk bytes did not
// round-trip, or that a decoded response's length is inconsistent with its
// advertised shape and dtype.
type DecodeFailureError struct {
	Reason string
}

func (e *DecodeFailureError) Error() string { return "decode failure: " + e.Reason }

// DecodeFailure builds a DecodeFailureError.
func DecodeFailure(format string, args ...interface{}) error {
	return &DecodeFailureError{Reason: fmt.Sprintf(format, args...)}
}
