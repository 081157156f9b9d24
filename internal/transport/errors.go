package transport

import (
	"errors"
	"fmt"
)

var (
	errTimeoutCause = errors.New("request timed out")
	errAbortCause   = errors.New("request aborted")
)

// timeoutError signals that the per-request deadline expired.
type timeoutError struct {
	url string
}

func (e timeoutError) Error() string { return "request timed out: " + e.url }

// IsTimeout reports whether err is a request timeout.
func IsTimeout(err error) bool {
	var te timeoutError
	return errors.As(err, &te)
}

// abortedError signals that the request was cancelled by Abort or by the
// caller's context.
type abortedError struct {
	url   string
	cause error
}

func (e abortedError) Error() string { return "request aborted: " + e.url }

func (e abortedError) Unwrap() error { return e.cause }

// IsAborted reports whether err is an aborted request.
func IsAborted(err error) bool {
	var ae abortedError
	return errors.As(err, &ae)
}

// bodyTooLargeError is returned when the response exceeds the configured cap.
type bodyTooLargeError struct {
	url   string
	limit int64
}

func (e bodyTooLargeError) Error() string {
	return fmt.Sprintf("response body exceeds %d bytes: %s", e.limit, e.url)
}

// statusError is not produced by the transport itself; callers use it to
// report a non-2xx response as a failure.
type statusError struct {
	url  string
	code int
}

func (e statusError) Error() string { return fmt.Sprintf("unexpected status %d: %s", e.code, e.url) }

// StatusCode returns the HTTP status that caused the error.
func (e statusError) StatusCode() int { return e.code }

// ErrStatus builds an error describing a non-success response.
func ErrStatus(url string, code int) error { return statusError{url: url, code: code} }

// IsStatus reports whether err describes a non-success response.
func IsStatus(err error) bool {
	var se statusError
	return errors.As(err, &se)
}
