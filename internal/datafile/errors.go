package datafile

import "errors"

// notReadyError reports that readiness settled with a failure.
type notReadyError struct{ cause error }

func (e notReadyError) Error() string {
	if e.cause == nil {
		return "datafile not ready"
	}
	return "datafile not ready: " + e.cause.Error()
}

func (e notReadyError) Unwrap() error { return e.cause }

// IsNotReady reports whether err came from a readiness failure.
func IsNotReady(err error) bool {
	var nr notReadyError
	return errors.As(err, &nr)
}

var errNotModifiedWithoutDatafile = errors.New("not modified response without a datafile")

var errEmptyDatafile = errors.New("empty datafile response")
