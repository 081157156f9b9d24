package events

import "errors"

// invalidEventError reports an event missing a required field.
type invalidEventError struct{ msg string }

func (e invalidEventError) Error() string { return "invalid event: " + e.msg }

// IsInvalidEvent reports whether err came from Validate.
func IsInvalidEvent(err error) bool {
	var ie invalidEventError
	return errors.As(err, &ie)
}

// Invalid returns an error for which IsInvalidEvent is true.
func Invalid(msg string) error { return invalidEventError{msg: msg} }

// Validate checks the fields the collector requires.
func Validate(e Event) error {
	if e == nil {
		return invalidEventError{msg: "nil event"}
	}
	h := e.Header()
	if h.User.ID == "" {
		return invalidEventError{msg: "missing user id"}
	}
	if h.Context.AccountID == "" || h.Context.ProjectID == "" {
		return invalidEventError{msg: "missing account or project id"}
	}
	switch ev := e.(type) {
	case *Impression:
		if ev.Layer.ID == "" && ev.Experiment.ID == "" {
			return invalidEventError{msg: "impression without layer or experiment"}
		}
	case *Conversion:
		if ev.Event.Key == "" {
			return invalidEventError{msg: "conversion without event key"}
		}
	}
	return nil
}
