package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"

	"flagsync/internal/agent"
	"flagsync/internal/events"
	"flagsync/pkg/types"
)

// HTTPError allows services to provide an HTTP status code for an error.
type HTTPError interface {
	error
	StatusCode() int
}

// statusFor maps service errors to HTTP status codes.
func statusFor(err error) int {
	var he HTTPError
	switch {
	case events.IsInvalidEvent(err):
		return http.StatusBadRequest
	case errors.Is(err, agent.ErrClosed):
		return http.StatusServiceUnavailable
	case errors.As(err, &he):
		return he.StatusCode()
	}
	return http.StatusInternalServerError
}

func rejectReason(status int) string {
	switch status {
	case http.StatusBadRequest:
		return "invalid_event"
	case http.StatusServiceUnavailable:
		return "closed"
	case http.StatusGatewayTimeout:
		return "timeout"
	}
	return "error"
}

// writeJSONError writes a consistent JSON error payload.
func writeJSONError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(types.ErrorResponse{Error: msg, Code: status})
}
