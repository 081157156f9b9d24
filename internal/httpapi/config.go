package httpapi

import "time"

// maxBodyBytes controls the maximum allowed request body size for JSON endpoints.
var maxBodyBytes int64 = 1 << 20

// SetMaxBodyBytes sets the maximum request body size. Non-positive restores 1 MiB.
func SetMaxBodyBytes(n int64) {
	if n <= 0 {
		maxBodyBytes = 1 << 20
		return
	}
	maxBodyBytes = n
}

// trackTimeout bounds a single POST /events call, interceptors included.
// Zero means no additional timeout.
var trackTimeout time.Duration

// SetTrackTimeout sets the per-request timeout for POST /events (0 disables).
func SetTrackTimeout(d time.Duration) {
	if d < 0 {
		d = 0
	}
	trackTimeout = d
}

// CORS configuration (opt-in). If disabled, no CORS middleware is added.
var (
	corsEnabled        bool
	corsAllowedOrigins []string
	corsAllowedMethods []string
	corsAllowedHeaders []string
)

// SetCORSOptions configures CORS behavior for the HTTP server.
func SetCORSOptions(enabled bool, origins, methods, headers []string) {
	corsEnabled = enabled
	corsAllowedOrigins = append([]string(nil), origins...)
	corsAllowedMethods = append([]string(nil), methods...)
	corsAllowedHeaders = append([]string(nil), headers...)
}

// tracingEnabled wraps the mux with OpenTelemetry server instrumentation.
var tracingEnabled bool

func SetTracing(enabled bool) { tracingEnabled = enabled }
