package httpapi

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"flagsync/pkg/types"
)

// Service defines the methods required by the HTTP API layer.
type Service interface {
	// Datafile returns the active datafile document, if any.
	Datafile() (string, bool)
	Status() types.StatusResponse
	Ready() bool
	// Track processes one event and returns its UUID.
	Track(ctx context.Context, req types.EventRequest) (string, error)
}

func NewMux(svc Service) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(MetricsMiddleware)
	if corsEnabled {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins: corsAllowedOrigins,
			AllowedMethods: corsAllowedMethods,
			AllowedHeaders: corsAllowedHeaders,
		}))
	}
	r.Use(middleware.Compress(5))
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("X-Content-Type-Options", "nosniff")
			next.ServeHTTP(w, r)
		})
	})

	r.Get("/datafile", func(w http.ResponseWriter, r *http.Request) {
		doc, ok := svc.Datafile()
		if !ok {
			writeJSONError(w, http.StatusServiceUnavailable, "datafile not available yet")
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, doc)
	})

	r.Get("/status", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(svc.Status()); err != nil {
			writeJSONError(w, http.StatusInternalServerError, "failed to encode response")
			return
		}
	})

	r.Post("/events", func(w http.ResponseWriter, r *http.Request) {
		ct := r.Header.Get("Content-Type")
		if ct == "" || !strings.HasPrefix(strings.ToLower(ct), "application/json") {
			IncrementRejected("media_type")
			writeJSONError(w, http.StatusUnsupportedMediaType, "Content-Type must be application/json")
			return
		}
		r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
		var req types.EventRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			IncrementRejected("invalid_json")
			writeJSONError(w, http.StatusBadRequest, "invalid JSON body")
			return
		}

		lvl := requestLogLevel(r)
		start := time.Now()
		ctx, cancel := joinContexts(serverBaseCtx, r.Context())
		defer cancel()
		if trackTimeout > 0 {
			var tcancel context.CancelFunc
			ctx, tcancel = context.WithTimeout(ctx, trackTimeout)
			defer tcancel()
		}

		id, err := svc.Track(ctx, req)
		if err != nil {
			status := statusFor(err)
			IncrementRejected(rejectReason(status))
			if z := requestEvent(r, lvl, LevelError); z != nil {
				z.Int("status", status).Dur("dur", time.Since(start)).Err(err).Msg("event rejected")
			}
			writeJSONError(w, status, err.Error())
			return
		}
		if z := requestEvent(r, lvl, LevelDebug); z != nil {
			z.Str("uuid", id).Str("type", req.Type).Dur("dur", time.Since(start)).Msg("event accepted")
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusAccepted)
		_ = json.NewEncoder(w).Encode(types.EventAccepted{UUID: id})
	})

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	r.Get("/readyz", func(w http.ResponseWriter, r *http.Request) {
		if svc.Ready() {
			w.WriteHeader(http.StatusOK)
			_, _ = w.Write([]byte("ready"))
			return
		}
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte("waiting for datafile"))
	})

	r.Get("/metrics", promhttp.Handler().ServeHTTP)

	if !tracingEnabled {
		return r
	}
	return otelhttp.NewHandler(r, "flagsync.http",
		otelhttp.WithMessageEvents(otelhttp.ReadEvents, otelhttp.WriteEvents))
}
