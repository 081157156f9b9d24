package types

// Event types accepted by POST /events.
const (
	EventTypeImpression = "impression"
	EventTypeConversion = "conversion"
)

// EventRequest is the body of POST /events. Impression fields are ignored
// for conversions and the other way around.
type EventRequest struct {
	// Either "impression" or "conversion".
	// example: conversion
	Type    string       `json:"type" example:"conversion"`
	Context EventContext `json:"context"`
	User    User         `json:"user"`

	Layer      *Entity `json:"layer,omitempty"`
	Experiment *Entity `json:"experiment,omitempty"`
	Variation  *Entity `json:"variation,omitempty"`
	// example: new_checkout
	FlagKey string `json:"flag_key,omitempty" example:"new_checkout"`
	// example: default-rollout
	RuleKey string `json:"rule_key,omitempty" example:"default-rollout"`
	// example: rollout
	RuleType string `json:"rule_type,omitempty" example:"rollout"`
	Enabled  bool   `json:"enabled,omitempty"`

	Event *Entity `json:"event,omitempty"`
	// Revenue in cents.
	// example: 4200
	Revenue *int64         `json:"revenue,omitempty" example:"4200"`
	Value   *float64       `json:"value,omitempty"`
	Tags    map[string]any `json:"tags,omitempty"`
}

// EventAccepted is returned by POST /events with status 202.
type EventAccepted struct {
	// UUID assigned to the event.
	// example: 0b7c3b5e-9f1e-4b0e-8c1a-2f1f0c7a9d11
	UUID string `json:"uuid" example:"0b7c3b5e-9f1e-4b0e-8c1a-2f1f0c7a9d11"`
}

// ErrorResponse is a consistent JSON error payload.
type ErrorResponse struct {
	// Error message.
	// example: invalid JSON body
	Error string `json:"error" example:"invalid JSON body"`
	// HTTP status code.
	// example: 400
	Code int `json:"code" example:"400"`
}

// DatafileStatus summarizes the datafile manager for /status.
type DatafileStatus struct {
	// Lifecycle state (created, starting, polling, fetching, stopped).
	// example: polling
	State string `json:"state" example:"polling"`
	// True once readiness settled successfully.
	Ready bool `json:"ready"`
	// Readiness failure, if readiness settled with one.
	ReadyError string `json:"ready_error,omitempty"`
	// example: 73
	Revision string `json:"revision,omitempty" example:"73"`
	// Last successful fetch (unix seconds); 0 if none.
	// example: 1700000000
	LastFetchUnix int64 `json:"last_fetch_unix" example:"1700000000"`
	// example: 12
	Fetches int64 `json:"fetches_total" example:"12"`
	// example: 1
	Failures int64 `json:"failures_total" example:"1"`
	// example: 3
	Updates int64 `json:"updates_total" example:"3"`
}

// ProcessorStatus summarizes the event processor for /status. Counters
// count events, not batches.
type ProcessorStatus struct {
	// example: 5
	Queued int `json:"queued" example:"5"`
	// Sub-batches awaiting a dispatch outcome.
	// example: 1
	InFlight int `json:"inflight_batches" example:"1"`
	// example: 1200
	Processed int64 `json:"processed_total" example:"1200"`
	// example: 3
	Dropped int64 `json:"dropped_total" example:"3"`
	// example: 1190
	Dispatched int64 `json:"dispatched_total" example:"1190"`
	// example: 2
	Failed int64 `json:"failed_total" example:"2"`
}

// StatusResponse is returned by GET /status.
type StatusResponse struct {
	Datafile  DatafileStatus  `json:"datafile"`
	Processor ProcessorStatus `json:"processor"`
	// True after shutdown began.
	Closed bool `json:"closed"`
	// Uptime of the server in seconds.
	// example: 3600
	UptimeSeconds int64 `json:"uptime_seconds" example:"3600"`
	// Server time in unix seconds.
	// example: 1700000000
	ServerTimeUnix int64 `json:"server_time_unix" example:"1700000000"`
}
