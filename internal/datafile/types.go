package datafile

import "time"

// State is the manager lifecycle state.
type State string

const (
	StateCreated  State = "created"
	StateStarting State = "starting"
	StatePolling  State = "polling"
	StateFetching State = "fetching"
	StateStopped  State = "stopped"
)

// CacheEntry is the last known datafile and when it was last confirmed by a fetch.
type CacheEntry struct {
	Datafile  string
	LastFetch time.Time
}

// Update is delivered to listeners when the active datafile changes.
type Update struct {
	Datafile string
}

// Status is a read-only projection of the manager state.
type Status struct {
	State       State
	Ready       bool
	ReadyErr    string
	HasDatafile bool
	Revision    string
	LastFetch   time.Time
	Fetches     int64
	Failures    int64
	Updates     int64
}
