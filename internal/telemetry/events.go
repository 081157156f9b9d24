// Package telemetry carries lifecycle events out of the sync and delivery
// engines. Engines publish; the daemon turns events into Prometheus counters
// and tests record them in memory.
package telemetry

// Component names used on published events.
const (
	ComponentDatafile   = "datafile"
	ComponentProcessor  = "processor"
	ComponentDispatcher = "dispatcher"
)

// Event names.
const (
	FetchStart      = "fetch_start"
	FetchOK         = "fetch_ok"
	FetchUnchanged  = "fetch_unchanged"
	FetchError      = "fetch_error"
	DatafileUpdated = "datafile_updated"
	Ready           = "ready"
	Stopped         = "stopped"

	EventProcessed  = "event_processed"
	EventDropped    = "event_dropped"
	BatchDispatched = "batch_dispatched"
	BatchFailed     = "batch_failed"
	DispatchAbandon = "dispatch_abandoned"
)

// Event is a lifecycle event: name, emitting component, optional fields.
type Event struct {
	Component string
	Name      string
	Fields    map[string]any
}

// Publisher receives events. Implementations should be lightweight and
// non-blocking; Publish must not panic.
type Publisher interface {
	Publish(Event)
}

// noopPublisher drops events.
type noopPublisher struct{}

func (noopPublisher) Publish(Event) {}

// Nop returns a Publisher that drops everything.
func Nop() Publisher { return noopPublisher{} }

// OrNop returns p, or Nop when p is nil.
func OrNop(p Publisher) Publisher {
	if p == nil {
		return Nop()
	}
	return p
}

// Multi fans one event out to several publishers in order.
type Multi []Publisher

func (m Multi) Publish(e Event) {
	for _, p := range m {
		if p != nil {
			p.Publish(e)
		}
	}
}
