package dispatcher

import (
	"context"

	"flagsync/internal/events"
	"flagsync/internal/telemetry"
)

// Immediate starts one request per Dispatch call right away.
type Immediate struct {
	*sender
}

func NewImmediate(cfg Config) *Immediate {
	return &Immediate{sender: newSender(cfg, telemetry.ComponentDispatcher)}
}

func (d *Immediate) Dispatch(le events.LogEvent, done func(success bool)) {
	j := &job{le: le, cb: done, done: make(chan struct{})}
	if !d.start(j) {
		d.finish(j)
		return
	}
	go d.finish(j)
}

// Stop waits for outstanding requests. Calls made after Stop are still sent;
// they are not waited for.
func (d *Immediate) Stop(ctx context.Context) error {
	return d.wait(ctx)
}
