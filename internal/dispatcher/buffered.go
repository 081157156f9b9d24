package dispatcher

import (
	"context"
	"sync"

	"flagsync/internal/events"
	"flagsync/internal/telemetry"
)

// Buffered queues Dispatch calls and drains them with at most MaxConcurrent
// requests in flight, so bursts from a long-running host do not open one
// connection per batch.
type Buffered struct {
	*sender

	slots    chan struct{}
	wake     chan struct{}
	stopCh   chan struct{}
	loopDone chan struct{}

	qmu     sync.Mutex
	pending []*job
	stopped bool
}

// NewBuffered constructs the dispatcher and starts its drain loop.
func NewBuffered(cfg Config) *Buffered {
	n := cfg.MaxConcurrent
	if n <= 0 {
		n = defaultMaxConcurrent
	}
	d := &Buffered{
		sender:   newSender(cfg, telemetry.ComponentDispatcher),
		slots:    make(chan struct{}, n),
		wake:     make(chan struct{}, 1),
		stopCh:   make(chan struct{}),
		loopDone: make(chan struct{}),
	}
	go d.loop()
	return d
}

func (d *Buffered) Dispatch(le events.LogEvent, done func(success bool)) {
	j := &job{le: le, cb: done, done: make(chan struct{})}
	d.qmu.Lock()
	if d.stopped {
		d.qmu.Unlock()
		d.log.Warn().Msg("dispatch after stop, reporting failure")
		d.callback(j, false)
		close(j.done)
		return
	}
	d.pending = append(d.pending, j)
	d.qmu.Unlock()
	select {
	case d.wake <- struct{}{}:
	default:
	}
}

// Pending returns the number of calls waiting for a free slot.
func (d *Buffered) Pending() int {
	d.qmu.Lock()
	defer d.qmu.Unlock()
	return len(d.pending)
}

// Stop sends everything still buffered, then waits for in-flight requests
// until ctx expires. Idempotent.
func (d *Buffered) Stop(ctx context.Context) error {
	d.qmu.Lock()
	if !d.stopped {
		d.stopped = true
		close(d.stopCh)
	}
	d.qmu.Unlock()
	<-d.loopDone

	for _, j := range d.takePending() {
		if !d.start(j) {
			d.finish(j)
			continue
		}
		go d.finish(j)
	}
	return d.wait(ctx)
}

func (d *Buffered) loop() {
	defer close(d.loopDone)
	for {
		select {
		case <-d.wake:
		case <-d.stopCh:
			return
		}
		for {
			select {
			case d.slots <- struct{}{}:
			case <-d.stopCh:
				return
			}
			j := d.next()
			if j == nil {
				<-d.slots
				break
			}
			if !d.start(j) {
				<-d.slots
				d.finish(j)
				continue
			}
			go func() {
				defer func() { <-d.slots }()
				d.finish(j)
			}()
		}
	}
}

func (d *Buffered) next() *job {
	d.qmu.Lock()
	defer d.qmu.Unlock()
	if len(d.pending) == 0 {
		return nil
	}
	j := d.pending[0]
	d.pending = d.pending[1:]
	return j
}

func (d *Buffered) takePending() []*job {
	d.qmu.Lock()
	defer d.qmu.Unlock()
	out := d.pending
	d.pending = nil
	return out
}
