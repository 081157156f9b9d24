package queue

import (
	"sync"
	"time"

	"github.com/rs/zerolog"

	"flagsync/internal/events"
	"flagsync/internal/scheduler"
)

// Batch buffers events and flushes on size or on the interval timer. The
// timer is armed by the first event of each buffer.
type Batch struct {
	max      int
	interval time.Duration
	sched    scheduler.Scheduler
	sink     Sink
	log      zerolog.Logger

	mu          sync.Mutex
	buf         []events.Event
	cancelTimer func()
	timerGen    uint64
	started     bool
	stopped     bool
}

// NewBatch constructs a Batch queue, applying defaults for unset fields.
func NewBatch(cfg Config) *Batch {
	q := &Batch{
		max:      cfg.MaxSize,
		interval: cfg.FlushInterval,
		sched:    cfg.Scheduler,
		sink:     cfg.Sink,
		log:      zerolog.Nop(),
	}
	if q.max <= 1 {
		q.max = DefaultMaxSize
	}
	if q.interval <= 0 {
		q.interval = DefaultFlushInterval
	}
	if q.sched == nil {
		q.sched = scheduler.Real{}
	}
	if cfg.Logger != nil {
		q.log = *cfg.Logger
	}
	return q
}

// Start arms the timer if events were buffered before start.
func (q *Batch) Start() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.started || q.stopped {
		return
	}
	q.started = true
	if len(q.buf) > 0 {
		q.armTimerLocked()
	}
}

// Stop drains a non-empty buffer to the sink and cancels the timer.
// Events enqueued after Stop are sunk one at a time.
func (q *Batch) Stop() {
	q.mu.Lock()
	if q.stopped {
		q.mu.Unlock()
		return
	}
	q.stopped = true
	out := q.swapLocked()
	q.mu.Unlock()
	if len(out) > 0 {
		q.log.Debug().Int("events", len(out)).Msg("final flush")
		q.sink(out)
	}
}

func (q *Batch) Enqueue(e events.Event) {
	q.mu.Lock()
	if q.stopped {
		q.mu.Unlock()
		q.sink([]events.Event{e})
		return
	}
	q.buf = append(q.buf, e)
	if len(q.buf) >= q.max {
		out := q.swapLocked()
		q.mu.Unlock()
		q.sink(out)
		return
	}
	if len(q.buf) == 1 && q.started {
		q.armTimerLocked()
	}
	q.mu.Unlock()
}

func (q *Batch) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.buf)
}

func (q *Batch) armTimerLocked() {
	q.timerGen++
	gen := q.timerGen
	q.cancelTimer = q.sched.Schedule(func() { q.onTimer(gen) }, q.interval)
}

func (q *Batch) onTimer(gen uint64) {
	q.mu.Lock()
	if gen != q.timerGen || len(q.buf) == 0 {
		q.mu.Unlock()
		return
	}
	out := q.swapLocked()
	q.mu.Unlock()
	q.sink(out)
}

// swapLocked hands out the current buffer, starts a fresh one and disarms
// the timer. The timer generation bump turns an already-firing callback into
// a no-op.
func (q *Batch) swapLocked() []events.Event {
	out := q.buf
	q.buf = nil
	q.timerGen++
	if q.cancelTimer != nil {
		q.cancelTimer()
		q.cancelTimer = nil
	}
	return out
}
