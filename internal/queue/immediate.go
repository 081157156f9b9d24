package queue

import "flagsync/internal/events"

// Immediate flushes every event synchronously as a one-element buffer.
type Immediate struct {
	sink Sink
}

func NewImmediate(sink Sink) *Immediate { return &Immediate{sink: sink} }

func (q *Immediate) Start() {}

func (q *Immediate) Stop() {}

func (q *Immediate) Enqueue(e events.Event) { q.sink([]events.Event{e}) }

func (q *Immediate) Len() int { return 0 }
