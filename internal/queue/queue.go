// Package queue buffers processable events until they are flushed to a sink.
//
// Two strategies share the Queue interface: Immediate hands every event to the
// sink on its own, Batch accumulates events and flushes when the buffer is full
// or the flush interval elapses, whichever comes first.
package queue

import (
	"time"

	"github.com/rs/zerolog"

	"flagsync/internal/events"
	"flagsync/internal/scheduler"
)

// Defaults applied when corresponding Config fields are unset.
const (
	DefaultFlushInterval = 30 * time.Second
	DefaultMaxSize       = 3000
)

// Sink receives a flushed buffer. The queue never touches the slice again.
type Sink func(buffer []events.Event)

// Queue is the common contract of both strategies.
type Queue interface {
	Start()
	// Stop flushes any buffered events and cancels the timer. Idempotent.
	Stop()
	Enqueue(e events.Event)
	// Len returns the number of buffered events.
	Len() int
}

// Config selects and tunes a strategy. MaxSize zero selects DefaultMaxSize;
// any other value <= 1 selects Immediate.
type Config struct {
	MaxSize       int
	FlushInterval time.Duration
	Scheduler     scheduler.Scheduler
	Sink          Sink
	Logger        *zerolog.Logger
}

// New builds the strategy matching cfg.
func New(cfg Config) Queue {
	if cfg.MaxSize == 0 {
		cfg.MaxSize = DefaultMaxSize
	}
	if cfg.MaxSize <= 1 {
		return NewImmediate(cfg.Sink)
	}
	return NewBatch(cfg)
}
