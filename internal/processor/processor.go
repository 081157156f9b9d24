// Package processor turns processable events into dispatched collector
// batches.
//
// Each event runs through the transformers, is frozen, runs through the
// interceptors and is enqueued. Flushed buffers are grouped, formatted and
// dispatched concurrently; registered callbacks learn the outcome per event.
package processor

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"flagsync/internal/common/notify"
	"flagsync/internal/dispatcher"
	"flagsync/internal/events"
	"flagsync/internal/queue"
	"flagsync/internal/scheduler"
	"flagsync/internal/telemetry"
	"flagsync/internal/transport"
)

// ErrStopped is returned by Process once Stop has been called.
var ErrStopped = errors.New("event processor stopped")

// Transformer mutates an event before it is frozen.
type Transformer func(e events.Event) error

// Interceptor inspects a frozen event. Returning false drops it.
type Interceptor func(ctx context.Context, e events.Event) (bool, error)

// Result is delivered to dispatch callbacks, once per dispatched event.
type Result struct {
	Success bool
	Event   events.Event
}

// ShutdownResult reports how Stop went. Stop never fails; problems along the
// way end up in Reason.
type ShutdownResult struct {
	Success bool
	Reason  string
}

// Config tunes the processor. Zero values select defaults.
type Config struct {
	// FlushInterval and MaxQueueSize configure the queue; see queue.Config.
	FlushInterval time.Duration
	MaxQueueSize  int
	// Endpoint is the collector URL; defaults to events.DefaultEndpoint.
	Endpoint     string
	Transformers []Transformer
	Interceptors []Interceptor
	// Grouper defaults to events.ByContext.
	Grouper events.Grouper
	// Dispatcher defaults to an Immediate dispatcher over Transport.
	Dispatcher dispatcher.Dispatcher
	Transport  transport.Transport
	Scheduler  scheduler.Scheduler
	Logger     *zerolog.Logger
	Publisher  telemetry.Publisher
}

// Status is a point-in-time view of the processor counters. Dispatched and
// Failed count events, not batches.
type Status struct {
	Started    bool
	Stopped    bool
	Queued     int
	InFlight   int
	Processed  int64
	Dropped    int64
	Dispatched int64
	Failed     int64
}

type Processor struct {
	log          zerolog.Logger
	pub          telemetry.Publisher
	endpoint     string
	grouper      events.Grouper
	disp         dispatcher.Dispatcher
	queue        queue.Queue
	transformers []Transformer
	interceptors []Interceptor

	callbacks notify.Registry[Result]
	flights   flights

	processed  atomic.Int64
	dropped    atomic.Int64
	dispatched atomic.Int64
	failed     atomic.Int64

	mu         sync.Mutex
	started    bool
	stopped    bool
	stopDone   chan struct{}
	stopResult ShutdownResult
}

// New constructs a Processor from Config, applying defaults.
func New(cfg Config) *Processor {
	log := zerolog.Nop()
	if cfg.Logger != nil {
		log = cfg.Logger.With().Str("component", telemetry.ComponentProcessor).Logger()
	}
	p := &Processor{
		log:          log,
		pub:          telemetry.OrNop(cfg.Publisher),
		endpoint:     cfg.Endpoint,
		grouper:      cfg.Grouper,
		disp:         cfg.Dispatcher,
		transformers: append([]Transformer(nil), cfg.Transformers...),
		interceptors: append([]Interceptor(nil), cfg.Interceptors...),
	}
	if p.endpoint == "" {
		p.endpoint = events.DefaultEndpoint
	}
	if p.grouper == nil {
		p.grouper = events.ByContext
	}
	if p.disp == nil {
		p.disp = dispatcher.NewImmediate(dispatcher.Config{Transport: cfg.Transport, Logger: cfg.Logger, Publisher: cfg.Publisher})
	}
	p.queue = queue.New(queue.Config{
		MaxSize:       cfg.MaxQueueSize,
		FlushInterval: cfg.FlushInterval,
		Scheduler:     cfg.Scheduler,
		Sink:          p.flush,
		Logger:        cfg.Logger,
	})
	return p
}

// Start starts the queue. Only the first call has an effect.
func (p *Processor) Start() {
	p.mu.Lock()
	if p.started || p.stopped {
		p.mu.Unlock()
		return
	}
	p.started = true
	p.mu.Unlock()
	p.queue.Start()
	p.log.Info().Str("endpoint", p.endpoint).Msg("event processor started")
}

// OnDispatch registers cb for dispatch results and returns its unsubscribe func.
// Every callback receives its own copy of the event.
func (p *Processor) OnDispatch(cb func(Result)) (unsubscribe func()) {
	return p.callbacks.Add(cb)
}

// Process runs e through the pipeline and enqueues it unless an interceptor
// drops it. Transformer and interceptor failures are logged, never returned.
// The caller must not touch e after a transformer stage; the enqueued copy is
// frozen.
func (p *Processor) Process(ctx context.Context, e events.Event) error {
	if e == nil {
		return errors.New("nil event")
	}
	p.mu.Lock()
	stopped := p.stopped
	p.mu.Unlock()
	if stopped {
		return ErrStopped
	}

	for i, t := range p.transformers {
		p.transform(i, t, e)
	}
	frozen := e.Clone()

	for i, ic := range p.interceptors {
		if !p.intercept(ctx, i, ic, frozen) {
			p.dropped.Add(1)
			p.pub.Publish(telemetry.Event{Component: telemetry.ComponentProcessor, Name: telemetry.EventDropped, Fields: map[string]any{"interceptor": i}})
			p.log.Debug().Str("uuid", frozen.Header().UUID).Int("interceptor", i).Msg("event dropped")
			return nil
		}
	}

	p.processed.Add(1)
	p.pub.Publish(telemetry.Event{Component: telemetry.ComponentProcessor, Name: telemetry.EventProcessed, Fields: map[string]any{"kind": events.Kind(frozen)}})
	p.queue.Enqueue(frozen)
	return nil
}

func (p *Processor) transform(i int, t Transformer, e events.Event) {
	defer func() {
		if r := recover(); r != nil {
			p.log.Error().Interface("panic", r).Int("transformer", i).Msg("transformer panicked")
		}
	}()
	if err := t(e); err != nil {
		p.log.Error().Err(err).Int("transformer", i).Msg("transformer failed")
	}
}

// intercept hands the interceptor its own copy so the frozen event stays
// untouched. Errors and panics count as keep.
func (p *Processor) intercept(ctx context.Context, i int, ic Interceptor, e events.Event) (keep bool) {
	defer func() {
		if r := recover(); r != nil {
			p.log.Error().Interface("panic", r).Int("interceptor", i).Msg("interceptor panicked")
			keep = true
		}
	}()
	keep, err := ic(ctx, e.Clone())
	if err != nil {
		p.log.Error().Err(err).Int("interceptor", i).Msg("interceptor failed")
		return true
	}
	return keep
}

// flush is the queue sink. Dispatch calls do not block, so a slow collector
// never holds up the next flush.
func (p *Processor) flush(buffer []events.Event) {
	for _, group := range p.grouper.Group(buffer) {
		if len(group) == 0 {
			continue
		}
		le := events.Format(p.endpoint, group)
		p.flights.add()
		p.disp.Dispatch(le, func(ok bool) {
			defer p.flights.done()
			p.settle(group, ok)
		})
	}
}

func (p *Processor) settle(group []events.Event, ok bool) {
	name := telemetry.BatchDispatched
	if ok {
		p.dispatched.Add(int64(len(group)))
	} else {
		name = telemetry.BatchFailed
		p.failed.Add(int64(len(group)))
	}
	p.pub.Publish(telemetry.Event{Component: telemetry.ComponentProcessor, Name: name, Fields: map[string]any{"events": len(group)}})

	cbs := p.callbacks.Snapshot()
	for _, e := range group {
		for _, cb := range cbs {
			p.notify(cb, Result{Success: ok, Event: e.Clone()})
		}
	}
}

func (p *Processor) notify(cb func(Result), r Result) {
	defer func() {
		if rec := recover(); rec != nil {
			p.log.Error().Interface("panic", rec).Msg("dispatch callback panicked")
		}
	}()
	cb(r)
}

// Stop flushes the queue, waits for in-flight batches and stops the
// dispatcher. It always returns; ctx bounds the waiting. Later calls return
// the first call's result.
func (p *Processor) Stop(ctx context.Context) ShutdownResult {
	p.mu.Lock()
	if done := p.stopDone; done != nil {
		p.mu.Unlock()
		select {
		case <-done:
			return p.stopResult
		case <-ctx.Done():
			return ShutdownResult{Reason: fmt.Sprintf("waiting for concurrent stop: %v", ctx.Err())}
		}
	}
	p.stopped = true
	p.stopDone = make(chan struct{})
	p.mu.Unlock()

	res := p.shutdown(ctx)
	p.stopResult = res
	close(p.stopDone)
	if res.Success {
		p.log.Info().Msg("event processor stopped")
	} else {
		p.log.Warn().Str("reason", res.Reason).Msg("event processor stopped with errors")
	}
	p.pub.Publish(telemetry.Event{Component: telemetry.ComponentProcessor, Name: telemetry.Stopped})
	return res
}

func (p *Processor) shutdown(ctx context.Context) ShutdownResult {
	var reasons []string
	func() {
		defer func() {
			if r := recover(); r != nil {
				reasons = append(reasons, fmt.Sprintf("final flush panicked: %v", r))
			}
		}()
		p.queue.Stop()
	}()
	if err := p.flights.wait(ctx); err != nil {
		reasons = append(reasons, fmt.Sprintf("waiting for in-flight batches: %v", err))
	}
	if err := p.disp.Stop(ctx); err != nil {
		reasons = append(reasons, fmt.Sprintf("stopping dispatcher: %v", err))
	}
	if len(reasons) > 0 {
		return ShutdownResult{Reason: strings.Join(reasons, "; ")}
	}
	return ShutdownResult{Success: true}
}

func (p *Processor) Status() Status {
	p.mu.Lock()
	started, stopped := p.started, p.stopped
	p.mu.Unlock()
	return Status{
		Started:    started,
		Stopped:    stopped,
		Queued:     p.queue.Len(),
		InFlight:   p.flights.count(),
		Processed:  p.processed.Load(),
		Dropped:    p.dropped.Load(),
		Dispatched: p.dispatched.Load(),
		Failed:     p.failed.Load(),
	}
}

// flights counts dispatched batches whose callbacks have not fired yet.
type flights struct {
	mu   sync.Mutex
	n    int
	idle chan struct{}
}

func (f *flights) add() {
	f.mu.Lock()
	if f.n == 0 {
		f.idle = make(chan struct{})
	}
	f.n++
	f.mu.Unlock()
}

func (f *flights) done() {
	f.mu.Lock()
	f.n--
	if f.n == 0 {
		close(f.idle)
	}
	f.mu.Unlock()
}

func (f *flights) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.n
}

func (f *flights) wait(ctx context.Context) error {
	f.mu.Lock()
	if f.n == 0 {
		f.mu.Unlock()
		return nil
	}
	idle := f.idle
	f.mu.Unlock()
	select {
	case <-idle:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
