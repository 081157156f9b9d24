// Package dispatcher delivers formatted event batches to the collector.
//
// Both modes report every outcome through the per-call callback, exactly
// once, and never return or panic on delivery failure. A non-2xx status or a
// transport error is success=false. Retrying is the caller's choice.
package dispatcher

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"flagsync/internal/events"
	"flagsync/internal/telemetry"
	"flagsync/internal/transport"
)

const (
	defaultTimeout       = 10 * time.Second
	defaultMaxConcurrent = 4
)

// Dispatcher delivers one LogEvent per call.
type Dispatcher interface {
	Dispatch(le events.LogEvent, done func(success bool))
	// Stop returns once outstanding requests have settled, or aborts them
	// when ctx expires and returns ctx's error.
	Stop(ctx context.Context) error
}

// Config tunes either mode. Zero values select defaults.
type Config struct {
	Transport transport.Transport
	// Timeout applies to the default transport only.
	Timeout time.Duration
	// Header is added to every request.
	Header http.Header
	// MaxConcurrent bounds in-flight requests of the Buffered mode.
	MaxConcurrent int
	Logger        *zerolog.Logger
	Publisher     telemetry.Publisher
}

// job is one Dispatch call.
type job struct {
	le   events.LogEvent
	cb   func(bool)
	req  *transport.Request
	done chan struct{}
}

// sender holds what both modes share: the transport, headers, and the set of
// started jobs Stop must wait for.
type sender struct {
	tr     transport.Transport
	header http.Header
	log    zerolog.Logger
	pub    telemetry.Publisher

	mu   sync.Mutex
	jobs map[*job]struct{}
}

func newSender(cfg Config, component string) *sender {
	s := &sender{
		tr:     cfg.Transport,
		header: http.Header{"Content-Type": {"application/json"}},
		log:    zerolog.Nop(),
		pub:    telemetry.OrNop(cfg.Publisher),
		jobs:   make(map[*job]struct{}),
	}
	for k, vs := range cfg.Header {
		for _, v := range vs {
			s.header.Add(k, v)
		}
	}
	if s.tr == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = defaultTimeout
		}
		s.tr = transport.New(transport.Config{Timeout: timeout})
	}
	if cfg.Logger != nil {
		s.log = cfg.Logger.With().Str("component", component).Logger()
	}
	return s
}

// start issues the request and registers the job. A payload that cannot be
// encoded settles the job as failed without a request.
func (s *sender) start(j *job) bool {
	body, err := j.le.Body()
	if err != nil {
		s.log.Error().Err(err).Msg("encode event batch")
		return false
	}
	j.req = s.tr.Do(context.Background(), j.le.HTTPVerb, j.le.URL, s.header.Clone(), body)
	s.mu.Lock()
	s.jobs[j] = struct{}{}
	s.mu.Unlock()
	return true
}

// finish waits for the request, fires the callback and unregisters the job.
func (s *sender) finish(j *job) {
	ok := false
	if j.req != nil {
		resp, err := j.req.Wait()
		switch {
		case err != nil:
			s.log.Warn().Err(err).Str("url", j.le.URL).Msg("event dispatch failed")
		case !resp.OK():
			s.log.Warn().Err(transport.ErrStatus(j.le.URL, resp.StatusCode)).Msg("event dispatch rejected")
		default:
			ok = true
		}
	}
	s.callback(j, ok)
	s.mu.Lock()
	delete(s.jobs, j)
	s.mu.Unlock()
	close(j.done)
}

func (s *sender) callback(j *job, ok bool) {
	defer func() {
		if r := recover(); r != nil {
			s.log.Error().Interface("panic", r).Msg("dispatch callback panicked")
		}
	}()
	if j.cb != nil {
		j.cb(ok)
	}
}

// wait blocks until every job started so far has finished. When ctx expires
// first, the remaining requests are aborted and ctx's error returned without
// waiting further; their callbacks still fire with false.
func (s *sender) wait(ctx context.Context) error {
	s.mu.Lock()
	pending := make([]*job, 0, len(s.jobs))
	for j := range s.jobs {
		pending = append(pending, j)
	}
	s.mu.Unlock()
	for i, j := range pending {
		select {
		case <-j.done:
		case <-ctx.Done():
			for _, rest := range pending[i:] {
				rest.req.Abort()
			}
			abandoned := len(pending) - i
			s.log.Warn().Int("requests", abandoned).Msg("abandoning in-flight event requests")
			s.pub.Publish(telemetry.Event{Component: telemetry.ComponentDispatcher, Name: telemetry.DispatchAbandon, Fields: map[string]any{"requests": abandoned}})
			return ctx.Err()
		}
	}
	return nil
}
