// Package agent composes the datafile manager and the event processor into
// one lifecycle: a single readiness wait and a single shutdown.
package agent

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"flagsync/internal/datafile"
	"flagsync/internal/events"
	"flagsync/internal/processor"
	"flagsync/internal/scheduler"
	"flagsync/internal/telemetry"
	"flagsync/internal/transport"
)

// ErrClosed is returned by Process after Close.
var ErrClosed = errors.New("agent closed")

// errReadyTimeout is the cause attached to OnReady's timeout.
var errReadyTimeout = errors.New("datafile not ready before timeout")

// ShutdownResult reports how Close went.
type ShutdownResult = processor.ShutdownResult

// Config builds both engines. Transport, Scheduler, Logger and Publisher are
// shared and fill the engine configs where those leave them unset.
type Config struct {
	Datafile  datafile.Config
	Processor processor.Config

	Transport transport.Transport
	Scheduler scheduler.Scheduler
	Logger    *zerolog.Logger
	Publisher telemetry.Publisher
}

// Status combines both engines' snapshots.
type Status struct {
	Closed    bool
	Datafile  datafile.Status
	Processor processor.Status
}

type Client struct {
	df   *datafile.Manager
	proc *processor.Processor
	log  zerolog.Logger

	mu        sync.Mutex
	closed    bool
	closeDone chan struct{}
	result    ShutdownResult
}

// New constructs both engines without starting them.
func New(cfg Config) *Client {
	log := zerolog.Nop()
	if cfg.Logger != nil {
		log = cfg.Logger.With().Str("component", "agent").Logger()
	}

	dc := cfg.Datafile
	if dc.Transport == nil {
		dc.Transport = cfg.Transport
	}
	if dc.Scheduler == nil {
		dc.Scheduler = cfg.Scheduler
	}
	if dc.Logger == nil {
		dc.Logger = cfg.Logger
	}
	if dc.Publisher == nil {
		dc.Publisher = cfg.Publisher
	}

	pc := cfg.Processor
	if pc.Transport == nil {
		pc.Transport = cfg.Transport
	}
	if pc.Scheduler == nil {
		pc.Scheduler = cfg.Scheduler
	}
	if pc.Logger == nil {
		pc.Logger = cfg.Logger
	}
	if pc.Publisher == nil {
		pc.Publisher = cfg.Publisher
	}

	return &Client{
		df:   datafile.New(dc),
		proc: processor.New(pc),
		log:  log,
	}
}

// Start starts both engines.
func (c *Client) Start() {
	c.df.Start()
	c.proc.Start()
	c.log.Info().Msg("agent started")
}

// OnReady waits for the datafile manager to settle readiness. A positive
// timeout bounds the wait in addition to ctx.
func (c *Client) OnReady(ctx context.Context, timeout time.Duration) error {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeoutCause(ctx, timeout, errReadyTimeout)
		defer cancel()
	}
	if err := c.df.OnReady(ctx); err != nil {
		if ctx.Err() != nil {
			return fmt.Errorf("waiting for datafile: %w", context.Cause(ctx))
		}
		return err
	}
	return nil
}

// IsReadyTimeout reports whether err came from OnReady's own timeout.
func IsReadyTimeout(err error) bool { return errors.Is(err, errReadyTimeout) }

// Process validates e and hands it to the event processor.
func (c *Client) Process(ctx context.Context, e events.Event) error {
	c.mu.Lock()
	closed := c.closed
	c.mu.Unlock()
	if closed {
		return ErrClosed
	}
	if err := events.Validate(e); err != nil {
		return err
	}
	if err := c.proc.Process(ctx, e); err != nil {
		if errors.Is(err, processor.ErrStopped) {
			return ErrClosed
		}
		return err
	}
	return nil
}

// Datafile returns the active datafile, if any.
func (c *Client) Datafile() (string, bool) { return c.df.Get() }

// Ready is closed once the datafile manager has settled readiness.
func (c *Client) Ready() <-chan struct{} { return c.df.Ready() }

// ReadyErr returns the readiness failure, if any.
func (c *Client) ReadyErr() error { return c.df.Err() }

// Subscribe registers a datafile update listener.
func (c *Client) Subscribe(fn func(datafile.Update)) (unsubscribe func()) {
	return c.df.On(fn)
}

// OnDispatch registers a per-event dispatch result callback.
func (c *Client) OnDispatch(cb func(processor.Result)) (unsubscribe func()) {
	return c.proc.OnDispatch(cb)
}

func (c *Client) Status() Status {
	c.mu.Lock()
	closed := c.closed
	c.mu.Unlock()
	return Status{
		Closed:    closed,
		Datafile:  c.df.Status(),
		Processor: c.proc.Status(),
	}
}

// Close stops both engines concurrently and always settles. Later calls
// return the first call's result.
func (c *Client) Close(ctx context.Context) ShutdownResult {
	c.mu.Lock()
	if done := c.closeDone; done != nil {
		c.mu.Unlock()
		select {
		case <-done:
			return c.result
		case <-ctx.Done():
			return ShutdownResult{Reason: fmt.Sprintf("waiting for concurrent close: %v", ctx.Err())}
		}
	}
	c.closed = true
	c.closeDone = make(chan struct{})
	c.mu.Unlock()

	var g errgroup.Group
	g.Go(func() error {
		c.df.Stop()
		return nil
	})
	g.Go(func() error {
		if res := c.proc.Stop(ctx); !res.Success {
			return errors.New(res.Reason)
		}
		return nil
	})
	res := ShutdownResult{Success: true}
	if err := g.Wait(); err != nil {
		res = ShutdownResult{Reason: err.Error()}
		c.log.Warn().Err(err).Msg("agent closed with errors")
	} else {
		c.log.Info().Msg("agent closed")
	}
	c.result = res
	close(c.closeDone)
	return res
}
