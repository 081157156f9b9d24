package datafile

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"flagsync/internal/common/notify"
	"flagsync/internal/telemetry"
	"flagsync/internal/transport"
)

type Manager struct {
	cfg Config
	url string
	log zerolog.Logger
	pub telemetry.Publisher

	mu           sync.Mutex
	state        State
	current      string
	hasCurrent   bool
	revision     string
	fallback     *CacheEntry
	lastModified string
	lastFetch    time.Time
	inflight     *transport.Request
	cancelPoll   func()
	fetches      int64
	failures     int64
	updates      int64

	listeners notify.Registry[Update]

	ready     chan struct{}
	readyOnce sync.Once
	readyErr  error
}

// New constructs a Manager from Config, applying defaults.
func New(cfg Config) *Manager {
	log := zerolog.Nop()
	if cfg.Logger != nil {
		log = cfg.Logger.With().Str("component", telemetry.ComponentDatafile).Logger()
	}
	cfg = cfg.withDefaults(log)
	return &Manager{
		cfg:   cfg,
		url:   formatURL(cfg.URLTemplate, cfg.SDKKey),
		log:   log,
		pub:   cfg.Publisher,
		state: StateCreated,
		ready: make(chan struct{}),
	}
}

// Start seeds the active datafile from the seed or the cache and kicks off
// the first fetch when one is needed. Only the first call has an effect.
func (m *Manager) Start() {
	m.mu.Lock()
	if m.state != StateCreated {
		m.mu.Unlock()
		return
	}
	m.state = StateStarting
	fetch := true
	readyNow := false

	switch entry, ok := m.cfg.Cache.Get(m.cfg.SDKKey); {
	case m.cfg.Datafile != "":
		m.setCurrentLocked(m.cfg.Datafile)
		m.cfg.Cache.Set(m.cfg.SDKKey, CacheEntry{Datafile: m.cfg.Datafile, LastFetch: m.cfg.Now()})
		readyNow = true
		fetch = m.cfg.LiveUpdates
	case ok && m.cacheUsable(entry):
		if m.cfg.CacheDirective == CacheAwait {
			e := entry
			m.fallback = &e
		} else {
			m.setCurrentLocked(entry.Datafile)
			m.lastFetch = entry.LastFetch
			readyNow = true
		}
	}
	m.state = StatePolling
	m.mu.Unlock()

	if readyNow {
		m.settleReady(nil)
	}
	m.log.Info().Str("url", m.url).Bool("live_updates", m.cfg.LiveUpdates).Bool("ready", readyNow).Msg("datafile manager started")
	if fetch {
		go m.fetch()
	}
}

// Stop cancels the poll timer and aborts an in-flight fetch. Idempotent.
// Get keeps returning the last known datafile afterwards.
func (m *Manager) Stop() {
	m.mu.Lock()
	if m.state == StateStopped {
		m.mu.Unlock()
		return
	}
	m.state = StateStopped
	cancel := m.cancelPoll
	m.cancelPoll = nil
	req := m.inflight
	// An await fallback still pending becomes the last known datafile.
	fellBack := false
	if m.fallback != nil {
		if !m.hasCurrent {
			m.setCurrentLocked(m.fallback.Datafile)
			m.lastFetch = m.fallback.LastFetch
		}
		m.fallback = nil
		fellBack = true
	}
	m.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if req != nil {
		req.Abort()
	}
	if fellBack {
		m.settleReady(nil)
	}
	m.pub.Publish(telemetry.Event{Component: telemetry.ComponentDatafile, Name: telemetry.Stopped})
	m.log.Info().Msg("datafile manager stopped")
}

// Get returns the active datafile, or false if none is available yet.
func (m *Manager) Get() (string, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.current, m.hasCurrent
}

// On registers a listener for datafile changes and returns its unsubscribe func.
func (m *Manager) On(fn func(Update)) (unsubscribe func()) {
	return m.listeners.Add(fn)
}

// Ready is closed once readiness has settled, successfully or not. It stays
// open forever if the manager stops before the first success without a fallback.
func (m *Manager) Ready() <-chan struct{} { return m.ready }

// Err returns the readiness failure, or nil. Only meaningful after Ready is closed.
func (m *Manager) Err() error {
	select {
	case <-m.ready:
		return m.readyErr
	default:
		return nil
	}
}

// OnReady blocks until readiness settles or ctx is done. Callers bring their
// own timeout through ctx.
func (m *Manager) OnReady(ctx context.Context) error {
	select {
	case <-m.ready:
		return m.readyErr
	case <-ctx.Done():
		return ctx.Err()
	}
}

// State returns the current lifecycle state.
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Status returns a snapshot for reporting.
func (m *Manager) Status() Status {
	m.mu.Lock()
	st := Status{
		State:       m.state,
		HasDatafile: m.hasCurrent,
		Revision:    m.revision,
		LastFetch:   m.lastFetch,
		Fetches:     m.fetches,
		Failures:    m.failures,
		Updates:     m.updates,
	}
	m.mu.Unlock()
	select {
	case <-m.ready:
		st.Ready = m.readyErr == nil
		if m.readyErr != nil {
			st.ReadyErr = m.readyErr.Error()
		}
	default:
	}
	return st
}

// settleReady latches readiness. Later calls are ignored.
func (m *Manager) settleReady(err error) {
	m.readyOnce.Do(func() {
		if err != nil {
			m.readyErr = notReadyError{cause: err}
		}
		close(m.ready)
		ev := telemetry.Event{Component: telemetry.ComponentDatafile, Name: telemetry.Ready}
		if err != nil {
			ev.Fields = map[string]any{"error": err.Error()}
		}
		m.pub.Publish(ev)
	})
}

func (m *Manager) setCurrentLocked(doc string) {
	m.current = doc
	m.hasCurrent = true
	m.revision = revisionOf(doc)
}

func (m *Manager) cacheUsable(e CacheEntry) bool {
	if e.Datafile == "" {
		return false
	}
	if m.cfg.MaxCacheAge == 0 {
		return true
	}
	return m.cfg.Now().Sub(e.LastFetch) <= m.cfg.MaxCacheAge
}

// revisionOf extracts the top-level "revision" field for status reporting.
// The document is otherwise opaque here.
func revisionOf(doc string) string {
	var v struct {
		Revision string `json:"revision"`
	}
	if err := json.Unmarshal([]byte(doc), &v); err != nil {
		return ""
	}
	return v.Revision
}
