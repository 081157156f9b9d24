package datafile

import (
	"context"
	"fmt"
	"net/http"

	"flagsync/internal/telemetry"
	"flagsync/internal/transport"
)

func formatURL(template, sdkKey string) string {
	return fmt.Sprintf(template, sdkKey)
}

// fetch performs one attempt, applies the result, notifies listeners on a
// change and then schedules the next poll. At most one fetch is in flight.
func (m *Manager) fetch() {
	m.mu.Lock()
	if m.state == StateStopped || m.inflight != nil {
		m.mu.Unlock()
		return
	}
	m.cancelPoll = nil
	header := m.headersLocked()
	req := m.cfg.Transport.Do(context.Background(), http.MethodGet, m.url, header, nil)
	m.inflight = req
	m.state = StateFetching
	m.fetches++
	m.mu.Unlock()
	m.pub.Publish(telemetry.Event{Component: telemetry.ComponentDatafile, Name: telemetry.FetchStart})

	resp, err := req.Wait()
	if err == nil && !resp.OK() && resp.StatusCode != http.StatusNotModified {
		err = transport.ErrStatus(m.url, resp.StatusCode)
	}

	m.mu.Lock()
	m.inflight = nil
	if m.state == StateStopped {
		m.mu.Unlock()
		return
	}
	m.state = StatePolling
	if err == nil && resp.StatusCode == http.StatusNotModified && !m.hasCurrent {
		err = errNotModifiedWithoutDatafile
	}
	if err == nil && resp.StatusCode != http.StatusNotModified && len(resp.Body) == 0 {
		err = errEmptyDatafile
	}

	var (
		changed  bool
		update   Update
		ready    bool
		readyErr error
	)
	if err != nil {
		m.failures++
		if m.fallback != nil {
			if !m.hasCurrent {
				m.setCurrentLocked(m.fallback.Datafile)
				m.lastFetch = m.fallback.LastFetch
			}
			ready = true
		} else if !m.cfg.LiveUpdates {
			ready, readyErr = true, err
		}
	} else {
		now := m.cfg.Now()
		m.lastFetch = now
		if lm := resp.Header.Get("Last-Modified"); lm != "" {
			m.lastModified = lm
		}
		body := string(resp.Body)
		if resp.StatusCode == http.StatusNotModified || (m.hasCurrent && body == m.current) {
			m.cfg.Cache.Set(m.cfg.SDKKey, CacheEntry{Datafile: m.current, LastFetch: now})
		} else {
			m.setCurrentLocked(body)
			m.cfg.Cache.Set(m.cfg.SDKKey, CacheEntry{Datafile: body, LastFetch: now})
			m.updates++
			changed = true
			update = Update{Datafile: body}
		}
		ready = true
	}
	m.fallback = nil
	revision := m.revision
	m.mu.Unlock()

	switch {
	case err != nil:
		m.log.Warn().Err(err).Str("url", m.url).Msg("datafile fetch failed")
		m.pub.Publish(telemetry.Event{Component: telemetry.ComponentDatafile, Name: telemetry.FetchError, Fields: map[string]any{"error": err.Error()}})
	case changed:
		m.log.Info().Str("revision", revision).Msg("datafile updated")
		m.pub.Publish(telemetry.Event{Component: telemetry.ComponentDatafile, Name: telemetry.FetchOK})
		m.pub.Publish(telemetry.Event{Component: telemetry.ComponentDatafile, Name: telemetry.DatafileUpdated, Fields: map[string]any{"revision": revision}})
	default:
		m.log.Debug().Msg("datafile unchanged")
		m.pub.Publish(telemetry.Event{Component: telemetry.ComponentDatafile, Name: telemetry.FetchUnchanged})
	}
	if ready {
		m.settleReady(readyErr)
	}
	if changed {
		m.notify(update)
	}
	m.schedulePoll()
}

func (m *Manager) headersLocked() http.Header {
	h := http.Header{}
	if m.cfg.AccessToken != "" {
		h.Set("Authorization", "Bearer "+m.cfg.AccessToken)
	}
	if m.lastModified != "" && m.hasCurrent {
		h.Set("If-Modified-Since", m.lastModified)
	}
	return h
}

// notify delivers u to a stable snapshot of listeners. A panicking listener
// is logged and does not prevent delivery to the rest.
func (m *Manager) notify(u Update) {
	for _, fn := range m.listeners.Snapshot() {
		func() {
			defer func() {
				if r := recover(); r != nil {
					m.log.Error().Interface("panic", r).Msg("datafile listener panicked")
				}
			}()
			fn(u)
		}()
	}
}

// schedulePoll arms the next fetch UpdateInterval after the last one settled.
func (m *Manager) schedulePoll() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.cfg.LiveUpdates || m.state == StateStopped || m.cancelPoll != nil {
		return
	}
	m.cancelPoll = m.cfg.Scheduler.Schedule(m.fetch, m.cfg.UpdateInterval)
}
