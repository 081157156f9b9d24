package datafile

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"flagsync/internal/scheduler"
	"flagsync/internal/telemetry"
)

func TestSeedWithoutLiveUpdatesNeverFetches(t *testing.T) {
	ft := newFakeTransport(ok("remote"))
	m := New(Config{SDKKey: "k", Datafile: `{"revision":"7"}`, Transport: ft})
	m.Start()

	if !isClosed(m.Ready()) {
		t.Fatalf("expected ready synchronously with a seed datafile")
	}
	if err := m.OnReady(testCtx(t)); err != nil {
		t.Fatalf("OnReady: %v", err)
	}
	doc, ok := m.Get()
	if !ok || doc != `{"revision":"7"}` {
		t.Fatalf("unexpected datafile: %q %v", doc, ok)
	}
	time.Sleep(20 * time.Millisecond)
	if ft.Calls() != 0 {
		t.Fatalf("expected no network call, got %d", ft.Calls())
	}
	if st := m.Status(); st.Revision != "7" || !st.Ready {
		t.Fatalf("unexpected status: %+v", st)
	}
}

func TestFirstFetchResolvesReady(t *testing.T) {
	ft := newFakeTransport(ok("A"))
	sched := scheduler.NewManual(time.Unix(0, 0))
	m := New(Config{SDKKey: "abc", Transport: ft, Scheduler: sched})
	if _, ok := m.Get(); ok {
		t.Fatalf("expected no datafile before start")
	}
	m.Start()
	if err := m.OnReady(testCtx(t)); err != nil {
		t.Fatalf("OnReady: %v", err)
	}
	if doc, _ := m.Get(); doc != "A" {
		t.Fatalf("unexpected datafile %q", doc)
	}
	if ft.Calls() != 1 || ft.urls[0] != "https://cdn.optimizely.com/datafiles/abc.json" {
		t.Fatalf("unexpected calls: %d %v", ft.Calls(), ft.urls)
	}
	if sched.Pending() != 0 {
		t.Fatalf("expected no poll scheduled without live updates")
	}
}

func TestNoDuplicateNotification(t *testing.T) {
	ft := newFakeTransport(ok("A"), ok("A"), ok("B"), ok("B"), fail("boom"), ok("A"))
	sched := scheduler.NewManual(time.Unix(0, 0))
	m := New(Config{SDKKey: "k", Transport: ft, Scheduler: sched, LiveUpdates: true, UpdateInterval: time.Minute})
	rec := &recorder{}
	m.On(rec.listen)
	m.Start()
	if err := m.OnReady(testCtx(t)); err != nil {
		t.Fatalf("OnReady: %v", err)
	}
	waitFor(t, "first poll scheduled", func() bool { return sched.Pending() == 1 })

	for i := 0; i < 5; i++ {
		sched.Advance(time.Minute)
	}
	if ft.Calls() != 6 {
		t.Fatalf("expected 6 fetches, got %d", ft.Calls())
	}
	got := rec.Updates()
	want := []string{"A", "B", "A"}
	if len(got) != len(want) {
		t.Fatalf("updates=%v want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("updates=%v want %v", got, want)
		}
	}
	if st := m.Status(); st.Failures != 1 || st.Updates != 3 {
		t.Fatalf("unexpected counters: %+v", st)
	}
}

func TestPollIsFixedDelay(t *testing.T) {
	ft := newFakeTransport(ok("A"))
	sched := scheduler.NewManual(time.Unix(0, 0))
	m := New(Config{SDKKey: "k", Transport: ft, Scheduler: sched, LiveUpdates: true, UpdateInterval: 10 * time.Second})
	m.Start()
	waitFor(t, "first poll scheduled", func() bool { return sched.Pending() == 1 })

	sched.Advance(9 * time.Second)
	if ft.Calls() != 1 {
		t.Fatalf("poll fired early: %d calls", ft.Calls())
	}
	sched.Advance(time.Second)
	if ft.Calls() != 2 {
		t.Fatalf("expected second fetch after interval, got %d", ft.Calls())
	}
	if sched.Pending() != 1 {
		t.Fatalf("expected exactly one armed poll, got %d", sched.Pending())
	}
}

func TestDontAwaitCacheSurvivesFailedFetch(t *testing.T) {
	cache := NewMemoryCache()
	cache.Set("k", CacheEntry{Datafile: "cached", LastFetch: time.Now()})
	ft := newFakeTransport(fail("network down"))
	m := New(Config{SDKKey: "k", Cache: cache, Transport: ft, CacheDirective: CacheDontAwait, MaxCacheAge: time.Hour})
	m.Start()

	if !isClosed(m.Ready()) {
		t.Fatalf("expected immediate readiness from cache")
	}
	waitFor(t, "fetch failure", func() bool { return m.Status().Failures == 1 })
	if err := m.OnReady(testCtx(t)); err != nil {
		t.Fatalf("readiness changed after failed fetch: %v", err)
	}
	if doc, _ := m.Get(); doc != "cached" {
		t.Fatalf("active datafile changed: %q", doc)
	}
}

func TestAwaitCacheWaitsForFirstFetch(t *testing.T) {
	gate := make(chan struct{})
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		<-gate
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	cache := NewMemoryCache()
	cache.Set("k", CacheEntry{Datafile: "cached", LastFetch: time.Now()})
	m := New(Config{SDKKey: "k", URLTemplate: srv.URL + "/%s.json", Cache: cache, CacheDirective: CacheAwait})
	m.Start()
	defer m.Stop()

	waitFor(t, "request in flight", func() bool { return hits.Load() == 1 })
	if isClosed(m.Ready()) {
		t.Fatalf("await directive must not be ready before the first fetch")
	}
	if _, ok := m.Get(); ok {
		t.Fatalf("cached value must not be active yet")
	}
	close(gate)
	if err := m.OnReady(testCtx(t)); err != nil {
		t.Fatalf("expected fallback readiness, got %v", err)
	}
	if doc, _ := m.Get(); doc != "cached" {
		t.Fatalf("expected cached fallback, got %q", doc)
	}
}

func TestAwaitCachePrefersFreshFetch(t *testing.T) {
	cache := NewMemoryCache()
	cache.Set("k", CacheEntry{Datafile: "cached", LastFetch: time.Now()})
	ft := newFakeTransport(ok("fresh"))
	rec := &recorder{}
	m := New(Config{SDKKey: "k", Cache: cache, Transport: ft, CacheDirective: CacheAwait})
	m.On(rec.listen)
	m.Start()
	if err := m.OnReady(testCtx(t)); err != nil {
		t.Fatalf("OnReady: %v", err)
	}
	if doc, _ := m.Get(); doc != "fresh" {
		t.Fatalf("expected fresh datafile, got %q", doc)
	}
	if e, _ := cache.Get("k"); e.Datafile != "fresh" {
		t.Fatalf("cache entry not replaced: %+v", e)
	}
	if u := rec.Updates(); len(u) != 1 || u[0] != "fresh" {
		t.Fatalf("unexpected updates: %v", u)
	}
}

func TestStaleCacheIsIgnored(t *testing.T) {
	now := time.Unix(10_000, 0)
	cache := NewMemoryCache()
	cache.Set("k", CacheEntry{Datafile: "old", LastFetch: now.Add(-2 * time.Hour)})
	ft := newFakeTransport(fail("offline"))
	m := New(Config{SDKKey: "k", Cache: cache, Transport: ft, MaxCacheAge: time.Hour, Now: func() time.Time { return now }})
	m.Start()

	err := m.OnReady(testCtx(t))
	if err == nil || !IsNotReady(err) {
		t.Fatalf("expected not-ready failure, got %v", err)
	}
	if _, ok := m.Get(); ok {
		t.Fatalf("stale cache must not become active")
	}
}

func TestReadinessLatch(t *testing.T) {
	ft := newFakeTransport(ok("A"), fail("x"), status(http.StatusInternalServerError))
	sched := scheduler.NewManual(time.Unix(0, 0))
	m := New(Config{SDKKey: "k", Transport: ft, Scheduler: sched, LiveUpdates: true, UpdateInterval: time.Second})
	m.Start()
	if err := m.OnReady(testCtx(t)); err != nil {
		t.Fatalf("OnReady: %v", err)
	}
	waitFor(t, "poll scheduled", func() bool { return sched.Pending() == 1 })
	sched.Advance(time.Second)
	sched.Advance(time.Second)
	if err := m.OnReady(testCtx(t)); err != nil {
		t.Fatalf("readiness changed after failures: %v", err)
	}
	if m.Err() != nil {
		t.Fatalf("Err changed: %v", m.Err())
	}
	if doc, _ := m.Get(); doc != "A" {
		t.Fatalf("active datafile changed on failure: %q", doc)
	}
}

func TestSingleFetchFailureWithoutFallbackRejectsReady(t *testing.T) {
	ft := newFakeTransport(status(http.StatusForbidden))
	m := New(Config{SDKKey: "k", Transport: ft})
	m.Start()
	err := m.OnReady(testCtx(t))
	if !IsNotReady(err) {
		t.Fatalf("expected not ready, got %v", err)
	}
	if st := m.Status(); st.Ready || st.ReadyErr == "" {
		t.Fatalf("unexpected status: %+v", st)
	}
}

func TestLiveUpdatesKeepsWaitingAfterFailure(t *testing.T) {
	ft := newFakeTransport(fail("x"), ok("A"))
	sched := scheduler.NewManual(time.Unix(0, 0))
	m := New(Config{SDKKey: "k", Transport: ft, Scheduler: sched, LiveUpdates: true, UpdateInterval: time.Second})
	m.Start()
	waitFor(t, "retry scheduled", func() bool { return sched.Pending() == 1 })
	if isClosed(m.Ready()) {
		t.Fatalf("should keep waiting while live updates retry")
	}
	sched.Advance(time.Second)
	if err := m.OnReady(testCtx(t)); err != nil {
		t.Fatalf("OnReady: %v", err)
	}
}

func TestStopIdempotentAndAbortsInflight(t *testing.T) {
	var hits atomic.Int32
	aborted := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		<-r.Context().Done()
		close(aborted)
	}))
	defer srv.Close()

	m := New(Config{SDKKey: "k", URLTemplate: srv.URL + "/%s", LiveUpdates: true, UpdateInterval: time.Second})
	m.Start()
	waitFor(t, "request in flight", func() bool { return hits.Load() == 1 })
	m.Stop()
	m.Stop()
	select {
	case <-aborted:
	case <-time.After(2 * time.Second):
		t.Fatal("in-flight fetch was not aborted")
	}
	if m.State() != StateStopped {
		t.Fatalf("state=%s", m.State())
	}
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if err := m.OnReady(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected readiness to stay pending, got %v", err)
	}
	time.Sleep(50 * time.Millisecond)
	if hits.Load() != 1 {
		t.Fatalf("fetches continued after stop: %d", hits.Load())
	}
}

func TestStopDuringAwaitFetchActivatesFallback(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		<-r.Context().Done()
	}))
	defer srv.Close()

	cache := NewMemoryCache()
	cache.Set("k", CacheEntry{Datafile: "cached", LastFetch: time.Now()})
	m := New(Config{SDKKey: "k", URLTemplate: srv.URL + "/%s.json", Cache: cache, CacheDirective: CacheAwait})
	m.Start()
	waitFor(t, "request in flight", func() bool { return m.State() == StateFetching })

	m.Stop()
	if err := m.OnReady(testCtx(t)); err != nil {
		t.Fatalf("expected fallback readiness after stop, got %v", err)
	}
	if doc, ok := m.Get(); !ok || doc != "cached" {
		t.Fatalf("Get after stop = (%q, %v), want cached", doc, ok)
	}
	m.Stop()
	if doc, _ := m.Get(); doc != "cached" {
		t.Fatalf("second stop changed datafile: %q", doc)
	}
}

func TestEmptyBodyKeepsLastDatafile(t *testing.T) {
	ft := newFakeTransport(ok(`{"revision":"1"}`), ok(""))
	sched := scheduler.NewManual(time.Unix(0, 0))
	m := New(Config{SDKKey: "k", Transport: ft, Scheduler: sched, LiveUpdates: true, UpdateInterval: time.Second})
	rec := &recorder{}
	m.On(rec.listen)
	m.Start()
	waitFor(t, "first poll scheduled", func() bool { return sched.Pending() == 1 })

	sched.Advance(time.Second)
	if ft.Calls() != 2 {
		t.Fatalf("expected 2 fetches, got %d", ft.Calls())
	}
	if doc, ok := m.Get(); !ok || doc != `{"revision":"1"}` {
		t.Fatalf("Get = (%q, %v), want last good datafile", doc, ok)
	}
	if got := rec.Updates(); len(got) != 1 {
		t.Fatalf("updates=%q, want one", got)
	}
	if st := m.Status(); st.Failures != 1 || st.Revision != "1" {
		t.Fatalf("unexpected status: %+v", st)
	}
}

func TestEmptyFirstBodyWithoutLiveUpdatesRejectsReady(t *testing.T) {
	m := New(Config{SDKKey: "k", Transport: newFakeTransport(ok(""))})
	m.Start()
	err := m.OnReady(testCtx(t))
	if !IsNotReady(err) {
		t.Fatalf("expected not-ready error, got %v", err)
	}
	if _, ok := m.Get(); ok {
		t.Fatalf("empty body must not become the active datafile")
	}
}

func TestStopKeepsLastDatafileAndCancelsPoll(t *testing.T) {
	ft := newFakeTransport(ok("A"))
	sched := scheduler.NewManual(time.Unix(0, 0))
	m := New(Config{SDKKey: "k", Transport: ft, Scheduler: sched, LiveUpdates: true, UpdateInterval: time.Second})
	m.Start()
	waitFor(t, "poll scheduled", func() bool { return sched.Pending() == 1 })
	m.Stop()
	if sched.Pending() != 0 {
		t.Fatalf("poll timer not cancelled")
	}
	sched.Advance(time.Hour)
	if ft.Calls() != 1 {
		t.Fatalf("fetch after stop: %d", ft.Calls())
	}
	if doc, ok := m.Get(); !ok || doc != "A" {
		t.Fatalf("expected last datafile after stop, got %q", doc)
	}
	m.Start()
	if m.State() != StateStopped {
		t.Fatalf("start after stop must be a no-op")
	}
}

func TestConditionalRequestAndNotModified(t *testing.T) {
	first := ok("A")
	first.resp.Header.Set("Last-Modified", "Wed, 21 Oct 2015 07:28:00 GMT")
	ft := newFakeTransport(first, status(http.StatusNotModified))
	sched := scheduler.NewManual(time.Unix(0, 0))
	pub := telemetry.NewMemoryPublisher()
	rec := &recorder{}
	m := New(Config{SDKKey: "k", Transport: ft, Scheduler: sched, LiveUpdates: true, UpdateInterval: time.Second, Publisher: pub})
	m.On(rec.listen)
	m.Start()
	waitFor(t, "poll scheduled", func() bool { return sched.Pending() == 1 })
	sched.Advance(time.Second)

	if got := ft.Header(1).Get("If-Modified-Since"); got != "Wed, 21 Oct 2015 07:28:00 GMT" {
		t.Fatalf("missing conditional header, got %q", got)
	}
	if ft.Header(0).Get("If-Modified-Since") != "" {
		t.Fatalf("first request must not be conditional")
	}
	if len(rec.Updates()) != 1 {
		t.Fatalf("304 must not notify: %v", rec.Updates())
	}
	if pub.Count(telemetry.FetchUnchanged) != 1 || pub.Count(telemetry.DatafileUpdated) != 1 {
		t.Fatalf("unexpected events: %+v", pub.Events())
	}
}

func TestAccessTokenUsesAuthEndpoint(t *testing.T) {
	ft := newFakeTransport(ok("A"))
	m := New(Config{SDKKey: "key", AccessToken: "tok", Transport: ft})
	m.Start()
	if err := m.OnReady(testCtx(t)); err != nil {
		t.Fatalf("OnReady: %v", err)
	}
	if ft.urls[0] != "https://config.optimizely.com/datafiles/auth/key.json" {
		t.Fatalf("unexpected url %s", ft.urls[0])
	}
	if ft.Header(0).Get("Authorization") != "Bearer tok" {
		t.Fatalf("missing bearer token")
	}
}

func TestListenerUnsubscribeAndPanic(t *testing.T) {
	ft := newFakeTransport(ok("A"), ok("B"))
	sched := scheduler.NewManual(time.Unix(0, 0))
	m := New(Config{SDKKey: "k", Transport: ft, Scheduler: sched, LiveUpdates: true, UpdateInterval: time.Second})
	m.On(func(Update) { panic("listener bug") })
	rec := &recorder{}
	var unsubscribe func()
	unsubscribe = m.On(func(u Update) {
		rec.listen(u)
		unsubscribe()
	})
	tail := &recorder{}
	m.On(tail.listen)
	m.Start()
	waitFor(t, "poll scheduled", func() bool { return sched.Pending() == 1 })
	sched.Advance(time.Second)

	if got := rec.Updates(); len(got) != 1 || got[0] != "A" {
		t.Fatalf("unsubscribed listener saw %v", got)
	}
	if got := tail.Updates(); len(got) != 2 {
		t.Fatalf("listener after panicking one missed updates: %v", got)
	}
}

func TestUpdateIntervalFloor(t *testing.T) {
	m := New(Config{UpdateInterval: 10 * time.Millisecond})
	if m.cfg.UpdateInterval != minUpdateInterval {
		t.Fatalf("expected floor %v, got %v", minUpdateInterval, m.cfg.UpdateInterval)
	}
	m = New(Config{})
	if m.cfg.UpdateInterval != defaultUpdateInterval {
		t.Fatalf("expected default %v, got %v", defaultUpdateInterval, m.cfg.UpdateInterval)
	}
}

func TestParseCacheDirective(t *testing.T) {
	cases := map[string]CacheDirective{
		"":           CacheDontAwait,
		"await":      CacheAwait,
		"AWAIT":      CacheAwait,
		"dont_await": CacheDontAwait,
		"DONT-AWAIT": CacheDontAwait,
	}
	for in, want := range cases {
		got, err := ParseCacheDirective(in)
		if err != nil || got != want {
			t.Fatalf("ParseCacheDirective(%q) = %v, %v; want %v", in, got, err, want)
		}
	}
	if _, err := ParseCacheDirective("sometimes"); err == nil {
		t.Fatalf("expected error for unknown directive")
	}
}
