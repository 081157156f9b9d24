package datafile

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"testing"
	"time"

	"flagsync/internal/transport"
)

type fakeResult struct {
	resp *transport.Response
	err  error
}

func ok(body string) fakeResult {
	return fakeResult{resp: &transport.Response{StatusCode: http.StatusOK, Body: []byte(body), Header: http.Header{}}}
}

func status(code int) fakeResult {
	return fakeResult{resp: &transport.Response{StatusCode: code, Header: http.Header{}}}
}

func fail(msg string) fakeResult { return fakeResult{err: errors.New(msg)} }

// fakeTransport returns queued results in order; the last one repeats.
type fakeTransport struct {
	mu      sync.Mutex
	results []fakeResult
	calls   int
	urls    []string
	headers []http.Header
}

func newFakeTransport(results ...fakeResult) *fakeTransport {
	return &fakeTransport{results: results}
}

func (f *fakeTransport) Do(ctx context.Context, method, url string, header http.Header, body []byte) *transport.Request {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	f.urls = append(f.urls, url)
	f.headers = append(f.headers, header.Clone())
	r := f.results[0]
	if len(f.results) > 1 {
		f.results = f.results[1:]
	}
	return transport.Settled(r.resp, r.err)
}

func (f *fakeTransport) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func (f *fakeTransport) Header(i int) http.Header {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.headers[i]
}

// recorder collects listener updates.
type recorder struct {
	mu      sync.Mutex
	updates []string
}

func (r *recorder) listen(u Update) {
	r.mu.Lock()
	r.updates = append(r.updates, u.Datafile)
	r.mu.Unlock()
}

func (r *recorder) Updates() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.updates...)
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(time.Millisecond)
	}
}

// testCtx returns a context with a short timeout, canceled on test cleanup.
func testCtx(t *testing.T) context.Context {
	t.Helper()
	c, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	t.Cleanup(cancel)
	return c
}

func isClosed(ch <-chan struct{}) bool {
	select {
	case <-ch:
		return true
	default:
		return false
	}
}
