package e2e

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"flagsync/internal/agent"
	"flagsync/internal/config"
	"flagsync/internal/events"
	"flagsync/internal/httpapi"
	"flagsync/internal/telemetry"
)

// cdn serves a swappable datafile and counts requests.
type cdn struct {
	*httptest.Server
	mu       sync.Mutex
	datafile string
	hits     int
}

func newCDN(t *testing.T, datafile string) *cdn {
	t.Helper()
	c := &cdn{datafile: datafile}
	c.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		c.mu.Lock()
		c.hits++
		doc := c.datafile
		c.mu.Unlock()
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, doc)
	}))
	t.Cleanup(c.Close)
	return c
}

func (c *cdn) Set(doc string) {
	c.mu.Lock()
	c.datafile = doc
	c.mu.Unlock()
}

func (c *cdn) Hits() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.hits
}

// collector records event batches.
type collector struct {
	*httptest.Server
	mu      sync.Mutex
	batches []events.Batch
}

func newCollector(t *testing.T) *collector {
	t.Helper()
	c := &collector{}
	c.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var b events.Batch
		if err := json.NewDecoder(r.Body).Decode(&b); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		c.mu.Lock()
		c.batches = append(c.batches, b)
		c.mu.Unlock()
		w.WriteHeader(http.StatusNoContent)
	}))
	t.Cleanup(c.Close)
	return c
}

func (c *collector) Batches() []events.Batch {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]events.Batch(nil), c.batches...)
}

// newSidecar builds the agent from cfg and serves it like the daemon does.
func newSidecar(t *testing.T, cfg config.Config) (*httptest.Server, *agent.Client, *telemetry.MemoryPublisher) {
	t.Helper()
	pub := telemetry.NewMemoryPublisher()
	ac, err := agent.ConfigFrom(cfg, nil, pub)
	if err != nil {
		t.Fatalf("agent config: %v", err)
	}
	client := agent.New(ac)
	client.Start()
	srv := httptest.NewServer(httpapi.NewMux(agent.NewService(client)))
	t.Cleanup(func() {
		srv.Close()
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		client.Close(ctx)
	})
	return srv, client, pub
}

func writeSeed(t *testing.T, doc string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), "datafile.json")
	if err := os.WriteFile(p, []byte(doc), 0o644); err != nil {
		t.Fatalf("write seed: %v", err)
	}
	return p
}

func httpGet(t *testing.T, url string) (*http.Response, []byte) {
	t.Helper()
	resp, err := http.Get(url)
	if err != nil {
		t.Fatalf("GET %s: %v", url, err)
	}
	defer resp.Body.Close()
	b, _ := io.ReadAll(resp.Body)
	return resp, b
}

func httpPostJSON(t *testing.T, url, body string) (*http.Response, []byte) {
	t.Helper()
	resp, err := http.Post(url, "application/json", bytes.NewBufferString(body))
	if err != nil {
		t.Fatalf("POST %s: %v", url, err)
	}
	defer resp.Body.Close()
	b, _ := io.ReadAll(resp.Body)
	return resp, b
}

func waitFor(t *testing.T, timeout time.Duration, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func conversionJSON(user string) string {
	return `{"type":"conversion","context":{"account_id":"acc","project_id":"proj","revision":"1"},"user":{"id":"` + user + `"},"event":{"id":"e1","key":"purchase"}}`
}
