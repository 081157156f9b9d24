// Package transport performs single abortable HTTP requests with a hard
// per-request timeout. It never retries; retry policy belongs to callers.
package transport

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

const (
	defaultTimeout      = 60 * time.Second
	defaultMaxBodyBytes = 16 << 20
)

// Response is the result of a completed round trip. Non-2xx statuses are
// responses, not errors.
type Response struct {
	StatusCode int
	Body       []byte
	Header     http.Header
}

// OK reports whether the status is 2xx.
func (r *Response) OK() bool { return r != nil && r.StatusCode >= 200 && r.StatusCode < 300 }

// Transport issues abortable requests.
type Transport interface {
	Do(ctx context.Context, method, url string, header http.Header, body []byte) *Request
}

// Request is a handle on one in-flight round trip.
type Request struct {
	done   chan struct{}
	resp   *Response
	err    error
	cancel context.CancelCauseFunc
}

// Done is closed once the request has completed, failed, or been aborted.
func (r *Request) Done() <-chan struct{} { return r.done }

// Wait blocks until the request settles.
func (r *Request) Wait() (*Response, error) {
	<-r.done
	return r.resp, r.err
}

// Abort cancels the request. Safe to call any number of times, including
// after completion.
func (r *Request) Abort() { r.cancel(errAbortCause) }

// Settled returns a Request that has already completed with resp and err.
// Useful for fakes.
func Settled(resp *Response, err error) *Request {
	r := &Request{done: make(chan struct{}), resp: resp, err: err, cancel: func(error) {}}
	close(r.done)
	return r
}

// Config tunes the HTTP transport. Zero values select defaults.
type Config struct {
	Client       *http.Client
	Timeout      time.Duration
	MaxBodyBytes int64
	// Tracing wraps the client's RoundTripper with OpenTelemetry instrumentation.
	Tracing bool
}

// HTTP implements Transport with net/http.
type HTTP struct {
	client  *http.Client
	timeout time.Duration
	maxBody int64
}

// New constructs an HTTP transport, applying defaults for unset fields.
func New(cfg Config) *HTTP {
	client := cfg.Client
	if client == nil {
		client = &http.Client{}
	}
	if cfg.Tracing {
		base := client.Transport
		if base == nil {
			base = http.DefaultTransport
		}
		c := *client
		c.Transport = otelhttp.NewTransport(base)
		client = &c
	}
	t := &HTTP{client: client, timeout: cfg.Timeout, maxBody: cfg.MaxBodyBytes}
	if t.timeout <= 0 {
		t.timeout = defaultTimeout
	}
	if t.maxBody <= 0 {
		t.maxBody = defaultMaxBodyBytes
	}
	return t
}

// Do starts the request on its own goroutine and returns immediately.
func (t *HTTP) Do(ctx context.Context, method, url string, header http.Header, body []byte) *Request {
	if ctx == nil {
		ctx = context.Background()
	}
	ctx, cancel := context.WithCancelCause(ctx)
	r := &Request{done: make(chan struct{}), cancel: cancel}
	go func() {
		defer close(r.done)
		defer cancel(nil)
		r.resp, r.err = t.roundTrip(ctx, method, url, header, body)
	}()
	return r
}

func (t *HTTP) roundTrip(ctx context.Context, method, url string, header http.Header, body []byte) (*Response, error) {
	ctx, stop := context.WithTimeoutCause(ctx, t.timeout, errTimeoutCause)
	defer stop()

	var rd io.Reader
	if body != nil {
		rd = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, url, rd)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	for k, vs := range header {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}
	resp, err := t.client.Do(req)
	if err != nil {
		return nil, classify(ctx, url, err)
	}
	defer resp.Body.Close()
	b, err := io.ReadAll(io.LimitReader(resp.Body, t.maxBody+1))
	if err != nil {
		return nil, classify(ctx, url, err)
	}
	if int64(len(b)) > t.maxBody {
		return nil, bodyTooLargeError{url: url, limit: t.maxBody}
	}
	return &Response{StatusCode: resp.StatusCode, Body: b, Header: resp.Header.Clone()}, nil
}

// classify maps a client error onto the transport error taxonomy using the
// cancellation cause recorded on ctx.
func classify(ctx context.Context, url string, err error) error {
	cause := context.Cause(ctx)
	switch {
	case errors.Is(cause, errTimeoutCause):
		return timeoutError{url: url}
	case errors.Is(cause, errAbortCause):
		return abortedError{url: url, cause: err}
	case cause != nil:
		return abortedError{url: url, cause: cause}
	}
	return fmt.Errorf("request %s: %w", url, err)
}
