package httpapi

import (
	"context"
	"errors"
)

// ErrServerShutdown is the cancellation cause of in-flight event requests
// when the daemon shuts down.
var ErrServerShutdown = errors.New("server shutting down")

// serverBaseCtx is canceled when the daemon begins shutdown.
var serverBaseCtx = context.Background()

// SetBaseContext sets the daemon-level context. Nil resets it to Background.
func SetBaseContext(ctx context.Context) {
	if ctx == nil {
		serverBaseCtx = context.Background()
		return
	}
	serverBaseCtx = ctx
}

// joinContexts derives a context from req that is also canceled, with cause
// ErrServerShutdown, once base is done. Request-scoped values (request id,
// trace span) stay reachable. The cancel func must be called when the
// handler returns.
func joinContexts(base, req context.Context) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancelCause(req)
	stop := context.AfterFunc(base, func() { cancel(ErrServerShutdown) })
	return ctx, func() {
		stop()
		cancel(context.Canceled)
	}
}
