// Package hostbridge implements core.HostImports: the four host
// functions (log, send_request, get_response, drop) a guest links
// against while one of its entry points is running.
package hostbridge

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/wasptenant/host/internal/core"
)

// call is one in-flight (or completed) Kubernetes round trip started by
// send_request. resp/err are only valid once done is closed.
type call struct {
	done chan struct{}
	resp core.HTTPResponse
	err  error
}

// Bridge is one tenant's AsyncHandle resource table. A tenant gets its
// own Bridge so that handle numbers, and the goroutines behind them,
// never cross tenant boundaries.
type Bridge struct {
	tenant  core.TenantId
	gateway core.Gateway
	log     *slog.Logger

	next atomic.Uint64

	mu    sync.Mutex
	calls map[uint64]*call
}

// New returns a Bridge that issues Kubernetes calls for tenant through
// gateway.
func New(tenant core.TenantId, gateway core.Gateway) *Bridge {
	return &Bridge{
		tenant:  tenant,
		gateway: gateway,
		log:     slog.Default().With("component", "hostbridge", "tenant", string(tenant)),
		calls:   make(map[uint64]*call),
	}
}

var _ core.HostImports = (*Bridge)(nil)

// Log writes a guest log line tagged with the originating tenant.
func (b *Bridge) Log(level, text string) {
	switch level {
	case "error":
		b.log.Error(text)
	case "warn":
		b.log.Warn(text)
	case "debug":
		b.log.Debug(text)
	default:
		b.log.Info(text)
	}
}

// SendRequest allocates a fresh handle and spawns the round trip on its
// own goroutine; it never blocks on the request itself.
func (b *Bridge) SendRequest(ctx context.Context, req core.HTTPRequest) (uint64, error) {
	handle := b.next.Add(1)
	c := &call{done: make(chan struct{})}

	b.mu.Lock()
	b.calls[handle] = c
	b.mu.Unlock()

	// Detached from the entry point's context on purpose: the request
	// must keep running even if the guest drops the handle or the
	// calling entry point returns before get_response is awaited, so
	// the spawned task always resolves instead of racing cancellation.
	go func() {
		defer close(c.done)
		c.resp, c.err = b.gateway.Do(context.WithoutCancel(ctx), req)
	}()

	return handle, nil
}

// GetResponse blocks until the round trip identified by handle
// completes, then removes it from the table. Calling GetResponse twice
// on the same handle is a caller error and returns an "unknown handle"
// failure on the second call.
func (b *Bridge) GetResponse(ctx context.Context, handle uint64) (core.HTTPResponse, error) {
	b.mu.Lock()
	c, ok := b.calls[handle]
	b.mu.Unlock()
	if !ok {
		return core.HTTPResponse{}, fmt.Errorf("unknown handle %d", handle)
	}

	select {
	case <-c.done:
	case <-ctx.Done():
		return core.HTTPResponse{}, ctx.Err()
	}

	b.mu.Lock()
	delete(b.calls, handle)
	b.mu.Unlock()

	return c.resp, c.err
}

// Drop releases handle without waiting for it to complete. The
// underlying goroutine still runs to completion; its result is
// discarded when it finishes since nothing retains the *call after
// this point.
func (b *Bridge) Drop(handle uint64) {
	b.mu.Lock()
	delete(b.calls, handle)
	b.mu.Unlock()
}
