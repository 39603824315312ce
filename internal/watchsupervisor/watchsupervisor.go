// Package watchsupervisor pulls events for one WatchRequest from a
// core.Gateway watch and dispatches them to the matching tenant's
// reconcile entry point.
package watchsupervisor

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"time"

	"github.com/wasptenant/host/internal/core"
	"github.com/wasptenant/host/internal/instance"
	"github.com/wasptenant/host/internal/registry"
)

// DefaultRestartBackoff is the fixed pause before re-opening a watch
// after the stream ends, per spec.md §4.6/§9.
const DefaultRestartBackoff = time.Second

// Supervisor drives one (tenant, WatchRequest) pair for the lifetime
// of the host process.
type Supervisor struct {
	tenant  core.TenantId
	req     core.WatchRequest
	gateway core.Gateway
	reg     *registry.Registry
	backoff time.Duration
	log     *slog.Logger
}

// New returns a Supervisor for tenant's WatchRequest req.
func New(tenant core.TenantId, req core.WatchRequest, gateway core.Gateway, reg *registry.Registry, backoff time.Duration) *Supervisor {
	if backoff <= 0 {
		backoff = DefaultRestartBackoff
	}
	return &Supervisor{
		tenant:  tenant,
		req:     req,
		gateway: gateway,
		reg:     reg,
		backoff: backoff,
		log: slog.Default().With(
			"component", "watch-supervisor",
			"tenant", string(tenant),
			"kind", req.Kind,
			"namespace", req.Namespace,
		),
	}
}

// Start runs the pull-and-dispatch loop until ctx is cancelled,
// restarting the underlying watch with a fixed backoff whenever it
// ends. It never returns a non-nil error on its own — watch and
// reconcile failures are logged and the loop continues, matching
// spec.md §4.6's "log and continue" stream lifecycle.
func (s *Supervisor) Start(ctx context.Context) error {
	for {
		if ctx.Err() != nil {
			return nil
		}

		stream, err := s.gateway.Watch(ctx, s.req.Kind, s.req.Namespace)
		if err != nil {
			s.log.Error("open watch failed", "error", err)
			if !s.sleep(ctx) {
				return nil
			}
			continue
		}

		s.drain(ctx, stream)
		stream.Close()

		if !s.sleep(ctx) {
			return nil
		}
	}
}

// Stop is a no-op: Start already exits promptly on context
// cancellation via the blocking Next call below.
func (s *Supervisor) Stop(ctx context.Context) error { return nil }

// drain pulls events from stream until it ends or ctx is cancelled.
func (s *Supervisor) drain(ctx context.Context, stream core.EventStream) {
	for {
		event, err := stream.Next(ctx)
		if err != nil {
			if errors.Is(err, io.EOF) {
				return
			}
			if ctx.Err() != nil {
				return
			}
			s.log.Warn("watch error, continuing", "error", err)
			continue
		}

		req, ok := toReconcileRequest(event)
		if !ok {
			continue
		}

		if _, err := registry.WithTenant(ctx, s.reg, s.tenant, func(ctx context.Context, inst *instance.Instance) (struct{}, error) {
			return struct{}{}, inst.CallReconcile(ctx, req)
		}); err != nil {
			s.log.Error("reconcile failed", "error", err)
		}
	}
}

func (s *Supervisor) sleep(ctx context.Context) bool {
	timer := time.NewTimer(s.backoff)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}

// toReconcileRequest maps a raw gateway event to a ReconcileRequest.
// Init/InitDone bookmarks carry no resource and are ignored; Apply and
// InitApply fold to Added, Delete folds to Deleted.
func toReconcileRequest(event core.Event) (core.ReconcileRequest, bool) {
	var kind core.EventKind
	switch event.Type {
	case core.EventTypeApply, core.EventTypeInitApply:
		kind = core.EventAdded
	case core.EventTypeDelete:
		kind = core.EventDeleted
	default:
		return core.ReconcileRequest{}, false
	}

	name, _ := nestedString(event.Resource, "metadata", "name")
	namespace, _ := nestedString(event.Resource, "metadata", "namespace")

	body, err := json.Marshal(event.Resource)
	if err != nil {
		return core.ReconcileRequest{}, false
	}

	return core.ReconcileRequest{
		EventKind:    kind,
		Name:         name,
		Namespace:    namespace,
		ResourceJSON: body,
	}, true
}

func nestedString(m map[string]any, path ...string) (string, bool) {
	var cur any = m
	for _, p := range path {
		asMap, ok := cur.(map[string]any)
		if !ok {
			return "", false
		}
		cur, ok = asMap[p]
		if !ok {
			return "", false
		}
	}
	s, ok := cur.(string)
	return s, ok
}
