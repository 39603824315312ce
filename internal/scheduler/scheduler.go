// Package scheduler owns host startup: staggered tenant cold-start,
// and wiring the reaper, watch supervisors, and metrics endpoint into
// the host's managed lifecycle.
package scheduler

import (
	"context"
	"log/slog"
	"time"

	"github.com/wasptenant/host/internal/core"
	"github.com/wasptenant/host/internal/hostbridge"
	"github.com/wasptenant/host/internal/instance"
	"github.com/wasptenant/host/internal/reaper"
	"github.com/wasptenant/host/internal/registry"
	"github.com/wasptenant/host/internal/transport"
	"github.com/wasptenant/host/internal/watchsupervisor"
)

// DefaultStagger is the pause between successive tenant cold-starts,
// per spec.md §4.7/§9.
const DefaultStagger = 125 * time.Millisecond

// Options configures a Scheduler run.
type Options struct {
	Stagger       time.Duration
	IdleThreshold time.Duration
	WatchBackoff  time.Duration
	MetricsAddr   string
}

// Scheduler cold-starts the configured tenants, then runs the
// reaper, one WatchSupervisor per discovered WatchRequest, and the
// metrics endpoint for the remaining lifetime of the host process.
type Scheduler struct {
	engine   core.Engine
	gateway  core.Gateway
	registry *registry.Registry
	configs  []core.TenantConfig
	opts     Options
	log      *slog.Logger
}

// New returns a Scheduler for the given tenant configs.
func New(engine core.Engine, gateway core.Gateway, reg *registry.Registry, configs []core.TenantConfig, opts Options) *Scheduler {
	if opts.Stagger <= 0 {
		opts.Stagger = DefaultStagger
	}
	if opts.IdleThreshold <= 0 {
		opts.IdleThreshold = reaper.DefaultIdleThreshold
	}
	if opts.WatchBackoff <= 0 {
		opts.WatchBackoff = watchsupervisor.DefaultRestartBackoff
	}
	return &Scheduler{
		engine:   engine,
		gateway:  gateway,
		registry: reg,
		configs:  configs,
		opts:     opts,
		log:      slog.Default().With("component", "scheduler"),
	}
}

// Run cold-starts every configured tenant, then blocks serving the
// reaper, watch supervisors, and metrics endpoint until ctx is
// cancelled or one of them fails.
func (s *Scheduler) Run(ctx context.Context) error {
	listeners := []transport.Listener{
		reaper.New(s.registry, s.opts.IdleThreshold),
	}

	metricsLis, err := newMetricsListener(s.opts.MetricsAddr)
	if err != nil {
		return err
	}
	listeners = append(listeners, metricsLis)

	for _, config := range s.configs {
		if !s.sleepStagger(ctx) {
			return nil
		}

		supervisors, err := s.coldStart(ctx, config)
		if err != nil {
			// SandboxLoadError is fatal only for this tenant; the
			// host continues with the rest of the fleet.
			s.log.Error("cold start failed, skipping tenant", "tenant", config.Name, "error", err)
			continue
		}
		listeners = append(listeners, supervisors...)
	}

	return transport.Serve(ctx, listeners...)
}

func (s *Scheduler) sleepStagger(ctx context.Context) bool {
	timer := time.NewTimer(s.opts.Stagger)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}

// coldStart loads config's sandbox image, inserts it into the
// registry as Loaded, runs its one-time start entry point, asks it
// for its WatchRequests, and returns one Supervisor per request.
func (s *Scheduler) coldStart(ctx context.Context, config core.TenantConfig) ([]transport.Listener, error) {
	id := config.ID()
	imports := hostbridge.New(id, s.gateway)

	inst, err := instance.Load(ctx, s.engine, config, imports)
	if err != nil {
		return nil, err
	}

	s.registry.Insert(id, config, inst)

	if _, err := registry.WithTenant(ctx, s.registry, id, func(ctx context.Context, inst *instance.Instance) (struct{}, error) {
		return struct{}{}, inst.CallStart(ctx)
	}); err != nil {
		return nil, err
	}

	reqs, err := registry.WithTenant(ctx, s.registry, id, func(ctx context.Context, inst *instance.Instance) ([]core.WatchRequest, error) {
		return inst.CallGetWatchRequests(ctx)
	})
	if err != nil {
		return nil, err
	}

	listeners := make([]transport.Listener, 0, len(reqs))
	for _, req := range reqs {
		listeners = append(listeners, watchsupervisor.New(id, req, s.gateway, s.registry, s.opts.WatchBackoff))
	}

	s.log.Info("tenant cold-started", "tenant", string(id), "watches", len(reqs))
	return listeners, nil
}
