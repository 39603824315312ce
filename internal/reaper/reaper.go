// Package reaper swaps out tenants that have sat idle past a
// configured threshold, freeing their sandbox memory until the next
// watch event reloads them.
package reaper

import (
	"context"
	"log/slog"
	"time"

	"github.com/wasptenant/host/internal/core"
)

// DefaultIdleThreshold is the spec's default idle window before a
// Loaded tenant becomes a swap-out candidate.
const DefaultIdleThreshold = 300 * time.Second

// registry is the subset of *registry.Registry the reaper needs. A
// narrow interface keeps this package's tests free of the instance/
// wazeroengine dependency chain.
type registry interface {
	TenantIds() []core.TenantId
	IdleSince(id core.TenantId) (time.Time, bool)
	SwapOut(ctx context.Context, id core.TenantId) error
}

// Reaper runs the idle-swap loop described in spec.md §4.5.
type Reaper struct {
	reg       registry
	threshold time.Duration
	now       func() time.Time
	log       *slog.Logger
}

// New returns a Reaper that swaps out tenants idle longer than
// threshold.
func New(reg registry, threshold time.Duration) *Reaper {
	return &Reaper{
		reg:       reg,
		threshold: threshold,
		now:       time.Now,
		log:       slog.Default().With("component", "idle-reaper"),
	}
}

// Start runs the reaper loop until ctx is cancelled, ticking every
// threshold/2 as spec.md §4.5 requires.
func (r *Reaper) Start(ctx context.Context) error {
	period := r.threshold / 2
	if period <= 0 {
		period = time.Second
	}
	ticker := time.NewTicker(period)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			r.sweep(ctx)
		}
	}
}

// Stop is a no-op: Start already returns promptly on context
// cancellation, matching how the teacher's reaper listener behaves.
func (r *Reaper) Stop(ctx context.Context) error { return nil }

func (r *Reaper) sweep(ctx context.Context) {
	now := r.now()
	swapped := 0
	for _, id := range r.reg.TenantIds() {
		lastActive, ok := r.reg.IdleSince(id)
		if !ok {
			continue
		}
		if now.Sub(lastActive) <= r.threshold {
			continue
		}
		if err := r.reg.SwapOut(ctx, id); err != nil {
			r.log.Error("swap out failed", "tenant", string(id), "error", err)
			continue
		}
		swapped++
	}
	if swapped > 0 {
		r.log.Info("swapped out idle tenants", "count", swapped)
	}
}
