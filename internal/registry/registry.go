// Package registry holds the set of live and swapped-out tenants and
// the single choreography ("WithTenant") that the rest of the host
// uses to touch any of them.
package registry

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/wasptenant/host/internal/core"
	"github.com/wasptenant/host/internal/hostbridge"
	"github.com/wasptenant/host/internal/instance"
)

// Slot is a tenant's residency state.
type Slot int

const (
	// Loaded means an Instance exists and is ready to be called.
	Loaded Slot = iota
	// Swapped means the tenant's state lives only on disk at
	// snapshotPath; no Instance exists.
	Swapped
)

// tenantEntry is a stable, heap-allocated handle the registry's map
// points to. Its own mutex, not the registry's, guards everything
// about this one tenant — see the locking-discipline note in
// DESIGN.md's Open Questions for why this replaces the spec's literal
// remove-from-map/reinsert recipe.
type tenantEntry struct {
	mu sync.Mutex

	config       core.TenantConfig
	state        Slot
	instance     *instance.Instance
	lastActive   time.Time
	snapshotPath string
}

// Registry is the concurrent TenantId -> tenantEntry map plus the
// dependencies needed to reload a Swapped tenant back to Loaded.
type Registry struct {
	engine   core.Engine
	gateway  core.Gateway
	stateDir string

	mu      sync.RWMutex
	entries map[core.TenantId]*tenantEntry
}

// New returns an empty Registry. stateDir is created if it does not
// already exist.
func New(engine core.Engine, gateway core.Gateway, stateDir string) (*Registry, error) {
	if err := os.MkdirAll(stateDir, 0o755); err != nil {
		return nil, fmt.Errorf("create state dir %s: %w", stateDir, err)
	}
	return &Registry{
		engine:   engine,
		gateway:  gateway,
		stateDir: stateDir,
		entries:  make(map[core.TenantId]*tenantEntry),
	}, nil
}

// Insert registers a freshly loaded tenant as Loaded. Only the
// scheduler calls this, once per tenant at cold-start.
func (r *Registry) Insert(id core.TenantId, config core.TenantConfig, inst *instance.Instance) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries[id] = &tenantEntry{
		config:     config,
		state:      Loaded,
		instance:   inst,
		lastActive: time.Now(),
	}
}

// TenantIds returns the current set of known tenant ids, in no
// particular order.
func (r *Registry) TenantIds() []core.TenantId {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := make([]core.TenantId, 0, len(r.entries))
	for id := range r.entries {
		ids = append(ids, id)
	}
	return ids
}

func (r *Registry) lookup(id core.TenantId) (*tenantEntry, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entries[id]
	return e, ok
}

// WithTenant is the registry's one general-purpose entry point:
// reloads id from disk if it is Swapped, invokes fn against the
// now-Loaded Instance, updates last_active, and returns fn's result.
// At most one caller executes inside WithTenant for a given id at a
// time, enforced by the tenant's own mutex.
func WithTenant[T any](ctx context.Context, r *Registry, id core.TenantId, fn func(ctx context.Context, inst *instance.Instance) (T, error)) (T, error) {
	var zero T

	entry, ok := r.lookup(id)
	if !ok {
		return zero, fmt.Errorf("unknown tenant %s", id)
	}

	entry.mu.Lock()
	defer entry.mu.Unlock()

	if entry.state == Swapped {
		if err := r.reload(ctx, entry); err != nil {
			return zero, err
		}
	}

	result, err := fn(ctx, entry.instance)
	entry.lastActive = time.Now()
	return result, err
}

// reload instantiates a fresh Instance of entry.config's image and
// replays its snapshot. entry.mu is already held by the caller. On
// failure entry is left exactly as it was (Swapped, same
// snapshotPath) per spec.md §4.4 step 2.
func (r *Registry) reload(ctx context.Context, entry *tenantEntry) error {
	blob, err := os.ReadFile(entry.snapshotPath)
	if err != nil {
		return &core.DomainError{Code: core.ErrorCodeReload, Message: "read snapshot file", Cause: err}
	}

	imports := hostbridge.New(entry.config.ID(), r.gateway)
	inst, err := instance.Load(ctx, r.engine, entry.config, imports)
	if err != nil {
		return err
	}

	if err := inst.CallDeserialize(ctx, blob); err != nil {
		_ = inst.Close(ctx)
		return err
	}

	entry.instance = inst
	entry.state = Loaded
	return nil
}

// SwapOut serializes and persists a Loaded tenant to disk, then
// releases its Instance. It is a no-op if the tenant is already
// Swapped, and only ever called by the idle reaper. Snapshot files are
// only read back by the process that wrote them: a restarted host
// cold-starts every tenant and never reads files already in stateDir.
func (r *Registry) SwapOut(ctx context.Context, id core.TenantId) error {
	entry, ok := r.lookup(id)
	if !ok {
		return fmt.Errorf("unknown tenant %s", id)
	}

	entry.mu.Lock()
	defer entry.mu.Unlock()

	if entry.state != Loaded {
		return nil
	}

	blob, err := entry.instance.CallSerialize(ctx)
	if err != nil {
		return err
	}

	path := filepath.Join(r.stateDir, string(id)+".mem")
	if err := writeAtomic(path, blob); err != nil {
		return &core.DomainError{Code: core.ErrorCodeSnapshot, Message: "write snapshot file", Cause: err}
	}

	if err := entry.instance.Close(ctx); err != nil {
		return &core.DomainError{Code: core.ErrorCodeSnapshot, Message: "close instance after snapshot", Cause: err}
	}

	entry.instance = nil
	entry.state = Swapped
	entry.snapshotPath = path
	return nil
}

// IdleSince reports a Loaded tenant's last_active time. The second
// return value is false for unknown or Swapped tenants — callers
// (the reaper) should skip those rather than treat the zero time as
// "idle forever".
func (r *Registry) IdleSince(id core.TenantId) (time.Time, bool) {
	entry, ok := r.lookup(id)
	if !ok {
		return time.Time{}, false
	}
	entry.mu.Lock()
	defer entry.mu.Unlock()
	if entry.state != Loaded {
		return time.Time{}, false
	}
	return entry.lastActive, true
}

// writeAtomic writes data to path via a tmp sibling plus rename, so a
// crash mid-write never leaves a corrupt snapshot file in place.
func writeAtomic(path string, data []byte) error {
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}
