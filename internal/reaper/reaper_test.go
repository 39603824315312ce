package reaper

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/wasptenant/host/internal/core"
)

type fakeRegistry struct {
	mu         sync.Mutex
	lastActive map[core.TenantId]time.Time
	swapped    []core.TenantId
	swapErr    map[core.TenantId]error
}

func newFakeRegistry() *fakeRegistry {
	return &fakeRegistry{
		lastActive: make(map[core.TenantId]time.Time),
		swapErr:    make(map[core.TenantId]error),
	}
}

func (f *fakeRegistry) TenantIds() []core.TenantId {
	f.mu.Lock()
	defer f.mu.Unlock()
	ids := make([]core.TenantId, 0, len(f.lastActive))
	for id := range f.lastActive {
		ids = append(ids, id)
	}
	return ids
}

func (f *fakeRegistry) IdleSince(id core.TenantId) (time.Time, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	t, ok := f.lastActive[id]
	return t, ok
}

func (f *fakeRegistry) SwapOut(ctx context.Context, id core.TenantId) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.swapErr[id]; err != nil {
		return err
	}
	f.swapped = append(f.swapped, id)
	delete(f.lastActive, id)
	return nil
}

func TestReaperSweepsOnlyIdleTenants(t *testing.T) {
	reg := newFakeRegistry()
	now := time.Now()
	reg.lastActive["idle"] = now.Add(-10 * time.Second)
	reg.lastActive["active"] = now

	r := New(reg, 5*time.Second)
	r.now = func() time.Time { return now }

	r.sweep(context.Background())

	if len(reg.swapped) != 1 || reg.swapped[0] != "idle" {
		t.Fatalf("expected only %q swapped out, got %v", "idle", reg.swapped)
	}
}

func TestReaperStrictInequality(t *testing.T) {
	reg := newFakeRegistry()
	now := time.Now()
	reg.lastActive["boundary"] = now.Add(-5 * time.Second)

	r := New(reg, 5*time.Second)
	r.now = func() time.Time { return now }

	r.sweep(context.Background())

	if len(reg.swapped) != 0 {
		t.Fatalf("tenant exactly at threshold should not be swapped, got %v", reg.swapped)
	}
}

func TestReaperContinuesAfterSwapOutError(t *testing.T) {
	reg := newFakeRegistry()
	now := time.Now()
	reg.lastActive["broken"] = now.Add(-10 * time.Second)
	reg.lastActive["ok"] = now.Add(-10 * time.Second)
	reg.swapErr["broken"] = errors.New("disk full")

	r := New(reg, 5*time.Second)
	r.now = func() time.Time { return now }

	r.sweep(context.Background())

	if len(reg.swapped) != 1 || reg.swapped[0] != "ok" {
		t.Fatalf("expected only %q swapped after error on %q, got %v", "ok", "broken", reg.swapped)
	}
}

func TestReaperStartStopsOnContextCancel(t *testing.T) {
	reg := newFakeRegistry()
	r := New(reg, 20*time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- r.Start(ctx) }()

	cancel()

	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Start returned error: %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Start did not return after context cancellation")
	}
}
