package registry

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/wasptenant/host/internal/core"
	"github.com/wasptenant/host/internal/instance"
)

// fakeModule is a minimal in-memory core.Module, just enough to drive
// Load/CallSerialize/CallDeserialize without a real Wasm runtime.
type fakeModule struct {
	mem        []byte
	snapshot   []byte
	serializeErr error
	closed     bool
}

func newFakeModule(snapshot []byte) *fakeModule {
	return &fakeModule{mem: make([]byte, 0, 1024), snapshot: snapshot}
}

func (m *fakeModule) CallExport(ctx context.Context, name string, args ...uint64) ([]uint64, error) {
	switch name {
	case "alloc":
		size := int(args[0])
		ptr := len(m.mem)
		m.mem = append(m.mem, make([]byte, size)...)
		return []uint64{uint64(ptr)}, nil
	case "serialize":
		if m.serializeErr != nil {
			return nil, m.serializeErr
		}
		ptr := len(m.mem)
		m.mem = append(m.mem, m.snapshot...)
		return []uint64{uint64(ptr)<<32 | uint64(len(m.snapshot))}, nil
	case "deserialize":
		ptr, size := uint32(args[0]), uint32(args[1])
		data, _ := m.ReadMemory(ptr, size)
		m.snapshot = data
		return nil, nil
	default:
		return nil, errors.New("no such export: " + name)
	}
}

func (m *fakeModule) ReadMemory(offset, size uint32) ([]byte, bool) {
	end := int(offset) + int(size)
	if end > len(m.mem) {
		return nil, false
	}
	out := make([]byte, size)
	copy(out, m.mem[offset:end])
	return out, true
}

func (m *fakeModule) WriteMemory(offset uint32, data []byte) bool {
	end := int(offset) + len(data)
	if end > len(m.mem) {
		return false
	}
	copy(m.mem[offset:], data)
	return true
}

func (m *fakeModule) Close(ctx context.Context) error {
	m.closed = true
	return nil
}

// fakeEngine returns a distinct fakeModule per Instantiate call,
// carrying whatever snapshot bytes it was constructed with — this
// lets a test control what a reload sees without a real file roundtrip
// through the guest side.
type fakeEngine struct {
	nextModule func() *fakeModule
}

func (e *fakeEngine) Instantiate(ctx context.Context, config core.TenantConfig, imports core.HostImports) (core.Module, error) {
	return e.nextModule(), nil
}

type nopGateway struct{}

func (nopGateway) Discover(ctx context.Context, kind string) (core.GroupVersionResource, error) {
	return core.GroupVersionResource{}, nil
}
func (nopGateway) Do(ctx context.Context, req core.HTTPRequest) (core.HTTPResponse, error) {
	return core.HTTPResponse{}, nil
}
func (nopGateway) Watch(ctx context.Context, kind, namespace string) (core.EventStream, error) {
	return nil, nil
}

func newTestRegistry(t *testing.T, mk func() *fakeModule) *Registry {
	t.Helper()
	reg, err := New(&fakeEngine{nextModule: mk}, nopGateway{}, t.TempDir())
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	return reg
}

func TestWithTenantInvokesFnAndUpdatesLastActive(t *testing.T) {
	reg := newTestRegistry(t, func() *fakeModule { return newFakeModule(nil) })
	mod := newFakeModule(nil)
	inst, err := instance.Load(context.Background(), &fakeEngine{nextModule: func() *fakeModule { return mod }}, core.TenantConfig{Name: "t1"}, nil)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	reg.Insert("t1", core.TenantConfig{Name: "t1"}, inst)

	before, ok := reg.IdleSince("t1")
	if !ok {
		t.Fatal("expected t1 to be Loaded")
	}

	got, err := WithTenant(context.Background(), reg, "t1", func(ctx context.Context, inst *instance.Instance) (string, error) {
		return "ran", nil
	})
	if err != nil {
		t.Fatalf("WithTenant failed: %v", err)
	}
	if got != "ran" {
		t.Fatalf("got %q, want %q", got, "ran")
	}

	after, _ := reg.IdleSince("t1")
	if !after.After(before) && after != before {
		t.Errorf("expected lastActive to advance, before=%v after=%v", before, after)
	}
}

func TestWithTenantUnknownTenant(t *testing.T) {
	reg := newTestRegistry(t, func() *fakeModule { return newFakeModule(nil) })
	_, err := WithTenant(context.Background(), reg, "ghost", func(ctx context.Context, inst *instance.Instance) (struct{}, error) {
		return struct{}{}, nil
	})
	if err == nil {
		t.Fatal("expected an error for an unknown tenant")
	}
}

func TestSwapOutThenReload(t *testing.T) {
	snapshot := []byte(`{"n":7}`)
	reg := newTestRegistry(t, func() *fakeModule { return newFakeModule(snapshot) })

	mod := newFakeModule(snapshot)
	inst, err := instance.Load(context.Background(), &fakeEngine{nextModule: func() *fakeModule { return mod }}, core.TenantConfig{Name: "t1"}, nil)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	reg.Insert("t1", core.TenantConfig{Name: "t1"}, inst)

	if err := reg.SwapOut(context.Background(), "t1"); err != nil {
		t.Fatalf("SwapOut failed: %v", err)
	}
	if !mod.closed {
		t.Error("expected the swapped-out instance's module to be closed")
	}
	if _, ok := reg.IdleSince("t1"); ok {
		t.Error("a Swapped tenant should not report IdleSince")
	}

	path := filepath.Join(reg.stateDir, "t1.mem")
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("expected snapshot file at %s: %v", path, err)
	}

	// WithTenant should transparently reload from disk.
	_, err = WithTenant(context.Background(), reg, "t1", func(ctx context.Context, inst *instance.Instance) (struct{}, error) {
		return struct{}{}, nil
	})
	if err != nil {
		t.Fatalf("WithTenant after swap-out failed: %v", err)
	}
	if _, ok := reg.IdleSince("t1"); !ok {
		t.Error("expected t1 to be Loaded again after reload")
	}
}

func TestSwapOutFailureLeavesTenantLoaded(t *testing.T) {
	reg := newTestRegistry(t, func() *fakeModule { return newFakeModule(nil) })

	mod := newFakeModule(nil)
	mod.serializeErr = errors.New("guest trapped")
	inst, err := instance.Load(context.Background(), &fakeEngine{nextModule: func() *fakeModule { return mod }}, core.TenantConfig{Name: "t1"}, nil)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	reg.Insert("t1", core.TenantConfig{Name: "t1"}, inst)

	if err := reg.SwapOut(context.Background(), "t1"); err == nil {
		t.Fatal("expected SwapOut to fail")
	}
	if _, ok := reg.IdleSince("t1"); !ok {
		t.Error("a failed SwapOut must leave the tenant Loaded")
	}
}
