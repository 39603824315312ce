package instance

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/wasptenant/host/internal/core"
)

// fakeModule is a minimal in-memory core.Module good enough to drive
// Instance's ABI logic without a real Wasm runtime. Memory is just a
// byte slice that grows when alloc or writeAndPack appends to it;
// WriteMemory past its current length fails.
type fakeModule struct {
	mem     []byte
	exports map[string]func(args []uint64) ([]uint64, error)
	closed  bool
}

func newFakeModule() *fakeModule {
	m := &fakeModule{mem: make([]byte, 0, 4096)}
	m.exports = map[string]func(args []uint64) ([]uint64, error){
		"alloc": func(args []uint64) ([]uint64, error) {
			size := int(args[0])
			ptr := len(m.mem)
			m.mem = append(m.mem, make([]byte, size)...)
			return []uint64{uint64(ptr)}, nil
		},
	}
	return m
}

func (m *fakeModule) CallExport(ctx context.Context, name string, args ...uint64) ([]uint64, error) {
	fn, ok := m.exports[name]
	if !ok {
		return nil, errors.New("no such export: " + name)
	}
	return fn(args)
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

// writeAndPack mirrors the production pack/unpack convention for tests
// that need to stage a guest return value directly.
func (m *fakeModule) writeAndPack(data []byte) uint64 {
	ptr := len(m.mem)
	m.mem = append(m.mem, data...)
	return uint64(ptr)<<32 | uint64(len(data))
}

type fakeEngine struct {
	mod *fakeModule
	err error
}

func (e *fakeEngine) Instantiate(ctx context.Context, config core.TenantConfig, imports core.HostImports) (core.Module, error) {
	if e.err != nil {
		return nil, e.err
	}
	return e.mod, nil
}

func TestLoadRejectsUnsupportedABI(t *testing.T) {
	mod := newFakeModule()
	eng := &fakeEngine{mod: mod}

	_, err := Load(context.Background(), eng, core.TenantConfig{Name: "t1", ABIVersion: "2.0.0"}, nil)
	if !core.Is(err, core.ErrorCodeSandboxLoad) {
		t.Fatalf("expected ErrorCodeSandboxLoad, got %v", err)
	}
}

func TestLoadAcceptsSupportedABI(t *testing.T) {
	mod := newFakeModule()
	eng := &fakeEngine{mod: mod}

	inst, err := Load(context.Background(), eng, core.TenantConfig{Name: "t1", ABIVersion: "1.2.0"}, nil)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if inst == nil {
		t.Fatal("expected a non-nil instance")
	}
}

func TestCallGetWatchRequestsDecodesJSON(t *testing.T) {
	mod := newFakeModule()
	want := []core.WatchRequest{{Kind: "Ring", Namespace: "ns-a"}}
	payload, _ := json.Marshal(want)
	packed := mod.writeAndPack(payload)

	mod.exports["get_watch_requests"] = func(args []uint64) ([]uint64, error) {
		return []uint64{packed}, nil
	}

	inst := &Instance{config: core.TenantConfig{Name: "t1"}, module: mod}
	got, err := inst.CallGetWatchRequests(context.Background())
	if err != nil {
		t.Fatalf("CallGetWatchRequests failed: %v", err)
	}
	if len(got) != 1 || got[0] != want[0] {
		t.Fatalf("got %v, want %v", got, want)
	}
}

func TestCallReconcileOk(t *testing.T) {
	mod := newFakeModule()
	var capturedReq core.ReconcileRequest
	mod.exports["reconcile"] = func(args []uint64) ([]uint64, error) {
		ptr, size := uint32(args[0]), uint32(args[1])
		data, _ := mod.ReadMemory(ptr, size)
		_ = json.Unmarshal(data, &capturedReq)
		return []uint64{0, 0}, nil
	}

	inst := &Instance{config: core.TenantConfig{Name: "t1"}, module: mod}
	req := core.ReconcileRequest{EventKind: core.EventAdded, Name: "r1", Namespace: "ns-a"}
	if err := inst.CallReconcile(context.Background(), req); err != nil {
		t.Fatalf("CallReconcile failed: %v", err)
	}
	if capturedReq.Name != "r1" || capturedReq.EventKind != core.EventAdded {
		t.Fatalf("guest did not receive expected request, got %+v", capturedReq)
	}
}

func TestCallReconcileGuestError(t *testing.T) {
	mod := newFakeModule()
	mod.exports["reconcile"] = func(args []uint64) ([]uint64, error) {
		packed := mod.writeAndPack([]byte("boom"))
		return []uint64{1, packed}, nil
	}

	inst := &Instance{config: core.TenantConfig{Name: "t1"}, module: mod}
	err := inst.CallReconcile(context.Background(), core.ReconcileRequest{})
	if !core.Is(err, core.ErrorCodeGuestAbort) {
		t.Fatalf("expected ErrorCodeGuestAbort, got %v", err)
	}
}

func TestCallSerializeAndDeserializeRoundTrip(t *testing.T) {
	mod := newFakeModule()
	snapshot := []byte(`{"counter":42}`)

	mod.exports["serialize"] = func(args []uint64) ([]uint64, error) {
		return []uint64{mod.writeAndPack(snapshot)}, nil
	}

	var received []byte
	mod.exports["deserialize"] = func(args []uint64) ([]uint64, error) {
		ptr, size := uint32(args[0]), uint32(args[1])
		received, _ = mod.ReadMemory(ptr, size)
		return nil, nil
	}

	inst := &Instance{config: core.TenantConfig{Name: "t1"}, module: mod}

	got, err := inst.CallSerialize(context.Background())
	if err != nil {
		t.Fatalf("CallSerialize failed: %v", err)
	}
	if string(got) != string(snapshot) {
		t.Fatalf("got %q, want %q", got, snapshot)
	}

	if err := inst.CallDeserialize(context.Background(), got); err != nil {
		t.Fatalf("CallDeserialize failed: %v", err)
	}
	if string(received) != string(snapshot) {
		t.Fatalf("guest received %q, want %q", received, snapshot)
	}
}
