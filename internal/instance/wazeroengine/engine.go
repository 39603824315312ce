// Package wazeroengine implements core.Engine and core.Module with
// github.com/tetratelabs/wazero, the pure-Go Wasm runtime that stands
// in for the original's wasmtime::Engine. wazero has no Wasm Component
// Model support, so guests link against a flat "parent-api" host
// module instead of WIT-bindgen'd component imports; see
// internal/instance/abi.go for the resulting calling convention.
//
// Isolation model: each tenant gets its own wazero.Runtime rather than
// sharing one Runtime across tenants. A host module is matched to a
// guest's imports by name within a single Runtime, and each tenant
// needs its own "parent-api" instance bound to its own HostBridge
// (distinct AsyncHandle tables) — separate Runtimes is the documented
// way to get that isolation. A shared wazero.CompilationCache keeps
// repeated cold-starts of the same image (e.g. after a swap-out) cheap
// even though each gets a fresh Runtime.
package wazeroengine

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sync"

	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/api"
	"github.com/tetratelabs/wazero/imports/wasi_snapshot_preview1"

	"github.com/wasptenant/host/internal/core"
)

const hostModuleName = "parent-api"

// Engine holds the process-wide compilation cache and a memoized copy
// of each tenant's compiled bytecode, keyed by image path.
type Engine struct {
	cache wazero.CompilationCache

	mu    sync.Mutex
	bytes map[string][]byte
}

// New returns an Engine with a fresh in-memory compilation cache.
func New() (*Engine, error) {
	return &Engine{
		cache: wazero.NewCompilationCache(),
		bytes: make(map[string][]byte),
	}, nil
}

// Close releases the shared compilation cache. Call once at host
// shutdown, after every tenant's module has been closed.
func (e *Engine) Close(ctx context.Context) error {
	return e.cache.Close(ctx)
}

var _ core.Engine = (*Engine)(nil)

func (e *Engine) bytecode(path string) ([]byte, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if b, ok := e.bytes[path]; ok {
		return b, nil
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read sandbox image: %w", err)
	}
	e.bytes[path] = b
	return b, nil
}

// Instantiate spins up a dedicated Runtime for this tenant, links WASI
// and a "parent-api" host module bound to imports, compiles (cache
// permitting) and instantiates the guest at config.SandboxImagePath.
func (e *Engine) Instantiate(ctx context.Context, config core.TenantConfig, imports core.HostImports) (core.Module, error) {
	bytecode, err := e.bytecode(config.SandboxImagePath)
	if err != nil {
		return nil, err
	}

	runtime := wazero.NewRuntimeWithConfig(ctx, wazero.NewRuntimeConfig().WithCompilationCache(e.cache))

	if _, err := wasi_snapshot_preview1.Instantiate(ctx, runtime); err != nil {
		runtime.Close(ctx)
		return nil, fmt.Errorf("instantiate wasi_snapshot_preview1: %w", err)
	}

	hb := &hostFuncs{imports: imports}
	hostBuilder := runtime.NewHostModuleBuilder(hostModuleName)
	hostBuilder.NewFunctionBuilder().WithFunc(hb.log).Export("log")
	hostBuilder.NewFunctionBuilder().WithFunc(hb.sendRequest).Export("send_request")
	hostBuilder.NewFunctionBuilder().WithFunc(hb.getResponse).Export("get_response")
	hostBuilder.NewFunctionBuilder().WithFunc(hb.drop).Export("drop")
	if _, err := hostBuilder.Instantiate(ctx); err != nil {
		runtime.Close(ctx)
		return nil, fmt.Errorf("link host imports: %w", err)
	}

	cm, err := runtime.CompileModule(ctx, bytecode)
	if err != nil {
		runtime.Close(ctx)
		return nil, fmt.Errorf("compile sandbox image: %w", err)
	}

	env := make([]string, 0, len(config.Env)*2)
	for _, e := range config.Env {
		env = append(env, e.Name, e.Value)
	}

	modCfg := wazero.NewModuleConfig().
		WithName(config.Name).
		WithArgs(append([]string{config.Name}, config.Args...)...).
		WithStdout(os.Stdout).
		WithStderr(os.Stderr).
		WithSysWalltime().
		WithSysNanotime()
	for i := 0; i+1 < len(env); i += 2 {
		modCfg = modCfg.WithEnv(env[i], env[i+1])
	}

	mod, err := runtime.InstantiateModule(ctx, cm, modCfg)
	if err != nil {
		runtime.Close(ctx)
		return nil, fmt.Errorf("instantiate guest module: %w", err)
	}

	return &module{runtime: runtime, mod: mod}, nil
}

// module wraps one instantiated guest and the dedicated Runtime it
// lives in, so Close tears both down together.
type module struct {
	runtime wazero.Runtime
	mod     api.Module
}

var _ core.Module = (*module)(nil)

func (m *module) CallExport(ctx context.Context, name string, args ...uint64) ([]uint64, error) {
	fn := m.mod.ExportedFunction(name)
	if fn == nil {
		return nil, fmt.Errorf("guest does not export %q", name)
	}
	return fn.Call(ctx, args...)
}

func (m *module) ReadMemory(offset, size uint32) ([]byte, bool) {
	data, ok := m.mod.Memory().Read(offset, size)
	if !ok {
		return nil, false
	}
	out := make([]byte, len(data))
	copy(out, data)
	return out, true
}

func (m *module) WriteMemory(offset uint32, data []byte) bool {
	return m.mod.Memory().Write(offset, data)
}

func (m *module) Close(ctx context.Context) error {
	return m.runtime.Close(ctx)
}

// hostFuncs implements the four parent-api import functions. Each
// method's signature matches what wazero's reflection-based WithFunc
// binder requires: a leading context.Context, an optional api.Module
// for memory access, then the guest-visible i32/i64 words.
type hostFuncs struct {
	imports core.HostImports
}

func (h *hostFuncs) log(ctx context.Context, mod api.Module, levelPtr, levelLen, textPtr, textLen uint32) {
	level := readString(mod, levelPtr, levelLen)
	text := readString(mod, textPtr, textLen)
	h.imports.Log(level, text)
}

func (h *hostFuncs) sendRequest(ctx context.Context, mod api.Module, ptr, size uint32) uint64 {
	data, ok := mod.Memory().Read(ptr, size)
	if !ok {
		return 0
	}
	var req core.HTTPRequest
	if err := json.Unmarshal(data, &req); err != nil {
		return 0
	}
	handle, err := h.imports.SendRequest(ctx, req)
	if err != nil {
		return 0
	}
	return handle
}

func (h *hostFuncs) getResponse(ctx context.Context, mod api.Module, handle uint64) (status uint32, packed uint64) {
	resp, err := h.imports.GetResponse(ctx, handle)
	if err != nil {
		ptr, size := allocAndWrite(ctx, mod, []byte(err.Error()))
		return 1, pack(ptr, size)
	}
	ptr, size := allocAndWrite(ctx, mod, resp.Body)
	return 0, pack(ptr, size)
}

func (h *hostFuncs) drop(ctx context.Context, mod api.Module, handle uint64) {
	h.imports.Drop(handle)
}

func readString(mod api.Module, ptr, size uint32) string {
	data, ok := mod.Memory().Read(ptr, size)
	if !ok {
		return ""
	}
	return string(data)
}

// allocAndWrite calls the guest's alloc export to reserve space for
// data, then writes data there. Used by host functions that must hand
// a result back into guest-owned memory (get_response).
func allocAndWrite(ctx context.Context, mod api.Module, data []byte) (ptr, size uint32) {
	if len(data) == 0 {
		return 0, 0
	}
	alloc := mod.ExportedFunction("alloc")
	if alloc == nil {
		return 0, 0
	}
	results, err := alloc.Call(ctx, uint64(len(data)))
	if err != nil || len(results) != 1 {
		return 0, 0
	}
	ptr = uint32(results[0])
	if !mod.Memory().Write(ptr, data) {
		return 0, 0
	}
	return ptr, uint32(len(data))
}

func pack(ptr, size uint32) uint64 {
	return uint64(ptr)<<32 | uint64(size)
}
