package core

import "context"

// Engine instantiates guest Wasm modules. The concrete adapter
// (internal/instance/wazeroengine) wraps a wazero runtime; the rest of the
// host only depends on this interface, matching the spec's treatment of
// the bytecode engine as an opaque collaborator.
type Engine interface {
	// Instantiate loads the module at config.SandboxImagePath, links
	// WASI and the given host imports, and instantiates it. The
	// returned Module has not yet had any guest entry point called.
	Instantiate(ctx context.Context, config TenantConfig, imports HostImports) (Module, error)
}

// HostImports is the set of host functions a guest links against under
// the "parent-api" namespace. The concrete implementation lives in
// internal/hostbridge; core only needs the shape so Engine adapters can
// wire it without importing hostbridge (which would create an import
// cycle back through instance -> hostbridge -> core).
type HostImports interface {
	Log(level, text string)
	SendRequest(ctx context.Context, req HTTPRequest) (handle uint64, err error)
	GetResponse(ctx context.Context, handle uint64) (HTTPResponse, error)
	Drop(handle uint64)
}

// Module is one instantiated, linked guest, not yet driven by a caller.
// CallExport invokes a guest export by name; args/results are raw i32/i64
// ABI words per internal/instance's calling convention (see abi.go).
type Module interface {
	CallExport(ctx context.Context, name string, args ...uint64) ([]uint64, error)
	ReadMemory(offset, size uint32) ([]byte, bool)
	WriteMemory(offset uint32, data []byte) bool
	Close(ctx context.Context) error
}
