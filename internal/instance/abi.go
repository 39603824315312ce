// Package instance links a guest Wasm module against WASI and the
// HostBridge imports, and drives its five exported entry points.
//
// wazero has no Wasm Component Model support (no WIT bindgen), so
// structured ABI values cross the boundary as JSON over a small,
// hand-rolled calling convention instead of typed component records:
//
//   - The guest exports alloc(size int32) -> int32, a bump allocator
//     the host calls to reserve space in guest linear memory before
//     writing argument bytes into it.
//   - Every entry point that takes a value receives (ptr, len int32)
//     for that value's JSON (or raw bytes, for serialize/deserialize
//     payloads) already written at ptr by the host.
//   - get_watch_requests and serialize return their value as (ptr, len)
//     packed into a single int64 result: ptr<<32 | len. reconcile
//     returns two results instead: a status word (0 = ok) and, when
//     the status is non-zero, the packed (ptr, len) of the error
//     message. The guest is responsible for leaving that memory
//     addressable until the host's next call (no guest-side free is
//     ever invoked by the host).
//
// This is the Go-native replacement for the original's WIT-bindgen
// generated Operator bindings: the shapes it produces (WatchRequest,
// ReconcileRequest, ok/error(string)) are unchanged, only the wire
// convention crossing the host/guest boundary differs.
package instance

import (
	"context"
	"fmt"

	"github.com/wasptenant/host/internal/core"
)

func packResult(ptr, size uint32) uint64 {
	return uint64(ptr)<<32 | uint64(size)
}

func unpackResult(v uint64) (ptr, size uint32) {
	return uint32(v >> 32), uint32(v)
}

// writeArg allocates size bytes in the guest via its alloc export and
// writes data there, returning the offset.
func writeArg(ctx context.Context, mod core.Module, data []byte) (uint32, error) {
	if len(data) == 0 {
		return 0, nil
	}
	results, err := mod.CallExport(ctx, "alloc", uint64(len(data)))
	if err != nil {
		return 0, fmt.Errorf("call alloc(%d): %w", len(data), err)
	}
	if len(results) != 1 {
		return 0, fmt.Errorf("alloc returned %d results, want 1", len(results))
	}
	ptr := uint32(results[0])
	if !mod.WriteMemory(ptr, data) {
		return 0, fmt.Errorf("write %d bytes at offset %d out of bounds", len(data), ptr)
	}
	return ptr, nil
}

// readResult decodes a packed (ptr, len) int64 return value's bytes out
// of guest memory.
func readResult(mod core.Module, packed uint64) ([]byte, error) {
	ptr, size := unpackResult(packed)
	if size == 0 {
		return nil, nil
	}
	data, ok := mod.ReadMemory(ptr, size)
	if !ok {
		return nil, fmt.Errorf("read %d bytes at offset %d out of bounds", size, ptr)
	}
	return data, nil
}
