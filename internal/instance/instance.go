package instance

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/Masterminds/semver/v3"

	"github.com/wasptenant/host/internal/core"
)

// supportedABI is the range of guest ABI versions this host build
// understands. A guest declaring a version outside this range fails
// to load with ErrorCodeSandboxLoad rather than running against an
// ABI it was never tested against.
var supportedABI = semver.MustParseConstraint(">= 1.0.0, < 2.0.0")

// Instance is one linked, instantiated guest, not yet driven through
// its lifecycle by the registry.
type Instance struct {
	config core.TenantConfig
	module core.Module
}

// Load reads config.SandboxImagePath, links WASI and imports through
// engine, instantiates, and validates the guest's declared ABI version.
// The returned Instance has had no entry point called yet.
func Load(ctx context.Context, engine core.Engine, config core.TenantConfig, imports core.HostImports) (*Instance, error) {
	if config.ABIVersion != "" {
		v, err := semver.NewVersion(config.ABIVersion)
		if err != nil {
			return nil, &core.DomainError{
				Code:    core.ErrorCodeSandboxLoad,
				Message: fmt.Sprintf("tenant %s: invalid abi_version %q", config.Name, config.ABIVersion),
				Cause:   err,
			}
		}
		if !supportedABI.Check(v) {
			return nil, &core.DomainError{
				Code:    core.ErrorCodeSandboxLoad,
				Message: fmt.Sprintf("tenant %s: abi_version %s not supported by this host", config.Name, config.ABIVersion),
			}
		}
	}

	mod, err := engine.Instantiate(ctx, config, imports)
	if err != nil {
		return nil, &core.DomainError{
			Code:    core.ErrorCodeSandboxLoad,
			Message: fmt.Sprintf("tenant %s: load sandbox image %s", config.Name, config.SandboxImagePath),
			Cause:   err,
		}
	}

	return &Instance{config: config, module: mod}, nil
}

// Close releases the underlying module's resources.
func (i *Instance) Close(ctx context.Context) error {
	return i.module.Close(ctx)
}

// CallStart performs one-time guest initialization.
func (i *Instance) CallStart(ctx context.Context) error {
	if _, err := i.module.CallExport(ctx, "start"); err != nil {
		return i.abortErr("start", err)
	}
	return nil
}

// CallGetWatchRequests asks the guest which kinds/namespaces it wants
// to watch. Called once, immediately after CallStart.
func (i *Instance) CallGetWatchRequests(ctx context.Context) ([]core.WatchRequest, error) {
	results, err := i.module.CallExport(ctx, "get_watch_requests")
	if err != nil {
		return nil, i.abortErr("get_watch_requests", err)
	}
	if len(results) != 1 {
		return nil, i.abortErr("get_watch_requests", fmt.Errorf("expected 1 result, got %d", len(results)))
	}

	data, err := readResult(i.module, results[0])
	if err != nil {
		return nil, i.abortErr("get_watch_requests", err)
	}
	if len(data) == 0 {
		return nil, nil
	}

	var reqs []core.WatchRequest
	if err := json.Unmarshal(data, &reqs); err != nil {
		return nil, i.abortErr("get_watch_requests", fmt.Errorf("decode watch requests: %w", err))
	}
	return reqs, nil
}

// CallReconcile drives a single reconcile entry point. A guest-returned
// error string is reported as an ErrorCodeGuestAbort DomainError; the
// tenant itself stays Loaded (the caller does not unload on this path).
func (i *Instance) CallReconcile(ctx context.Context, req core.ReconcileRequest) error {
	payload, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("encode reconcile request: %w", err)
	}

	ptr, err := writeArg(ctx, i.module, payload)
	if err != nil {
		return i.abortErr("reconcile", err)
	}

	results, err := i.module.CallExport(ctx, "reconcile", uint64(ptr), uint64(len(payload)))
	if err != nil {
		return i.abortErr("reconcile", err)
	}
	if len(results) != 2 {
		return i.abortErr("reconcile", fmt.Errorf("expected 2 results (status, message), got %d", len(results)))
	}

	status, packedMsg := results[0], results[1]
	if status == 0 {
		return nil
	}

	msg, err := readResult(i.module, packedMsg)
	if err != nil {
		return i.abortErr("reconcile", err)
	}
	return &core.DomainError{
		Code:    core.ErrorCodeGuestAbort,
		Message: fmt.Sprintf("tenant %s: reconcile failed: %s", i.config.Name, string(msg)),
	}
}

// CallSerialize asks the guest for its opaque snapshot bytes.
func (i *Instance) CallSerialize(ctx context.Context) ([]byte, error) {
	results, err := i.module.CallExport(ctx, "serialize")
	if err != nil {
		return nil, i.snapshotErr(err)
	}
	if len(results) != 1 {
		return nil, i.snapshotErr(fmt.Errorf("expected 1 result, got %d", len(results)))
	}
	data, err := readResult(i.module, results[0])
	if err != nil {
		return nil, i.snapshotErr(err)
	}
	return data, nil
}

// CallDeserialize restores guest state from a previously captured
// snapshot. Must be called immediately after Load on a fresh instance
// of the same sandbox image, before any reconcile.
func (i *Instance) CallDeserialize(ctx context.Context, snapshot []byte) error {
	ptr, err := writeArg(ctx, i.module, snapshot)
	if err != nil {
		return i.reloadErr(err)
	}
	if _, err := i.module.CallExport(ctx, "deserialize", uint64(ptr), uint64(len(snapshot))); err != nil {
		return i.reloadErr(err)
	}
	return nil
}

func (i *Instance) abortErr(export string, err error) error {
	return &core.DomainError{
		Code:    core.ErrorCodeGuestAbort,
		Message: fmt.Sprintf("tenant %s: %s", i.config.Name, export),
		Cause:   err,
	}
}

func (i *Instance) snapshotErr(err error) error {
	return &core.DomainError{
		Code:    core.ErrorCodeSnapshot,
		Message: fmt.Sprintf("tenant %s: serialize", i.config.Name),
		Cause:   err,
	}
}

func (i *Instance) reloadErr(err error) error {
	return &core.DomainError{
		Code:    core.ErrorCodeReload,
		Message: fmt.Sprintf("tenant %s: deserialize", i.config.Name),
		Cause:   err,
	}
}
