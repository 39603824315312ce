// Package core defines the domain types and interfaces shared by the
// per-tenant execution manager: tenant identity and configuration, the
// host/guest call protocol types, and the Gateway/Engine boundaries that
// infrastructure adapters (internal/providers/kubernetes, internal/instance)
// implement. Keeping these in one dependency-light package lets the
// registry, reaper, watch supervisor, and scheduler depend on interfaces
// instead of concrete adapters.
package core

import "fmt"

// TenantId is a stable operator name, unique per host process.
type TenantId string

// NameValue is a single environment variable entry in a TenantConfig.
type NameValue struct {
	Name  string
	Value string
}

// TenantConfig is immutable after load.
type TenantConfig struct {
	Name string
	// SandboxImagePath is the filesystem path to the guest's compiled
	// Wasm module.
	SandboxImagePath string
	Args             []string
	Env              []NameValue
	// ABIVersion is the semver version the guest declares it was
	// built against (e.g. "1.2.0"). Checked against the host's supported
	// range at cold-start; an unparsable or unsupported version is a
	// SandboxLoadError for that tenant only. Empty skips the check.
	ABIVersion string
}

func (c TenantConfig) ID() TenantId { return TenantId(c.Name) }

// WatchRequest is a (kind, namespace) pair a guest asks the host to
// subscribe to, returned during cold-start.
type WatchRequest struct {
	Kind      string
	Namespace string
}

// EventKind is the normalized shape of a watch event as delivered to a
// guest. Apply (Modified) and InitApply fold to Added; Delete folds to
// Deleted; the Init/InitDone sentinels are not delivered at all.
type EventKind string

const (
	EventAdded   EventKind = "added"
	EventDeleted EventKind = "deleted"
)

// ReconcileRequest is delivered to the guest's reconcile entry point.
type ReconcileRequest struct {
	EventKind    EventKind
	Name         string
	Namespace    string
	ResourceJSON []byte
}

// HTTPMethod restricts guest-issued requests to the methods the ABI
// allows.
type HTTPMethod string

const (
	MethodGet    HTTPMethod = "GET"
	MethodPost   HTTPMethod = "POST"
	MethodPut    HTTPMethod = "PUT"
	MethodPatch  HTTPMethod = "PATCH"
	MethodDelete HTTPMethod = "DELETE"
)

// Header is a single HTTP header as carried over the ABI.
type Header struct {
	Name  string
	Value string
}

// HTTPRequest is the wire-level ABI request type a guest builds and
// passes to send-request.
type HTTPRequest struct {
	Method  HTTPMethod
	URI     string
	Headers []Header
	Body    []byte
}

// HTTPResponse is the wire-level ABI response type. Body contains either
// the decoded resource JSON or a Kubernetes Status object on API error —
// both are valid JSON, and the guest distinguishes by shape. Only
// transport/build failures surface as an error instead of a HTTPResponse.
type HTTPResponse struct {
	Body []byte
}

func (r HTTPRequest) String() string {
	return fmt.Sprintf("%s %s", r.Method, r.URI)
}

// GroupVersionResource identifies a Kubernetes resource type the way the
// dynamic client addresses it.
type GroupVersionResource struct {
	Group    string
	Version  string
	Resource string
}
