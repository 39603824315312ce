package core

import "context"

// Gateway wraps a single cluster client shared by all tenants: resource
// discovery, untyped JSON request passthrough, and long-lived watches.
// The concrete adapter lives in internal/providers/kubernetes.
type Gateway interface {
	// Discover resolves a case-insensitive kind to its
	// GroupVersionResource across discovered API groups. Returns a
	// DomainError{Code: ErrorCodeUnknownKind} when no match exists.
	Discover(ctx context.Context, kind string) (GroupVersionResource, error)

	// Do sends req as an untyped JSON passthrough. API errors (non-2xx
	// with a Status body) are not raised as Go errors — the Status
	// object comes back as a successful HTTPResponse so the guest can
	// inspect it. Only transport/build failures return an error
	// (DomainError{Code: ErrorCodeKubeTransport}).
	Do(ctx context.Context, req HTTPRequest) (HTTPResponse, error)

	// Watch opens an EventStream for the given kind and namespace. The
	// stream is infinite and restartable; callers own deciding when to
	// restart (see EventStream.Next).
	Watch(ctx context.Context, kind, namespace string) (EventStream, error)
}

// EventType is the raw shape of a Kubernetes watch event, before
// normalization to core.EventKind.
type EventType string

const (
	EventTypeApply     EventType = "apply"
	EventTypeInitApply EventType = "init_apply"
	EventTypeDelete    EventType = "delete"
	EventTypeInit      EventType = "init"
	EventTypeInitDone  EventType = "init_done"
	EventTypeOther     EventType = "other"
)

// Event is one item from a Gateway watch stream, carrying the resource as
// a decoded JSON document (map[string]any) so the gateway stays free of
// any particular wire encoding beyond "it's JSON".
type Event struct {
	Type     EventType
	Resource map[string]any
}

// EventStream is a pull iterator over a Kubernetes watch. Next blocks
// until an event, a transient error, or stream end (io.EOF) is available.
// On a transient error the caller should log and call Next again — the
// underlying client reconnects transparently. On io.EOF the stream is
// exhausted and the caller must call Gateway.Watch again after a backoff
// to resume watching.
type EventStream interface {
	Next(ctx context.Context) (Event, error)
	Close()
}
