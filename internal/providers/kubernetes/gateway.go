package kubernetes

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"runtime/debug"
	"strings"

	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/apis/meta/v1/unstructured"
	"k8s.io/apimachinery/pkg/runtime/schema"
	"k8s.io/apimachinery/pkg/watch"

	"github.com/wasptenant/host/internal/core"
)

// gateway implements core.Gateway against a single cluster.
type gateway struct {
	k8s *Kubernetes
}

// NewGateway returns a core.Gateway backed by the given client bundle.
func NewGateway(k8s *Kubernetes) core.Gateway {
	return &gateway{k8s: k8s}
}

var _ core.Gateway = (*gateway)(nil)

// Discover resolves kind via the REST mapper, matching on resource
// name, singular name, or kind (case-insensitive), whichever the
// discovery data recognizes first.
func (g *gateway) Discover(ctx context.Context, kind string) (core.GroupVersionResource, error) {
	mapping, err := g.k8s.restMapper().ResourceFor(schema.GroupVersionResource{Resource: strings.ToLower(kind)})
	if err != nil {
		return core.GroupVersionResource{}, &core.DomainError{
			Code:    core.ErrorCodeUnknownKind,
			Message: fmt.Sprintf("no discovered resource matches kind %q", kind),
			Cause:   err,
		}
	}
	return core.GroupVersionResource{
		Group:    mapping.Group,
		Version:  mapping.Version,
		Resource: mapping.Resource,
	}, nil
}

// Do sends req as a raw JSON passthrough over the shared transport.
// Any response body, success or Status-on-error, is returned verbatim
// as an HTTPResponse; only failures to build or execute the round trip
// surface as an error.
func (g *gateway) Do(ctx context.Context, req core.HTTPRequest) (core.HTTPResponse, error) {
	url := g.k8s.config.Host + req.URI

	var body io.Reader
	if len(req.Body) > 0 {
		body = bytes.NewReader(req.Body)
	}

	httpReq, err := http.NewRequestWithContext(ctx, string(req.Method), url, body)
	if err != nil {
		return core.HTTPResponse{}, &core.DomainError{
			Code:    core.ErrorCodeKubeTransport,
			Message: "build request",
			Cause:   err,
		}
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "application/json")
	for _, h := range req.Headers {
		httpReq.Header.Add(h.Name, h.Value)
	}

	resp, err := g.k8s.httpClient().Do(httpReq)
	if err != nil {
		return core.HTTPResponse{}, wrapK8sError(err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return core.HTTPResponse{}, &core.DomainError{
			Code:    core.ErrorCodeKubeTransport,
			Message: "read response body",
			Cause:   err,
		}
	}

	return core.HTTPResponse{Body: respBody}, nil
}

// Watch opens a dynamic-client watch for the resolved kind and adapts
// it to core.EventStream.
func (g *gateway) Watch(ctx context.Context, kind, namespace string) (core.EventStream, error) {
	gvr, err := g.Discover(ctx, kind)
	if err != nil {
		return nil, err
	}

	inner, err := g.k8s.dynamic.Resource(schema.GroupVersionResource{
		Group:    gvr.Group,
		Version:  gvr.Version,
		Resource: gvr.Resource,
	}).Namespace(namespace).Watch(ctx, metav1.ListOptions{Watch: true, AllowWatchBookmarks: true})
	if err != nil {
		return nil, wrapK8sError(err)
	}

	return newEventStream(inner), nil
}

// eventStream adapts a watch.Interface to core.EventStream's pull
// model by relaying into a buffered channel on a background goroutine,
// matching the buffering pattern client-go's own watch consumers use.
type eventStream struct {
	inner watch.Interface
	ch    chan core.Event
}

func newEventStream(inner watch.Interface) *eventStream {
	s := &eventStream{inner: inner, ch: make(chan core.Event, 32)}
	go s.relay()
	return s
}

func (s *eventStream) relay() {
	defer close(s.ch)
	defer func() {
		if r := recover(); r != nil {
			slog.Error("watch relay panic recovered", "panic", r, "stack", string(debug.Stack()))
		}
	}()

	for ev := range s.inner.ResultChan() {
		out := core.Event{Type: toEventType(ev.Type)}
		if obj, ok := ev.Object.(*unstructured.Unstructured); ok {
			out.Resource = obj.Object
		} else if status, ok := ev.Object.(*metav1.Status); ok {
			out.Resource = statusToMap(status)
		}
		s.ch <- out
	}
}

func (s *eventStream) Next(ctx context.Context) (core.Event, error) {
	select {
	case ev, ok := <-s.ch:
		if !ok {
			return core.Event{}, io.EOF
		}
		return ev, nil
	case <-ctx.Done():
		return core.Event{}, ctx.Err()
	}
}

func (s *eventStream) Close() { s.inner.Stop() }

func toEventType(t watch.EventType) core.EventType {
	switch t {
	case watch.Added:
		return core.EventTypeInitApply
	case watch.Modified:
		return core.EventTypeApply
	case watch.Deleted:
		return core.EventTypeDelete
	case watch.Bookmark:
		return core.EventTypeInitDone
	default:
		return core.EventTypeOther
	}
}

func statusToMap(status *metav1.Status) map[string]any {
	data, err := json.Marshal(status)
	if err != nil {
		return nil
	}
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		return nil
	}
	return m
}
