// Package kubernetes implements core.Gateway against a single cluster's
// API server using client-go's dynamic, discovery and REST clients. The
// host process talks to exactly one cluster (see SPEC_FULL.md §3),
// unlike the multi-cluster, per-request-impersonated tunnel client this
// package's shape is grounded on.
package kubernetes

import (
	"net/http"
	"sync"

	"k8s.io/client-go/discovery"
	"k8s.io/client-go/dynamic"
	"k8s.io/client-go/rest"
	"k8s.io/client-go/restmapper"
	"k8s.io/client-go/tools/clientcmd"
)

// ProvideConfig returns a *rest.Config for the target cluster,
// preferring in-cluster service account credentials and falling back
// to the caller's kubeconfig for local development.
func ProvideConfig() (*rest.Config, error) {
	cfg, err := rest.InClusterConfig()
	if err == nil {
		return cfg, nil
	}
	return clientcmd.BuildConfigFromFlags("", clientcmd.RecommendedHomeFile)
}

// Kubernetes holds the clients and shared transport for a single
// cluster. The dynamic and discovery clients are cheap wrappers built
// once at construction; the REST mapper is built lazily and memoized
// since it requires a full discovery round trip.
type Kubernetes struct {
	config    *rest.Config
	transport http.RoundTripper
	dynamic   dynamic.Interface
	discovery discovery.DiscoveryInterface

	mu     sync.Mutex
	mapper *restmapper.DeferredDiscoveryRESTMapper
}

// New builds a Kubernetes client bundle from cfg.
func New(cfg *rest.Config) (*Kubernetes, error) {
	transport, err := rest.TransportFor(cfg)
	if err != nil {
		return nil, wrapK8sError(err)
	}

	dyn, err := dynamic.NewForConfig(cfg)
	if err != nil {
		return nil, wrapK8sError(err)
	}

	disc, err := discovery.NewDiscoveryClientForConfig(cfg)
	if err != nil {
		return nil, wrapK8sError(err)
	}

	return &Kubernetes{
		config:    cfg,
		transport: transport,
		dynamic:   dyn,
		discovery: disc,
	}, nil
}

// restMapper returns the memoized, lazily-initialized REST mapper. The
// deferred mapper retries discovery on the next Discover call until one
// discovery round trip succeeds, then keeps that result: because
// memoryCachedDiscovery always reports Fresh, a kind that does not match
// does not trigger a new discovery, so resources installed after that
// point are not found.
func (k *Kubernetes) restMapper() *restmapper.DeferredDiscoveryRESTMapper {
	k.mu.Lock()
	defer k.mu.Unlock()
	if k.mapper == nil {
		k.mapper = restmapper.NewDeferredDiscoveryRESTMapper(memoryCachedDiscovery{k.discovery})
	}
	return k.mapper
}

// httpClient returns an *http.Client sharing the cached transport, for
// the raw JSON passthrough path in gateway.go.
func (k *Kubernetes) httpClient() *http.Client {
	return &http.Client{Transport: k.transport}
}

// memoryCachedDiscovery adapts a plain discovery.DiscoveryInterface to
// the discovery.CachedDiscoveryInterface the REST mapper requires,
// without ever actually caching — Fresh always reports true and Invalidate
// is a no-op. The mapper's own memoization (see restMapper above) is
// what avoids repeated discovery round trips in practice.
type memoryCachedDiscovery struct {
	discovery.DiscoveryInterface
}

func (memoryCachedDiscovery) Fresh() bool   { return true }
func (memoryCachedDiscovery) Invalidate()   {}
