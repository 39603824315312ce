// Package cache adds TTL caching and request deduplication in front of
// a core.Gateway's discovery calls. It lives in the providers layer
// because caching is an infrastructure concern — core only depends on
// the plain Gateway interface.
package cache

import (
	"context"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/wasptenant/host/internal/core"
)

// DefaultTTL is how long a resolved GroupVersionResource is trusted
// before Discover is asked again. Cluster API surfaces change rarely
// (CRD install/upgrade), so a coarse TTL is sufficient.
const DefaultTTL = 10 * time.Minute

// DiscoveryGateway wraps a core.Gateway, caching Discover results and
// deduplicating concurrent lookups for the same kind via singleflight.
// Do and Watch pass straight through.
type DiscoveryGateway struct {
	inner core.Gateway
	ttl   time.Duration
	now   func() time.Time

	mu      sync.RWMutex
	entries map[string]cacheEntry
	flights singleflight.Group
}

type cacheEntry struct {
	gvr       core.GroupVersionResource
	expiresAt time.Time
}

// Option configures a DiscoveryGateway at construction time.
type Option func(*DiscoveryGateway)

// WithClock injects a custom time source for deterministic tests.
func WithClock(now func() time.Time) Option {
	return func(c *DiscoveryGateway) { c.now = now }
}

// NewDiscoveryGateway wraps inner with a Discover cache of the given TTL.
func NewDiscoveryGateway(inner core.Gateway, ttl time.Duration, opts ...Option) *DiscoveryGateway {
	c := &DiscoveryGateway{
		inner:   inner,
		ttl:     ttl,
		now:     time.Now,
		entries: make(map[string]cacheEntry),
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

var _ core.Gateway = (*DiscoveryGateway)(nil)

func (c *DiscoveryGateway) Discover(ctx context.Context, kind string) (core.GroupVersionResource, error) {
	key := strings.ToLower(kind)

	c.mu.RLock()
	entry, ok := c.entries[key]
	c.mu.RUnlock()
	if ok && c.now().Before(entry.expiresAt) {
		return entry.gvr, nil
	}

	v, err, _ := c.flights.Do(key, func() (any, error) {
		gvr, err := c.inner.Discover(ctx, kind)
		if err != nil {
			return core.GroupVersionResource{}, err
		}
		c.mu.Lock()
		c.entries[key] = cacheEntry{gvr: gvr, expiresAt: c.now().Add(c.ttl)}
		c.mu.Unlock()
		return gvr, nil
	})
	if err != nil {
		return core.GroupVersionResource{}, err
	}
	return v.(core.GroupVersionResource), nil
}

func (c *DiscoveryGateway) Do(ctx context.Context, req core.HTTPRequest) (core.HTTPResponse, error) {
	return c.inner.Do(ctx, req)
}

func (c *DiscoveryGateway) Watch(ctx context.Context, kind, namespace string) (core.EventStream, error) {
	return c.inner.Watch(ctx, kind, namespace)
}

// Evict drops the cached entry for kind, forcing the next Discover to
// re-query the inner gateway. Failed lookups are never cached, so
// there is nothing to evict for a kind that did not resolve.
func (c *DiscoveryGateway) Evict(kind string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, strings.ToLower(kind))
}
