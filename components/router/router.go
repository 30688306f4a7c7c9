// Package router resolves a closed batch to its destination-specific sender
// queue. It keeps no buffer of its own: resolution failure means no valid
// destination exists, so the batch is discarded and counted, never retried.
package router

import (
	cmap "github.com/streamrail/concurrent-map"

	"github.com/redBorder/rbflusher/components/queue"
	"github.com/redBorder/rbflusher/monitor"
	"github.com/redBorder/rbflusher/types"
)

// Target is a resolved destination lane
type Target struct {
	Queue       *queue.Queue
	Destination types.Destination
}

// Router maps QueueKey route identities to targets
type Router struct {
	routes    cmap.ConcurrentMap
	fallback  *Target
	logger    logger
	unrouted  *monitor.Counter
	discarded *monitor.Counter
}

type logger interface {
	Warnf(format string, args ...interface{})
}

// New creates a Router
func New(reg *monitor.Registry, log logger) *Router {
	rec := reg.NewRecord(map[string]string{
		monitor.LabelKeyComponent: "router",
	})

	return &Router{
		routes:    cmap.New(),
		logger:    log,
		unrouted:  rec.Counter(monitor.MetricOutFailedEventsTotal),
		discarded: rec.Counter(monitor.MetricDiscardedEventsTotal),
	}
}

// Register binds a route identity (region/project/logstore) to a target.
// Registering again replaces the previous target.
func (r *Router) Register(routeKey string, t *Target) {
	r.routes.Set(routeKey, t)
}

// Unregister removes a route, e.g. when a destination is retired
func (r *Router) Unregister(routeKey string) {
	r.routes.Remove(routeKey)
}

// SetFallback sets the target used when no explicit route matches. A single
// destination pipeline registers only a fallback.
func (r *Router) SetFallback(t *Target) {
	r.fallback = t
}

// Route resolves the target for a batch. On failure the batch is counted as
// discarded and (false) returned; the caller must not retry it.
func (r *Router) Route(b *types.Batch) (*Target, bool) {
	if raw, ok := r.routes.Get(b.Key.RouteKey()); ok {
		return raw.(*Target), true
	}
	if r.fallback != nil {
		return r.fallback, true
	}

	r.unrouted.Inc()
	r.discarded.Add(b.Events)
	if r.logger != nil {
		r.logger.Warnf("No destination for %s, dropping %d events", b.Key.RouteKey(), b.Events)
	}
	return nil, false
}
