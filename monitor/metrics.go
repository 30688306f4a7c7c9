// Package monitor implements the flat metric surface of the flusher: every
// component owns a MetricsRecord, and a snapshot exports one
// map[string]string per record with "label."/"value." namespaced keys,
// suitable for scraping by an external collector.
package monitor

import (
	"sort"
	"strconv"
	"sync"
	"sync/atomic"
)

// Counter is a monotonically increasing metric value
type Counter struct {
	name  string
	value uint64
}

// Name returns the metric key of the counter
func (c *Counter) Name() string { return c.name }

// Inc adds one to the counter
func (c *Counter) Inc() { atomic.AddUint64(&c.value, 1) }

// Add adds n to the counter. Negative deltas are ignored.
func (c *Counter) Add(n int) {
	if n > 0 {
		atomic.AddUint64(&c.value, uint64(n))
	}
}

// Get returns the current counter value
func (c *Counter) Get() uint64 { return atomic.LoadUint64(&c.value) }

// Gauge is a point-in-time metric value
type Gauge struct {
	name  string
	value int64
}

// Name returns the metric key of the gauge
func (g *Gauge) Name() string { return g.name }

// Set stores the gauge value
func (g *Gauge) Set(v int64) { atomic.StoreInt64(&g.value, v) }

// Add applies a delta to the gauge
func (g *Gauge) Add(n int64) { atomic.AddInt64(&g.value, n) }

// Get returns the current gauge value
func (g *Gauge) Get() int64 { return atomic.LoadInt64(&g.value) }

// MetricsRecord groups the metrics of one component instance under a fixed
// label set. Labels identify the instance (component, plugin id, queue type);
// values are the counters and gauges registered on it.
type MetricsRecord struct {
	mu       sync.Mutex
	labels   map[string]string
	counters []*Counter
	gauges   []*Gauge
}

// Counter registers (or returns) a counter with the given metric key
func (r *MetricsRecord) Counter(name string) *Counter {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, c := range r.counters {
		if c.name == name {
			return c
		}
	}
	c := &Counter{name: name}
	r.counters = append(r.counters, c)
	return c
}

// Gauge registers (or returns) a gauge with the given metric key
func (r *MetricsRecord) Gauge(name string) *Gauge {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, g := range r.gauges {
		if g.name == name {
			return g
		}
	}
	g := &Gauge{name: name}
	r.gauges = append(r.gauges, g)
	return g
}

// Export renders the record as a flat label/value map:
//
//	{
//		"label.component": "sender_queue",
//		"label.queue_type": "sender",
//		"value.queue_size": "12",
//	}
func (r *MetricsRecord) Export() map[string]string {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make(map[string]string, len(r.labels)+len(r.counters)+len(r.gauges))
	for k, v := range r.labels {
		out["label."+k] = v
	}
	for _, c := range r.counters {
		out["value."+c.name] = strconv.FormatUint(c.Get(), 10)
	}
	for _, g := range r.gauges {
		out["value."+g.name] = strconv.FormatInt(g.Get(), 10)
	}
	return out
}

// Registry collects the records of every component of a pipeline instance
type Registry struct {
	mu      sync.Mutex
	records []*MetricsRecord
}

// NewRegistry creates an empty metrics registry
func NewRegistry() *Registry {
	return &Registry{}
}

// NewRecord creates a record with the given labels and tracks it for export
func (reg *Registry) NewRecord(labels map[string]string) *MetricsRecord {
	copied := make(map[string]string, len(labels))
	for k, v := range labels {
		copied[k] = v
	}
	r := &MetricsRecord{labels: copied}

	reg.mu.Lock()
	reg.records = append(reg.records, r)
	reg.mu.Unlock()

	return r
}

// ExportMetricRecords returns one flat map per registered record, ordered by
// component label so consecutive scrapes are comparable.
func (reg *Registry) ExportMetricRecords() []map[string]string {
	reg.mu.Lock()
	records := make([]*MetricsRecord, len(reg.records))
	copy(records, reg.records)
	reg.mu.Unlock()

	out := make([]map[string]string, 0, len(records))
	for _, r := range records {
		out = append(out, r.Export())
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i]["label."+LabelKeyComponent] < out[j]["label."+LabelKeyComponent]
	})
	return out
}
