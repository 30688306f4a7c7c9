// Package queue implements the bounded per-key buffer shared by the process
// queue (EventGroups) and the sender queue (Items). Each QueueKey owns an
// independent FIFO lane with a capacity plus an extra overflow region;
// saturation discards with a counted metric instead of blocking the caller.
package queue

import (
	"sync"

	"github.com/oleiade/lane"
	cmap "github.com/streamrail/concurrent-map"

	"github.com/redBorder/rbflusher/monitor"
	"github.com/redBorder/rbflusher/types"
)

// Queue is a bounded mapping from QueueKey to an ordered lane of elements.
// FIFO order is kept per key; there is no ordering across keys.
type Queue struct {
	conf  Config
	lanes cmap.ConcurrentMap

	inEvents        *monitor.Counter
	inGroups        *monitor.Counter
	inBytes         *monitor.Counter
	outEvents       *monitor.Counter
	outGroups       *monitor.Counter
	outBytes        *monitor.Counter
	discarded       *monitor.Counter
	discardedEvents *monitor.Counter
	size            *monitor.Gauge
	sizeBytes       *monitor.Gauge
	extraUsage      *monitor.Gauge
}

type keyLane struct {
	key   types.QueueKey
	mu    sync.Mutex
	elems *lane.Deque
	bytes int
}

// New creates a queue and registers its metric record
func New(conf Config, reg *monitor.Registry) *Queue {
	rec := reg.NewRecord(map[string]string{
		monitor.LabelKeyComponent:   conf.Type + "_queue",
		monitor.LabelKeyQueueType:   conf.Type,
		monitor.LabelKeyExactlyOnce: "false",
	})

	return &Queue{
		conf:  conf,
		lanes: cmap.New(),

		inEvents:        rec.Counter(monitor.MetricInEventsTotal),
		inGroups:        rec.Counter(monitor.MetricInEventGroupsTotal),
		inBytes:         rec.Counter(monitor.MetricInSizeBytes),
		outEvents:       rec.Counter(monitor.MetricOutEventsTotal),
		outGroups:       rec.Counter(monitor.MetricOutEventGroupsTotal),
		outBytes:        rec.Counter(monitor.MetricOutSizeBytes),
		discarded:       rec.Counter(monitor.MetricQueueDiscardedTotal),
		discardedEvents: rec.Counter(monitor.MetricDiscardedEventsTotal),
		size:            rec.Gauge(monitor.MetricQueueSize),
		sizeBytes:       rec.Gauge(monitor.MetricQueueSizeBytes),
		extraUsage:      rec.Gauge(monitor.MetricQueueExtraBufferSize),
	}
}

func (q *Queue) lane(key types.QueueKey) *keyLane {
	ks := key.String()
	if l, ok := q.lanes.Get(ks); ok {
		return l.(*keyLane)
	}

	l := &keyLane{key: key, elems: lane.NewCappedDeque(q.conf.Bound())}
	if !q.lanes.SetIfAbsent(ks, l) {
		existing, _ := q.lanes.Get(ks)
		return existing.(*keyLane)
	}
	return l
}

// Push appends an element to its key lane. Returns false and counts the
// discard when capacity plus overflow is exhausted. Never blocks.
func (q *Queue) Push(key types.QueueKey, el types.Element) bool {
	if !q.insert(q.lane(key), el, false) {
		return false
	}

	q.inGroups.Inc()
	q.inEvents.Add(el.EventCount())
	q.inBytes.Add(el.ByteSize())
	return true
}

// Requeue puts an element back at the front of its key lane, used by the
// runner to return a retried item close to its original position. Counted as
// a discard when even the overflow region is full.
func (q *Queue) Requeue(key types.QueueKey, el types.Element) bool {
	return q.insert(q.lane(key), el, true)
}

func (q *Queue) insert(l *keyLane, el types.Element, front bool) bool {
	l.mu.Lock()
	var ok bool
	if front {
		ok = l.elems.Prepend(el)
	} else {
		ok = l.elems.Append(el)
	}
	if ok {
		l.bytes += el.ByteSize()
		q.size.Add(1)
		q.sizeBytes.Add(int64(el.ByteSize()))
		if l.elems.Size() > q.conf.Capacity {
			q.extraUsage.Add(1)
		}
	}
	l.mu.Unlock()

	if !ok {
		q.discarded.Inc()
		q.discardedEvents.Add(el.EventCount())
	}
	return ok
}

// Pop removes and returns the oldest element for the key. Non blocking.
func (q *Queue) Pop(key types.QueueKey) (types.Element, bool) {
	raw, ok := q.lanes.Get(key.String())
	if !ok {
		return nil, false
	}

	el, ok := q.remove(raw.(*keyLane))
	if !ok {
		return nil, false
	}

	q.outGroups.Inc()
	q.outEvents.Add(el.EventCount())
	q.outBytes.Add(el.ByteSize())
	return el, true
}

func (q *Queue) remove(l *keyLane) (types.Element, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()

	wasExtra := l.elems.Size() > q.conf.Capacity
	v := l.elems.Shift()
	if v == nil {
		return nil, false
	}

	el := v.(types.Element)
	l.bytes -= el.ByteSize()
	q.size.Add(-1)
	q.sizeBytes.Add(-int64(el.ByteSize()))
	if wasExtra {
		q.extraUsage.Add(-1)
	}
	return el, true
}

// ValidToPush reports whether the key's occupancy is below the high-water
// mark (the normal capacity). It is the backpressure signal consumed
// upstream: derived from current occupancy, never stored.
func (q *Queue) ValidToPush(key types.QueueKey) bool {
	raw, ok := q.lanes.Get(key.String())
	if !ok {
		return true
	}
	l := raw.(*keyLane)

	l.mu.Lock()
	defer l.mu.Unlock()
	return l.elems.Size() < q.conf.Capacity
}

// Len returns the element count for a key
func (q *Queue) Len(key types.QueueKey) int {
	raw, ok := q.lanes.Get(key.String())
	if !ok {
		return 0
	}
	l := raw.(*keyLane)

	l.mu.Lock()
	defer l.mu.Unlock()
	return l.elems.Size()
}

// Bytes returns the accumulated byte size for a key
func (q *Queue) Bytes(key types.QueueKey) int {
	raw, ok := q.lanes.Get(key.String())
	if !ok {
		return 0
	}
	l := raw.(*keyLane)

	l.mu.Lock()
	defer l.mu.Unlock()
	return l.bytes
}

// Size returns the total element count across keys
func (q *Queue) Size() int {
	return int(q.size.Get())
}

// Keys returns a snapshot of the keys holding at least one element
func (q *Queue) Keys() []types.QueueKey {
	var keys []types.QueueKey
	for kv := range q.lanes.IterBuffered() {
		l := kv.Val.(*keyLane)
		l.mu.Lock()
		if l.elems.Size() > 0 {
			keys = append(keys, l.key)
		}
		l.mu.Unlock()
	}
	return keys
}

// DiscardAll drops every remaining element, counting each one. Used at
// shutdown after the drain grace period so no loss goes unaccounted.
func (q *Queue) DiscardAll() (elements, events int) {
	for kv := range q.lanes.IterBuffered() {
		l := kv.Val.(*keyLane)
		for {
			el, ok := q.remove(l)
			if !ok {
				break
			}
			elements++
			events += el.EventCount()
			q.discarded.Inc()
			q.discardedEvents.Add(el.EventCount())
		}
	}
	return elements, events
}
