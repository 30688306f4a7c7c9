// Package batcher accumulates EventGroups into size/age bounded batches, one
// open batch per QueueKey. Batches close when the byte size, event count or
// age threshold is crossed, and a background sweep closes aged batches even
// with no new arrivals.
package batcher

import (
	"sync"

	"github.com/benbjohnson/clock"
	cmap "github.com/streamrail/concurrent-map"

	"github.com/redBorder/rbflusher/monitor"
	"github.com/redBorder/rbflusher/types"
)

// Flush receives a closed batch
type Flush func(*types.Batch)

// Gate tells the batcher whether the downstream path for a key can take a
// batch right now. While it returns false the batch is held open, so a
// congested sender queue pushes bytes back into the process queue instead of
// force-draining into it.
type Gate func(types.QueueKey) bool

// Batcher keeps at most one open batch per QueueKey
type Batcher struct {
	conf    Config
	clk     clock.Clock
	open    cmap.ConcurrentMap
	flush   Flush
	canPush Gate

	stop     chan struct{}
	stopOnce sync.Once
	done     sync.WaitGroup

	inGroups  *monitor.Counter
	inEvents  *monitor.Counter
	inBytes   *monitor.Counter
	outGroups *monitor.Counter
	outEvents *monitor.Counter
	outBytes  *monitor.Counter
}

type openBatch struct {
	mu    sync.Mutex
	batch *types.Batch
}

// New creates a Batcher. The clock is injectable so tests can drive the age
// sweep deterministically.
func New(conf Config, clk clock.Clock, canPush Gate, flush Flush, reg *monitor.Registry) *Batcher {
	if clk == nil {
		clk = clock.New()
	}
	if conf.SweepIntervalMillis == 0 {
		conf.SweepIntervalMillis = 100
	}

	rec := reg.NewRecord(map[string]string{
		monitor.LabelKeyComponent: "batcher",
	})

	return &Batcher{
		conf:    conf,
		clk:     clk,
		open:    cmap.New(),
		flush:   flush,
		canPush: canPush,
		stop:    make(chan struct{}),

		inGroups:  rec.Counter(monitor.MetricInEventGroupsTotal),
		inEvents:  rec.Counter(monitor.MetricInEventsTotal),
		inBytes:   rec.Counter(monitor.MetricInSizeBytes),
		outGroups: rec.Counter(monitor.MetricOutEventGroupsTotal),
		outEvents: rec.Counter(monitor.MetricOutEventsTotal),
		outBytes:  rec.Counter(monitor.MetricOutSizeBytes),
	}
}

// Run starts the age sweep
func (b *Batcher) Run() {
	b.done.Add(1)
	go func() {
		defer b.done.Done()

		ticker := b.clk.Ticker(millis(b.conf.SweepIntervalMillis))
		defer ticker.Stop()

		for {
			select {
			case <-b.stop:
				return
			case <-ticker.C:
				b.sweep()
			}
		}
	}()
}

// Add appends a group to the key's open batch, closing it when a threshold
// is crossed. Closing and reopening is atomic with respect to concurrent
// Adds on the same key: the per-key lock covers both, and the flush handoff
// happens under it so per-key batch order matches arrival order.
func (b *Batcher) Add(key types.QueueKey, g *types.EventGroup) {
	b.inGroups.Inc()
	b.inEvents.Add(g.EventCount())
	b.inBytes.Add(g.ByteSize())

	ob := b.bucket(key)
	ob.mu.Lock()
	defer ob.mu.Unlock()

	if ob.batch == nil {
		ob.batch = &types.Batch{Key: key}
	}
	ob.batch.Append(g, b.clk.Now())

	if b.full(ob.batch) && b.canPush(key) {
		b.closeLocked(ob)
	}
}

// full reports whether a batch crossed the size or count threshold
func (b *Batcher) full(batch *types.Batch) bool {
	if batch.Bytes >= b.conf.MaxBatchBytes {
		return true
	}
	return b.conf.MaxBatchEvents > 0 && batch.Events >= b.conf.MaxBatchEvents
}

// sweep closes batches whose age crossed the timeout. Keys whose downstream
// gate is shut are skipped and picked up by a later pass.
func (b *Batcher) sweep() {
	now := b.clk.Now()
	timeout := millis(b.conf.TimeoutMillis)

	for kv := range b.open.IterBuffered() {
		ob := kv.Val.(*openBatch)
		ob.mu.Lock()
		if ob.batch != nil && len(ob.batch.Groups) > 0 &&
			ob.batch.Age(now) >= timeout && b.canPush(ob.batch.Key) {
			b.closeLocked(ob)
		}
		ob.mu.Unlock()
	}
}

// FlushAll force-closes every open batch regardless of age or gate. Used at
// shutdown so in-flight batches flow to the sender queues.
func (b *Batcher) FlushAll() {
	for kv := range b.open.IterBuffered() {
		ob := kv.Val.(*openBatch)
		ob.mu.Lock()
		if ob.batch != nil && len(ob.batch.Groups) > 0 {
			b.closeLocked(ob)
		}
		ob.mu.Unlock()
	}
}

// Close stops the age sweep
func (b *Batcher) Close() {
	b.stopOnce.Do(func() { close(b.stop) })
	b.done.Wait()
}

// Pending returns the number of groups currently held in open batches
func (b *Batcher) Pending() int {
	pending := 0
	for kv := range b.open.IterBuffered() {
		ob := kv.Val.(*openBatch)
		ob.mu.Lock()
		if ob.batch != nil {
			pending += len(ob.batch.Groups)
		}
		ob.mu.Unlock()
	}
	return pending
}

func (b *Batcher) bucket(key types.QueueKey) *openBatch {
	ks := key.String()
	if ob, ok := b.open.Get(ks); ok {
		return ob.(*openBatch)
	}

	ob := &openBatch{}
	if !b.open.SetIfAbsent(ks, ob) {
		existing, _ := b.open.Get(ks)
		return existing.(*openBatch)
	}
	return ob
}

// closeLocked hands the batch downstream and opens a fresh one. Caller holds
// the bucket lock.
func (b *Batcher) closeLocked(ob *openBatch) {
	closed := ob.batch
	ob.batch = nil

	b.outGroups.Add(len(closed.Groups))
	b.outEvents.Add(closed.Events)
	b.outBytes.Add(closed.Bytes)
	b.flush(closed)
}
