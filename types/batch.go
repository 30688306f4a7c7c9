package types

import "time"

// Batch accumulates EventGroups under a single QueueKey until a size or age
// threshold closes it. A batch is never partially flushed.
type Batch struct {
	Key     QueueKey
	Groups  []*EventGroup
	Events  int
	Bytes   int
	FirstAt time.Time
}

// Append adds a group to the batch, updating the accumulated counters. The
// first append records the batch birth time used for age-based flushing.
func (b *Batch) Append(g *EventGroup, now time.Time) {
	if len(b.Groups) == 0 {
		b.FirstAt = now
	}
	b.Groups = append(b.Groups, g)
	b.Events += g.EventCount()
	b.Bytes += g.ByteSize()
}

// Age returns how long ago the first group arrived
func (b *Batch) Age(now time.Time) time.Duration {
	if len(b.Groups) == 0 {
		return 0
	}
	return now.Sub(b.FirstAt)
}

// EventCount returns the number of events accumulated in the batch
func (b *Batch) EventCount() int { return b.Events }

// ByteSize returns the accumulated byte size of the batch
func (b *Batch) ByteSize() int { return b.Bytes }
