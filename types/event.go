package types

// Event is a single telemetry record. Contents carries the parsed
// field/value pairs produced by the processing stages.
type Event struct {
	Timestamp uint64            `json:"timestamp"`
	Contents  map[string]string `json:"contents"`
}

// ByteSize returns an estimation of the wire size of the event
func (e *Event) ByteSize() int {
	size := 8
	for k, v := range e.Contents {
		size += len(k) + len(v)
	}
	return size
}

// EventGroup is an ordered sequence of events sharing source metadata. It is
// the atomic unit entering the flusher pipeline: immutable once submitted,
// owned by whichever stage currently holds it.
type EventGroup struct {
	Source string            `json:"source"`
	Topic  string            `json:"topic,omitempty"`
	Tags   map[string]string `json:"tags,omitempty"`
	Events []*Event          `json:"events"`
}

// EventCount returns the number of events in the group
func (g *EventGroup) EventCount() int {
	return len(g.Events)
}

// ByteSize returns an estimation of the wire size of the group
func (g *EventGroup) ByteSize() int {
	size := len(g.Source) + len(g.Topic)
	for k, v := range g.Tags {
		size += len(k) + len(v)
	}
	for _, e := range g.Events {
		size += e.ByteSize()
	}
	return size
}

// Element is anything that can be held by a bounded queue. Both EventGroup
// (process queue) and Item (sender queue) satisfy it.
type Element interface {
	EventCount() int
	ByteSize() int
}
