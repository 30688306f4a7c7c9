package queue

// Config stores the config for a bounded per-key queue
type Config struct {
	// Type labels the instance on metrics: "process" or "sender"
	Type string
	// Capacity is the normal per-key element limit. ValidToPush turns false
	// once a key's occupancy reaches it.
	Capacity int
	// ExtraCapacity is the overflow allowance beyond Capacity. Elements
	// beyond Capacity+ExtraCapacity are discarded and counted, never
	// blocked on.
	ExtraCapacity int
}

// Bound returns the hard per-key element limit
func (c Config) Bound() int {
	return c.Capacity + c.ExtraCapacity
}
