package types

import "strconv"

// QueueKey identifies a logical destination stream. EventGroups with the same
// key share a batch bucket and a sender queue lane, and keep FIFO order
// end-to-end.
type QueueKey struct {
	Region   string
	Project  string
	Logstore string
	Shard    int
}

// String returns the canonical map key for the queue key
func (k QueueKey) String() string {
	return k.Region + "/" + k.Project + "/" + k.Logstore + "/" + strconv.Itoa(k.Shard)
}

// RouteKey returns the destination identity without the shard. Routing and
// per-store rate limiting work at this granularity.
func (k QueueKey) RouteKey() string {
	return k.Region + "/" + k.Project + "/" + k.Logstore
}
