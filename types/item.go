package types

// Item is the serialized, optionally compressed form of a closed batch,
// ready to be delivered. Events and Bytes keep the pre-serialization counts
// so metrics and discard accounting stay in event units.
type Item struct {
	Key         QueueKey
	Payload     []byte
	Encoding    string
	Compression string
	Events      int
	Bytes       int
	Attempts    int
}

// EventCount returns the number of original events the item carries
func (i *Item) EventCount() int { return i.Events }

// ByteSize returns the original (uncompressed, unserialized) byte count
func (i *Item) ByteSize() int { return i.Bytes }

// PayloadSize returns the size of the wire payload as it will be sent
func (i *Item) PayloadSize() int { return len(i.Payload) }
