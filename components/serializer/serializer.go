// Package serializer encodes a closed batch into its wire representation.
// Serialization failure is non-retryable: a payload that cannot be encoded
// cannot be fixed by trying again, so the batch is discarded and counted.
package serializer

import (
	"bytes"
	"errors"

	json "github.com/goccy/go-json"

	"github.com/redBorder/rbflusher/monitor"
	"github.com/redBorder/rbflusher/types"
)

// Supported encodings
const (
	EncodingJSON   = "json"
	EncodingNDJSON = "ndjson"
)

// ErrUnknownEncoding is returned for an encoding name not listed above
var ErrUnknownEncoding = errors.New("unknown encoding")

// Serializer turns batches into items with a fixed encoding
type Serializer struct {
	encoding string

	outItems     *monitor.Counter
	outBytes     *monitor.Counter
	failedEvents *monitor.Counter
}

// New creates a Serializer. Unknown encodings are a configuration error and
// rejected here, at pipeline start.
func New(encoding string, reg *monitor.Registry) (*Serializer, error) {
	switch encoding {
	case EncodingJSON, EncodingNDJSON:
	default:
		return nil, ErrUnknownEncoding
	}

	rec := reg.NewRecord(map[string]string{
		monitor.LabelKeyComponent: "serializer",
	})

	return &Serializer{
		encoding: encoding,

		outItems:     rec.Counter(monitor.MetricOutEventGroupsTotal),
		outBytes:     rec.Counter(monitor.MetricOutSizeBytes),
		failedEvents: rec.Counter(monitor.MetricSerializeFailedEventsTotal),
	}, nil
}

// Encoding returns the configured encoding name
func (s *Serializer) Encoding() string { return s.encoding }

// Serialize encodes a batch into an Item tagged with the original event and
// byte counts
func (s *Serializer) Serialize(b *types.Batch) (*types.Item, error) {
	payload, err := encode(s.encoding, b.Groups)
	if err != nil {
		s.failedEvents.Add(b.Events)
		return nil, err
	}

	s.outItems.Inc()
	s.outBytes.Add(len(payload))

	return &types.Item{
		Key:      b.Key,
		Payload:  payload,
		Encoding: s.encoding,
		Events:   b.Events,
		Bytes:    b.Bytes,
	}, nil
}

func encode(encoding string, groups []*types.EventGroup) ([]byte, error) {
	switch encoding {
	case EncodingJSON:
		return json.Marshal(groups)

	case EncodingNDJSON:
		var buf bytes.Buffer
		for _, g := range groups {
			line, err := json.Marshal(g)
			if err != nil {
				return nil, err
			}
			buf.Write(line)
			buf.WriteByte('\n')
		}
		return buf.Bytes(), nil

	default:
		return nil, ErrUnknownEncoding
	}
}

// Deserialize is the destination-side inverse of Serialize, used by tests
// and in-process destinations to recover the original group sequence.
func Deserialize(encoding string, payload []byte) ([]*types.EventGroup, error) {
	switch encoding {
	case EncodingJSON:
		var groups []*types.EventGroup
		if err := json.Unmarshal(payload, &groups); err != nil {
			return nil, err
		}
		return groups, nil

	case EncodingNDJSON:
		var groups []*types.EventGroup
		for _, line := range bytes.Split(payload, []byte{'\n'}) {
			if len(line) == 0 {
				continue
			}
			g := &types.EventGroup{}
			if err := json.Unmarshal(line, g); err != nil {
				return nil, err
			}
			groups = append(groups, g)
		}
		return groups, nil

	default:
		return nil, ErrUnknownEncoding
	}
}
