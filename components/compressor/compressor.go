// Package compressor optionally compresses serialized payloads before they
// enter the sender queue. Compression failure never blocks delivery: the
// payload passes through uncompressed and a warning counter is incremented.
package compressor

import (
	"bytes"
	"errors"
	"io"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"

	"github.com/redBorder/rbflusher/monitor"
	"github.com/redBorder/rbflusher/types"
)

// Supported codecs
const (
	CodecNone = "none"
	CodecGzip = "gzip"
	CodecZstd = "zstd"
	CodecLZ4  = "lz4"
)

// ErrUnknownCodec is returned for a codec name not listed above
var ErrUnknownCodec = errors.New("unknown compression codec")

// Compressor applies a fixed codec to item payloads
type Compressor struct {
	codec string

	zenc *zstd.Encoder

	outBytes  *monitor.Counter
	fallbacks *monitor.Counter
}

// New creates a Compressor. Unknown codecs are rejected at pipeline start.
func New(codec string, reg *monitor.Registry) (*Compressor, error) {
	c := &Compressor{codec: codec}

	switch codec {
	case CodecNone, CodecGzip, CodecLZ4:
	case CodecZstd:
		enc, err := zstd.NewWriter(nil)
		if err != nil {
			return nil, err
		}
		c.zenc = enc
	default:
		return nil, ErrUnknownCodec
	}

	rec := reg.NewRecord(map[string]string{
		monitor.LabelKeyComponent: "compressor",
	})
	c.outBytes = rec.Counter(monitor.MetricOutSizeBytes)
	c.fallbacks = rec.Counter(monitor.MetricCompressFallbackTotal)

	return c, nil
}

// Codec returns the configured codec name
func (c *Compressor) Codec() string { return c.codec }

// Apply compresses the item payload in place and tags the item with the
// codec actually applied. On failure the payload stays uncompressed and the
// fallback counter goes up.
func (c *Compressor) Apply(item *types.Item) {
	if c.codec == CodecNone {
		item.Compression = CodecNone
		c.outBytes.Add(len(item.Payload))
		return
	}

	compressed, err := c.compress(item.Payload)
	if err != nil {
		c.fallbacks.Inc()
		item.Compression = CodecNone
		c.outBytes.Add(len(item.Payload))
		return
	}

	item.Payload = compressed
	item.Compression = c.codec
	c.outBytes.Add(len(compressed))
}

func (c *Compressor) compress(payload []byte) ([]byte, error) {
	switch c.codec {
	case CodecGzip:
		var buf bytes.Buffer
		w := gzip.NewWriter(&buf)
		if _, err := w.Write(payload); err != nil {
			return nil, err
		}
		if err := w.Close(); err != nil {
			return nil, err
		}
		return buf.Bytes(), nil

	case CodecZstd:
		return c.zenc.EncodeAll(payload, nil), nil

	case CodecLZ4:
		var buf bytes.Buffer
		w := lz4.NewWriter(&buf)
		if _, err := w.Write(payload); err != nil {
			return nil, err
		}
		if err := w.Close(); err != nil {
			return nil, err
		}
		return buf.Bytes(), nil
	}
	return nil, ErrUnknownCodec
}

// Decompress is the destination-side inverse of Apply
func Decompress(codec string, payload []byte) ([]byte, error) {
	switch codec {
	case CodecNone:
		return payload, nil

	case CodecGzip:
		r, err := gzip.NewReader(bytes.NewReader(payload))
		if err != nil {
			return nil, err
		}
		defer r.Close()
		return io.ReadAll(r)

	case CodecZstd:
		dec, err := zstd.NewReader(bytes.NewReader(payload))
		if err != nil {
			return nil, err
		}
		defer dec.Close()
		return io.ReadAll(dec.IOReadCloser())

	case CodecLZ4:
		return io.ReadAll(lz4.NewReader(bytes.NewReader(payload)))
	}
	return nil, ErrUnknownCodec
}
