package compressor

import (
	"bytes"
	"testing"

	. "github.com/smartystreets/goconvey/convey"

	"github.com/redBorder/rbflusher/monitor"
	"github.com/redBorder/rbflusher/types"
)

func TestCompressor(t *testing.T) {
	payload := bytes.Repeat([]byte(`{"msg":"hello world"}`), 200)

	Convey("Given each supported codec", t, func() {
		for _, codec := range []string{CodecNone, CodecGzip, CodecZstd, CodecLZ4} {
			codec := codec

			Convey("The "+codec+" round trip reproduces the payload", func() {
				c, err := New(codec, monitor.NewRegistry())
				So(err, ShouldBeNil)

				item := &types.Item{Payload: append([]byte(nil), payload...)}
				c.Apply(item)
				So(item.Compression, ShouldEqual, codec)
				if codec != CodecNone {
					So(len(item.Payload), ShouldBeLessThan, len(payload))
				}

				restored, err := Decompress(item.Compression, item.Payload)
				So(err, ShouldBeNil)
				So(restored, ShouldResemble, payload)
			})
		}

		Convey("An unknown codec is rejected at construction", func() {
			_, err := New("snappy", monitor.NewRegistry())
			So(err, ShouldEqual, ErrUnknownCodec)
		})
	})
}
