package batcher

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	. "github.com/smartystreets/goconvey/convey"

	"github.com/redBorder/rbflusher/monitor"
	"github.com/redBorder/rbflusher/types"
)

func makeGroup(events, bytesPerEvent int) *types.EventGroup {
	g := &types.EventGroup{Source: "test"}
	payload := make([]byte, bytesPerEvent)
	for i := range payload {
		payload[i] = 'x'
	}
	for i := 0; i < events; i++ {
		g.Events = append(g.Events, &types.Event{
			Contents: map[string]string{"p": string(payload)},
		})
	}
	return g
}

func TestBatcher(t *testing.T) {
	key := types.QueueKey{Region: "eu", Project: "p1", Logstore: "store", Shard: 0}

	Convey("Given a batcher with a 1KB / 1s threshold", t, func() {
		clk := clock.NewMock()
		flushed := make(chan *types.Batch, 16)
		var gateOpen int32 = 1

		b := New(Config{
			MaxBatchBytes:       1024,
			TimeoutMillis:       1000,
			SweepIntervalMillis: 100,
		}, clk,
			func(types.QueueKey) bool { return atomic.LoadInt32(&gateOpen) == 1 },
			func(batch *types.Batch) { flushed <- batch },
			monitor.NewRegistry())

		Convey("When groups below the size threshold are added", func() {
			b.Add(key, makeGroup(1, 100))
			b.Add(key, makeGroup(1, 100))

			Convey("No batch is closed", func() {
				So(len(flushed), ShouldEqual, 0)
				So(b.Pending(), ShouldEqual, 2)
			})
		})

		Convey("When the size threshold is crossed", func() {
			for i := 0; i < 6; i++ {
				b.Add(key, makeGroup(1, 200))
			}

			Convey("The batch closes exactly once, atomically", func() {
				batch := <-flushed
				So(batch.Key, ShouldResemble, key)
				So(batch.Bytes, ShouldBeGreaterThanOrEqualTo, 1024)
				So(len(flushed), ShouldEqual, 0)
				So(b.Pending(), ShouldEqual, 1)
			})
		})

		Convey("When the age threshold passes with no new arrivals", func() {
			b.Run()
			defer b.Close()

			b.Add(key, makeGroup(1, 100))
			time.Sleep(10 * time.Millisecond)
			clk.Add(1100 * time.Millisecond)

			Convey("The sweep closes the batch", func() {
				select {
				case batch := <-flushed:
					So(batch.Events, ShouldEqual, 1)
				case <-time.After(time.Second):
					t.Fatal("sweep did not close the batch")
				}
			})
		})

		Convey("When the downstream gate is shut", func() {
			atomic.StoreInt32(&gateOpen, 0)
			b.Run()
			defer b.Close()

			for i := 0; i < 6; i++ {
				b.Add(key, makeGroup(1, 200))
			}
			time.Sleep(10 * time.Millisecond)
			clk.Add(1100 * time.Millisecond)

			Convey("Neither size nor age closes the batch", func() {
				So(len(flushed), ShouldEqual, 0)
				So(b.Pending(), ShouldEqual, 6)
			})

			Convey("Reopening the gate lets the next sweep flush it", func() {
				atomic.StoreInt32(&gateOpen, 1)
				time.Sleep(10 * time.Millisecond)
				clk.Add(200 * time.Millisecond)

				select {
				case batch := <-flushed:
					So(batch.Events, ShouldEqual, 6)
				case <-time.After(time.Second):
					t.Fatal("reopened gate did not flush")
				}
			})
		})

		Convey("When the event count threshold is configured", func() {
			counted := New(Config{
				MaxBatchBytes:  1 << 20,
				MaxBatchEvents: 3,
				TimeoutMillis:  1000,
			}, clk,
				func(types.QueueKey) bool { return true },
				func(batch *types.Batch) { flushed <- batch },
				monitor.NewRegistry())

			for i := 0; i < 3; i++ {
				counted.Add(key, makeGroup(1, 10))
			}

			Convey("The batch closes on the third group", func() {
				batch := <-flushed
				So(len(batch.Groups), ShouldEqual, 3)
			})
		})

		Convey("When FlushAll is called with open batches", func() {
			b.Add(key, makeGroup(2, 50))
			b.Add(types.QueueKey{Region: "us", Project: "p2", Logstore: "s", Shard: 1}, makeGroup(1, 50))

			b.FlushAll()

			Convey("Every open batch is handed downstream", func() {
				So(len(flushed), ShouldEqual, 2)
				So(b.Pending(), ShouldEqual, 0)
			})
		})
	})
}
