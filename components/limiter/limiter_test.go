// Copyright (C) ENEO Tecnologia SL - 2024
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU Lesser General Public License for more details.
//
// You should have received a copy of the GNU General Public License
// along with this program.  If not, see <https://www.gnu.org/licenses/lgpl-3.0.txt>.

package limiter

import (
	"strconv"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	. "github.com/smartystreets/goconvey/convey"

	"github.com/redBorder/rbflusher/monitor"
	"github.com/redBorder/rbflusher/types"
)

func TestLimiter(t *testing.T) {
	key := types.QueueKey{Region: "eu", Project: "p1", Logstore: "store", Shard: 0}
	sibling := types.QueueKey{Region: "eu", Project: "p1", Logstore: "other", Shard: 0}

	Convey("Given a limiter with a per-logstore quota of 2", t, func() {
		clk := clock.NewMock()
		reg := monitor.NewRegistry()
		l := New(Config{Logstore: 2, RefillIntervalMillis: 1000}, clk, reg)

		Convey("When the quota is consumed", func() {
			So(l.Allow(key), ShouldBeTrue)
			So(l.Allow(key), ShouldBeTrue)

			Convey("Further acquisitions are rejected and counted", func() {
				So(l.Allow(key), ShouldBeFalse)
				So(l.Allow(key), ShouldBeFalse)

				var rejected string
				for _, record := range reg.ExportMetricRecords() {
					if record["label."+monitor.LabelKeyScope] == ScopeLogstore {
						rejected = record["value."+monitor.MetricLimiterRejectedTotal]
					}
				}
				So(rejected, ShouldEqual, "2")
			})

			Convey("Other logstores keep their own quota", func() {
				So(l.Allow(sibling), ShouldBeTrue)
			})

			Convey("The refill schedule restores the quota", func() {
				l.Run()
				defer l.Close()

				So(l.Allow(key), ShouldBeFalse)
				time.Sleep(10 * time.Millisecond)
				clk.Add(1100 * time.Millisecond)

				So(l.Allow(key), ShouldBeTrue)
			})

			Convey("Release returns the permits", func() {
				l.Release(key)
				So(l.Allow(key), ShouldBeTrue)
			})
		})
	})

	Convey("Given a limiter with quotas on two scopes", t, func() {
		clk := clock.NewMock()
		l := New(Config{Global: 100, Logstore: 1, RefillIntervalMillis: 1000}, clk, monitor.NewRegistry())

		Convey("When the narrow scope rejects", func() {
			So(l.Allow(key), ShouldBeTrue)
			for i := 0; i < 50; i++ {
				So(l.Allow(key), ShouldBeFalse)
			}

			Convey("Permits taken from wider scopes are rolled back", func() {
				// One global permit went to the first Allow; the 50
				// logstore rejections must not have drained the rest
				for i := 0; i < 99; i++ {
					k := types.QueueKey{Region: "eu", Project: "p1", Logstore: "s" + strconv.Itoa(i)}
					So(l.Allow(k), ShouldBeTrue)
				}

				last := types.QueueKey{Region: "eu", Project: "p1", Logstore: "s-final"}
				So(l.Allow(last), ShouldBeFalse)
			})
		})
	})

	Convey("Given a limiter with no quotas", t, func() {
		l := New(Config{}, clock.NewMock(), monitor.NewRegistry())

		Convey("Every acquisition is admitted", func() {
			for i := 0; i < 1000; i++ {
				So(l.Allow(key), ShouldBeTrue)
			}
		})
	})
}
