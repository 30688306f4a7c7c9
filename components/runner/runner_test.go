package runner

import (
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	. "github.com/smartystreets/goconvey/convey"
	"github.com/stretchr/testify/mock"

	"github.com/sirupsen/logrus"

	"github.com/redBorder/rbflusher/components/limiter"
	"github.com/redBorder/rbflusher/components/queue"
	"github.com/redBorder/rbflusher/monitor"
	"github.com/redBorder/rbflusher/types"
)

type MockDestination struct {
	mock.Mock
	sent chan *types.Item
}

func (d *MockDestination) Send(item *types.Item) types.DeliveryOutcome {
	args := d.Called(item)
	if d.sent != nil {
		d.sent <- item
	}
	return args.Get(0).(types.DeliveryOutcome)
}

type MockSessionDestination struct {
	MockDestination
}

func (d *MockSessionDestination) Register() types.RegistrationResult {
	args := d.Called()
	return args.Get(0).(types.RegistrationResult)
}

func makeItem(key types.QueueKey, events int) *types.Item {
	return &types.Item{
		Key:     key,
		Payload: []byte(`{"n":1}`),
		Events:  events,
		Bytes:   events * 100,
	}
}

func runnerMetrics(reg *monitor.Registry) map[string]string {
	for _, record := range reg.ExportMetricRecords() {
		if record["label."+monitor.LabelKeyComponent] == "flusher_runner" {
			return record
		}
	}
	return nil
}

func TestRunner(t *testing.T) {
	key := types.QueueKey{Region: "eu", Project: "p1", Logstore: "store", Shard: 0}

	conf := Config{
		Concurrency:         1,
		MaxRetries:          5,
		BackoffMillis:       1,
		MaxBackoffMillis:    4,
		RegistrationRetries: 1,
		PollIntervalMillis:  1,
	}

	Convey("Given a runner draining a sender queue", t, func() {
		reg := monitor.NewRegistry()
		q := queue.New(queue.Config{Type: "sender", Capacity: 10, ExtraCapacity: 5}, reg)
		limits := limiter.New(limiter.Config{}, clock.NewMock(), reg)

		Convey("When delivery succeeds", func() {
			dest := &MockDestination{sent: make(chan *types.Item, 16)}
			dest.On("Send", mock.Anything).Return(types.Success)

			r := New(conf, nil, q, limits, dest, reg, testLogger())
			q.Push(key, makeItem(key, 3))
			r.Run()
			defer r.Close(time.Second)

			<-dest.sent

			Convey("The item is dropped and the success counter moves", func() {
				So(eventually(func() bool { return q.Size() == 0 }), ShouldBeTrue)
				So(eventually(func() bool {
					return runnerMetrics(reg)["value."+monitor.MetricFlusherSuccessTotal] == "1"
				}), ShouldBeTrue)
				So(runnerMetrics(reg)["value."+monitor.MetricOutEventsTotal], ShouldEqual, "3")
			})
		})

		Convey("When delivery fails with NetworkError three times then succeeds", func() {
			dest := &MockDestination{sent: make(chan *types.Item, 16)}
			dest.On("Send", mock.Anything).Return(types.NetworkError).Times(3)
			dest.On("Send", mock.Anything).Return(types.Success).Once()

			r := New(conf, nil, q, limits, dest, reg, testLogger())
			q.Push(key, makeItem(key, 2))
			r.Run()
			defer r.Close(time.Second)

			for i := 0; i < 4; i++ {
				<-dest.sent
			}

			Convey("The item is retried exactly three times with backoff", func() {
				dest.AssertExpectations(t)

				So(eventually(func() bool {
					m := runnerMetrics(reg)
					return m["value."+monitor.MetricFlusherSuccessTotal] == "1" &&
						m["value."+monitor.MetricFlusherRetryTotal] == "3"
				}), ShouldBeTrue)

				m := runnerMetrics(reg)
				So(m["value."+monitor.MetricFlusherNetworkErrorTotal], ShouldEqual, "3")
				So(m["value."+monitor.MetricFlusherSendDoneTotal], ShouldEqual, "4")
				So(m["value."+monitor.MetricOutFailedEventsTotal], ShouldEqual, "0")
			})
		})

		Convey("When retries exhaust against a dead destination", func() {
			dest := &MockDestination{sent: make(chan *types.Item, 16)}
			dest.On("Send", mock.Anything).Return(types.NetworkError)

			r := New(conf, nil, q, limits, dest, reg, testLogger())
			q.Push(key, makeItem(key, 2))
			r.Run()
			defer r.Close(time.Second)

			Convey("The item is discarded and counted as failed", func() {
				So(eventually(func() bool {
					return runnerMetrics(reg)["value."+monitor.MetricOutFailedEventsTotal] == "2"
				}), ShouldBeTrue)
				So(runnerMetrics(reg)["value."+monitor.MetricFlusherRetryTotal], ShouldEqual, "5")
				So(q.Size(), ShouldEqual, 0)
			})
		})

		Convey("When delivery fails with ParamsError", func() {
			dest := &MockDestination{sent: make(chan *types.Item, 16)}
			dest.On("Send", mock.Anything).Return(types.ParamsError).Once()

			r := New(conf, nil, q, limits, dest, reg, testLogger())
			q.Push(key, makeItem(key, 4))
			r.Run()
			defer r.Close(time.Second)

			<-dest.sent

			Convey("The item is discarded immediately, never retried", func() {
				So(eventually(func() bool {
					return runnerMetrics(reg)["value."+monitor.MetricOutFailedEventsTotal] == "4"
				}), ShouldBeTrue)

				m := runnerMetrics(reg)
				So(m["value."+monitor.MetricFlusherSendDoneTotal], ShouldEqual, "1")
				So(m["value."+monitor.MetricFlusherRetryTotal], ShouldEqual, "0")
			})
		})

		Convey("When delivery fails with OtherError", func() {
			dest := &MockDestination{sent: make(chan *types.Item, 16)}
			dest.On("Send", mock.Anything).Return(types.OtherError).Times(2)

			r := New(conf, nil, q, limits, dest, reg, testLogger())
			q.Push(key, makeItem(key, 1))
			r.Run()
			defer r.Close(time.Second)

			<-dest.sent
			<-dest.sent

			Convey("The item gets a single retry then is discarded", func() {
				dest.AssertExpectations(t)
				So(eventually(func() bool {
					return runnerMetrics(reg)["value."+monitor.MetricOutFailedEventsTotal] == "1"
				}), ShouldBeTrue)
				So(runnerMetrics(reg)["value."+monitor.MetricFlusherOtherErrorTotal], ShouldEqual, "2")
			})
		})

		Convey("When a scope rate limit rejects", func() {
			dest := &MockDestination{sent: make(chan *types.Item, 16)}
			dest.On("Send", mock.Anything).Return(types.Success)

			tight := limiter.New(limiter.Config{Logstore: 1, RefillIntervalMillis: 1000}, clock.NewMock(), reg)
			r := New(conf, nil, q, tight, dest, reg, testLogger())

			q.Push(key, makeItem(key, 1))
			q.Push(key, makeItem(key, 1))
			r.Run()
			defer r.Close(10 * time.Millisecond)

			<-dest.sent

			Convey("The second item stays queued, not discarded", func() {
				time.Sleep(20 * time.Millisecond)
				So(q.Size(), ShouldEqual, 1)
				So(runnerMetrics(reg)["value."+monitor.MetricFlusherSuccessTotal], ShouldEqual, "1")
			})
		})
	})

	Convey("Given a runner with a session destination", t, func() {
		reg := monitor.NewRegistry()
		q := queue.New(queue.Config{Type: "sender", Capacity: 10, ExtraCapacity: 5}, reg)
		limits := limiter.New(limiter.Config{}, clock.NewMock(), reg)

		Convey("When the first send is unauthorized and re-registration keeps failing", func() {
			dest := &MockSessionDestination{}
			dest.sent = make(chan *types.Item, 16)
			dest.On("Register").Return(types.RegistrationSuccess).Once()
			dest.On("Send", mock.Anything).Return(types.UnauthorizedError).Once()
			dest.On("Register").Return(types.RegistrationError).Times(2)

			r := New(conf, nil, q, limits, dest, reg, testLogger())
			q.Push(key, makeItem(key, 5))
			r.Run()
			defer r.Close(time.Second)

			<-dest.sent

			Convey("The destination goes failed and the item is a counted discard", func() {
				So(eventually(func() bool { return r.RegistrationState() == Failed }), ShouldBeTrue)
				So(eventually(func() bool {
					return runnerMetrics(reg)["value."+monitor.MetricOutFailedEventsTotal] == "5"
				}), ShouldBeTrue)
				dest.AssertExpectations(t)

				m := runnerMetrics(reg)
				So(m["value."+monitor.MetricFlusherUnauthErrorTotal], ShouldEqual, "1")
				So(m["value."+monitor.MetricFlusherRegisterRetryTotal], ShouldEqual, "2")

				Convey("An external reset re-arms registration", func() {
					dest.On("Register").Return(types.RegistrationSuccess).Once()
					dest.On("Send", mock.Anything).Return(types.Success).Once()

					r.ResetRegistration()
					q.Push(key, makeItem(key, 1))

					So(eventually(func() bool {
						return runnerMetrics(reg)["value."+monitor.MetricFlusherSuccessTotal] == "1"
					}), ShouldBeTrue)
					So(r.RegistrationState(), ShouldEqual, Registered)
				})
			})
		})
	})

	Convey("Given a runner shutting down", t, func() {
		reg := monitor.NewRegistry()
		q := queue.New(queue.Config{Type: "sender", Capacity: 10, ExtraCapacity: 5}, reg)
		limits := limiter.New(limiter.Config{}, clock.NewMock(), reg)

		Convey("When the destination is reachable", func() {
			dest := &MockDestination{}
			dest.On("Send", mock.Anything).Return(types.Success)

			r := New(conf, nil, q, limits, dest, reg, testLogger())
			for i := 0; i < 5; i++ {
				q.Push(key, makeItem(key, 1))
			}
			r.Run()
			r.Close(time.Second)

			Convey("Everything drains within the grace period with no loss", func() {
				m := runnerMetrics(reg)
				So(m["value."+monitor.MetricFlusherSuccessTotal], ShouldEqual, "5")
				So(m["value."+monitor.MetricOutFailedEventsTotal], ShouldEqual, "0")
				So(q.Size(), ShouldEqual, 0)
			})
		})

		Convey("When the destination is unreachable", func() {
			dest := &MockDestination{}
			dest.On("Send", mock.Anything).Return(types.NetworkError)

			r := New(conf, nil, q, limits, dest, reg, testLogger())
			for i := 0; i < 5; i++ {
				q.Push(key, makeItem(key, 2))
			}
			r.Run()
			r.Close(50 * time.Millisecond)

			Convey("The grace period expires and every event is counted", func() {
				So(q.Size(), ShouldEqual, 0)
				So(runnerMetrics(reg)["value."+monitor.MetricOutFailedEventsTotal], ShouldEqual, "10")
			})
		})
	})
}

func testLogger() *logrus.Entry {
	l := logrus.New()
	l.Level = logrus.ErrorLevel
	return logrus.NewEntry(l)
}

func eventually(cond func() bool) bool {
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return true
		}
		time.Sleep(2 * time.Millisecond)
	}
	return false
}
