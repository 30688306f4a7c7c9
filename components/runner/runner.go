// Package runner implements the flusher worker pool: a bounded set of send
// workers that dequeue ready items, pass the rate limiters, deliver to the
// destination and classify the outcome into retry, backoff or counted
// discard. Backoff is a delayed re-enqueue through a timer, never a sleeping
// worker, so the pool is not starved by waits.
package runner

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/sirupsen/logrus"

	"github.com/redBorder/rbflusher/components/limiter"
	"github.com/redBorder/rbflusher/components/queue"
	"github.com/redBorder/rbflusher/monitor"
	"github.com/redBorder/rbflusher/types"
)

// Runner drains a sender queue into a destination
type Runner struct {
	conf   Config
	clk    clock.Clock
	queue  *queue.Queue
	limits *limiter.Limiter
	dest   types.Destination
	reg    *registrar
	logger *logrus.Entry

	stop     chan struct{}
	stopOnce sync.Once
	wake     chan struct{}
	workers  sync.WaitGroup
	pending  int64 // retries waiting on a backoff timer

	sendDone    *monitor.Counter
	success     *monitor.Counter
	networkErr  *monitor.Counter
	serverErr   *monitor.Counter
	unauthErr   *monitor.Counter
	paramsErr   *monitor.Counter
	otherErr    *monitor.Counter
	retries     *monitor.Counter
	failed      *monitor.Counter
	outEvents   *monitor.Counter
	outBytes    *monitor.Counter
	concurrency *monitor.Gauge
}

// New creates a Runner draining the given sender queue
func New(conf Config, clk clock.Clock, q *queue.Queue, limits *limiter.Limiter,
	dest types.Destination, reg *monitor.Registry, logger *logrus.Entry) *Runner {

	if clk == nil {
		clk = clock.New()
	}
	if conf.Concurrency <= 0 {
		conf.Concurrency = 1
	}
	if conf.PollIntervalMillis == 0 {
		conf.PollIntervalMillis = 10
	}

	rec := reg.NewRecord(map[string]string{
		monitor.LabelKeyComponent: "flusher_runner",
	})

	r := &Runner{
		conf:   conf,
		clk:    clk,
		queue:  q,
		limits: limits,
		dest:   dest,
		logger: logger,
		stop:   make(chan struct{}),
		wake:   make(chan struct{}, 1),

		sendDone:    rec.Counter(monitor.MetricFlusherSendDoneTotal),
		success:     rec.Counter(monitor.MetricFlusherSuccessTotal),
		networkErr:  rec.Counter(monitor.MetricFlusherNetworkErrorTotal),
		serverErr:   rec.Counter(monitor.MetricFlusherServerErrorTotal),
		unauthErr:   rec.Counter(monitor.MetricFlusherUnauthErrorTotal),
		paramsErr:   rec.Counter(monitor.MetricFlusherParamsErrorTotal),
		otherErr:    rec.Counter(monitor.MetricFlusherOtherErrorTotal),
		retries:     rec.Counter(monitor.MetricFlusherRetryTotal),
		failed:      rec.Counter(monitor.MetricOutFailedEventsTotal),
		outEvents:   rec.Counter(monitor.MetricOutEventsTotal),
		outBytes:    rec.Counter(monitor.MetricOutSizeBytes),
		concurrency: rec.Gauge(monitor.MetricFlusherSinkConcurrency),
	}
	r.reg = newRegistrar(dest, conf.RegistrationRetries, rec, logger)

	return r
}

// Run starts the worker pool
func (r *Runner) Run() {
	r.concurrency.Set(int64(r.conf.Concurrency))

	for i := 0; i < r.conf.Concurrency; i++ {
		r.workers.Add(1)
		go r.worker()
	}
}

// Wake nudges idle workers after new items were pushed
func (r *Runner) Wake() {
	select {
	case r.wake <- struct{}{}:
	default:
	}
}

// ResetRegistration is the external trigger taking a failed destination back
// into the registration loop
func (r *Runner) ResetRegistration() {
	r.reg.Reset()
}

// RegistrationState exposes the current registration state
func (r *Runner) RegistrationState() RegState {
	return r.reg.State()
}

func (r *Runner) worker() {
	defer r.workers.Done()

	poll := time.Duration(r.conf.PollIntervalMillis) * time.Millisecond
	for {
		select {
		case <-r.stop:
			return
		default:
		}

		if !r.scanOnce() {
			select {
			case <-r.stop:
				return
			case <-r.wake:
			case <-r.clk.After(poll):
			}
		}
	}
}

// scanOnce walks the ready keys and delivers at most one item. Returns
// whether any work was done.
func (r *Runner) scanOnce() bool {
	for _, key := range r.queue.Keys() {
		if r.reg.GaveUp() {
			// Short-circuit: every send for a failed destination
			// is a counted discard until an external reset
			if item, ok := r.queue.Pop(key); ok {
				r.discard(item.(*types.Item))
				return true
			}
			continue
		}

		if !r.reg.EnsureRegistered() {
			continue
		}

		if !r.limits.Allow(key) {
			continue
		}

		el, ok := r.queue.Pop(key)
		if !ok {
			r.limits.Release(key)
			continue
		}

		r.deliver(el.(*types.Item))
		return true
	}
	return false
}

func (r *Runner) deliver(item *types.Item) {
	outcome := r.dest.Send(item)
	r.sendDone.Inc()

	switch outcome {
	case types.Success:
		r.success.Inc()
		r.outEvents.Add(item.Events)
		r.outBytes.Add(item.PayloadSize())

	case types.NetworkError:
		r.networkErr.Inc()
		r.retryOrDiscard(item)

	case types.ServerError:
		r.serverErr.Inc()
		r.retryOrDiscard(item)

	case types.UnauthorizedError:
		r.unauthErr.Inc()
		r.reg.Demote()
		// Re-registration happens before the next attempt; the item
		// goes back in place without consuming its retry budget
		if !r.queue.Requeue(item.Key, item) {
			r.failed.Add(item.Events)
		}

	case types.ParamsError:
		r.paramsErr.Inc()
		r.discard(item)

	default:
		r.otherErr.Inc()
		if item.Attempts >= 1 {
			r.discard(item)
		} else {
			r.scheduleRetry(item)
		}
	}
}

func (r *Runner) retryOrDiscard(item *types.Item) {
	if item.Attempts >= r.conf.MaxRetries {
		r.discard(item)
		return
	}
	r.scheduleRetry(item)
}

// scheduleRetry re-enqueues the item at the front of its lane after an
// exponential backoff, via a timer goroutine so no worker blocks
func (r *Runner) scheduleRetry(item *types.Item) {
	item.Attempts++
	r.retries.Inc()

	delay := r.conf.backoff(item.Attempts)
	atomic.AddInt64(&r.pending, 1)

	go func() {
		defer atomic.AddInt64(&r.pending, -1)

		timer := r.clk.Timer(delay)
		defer timer.Stop()

		select {
		case <-timer.C:
			if !r.queue.Requeue(item.Key, item) {
				r.failed.Add(item.Events)
			}
			r.Wake()
		case <-r.stop:
			// Shutdown won the race: account for the item instead
			// of re-enqueueing into a draining queue
			r.discard(item)
		}
	}()
}

func (r *Runner) discard(item *types.Item) {
	r.failed.Add(item.Events)
	r.logger.WithFields(logrus.Fields{
		"key":      item.Key.String(),
		"events":   item.Events,
		"attempts": item.Attempts,
	}).Debug("Dropping item")
}

// Close drains the sender queue for at most the grace period, then stops the
// workers and discards whatever is left, counted. Never deadlocks: the grace
// deadline bounds the drain even against an unreachable destination.
func (r *Runner) Close(grace time.Duration) {
	deadline := r.clk.Now().Add(grace)

	for r.clk.Now().Before(deadline) {
		if r.queue.Size() == 0 && atomic.LoadInt64(&r.pending) == 0 {
			break
		}
		r.clk.Sleep(time.Duration(r.conf.PollIntervalMillis) * time.Millisecond)
	}

	r.stopOnce.Do(func() { close(r.stop) })
	r.workers.Wait()
	r.concurrency.Set(0)

	// A retry timer that fired before stop may still requeue; wait the
	// stragglers out so the final discard sees every item
	for atomic.LoadInt64(&r.pending) > 0 {
		time.Sleep(time.Millisecond)
	}

	if items, events := r.queue.DiscardAll(); items > 0 {
		r.failed.Add(events)
		r.logger.Warnf("Discarded %d items (%d events) at shutdown", items, events)
	}
}
