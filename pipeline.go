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

// Package rbflusher is the output data path of a telemetry collection agent:
// it takes parsed event groups from the input/processing stages and delivers
// them to remote destinations under throughput, ordering and resource
// constraints. Producers submit fire-and-forget; everything that happens
// later surfaces through metrics, never as a synchronous failure.
package rbflusher

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/redBorder/rbflusher/components/batcher"
	"github.com/redBorder/rbflusher/components/compressor"
	"github.com/redBorder/rbflusher/components/limiter"
	"github.com/redBorder/rbflusher/components/queue"
	"github.com/redBorder/rbflusher/components/router"
	"github.com/redBorder/rbflusher/components/runner"
	"github.com/redBorder/rbflusher/components/serializer"
	"github.com/redBorder/rbflusher/monitor"
	"github.com/redBorder/rbflusher/types"
)

// Version is the current tag
var Version = "0.2.1"

// Pipeline wires the flusher stages together: process queue, batcher,
// router, serializer, compressor, sender queue and the flusher runner.
// Data flows strictly downstream; backpressure flows upstream through the
// sender queue's ValidToPush signal.
type Pipeline struct {
	// ID labels the instance on every metric record
	ID string

	conf     Config
	clk      clock.Clock
	logger   *logrus.Entry
	registry *monitor.Registry

	processQ   *queue.Queue
	senderQ    *queue.Queue
	batcher    *batcher.Batcher
	router     *router.Router
	serializer *serializer.Serializer
	compressor *compressor.Compressor
	limits     *limiter.Limiter
	runner     *runner.Runner

	closed    int32
	stopMover chan struct{}
	wake      chan struct{}
	moverDone sync.WaitGroup

	inGroups     *monitor.Counter
	inEvents     *monitor.Counter
	lateDiscards *monitor.Counter
}

// New creates a pipeline delivering to the given destination. The
// configuration snapshot is validated here; a malformed config never reaches
// a running pipeline.
func New(conf Config, dest types.Destination) (*Pipeline, error) {
	return newPipeline(conf, dest, clock.New())
}

// newPipeline lets tests inject a mock clock
func newPipeline(conf Config, dest types.Destination, clk clock.Clock) (*Pipeline, error) {
	if err := conf.Validate(); err != nil {
		return nil, err
	}
	conf = conf.withDefaults()

	registry := monitor.NewRegistry()
	id := uuid.New().String()

	p := &Pipeline{
		ID:        id,
		conf:      conf,
		clk:       clk,
		logger:    NewLogger("pipeline"),
		registry:  registry,
		stopMover: make(chan struct{}),
		wake:      make(chan struct{}, 1),
	}

	rec := registry.NewRecord(map[string]string{
		monitor.LabelKeyComponent:  "pipeline",
		monitor.LabelKeyPluginID:   id,
		monitor.LabelKeyPipelineID: id,
	})
	p.inGroups = rec.Counter(monitor.MetricInEventGroupsTotal)
	p.inEvents = rec.Counter(monitor.MetricInEventsTotal)
	p.lateDiscards = rec.Counter(monitor.MetricDiscardedEventsTotal)

	p.processQ = queue.New(queue.Config{
		Type:          "process",
		Capacity:      conf.ProcessQueueCapacity,
		ExtraCapacity: conf.ProcessQueueExtraCapacity,
	}, registry)

	p.senderQ = queue.New(queue.Config{
		Type:          "sender",
		Capacity:      conf.SenderQueueCapacity,
		ExtraCapacity: conf.SenderQueueExtraCapacity,
	}, registry)

	var err error
	p.serializer, err = serializer.New(conf.Encoding, registry)
	if err != nil {
		return nil, err
	}
	p.compressor, err = compressor.New(conf.Compression, registry)
	if err != nil {
		return nil, err
	}

	p.router = router.New(registry, NewLogger("router"))
	p.limits = limiter.New(conf.RateLimits, clk, registry)

	p.batcher = batcher.New(batcher.Config{
		MaxBatchBytes:       conf.MaxBatchBytes,
		MaxBatchEvents:      conf.MaxBatchEvents,
		TimeoutMillis:       conf.BatchTimeoutMillis,
		SweepIntervalMillis: conf.SweepIntervalMillis,
	}, clk, p.senderQ.ValidToPush, p.dispatch, registry)

	p.runner = runner.New(runner.Config{
		Concurrency:         conf.SinkConcurrency,
		MaxRetries:          conf.MaxRetries,
		BackoffMillis:       conf.BackoffMillis,
		MaxBackoffMillis:    conf.MaxBackoffMillis,
		RegistrationRetries: conf.RegistrationRetries,
	}, clk, p.senderQ, p.limits, dest, registry, NewLogger("runner"))

	p.router.SetFallback(&router.Target{Queue: p.senderQ, Destination: dest})

	p.logger.WithFields(logrus.Fields{
		"id":               id,
		"encoding":         conf.Encoding,
		"compression":      conf.Compression,
		"sink_concurrency": conf.SinkConcurrency,
		"max_batch_bytes":  conf.MaxBatchBytes,
	}).Debug("Initialized flusher pipeline")

	return p, nil
}

// Start launches the batch age sweep, the rate limiter refill, the mover and
// the send workers
func (p *Pipeline) Start() {
	p.batcher.Run()
	p.limits.Run()
	p.runner.Run()

	p.moverDone.Add(1)
	go p.mover()
}

// Submit hands an event group to the pipeline. Fire and forget: the return
// only says whether the group entered the process queue; later failures are
// observable through metrics, never through the producer. Submit never
// blocks beyond the push itself.
func (p *Pipeline) Submit(key types.QueueKey, g *types.EventGroup) bool {
	if atomic.LoadInt32(&p.closed) == 1 {
		p.lateDiscards.Add(g.EventCount())
		return false
	}

	ok := p.processQ.Push(key, g)
	if ok {
		p.inGroups.Inc()
		p.inEvents.Add(g.EventCount())
		select {
		case p.wake <- struct{}{}:
		default:
		}
	}
	return ok
}

// mover pulls groups from the process queue into the batcher, but only for
// keys whose sender queue is below its high-water mark. A congested key
// accumulates in the process queue instead of force-draining downstream.
func (p *Pipeline) mover() {
	defer p.moverDone.Done()

	for {
		select {
		case <-p.stopMover:
			return
		default:
		}

		if !p.moveOnce() {
			select {
			case <-p.stopMover:
				return
			case <-p.wake:
			case <-p.clk.After(10 * time.Millisecond):
			}
		}
	}
}

func (p *Pipeline) moveOnce() bool {
	moved := false
	for _, key := range p.processQ.Keys() {
		if !p.senderQ.ValidToPush(key) {
			continue
		}
		if el, ok := p.processQ.Pop(key); ok {
			p.batcher.Add(key, el.(*types.EventGroup))
			moved = true
		}
	}
	return moved
}

// dispatch receives a closed batch from the batcher and pushes its item into
// the target sender queue. Runs under the batcher's per-key lock so per-key
// item order matches batch close order.
func (p *Pipeline) dispatch(b *types.Batch) {
	target, ok := p.router.Route(b)
	if !ok {
		return
	}

	item, err := p.serializer.Serialize(b)
	if err != nil {
		// Non-retryable: a malformed encoding cannot succeed later.
		// The serializer already counted the failed events.
		p.logger.WithField("key", b.Key.String()).Warnf("Serialization failed: %v", err)
		return
	}

	p.compressor.Apply(item)
	target.Queue.Push(b.Key, item)
	p.runner.Wake()
}

// ResetRegistration re-arms a destination marked failed, e.g. after
// credentials were rotated outside the pipeline
func (p *Pipeline) ResetRegistration() {
	p.runner.ResetRegistration()
}

// ExportMetricRecords returns one flat label/value map per component
// instance, suitable for scraping by an external collector
func (p *Pipeline) ExportMetricRecords() []map[string]string {
	return p.registry.ExportMetricRecords()
}

// Close shuts the pipeline down in order: stop accepting submissions, close
// in-flight batches into the sender queues, give the runner a bounded grace
// period to drain, then discard and count whatever remains. Close never
// deadlocks, even against an unreachable destination.
func (p *Pipeline) Close() {
	atomic.StoreInt32(&p.closed, 1)

	close(p.stopMover)
	p.moverDone.Wait()

	// Drain what already reached the process queue into batches
	for p.moveOnceUnguarded() {
	}

	p.batcher.Close()
	p.batcher.FlushAll()

	p.runner.Close(time.Duration(p.conf.ShutdownGraceMillis) * time.Millisecond)
	p.limits.Close()

	if groups, events := p.processQ.DiscardAll(); groups > 0 {
		p.logger.Warnf("Discarded %d groups (%d events) left in process queue", groups, events)
	}

	p.logger.WithField("id", p.ID).Debug("Pipeline closed")
}

// moveOnceUnguarded drains the process queue into the batcher ignoring the
// backpressure gate: at shutdown the sender queue bound itself keeps the
// discard accounted.
func (p *Pipeline) moveOnceUnguarded() bool {
	moved := false
	for _, key := range p.processQ.Keys() {
		if el, ok := p.processQ.Pop(key); ok {
			p.batcher.Add(key, el.(*types.EventGroup))
			moved = true
		}
	}
	return moved
}
