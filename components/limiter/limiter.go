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

// Package limiter implements the four-scope send rate limiting consulted by
// the flusher runner before dequeuing an item: global, per region, per
// project and per logstore. Tokens refill on a fixed schedule; a rejection
// leaves the item in its queue and is flow control, not an error.
package limiter

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/benbjohnson/clock"
	cmap "github.com/streamrail/concurrent-map"

	"github.com/redBorder/rbflusher/monitor"
	"github.com/redBorder/rbflusher/types"
)

// Scope names, used as the metric scope label
const (
	ScopeGlobal   = "global"
	ScopeRegion   = "region"
	ScopeProject  = "project"
	ScopeLogstore = "logstore"
)

// Limiter holds one token tracker per scope
type Limiter struct {
	clk    clock.Clock
	refill time.Duration
	scopes []*scopeLimiter

	stop     chan struct{}
	stopOnce sync.Once
	done     sync.WaitGroup
}

type scopeLimiter struct {
	scope    string
	quota    uint64
	buckets  cmap.ConcurrentMap
	keyOf    func(types.QueueKey) string
	rejected *monitor.Counter
}

type bucket struct {
	tokens int64
}

// New creates a Limiter. Scopes with a zero quota always admit.
func New(conf Config, clk clock.Clock, reg *monitor.Registry) *Limiter {
	if clk == nil {
		clk = clock.New()
	}
	if conf.RefillIntervalMillis == 0 {
		conf.RefillIntervalMillis = 1000
	}

	l := &Limiter{
		clk:    clk,
		refill: time.Duration(conf.RefillIntervalMillis) * time.Millisecond,
		stop:   make(chan struct{}),
	}

	add := func(scope string, quota uint64, keyOf func(types.QueueKey) string) {
		rec := reg.NewRecord(map[string]string{
			monitor.LabelKeyComponent: "rate_limiter",
			monitor.LabelKeyScope:     scope,
		})
		l.scopes = append(l.scopes, &scopeLimiter{
			scope:    scope,
			quota:    quota,
			buckets:  cmap.New(),
			keyOf:    keyOf,
			rejected: rec.Counter(monitor.MetricLimiterRejectedTotal),
		})
	}

	add(ScopeGlobal, conf.Global, func(types.QueueKey) string { return "" })
	add(ScopeRegion, conf.Region, func(k types.QueueKey) string { return k.Region })
	add(ScopeProject, conf.Project, func(k types.QueueKey) string { return k.Project })
	add(ScopeLogstore, conf.Logstore, func(k types.QueueKey) string { return k.RouteKey() })

	return l
}

// Run starts the refill schedule
func (l *Limiter) Run() {
	l.done.Add(1)
	go func() {
		defer l.done.Done()

		ticker := l.clk.Ticker(l.refill)
		defer ticker.Stop()

		for {
			select {
			case <-l.stop:
				return
			case <-ticker.C:
				for _, s := range l.scopes {
					s.refillAll()
				}
			}
		}
	}()
}

// Close stops the refill schedule
func (l *Limiter) Close() {
	l.stopOnce.Do(func() { close(l.stop) })
	l.done.Wait()
}

// Allow acquires one permit at every applicable scope. If any scope rejects,
// permits already taken are returned, the rejecting scope's counter goes up
// and the caller must leave the element in its queue.
func (l *Limiter) Allow(key types.QueueKey) bool {
	for i, s := range l.scopes {
		if s.tryAcquire(key) {
			continue
		}
		for _, taken := range l.scopes[:i] {
			taken.release(key)
		}
		s.rejected.Inc()
		return false
	}
	return true
}

// Release returns one permit to every scope, for callers that acquired but
// found no element to dequeue
func (l *Limiter) Release(key types.QueueKey) {
	for _, s := range l.scopes {
		s.release(key)
	}
}

func (s *scopeLimiter) tryAcquire(key types.QueueKey) bool {
	if s.quota == 0 {
		return true
	}

	b := s.bucket(s.keyOf(key))
	if atomic.AddInt64(&b.tokens, -1) >= 0 {
		return true
	}
	atomic.AddInt64(&b.tokens, 1)
	return false
}

func (s *scopeLimiter) release(key types.QueueKey) {
	if s.quota == 0 {
		return
	}
	b := s.bucket(s.keyOf(key))
	atomic.AddInt64(&b.tokens, 1)
}

func (s *scopeLimiter) refillAll() {
	if s.quota == 0 {
		return
	}
	for kv := range s.buckets.IterBuffered() {
		atomic.StoreInt64(&kv.Val.(*bucket).tokens, int64(s.quota))
	}
}

func (s *scopeLimiter) bucket(key string) *bucket {
	if raw, ok := s.buckets.Get(key); ok {
		return raw.(*bucket)
	}

	b := &bucket{tokens: int64(s.quota)}
	if !s.buckets.SetIfAbsent(key, b) {
		existing, _ := s.buckets.Get(key)
		return existing.(*bucket)
	}
	return b
}
