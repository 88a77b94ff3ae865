/*
Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

// Package metrics holds the process's request counters, both the
// lightweight ad-hoc set exposed as JSON on /performance and the
// Prometheus registry exposed on /metrics.
package metrics

import (
	"sync/atomic"
	"time"
)

// Perf is the lock-free request counter set updated on every request. All
// fields are mutated via sync/atomic; there is never a mutex on this type.
type Perf struct {
	totalRequests   int64
	successRequests int64
	errorRequests   int64
	totalLatencyUS  int64
	minLatencyUS    int64
	maxLatencyUS    int64
	cacheHits       int64
	cacheUpdates    int64
	startInstant    time.Time
}

// NewPerf creates a Perf counter set, timestamped from now.
func NewPerf() *Perf {
	return &Perf{startInstant: time.Now()}
}

// RecordRequest records one completed request's latency and outcome.
func (p *Perf) RecordRequest(latencyUS int64, success bool, cacheHit bool) {
	atomic.AddInt64(&p.totalRequests, 1)
	if success {
		atomic.AddInt64(&p.successRequests, 1)
	} else {
		atomic.AddInt64(&p.errorRequests, 1)
	}
	atomic.AddInt64(&p.totalLatencyUS, latencyUS)
	if cacheHit {
		atomic.AddInt64(&p.cacheHits, 1)
	}
	setMin(&p.minLatencyUS, latencyUS)
	setMax(&p.maxLatencyUS, latencyUS)
}

// RecordCacheUpdate records one TimeCache.Update call.
func (p *Perf) RecordCacheUpdate() {
	atomic.AddInt64(&p.cacheUpdates, 1)
}

// setMin atomically lowers *addr to v if v is smaller, retrying on
// concurrent modification. The zero value is treated as "unset" so the
// first observed latency always wins.
func setMin(addr *int64, v int64) {
	for {
		cur := atomic.LoadInt64(addr)
		if cur != 0 && cur <= v {
			return
		}
		if atomic.CompareAndSwapInt64(addr, cur, v) {
			return
		}
	}
}

// setMax atomically raises *addr to v if v is larger, retrying on
// concurrent modification.
func setMax(addr *int64, v int64) {
	for {
		cur := atomic.LoadInt64(addr)
		if cur >= v {
			return
		}
		if atomic.CompareAndSwapInt64(addr, cur, v) {
			return
		}
	}
}

// Snapshot is an immutable, point-in-time view of Perf suitable for JSON
// rendering.
type Snapshot struct {
	TotalRequests   int64
	SuccessRequests int64
	ErrorRequests   int64
	MinLatencyUS    int64
	AvgLatencyUS    float64
	MaxLatencyUS    int64
	CacheHits       int64
	CacheUpdates    int64
	CacheHitRate    float64
	ErrorRate       float64
	UptimeSeconds   float64
}

// Snapshot takes a consistent-enough read of every counter. Because every
// field is an independent atomic, two fields may be a few nanoseconds
// apart under concurrent writers; that's acceptable for a reporting
// endpoint that isn't on the hot path.
func (p *Perf) Snapshot() Snapshot {
	total := atomic.LoadInt64(&p.totalRequests)
	success := atomic.LoadInt64(&p.successRequests)
	errs := atomic.LoadInt64(&p.errorRequests)
	totalLatency := atomic.LoadInt64(&p.totalLatencyUS)
	minLatency := atomic.LoadInt64(&p.minLatencyUS)
	maxLatency := atomic.LoadInt64(&p.maxLatencyUS)
	cacheHits := atomic.LoadInt64(&p.cacheHits)
	cacheUpdates := atomic.LoadInt64(&p.cacheUpdates)

	var avgLatency, cacheHitRate, errorRate float64
	if total > 0 {
		avgLatency = float64(totalLatency) / float64(total)
		cacheHitRate = float64(cacheHits) / float64(total)
		errorRate = float64(errs) / float64(total)
	}

	return Snapshot{
		TotalRequests:   total,
		SuccessRequests: success,
		ErrorRequests:   errs,
		MinLatencyUS:    minLatency,
		AvgLatencyUS:    avgLatency,
		MaxLatencyUS:    maxLatency,
		CacheHits:       cacheHits,
		CacheUpdates:    cacheUpdates,
		CacheHitRate:    cacheHitRate,
		ErrorRate:       errorRate,
		UptimeSeconds:   time.Since(p.startInstant).Seconds(),
	}
}
