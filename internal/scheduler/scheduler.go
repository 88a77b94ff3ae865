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

// Package scheduler runs the two independent periodic tasks that drive
// timekeepd's disciplined clock: the sync loop (probe -> select -> publish)
// and the probe-gauge loop (publish per-server health independent of
// whether a sync round is in flight).
package scheduler

import (
	"context"
	"math/rand"
	"sync"
	"sync/atomic"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/timekeepd/timekeepd/internal/cache"
	"github.com/timekeepd/timekeepd/internal/metrics"
	"github.com/timekeepd/timekeepd/internal/syncer"
	"github.com/timekeepd/timekeepd/internal/systemdnotify"
	"github.com/timekeepd/timekeepd/internal/timebase"
)

// maxStartupJitter bounds the randomized startup delay before the first
// sync attempt, so a fleet of instances restarting together doesn't all
// hit their NTP servers in the same instant.
const maxStartupJitter = 5 * time.Second

// Config configures the two periodic tasks' cadence.
type Config struct {
	SyncInterval     time.Duration
	ProbeMinInterval time.Duration
	ProbeMaxInterval time.Duration
}

// Scheduler owns the sync and probe loops. It never returns an error to
// its caller: every failure is logged, reflected in metrics, and retried
// on the next tick.
type Scheduler struct {
	syncer   *syncer.Syncer
	base     *timebase.TimeBase
	cache    *cache.Cache
	perf     *metrics.Perf
	registry *metrics.Registry
	cfg      Config

	consecutiveFailures atomic.Int64
	lastSyncSuccess     atomic.Pointer[time.Time]
	readyNotified       atomic.Bool
}

// New builds a Scheduler wired to the components it drives.
func New(s *syncer.Syncer, base *timebase.TimeBase, c *cache.Cache, perf *metrics.Perf, registry *metrics.Registry, cfg Config) *Scheduler {
	return &Scheduler{syncer: s, base: base, cache: c, perf: perf, registry: registry, cfg: cfg}
}

// Run launches both periodic tasks and blocks until ctx is canceled and
// both have exited. Intended to be called from a single long-lived
// goroutine for the lifetime of the process.
func (sch *Scheduler) Run(ctx context.Context) {
	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		sch.runSyncLoop(ctx)
	}()
	go func() {
		defer wg.Done()
		sch.runProbeLoop(ctx)
	}()
	wg.Wait()
}

// HasSynced reports whether the disciplined clock has ever completed a
// sync round.
func (sch *Scheduler) HasSynced() bool {
	return sch.base.HasSynced()
}

// StalenessSeconds reports how long it has been since the last successful
// sync. Before the first sync it reports zero.
func (sch *Scheduler) StalenessSeconds() float64 {
	last := sch.lastSyncSuccess.Load()
	if last == nil {
		return 0
	}
	return time.Since(*last).Seconds()
}

func (sch *Scheduler) runSyncLoop(ctx context.Context) {
	jitter := time.Duration(rand.Int63n(int64(maxStartupJitter) + 1))
	log.Debugf("sync loop: sleeping %s startup jitter", jitter)
	select {
	case <-time.After(jitter):
	case <-ctx.Done():
		return
	}

	ticker := time.NewTicker(sch.cfg.SyncInterval)
	defer ticker.Stop()

	sch.syncOnce(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			sch.syncOnce(ctx)
		}
	}
}

func (sch *Scheduler) syncOnce(ctx context.Context) {
	result, err := sch.syncer.Sync(ctx)
	if err != nil {
		n := sch.consecutiveFailures.Add(1)
		sch.registry.ObserveSyncFailure()
		if sch.base.HasSynced() {
			log.Warnf("sync round %d failed (%v); continuing to serve from cache", n, err)
		} else {
			log.Errorf("sync round %d failed (%v); no disciplined time available yet", n, err)
		}
		return
	}

	sch.consecutiveFailures.Store(0)
	sch.base.Update(result)
	sch.cache.Update(result.EpochMS)
	sch.perf.RecordCacheUpdate()

	now := time.Now()
	sch.lastSyncSuccess.Store(&now)
	sch.registry.ObserveSyncSuccess(now)
	sch.registry.SetStaleness(0)

	if sch.readyNotified.CompareAndSwap(false, true) {
		if err := systemdnotify.Ready(); err != nil {
			log.Warnf("sd_notify READY=1 failed: %v", err)
		}
	}
}

func (sch *Scheduler) runProbeLoop(ctx context.Context) {
	for {
		interval := randomInterval(sch.cfg.ProbeMinInterval, sch.cfg.ProbeMaxInterval)
		select {
		case <-ctx.Done():
			return
		case <-time.After(interval):
			sch.publishServerHealth()
		}
	}
}

func (sch *Scheduler) publishServerHealth() {
	for _, snap := range sch.syncer.AllStats() {
		sch.registry.SetServerHealth(snap.Address, snap.LastRTT, snap.ConsecutiveFailures, !snap.Disabled)
	}
	sch.registry.SetStaleness(time.Duration(sch.StalenessSeconds() * float64(time.Second)))
}

// randomInterval samples uniformly from [min, max]. If min == max it
// returns that fixed interval with no randomness.
func randomInterval(min, max time.Duration) time.Duration {
	if max <= min {
		return min
	}
	span := int64(max - min)
	return min + time.Duration(rand.Int63n(span+1))
}
