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

// Package syncer owns the configured server set and their health, and
// drives one round of concurrent SNTP probing plus server selection.
package syncer

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/eclesh/welford"
	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/timekeepd/timekeepd/internal/selector"
	"github.com/timekeepd/timekeepd/internal/serverstats"
	"github.com/timekeepd/timekeepd/internal/sntp"
)

// Errors returned by Sync. Both are contained here; callers never see a
// probe-level error directly.
var (
	// ErrAllServersFailed means every configured server failed to reply.
	ErrAllServersFailed = errors.New("syncer: all servers failed")
	// ErrNoConsensus means the selector had nothing to choose from, which
	// only happens if it is handed an empty result set.
	ErrNoConsensus = errors.New("syncer: no consensus reached")
)

// Prober is the subset of sntp.Prober that Syncer depends on, so tests can
// substitute a mock.
type Prober interface {
	Probe(server string, timeout time.Duration) (sntp.Result, error)
}

// Result is the outcome of one sync round, ready to be applied to a
// TimeBase.
type Result struct {
	EpochMS    int64
	Server     string
	RTT        time.Duration
	CapturedAt time.Time
}

// Config configures a Syncer's per-round behavior.
type Config struct {
	Timeout                time.Duration
	MaxOffsetSkewMS        int64
	OffsetBiasMS           int64
	MaxConsecutiveFailures int
}

// Syncer owns a fixed set of servers and their Stats, and can run repeated
// sync rounds against them.
type Syncer struct {
	servers []string
	prober  Prober
	cfg     Config

	statsMu sync.RWMutex
	stats   map[string]*serverstats.Stats
}

// New builds a Syncer for the given (already-normalized) server addresses.
func New(servers []string, prober Prober, cfg Config) *Syncer {
	stats := make(map[string]*serverstats.Stats, len(servers))
	for _, s := range servers {
		stats[s] = serverstats.New(s)
	}
	return &Syncer{servers: servers, prober: prober, cfg: cfg, stats: stats}
}

// Stats returns the per-server Stats for address, or nil if address isn't
// part of this Syncer's configured server set.
func (s *Syncer) Stats(address string) *serverstats.Stats {
	s.statsMu.RLock()
	defer s.statsMu.RUnlock()
	return s.stats[address]
}

// AllStats returns a snapshot of every configured server's stats, in
// configuration order.
func (s *Syncer) AllStats() []serverstats.Snapshot {
	s.statsMu.RLock()
	defer s.statsMu.RUnlock()
	out := make([]serverstats.Snapshot, 0, len(s.servers))
	for _, addr := range s.servers {
		out = append(out, s.stats[addr].Snapshot())
	}
	return out
}

// Sync fans out one probe per configured server concurrently, records
// per-server health, and returns the selected sample with the static
// offset bias applied.
func (s *Syncer) Sync(ctx context.Context) (Result, error) {
	eg, _ := errgroup.WithContext(ctx)

	var mu sync.Mutex
	results := make([]sntp.Result, 0, len(s.servers))
	var failures int

	for _, server := range s.servers {
		server := server
		eg.Go(func() error {
			r, err := s.prober.Probe(server, s.cfg.Timeout)
			st := s.stats[server]
			if err != nil {
				justDisabled := st.RecordFailure(s.cfg.MaxConsecutiveFailures)
				if justDisabled {
					log.Warnf("server %s disabled after %d consecutive failures", server, s.cfg.MaxConsecutiveFailures)
				}
				log.Debugf("probe of %s failed: %v", server, err)
				mu.Lock()
				failures++
				mu.Unlock()
				return nil
			}
			wasDisabledBefore := st.RecordSuccess(r.RTT, r.OffsetMS)
			if wasDisabledBefore {
				log.Infof("server %s is healthy again", server)
			}
			mu.Lock()
			results = append(results, r)
			mu.Unlock()
			return nil
		})
	}

	// errgroup.Wait never returns an error here: probe failures are
	// contained and recorded rather than propagated.
	_ = eg.Wait()

	log.Infof("sync round: %d servers tried, %d succeeded, %d failed", len(s.servers), len(results), failures)

	if len(results) == 0 {
		return Result{}, ErrAllServersFailed
	}

	logOffsetSpread(results)

	best, degraded, ok := selector.SelectBest(results, s.cfg.MaxOffsetSkewMS)
	if !ok {
		return Result{}, ErrNoConsensus
	}
	if degraded {
		log.Warnf("sync round degraded: no sample within %dms of median offset, falling back to min-RTT (%s)", s.cfg.MaxOffsetSkewMS, best.Server)
	}
	log.Infof("sync round chose %s: offset=%dms rtt=%s", best.Server, best.OffsetMS, best.RTT)

	return Result{
		EpochMS:    best.EpochMS + s.cfg.OffsetBiasMS,
		Server:     best.Server,
		RTT:        best.RTT,
		CapturedAt: best.CapturedAt,
	}, nil
}

// logOffsetSpread logs the standard deviation of the offsets seen this
// round as a cheap sanity metric: a consensus of servers that all disagree
// wildly is itself a signal, even before outlier rejection kicks in.
func logOffsetSpread(results []sntp.Result) {
	w := welford.New()
	for _, r := range results {
		w.Add(float64(r.OffsetMS))
	}
	log.Debugf("offset spread across %d servers: mean=%.1fms stddev=%.1fms", len(results), w.Mean(), w.Stddev())
}
