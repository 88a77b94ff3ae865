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

// Package serverstats tracks per-server health and rolling latency for the
// NTP servers a syncer talks to.
package serverstats

import (
	"sync"
	"time"
)

// Stats holds operational counters for a single NTP server. It is safe for
// concurrent use: every method takes a brief internal lock, matching the
// per-entry locking scheme described for the syncer's server map.
type Stats struct {
	mu sync.Mutex

	address             string
	lastRTT             time.Duration
	lastOffsetMS        int64
	lastSuccess         time.Time
	lastFailure         time.Time
	consecutiveFailures int
	totalQueries        uint64
	totalFailures       uint64
	disabled            bool
}

// New creates a Stats record for address. Newly created stats are healthy.
func New(address string) *Stats {
	return &Stats{address: address}
}

// Snapshot is an immutable, lock-free-to-read copy of a Stats record, used
// for reporting (gauges, the servers CLI table) without holding the lock for
// the duration of a render.
type Snapshot struct {
	Address             string
	LastRTT             time.Duration
	LastOffsetMS        int64
	LastSuccess         time.Time
	LastFailure         time.Time
	ConsecutiveFailures int
	TotalQueries        uint64
	TotalFailures       uint64
	Disabled            bool
}

// RecordSuccess records a successful probe, along with the signed offset_ms
// the probe measured against the server (reported back by the servers CLI
// table, not otherwise consumed by selection). It returns true if the
// server was disabled immediately before this call (i.e. this success is
// what brought it back into rotation).
func (s *Stats) RecordSuccess(rtt time.Duration, offsetMS int64) (wasDisabledBefore bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	wasDisabledBefore = s.disabled
	s.lastRTT = rtt
	s.lastOffsetMS = offsetMS
	s.lastSuccess = time.Now()
	s.consecutiveFailures = 0
	s.disabled = false
	s.totalQueries++
	return wasDisabledBefore
}

// RecordFailure records a failed probe. threshold is the number of
// consecutive failures after which the server is taken out of rotation. It
// returns true exactly when this call is the one that flips disabled from
// false to true.
func (s *Stats) RecordFailure(threshold int) (justDisabled bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.lastFailure = time.Now()
	s.consecutiveFailures++
	s.totalQueries++
	s.totalFailures++

	if s.consecutiveFailures >= threshold && !s.disabled {
		s.disabled = true
		return true
	}
	return false
}

// IsHealthy reports whether the server is currently in rotation.
func (s *Stats) IsHealthy() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return !s.disabled
}

// RTTScore returns the last observed RTT, but only while the server is
// healthy; a disabled server reports ok=false so callers don't rank a
// disabled server on stale latency.
func (s *Stats) RTTScore() (rtt time.Duration, ok bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.disabled {
		return 0, false
	}
	return s.lastRTT, true
}

// Snapshot copies out the current state for reporting.
func (s *Stats) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Snapshot{
		Address:             s.address,
		LastRTT:             s.lastRTT,
		LastOffsetMS:        s.lastOffsetMS,
		LastSuccess:         s.lastSuccess,
		LastFailure:         s.lastFailure,
		ConsecutiveFailures: s.consecutiveFailures,
		TotalQueries:        s.totalQueries,
		TotalFailures:       s.totalFailures,
		Disabled:            s.disabled,
	}
}
