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

// Package timebase turns a periodic SyncResult into a continuously
// readable, optionally monotonic clock. Reads are entirely lock-free: the
// hot /time path costs one atomic pointer load and one atomic int64 CAS
// loop, nothing else.
package timebase

import (
	"sync/atomic"
	"time"

	"github.com/timekeepd/timekeepd/internal/syncer"
)

// snapshot is published atomically as a single pointer so a reader never
// observes a torn (epoch, instant) pair.
type snapshot struct {
	baseEpochMS int64
	baseInstant time.Time
	hasSynced   bool
}

// TimeBase is a disciplined clock: periodically updated from a SyncResult,
// continuously readable via NowMS.
type TimeBase struct {
	current         atomic.Pointer[snapshot]
	lastServedMS    atomic.Int64
	monotonicOutput bool
}

// New creates an unsynced TimeBase. monotonicOutput enables the
// non-decreasing clamp on NowMS.
func New(monotonicOutput bool) *TimeBase {
	tb := &TimeBase{monotonicOutput: monotonicOutput}
	tb.current.Store(&snapshot{})
	return tb
}

// Update publishes a new sync result. has_synced transitions false->true
// exactly once, on the first call, and never back.
func (tb *TimeBase) Update(sr syncer.Result) {
	tb.current.Store(&snapshot{
		baseEpochMS: sr.EpochMS,
		baseInstant: sr.CapturedAt,
		hasSynced:   true,
	})
}

// HasSynced reports whether at least one Update has been applied.
func (tb *TimeBase) HasSynced() bool {
	return tb.current.Load().hasSynced
}

// NowMS returns the current disciplined epoch in milliseconds. ok is false
// before the first successful sync.
func (tb *TimeBase) NowMS() (ms int64, ok bool) {
	s := tb.current.Load()
	if !s.hasSynced {
		return 0, false
	}

	elapsed := time.Since(s.baseInstant)
	if elapsed < 0 {
		elapsed = 0
	}
	current := s.baseEpochMS + elapsed.Milliseconds()

	if !tb.monotonicOutput {
		return current, true
	}

	for {
		last := tb.lastServedMS.Load()
		next := current
		if next <= last {
			next = last + 1
		}
		if tb.lastServedMS.CompareAndSwap(last, next) {
			return next, true
		}
		// another reader raced us; retry with the freshest last-served value.
	}
}
