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

package serverstats

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecordFailureDisablesAtThreshold(t *testing.T) {
	s := New("ntp.example.org:123")

	const threshold = 3
	for i := 0; i < threshold-1; i++ {
		justDisabled := s.RecordFailure(threshold)
		assert.False(t, justDisabled)
		assert.True(t, s.IsHealthy())
	}

	justDisabled := s.RecordFailure(threshold)
	assert.True(t, justDisabled)
	assert.False(t, s.IsHealthy())

	// further failures don't re-trigger justDisabled
	assert.False(t, s.RecordFailure(threshold))
}

func TestRecordSuccessResetsAndReenables(t *testing.T) {
	s := New("ntp.example.org:123")
	for i := 0; i < 5; i++ {
		s.RecordFailure(5)
	}
	require.False(t, s.IsHealthy())

	wasDisabledBefore := s.RecordSuccess(20*time.Millisecond, 5)
	assert.True(t, wasDisabledBefore)
	assert.True(t, s.IsHealthy())

	snap := s.Snapshot()
	assert.Equal(t, 0, snap.ConsecutiveFailures)
	assert.Equal(t, 20*time.Millisecond, snap.LastRTT)
	assert.EqualValues(t, 5, snap.LastOffsetMS)
	assert.False(t, snap.Disabled)

	// a second success is not itself a disable->enable transition
	assert.False(t, s.RecordSuccess(10*time.Millisecond, -2))
}

func TestRTTScoreHiddenWhenDisabled(t *testing.T) {
	s := New("ntp.example.org:123")
	s.RecordSuccess(15*time.Millisecond, 3)
	rtt, ok := s.RTTScore()
	require.True(t, ok)
	assert.Equal(t, 15*time.Millisecond, rtt)

	for i := 0; i < 10; i++ {
		s.RecordFailure(10)
	}
	_, ok = s.RTTScore()
	assert.False(t, ok)
}

func TestSnapshotCountersAccumulate(t *testing.T) {
	s := New("ntp.example.org:123")
	s.RecordSuccess(time.Millisecond, 1)
	s.RecordFailure(100)
	s.RecordFailure(100)

	snap := s.Snapshot()
	assert.EqualValues(t, 3, snap.TotalQueries)
	assert.EqualValues(t, 2, snap.TotalFailures)
}
