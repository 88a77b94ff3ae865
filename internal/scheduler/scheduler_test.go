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

package scheduler

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"github.com/timekeepd/timekeepd/internal/cache"
	"github.com/timekeepd/timekeepd/internal/metrics"
	"github.com/timekeepd/timekeepd/internal/sntp"
	"github.com/timekeepd/timekeepd/internal/syncer"
	"github.com/timekeepd/timekeepd/internal/timebase"
)

func newHarness(t *testing.T, prober syncer.Prober) (*Scheduler, *timebase.TimeBase) {
	t.Helper()
	s := syncer.New([]string{"a:123"}, prober, syncer.Config{
		Timeout:                time.Second,
		MaxOffsetSkewMS:        1000,
		MaxConsecutiveFailures: 3,
	})
	base := timebase.New(true)
	c := cache.New("ok", "ok_cache")
	perf := metrics.NewPerf()
	reg := metrics.NewRegistry("test", "test")
	sch := New(s, base, c, perf, reg, Config{
		SyncInterval:     time.Hour,
		ProbeMinInterval: time.Hour,
		ProbeMaxInterval: time.Hour,
	})
	return sch, base
}

func TestSyncOncePublishesOnSuccess(t *testing.T) {
	ctrl := gomock.NewController(t)
	prober := syncer.NewMockProber(ctrl)
	prober.EXPECT().Probe("a:123", gomock.Any()).Return(sntp.Result{
		Server: "a:123", EpochMS: 1_700_000_000_000, RTT: time.Millisecond, CapturedAt: time.Now(),
	}, nil)

	sch, base := newHarness(t, prober)
	assert.False(t, sch.HasSynced())

	sch.syncOnce(context.Background())

	assert.True(t, sch.HasSynced())
	ms, ok := base.NowMS()
	require.True(t, ok)
	assert.InDelta(t, 1_700_000_000_000, ms, 50)
	assert.Less(t, sch.StalenessSeconds(), 1.0)
}

func TestSyncOnceFailureBeforeFirstSyncStaysUnsynced(t *testing.T) {
	ctrl := gomock.NewController(t)
	prober := syncer.NewMockProber(ctrl)
	prober.EXPECT().Probe("a:123", gomock.Any()).Return(sntp.Result{}, sntp.ErrTimeout)

	sch, base := newHarness(t, prober)
	sch.syncOnce(context.Background())

	assert.False(t, sch.HasSynced())
	_, ok := base.NowMS()
	assert.False(t, ok)
}

func TestStalenessSecondsZeroBeforeFirstSync(t *testing.T) {
	ctrl := gomock.NewController(t)
	prober := syncer.NewMockProber(ctrl)
	sch, _ := newHarness(t, prober)
	assert.Equal(t, float64(0), sch.StalenessSeconds())
}

func TestRandomIntervalWithinBounds(t *testing.T) {
	min, max := 10*time.Second, 20*time.Second
	for i := 0; i < 50; i++ {
		v := randomInterval(min, max)
		assert.GreaterOrEqual(t, v, min)
		assert.LessOrEqual(t, v, max)
	}
}

func TestRandomIntervalDegenerate(t *testing.T) {
	assert.Equal(t, 5*time.Second, randomInterval(5*time.Second, 5*time.Second))
}
