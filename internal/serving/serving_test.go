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

package serving

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/timekeepd/timekeepd/internal/cache"
	"github.com/timekeepd/timekeepd/internal/config"
	"github.com/timekeepd/timekeepd/internal/metrics"
	"github.com/timekeepd/timekeepd/internal/syncer"
	"github.com/timekeepd/timekeepd/internal/timebase"
)

func syncResult(epochMS int64) syncer.Result {
	return syncer.Result{EpochMS: epochMS, Server: "time.example.com:123", CapturedAt: time.Now()}
}

// fakeStatus lets tests control HasSynced/StalenessSeconds independently
// of a real scheduler.
type fakeStatus struct {
	synced    bool
	staleness float64
}

func (f *fakeStatus) HasSynced() bool           { return f.synced }
func (f *fakeStatus) StalenessSeconds() float64 { return f.staleness }

func newTestServer(t *testing.T, requireSync bool) (*Server, *timebase.TimeBase, *cache.Cache, *fakeStatus) {
	t.Helper()
	cfg := *config.Default()
	cfg.NTP.Servers = []string{"time.example.com:123"}
	cfg.NTP.RequireSync = requireSync
	cfg.NTP.MaxStalenessSecs = 5
	cfg.NTP.MaxStaleness = 5 * time.Second
	cfg.WS.UpdateIntervalMS = 20
	cfg.WS.UpdateInterval = 20 * time.Millisecond
	cfg.WS.MaxDurationSecs = 1
	cfg.WS.MaxDuration = time.Second

	base := timebase.New(true)
	c := cache.New(cfg.Messages.OK, cfg.Messages.OKCache)
	perf := metrics.NewPerf()
	reg := metrics.NewRegistry("test", "test")
	status := &fakeStatus{}

	return New(cfg, base, c, perf, reg, status), base, c, status
}

func TestHandleTimeNotSyncedRequireSync(t *testing.T) {
	s, _, _, _ := newTestServer(t, true)
	req := httptest.NewRequest(http.MethodGet, "/time", nil)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.EqualValues(t, 503, body["status"])
	assert.EqualValues(t, 0, body["data"])
}

func TestHandleTimeNotSyncedFallback(t *testing.T) {
	s, _, _, _ := newTestServer(t, false)
	req := httptest.NewRequest(http.MethodGet, "/time", nil)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	data, ok := body["data"].(float64)
	require.True(t, ok)
	assert.Greater(t, data, float64(0))
}

func TestHandleTimeSyncedFresh(t *testing.T) {
	s, base, c, status := newTestServer(t, true)
	base.Update(syncResult(1_700_000_000_000))
	c.Update(1_700_000_000_000)
	status.synced = true
	status.staleness = 0

	req := httptest.NewRequest(http.MethodGet, "/time", nil)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.InDelta(t, 1_700_000_000_000, body["data"], 100)
	assert.Equal(t, "ok", body["message"])
}

func TestHandleTimeDataAdvancesBetweenRequests(t *testing.T) {
	s, base, _, status := newTestServer(t, true)
	base.Update(syncResult(1_700_000_000_000))
	status.synced = true

	get := func() int64 {
		req := httptest.NewRequest(http.MethodGet, "/time", nil)
		rec := httptest.NewRecorder()
		s.Handler().ServeHTTP(rec, req)
		require.Equal(t, http.StatusOK, rec.Code)
		var body map[string]any
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
		return int64(body["data"].(float64))
	}

	// no further syncs happen; the served value must still move forward.
	first := get()
	time.Sleep(5 * time.Millisecond)
	second := get()
	assert.Greater(t, second, first)
}

func TestHandleTimeSyncedStale(t *testing.T) {
	s, base, c, status := newTestServer(t, true)
	base.Update(syncResult(1_700_000_000_000))
	c.Update(1_700_000_000_000)
	status.synced = true
	status.staleness = 3600 // beyond max_staleness_secs=5

	req := httptest.NewRequest(http.MethodGet, "/time", nil)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)

	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "ok_cache", body["message"])
}

func TestHandleHealthz(t *testing.T) {
	s, _, _, _ := newTestServer(t, true)
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"ok"`)
}

func TestHandleReadyzBeforeAndAfterSync(t *testing.T) {
	s, _, _, status := newTestServer(t, true)

	req := httptest.NewRequest(http.MethodGet, "/readyz", nil)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Contains(t, rec.Body.String(), "not_yet_synced")

	status.synced = true
	rec = httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestHandleStartupzReason(t *testing.T) {
	s, _, _, _ := newTestServer(t, true)
	req := httptest.NewRequest(http.MethodGet, "/startupz", nil)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Contains(t, rec.Body.String(), "startup_in_progress")
}

func TestHandlePerformance(t *testing.T) {
	s, _, _, _ := newTestServer(t, true)
	// generate a couple of requests against the fast path first.
	for i := 0; i < 3; i++ {
		req := httptest.NewRequest(http.MethodGet, "/time", nil)
		rec := httptest.NewRecorder()
		s.Handler().ServeHTTP(rec, req)
	}

	req := httptest.NewRequest(http.MethodGet, "/performance", nil)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)

	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	requests := body["requests"].(map[string]any)
	assert.EqualValues(t, 3, requests["total"])
}

func TestTimeoutMiddlewareReturns408(t *testing.T) {
	slow := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-r.Context().Done()
	})
	h := timeoutMiddleware(10*time.Millisecond, "request timed out", slow)
	req := httptest.NewRequest(http.MethodGet, "/readyz", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusRequestTimeout, rec.Code)
	assert.Contains(t, rec.Body.String(), "request timed out")
}

func TestRecoveryMiddlewareReturns500(t *testing.T) {
	panicky := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		panic("boom")
	})
	h := recoveryMiddleware("internal error", panicky)
	req := httptest.NewRequest(http.MethodGet, "/readyz", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Contains(t, rec.Body.String(), "internal error")
}

func TestBodyLimitMiddlewareCapsBody(t *testing.T) {
	var gotErr error
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		buf := make([]byte, 1<<20)
		_, gotErr = r.Body.Read(buf)
	})
	h := bodyLimitMiddleware(4, next)
	req := httptest.NewRequest(http.MethodPost, "/readyz", strings.NewReader("this is far more than four bytes"))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Error(t, gotErr)
}

func TestStreamWelcomeAndTick(t *testing.T) {
	s, base, c, status := newTestServer(t, true)
	base.Update(syncResult(1_700_000_000_000))
	c.Update(1_700_000_000_000)
	status.synced = true

	srv := httptest.NewServer(s.Handler())
	defer srv.Close()

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/stream"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	defer conn.Close()

	var welcome map[string]any
	require.NoError(t, conn.ReadJSON(&welcome))
	assert.Equal(t, "welcome", welcome["type"])

	var tick map[string]any
	require.NoError(t, conn.ReadJSON(&tick))
	assert.Equal(t, "tick", tick["type"])
	assert.EqualValues(t, 0, tick["sequence"])
}
