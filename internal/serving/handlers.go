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
	"fmt"
	"net/http"
	"strconv"
	"time"
)

// notSyncedResponse is the 503 body served before the first sync when
// require_sync is on.
type notSyncedResponse struct {
	Message string `json:"message"`
	Status  int    `json:"status"`
	Data    int64  `json:"data"`
	Error   string `json:"error"`
}

// fallbackResponse mirrors the cache's success shape, used only when a
// sync has never completed and require_sync is false.
type fallbackResponse struct {
	Data    int64  `json:"data"`
	Message string `json:"message"`
	Status  int    `json:"status"`
}

// handleTime serves /time and /. It is registered with no middleware: the
// hot path is one atomic load of the TimeBase plus one atomic load of the
// preformatted cache body, with a lock-free rebuild only when the served
// millisecond has rolled over since the payload was built.
func (s *Server) handleTime(w http.ResponseWriter, r *http.Request) {
	start := time.Now()

	ms, ok := s.base.NowMS()
	if !ok {
		if s.cfg.NTP.RequireSync {
			writeJSON(w, http.StatusServiceUnavailable, notSyncedResponse{
				Message: s.cfg.Messages.Error,
				Status:  http.StatusServiceUnavailable,
				Data:    0,
				Error:   s.cfg.Messages.ErrorNoSync,
			})
			s.perf.RecordRequest(time.Since(start).Microseconds(), false, false)
			return
		}

		fallbackMS := time.Now().UnixMilli()
		writeJSON(w, http.StatusOK, fallbackResponse{Data: fallbackMS, Message: s.cfg.Messages.OK, Status: http.StatusOK})
		s.perf.RecordRequest(time.Since(start).Microseconds(), true, false)
		return
	}

	stale := s.status.StalenessSeconds() > s.cfg.NTP.MaxStaleness.Seconds()
	body, hit := s.cache.Serve(ms, stale)

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(body)

	s.perf.RecordRequest(time.Since(start).Microseconds(), true, hit)
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) readyForTraffic() bool {
	return s.status.HasSynced() || !s.cfg.NTP.RequireSync
}

func (s *Server) handleReadyz(w http.ResponseWriter, r *http.Request) {
	if s.readyForTraffic() {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
		return
	}
	writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "not_ready", "reason": "not_yet_synced"})
}

func (s *Server) handleStartupz(w http.ResponseWriter, r *http.Request) {
	if s.readyForTraffic() {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
		return
	}
	writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "not_ready", "reason": "startup_in_progress"})
}

// performanceResponse is the JSON shape served on /performance.
type performanceResponse struct {
	Requests struct {
		Total   int64 `json:"total"`
		Success int64 `json:"success"`
		Errors  int64 `json:"errors"`
	} `json:"requests"`
	LatencyMicroseconds struct {
		Min int64   `json:"min"`
		Avg float64 `json:"avg"`
		Max int64   `json:"max"`
	} `json:"latency_microseconds"`
	LatencyMilliseconds struct {
		Min float64 `json:"min"`
		Avg float64 `json:"avg"`
		Max float64 `json:"max"`
	} `json:"latency_milliseconds"`
	Cache struct {
		Hits    int64   `json:"hits"`
		HitRate float64 `json:"hit_rate"`
	} `json:"cache"`
	Rates struct {
		ErrorRate float64 `json:"error_rate"`
	} `json:"rates"`
}

func (s *Server) handlePerformance(w http.ResponseWriter, r *http.Request) {
	snap := s.perf.Snapshot()

	var resp performanceResponse
	resp.Requests.Total = snap.TotalRequests
	resp.Requests.Success = snap.SuccessRequests
	resp.Requests.Errors = snap.ErrorRequests
	resp.LatencyMicroseconds.Min = snap.MinLatencyUS
	resp.LatencyMicroseconds.Avg = round2(snap.AvgLatencyUS)
	resp.LatencyMicroseconds.Max = snap.MaxLatencyUS
	resp.LatencyMilliseconds.Min = round2(float64(snap.MinLatencyUS) / 1000)
	resp.LatencyMilliseconds.Avg = round2(snap.AvgLatencyUS / 1000)
	resp.LatencyMilliseconds.Max = round2(float64(snap.MaxLatencyUS) / 1000)
	resp.Cache.Hits = snap.CacheHits
	resp.Cache.HitRate = round2(snap.CacheHitRate)
	resp.Rates.ErrorRate = round2(snap.ErrorRate)

	writeJSON(w, http.StatusOK, resp)
}

// round2 formats a float to 2 decimal places.
func round2(f float64) float64 {
	r, _ := strconv.ParseFloat(fmt.Sprintf("%.2f", f), 64)
	return r
}
