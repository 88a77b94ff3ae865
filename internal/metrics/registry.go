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

package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Registry wraps a dedicated prometheus.Registry (never the default global
// one, so the process never picks up Go-runtime collectors registered by
// some unrelated import) with the typed setters every other package calls.
type Registry struct {
	reg *prometheus.Registry

	buildInfo *prometheus.GaugeVec

	httpRequestsTotal    *prometheus.CounterVec
	httpRequestDuration  *prometheus.HistogramVec
	httpInflightRequests prometheus.Gauge

	ntpSyncTotal           prometheus.Counter
	ntpSyncErrorsTotal     prometheus.Counter
	ntpLastSyncTimestamp   prometheus.Gauge
	ntpStalenessSeconds    prometheus.Gauge
	ntpRTTSeconds          *prometheus.GaugeVec
	ntpConsecutiveFailures *prometheus.GaugeVec
	ntpServerUp            *prometheus.GaugeVec

	processRSSBytes  prometheus.Gauge
	processGoroutine prometheus.Gauge
	processOpenFDs   prometheus.Gauge
}

// NewRegistry builds and registers every collector timekeepd exposes.
func NewRegistry(version, commit string) *Registry {
	r := &Registry{reg: prometheus.NewRegistry()}

	r.buildInfo = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "timekeepd",
		Name:      "build_info",
		Help:      "Always 1. Labeled with the running build's version and commit.",
	}, []string{"version", "commit"})
	r.buildInfo.WithLabelValues(version, commit).Set(1)

	r.httpRequestsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "timekeepd",
		Name:      "http_requests_total",
		Help:      "Total HTTP requests served, by method, path and status.",
	}, []string{"method", "path", "status"})

	r.httpRequestDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "timekeepd",
		Name:      "http_request_duration_seconds",
		Help:      "HTTP request latency in seconds, by method and path.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"method", "path"})

	r.httpInflightRequests = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "timekeepd",
		Name:      "http_inflight_requests",
		Help:      "Number of HTTP requests currently being served.",
	})

	r.ntpSyncTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "timekeepd",
		Subsystem: "ntp",
		Name:      "sync_total",
		Help:      "Total completed sync rounds, successful or not.",
	})

	r.ntpSyncErrorsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "timekeepd",
		Subsystem: "ntp",
		Name:      "sync_errors_total",
		Help:      "Total sync rounds that failed to produce a disciplined time.",
	})

	r.ntpLastSyncTimestamp = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "timekeepd",
		Subsystem: "ntp",
		Name:      "last_sync_timestamp_seconds",
		Help:      "Unix timestamp of the last successful sync.",
	})

	r.ntpStalenessSeconds = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "timekeepd",
		Subsystem: "ntp",
		Name:      "staleness_seconds",
		Help:      "Seconds since the last successful sync.",
	})

	r.ntpRTTSeconds = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "timekeepd",
		Subsystem: "ntp",
		Name:      "rtt_seconds",
		Help:      "Most recently observed round-trip time to each configured server.",
	}, []string{"server"})

	r.ntpConsecutiveFailures = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "timekeepd",
		Subsystem: "ntp",
		Name:      "consecutive_failures",
		Help:      "Current consecutive probe failure count for each configured server.",
	}, []string{"server"})

	r.ntpServerUp = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "timekeepd",
		Subsystem: "ntp",
		Name:      "server_up",
		Help:      "1 if the server is healthy (below the failure threshold), 0 otherwise.",
	}, []string{"server"})

	r.processRSSBytes = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "timekeepd",
		Subsystem: "process",
		Name:      "resident_memory_bytes",
		Help:      "Resident set size of this process, in bytes.",
	})

	r.processGoroutine = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "timekeepd",
		Subsystem: "process",
		Name:      "goroutines",
		Help:      "Number of goroutines currently running.",
	})

	r.processOpenFDs = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "timekeepd",
		Subsystem: "process",
		Name:      "open_fds",
		Help:      "Number of open file descriptors held by this process.",
	})

	r.reg.MustRegister(
		r.buildInfo,
		r.httpRequestsTotal,
		r.httpRequestDuration,
		r.httpInflightRequests,
		r.ntpSyncTotal,
		r.ntpSyncErrorsTotal,
		r.ntpLastSyncTimestamp,
		r.ntpStalenessSeconds,
		r.ntpRTTSeconds,
		r.ntpConsecutiveFailures,
		r.ntpServerUp,
		r.processRSSBytes,
		r.processGoroutine,
		r.processOpenFDs,
	)

	return r
}

// Handler returns the http.Handler to mount at /metrics.
func (r *Registry) Handler() http.Handler {
	return promhttp.HandlerFor(r.reg, promhttp.HandlerOpts{EnableOpenMetrics: true})
}

// ObserveHTTPRequest records one finished HTTP request.
func (r *Registry) ObserveHTTPRequest(method, path string, status int, duration time.Duration) {
	r.httpRequestsTotal.WithLabelValues(method, path, strconv.Itoa(status)).Inc()
	r.httpRequestDuration.WithLabelValues(method, path).Observe(duration.Seconds())
}

// InflightInc/InflightDec bracket an in-progress HTTP request.
func (r *Registry) InflightInc() { r.httpInflightRequests.Inc() }
func (r *Registry) InflightDec() { r.httpInflightRequests.Dec() }

// ObserveSyncSuccess records a completed, successful sync round.
func (r *Registry) ObserveSyncSuccess(at time.Time) {
	r.ntpSyncTotal.Inc()
	r.ntpLastSyncTimestamp.Set(float64(at.Unix()))
}

// ObserveSyncFailure records a sync round that produced no disciplined time.
func (r *Registry) ObserveSyncFailure() {
	r.ntpSyncTotal.Inc()
	r.ntpSyncErrorsTotal.Inc()
}

// SetStaleness publishes the current staleness gauge.
func (r *Registry) SetStaleness(d time.Duration) {
	r.ntpStalenessSeconds.Set(d.Seconds())
}

// SetServerHealth publishes the per-server gauges after a probe round.
func (r *Registry) SetServerHealth(server string, rtt time.Duration, consecutiveFailures int, up bool) {
	r.ntpRTTSeconds.WithLabelValues(server).Set(rtt.Seconds())
	r.ntpConsecutiveFailures.WithLabelValues(server).Set(float64(consecutiveFailures))
	upVal := 0.0
	if up {
		upVal = 1.0
	}
	r.ntpServerUp.WithLabelValues(server).Set(upVal)
}

// SetProcessStats publishes the process resource gauges; see package
// sysstats for how these are sampled.
func (r *Registry) SetProcessStats(rssBytes uint64, goroutines int, openFDs int32) {
	r.processRSSBytes.Set(float64(rssBytes))
	r.processGoroutine.Set(float64(goroutines))
	r.processOpenFDs.Set(float64(openFDs))
}
