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
	"context"
	"net/http"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/timekeepd/timekeepd/internal/metrics"
)

// bodyLimitMiddleware caps request bodies, the way the rest of the
// configuration surface expects; only slow-path routes carry it, since
// /time and / never read a body.
func bodyLimitMiddleware(limit int64, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, limit)
		next.ServeHTTP(w, r)
	})
}

// statusRecorder captures the status code a handler wrote, so the
// metrics/logging middleware can report it after the handler returns.
type statusRecorder struct {
	http.ResponseWriter
	status  int
	written bool
}

func (sr *statusRecorder) WriteHeader(status int) {
	if !sr.written {
		sr.status = status
		sr.written = true
	}
	sr.ResponseWriter.WriteHeader(status)
}

func (sr *statusRecorder) Write(b []byte) (int, error) {
	if !sr.written {
		sr.status = http.StatusOK
		sr.written = true
	}
	return sr.ResponseWriter.Write(b)
}

// requestMetricsMiddleware records every slow-path request's method,
// path, status and latency into the Prometheus registry, bracketing the
// call with the in-flight gauge.
func requestMetricsMiddleware(registry *metrics.Registry, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		registry.InflightInc()
		defer registry.InflightDec()

		start := time.Now()
		sr := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(sr, r)
		duration := time.Since(start)

		registry.ObserveHTTPRequest(r.Method, r.URL.Path, sr.status, duration)
		log.Debugf("%s %s -> %d (%s)", r.Method, r.URL.Path, sr.status, duration)
	})
}

// recoveryMiddleware is the slow-path catch-all: a panicking handler is
// logged and answered with a 500 carrying the configured error_internal
// message instead of tearing down the connection. It sits inside the
// timeout middleware so it runs on the same goroutine as the handler.
func recoveryMiddleware(internalMessage string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				log.Errorf("%s %s panicked: %v", r.Method, r.URL.Path, rec)
				writeJSON(w, http.StatusInternalServerError, map[string]string{
					"message": internalMessage,
					"error":   internalMessage,
				})
			}
		}()
		next.ServeHTTP(w, r)
	})
}

// timeoutWriter wraps a ResponseWriter so that once the deadline fires,
// any write the handler goroutine is still attempting becomes a no-op
// instead of racing the timeout response already sent to the client.
// This mirrors the unexported timeoutWriter net/http.TimeoutHandler uses
// internally for the same reason.
type timeoutWriter struct {
	http.ResponseWriter
	mu      sync.Mutex
	timeout bool
}

func (tw *timeoutWriter) WriteHeader(status int) {
	tw.mu.Lock()
	defer tw.mu.Unlock()
	if tw.timeout {
		return
	}
	tw.ResponseWriter.WriteHeader(status)
}

func (tw *timeoutWriter) Write(b []byte) (int, error) {
	tw.mu.Lock()
	defer tw.mu.Unlock()
	if tw.timeout {
		return len(b), nil
	}
	return tw.ResponseWriter.Write(b)
}

// timeoutMiddleware bounds how long a slow-path handler may run. On
// expiry it writes a 408 with the configured error_timeout message.
// /time never carries this wrapper and relies on its own non-blocking
// nature instead.
func timeoutMiddleware(d time.Duration, timeoutMessage string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if d <= 0 {
			next.ServeHTTP(w, r)
			return
		}

		ctx, cancel := context.WithTimeout(r.Context(), d)
		defer cancel()
		r = r.WithContext(ctx)

		tw := &timeoutWriter{ResponseWriter: w}
		done := make(chan struct{})
		go func() {
			defer close(done)
			next.ServeHTTP(tw, r)
		}()

		select {
		case <-done:
		case <-ctx.Done():
			tw.mu.Lock()
			tw.timeout = true
			tw.mu.Unlock()
			writeJSON(w, http.StatusRequestTimeout, map[string]string{
				"message": timeoutMessage,
				"error":   timeoutMessage,
			})
		}
	})
}
