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

// Package serving multiplexes the fast single-response /time path, the
// /stream push interface, and the liveness/readiness/metrics surface.
// The fast path carries no middleware; /stream carries none either, since
// it needs to hijack the connection and outlive any request timeout. Every
// other route runs under a timeout + body-limit + request-logging chain.
package serving

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/timekeepd/timekeepd/internal/cache"
	"github.com/timekeepd/timekeepd/internal/config"
	"github.com/timekeepd/timekeepd/internal/metrics"
	"github.com/timekeepd/timekeepd/internal/timebase"
)

// SyncStatus is the subset of scheduler.Scheduler the serving loop reads
// to compute staleness and readiness. Defined here (rather than imported
// from package scheduler) so serving has no compile-time dependency on
// how the sync loop is scheduled.
type SyncStatus interface {
	HasSynced() bool
	StalenessSeconds() float64
}

// Server wires the disciplined clock, the response cache, and the
// counters together behind an http.Handler.
type Server struct {
	cfg      config.Config
	base     *timebase.TimeBase
	cache    *cache.Cache
	perf     *metrics.Perf
	registry *metrics.Registry
	status   SyncStatus

	httpServer *http.Server
}

// New builds a Server. Call Handler or ListenAndServe to start serving.
func New(cfg config.Config, base *timebase.TimeBase, c *cache.Cache, perf *metrics.Perf, registry *metrics.Registry, status SyncStatus) *Server {
	return &Server{cfg: cfg, base: base, cache: c, perf: perf, registry: registry, status: status}
}

// Handler builds the full route table. Exported separately from
// ListenAndServe so tests can exercise it with httptest without binding a
// socket.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	// Fast path: no middleware at all. Latency is still recorded, via the
	// lock-free Perf counters updated inline in the handler.
	mux.HandleFunc("/time", s.handleTime)
	mux.HandleFunc("/", s.handleTime)

	slow := s.slowPathChain()
	mux.Handle("/healthz", slow(http.HandlerFunc(s.handleHealthz)))
	mux.Handle("/readyz", slow(http.HandlerFunc(s.handleReadyz)))
	mux.Handle("/startupz", slow(http.HandlerFunc(s.handleStartupz)))
	mux.Handle("/performance", slow(http.HandlerFunc(s.handlePerformance)))
	mux.Handle("/metrics", slow(s.registry.Handler()))

	// /stream is exempt from the slow-path chain: gorilla/websocket's
	// Upgrade requires Hijack() on the ResponseWriter it's handed, which
	// neither statusRecorder nor timeoutWriter implement, and a
	// request_timeout_secs-bounded context would also cut a WebSocket
	// connection that's meant to live for up to ws.max_duration_secs.
	mux.HandleFunc("/stream", s.handleStream)

	return mux
}

// slowPathChain applies the timeout, body-limit, panic-recovery and
// logging/metrics middleware every route except /time, /, and /stream
// runs under.
func (s *Server) slowPathChain() func(http.Handler) http.Handler {
	return func(h http.Handler) http.Handler {
		return bodyLimitMiddleware(s.cfg.BodyLimitBytes,
			requestMetricsMiddleware(s.registry,
				timeoutMiddleware(s.cfg.RequestTimeout, s.cfg.Messages.ErrorTimeout,
					recoveryMiddleware(s.cfg.Messages.ErrorInternal, h))))
	}
}

// ListenAndServe binds cfg.Addr and serves until ctx is canceled, then
// drains in-flight requests gracefully.
func (s *Server) ListenAndServe(ctx context.Context) error {
	s.httpServer = &http.Server{
		Addr:    s.cfg.Addr,
		Handler: s.Handler(),
	}

	ln, err := net.Listen("tcp", s.cfg.Addr)
	if err != nil {
		return err
	}
	ln = &tunedListener{Listener: ln, noDelay: s.cfg.TCPNoDelay, keepAlive: time.Duration(s.cfg.TCPKeepAliveSecs) * time.Second}

	errCh := make(chan error, 1)
	go func() {
		errCh <- s.httpServer.Serve(ln)
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		log.Info("serving loop: draining in-flight requests")
		return s.httpServer.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}

// tunedListener applies the configured TCP_NODELAY and keepalive settings
// to every accepted connection.
type tunedListener struct {
	net.Listener
	noDelay   bool
	keepAlive time.Duration
}

func (l *tunedListener) Accept() (net.Conn, error) {
	conn, err := l.Listener.Accept()
	if err != nil {
		return nil, err
	}
	if tc, ok := conn.(*net.TCPConn); ok {
		_ = tc.SetNoDelay(l.noDelay)
		if l.keepAlive > 0 {
			_ = tc.SetKeepAlive(true)
			_ = tc.SetKeepAlivePeriod(l.keepAlive)
		}
	}
	return conn, nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
