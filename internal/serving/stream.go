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
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	log "github.com/sirupsen/logrus"

	"github.com/timekeepd/timekeepd/internal/isotime"
)

// upgrader accepts connections from any origin: this is a local/internal
// time source, not a browser-facing API that needs CSRF-style origin
// checks.
var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

type welcomeMessage struct {
	Type             string `json:"type"`
	Message          string `json:"message"`
	UpdateIntervalMS int    `json:"update_interval_ms"`
	MaxDurationSecs  int    `json:"max_duration_secs"`
}

type tickMessage struct {
	Type          string `json:"type"`
	EpochMS       int64  `json:"epoch_ms"`
	ISO8601       string `json:"iso8601"`
	IsStale       bool   `json:"is_stale"`
	StalenessSecs int64  `json:"staleness_secs"`
	Message       string `json:"message"`
	Sequence      int64  `json:"sequence"`
}

type errorMessage struct {
	Type     string `json:"type"`
	Message  string `json:"message"`
	Sequence int64  `json:"sequence"`
}

// handleStream upgrades to a WebSocket and pushes a periodic tick until
// the duration cap is reached, a send fails, or the client goes away.
func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Warnf("stream: upgrade failed: %v", err)
		return
	}
	defer conn.Close()

	welcome := welcomeMessage{
		Type:             "welcome",
		Message:          s.cfg.Messages.OK,
		UpdateIntervalMS: s.cfg.WS.UpdateIntervalMS,
		MaxDurationSecs:  s.cfg.WS.MaxDurationSecs,
	}
	if err := conn.WriteJSON(welcome); err != nil {
		log.Debugf("stream: welcome send failed: %v", err)
		return
	}

	done := make(chan struct{})
	go s.streamReader(conn, done)

	s.streamWriter(conn, done)

	_ = conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second))
}

// streamReader drains and discards inbound frames; gorilla/websocket
// answers pings automatically once a handler is installed via
// SetPingHandler (the default handler does this), so this goroutine's job
// is purely to notice the client closing or erroring out.
func (s *Server) streamReader(conn *websocket.Conn, done chan struct{}) {
	defer close(done)
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

// streamWriter emits one tick every UpdateInterval until max_duration_secs
// worth of ticks have been sent, the reader signals the client is gone, or
// a send fails.
func (s *Server) streamWriter(conn *websocket.Conn, done <-chan struct{}) {
	interval := s.cfg.WS.UpdateInterval
	if interval <= 0 {
		interval = time.Second
	}
	maxTicks := int64(s.cfg.WS.MaxDuration / interval)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	var sequence int64
	for maxTicks <= 0 || sequence < maxTicks {
		select {
		case <-done:
			return
		case <-ticker.C:
			if err := s.sendTick(conn, sequence); err != nil {
				return
			}
			sequence++
		}
	}
}

func (s *Server) sendTick(conn *websocket.Conn, sequence int64) error {
	ms, ok := s.base.NowMS()
	if !ok {
		return conn.WriteJSON(errorMessage{
			Type:     "error",
			Message:  s.cfg.Messages.ErrorNoSync,
			Sequence: sequence,
		})
	}

	stalenessSecs := int64(s.status.StalenessSeconds())
	isStale := s.status.StalenessSeconds() > s.cfg.NTP.MaxStaleness.Seconds()
	message := s.cfg.Messages.OK
	if isStale {
		message = s.cfg.Messages.OKCache
	}

	return conn.WriteJSON(tickMessage{
		Type:          "tick",
		EpochMS:       ms,
		ISO8601:       isotime.FormatMS(ms),
		IsStale:       isStale,
		StalenessSecs: stalenessSecs,
		Message:       message,
		Sequence:      sequence,
	})
}
