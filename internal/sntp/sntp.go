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

// Package sntp performs single-shot SNTP (RFC 2030 / simplified NTPv4)
// exchanges against a remote time server and turns the reply into a
// {server, offset, rtt} sample.
package sntp

import (
	"errors"
	"fmt"
	"math"
	"net"
	"time"

	"github.com/beevik/ntp"
)

// Error kinds returned by Probe. All of them are recoverable by the caller:
// a syncer records the failure against the server's stats and moves on.
var (
	// ErrTimeout means no reply arrived within the probe timeout.
	ErrTimeout = errors.New("sntp: probe timed out")
	// ErrClockUnderflow means the computed epoch would precede a sane
	// reference point once the offset is applied.
	ErrClockUnderflow = errors.New("sntp: offset application underflowed epoch")
)

// NetworkError wraps a transport-level failure (DNS, dial, read).
type NetworkError struct {
	Server string
	Err    error
}

func (e *NetworkError) Error() string {
	return fmt.Sprintf("sntp: network error querying %s: %v", e.Server, e.Err)
}

func (e *NetworkError) Unwrap() error { return e.Err }

// ProtocolError wraps a reply that was received but failed SNTP-level
// validation (bad mode, leap-indicator alarm, kiss-of-death stratum 0, ...).
type ProtocolError struct {
	Server string
	Detail string
}

func (e *ProtocolError) Error() string {
	return fmt.Sprintf("sntp: protocol error from %s: %s", e.Server, e.Detail)
}

// Result is one successful SNTP exchange.
type Result struct {
	Server     string
	EpochMS    int64
	RTT        time.Duration
	OffsetMS   int64
	CapturedAt time.Time // monotonic-backed instant, paired with EpochMS
}

// DefaultPort is the standard SNTP/NTP UDP port, applied to any server
// address that doesn't specify one.
const DefaultPort = 123

// NormalizeAddress appends DefaultPort to addr if it has no port of its own.
func NormalizeAddress(addr string) string {
	if _, _, err := net.SplitHostPort(addr); err == nil {
		return addr
	}
	return net.JoinHostPort(addr, fmt.Sprintf("%d", DefaultPort))
}

// Prober performs one-shot SNTP exchanges. The zero value is ready to use.
type Prober struct{}

// Probe performs a single SNTP exchange against server (host:port) and
// returns the resulting sample. server must already carry a port; use
// NormalizeAddress when reading it out of configuration.
//
// The timing contract is strict: t0 is read immediately before the network
// call, and the paired (wall, monotonic) instant is read immediately after
// the reply arrives, with no intervening I/O — Go's time.Now() already
// returns a single value carrying both a wall-clock reading and a monotonic
// reading taken at the same instant, so capturing it once after the reply
// satisfies the "back-to-back" pairing requirement without juggling two
// separate clock reads.
func (p *Prober) Probe(server string, timeout time.Duration) (Result, error) {
	if _, _, err := net.SplitHostPort(server); err != nil {
		return Result{}, &NetworkError{Server: server, Err: fmt.Errorf("invalid address: %w", err)}
	}

	t0 := time.Now()

	resp, err := ntp.QueryWithOptions(server, ntp.QueryOptions{
		Timeout: timeout,
	})

	// captured back-to-back with the reply, per the pairing contract above.
	now := time.Now()

	if err != nil {
		var netErr net.Error
		if errors.As(err, &netErr) && netErr.Timeout() {
			return Result{}, ErrTimeout
		}
		return Result{}, &NetworkError{Server: server, Err: err}
	}

	if err := resp.Validate(); err != nil {
		return Result{}, &ProtocolError{Server: server, Detail: err.Error()}
	}

	rtt := now.Sub(t0)
	offsetMS := int64(math.Round(resp.ClockOffset.Seconds() * 1000))
	epochMS := now.UnixMilli() + offsetMS

	if epochMS < 0 {
		return Result{}, ErrClockUnderflow
	}

	return Result{
		Server:     server,
		EpochMS:    epochMS,
		RTT:        rtt,
		OffsetMS:   offsetMS,
		CapturedAt: now,
	}, nil
}
