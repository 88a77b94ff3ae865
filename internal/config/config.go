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

// Package config loads and validates timekeepd's configuration surface:
// the HTTP listener, the NTP polling policy, the response message
// strings, and the WebSocket stream parameters.
package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	yaml "gopkg.in/yaml.v2"

	"github.com/timekeepd/timekeepd/internal/sntp"
)

// NTP holds everything that shapes a sync round.
type NTP struct {
	Servers                []string      `yaml:"servers"`
	TimeoutSecs            int           `yaml:"timeout_secs"`
	SyncIntervalSecs       int           `yaml:"sync_interval_secs"`
	ProbeMinIntervalSecs   int           `yaml:"probe_min_interval_secs"`
	ProbeMaxIntervalSecs   int           `yaml:"probe_max_interval_secs"`
	MaxStalenessSecs       int           `yaml:"max_staleness_secs"`
	RequireSync            bool          `yaml:"require_sync"`
	MaxOffsetSkewMS        int64         `yaml:"max_offset_skew_ms"`
	MonotonicOutput        bool          `yaml:"monotonic_output"`
	OffsetBiasMS           int64         `yaml:"offset_bias_ms"`
	MaxConsecutiveFailures int           `yaml:"max_consecutive_failures"`
	SampleServersPerSync   int           `yaml:"sample_servers_per_sync"`
	Timeout                time.Duration `yaml:"-"`
	SyncInterval           time.Duration `yaml:"-"`
	ProbeMinInterval       time.Duration `yaml:"-"`
	ProbeMaxInterval       time.Duration `yaml:"-"`
	MaxStaleness           time.Duration `yaml:"-"`
}

// Messages holds every user-facing response string, so operators can
// localize or rebrand them without touching code.
type Messages struct {
	OK            string `yaml:"ok"`
	OKCache       string `yaml:"ok_cache"`
	Error         string `yaml:"error"`
	ErrorNoSync   string `yaml:"error_no_sync"`
	ErrorInternal string `yaml:"error_internal"`
	ErrorTimeout  string `yaml:"error_timeout"`
}

// WS configures the /stream push interface.
type WS struct {
	UpdateIntervalMS int           `yaml:"update_interval_ms"`
	MaxDurationSecs  int           `yaml:"max_duration_secs"`
	UpdateInterval   time.Duration `yaml:"-"`
	MaxDuration      time.Duration `yaml:"-"`
}

// Config is timekeepd's full runtime configuration.
type Config struct {
	Addr               string `yaml:"addr"`
	RequestTimeoutSecs int    `yaml:"request_timeout_secs"`
	BodyLimitBytes     int64  `yaml:"body_limit_bytes"`
	TCPNoDelay         bool   `yaml:"tcp_nodelay"`
	TCPKeepAliveSecs   int    `yaml:"tcp_keepalive_secs"`

	RequestTimeout time.Duration `yaml:"-"`

	NTP      NTP      `yaml:"ntp"`
	Messages Messages `yaml:"messages"`
	WS       WS       `yaml:"ws"`
}

// Default returns a Config populated with every default named in the
// configuration surface, ready to be overridden by a loaded file and then
// validated. No CLI flag overrides individual fields.
func Default() *Config {
	c := &Config{
		Addr:               "0.0.0.0:8080",
		RequestTimeoutSecs: 5,
		BodyLimitBytes:     1024,
		TCPNoDelay:         true,
		NTP: NTP{
			TimeoutSecs:            2,
			SyncIntervalSecs:       30,
			ProbeMinIntervalSecs:   30,
			ProbeMaxIntervalSecs:   90,
			MaxStalenessSecs:       120,
			RequireSync:            true,
			MaxOffsetSkewMS:        1000,
			MonotonicOutput:        true,
			MaxConsecutiveFailures: 10,
			SampleServersPerSync:   1,
		},
		Messages: Messages{
			OK:            "ok",
			OKCache:       "ok_cache",
			Error:         "error",
			ErrorNoSync:   "not synchronized with any time server",
			ErrorInternal: "internal error",
			ErrorTimeout:  "request timed out",
		},
		WS: WS{
			UpdateIntervalMS: 1000,
			MaxDurationSecs:  3600,
		},
	}
	c.resolveDurations()
	return c
}

// ReadConfig reads a YAML config file on top of the documented defaults;
// anything the file doesn't mention keeps its default.
func ReadConfig(path string) (*Config, error) {
	c := Default()
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config from %q: %w", path, err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return nil, fmt.Errorf("parsing config %q: %w", path, err)
	}
	c.resolveDurations()
	c.normalizeServers()
	return c, nil
}

// resolveDurations fills in the time.Duration fields derived from the
// plain-integer-seconds/milliseconds YAML fields. Call after every
// Unmarshal, since yaml.v2 doesn't see the unexported-by-tag duration
// fields.
func (c *Config) resolveDurations() {
	c.RequestTimeout = time.Duration(c.RequestTimeoutSecs) * time.Second
	c.NTP.Timeout = time.Duration(c.NTP.TimeoutSecs) * time.Second
	c.NTP.SyncInterval = time.Duration(c.NTP.SyncIntervalSecs) * time.Second
	c.NTP.ProbeMinInterval = time.Duration(c.NTP.ProbeMinIntervalSecs) * time.Second
	c.NTP.ProbeMaxInterval = time.Duration(c.NTP.ProbeMaxIntervalSecs) * time.Second
	c.NTP.MaxStaleness = time.Duration(c.NTP.MaxStalenessSecs) * time.Second
	c.WS.UpdateInterval = time.Duration(c.WS.UpdateIntervalMS) * time.Millisecond
	c.WS.MaxDuration = time.Duration(c.WS.MaxDurationSecs) * time.Second
}

// normalizeServers appends the default SNTP port to any bare server name.
func (c *Config) normalizeServers() {
	for i, s := range c.NTP.Servers {
		c.NTP.Servers[i] = sntp.NormalizeAddress(s)
	}
}

// Validate collects every configuration problem rather than stopping at
// the first one, so the operator sees the full list in one pass.
func (c *Config) Validate() error {
	var errs []error

	if len(c.NTP.Servers) == 0 {
		errs = append(errs, errors.New("ntp.servers must not be empty"))
	}
	if c.NTP.ProbeMinIntervalSecs > c.NTP.ProbeMaxIntervalSecs {
		errs = append(errs, fmt.Errorf("ntp.probe_min_interval_secs (%d) must be <= ntp.probe_max_interval_secs (%d)",
			c.NTP.ProbeMinIntervalSecs, c.NTP.ProbeMaxIntervalSecs))
	}
	if c.NTP.SyncIntervalSecs < 1 {
		errs = append(errs, fmt.Errorf("ntp.sync_interval_secs must be >= 1, got %d", c.NTP.SyncIntervalSecs))
	}
	if c.NTP.SampleServersPerSync < 1 {
		errs = append(errs, fmt.Errorf("ntp.sample_servers_per_sync must be >= 1, got %d", c.NTP.SampleServersPerSync))
	}
	if c.NTP.MaxConsecutiveFailures < 1 {
		errs = append(errs, fmt.Errorf("ntp.max_consecutive_failures must be >= 1, got %d", c.NTP.MaxConsecutiveFailures))
	}
	if c.Addr == "" {
		errs = append(errs, errors.New("addr must not be empty"))
	}
	if c.BodyLimitBytes < 1 {
		errs = append(errs, fmt.Errorf("body_limit_bytes must be >= 1, got %d", c.BodyLimitBytes))
	}

	return errors.Join(errs...)
}
