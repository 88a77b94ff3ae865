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

package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultValidates(t *testing.T) {
	c := Default()
	c.NTP.Servers = []string{"time.cloudflare.com"}
	assert.NoError(t, c.Validate())
	assert.Equal(t, 5*time.Second, c.RequestTimeout)
	assert.Equal(t, 1*time.Second, c.WS.UpdateInterval)
}

func TestValidateEmptyServers(t *testing.T) {
	c := Default()
	err := c.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "ntp.servers must not be empty")
}

func TestValidateProbeIntervalOrdering(t *testing.T) {
	c := Default()
	c.NTP.Servers = []string{"time.cloudflare.com"}
	c.NTP.ProbeMinIntervalSecs = 100
	c.NTP.ProbeMaxIntervalSecs = 10
	err := c.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "probe_min_interval_secs")
}

func TestValidateCollectsMultipleErrors(t *testing.T) {
	c := Default()
	c.NTP.SyncIntervalSecs = 0
	c.NTP.SampleServersPerSync = 0
	err := c.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "ntp.servers must not be empty")
	assert.Contains(t, err.Error(), "sync_interval_secs")
	assert.Contains(t, err.Error(), "sample_servers_per_sync")
}

func TestReadConfigNormalizesBareServerNames(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "timekeepd.yaml")
	yamlContent := "addr: \"127.0.0.1:9090\"\nntp:\n  servers:\n    - time.cloudflare.com\n    - 192.0.2.1:124\n"
	require.NoError(t, os.WriteFile(path, []byte(yamlContent), 0o600))

	c, err := ReadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, "127.0.0.1:9090", c.Addr)
	assert.Equal(t, []string{"time.cloudflare.com:123", "192.0.2.1:124"}, c.NTP.Servers)
	// defaults not present in the file survive the overlay.
	assert.Equal(t, 1000, c.WS.UpdateIntervalMS)
	assert.NoError(t, c.Validate())
}

func TestReadConfigMissingFile(t *testing.T) {
	_, err := ReadConfig(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}
