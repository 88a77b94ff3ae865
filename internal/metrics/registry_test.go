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
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistryHandlerExposesRecordedMetrics(t *testing.T) {
	r := NewRegistry("1.2.3", "abcdef")

	r.ObserveHTTPRequest("GET", "/healthz", 200, 5*time.Millisecond)
	r.InflightInc()
	defer r.InflightDec()
	r.ObserveSyncSuccess(time.Now())
	r.SetStaleness(2 * time.Second)
	r.SetServerHealth("ntp.example.com:123", 12*time.Millisecond, 0, true)
	r.SetProcessStats(1024, 9, 5)

	req := httptest.NewRequest("GET", "/metrics", nil)
	rec := httptest.NewRecorder()
	r.Handler().ServeHTTP(rec, req)

	require.Equal(t, 200, rec.Code)
	body := rec.Body.String()

	assert.Contains(t, body, "timekeepd_build_info")
	assert.Contains(t, body, `version="1.2.3"`)
	assert.Contains(t, body, "timekeepd_http_requests_total")
	assert.Contains(t, body, "timekeepd_ntp_sync_total")
	assert.Contains(t, body, "timekeepd_ntp_staleness_seconds 2")
	assert.Contains(t, body, `timekeepd_ntp_server_up{server="ntp.example.com:123"} 1`)
	assert.Contains(t, body, "timekeepd_process_resident_memory_bytes 1024")
}

func TestObserveSyncFailureIncrementsErrorCounter(t *testing.T) {
	r := NewRegistry("dev", "none")
	r.ObserveSyncFailure()
	r.ObserveSyncFailure()

	req := httptest.NewRequest("GET", "/metrics", nil)
	rec := httptest.NewRecorder()
	r.Handler().ServeHTTP(rec, req)

	body := rec.Body.String()
	assert.Contains(t, body, "timekeepd_ntp_sync_errors_total 2")
	assert.Contains(t, body, "timekeepd_ntp_sync_total 2")
}
