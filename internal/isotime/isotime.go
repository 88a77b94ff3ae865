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

// Package isotime formats and parses the millisecond-precision ISO 8601
// timestamps sent on the /stream push interface, losslessly round-tripping
// epoch milliseconds through the wire format.
package isotime

import "time"

// layout keeps a fixed three-digit fractional-second field so Format/Parse
// round-trip exactly at millisecond granularity.
const layout = "2006-01-02T15:04:05.000Z07:00"

// FormatMS renders epochMS as a UTC ISO 8601 timestamp.
func FormatMS(epochMS int64) string {
	return time.UnixMilli(epochMS).UTC().Format(layout)
}

// ParseMS parses a timestamp previously produced by FormatMS (or any
// RFC3339-compatible string with up to nanosecond precision) back into
// epoch milliseconds.
func ParseMS(s string) (int64, error) {
	t, err := time.Parse(layout, s)
	if err != nil {
		// fall back to the fuller RFC3339Nano layout, to accept
		// timestamps with more than millisecond precision.
		t, err = time.Parse(time.RFC3339Nano, s)
		if err != nil {
			return 0, err
		}
	}
	return t.UnixMilli(), nil
}
