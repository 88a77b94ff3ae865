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

package isotime

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRoundTrip(t *testing.T) {
	cases := []int64{
		0,
		1_700_000_000_123,
		-1,
		-62_135_596_800_000, // year 1
		253_402_300_799_000, // year 9999
	}
	for _, ms := range cases {
		s := FormatMS(ms)
		got, err := ParseMS(s)
		require.NoError(t, err)
		assert.Equal(t, ms, got, "round trip of %d via %q", ms, s)
	}
}

func TestFormatIsUTC(t *testing.T) {
	s := FormatMS(1_700_000_000_000)
	assert.Contains(t, s, "Z")
}
