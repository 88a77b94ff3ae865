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

// Package cache preformats the /time JSON response body on every TimeBase
// update, so the request hot path is usually a pointer load rather than a
// serialization: requests landing within the same millisecond as the
// cached payload reuse it outright, and only a millisecond rollover pays
// for a rebuild.
package cache

import (
	"encoding/json"
	"sync/atomic"
)

// timeResponse is the wire shape of a successful /time reply.
type timeResponse struct {
	Data    int64  `json:"data"`
	Message string `json:"message"`
	Status  int    `json:"status"`
}

type payload struct {
	epochMS int64
	fresh   []byte
	stale   []byte
}

// Cache holds the two preformatted response bodies (fresh and
// staleness-flagged) behind an atomically-swapped pointer.
type Cache struct {
	p            atomic.Pointer[payload]
	okMessage    string
	cacheMessage string
}

// New creates a Cache that hasn't been populated yet; Get will return a
// zero-value JSON document until the first Update.
func New(okMessage, okCacheMessage string) *Cache {
	c := &Cache{okMessage: okMessage, cacheMessage: okCacheMessage}
	c.Update(0)
	return c
}

// Update builds both response bodies for epochMS and atomically publishes
// them. Two consecutive calls with the same epochMS produce byte-identical
// output.
func (c *Cache) Update(epochMS int64) {
	c.p.Store(c.build(epochMS))
}

func (c *Cache) build(epochMS int64) *payload {
	fresh, err := json.Marshal(timeResponse{Data: epochMS, Message: c.okMessage, Status: 200})
	if err != nil {
		// timeResponse is always marshalable; this would indicate a
		// programming error, not a runtime condition to recover from.
		panic(err)
	}
	stale, err := json.Marshal(timeResponse{Data: epochMS, Message: c.cacheMessage, Status: 200})
	if err != nil {
		panic(err)
	}
	return &payload{epochMS: epochMS, fresh: fresh, stale: stale}
}

// Get returns the current preformatted body. stale selects the
// staleness-flagged message variant; the data and status are identical
// either way.
func (c *Cache) Get(stale bool) []byte {
	p := c.p.Load()
	if stale {
		return p.stale
	}
	return p.fresh
}

// Serve returns the preformatted body for epochMS. When the cached payload
// already holds epochMS the bytes are served as-is (hit=true) with nothing
// but an atomic pointer load; otherwise the payload is rebuilt for the
// requested millisecond and republished. Concurrent misses for different
// milliseconds may publish out of order; each caller still returns the
// bytes built for its own epoch, and the next request simply rebuilds.
func (c *Cache) Serve(epochMS int64, stale bool) (body []byte, hit bool) {
	p := c.p.Load()
	hit = p.epochMS == epochMS
	if !hit {
		p = c.build(epochMS)
		c.p.Store(p)
	}
	if stale {
		return p.stale, hit
	}
	return p.fresh, hit
}
