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

// Package selector picks the best sample out of a batch of SNTP probe
// results, rejecting outliers against the batch's median offset.
package selector

import (
	"sort"

	"github.com/timekeepd/timekeepd/internal/sntp"
)

// SelectBest implements the distance-to-median selection policy: it
// minimizes distance to the consensus offset first, using RTT only as a
// tiebreaker. A low-RTT server with a drifted clock is worse than a
// higher-RTT server that agrees with everyone else.
//
// Returns ok=false only when results is empty. degraded is true when no
// sample fell within maxOffsetSkewMS of the median and the minimum-RTT
// fallback had to be used instead.
func SelectBest(results []sntp.Result, maxOffsetSkewMS int64) (best sntp.Result, degraded bool, ok bool) {
	switch len(results) {
	case 0:
		return sntp.Result{}, false, false
	case 1:
		return results[0], false, true
	}

	median := medianOffset(results)

	var inliers []sntp.Result
	for _, r := range results {
		if abs64(r.OffsetMS-median) <= maxOffsetSkewMS {
			inliers = append(inliers, r)
		}
	}

	if len(inliers) == 0 {
		return minRTT(results), true, true
	}

	return closestToMedian(inliers, median), false, true
}

func medianOffset(results []sntp.Result) int64 {
	offsets := make([]int64, len(results))
	for i, r := range results {
		offsets[i] = r.OffsetMS
	}
	sort.Slice(offsets, func(i, j int) bool { return offsets[i] < offsets[j] })

	n := len(offsets)
	if n%2 == 1 {
		return offsets[n/2]
	}
	// lower median on even counts
	return offsets[n/2-1]
}

func closestToMedian(results []sntp.Result, median int64) sntp.Result {
	best := results[0]
	bestDist := abs64(best.OffsetMS - median)

	for _, r := range results[1:] {
		dist := abs64(r.OffsetMS - median)
		switch {
		case dist < bestDist:
			best, bestDist = r, dist
		case dist == bestDist && r.RTT < best.RTT:
			best, bestDist = r, dist
		case dist == bestDist && r.RTT == best.RTT && r.Server < best.Server:
			best, bestDist = r, dist
		}
	}
	return best
}

func minRTT(results []sntp.Result) sntp.Result {
	best := results[0]
	for _, r := range results[1:] {
		if r.RTT < best.RTT {
			best = r
		}
	}
	return best
}

func abs64(v int64) int64 {
	if v < 0 {
		return -v
	}
	return v
}
