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

// Package sysstats samples this process's own resource usage for the
// process_* Prometheus gauges.
package sysstats

import (
	"os"
	"runtime"
	"time"

	"github.com/shirou/gopsutil/process"
)

// Sample is one point-in-time read of process resource usage.
type Sample struct {
	RSSBytes   uint64
	Goroutines int
	OpenFDs    int32
}

// Sampler wraps the gopsutil handle for this process so repeated Collect
// calls don't re-resolve the pid each time.
type Sampler struct {
	proc *process.Process
}

// NewSampler resolves the current process's gopsutil handle.
func NewSampler() (*Sampler, error) {
	proc, err := process.NewProcess(int32(os.Getpid()))
	if err != nil {
		return nil, err
	}
	return &Sampler{proc: proc}, nil
}

// Collect takes one sample. A failure reading any individual gopsutil
// field (permissions, platform support) leaves that field zero rather
// than failing the whole sample — the caller is a background metrics
// loop, not something worth waking an operator over.
func (s *Sampler) Collect() Sample {
	sample := Sample{Goroutines: runtime.NumGoroutine()}

	if mem, err := s.proc.MemoryInfo(); err == nil {
		sample.RSSBytes = mem.RSS
	}
	if fds, err := s.proc.NumFDs(); err == nil {
		sample.OpenFDs = fds
	}

	return sample
}

// Run samples every interval until ctxDone is closed, pushing each sample
// to report. Intended to be started once as a background goroutine.
func Run(ctxDone <-chan struct{}, interval time.Duration, sampler *Sampler, report func(Sample)) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctxDone:
			return
		case <-ticker.C:
			report(sampler.Collect())
		}
	}
}
