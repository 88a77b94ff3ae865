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

package cmd

import (
	"context"
	"os"
	"os/signal"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	syscall "golang.org/x/sys/unix"

	"github.com/timekeepd/timekeepd/internal/cache"
	"github.com/timekeepd/timekeepd/internal/config"
	"github.com/timekeepd/timekeepd/internal/metrics"
	"github.com/timekeepd/timekeepd/internal/scheduler"
	"github.com/timekeepd/timekeepd/internal/serving"
	"github.com/timekeepd/timekeepd/internal/sntp"
	"github.com/timekeepd/timekeepd/internal/syncer"
	"github.com/timekeepd/timekeepd/internal/sysstats"
	"github.com/timekeepd/timekeepd/internal/systemdnotify"
	"github.com/timekeepd/timekeepd/internal/timebase"
)

const sysstatsInterval = 15 * time.Second

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "run the timekeepd service",
	RunE: func(cmd *cobra.Command, args []string) error {
		configureLogging()
		return runServe()
	},
}

func init() {
	RootCmd.AddCommand(serveCmd)
}

func loadConfig() (*config.Config, error) {
	if configPath == "" {
		return config.Default(), nil
	}
	return config.ReadConfig(configPath)
}

func runServe() error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	prober := &sntp.Prober{}
	s := syncer.New(cfg.NTP.Servers, prober, syncer.Config{
		Timeout:                cfg.NTP.Timeout,
		MaxOffsetSkewMS:        cfg.NTP.MaxOffsetSkewMS,
		OffsetBiasMS:           cfg.NTP.OffsetBiasMS,
		MaxConsecutiveFailures: cfg.NTP.MaxConsecutiveFailures,
	})

	base := timebase.New(cfg.NTP.MonotonicOutput)
	timeCache := cache.New(cfg.Messages.OK, cfg.Messages.OKCache)
	perf := metrics.NewPerf()
	registry := metrics.NewRegistry(Version, Commit)

	sched := scheduler.New(s, base, timeCache, perf, registry, scheduler.Config{
		SyncInterval:     cfg.NTP.SyncInterval,
		ProbeMinInterval: cfg.NTP.ProbeMinInterval,
		ProbeMaxInterval: cfg.NTP.ProbeMaxInterval,
	})

	server := serving.New(*cfg, base, timeCache, perf, registry, sched)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT)
	go func() {
		sig := <-sigCh
		log.Infof("received %s, shutting down gracefully", sig)
		cancel()
	}()

	go sched.Run(ctx)
	go runSysstats(ctx, registry)
	go runWatchdog(ctx)

	log.Infof("timekeepd listening on %s", cfg.Addr)
	if err := server.ListenAndServe(ctx); err != nil {
		log.Errorf("serving loop exited with error: %v", err)
		return err
	}
	return nil
}

// runSysstats periodically folds this process's own resource usage into
// the process_* Prometheus gauges.
func runSysstats(ctx context.Context, registry *metrics.Registry) {
	sampler, err := sysstats.NewSampler()
	if err != nil {
		log.Warnf("sysstats: could not resolve process handle, process_* gauges disabled: %v", err)
		return
	}
	sysstats.Run(ctx.Done(), sysstatsInterval, sampler, func(sample sysstats.Sample) {
		registry.SetProcessStats(sample.RSSBytes, sample.Goroutines, sample.OpenFDs)
	})
}

// runWatchdog pings systemd's watchdog if WATCHDOG_USEC is set; it's a
// no-op everywhere else.
func runWatchdog(ctx context.Context) {
	interval, ok := systemdnotify.WatchdogInterval()
	if !ok {
		return
	}
	systemdnotify.RunWatchdog(ctx.Done(), interval)
}
