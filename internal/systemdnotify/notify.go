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

// Package systemdnotify talks to the systemd notify socket: readiness on
// startup and periodic watchdog keepalives while the process is healthy.
package systemdnotify

import (
	"time"

	"github.com/coreos/go-systemd/daemon"
	log "github.com/sirupsen/logrus"
)

// Ready notifies systemd that the service has finished starting up. It is
// not an error for NOTIFY_SOCKET to be unset — that just means the process
// isn't running under systemd at all.
func Ready() error {
	// daemon.SdNotify returns one of:
	// (false, nil) - notification not supported (NOTIFY_SOCKET unset)
	// (false, err) - notification supported, but sending failed
	// (true, nil)  - notification supported, data sent
	supported, err := daemon.SdNotify(false, daemon.SdNotifyReady)
	if !supported && err != nil {
		return err
	} else if !supported {
		log.Debug("sd_notify not supported, skipping readiness notification")
	} else {
		log.Info("sent sd_notify READY=1")
	}
	return nil
}

// WatchdogInterval returns the watchdog ping interval systemd configured
// via WATCHDOG_USEC, halved per the systemd.service recommendation of
// pinging at least twice per timeout. ok is false if no watchdog is
// configured.
func WatchdogInterval() (interval time.Duration, ok bool) {
	interval, err := daemon.SdWatchdogEnabled(false)
	if err != nil || interval == 0 {
		return 0, false
	}
	return interval / 2, true
}

// RunWatchdog pings the systemd watchdog on interval until ctxDone is
// closed. Intended to be started once as a background goroutine; it does
// not wait for Ready.
func RunWatchdog(ctxDone <-chan struct{}, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctxDone:
			return
		case <-ticker.C:
			if _, err := daemon.SdNotify(false, daemon.SdNotifyWatchdog); err != nil {
				log.Warnf("sd_notify watchdog ping failed: %v", err)
			}
		}
	}
}
