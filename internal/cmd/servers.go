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
	"fmt"
	"os"

	"github.com/fatih/color"
	"github.com/olekukonko/tablewriter"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/timekeepd/timekeepd/internal/sntp"
	"github.com/timekeepd/timekeepd/internal/syncer"
)

var serversCmd = &cobra.Command{
	Use:   "servers",
	Short: "probe every configured NTP server once and print a status table",
	RunE: func(cmd *cobra.Command, args []string) error {
		configureLogging()
		return runServers()
	},
}

func init() {
	RootCmd.AddCommand(serversCmd)
}

var (
	okString   = color.GreenString("[ OK ]")
	failString = color.RedString("[FAIL]")
)

func runServers() error {
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

	if _, err := s.Sync(context.Background()); err != nil {
		log.Warnf("sync round did not reach consensus: %v", err)
	}

	table := tablewriter.NewWriter(os.Stdout)
	table.SetHeader([]string{"address", "rtt", "offset", "status"})

	for _, snap := range s.AllStats() {
		status := okString
		extra := ""
		if snap.Disabled {
			status = failString
			extra = fmt.Sprintf(" (%d consecutive failures)", snap.ConsecutiveFailures)
		}
		rtt := "—"
		offset := "—"
		if !snap.LastSuccess.IsZero() {
			rtt = snap.LastRTT.String()
			offset = fmt.Sprintf("%+dms", snap.LastOffsetMS)
		}
		table.Append([]string{snap.Address, rtt, offset, status + extra})
	}

	table.Render()
	return nil
}
