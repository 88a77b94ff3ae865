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

// Package cmd is timekeepd's CLI surface: serve runs the long-lived
// daemon, servers probes every configured server once and prints a
// table, version reports the build identity.
package cmd

import (
	"fmt"
	"os"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

// RootCmd is timekeepd's entry point; subcommands register themselves
// from their own init().
var RootCmd = &cobra.Command{
	Use:   "timekeepd",
	Short: "a disciplined-time serving daemon",
}

var (
	logLevel   string
	configPath string
)

func init() {
	RootCmd.PersistentFlags().StringVar(&logLevel, "loglevel", "info", "log level: debug, info, warning, error")
	RootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to a YAML config file; defaults are used for anything not present")
}

// configureLogging applies the --loglevel flag.
func configureLogging() {
	switch logLevel {
	case "debug":
		log.SetLevel(log.DebugLevel)
	case "info":
		log.SetLevel(log.InfoLevel)
	case "warning":
		log.SetLevel(log.WarnLevel)
	case "error":
		log.SetLevel(log.ErrorLevel)
	default:
		log.Fatalf("unrecognized log level: %v", logLevel)
	}
}

// Execute is the main entry point for the CLI.
func Execute() {
	if err := RootCmd.Execute(); err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
}
