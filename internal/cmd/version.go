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
	"fmt"

	"github.com/spf13/cobra"
)

// Version and Commit are set at link time via -ldflags; for a plain
// `go build` they default to "dev" and "unknown".
var (
	Version = "dev"
	Commit  = "unknown"
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "print the build version and commit",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("timekeepd %s (%s)\n", Version, Commit)
	},
}

func init() {
	RootCmd.AddCommand(versionCmd)
}
