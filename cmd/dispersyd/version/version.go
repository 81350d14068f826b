/*
Copyright Dispersy Authors. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package version

import (
	"fmt"
	"runtime"

	"github.com/spf13/cobra"
	"github.com/tribler/dispersy/dispersy/conversion"
)

// ProgramName is the name of the daemon.
const ProgramName = "dispersyd"

// Version and CommitSHA are set at build time with -ldflags.
var (
	Version   string
	CommitSHA = "development build"
)

// Cmd returns the Cobra Command for Version
func Cmd() *cobra.Command {
	return cobraCommand
}

var cobraCommand = &cobra.Command{
	Use:   "version",
	Short: "Print dispersyd version.",
	Long:  `Print current version of the dispersyd daemon.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		if len(args) != 0 {
			return fmt.Errorf("trailing args detected")
		}
		cmd.SilenceUsage = true
		fmt.Fprint(cmd.OutOrStdout(), GetInfo())
		return nil
	},
}

// GetInfo returns version information for the daemon.
func GetInfo() string {
	if Version == "" {
		Version = "development build"
	}
	return fmt.Sprintf("%s:\n Version: %s\n Commit SHA: %s\n Wire version: %d.%d\n Go version: %s\n OS/Arch: %s\n",
		ProgramName, Version, CommitSHA,
		conversion.DefaultVersion[0], conversion.DefaultVersion[1],
		runtime.Version(), fmt.Sprintf("%s/%s", runtime.GOOS, runtime.GOARCH))
}
