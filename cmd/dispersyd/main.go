/*
Copyright Dispersy Authors. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package main

import (
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"github.com/tribler/dispersy/cmd/dispersyd/common"
	"github.com/tribler/dispersy/cmd/dispersyd/node"
	"github.com/tribler/dispersy/cmd/dispersyd/version"
	"github.com/tribler/dispersy/common/flogging"
)

// commands that run without a configuration file
var configOptional = map[string]bool{
	"keygen":  true,
	"version": true,
}

var (
	configFile   string
	loggingLevel string
)

var mainCmd = &cobra.Command{
	Use:   "dispersyd",
	Short: "Permissioned gossip overlay daemon.",
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if configFile != "" || !configOptional[cmd.Name()] {
			if err := common.InitConfig(configFile); err != nil {
				return err
			}
		} else if err := common.InitViper(viper.GetViper(), common.CmdRoot); err != nil {
			return err
		}
		flogging.Init(common.LoggingConfig(loggingLevel))
		return nil
	},
}

func addGlobalFlags(flags *pflag.FlagSet) {
	flags.StringVarP(&configFile, "config", "c", "", "Configuration file, dispersy.yaml on DISPERSY_CFG_PATH when empty")
	flags.StringVar(&loggingLevel, "logging-level", "", "Logging spec overriding logging.spec")
}

func main() {
	addGlobalFlags(mainCmd.PersistentFlags())

	mainCmd.AddCommand(version.Cmd())
	mainCmd.AddCommand(node.StartCmd())
	mainCmd.AddCommand(node.StatusCmd())
	mainCmd.AddCommand(node.KeygenCmd())

	if mainCmd.Execute() != nil {
		os.Exit(1)
	}
}
