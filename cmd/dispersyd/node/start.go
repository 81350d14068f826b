/*
Copyright Dispersy Authors. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package node

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	cmdcommon "github.com/tribler/dispersy/cmd/dispersyd/common"
	"github.com/tribler/dispersy/dispersy/dispersy"
	"github.com/tribler/dispersy/dispersy/util"
)

var (
	createCommunity bool
	joinCommunities []string
	announcement    string
)

// StartCmd returns the cobra command for starting a node.
func StartCmd() *cobra.Command {
	flags := nodeStartCmd.Flags()
	flags.BoolVarP(&createCommunity, "create", "", false, "Create a new community on start")
	flags.StringSliceVarP(&joinCommunities, "join", "j", nil, "Hex encoded master public key of a community to join")
	flags.StringVarP(&announcement, "announce", "a", "", "Text published to every community on start")
	return nodeStartCmd
}

var nodeStartCmd = &cobra.Command{
	Use:   "start",
	Short: "Starts the node.",
	Long:  `Starts a node that takes part in the configured communities.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		if len(args) != 0 {
			return fmt.Errorf("trailing args detected")
		}
		// Parsing of the command line is done so silence cmd usage
		cmd.SilenceUsage = true
		return serve()
	},
}

func startOptions() Options {
	opts := Options{
		Create:            createCommunity || viper.GetBool("node.create"),
		Join:              append(util.GetStringSliceOrDefault("node.join", nil), joinCommunities...),
		Announce:          viper.GetString("node.announce"),
		OperationsAddress: viper.GetString("operations.listenAddress"),
		ShutdownTimeout:   util.GetDurationOrDefault("operations.shutdownTimeout", defaultShutdownTimeout),
	}
	if announcement != "" {
		opts.Announce = announcement
	}
	return opts
}

func serve() error {
	conf, err := dispersy.GlobalConfig()
	if err != nil {
		return err
	}
	conf.DatabasePath = cmdcommon.GetPath("dispersy.databasePath")
	if conf.DatabasePath == "" {
		conf.DatabasePath = dispersy.DefaultConfig().DatabasePath
	}

	key, err := cmdcommon.LoadOrCreateKey(keyFile(), conf.MasterKeyStrength)
	if err != nil {
		return err
	}
	n, err := New(conf, key, startOptions())
	if err != nil {
		return err
	}
	defer n.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go handleSignals(map[os.Signal]func(){
		syscall.SIGINT:  cancel,
		syscall.SIGTERM: cancel,
	})

	logger.Infof("Started dispersyd with member %s on %s", n.My, n.Address())
	return n.Run(ctx)
}

func keyFile() string {
	if path := cmdcommon.GetPath("node.keyFile"); path != "" {
		return path
	}
	return defaultKeyFile
}

func handleSignals(handlers map[os.Signal]func()) {
	var signals []os.Signal
	for sig := range handlers {
		signals = append(signals, sig)
	}

	signalChan := make(chan os.Signal, 1)
	signal.Notify(signalChan, signals...)

	for sig := range signalChan {
		logger.Infof("Received signal: %d (%s)", sig, sig)
		handlers[sig]()
	}
}
