/*
Copyright Dispersy Authors. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package node

import (
	"fmt"
	"io"
	"os"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	cmdcommon "github.com/tribler/dispersy/cmd/dispersyd/common"
	"github.com/tribler/dispersy/dispersy/crypto"
)

const defaultKeyFile = "member.pem"

var (
	keyStrength string
	keyOut      string
	keyForce    bool
)

// KeygenCmd returns the cobra command that generates a member key.
func KeygenCmd() *cobra.Command {
	flags := keygenCmd.Flags()
	flags.StringVarP(&keyStrength, "strength", "s", string(crypto.Medium), "Key strength: very-low, low, medium or high")
	flags.StringVarP(&keyOut, "out", "o", "", "File the PEM encoded key is written to, node.keyFile when empty")
	flags.BoolVarP(&keyForce, "force", "f", false, "Overwrite an existing key")
	return keygenCmd
}

var keygenCmd = &cobra.Command{
	Use:   "keygen",
	Short: "Generates a member key.",
	Long:  `Generates a private member key and prints the member id derived from it.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		if len(args) != 0 {
			return fmt.Errorf("trailing args detected")
		}
		cmd.SilenceUsage = true
		path := keyOut
		if path == "" {
			path = keyFile()
		}
		return keygen(cmd.OutOrStdout(), path, crypto.Strength(keyStrength), keyForce)
	},
}

func keygen(out io.Writer, path string, strength crypto.Strength, force bool) error {
	if _, err := os.Stat(path); err == nil && !force {
		return errors.Errorf("%s already exists, use --force to replace it", path)
	}
	key, err := crypto.GenerateKey(strength)
	if err != nil {
		return err
	}
	if err := cmdcommon.WriteKey(path, key); err != nil {
		return err
	}
	pub, err := crypto.PublicKeyToBin(&key.PublicKey)
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "Key: %s\nStrength: %s\nMember: %s\n", path, strength, crypto.Mid(pub))
	return nil
}
