/*
Copyright Dispersy Authors. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package node

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	cmdcommon "github.com/tribler/dispersy/cmd/dispersyd/common"
	"github.com/tribler/dispersy/dispersy/common"
	"github.com/tribler/dispersy/dispersy/store"
	yaml "gopkg.in/yaml.v2"
)

var statusFormat string

// StatusCmd returns the cobra command that summarizes the message store.
func StatusCmd() *cobra.Command {
	nodeStatusCmd.Flags().StringVarP(&statusFormat, "output", "o", "table", "Output format: table, json or yaml")
	return nodeStatusCmd
}

var nodeStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Returns status of the message store.",
	Long:  `Lists the stored communities with their global time, packet and candidate counts.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		if len(args) != 0 {
			return fmt.Errorf("trailing args detected: %s", args)
		}
		cmd.SilenceUsage = true
		path := cmdcommon.GetPath("dispersy.databasePath")
		if path == "" {
			return errors.New("dispersy.databasePath is not set")
		}
		return status(cmd.OutOrStdout(), path, statusFormat)
	},
}

// CommunityStatus summarizes one stored community.
type CommunityStatus struct {
	CID            string `json:"cid" yaml:"cid"`
	Classification string `json:"classification" yaml:"classification"`
	AutoLoad       bool   `json:"auto_load" yaml:"auto_load"`
	GlobalTime     uint64 `json:"global_time" yaml:"global_time"`
	Packets        int    `json:"packets" yaml:"packets"`
	Candidates     int    `json:"candidates" yaml:"candidates"`
}

func readStatus(db *store.DB) ([]CommunityStatus, error) {
	rows, err := db.Query(`SELECT community.cid, community.classification, community.auto_load,
			(SELECT IFNULL(MAX(global_time), 0) FROM sync WHERE sync.community = community.id),
			(SELECT COUNT(*) FROM sync WHERE sync.community = community.id),
			(SELECT COUNT(*) FROM candidate WHERE candidate.community = community.id)
		FROM community ORDER BY community.id`)
	if err != nil {
		return nil, errors.Wrap(err, "failed reading communities")
	}
	defer rows.Close()

	var result []CommunityStatus
	for rows.Next() {
		var (
			st  CommunityStatus
			raw []byte
		)
		if err := rows.Scan(&raw, &st.Classification, &st.AutoLoad, &st.GlobalTime, &st.Packets, &st.Candidates); err != nil {
			return nil, errors.Wrap(err, "failed reading community")
		}
		cid, err := common.CIDFromBytes(raw)
		if err != nil {
			return nil, err
		}
		st.CID = cid.String()
		result = append(result, st)
	}
	return result, errors.Wrap(rows.Err(), "failed reading communities")
}

func status(out io.Writer, path, format string) error {
	if _, err := os.Stat(path); err != nil {
		return errors.Wrapf(err, "no message store at %s", path)
	}
	db, err := store.Open(path, nil)
	if err != nil {
		return err
	}
	defer db.Close()

	communities, err := readStatus(db)
	if err != nil {
		return err
	}

	switch format {
	case "json":
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(communities)
	case "yaml":
		raw, err := yaml.Marshal(communities)
		if err != nil {
			return errors.Wrap(err, "failed encoding status")
		}
		_, err = out.Write(raw)
		return err
	case "table", "":
		w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "CID\tCLASSIFICATION\tAUTO LOAD\tGLOBAL TIME\tPACKETS\tCANDIDATES")
		for _, c := range communities {
			fmt.Fprintf(w, "%s\t%s\t%t\t%d\t%d\t%d\n", c.CID, c.Classification, c.AutoLoad, c.GlobalTime, c.Packets, c.Candidates)
		}
		return w.Flush()
	}
	return errors.Errorf("unknown output format %q", format)
}
