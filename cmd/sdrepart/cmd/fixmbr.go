// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at http://mozilla.org/MPL/2.0/.

package cmd

import (
	"context"
	"fmt"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/siderolabs/sdrepart/internal/pkg/partition"
	"github.com/siderolabs/sdrepart/pkg/blockdevice"
)

var fixMBRCmd = &cobra.Command{
	Use:   "fix-mbr <device>",
	Short: "Rebuild a hybrid MBR from the GPT",
	Long: `Rewrite the MBR so that legacy readers see the primary volume and the
secondary system partitions described by the GPT.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withDevice(cmd.Context(), args[0], false, func(_ context.Context, dev *blockdevice.File) error {
			repair, err := partition.RepairHybridMBR(dev, prompter(), state.logger)
			if err != nil {
				return err
			}

			switch {
			case !repair.Changed:
				fmt.Println(color.GreenString("MBR is up to date"))
			case repair.Written:
				fmt.Printf("%s\n\n%s\n", color.GreenString("hybrid MBR written"), partition.FormatMBR(repair.New))
			default:
				fmt.Println(color.YellowString("MBR left unchanged"))
			}

			return nil
		})
	},
}

func init() {
	rootCmd.AddCommand(fixMBRCmd)
}
