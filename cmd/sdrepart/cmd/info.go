// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at http://mozilla.org/MPL/2.0/.

package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/siderolabs/sdrepart/internal/pkg/flash"
	"github.com/siderolabs/sdrepart/internal/pkg/partition"
	"github.com/siderolabs/sdrepart/pkg/blockdevice"
	"github.com/siderolabs/sdrepart/pkg/blockdevice/filesystem/vfat"
	"github.com/siderolabs/sdrepart/pkg/blockdevice/lba"
	"github.com/siderolabs/sdrepart/pkg/cli"
)

var infoCmd = &cobra.Command{
	Use:   "info <device>",
	Short: "Show the partition tables of the card",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withDevice(cmd.Context(), args[0], true, func(_ context.Context, dev *blockdevice.File) error {
			fmt.Printf("%s: %s\n\n", args[0], humanize.IBytes(dev.Sectors()*lba.SectorSize))

			layout, err := partition.ReadLayout(dev)
			if err != nil {
				return err
			}

			if err = cli.RenderLayout(layout, os.Stdout); err != nil {
				return err
			}

			if primary := layout.MBR.Entries[0]; !primary.IsEmpty() {
				if sb, probeErr := vfat.Probe(dev, uint64(primary.Start)); probeErr == nil {
					fmt.Printf("\nprimary volume: %s, label %q, cluster %s\n", sb.Kind, sb.Label, humanize.IBytes(uint64(sb.ClusterSize())))
				} else {
					fmt.Printf("\nprimary volume: %s\n", probeErr)
				}
			}

			if e, locateErr := partition.Locate(dev, partition.CompatOSQuery); locateErr == nil {
				fmt.Printf("\ncompat-OS partition at %#x, %s\n", e.Start, humanize.IBytes(e.Sectors*lba.SectorSize))
			}

			altOS, err := partition.HasAltOS(dev)
			if err != nil || !altOS {
				return err
			}

			ready, err := flash.RecoveryReady(dev)
			if err != nil && !errors.Is(err, partition.ErrPartitionNotFound) {
				return err
			}

			fmt.Printf("alt-OS partitions present, recovery image installed: %t\n", ready)

			return nil
		})
	},
}

func init() {
	rootCmd.AddCommand(infoCmd)
}
