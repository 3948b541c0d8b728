// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at http://mozilla.org/MPL/2.0/.

package cmd

import (
	"context"
	"fmt"
	"os"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/siderolabs/sdrepart/internal/pkg/backup"
	"github.com/siderolabs/sdrepart/internal/pkg/install"
	"github.com/siderolabs/sdrepart/internal/pkg/partition"
	"github.com/siderolabs/sdrepart/internal/pkg/volume"
	"github.com/siderolabs/sdrepart/pkg/blockdevice"
	"github.com/siderolabs/sdrepart/pkg/cli"
)

var partitionCmdFlags planFlags

var partitionCmd = &cobra.Command{
	Use:   "partition <device>",
	Short: "Repartition the card, preserving the files of the primary volume",
	Long: `Back up the primary FAT32 volume to memory, write the new partition
table, recreate the primary volume and restore the files.

Once confirmed the command runs to completion, interrupting it only stops
after the current step.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withDevice(cmd.Context(), args[0], false, func(ctx context.Context, dev *blockdevice.File) error {
			return runPartition(ctx, args[0], dev)
		})
	},
}

func runPartition(ctx context.Context, path string, dev *blockdevice.File) error {
	p, _, err := partitionCmdFlags.build(dev.Sectors())
	if err != nil {
		return err
	}

	plan := p.Plan()

	if err = cli.RenderPlan(plan, p.Bars(barWidth), os.Stdout); err != nil {
		return err
	}

	vol, err := volume.NewPrimary(path, state.cfg.Volume.MountPoint, state.cfg.FormatOptions(), state.logger)
	if err != nil {
		return err
	}

	var visited uint64

	session := install.NewSession(dev, vol,
		install.WithConfirmer(prompter()),
		install.WithBackupOptions(state.cfg.BackupOptions()...),
		install.WithLogger(state.logger),
		install.WithPhaseCallback(func(phase install.Phase) {
			fmt.Fprintln(os.Stderr, color.CyanString("==> %s", phase))
		}),
		install.WithVisitCallback(func(p backup.Progress) {
			visited++

			if visited%500 == 0 {
				state.logger.Info("copying", zap.String("path", p.Path), zap.Stringer("done", p.Manifest))
			}
		}),
	)

	report, err := session.Run(ctx, plan)
	if err != nil {
		return err
	}

	if report.Partial() {
		fmt.Println(color.YellowString("only %s was preserved (%s)", report.Root, report.Manifest))
	} else {
		fmt.Printf("restored %s\n", report.Manifest)
	}

	if report.RestoreAttempts > 1 {
		fmt.Println(color.YellowString("restore needed %d attempts", report.RestoreAttempts))
	}

	if report.CompatOSReady {
		fmt.Println("compat-OS partition ready, use 'sdrepart flash linux' to install an image")
	}

	if report.AltOSReady {
		fmt.Println("alt-OS partitions ready, use 'sdrepart flash android' to install images")
	}

	fmt.Printf("\n%s\n", partition.FormatMBR(report.Layout.MBR))

	return nil
}

func init() {
	partitionCmdFlags.register(partitionCmd.Flags())

	rootCmd.AddCommand(partitionCmd)
}
