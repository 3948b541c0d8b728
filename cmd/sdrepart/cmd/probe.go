// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at http://mozilla.org/MPL/2.0/.

package cmd

import (
	"errors"
	"fmt"

	"github.com/dustin/go-humanize"
	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/siderolabs/sdrepart/internal/pkg/backup"
	"github.com/siderolabs/sdrepart/internal/pkg/volume"
)

var probeCmd = &cobra.Command{
	Use:   "probe <device>",
	Short: "Check whether the files of the primary volume fit the backup area",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		vol, err := volume.NewPrimary(args[0], state.cfg.Volume.MountPoint, state.cfg.FormatOptions(), state.logger)
		if err != nil {
			return err
		}

		fs, err := vol.Mount(cmd.Context())
		if err != nil {
			return err
		}

		opts := append(state.cfg.BackupOptions(), backup.WithLogger(state.logger))
		walker := backup.NewWalker(fs, opts...)

		manifest, err := walker.Walk("/")

		switch {
		case err == nil:
			fmt.Printf("%s, fits in %s\n", manifest, humanize.IBytes(walker.Ceiling()))
		case errors.Is(err, backup.ErrTooLarge), errors.Is(err, backup.ErrManifestOverflow):
			fmt.Println(color.YellowString("%s, only the bootloader directory can be preserved", err))

			err = nil
		}

		return errors.Join(err, vol.Unmount())
	},
}

func init() {
	rootCmd.AddCommand(probeCmd)
}
