// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at http://mozilla.org/MPL/2.0/.

package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/fatih/color"
	"github.com/gosuri/uiprogress"
	"github.com/spf13/afero"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/siderolabs/sdrepart/internal/pkg/flash"
	"github.com/siderolabs/sdrepart/internal/pkg/volume"
	"github.com/siderolabs/sdrepart/pkg/blockdevice"
	"github.com/siderolabs/sdrepart/pkg/cli"
)

var flashCmdFlags struct {
	source string
	keep   bool
}

var flashCmd = &cobra.Command{
	Use:   "flash",
	Short: "Write OS images into the partitions created by the partition command",
	Long: `Images are read from the image directory of the primary volume, which is
mounted for the duration of the command, or from --source.`,
}

var flashLinuxCmd = &cobra.Command{
	Use:   "linux <device>",
	Short: "Flash a split compat-OS image (l4t.00, l4t.01, ...)",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withDevice(cmd.Context(), args[0], false, func(ctx context.Context, dev *blockdevice.File) error {
			return withSource(ctx, args[0], func(fs afero.Fs) error {
				return flashLinux(ctx, dev, fs)
			})
		})
	},
}

var flashAndroidCmd = &cobra.Command{
	Use:   "android <device>",
	Short: "Flash the alt-OS kernel, recovery and device tree images",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withDevice(cmd.Context(), args[0], false, func(ctx context.Context, dev *blockdevice.File) error {
			return withSource(ctx, args[0], func(fs afero.Fs) error {
				report, err := flasher(fs).FlashAuxiliary(ctx, dev)
				if err != nil {
					return err
				}

				return cli.RenderAux(report, os.Stdout)
			})
		})
	},
}

func flasher(fs afero.Fs, opts ...flash.Option) *flash.Flasher {
	opts = append(state.cfg.FlashOptions(), append(opts, flash.WithLogger(state.logger))...)

	return flash.NewFlasher(fs, opts...)
}

func flashLinux(ctx context.Context, dev blockdevice.Device, fs afero.Fs) error {
	bar := uiprogress.AddBar(100).AppendCompleted().PrependElapsed()
	bar.Width = 40

	f := flasher(fs, flash.WithProgress(func(pct int) {
		bar.Set(pct) //nolint:errcheck
	}))

	fc, img, err := f.Preflight(dev)
	if err != nil {
		return err
	}

	if !prompter().Confirm(fmt.Sprintf("Flash %d image parts into the compat-OS partition?", len(img.Parts))) {
		return errors.New("cancelled")
	}

	uiprogress.Start()

	_, err = f.Flash(ctx, dev, fc, img)

	uiprogress.Stop()

	if err != nil {
		return err
	}

	fmt.Println(color.GreenString("compat-OS image flashed"))

	if flashCmdFlags.keep {
		return nil
	}

	if err = f.RemoveParts(img); err != nil {
		state.logger.Warn("failed to remove image parts", zap.Error(err))
	}

	return nil
}

// withSource runs f on the image source filesystem.
func withSource(ctx context.Context, devpath string, f func(afero.Fs) error) error {
	if flashCmdFlags.source != "" {
		return f(afero.NewBasePathFs(afero.NewOsFs(), flashCmdFlags.source))
	}

	vol, err := volume.NewPrimary(devpath, state.cfg.Volume.MountPoint, state.cfg.FormatOptions(), state.logger)
	if err != nil {
		return err
	}

	fs, err := vol.Mount(ctx)
	if err != nil {
		return err
	}

	return errors.Join(f(fs), vol.Unmount())
}

func init() {
	flashCmd.PersistentFlags().StringVar(&flashCmdFlags.source, "source", "", "read images from this directory instead of the primary volume")
	flashLinuxCmd.Flags().BoolVar(&flashCmdFlags.keep, "keep", false, "keep the image parts after flashing")

	flashCmd.AddCommand(flashLinuxCmd, flashAndroidCmd)
	rootCmd.AddCommand(flashCmd)
}
