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
	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/siderolabs/sdrepart/internal/pkg/partition"
	"github.com/siderolabs/sdrepart/pkg/blockdevice"
	"github.com/siderolabs/sdrepart/pkg/blockdevice/lba"
	"github.com/siderolabs/sdrepart/pkg/cli"
)

// barWidth is the width of the plan bars in columns.
const barWidth = 40

type planFlags struct {
	secondaryGiB uint32
	double       bool
	full         bool
	compatOSGiB  uint32
	altOSGiB     uint32
}

func (f *planFlags) register(fs *pflag.FlagSet) {
	fs.Uint32Var(&f.secondaryGiB, "secondary", 0, "secondary system partition size in GiB")
	fs.BoolVar(&f.double, "double", false, "allocate two secondary system instances")
	fs.BoolVar(&f.full, "full", false, "use full sized secondary system instances")
	fs.Uint32Var(&f.compatOSGiB, "compat-os", 0, "compat-OS (Linux) partition size in GiB")
	fs.Uint32Var(&f.altOSGiB, "alt-os", 0, "alt-OS (Android) partition size in GiB")
}

// build runs the planner on a device of the given size.
func (f *planFlags) build(sectors uint64) (*partition.Planner, []partition.Adjustment, error) {
	p, err := partition.NewPlanner(partition.Geometry{Sectors: sectors}, state.logger)
	if err != nil {
		return nil, nil, err
	}

	var adjustments []partition.Adjustment

	if f.secondaryGiB != 0 || f.full {
		adjustments = append(adjustments, p.SetSecondary(partition.SecondaryRequest{GiB: f.secondaryGiB, Double: f.double, Full: f.full}))
	}

	if f.compatOSGiB != 0 {
		adjustments = append(adjustments, p.SetCompatOS(f.compatOSGiB))
	}

	if f.altOSGiB != 0 {
		adjustments = append(adjustments, p.SetAltOS(f.altOSGiB))
	}

	var errs []error

	for _, adj := range adjustments {
		switch {
		case adj.Reverted:
			errs = append(errs, errors.New(adj.String()))
		case adj.Reduced:
			fmt.Fprintln(os.Stderr, color.YellowString(adj.String()))
		}
	}

	return p, adjustments, errors.Join(errs...)
}

var planCmdFlags struct {
	planFlags

	cardSize string
}

var planCmd = &cobra.Command{
	Use:   "plan [device]",
	Short: "Show the partition layout for the requested sizes without writing it",
	Long: `Show the layout the partition command would write.

The card size is read from the device, or given with --card-size when no
device is named.`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if len(args) == 1 {
			return withDevice(cmd.Context(), args[0], true, func(_ context.Context, dev *blockdevice.File) error {
				return showPlan(dev.Sectors())
			})
		}

		if planCmdFlags.cardSize == "" {
			return errors.New("either a device or --card-size is required")
		}

		size, err := humanize.ParseBytes(planCmdFlags.cardSize)
		if err != nil {
			return fmt.Errorf("--card-size: %w", err)
		}

		return showPlan(size / lba.SectorSize)
	},
}

func showPlan(sectors uint64) error {
	p, _, err := planCmdFlags.build(sectors)
	if err != nil {
		return err
	}

	plan := p.Plan()

	if err = plan.Validate(partition.Geometry{Sectors: sectors}); err != nil {
		return err
	}

	fmt.Printf("card %s, primary %d MiB\n\n", humanize.IBytes(sectors*lba.SectorSize), p.PrimaryMiB())

	return cli.RenderPlan(plan, p.Bars(barWidth), os.Stdout)
}

func init() {
	planCmdFlags.register(planCmd.Flags())
	planCmd.Flags().StringVar(&planCmdFlags.cardSize, "card-size", "", "plan for a card of this size instead of a device, e.g. 64GB")

	rootCmd.AddCommand(planCmd)
}
