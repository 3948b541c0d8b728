// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at http://mozilla.org/MPL/2.0/.

// Package cmd implements the sdrepart commands.
package cmd

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"strings"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/siderolabs/sdrepart/internal/pkg/config"
	"github.com/siderolabs/sdrepart/pkg/blockdevice"
	"github.com/siderolabs/sdrepart/pkg/cli"
	"github.com/siderolabs/sdrepart/pkg/logging"
)

var rootCmdFlags struct {
	configPath string
	yes        bool
	verbose    bool
	noColor    bool
}

// state is set up before every command runs.
var state struct {
	cfg    *config.Config
	logger *zap.Logger
}

// rootCmd represents the base command when called without any subcommands.
var rootCmd = &cobra.Command{
	Use:               "sdrepart",
	Short:             "Repartition Switch SD cards while preserving their files",
	Long:              ``,
	SilenceErrors:     true,
	SilenceUsage:      true,
	DisableAutoGenTag: true,
	PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
		if rootCmdFlags.noColor {
			color.NoColor = true
		}

		cfg, err := config.Open(rootCmdFlags.configPath)
		if err != nil {
			return err
		}

		if err = cfg.ApplyFlags(cmd.Flags()); err != nil {
			return err
		}

		state.cfg = cfg
		state.logger = logging.Console(os.Stderr, rootCmdFlags.verbose, !color.NoColor)

		log.SetFlags(0)
		log.SetOutput(logging.NewWriter(state.logger.With(logging.Component("log")), zapcore.InfoLevel))

		return nil
	},
	PersistentPostRun: func(*cobra.Command, []string) {
		if state.logger != nil {
			state.logger.Sync() //nolint:errcheck
		}
	},
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() error {
	cmd, err := rootCmd.ExecuteContextC(context.Background())
	if err != nil {
		fmt.Fprintln(os.Stderr, color.RedString(err.Error()))

		errorString := err.Error()
		if strings.Contains(errorString, "arg(s)") || strings.Contains(errorString, "flag") || strings.Contains(errorString, "command") {
			fmt.Fprintln(os.Stderr)
			fmt.Fprintln(os.Stderr, cmd.UsageString())
		}
	}

	return err
}

func init() {
	flags := rootCmd.PersistentFlags()

	flags.StringVar(&rootCmdFlags.configPath, "config", "", "path to the YAML configuration file")
	flags.BoolVarP(&rootCmdFlags.yes, "yes", "y", false, "answer yes to every confirmation")
	flags.BoolVarP(&rootCmdFlags.verbose, "verbose", "v", false, "enable debug logging")
	flags.BoolVar(&rootCmdFlags.noColor, "no-color", false, "disable colored output")

	config.AddFlags(flags)
}

// withDevice opens the device named by path for the duration of f.
func withDevice(ctx context.Context, path string, readOnly bool, f func(context.Context, *blockdevice.File) error) error {
	dev, err := blockdevice.Open(path,
		blockdevice.WithReadOnly(readOnly),
		blockdevice.WithExclusiveLock(!readOnly),
	)
	if err != nil {
		return err
	}

	state.logger.Debug("device opened", zap.String("device", path), zap.Uint64("sectors", dev.Sectors()), zap.Bool("read_only", readOnly))

	return cli.WithContext(ctx, os.Stderr, func(ctx context.Context) error {
		runErr := f(ctx, dev)

		if !readOnly {
			runErr = errors.Join(runErr, dev.Sync())
		}

		return errors.Join(runErr, dev.Close())
	})
}

func prompter() *cli.Prompter {
	return cli.NewPrompter(rootCmdFlags.yes)
}
