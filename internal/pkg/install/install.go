// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at http://mozilla.org/MPL/2.0/.

// Package install runs a repartitioning session preserving the files of the primary volume.
package install

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"

	"github.com/spf13/afero"
	"go.uber.org/zap"

	"github.com/siderolabs/sdrepart/internal/pkg/backup"
	"github.com/siderolabs/sdrepart/internal/pkg/partition"
	"github.com/siderolabs/sdrepart/internal/pkg/volume"
	"github.com/siderolabs/sdrepart/pkg/blockdevice"
)

// BootloaderDir is kept when the whole volume does not fit the staging area.
const BootloaderDir = "/bootloader"

// ErrCancelled is returned when the user declines a confirmation.
var ErrCancelled = errors.New("cancelled")

// Phase is a step of the session.
type Phase int

// Session phases, in order.
const (
	PhaseProbe Phase = iota
	PhaseBackup
	PhasePartition
	PhaseFormat
	PhaseRestore
	PhaseDone
)

func (p Phase) String() string {
	switch p {
	case PhaseProbe:
		return "probe"
	case PhaseBackup:
		return "backup"
	case PhasePartition:
		return "partition"
	case PhaseFormat:
		return "format"
	case PhaseRestore:
		return "restore"
	case PhaseDone:
		return "done"
	default:
		return fmt.Sprintf("Phase(%d)", int(p))
	}
}

// Report describes a completed session.
type Report struct {
	Plan   partition.Plan
	Layout *partition.Layout

	// Root is the directory which was preserved.
	Root     string
	Manifest backup.Manifest

	RestoreAttempts int

	// CompatOSReady is set when a compat-OS image can be flashed.
	CompatOSReady bool
	// AltOSReady is set when alt-OS images can be flashed.
	AltOSReady bool
}

// Partial reports whether only the bootloader directory was preserved.
func (r *Report) Partial() bool {
	return r.Root != "/"
}

// Session repartitions a card.
type Session struct {
	dev     blockdevice.Device
	vol     volume.Volume
	options Options
	logger  *zap.Logger
}

// NewSession creates a session for dev whose primary partition is vol.
func NewSession(dev blockdevice.Device, vol volume.Volume, setters ...Option) *Session {
	opts := DefaultOptions(setters...)

	return &Session{
		dev:     dev,
		vol:     vol,
		options: opts,
		logger:  opts.Logger,
	}
}

// Run backs up the primary volume, writes the plan, recreates the primary
// volume and restores the files.
//
// Nothing is modified before the confirmation. From then on the session
// ignores ctx cancellation and runs to completion or failure.
func (s *Session) Run(ctx context.Context, plan partition.Plan) (*Report, error) {
	if err := plan.Validate(partition.Geometry{Sectors: s.dev.Sectors()}); err != nil {
		return nil, err
	}

	report := &Report{Plan: plan}

	s.phase(PhaseProbe)

	fs, err := s.vol.Mount(ctx)
	if err != nil {
		return nil, fmt.Errorf("error mounting primary volume: %w", err)
	}

	if report.Root, report.Manifest, err = s.probe(fs); err != nil {
		return nil, errors.Join(err, s.vol.Unmount())
	}

	if !s.confirm(s.prompt(report)) {
		return nil, errors.Join(ErrCancelled, s.vol.Unmount())
	}

	ctx = context.WithoutCancel(ctx)

	s.phase(PhaseBackup)

	if report.Manifest, err = s.walker(fs, s.options.Staging, s.options.Backup...).Walk(report.Root); err != nil {
		return nil, errors.Join(fmt.Errorf("backup failed: %w", err), s.vol.Unmount())
	}

	if err = s.vol.Unmount(); err != nil {
		return nil, fmt.Errorf("error unmounting primary volume: %w", err)
	}

	s.phase(PhasePartition)

	if report.Layout, err = partition.NewWriter(s.dev,
		partition.WithEntropy(s.options.Entropy),
		partition.WithLogger(s.logger),
	).Write(plan); err != nil {
		return nil, err
	}

	if rereader, ok := s.dev.(blockdevice.Rereader); ok {
		if err = rereader.RereadPartitionTable(); err != nil {
			return nil, err
		}
	}

	s.phase(PhaseFormat)

	if err = s.vol.Format(ctx); err != nil {
		// the old volume may still be readable, put the files back on it
		if restoreErr := s.restore(ctx, report); restoreErr != nil {
			s.logger.Error("restoring files after format failure failed", zap.Error(restoreErr))
		}

		return nil, fmt.Errorf("error formatting primary volume: %w", err)
	}

	s.phase(PhaseRestore)

	if err = s.restore(ctx, report); err != nil {
		return nil, err
	}

	report.CompatOSReady, report.AltOSReady = s.available()

	s.phase(PhaseDone)

	s.logger.Info("repartitioning complete",
		zap.Stringer("plan", plan),
		zap.Stringer("restored", report.Manifest),
		zap.Bool("compat_os", report.CompatOSReady),
		zap.Bool("alt_os", report.AltOSReady),
	)

	return report, nil
}

// probe measures the volume, falling back to the bootloader directory.
func (s *Session) probe(fs afero.Fs) (string, backup.Manifest, error) {
	manifest, err := s.walker(fs, nil, s.options.Backup...).Walk("/")
	if err == nil {
		return "/", manifest, nil
	}

	if !errors.Is(err, backup.ErrTooLarge) && !errors.Is(err, backup.ErrManifestOverflow) {
		return "", manifest, err
	}

	s.logger.Warn("files do not fit the staging area", zap.Error(err))

	if !s.confirm("The files on the card do not fit in memory.\nOnly the bootloader directory will be kept, everything else will be lost.") {
		return "", manifest, ErrCancelled
	}

	if ok, existsErr := afero.DirExists(fs, BootloaderDir); existsErr != nil || !ok {
		return BootloaderDir, backup.Manifest{}, errors.Join(fmt.Errorf("%s not found", BootloaderDir), existsErr)
	}

	manifest, err = s.walker(fs, nil, s.options.Backup...).Walk(BootloaderDir)

	return BootloaderDir, manifest, err
}

// restore copies the staging area back, retrying once.
func (s *Session) restore(ctx context.Context, report *Report) error {
	var errs []error

	for range 2 {
		report.RestoreAttempts++

		err := s.restoreOnce(ctx, report.Root)
		if err == nil {
			return nil
		}

		s.logger.Warn("restore failed", zap.Int("attempt", report.RestoreAttempts), zap.Error(err))

		errs = append(errs, err)
	}

	return fmt.Errorf("restore failed: %w", errors.Join(errs...))
}

func (s *Session) restoreOnce(ctx context.Context, root string) error {
	fs, err := s.vol.Mount(ctx)
	if err != nil {
		return err
	}

	_, err = s.walker(s.options.Staging, fs, backup.WithCapacity(math.MaxUint64)).Walk(root)

	return errors.Join(err, s.vol.Unmount())
}

func (s *Session) walker(src, dst afero.Fs, extra ...backup.Option) *backup.Walker {
	opts := make([]backup.Option, 0, len(extra)+3)
	opts = append(opts, extra...)
	opts = append(opts,
		backup.WithLogger(s.logger),
		backup.WithProgress(s.options.OnVisit),
	)

	if dst != nil {
		opts = append(opts, backup.WithDestination(dst))
	}

	return backup.NewWalker(src, opts...)
}

func (s *Session) available() (compatOS, altOS bool) {
	if _, err := partition.Locate(s.dev, partition.CompatOSQuery); err == nil {
		compatOS = true
	}

	altOS, err := partition.HasAltOS(s.dev)
	if err != nil {
		s.logger.Warn("failed to read partition table", zap.Error(err))
	}

	return compatOS, altOS
}

func (s *Session) prompt(report *Report) string {
	var sb strings.Builder

	fmt.Fprintf(&sb, "The card will be repartitioned: %s.\n", report.Plan)

	if report.Partial() {
		fmt.Fprintf(&sb, "Only %s (%s) will be preserved.\n", report.Root, report.Manifest)
	} else {
		fmt.Fprintf(&sb, "All files (%s) will be preserved.\n", report.Manifest)
	}

	sb.WriteString("Continue?")

	return sb.String()
}

func (s *Session) confirm(prompt string) bool {
	return s.options.Confirm != nil && s.options.Confirm.Confirm(prompt)
}

func (s *Session) phase(p Phase) {
	s.logger.Debug("session phase", zap.Stringer("phase", p))

	if s.options.OnPhase != nil {
		s.options.OnPhase(p)
	}
}
