// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at http://mozilla.org/MPL/2.0/.

// Package volume manages the primary FAT32 volume of the card.
package volume

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/spf13/afero"
	"go.uber.org/zap"

	"github.com/siderolabs/sdrepart/internal/pkg/mount"
	"github.com/siderolabs/sdrepart/internal/pkg/partition"
	"github.com/siderolabs/sdrepart/pkg/blockdevice/util"
	"github.com/siderolabs/sdrepart/pkg/makefs"
)

// Volume is a filesystem which can be recreated and mounted.
type Volume interface {
	// Format creates an empty filesystem, the volume must not be mounted.
	Format(ctx context.Context) error
	// Mount makes the filesystem available.
	Mount(ctx context.Context) (afero.Fs, error)
	// Unmount releases the filesystem returned by Mount.
	Unmount() error
}

// ErrNotMounted is returned by Unmount on a volume which is not mounted.
var ErrNotMounted = errors.New("volume is not mounted")

// Primary is the first partition of a block device.
type Primary struct {
	partition  string
	mountpoint string
	format     *partition.FormatOptions
	logger     *zap.Logger

	mu        sync.Mutex
	unmounter func() error
}

// NewPrimary returns the primary volume of the block device at devpath.
func NewPrimary(devpath, mountpoint string, format *partition.FormatOptions, logger *zap.Logger) (*Primary, error) {
	part, err := util.PartPath(devpath, 1)
	if err != nil {
		return nil, err
	}

	if logger == nil {
		logger = zap.NewNop()
	}

	if format == nil {
		format = partition.NewFormatOptions(partition.DefaultVolumeLabel)
	}

	return &Primary{
		partition:  part,
		mountpoint: mountpoint,
		format:     format,
		logger:     logger.With(zap.String("partition", part)),
	}, nil
}

// Partition returns the partition device node.
func (v *Primary) Partition() string {
	return v.partition
}

// Format implements Volume.
func (v *Primary) Format(ctx context.Context) error {
	cluster, err := partition.Format(ctx, v.partition, v.format, v.logger)
	if err != nil {
		return err
	}

	v.logger.Info("volume formatted", zap.Uint32("cluster", cluster))

	return nil
}

// Mount implements Volume.
func (v *Primary) Mount(ctx context.Context) (afero.Fs, error) {
	v.mu.Lock()
	defer v.mu.Unlock()

	if v.unmounter != nil {
		return nil, fmt.Errorf("%s is already mounted", v.partition)
	}

	unmounter, err := mount.NewPoint(v.partition, v.mountpoint, makefs.FilesystemTypeVFAT, 0, "utf8").Mount(ctx, mount.WithLogger(v.logger))
	if err != nil {
		return nil, err
	}

	v.unmounter = unmounter

	return afero.NewBasePathFs(afero.NewOsFs(), v.mountpoint), nil
}

// Unmount implements Volume.
func (v *Primary) Unmount() error {
	v.mu.Lock()
	defer v.mu.Unlock()

	if v.unmounter == nil {
		return ErrNotMounted
	}

	err := v.unmounter()
	v.unmounter = nil

	return err
}

// Memory is a Volume kept in memory.
type Memory struct {
	mu      sync.Mutex
	fs      afero.Fs
	mounted bool
	label   string

	// FormatErr fails the next Format when set.
	FormatErr error
}

// NewMemory returns a memory volume holding fs.
func NewMemory(fs afero.Fs) *Memory {
	if fs == nil {
		fs = afero.NewMemMapFs()
	}

	return &Memory{fs: fs}
}

// Format implements Volume.
func (v *Memory) Format(context.Context) error {
	v.mu.Lock()
	defer v.mu.Unlock()

	if v.mounted {
		return errors.New("volume is mounted")
	}

	if v.FormatErr != nil {
		err := v.FormatErr
		v.FormatErr = nil

		return err
	}

	v.fs = afero.NewMemMapFs()
	v.label = partition.DefaultVolumeLabel

	return nil
}

// Mount implements Volume.
func (v *Memory) Mount(context.Context) (afero.Fs, error) {
	v.mu.Lock()
	defer v.mu.Unlock()

	v.mounted = true

	return v.fs, nil
}

// Unmount implements Volume.
func (v *Memory) Unmount() error {
	v.mu.Lock()
	defer v.mu.Unlock()

	if !v.mounted {
		return ErrNotMounted
	}

	v.mounted = false

	return nil
}

// Label returns the label set by the last Format.
func (v *Memory) Label() string {
	v.mu.Lock()
	defer v.mu.Unlock()

	return v.label
}

// Fs returns the current filesystem without mounting it.
func (v *Memory) Fs() afero.Fs {
	v.mu.Lock()
	defer v.mu.Unlock()

	return v.fs
}
