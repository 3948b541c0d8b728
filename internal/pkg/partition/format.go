// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at http://mozilla.org/MPL/2.0/.

package partition

import (
	"context"
	"errors"
	"fmt"

	"github.com/dustin/go-humanize"
	"go.uber.org/zap"

	"github.com/siderolabs/sdrepart/pkg/makefs"
)

// Primary volume format defaults.
const (
	DefaultVolumeLabel = "SWITCH SD"

	DefaultClusterSize uint32 = 64 * 1024
	MinClusterSize     uint32 = 4 * 1024
)

// MakeFSFunc creates a filesystem on a device node.
type MakeFSFunc func(ctx context.Context, devname string, setters ...makefs.Option) error

// FormatOptions contains format parameters.
type FormatOptions struct {
	Label string
	// ClusterSize is tried first, halving on failure down to MinClusterSize.
	ClusterSize    uint32
	MinClusterSize uint32
	Force          bool

	MakeFS MakeFSFunc
}

// NewFormatOptions creates format options for the primary volume.
func NewFormatOptions(label string) *FormatOptions {
	return &FormatOptions{
		Label:          label,
		ClusterSize:    DefaultClusterSize,
		MinClusterSize: MinClusterSize,
		MakeFS:         makefs.VFAT,
	}
}

// Format creates a FAT32 filesystem on devname, returning the cluster size used.
func Format(ctx context.Context, devname string, t *FormatOptions, logger *zap.Logger) (uint32, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	if t.ClusterSize < t.MinClusterSize || t.MinClusterSize == 0 {
		return 0, fmt.Errorf("invalid cluster size range %d-%d", t.MinClusterSize, t.ClusterSize)
	}

	var errs []error

	for cluster := t.ClusterSize; cluster >= t.MinClusterSize; cluster /= 2 {
		logger.Info("formatting the partition",
			zap.String("device", devname),
			zap.String("type", makefs.FilesystemTypeVFAT),
			zap.String("label", t.Label),
			zap.String("cluster", humanize.IBytes(uint64(cluster))),
		)

		err := t.MakeFS(ctx, devname,
			makefs.WithLabel(t.Label),
			makefs.WithClusterSize(cluster),
			makefs.WithForce(t.Force),
		)
		if err == nil {
			return cluster, nil
		}

		logger.Warn("format failed", zap.Uint32("cluster", cluster), zap.Error(err))

		errs = append(errs, err)

		if ctx.Err() != nil {
			break
		}
	}

	return 0, fmt.Errorf("error formatting %q: %w", devname, errors.Join(errs...))
}
