// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at http://mozilla.org/MPL/2.0/.

package makefs

import (
	"context"
	"fmt"
	"strconv"

	"github.com/siderolabs/go-cmd/pkg/cmd"
)

const (
	// FilesystemTypeVFAT is the filesystem type for VFAT.
	FilesystemTypeVFAT = "vfat"

	sectorSize = 512
)

// VFAT creates a FAT32 filesystem on the specified partition.
func VFAT(ctx context.Context, partname string, setters ...Option) error {
	args, err := vfatArgs(partname, NewDefaultOptions(setters...))
	if err != nil {
		return err
	}

	_, err = cmd.RunContext(ctx, "mkfs.vfat", args...)

	return err
}

func vfatArgs(partname string, opts Options) ([]string, error) {
	args := []string{"-F", "32"}

	if opts.Label != "" {
		args = append(args, "-n", opts.Label)
	}

	if opts.ClusterSize != 0 {
		if opts.ClusterSize%sectorSize != 0 || opts.ClusterSize/sectorSize > 128 {
			return nil, fmt.Errorf("unsupported cluster size %d", opts.ClusterSize)
		}

		args = append(args, "-s", strconv.FormatUint(uint64(opts.ClusterSize/sectorSize), 10))
	}

	if opts.Force {
		args = append(args, "-I")
	}

	if opts.Reproducible {
		args = append(args, "--invariant")
	}

	return append(args, partname), nil
}
