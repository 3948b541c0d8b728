// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at http://mozilla.org/MPL/2.0/.

package flash

import (
	"fmt"

	"github.com/dustin/go-humanize"
	"github.com/hashicorp/go-multierror"
	"go.uber.org/zap"

	"github.com/siderolabs/sdrepart/internal/pkg/partition"
	"github.com/siderolabs/sdrepart/pkg/blockdevice"
	"github.com/siderolabs/sdrepart/pkg/blockdevice/lba"
)

// Preflight locates the target partition and validates the split image against it.
//
// Nothing is written. Every validation failure found is reported.
func (f *Flasher) Preflight(dev blockdevice.Device) (FlashContext, *Image, error) {
	parts, err := f.Parts()
	if err != nil {
		return FlashContext{}, nil, err
	}

	target, err := partition.Locate(dev, f.opts.Target)
	if err != nil {
		return FlashContext{}, nil, err
	}

	var result *multierror.Error

	if target.Sectors < MinTargetSectors {
		result = multierror.Append(result, fmt.Errorf("%w: %s, need at least %s", ErrTargetTooSmall,
			humanize.IBytes(target.Sectors*lba.SectorSize), humanize.IBytes(MinTargetSectors*lba.SectorSize)))
	}

	img := &Image{Parts: parts}

	for i, p := range parts {
		last := i == len(parts)-1

		if !last && p.Size%PartAlignment != 0 {
			result = multierror.Append(result, fmt.Errorf("%w: %q is %d bytes", ErrMisaligned, p.Path, p.Size))
		}

		img.Sectors += sectorsOf(p.Size)
	}

	if img.Sectors > target.Sectors {
		result = multierror.Append(result, fmt.Errorf("%w: %s image, %s partition", ErrImageTooLarge,
			humanize.IBytes(img.Sectors*lba.SectorSize), humanize.IBytes(target.Sectors*lba.SectorSize)))
	}

	if err = result.ErrorOrNil(); err != nil {
		return FlashContext{}, nil, err
	}

	fc := FlashContext{Offset: target.Start, Sectors: target.Sectors}

	f.opts.Logger.Info("image ready to flash",
		zap.Int("parts", len(parts)),
		zap.String("size", humanize.IBytes(img.Sectors*lba.SectorSize)),
		zap.Uint64("offset", fc.Offset),
	)

	return fc, img, nil
}
