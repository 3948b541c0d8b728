// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at http://mozilla.org/MPL/2.0/.

package partition

import (
	"fmt"

	"github.com/dustin/go-humanize"
	"go.uber.org/zap"

	"github.com/siderolabs/sdrepart/pkg/blockdevice"
	"github.com/siderolabs/sdrepart/pkg/blockdevice/lba"
)

// wipe zeroes the first sectors of an extent, clearing stale filesystem signatures.
func wipe(dev blockdevice.Device, logger *zap.Logger, name string, e Extent, sectors uint64) error {
	sectors = min(sectors, e.Sectors)

	logger.Debug("wiping partition head",
		zap.String("partition", name),
		zap.Uint64("start", e.Start),
		zap.String("size", humanize.IBytes(sectors*lba.SectorSize)),
	)

	if err := blockdevice.Zero(dev, e.Start, sectors); err != nil {
		return fmt.Errorf("error wiping %q: %w", name, err)
	}

	return nil
}
