// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at http://mozilla.org/MPL/2.0/.

package flash

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"path"

	"github.com/spf13/afero"
	"go.uber.org/zap"

	"github.com/siderolabs/sdrepart/internal/pkg/partition"
	"github.com/siderolabs/sdrepart/pkg/blockdevice"
	"github.com/siderolabs/sdrepart/pkg/blockdevice/lba"
)

// AuxStatus is the outcome of flashing an auxiliary image.
type AuxStatus int

// Auxiliary image outcomes.
const (
	AuxFlashed AuxStatus = iota
	AuxImageMissing
	AuxPartitionMissing
	AuxTooLarge
	AuxFailed
)

func (s AuxStatus) String() string {
	switch s {
	case AuxFlashed:
		return "flashed"
	case AuxImageMissing:
		return "image not found"
	case AuxPartitionMissing:
		return "partition not found"
	case AuxTooLarge:
		return "image too large"
	case AuxFailed:
		return "failed"
	default:
		return fmt.Sprintf("AuxStatus(%d)", int(s))
	}
}

// AuxImage maps a single file image to its partition.
type AuxImage struct {
	File  string
	Query partition.Query
}

// AuxImages are flashed whole by FlashAuxiliary, in order.
var AuxImages = []AuxImage{
	{File: "boot.img", Query: partition.KernelQuery},
	{File: "twrp.img", Query: partition.RecoveryQuery},
	{File: "tegra210-icosa.dtb", Query: partition.DeviceTreeQuery},
}

// AuxResult reports one auxiliary image.
type AuxResult struct {
	Image     AuxImage
	Status    AuxStatus
	Partition partition.Extent
	Err       error
}

// AuxReport is the outcome of FlashAuxiliary.
type AuxReport struct {
	Results []AuxResult
	// RecoveryReady is set when the recovery partition holds an Android boot image.
	RecoveryReady bool
}

// androidMagic starts an Android boot image.
var androidMagic = []byte("ANDROID")

// FlashAuxiliary writes the auxiliary images present in the image directory to
// their alt-OS partitions, deleting each image once written.
//
// Problems with a single image are recorded in its result; only a missing GPT
// or a device read error is returned.
func (f *Flasher) FlashAuxiliary(ctx context.Context, dev blockdevice.Device) (*AuxReport, error) {
	ok, err := partition.HasAltOS(dev)
	if err != nil {
		return nil, err
	}

	if !ok {
		return nil, fmt.Errorf("%w: no alt-OS partition table", partition.ErrPartitionNotFound)
	}

	report := &AuxReport{}

	for _, img := range AuxImages {
		res := f.flashAux(context.WithoutCancel(ctx), dev, img)

		f.opts.Logger.Info("auxiliary image",
			zap.String("image", img.File),
			zap.Stringer("status", res.Status),
			zap.Error(res.Err),
		)

		report.Results = append(report.Results, res)
	}

	if report.RecoveryReady, err = RecoveryReady(dev); err != nil && !errors.Is(err, partition.ErrPartitionNotFound) {
		return report, err
	}

	return report, nil
}

func (f *Flasher) flashAux(ctx context.Context, dev blockdevice.Device, img AuxImage) AuxResult {
	res := AuxResult{Image: img}
	p := path.Join(f.opts.Dir, img.File)

	data, err := afero.ReadFile(f.fs, p)
	if err != nil {
		res.Status = AuxImageMissing

		if !errors.Is(err, os.ErrNotExist) {
			res.Status, res.Err = AuxFailed, err
		}

		return res
	}

	if res.Partition, err = partition.Locate(dev, img.Query); err != nil {
		res.Status, res.Err = AuxPartitionMissing, err

		return res
	}

	size := lba.AlignUp(uint64(len(data)))

	if size/lba.SectorSize > res.Partition.Sectors {
		res.Status = AuxTooLarge
		res.Err = fmt.Errorf("%w: %d bytes into %d sectors", ErrImageTooLarge, len(data), res.Partition.Sectors)

		return res
	}

	buf := make([]byte, size)
	copy(buf, data)

	if err = f.write(ctx, dev, res.Partition.Start, buf); err != nil {
		res.Status, res.Err = AuxFailed, err

		return res
	}

	if err = f.fs.Remove(p); err != nil {
		f.opts.Logger.Warn("failed to remove flashed image", zap.String("path", p), zap.Error(err))
	}

	res.Status = AuxFlashed

	return res
}

// RecoveryReady reports whether the recovery partition starts with an Android boot image.
func RecoveryReady(dev blockdevice.Device) (bool, error) {
	e, err := partition.Locate(dev, partition.RecoveryQuery)
	if err != nil {
		return false, err
	}

	buf := make([]byte, lba.SectorSize)

	if err = dev.ReadSectors(e.Start, buf); err != nil {
		return false, fmt.Errorf("error reading recovery partition: %w", err)
	}

	return bytes.HasPrefix(buf, androidMagic), nil
}
