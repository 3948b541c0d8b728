// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at http://mozilla.org/MPL/2.0/.

// Package blockdevice provides sector-addressed access to block devices and disk images.
package blockdevice

import (
	"errors"
	"fmt"

	"github.com/siderolabs/sdrepart/pkg/blockdevice/lba"
)

// ErrOutOfRange is returned when an access crosses the end of the device.
var ErrOutOfRange = errors.New("access beyond end of device")

// Device is a sector-addressed device with a fixed 512 byte sector size.
type Device interface {
	// ReadSectors fills buf (a multiple of the sector size) starting at sector lba.
	ReadSectors(lba uint64, buf []byte) error
	// WriteSectors writes buf (a multiple of the sector size) starting at sector lba.
	WriteSectors(lba uint64, buf []byte) error
	// Sectors returns the total number of sectors.
	Sectors() uint64
}

// Syncer is implemented by devices which buffer writes.
type Syncer interface {
	Sync() error
}

// Rereader is implemented by devices which can ask the kernel to rescan partitions.
type Rereader interface {
	RereadPartitionTable() error
}

func checkAccess(total, start uint64, buf []byte) error {
	if len(buf)%lba.SectorSize != 0 {
		return fmt.Errorf("buffer length %d is not a multiple of %d", len(buf), lba.SectorSize)
	}

	count := uint64(len(buf) / lba.SectorSize)

	if start > total || count > total-start {
		return fmt.Errorf("%w: sectors %d+%d of %d", ErrOutOfRange, start, count, total)
	}

	return nil
}

// zeroChunk bounds the buffer used by Zero.
const zeroChunk = 0x800

// Zero overwrites count sectors starting at start with zeroes.
func Zero(dev Device, start, count uint64) error {
	buf := make([]byte, min(count, zeroChunk)*lba.SectorSize)

	for count > 0 {
		n := min(count, zeroChunk)

		if err := dev.WriteSectors(start, buf[:n*lba.SectorSize]); err != nil {
			return fmt.Errorf("error zeroing sectors %d+%d: %w", start, n, err)
		}

		start += n
		count -= n
	}

	return nil
}
