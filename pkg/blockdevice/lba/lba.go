// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at http://mozilla.org/MPL/2.0/.

// Package lba provides a library for working with Logical Block Addresses.
package lba

import (
	"errors"
	"fmt"
	"os"
	"unsafe"

	"golang.org/x/sys/unix"
)

// Sector size and common sizes expressed in sectors.
const (
	SectorSize = 512

	SectorsPerMiB = 0x800
	SectorsPerGiB = 0x200000
)

// Range represents an inclusive range of Logical Block Addresses.
type Range struct {
	Start uint64
	End   uint64
}

// RangeOf returns the range covering length sectors starting at start.
func RangeOf(start, length uint64) Range {
	return Range{Start: start, End: start + length - 1}
}

// Length returns the number of sectors in the range.
func (r Range) Length() uint64 {
	return r.End - r.Start + 1
}

// MiB converts mebibytes to sectors.
func MiB(n uint64) uint64 {
	return n * SectorsPerMiB
}

// ToMiB converts sectors to whole mebibytes.
func ToMiB(sectors uint64) uint64 {
	return sectors / SectorsPerMiB
}

// AlignUp rounds n up to the next multiple of SectorSize.
func AlignUp(n uint64) uint64 {
	return (n + SectorSize - 1) &^ (SectorSize - 1)
}

// LogicalBlockAddresser represents Logical Block Addressing.
type LogicalBlockAddresser struct {
	PhysicalBlockSize uint64
	LogicalBlockSize  uint64
}

// New initializes and returns a LogicalBlockAddresser.
func New(f *os.File) (lba *LogicalBlockAddresser, err error) {
	st, err := f.Stat()
	if err != nil {
		return nil, fmt.Errorf("stat disk error: %w", err)
	}

	var psize uint64
	if _, _, errno := unix.Syscall(unix.SYS_IOCTL, f.Fd(), unix.BLKPBSZGET, uintptr(unsafe.Pointer(&psize))); errno != 0 {
		if st.Mode().IsRegular() {
			// not a device, assume default block size
			psize = SectorSize
		} else {
			return nil, errors.New("BLKPBSZGET failed")
		}
	}

	var lsize uint64
	if _, _, errno := unix.Syscall(unix.SYS_IOCTL, f.Fd(), unix.BLKSSZGET, uintptr(unsafe.Pointer(&lsize))); errno != 0 {
		if st.Mode().IsRegular() {
			// not a device, assume default block size
			lsize = SectorSize
		} else {
			return nil, errors.New("BLKSSZGET failed")
		}
	}

	lba = &LogicalBlockAddresser{
		PhysicalBlockSize: psize,
		LogicalBlockSize:  lsize,
	}

	return lba, nil
}

// Make returns a zeroed buffer of size logical blocks.
func (lba *LogicalBlockAddresser) Make(size uint64) []byte {
	return make([]byte, lba.LogicalBlockSize*size)
}
