// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at http://mozilla.org/MPL/2.0/.

// Package partition plans, writes, locates and repairs the SD card partition layout.
package partition

import (
	"errors"

	"github.com/google/uuid"

	"github.com/siderolabs/sdrepart/pkg/blockdevice/lba"
	"github.com/siderolabs/sdrepart/pkg/blockdevice/table/gpt"
)

// Layout constants, in sectors unless noted.
const (
	// ReservedSectors is the unpartitioned area in front of the primary partition.
	ReservedSectors = 0x8000

	// PrimaryFloorMiB is the smallest primary partition a plan may leave.
	PrimaryFloorMiB = 2048

	reservedMiB = ReservedSectors / lba.SectorsPerMiB

	// headWipeSectors is zeroed at the head of every new partition.
	headWipeSectors = lba.SectorsPerMiB

	// secondaryGapSectors is left unused at the end of each secondary instance.
	secondaryGapSectors = lba.SectorsPerMiB
)

// Partition names.
const (
	NamePrimary    = "hos_data"
	NameCompatOS   = "l4t"
	NameVendor     = "vendor"
	NameSystem     = "APP"
	NameKernel     = "LNX"
	NameRecovery   = "SOS"
	NameDeviceTree = "DTB"
	NameMetadata   = "MDA"
	NameCache      = "CAC"
	NameMisc       = "MSC"
	NameUserdata   = "UDA"
	NameSecondary  = "emummc"
	NameSecondary2 = "emummc2"
)

// TypeEmuMMC is the GPT type of secondary system partitions.
var TypeEmuMMC = uuid.MustParse("11CA7E00-0000-0000-0000-656D754D4D43")

type fixedPartition struct {
	name    string
	sectors uint64
	wipeAll bool
}

// altOSPartitions precede the userdata partition, in on-disk order.
var altOSPartitions = []fixedPartition{
	{name: NameVendor, sectors: 0x200000},
	{name: NameSystem, sectors: 0x400000},
	{name: NameKernel, sectors: 0x10000},
	{name: NameRecovery, sectors: 0x20000},
	{name: NameDeviceTree, sectors: 0x800},
	{name: NameMetadata, sectors: 0x8000, wipeAll: true},
	{name: NameCache, sectors: 0x15E000},
	{name: NameMisc, sectors: 0x1800},
}

// altOSFixedSectors is the sum of altOSPartitions (3888 MiB).
const altOSFixedSectors = 0x798000

var (
	// ErrPlanInfeasible is returned for plans which do not fit the device.
	ErrPlanInfeasible = errors.New("partition plan is infeasible")

	// ErrPartitionNotFound is returned when no partition matches a lookup.
	ErrPartitionNotFound = errors.New("partition not found")

	// ErrNoGPT is returned when an operation needs a GPT and the device has none.
	ErrNoGPT = gpt.ErrNoGPT
)

// Geometry describes the target device.
type Geometry struct {
	Sectors uint64
}

func (g Geometry) totalMiB() int64 {
	return int64(g.Sectors / lba.SectorsPerMiB)
}

// Extent is a contiguous run of sectors.
type Extent struct {
	Start   uint64
	Sectors uint64
}

// IsZero reports whether the extent is empty.
func (e Extent) IsZero() bool {
	return e.Sectors == 0
}

// Range returns the inclusive LBA range of the extent.
func (e Extent) Range() lba.Range {
	return lba.RangeOf(e.Start, e.Sectors)
}
