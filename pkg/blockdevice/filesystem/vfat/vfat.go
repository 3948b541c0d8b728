// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at http://mozilla.org/MPL/2.0/.

// Package vfat reads FAT and exFAT volume boot records.
package vfat

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/siderolabs/sdrepart/pkg/blockdevice"
	"github.com/siderolabs/sdrepart/pkg/blockdevice/lba"
)

// ErrUnknown is returned when the boot record holds no FAT signature.
var ErrUnknown = errors.New("not a FAT volume")

// Kind is the FAT flavour.
type Kind int

// Known kinds.
const (
	KindUnknown Kind = iota
	KindFAT
	KindFAT32
	KindExFAT
)

func (k Kind) String() string {
	switch k {
	case KindFAT:
		return "FAT"
	case KindFAT32:
		return "FAT32"
	case KindExFAT:
		return "exFAT"
	default:
		return "unknown"
	}
}

// SuperBlock holds the BIOS parameter block fields of a FAT volume.
//
// exFAT boot records only fill Kind and OEMName.
type SuperBlock struct {
	Kind              Kind
	OEMName           string
	BytesPerSector    uint16
	SectorsPerCluster uint8
	ReservedSectors   uint16
	NumFATs           uint8
	TotalSectors      uint32
	FATSectors        uint32
	RootCluster       uint32
	VolumeID          uint32
	Label             string
}

// ClusterSize returns the cluster size in bytes.
func (sb *SuperBlock) ClusterSize() uint32 {
	return uint32(sb.BytesPerSector) * uint32(sb.SectorsPerCluster)
}

// Parse decodes a volume boot record.
func Parse(vbr []byte) (*SuperBlock, error) {
	if len(vbr) < lba.SectorSize {
		return nil, fmt.Errorf("boot record too short: %d", len(vbr))
	}

	if string(vbr[3:11]) == "EXFAT   " {
		return &SuperBlock{Kind: KindExFAT, OEMName: "EXFAT"}, nil
	}

	if vbr[510] != 0x55 || vbr[511] != 0xAA {
		return nil, fmt.Errorf("%w: boot signature missing", ErrUnknown)
	}

	le := binary.LittleEndian

	sb := &SuperBlock{
		OEMName:           trim(vbr[3:11]),
		BytesPerSector:    le.Uint16(vbr[0x0B:]),
		SectorsPerCluster: vbr[0x0D],
		ReservedSectors:   le.Uint16(vbr[0x0E:]),
		NumFATs:           vbr[0x10],
		TotalSectors:      uint32(le.Uint16(vbr[0x13:])),
		FATSectors:        uint32(le.Uint16(vbr[0x16:])),
	}

	if sb.TotalSectors == 0 {
		sb.TotalSectors = le.Uint32(vbr[0x20:])
	}

	switch {
	case string(vbr[0x52:0x57]) == "FAT32":
		sb.Kind = KindFAT32
		sb.FATSectors = le.Uint32(vbr[0x24:])
		sb.RootCluster = le.Uint32(vbr[0x2C:])
		sb.VolumeID = le.Uint32(vbr[0x43:])
		sb.Label = trim(vbr[0x47:0x52])
	case string(vbr[0x36:0x39]) == "FAT":
		sb.Kind = KindFAT
		sb.VolumeID = le.Uint32(vbr[0x27:])
		sb.Label = trim(vbr[0x2B:0x36])
	default:
		return nil, fmt.Errorf("%w: no filesystem type", ErrUnknown)
	}

	return sb, nil
}

// Probe reads the volume boot record at sector start.
func Probe(dev blockdevice.Device, start uint64) (*SuperBlock, error) {
	vbr := make([]byte, lba.SectorSize)

	if err := dev.ReadSectors(start, vbr); err != nil {
		return nil, fmt.Errorf("error reading boot record: %w", err)
	}

	return Parse(vbr)
}

func trim(b []byte) string {
	return string(bytes.TrimRight(b, " \x00"))
}
