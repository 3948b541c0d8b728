// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at http://mozilla.org/MPL/2.0/.

// Package mbr provides a library for working with MBR partition tables.
package mbr

import (
	"encoding/binary"
	"fmt"

	"github.com/siderolabs/sdrepart/pkg/blockdevice"
	"github.com/siderolabs/sdrepart/pkg/blockdevice/lba"
)

// On-disk layout of sector 0.
const (
	DiskSignatureOffset  = 0x1B8
	PartitionTableOffset = 0x1BE
	SignatureOffset      = 0x1FE

	EntrySize  = 16
	NumEntries = 4
)

// Partition types used by this package's callers.
const (
	TypeEmpty         byte = 0x00
	TypeExFAT         byte = 0x07
	TypeFAT32LBA      byte = 0x0C
	TypeLinux         byte = 0x83
	TypeEmuMMC        byte = 0xE0
	TypeGPTProtective byte = 0xEE
)

// Entry is a single MBR partition table slot.
type Entry struct {
	Status   byte
	StartCHS [3]byte
	Type     byte
	EndCHS   [3]byte
	Start    uint32
	Size     uint32
}

// IsEmpty reports whether the slot is unused.
func (e Entry) IsEmpty() bool {
	return e.Type == TypeEmpty && e.Start == 0 && e.Size == 0
}

// MBR represents sector 0 of a disk.
type MBR struct {
	BootCode      [DiskSignatureOffset]byte
	DiskSignature [4]byte
	Reserved      [2]byte
	Entries       [NumEntries]Entry
	Signature     [2]byte
}

// New returns an empty MBR with a valid boot signature.
func New() *MBR {
	return &MBR{
		Signature: [2]byte{0x55, 0xAA},
	}
}

// Parse decodes sector 0.
func Parse(buf []byte) (*MBR, error) {
	if len(buf) < lba.SectorSize {
		return nil, fmt.Errorf("MBR buffer too short: %d", len(buf))
	}

	m := &MBR{}

	copy(m.BootCode[:], buf)
	copy(m.DiskSignature[:], buf[DiskSignatureOffset:])
	copy(m.Reserved[:], buf[DiskSignatureOffset+4:])
	copy(m.Signature[:], buf[SignatureOffset:])

	for i := range m.Entries {
		b := buf[PartitionTableOffset+i*EntrySize:]
		e := &m.Entries[i]

		e.Status = b[0]
		copy(e.StartCHS[:], b[1:4])
		e.Type = b[4]
		copy(e.EndCHS[:], b[5:8])
		e.Start = binary.LittleEndian.Uint32(b[8:12])
		e.Size = binary.LittleEndian.Uint32(b[12:16])
	}

	return m, nil
}

// Valid reports whether the boot signature is present.
func (m *MBR) Valid() bool {
	return m.Signature == [2]byte{0x55, 0xAA}
}

// Bytes encodes the MBR into a single sector.
func (m *MBR) Bytes() []byte {
	buf := make([]byte, lba.SectorSize)

	copy(buf, m.BootCode[:])
	copy(buf[DiskSignatureOffset:], m.DiskSignature[:])
	copy(buf[DiskSignatureOffset+4:], m.Reserved[:])
	copy(buf[SignatureOffset:], m.Signature[:])

	for i, e := range m.Entries {
		b := buf[PartitionTableOffset+i*EntrySize:]

		b[0] = e.Status
		copy(b[1:4], e.StartCHS[:])
		b[4] = e.Type
		copy(b[5:8], e.EndCHS[:])
		binary.LittleEndian.PutUint32(b[8:12], e.Start)
		binary.LittleEndian.PutUint32(b[12:16], e.Size)
	}

	return buf
}

// Read reads the MBR from sector 0 of dev.
func Read(dev blockdevice.Device) (*MBR, error) {
	buf := make([]byte, lba.SectorSize)

	if err := dev.ReadSectors(0, buf); err != nil {
		return nil, fmt.Errorf("error reading MBR: %w", err)
	}

	return Parse(buf)
}

// Write writes the MBR to sector 0 of dev.
func (m *MBR) Write(dev blockdevice.Device) error {
	if err := dev.WriteSectors(0, m.Bytes()); err != nil {
		return fmt.Errorf("error writing MBR: %w", err)
	}

	return nil
}
