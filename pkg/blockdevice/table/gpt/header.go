// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at http://mozilla.org/MPL/2.0/.

package gpt

import (
	"encoding/binary"
	"fmt"

	"github.com/google/uuid"

	"github.com/siderolabs/sdrepart/pkg/blockdevice/lba"
	"github.com/siderolabs/sdrepart/pkg/checksum"
	"github.com/siderolabs/sdrepart/pkg/endianness"
)

// Header layout.
const (
	Signature  = "EFI PART"
	Revision   = 0x00010000
	HeaderSize = 92

	headerCRCOffset = 16
)

// Header represents a GPT header.
type Header struct {
	Revision       uint32    // 8
	Size           uint32    // 12
	CRC            uint32    // 16
	MyLBA          uint64    // 24
	AlternateLBA   uint64    // 32
	FirstUsableLBA uint64    // 40
	LastUsableLBA  uint64    // 48
	DiskGUID       uuid.UUID // 56
	EntriesLBA     uint64    // 72
	NumEntries     uint32    // 80
	EntrySize      uint32    // 84
	EntriesCRC     uint32    // 88
}

// ParseHeader decodes a GPT header from the beginning of buf.
//
// A header is accepted when the signature matches and the entry count is within [1, 128].
func ParseHeader(buf []byte) (*Header, error) {
	if len(buf) < HeaderSize {
		return nil, fmt.Errorf("%w: header buffer too short", ErrNoGPT)
	}

	if string(buf[:8]) != Signature {
		return nil, fmt.Errorf("%w: bad signature", ErrNoGPT)
	}

	h := &Header{
		Revision:       binary.LittleEndian.Uint32(buf[8:]),
		Size:           binary.LittleEndian.Uint32(buf[12:]),
		CRC:            binary.LittleEndian.Uint32(buf[16:]),
		MyLBA:          binary.LittleEndian.Uint64(buf[24:]),
		AlternateLBA:   binary.LittleEndian.Uint64(buf[32:]),
		FirstUsableLBA: binary.LittleEndian.Uint64(buf[40:]),
		LastUsableLBA:  binary.LittleEndian.Uint64(buf[48:]),
		DiskGUID:       uuid.UUID(endianness.FromMiddleEndian([16]byte(buf[56:72]))),
		EntriesLBA:     binary.LittleEndian.Uint64(buf[72:]),
		NumEntries:     binary.LittleEndian.Uint32(buf[80:]),
		EntrySize:      binary.LittleEndian.Uint32(buf[84:]),
		EntriesCRC:     binary.LittleEndian.Uint32(buf[88:]),
	}

	if h.NumEntries < 1 || h.NumEntries > MaxEntries {
		return nil, fmt.Errorf("%w: entry count %d", ErrNoGPT, h.NumEntries)
	}

	if h.EntrySize != EntrySize {
		return nil, fmt.Errorf("%w: entry size %d", ErrNoGPT, h.EntrySize)
	}

	return h, nil
}

// Bytes encodes the header into a full sector, computing the header CRC over
// the first Size bytes with the CRC field zeroed.
func (h *Header) Bytes() []byte {
	buf := make([]byte, lba.SectorSize)

	copy(buf, Signature)
	binary.LittleEndian.PutUint32(buf[8:], h.Revision)
	binary.LittleEndian.PutUint32(buf[12:], h.Size)
	binary.LittleEndian.PutUint64(buf[24:], h.MyLBA)
	binary.LittleEndian.PutUint64(buf[32:], h.AlternateLBA)
	binary.LittleEndian.PutUint64(buf[40:], h.FirstUsableLBA)
	binary.LittleEndian.PutUint64(buf[48:], h.LastUsableLBA)

	guid := endianness.ToMiddleEndian(h.DiskGUID)
	copy(buf[56:], guid[:])

	binary.LittleEndian.PutUint64(buf[72:], h.EntriesLBA)
	binary.LittleEndian.PutUint32(buf[80:], h.NumEntries)
	binary.LittleEndian.PutUint32(buf[84:], h.EntrySize)
	binary.LittleEndian.PutUint32(buf[88:], h.EntriesCRC)

	size := h.Size
	if size < HeaderSize || size > lba.SectorSize {
		size = HeaderSize
	}

	h.CRC = checksum.CRC32Zeroed(buf[:size], headerCRCOffset)
	binary.LittleEndian.PutUint32(buf[headerCRCOffset:], h.CRC)

	return buf
}

// backup returns the header describing the backup copy at the end of a disk with the given size.
func (h *Header) backup(sectors uint64) *Header {
	b := *h

	b.MyLBA = h.AlternateLBA
	b.AlternateLBA = h.MyLBA
	b.EntriesLBA = sectors - TableSectors

	return &b
}
