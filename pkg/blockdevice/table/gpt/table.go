// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at http://mozilla.org/MPL/2.0/.

// Package gpt provides a library for working with the 128 entry flavor of GUID partition tables.
package gpt

import (
	"errors"
	"fmt"

	"github.com/siderolabs/sdrepart/pkg/blockdevice"
	"github.com/siderolabs/sdrepart/pkg/blockdevice/lba"
	"github.com/siderolabs/sdrepart/pkg/checksum"
)

// Table geometry.
const (
	MaxEntries = 128

	// EntriesSectors is the size of the entries array.
	EntriesSectors = MaxEntries * EntrySize / lba.SectorSize
	// TableSectors is the size of a header plus the entries array.
	TableSectors = 1 + EntriesSectors

	PrimaryHeaderLBA  = 1
	PrimaryEntriesLBA = 2
	FirstUsableLBA    = PrimaryEntriesLBA + EntriesSectors
)

var (
	// ErrNoGPT is returned when sector 1 does not hold a usable GPT header.
	ErrNoGPT = errors.New("no GUID partition table")

	// ErrTableFull is returned when all entries are in use.
	ErrTableFull = errors.New("partition table is full")

	// ErrChecksum is returned when a stored CRC does not match the data.
	ErrChecksum = errors.New("checksum mismatch")
)

// Table is a GPT header with its entries array.
type Table struct {
	Header  *Header
	Entries []*Entry

	sectors uint64
}

// New creates an empty table for a disk with the given number of sectors.
func New(sectors uint64, setters ...Option) *Table {
	opts := NewDefaultOptions(sectors, setters...)

	return &Table{
		Header: &Header{
			Revision:       Revision,
			Size:           HeaderSize,
			MyLBA:          PrimaryHeaderLBA,
			AlternateLBA:   sectors - 1,
			FirstUsableLBA: FirstUsableLBA,
			LastUsableLBA:  opts.LastUsableLBA,
			DiskGUID:       opts.DiskGUID,
			EntriesLBA:     PrimaryEntriesLBA,
			NumEntries:     MaxEntries,
			EntrySize:      EntrySize,
		},
		sectors: sectors,
	}
}

// Read reads the primary table from dev.
//
// All NumEntries entries are returned, including empty ones, in on-disk order.
func Read(dev blockdevice.Device) (*Table, error) {
	buf := make([]byte, lba.SectorSize)

	if err := dev.ReadSectors(PrimaryHeaderLBA, buf); err != nil {
		return nil, fmt.Errorf("error reading GPT header: %w", err)
	}

	h, err := ParseHeader(buf)
	if err != nil {
		return nil, err
	}

	raw := make([]byte, EntriesSectors*lba.SectorSize)

	if err = dev.ReadSectors(h.EntriesLBA, raw[:entriesSectors(h.NumEntries)*lba.SectorSize]); err != nil {
		return nil, fmt.Errorf("error reading GPT entries: %w", err)
	}

	t := &Table{
		Header:  h,
		Entries: make([]*Entry, 0, h.NumEntries),
		sectors: dev.Sectors(),
	}

	for i := range h.NumEntries {
		e, err := ParseEntry(raw[i*EntrySize:])
		if err != nil {
			return nil, fmt.Errorf("entry %d: %w", i, err)
		}

		t.Entries = append(t.Entries, e)
	}

	return t, nil
}

// Add appends a partition entry.
func (t *Table) Add(e *Entry) error {
	if len(t.Entries) >= MaxEntries {
		return ErrTableFull
	}

	t.Entries = append(t.Entries, e)

	return nil
}

// Lookup returns the first entry, among the first limit entries, whose name
// starts with prefix.
func (t *Table) Lookup(prefix string, limit int) (*Entry, int, bool) {
	for i, e := range t.Entries {
		if i >= limit {
			break
		}

		if !e.IsEmpty() && e.NameHasPrefix(prefix) {
			return e, i, true
		}
	}

	return nil, 0, false
}

// EntriesBytes encodes the full 128 entry array, zero padding unused entries.
func (t *Table) EntriesBytes() ([]byte, error) {
	buf := make([]byte, EntriesSectors*lba.SectorSize)

	for i, e := range t.Entries {
		b, err := e.Bytes()
		if err != nil {
			return nil, fmt.Errorf("entry %d: %w", i, err)
		}

		copy(buf[i*EntrySize:], b)
	}

	return buf, nil
}

// Write writes the primary header and entries, then the backup entries and the backup header.
func (t *Table) Write(dev blockdevice.Device) error {
	entries, err := t.EntriesBytes()
	if err != nil {
		return err
	}

	t.Header.NumEntries = MaxEntries
	t.Header.EntrySize = EntrySize
	t.Header.EntriesCRC = checksum.CRC32(entries)

	primary := append(t.Header.Bytes(), entries...)

	if err = dev.WriteSectors(PrimaryHeaderLBA, primary); err != nil {
		return fmt.Errorf("error writing primary GPT: %w", err)
	}

	backup := t.Header.backup(t.sectors)

	if err = dev.WriteSectors(backup.EntriesLBA, entries); err != nil {
		return fmt.Errorf("error writing backup GPT entries: %w", err)
	}

	if err = dev.WriteSectors(backup.MyLBA, backup.Bytes()); err != nil {
		return fmt.Errorf("error writing backup GPT header: %w", err)
	}

	return nil
}

// Verify re-reads the header at headerLBA with its entries and checks both CRCs.
func Verify(dev blockdevice.Device, headerLBA uint64) (*Header, error) {
	buf := make([]byte, lba.SectorSize)

	if err := dev.ReadSectors(headerLBA, buf); err != nil {
		return nil, fmt.Errorf("error reading GPT header: %w", err)
	}

	h, err := ParseHeader(buf)
	if err != nil {
		return nil, err
	}

	if h.MyLBA != headerLBA {
		return nil, fmt.Errorf("header at %d claims LBA %d", headerLBA, h.MyLBA)
	}

	if crc := checksum.CRC32Zeroed(buf[:HeaderSize], headerCRCOffset); crc != h.CRC {
		return nil, fmt.Errorf("%w: header crc %08x, stored %08x", ErrChecksum, crc, h.CRC)
	}

	raw := make([]byte, entriesSectors(h.NumEntries)*lba.SectorSize)

	if err = dev.ReadSectors(h.EntriesLBA, raw); err != nil {
		return nil, fmt.Errorf("error reading GPT entries: %w", err)
	}

	if crc := checksum.CRC32(raw[:h.NumEntries*EntrySize]); crc != h.EntriesCRC {
		return nil, fmt.Errorf("%w: entries crc %08x, stored %08x", ErrChecksum, crc, h.EntriesCRC)
	}

	return h, nil
}

func entriesSectors(n uint32) uint64 {
	return (uint64(n)*EntrySize + lba.SectorSize - 1) / lba.SectorSize
}
