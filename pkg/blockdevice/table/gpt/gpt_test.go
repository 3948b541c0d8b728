// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at http://mozilla.org/MPL/2.0/.

package gpt_test

import (
	"encoding/binary"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/siderolabs/sdrepart/pkg/blockdevice"
	"github.com/siderolabs/sdrepart/pkg/blockdevice/lba"
	"github.com/siderolabs/sdrepart/pkg/blockdevice/table/gpt"
	"github.com/siderolabs/sdrepart/pkg/checksum"
)

const testSectors = 8 * lba.SectorsPerGiB

func writeTable(t *testing.T) *blockdevice.Memory {
	t.Helper()

	dev := blockdevice.NewMemory(testSectors)

	table := gpt.New(testSectors,
		gpt.WithDiskGUID(uuid.MustParse("2d0b1e55-6c4a-4f1e-9a55-1f1e2d3c4b5a")),
		gpt.WithLastUsableLBA(testSectors-0x800-1),
	)

	require.NoError(t, table.Add(&gpt.Entry{
		Type:     gpt.TypeBasicData,
		ID:       uuid.MustParse("0a0b0c0d-0e0f-1011-1213-141516171819"),
		FirstLBA: 0x8000,
		LastLBA:  0x8000 + 4*lba.SectorsPerGiB - 1,
		Name:     "hos_data",
	}))
	require.NoError(t, table.Add(&gpt.Entry{
		Type:     gpt.TypeLinuxFilesystem,
		ID:       uuid.MustParse("1a0b0c0d-0e0f-1011-1213-141516171819"),
		FirstLBA: 0x8000 + 4*lba.SectorsPerGiB,
		LastLBA:  0x8000 + 5*lba.SectorsPerGiB - 1,
		Name:     "LNX",
	}))

	require.NoError(t, table.Write(dev))

	return dev
}

func TestWriteRead(t *testing.T) {
	t.Parallel()

	dev := writeTable(t)

	table, err := gpt.Read(dev)
	require.NoError(t, err)

	assert.Equal(t, uint64(1), table.Header.MyLBA)
	assert.Equal(t, uint64(testSectors-1), table.Header.AlternateLBA)
	assert.Equal(t, uint64(34), table.Header.FirstUsableLBA)
	assert.Equal(t, uint64(testSectors-0x800-1), table.Header.LastUsableLBA)
	assert.Equal(t, uint64(2), table.Header.EntriesLBA)
	assert.Equal(t, uint32(128), table.Header.NumEntries)
	assert.Equal(t, uint32(128), table.Header.EntrySize)
	assert.Equal(t, "2d0b1e55-6c4a-4f1e-9a55-1f1e2d3c4b5a", table.Header.DiskGUID.String())

	require.Len(t, table.Entries, 128)

	assert.Equal(t, gpt.TypeBasicData, table.Entries[0].Type)
	assert.Equal(t, "hos_data", table.Entries[0].Name)
	assert.Equal(t, uint64(4*lba.SectorsPerGiB), table.Entries[0].Length())

	assert.Equal(t, gpt.TypeLinuxFilesystem, table.Entries[1].Type)
	assert.Equal(t, "LNX", table.Entries[1].Name)

	assert.True(t, table.Entries[2].IsEmpty())

	e, idx, ok := table.Lookup("LNX", 127)
	require.True(t, ok)
	assert.Equal(t, 1, idx)
	assert.Equal(t, uint64(0x8000+4*lba.SectorsPerGiB), e.FirstLBA)

	_, _, ok = table.Lookup("LNX", 1)
	assert.False(t, ok)
}

func TestOnDiskBytes(t *testing.T) {
	t.Parallel()

	dev := writeTable(t)

	sector := make([]byte, lba.SectorSize)
	require.NoError(t, dev.ReadSectors(1, sector))

	assert.Equal(t, "EFI PART", string(sector[:8]))
	assert.Equal(t, uint32(0x10000), binary.LittleEndian.Uint32(sector[8:]))
	assert.Equal(t, uint32(92), binary.LittleEndian.Uint32(sector[12:]))

	entries := make([]byte, 32*lba.SectorSize)
	require.NoError(t, dev.ReadSectors(2, entries))

	// basic data type, mixed endian
	assert.Equal(t, []byte{
		0xA2, 0xA0, 0xD0, 0xEB, 0xE5, 0xB9, 0x33, 0x44,
		0x87, 0xC0, 0x68, 0xB6, 0xB7, 0x26, 0x99, 0xC7,
	}, entries[:16])

	// UTF-16LE name
	assert.Equal(t, []byte{'h', 0, 'o', 0, 's', 0, '_', 0}, entries[56:64])

	assert.Equal(t, checksum.CRC32(entries), binary.LittleEndian.Uint32(sector[88:]))

	crc := binary.LittleEndian.Uint32(sector[16:])
	binary.LittleEndian.PutUint32(sector[16:], 0)
	assert.Equal(t, checksum.CRC32(sector[:92]), crc)
}

func TestBackup(t *testing.T) {
	t.Parallel()

	dev := writeTable(t)

	primary, err := gpt.Verify(dev, 1)
	require.NoError(t, err)

	backup, err := gpt.Verify(dev, testSectors-1)
	require.NoError(t, err)

	assert.Equal(t, uint64(testSectors-1), backup.MyLBA)
	assert.Equal(t, uint64(1), backup.AlternateLBA)
	assert.Equal(t, uint64(testSectors-33), backup.EntriesLBA)
	assert.Equal(t, primary.EntriesCRC, backup.EntriesCRC)
	assert.NotEqual(t, primary.CRC, backup.CRC)

	// corrupt one byte in the backup entries
	sector := make([]byte, lba.SectorSize)
	require.NoError(t, dev.ReadSectors(testSectors-33, sector))
	sector[100] ^= 0xFF
	require.NoError(t, dev.WriteSectors(testSectors-33, sector))

	_, err = gpt.Verify(dev, testSectors-1)
	require.ErrorIs(t, err, gpt.ErrChecksum)
}

func TestReadNoGPT(t *testing.T) {
	t.Parallel()

	dev := blockdevice.NewMemory(2048)

	_, err := gpt.Read(dev)
	require.ErrorIs(t, err, gpt.ErrNoGPT)

	sector := make([]byte, lba.SectorSize)
	copy(sector, "EFI PART")
	binary.LittleEndian.PutUint32(sector[80:], 129)
	binary.LittleEndian.PutUint32(sector[84:], 128)
	require.NoError(t, dev.WriteSectors(1, sector))

	_, err = gpt.Read(dev)
	require.ErrorIs(t, err, gpt.ErrNoGPT)
}

func TestNameHasPrefix(t *testing.T) {
	t.Parallel()

	for _, test := range []struct {
		name     string
		prefix   string
		expected bool
	}{
		{name: "emummc2", prefix: "emu", expected: true},
		{name: "l4t", prefix: "l4t", expected: true},
		{name: "LN", prefix: "LNX", expected: false},
		{name: "lnx", prefix: "LNX", expected: false},
	} {
		t.Run(test.name+"/"+test.prefix, func(t *testing.T) {
			t.Parallel()

			e := &gpt.Entry{Type: gpt.TypeLinuxFilesystem, Name: test.name}

			assert.Equal(t, test.expected, e.NameHasPrefix(test.prefix))

			b, err := e.Bytes()
			require.NoError(t, err)

			parsed, err := gpt.ParseEntry(b)
			require.NoError(t, err)

			assert.Equal(t, test.name, parsed.Name)
			assert.Equal(t, test.expected, parsed.NameHasPrefix(test.prefix))
		})
	}

	_, err := (&gpt.Entry{Type: gpt.TypeLinuxFilesystem, Name: "a name that is far too long for a GPT entry"}).Bytes()
	require.Error(t, err)
}
