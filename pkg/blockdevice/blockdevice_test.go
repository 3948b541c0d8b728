// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at http://mozilla.org/MPL/2.0/.

package blockdevice_test

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/siderolabs/sdrepart/pkg/blockdevice"
	"github.com/siderolabs/sdrepart/pkg/blockdevice/lba"
)

func TestMemory(t *testing.T) {
	t.Parallel()

	// 64 GiB, never fully allocated
	dev := blockdevice.NewMemory(64 * lba.SectorsPerGiB)

	assert.Equal(t, uint64(64*lba.SectorsPerGiB), dev.Sectors())

	buf := bytes.Repeat([]byte{0xA5}, 3*lba.SectorSize)

	// straddles a chunk boundary
	require.NoError(t, dev.WriteSectors(lba.SectorsPerMiB-1, buf))

	out := make([]byte, 5*lba.SectorSize)
	require.NoError(t, dev.ReadSectors(lba.SectorsPerMiB-2, out))

	assert.Equal(t, make([]byte, lba.SectorSize), out[:lba.SectorSize])
	assert.Equal(t, buf, out[lba.SectorSize:4*lba.SectorSize])
	assert.Equal(t, make([]byte, lba.SectorSize), out[4*lba.SectorSize:])

	assert.Equal(t, 2*lba.SectorsPerMiB*lba.SectorSize, dev.Allocated())

	require.NoError(t, dev.WriteSectors(dev.Sectors()-1, make([]byte, lba.SectorSize)))
	require.ErrorIs(t, dev.WriteSectors(dev.Sectors(), make([]byte, lba.SectorSize)), blockdevice.ErrOutOfRange)
	require.ErrorIs(t, dev.ReadSectors(dev.Sectors()-1, make([]byte, 2*lba.SectorSize)), blockdevice.ErrOutOfRange)
	require.Error(t, dev.ReadSectors(0, make([]byte, 100)))
}

func TestZero(t *testing.T) {
	t.Parallel()

	dev := blockdevice.NewMemory(0x4000)

	require.NoError(t, dev.WriteSectors(0, bytes.Repeat([]byte{0xFF}, 0x4000*lba.SectorSize)))
	require.NoError(t, blockdevice.Zero(dev, 1, 0x1000))

	out := make([]byte, 0x1002*lba.SectorSize)
	require.NoError(t, dev.ReadSectors(0, out))

	assert.Equal(t, bytes.Repeat([]byte{0xFF}, lba.SectorSize), out[:lba.SectorSize])
	assert.Equal(t, make([]byte, 0x1000*lba.SectorSize), out[lba.SectorSize:0x1001*lba.SectorSize])
	assert.Equal(t, bytes.Repeat([]byte{0xFF}, lba.SectorSize), out[0x1001*lba.SectorSize:])
}

func TestFileImage(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "sd.img")

	require.NoError(t, os.WriteFile(path, nil, 0o600))
	require.NoError(t, os.Truncate(path, 8*lba.SectorsPerMiB*lba.SectorSize))

	dev, err := blockdevice.Open(path)
	require.NoError(t, err)

	t.Cleanup(func() { dev.Close() }) //nolint:errcheck

	assert.Equal(t, uint64(8*lba.SectorsPerMiB), dev.Sectors())

	buf := bytes.Repeat([]byte("sdrepart"), lba.SectorSize/8)
	require.NoError(t, dev.WriteSectors(42, buf))
	require.NoError(t, dev.Sync())
	require.NoError(t, dev.RereadPartitionTable())

	out := make([]byte, lba.SectorSize)
	require.NoError(t, dev.ReadSectors(42, out))
	assert.Equal(t, buf, out)

	require.ErrorIs(t, dev.ReadSectors(dev.Sectors(), out), blockdevice.ErrOutOfRange)
}
