// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at http://mozilla.org/MPL/2.0/.

package mbr_test

import (
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/siderolabs/sdrepart/pkg/blockdevice"
	"github.com/siderolabs/sdrepart/pkg/blockdevice/table/mbr"
)

func TestEncodeLayout(t *testing.T) {
	t.Parallel()

	m := mbr.New()
	m.DiskSignature = [4]byte{1, 2, 3, 4}
	m.Entries[0] = mbr.Entry{Type: mbr.TypeFAT32LBA, Start: 0x8000, Size: 0x1000000}
	m.Entries[3] = mbr.Entry{Type: mbr.TypeGPTProtective, Start: 1, Size: 0xFFFFFFFF}

	buf := m.Bytes()
	require.Len(t, buf, 512)

	assert.Equal(t, []byte{1, 2, 3, 4}, buf[0x1B8:0x1BC])
	assert.Equal(t, []byte{0x55, 0xAA}, buf[0x1FE:])

	assert.Equal(t, byte(0x0C), buf[0x1BE+4])
	assert.Equal(t, uint32(0x8000), binary.LittleEndian.Uint32(buf[0x1BE+8:]))
	assert.Equal(t, uint32(0x1000000), binary.LittleEndian.Uint32(buf[0x1BE+12:]))

	assert.Equal(t, byte(0xEE), buf[0x1EE+4])
	assert.Equal(t, uint32(1), binary.LittleEndian.Uint32(buf[0x1EE+8:]))
	assert.Equal(t, uint32(0xFFFFFFFF), binary.LittleEndian.Uint32(buf[0x1EE+12:]))
}

func TestReadWrite(t *testing.T) {
	t.Parallel()

	dev := blockdevice.NewMemory(2048)

	m := mbr.New()
	m.BootCode[0x80] = 0xEA
	m.Entries[1] = mbr.Entry{Status: 0x80, StartCHS: [3]byte{1, 2, 3}, Type: mbr.TypeLinux, Start: 2048, Size: 16}

	require.NoError(t, m.Write(dev))

	read, err := mbr.Read(dev)
	require.NoError(t, err)

	assert.True(t, read.Valid())
	assert.Equal(t, m, read)
	assert.True(t, read.Entries[0].IsEmpty())
	assert.False(t, read.Entries[1].IsEmpty())
}

func TestParseBlank(t *testing.T) {
	t.Parallel()

	m, err := mbr.Parse(make([]byte, 512))
	require.NoError(t, err)

	assert.False(t, m.Valid())

	_, err = mbr.Parse(make([]byte, 100))
	require.Error(t, err)
}
