// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at http://mozilla.org/MPL/2.0/.

package partition_test

import (
	"encoding/binary"
	"fmt"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/siderolabs/sdrepart/internal/pkg/partition"
	"github.com/siderolabs/sdrepart/pkg/blockdevice"
	"github.com/siderolabs/sdrepart/pkg/blockdevice/lba"
	"github.com/siderolabs/sdrepart/pkg/blockdevice/table/gpt"
	"github.com/siderolabs/sdrepart/pkg/blockdevice/table/mbr"
)

func TestLocateGPT(t *testing.T) {
	t.Parallel()

	dev := blockdevice.NewMemory(card64G)
	plan := fullPlan(t)

	_, err := partition.NewWriter(dev, partition.WithEntropy(&counterEntropy{})).Write(plan)
	require.NoError(t, err)

	alt := plan.AltOSExtent()

	for _, test := range []struct {
		query    partition.Query
		expected partition.Extent
	}{
		{
			query:    partition.CompatOSQuery,
			expected: plan.CompatOSExtent(),
		},
		{
			query:    partition.KernelQuery,
			expected: partition.Extent{Start: alt.Start + 0x600000, Sectors: 0x10000},
		},
		{
			query:    partition.RecoveryQuery,
			expected: partition.Extent{Start: alt.Start + 0x610000, Sectors: 0x20000},
		},
		{
			query:    partition.DeviceTreeQuery,
			expected: partition.Extent{Start: alt.Start + 0x630000, Sectors: 0x800},
		},
		{
			// only the first three characters are compared
			query:    partition.Query{Name: "SOS-recovery"},
			expected: partition.Extent{Start: alt.Start + 0x610000, Sectors: 0x20000},
		},
	} {
		t.Run(test.query.Name, func(t *testing.T) {
			t.Parallel()

			extent, err := partition.Locate(dev, test.query)
			require.NoError(t, err)

			assert.Equal(t, test.expected, extent)
		})
	}

	extent, err := partition.Locate(dev, partition.Query{Name: "XYZ", MBRType: mbr.TypeLinux})
	require.ErrorIs(t, err, partition.ErrPartitionNotFound)
	assert.True(t, extent.IsZero())

	ok, err := partition.HasAltOS(dev)
	require.NoError(t, err)
	assert.True(t, ok)

	layout, err := partition.ReadLayout(dev)
	require.NoError(t, err)
	require.NotNil(t, layout.GPT)
	assert.Equal(t, mbr.TypeGPTProtective, layout.MBR.Entries[3].Type)
}

func TestLocateMBR(t *testing.T) {
	t.Parallel()

	dev := blockdevice.NewMemory(card32G)

	p := newPlanner(t, card32G)
	require.False(t, p.SetCompatOS(8).Reverted)

	plan := p.Plan()

	_, err := partition.NewWriter(dev, partition.WithEntropy(&counterEntropy{})).Write(plan)
	require.NoError(t, err)

	extent, err := partition.Locate(dev, partition.CompatOSQuery)
	require.NoError(t, err)
	assert.Equal(t, plan.CompatOSExtent(), extent)
	assert.Equal(t, lba.MiB(8192), extent.Sectors)

	extent, err = partition.Locate(dev, partition.KernelQuery)
	require.ErrorIs(t, err, partition.ErrPartitionNotFound)
	assert.True(t, extent.IsZero())

	_, err = partition.Locate(dev, partition.Query{MBRType: mbr.TypeEmuMMC})
	require.ErrorIs(t, err, partition.ErrPartitionNotFound)

	ok, err := partition.HasAltOS(dev)
	require.NoError(t, err)
	assert.False(t, ok)

	layout, err := partition.ReadLayout(dev)
	require.NoError(t, err)
	assert.Nil(t, layout.GPT)
}

func TestLocateBlank(t *testing.T) {
	t.Parallel()

	dev := blockdevice.NewMemory(card32G)

	extent, err := partition.Locate(dev, partition.CompatOSQuery)
	require.ErrorIs(t, err, partition.ErrPartitionNotFound)
	assert.Equal(t, partition.Extent{}, extent)
}

// tableWithCompatOSAt writes a GPT whose only compat-OS entry sits at index idx.
func tableWithCompatOSAt(t *testing.T, idx int) *blockdevice.Memory {
	t.Helper()

	dev := blockdevice.NewMemory(card32G)
	table := gpt.New(card32G)

	for i := range idx {
		require.NoError(t, table.Add(&gpt.Entry{
			Type:     gpt.TypeBasicData,
			ID:       uuid.New(),
			FirstLBA: uint64(0x8000 + i*0x800),
			LastLBA:  uint64(0x8000 + i*0x800 + 0x7FF),
			Name:     fmt.Sprintf("p%d", i),
		}))
	}

	require.NoError(t, table.Add(&gpt.Entry{
		Type:     gpt.TypeLinuxFilesystem,
		ID:       uuid.New(),
		FirstLBA: 0x100000,
		LastLBA:  0x1FFFFF,
		Name:     partition.NameCompatOS,
	}))

	require.NoError(t, table.Write(dev))

	return dev
}

func TestLocateScanLimit(t *testing.T) {
	t.Parallel()

	extent, err := partition.Locate(tableWithCompatOSAt(t, partition.ScanLimit-1), partition.CompatOSQuery)
	require.NoError(t, err)
	assert.Equal(t, partition.Extent{Start: 0x100000, Sectors: 0x100000}, extent)

	extent, err = partition.Locate(tableWithCompatOSAt(t, partition.ScanLimit), partition.CompatOSQuery)
	require.ErrorIs(t, err, partition.ErrPartitionNotFound)
	assert.Equal(t, partition.Extent{}, extent)
}

func TestLocateEmptyGPTHeader(t *testing.T) {
	t.Parallel()

	dev := tableWithCompatOSAt(t, 0)

	header := sector(t, dev, 1)
	binary.LittleEndian.PutUint32(header[80:], 0)
	require.NoError(t, dev.WriteSectors(1, header))

	_, err := gpt.Read(dev)
	require.ErrorIs(t, err, gpt.ErrNoGPT)

	extent, err := partition.Locate(dev, partition.KernelQuery)
	require.ErrorIs(t, err, partition.ErrPartitionNotFound)
	assert.True(t, extent.IsZero())

	ok, err := partition.HasAltOS(dev)
	require.NoError(t, err)
	assert.False(t, ok)
}
