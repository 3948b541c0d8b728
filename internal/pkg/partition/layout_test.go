// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at http://mozilla.org/MPL/2.0/.

package partition_test

import (
	"bytes"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/siderolabs/sdrepart/internal/pkg/partition"
	"github.com/siderolabs/sdrepart/pkg/blockdevice"
	"github.com/siderolabs/sdrepart/pkg/blockdevice/lba"
	"github.com/siderolabs/sdrepart/pkg/blockdevice/table/gpt"
	"github.com/siderolabs/sdrepart/pkg/blockdevice/table/mbr"
)

const card64G = 64 * lba.SectorsPerGiB

type counterEntropy struct {
	n byte
}

func (c *counterEntropy) Random128() ([16]byte, error) {
	c.n++

	var b [16]byte

	for i := range b {
		b[i] = c.n + byte(i) + 1
	}

	return b, nil
}

func fill(t *testing.T, dev blockdevice.Device, sector uint64, value byte) {
	t.Helper()

	require.NoError(t, dev.WriteSectors(sector, bytes.Repeat([]byte{value}, lba.SectorSize)))
}

func sector(t *testing.T, dev blockdevice.Device, n uint64) []byte {
	t.Helper()

	buf := make([]byte, lba.SectorSize)
	require.NoError(t, dev.ReadSectors(n, buf))

	return buf
}

func fullPlan(t *testing.T) partition.Plan {
	t.Helper()

	p := newPlanner(t, card64G)

	require.False(t, p.SetSecondary(partition.SecondaryRequest{GiB: 8, Double: true}).Reverted)
	require.False(t, p.SetCompatOS(16).Reverted)
	require.False(t, p.SetAltOS(12).Reverted)

	return p.Plan()
}

func TestWriteAltOSLayout(t *testing.T) {
	t.Parallel()

	dev := blockdevice.NewMemory(card64G)
	plan := fullPlan(t)

	// previous MBR with chainloader metadata
	old := mbr.New()
	old.BootCode[0] = 0xEB
	old.BootCode[0x80] = 0x42
	old.BootCode[0x80+303] = 0x43
	require.NoError(t, old.Write(dev))

	fill(t, dev, 0x7FFF, 0xFF)
	fill(t, dev, partition.ReservedSectors, 0xAB)

	compat := plan.CompatOSExtent()
	fill(t, dev, compat.Start, 0xFF)

	entropy := &counterEntropy{}

	layout, err := partition.NewWriter(dev,
		partition.WithEntropy(entropy),
		partition.WithLogger(zaptest.NewLogger(t)),
	).Write(plan)
	require.NoError(t, err)
	require.NotNil(t, layout.GPT)

	m, err := mbr.Read(dev)
	require.NoError(t, err)

	assert.True(t, m.Valid())
	assert.Equal(t, byte(0), m.BootCode[0])
	assert.Equal(t, byte(0x42), m.BootCode[0x80])
	assert.Equal(t, byte(0x43), m.BootCode[0x80+303])
	assert.Equal(t, [4]byte{2, 3, 4, 5}, m.DiskSignature)

	secondary := plan.SecondaryExtents()
	require.Len(t, secondary, 2)

	assert.Equal(t, mbr.Entry{Type: mbr.TypeFAT32LBA, Start: 0x8000, Size: uint32(plan.Primary)}, m.Entries[0])
	assert.Equal(t, mbr.Entry{Type: mbr.TypeEmuMMC, Start: uint32(secondary[0].Start), Size: uint32(plan.Secondary / 2)}, m.Entries[1])
	assert.Equal(t, mbr.Entry{Type: mbr.TypeEmuMMC, Start: uint32(secondary[0].Start + plan.Secondary/2), Size: uint32(plan.Secondary/2 - 0x800)}, m.Entries[2])
	assert.Equal(t, mbr.Entry{Type: mbr.TypeGPTProtective, Start: 1, Size: card64G - 1}, m.Entries[3])

	// secondary system instances sit at the end of the allocation
	assert.Equal(t, uint64(card64G), secondary[1].Start+secondary[1].Sectors+0x800)

	assert.Equal(t, make([]byte, lba.SectorSize), sector(t, dev, 0x7FFF))
	assert.Equal(t, bytes.Repeat([]byte{0xAB}, lba.SectorSize), sector(t, dev, partition.ReservedSectors))
	assert.Equal(t, make([]byte, lba.SectorSize), sector(t, dev, compat.Start))

	primaryHeader, err := gpt.Verify(dev, 1)
	require.NoError(t, err)

	backupHeader, err := gpt.Verify(dev, card64G-1)
	require.NoError(t, err)

	assert.Equal(t, uint64(34), primaryHeader.FirstUsableLBA)
	assert.Equal(t, uint64(card64G-0x800-1), primaryHeader.LastUsableLBA)
	assert.Equal(t, uint64(card64G-33), backupHeader.EntriesLBA)
	assert.Equal(t, primaryHeader.EntriesCRC, backupHeader.EntriesCRC)

	table, err := gpt.Read(dev)
	require.NoError(t, err)

	var names []string

	for _, e := range table.Entries {
		if e.IsEmpty() {
			break
		}

		names = append(names, e.Name)
	}

	assert.Equal(t, []string{
		"hos_data", "l4t", "vendor", "APP", "LNX", "SOS", "DTB", "MDA", "CAC", "MSC", "UDA", "emummc", "emummc2",
	}, names)

	assert.Equal(t, gpt.TypeBasicData, table.Entries[0].Type)
	assert.Equal(t, gpt.TypeLinuxFilesystem, table.Entries[1].Type)
	assert.Equal(t, partition.TypeEmuMMC, table.Entries[11].Type)

	// disk GUID tag
	assert.Equal(t, "SDRGPT", string(table.Header.DiskGUID[10:]))

	// partitions are contiguous
	for i := 1; i < len(names); i++ {
		assert.Equal(t, table.Entries[i-1].LastLBA+1, table.Entries[i].FirstLBA, names[i])
	}

	// hos_data unique GUID byte 7 is cleared on disk
	entries := sector(t, dev, 2)
	assert.Equal(t, byte(0), entries[16+7])

	uda := table.Entries[10]
	assert.Equal(t, plan.AltOS-0x798000, uda.Length())
	assert.Equal(t, plan.UserdataSectors(), uda.Length())

	// every GUID came from a separate draw
	ids := map[[16]byte]struct{}{}

	for _, e := range table.Entries[:len(names)] {
		ids[e.ID] = struct{}{}
	}

	assert.Len(t, ids, len(names))
}

func TestWriteLinuxLayout(t *testing.T) {
	t.Parallel()

	dev := blockdevice.NewMemory(card32G)

	p := newPlanner(t, card32G)
	require.False(t, p.SetSecondary(partition.SecondaryRequest{GiB: 4}).Reverted)
	require.False(t, p.SetCompatOS(8).Reverted)

	plan := p.Plan()

	_, err := partition.NewWriter(dev, partition.WithEntropy(&counterEntropy{})).Write(plan)
	require.NoError(t, err)

	m, err := mbr.Read(dev)
	require.NoError(t, err)

	compat := plan.CompatOSExtent()

	assert.Equal(t, mbr.Entry{Type: mbr.TypeLinux, Start: uint32(compat.Start), Size: uint32(compat.Sectors)}, m.Entries[1])
	assert.Equal(t, mbr.Entry{
		Type:  mbr.TypeEmuMMC,
		Start: uint32(compat.Start + compat.Sectors),
		Size:  uint32(lba.MiB(4*1024+32) - 0x800),
	}, m.Entries[2])
	assert.True(t, m.Entries[3].IsEmpty())

	_, err = gpt.Read(dev)
	require.ErrorIs(t, err, gpt.ErrNoGPT)
}

func TestWriteUserdataGap(t *testing.T) {
	t.Parallel()

	dev := blockdevice.NewMemory(card32G)

	p := newPlanner(t, card32G)
	require.False(t, p.SetAltOS(8).Reverted)

	plan := p.Plan()

	layout, err := partition.NewWriter(dev, partition.WithEntropy(&counterEntropy{})).Write(plan)
	require.NoError(t, err)

	// hos_data, vendor .. MSC, UDA
	uda := layout.GPT.Entries[9]
	require.Equal(t, "UDA", uda.Name)

	assert.Equal(t, plan.AltOS-0x798000-0x800, uda.Length())
	assert.Equal(t, plan.AltOSExtent().Start+plan.AltOS-0x800, uda.LastLBA+1)
	assert.Equal(t, mbr.TypeGPTProtective, layout.MBR.Entries[1].Type)
}

func TestWriteRejectsInfeasiblePlan(t *testing.T) {
	t.Parallel()

	dev := blockdevice.NewMemory(card32G)
	fill(t, dev, 0, 0xEE)

	_, err := partition.NewWriter(dev).Write(partition.Plan{
		Primary:  lba.MiB(1024),
		CompatOS: lba.MiB(64 * 1024),
	})
	require.ErrorIs(t, err, partition.ErrPlanInfeasible)

	assert.Equal(t, bytes.Repeat([]byte{0xEE}, lba.SectorSize), sector(t, dev, 0))
}

type exhaustedEntropy struct {
	left int
}

func (e *exhaustedEntropy) Random128() ([16]byte, error) {
	if e.left == 0 {
		return [16]byte{}, errors.New("no entropy")
	}

	e.left--

	return [16]byte{1}, nil
}

func TestWriteEntropyFailure(t *testing.T) {
	t.Parallel()

	plan := fullPlan(t)

	// the last GUID is drawn after every other value
	for _, left := range []int{0, 1, 14} {
		dev := blockdevice.NewMemory(card64G)

		old := mbr.New()
		old.Entries[0] = mbr.Entry{Type: mbr.TypeFAT32LBA, Start: 0x8000, Size: 0x100000}
		require.NoError(t, old.Write(dev))

		compat := plan.CompatOSExtent()
		fill(t, dev, compat.Start, 0xFF)

		_, err := partition.NewWriter(dev, partition.WithEntropy(&exhaustedEntropy{left: left})).Write(plan)
		require.ErrorContains(t, err, "no entropy")

		m, err := mbr.Read(dev)
		require.NoError(t, err)

		assert.True(t, m.Valid())
		assert.Equal(t, old.Entries[0], m.Entries[0])
		assert.Equal(t, bytes.Repeat([]byte{0xFF}, lba.SectorSize), sector(t, dev, compat.Start))

		_, err = gpt.Read(dev)
		require.ErrorIs(t, err, gpt.ErrNoGPT)
	}
}
