// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at http://mozilla.org/MPL/2.0/.

package partition

import (
	"fmt"
	"math"
	"strings"

	"github.com/ryanuber/columnize"
	"go.uber.org/zap"

	"github.com/siderolabs/sdrepart/pkg/blockdevice"
	"github.com/siderolabs/sdrepart/pkg/blockdevice/filesystem/vfat"
	"github.com/siderolabs/sdrepart/pkg/blockdevice/table/gpt"
	"github.com/siderolabs/sdrepart/pkg/blockdevice/table/mbr"
)

// Confirmer gates destructive operations. Confirm blocks until the user answers.
type Confirmer interface {
	Confirm(prompt string) bool
}

// ConfirmFunc adapts a function to Confirmer.
type ConfirmFunc func(prompt string) bool

// Confirm implements Confirmer.
func (f ConfirmFunc) Confirm(prompt string) bool {
	return f(prompt)
}

// HybridRepair is the outcome of RepairHybridMBR.
type HybridRepair struct {
	Old *mbr.MBR
	New *mbr.MBR

	Changed bool
	Written bool
}

// RepairHybridMBR rebuilds the MBR from the GPT so legacy readers see the
// primary and secondary partitions.
//
// Slot 0 receives the primary partition, up to two secondary system partitions
// follow, then the GPT protective entry. Nothing is written if the MBR is
// already consistent or confirm declines.
func RepairHybridMBR(dev blockdevice.Device, confirm Confirmer, logger *zap.Logger) (*HybridRepair, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	old, err := mbr.Read(dev)
	if err != nil {
		return nil, err
	}

	table, err := gpt.Read(dev)
	if err != nil {
		return nil, err
	}

	type parsed struct {
		index int
		entry *gpt.Entry
	}

	entries := make([]parsed, 0, len(table.Entries))

	for i, e := range table.Entries {
		if e.FirstLBA < table.Header.FirstUsableLBA {
			continue
		}

		entries = append(entries, parsed{index: i, entry: e})
	}

	updated := *old
	updated.Entries = [mbr.NumEntries]mbr.Entry{old.Entries[0]}

	idx := 1
	foundPrimary := false

	for _, p := range entries {
		if p.index == 0 && p.entry.Type == gpt.TypeBasicData {
			if typ, ok := detectFAT(dev, p.entry.FirstLBA); ok {
				updated.Entries[0] = hybridEntry(typ, p.entry)
				foundPrimary = true
			}
		}

		if !foundPrimary && p.entry.Name == NamePrimary {
			updated.Entries[0] = hybridEntry(mbr.TypeFAT32LBA, p.entry)
			foundPrimary = true
		}

		if p.entry.Name == NameSecondary || p.entry.Name == NameSecondary2 {
			updated.Entries[idx] = hybridEntry(mbr.TypeEmuMMC, p.entry)
			idx++
		}

		if idx >= mbr.NumEntries-1 {
			break
		}
	}

	updated.Entries[idx] = mbr.Entry{
		Type:  mbr.TypeGPTProtective,
		Start: 1,
		Size:  uint32(min(dev.Sectors()-1, math.MaxUint32)),
	}

	result := &HybridRepair{
		Old:     old,
		New:     &updated,
		Changed: slotsDiffer(old, &updated),
	}

	if !result.Changed {
		logger.Info("hybrid MBR is up to date")

		return result, nil
	}

	prompt := fmt.Sprintf("current MBR layout:\n%s\n\nnew MBR layout:\n%s", FormatMBR(old), FormatMBR(&updated))

	if confirm == nil || !confirm.Confirm(prompt) {
		logger.Info("hybrid MBR repair cancelled")

		return result, nil
	}

	if err = updated.Write(dev); err != nil {
		return result, err
	}

	result.Written = true

	logger.Info("hybrid MBR written")

	return result, nil
}

func hybridEntry(typ byte, e *gpt.Entry) mbr.Entry {
	return mbr.Entry{
		Type:  typ,
		Start: uint32(e.FirstLBA),
		Size:  uint32(e.Length()),
	}
}

// detectFAT inspects the volume boot record at start.
func detectFAT(dev blockdevice.Device, start uint64) (byte, bool) {
	sb, err := vfat.Probe(dev, start)
	if err != nil {
		return 0, false
	}

	if sb.Kind == vfat.KindExFAT {
		return mbr.TypeExFAT, true
	}

	return mbr.TypeFAT32LBA, true
}

// FormatMBR renders the partition slots of m as a table.
func FormatMBR(m *mbr.MBR) string {
	lines := []string{"SLOT | TYPE | START | SIZE"}

	for i, e := range m.Entries {
		lines = append(lines, fmt.Sprintf("%d | %02x | %08x | %08x", i, e.Type, e.Start, e.Size))
	}

	return strings.TrimRight(columnize.SimpleFormat(lines), "\n")
}

// slotsDiffer compares the type and extent of slots 1-3. Slot 0 alone never
// triggers a rewrite.
func slotsDiffer(a, b *mbr.MBR) bool {
	for i := 1; i < mbr.NumEntries; i++ {
		x, y := a.Entries[i], b.Entries[i]

		if x.Type != y.Type || x.Start != y.Start || x.Size != y.Size {
			return true
		}
	}

	return false
}
