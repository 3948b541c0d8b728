// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at http://mozilla.org/MPL/2.0/.

package partition

import (
	"encoding/binary"
	"fmt"
	"math"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/siderolabs/sdrepart/pkg/blockdevice"
	"github.com/siderolabs/sdrepart/pkg/blockdevice/lba"
	"github.com/siderolabs/sdrepart/pkg/blockdevice/table/gpt"
	"github.com/siderolabs/sdrepart/pkg/blockdevice/table/mbr"
)

// Boot code bytes carried over from the previous MBR.
const (
	bootstrapOffset = 0x80
	bootstrapSize   = 304
)

// diskGUIDTag fills the last 6 bytes of generated disk GUIDs.
const diskGUIDTag = "SDRGPT"

// Layout is the partition table written to the device.
type Layout struct {
	MBR *mbr.MBR
	// GPT is nil unless the plan has an alt-OS partition.
	GPT *gpt.Table
}

// WriterOptions configures a Writer.
type WriterOptions struct {
	Entropy Entropy
	Logger  *zap.Logger
}

// WriterOption is the functional option func.
type WriterOption func(*WriterOptions)

// WithEntropy sets the random source for signatures and GUIDs.
func WithEntropy(e Entropy) WriterOption {
	return func(o *WriterOptions) {
		o.Entropy = e
	}
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) WriterOption {
	return func(o *WriterOptions) {
		o.Logger = l
	}
}

// Writer writes a Plan to a device.
type Writer struct {
	dev     blockdevice.Device
	entropy Entropy
	logger  *zap.Logger
}

// NewWriter creates a layout writer for dev.
func NewWriter(dev blockdevice.Device, setters ...WriterOption) *Writer {
	opts := WriterOptions{
		Entropy: SystemEntropy{},
		Logger:  zap.NewNop(),
	}

	for _, setter := range setters {
		setter(&opts)
	}

	return &Writer{
		dev:     dev,
		entropy: opts.Entropy,
		logger:  opts.Logger,
	}
}

// Write replaces the partition table of the device with one describing plan.
//
// The plan is validated and all random values are drawn before anything is
// written. Once writing starts a failure leaves the device in an undefined state.
func (w *Writer) Write(plan Plan) (*Layout, error) {
	g := Geometry{Sectors: w.dev.Sectors()}

	if err := plan.Validate(g); err != nil {
		return nil, err
	}

	old, err := mbr.Read(w.dev)
	if err != nil {
		return nil, err
	}

	rnd, err := w.draw(entropyDraws(plan))
	if err != nil {
		return nil, err
	}

	layout, wipes, err := buildLayout(plan, g, old, rnd)
	if err != nil {
		return nil, err
	}

	w.logger.Info("writing partition layout", zap.Stringer("plan", plan))

	if err = blockdevice.Zero(w.dev, 0, ReservedSectors); err != nil {
		return nil, err
	}

	for _, r := range wipes {
		if err = wipe(w.dev, w.logger, r.name, r.extent, r.sectors); err != nil {
			return nil, err
		}
	}

	if layout.GPT != nil {
		w.logger.Debug("writing GPT", zap.Int("entries", len(layout.GPT.Entries)))

		if err = layout.GPT.Write(w.dev); err != nil {
			return nil, err
		}
	}

	if err = layout.MBR.Write(w.dev); err != nil {
		return nil, err
	}

	if syncer, ok := w.dev.(blockdevice.Syncer); ok {
		if err = syncer.Sync(); err != nil {
			return nil, fmt.Errorf("error syncing device: %w", err)
		}
	}

	return layout, nil
}

// wipeRegion is a partition head cleared before the tables are written.
type wipeRegion struct {
	name    string
	extent  Extent
	sectors uint64
}

// entropyDraws is the number of random values consumed by the layout of plan:
// the disk signature and, with a GPT, the disk GUID plus one GUID per entry.
func entropyDraws(plan Plan) int {
	n := 1

	if plan.AltOS == 0 {
		return n
	}

	n += 2 + len(altOSPartitions) + 1 + len(plan.SecondaryExtents())

	if plan.CompatOS != 0 {
		n++
	}

	return n
}

// buildLayout computes the tables for plan without touching the device.
func buildLayout(plan Plan, g Geometry, old *mbr.MBR, rnd [][16]byte) (*Layout, []wipeRegion, error) {
	next := func() [16]byte {
		r := rnd[0]
		rnd = rnd[1:]

		return r
	}

	m := mbr.New()

	if binary.LittleEndian.Uint32(old.BootCode[bootstrapOffset:]) != 0 {
		copy(m.BootCode[bootstrapOffset:bootstrapOffset+bootstrapSize], old.BootCode[bootstrapOffset:])
	}

	sig := next()
	copy(m.DiskSignature[:], sig[:4])

	m.Entries[0] = mbrEntry(mbr.TypeFAT32LBA, plan.PrimaryExtent())
	idx := 1

	var wipes []wipeRegion

	if plan.CompatOS != 0 && plan.AltOS == 0 {
		e := plan.CompatOSExtent()

		m.Entries[idx] = mbrEntry(mbr.TypeLinux, e)
		idx++

		wipes = append(wipes, wipeRegion{name: NameCompatOS, extent: e, sectors: headWipeSectors})
	}

	for _, e := range plan.SecondaryExtents() {
		m.Entries[idx] = mbrEntry(mbr.TypeEmuMMC, e)
		idx++
	}

	layout := &Layout{MBR: m}

	if plan.AltOS == 0 {
		return layout, wipes, nil
	}

	m.Entries[idx] = mbr.Entry{
		Type:  mbr.TypeGPTProtective,
		Start: 1,
		Size:  uint32(min(g.Sectors-1, math.MaxUint32)),
	}

	table, gptWipes, err := buildGPT(plan, g, next)
	if err != nil {
		return nil, nil, err
	}

	layout.GPT = table

	return layout, append(wipes, gptWipes...), nil
}

func buildGPT(plan Plan, g Geometry, next func() [16]byte) (*gpt.Table, []wipeRegion, error) {
	rnd := next()

	var diskGUID [16]byte

	copy(diskGUID[:10], rnd[:10])
	copy(diskGUID[10:], diskGUIDTag)

	table := gpt.New(g.Sectors,
		gpt.WithDiskGUID(gpt.GUIDFromDisk(diskGUID)),
		gpt.WithLastUsableLBA(g.Sectors-lba.SectorsPerMiB-1),
	)

	primary := plan.PrimaryExtent()

	rnd = next()

	// Windows reads this byte as read-only, shadow copy, hidden and no drive letter flags.
	rnd[7] = 0

	if err := table.Add(gptEntry(gpt.TypeBasicData, gpt.GUIDFromDisk(rnd), NamePrimary, primary)); err != nil {
		return nil, nil, err
	}

	var wipes []wipeRegion

	cursor := primary.Start + primary.Sectors

	add := func(name string, typ uuid.UUID, start, sectors, wipeSectors uint64) error {
		e := Extent{Start: start, Sectors: sectors}

		if wipeSectors > 0 {
			wipes = append(wipes, wipeRegion{name: name, extent: e, sectors: wipeSectors})
		}

		cursor = start + sectors

		return table.Add(gptEntry(typ, gpt.GUIDFromDisk(next()), name, e))
	}

	if plan.CompatOS != 0 {
		if err := add(NameCompatOS, gpt.TypeLinuxFilesystem, cursor, plan.CompatOS, headWipeSectors); err != nil {
			return nil, nil, err
		}
	}

	for _, p := range altOSPartitions {
		wipeSectors := uint64(headWipeSectors)
		if p.wipeAll {
			wipeSectors = p.sectors
		}

		if err := add(p.name, gpt.TypeLinuxFilesystem, cursor, p.sectors, wipeSectors); err != nil {
			return nil, nil, err
		}
	}

	if err := add(NameUserdata, gpt.TypeLinuxFilesystem, cursor, plan.UserdataSectors(), headWipeSectors); err != nil {
		return nil, nil, err
	}

	for i, e := range plan.SecondaryExtents() {
		if err := add(secondaryName(i), TypeEmuMMC, e.Start, e.Sectors, 0); err != nil {
			return nil, nil, err
		}
	}

	return table, wipes, nil
}

// draw reads n random values up front, so an entropy failure leaves the device untouched.
func (w *Writer) draw(n int) ([][16]byte, error) {
	rnd := make([][16]byte, 0, n)

	for range n {
		r, err := w.entropy.Random128()
		if err != nil {
			return nil, fmt.Errorf("error reading entropy: %w", err)
		}

		rnd = append(rnd, r)
	}

	return rnd, nil
}

func secondaryName(i int) string {
	if i == 0 {
		return NameSecondary
	}

	return NameSecondary2
}

func mbrEntry(typ byte, e Extent) mbr.Entry {
	return mbr.Entry{
		Type:  typ,
		Start: uint32(e.Start),
		Size:  uint32(e.Sectors),
	}
}

func gptEntry(typ, id uuid.UUID, name string, e Extent) *gpt.Entry {
	return &gpt.Entry{
		Type:     typ,
		ID:       id,
		FirstLBA: e.Start,
		LastLBA:  e.Range().End,
		Name:     name,
	}
}
