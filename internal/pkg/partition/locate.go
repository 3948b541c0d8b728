// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at http://mozilla.org/MPL/2.0/.

package partition

import (
	"errors"
	"fmt"

	"github.com/siderolabs/sdrepart/pkg/blockdevice"
	"github.com/siderolabs/sdrepart/pkg/blockdevice/table/gpt"
	"github.com/siderolabs/sdrepart/pkg/blockdevice/table/mbr"
)

// ScanLimit is the number of GPT entries examined by Locate.
const ScanLimit = 127

// Query identifies a partition.
//
// On a GPT disk Name is matched against the first three UTF-16 code units of
// each entry name, otherwise MBR slots 1-3 are matched by MBRType.
type Query struct {
	Name    string
	MBRType byte
}

// Well known queries.
var (
	CompatOSQuery   = Query{Name: NameCompatOS, MBRType: mbr.TypeLinux}
	KernelQuery     = Query{Name: NameKernel}
	RecoveryQuery   = Query{Name: NameRecovery}
	DeviceTreeQuery = Query{Name: NameDeviceTree}
)

// Locate returns the extent of the partition matching q.
//
// ErrPartitionNotFound is returned with a zero Extent when nothing matches.
func Locate(dev blockdevice.Device, q Query) (Extent, error) {
	table, err := gpt.Read(dev)

	switch {
	case err == nil:
		if e, _, ok := table.Lookup(prefix(q.Name), ScanLimit); ok {
			return Extent{Start: e.FirstLBA, Sectors: e.Length()}, nil
		}

		return Extent{}, fmt.Errorf("%w: no GPT entry named %q", ErrPartitionNotFound, q.Name)
	case !errors.Is(err, gpt.ErrNoGPT):
		return Extent{}, err
	}

	if q.MBRType == mbr.TypeEmpty {
		return Extent{}, fmt.Errorf("%w: %q requires a GPT", ErrPartitionNotFound, q.Name)
	}

	m, err := mbr.Read(dev)
	if err != nil {
		return Extent{}, err
	}

	for _, e := range m.Entries[1:] {
		if e.Type == q.MBRType {
			return Extent{Start: uint64(e.Start), Sectors: uint64(e.Size)}, nil
		}
	}

	return Extent{}, fmt.Errorf("%w: no MBR partition of type %#02x", ErrPartitionNotFound, q.MBRType)
}

func prefix(name string) string {
	r := []rune(name)

	return string(r[:min(len(r), 3)])
}

// HasAltOS reports whether the device carries an alt-OS layout.
func HasAltOS(dev blockdevice.Device) (bool, error) {
	table, err := gpt.Read(dev)
	if err != nil {
		if errors.Is(err, gpt.ErrNoGPT) {
			return false, nil
		}

		return false, err
	}

	e, _, ok := table.Lookup(NameKernel, ScanLimit)

	return ok && e.FirstLBA != 0, nil
}

// ReadLayout reads the partition tables present on the device.
func ReadLayout(dev blockdevice.Device) (*Layout, error) {
	m, err := mbr.Read(dev)
	if err != nil {
		return nil, err
	}

	layout := &Layout{MBR: m}

	layout.GPT, err = gpt.Read(dev)
	if err != nil && !errors.Is(err, gpt.ErrNoGPT) {
		return nil, err
	}

	return layout, nil
}
