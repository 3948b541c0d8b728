// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at http://mozilla.org/MPL/2.0/.

package partition

import (
	"fmt"
	"math"

	"github.com/dustin/go-humanize"
	"github.com/hashicorp/go-multierror"

	"github.com/siderolabs/sdrepart/pkg/blockdevice/lba"
)

// Plan is a sector allocation for the partitions following the reserved area.
//
// Partitions are laid out in field order after the primary: compat-OS, alt-OS
// then the secondary system instance(s).
type Plan struct {
	Primary         uint64
	Secondary       uint64
	SecondaryDouble bool
	CompatOS        uint64
	AltOS           uint64
}

// Minimum sizes enforced by Validate, in MiB.
const (
	secondaryMinMiB = 4*1024 + secondaryReserveMiB
	compatOSMinMiB  = 8192
	altOSMinMiB     = 8192
)

// Validate checks the plan against the device geometry, reporting every violation.
func (p Plan) Validate(g Geometry) error {
	var result *multierror.Error

	infeasible := func(format string, args ...any) {
		result = multierror.Append(result, fmt.Errorf("%w: %s", ErrPlanInfeasible, fmt.Sprintf(format, args...)))
	}

	for _, size := range []struct {
		name    string
		sectors uint64
	}{
		{"primary", p.Primary},
		{"secondary", p.Secondary},
		{"compat-os", p.CompatOS},
		{"alt-os", p.AltOS},
	} {
		if size.sectors%lba.SectorsPerMiB != 0 {
			infeasible("%s size %d is not MiB aligned", size.name, size.sectors)
		}
	}

	if g.Sectors < ReservedSectors {
		infeasible("device has %d sectors, less than the reserved area", g.Sectors)

		return result.ErrorOrNil()
	}

	used := p.Used()
	usable := g.Sectors - ReservedSectors

	if used > usable {
		infeasible("plan needs %s, device offers %s", humanize.IBytes(used*lba.SectorSize), humanize.IBytes(usable*lba.SectorSize))
	}

	if p.Primary < lba.MiB(PrimaryFloorMiB) {
		infeasible("primary partition %s is below the %d MiB floor", humanize.IBytes(p.Primary*lba.SectorSize), PrimaryFloorMiB)
	}

	if p.Secondary != 0 && p.Secondary < lba.MiB(secondaryMinMiB) {
		infeasible("secondary size %d MiB is below %d MiB", lba.ToMiB(p.Secondary), secondaryMinMiB)
	}

	if p.SecondaryDouble && p.Secondary%(2*lba.SectorsPerMiB) != 0 {
		infeasible("doubled secondary size %d MiB does not split evenly", lba.ToMiB(p.Secondary))
	}

	if p.SecondaryDouble && p.Secondary == 0 {
		infeasible("doubled secondary requested without a size")
	}

	if p.CompatOS != 0 && p.CompatOS < lba.MiB(compatOSMinMiB) {
		infeasible("compat-os size %d MiB is below %d MiB", lba.ToMiB(p.CompatOS), compatOSMinMiB)
	}

	if p.AltOS != 0 && p.AltOS < lba.MiB(altOSMinMiB) {
		infeasible("alt-os size %d MiB is below %d MiB", lba.ToMiB(p.AltOS), altOSMinMiB)
	}

	if ReservedSectors+used > math.MaxUint32 {
		infeasible("layout ends past the 32-bit MBR limit")
	}

	return result.ErrorOrNil()
}

// Used returns the number of sectors allocated by the plan.
func (p Plan) Used() uint64 {
	return p.Primary + p.Secondary + p.CompatOS + p.AltOS
}

// PrimaryExtent returns the primary partition location.
func (p Plan) PrimaryExtent() Extent {
	return Extent{Start: ReservedSectors, Sectors: p.Primary}
}

// CompatOSExtent returns the compat-OS partition location.
func (p Plan) CompatOSExtent() Extent {
	return Extent{Start: ReservedSectors + p.Primary, Sectors: p.CompatOS}
}

// AltOSExtent returns the area holding the alt-OS partitions.
func (p Plan) AltOSExtent() Extent {
	return Extent{Start: ReservedSectors + p.Primary + p.CompatOS, Sectors: p.AltOS}
}

// SecondaryExtents returns the secondary system instances, each without its trailing gap.
func (p Plan) SecondaryExtents() []Extent {
	if p.Secondary == 0 {
		return nil
	}

	start := ReservedSectors + p.Primary + p.CompatOS + p.AltOS

	if !p.SecondaryDouble {
		return []Extent{{Start: start, Sectors: p.Secondary - secondaryGapSectors}}
	}

	half := p.Secondary / 2

	return []Extent{
		{Start: start, Sectors: half},
		{Start: start + half, Sectors: half - secondaryGapSectors},
	}
}

// UserdataSectors returns the size of the alt-OS userdata partition.
func (p Plan) UserdataSectors() uint64 {
	if p.AltOS == 0 {
		return 0
	}

	size := p.AltOS - altOSFixedSectors

	if p.Secondary == 0 {
		size -= secondaryGapSectors
	}

	return size
}

// String implements fmt.Stringer.
func (p Plan) String() string {
	double := ""
	if p.SecondaryDouble {
		double = " (x2)"
	}

	return fmt.Sprintf("primary %s, secondary %s%s, compat-os %s, alt-os %s",
		humanize.IBytes(p.Primary*lba.SectorSize),
		humanize.IBytes(p.Secondary*lba.SectorSize), double,
		humanize.IBytes(p.CompatOS*lba.SectorSize),
		humanize.IBytes(p.AltOS*lba.SectorSize),
	)
}
