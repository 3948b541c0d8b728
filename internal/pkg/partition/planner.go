// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at http://mozilla.org/MPL/2.0/.

package partition

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/siderolabs/sdrepart/pkg/blockdevice/lba"
)

// Planner sizes in MiB.
const (
	// secondaryReserveMiB covers BOOT0, BOOT1, the 16 MiB offset and 8 MiB of alignment.
	secondaryReserveMiB = 4 + 4 + 16 + 8
	secondaryMinGiB     = 4

	// SecondaryFullMiB is the size of a full sized secondary system instance.
	SecondaryFullMiB = 29856
	// SecondaryFullDoubleMiB is the size of two full sized secondary system instances.
	SecondaryFullDoubleMiB = 59712

	compatOSCutoffMiB = 4096

	altOSOverheadMiB   = 4096
	altOSUserCutoffMiB = 2048
	altOSUserMinMiB    = 4096
)

// SecondaryRequest asks for a secondary system partition.
type SecondaryRequest struct {
	// GiB per instance, 0 disables the partition, 1-3 are raised to 4.
	GiB uint32
	// Double allocates two equally sized instances.
	Double bool
	// Full selects the full sized instance, GiB is ignored.
	Full bool
}

// Adjustment reports how a size request was applied, sizes in MiB.
type Adjustment struct {
	Partition string
	Requested int64
	Applied   int64
	// Reduced is set when the request was shrunk to keep the primary partition at the floor.
	Reduced bool
	// Reverted is set when the request could not be applied and the previous size was kept.
	Reverted bool
}

// String implements fmt.Stringer.
func (a Adjustment) String() string {
	switch {
	case a.Reverted:
		return fmt.Sprintf("%s: %d MiB does not fit, keeping %d MiB", a.Partition, a.Requested, a.Applied)
	case a.Reduced:
		return fmt.Sprintf("%s: %d MiB reduced to %d MiB", a.Partition, a.Requested, a.Applied)
	default:
		return fmt.Sprintf("%s: %d MiB", a.Partition, a.Applied)
	}
}

// Planner turns size requests into a feasible Plan.
//
// Requests are applied one at a time, each recomputing the primary partition as
// the remaining capacity. A request which would leave the primary partition at
// or below PrimaryFloorMiB is reduced or rejected.
type Planner struct {
	geometry Geometry
	logger   *zap.Logger

	primary   int64
	secondary int64
	double    bool
	compatOS  int64
	altOS     int64
}

// NewPlanner creates a planner with every optional partition disabled.
func NewPlanner(g Geometry, logger *zap.Logger) (*Planner, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	p := &Planner{
		geometry: g,
		logger:   logger,
	}

	p.primary = p.remaining(0, 0, 0)

	if p.primary <= PrimaryFloorMiB {
		return nil, fmt.Errorf("%w: device holds %d MiB, at least %d MiB required", ErrPlanInfeasible, g.totalMiB(), PrimaryFloorMiB+reservedMiB+1)
	}

	return p, nil
}

func (p *Planner) remaining(secondary, compatOS, altOS int64) int64 {
	return p.geometry.totalMiB() - reservedMiB - secondary - compatOS - altOS
}

// SetSecondary applies a secondary system partition request.
func (p *Planner) SetSecondary(req SecondaryRequest) Adjustment {
	var size int64

	double := req.Double

	switch {
	case req.Full && req.Double:
		size = SecondaryFullDoubleMiB
	case req.Full:
		size = SecondaryFullMiB
	case req.GiB == 0:
		double = false
	default:
		size = int64(max(req.GiB, secondaryMinGiB))*1024 + secondaryReserveMiB

		if double {
			size *= 2
		}
	}

	adj := Adjustment{Partition: "secondary", Requested: size}

	primary := p.remaining(size, p.compatOS, p.altOS)

	if primary <= PrimaryFloorMiB {
		adj.Applied = p.secondary
		adj.Reverted = true

		p.log(adj)

		return adj
	}

	p.secondary, p.double, p.primary = size, double, primary
	adj.Applied = size

	p.log(adj)

	return adj
}

// SetCompatOS applies a compat-OS partition request.
func (p *Planner) SetCompatOS(gib uint32) Adjustment {
	size := int64(gib) << 10

	switch {
	case size < compatOSCutoffMiB:
		size = 0
	case size < compatOSMinMiB:
		size = compatOSMinMiB
	}

	adj := Adjustment{Partition: "compat-os", Requested: size}

	primary := p.remaining(p.secondary, size, p.altOS)

	if primary <= PrimaryFloorMiB {
		size = p.remaining(p.secondary, 0, p.altOS) - PrimaryFloorMiB
		primary = p.remaining(p.secondary, size, p.altOS)

		if primary < PrimaryFloorMiB || size < compatOSMinMiB {
			adj.Applied = p.compatOS
			adj.Reverted = true

			p.log(adj)

			return adj
		}

		adj.Reduced = true
	}

	p.compatOS, p.primary = size, primary
	adj.Applied = size

	p.log(adj)

	return adj
}

// SetAltOS applies an alt-OS request. gib is the user visible size, the fixed
// alt-OS partitions are added on top of it.
func (p *Planner) SetAltOS(gib uint32) Adjustment {
	user := int64(gib) << 10

	switch {
	case user < altOSUserCutoffMiB:
		user = 0
	case user < altOSUserMinMiB:
		user = altOSUserMinMiB
	}

	var size int64

	if user != 0 {
		size = user + altOSOverheadMiB
	}

	adj := Adjustment{Partition: "alt-os", Requested: size}

	primary := p.remaining(p.secondary, p.compatOS, size)

	if primary <= PrimaryFloorMiB {
		size = p.remaining(p.secondary, p.compatOS, 0) - PrimaryFloorMiB
		primary = p.remaining(p.secondary, p.compatOS, size)

		if primary < PrimaryFloorMiB || size < altOSMinMiB {
			adj.Applied = p.altOS
			adj.Reverted = true

			p.log(adj)

			return adj
		}

		adj.Reduced = true
	}

	p.altOS, p.primary = size, primary
	adj.Applied = size

	p.log(adj)

	return adj
}

func (p *Planner) log(adj Adjustment) {
	p.logger.Debug("size request",
		zap.String("partition", adj.Partition),
		zap.Int64("requested_mib", adj.Requested),
		zap.Int64("applied_mib", adj.Applied),
		zap.Bool("reduced", adj.Reduced),
		zap.Bool("reverted", adj.Reverted),
		zap.Int64("primary_mib", p.primary),
	)
}

// PrimaryMiB returns the current primary partition size.
func (p *Planner) PrimaryMiB() int64 {
	return p.primary
}

// AltOSUserMiB returns the alt-OS size available to the user.
func (p *Planner) AltOSUserMiB() int64 {
	if p.altOS == 0 {
		return 0
	}

	return p.altOS - altOSOverheadMiB
}

// Plan returns the current allocation in sectors.
func (p *Planner) Plan() Plan {
	return Plan{
		Primary:         lba.MiB(uint64(p.primary)),
		Secondary:       lba.MiB(uint64(p.secondary)),
		SecondaryDouble: p.double,
		CompatOS:        lba.MiB(uint64(p.compatOS)),
		AltOS:           lba.MiB(uint64(p.altOS)),
	}
}

// Bars holds proportional widths for rendering a plan.
type Bars struct {
	Primary   int
	Secondary int
	CompatOS  int
	AltOS     int
}

// Bars scales each partition to width, in whole GiB of the usable capacity.
func (p *Planner) Bars(width int) Bars {
	total := int64((p.geometry.Sectors - min(p.geometry.Sectors, ReservedSectors)) / lba.SectorsPerGiB)
	if total == 0 {
		return Bars{}
	}

	scale := func(mib int64) int {
		return int(int64(width) * (mib >> 10) / total)
	}

	return Bars{
		Primary:   scale(p.primary),
		Secondary: scale(p.secondary),
		CompatOS:  scale(p.compatOS),
		AltOS:     scale(p.altOS),
	}
}
