// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at http://mozilla.org/MPL/2.0/.

package cli

import (
	"fmt"
	"io"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/fatih/color"
	"github.com/ryanuber/columnize"
	"github.com/siderolabs/gen/xslices"

	"github.com/siderolabs/sdrepart/internal/pkg/flash"
	"github.com/siderolabs/sdrepart/internal/pkg/partition"
	"github.com/siderolabs/sdrepart/pkg/blockdevice/lba"
	"github.com/siderolabs/sdrepart/pkg/blockdevice/table/gpt"
)

func size(sectors uint64) string {
	return humanize.IBytes(sectors * lba.SectorSize)
}

// RenderPlan renders the partitions of a plan with a proportional bar.
func RenderPlan(plan partition.Plan, bars partition.Bars, output io.Writer) error {
	type row struct {
		name   string
		extent partition.Extent
		width  int
		paint  func(format string, a ...any) string
	}

	rows := []row{
		{"primary", plan.PrimaryExtent(), bars.Primary, color.CyanString},
	}

	for i, e := range plan.SecondaryExtents() {
		rows = append(rows, row{fmt.Sprintf("secondary %d", i+1), e, bars.Secondary, color.MagentaString})
	}

	rows = append(rows,
		row{"compat-os", plan.CompatOSExtent(), bars.CompatOS, color.GreenString},
		row{"alt-os", plan.AltOSExtent(), bars.AltOS, color.YellowString},
	)

	lines := []string{"PARTITION | START | SIZE | "}

	for _, r := range rows {
		if r.extent.IsZero() {
			continue
		}

		lines = append(lines, fmt.Sprintf("%s | %#x | %s | %s",
			r.name, r.extent.Start, size(r.extent.Sectors), r.paint(strings.Repeat("#", max(r.width, 1)))))
	}

	if ud := plan.UserdataSectors(); ud != 0 {
		lines = append(lines, fmt.Sprintf("alt-os userdata | | %s | ", size(ud)))
	}

	_, err := fmt.Fprintln(output, columnize.SimpleFormat(lines))

	return err
}

// RenderLayout renders the MBR slots and the GPT entries of a layout.
func RenderLayout(layout *partition.Layout, output io.Writer) error {
	if !layout.MBR.Valid() {
		fmt.Fprintln(output, color.RedString("MBR boot signature missing"))
	}

	fmt.Fprintf(output, "disk signature %x\n", layout.MBR.DiskSignature)
	fmt.Fprintln(output, partition.FormatMBR(layout.MBR))

	if layout.GPT == nil {
		_, err := fmt.Fprintln(output, "no GPT")

		return err
	}

	entries := xslices.Filter(layout.GPT.Entries, func(e *gpt.Entry) bool { return e != nil && !e.IsEmpty() })

	lines := append([]string{"# | NAME | TYPE | FIRST | LAST | SIZE"}, xslices.Map(entries, func(e *gpt.Entry) string {
		return fmt.Sprintf("%d | %s | %s | %#x | %#x | %s", entryIndex(layout.GPT, e), e.Name, e.Type, e.FirstLBA, e.LastLBA, size(e.Length()))
	})...)

	fmt.Fprintf(output, "\nGPT disk GUID %s\n", layout.GPT.Header.DiskGUID)

	_, err := fmt.Fprintln(output, columnize.SimpleFormat(lines))

	return err
}

func entryIndex(t *gpt.Table, e *gpt.Entry) int {
	for i, candidate := range t.Entries {
		if candidate == e {
			return i
		}
	}

	return -1
}

// RenderAux renders the outcome of flashing auxiliary images.
func RenderAux(report *flash.AuxReport, output io.Writer) error {
	lines := []string{"IMAGE | PARTITION | STATUS"}

	for _, r := range report.Results {
		status := r.Status.String()

		switch r.Status {
		case flash.AuxFlashed:
			status = color.GreenString(status)
		case flash.AuxImageMissing:
		default:
			status = color.RedString(status)
		}

		if r.Err != nil {
			status += ": " + r.Err.Error()
		}

		target := r.Image.Query.Name
		if !r.Partition.IsZero() {
			target = fmt.Sprintf("%s (%s)", target, size(r.Partition.Sectors))
		}

		lines = append(lines, fmt.Sprintf("%s | %s | %s", r.Image.File, target, status))
	}

	fmt.Fprintln(output, columnize.SimpleFormat(lines))

	if !report.RecoveryReady {
		_, err := fmt.Fprintln(output, color.YellowString("recovery partition does not hold an Android boot image"))

		return err
	}

	return nil
}
