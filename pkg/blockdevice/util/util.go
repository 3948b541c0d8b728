// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at http://mozilla.org/MPL/2.0/.

// Package util resolves partition device nodes.
package util

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"unicode"
)

// PartName returns a valid partition name given a device and partition number.
//
// Devices whose name ends in a digit (mmcblk0, nvme0n1, loop3) take a "p" separator.
func PartName(d string, n int) string {
	partname := strings.TrimPrefix(d, "/dev/")

	if last := partname[len(partname)-1]; unicode.IsDigit(rune(last)) {
		return fmt.Sprintf("%sp%d", partname, n)
	}

	return fmt.Sprintf("%s%d", partname, n)
}

// PartPath returns the canonical path to a partition of disk d (e.g. /dev/mmcblk0p1).
//
// Disk images have no partition nodes, PartPath returns an error for them.
func PartPath(d string, n int) (string, error) {
	switch {
	case strings.HasPrefix(d, "/dev/disk/by-id"), strings.HasPrefix(d, "/dev/disk/by-path"):
		name, err := os.Readlink(d)
		if err != nil {
			return "", err
		}

		return filepath.Join("/dev", PartName(filepath.Base(name), n)), nil
	case strings.HasPrefix(d, "/dev/disk/by-label"),
		strings.HasPrefix(d, "/dev/disk/by-partlabel"),
		strings.HasPrefix(d, "/dev/disk/by-partuuid"),
		strings.HasPrefix(d, "/dev/disk/by-uuid"):
		return "", fmt.Errorf("disk name is already a partition")
	case !strings.HasPrefix(d, "/dev/"):
		return "", fmt.Errorf("%q is not a device node", d)
	default:
		return filepath.Join("/dev", PartName(d, n)), nil
	}
}
