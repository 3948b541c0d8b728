// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at http://mozilla.org/MPL/2.0/.

// Package checksum computes the CRC-32 values stored in GUID partition tables.
package checksum

import "hash/crc32"

// CRC32 returns the IEEE 802.3 CRC-32 (reflected, polynomial 0xEDB88320,
// initial value and final XOR 0xFFFFFFFF) of data.
func CRC32(data []byte) uint32 {
	return crc32.ChecksumIEEE(data)
}

// CRC32Zeroed returns the CRC-32 of data computed as if the 4 bytes at offset
// were zero. data is not modified.
func CRC32Zeroed(data []byte, offset int) uint32 {
	h := crc32.NewIEEE()

	_, _ = h.Write(data[:offset])
	_, _ = h.Write(make([]byte, 4))
	_, _ = h.Write(data[offset+4:])

	return h.Sum32()
}
