// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at http://mozilla.org/MPL/2.0/.

// Package endianness converts GUIDs between RFC 4122 and on-disk (mixed-endian) byte order.
package endianness

// ToMiddleEndian converts a big-endian UUID to the middle-endian layout used by
// GPT, where the first three fields are stored little-endian.
func ToMiddleEndian(data [16]byte) [16]byte {
	return swap(data)
}

// FromMiddleEndian converts a middle-endian GUID to the big-endian UUID layout.
func FromMiddleEndian(data [16]byte) [16]byte {
	return swap(data)
}

// swap is its own inverse.
func swap(data [16]byte) [16]byte {
	b := data

	b[0], b[1], b[2], b[3] = data[3], data[2], data[1], data[0]
	b[4], b[5] = data[5], data[4]
	b[6], b[7] = data[7], data[6]

	return b
}
