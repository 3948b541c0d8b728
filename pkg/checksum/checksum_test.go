// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at http://mozilla.org/MPL/2.0/.

package checksum_test

import (
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/siderolabs/sdrepart/pkg/checksum"
)

func TestCRC32(t *testing.T) {
	t.Parallel()

	for _, test := range []struct {
		name     string
		data     []byte
		expected uint32
	}{
		{
			name:     "empty",
			data:     nil,
			expected: 0,
		},
		{
			name:     "check value",
			data:     []byte("123456789"),
			expected: 0xCBF43926,
		},
		{
			name:     "single zero byte",
			data:     []byte{0},
			expected: 0xD202EF8D,
		},
	} {
		t.Run(test.name, func(t *testing.T) {
			t.Parallel()

			assert.Equal(t, test.expected, checksum.CRC32(test.data))
		})
	}
}

func TestCRC32Zeroed(t *testing.T) {
	t.Parallel()

	data := []byte("0123456789abcdef")
	binary.LittleEndian.PutUint32(data[8:], 0xDEADBEEF)

	zeroed := append([]byte(nil), data...)
	binary.LittleEndian.PutUint32(zeroed[8:], 0)

	assert.Equal(t, checksum.CRC32(zeroed), checksum.CRC32Zeroed(data, 8))
	assert.Equal(t, uint32(0xDEADBEEF), binary.LittleEndian.Uint32(data[8:]))
}
