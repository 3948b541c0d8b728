// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at http://mozilla.org/MPL/2.0/.

package endianness_test

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"

	"github.com/siderolabs/sdrepart/pkg/endianness"
)

func TestMiddleEndian(t *testing.T) {
	t.Parallel()

	u := uuid.MustParse("EBD0A0A2-B9E5-4433-87C0-68B6B72699C7")

	disk := endianness.ToMiddleEndian(u)

	assert.Equal(t, [16]byte{
		0xA2, 0xA0, 0xD0, 0xEB, 0xE5, 0xB9, 0x33, 0x44,
		0x87, 0xC0, 0x68, 0xB6, 0xB7, 0x26, 0x99, 0xC7,
	}, disk)

	assert.Equal(t, [16]byte(u), endianness.FromMiddleEndian(disk))
}
