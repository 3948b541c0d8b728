// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at http://mozilla.org/MPL/2.0/.

package partition

import "crypto/rand"

// Entropy supplies 128 bit random values for disk signatures and GUIDs.
type Entropy interface {
	Random128() ([16]byte, error)
}

// SystemEntropy reads from the operating system CSPRNG.
type SystemEntropy struct{}

// Random128 implements Entropy.
func (SystemEntropy) Random128() ([16]byte, error) {
	var b [16]byte

	_, err := rand.Read(b[:])

	return b, err
}
