// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at http://mozilla.org/MPL/2.0/.

package blockdevice

import (
	"sync"

	"github.com/siderolabs/sdrepart/pkg/blockdevice/lba"
)

const memoryChunkSectors = lba.SectorsPerMiB

// Memory is a sparse Device kept in memory. Chunks are allocated on first write,
// unwritten sectors read back as zeroes.
type Memory struct {
	mu      sync.Mutex
	chunks  map[uint64][]byte
	sectors uint64
}

// NewMemory creates an in-memory device of the given size.
func NewMemory(sectors uint64) *Memory {
	return &Memory{
		chunks:  map[uint64][]byte{},
		sectors: sectors,
	}
}

// Sectors implements Device.
func (m *Memory) Sectors() uint64 {
	return m.sectors
}

// ReadSectors implements Device.
func (m *Memory) ReadSectors(start uint64, buf []byte) error {
	if err := checkAccess(m.sectors, start, buf); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	m.each(start, buf, func(chunk []byte, p []byte) {
		if chunk == nil {
			clear(p)

			return
		}

		copy(p, chunk)
	}, false)

	return nil
}

// WriteSectors implements Device.
func (m *Memory) WriteSectors(start uint64, buf []byte) error {
	if err := checkAccess(m.sectors, start, buf); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	m.each(start, buf, func(chunk []byte, p []byte) {
		copy(chunk, p)
	}, true)

	return nil
}

// Allocated returns the number of bytes backing the device.
func (m *Memory) Allocated() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	return len(m.chunks) * memoryChunkSectors * lba.SectorSize
}

func (m *Memory) each(start uint64, buf []byte, fn func(chunk, p []byte), alloc bool) {
	const chunkBytes = memoryChunkSectors * lba.SectorSize

	off := start * lba.SectorSize

	for len(buf) > 0 {
		idx := off / chunkBytes
		inner := off % chunkBytes
		n := min(uint64(len(buf)), chunkBytes-inner)

		chunk, ok := m.chunks[idx]
		if !ok && alloc {
			chunk = make([]byte, chunkBytes)
			m.chunks[idx] = chunk
		}

		if chunk != nil {
			fn(chunk[inner:inner+n], buf[:n])
		} else {
			fn(nil, buf[:n])
		}

		buf = buf[n:]
		off += n
	}
}
