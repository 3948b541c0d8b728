// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at http://mozilla.org/MPL/2.0/.

package blockdevice

import (
	"errors"
	"fmt"
	"os"
	"unsafe"

	"github.com/siderolabs/go-blockdevice/v2/block"
	"golang.org/x/sys/unix"

	"github.com/siderolabs/sdrepart/pkg/blockdevice/lba"
)

// File is a Device backed by a block device node or a disk image file.
type File struct {
	bd *block.Device
	f  *os.File

	regular bool
	sectors uint64
}

// Open opens the device at path and takes an advisory lock on it.
func Open(path string, setters ...Option) (*File, error) {
	opts := NewDefaultOptions(setters...)

	var (
		bd  *block.Device
		err error
	)

	if opts.ReadOnly {
		bd, err = block.NewFromPath(path)
	} else {
		bd, err = block.NewFromPath(path, block.OpenForWrite())
	}

	if err != nil {
		return nil, fmt.Errorf("error opening block device %q: %w", path, err)
	}

	if err = bd.Lock(opts.Exclusive); err != nil {
		bd.Close() //nolint:errcheck

		return nil, fmt.Errorf("error locking block device %q: %w", path, err)
	}

	dev := &File{
		bd: bd,
		f:  bd.File(),
	}

	if err = dev.probe(); err != nil {
		dev.Close() //nolint:errcheck

		return nil, fmt.Errorf("error probing %q: %w", path, err)
	}

	return dev, nil
}

func (dev *File) probe() error {
	st, err := dev.f.Stat()
	if err != nil {
		return err
	}

	dev.regular = st.Mode().IsRegular()

	addresser, err := lba.New(dev.f)
	if err != nil {
		return err
	}

	if addresser.LogicalBlockSize != lba.SectorSize {
		return fmt.Errorf("unsupported logical block size %d", addresser.LogicalBlockSize)
	}

	size := uint64(st.Size())

	if !dev.regular {
		if _, _, errno := unix.Syscall(unix.SYS_IOCTL, dev.f.Fd(), unix.BLKGETSIZE64, uintptr(unsafe.Pointer(&size))); errno != 0 {
			return fmt.Errorf("BLKGETSIZE64 failed: %w", errno)
		}
	}

	dev.sectors = size / lba.SectorSize

	return nil
}

// Sectors implements Device.
func (dev *File) Sectors() uint64 {
	return dev.sectors
}

// ReadSectors implements Device.
func (dev *File) ReadSectors(start uint64, buf []byte) error {
	if err := checkAccess(dev.sectors, start, buf); err != nil {
		return err
	}

	_, err := dev.f.ReadAt(buf, int64(start*lba.SectorSize))

	return err
}

// WriteSectors implements Device.
func (dev *File) WriteSectors(start uint64, buf []byte) error {
	if err := checkAccess(dev.sectors, start, buf); err != nil {
		return err
	}

	_, err := dev.f.WriteAt(buf, int64(start*lba.SectorSize))

	return err
}

// Sync flushes written data to stable storage.
func (dev *File) Sync() error {
	return dev.f.Sync()
}

// RereadPartitionTable invokes the BLKRRPART ioctl to have the kernel read the
// partition table. It is a no-op for image files.
func (dev *File) RereadPartitionTable() error {
	if dev.regular {
		return nil
	}

	if err := dev.f.Sync(); err != nil {
		return err
	}

	// Flush the block device buffers.
	if _, _, errno := unix.Syscall(unix.SYS_IOCTL, dev.f.Fd(), unix.BLKFLSBUF, 0); errno != 0 {
		return fmt.Errorf("flush block device buffers: %w", errno)
	}

	if _, _, errno := unix.Syscall(unix.SYS_IOCTL, dev.f.Fd(), unix.BLKRRPART, 0); errno != 0 {
		return fmt.Errorf("re-read partition table: %w", errno)
	}

	return nil
}

// Close releases the lock and closes the device.
func (dev *File) Close() error {
	return errors.Join(dev.bd.Unlock(), dev.bd.Close())
}
