// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at http://mozilla.org/MPL/2.0/.

package flash

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/siderolabs/go-retry/retry"
	"github.com/spf13/afero"
	"go.uber.org/zap"
	"golang.org/x/sys/unix"

	"github.com/siderolabs/sdrepart/pkg/blockdevice"
	"github.com/siderolabs/sdrepart/pkg/blockdevice/lba"
)

// attemptTimeout bounds the retry deadline, attempts are limited by MaxRetries.
const attemptTimeout = time.Minute

type state int

const (
	stateOpenPart state = iota
	stateStream
	stateEndOfPart
	stateDone
)

type stream struct {
	f   *Flasher
	dev blockdevice.Device
	fc  FlashContext
	img *Image

	part    int
	file    afero.File
	reader  io.Reader
	read    int64
	written uint64
	pct     int
	buf     []byte
}

// Flash writes img to the target range described by fc.
//
// Parts are streamed in order in chunks of up to ChunkSectors. Once writing
// starts the operation is not cancellable, a failure leaves the target
// partially written. The number of sectors written is returned.
func (f *Flasher) Flash(ctx context.Context, dev blockdevice.Device, fc FlashContext, img *Image) (uint64, error) {
	if img.Sectors > fc.Sectors {
		return 0, fmt.Errorf("%w: %d sectors into %d", ErrImageTooLarge, img.Sectors, fc.Sectors)
	}

	s := &stream{
		f:   f,
		dev: dev,
		fc:  fc,
		img: img,
		pct: -1,
		buf: make([]byte, ChunkSectors*lba.SectorSize),
	}

	err := s.run(context.WithoutCancel(ctx))

	if s.file != nil {
		s.file.Close() //nolint:errcheck
	}

	if err != nil {
		f.opts.Logger.Error("flashing failed", zap.Uint64("written", s.written), zap.Error(err))

		return s.written, err
	}

	f.opts.Logger.Info("flashing complete", zap.Uint64("sectors", s.written))

	return s.written, nil
}

func (s *stream) run(ctx context.Context) error {
	st := stateOpenPart

	for {
		var err error

		switch st {
		case stateOpenPart:
			st, err = s.openPart()
		case stateStream:
			st, err = s.streamChunk(ctx)
		case stateEndOfPart:
			st, err = s.endOfPart()
		case stateDone:
			if s.written != s.img.Sectors {
				return fmt.Errorf("%w: wrote %d sectors, declared %d", ErrPartChanged, s.written, s.img.Sectors)
			}

			return nil
		}

		if err != nil {
			return err
		}
	}
}

func (s *stream) openPart() (state, error) {
	p := s.img.Parts[s.part]

	file, err := s.f.fs.Open(p.Path)
	if err != nil {
		return stateDone, fmt.Errorf("error opening part %d: %w", s.part, err)
	}

	s.file = file
	s.reader = io.LimitReader(file, p.Size)
	s.read = 0

	adviseSequential(file)

	s.f.opts.Logger.Debug("streaming part", zap.String("path", p.Path), zap.Int64("size", p.Size))

	return stateStream, nil
}

func (s *stream) streamChunk(ctx context.Context) (state, error) {
	n, err := io.ReadFull(s.reader, s.buf)
	s.read += int64(n)

	switch {
	case errors.Is(err, io.EOF), errors.Is(err, io.ErrUnexpectedEOF):
		if size := s.img.Parts[s.part].Size; s.read < size {
			return stateDone, fmt.Errorf("%w: part %d ended at %d of %d bytes", ErrPartChanged, s.part, s.read, size)
		}

		if n == 0 {
			return stateEndOfPart, nil
		}
	case err != nil:
		return stateDone, fmt.Errorf("error reading part %d: %w", s.part, err)
	}

	size := lba.AlignUp(uint64(n))
	clear(s.buf[n:size])

	sectors := size / lba.SectorSize
	if s.written+sectors > s.fc.Sectors {
		return stateDone, fmt.Errorf("%w: part %d is larger than declared", ErrImageTooLarge, s.part)
	}

	if err = s.f.write(ctx, s.dev, s.fc.Offset+s.written, s.buf[:size]); err != nil {
		return stateDone, err
	}

	s.written += sectors

	s.progress()

	if uint64(n) < uint64(len(s.buf)) {
		return stateEndOfPart, nil
	}

	return stateStream, nil
}

func (s *stream) endOfPart() (state, error) {
	if err := s.file.Close(); err != nil {
		s.file = nil

		return stateDone, fmt.Errorf("error closing part %d: %w", s.part, err)
	}

	s.file = nil
	s.reader = nil
	s.part++

	if s.part == len(s.img.Parts) {
		return stateDone, nil
	}

	return stateOpenPart, nil
}

func (s *stream) progress() {
	if s.f.opts.OnTick != nil {
		s.f.opts.OnTick(s.written)
	}

	if s.img.Sectors == 0 {
		return
	}

	pct := int(min(s.written*100/s.img.Sectors, 100))

	if pct != s.pct {
		s.pct = pct

		if s.f.opts.OnProgress != nil {
			s.f.opts.OnProgress(pct)
		}
	}
}

// write retries a failed write up to MaxRetries times, RetryDelay apart.
func (f *Flasher) write(ctx context.Context, dev blockdevice.Device, sector uint64, buf []byte) error {
	var (
		attempts int
		lastErr  error
	)

	deadline := time.Duration(f.opts.MaxRetries+1) * (f.opts.RetryDelay + attemptTimeout)

	err := retry.Constant(deadline, retry.WithUnits(f.opts.RetryDelay)).
		RetryWithContext(ctx, func(context.Context) error {
			attempts++

			if lastErr = dev.WriteSectors(sector, buf); lastErr == nil {
				return nil
			}

			f.opts.Logger.Warn("write failed", zap.Uint64("sector", sector), zap.Int("attempt", attempts), zap.Error(lastErr))

			if attempts > f.opts.MaxRetries {
				return lastErr
			}

			return retry.ExpectedError(lastErr)
		})

	switch {
	case lastErr == nil:
		return nil
	case attempts > f.opts.MaxRetries:
		return fmt.Errorf("%w: sector %d after %d attempts: %w", ErrRetriesExhausted, sector, attempts, lastErr)
	default:
		return fmt.Errorf("error writing sector %d: %w", sector, err)
	}
}

// adviseSequential hints the kernel to read ahead aggressively on OS backed files.
func adviseSequential(file afero.File) {
	fd, ok := file.(interface{ Fd() uintptr })
	if !ok {
		return
	}

	unix.Fadvise(int(fd.Fd()), 0, 0, unix.FADV_SEQUENTIAL) //nolint:errcheck
}
