// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at http://mozilla.org/MPL/2.0/.

// Package flash streams split raw images into partitions.
package flash

import (
	"errors"
	"fmt"
	"os"
	"path"
	"time"

	"github.com/spf13/afero"
	"go.uber.org/zap"

	"github.com/siderolabs/sdrepart/internal/pkg/partition"
	"github.com/siderolabs/sdrepart/pkg/blockdevice/lba"
)

// Image layout.
const (
	// DefaultImageDir holds the image parts and auxiliary images.
	DefaultImageDir = "switchroot/install"
	// PartPrefix is followed by a two digit part number.
	PartPrefix = "l4t."
	// MaxParts is the number of part names available.
	MaxParts = 100

	// PartAlignment applies to every part but the last.
	PartAlignment = 4 * 1024 * 1024
	// MinTargetSectors is the smallest accepted target partition.
	MinTargetSectors = 0x800000
	// ChunkSectors is the largest single write.
	ChunkSectors = 8192
)

// Retry defaults.
const (
	DefaultMaxRetries = 3
	DefaultRetryDelay = 150 * time.Millisecond
)

var (
	// ErrImageNotFound is returned when the first image part is missing.
	ErrImageNotFound = errors.New("image not found")
	// ErrMisaligned is returned when a part other than the last is not 4 MiB aligned.
	ErrMisaligned = errors.New("image part is not 4 MiB aligned")
	// ErrImageTooLarge is returned when an image exceeds its target partition.
	ErrImageTooLarge = errors.New("image does not fit the partition")
	// ErrTargetTooSmall is returned when the target partition is below MinTargetSectors.
	ErrTargetTooSmall = errors.New("target partition is too small")
	// ErrRetriesExhausted is returned when a write keeps failing.
	ErrRetriesExhausted = errors.New("write retries exhausted")
	// ErrPartChanged is returned when a part is shorter than measured by Preflight.
	ErrPartChanged = errors.New("image part changed since preflight")
)

// Part is a piece of a split image.
type Part struct {
	Path string
	Size int64
}

// Image is a split image validated for flashing.
type Image struct {
	Parts []Part
	// Sectors is the declared size, the last part rounded up to a sector.
	Sectors uint64
}

// FlashContext is the target sector range, resolved once per session.
type FlashContext struct {
	Offset  uint64
	Sectors uint64
}

// Options is the functional options struct.
type Options struct {
	Dir string
	// Target selects the partition receiving the split image.
	Target partition.Query

	MaxRetries int
	RetryDelay time.Duration

	// OnProgress receives the completed percentage when it changes.
	OnProgress func(pct int)
	// OnTick is invoked after every chunk with the sectors written so far.
	OnTick func(written uint64)

	Logger *zap.Logger
}

// Option is the functional option func.
type Option func(*Options)

// WithDir sets the image directory.
func WithDir(dir string) Option {
	return func(o *Options) {
		o.Dir = dir
	}
}

// WithTarget sets the partition query for the split image.
func WithTarget(q partition.Query) Option {
	return func(o *Options) {
		o.Target = q
	}
}

// WithRetries sets the number of retries after a failed write and the delay between them.
func WithRetries(retries int, delay time.Duration) Option {
	return func(o *Options) {
		o.MaxRetries = retries
		o.RetryDelay = delay
	}
}

// WithProgress sets the progress callback.
func WithProgress(f func(pct int)) Option {
	return func(o *Options) {
		o.OnProgress = f
	}
}

// WithTick sets the per chunk callback.
func WithTick(f func(written uint64)) Option {
	return func(o *Options) {
		o.OnTick = f
	}
}

// WithLogger sets the logger.
func WithLogger(logger *zap.Logger) Option {
	return func(o *Options) {
		o.Logger = logger
	}
}

// NewDefaultOptions initializes an Options struct with default values.
func NewDefaultOptions(setters ...Option) Options {
	opts := Options{
		Dir:        DefaultImageDir,
		Target:     partition.CompatOSQuery,
		MaxRetries: DefaultMaxRetries,
		RetryDelay: DefaultRetryDelay,
		Logger:     zap.NewNop(),
	}

	for _, setter := range setters {
		setter(&opts)
	}

	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}

	return opts
}

// Flasher writes images found on a filesystem to a device.
type Flasher struct {
	fs   afero.Fs
	opts Options
}

// NewFlasher creates a flasher reading images from fs.
func NewFlasher(fs afero.Fs, setters ...Option) *Flasher {
	return &Flasher{
		fs:   fs,
		opts: NewDefaultOptions(setters...),
	}
}

// PartPath returns the path of part n.
func (f *Flasher) PartPath(n int) string {
	return path.Join(f.opts.Dir, fmt.Sprintf("%s%02d", PartPrefix, n))
}

// Parts lists the consecutive image parts starting at 00.
func (f *Flasher) Parts() ([]Part, error) {
	var parts []Part

	for n := range MaxParts {
		p := f.PartPath(n)

		info, err := f.fs.Stat(p)
		if err != nil {
			if errors.Is(err, os.ErrNotExist) {
				break
			}

			return nil, fmt.Errorf("error reading %q: %w", p, err)
		}

		parts = append(parts, Part{Path: p, Size: info.Size()})
	}

	if len(parts) == 0 {
		return nil, fmt.Errorf("%w: %q", ErrImageNotFound, f.PartPath(0))
	}

	return parts, nil
}

// RemoveParts deletes the image parts, normally after a successful flash.
func (f *Flasher) RemoveParts(img *Image) error {
	var errs []error

	for _, p := range img.Parts {
		if err := f.fs.Remove(p.Path); err != nil && !errors.Is(err, os.ErrNotExist) {
			errs = append(errs, err)
		}
	}

	return errors.Join(errs...)
}

func sectorsOf(size int64) uint64 {
	return lba.AlignUp(uint64(size)) / lba.SectorSize
}
