// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at http://mozilla.org/MPL/2.0/.

// Package mount mounts and unmounts filesystems.
package mount

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/siderolabs/go-retry/retry"
	"go.uber.org/zap"
	"golang.org/x/sys/unix"
)

// Point represents a linux mount point.
type Point struct {
	source string
	target string
	fstype string
	flags  uintptr
	data   string
}

// NewPoint initializes and returns a Point struct.
func NewPoint(source, target, fstype string, flags uintptr, data string) *Point {
	return &Point{
		source: source,
		target: target,
		fstype: fstype,
		flags:  flags,
		data:   data,
	}
}

// Target returns the mount points target field.
func (p *Point) Target() string {
	return p.target
}

// Mount the point, retrying while the source is busy.
//
// The returned unmounter undoes the mount.
func (p *Point) Mount(ctx context.Context, setters ...Option) (unmounter func() error, err error) {
	opts := NewDefaultOptions(setters...)

	flags := p.flags
	if opts.ReadOnly {
		flags |= unix.MS_RDONLY
	}

	if err = os.MkdirAll(p.target, 0o755); err != nil {
		return nil, fmt.Errorf("error creating mount point directory %s: %w", p.target, err)
	}

	err = retry.Constant(opts.BusyTimeout, retry.WithUnits(opts.BusyInterval)).RetryWithContext(ctx, func(context.Context) error {
		if err := unix.Mount(p.source, p.target, p.fstype, flags, p.data); err != nil {
			if errors.Is(err, unix.EBUSY) {
				return retry.ExpectedError(err)
			}

			return err
		}

		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("error mounting %s on %s: %w", p.source, p.target, err)
	}

	opts.Logger.Debug("mounted", zap.String("source", p.source), zap.String("target", p.target), zap.String("fstype", p.fstype))

	return func() error {
		return SafeUnmount(context.WithoutCancel(ctx), opts.Logger, p.target)
	}, nil
}

// Default busy retry parameters.
const (
	DefaultBusyTimeout  = 5 * time.Second
	DefaultBusyInterval = 100 * time.Millisecond
)
