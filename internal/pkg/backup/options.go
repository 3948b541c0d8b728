// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at http://mozilla.org/MPL/2.0/.

package backup

import (
	"github.com/spf13/afero"
	"go.uber.org/zap"
)

// Options is the functional options struct.
type Options struct {
	// Destination is nil for a size probe.
	Destination afero.Fs

	Capacity    uint64
	ClusterSize uint64

	OnVisit func(Progress)
	Logger  *zap.Logger
}

// Option is the functional option func.
type Option func(*Options)

// WithDestination mirrors the tree to fs.
func WithDestination(fs afero.Fs) Option {
	return func(o *Options) {
		o.Destination = fs
	}
}

// WithCapacity sets the staging capacity in bytes.
func WithCapacity(capacity uint64) Option {
	return func(o *Options) {
		o.Capacity = capacity
	}
}

// WithClusterSize sets the minimum accounted size of a file.
func WithClusterSize(size uint64) Option {
	return func(o *Options) {
		o.ClusterSize = size
	}
}

// WithProgress sets a callback invoked for every directory entry.
func WithProgress(f func(Progress)) Option {
	return func(o *Options) {
		o.OnVisit = f
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
		Capacity:    DefaultCapacity,
		ClusterSize: DefaultClusterSize,
		Logger:      zap.NewNop(),
	}

	for _, setter := range setters {
		setter(&opts)
	}

	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}

	return opts
}
