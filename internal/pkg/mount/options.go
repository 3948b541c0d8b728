// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at http://mozilla.org/MPL/2.0/.

package mount

import (
	"time"

	"go.uber.org/zap"
)

// Options is the functional options struct.
type Options struct {
	ReadOnly     bool
	BusyTimeout  time.Duration
	BusyInterval time.Duration
	Logger       *zap.Logger
}

// Option is the functional option func.
type Option func(*Options)

// WithReadOnly mounts the filesystem read-only.
func WithReadOnly(readonly bool) Option {
	return func(args *Options) {
		args.ReadOnly = readonly
	}
}

// WithBusyRetry sets how long a busy source is retried.
func WithBusyRetry(timeout, interval time.Duration) Option {
	return func(args *Options) {
		args.BusyTimeout = timeout
		args.BusyInterval = interval
	}
}

// WithLogger sets the logger.
func WithLogger(logger *zap.Logger) Option {
	return func(args *Options) {
		args.Logger = logger
	}
}

// NewDefaultOptions initializes a Options struct with default values.
func NewDefaultOptions(setters ...Option) *Options {
	opts := &Options{
		BusyTimeout:  DefaultBusyTimeout,
		BusyInterval: DefaultBusyInterval,
		Logger:       zap.NewNop(),
	}

	for _, setter := range setters {
		setter(opts)
	}

	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}

	return opts
}
