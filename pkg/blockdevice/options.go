// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at http://mozilla.org/MPL/2.0/.

package blockdevice

// Options is the functional options struct.
type Options struct {
	ReadOnly  bool
	Exclusive bool
}

// Option is the functional option func.
type Option func(*Options)

// WithReadOnly opens the device without write access.
func WithReadOnly(o bool) Option {
	return func(args *Options) {
		args.ReadOnly = o
	}
}

// WithExclusiveLock selects an exclusive (default) or shared advisory lock.
func WithExclusiveLock(o bool) Option {
	return func(args *Options) {
		args.Exclusive = o
	}
}

// NewDefaultOptions initializes a Options struct with default values.
func NewDefaultOptions(setters ...Option) *Options {
	opts := &Options{
		Exclusive: true,
	}

	for _, setter := range setters {
		setter(opts)
	}

	return opts
}
