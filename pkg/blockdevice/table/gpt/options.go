// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at http://mozilla.org/MPL/2.0/.

package gpt

import "github.com/google/uuid"

// Options is the functional options struct.
type Options struct {
	DiskGUID      uuid.UUID
	LastUsableLBA uint64
}

// Option is the functional option func.
type Option func(*Options)

// WithDiskGUID sets the disk GUID.
func WithDiskGUID(o uuid.UUID) Option {
	return func(args *Options) {
		args.DiskGUID = o
	}
}

// WithLastUsableLBA overrides the last usable LBA.
func WithLastUsableLBA(o uint64) Option {
	return func(args *Options) {
		args.LastUsableLBA = o
	}
}

// NewDefaultOptions initializes a Options struct with default values.
//
// By default the usable area spans everything between the primary and the backup table.
func NewDefaultOptions(sectors uint64, setters ...Option) *Options {
	opts := &Options{
		LastUsableLBA: sectors - TableSectors - 1,
	}

	for _, setter := range setters {
		setter(opts)
	}

	return opts
}
