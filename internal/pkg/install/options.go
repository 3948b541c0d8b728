// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at http://mozilla.org/MPL/2.0/.

package install

import (
	"github.com/spf13/afero"
	"go.uber.org/zap"

	"github.com/siderolabs/sdrepart/internal/pkg/backup"
	"github.com/siderolabs/sdrepart/internal/pkg/partition"
)

// Options describes session parameters.
type Options struct {
	// Staging holds the files while the card is repartitioned.
	Staging afero.Fs
	Backup  []backup.Option
	Entropy partition.Entropy
	Confirm partition.Confirmer

	OnPhase func(Phase)
	OnVisit func(backup.Progress)

	Logger *zap.Logger
}

// Option controls session options.
type Option func(o *Options)

// WithStaging sets the staging filesystem.
func WithStaging(fs afero.Fs) Option {
	return func(o *Options) {
		o.Staging = fs
	}
}

// WithBackupOptions sets the staging walker options.
func WithBackupOptions(opts ...backup.Option) Option {
	return func(o *Options) {
		o.Backup = append(o.Backup, opts...)
	}
}

// WithEntropy sets the random source of the layout writer.
func WithEntropy(e partition.Entropy) Option {
	return func(o *Options) {
		o.Entropy = e
	}
}

// WithConfirmer sets the gate consulted before destructive steps.
func WithConfirmer(c partition.Confirmer) Option {
	return func(o *Options) {
		o.Confirm = c
	}
}

// WithPhaseCallback sets a callback invoked when a phase starts.
func WithPhaseCallback(f func(Phase)) Option {
	return func(o *Options) {
		o.OnPhase = f
	}
}

// WithVisitCallback sets a callback invoked for every file backed up or restored.
func WithVisitCallback(f func(backup.Progress)) Option {
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

// DefaultOptions returns default options.
func DefaultOptions(setters ...Option) Options {
	opts := Options{
		Entropy: partition.SystemEntropy{},
		Logger:  zap.NewNop(),
	}

	for _, setter := range setters {
		setter(&opts)
	}

	if opts.Staging == nil {
		opts.Staging = afero.NewMemMapFs()
	}

	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}

	return opts
}
