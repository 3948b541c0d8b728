// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at http://mozilla.org/MPL/2.0/.

package config

import (
	"fmt"

	"github.com/dustin/go-humanize"
	"github.com/spf13/pflag"
)

// Flag names overriding config file settings.
const (
	FlagStagingCapacity = "staging-capacity"
	FlagLabel           = "label"
	FlagMountPoint      = "mount-point"
	FlagImageDir        = "image-dir"
	FlagRetries         = "retries"
	FlagRetryDelay      = "retry-delay"
)

// AddFlags registers the override flags with their default values.
func AddFlags(fs *pflag.FlagSet) {
	d := Default()

	fs.String(FlagStagingCapacity, humanize.IBytes(uint64(d.Staging.Capacity)), "size of the in-memory backup area")
	fs.String(FlagLabel, d.Volume.Label, "primary volume label")
	fs.String(FlagMountPoint, d.Volume.MountPoint, "directory the primary volume is mounted on")
	fs.String(FlagImageDir, d.Flash.ImageDir, "image directory on the primary volume")
	fs.Int(FlagRetries, d.Flash.MaxRetries, "retries after a failed image write")
	fs.Duration(FlagRetryDelay, d.Flash.RetryDelay, "delay between image write retries")
}

// ApplyFlags overrides the config with the flags set on the command line.
func (c *Config) ApplyFlags(fs *pflag.FlagSet) error {
	var err error

	if fs.Changed(FlagStagingCapacity) {
		raw, _ := fs.GetString(FlagStagingCapacity) //nolint:errcheck

		n, parseErr := humanize.ParseBytes(raw)
		if parseErr != nil {
			return fmt.Errorf("--%s: %w", FlagStagingCapacity, parseErr)
		}

		c.Staging.Capacity = ByteSize(n)
	}

	if fs.Changed(FlagLabel) {
		if c.Volume.Label, err = fs.GetString(FlagLabel); err != nil {
			return err
		}
	}

	if fs.Changed(FlagMountPoint) {
		if c.Volume.MountPoint, err = fs.GetString(FlagMountPoint); err != nil {
			return err
		}
	}

	if fs.Changed(FlagImageDir) {
		if c.Flash.ImageDir, err = fs.GetString(FlagImageDir); err != nil {
			return err
		}
	}

	if fs.Changed(FlagRetries) {
		if c.Flash.MaxRetries, err = fs.GetInt(FlagRetries); err != nil {
			return err
		}
	}

	if fs.Changed(FlagRetryDelay) {
		if c.Flash.RetryDelay, err = fs.GetDuration(FlagRetryDelay); err != nil {
			return err
		}
	}

	return c.Validate()
}
