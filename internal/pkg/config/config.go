// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at http://mozilla.org/MPL/2.0/.

// Package config loads the sdrepart configuration file.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"math/bits"
	"os"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/hashicorp/go-multierror"
	yaml "gopkg.in/yaml.v3"

	"github.com/siderolabs/sdrepart/internal/pkg/backup"
	"github.com/siderolabs/sdrepart/internal/pkg/flash"
	"github.com/siderolabs/sdrepart/internal/pkg/partition"
)

// maxLabelLength is the FAT volume label limit.
const maxLabelLength = 11

// Config represents the configuration file.
type Config struct {
	Staging Staging `yaml:"staging"`
	Volume  Volume  `yaml:"volume"`
	Flash   Flash   `yaml:"flash"`
}

// Staging configures the in-memory backup area.
type Staging struct {
	Capacity    ByteSize `yaml:"capacity"`
	ClusterSize ByteSize `yaml:"clusterSize"`
}

// Volume configures the primary volume.
type Volume struct {
	Label          string   `yaml:"label"`
	MountPoint     string   `yaml:"mountPoint"`
	ClusterSize    ByteSize `yaml:"clusterSize"`
	MinClusterSize ByteSize `yaml:"minClusterSize"`
}

// Flash configures the image flasher.
type Flash struct {
	ImageDir   string        `yaml:"imageDir"`
	MaxRetries int           `yaml:"maxRetries"`
	RetryDelay time.Duration `yaml:"retryDelay"`
}

// ByteSize is a size in bytes, written either as an integer or with a unit ("1GiB").
type ByteSize uint64

// UnmarshalYAML implements yaml.Unmarshaler.
func (s *ByteSize) UnmarshalYAML(value *yaml.Node) error {
	var raw string

	if err := value.Decode(&raw); err != nil {
		return err
	}

	n, err := humanize.ParseBytes(raw)
	if err != nil {
		return fmt.Errorf("line %d: %w", value.Line, err)
	}

	*s = ByteSize(n)

	return nil
}

// MarshalYAML implements yaml.Marshaler.
func (s ByteSize) MarshalYAML() (any, error) {
	return uint64(s), nil
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Staging: Staging{
			Capacity:    backup.DefaultCapacity,
			ClusterSize: backup.DefaultClusterSize,
		},
		Volume: Volume{
			Label:          partition.DefaultVolumeLabel,
			MountPoint:     "/run/sdrepart/sd",
			ClusterSize:    ByteSize(partition.DefaultClusterSize),
			MinClusterSize: ByteSize(partition.MinClusterSize),
		},
		Flash: Flash{
			ImageDir:   flash.DefaultImageDir,
			MaxRetries: flash.DefaultMaxRetries,
			RetryDelay: flash.DefaultRetryDelay,
		},
	}
}

// Open reads the config at p over the defaults.
//
// A missing file yields the defaults.
func Open(p string) (*Config, error) {
	f, err := os.Open(p)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return Default(), nil
		}

		return nil, err
	}

	defer f.Close() //nolint:errcheck

	return ReadFrom(f)
}

// FromBytes returns a config from []byte.
func FromBytes(b []byte) (*Config, error) {
	return ReadFrom(bytes.NewReader(b))
}

// ReadFrom reads a config from io.Reader over the defaults.
func ReadFrom(r io.Reader) (*Config, error) {
	c := Default()

	decoder := yaml.NewDecoder(r)
	decoder.KnownFields(true)

	if err := decoder.Decode(c); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}

	return c, c.Validate()
}

// Bytes encodes the config.
func (c *Config) Bytes() ([]byte, error) {
	var buf bytes.Buffer

	encoder := yaml.NewEncoder(&buf)
	encoder.SetIndent(2)

	if err := encoder.Encode(c); err != nil {
		return nil, err
	}

	if err := encoder.Close(); err != nil {
		return nil, err
	}

	return buf.Bytes(), nil
}

// Validate reports every invalid setting.
func (c *Config) Validate() error {
	var result *multierror.Error

	if c.Staging.Capacity <= backup.ReservedSlack {
		result = multierror.Append(result, fmt.Errorf("staging capacity %s leaves no room after the %s slack",
			humanize.IBytes(uint64(c.Staging.Capacity)), humanize.IBytes(backup.ReservedSlack)))
	}

	if c.Volume.Label == "" || len(c.Volume.Label) > maxLabelLength {
		result = multierror.Append(result, fmt.Errorf("volume label %q must be 1-%d characters", c.Volume.Label, maxLabelLength))
	}

	if c.Volume.MountPoint == "" {
		result = multierror.Append(result, errors.New("volume mount point is required"))
	}

	for _, size := range []ByteSize{c.Volume.ClusterSize, c.Volume.MinClusterSize} {
		if size < 512 || size > 64*1024 || bits.OnesCount64(uint64(size)) != 1 {
			result = multierror.Append(result, fmt.Errorf("cluster size %d must be a power of two between 512 and 65536", size))
		}
	}

	if c.Volume.MinClusterSize > c.Volume.ClusterSize {
		result = multierror.Append(result, fmt.Errorf("minimum cluster size %d exceeds cluster size %d", c.Volume.MinClusterSize, c.Volume.ClusterSize))
	}

	if c.Flash.ImageDir == "" {
		result = multierror.Append(result, errors.New("image directory is required"))
	}

	if c.Flash.MaxRetries < 0 {
		result = multierror.Append(result, fmt.Errorf("max retries %d is negative", c.Flash.MaxRetries))
	}

	if c.Flash.RetryDelay < 0 {
		result = multierror.Append(result, fmt.Errorf("retry delay %s is negative", c.Flash.RetryDelay))
	}

	return result.ErrorOrNil()
}

// FormatOptions returns the primary volume format options.
func (c *Config) FormatOptions() *partition.FormatOptions {
	opts := partition.NewFormatOptions(c.Volume.Label)
	opts.ClusterSize = uint32(c.Volume.ClusterSize)
	opts.MinClusterSize = uint32(c.Volume.MinClusterSize)

	return opts
}

// BackupOptions returns the staging walker options.
func (c *Config) BackupOptions() []backup.Option {
	return []backup.Option{
		backup.WithCapacity(uint64(c.Staging.Capacity)),
		backup.WithClusterSize(uint64(c.Staging.ClusterSize)),
	}
}

// FlashOptions returns the flasher options.
func (c *Config) FlashOptions() []flash.Option {
	return []flash.Option{
		flash.WithDir(c.Flash.ImageDir),
		flash.WithRetries(c.Flash.MaxRetries, c.Flash.RetryDelay),
	}
}
