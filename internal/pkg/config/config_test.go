// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at http://mozilla.org/MPL/2.0/.

package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/hashicorp/go-multierror"
	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/siderolabs/sdrepart/internal/pkg/config"
)

func TestDefault(t *testing.T) {
	t.Parallel()

	c := config.Default()
	require.NoError(t, c.Validate())

	assert.Equal(t, config.ByteSize(0x41000000), c.Staging.Capacity)
	assert.Equal(t, config.ByteSize(32*1024), c.Staging.ClusterSize)
	assert.Equal(t, "SWITCH SD", c.Volume.Label)
	assert.Equal(t, "switchroot/install", c.Flash.ImageDir)
	assert.Equal(t, 3, c.Flash.MaxRetries)
	assert.Equal(t, 150*time.Millisecond, c.Flash.RetryDelay)

	opts := c.FormatOptions()
	assert.Equal(t, uint32(64*1024), opts.ClusterSize)
	assert.Equal(t, uint32(4*1024), opts.MinClusterSize)

	assert.Len(t, c.BackupOptions(), 2)
	assert.Len(t, c.FlashOptions(), 2)
}

func TestFromBytes(t *testing.T) {
	t.Parallel()

	c, err := config.FromBytes([]byte(`
staging:
  capacity: 2GiB
volume:
  label: DATA
  clusterSize: 32768
flash:
  retryDelay: 1s
`))
	require.NoError(t, err)

	assert.Equal(t, config.ByteSize(2<<30), c.Staging.Capacity)
	assert.Equal(t, config.ByteSize(32*1024), c.Staging.ClusterSize)
	assert.Equal(t, "DATA", c.Volume.Label)
	assert.Equal(t, config.ByteSize(32768), c.Volume.ClusterSize)
	assert.Equal(t, time.Second, c.Flash.RetryDelay)
	assert.Equal(t, 3, c.Flash.MaxRetries)

	out, err := c.Bytes()
	require.NoError(t, err)

	again, err := config.FromBytes(out)
	require.NoError(t, err)
	assert.Equal(t, c, again)
}

func TestFromBytesErrors(t *testing.T) {
	t.Parallel()

	_, err := config.FromBytes([]byte("staging:\n  capacitty: 1GiB\n"))
	require.Error(t, err)

	_, err = config.FromBytes([]byte("staging:\n  capacity: lots\n"))
	require.Error(t, err)

	_, err = config.FromBytes([]byte(`
staging:
  capacity: 1MiB
volume:
  label: A VERY LONG LABEL
  clusterSize: 3000
flash:
  maxRetries: -1
`))
	require.Error(t, err)

	var merr *multierror.Error

	require.ErrorAs(t, err, &merr)
	assert.Len(t, merr.Errors, 5)
}

func TestOpen(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()

	c, err := config.Open(filepath.Join(dir, "missing.yaml"))
	require.NoError(t, err)
	assert.Equal(t, config.Default(), c)

	p := filepath.Join(dir, "sdrepart.yaml")
	require.NoError(t, os.WriteFile(p, []byte("flash:\n  imageDir: images\n"), 0o644))

	c, err = config.Open(p)
	require.NoError(t, err)
	assert.Equal(t, "images", c.Flash.ImageDir)

	require.NoError(t, os.WriteFile(filepath.Join(dir, "empty.yaml"), nil, 0o644))

	c, err = config.Open(filepath.Join(dir, "empty.yaml"))
	require.NoError(t, err)
	assert.Equal(t, config.Default(), c)
}

func TestApplyFlags(t *testing.T) {
	t.Parallel()

	fs := pflag.NewFlagSet("test", pflag.ContinueOnError)
	config.AddFlags(fs)

	require.NoError(t, fs.Parse([]string{"--label=SD", "--retries=5", "--staging-capacity=512MiB", "--retry-delay=10ms"}))

	c := config.Default()
	c.Flash.ImageDir = "from-file"

	require.NoError(t, c.ApplyFlags(fs))

	assert.Equal(t, "SD", c.Volume.Label)
	assert.Equal(t, 5, c.Flash.MaxRetries)
	assert.Equal(t, config.ByteSize(512<<20), c.Staging.Capacity)
	assert.Equal(t, 10*time.Millisecond, c.Flash.RetryDelay)
	assert.Equal(t, "from-file", c.Flash.ImageDir)

	fs = pflag.NewFlagSet("test", pflag.ContinueOnError)
	config.AddFlags(fs)

	require.NoError(t, fs.Parse([]string{"--staging-capacity=huge"}))
	require.Error(t, config.Default().ApplyFlags(fs))
}
