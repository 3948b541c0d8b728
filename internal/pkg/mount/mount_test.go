// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at http://mozilla.org/MPL/2.0/.

package mount_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/siderolabs/sdrepart/internal/pkg/mount"
)

func TestOptions(t *testing.T) {
	t.Parallel()

	opts := mount.NewDefaultOptions()
	assert.False(t, opts.ReadOnly)
	assert.Equal(t, mount.DefaultBusyTimeout, opts.BusyTimeout)
	assert.NotNil(t, opts.Logger)

	opts = mount.NewDefaultOptions(mount.WithReadOnly(true), mount.WithBusyRetry(time.Second, time.Millisecond), mount.WithLogger(nil))
	assert.True(t, opts.ReadOnly)
	assert.Equal(t, time.Millisecond, opts.BusyInterval)
	assert.NotNil(t, opts.Logger)
}

func TestMountTmpfs(t *testing.T) {
	t.Parallel()

	if os.Geteuid() != 0 {
		t.Skip("can't run the test as non-root")
	}

	target := filepath.Join(t.TempDir(), "mnt")

	p := mount.NewPoint("tmpfs", target, "tmpfs", 0, "size=1m")
	assert.Equal(t, target, p.Target())

	unmount, err := p.Mount(t.Context(), mount.WithLogger(zaptest.NewLogger(t)))
	require.NoError(t, err)

	require.NoError(t, os.WriteFile(filepath.Join(target, "file"), []byte("data"), 0o644))

	require.NoError(t, unmount())

	_, err = os.Stat(filepath.Join(target, "file"))
	require.ErrorIs(t, err, os.ErrNotExist)
}

func TestMountMissingSource(t *testing.T) {
	t.Parallel()

	if os.Geteuid() != 0 {
		t.Skip("can't run the test as non-root")
	}

	p := mount.NewPoint(filepath.Join(t.TempDir(), "nodev"), filepath.Join(t.TempDir(), "mnt"), "vfat", 0, "")

	_, err := p.Mount(t.Context())
	require.Error(t, err)
}
