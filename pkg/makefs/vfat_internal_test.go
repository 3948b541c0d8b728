// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at http://mozilla.org/MPL/2.0/.

package makefs

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestVFATArgs(t *testing.T) {
	t.Parallel()

	for _, test := range []struct {
		name    string
		opts    []Option
		want    []string
		wantErr bool
	}{
		{
			name: "defaults",
			want: []string{"-F", "32", "/dev/mmcblk0p1"},
		},
		{
			name: "label and cluster",
			opts: []Option{WithLabel("SWITCH SD"), WithClusterSize(64 * 1024)},
			want: []string{"-F", "32", "-n", "SWITCH SD", "-s", "128", "/dev/mmcblk0p1"},
		},
		{
			name: "force reproducible",
			opts: []Option{WithForce(true), WithReproducible(true), WithClusterSize(4096)},
			want: []string{"-F", "32", "-s", "8", "-I", "--invariant", "/dev/mmcblk0p1"},
		},
		{
			name:    "cluster too large",
			opts:    []Option{WithClusterSize(128 * 1024)},
			wantErr: true,
		},
		{
			name:    "cluster not sector aligned",
			opts:    []Option{WithClusterSize(1000)},
			wantErr: true,
		},
	} {
		t.Run(test.name, func(t *testing.T) {
			t.Parallel()

			args, err := vfatArgs("/dev/mmcblk0p1", NewDefaultOptions(test.opts...))
			if test.wantErr {
				require.Error(t, err)

				return
			}

			require.NoError(t, err)
			assert.Equal(t, test.want, args)
		})
	}
}
