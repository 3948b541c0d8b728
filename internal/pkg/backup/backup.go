// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at http://mozilla.org/MPL/2.0/.

// Package backup mirrors a directory tree between filesystems with a size ceiling.
package backup

import (
	"errors"
	"fmt"
	"io"
	"math/bits"
	"os"
	"path"

	"github.com/dustin/go-humanize"
	"github.com/spf13/afero"
	"go.uber.org/zap"
)

// Staging defaults.
const (
	// DefaultCapacity is the size of the staging area.
	DefaultCapacity = 0x41000000
	// DefaultClusterSize is the smallest allocation of a file in the staging area.
	DefaultClusterSize = 32 * 1024

	// ReservedSlack is subtracted from the capacity to get the ceiling.
	ReservedSlack = 16 * 1024 * 1024

	// BufferSize is the copy transfer size.
	BufferSize = 4 * 1024 * 1024

	// readdirBatch is the number of directory entries fetched at once.
	readdirBatch = 64
)

// SystemVolumeInformation is never copied.
const SystemVolumeInformation = "System Volume Information"

var (
	// ErrTooLarge is returned when the tree does not fit the staging area.
	ErrTooLarge = errors.New("backup does not fit the staging area")

	// ErrManifestOverflow is returned when the running total overflows.
	ErrManifestOverflow = errors.New("backup size overflows")
)

// Manifest accumulates the size of a walk.
type Manifest struct {
	Files uint64
	// Bytes counts every file as at least one cluster.
	Bytes uint64
}

// String implements fmt.Stringer.
func (m Manifest) String() string {
	return fmt.Sprintf("%d files, %s", m.Files, humanize.IBytes(m.Bytes))
}

// Progress is passed to the visit callback for every directory entry.
type Progress struct {
	Path     string
	Manifest Manifest
}

// Walker copies or measures a directory tree.
type Walker struct {
	source afero.Fs
	opts   Options
}

// NewWalker creates a walker reading from source.
func NewWalker(source afero.Fs, setters ...Option) *Walker {
	return &Walker{
		source: source,
		opts:   NewDefaultOptions(setters...),
	}
}

// Ceiling returns the largest manifest size accepted.
func (w *Walker) Ceiling() uint64 {
	if w.opts.Capacity < ReservedSlack {
		return 0
	}

	return w.opts.Capacity - ReservedSlack
}

type frame struct {
	dir     afero.File
	path    string
	pending []os.FileInfo
	done    bool
}

// Walk visits the tree under root depth-first.
//
// When a destination is configured every directory and file is mirrored to the
// same path on it, otherwise the walk only measures the tree. The first error
// aborts the walk, files already copied are left in place.
func (w *Walker) Walk(root string) (manifest Manifest, err error) {
	root = path.Clean("/" + root)

	var buf []byte

	if w.opts.Destination != nil {
		buf = make([]byte, BufferSize)

		if err = w.mkdir(root); err != nil {
			return manifest, err
		}
	}

	stack := make([]*frame, 0, 16)

	defer func() {
		for _, f := range stack {
			f.dir.Close() //nolint:errcheck
		}
	}()

	push := func(p string) error {
		dir, err := w.source.Open(p)
		if err != nil {
			return fmt.Errorf("error opening directory %q: %w", p, err)
		}

		stack = append(stack, &frame{dir: dir, path: p})

		return nil
	}

	if err = push(root); err != nil {
		return manifest, err
	}

	for len(stack) > 0 {
		top := stack[len(stack)-1]

		if len(top.pending) == 0 {
			if top.done {
				stack = stack[:len(stack)-1]

				if err = top.dir.Close(); err != nil {
					return manifest, fmt.Errorf("error closing directory %q: %w", top.path, err)
				}

				continue
			}

			top.pending, err = top.dir.Readdir(readdirBatch)

			switch {
			case errors.Is(err, io.EOF):
				top.done = true
			case err != nil:
				return manifest, fmt.Errorf("error reading directory %q: %w", top.path, err)
			case len(top.pending) < readdirBatch:
				top.done = true
			}

			continue
		}

		info := top.pending[0]
		top.pending = top.pending[1:]

		if info.Name() == SystemVolumeInformation {
			continue
		}

		p := path.Join(top.path, info.Name())

		if w.opts.OnVisit != nil {
			w.opts.OnVisit(Progress{Path: p, Manifest: manifest})
		}

		switch {
		case info.IsDir():
			if w.opts.Destination != nil {
				if err = w.mkdir(p); err != nil {
					return manifest, err
				}
			}

			if err = push(p); err != nil {
				return manifest, err
			}
		case info.Mode().IsRegular():
			if w.opts.Destination != nil {
				if err = w.copyFile(p, info, buf); err != nil {
					return manifest, err
				}
			}

			if err = w.account(&manifest, info); err != nil {
				return manifest, fmt.Errorf("%q: %w", p, err)
			}
		default:
			w.opts.Logger.Debug("skipping special file", zap.String("path", p), zap.Stringer("mode", info.Mode()))
		}
	}

	w.opts.Logger.Info("walk complete", zap.String("root", root), zap.Stringer("manifest", manifest))

	return manifest, nil
}

func (w *Walker) account(m *Manifest, info os.FileInfo) error {
	units := max(uint64(info.Size()), w.opts.ClusterSize)

	total, carry := bits.Add64(m.Bytes, units, 0)
	if carry != 0 {
		return ErrManifestOverflow
	}

	m.Files++
	m.Bytes = total

	if m.Bytes > w.Ceiling() {
		return fmt.Errorf("%w: %s exceeds %s", ErrTooLarge, humanize.IBytes(m.Bytes), humanize.IBytes(w.Ceiling()))
	}

	return nil
}

func (w *Walker) mkdir(p string) error {
	if err := w.opts.Destination.MkdirAll(p, 0o755); err != nil {
		return fmt.Errorf("error creating directory %q: %w", p, err)
	}

	return nil
}

func (w *Walker) copyFile(p string, info os.FileInfo, buf []byte) error {
	in, err := w.source.Open(p)
	if err != nil {
		return fmt.Errorf("error opening %q: %w", p, err)
	}

	defer in.Close() //nolint:errcheck

	out, err := w.opts.Destination.OpenFile(p, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return fmt.Errorf("error creating %q: %w", p, err)
	}

	if err = transfer(out, in, info.Size(), buf); err != nil {
		out.Close() //nolint:errcheck

		return fmt.Errorf("error copying %q: %w", p, err)
	}

	if err = out.Close(); err != nil {
		return fmt.Errorf("error closing %q: %w", p, err)
	}

	if err = w.opts.Destination.Chmod(p, info.Mode().Perm()); err != nil {
		w.opts.Logger.Debug("failed to copy file mode", zap.String("path", p), zap.Error(err))
	}

	if err = w.opts.Destination.Chtimes(p, info.ModTime(), info.ModTime()); err != nil {
		w.opts.Logger.Debug("failed to copy file times", zap.String("path", p), zap.Error(err))
	}

	return nil
}

// transfer copies size bytes, allocating the destination up front.
func transfer(out afero.File, in io.Reader, size int64, buf []byte) error {
	if err := out.Truncate(size); err != nil {
		return err
	}

	if _, err := out.Seek(0, io.SeekStart); err != nil {
		return err
	}

	for {
		n, err := in.Read(buf)
		if n > 0 {
			if _, werr := out.Write(buf[:n]); werr != nil {
				return werr
			}
		}

		if errors.Is(err, io.EOF) {
			return nil
		}

		if err != nil {
			return err
		}
	}
}
