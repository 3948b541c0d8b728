// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at http://mozilla.org/MPL/2.0/.

package gpt

import (
	"bytes"
	"encoding/binary"
	"fmt"

	"github.com/google/uuid"
	"golang.org/x/text/encoding/unicode"

	"github.com/siderolabs/sdrepart/pkg/endianness"
)

// Entry layout.
const (
	EntrySize = 128

	// NameLength is the name capacity in UTF-16 code units.
	NameLength = 36

	nameOffset = 56
)

// Well known partition type GUIDs.
var (
	TypeBasicData       = uuid.MustParse("EBD0A0A2-B9E5-4433-87C0-68B6B72699C7")
	TypeLinuxFilesystem = uuid.MustParse("0FC63DAF-8483-4772-8E79-3D69D8477DE4")
)

// Entry represents a partition entry in a GUID partition table.
type Entry struct {
	Type       uuid.UUID // 0
	ID         uuid.UUID // 16
	FirstLBA   uint64    // 32
	LastLBA    uint64    // 40
	Attributes uint64    // 48
	Name       string    // 56

	// rawName holds the on-disk name of parsed entries.
	rawName [NameLength * 2]byte
	parsed  bool
}

// GUIDFromDisk interprets 16 on-disk bytes as a GUID.
func GUIDFromDisk(b [16]byte) uuid.UUID {
	return uuid.UUID(endianness.FromMiddleEndian(b))
}

// ParseEntry decodes a partition entry.
func ParseEntry(buf []byte) (*Entry, error) {
	if len(buf) < EntrySize {
		return nil, fmt.Errorf("entry buffer too short: %d", len(buf))
	}

	e := &Entry{
		parsed:     true,
		Type:       GUIDFromDisk([16]byte(buf[0:16])),
		ID:         GUIDFromDisk([16]byte(buf[16:32])),
		FirstLBA:   binary.LittleEndian.Uint64(buf[32:]),
		LastLBA:    binary.LittleEndian.Uint64(buf[40:]),
		Attributes: binary.LittleEndian.Uint64(buf[48:]),
	}

	copy(e.rawName[:], buf[nameOffset:EntrySize])

	decoded, err := unicode.UTF16(unicode.LittleEndian, unicode.IgnoreBOM).NewDecoder().Bytes(e.rawName[:])
	if err != nil {
		return nil, fmt.Errorf("error decoding partition name: %w", err)
	}

	if i := bytes.IndexByte(decoded, 0); i >= 0 {
		decoded = decoded[:i]
	}

	e.Name = string(decoded)

	return e, nil
}

// IsEmpty reports whether the entry is unused.
func (e *Entry) IsEmpty() bool {
	return e.Type == uuid.Nil
}

// Length returns the partition length in sectors.
func (e *Entry) Length() uint64 {
	return e.LastLBA - e.FirstLBA + 1
}

// NameHasPrefix reports whether the first len(prefix) UTF-16 code units of the
// stored name equal prefix. Comparison is on the encoded code units, a prefix of
// "LNX" does not match a partition named "LN".
func (e *Entry) NameHasPrefix(prefix string) bool {
	raw := e.rawName

	if !e.parsed {
		var err error

		if raw, err = encodeName(e.Name); err != nil {
			return false
		}
	}

	want, err := encodeUnits(prefix)
	if err != nil || len(want) > len(raw) {
		return false
	}

	return bytes.Equal(raw[:len(want)], want)
}

// Bytes encodes the entry.
func (e *Entry) Bytes() ([]byte, error) {
	buf := make([]byte, EntrySize)

	if e.IsEmpty() {
		return buf, nil
	}

	typ := endianness.ToMiddleEndian(e.Type)
	id := endianness.ToMiddleEndian(e.ID)

	copy(buf[0:], typ[:])
	copy(buf[16:], id[:])
	binary.LittleEndian.PutUint64(buf[32:], e.FirstLBA)
	binary.LittleEndian.PutUint64(buf[40:], e.LastLBA)
	binary.LittleEndian.PutUint64(buf[48:], e.Attributes)

	name, err := encodeName(e.Name)
	if err != nil {
		return nil, err
	}

	copy(buf[nameOffset:], name[:])

	return buf, nil
}

func encodeUnits(name string) ([]byte, error) {
	encoded, err := unicode.UTF16(unicode.LittleEndian, unicode.IgnoreBOM).NewEncoder().Bytes([]byte(name))
	if err != nil {
		return nil, fmt.Errorf("error encoding partition name %q: %w", name, err)
	}

	return encoded, nil
}

func encodeName(name string) ([NameLength * 2]byte, error) {
	var raw [NameLength * 2]byte

	encoded, err := encodeUnits(name)
	if err != nil {
		return raw, err
	}

	if len(encoded) > len(raw) {
		return raw, fmt.Errorf("partition name %q is longer than %d code units", name, NameLength)
	}

	copy(raw[:], encoded)

	return raw, nil
}
