/*
Copyright (C) 2026  Kronuz Contributors

	This program is free software: you can redistribute it and/or modify
	it under the terms of the GNU General Public License as published by
	the Free Software Foundation, either version 3 of the License, or
	(at your option) any later version.

	This program is distributed in the hope that it will be useful,
	but WITHOUT ANY WARRANTY; without even the implied warranty of
	MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
	GNU General Public License for more details.

	You should have received a copy of the GNU General Public License
	along with this program.  If not, see <https://www.gnu.org/licenses/>.
*/

// Package blobstorage implements the append-only, volumed content store
// large document attachments are pushed to (spec.md §4.1/§6): a
// sequence of numbered volume files under a shard directory, each
// holding length-prefixed, checksummed records addressed by
// (volume, offset).
package blobstorage

import (
	"encoding/binary"
	"fmt"

	"github.com/Kronuz/xapiand-core/xerrors"
)

// Kind discriminates what a Locator points at. Only KindStored is used
// by this core; the byte is carried for forward compatibility with
// locator-shaped references elsewhere in a full Xapiand deployment.
type Kind byte

const KindStored Kind = 0

// Locator identifies a stored blob: either inlined directly (small
// bodies, spec.md §4.2 storage_push_blobs) or pointing at a byte range
// within a numbered blob volume.
type Locator struct {
	Kind    Kind
	CType   string // content type, e.g. "application/octet-stream"
	Inline  bool
	Data    []byte // valid when Inline
	Volume  uint64 // valid when !Inline
	Offset  uint64
	Size    uint64
}

// Marshal serialises a Locator per spec.md §6: {type:1, ct_type_len:varint,
// ct_type:bytes, inline_flag:1, if inline {data_len:varint, data:bytes}
// else {volume, offset, size: varint each}}.
func (l Locator) Marshal() []byte {
	buf := make([]byte, 0, 32+len(l.CType)+len(l.Data))
	buf = append(buf, byte(l.Kind))

	var tmp [binary.MaxVarintLen64]byte
	n := binary.PutUvarint(tmp[:], uint64(len(l.CType)))
	buf = append(buf, tmp[:n]...)
	buf = append(buf, l.CType...)

	if l.Inline {
		buf = append(buf, 1)
		n = binary.PutUvarint(tmp[:], uint64(len(l.Data)))
		buf = append(buf, tmp[:n]...)
		buf = append(buf, l.Data...)
	} else {
		buf = append(buf, 0)
		n = binary.PutUvarint(tmp[:], l.Volume)
		buf = append(buf, tmp[:n]...)
		n = binary.PutUvarint(tmp[:], l.Offset)
		buf = append(buf, tmp[:n]...)
		n = binary.PutUvarint(tmp[:], l.Size)
		buf = append(buf, tmp[:n]...)
	}
	return buf
}

// Unmarshal parses a Locator from the head of b, returning the number
// of bytes consumed.
func Unmarshal(b []byte) (Locator, int, error) {
	if len(b) < 2 {
		return Locator{}, 0, fmt.Errorf("%w: locator truncated", xerrors.ErrSerialisation)
	}
	var l Locator
	l.Kind = Kind(b[0])
	pos := 1

	ctLen, n := binary.Uvarint(b[pos:])
	if n <= 0 {
		return Locator{}, 0, fmt.Errorf("%w: locator ct_type_len", xerrors.ErrSerialisation)
	}
	pos += n
	if uint64(len(b)-pos) < ctLen {
		return Locator{}, 0, fmt.Errorf("%w: locator ct_type truncated", xerrors.ErrSerialisation)
	}
	l.CType = string(b[pos : pos+int(ctLen)])
	pos += int(ctLen)

	if pos >= len(b) {
		return Locator{}, 0, fmt.Errorf("%w: locator missing inline flag", xerrors.ErrSerialisation)
	}
	l.Inline = b[pos] != 0
	pos++

	if l.Inline {
		size, n := binary.Uvarint(b[pos:])
		if n <= 0 {
			return Locator{}, 0, fmt.Errorf("%w: locator data_len", xerrors.ErrSerialisation)
		}
		pos += n
		if uint64(len(b)-pos) < size {
			return Locator{}, 0, fmt.Errorf("%w: locator data truncated", xerrors.ErrSerialisation)
		}
		l.Data = b[pos : pos+int(size)]
		pos += int(size)
	} else {
		vol, n := binary.Uvarint(b[pos:])
		if n <= 0 {
			return Locator{}, 0, fmt.Errorf("%w: locator volume", xerrors.ErrSerialisation)
		}
		pos += n
		l.Volume = vol

		off, n := binary.Uvarint(b[pos:])
		if n <= 0 {
			return Locator{}, 0, fmt.Errorf("%w: locator offset", xerrors.ErrSerialisation)
		}
		pos += n
		l.Offset = off

		size, n := binary.Uvarint(b[pos:])
		if n <= 0 {
			return Locator{}, 0, fmt.Errorf("%w: locator size", xerrors.ErrSerialisation)
		}
		pos += n
		l.Size = size
	}

	return l, pos, nil
}
