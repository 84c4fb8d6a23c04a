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

// Package wal implements the write-ahead log every local shard keeps
// alongside its backend index (spec.md §3/§6): a volumed, append-only
// sequence of records, replayed strictly-greater-than-current-revision
// on reopen so replay is idempotent no matter how many times it runs.
package wal

import (
	"encoding/binary"
	"fmt"
	"hash/crc32"

	"github.com/Kronuz/xapiand-core/xerrors"
)

// Op identifies what a WAL record represents, per spec.md §6.
type Op byte

const (
	OpCommit               Op = 0
	OpAddDocument           Op = 1
	OpDeleteDocumentByDID   Op = 2
	OpDeleteDocumentByTerm  Op = 3
	OpReplaceDocumentByDID  Op = 4
	OpReplaceDocumentByTerm Op = 5
	OpSetMetadata           Op = 6
	OpAddSpelling           Op = 7
	OpRemoveSpelling        Op = 8
)

// Record is a single WAL entry: a shard revision, the operation it
// represents, and its backend-native serialised payload.
type Record struct {
	Revision uint64
	Op       Op
	Payload  []byte
}

// recordFixedSize is revision(8) + op(1); len and checksum frame it.
const recordFixedSize = 8 + 1
const checksumSize = 4

// encode frames a record as {len:varint, revision:8B LE, op:1B,
// payload:len bytes, checksum:4B}, exactly spec.md §6's WAL file format.
func encode(r Record) []byte {
	var lenBuf [binary.MaxVarintLen64]byte
	n := binary.PutUvarint(lenBuf[:], uint64(len(r.Payload)))

	buf := make([]byte, 0, n+recordFixedSize+len(r.Payload)+checksumSize)
	buf = append(buf, lenBuf[:n]...)

	body := make([]byte, recordFixedSize+len(r.Payload))
	binary.LittleEndian.PutUint64(body[0:8], r.Revision)
	body[8] = byte(r.Op)
	copy(body[9:], r.Payload)
	buf = append(buf, body...)

	var checksum [checksumSize]byte
	binary.LittleEndian.PutUint32(checksum[:], crc32.ChecksumIEEE(body))
	buf = append(buf, checksum[:]...)
	return buf
}

// decode parses one record starting at the head of buf, returning the
// record and the number of bytes consumed.
func decode(buf []byte) (Record, int, error) {
	payloadLen, n := binary.Uvarint(buf)
	if n <= 0 {
		return Record{}, 0, fmt.Errorf("%w: wal record length", xerrors.ErrCorruptVolume)
	}
	start := n
	bodyLen := recordFixedSize + int(payloadLen)
	end := start + bodyLen + checksumSize
	if end > len(buf) {
		return Record{}, 0, fmt.Errorf("%w: wal record truncated", xerrors.ErrCorruptVolume)
	}

	body := buf[start : start+bodyLen]
	checksum := buf[start+bodyLen : end]
	if crc32.ChecksumIEEE(body) != binary.LittleEndian.Uint32(checksum) {
		return Record{}, 0, fmt.Errorf("%w: wal checksum mismatch", xerrors.ErrCorruptVolume)
	}

	rec := Record{
		Revision: binary.LittleEndian.Uint64(body[0:8]),
		Op:       Op(body[8]),
		Payload:  append([]byte(nil), body[9:]...),
	}
	return rec, end, nil
}
