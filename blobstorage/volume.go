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

package blobstorage

import (
	"encoding/binary"
	"fmt"
	"hash/crc32"

	"github.com/google/uuid"
	"github.com/pierrec/lz4/v4"

	"github.com/Kronuz/xapiand-core/xerrors"
)

// recordHeaderMagic and recordFooterMagic mark a record's header and
// footer respectively (spec.md §6; original_source/src/database/shard.cc:113,136
// — DataBinHeader.magic and DataBinFooter.magic are both a single
// uint8_t, not the 4-byte value this package used to frame them with).
const recordHeaderMagic byte = 0xDB
const recordFooterMagic byte = 0xBD

// volumeMagic marks the fixed-size volume file header.
const volumeMagic uint32 = 0x58504456 // "XPDV"

// storageBlockSize is the unit the volume header is padded out to
// (spec.md §6; shard.cc:104 pads DataHeader to STORAGE_BLOCK_SIZE so
// record offsets never straddle the header into a misaligned read).
const storageBlockSize = 4096

// recordHeaderSize is magic(1) + flags(1) + size(4).
const recordHeaderSize = 1 + 1 + 4

// recordFooterSize is checksum(4) + magic(1).
const recordFooterSize = 4 + 1

// volumeHeaderHeadSize is magic(4) + offset(4) + uuid(16), the live
// part of the header; the rest of volumeHeaderSize is padding
// (shard.cc:97-104's DataHeaderHead followed by a padding array).
const volumeHeaderHeadSize = 4 + 4 + 16

// volumeHeaderSize is volumeHeaderHeadSize padded up to storageBlockSize.
const volumeHeaderSize = storageBlockSize

const (
	flagDeleted    byte = 1 << 0
	flagCompressed byte = 1 << 1
)

// volumeHeader is the fixed-size (block-aligned) preamble of every
// volume file. Offset mirrors shard.cc's DataHeaderHead.offset; this
// package always opens a volume at offset 0, so it is carried through
// unused beyond round-tripping the header.
type volumeHeader struct {
	Offset uint32
	UUID   uuid.UUID
}

func encodeVolumeHeader(h volumeHeader) []byte {
	buf := make([]byte, volumeHeaderSize)
	binary.LittleEndian.PutUint32(buf[0:4], volumeMagic)
	binary.LittleEndian.PutUint32(buf[4:8], h.Offset)
	copy(buf[8:24], h.UUID[:])
	return buf
}

func decodeVolumeHeader(buf []byte, wantUUID uuid.UUID) (volumeHeader, error) {
	if len(buf) < volumeHeaderHeadSize {
		return volumeHeader{}, fmt.Errorf("%w: truncated volume header", xerrors.ErrCorruptVolume)
	}
	if binary.LittleEndian.Uint32(buf[0:4]) != volumeMagic {
		return volumeHeader{}, fmt.Errorf("%w: bad volume magic", xerrors.ErrCorruptVolume)
	}
	var h volumeHeader
	h.Offset = binary.LittleEndian.Uint32(buf[4:8])
	copy(h.UUID[:], buf[8:24])
	if wantUUID != uuid.Nil && h.UUID != wantUUID {
		return volumeHeader{}, fmt.Errorf("%w: volume UUID mismatch", xerrors.ErrCorruptVolume)
	}
	return h, nil
}

// encodeRecord frames payload (optionally LZ4-compressed) with its
// header and footer, ready to append to a volume.
func encodeRecord(payload []byte, compress bool) []byte {
	var flags byte
	body := payload
	if compress {
		compressed := make([]byte, lz4.CompressBlockBound(len(payload)))
		n, err := compressBlock(payload, compressed)
		if err == nil && n > 0 && n < len(payload) {
			// LZ4's raw block codec needs the decompressed size handed
			// back to it explicitly, so it travels as a 4-byte prefix
			// inside the record body rather than in the fixed header.
			framed := make([]byte, 4+n)
			binary.LittleEndian.PutUint32(framed[0:4], uint32(len(payload)))
			copy(framed[4:], compressed[:n])
			body = framed
			flags |= flagCompressed
		}
	}

	buf := make([]byte, 0, recordHeaderSize+len(body)+recordFooterSize)
	var header [recordHeaderSize]byte
	header[0] = recordHeaderMagic
	header[1] = flags
	binary.LittleEndian.PutUint32(header[2:6], uint32(len(body)))
	buf = append(buf, header[:]...)
	buf = append(buf, body...)

	var footer [recordFooterSize]byte
	checksum := crc32.ChecksumIEEE(body)
	binary.LittleEndian.PutUint32(footer[0:4], checksum)
	footer[4] = recordFooterMagic
	buf = append(buf, footer[:]...)

	return buf
}

func compressBlock(src, dst []byte) (int, error) {
	var c lz4.Compressor
	return c.CompressBlock(src, dst)
}

// decodeRecord verifies and unframes a single record's header+body+footer
// slice, returning the original (decompressed) payload.
func decodeRecord(raw []byte) ([]byte, error) {
	if len(raw) < recordHeaderSize+recordFooterSize {
		return nil, fmt.Errorf("%w: record too short", xerrors.ErrCorruptVolume)
	}
	if raw[0] != recordHeaderMagic {
		return nil, fmt.Errorf("%w: bad record header magic", xerrors.ErrCorruptVolume)
	}
	flags := raw[1]
	size := binary.LittleEndian.Uint32(raw[2:6])

	bodyStart := recordHeaderSize
	bodyEnd := bodyStart + int(size)
	if len(raw) < bodyEnd+recordFooterSize {
		return nil, fmt.Errorf("%w: record body truncated", xerrors.ErrCorruptVolume)
	}
	body := raw[bodyStart:bodyEnd]
	footer := raw[bodyEnd : bodyEnd+recordFooterSize]

	if footer[4] != recordFooterMagic {
		return nil, fmt.Errorf("%w: bad record footer magic", xerrors.ErrCorruptVolume)
	}
	if crc32.ChecksumIEEE(body) != binary.LittleEndian.Uint32(footer[0:4]) {
		return nil, fmt.Errorf("%w: checksum mismatch", xerrors.ErrCorruptVolume)
	}

	if flags&flagDeleted != 0 {
		return nil, xerrors.ErrStorageNotFound
	}

	if flags&flagCompressed != 0 {
		if len(body) < 4 {
			return nil, fmt.Errorf("%w: truncated compressed record", xerrors.ErrCorruptVolume)
		}
		origSize := binary.LittleEndian.Uint32(body[0:4])
		dst := make([]byte, origSize)
		n, err := lz4.UncompressBlock(body[4:], dst)
		if err != nil {
			return nil, fmt.Errorf("%w: lz4 decompress: %v", xerrors.ErrCorruptVolume, err)
		}
		return dst[:n], nil
	}
	return body, nil
}

// recordTotalSize is how many bytes a record occupies on disk given its
// (possibly compressed) body length.
func recordTotalSize(bodyLen int) int {
	return recordHeaderSize + bodyLen + recordFooterSize
}
