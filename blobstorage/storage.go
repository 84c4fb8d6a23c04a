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
	"io"
	"sync"

	"github.com/google/uuid"

	"github.com/Kronuz/xapiand-core/xerrors"
)

// BlobStorage is a sequence of numbered volume files under a shard
// directory (spec.md §4.1). Volume names are Prefix+N ("blob.3");
// get_volumes_range scans for that pattern.
type BlobStorage struct {
	backend  VolumeBackend
	prefix   string
	uuid     uuid.UUID
	softCap  int64
	compress bool

	mu      sync.Mutex
	current uint64
	writer  AppendFile
	hdrSize int64 // bytes already occupied by the volume header on disk
}

// Open attaches to (creating if necessary) the writable volume numbered
// volumeNumber. prefix is the filename prefix (e.g. "blob."); uuid is
// the owning shard's UUID, validated against each volume's header.
func Open(backend VolumeBackend, prefix string, id uuid.UUID, volumeNumber uint64, softCap int64, compress bool) (*BlobStorage, error) {
	bs := &BlobStorage{
		backend:  backend,
		prefix:   prefix,
		uuid:     id,
		softCap:  softCap,
		compress: compress,
		current:  volumeNumber,
	}
	if err := bs.openWritable(volumeNumber); err != nil {
		return nil, err
	}
	return bs, nil
}

func (bs *BlobStorage) volumeName(n uint64) string {
	return fmt.Sprintf("%s%d", bs.prefix, n)
}

func (bs *BlobStorage) openWritable(n uint64) error {
	name := bs.volumeName(n)
	w, err := bs.backend.OpenAppend(name)
	if err != nil {
		return err
	}
	size, err := w.Size()
	if err != nil {
		w.Close()
		return err
	}
	if size == 0 {
		hdr := encodeVolumeHeader(volumeHeader{Offset: 0, UUID: bs.uuid})
		if _, err := w.Write(hdr); err != nil {
			w.Close()
			return err
		}
		size = int64(len(hdr))
	} else {
		// validate header by reading it back.
		r, closer, err := bs.backend.OpenRead(name)
		if err != nil {
			w.Close()
			return err
		}
		hdrBuf := make([]byte, volumeHeaderSize)
		_, err = io.ReadFull(r, hdrBuf)
		closer.Close()
		if err != nil {
			w.Close()
			return fmt.Errorf("%w: %v", xerrors.ErrCorruptVolume, err)
		}
		if _, err := decodeVolumeHeader(hdrBuf, bs.uuid); err != nil {
			w.Close()
			return err
		}
	}

	bs.writer = w
	bs.current = n
	bs.hdrSize = int64(volumeHeaderSize)
	return nil
}

// Write appends a length-prefixed, checksummed record to the current
// writable volume and returns its (volume, offset). If the volume would
// overflow softCap, it returns xerrors.ErrStorageEOF; the caller is
// expected to roll to the next volume number and retry (spec.md §4.1).
func (bs *BlobStorage) Write(payload []byte) (volume uint64, offset uint64, err error) {
	bs.mu.Lock()
	defer bs.mu.Unlock()

	record := encodeRecord(payload, bs.compress)
	curSize, err := bs.writer.Size()
	if err != nil {
		return 0, 0, err
	}
	if bs.softCap > 0 && curSize+int64(len(record)) > bs.softCap {
		return 0, 0, xerrors.ErrStorageEOF
	}

	startOffset := uint64(curSize)
	if _, err := bs.writer.Write(record); err != nil {
		return 0, 0, err
	}
	return bs.current, startOffset, nil
}

// RollVolume closes the current writable volume and opens the next
// numbered one, the action callers take after ErrStorageEOF.
func (bs *BlobStorage) RollVolume() error {
	bs.mu.Lock()
	defer bs.mu.Unlock()
	if bs.writer != nil {
		if err := bs.writer.Close(); err != nil {
			return err
		}
	}
	return bs.openWritable(bs.current + 1)
}

// Read positions to offset within volume and reads one full record,
// verifying magic and checksum (spec.md §4.1 seek/read).
func (bs *BlobStorage) Read(volume uint64, offset uint64) ([]byte, error) {
	name := bs.volumeName(volume)
	r, closer, err := bs.backend.OpenRead(name)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", xerrors.ErrCorruptVolume, err)
	}
	defer closer.Close()

	if _, err := r.Seek(int64(offset), io.SeekStart); err != nil {
		return nil, fmt.Errorf("%w: %v", xerrors.ErrCorruptVolume, err)
	}

	var header [recordHeaderSize]byte
	if _, err := io.ReadFull(r, header[:]); err != nil {
		return nil, fmt.Errorf("%w: %v", xerrors.ErrCorruptVolume, err)
	}
	bodyLen := int(binary.LittleEndian.Uint32(header[2:6]))

	rest := make([]byte, bodyLen+recordFooterSize)
	if _, err := io.ReadFull(r, rest); err != nil {
		return nil, fmt.Errorf("%w: %v", xerrors.ErrCorruptVolume, err)
	}

	full := append(header[:], rest...)
	return decodeRecord(full)
}

// Commit fsyncs the current writable volume.
func (bs *BlobStorage) Commit() error {
	bs.mu.Lock()
	defer bs.mu.Unlock()
	return bs.writer.Sync()
}

// Close releases the current writable volume handle.
func (bs *BlobStorage) Close() error {
	bs.mu.Lock()
	defer bs.mu.Unlock()
	if bs.writer == nil {
		return nil
	}
	return bs.writer.Close()
}

// GetVolumesRange returns the lowest and highest volume numbers present
// under prefix (spec.md §4.1 get_volumes_range).
func (bs *BlobStorage) GetVolumesRange() (first, last uint64, ok bool, err error) {
	return VolumeRange(bs.backend, bs.prefix)
}
