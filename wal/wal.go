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

package wal

import (
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/Kronuz/xapiand-core/blobstorage"
)

// WAL is a volumed, append-only log: a sequence of files named
// prefix+N where N is the starting revision the file may contain
// (spec.md §6 "a sequence of volume files wal.{N}"). It reuses
// blobstorage's VolumeBackend so the same local/S3/Ceph storage
// choice covers both blobs and the write-ahead log.
type WAL struct {
	backend blobstorage.VolumeBackend
	prefix  string

	mu      sync.Mutex
	writer  blobstorage.AppendFile
	current uint64
}

// Open attaches to (creating if necessary) the log volume starting at
// startRevision for appending.
func Open(backend blobstorage.VolumeBackend, prefix string, startRevision uint64) (*WAL, error) {
	name := fmt.Sprintf("%s%d", prefix, startRevision)
	w, err := backend.OpenAppend(name)
	if err != nil {
		return nil, err
	}
	return &WAL{backend: backend, prefix: prefix, writer: w, current: startRevision}, nil
}

// Backend returns the VolumeBackend this WAL was opened against, for
// callers (e.g. shard.Reopen) that need to re-scan its volumes.
func (w *WAL) Backend() blobstorage.VolumeBackend {
	return w.backend
}

// Prefix returns the filename prefix this WAL's volumes share.
func (w *WAL) Prefix() string {
	return w.prefix
}

// Append writes one record to the current log volume.
func (w *WAL) Append(r Record) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	_, err := w.writer.Write(encode(r))
	return err
}

// Sync fsyncs the current log volume.
func (w *WAL) Sync() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.writer.Sync()
}

// Close releases the current log volume handle.
func (w *WAL) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.writer == nil {
		return nil
	}
	return w.writer.Close()
}

// Roll closes the current volume and starts a new one at newStartRevision,
// bounding how much a single log volume must hold. shard.Shard does not
// call it; a shard keeps appending to the volume it was opened with.
func (w *WAL) Roll(newStartRevision uint64) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if err := w.writer.Close(); err != nil {
		return err
	}
	name := fmt.Sprintf("%s%d", w.prefix, newStartRevision)
	writer, err := w.backend.OpenAppend(name)
	if err != nil {
		return err
	}
	w.writer = writer
	w.current = newStartRevision
	return nil
}

// Replay scans every log volume under prefix in ascending order and
// returns every record whose revision is strictly greater than
// afterRevision, in on-disk order — the idempotent replay spec.md §3
// describes: replaying the same range twice (e.g. because reopen
// raced a crash) must leave the backend in the same state, which is
// guaranteed as long as each Op's effect is itself idempotent per-did
// (see shard package).
func Replay(backend blobstorage.VolumeBackend, prefix string, afterRevision uint64) ([]Record, error) {
	names, err := backend.List(prefix)
	if err != nil {
		return nil, err
	}
	sort.Slice(names, func(i, j int) bool {
		ni, _ := strconv.ParseUint(strings.TrimPrefix(names[i], prefix), 10, 64)
		nj, _ := strconv.ParseUint(strings.TrimPrefix(names[j], prefix), 10, 64)
		return ni < nj
	})

	var records []Record
	for _, name := range names {
		r, closer, err := backend.OpenRead(name)
		if err != nil {
			return nil, err
		}
		data, err := io.ReadAll(r)
		closer.Close()
		if err != nil {
			return nil, err
		}

		pos := 0
		for pos < len(data) {
			rec, n, err := decode(data[pos:])
			if err != nil {
				return nil, err
			}
			pos += n
			if rec.Revision > afterRevision {
				records = append(records, rec)
			}
		}
	}
	return records, nil
}
