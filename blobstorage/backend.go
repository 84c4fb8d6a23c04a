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
	"io"
	"sort"
	"strconv"
	"strings"
)

// AppendFile is a single volume opened for writable+append access.
type AppendFile interface {
	io.Writer
	Sync() error
	Close() error
	Size() (int64, error)
}

// VolumeBackend abstracts where numbered volume files physically live —
// local disk, S3, or Ceph RADOS (spec.md §4.1 names "open" as the only
// backend-facing primitive; everything else is built on read/append/
// list). Grounded on the teacher's PersistenceEngine/PersistenceFactory
// split (storage/persistence.go), generalised from per-column files to
// numbered blob volumes.
type VolumeBackend interface {
	// OpenRead opens an existing volume for random-access reads.
	OpenRead(name string) (io.ReadSeeker, io.Closer, error)
	// OpenAppend opens (creating if necessary) a volume for append-only
	// writes; the returned AppendFile reports its current size.
	OpenAppend(name string) (AppendFile, error)
	// Remove deletes a volume; used only by administrative cleanup, never
	// by normal operation (storage is append-only).
	Remove(name string) error
	// List returns the names of every volume whose name begins with
	// prefix, for get_volumes_range.
	List(prefix string) ([]string, error)
}

// VolumeRange scans names for the numeric suffix following prefix and
// returns the lowest and highest volume numbers found, implementing
// get_volumes_range(prefix) (spec.md §4.1). ok is false when no volume
// matches.
func VolumeRange(backend VolumeBackend, prefix string) (first, last uint64, ok bool, err error) {
	names, err := backend.List(prefix)
	if err != nil {
		return 0, 0, false, err
	}
	var nums []uint64
	for _, name := range names {
		suffix := strings.TrimPrefix(name, prefix)
		n, err := strconv.ParseUint(suffix, 10, 64)
		if err != nil {
			continue
		}
		nums = append(nums, n)
	}
	if len(nums) == 0 {
		return 0, 0, false, nil
	}
	sort.Slice(nums, func(i, j int) bool { return nums[i] < nums[j] })
	return nums[0], nums[len(nums)-1], true, nil
}
