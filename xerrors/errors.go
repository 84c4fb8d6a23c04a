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

// Package xerrors holds the sentinel and typed error kinds the core
// data-plane propagates, per spec.md §7. Replaces the original's
// exceptions-for-control-flow with a sum type a retry loop can
// type-switch on (spec.md §9 redesign note).
package xerrors

import (
	"errors"
	"fmt"
)

// Sentinel errors. Use errors.Is to test for them; wrapped forms carry
// context via fmt.Errorf("...: %w", ...).
var (
	// ErrNotAvailable: checkout timed out, endpoint finished, or an
	// exclusive lock is held elsewhere.
	ErrNotAvailable = errors.New("not available")

	// ErrNotFound: document or metadata key does not exist.
	ErrNotFound = errors.New("not found")

	// ErrVersionConflict: caller-supplied version mismatches stored version.
	ErrVersionConflict = errors.New("version conflict")

	// ErrCorruptVolume: blob-storage header/footer/checksum mismatch.
	ErrCorruptVolume = errors.New("corrupt volume")

	// ErrStorageEOF: writable volume is full; caller should roll to the
	// next volume number and retry.
	ErrStorageEOF = errors.New("storage volume full")

	// ErrStorageNotFound: record exists but its delete flag is set.
	ErrStorageNotFound = errors.New("storage record deleted")

	// ErrSerialisation: value does not match its declared field type.
	ErrSerialisation = errors.New("serialisation error")

	// ErrQueryDSL: syntactic problem with the query object.
	ErrQueryDSL = errors.New("query dsl error")

	// ErrNoActiveShard: the multi-shard random liveness probe exhausted
	// its attempt budget without finding a live shard (spec.md §9 Open
	// Question 3). Returned only when Config.StrictActiveShardSelection
	// is set, which config.Default leaves off.
	ErrNoActiveShard = errors.New("no active shard found")
)

// Transient wraps a backend error the Shard retry loop should retry:
// opening-errors, network errors, and "database has been closed". It
// is never returned to a caller directly — after DB_RETRIES the Shard
// unwraps it and surfaces the underlying cause.
type Transient struct {
	Cause error
}

func (e *Transient) Error() string {
	return fmt.Sprintf("transient backend error: %v", e.Cause)
}

func (e *Transient) Unwrap() error {
	return e.Cause
}

// AsTransient reports whether err is (or wraps) a *Transient, returning
// the wrapped cause.
func AsTransient(err error) (*Transient, bool) {
	var t *Transient
	if errors.As(err, &t) {
		return t, true
	}
	return nil, false
}
