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

// Package config holds the runtime knobs threaded through the pool,
// shards, debouncers and scheduler at construction time. Nothing here
// parses command-line flags or environment variables; that belongs to
// the (out of scope) CLI front-end.
package config

import (
	"time"

	units "github.com/docker/go-units"
)

// Config is constructed once at startup and passed by reference into
// Pool, Shard and the debouncer/scheduler engines.
type Config struct {
	// DatabasePoolSize caps the number of ShardEndpoints the Pool's LRU
	// keeps alive concurrently.
	DatabasePoolSize int

	// MaxDatabaseReaders caps the readable-shard set per ShardEndpoint.
	MaxDatabaseReaders int

	// DBRetries bounds the Shard retry loop on transient backend errors.
	DBRetries int

	// VolumeSoftCap is the soft size limit a Blob Storage / WAL volume
	// may grow to before writes fail with ErrStorageEOF and callers roll
	// to the next volume. Accepts docker/go-units style human sizes
	// ("2GiB") when loaded from text; the field itself is always bytes.
	VolumeSoftCap int64

	// InlineThreshold is the largest blob body (bytes) that storage_push_blobs
	// will inline rather than writing to the blob volume.
	InlineThreshold int

	// CacheMemoryBudget is a memory budget for the Pool's cache; no
	// component in this module reads it.
	CacheMemoryBudget int64

	// LocalDBUpdateInterval / RemoteDBUpdateInterval govern
	// ShardEndpoint's reopen-staleness policy (spec.md §4.3).
	LocalDBUpdateInterval  time.Duration
	RemoteDBUpdateInterval time.Duration

	// Committer / Async-Fsync debounce timings (spec.md §4.5).
	CommitThrottle     time.Duration
	CommitDebounce     time.Duration
	CommitDebounceBusy time.Duration
	CommitForce        time.Duration

	FsyncThrottle     time.Duration
	FsyncDebounce     time.Duration
	FsyncDebounceBusy time.Duration
	FsyncForce        time.Duration

	// PoolCleanupOverflowAge / PoolCleanupAge are the two ageing
	// thresholds DatabasePool.cleanup uses depending on whether the LRU
	// is over its soft cap (spec.md §4.4).
	PoolCleanupOverflowAge time.Duration
	PoolCleanupAge         time.Duration

	// StrictActiveShardSelection makes the multi-shard random-active-node
	// picker surface ErrNoActiveShard after exhausting its attempt budget
	// instead of silently falling back to the last attempted shard
	// (spec.md §9 Open Question 3; see DESIGN.md).
	StrictActiveShardSelection bool

	// ActiveShardAttempts bounds the random liveness-probing loop used
	// when routing a fresh document to a shard (spec.md §4.7).
	ActiveShardAttempts int
}

// Default returns the configuration the original implementation's
// constants correspond to (DB_RETRIES=10, LOCAL_DB_UPDATE_INTERVAL=10s,
// REMOTE_DB_UPDATE_INTERVAL=3s, debounce timers per spec.md §4.5 table).
func Default() *Config {
	return &Config{
		DatabasePoolSize:           1000,
		MaxDatabaseReaders:         4,
		DBRetries:                  10,
		VolumeSoftCap:              2 << 30, // 2GiB
		InlineThreshold:            8192,
		CacheMemoryBudget:          512 << 20, // 512MiB
		LocalDBUpdateInterval:      10 * time.Second,
		RemoteDBUpdateInterval:     3 * time.Second,
		CommitThrottle:             1000 * time.Millisecond,
		CommitDebounce:             100 * time.Millisecond,
		CommitDebounceBusy:         500 * time.Millisecond,
		CommitForce:                5000 * time.Millisecond,
		FsyncThrottle:              0,
		FsyncDebounce:              10 * time.Millisecond,
		FsyncDebounceBusy:          50 * time.Millisecond,
		FsyncForce:                 1000 * time.Millisecond,
		PoolCleanupOverflowAge:     60 * time.Second,
		PoolCleanupAge:             3600 * time.Second,
		StrictActiveShardSelection: false,
		ActiveShardAttempts:        10,
	}
}

// ParseSize parses a human-readable size ("2GiB", "512MB") the way an
// ops-facing knob would be written in a config file, returning bytes.
func ParseSize(s string) (int64, error) {
	return units.RAMInBytes(s)
}
