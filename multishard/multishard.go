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

// Package multishard presents N independently pooled shards as one
// logical index (spec.md §4.7): document ids are routed by the
// did-mod-N scheme shard.SplitGlobalID/JoinGlobalID compute, term-keyed
// writes route by a hash of the term, and metadata/spelling mutations
// broadcast to every shard.
package multishard

import (
	"fmt"
	"hash/fnv"
	"math/rand"
	"sort"
	"sync"
	"time"

	"github.com/Kronuz/xapiand-core/config"
	"github.com/Kronuz/xapiand-core/debounce"
	"github.com/Kronuz/xapiand-core/pool"
	"github.com/Kronuz/xapiand-core/scheduler"
	"github.com/Kronuz/xapiand-core/shard"
	"github.com/Kronuz/xapiand-core/shardendpoint"
	"github.com/Kronuz/xapiand-core/xerrors"
)

// Router is the multi-shard database (spec.md §4.7): an index name, a
// shard count, and the Pool every shard's ShardEndpoint is spawned
// from. Every write routes through one of N per-shard endpoints named
// "<index>.<shard number>"; committer and asyncFsync debounce the
// backend commit and the blob fsync that follow a write, each on its
// own Config-driven timing table (spec.md §4.5), keyed by endpoint
// name. The original keys its debouncer by a weak_ptr<Shard> so a
// finished/replaced shard is simply never committed again; Go has no
// weak pointer, so fireCommit/fireFsync instead re-checkout the
// endpoint by name when the debounce fires and commit whatever shard
// is current at that moment — functionally equivalent, since a stale
// or closed shard either no longer exists as an endpoint or has
// nothing Modified to commit.
type Router struct {
	cfg   *config.Config
	pool  *pool.Pool
	index string
	n     uint64

	committer  *debounce.Debouncer[string]
	asyncFsync *debounce.Debouncer[string]
}

// New constructs a Router over index's n shards, each addressed in the
// pool as "<index>.<shard number>". sched runs both debounce flavors'
// deferred commit/fsync calls.
func New(cfg *config.Config, p *pool.Pool, index string, n uint64, sched *scheduler.Scheduler) *Router {
	if n == 0 {
		n = 1
	}
	r := &Router{cfg: cfg, pool: p, index: index, n: n}
	r.committer = debounce.New(debounce.Timing{
		Throttle:     cfg.CommitThrottle,
		Debounce:     cfg.CommitDebounce,
		DebounceBusy: cfg.CommitDebounceBusy,
		Force:        cfg.CommitForce,
	}, sched, r.fireCommit)
	r.asyncFsync = debounce.New(debounce.Timing{
		Throttle:     cfg.FsyncThrottle,
		Debounce:     cfg.FsyncDebounce,
		DebounceBusy: cfg.FsyncDebounceBusy,
		Force:        cfg.FsyncForce,
	}, sched, r.fireFsync)
	return r
}

// fireCommit is the Committer flavor's deferred call: it re-checks-out
// endpointName's writable slot and commits whatever shard is current,
// notifying cluster listeners and writing a WAL commit record.
func (r *Router) fireCommit(endpointName string) {
	h, err := r.pool.Spawn(endpointName)
	if err != nil {
		return
	}
	defer h.Release()
	s, err := h.Checkout(shardendpoint.Writable, time.Time{}, nil)
	if err != nil {
		return
	}
	_ = s.Commit(true, true)
	h.Checkin(s, nil)
}

// fireFsync is the Async-Fsync flavor's deferred call: it flushes
// pending blob writes without touching the backend index.
func (r *Router) fireFsync(endpointName string) {
	h, err := r.pool.Spawn(endpointName)
	if err != nil {
		return
	}
	defer h.Release()
	s, err := h.Checkout(shardendpoint.Writable, time.Time{}, nil)
	if err != nil {
		return
	}
	_ = s.FsyncBlobs()
	h.Checkin(s, nil)
}

// debounceWrite schedules endpointName's deferred commit and blob
// fsync after a successful write (spec.md §4.3 "for writable shards an
// auto-commit is debounced").
func (r *Router) debounceWrite(shardNumber uint64) {
	name := r.endpointName(shardNumber)
	r.committer.Trigger(name)
	r.asyncFsync.Trigger(name)
}

// ShardCount returns N.
func (r *Router) ShardCount() uint64 { return r.n }

func (r *Router) endpointName(shardNumber uint64) string {
	return fmt.Sprintf("%s.%d", r.index, shardNumber)
}

func hashMod(term string, n uint64) uint64 {
	h := fnv.New64a()
	_, _ = h.Write([]byte(term))
	return h.Sum64() % n
}

// checkout is the single-shard fan-in every routing method below funds
// through: spawn the endpoint's handle, check out a shard per flags,
// and hand back a release closure that checks in then releases.
func (r *Router) checkout(shardNumber uint64, flags shardendpoint.Flags, deadline time.Time) (*shard.Shard, func(commit func(*shard.Shard)), error) {
	h, err := r.pool.Spawn(r.endpointName(shardNumber))
	if err != nil {
		return nil, nil, err
	}
	s, err := h.Checkout(flags, deadline, nil)
	if err != nil {
		h.Release()
		return nil, nil, err
	}
	release := func(commit func(*shard.Shard)) {
		h.Checkin(s, commit)
		h.Release()
	}
	return s, release, nil
}

// pickActive implements the node-liveness probe spec.md §4.7 describes:
// up to cfg.ActiveShardAttempts random shard picks, each confirmed live
// by actually checking out its writable slot. The last attempt's
// result is returned once the budget is exhausted — as an error when
// Config.StrictActiveShardSelection is set (spec.md §9 Open Question
// 4), or unconditionally (success or failure) to match the original's
// silent fallback otherwise.
func (r *Router) pickActive(deadline time.Time) (shardNumber uint64, s *shard.Shard, release func(func(*shard.Shard)), err error) {
	attempts := r.cfg.ActiveShardAttempts
	if attempts <= 0 {
		attempts = 1
	}

	for i := 0; i < attempts; i++ {
		shardNumber = rand.Uint64() % r.n
		s, release, err = r.checkout(shardNumber, shardendpoint.Writable, deadline)
		if err == nil {
			return shardNumber, s, release, nil
		}
		if i == attempts-1 && r.cfg.StrictActiveShardSelection {
			return 0, nil, nil, xerrors.ErrNoActiveShard
		}
	}
	// Legacy fallback: surface whatever the last attempt produced.
	return shardNumber, s, release, err
}

// AddDocument chooses a random active shard, adds doc to it, and
// returns the computed global id (spec.md §4.7 add_document).
func (r *Router) AddDocument(doc shard.Document, writeWAL bool, deadline time.Time) (globalID uint64, err error) {
	shardNumber, s, release, err := r.pickActive(deadline)
	if err != nil {
		return 0, err
	}
	defer release(nil)

	localDID, err := s.AddDocument(doc, writeWAL)
	if err != nil {
		return 0, err
	}
	r.debounceWrite(shardNumber)
	return shard.JoinGlobalID(localDID, shardNumber, r.n), nil
}

// ReplaceDocument routes by shard = (did-1) mod N (spec.md §4.7
// replace_document(global_did)).
func (r *Router) ReplaceDocument(globalDID uint64, doc shard.Document, expectedVersion *uint64, writeWAL bool, deadline time.Time) error {
	shardDID, shardNumber := shard.SplitGlobalID(globalDID, r.n)
	s, release, err := r.checkout(shardNumber, shardendpoint.Writable, deadline)
	if err != nil {
		return err
	}
	defer release(nil)
	if err := s.ReplaceDocument(shardDID, doc, expectedVersion, writeWAL); err != nil {
		return err
	}
	r.debounceWrite(shardNumber)
	return nil
}

// ReplaceDocumentByMultiShardID implements replace_document_term("QN"+
// serialised_did): did != 0 routes like ReplaceDocument; did == 0 (the
// sentinel) picks an active shard, tags doc with a shards-hint value,
// and lets that shard mint a fresh local id which is then translated
// to a global id (spec.md §4.7).
func (r *Router) ReplaceDocumentByMultiShardID(did uint64, doc shard.Document, expectedVersion *uint64, writeWAL bool, deadline time.Time) (globalID uint64, err error) {
	if did != 0 {
		if err := r.ReplaceDocument(did, doc, expectedVersion, writeWAL, deadline); err != nil {
			return 0, err
		}
		return did, nil
	}

	shardNumber, s, release, err := r.pickActive(deadline)
	if err != nil {
		return 0, err
	}
	defer release(nil)

	if doc.Values == nil {
		doc.Values = make(map[int]string)
	}
	doc.Values[shard.ShardsHintSlot] = fmt.Sprintf("%d:%d", shardNumber, r.n)

	localDID, err := s.AddDocument(doc, writeWAL)
	if err != nil {
		return 0, err
	}
	r.debounceWrite(shardNumber)
	return shard.JoinGlobalID(localDID, shardNumber, r.n), nil
}

// ReplaceDocumentByTerm routes a non-multi-shard-id term write by
// hash(term) mod N, translating the resulting local id back to a
// global id (spec.md §4.7 replace_document_term(other)).
func (r *Router) ReplaceDocumentByTerm(term string, doc shard.Document, expectedVersion *uint64, writeWAL bool, deadline time.Time) (globalID uint64, err error) {
	shardNumber := hashMod(term, r.n)
	s, release, err := r.checkout(shardNumber, shardendpoint.Writable, deadline)
	if err != nil {
		return 0, err
	}
	defer release(nil)

	localDID, err := s.ReplaceDocumentByTerm(term, doc, expectedVersion, writeWAL)
	if err != nil {
		return 0, err
	}
	r.debounceWrite(shardNumber)
	return shard.JoinGlobalID(localDID, shardNumber, r.n), nil
}

// DeleteDocumentByTerm routes by hash(term) mod N (spec.md §4.7
// "delete by term").
func (r *Router) DeleteDocumentByTerm(term string, writeWAL bool, deadline time.Time) error {
	shardNumber := hashMod(term, r.n)
	s, release, err := r.checkout(shardNumber, shardendpoint.Writable, deadline)
	if err != nil {
		return err
	}
	defer release(nil)
	if err := s.DeleteDocumentByTerm(term, writeWAL); err != nil {
		return err
	}
	r.debounceWrite(shardNumber)
	return nil
}

// GetDocument routes by shard = (did-1) mod N (spec.md §4.7
// get_document(global_did)).
func (r *Router) GetDocument(globalDID uint64, deadline time.Time) (shard.Document, error) {
	shardDID, shardNumber := shard.SplitGlobalID(globalDID, r.n)
	s, release, err := r.checkout(shardNumber, shardendpoint.Readable, deadline)
	if err != nil {
		return shard.Document{}, err
	}
	defer release(nil)
	return s.GetDocument(shardDID)
}

// broadcastResult is the per-shard outcome a fan-out broadcast
// collects before deciding whether the whole operation tolerated its
// partial failures.
type broadcastResult struct {
	err error
}

// broadcast runs fn against every shard concurrently and reports
// success if at least one shard succeeded (spec.md §4.7's broadcast
// row); otherwise it returns the last error observed.
func (r *Router) broadcast(flags shardendpoint.Flags, deadline time.Time, fn func(*shard.Shard) error) error {
	results := make([]broadcastResult, r.n)
	var wg sync.WaitGroup
	for i := uint64(0); i < r.n; i++ {
		wg.Add(1)
		go func(shardNumber uint64) {
			defer wg.Done()
			s, release, err := r.checkout(shardNumber, flags, deadline)
			if err != nil {
				results[shardNumber] = broadcastResult{err: err}
				return
			}
			defer release(nil)
			err = fn(s)
			results[shardNumber] = broadcastResult{err: err}
			if err == nil && flags == shardendpoint.Writable {
				r.debounceWrite(shardNumber)
			}
		}(i)
	}
	wg.Wait()

	var last error
	valid := 0
	for _, res := range results {
		if res.err == nil {
			valid++
		} else {
			last = res.err
		}
	}
	if valid == 0 {
		return last
	}
	return nil
}

// SetMetadata broadcasts to every shard, tolerating partial failure
// (spec.md §4.7 set_metadata).
func (r *Router) SetMetadata(key string, value []byte, writeWAL bool, deadline time.Time) error {
	return r.broadcast(shardendpoint.Writable, deadline, func(s *shard.Shard) error {
		return s.SetMetadata(key, value, writeWAL)
	})
}

// AddSpelling / RemoveSpelling broadcast to every shard, tolerating
// partial failure.
func (r *Router) AddSpelling(word string, freqInc int, writeWAL bool, deadline time.Time) error {
	return r.broadcast(shardendpoint.Writable, deadline, func(s *shard.Shard) error {
		return s.AddSpelling(word, freqInc, writeWAL)
	})
}

func (r *Router) RemoveSpelling(word string, freqDec int, writeWAL bool, deadline time.Time) error {
	return r.broadcast(shardendpoint.Writable, deadline, func(s *shard.Shard) error {
		return s.RemoveSpelling(word, freqDec, writeWAL)
	})
}

// GetMetadata broadcasts a read to every shard and returns the first
// non-empty value found (spec.md §4.7 get_metadata); if every shard
// fails, the last error is returned.
func (r *Router) GetMetadata(key string, deadline time.Time) ([]byte, error) {
	var mu sync.Mutex
	var value []byte
	var found bool
	err := r.broadcast(shardendpoint.Readable, deadline, func(s *shard.Shard) error {
		v, getErr := s.GetMetadata(key)
		if getErr != nil {
			return getErr
		}
		mu.Lock()
		if !found {
			value, found = v, true
		}
		mu.Unlock()
		return nil
	})
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, xerrors.ErrNotFound
	}
	return value, nil
}

// GetMetadataKeys unions every shard's metadata key set (spec.md §4.7
// get_metadata_keys).
func (r *Router) GetMetadataKeys(deadline time.Time) ([]string, error) {
	var mu sync.Mutex
	seen := make(map[string]struct{})
	err := r.broadcast(shardendpoint.Readable, deadline, func(s *shard.Shard) error {
		keys, getErr := s.GetMetadataKeys()
		if getErr != nil {
			return getErr
		}
		mu.Lock()
		for _, k := range keys {
			seen[k] = struct{}{}
		}
		mu.Unlock()
		return nil
	})
	if err != nil {
		return nil, err
	}
	out := make([]string, 0, len(seen))
	for k := range seen {
		out = append(out, k)
	}
	sort.Strings(out)
	return out, nil
}

// SearchHit is one result row a per-shard search callback contributes;
// Search translates its LocalDID to a global id and merges by Score.
type SearchHit struct {
	LocalDID uint64
	Score    float64
	Data     []byte
}

// MergedHit is a SearchHit translated into the caller-facing global-id
// space.
type MergedHit struct {
	GlobalID uint64
	Score    float64
	Data     []byte
}

// SearchFunc executes a compiled query against one open shard. The
// actual query compilation is querydsl's job (spec.md §4.8); Search
// here only owns the fan-out/exclusion/merge policy spec.md §4.7's
// search row describes.
type SearchFunc func(s *shard.Shard) ([]SearchHit, error)

// Search opens every shard readable, runs fn against each, and merges
// the results by descending score. A shard whose checkout or fn call
// fails is excluded from the merge rather than failing the whole
// search — unless every shard failed, in which case the last error is
// returned (spec.md §4.7 "treat a shard open failure as exclusion only
// if at least one shard succeeded").
func (r *Router) Search(fn SearchFunc, deadline time.Time) ([]MergedHit, error) {
	type shardHits struct {
		shardNumber uint64
		hits        []SearchHit
	}
	all := make([]shardHits, r.n)
	var wg sync.WaitGroup
	errs := make([]error, r.n)

	for i := uint64(0); i < r.n; i++ {
		wg.Add(1)
		go func(shardNumber uint64) {
			defer wg.Done()
			s, release, err := r.checkout(shardNumber, shardendpoint.Readable, deadline)
			if err != nil {
				errs[shardNumber] = err
				return
			}
			defer release(nil)
			hits, err := fn(s)
			if err != nil {
				errs[shardNumber] = err
				return
			}
			all[shardNumber] = shardHits{shardNumber: shardNumber, hits: hits}
		}(i)
	}
	wg.Wait()

	var merged []MergedHit
	succeeded := false
	var lastErr error
	for i, sh := range all {
		if errs[i] != nil {
			lastErr = errs[i]
			continue
		}
		succeeded = true
		for _, h := range sh.hits {
			merged = append(merged, MergedHit{
				GlobalID: shard.JoinGlobalID(h.LocalDID, uint64(i), r.n),
				Score:    h.Score,
				Data:     h.Data,
			})
		}
	}
	if !succeeded {
		return nil, lastErr
	}

	sort.Slice(merged, func(i, j int) bool { return merged[i].Score > merged[j].Score })
	return merged, nil
}
