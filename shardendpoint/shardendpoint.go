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

// Package shardendpoint is the per-endpoint mailbox and checkout queue
// sitting between the Database Pool and a set of shard.Shard handles
// (spec.md §4.3): it owns the single writable slot plus a growable
// readable set, staleness-checks readers before vending them, and
// tracks an exclusive-lock request the pool can place on it.
package shardendpoint

import (
	"sync"
	"time"

	"github.com/Kronuz/xapiand-core/config"
	"github.com/Kronuz/xapiand-core/shard"
	"github.com/Kronuz/xapiand-core/xerrors"
)

// handle wraps one shard.Shard with the checkout bookkeeping the
// endpoint needs: whether it's currently on loan, and when it was last
// reopened (for the staleness check).
type handle struct {
	s          *shard.Shard
	busy       bool
	writable   bool
	generation int64
}

// Flags selects which kind of shard checkout requests.
type Flags int

const (
	// Readable requests a (possibly shared, but exclusively-loaned)
	// reader from the growable readable set.
	Readable Flags = iota
	// Writable requests the single writable slot.
	Writable
)

// Opener builds a fresh shard.Shard, e.g. re-opening the same backend
// path. ShardEndpoint calls it both for growing the readable set and
// for replacing a stale shard.
type Opener func(writable bool) (*shard.Shard, error)

// ShardEndpoint is the per-endpoint mailbox spec.md §4.3 describes.
type ShardEndpoint struct {
	cfg    *config.Config
	opener Opener

	mu   sync.Mutex
	cond *sync.Cond

	writable  *handle
	readables []*handle
	maxReaders int

	localRevision uint64

	// generation is bumped by ForceStale when an out-of-band signal
	// (localwatch noticing a local replica has appeared where only a
	// remote shard was open) should make every outstanding readable
	// handle reopen on its next checkout, instead of waiting out
	// RemoteDBUpdateInterval.
	generation int64

	finished bool
	locked   bool // pool-requested exclusive lock: blocks new checkouts

	// lockedWritable snapshots se.writable at the moment SetLocked(true)
	// is called: spec.md §4.4's exclusive lock "does not drain the
	// currently-held writable shard (the locker is assumed to be that
	// holder)", so this one handle stays reusable across checkin/checkout
	// while locked; any other writable (none can be created while locked)
	// is refused.
	lockedWritable *handle

	deferred []func()
}

// New constructs an endpoint around opener, with a readable-set cap of
// cfg.MaxDatabaseReaders.
func New(cfg *config.Config, opener Opener) *ShardEndpoint {
	se := &ShardEndpoint{
		cfg:        cfg,
		opener:     opener,
		maxReaders: cfg.MaxDatabaseReaders,
	}
	se.cond = sync.NewCond(&se.mu)
	return se
}

// Checkout serves a Shard per Flags, blocking (respecting deadline)
// until one becomes available, the endpoint finishes, or the deadline
// passes. onFail, if non-nil, is queued when the checkout fails
// outright because the endpoint is already finished; the next Checkin
// runs it.
func (se *ShardEndpoint) Checkout(flags Flags, deadline time.Time, onFail func()) (*shard.Shard, error) {
	se.mu.Lock()
	defer se.mu.Unlock()

	for {
		if se.finished {
			if onFail != nil {
				se.deferred = append(se.deferred, onFail)
			}
			return nil, xerrors.ErrNotAvailable
		}

		if h, ok := se.tryAcquireLocked(flags); ok {
			if flags == Readable {
				if err := se.ensureFreshLocked(h); err != nil {
					h.busy = false
					return nil, err
				}
			}
			return h.s, nil
		}

		if flags == Readable && len(se.readables) < se.maxReaders && !se.locked {
			s, err := se.opener(false)
			if err != nil {
				return nil, &xerrors.Transient{Cause: err}
			}
			h := &handle{s: s, busy: true, generation: se.generation}
			se.readables = append(se.readables, h)
			return h.s, nil
		}

		if flags == Writable && se.writable == nil && !se.locked {
			s, err := se.opener(true)
			if err != nil {
				return nil, &xerrors.Transient{Cause: err}
			}
			h := &handle{s: s, busy: true, writable: true}
			se.writable = h
			return h.s, nil
		}

		if !deadline.IsZero() && !time.Now().Before(deadline) {
			return nil, xerrors.ErrNotAvailable
		}

		se.waitLocked(deadline)
		// Spurious (or deadline-bounded) wake: the loop's top re-checks
		// both availability and the deadline.
	}
}

// tryAcquireLocked attempts a CAS-style claim of an already-open,
// currently-free handle matching flags. Readable checkouts are refused
// while the endpoint is pool-locked; a writable checkout is refused too
// unless it is the grandfathered handle SetLocked(true) snapshotted as
// lockedWritable.
func (se *ShardEndpoint) tryAcquireLocked(flags Flags) (*handle, bool) {
	if flags == Writable {
		if se.writable != nil && !se.writable.busy {
			if se.locked && se.writable != se.lockedWritable {
				return nil, false
			}
			se.writable.busy = true
			return se.writable, true
		}
		return nil, false
	}

	if se.locked {
		return nil, false
	}
	for _, h := range se.readables {
		if !h.busy {
			h.busy = true
			return h, true
		}
	}
	return nil, false
}

// ensureFreshLocked applies the reopen-staleness policy (spec.md §4.4):
// local shards go stale after LocalDBUpdateInterval or a revision
// mismatch against the endpoint's tracked local_revision; remote
// shards go stale after RemoteDBUpdateInterval. A stale handle is
// replaced in place; the old *shard.Shard is simply dropped — any
// other holder of it keeps using it until they check it back in.
func (se *ShardEndpoint) ensureFreshLocked(h *handle) error {
	interval := se.cfg.RemoteDBUpdateInterval
	if h.s.Local {
		interval = se.cfg.LocalDBUpdateInterval
	}

	stale := time.Since(h.reopenTime()) >= interval
	if h.s.Local && h.s.LocalRevision() != se.localRevision {
		stale = true
	}
	if h.generation != se.generation {
		stale = true
	}
	if !stale {
		return nil
	}

	fresh, err := se.opener(false)
	if err != nil {
		return &xerrors.Transient{Cause: err}
	}
	h.s = fresh
	h.generation = se.generation
	return nil
}

// reopenTime exposes shard.Shard's private reopen timestamp through
// its exported Reopen-adjacent state; shard.Shard tracks it internally
// so the endpoint only needs LocalRevision() for the comparison above.
// Kept as a tiny helper so ensureFreshLocked reads uniformly.
func (h *handle) reopenTime() time.Time {
	return h.s.ReopenTime()
}

// Checkin returns s to its pool. If the endpoint is finished or the
// shard reports itself closed, the handle is dropped instead of being
// freed for reuse; a readable handle is also dropped while the
// endpoint is pool-locked, but the grandfathered writable handle
// (see lockedWritable) survives a lock so its holder can keep reusing
// it (spec.md §4.4).
func (se *ShardEndpoint) Checkin(s *shard.Shard, commit func(*shard.Shard)) {
	se.mu.Lock()

	deferred := se.deferred
	se.deferred = nil

	var drop bool
	var h *handle
	if se.writable != nil && se.writable.s == s {
		h = se.writable
	} else {
		for _, candidate := range se.readables {
			if candidate.s == s {
				h = candidate
				break
			}
		}
	}

	if h == nil {
		se.mu.Unlock()
		for _, fn := range deferred {
			fn()
		}
		return
	}

	if h.writable {
		drop = se.finished || s.Closed || (se.locked && h != se.lockedWritable)
	} else {
		drop = se.finished || se.locked || s.Closed
	}
	if drop {
		se.removeLocked(h)
	} else {
		h.busy = false
	}
	se.cond.Broadcast()
	se.mu.Unlock()

	for _, fn := range deferred {
		fn()
	}
	if !drop && h.writable && commit != nil {
		commit(s)
	}
}

func (se *ShardEndpoint) removeLocked(h *handle) {
	if se.writable == h {
		se.writable = nil
		return
	}
	for i, candidate := range se.readables {
		if candidate == h {
			se.readables = append(se.readables[:i], se.readables[i+1:]...)
			return
		}
	}
}

// Finish is sticky: once set, every blocked and future Checkout fails
// fast with ErrNotAvailable.
func (se *ShardEndpoint) Finish() {
	se.mu.Lock()
	se.finished = true
	se.cond.Broadcast()
	se.mu.Unlock()
}

// Finished reports whether Finish has been called.
func (se *ShardEndpoint) Finished() bool {
	se.mu.Lock()
	defer se.mu.Unlock()
	return se.finished
}

// Clear attempts to tear down every idle shard, reclaiming memory. A
// busy handle is left alone (whoever holds it will check it back in
// eventually); Clear reports how many handles remain afterward.
func (se *ShardEndpoint) Clear() (remaining int) {
	se.mu.Lock()
	defer se.mu.Unlock()

	if se.writable != nil {
		if !se.writable.busy {
			se.writable.s.Close()
			se.writable = nil
		} else {
			remaining++
		}
	}

	kept := se.readables[:0]
	for _, h := range se.readables {
		if h.busy {
			kept = append(kept, h)
			remaining++
			continue
		}
		h.s.Close()
	}
	se.readables = kept
	return remaining
}

// SetLocked toggles the pool-requested exclusive lock. While set, new
// readable and writable checkouts are refused and existing idle
// readables are dropped as they check in; the currently-held writable
// (if any) is snapshotted as lockedWritable and stays reusable by its
// holder across further checkin/checkout cycles (spec.md §4.4).
// Clearing the lock forgets the snapshot.
func (se *ShardEndpoint) SetLocked(locked bool) {
	se.mu.Lock()
	se.locked = locked
	se.lockedWritable = nil
	if locked && se.writable != nil && se.writable.busy {
		// Only a handle actually on loan right now counts as "the
		// locker's own" (spec.md §4.4): an idle writable at lock time
		// has no current holder to grandfather, so it stays refused
		// like any other acquisition until Unlock.
		se.lockedWritable = se.writable
	}
	se.cond.Broadcast()
	se.mu.Unlock()
}

// BusyCount reports how many handles (writable + readable) are
// currently checked out.
func (se *ShardEndpoint) BusyCount() int {
	se.mu.Lock()
	defer se.mu.Unlock()
	n := 0
	if se.writable != nil && se.writable.busy {
		n++
	}
	for _, h := range se.readables {
		if h.busy {
			n++
		}
	}
	return n
}

// OthersBusyCount is BusyCount excluding the grandfathered writable
// handle held by the lock requester itself — the count pool.Lock waits
// to reach zero, since spec.md §4.4's exclusive lock "does not drain
// the currently-held writable shard (the locker is assumed to be that
// holder)".
func (se *ShardEndpoint) OthersBusyCount() int {
	se.mu.Lock()
	defer se.mu.Unlock()
	n := 0
	if se.writable != nil && se.writable.busy && se.writable != se.lockedWritable {
		n++
	}
	for _, h := range se.readables {
		if h.busy {
			n++
		}
	}
	return n
}

// SetLocalRevision updates the revision the endpoint compares readable
// handles against for staleness (spec.md §4.4); called after every
// local writable commit.
func (se *ShardEndpoint) SetLocalRevision(rev uint64) {
	se.mu.Lock()
	se.localRevision = rev
	se.mu.Unlock()
}

// ForceStale bumps the endpoint's generation counter, making every
// outstanding readable handle reopen through the Opener on its next
// checkout regardless of RemoteDBUpdateInterval — the local-fallback
// short-circuit a localwatch.Watcher triggers the moment a local
// replica directory appears where only a remote shard was open
// (spec.md §4.2: "if a local copy exists ... it is used instead of
// the remote").
func (se *ShardEndpoint) ForceStale() {
	se.mu.Lock()
	se.generation++
	se.cond.Broadcast()
	se.mu.Unlock()
}

// waitLocked blocks on se.cond until broadcast by a checkin/finish/lock
// change, or until deadline passes (a deferred goroutine wakes it by
// broadcasting). Must be called with se.mu held; sync.Cond.Wait's usual
// contract re-acquires it before returning, so callers simply loop back
// to their own availability/deadline check.
func (se *ShardEndpoint) waitLocked(deadline time.Time) {
	if deadline.IsZero() {
		se.cond.Wait()
		return
	}
	timer := time.AfterFunc(time.Until(deadline), se.cond.Broadcast)
	se.cond.Wait()
	timer.Stop()
}
