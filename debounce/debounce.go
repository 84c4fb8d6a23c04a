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

// Package debounce coalesces repeated per-key triggers (a shard
// getting written to over and over) into a single deferred call,
// bounded so a steady stream of writes can never starve the deferred
// work out forever (spec.md §4.5).
//
// The timing table is four durations per flavor:
//
//   - throttle:     once a debounced call fires, further triggers for
//     the same key are silently dropped until throttle elapses.
//   - debounce:     the first trigger of a burst schedules the call
//     this far in the future.
//   - debounceBusy: once a call is already scheduled, a further
//     trigger pulls it in to now+debounceBusy if that is sooner; it
//     never moves the call later, and never past...
//   - force:        ...the hard ceiling measured from the *first*
//     trigger in the current burst.
//
// This mirrors original_source/src/debouncer.h's Status/max_wakeup_time
// bookkeeping, with scheduler.Scheduler standing in for its stash-based
// timer cascade.
package debounce

import (
	"sync"
	"time"

	"github.com/Kronuz/xapiand-core/scheduler"
)

// Timing is one flavor's four-duration table (Committer uses
// Config.Commit*, AsyncFsync uses Config.Fsync*).
type Timing struct {
	Throttle     time.Duration
	Debounce     time.Duration
	DebounceBusy time.Duration
	Force        time.Duration
}

// status is the per-key bookkeeping kept while a call is pending or
// throttled.
type status struct {
	task          *scheduler.ScheduledTask
	maxWakeupTime time.Time // zero value marks a throttle-sentinel entry
	throttling    bool
}

// Debouncer coalesces calls to fn(key) so a burst of triggers for the
// same key produces exactly one eventual call, deferred by Timing and
// rate-limited by a post-fire throttle window.
type Debouncer[K comparable] struct {
	timing Timing
	sched  *scheduler.Scheduler
	fn     func(K)

	mu       sync.Mutex
	statuses map[K]*status
}

// New builds a Debouncer that invokes fn on sched whenever a key's
// debounce window elapses. sched is shared across debouncers the way
// a single dispatcher serves every endpoint in the original.
func New[K comparable](timing Timing, sched *scheduler.Scheduler, fn func(K)) *Debouncer[K] {
	return &Debouncer[K]{
		timing:   timing,
		sched:    sched,
		fn:       fn,
		statuses: make(map[K]*status),
	}
}

// Trigger registers activity for key, scheduling (or rescheduling) the
// eventual call to fn(key). Calls arriving while the post-fire
// throttle window is active are dropped.
func (d *Debouncer[K]) Trigger(key K) {
	now := time.Now()

	d.mu.Lock()
	defer d.mu.Unlock()

	st, ok := d.statuses[key]
	if ok && st.throttling {
		return
	}

	if ok && st.task != nil {
		// Already scheduled: only pull it earlier, toward
		// now+DebounceBusy, and never past the burst's max_wakeup_time.
		wanted := now.Add(d.timing.DebounceBusy)
		if wanted.After(st.maxWakeupTime) {
			wanted = st.maxWakeupTime
		}
		if !wanted.Before(st.task.WakeupTime) {
			return // existing schedule is already at least this soon
		}
		d.sched.Cancel(st.task)
		st.task = d.sched.Add(func() { d.fire(key) }, wanted)
		return
	}

	// First trigger of a new burst.
	maxWakeup := now.Add(d.timing.Force)
	wakeup := now.Add(d.timing.Debounce)
	if wakeup.After(maxWakeup) {
		wakeup = maxWakeup
	}
	st = &status{maxWakeupTime: maxWakeup}
	st.task = d.sched.Add(func() { d.fire(key) }, wakeup)
	d.statuses[key] = st
}

// fire invokes fn(key), clears the pending schedule, and — if
// Throttle is configured — installs a throttle-sentinel entry that
// suppresses further scheduling until it expires.
func (d *Debouncer[K]) fire(key K) {
	d.fn(key)

	d.mu.Lock()
	if d.timing.Throttle > 0 {
		st := &status{throttling: true}
		st.task = d.sched.Add(func() { d.release(key) }, time.Now().Add(d.timing.Throttle))
		d.statuses[key] = st
	} else {
		delete(d.statuses, key)
	}
	d.mu.Unlock()
}

// release clears key's throttle sentinel, allowing the next Trigger to
// start a fresh burst.
func (d *Debouncer[K]) release(key K) {
	d.mu.Lock()
	delete(d.statuses, key)
	d.mu.Unlock()
}

// Cancel drops key's pending schedule (if any) without firing it, and
// clears any active throttle. Used when an endpoint is being finished
// and any deferred work for it would be meaningless.
func (d *Debouncer[K]) Cancel(key K) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if st, ok := d.statuses[key]; ok {
		if st.task != nil {
			d.sched.Cancel(st.task)
		}
		delete(d.statuses, key)
	}
}

// Pending reports whether key currently has a scheduled-but-not-fired
// call (as opposed to being idle or merely throttled).
func (d *Debouncer[K]) Pending(key K) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	st, ok := d.statuses[key]
	return ok && !st.throttling
}
