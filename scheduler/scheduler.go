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

// Package scheduler is a time-ordered queue dispensing ScheduledTasks
// to a worker pool (spec.md §4.6). The original's StashSlots is a
// lock-free cascade of power-of-two time buckets; here the same
// peep/walk/clean vocabulary sits on top of an ordered google/btree
// index keyed by wakeup time, the idiomatic Go substitute for a
// manually bucketed time wheel (see DESIGN.md).
package scheduler

import (
	"fmt"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/btree"
)

// Task is anything a ScheduledTask can run.
type Task func()

// ScheduledTask is one entry in the scheduler's queue. Cleared is a
// CAS-guarded flag: walk() claims a task by flipping it from 0 to 1,
// so a task already being dispatched can never fire twice even if it
// is observed by both peep and a racing walk.
type ScheduledTask struct {
	WakeupTime time.Time
	task       Task
	seq        uint64
	cleared    int32
}

// Clear marks t as consumed, reporting whether this call was the one
// that made the transition (false if another goroutine got there
// first).
func (t *ScheduledTask) Clear() bool {
	return atomic.CompareAndSwapInt32(&t.cleared, 0, 1)
}

// Cleared reports whether the task has already been claimed.
func (t *ScheduledTask) Cleared() bool {
	return atomic.LoadInt32(&t.cleared) != 0
}

func less(a, b *ScheduledTask) bool {
	if a.WakeupTime.Equal(b.WakeupTime) {
		return a.seq < b.seq
	}
	return a.WakeupTime.Before(b.WakeupTime)
}

// Scheduler is the time-ordered queue plus dispatcher loop. A
// Scheduler with zero workers runs tasks inline on the dispatcher
// goroutine (the "non-threaded flavor" spec.md §4.6 mentions);
// otherwise tasks are hande off to a fixed worker pool.
type Scheduler struct {
	mu   sync.Mutex
	tree *btree.BTreeG[*ScheduledTask]
	seq  uint64

	work   chan Task
	notify chan struct{}
	stop   chan struct{}
	wg     sync.WaitGroup

	stopOnce sync.Once
	stopped  bool
}

// New starts a Scheduler with numWorkers background workers (0 means
// run every due task inline on the dispatcher goroutine).
func New(numWorkers int) *Scheduler {
	s := &Scheduler{
		tree:   btree.NewG(32, less),
		notify: make(chan struct{}, 1),
		stop:   make(chan struct{}),
	}
	if numWorkers > 0 {
		s.work = make(chan Task)
		for i := 0; i < numWorkers; i++ {
			s.wg.Add(1)
			go s.worker()
		}
	}
	s.wg.Add(1)
	go s.run()
	return s
}

func (s *Scheduler) worker() {
	defer s.wg.Done()
	for task := range s.work {
		runTask(task)
	}
}

func runTask(task Task) {
	defer func() {
		if r := recover(); r != nil {
			fmt.Printf("scheduler: task panic: %v\n", r)
			debug.PrintStack()
		}
	}()
	task()
}

// Add slots a task at wakeup, nudging the dispatcher if this is now
// the earliest pending wakeup.
func (s *Scheduler) Add(task Task, wakeup time.Time) *ScheduledTask {
	s.mu.Lock()
	s.seq++
	st := &ScheduledTask{WakeupTime: wakeup, task: task, seq: s.seq}
	s.tree.ReplaceOrInsert(st)
	earliest, _ := s.tree.Min()
	s.mu.Unlock()

	if earliest == st {
		s.signal()
	}
	return st
}

func (s *Scheduler) signal() {
	select {
	case s.notify <- struct{}{}:
	default:
	}
}

// peep returns the earliest task whose wakeup is ≤ deadline, without
// removing it.
func (s *Scheduler) peep(deadline time.Time) (*ScheduledTask, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tree.Min()
	if !ok || t.WakeupTime.After(deadline) {
		return nil, false
	}
	return t, true
}

// walk removes and returns the earliest due task (wakeup ≤ now), or
// reports false if nothing is due yet. Already-cleared tasks (double
// delivery guarded against) are skipped and dropped.
func (s *Scheduler) walk() (*ScheduledTask, bool) {
	now := time.Now()
	for {
		s.mu.Lock()
		t, ok := s.tree.Min()
		if !ok || t.WakeupTime.After(now) {
			s.mu.Unlock()
			return nil, false
		}
		s.tree.Delete(t)
		s.mu.Unlock()

		if t.Clear() {
			return t, true
		}
		// Already claimed by a racing Cancel; keep looking.
	}
}

// Cancel marks task cleared and removes it from the queue if it is
// still pending. Reports whether it was this call that prevented the
// task from ever firing.
func (s *Scheduler) Cancel(task *ScheduledTask) bool {
	claimed := task.Clear()
	if claimed {
		s.mu.Lock()
		s.tree.Delete(task)
		s.mu.Unlock()
	}
	return claimed
}

// Clean drops any tree entries that were claimed (cleared) without
// having gone through walk/Cancel's removal path — defensive
// bookkeeping; in the steady state this is a no-op since both walk
// and Cancel already delete on claim.
func (s *Scheduler) Clean() {
	s.mu.Lock()
	defer s.mu.Unlock()
	var stale []*ScheduledTask
	s.tree.Ascend(func(t *ScheduledTask) bool {
		if t.Cleared() {
			stale = append(stale, t)
		}
		return true
	})
	for _, t := range stale {
		s.tree.Delete(t)
	}
}

// run is the dispatcher loop: peep the nearest due time, sleep until
// it or a notify, then walk every due task to the worker pool.
func (s *Scheduler) run() {
	defer s.wg.Done()
	for {
		next, ok := s.peep(farFuture())
		var timer <-chan time.Time
		if ok {
			d := time.Until(next.WakeupTime)
			if d < 0 {
				d = 0
			}
			timer = time.After(d)
		}

		select {
		case <-s.stop:
			return
		case <-s.notify:
			continue
		case <-timerOrNever(timer):
			for {
				t, ok := s.walk()
				if !ok {
					break
				}
				s.dispatch(t.task)
			}
		}
	}
}

func (s *Scheduler) dispatch(task Task) {
	if s.work == nil {
		runTask(task)
		return
	}
	select {
	case s.work <- task:
	case <-s.stop:
	}
}

// Stop drains the dispatcher and every worker, blocking until both
// have exited.
func (s *Scheduler) Stop() {
	s.stopOnce.Do(func() {
		s.mu.Lock()
		s.stopped = true
		s.mu.Unlock()
		close(s.stop)
		if s.work != nil {
			close(s.work)
		}
	})
	s.wg.Wait()
}

func farFuture() time.Time {
	return time.Now().Add(365 * 24 * time.Hour)
}

// timerOrNever returns ch if non-nil, or a channel that never fires —
// select treats a nil channel case as permanently blocked, which is
// exactly "wait only on stop/notify" when nothing is queued.
func timerOrNever(ch <-chan time.Time) <-chan time.Time {
	return ch
}
