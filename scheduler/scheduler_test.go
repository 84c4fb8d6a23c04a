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

package scheduler

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestAddFiresTaskAtWakeup(t *testing.T) {
	s := New(0)
	defer s.Stop()

	done := make(chan struct{})
	s.Add(func() { close(done) }, time.Now().Add(10*time.Millisecond))

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatalf("task never fired")
	}
}

func TestTasksFireInWakeupOrder(t *testing.T) {
	s := New(0)
	defer s.Stop()

	var mu sync.Mutex
	var order []int
	record := func(n int) func() {
		return func() {
			mu.Lock()
			order = append(order, n)
			mu.Unlock()
		}
	}

	now := time.Now()
	s.Add(record(3), now.Add(30*time.Millisecond))
	s.Add(record(1), now.Add(10*time.Millisecond))
	s.Add(record(2), now.Add(20*time.Millisecond))

	time.Sleep(100 * time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	if len(order) != 3 {
		t.Fatalf("order = %v, want 3 entries", order)
	}
	if order[0] != 1 || order[1] != 2 || order[2] != 3 {
		t.Fatalf("order = %v, want [1 2 3]", order)
	}
}

func TestCancelPreventsFiring(t *testing.T) {
	s := New(0)
	defer s.Stop()

	var fired int32
	st := s.Add(func() { atomic.StoreInt32(&fired, 1) }, time.Now().Add(30*time.Millisecond))

	if !s.Cancel(st) {
		t.Fatalf("expected Cancel to claim the task")
	}
	if s.Cancel(st) {
		t.Fatalf("expected the second Cancel to report false")
	}

	time.Sleep(60 * time.Millisecond)
	if atomic.LoadInt32(&fired) != 0 {
		t.Fatalf("cancelled task fired anyway")
	}
}

func TestWorkerPoolDispatchesOffDispatcherGoroutine(t *testing.T) {
	s := New(2)
	defer s.Stop()

	done := make(chan struct{})
	s.Add(func() { close(done) }, time.Now())

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatalf("task never fired through worker pool")
	}
}

func TestPanicInTaskDoesNotKillDispatcher(t *testing.T) {
	s := New(0)
	defer s.Stop()

	s.Add(func() { panic("boom") }, time.Now())

	done := make(chan struct{})
	s.Add(func() { close(done) }, time.Now().Add(10*time.Millisecond))

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatalf("dispatcher appears to have died after a panicking task")
	}
}

func TestStopDrainsWorkersAndDispatcher(t *testing.T) {
	s := New(2)
	s.Add(func() {}, time.Now())
	time.Sleep(10 * time.Millisecond)
	s.Stop()
	// A second Stop must not hang or panic (sync.Once-guarded close).
	s.Stop()
}
