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

package shardendpoint

import (
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/Kronuz/xapiand-core/blobstorage"
	"github.com/Kronuz/xapiand-core/config"
	"github.com/Kronuz/xapiand-core/shard"
	"github.com/Kronuz/xapiand-core/shard/memindex"
	"github.com/Kronuz/xapiand-core/wal"
)

func newTestOpener(t *testing.T, cfg *config.Config) Opener {
	t.Helper()
	dir := t.TempDir()
	backend := blobstorage.NewFileBackend(dir)
	id := uuid.New()
	return func(writable bool) (*shard.Shard, error) {
		index := memindex.New()
		w, err := wal.Open(backend, "wal.", 0)
		if err != nil {
			return nil, err
		}
		blobs, err := blobstorage.Open(backend, "blob.", id, 0, 0, false)
		if err != nil {
			return nil, err
		}
		opener := func() (shard.Backend, error) { return index, nil }
		return shard.New(cfg, opener, index, w, blobs, true, 0, 1), nil
	}
}

func TestCheckoutGrowsReadableSetUpToCap(t *testing.T) {
	cfg := config.Default()
	cfg.MaxDatabaseReaders = 2
	se := New(cfg, newTestOpener(t, cfg))

	s1, err := se.Checkout(Readable, time.Time{}, nil)
	if err != nil {
		t.Fatalf("Checkout 1: %v", err)
	}
	s2, err := se.Checkout(Readable, time.Time{}, nil)
	if err != nil {
		t.Fatalf("Checkout 2: %v", err)
	}
	if s1 == s2 {
		t.Fatalf("expected two distinct readable shards")
	}
	if got := se.BusyCount(); got != 2 {
		t.Fatalf("BusyCount = %d, want 2", got)
	}
}

func TestCheckoutBlocksUntilCheckinWhenAtCap(t *testing.T) {
	cfg := config.Default()
	cfg.MaxDatabaseReaders = 1
	se := New(cfg, newTestOpener(t, cfg))

	s1, err := se.Checkout(Readable, time.Time{}, nil)
	if err != nil {
		t.Fatalf("Checkout 1: %v", err)
	}

	done := make(chan *shard.Shard, 1)
	go func() {
		s, err := se.Checkout(Readable, time.Time{}, nil)
		if err != nil {
			t.Errorf("Checkout 2: %v", err)
		}
		done <- s
	}()

	time.Sleep(20 * time.Millisecond)
	select {
	case <-done:
		t.Fatalf("second checkout should still be blocked")
	default:
	}

	se.Checkin(s1, nil)

	select {
	case got := <-done:
		if got != s1 {
			t.Fatalf("expected the checked-in handle to be reused")
		}
	case <-time.After(time.Second):
		t.Fatalf("second checkout never unblocked")
	}
}

func TestCheckoutTimesOutWithDeadline(t *testing.T) {
	cfg := config.Default()
	cfg.MaxDatabaseReaders = 1
	se := New(cfg, newTestOpener(t, cfg))

	if _, err := se.Checkout(Readable, time.Time{}, nil); err != nil {
		t.Fatalf("Checkout 1: %v", err)
	}

	start := time.Now()
	_, err := se.Checkout(Readable, start.Add(30*time.Millisecond), nil)
	if err == nil {
		t.Fatalf("expected a timeout error")
	}
	if elapsed := time.Since(start); elapsed < 20*time.Millisecond {
		t.Fatalf("returned too quickly: %v", elapsed)
	}
}

func TestFinishFailsBlockedAndFutureCheckouts(t *testing.T) {
	cfg := config.Default()
	se := New(cfg, newTestOpener(t, cfg))

	se.Finish()
	if _, err := se.Checkout(Readable, time.Time{}, nil); err == nil {
		t.Fatalf("expected checkout to fail after Finish")
	}
	if !se.Finished() {
		t.Fatalf("expected Finished() to report true")
	}
}

func TestClearDropsIdleButKeepsBusyHandles(t *testing.T) {
	cfg := config.Default()
	cfg.MaxDatabaseReaders = 2
	se := New(cfg, newTestOpener(t, cfg))

	s1, err := se.Checkout(Readable, time.Time{}, nil)
	if err != nil {
		t.Fatalf("Checkout 1: %v", err)
	}
	_, err = se.Checkout(Readable, time.Time{}, nil)
	if err != nil {
		t.Fatalf("Checkout 2: %v", err)
	}
	se.Checkin(s1, nil)

	remaining := se.Clear()
	if remaining != 1 {
		t.Fatalf("remaining = %d, want 1 (one still checked out)", remaining)
	}
}

func TestWritableCheckoutIsExclusive(t *testing.T) {
	cfg := config.Default()
	se := New(cfg, newTestOpener(t, cfg))

	w, err := se.Checkout(Writable, time.Time{}, nil)
	if err != nil {
		t.Fatalf("Checkout writable: %v", err)
	}

	deadline := time.Now().Add(30 * time.Millisecond)
	_, err = se.Checkout(Writable, deadline, nil)
	if err == nil {
		t.Fatalf("expected the second writable checkout to time out while the first is held")
	}

	committed := false
	se.Checkin(w, func(*shard.Shard) { committed = true })
	if !committed {
		t.Fatalf("expected Checkin to invoke the commit callback for a writable handle")
	}
}

func TestSetLockedBlocksNewWritableCheckoutsUntilUnlocked(t *testing.T) {
	cfg := config.Default()
	se := New(cfg, newTestOpener(t, cfg))

	w, err := se.Checkout(Writable, time.Time{}, nil)
	if err != nil {
		t.Fatalf("Checkout writable: %v", err)
	}
	se.Checkin(w, nil)

	se.SetLocked(true)

	const concurrent = 10
	errs := make(chan error, concurrent)
	for i := 0; i < concurrent; i++ {
		go func() {
			deadline := time.Now().Add(50 * time.Millisecond)
			_, err := se.Checkout(Writable, deadline, nil)
			errs <- err
		}()
	}
	for i := 0; i < concurrent; i++ {
		if err := <-errs; err == nil {
			t.Fatalf("expected writable checkout to fail while the endpoint is locked")
		}
	}

	se.SetLocked(false)
	if _, err := se.Checkout(Writable, time.Now().Add(time.Second), nil); err != nil {
		t.Fatalf("Checkout writable after Unlock: %v", err)
	}
}

func TestSetLockedLeavesTheHeldWritableHandleReusable(t *testing.T) {
	cfg := config.Default()
	se := New(cfg, newTestOpener(t, cfg))

	w, err := se.Checkout(Writable, time.Time{}, nil)
	if err != nil {
		t.Fatalf("Checkout writable: %v", err)
	}

	se.SetLocked(true)
	se.Checkin(w, nil)

	second, err := se.Checkout(Writable, time.Now().Add(time.Second), nil)
	if err != nil {
		t.Fatalf("expected the locker's own writable to stay reusable while locked: %v", err)
	}
	if second != w {
		t.Fatalf("expected the grandfathered handle to be reused, got a different shard")
	}
}

func TestForceStaleReopensReadableHandleOnNextCheckout(t *testing.T) {
	cfg := config.Default()
	cfg.RemoteDBUpdateInterval = time.Hour // would not go stale on its own during this test
	se := New(cfg, newTestOpener(t, cfg))

	first, err := se.Checkout(Readable, time.Time{}, nil)
	if err != nil {
		t.Fatalf("Checkout 1: %v", err)
	}
	se.Checkin(first, nil)

	se.ForceStale()

	second, err := se.Checkout(Readable, time.Time{}, nil)
	if err != nil {
		t.Fatalf("Checkout 2: %v", err)
	}
	if first == second {
		t.Fatalf("expected ForceStale to cause a reopen, got the same shard back")
	}
}
