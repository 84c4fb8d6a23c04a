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

// Package pool implements the Database Pool (spec.md §4.4): an
// LRU-by-renew-time of Endpoint → shardendpoint.ShardEndpoint, built
// on top of NonLockingReadMap the way storage/cache.go's CacheManager
// sits on top of its own memory-budgeted item list — read (checkout)
// is the hot path, writes (spawning a brand new endpoint, or evicting
// one) are rare.
package pool

import (
	"sync"
	"sync/atomic"
	"time"

	nlrm "github.com/launix-de/NonLockingReadMap"

	"github.com/Kronuz/xapiand-core/config"
	"github.com/Kronuz/xapiand-core/shard"
	"github.com/Kronuz/xapiand-core/shardendpoint"
	"github.com/Kronuz/xapiand-core/xerrors"
)

// entry is the LRU item NonLockingReadMap stores. refCount and
// renewTime are mutated in place (the map gives us a stable pointer
// per key), so spawning/releasing never has to replace the map slot.
type entry struct {
	key       string
	se        *shardendpoint.ShardEndpoint
	refCount  int64
	renewTime int64 // UnixNano of the last Spawn/Release
}

// GetKey/ComputeSize use a value receiver (unlike touch/renewedAt
// below) because NonLockingReadMap's KeyGetter constraint is checked
// against entry itself, not *entry.
func (e entry) GetKey() string    { return e.key }
func (e entry) ComputeSize() uint { return 1 }

func (e *entry) touch() {
	atomic.StoreInt64(&e.renewTime, time.Now().UnixNano())
}

func (e *entry) renewedAt() time.Time {
	return time.Unix(0, atomic.LoadInt64(&e.renewTime))
}

// Opener builds the shardendpoint.Opener for a fresh endpoint: the
// caller supplies how an endpoint name maps to a backend path.
type Opener func(endpointName string) shardendpoint.Opener

// Handle is the reference-counted value Spawn hands back; Release
// must be called exactly once when the caller is done routing
// checkouts through it.
type Handle struct {
	*shardendpoint.ShardEndpoint
	release func()
}

// Release decrements the endpoint's reference count, making it
// eligible for Cleanup to reclaim once idle long enough.
func (h *Handle) Release() {
	h.release()
}

// Pool is the Database Pool (spec.md §4.4).
type Pool struct {
	cfg    *config.Config
	opener Opener

	endpoints nlrm.NonLockingReadMap[entry, string]

	mu       sync.Mutex
	finished bool
}

// New constructs a Pool whose endpoints are opened via opener.
func New(cfg *config.Config, opener Opener) *Pool {
	return &Pool{
		cfg:       cfg,
		opener:    opener,
		endpoints: nlrm.New[entry, string](),
	}
}

// Spawn returns a reference-counted handle to endpointName's
// ShardEndpoint, creating it on first use.
func (p *Pool) Spawn(endpointName string) (*Handle, error) {
	p.mu.Lock()
	finished := p.finished
	p.mu.Unlock()
	if finished {
		return nil, xerrors.ErrNotAvailable
	}

	e := p.endpoints.Get(endpointName)
	if e == nil {
		se := shardendpoint.New(p.cfg, p.opener(endpointName))
		fresh := &entry{key: endpointName, se: se}
		fresh.touch()
		if existing := p.endpoints.Set(fresh); existing != nil {
			e = existing // lost the race to create it; use the winner
		} else {
			e = fresh
		}
	}

	atomic.AddInt64(&e.refCount, 1)
	e.touch()

	var once sync.Once
	return &Handle{
		ShardEndpoint: e.se,
		release: func() {
			once.Do(func() {
				atomic.AddInt64(&e.refCount, -1)
				e.touch()
			})
		},
	}, nil
}

// Checkout is the fan-out convenience over Spawn+ShardEndpoint.Checkout:
// all-or-nothing across endpointNames — if any fails, every shard
// already acquired is checked back in before the error is returned.
func (p *Pool) Checkout(endpointNames []string, flags shardendpoint.Flags, deadline time.Time) ([]*shard.Shard, error) {
	shards := make([]*shard.Shard, 0, len(endpointNames))
	handles := make([]*Handle, 0, len(endpointNames))

	rollback := func() {
		for i, s := range shards {
			handles[i].Checkin(s, nil)
		}
		for _, h := range handles {
			h.Release()
		}
	}

	for _, name := range endpointNames {
		h, err := p.Spawn(name)
		if err != nil {
			rollback()
			return nil, err
		}
		handles = append(handles, h)

		s, err := h.Checkout(flags, deadline, nil)
		if err != nil {
			rollback()
			return nil, err
		}
		shards = append(shards, s)
	}

	return shards, nil
}

// Lock grants the caller exclusive access to endpointName: it sets the
// endpoint's locked flag (refusing new checkouts) and blocks until
// every handle other than the caller's own currently-held writable has
// drained, bounded by deadline (spec.md §4.4: the lock "does not drain
// the currently-held writable shard"). Callers are expected to already
// hold that writable via Checkout before calling Lock.
func (p *Pool) Lock(endpointName string, deadline time.Time) error {
	e := p.endpoints.Get(endpointName)
	if e == nil {
		return xerrors.ErrNotAvailable
	}
	e.se.SetLocked(true)

	for {
		if e.se.OthersBusyCount() == 0 {
			return nil
		}
		if !deadline.IsZero() && !time.Now().Before(deadline) {
			e.se.SetLocked(false)
			return xerrors.ErrNotAvailable
		}
		time.Sleep(time.Millisecond)
	}
}

// Unlock clears endpointName's exclusive lock, waking any readers
// blocked behind it.
func (p *Pool) Unlock(endpointName string) {
	if e := p.endpoints.Get(endpointName); e != nil {
		e.se.SetLocked(false)
	}
}

// Cleanup evicts endpoints that are both unreferenced and idle past
// the ageing threshold: PoolCleanupOverflowAge while the pool is over
// its soft cap (DatabasePoolSize), PoolCleanupAge otherwise. immediate
// bypasses the age check entirely for unreferenced endpoints.
func (p *Pool) Cleanup(immediate bool) {
	all := p.endpoints.GetAll()
	overCap := len(all) > p.cfg.DatabasePoolSize
	threshold := p.cfg.PoolCleanupAge
	if overCap {
		threshold = p.cfg.PoolCleanupOverflowAge
	}

	now := time.Now()
	for _, e := range all {
		if atomic.LoadInt64(&e.refCount) != 0 {
			continue
		}
		if !immediate && now.Sub(e.renewedAt()) < threshold {
			continue
		}
		e.se.Clear()
		p.endpoints.Remove(e.key)
	}
}

// StartCleanupLoop runs Cleanup(false) on interval until stop is
// closed, the way a production deployment would wire periodic ageing.
func (p *Pool) StartCleanupLoop(interval time.Duration, stop <-chan struct{}) {
	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				p.Cleanup(false)
			case <-stop:
				return
			}
		}
	}()
}

// Finish cascades Finish to every known endpoint and marks the pool
// itself closed to new Spawns.
func (p *Pool) Finish() {
	p.mu.Lock()
	p.finished = true
	p.mu.Unlock()

	for _, e := range p.endpoints.GetAll() {
		e.se.Finish()
	}
}

// Join blocks until every endpoint has been reclaimed (refCount zero
// and removed from the map) or deadline passes.
func (p *Pool) Join(deadline time.Time) error {
	for {
		all := p.endpoints.GetAll()
		if len(all) == 0 {
			return nil
		}
		p.Cleanup(true)
		if !deadline.IsZero() && !time.Now().Before(deadline) {
			return xerrors.ErrNotAvailable
		}
		time.Sleep(time.Millisecond)
	}
}
