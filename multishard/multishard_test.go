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

package multishard

import (
	"os"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/Kronuz/xapiand-core/blobstorage"
	"github.com/Kronuz/xapiand-core/config"
	"github.com/Kronuz/xapiand-core/pool"
	"github.com/Kronuz/xapiand-core/scheduler"
	"github.com/Kronuz/xapiand-core/shard"
	"github.com/Kronuz/xapiand-core/shard/memindex"
	"github.com/Kronuz/xapiand-core/shardendpoint"
	"github.com/Kronuz/xapiand-core/wal"
)

func testPool(t *testing.T, cfg *config.Config) *pool.Pool {
	t.Helper()
	return pool.New(cfg, func(endpointName string) shardendpoint.Opener {
		dir, err := os.MkdirTemp("", "multishard-test-*")
		if err != nil {
			t.Fatal(err)
		}
		backend := blobstorage.NewFileBackend(dir)
		id := uuid.New()
		index := memindex.New()
		return func(writable bool) (*shard.Shard, error) {
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
	})
}

func TestAddDocumentRoutesAndComputesGlobalID(t *testing.T) {
	cfg := config.Default()
	p := testPool(t, cfg)
	r := New(cfg, p, "twitter", 4, scheduler.New(0))

	globalID, err := r.AddDocument(shard.Document{}, false, time.Time{})
	if err != nil {
		t.Fatalf("AddDocument: %v", err)
	}
	if globalID == 0 {
		t.Fatalf("expected a non-zero global id")
	}

	shardDID, shardNumber := shard.SplitGlobalID(globalID, 4)
	if shardDID != 1 {
		t.Fatalf("shardDID = %d, want 1 (first doc on whichever shard was picked)", shardDID)
	}
	if shardNumber >= 4 {
		t.Fatalf("shardNumber = %d out of range", shardNumber)
	}
}

func TestAddDocumentDebouncesAnAutoCommit(t *testing.T) {
	cfg := config.Default()
	cfg.CommitDebounce = 5 * time.Millisecond
	cfg.CommitDebounceBusy = 5 * time.Millisecond
	cfg.CommitForce = 20 * time.Millisecond
	cfg.CommitThrottle = 0
	p := testPool(t, cfg)
	r := New(cfg, p, "twitter", 1, scheduler.New(0))

	if _, err := r.AddDocument(shard.Document{}, false, time.Time{}); err != nil {
		t.Fatalf("AddDocument: %v", err)
	}

	deadline := time.Now().Add(time.Second)
	for {
		h, err := p.Spawn(r.endpointName(0))
		if err != nil {
			t.Fatalf("Spawn: %v", err)
		}
		s, err := h.Checkout(shardendpoint.Writable, time.Time{}, nil)
		if err != nil {
			t.Fatalf("Checkout: %v", err)
		}
		committed := !s.Modified
		h.Checkin(s, nil)
		h.Release()
		if committed {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("debounced commit never fired within 1s")
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestReplaceDocumentRoutesByModN(t *testing.T) {
	cfg := config.Default()
	p := testPool(t, cfg)
	r := New(cfg, p, "twitter", 3, scheduler.New(0))

	globalID, err := r.AddDocument(shard.Document{}, false, time.Time{})
	if err != nil {
		t.Fatalf("AddDocument: %v", err)
	}

	if err := r.ReplaceDocument(globalID, shard.Document{}, nil, false, time.Time{}); err != nil {
		t.Fatalf("ReplaceDocument: %v", err)
	}

	doc, err := r.GetDocument(globalID, time.Time{})
	if err != nil {
		t.Fatalf("GetDocument: %v", err)
	}
	if doc.Values[shard.VersionSlot] == "" {
		t.Fatalf("expected the replaced document to carry a version slot")
	}
}

func TestReplaceDocumentByTermRoutesConsistentlyForSameTerm(t *testing.T) {
	cfg := config.Default()
	p := testPool(t, cfg)
	r := New(cfg, p, "twitter", 5, scheduler.New(0))

	id1, err := r.ReplaceDocumentByTerm("Qabc", shard.Document{}, nil, false, time.Time{})
	if err != nil {
		t.Fatalf("ReplaceDocumentByTerm 1: %v", err)
	}
	id2, err := r.ReplaceDocumentByTerm("Qabc", shard.Document{}, nil, false, time.Time{})
	if err != nil {
		t.Fatalf("ReplaceDocumentByTerm 2: %v", err)
	}
	if id1 != id2 {
		t.Fatalf("expected the same term to route to and upsert the same document, got %d then %d", id1, id2)
	}
}

func TestDeleteDocumentByTermRemovesTheUpsertedDocument(t *testing.T) {
	cfg := config.Default()
	p := testPool(t, cfg)
	r := New(cfg, p, "twitter", 2, scheduler.New(0))

	globalID, err := r.ReplaceDocumentByTerm("Qxyz", shard.Document{}, nil, false, time.Time{})
	if err != nil {
		t.Fatalf("ReplaceDocumentByTerm: %v", err)
	}

	if err := r.DeleteDocumentByTerm("Qxyz", false, time.Time{}); err != nil {
		t.Fatalf("DeleteDocumentByTerm: %v", err)
	}

	if _, err := r.GetDocument(globalID, time.Time{}); err == nil {
		t.Fatalf("expected GetDocument to fail after delete")
	}
}

func TestReplaceDocumentByMultiShardIDSentinelMintsFreshID(t *testing.T) {
	cfg := config.Default()
	p := testPool(t, cfg)
	r := New(cfg, p, "twitter", 4, scheduler.New(0))

	globalID, err := r.ReplaceDocumentByMultiShardID(0, shard.Document{}, nil, false, time.Time{})
	if err != nil {
		t.Fatalf("ReplaceDocumentByMultiShardID(0): %v", err)
	}
	if globalID == 0 {
		t.Fatalf("expected a freshly minted global id")
	}

	// A subsequent call routed by the now-known did must land on the
	// same shard-local document.
	doc, err := r.GetDocument(globalID, time.Time{})
	if err != nil {
		t.Fatalf("GetDocument: %v", err)
	}
	if doc.Values[shard.ShardsHintSlot] == "" {
		t.Fatalf("expected the shards-hint slot to have been stamped")
	}
}

func TestSetMetadataBroadcastsToEveryShard(t *testing.T) {
	cfg := config.Default()
	p := testPool(t, cfg)
	r := New(cfg, p, "twitter", 3, scheduler.New(0))

	if err := r.SetMetadata("schema-version", []byte("7"), false, time.Time{}); err != nil {
		t.Fatalf("SetMetadata: %v", err)
	}

	value, err := r.GetMetadata("schema-version", time.Time{})
	if err != nil {
		t.Fatalf("GetMetadata: %v", err)
	}
	if string(value) != "7" {
		t.Fatalf("value = %q, want %q", value, "7")
	}
}

func TestGetMetadataKeysUnionsAcrossShards(t *testing.T) {
	cfg := config.Default()
	p := testPool(t, cfg)
	r := New(cfg, p, "twitter", 3, scheduler.New(0))

	if err := r.SetMetadata("a", []byte("1"), false, time.Time{}); err != nil {
		t.Fatalf("SetMetadata a: %v", err)
	}
	if err := r.SetMetadata("b", []byte("2"), false, time.Time{}); err != nil {
		t.Fatalf("SetMetadata b: %v", err)
	}

	keys, err := r.GetMetadataKeys(time.Time{})
	if err != nil {
		t.Fatalf("GetMetadataKeys: %v", err)
	}
	if len(keys) != 2 || keys[0] != "a" || keys[1] != "b" {
		t.Fatalf("keys = %v, want [a b]", keys)
	}
}

func TestSearchMergesHitsByDescendingScore(t *testing.T) {
	cfg := config.Default()
	p := testPool(t, cfg)
	r := New(cfg, p, "twitter", 2, scheduler.New(0))

	hits, err := r.Search(func(s *shard.Shard) ([]SearchHit, error) {
		return []SearchHit{{LocalDID: 1, Score: 0.5}, {LocalDID: 2, Score: 0.9}}, nil
	}, time.Time{})
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(hits) != 4 {
		t.Fatalf("len(hits) = %d, want 4 (2 shards x 2 hits)", len(hits))
	}
	for i := 1; i < len(hits); i++ {
		if hits[i].Score > hits[i-1].Score {
			t.Fatalf("hits not sorted by descending score: %v", hits)
		}
	}
}

func TestSearchExcludesFailedShardsUnlessAllFail(t *testing.T) {
	cfg := config.Default()
	p := testPool(t, cfg)
	r := New(cfg, p, "twitter", 3, scheduler.New(0))

	var calls int32
	hits, err := r.Search(func(s *shard.Shard) ([]SearchHit, error) {
		if atomic.AddInt32(&calls, 1) == 1 {
			return nil, errFakeShardFailure
		}
		return []SearchHit{{LocalDID: 1, Score: 1}}, nil
	}, time.Time{})
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(hits) == 0 {
		t.Fatalf("expected hits from the shards that succeeded")
	}
}

var errFakeShardFailure = fakeErr("fake shard failure")

type fakeErr string

func (e fakeErr) Error() string { return string(e) }
