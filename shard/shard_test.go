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

package shard

import (
	"bytes"
	"testing"

	"github.com/google/uuid"

	"github.com/Kronuz/xapiand-core/blobstorage"
	"github.com/Kronuz/xapiand-core/config"
	"github.com/Kronuz/xapiand-core/shard/memindex"
	"github.com/Kronuz/xapiand-core/wal"
	"github.com/Kronuz/xapiand-core/xerrors"
)

// newTestShard builds a local Shard over a fresh memindex.Index, with
// its own WAL and blob store rooted under t.TempDir().
func newTestShard(t *testing.T) *Shard {
	t.Helper()
	dir := t.TempDir()
	backend := blobstorage.NewFileBackend(dir)

	index := memindex.New()
	opener := func() (Backend, error) { return index, nil }

	w, err := wal.Open(backend, "wal.", 0)
	if err != nil {
		t.Fatalf("wal.Open: %v", err)
	}

	blobs, err := blobstorage.Open(backend, "blob.", uuid.New(), 0, 0, false)
	if err != nil {
		t.Fatalf("blobstorage.Open: %v", err)
	}

	cfg := config.Default()
	return New(cfg, opener, index, w, blobs, true, 0, 1)
}

func TestAddDocumentStampsVersionOne(t *testing.T) {
	s := newTestShard(t)
	defer s.Close()

	did, err := s.AddDocument(Document{Terms: []Term{{Term: "hello"}}}, true)
	if err != nil {
		t.Fatalf("AddDocument: %v", err)
	}
	if did == 0 {
		t.Fatalf("expected a non-zero document id")
	}

	doc, err := s.GetDocument(did)
	if err != nil {
		t.Fatalf("GetDocument: %v", err)
	}
	want := VersionTerm(did, 1)
	found := false
	for _, term := range doc.Terms {
		if term.Term == want {
			found = true
		}
	}
	if !found {
		t.Fatalf("document %d missing version term %q: %+v", did, want, doc.Terms)
	}
	if doc.Values[VersionSlot] == "" {
		t.Fatalf("document %d missing version slot value", did)
	}
}

func TestReplaceDocumentBumpsVersionAndRejectsStaleCaller(t *testing.T) {
	s := newTestShard(t)
	defer s.Close()

	did, err := s.AddDocument(Document{}, true)
	if err != nil {
		t.Fatalf("AddDocument: %v", err)
	}

	version := uint64(1)
	if err := s.ReplaceDocument(did, Document{}, &version, true); err != nil {
		t.Fatalf("ReplaceDocument with correct expected version: %v", err)
	}

	if err := s.ReplaceDocument(did, Document{}, &version, true); err != xerrors.ErrVersionConflict {
		t.Fatalf("ReplaceDocument with stale expected version: got %v, want ErrVersionConflict", err)
	}
}

func TestDeleteDocumentRemovesVersionTracking(t *testing.T) {
	s := newTestShard(t)
	defer s.Close()

	did, err := s.AddDocument(Document{}, true)
	if err != nil {
		t.Fatalf("AddDocument: %v", err)
	}

	if err := s.DeleteDocument(did, nil, true); err != nil {
		t.Fatalf("DeleteDocument: %v", err)
	}
	if _, err := s.GetDocument(did); err != xerrors.ErrNotFound {
		t.Fatalf("GetDocument after delete: got %v, want ErrNotFound", err)
	}
}

func TestReplaceDocumentByTermCreatesThenUpdates(t *testing.T) {
	s := newTestShard(t)
	defer s.Close()

	did1, err := s.ReplaceDocumentByTerm("Qunique", Document{}, nil, true)
	if err != nil {
		t.Fatalf("ReplaceDocumentByTerm (create): %v", err)
	}

	did2, err := s.ReplaceDocumentByTerm("Qunique", Document{}, nil, true)
	if err != nil {
		t.Fatalf("ReplaceDocumentByTerm (update): %v", err)
	}
	if did1 != did2 {
		t.Fatalf("expected the same document id across upserts, got %d then %d", did1, did2)
	}
}

func TestCommitAdvancesRevisionAndWritesWALCommitRecord(t *testing.T) {
	s := newTestShard(t)
	defer s.Close()

	if _, err := s.AddDocument(Document{}, true); err != nil {
		t.Fatalf("AddDocument: %v", err)
	}
	if err := s.Commit(true, false); err != nil {
		t.Fatalf("Commit: %v", err)
	}
	if got := s.LocalRevision(); got != 1 {
		t.Fatalf("LocalRevision after first commit = %d, want 1", got)
	}

	// A Commit with nothing pending must be a no-op, not a second bump.
	if err := s.Commit(true, false); err != nil {
		t.Fatalf("second Commit: %v", err)
	}
	if got := s.LocalRevision(); got != 1 {
		t.Fatalf("LocalRevision after no-op commit = %d, want 1", got)
	}
}

func TestWALReplayReconstructsStateAfterReopen(t *testing.T) {
	s := newTestShard(t)
	defer s.Close()

	did, err := s.AddDocument(Document{Terms: []Term{{Term: "apple"}}}, true)
	if err != nil {
		t.Fatalf("AddDocument: %v", err)
	}
	if err := s.Commit(true, false); err != nil {
		t.Fatalf("Commit: %v", err)
	}

	// Simulate a crash and restart: a fresh memindex.Index behind the
	// same opener, replaying the WAL, must end up with the same document.
	fresh := memindex.New()
	s.opener = func() (Backend, error) { return fresh, nil }
	if err := s.Reopen(); err != nil {
		t.Fatalf("Reopen: %v", err)
	}

	doc, err := s.GetDocument(did)
	if err != nil {
		t.Fatalf("GetDocument after reopen: %v", err)
	}
	if len(doc.Terms) == 0 {
		t.Fatalf("replayed document missing its terms: %+v", doc)
	}
}

func TestSetMetadataAndSpellingRoundTrip(t *testing.T) {
	s := newTestShard(t)
	defer s.Close()

	if err := s.SetMetadata("schema_version", []byte("7"), true); err != nil {
		t.Fatalf("SetMetadata: %v", err)
	}
	got, err := s.GetMetadata("schema_version")
	if err != nil {
		t.Fatalf("GetMetadata: %v", err)
	}
	if !bytes.Equal(got, []byte("7")) {
		t.Fatalf("GetMetadata = %q, want %q", got, "7")
	}

	if err := s.AddSpelling("xapiand", 3, true); err != nil {
		t.Fatalf("AddSpelling: %v", err)
	}
	if err := s.RemoveSpelling("xapiand", 1, true); err != nil {
		t.Fatalf("RemoveSpelling: %v", err)
	}
}

func TestStoragePushBlobsPromotesLargeLocatorsAndRoundTrips(t *testing.T) {
	s := newTestShard(t)
	defer s.Close()

	small := blobstorage.Locator{Inline: true, Data: []byte("tiny")}
	large := blobstorage.Locator{Inline: true, Data: bytes.Repeat([]byte("x"), 64)}

	indexed, durable, err := s.StoragePushBlobs([]blobstorage.Locator{small, large}, 16)
	if err != nil {
		t.Fatalf("StoragePushBlobs: %v", err)
	}
	if len(indexed) != 2 {
		t.Fatalf("indexed len = %d, want 2", len(indexed))
	}
	if !indexed[0].Inline {
		t.Fatalf("small locator should remain inline: %+v", indexed[0])
	}
	if indexed[1].Inline {
		t.Fatalf("large locator should have been promoted to external storage: %+v", indexed[1])
	}
	if len(durable) != 1 {
		t.Fatalf("durable len = %d, want 1", len(durable))
	}

	if err := s.Commit(true, false); err != nil {
		t.Fatalf("Commit: %v", err)
	}

	got, err := s.blobs.Read(indexed[1].Volume, indexed[1].Offset)
	if err != nil {
		t.Fatalf("blobs.Read: %v", err)
	}
	if !bytes.Equal(got, large.Data) {
		t.Fatalf("Read = %q, want %q", got, large.Data)
	}
}
