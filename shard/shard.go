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
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/Kronuz/xapiand-core/blobstorage"
	"github.com/Kronuz/xapiand-core/config"
	"github.com/Kronuz/xapiand-core/wal"
	"github.com/Kronuz/xapiand-core/xerrors"
)

// TransactionState tracks an in-progress nested write batch (spec.md §4.2).
type TransactionState int

const (
	TransactionNone TransactionState = iota
	TransactionFlushed
	TransactionUnflushed
)

// Opener (re)creates a Shard's backend handle: the real implementation
// opens (and, for a missing index, creates) the Xapian database at a
// path; tests supply one backed by memindex.New.
type Opener func() (Backend, error)

// Shard wraps a single backend index handle plus, when local, its blob
// store and WAL (spec.md §4.2).
type Shard struct {
	mu sync.Mutex

	cfg     *config.Config
	opener  Opener
	backend Backend
	wal     *wal.WAL   // nil when WAL is disabled or the shard is remote
	blobs   *blobstorage.BlobStorage // nil when the shard is remote

	// OnUpdate is invoked after a commit that requested a cluster
	// notification (spec.md §4.2 "notifies cluster listeners"). Nil by
	// default — wiring a real notifier is the caller's job (see the
	// notify package).
	OnUpdate func()

	Local      bool
	Closed     bool
	Modified   bool
	Incomplete bool

	transaction TransactionState

	localRevision uint64
	reopenTime    time.Time

	versions map[uint64]uint64 // did -> last issued version

	shardNumber uint64 // this shard's position for global-id math
	shardCount  uint64
}

// New constructs a Shard around an already-open backend. local controls
// whether wal/blobs are wired; both may be nil for a remote shard.
func New(cfg *config.Config, opener Opener, backend Backend, w *wal.WAL, blobs *blobstorage.BlobStorage, local bool, shardNumber, shardCount uint64) *Shard {
	return &Shard{
		cfg:         cfg,
		opener:      opener,
		backend:     backend,
		wal:         w,
		blobs:       blobs,
		Local:       local,
		reopenTime:  time.Now(),
		versions:    make(map[uint64]uint64),
		shardNumber: shardNumber,
		shardCount:  shardCount,
	}
}

// Reopen resets shard state and, for a local shard with WAL enabled,
// replays every WAL record with a revision strictly greater than the
// backend's current on-disk revision (spec.md §4.2).
func (s *Shard) Reopen() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.reopenLocked()
}

func (s *Shard) reopenLocked() error {
	backend, err := s.opener()
	if err != nil {
		return &xerrors.Transient{Cause: err}
	}
	s.backend = backend
	s.Closed = false
	s.Modified = false
	s.Incomplete = false
	s.transaction = TransactionNone
	s.reopenTime = time.Now()

	if s.Local && s.wal != nil {
		records, err := wal.Replay(s.wal.Backend(), s.wal.Prefix(), backend.Revision())
		if err != nil {
			return err
		}
		for _, rec := range records {
			if err := s.applyRecordLocked(rec); err != nil {
				return err
			}
		}
	}
	s.localRevision = s.backend.Revision()
	return nil
}

func (s *Shard) applyRecordLocked(rec wal.Record) error {
	switch rec.Op {
	case wal.OpCommit:
		return s.backend.Commit()
	case wal.OpAddDocument:
		var doc Document
		if err := json.Unmarshal(rec.Payload, &doc); err != nil {
			return err
		}
		_, err := s.backend.AddDocument(doc)
		return err
	case wal.OpDeleteDocumentByDID:
		var did uint64
		if err := json.Unmarshal(rec.Payload, &did); err != nil {
			return err
		}
		err := s.backend.DeleteDocument(did)
		if err == xerrors.ErrNotFound {
			return nil // idempotent: already applied
		}
		return err
	case wal.OpDeleteDocumentByTerm:
		var term string
		if err := json.Unmarshal(rec.Payload, &term); err != nil {
			return err
		}
		err := s.backend.DeleteDocumentByTerm(term)
		if err == xerrors.ErrNotFound {
			return nil
		}
		return err
	case wal.OpReplaceDocumentByDID:
		var payload struct {
			DID uint64
			Doc Document
		}
		if err := json.Unmarshal(rec.Payload, &payload); err != nil {
			return err
		}
		return s.backend.ReplaceDocument(payload.DID, payload.Doc)
	case wal.OpReplaceDocumentByTerm:
		var payload struct {
			Term string
			Doc  Document
		}
		if err := json.Unmarshal(rec.Payload, &payload); err != nil {
			return err
		}
		_, err := s.backend.ReplaceDocumentByTerm(payload.Term, payload.Doc)
		return err
	case wal.OpSetMetadata:
		var payload struct {
			Key   string
			Value []byte
		}
		if err := json.Unmarshal(rec.Payload, &payload); err != nil {
			return err
		}
		return s.backend.SetMetadata(payload.Key, payload.Value)
	case wal.OpAddSpelling:
		var payload struct {
			Word string
			Freq int
		}
		if err := json.Unmarshal(rec.Payload, &payload); err != nil {
			return err
		}
		return s.backend.AddSpelling(payload.Word, payload.Freq)
	case wal.OpRemoveSpelling:
		var payload struct {
			Word string
			Freq int
		}
		if err := json.Unmarshal(rec.Payload, &payload); err != nil {
			return err
		}
		return s.backend.RemoveSpelling(payload.Word, payload.Freq)
	default:
		return fmt.Errorf("wal: unknown opcode %d", rec.Op)
	}
}

// withRetry runs fn, retrying up to cfg.DBRetries times whenever fn
// returns a *xerrors.Transient, fully resetting and reopening the shard
// between attempts (spec.md §4.2 failure policy). A non-transient error
// is returned at once and leaves the shard open; exhausting all retries
// closes the shard and returns the last cause.
func (s *Shard) withRetry(fn func() error) error {
	var lastErr error
	for attempt := 0; attempt <= s.cfg.DBRetries; attempt++ {
		err := fn()
		if err == nil {
			return nil
		}
		if t, ok := xerrors.AsTransient(err); ok {
			lastErr = t.Cause
			s.mu.Lock()
			reopenErr := s.reopenLocked()
			s.mu.Unlock()
			if reopenErr != nil {
				lastErr = reopenErr
				continue
			}
			continue
		}
		return err
	}
	s.mu.Lock()
	s.Closed = true
	s.mu.Unlock()
	return lastErr
}

// Close marks the shard closed and releases its backend/WAL/blob handles.
func (s *Shard) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Closed {
		return nil
	}
	s.Closed = true
	var err error
	if s.backend != nil {
		err = s.backend.Close()
	}
	if s.wal != nil {
		s.wal.Close()
	}
	if s.blobs != nil {
		s.blobs.Close()
	}
	return err
}

// BeginTransaction opens a nested write batch; flushed selects whether
// CommitTransaction leaves a durable commit in its wake.
func (s *Shard) BeginTransaction(flushed bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.transaction != TransactionNone {
		return fmt.Errorf("transaction already in progress")
	}
	if err := s.backend.BeginTransaction(flushed); err != nil {
		return &xerrors.Transient{Cause: err}
	}
	if flushed {
		s.transaction = TransactionFlushed
	} else {
		s.transaction = TransactionUnflushed
	}
	return nil
}

func (s *Shard) CommitTransaction() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.transaction == TransactionNone {
		return fmt.Errorf("no transaction in progress")
	}
	err := s.backend.CommitTransaction()
	s.transaction = TransactionNone
	if err != nil {
		return &xerrors.Transient{Cause: err}
	}
	s.Modified = true
	return nil
}

func (s *Shard) CancelTransaction() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.transaction == TransactionNone {
		return fmt.Errorf("no transaction in progress")
	}
	err := s.backend.CancelTransaction()
	s.transaction = TransactionNone
	return err
}

// Commit is a no-op if the shard is not Modified. Otherwise it fsyncs
// any pending blob writes, commits the backend (verifying the revision
// advanced by exactly one for a local shard), clears Modified, and —
// if requested — appends a WAL commit record and notifies listeners
// (spec.md §4.2).
func (s *Shard) Commit(writeWAL bool, sendUpdate bool) error {
	s.mu.Lock()
	if !s.Modified {
		s.mu.Unlock()
		return nil
	}
	s.mu.Unlock()

	err := s.withRetry(func() error {
		s.mu.Lock()
		defer s.mu.Unlock()

		if s.blobs != nil {
			if err := s.blobs.Commit(); err != nil {
				return &xerrors.Transient{Cause: err}
			}
		}

		before := s.backend.Revision()
		if err := s.backend.Commit(); err != nil {
			return &xerrors.Transient{Cause: err}
		}
		after := s.backend.Revision()
		if s.Local && after != before+1 {
			return fmt.Errorf("commit did not advance revision by exactly one: %d -> %d", before, after)
		}

		s.Modified = false
		s.localRevision = after

		if writeWAL && s.wal != nil {
			if err := s.wal.Append(wal.Record{Revision: after, Op: wal.OpCommit}); err != nil {
				return err
			}
			if err := s.wal.Sync(); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return err
	}

	if sendUpdate && s.OnUpdate != nil {
		s.OnUpdate()
	}
	return nil
}

// LocalRevision returns the last committed revision this shard observed.
func (s *Shard) LocalRevision() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.localRevision
}

// ReopenTime returns when this shard's backend handle was last
// (re)opened, for ShardEndpoint's staleness check (spec.md §4.4).
func (s *Shard) ReopenTime() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.reopenTime
}

// FsyncBlobs flushes pending blob writes without touching the backend
// index — the lighter half of what Commit does, for the Async-Fsync
// debounce flavor (spec.md §4.5) to run on its own, tighter schedule
// while the heavier backend Commit stays on the Committer flavor's.
// A no-op for a remote shard, which has no local blob store.
func (s *Shard) FsyncBlobs() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.blobs == nil {
		return nil
	}
	if err := s.blobs.Commit(); err != nil {
		return &xerrors.Transient{Cause: err}
	}
	return nil
}
