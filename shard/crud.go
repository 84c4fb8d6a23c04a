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

	"github.com/Kronuz/xapiand-core/blobstorage"
	"github.com/Kronuz/xapiand-core/wal"
	"github.com/Kronuz/xapiand-core/xerrors"
)

// stampVersion sets doc's version slot/term for did at version v,
// replacing any prior version term it may have carried.
func stampVersion(doc *Document, did, v uint64) {
	filtered := doc.Terms[:0:0]
	for _, t := range doc.Terms {
		if len(t.Term) > 0 && t.Term[0] == 'V' {
			continue
		}
		filtered = append(filtered, t)
	}
	doc.Terms = append(filtered, Term{Term: VersionTerm(did, v)})

	if doc.Values == nil {
		doc.Values = make(map[int]string)
	}
	doc.Values[VersionSlot] = fmt.Sprintf("%020d", v)
}

// pendingRevisionLocked is the revision a WAL record written before the
// next Commit should carry: Replay keeps everything strictly greater
// than the backend's last committed revision, and a batch of per-op
// records sharing that not-yet-committed revision all replay together
// with the commit record that follows them.
func (s *Shard) pendingRevisionLocked() uint64 {
	return s.backend.Revision() + 1
}

func (s *Shard) appendWALLocked(op wal.Op, payload []byte) error {
	if !s.Local || s.wal == nil {
		return nil
	}
	return s.wal.Append(wal.Record{Revision: s.pendingRevisionLocked(), Op: op, Payload: payload})
}

// AddDocument assigns the next shard-local document id, stamps a
// version term/slot, indexes doc, and (if requested, for a local shard
// with a WAL) durably appends the corresponding WAL record (spec.md
// §4.2).
func (s *Shard) AddDocument(doc Document, writeWAL bool) (did uint64, err error) {
	err = s.withRetry(func() error {
		s.mu.Lock()
		defer s.mu.Unlock()

		localDID, addErr := s.backend.AddDocument(doc)
		if addErr != nil {
			return &xerrors.Transient{Cause: addErr}
		}
		did = localDID

		stamped := doc
		stampVersion(&stamped, did, 1)
		if err := s.backend.ReplaceDocument(did, stamped); err != nil {
			return &xerrors.Transient{Cause: err}
		}
		s.versions[did] = 1
		s.Modified = true

		if writeWAL {
			payload, err := json.Marshal(stamped)
			if err != nil {
				return err
			}
			return s.appendWALLocked(wal.OpAddDocument, payload)
		}
		return nil
	})
	return did, err
}

// ReplaceDocument overwrites did's document with doc, bumping its
// version. If expectedVersion is non-nil and does not match the
// version last issued for did, the call fails with
// xerrors.ErrVersionConflict without touching the backend (spec.md
// §4.2 optimistic concurrency).
func (s *Shard) ReplaceDocument(did uint64, doc Document, expectedVersion *uint64, writeWAL bool) error {
	return s.withRetry(func() error {
		s.mu.Lock()
		defer s.mu.Unlock()

		current := s.versions[did]
		if expectedVersion != nil && *expectedVersion != current {
			return xerrors.ErrVersionConflict
		}
		next := current + 1

		stamped := doc
		stampVersion(&stamped, did, next)
		if err := s.backend.ReplaceDocument(did, stamped); err != nil {
			return &xerrors.Transient{Cause: err}
		}
		s.versions[did] = next
		s.Modified = true

		if writeWAL {
			payload, err := json.Marshal(struct {
				DID uint64
				Doc Document
			}{did, stamped})
			if err != nil {
				return err
			}
			return s.appendWALLocked(wal.OpReplaceDocumentByDID, payload)
		}
		return nil
	})
}

// ReplaceDocumentByTerm upserts doc keyed by a unique term, the path a
// multi-shard routed write takes (spec.md §4.7's "QN{global_id}" terms
// reuse this). It returns the local document id the backend assigned
// or already held.
func (s *Shard) ReplaceDocumentByTerm(term string, doc Document, expectedVersion *uint64, writeWAL bool) (did uint64, err error) {
	err = s.withRetry(func() error {
		s.mu.Lock()
		defer s.mu.Unlock()

		existingDID, lookupErr := s.backend.GetDocIDTerm(term)
		found := lookupErr == nil
		if lookupErr != nil && lookupErr != xerrors.ErrNotFound {
			return &xerrors.Transient{Cause: lookupErr}
		}

		current := uint64(0)
		if found {
			current = s.versions[existingDID]
		}
		if expectedVersion != nil && *expectedVersion != current {
			return xerrors.ErrVersionConflict
		}
		next := current + 1

		stamped := doc
		resultDID, replaceErr := s.backend.ReplaceDocumentByTerm(term, stamped)
		if replaceErr != nil {
			return &xerrors.Transient{Cause: replaceErr}
		}
		stampVersion(&stamped, resultDID, next)
		if err := s.backend.ReplaceDocument(resultDID, stamped); err != nil {
			return &xerrors.Transient{Cause: err}
		}
		did = resultDID
		s.versions[did] = next
		s.Modified = true

		if writeWAL {
			payload, err := json.Marshal(struct {
				Term string
				Doc  Document
			}{term, stamped})
			if err != nil {
				return err
			}
			return s.appendWALLocked(wal.OpReplaceDocumentByTerm, payload)
		}
		return nil
	})
	return did, err
}

// DeleteDocument removes did, honoring the same optimistic-concurrency
// check as ReplaceDocument.
func (s *Shard) DeleteDocument(did uint64, expectedVersion *uint64, writeWAL bool) error {
	return s.withRetry(func() error {
		s.mu.Lock()
		defer s.mu.Unlock()

		if expectedVersion != nil {
			current := s.versions[did]
			if *expectedVersion != current {
				return xerrors.ErrVersionConflict
			}
		}

		if err := s.backend.DeleteDocument(did); err != nil {
			if err == xerrors.ErrNotFound {
				return err
			}
			return &xerrors.Transient{Cause: err}
		}
		delete(s.versions, did)
		s.Modified = true

		if writeWAL {
			payload, err := json.Marshal(did)
			if err != nil {
				return err
			}
			return s.appendWALLocked(wal.OpDeleteDocumentByDID, payload)
		}
		return nil
	})
}

// DeleteDocumentByTerm removes whichever document term currently
// identifies.
func (s *Shard) DeleteDocumentByTerm(term string, writeWAL bool) error {
	return s.withRetry(func() error {
		s.mu.Lock()
		defer s.mu.Unlock()

		if err := s.backend.DeleteDocumentByTerm(term); err != nil {
			if err == xerrors.ErrNotFound {
				return err
			}
			return &xerrors.Transient{Cause: err}
		}
		s.Modified = true

		if writeWAL {
			payload, err := json.Marshal(term)
			if err != nil {
				return err
			}
			return s.appendWALLocked(wal.OpDeleteDocumentByTerm, payload)
		}
		return nil
	})
}

// GetDocument is a read-only, retry-wrapped pass to the backend.
func (s *Shard) GetDocument(did uint64) (doc Document, err error) {
	err = s.withRetry(func() error {
		s.mu.Lock()
		defer s.mu.Unlock()
		d, getErr := s.backend.GetDocument(did)
		if getErr != nil {
			if getErr == xerrors.ErrNotFound {
				return getErr
			}
			return &xerrors.Transient{Cause: getErr}
		}
		doc = d
		return nil
	})
	return doc, err
}

// GetDocIDTerm is a read-only, retry-wrapped pass to the backend.
func (s *Shard) GetDocIDTerm(term string) (did uint64, err error) {
	err = s.withRetry(func() error {
		s.mu.Lock()
		defer s.mu.Unlock()
		d, getErr := s.backend.GetDocIDTerm(term)
		if getErr != nil {
			if getErr == xerrors.ErrNotFound {
				return getErr
			}
			return &xerrors.Transient{Cause: getErr}
		}
		did = d
		return nil
	})
	return did, err
}

// GetMetadata is a read-only, retry-wrapped pass to the backend.
func (s *Shard) GetMetadata(key string) (value []byte, err error) {
	err = s.withRetry(func() error {
		s.mu.Lock()
		defer s.mu.Unlock()
		v, getErr := s.backend.GetMetadata(key)
		if getErr != nil {
			if getErr == xerrors.ErrNotFound {
				return getErr
			}
			return &xerrors.Transient{Cause: getErr}
		}
		value = v
		return nil
	})
	return value, err
}

// GetMetadataKeys is a read-only, retry-wrapped pass to the backend.
func (s *Shard) GetMetadataKeys() (keys []string, err error) {
	err = s.withRetry(func() error {
		s.mu.Lock()
		defer s.mu.Unlock()
		k, getErr := s.backend.ListMetadataKeys()
		if getErr != nil {
			return &xerrors.Transient{Cause: getErr}
		}
		keys = k
		return nil
	})
	return keys, err
}

// SetMetadata stores value under key, logging the mutation to the WAL.
func (s *Shard) SetMetadata(key string, value []byte, writeWAL bool) error {
	return s.withRetry(func() error {
		s.mu.Lock()
		defer s.mu.Unlock()
		if err := s.backend.SetMetadata(key, value); err != nil {
			return &xerrors.Transient{Cause: err}
		}
		s.Modified = true

		if writeWAL {
			payload, err := json.Marshal(struct {
				Key   string
				Value []byte
			}{key, value})
			if err != nil {
				return err
			}
			return s.appendWALLocked(wal.OpSetMetadata, payload)
		}
		return nil
	})
}

// AddSpelling / RemoveSpelling maintain the backend's spelling
// correction frequency table.
func (s *Shard) AddSpelling(word string, freqInc int, writeWAL bool) error {
	return s.withRetry(func() error {
		s.mu.Lock()
		defer s.mu.Unlock()
		if err := s.backend.AddSpelling(word, freqInc); err != nil {
			return &xerrors.Transient{Cause: err}
		}
		s.Modified = true

		if writeWAL {
			payload, err := json.Marshal(struct {
				Word string
				Freq int
			}{word, freqInc})
			if err != nil {
				return err
			}
			return s.appendWALLocked(wal.OpAddSpelling, payload)
		}
		return nil
	})
}

func (s *Shard) RemoveSpelling(word string, freqDec int, writeWAL bool) error {
	return s.withRetry(func() error {
		s.mu.Lock()
		defer s.mu.Unlock()
		if err := s.backend.RemoveSpelling(word, freqDec); err != nil {
			return &xerrors.Transient{Cause: err}
		}
		s.Modified = true

		if writeWAL {
			payload, err := json.Marshal(struct {
				Word string
				Freq int
			}{word, freqDec})
			if err != nil {
				return err
			}
			return s.appendWALLocked(wal.OpRemoveSpelling, payload)
		}
		return nil
	})
}

// StoragePushBlobs promotes any locator whose inline body exceeds
// threshold bytes into the shard's blob volume, rolling to the next
// volume on ErrStorageEOF exactly once (spec.md §6 storage_push_blobs).
// It returns two locator slices: indexed holds the (possibly
// now-external) locators to store in the document's data, and durable
// holds only the ones that were actually written to a blob volume, for
// callers that need to know what Commit must fsync.
func (s *Shard) StoragePushBlobs(locators []blobstorage.Locator, threshold int) (indexed, durable []blobstorage.Locator, err error) {
	if s.blobs == nil {
		return locators, nil, nil
	}

	indexed = make([]blobstorage.Locator, len(locators))
	for i, loc := range locators {
		if !loc.Inline || len(loc.Data) <= threshold {
			indexed[i] = loc
			continue
		}

		volume, offset, writeErr := s.blobs.Write(loc.Data)
		if writeErr == xerrors.ErrStorageEOF {
			if rollErr := s.blobs.RollVolume(); rollErr != nil {
				return nil, nil, rollErr
			}
			volume, offset, writeErr = s.blobs.Write(loc.Data)
		}
		if writeErr != nil {
			return nil, nil, writeErr
		}

		out := loc
		out.Inline = false
		out.Volume = volume
		out.Offset = offset
		out.Size = uint64(len(loc.Data))
		out.Data = nil
		indexed[i] = out
		durable = append(durable, out)
	}

	s.mu.Lock()
	if len(durable) > 0 {
		s.Modified = true
	}
	s.mu.Unlock()

	return indexed, durable, nil
}
