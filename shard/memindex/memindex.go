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

// Package memindex is a plain in-memory implementation of shard.Backend:
// a stand-in for the real Xapian B-tree/posting-list engine that spec.md
// §1 treats as an opaque black box. It exists so shard, pool and
// multishard can be exercised and tested without a native dependency.
package memindex

import (
	"fmt"
	"sync"

	"github.com/Kronuz/xapiand-core/shard"
	"github.com/Kronuz/xapiand-core/xerrors"
)

// Index is a single backend handle: one committed revision counter, a
// document table, a term→did postings index, and a metadata table.
type Index struct {
	mu sync.Mutex

	revision uint64
	nextDID  uint64
	docs     map[uint64]shard.Document
	terms    map[string]map[uint64]struct{} // term -> set of dids
	metadata map[string][]byte

	inTxn        bool
	txnFlushed   bool
	txnSnapshot  *snapshot
}

type snapshot struct {
	docs     map[uint64]shard.Document
	terms    map[string]map[uint64]struct{}
	metadata map[string][]byte
	nextDID  uint64
}

// New returns an empty Index at revision 0.
func New() *Index {
	return &Index{
		nextDID:  1,
		docs:     make(map[uint64]shard.Document),
		terms:    make(map[string]map[uint64]struct{}),
		metadata: make(map[string][]byte),
	}
}

func (idx *Index) Revision() uint64 {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	return idx.revision
}

func (idx *Index) indexTermsLocked(did uint64, doc shard.Document) {
	for _, t := range doc.Terms {
		set, ok := idx.terms[t.Term]
		if !ok {
			set = make(map[uint64]struct{})
			idx.terms[t.Term] = set
		}
		set[did] = struct{}{}
	}
}

func (idx *Index) unindexTermsLocked(did uint64, doc shard.Document) {
	for _, t := range doc.Terms {
		if set, ok := idx.terms[t.Term]; ok {
			delete(set, did)
			if len(set) == 0 {
				delete(idx.terms, t.Term)
			}
		}
	}
}

func (idx *Index) AddDocument(doc shard.Document) (uint64, error) {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	did := idx.nextDID
	idx.nextDID++
	idx.docs[did] = doc
	idx.indexTermsLocked(did, doc)
	return did, nil
}

func (idx *Index) ReplaceDocument(did uint64, doc shard.Document) error {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	if old, ok := idx.docs[did]; ok {
		idx.unindexTermsLocked(did, old)
	}
	idx.docs[did] = doc
	idx.indexTermsLocked(did, doc)
	if did >= idx.nextDID {
		idx.nextDID = did + 1
	}
	return nil
}

func (idx *Index) ReplaceDocumentByTerm(term string, doc shard.Document) (uint64, error) {
	idx.mu.Lock()
	did, found := idx.firstForTermLocked(term)
	idx.mu.Unlock()
	if !found {
		didNew, err := idx.AddDocument(doc)
		return didNew, err
	}
	return did, idx.ReplaceDocument(did, doc)
}

func (idx *Index) firstForTermLocked(term string) (uint64, bool) {
	set, ok := idx.terms[term]
	if !ok || len(set) == 0 {
		return 0, false
	}
	var min uint64
	first := true
	for did := range set {
		if first || did < min {
			min = did
			first = false
		}
	}
	return min, true
}

func (idx *Index) DeleteDocument(did uint64) error {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	doc, ok := idx.docs[did]
	if !ok {
		return xerrors.ErrNotFound
	}
	idx.unindexTermsLocked(did, doc)
	delete(idx.docs, did)
	return nil
}

func (idx *Index) DeleteDocumentByTerm(term string) error {
	idx.mu.Lock()
	did, found := idx.firstForTermLocked(term)
	idx.mu.Unlock()
	if !found {
		return xerrors.ErrNotFound
	}
	return idx.DeleteDocument(did)
}

func (idx *Index) GetDocument(did uint64) (shard.Document, error) {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	doc, ok := idx.docs[did]
	if !ok {
		return shard.Document{}, xerrors.ErrNotFound
	}
	return doc, nil
}

func (idx *Index) GetDocIDTerm(term string) (uint64, error) {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	did, found := idx.firstForTermLocked(term)
	if !found {
		return 0, xerrors.ErrNotFound
	}
	return did, nil
}

func (idx *Index) GetMetadata(key string) ([]byte, error) {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	v, ok := idx.metadata[key]
	if !ok {
		return nil, xerrors.ErrNotFound
	}
	return v, nil
}

func (idx *Index) SetMetadata(key string, value []byte) error {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	idx.metadata[key] = value
	return nil
}

func (idx *Index) ListMetadataKeys() ([]string, error) {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	keys := make([]string, 0, len(idx.metadata))
	for k := range idx.metadata {
		keys = append(keys, k)
	}
	return keys, nil
}

// AddSpelling / RemoveSpelling: the in-memory backend has no spelling
// correction table of its own; it tracks frequency only so tests can
// assert the Shard forwarded the call.
func (idx *Index) AddSpelling(word string, freqInc int) error {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	key := "spelling:" + word
	cur := 0
	if v, ok := idx.metadata[key]; ok {
		fmt.Sscanf(string(v), "%d", &cur)
	}
	idx.metadata[key] = []byte(fmt.Sprintf("%d", cur+freqInc))
	return nil
}

func (idx *Index) RemoveSpelling(word string, freqDec int) error {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	key := "spelling:" + word
	cur := 0
	if v, ok := idx.metadata[key]; ok {
		fmt.Sscanf(string(v), "%d", &cur)
	}
	cur -= freqDec
	if cur < 0 {
		cur = 0
	}
	idx.metadata[key] = []byte(fmt.Sprintf("%d", cur))
	return nil
}

func (idx *Index) BeginTransaction(flushed bool) error {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	if idx.inTxn {
		return fmt.Errorf("transaction already in progress")
	}
	idx.inTxn = true
	idx.txnFlushed = flushed
	idx.txnSnapshot = idx.snapshotLocked()
	return nil
}

func (idx *Index) snapshotLocked() *snapshot {
	docs := make(map[uint64]shard.Document, len(idx.docs))
	for k, v := range idx.docs {
		docs[k] = v
	}
	terms := make(map[string]map[uint64]struct{}, len(idx.terms))
	for k, v := range idx.terms {
		set := make(map[uint64]struct{}, len(v))
		for did := range v {
			set[did] = struct{}{}
		}
		terms[k] = set
	}
	meta := make(map[string][]byte, len(idx.metadata))
	for k, v := range idx.metadata {
		meta[k] = v
	}
	return &snapshot{docs: docs, terms: terms, metadata: meta, nextDID: idx.nextDID}
}

func (idx *Index) CommitTransaction() error {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	if !idx.inTxn {
		return fmt.Errorf("no transaction in progress")
	}
	idx.inTxn = false
	idx.txnSnapshot = nil
	if idx.txnFlushed {
		idx.revision++
	}
	return nil
}

func (idx *Index) CancelTransaction() error {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	if !idx.inTxn {
		return fmt.Errorf("no transaction in progress")
	}
	snap := idx.txnSnapshot
	idx.docs = snap.docs
	idx.terms = snap.terms
	idx.metadata = snap.metadata
	idx.nextDID = snap.nextDID
	idx.inTxn = false
	idx.txnSnapshot = nil
	return nil
}

func (idx *Index) Commit() error {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	idx.revision++
	return nil
}

func (idx *Index) Close() error {
	return nil
}

var _ shard.Backend = (*Index)(nil)
