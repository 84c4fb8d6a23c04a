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

// Backend is the B-tree/posting-list index engine, treated as a
// black box per spec.md §1 ("the underlying Xapian engine ... the
// operations enumerated in §6"). Anything satisfying this interface —
// a real Xapian binding, or the in-memory memindex.Index this package
// ships for tests — can sit underneath a Shard.
type Backend interface {
	// Revision returns the backend's current on-disk revision number.
	Revision() uint64

	// AddDocument assigns the next backend-local document id and
	// indexes doc under it.
	AddDocument(doc Document) (did uint64, err error)

	// ReplaceDocument overwrites the document at did with doc, or
	// creates it if absent.
	ReplaceDocument(did uint64, doc Document) error

	// ReplaceDocumentByTerm replaces the (at most one) document
	// carrying a unique term, or creates one, returning its did.
	ReplaceDocumentByTerm(term string, doc Document) (did uint64, err error)

	// DeleteDocument removes the document at did.
	DeleteDocument(did uint64) error

	// DeleteDocumentByTerm removes the document carrying term, if any.
	DeleteDocumentByTerm(term string) error

	// GetDocument fetches the document at did.
	GetDocument(did uint64) (Document, error)

	// GetDocIDTerm resolves a unique term to the did of the document
	// carrying it.
	GetDocIDTerm(term string) (uint64, error)

	// GetMetadata / SetMetadata manage out-of-band key/value pairs.
	GetMetadata(key string) ([]byte, error)
	SetMetadata(key string, value []byte) error

	// ListMetadataKeys enumerates every metadata key currently set,
	// for the multi-shard union of get_metadata_keys (spec.md §4.7).
	ListMetadataKeys() ([]string, error)

	// AddSpelling / RemoveSpelling adjust the backend's internal
	// spelling-correction frequency table.
	AddSpelling(word string, freqInc int) error
	RemoveSpelling(word string, freqDec int) error

	// BeginTransaction / CommitTransaction / CancelTransaction guard a
	// nested write batch; flushed selects whether the transaction
	// leaves durable commits in its wake.
	BeginTransaction(flushed bool) error
	CommitTransaction() error
	CancelTransaction() error

	// Commit durably advances the revision by exactly one.
	Commit() error

	// Close releases the backend handle.
	Close() error
}
