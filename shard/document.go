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

// Package shard wraps a single backend index handle plus (if local)
// its blob store and WAL (spec.md §4.2): the unit a ShardEndpoint
// checks out to exactly one caller at a time.
package shard

import "fmt"

// Term is a single posting the backend indexes a document under, with
// its within-document frequency.
type Term struct {
	Term string
	Wdf  uint32
}

// Document is the opaque unit the core hands to and receives from the
// backend (spec.md §3): terms, numeric values by slot, and a
// serialized data blob carrying inline/external blob locators.
type Document struct {
	Terms  []Term
	Values map[int]string // slot -> serialised value
	Data   []byte
}

// VersionSlot is the numeric value slot that carries the sortable
// serialised version integer spec.md §3 names.
const VersionSlot = 0

// ShardsHintSlot carries shard number and shard count for fresh
// multi-shard inserts (spec.md §3 "shards-hint slot").
const ShardsHintSlot = 1

// VersionTerm builds the `V{did}/{version}` uniqueness term spec.md
// §4.2 describes for replace_document's version-conflict check.
func VersionTerm(did uint64, version uint64) string {
	return fmt.Sprintf("V%d/%d", did, version)
}

// MultiShardTerm is the `QN` prefixed term a term-based replace uses to
// address a document by its global multi-shard id (spec.md §4.2).
func MultiShardTerm(globalID uint64) string {
	return fmt.Sprintf("QN%d", globalID)
}

// SplitGlobalID derives (shardDID, shardNumber) from a global document
// id given the shard count n, per spec.md §4.2:
// shard_did = (did-1)/n + 1, shard_number = (did-1)%n.
func SplitGlobalID(globalID uint64, n uint64) (shardDID uint64, shardNumber uint64) {
	if n == 0 {
		n = 1
	}
	shardDID = (globalID-1)/n + 1
	shardNumber = (globalID - 1) % n
	return
}

// JoinGlobalID is SplitGlobalID's inverse: given a shard-local id and
// the shard number/count it was assigned under, recompute the global
// multi-shard id the enclosing multi-shard database exposes to callers.
func JoinGlobalID(shardDID uint64, shardNumber uint64, n uint64) uint64 {
	if n == 0 {
		n = 1
	}
	return (shardDID-1)*n + shardNumber + 1
}
