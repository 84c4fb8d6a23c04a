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

// Package accuracy generates the precomputed range-acceleration terms
// and bucket-query trees spec.md §4.9 describes: at index time a field
// gets one term per configured accuracy level in addition to its exact
// value; at query time a numeric/date/geo range is rewritten into an
// AND of bucket-term unions instead of scanning every exact value.
//
// The bucketing algorithm (including MAX_TERMS) is carried over exactly
// from the original implementation's GenerateTerms::numeric.
package accuracy

import (
	"fmt"

	"github.com/Kronuz/xapiand-core/querydsl"
)

// MaxTerms bounds how many unioned bucket terms a single accuracy level
// may contribute to a range query; above this the level is skipped in
// favor of a coarser one, per the original implementation.
const MaxTerms = 50

// Level names a single accuracy granularity: every indexed value is
// truncated to a multiple of Step and stamped with Prefix.
type Level struct {
	Step   int64
	Prefix string
}

// modulus is the non-negative remainder of value/mod, matching the
// original's modulus() helper (C++ % is sign-preserving; this isn't).
func modulus(value, mod int64) int64 {
	m := value % mod
	if m < 0 {
		m += mod
	}
	return m
}

func bucketTerm(prefix string, value int64) querydsl.Node {
	return querydsl.Term{Value: fmt.Sprintf("%s%d", prefix, value)}
}

// IndexTerms returns one bucket term per accuracy level for value,
// which the indexer adds to the document alongside its exact value
// term. Mirrors GenerateTerms::integer/positive's per-document side.
func IndexTerms(levels []Level, value int64) []querydsl.Node {
	terms := make([]querydsl.Node, 0, len(levels))
	for _, lvl := range levels {
		bucket := value - modulus(value, lvl.Step)
		terms = append(terms, bucketTerm(lvl.Prefix, bucket))
	}
	return terms
}

// RangeQuery builds the bucket-accelerated query tree for [start, end]
// (inclusive), the direct Go translation of the original's
// GenerateTerms::numeric<T> template: find the finest level whose
// step is at least the range size, AND it with the finer level's
// union of buckets covering the remainder, falling back to a single
// level (or no acceleration at all) when no level keeps the term count
// under MaxTerms.
func RangeQuery(levels []Level, start, end int64) querydsl.Node {
	if len(levels) == 0 || end < start {
		return nil
	}

	sizeR := end - start

	pos := 0
	for pos < len(levels) && levels[pos].Step < sizeR {
		pos++
	}

	if pos < len(levels) {
		up := levels[pos]
		upStart := start - modulus(start, up.Step)
		upEnd := end - modulus(end, up.Step)

		if pos > 0 {
			low := levels[pos-1]
			lowStart := start - modulus(start, low.Step)
			lowEnd := end - modulus(end, low.Step)

			if (lowEnd-lowStart)/low.Step < MaxTerms {
				if upStart == upEnd {
					numUnions := (lowEnd - lowStart) / low.Step
					if numUnions == 0 {
						return bucketTerm(low.Prefix, lowStart)
					}
					lowUnion := unionRange(low.Prefix, lowStart, lowEnd, low.Step)
					return querydsl.AndNodes(bucketTerm(up.Prefix, upStart), lowUnion)
				}

				numUnions1 := (upEnd - lowStart) / low.Step
				var left querydsl.Node
				if numUnions1 == 0 {
					left = bucketTerm(low.Prefix, lowStart)
				} else {
					lowUnion := unionRangeExclusiveEnd(low.Prefix, lowStart, upEnd, low.Step)
					left = querydsl.AndNodes(bucketTerm(up.Prefix, upStart), lowUnion)
				}

				remStart := lowStart + low.Step*((upEnd-lowStart)/low.Step)
				numUnions2 := (lowEnd - remStart) / low.Step
				if numUnions2 == 0 {
					return querydsl.OrNodes(left, bucketTerm(low.Prefix, lowEnd))
				}
				right := querydsl.AndNodes(bucketTerm(up.Prefix, upEnd), unionRange(low.Prefix, remStart, lowEnd, low.Step))
				return querydsl.OrNodes(left, right)
			}
		}

		if upStart == upEnd {
			return bucketTerm(up.Prefix, upEnd)
		}
		return querydsl.OrNodes(bucketTerm(up.Prefix, upEnd), bucketTerm(up.Prefix, upStart))
	}

	if pos > 0 {
		low := levels[pos-1]
		lowStart := start - modulus(start, low.Step)
		lowEnd := end - modulus(end, low.Step)
		numUnions := (lowEnd - lowStart) / low.Step
		if numUnions < MaxTerms {
			return unionRange(low.Prefix, lowStart, lowEnd, low.Step)
		}
	}

	return nil
}

// unionRange ORs together every bucket term from start to end inclusive,
// stepping by step.
func unionRange(prefix string, start, end, step int64) querydsl.Node {
	nodes := []querydsl.Node{bucketTerm(prefix, end)}
	for v := start; v != end; v += step {
		nodes = append(nodes, bucketTerm(prefix, v))
	}
	return querydsl.OrNodes(nodes...)
}

// unionRangeExclusiveEnd ORs bucket terms starting at start and stepping
// by step while strictly less than end (end itself is not included),
// matching the original's "while (low_start < up_end)" loop.
func unionRangeExclusiveEnd(prefix string, start, end, step int64) querydsl.Node {
	var nodes []querydsl.Node
	nodes = append(nodes, bucketTerm(prefix, start))
	v := start
	for v < end {
		v += step
		if v < end {
			nodes = append(nodes, bucketTerm(prefix, v))
		}
	}
	return querydsl.OrNodes(nodes...)
}
