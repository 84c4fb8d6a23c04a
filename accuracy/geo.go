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

package accuracy

import (
	"fmt"

	"github.com/Kronuz/xapiand-core/htm"
	"github.com/Kronuz/xapiand-core/querydsl"
)

// GeoLevel pairs an HTM depth with the term prefix indexed at it.
type GeoLevel struct {
	Depth  int
	Prefix string
}

func geoTerm(prefix string, id htm.ID) querydsl.Node {
	return querydsl.Term{Value: fmt.Sprintf("%s%d", prefix, uint64(id))}
}

// IndexGeoTerms returns one bucket term per configured depth for every
// trixel range a shape's coverage produced, mirroring
// GenerateTerms::geo's per-document side: every trixel a shape
// touches gets stamped at each configured accuracy depth, coarsened
// from the finest depth the caller already computed (rangeDepth).
func IndexGeoTerms(levels []GeoLevel, ranges []htm.Range, rangeDepth int) []querydsl.Node {
	seen := make(map[string]struct{})
	var terms []querydsl.Node
	for _, lvl := range levels {
		for _, r := range ranges {
			coarse := htm.Coarsen(r, rangeDepth, lvl.Depth)
			for id := coarse.Start; id <= coarse.End; id++ {
				key := fmt.Sprintf("%d:%d", lvl.Depth, id)
				if _, ok := seen[key]; ok {
					continue
				}
				seen[key] = struct{}{}
				terms = append(terms, geoTerm(lvl.Prefix, id))
			}
		}
	}
	return terms
}

// GeoRangeQuery builds the bucket-accelerated query for a shape's
// trixel coverage (ranges, computed at rangeDepth): it picks the
// coarsest configured depth whose coarsened, merged range set stays
// under MaxTerms terms, unioning a term per surviving trixel id —
// the geo counterpart of GenerateTerms::geo.
func GeoRangeQuery(levels []GeoLevel, ranges []htm.Range, rangeDepth int) querydsl.Node {
	if len(levels) == 0 || len(ranges) == 0 {
		return nil
	}

	// Levels are expected coarsest-first (smallest Depth first); try
	// each until the generated term count fits the budget.
	for _, lvl := range levels {
		merged := htm.MergeRanges(coarsenAll(ranges, rangeDepth, lvl.Depth))
		count := 0
		for _, r := range merged {
			count += int(r.End-r.Start) + 1
		}
		if count == 0 || count > MaxTerms {
			continue
		}
		var nodes []querydsl.Node
		for _, r := range merged {
			for id := r.Start; id <= r.End; id++ {
				nodes = append(nodes, geoTerm(lvl.Prefix, id))
			}
		}
		return querydsl.OrNodes(nodes...)
	}
	return nil
}

func coarsenAll(ranges []htm.Range, fromDepth, toDepth int) []htm.Range {
	out := make([]htm.Range, len(ranges))
	for i, r := range ranges {
		out[i] = htm.Coarsen(r, fromDepth, toDepth)
	}
	return out
}
