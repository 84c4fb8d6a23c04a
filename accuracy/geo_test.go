package accuracy

import (
	"testing"

	"github.com/Kronuz/xapiand-core/htm"
)

func TestGeoRangeQueryEmptyWhenNoRanges(t *testing.T) {
	levels := []GeoLevel{{Depth: 4, Prefix: "G"}}
	if got := GeoRangeQuery(levels, nil, 10); got != nil {
		t.Fatalf("GeoRangeQuery with no ranges = %v, want nil", got)
	}
}

func TestGeoRangeQueryPicksFirstLevelUnderBudget(t *testing.T) {
	levels := []GeoLevel{{Depth: 2, Prefix: "G"}}
	// A small range at depth 6, coarsened down to depth 2.
	ranges := []htm.Range{{Start: 1 << 8, End: 1<<8 + 3}}
	got := GeoRangeQuery(levels, ranges, 6)
	if got == nil {
		t.Fatal("expected a non-nil query tree")
	}
}

func TestIndexGeoTermsDedupes(t *testing.T) {
	levels := []GeoLevel{{Depth: 1, Prefix: "G"}}
	ranges := []htm.Range{{Start: 4, End: 7}, {Start: 5, End: 6}}
	terms := IndexGeoTerms(levels, ranges, 2)
	if len(terms) != 1 {
		t.Fatalf("IndexGeoTerms returned %d terms, want 1 (both ranges coarsen to the same id)", len(terms))
	}
}
