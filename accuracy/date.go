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
	"time"

	"github.com/Kronuz/xapiand-core/querydsl"
)

// DateGranularity names one of the original implementation's nine date
// accuracy buckets (Datetime::tm_t-based millennium/century/.../second).
type DateGranularity int

const (
	Second DateGranularity = iota
	Minute
	Hour
	Day
	Month
	Year
	Decade
	Century
	Millennium
)

// DateLevel pairs a granularity with the term prefix indexed at it.
type DateLevel struct {
	Granularity DateGranularity
	Prefix      string
}

// truncate rounds t down to the start of its bucket at g, in UTC.
func truncate(t time.Time, g DateGranularity) time.Time {
	t = t.UTC()
	y, mo, d := t.Date()
	switch g {
	case Second:
		return time.Date(y, mo, d, t.Hour(), t.Minute(), t.Second(), 0, time.UTC)
	case Minute:
		return time.Date(y, mo, d, t.Hour(), t.Minute(), 0, 0, time.UTC)
	case Hour:
		return time.Date(y, mo, d, t.Hour(), 0, 0, 0, time.UTC)
	case Day:
		return time.Date(y, mo, d, 0, 0, 0, 0, time.UTC)
	case Month:
		return time.Date(y, mo, 1, 0, 0, 0, 0, time.UTC)
	case Year:
		return time.Date(y, time.January, 1, 0, 0, 0, 0, time.UTC)
	case Decade:
		return time.Date(yearBucket(y, 10), time.January, 1, 0, 0, 0, 0, time.UTC)
	case Century:
		return time.Date(yearBucket(y, 100), time.January, 1, 0, 0, 0, 0, time.UTC)
	case Millennium:
		return time.Date(yearBucket(y, 1000), time.January, 1, 0, 0, 0, 0, time.UTC)
	default:
		return t
	}
}

// yearBucket mirrors the original's year(int, int) helper: truncate to
// a multiple of acc, but datetimes only accept years greater than 0.
func yearBucket(year, acc int) int {
	year -= year % acc
	if year > 0 {
		return year
	}
	return acc
}

// next advances t by one bucket at granularity g.
func next(t time.Time, g DateGranularity) time.Time {
	switch g {
	case Second:
		return t.Add(time.Second)
	case Minute:
		return t.Add(time.Minute)
	case Hour:
		return t.Add(time.Hour)
	case Day:
		return t.AddDate(0, 0, 1)
	case Month:
		return t.AddDate(0, 1, 0)
	case Year:
		return t.AddDate(1, 0, 0)
	case Decade:
		return t.AddDate(10, 0, 0)
	case Century:
		return t.AddDate(100, 0, 0)
	case Millennium:
		return t.AddDate(1000, 0, 0)
	default:
		return t
	}
}

// units counts how many g-sized buckets separate the truncated start
// and end (inclusive count minus one), used to decide whether a level
// keeps the generated union under MaxTerms.
func units(start, end time.Time, g DateGranularity) int {
	n := 0
	t := truncate(start, g)
	e := truncate(end, g)
	for t.Before(e) {
		t = next(t, g)
		n++
	}
	return n
}

func dateTerm(prefix string, t time.Time) querydsl.Node {
	return querydsl.Term{Value: fmt.Sprintf("%s%s", prefix, t.Format("20060102150405"))}
}

// IndexDateTerms returns one bucket term per configured level for t,
// mirroring GenerateTerms::date's per-document side.
func IndexDateTerms(levels []DateLevel, t time.Time) []querydsl.Node {
	terms := make([]querydsl.Node, 0, len(levels))
	for _, lvl := range levels {
		terms = append(terms, dateTerm(lvl.Prefix, truncate(t, lvl.Granularity)))
	}
	return terms
}

// DateRangeQuery builds a bucket-accelerated query for [start, end].
// Unlike the numeric case's two-level AND composition, this picks the
// single finest configured granularity whose bucket count still fits
// under MaxTerms — calendar buckets are irregular widths (a month is
// not a fixed number of seconds), so the coarse/fine AND trick numeric
// ranges use does not carry over cleanly; see DESIGN.md.
func DateRangeQuery(levels []DateLevel, start, end time.Time) querydsl.Node {
	if len(levels) == 0 || end.Before(start) {
		return nil
	}

	var best *DateLevel
	bestUnits := -1
	for i := range levels {
		lvl := &levels[i]
		n := units(start, end, lvl.Granularity)
		if n < MaxTerms && (best == nil || n > bestUnits) {
			best = lvl
			bestUnits = n
		}
	}
	if best == nil {
		return nil
	}

	t := truncate(start, best.Granularity)
	e := truncate(end, best.Granularity)
	nodes := []querydsl.Node{dateTerm(best.Prefix, t)}
	for t.Before(e) {
		t = next(t, best.Granularity)
		nodes = append(nodes, dateTerm(best.Prefix, t))
	}
	return querydsl.OrNodes(nodes...)
}
