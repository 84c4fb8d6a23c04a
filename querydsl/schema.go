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

package querydsl

// FieldType selects how a leaf value is cast and indexed (spec.md
// §4.8's cast tags: _integer, _float, _date, _time, _timedelta, _geo,
// _text, _keyword).
type FieldType int

const (
	FieldAuto FieldType = iota
	FieldText
	FieldKeyword
	FieldInteger
	FieldFloat
	FieldDate
	FieldTime
	FieldTimedelta
	FieldGeo
)

// FieldSchema is what Compiler needs to know about one field path to
// cast and index a leaf value. RangeTerms/GeoTerms are injected by the
// caller (the component owning accuracy.RangeQuery/GeoRangeQuery)
// rather than imported directly, so querydsl never depends on
// accuracy — accuracy already depends on querydsl for its Node tree.
type FieldSchema struct {
	Type   FieldType
	Slot   int
	Prefix string // term prefix for keyword/text/cast terms

	// Namespace marks a field whose schema was never pinned to a type:
	// queries against it resolve through a synthetic prefix guessed
	// from the value instead of a fixed cast (spec.md §4.8's
	// "Field-naming rules").
	Namespace bool

	// Stemmed enables free-text term generation (lower-cased, no
	// further tokenizer beyond the field's configured stemmer, which
	// is out of scope for this package — spec.md §1 treats it as an
	// external collaborator).
	Stemmed bool

	// RangeTerms builds the accuracy-bucket term union/intersection
	// for a [from, to] range over this field, when the field has
	// accuracy levels configured. Nil means "no bucket acceleration";
	// the range compiles to a bare ValueRange node.
	RangeTerms func(from, to string) Node

	// GeoTerms builds the accuracy-bucket term tree for a geo shape's
	// HTM coverage. Nil means the shape compiles to a bare GeoRange
	// node with no term acceleration.
	GeoTerms func(shape GeoShape) Node
}

// Schema resolves a dotted field path to its indexing metadata. A
// field absent from the schema is treated as FieldAuto/Namespace per
// spec.md §4.8's fallback rule.
type Schema interface {
	Field(path string) (FieldSchema, bool)
}

// MapSchema is the trivial Schema backed by a plain map, the shape a
// server's loaded index definition would build at startup.
type MapSchema map[string]FieldSchema

func (m MapSchema) Field(path string) (FieldSchema, bool) {
	f, ok := m[path]
	return f, ok
}

// GeoShape is the minimal geo primitive _in/_geo leaves carry: a set
// of lat/lon centroids (for ranking) plus the caller-supplied radius
// for a circle, or zero for a bare point/multipoint.
type GeoShape struct {
	Centroids []GeoPoint
	RadiusM   float64
}

// GeoPoint is a latitude/longitude pair in degrees.
type GeoPoint struct {
	Lat, Lon float64
}
