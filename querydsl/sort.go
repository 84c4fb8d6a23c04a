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

import (
	"fmt"

	"github.com/Kronuz/xapiand-core/xerrors"
)

// SortKey is one entry of a compiled _sort clause: a field to sort by
// (via its slot), ascending or descending, with an optional metric
// (e.g. a string-distance function for geo/text sorts) spec.md §4.8
// names but leaves implementation-defined.
type SortKey struct {
	Path   string
	Slot   int
	Order  string // "asc" or "desc"
	Metric string
}

// CompileSort compiles `_sort`'s value into a multi-value key maker
// (spec.md §4.8): an array of single-field objects, or a single bare
// field name/object for the common one-key case.
func (c *Compiler) CompileSort(v interface{}) ([]SortKey, error) {
	switch val := v.(type) {
	case []interface{}:
		keys := make([]SortKey, 0, len(val))
		for _, item := range val {
			k, err := c.compileSortEntry(item)
			if err != nil {
				return nil, err
			}
			keys = append(keys, k)
		}
		return keys, nil
	default:
		k, err := c.compileSortEntry(val)
		if err != nil {
			return nil, err
		}
		return []SortKey{k}, nil
	}
}

func (c *Compiler) compileSortEntry(v interface{}) (SortKey, error) {
	switch val := v.(type) {
	case string:
		field, _ := c.Schema.Field(val)
		return SortKey{Path: val, Slot: field.Slot, Order: "asc"}, nil

	case map[string]interface{}:
		var path string
		order := "asc"
		metric := ""
		for key, sub := range val {
			switch key {
			case "_order":
				if s, ok := sub.(string); ok {
					order = s
				}
			case "_metric":
				if s, ok := sub.(string); ok {
					metric = s
				}
			default:
				if isReserved(key) {
					return SortKey{}, fmt.Errorf("%w: unknown _sort key %q", xerrors.ErrQueryDSL, key)
				}
				path = c.joinPath(path, key)
			}
		}
		if order != "asc" && order != "desc" {
			return SortKey{}, fmt.Errorf("%w: _order must be asc or desc, got %q", xerrors.ErrQueryDSL, order)
		}
		field, _ := c.Schema.Field(path)
		return SortKey{Path: path, Slot: field.Slot, Order: order, Metric: metric}, nil

	default:
		return SortKey{}, fmt.Errorf("%w: _sort entry must be a string or object", xerrors.ErrQueryDSL)
	}
}
