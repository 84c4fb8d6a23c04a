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
	"strconv"
	"strings"
	"time"

	"github.com/Kronuz/xapiand-core/xerrors"
)

// compoundOps maps each reserved compound key to the Node constructor
// its children feed (spec.md §4.8's operator list).
var compoundOps = map[string]func([]Node) Node{
	"_and": func(c []Node) Node { return AndNodes(c...) },
	"_or":  func(c []Node) Node { return OrNodes(c...) },
	"_and_not": func(c []Node) Node {
		if len(c) < 2 {
			return AndNodes(c...)
		}
		n := c[0]
		for _, child := range c[1:] {
			n = AndNot{A: n, B: child}
		}
		return n
	},
	"_xor": func(c []Node) Node {
		if len(c) < 2 {
			return AndNodes(c...)
		}
		n := c[0]
		for _, child := range c[1:] {
			n = Xor{A: n, B: child}
		}
		return n
	},
	"_and_maybe": func(c []Node) Node {
		if len(c) < 2 {
			return AndNodes(c...)
		}
		n := c[0]
		for _, child := range c[1:] {
			n = AndMaybe{A: n, B: child}
		}
		return n
	},
	"_filter": func(c []Node) Node {
		if len(c) < 2 {
			return AndNodes(c...)
		}
		n := c[0]
		for _, child := range c[1:] {
			n = Filter{A: n, B: child}
		}
		return n
	},
	"_synonym": func(c []Node) Node { return Synonym{Children: compact(c)} },
	"_max":     func(c []Node) Node { return Max{Children: compact(c)} },
}

var castTags = map[string]FieldType{
	"_integer":   FieldInteger,
	"_float":     FieldFloat,
	"_date":      FieldDate,
	"_time":      FieldTime,
	"_timedelta": FieldTimedelta,
	"_geo":       FieldGeo,
	"_text":      FieldText,
	"_keyword":   FieldKeyword,
}

func isReserved(key string) bool {
	if len(key) == 0 || key[0] != '_' {
		return false
	}
	return true
}

// Compiler turns an object-form query (as decoded from JSON:
// map[string]interface{} / []interface{} / scalars) into a Node tree.
type Compiler struct {
	Schema Schema

	// PathSeparator joins nested field-path segments (spec.md §4.8
	// "paths are joined with a separator"); defaults to "." if empty.
	PathSeparator string
}

func (c *Compiler) sep() string {
	if c.PathSeparator == "" {
		return "."
	}
	return c.PathSeparator
}

func (c *Compiler) joinPath(path, segment string) string {
	if path == "" {
		return segment
	}
	return path + c.sep() + segment
}

// Compile compiles the root of an object-form query.
func (c *Compiler) Compile(query map[string]interface{}) (Node, error) {
	return c.compileObject("", query)
}

func (c *Compiler) compile(path string, v interface{}) (Node, error) {
	switch val := v.(type) {
	case map[string]interface{}:
		return c.compileObject(path, val)
	case []interface{}:
		// A bare array at a field path is an implicit _or over values.
		children := make([]Node, 0, len(val))
		for _, item := range val {
			n, err := c.compile(path, item)
			if err != nil {
				return nil, err
			}
			children = append(children, n)
		}
		return OrNodes(children...), nil
	default:
		return c.compileLeafValue(path, val)
	}
}

func (c *Compiler) compileObject(path string, obj map[string]interface{}) (Node, error) {
	var nodes []Node

	for key, val := range obj {
		switch {
		case key == "_from" || key == "_to" || key == "_order" || key == "_metric":
			// Consumed by their owning compound leaf (_range, _sort);
			// seeing one here at the top level of an object means it
			// was already handled by compileRange below, or it is a
			// stray key we silently ignore rather than fail the whole
			// query over.
			continue

		case compoundOps[key] != nil:
			arr, ok := val.([]interface{})
			if !ok {
				return nil, fmt.Errorf("%w: %q expects an array", xerrors.ErrQueryDSL, key)
			}
			children := make([]Node, 0, len(arr))
			for _, item := range arr {
				n, err := c.compile(path, item)
				if err != nil {
					return nil, err
				}
				children = append(children, n)
			}
			nodes = append(nodes, compoundOps[key](children))

		case key == "_not":
			child, err := c.compile(path, val)
			if err != nil {
				return nil, err
			}
			nodes = append(nodes, Not{Child: child})

		case key == "_scale_weight":
			n, err := c.compileScaleWeight(path, val)
			if err != nil {
				return nil, err
			}
			nodes = append(nodes, n)

		case key == "_elite_set":
			n, err := c.compileEliteSet(path, val)
			if err != nil {
				return nil, err
			}
			nodes = append(nodes, n)

		case key == "_value":
			n, err := c.compileLeafValue(path, val)
			if err != nil {
				return nil, err
			}
			nodes = append(nodes, n)

		case key == "_raw":
			nodes = append(nodes, Term{Value: fmt.Sprint(val)})

		case key == "_range":
			n, err := c.compileRange(path, val)
			if err != nil {
				return nil, err
			}
			nodes = append(nodes, n)

		case key == "_in":
			n, err := c.compileIn(path, val)
			if err != nil {
				return nil, err
			}
			nodes = append(nodes, n)

		case castTags[key] != 0 || key == "_text" || key == "_keyword":
			n, err := c.compileCast(path, castTags[key], val)
			if err != nil {
				return nil, err
			}
			nodes = append(nodes, n)

		default:
			if isReserved(key) {
				return nil, fmt.Errorf("%w: unknown reserved key %q", xerrors.ErrQueryDSL, key)
			}
			// "An object with a single non-reserved key recurses into
			// that field's path" — applies the same way regardless of
			// how many sibling reserved keys are also present, since
			// those already consumed themselves above.
			n, err := c.compile(c.joinPath(path, key), val)
			if err != nil {
				return nil, err
			}
			nodes = append(nodes, n)
		}
	}

	return AndNodes(nodes...), nil
}

func (c *Compiler) compileScaleWeight(path string, val interface{}) (Node, error) {
	obj, ok := val.(map[string]interface{})
	if !ok {
		return nil, fmt.Errorf("%w: _scale_weight expects an object", xerrors.ErrQueryDSL)
	}
	factor := 1.0
	rest := make(map[string]interface{}, len(obj))
	for k, v := range obj {
		if k == "_factor" {
			factor = toFloat(v)
			continue
		}
		rest[k] = v
	}
	child, err := c.compileObject(path, rest)
	if err != nil {
		return nil, err
	}
	return ScaleWeight{Child: child, Factor: factor}, nil
}

func (c *Compiler) compileEliteSet(path string, val interface{}) (Node, error) {
	obj, ok := val.(map[string]interface{})
	if !ok {
		return nil, fmt.Errorf("%w: _elite_set expects an object", xerrors.ErrQueryDSL)
	}
	setSize := 10
	if s, ok := obj["_set_size"]; ok {
		setSize = int(toFloat(s))
		delete(obj, "_set_size")
	}
	arr, ok := obj["_items"].([]interface{})
	if !ok {
		return nil, fmt.Errorf("%w: _elite_set expects an _items array", xerrors.ErrQueryDSL)
	}
	children := make([]Node, 0, len(arr))
	for _, item := range arr {
		n, err := c.compile(path, item)
		if err != nil {
			return nil, err
		}
		children = append(children, n)
	}
	return EliteSet{Children: children, SetSize: setSize}, nil
}

// compileRange compiles `{"_range": {"_from": ..., "_to": ...}}`,
// narrowed by a ValueRange posting source and, when the field has
// accuracy levels configured, accelerated by the bucket terms the
// schema's RangeTerms callback produces (spec.md §4.9 step 4).
func (c *Compiler) compileRange(path string, val interface{}) (Node, error) {
	obj, ok := val.(map[string]interface{})
	if !ok {
		return nil, fmt.Errorf("%w: _range expects an object with _from/_to", xerrors.ErrQueryDSL)
	}

	field, _ := c.Schema.Field(path)
	from := serialiseBound(field, obj["_from"])
	to := serialiseBound(field, obj["_to"])

	value := ValueRange{Slot: field.Slot, From: from, To: to}
	if field.RangeTerms == nil {
		return value, nil
	}
	terms := field.RangeTerms(from, to)
	return AndNodes(terms, value), nil
}

// compileIn compiles `{"_in": {...}}`: a nested _range, or a geo shape
// (spec.md §4.8's geo-primitive row).
func (c *Compiler) compileIn(path string, val interface{}) (Node, error) {
	obj, ok := val.(map[string]interface{})
	if !ok {
		return nil, fmt.Errorf("%w: _in expects an object", xerrors.ErrQueryDSL)
	}
	if r, ok := obj["_range"]; ok {
		return c.compileRange(path, r)
	}
	if g, ok := obj["_geo"]; ok {
		return c.compileCast(path, FieldGeo, g)
	}
	return nil, fmt.Errorf("%w: _in expects a _range or _geo child", xerrors.ErrQueryDSL)
}

func (c *Compiler) compileCast(path string, cast FieldType, val interface{}) (Node, error) {
	field, _ := c.Schema.Field(path)
	if cast != FieldAuto {
		field.Type = cast
	}
	return c.compileTypedValue(path, field, val)
}

// compileLeafValue casts a bare scalar/object value against path's
// schema (or, absent one, the namespace fallback spec.md §4.8
// describes).
func (c *Compiler) compileLeafValue(path string, val interface{}) (Node, error) {
	field, known := c.Schema.Field(path)
	if !known {
		field.Namespace = true
	}
	n, err := c.compileTypedValue(path, field, val)
	if err != nil {
		// A typed-field serialisation failure falls back to namespace
		// interpretation (spec.md §4.8's field-naming rules).
		return Term{Value: namespaceTerm(path, val)}, nil
	}
	return n, err
}

func (c *Compiler) compileTypedValue(path string, field FieldSchema, val interface{}) (Node, error) {
	if field.Namespace {
		return Term{Value: namespaceTerm(path, val)}, nil
	}

	switch field.Type {
	case FieldInteger:
		n, ok := val.(float64)
		if !ok {
			return nil, fmt.Errorf("%w: %q expects an integer", xerrors.ErrSerialisation, path)
		}
		return Term{Value: fmt.Sprintf("%s%d", field.Prefix, int64(n))}, nil

	case FieldFloat:
		n := toFloat(val)
		return Term{Value: fmt.Sprintf("%s%g", field.Prefix, n)}, nil

	case FieldDate:
		s, ok := val.(string)
		if !ok {
			return nil, fmt.Errorf("%w: %q expects a date string", xerrors.ErrSerialisation, path)
		}
		t, err := time.Parse(time.RFC3339, s)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", xerrors.ErrSerialisation, err)
		}
		return Term{Value: fmt.Sprintf("%s%s", field.Prefix, t.UTC().Format("20060102150405"))}, nil

	case FieldTime, FieldTimedelta:
		seconds := toFloat(val)
		return Term{Value: fmt.Sprintf("%s%d", field.Prefix, int64(seconds))}, nil

	case FieldGeo:
		shape, err := parseGeoShape(val)
		if err != nil {
			return nil, err
		}
		if field.GeoTerms != nil {
			return AndNodes(field.GeoTerms(shape), GeoRange{Slot: field.Slot, Shape: shape}), nil
		}
		return GeoRange{Slot: field.Slot, Shape: shape}, nil

	case FieldKeyword:
		s := fmt.Sprint(val)
		return Term{Value: field.Prefix + strings.ToLower(s)}, nil

	case FieldText, FieldAuto:
		fallthrough
	default:
		s := fmt.Sprint(val)
		if field.Stemmed {
			return Term{Value: field.Prefix + strings.ToLower(s)}, nil
		}
		return Term{Value: field.Prefix + s}, nil
	}
}

func serialiseBound(field FieldSchema, v interface{}) string {
	if v == nil {
		return ""
	}
	switch field.Type {
	case FieldInteger:
		return fmt.Sprintf("%020d", int64(toFloat(v)))
	case FieldFloat, FieldTime, FieldTimedelta:
		return fmt.Sprintf("%g", toFloat(v))
	case FieldDate:
		if s, ok := v.(string); ok {
			if t, err := time.Parse(time.RFC3339, s); err == nil {
				return t.UTC().Format("20060102150405")
			}
		}
		return fmt.Sprint(v)
	default:
		return fmt.Sprint(v)
	}
}

func namespaceTerm(path string, val interface{}) string {
	return fmt.Sprintf("%s:%v", path, val)
}

func toFloat(v interface{}) float64 {
	switch n := v.(type) {
	case float64:
		return n
	case int:
		return float64(n)
	case int64:
		return float64(n)
	case string:
		f, err := strconv.ParseFloat(n, 64)
		if err == nil {
			return f
		}
	}
	return 0
}

func parseGeoShape(v interface{}) (GeoShape, error) {
	obj, ok := v.(map[string]interface{})
	if !ok {
		return GeoShape{}, fmt.Errorf("%w: geo value must be an object", xerrors.ErrSerialisation)
	}

	var points []interface{}
	switch coords := obj["coordinates"].(type) {
	case []interface{}:
		points = coords
	default:
		if lat, ok := obj["lat"]; ok {
			if lon, ok := obj["lon"]; ok {
				return GeoShape{
					Centroids: []GeoPoint{{Lat: toFloat(lat), Lon: toFloat(lon)}},
					RadiusM:   toFloat(obj["radius"]),
				}, nil
			}
		}
		return GeoShape{}, fmt.Errorf("%w: unrecognised geo shape", xerrors.ErrSerialisation)
	}

	shape := GeoShape{RadiusM: toFloat(obj["radius"])}
	for _, p := range points {
		pair, ok := p.([]interface{})
		if !ok || len(pair) < 2 {
			continue
		}
		shape.Centroids = append(shape.Centroids, GeoPoint{Lat: toFloat(pair[1]), Lon: toFloat(pair[0])})
	}
	return shape, nil
}
