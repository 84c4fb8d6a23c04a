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
	"testing"
)

func testSchema() MapSchema {
	return MapSchema{
		"title": {Type: FieldText, Prefix: "Atitle:", Stemmed: true},
		"tag":   {Type: FieldKeyword, Prefix: "Btag:"},
		"price": {Type: FieldFloat, Prefix: "Fprice:"},
		"qty": {Type: FieldInteger, Prefix: "Iqty:", RangeTerms: func(from, to string) Node {
			return Term{Value: "RANGE:" + from + ":" + to}
		}},
		"published": {Type: FieldDate, Prefix: "Dpub:"},
		"location": {Type: FieldGeo, Prefix: "Gloc:", GeoTerms: func(shape GeoShape) Node {
			return Term{Value: "GEOTERM"}
		}},
	}
}

func mustCompile(t *testing.T, c *Compiler, query map[string]interface{}) Node {
	t.Helper()
	n, err := c.Compile(query)
	if err != nil {
		t.Fatalf("Compile(%v) error: %v", query, err)
	}
	return n
}

func TestCompileSingleFieldRecursesIntoPath(t *testing.T) {
	c := &Compiler{Schema: testSchema()}
	n := mustCompile(t, c, map[string]interface{}{"tag": "red"})
	term, ok := n.(Term)
	if !ok {
		t.Fatalf("expected Term, got %T", n)
	}
	if term.Value != "Btag:red" {
		t.Fatalf("got %q", term.Value)
	}
}

func TestCompileAndOrCompound(t *testing.T) {
	c := &Compiler{Schema: testSchema()}
	n := mustCompile(t, c, map[string]interface{}{
		"_and": []interface{}{
			map[string]interface{}{"tag": "red"},
			map[string]interface{}{"tag": "blue"},
		},
	})
	and, ok := n.(And)
	if !ok || len(and.Children) != 2 {
		t.Fatalf("expected And with 2 children, got %#v", n)
	}
}

func TestCompileAndNotLeftFolds(t *testing.T) {
	c := &Compiler{Schema: testSchema()}
	n := mustCompile(t, c, map[string]interface{}{
		"_and_not": []interface{}{
			map[string]interface{}{"tag": "a"},
			map[string]interface{}{"tag": "b"},
			map[string]interface{}{"tag": "c"},
		},
	})
	outer, ok := n.(AndNot)
	if !ok {
		t.Fatalf("expected AndNot, got %T", n)
	}
	if _, ok := outer.A.(AndNot); !ok {
		t.Fatalf("expected left-folded AndNot nesting, got %#v", outer.A)
	}
}

func TestCompileNotWrapsChild(t *testing.T) {
	c := &Compiler{Schema: testSchema()}
	n := mustCompile(t, c, map[string]interface{}{
		"_not": map[string]interface{}{"tag": "red"},
	})
	if _, ok := n.(Not); !ok {
		t.Fatalf("expected Not, got %T", n)
	}
}

func TestCompileScaleWeight(t *testing.T) {
	c := &Compiler{Schema: testSchema()}
	n := mustCompile(t, c, map[string]interface{}{
		"_scale_weight": map[string]interface{}{
			"_factor": 2.5,
			"tag":     "red",
		},
	})
	sw, ok := n.(ScaleWeight)
	if !ok {
		t.Fatalf("expected ScaleWeight, got %T", n)
	}
	if sw.Factor != 2.5 {
		t.Fatalf("got factor %v", sw.Factor)
	}
	if _, ok := sw.Child.(Term); !ok {
		t.Fatalf("expected Term child, got %#v", sw.Child)
	}
}

func TestCompileEliteSet(t *testing.T) {
	c := &Compiler{Schema: testSchema()}
	n := mustCompile(t, c, map[string]interface{}{
		"_elite_set": map[string]interface{}{
			"_set_size": 3,
			"_items": []interface{}{
				map[string]interface{}{"tag": "a"},
				map[string]interface{}{"tag": "b"},
			},
		},
	})
	es, ok := n.(EliteSet)
	if !ok {
		t.Fatalf("expected EliteSet, got %T", n)
	}
	if es.SetSize != 3 || len(es.Children) != 2 {
		t.Fatalf("got %#v", es)
	}
}

func TestCompileRangeWithAccuracyAcceleration(t *testing.T) {
	c := &Compiler{Schema: testSchema()}
	n := mustCompile(t, c, map[string]interface{}{
		"qty": map[string]interface{}{
			"_range": map[string]interface{}{"_from": 1.0, "_to": 10.0},
		},
	})
	and, ok := n.(And)
	if !ok || len(and.Children) != 2 {
		t.Fatalf("expected And{terms, ValueRange}, got %#v", n)
	}
	if _, ok := and.Children[1].(ValueRange); !ok {
		t.Fatalf("expected ValueRange second child, got %#v", and.Children[1])
	}
}

func TestCompileRangeWithoutAccuracyAcceleration(t *testing.T) {
	c := &Compiler{Schema: testSchema()}
	n := mustCompile(t, c, map[string]interface{}{
		"price": map[string]interface{}{
			"_range": map[string]interface{}{"_from": 1.0, "_to": 10.0},
		},
	})
	if _, ok := n.(ValueRange); !ok {
		t.Fatalf("expected bare ValueRange, got %#v", n)
	}
}

func TestCompileInGeo(t *testing.T) {
	c := &Compiler{Schema: testSchema()}
	n := mustCompile(t, c, map[string]interface{}{
		"location": map[string]interface{}{
			"_in": map[string]interface{}{
				"_geo": map[string]interface{}{"lat": 40.0, "lon": -3.0, "radius": 100.0},
			},
		},
	})
	and, ok := n.(And)
	if !ok || len(and.Children) != 2 {
		t.Fatalf("expected And{GeoTerms, GeoRange}, got %#v", n)
	}
	if _, ok := and.Children[1].(GeoRange); !ok {
		t.Fatalf("expected GeoRange second child, got %#v", and.Children[1])
	}
}

func TestCompileCastTagOverridesFieldType(t *testing.T) {
	c := &Compiler{Schema: testSchema()}
	n := mustCompile(t, c, map[string]interface{}{
		"tag": map[string]interface{}{"_integer": 5.0},
	})
	term, ok := n.(Term)
	if !ok {
		t.Fatalf("expected Term, got %T", n)
	}
	if term.Value != "Btag:5" {
		t.Fatalf("expected tag's own prefix with the cast's integer formatting, got %q", term.Value)
	}
}

func TestCompileNamespaceFallbackForUnknownField(t *testing.T) {
	c := &Compiler{Schema: testSchema()}
	n := mustCompile(t, c, map[string]interface{}{"unknownfield": "hello"})
	term, ok := n.(Term)
	if !ok {
		t.Fatalf("expected Term, got %T", n)
	}
	if term.Value != "unknownfield:hello" {
		t.Fatalf("got %q", term.Value)
	}
}

func TestCompileNamespaceFallbackOnSerialisationFailure(t *testing.T) {
	c := &Compiler{Schema: testSchema()}
	// qty is FieldInteger, which requires a float64; a string value fails
	// serialisation, so the leaf falls back to the namespace term.
	n := mustCompile(t, c, map[string]interface{}{"qty": "not-a-number"})
	term, ok := n.(Term)
	if !ok || term.Value != "qty:not-a-number" {
		t.Fatalf("expected namespace fallback term, got %#v", n)
	}
}

func TestCompileUnknownReservedKeyErrors(t *testing.T) {
	c := &Compiler{Schema: testSchema()}
	_, err := c.Compile(map[string]interface{}{"_bogus": "x"})
	if err == nil {
		t.Fatalf("expected error for unknown reserved key")
	}
}

func TestCompileImplicitOrOverArray(t *testing.T) {
	c := &Compiler{Schema: testSchema()}
	n := mustCompile(t, c, map[string]interface{}{
		"tag": []interface{}{"red", "blue"},
	})
	or, ok := n.(Or)
	if !ok || len(or.Children) != 2 {
		t.Fatalf("expected Or with 2 children, got %#v", n)
	}
}
