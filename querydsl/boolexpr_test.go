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

import "testing"

func TestBoolExprSingleFieldValue(t *testing.T) {
	p := NewBoolExprParser(testSchema())
	n, err := p.Parse(`tag:red`)
	if err != nil {
		t.Fatalf("Parse error: %v", err)
	}
	term, ok := n.(Term)
	if !ok || term.Value != "Btag:red" {
		t.Fatalf("got %#v", n)
	}
}

func TestBoolExprAndOfTwoFields(t *testing.T) {
	p := NewBoolExprParser(testSchema())
	n, err := p.Parse(`tag:red AND price:9`)
	if err != nil {
		t.Fatalf("Parse error: %v", err)
	}
	and, ok := n.(And)
	if !ok || len(and.Children) != 2 {
		t.Fatalf("expected And with 2 children, got %#v", n)
	}
}

func TestBoolExprOrBindsLooserThanAnd(t *testing.T) {
	p := NewBoolExprParser(testSchema())
	// a AND b OR c AND d should parse as Or(And(a,b), And(c,d)).
	n, err := p.Parse(`tag:a AND tag:b OR tag:c AND tag:d`)
	if err != nil {
		t.Fatalf("Parse error: %v", err)
	}
	or, ok := n.(Or)
	if !ok || len(or.Children) != 2 {
		t.Fatalf("expected top-level Or with 2 children, got %#v", n)
	}
	for _, child := range or.Children {
		if _, ok := child.(And); !ok {
			t.Fatalf("expected each Or child to be an And, got %#v", child)
		}
	}
}

func TestBoolExprParenthesesOverrideGrouping(t *testing.T) {
	p := NewBoolExprParser(testSchema())
	// a AND (b OR c) should parse as And(a, Or(b,c)).
	n, err := p.Parse(`tag:a AND (tag:b OR tag:c)`)
	if err != nil {
		t.Fatalf("Parse error: %v", err)
	}
	and, ok := n.(And)
	if !ok || len(and.Children) != 2 {
		t.Fatalf("expected And with 2 children, got %#v", n)
	}
	if _, ok := and.Children[1].(Or); !ok {
		t.Fatalf("expected second child to be Or, got %#v", and.Children[1])
	}
}

func TestBoolExprFieldScopedOrGroup(t *testing.T) {
	p := NewBoolExprParser(testSchema())
	n, err := p.Parse(`tag:(red OR blue)`)
	if err != nil {
		t.Fatalf("Parse error: %v", err)
	}
	or, ok := n.(Or)
	if !ok || len(or.Children) != 2 {
		t.Fatalf("expected Or with 2 children, got %#v", n)
	}
	for _, child := range or.Children {
		term, ok := child.(Term)
		if !ok {
			t.Fatalf("expected Term child, got %#v", child)
		}
		if term.Value != "Btag:red" && term.Value != "Btag:blue" {
			t.Fatalf("got %q", term.Value)
		}
	}
}

func TestBoolExprNotWrapsPrimary(t *testing.T) {
	p := NewBoolExprParser(testSchema())
	n, err := p.Parse(`NOT tag:red`)
	if err != nil {
		t.Fatalf("Parse error: %v", err)
	}
	not, ok := n.(Not)
	if !ok {
		t.Fatalf("expected Not, got %#v", n)
	}
	if _, ok := not.Child.(Term); !ok {
		t.Fatalf("expected Term child, got %#v", not.Child)
	}
}

func TestBoolExprBareValueWithNoField(t *testing.T) {
	p := NewBoolExprParser(testSchema())
	n, err := p.Parse(`hello`)
	if err != nil {
		t.Fatalf("Parse error: %v", err)
	}
	term, ok := n.(Term)
	if !ok || term.Value != "hello" {
		t.Fatalf("got %#v", n)
	}
}

func TestBoolExprQuotedValuePreservesSpaces(t *testing.T) {
	p := NewBoolExprParser(testSchema())
	n, err := p.Parse(`tag:"bright red"`)
	if err != nil {
		t.Fatalf("Parse error: %v", err)
	}
	term, ok := n.(Term)
	if !ok || term.Value != "Btag:bright red" {
		t.Fatalf("got %#v", n)
	}
}

func TestBoolExprNilSchemaFallsBackToRawTerms(t *testing.T) {
	p := NewBoolExprParser(nil)
	n, err := p.Parse(`tag:red`)
	if err != nil {
		t.Fatalf("Parse error: %v", err)
	}
	term, ok := n.(Term)
	if !ok || term.Value != "tag:red" {
		t.Fatalf("got %#v", n)
	}
}

func TestBoolExprTrailingGarbageErrors(t *testing.T) {
	p := NewBoolExprParser(testSchema())
	_, err := p.Parse(`tag:red )`)
	if err == nil {
		t.Fatalf("expected error for unmatched trailing input")
	}
}
