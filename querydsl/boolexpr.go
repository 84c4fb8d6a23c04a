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
	"strings"

	packrat "github.com/launix-de/go-packrat/v2"

	"github.com/Kronuz/xapiand-core/xerrors"
)

// BoolExprParser parses the raw boolean-expression surface syntax
// (spec.md §4.8's "(b) a raw boolean expression in a string") into the
// same Node tree the object form compiles to. The grammar —
//
//	expr   := orExpr
//	orExpr := andExpr (OR andExpr)*
//	andExpr:= notExpr (AND notExpr)*
//	notExpr:= NOT? primary
//	primary:= "(" expr ")" | field ":" "(" value (OR value)* ")"
//	        | field ":" value | value
//
// — is built once from go-packrat/v2 combinators the same way
// scm/packrat.go's parseSyntax assembles a grammar from its own
// combinator constructors; forwardParser stands in for that file's
// UndefinedParser to let the grouped-subexpression rule refer back to
// the as-yet-unbuilt top-level expr.
type BoolExprParser struct {
	schema Schema
	top    packrat.Parser

	field    packrat.Parser
	value    packrat.Parser
	fieldVal packrat.Parser
	fieldGrp packrat.Parser
	grouped  packrat.Parser
}

// forwardParser defers to whatever inner is set to at Match time,
// letting a grammar rule reference itself before construction
// finishes (scm/packrat.go's UndefinedParser plays the same role for
// the Scheme grammar).
type forwardParser struct {
	inner packrat.Parser
}

func (f *forwardParser) Match(s *packrat.Scanner) *packrat.Node {
	return f.inner.Match(s)
}

// NewBoolExprParser builds the grammar once; schema may be nil, in
// which case every leaf compiles to a raw term instead of a
// schema-cast value.
func NewBoolExprParser(schema Schema) *BoolExprParser {
	fieldParser := packrat.NewRegexParser(`[A-Za-z_][A-Za-z0-9_.]*`, false, true)
	valueParser := packrat.NewRegexParser(`"[^"]*"|[^\s()]+`, false, true)
	colon := packrat.NewAtomParser(":", false, true)
	lparen := packrat.NewAtomParser("(", false, true)
	rparen := packrat.NewAtomParser(")", false, true)
	andKw := packrat.NewAtomParser("AND", false, true)
	orKw := packrat.NewAtomParser("OR", false, true)
	notKw := packrat.NewAtomParser("NOT", false, true)

	exprFwd := &forwardParser{}

	fieldValue := packrat.NewAndParser(fieldParser, colon, valueParser)
	fieldGroup := packrat.NewAndParser(fieldParser, colon, lparen, packrat.NewKleeneParser(valueParser, orKw), rparen)
	grouped := packrat.NewAndParser(lparen, exprFwd, rparen)

	primary := packrat.NewOrParser(grouped, fieldGroup, fieldValue, valueParser)
	notExpr := packrat.NewAndParser(packrat.NewMaybeParser(notKw), primary)
	andExpr := packrat.NewKleeneParser(notExpr, andKw)
	orExpr := packrat.NewKleeneParser(andExpr, orKw)
	exprFwd.inner = orExpr

	top := packrat.NewAndParser(orExpr, packrat.NewEndParser(true))

	return &BoolExprParser{
		schema:   schema,
		top:      top,
		field:    fieldParser,
		value:    valueParser,
		fieldVal: fieldValue,
		fieldGrp: fieldGroup,
		grouped:  grouped,
	}
}

// Parse compiles a raw boolean expression string into a Node tree.
func (p *BoolExprParser) Parse(raw string) (Node, error) {
	scanner := packrat.NewScanner(raw, packrat.SkipWhitespaceAndCommentsRegex)
	node, err := packrat.Parse(p.top, scanner)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", xerrors.ErrQueryDSL, err)
	}
	// top = And(orExpr, end): children[0] is the orExpr match.
	return p.walkOrExpr(node.Children[0])
}

// walkOrExpr/walkAndExpr unpack a Kleene node's interleaved
// (match, separator, match, separator, ...) children (even indices are
// the real matches; odd indices are the AND/OR keyword separators).
func (p *BoolExprParser) walkOrExpr(n *packrat.Node) (Node, error) {
	var children []Node
	for i := 0; i < len(n.Children); i += 2 {
		child, err := p.walkAndExpr(n.Children[i])
		if err != nil {
			return nil, err
		}
		children = append(children, child)
	}
	return OrNodes(children...), nil
}

func (p *BoolExprParser) walkAndExpr(n *packrat.Node) (Node, error) {
	var children []Node
	for i := 0; i < len(n.Children); i += 2 {
		child, err := p.walkNotExpr(n.Children[i])
		if err != nil {
			return nil, err
		}
		children = append(children, child)
	}
	return AndNodes(children...), nil
}

// walkNotExpr unpacks notExpr := And(Maybe(NOT), primary). A bare Not
// node is a deliberate simplification: the grammar has no dedicated
// "B" side to build an AndNot against, so a negated primary surfaces
// as a Not wrapping its child and relies on the consumer treating Not
// inside an And the same way AndNot would.
func (p *BoolExprParser) walkNotExpr(n *packrat.Node) (Node, error) {
	negated := len(n.Children[0].Children) > 0
	child, err := p.walkPrimary(n.Children[1])
	if err != nil {
		return nil, err
	}
	if negated {
		return Not{Child: child}, nil
	}
	return child, nil
}

func (p *BoolExprParser) walkPrimary(n *packrat.Node) (Node, error) {
	// primary is an Or of alternatives; the matched node has exactly
	// one child, whose Parser pointer identifies which alternative won.
	alt := n.Children[0]
	switch alt.Parser {
	case p.grouped:
		return p.walkOrExpr(alt.Children[1])
	case p.fieldGrp:
		field := unquote(alt.Children[0].Matched)
		values := alt.Children[3] // the Kleene(value, OR) node
		var children []Node
		for i := 0; i < len(values.Children); i += 2 {
			leaf, err := p.leaf(field, unquote(values.Children[i].Matched))
			if err != nil {
				return nil, err
			}
			children = append(children, leaf)
		}
		return OrNodes(children...), nil
	case p.fieldVal:
		field := unquote(alt.Children[0].Matched)
		value := unquote(alt.Children[2].Matched)
		return p.leaf(field, value)
	default: // bare value, no field
		return p.leaf("", unquote(alt.Matched))
	}
}

func (p *BoolExprParser) leaf(field, value string) (Node, error) {
	if field == "" {
		return Term{Value: value}, nil
	}
	if p.schema == nil {
		return Term{Value: field + ":" + value}, nil
	}
	c := &Compiler{Schema: p.schema}
	return c.compileLeafValue(field, value)
}

func unquote(s string) string {
	if len(s) >= 2 && s[0] == '"' && s[len(s)-1] == '"' {
		return s[1 : len(s)-1]
	}
	return strings.TrimSpace(s)
}
