// Package filter provides a composable boolean filter expression tree over
// resource fields and relationships. Expressions are built by the policy
// engine from filter-capable checks, simplified, and either translated to a
// storage backend's native filter representation or evaluated in memory
// against materialized records.
package filter

import (
	"fmt"
	"sort"
	"strings"
)

// Op identifies a comparison operator.
type Op string

const (
	OpEq  Op = "eq"
	OpNeq Op = "neq"
	OpLt  Op = "lt"
	OpLte Op = "lte"
	OpGt  Op = "gt"
	OpGte Op = "gte"
	OpIn  Op = "in"
)

// IsValid returns true when the operator is one of the supported values.
func (o Op) IsValid() bool {
	switch o {
	case OpEq, OpNeq, OpLt, OpLte, OpGt, OpGte, OpIn:
		return true
	default:
		return false
	}
}

// Expr is a node in a filter expression tree. The set of implementations is
// closed: Literal, Comparison, AndExpr, OrExpr, NotExpr, RelatedExpr.
type Expr interface {
	fmt.Stringer
	isExpr()
}

// Literal is a constant boolean, produced mostly by simplification.
type Literal struct {
	Value bool
}

// Comparison compares a field path ("owner_id", "team.org_id") against a
// constant value.
type Comparison struct {
	Field string
	Op    Op
	Value any
}

// AndExpr is the conjunction of its operands.
type AndExpr struct {
	Operands []Expr
}

// OrExpr is the disjunction of its operands.
type OrExpr struct {
	Operands []Expr
}

// NotExpr negates its operand.
type NotExpr struct {
	Operand Expr
}

// RelatedExpr scopes a sub-expression to a related entity reached through
// Path. For a to-many relationship the expression holds when any related
// record matches.
type RelatedExpr struct {
	Path string
	Sub  Expr
}

func (Literal) isExpr()     {}
func (Comparison) isExpr()  {}
func (AndExpr) isExpr()     {}
func (OrExpr) isExpr()      {}
func (NotExpr) isExpr()     {}
func (RelatedExpr) isExpr() {}

// Bool returns a constant boolean expression.
func Bool(v bool) Expr { return Literal{Value: v} }

// Compare builds a single field comparison.
func Compare(field string, op Op, value any) Expr {
	return Comparison{Field: field, Op: op, Value: value}
}

// Eq is shorthand for Compare(field, OpEq, value).
func Eq(field string, value any) Expr { return Compare(field, OpEq, value) }

// Neq is shorthand for Compare(field, OpNeq, value).
func Neq(field string, value any) Expr { return Compare(field, OpNeq, value) }

// Lt is shorthand for Compare(field, OpLt, value).
func Lt(field string, value any) Expr { return Compare(field, OpLt, value) }

// Lte is shorthand for Compare(field, OpLte, value).
func Lte(field string, value any) Expr { return Compare(field, OpLte, value) }

// Gt is shorthand for Compare(field, OpGt, value).
func Gt(field string, value any) Expr { return Compare(field, OpGt, value) }

// Gte is shorthand for Compare(field, OpGte, value).
func Gte(field string, value any) Expr { return Compare(field, OpGte, value) }

// In is shorthand for Compare(field, OpIn, values).
func In(field string, values ...any) Expr { return Compare(field, OpIn, values) }

// And builds a conjunction. Zero operands yield true, one operand is
// returned unchanged.
func And(exprs ...Expr) Expr {
	switch len(exprs) {
	case 0:
		return Literal{Value: true}
	case 1:
		return exprs[0]
	default:
		return AndExpr{Operands: exprs}
	}
}

// Or builds a disjunction. Zero operands yield false, one operand is
// returned unchanged.
func Or(exprs ...Expr) Expr {
	switch len(exprs) {
	case 0:
		return Literal{Value: false}
	case 1:
		return exprs[0]
	default:
		return OrExpr{Operands: exprs}
	}
}

// Not negates an expression.
func Not(e Expr) Expr { return NotExpr{Operand: e} }

// Related scopes sub to the related entity at path.
func Related(path string, sub Expr) Expr {
	return RelatedExpr{Path: path, Sub: sub}
}

func (l Literal) String() string {
	if l.Value {
		return "true"
	}
	return "false"
}

func (c Comparison) String() string {
	if c.Op == OpIn {
		if values, ok := c.Value.([]any); ok {
			parts := make([]string, 0, len(values))
			for _, v := range values {
				parts = append(parts, fmt.Sprintf("%v", v))
			}
			sort.Strings(parts)
			return fmt.Sprintf("%s in [%s]", c.Field, strings.Join(parts, ", "))
		}
	}
	return fmt.Sprintf("%s %s %v", c.Field, c.Op, c.Value)
}

func (a AndExpr) String() string { return joinOperands(a.Operands, " and ") }

func (o OrExpr) String() string { return joinOperands(o.Operands, " or ") }

func (n NotExpr) String() string { return fmt.Sprintf("not (%s)", n.Operand) }

func (r RelatedExpr) String() string { return fmt.Sprintf("%s: (%s)", r.Path, r.Sub) }

func joinOperands(operands []Expr, sep string) string {
	parts := make([]string, 0, len(operands))
	for _, op := range operands {
		parts = append(parts, op.String())
	}
	return "(" + strings.Join(parts, sep) + ")"
}
