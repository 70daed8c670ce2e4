package filter

import (
	"fmt"
	"strings"
)

// Evaluate runs an expression against a materialized record. Records are
// nested maps keyed by field name; a Related path resolves to either a
// nested map (to-one) or a slice of maps (to-many, matching any element).
//
// A comparison whose field is absent from the record evaluates to false
// rather than erroring: an absent field never satisfies a constraint.
// Under negation this diverges from SQL NULL semantics: NOT over an
// absent-field comparison matches here, while `NOT (col = ?)` excludes
// NULL rows. Both sides of the in-process pipeline (this evaluator and the
// recheck phase) share the rule, so they always agree with each other;
// callers pushing negated filters to a SQL backend over nullable columns
// inherit that backend's NULL treatment instead.
func Evaluate(e Expr, record map[string]any) (bool, error) {
	switch n := e.(type) {
	case Literal:
		return n.Value, nil
	case Comparison:
		return evalComparison(n, record)
	case AndExpr:
		for _, op := range n.Operands {
			ok, err := Evaluate(op, record)
			if err != nil {
				return false, err
			}
			if !ok {
				return false, nil
			}
		}
		return true, nil
	case OrExpr:
		for _, op := range n.Operands {
			ok, err := Evaluate(op, record)
			if err != nil {
				return false, err
			}
			if ok {
				return true, nil
			}
		}
		return false, nil
	case NotExpr:
		ok, err := Evaluate(n.Operand, record)
		if err != nil {
			return false, err
		}
		return !ok, nil
	case RelatedExpr:
		return evalRelated(n, record)
	default:
		return false, fmt.Errorf("evaluate: unknown expression node %T", e)
	}
}

func evalComparison(c Comparison, record map[string]any) (bool, error) {
	if !c.Op.IsValid() {
		return false, fmt.Errorf("evaluate: invalid operator %q on field %q", c.Op, c.Field)
	}

	value, present := lookupField(record, c.Field)
	if !present {
		return false, nil
	}

	switch c.Op {
	case OpEq:
		return equalValues(value, c.Value), nil
	case OpNeq:
		return !equalValues(value, c.Value), nil
	case OpIn:
		values, ok := c.Value.([]any)
		if !ok {
			return false, fmt.Errorf("evaluate: in operator on field %q requires a value list", c.Field)
		}
		for _, candidate := range values {
			if equalValues(value, candidate) {
				return true, nil
			}
		}
		return false, nil
	default:
		cmp, comparable := compareValues(value, c.Value)
		if !comparable {
			return false, nil
		}
		switch c.Op {
		case OpLt:
			return cmp < 0, nil
		case OpLte:
			return cmp <= 0, nil
		case OpGt:
			return cmp > 0, nil
		case OpGte:
			return cmp >= 0, nil
		}
	}
	return false, nil
}

func evalRelated(r RelatedExpr, record map[string]any) (bool, error) {
	value, present := lookupField(record, r.Path)
	if !present || value == nil {
		return false, nil
	}

	switch related := value.(type) {
	case map[string]any:
		return Evaluate(r.Sub, related)
	case []map[string]any:
		for _, rec := range related {
			ok, err := Evaluate(r.Sub, rec)
			if err != nil {
				return false, err
			}
			if ok {
				return true, nil
			}
		}
		return false, nil
	case []any:
		for _, elem := range related {
			rec, ok := elem.(map[string]any)
			if !ok {
				return false, fmt.Errorf("evaluate: related path %q contains non-record element %T", r.Path, elem)
			}
			matched, err := Evaluate(r.Sub, rec)
			if err != nil {
				return false, err
			}
			if matched {
				return true, nil
			}
		}
		return false, nil
	default:
		return false, fmt.Errorf("evaluate: related path %q resolves to %T, want record or record list", r.Path, value)
	}
}

// lookupField walks a dotted path through nested maps.
func lookupField(record map[string]any, path string) (any, bool) {
	current := any(record)
	for _, segment := range strings.Split(path, ".") {
		m, ok := current.(map[string]any)
		if !ok {
			return nil, false
		}
		current, ok = m[segment]
		if !ok {
			return nil, false
		}
	}
	return current, true
}
