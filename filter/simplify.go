package filter

// Simplify folds constants and flattens nested conjunctions and
// disjunctions. It also merges comparisons on the same field inside a
// conjunction where a single comparison is provably equivalent; the merge is
// an optimization only, the unmerged tree is always semantically valid.
func Simplify(e Expr) Expr {
	switch n := e.(type) {
	case Literal:
		return n
	case Comparison:
		return n
	case NotExpr:
		inner := Simplify(n.Operand)
		switch sub := inner.(type) {
		case Literal:
			return Literal{Value: !sub.Value}
		case NotExpr:
			return sub.Operand
		default:
			return NotExpr{Operand: inner}
		}
	case RelatedExpr:
		return RelatedExpr{Path: n.Path, Sub: Simplify(n.Sub)}
	case AndExpr:
		return simplifyAnd(n)
	case OrExpr:
		return simplifyOr(n)
	default:
		return e
	}
}

func simplifyAnd(a AndExpr) Expr {
	operands := make([]Expr, 0, len(a.Operands))
	for _, op := range a.Operands {
		simplified := Simplify(op)
		switch sub := simplified.(type) {
		case Literal:
			if !sub.Value {
				return Literal{Value: false}
			}
			// drop true
		case AndExpr:
			operands = append(operands, sub.Operands...)
		default:
			operands = append(operands, simplified)
		}
	}
	operands = mergeConjunction(operands)
	return And(operands...)
}

func simplifyOr(o OrExpr) Expr {
	operands := make([]Expr, 0, len(o.Operands))
	for _, op := range o.Operands {
		simplified := Simplify(op)
		switch sub := simplified.(type) {
		case Literal:
			if sub.Value {
				return Literal{Value: true}
			}
			// drop false
		case OrExpr:
			operands = append(operands, sub.Operands...)
		default:
			operands = append(operands, simplified)
		}
	}
	return Or(operands...)
}

// mergeConjunction collapses pairs of comparisons on the same field when one
// implies the other, e.g. (amount > 5) and (amount > 3) becomes amount > 5,
// and (status == "open") and (status == "closed") becomes false.
func mergeConjunction(operands []Expr) []Expr {
	merged := make([]Expr, 0, len(operands))
	for _, op := range operands {
		cmp, ok := op.(Comparison)
		if !ok {
			merged = append(merged, op)
			continue
		}
		combined := false
		for i, prev := range merged {
			pc, ok := prev.(Comparison)
			if !ok || pc.Field != cmp.Field {
				continue
			}
			if result, ok := mergeComparisons(pc, cmp); ok {
				merged[i] = result
				combined = true
				break
			}
		}
		if !combined {
			merged = append(merged, op)
		}
	}
	// A contradiction merge yields a false literal; surface it as the whole
	// conjunction.
	for _, op := range merged {
		if lit, ok := op.(Literal); ok && !lit.Value {
			return []Expr{Literal{Value: false}}
		}
	}
	return merged
}

func mergeComparisons(a, b Comparison) (Expr, bool) {
	if a.Op == OpEq && b.Op == OpEq {
		if equalValues(a.Value, b.Value) {
			return a, true
		}
		return Literal{Value: false}, true
	}

	if a.Op == OpIn && b.Op == OpIn {
		return intersectIn(a, b)
	}

	cmp, comparable := compareValues(a.Value, b.Value)
	if !comparable {
		return nil, false
	}

	switch {
	case (a.Op == OpGt || a.Op == OpGte) && (b.Op == OpGt || b.Op == OpGte):
		return tighterBound(a, b, cmp, true), true
	case (a.Op == OpLt || a.Op == OpLte) && (b.Op == OpLt || b.Op == OpLte):
		return tighterBound(a, b, cmp, false), true
	default:
		return nil, false
	}
}

// tighterBound picks the stricter of two lower bounds (upper == false picks
// the stricter upper bound). On equal values a strict operator wins.
func tighterBound(a, b Comparison, cmp int, lower bool) Expr {
	if cmp == 0 {
		if a.Op == OpGt || a.Op == OpLt {
			return a
		}
		return b
	}
	pickA := cmp > 0
	if !lower {
		pickA = cmp < 0
	}
	if pickA {
		return a
	}
	return b
}

func intersectIn(a, b Comparison) (Expr, bool) {
	av, aok := a.Value.([]any)
	bv, bok := b.Value.([]any)
	if !aok || !bok {
		return nil, false
	}
	var intersection []any
	for _, x := range av {
		for _, y := range bv {
			if equalValues(x, y) {
				intersection = append(intersection, x)
				break
			}
		}
	}
	if len(intersection) == 0 {
		return Literal{Value: false}, true
	}
	return Comparison{Field: a.Field, Op: OpIn, Value: intersection}, true
}
