package filter

import (
	"errors"
	"fmt"
	"strings"
)

// ErrUnsupported reports that an expression cannot be represented in the
// target backend's filter language. Callers must treat it as "cannot push
// down", never as "matches everything".
var ErrUnsupported = errors.New("filter: expression not supported by translator")

// Translator converts an expression tree into a storage backend's native
// filter representation. Implementations are supplied by the storage
// integration, not by this package; SQLTranslator is a reference
// implementation for SQL-speaking backends.
type Translator interface {
	Translate(e Expr) (native any, err error)
}

// SQLCondition is a parameterized SQL boolean expression.
type SQLCondition struct {
	Clause string
	Args   []any
}

// SQLTranslator renders expressions as parameterized SQL conditions with
// `?` placeholders. Related expressions are not supported: expressing them
// requires join context that only the owning query builder has.
type SQLTranslator struct{}

// Translate implements Translator.
func (SQLTranslator) Translate(e Expr) (any, error) {
	cond, err := translateSQL(e)
	if err != nil {
		return nil, err
	}
	return cond, nil
}

func translateSQL(e Expr) (SQLCondition, error) {
	switch n := e.(type) {
	case Literal:
		if n.Value {
			return SQLCondition{Clause: "TRUE"}, nil
		}
		return SQLCondition{Clause: "FALSE"}, nil
	case Comparison:
		return translateSQLComparison(n)
	case AndExpr:
		return translateSQLJunction(n.Operands, "AND")
	case OrExpr:
		return translateSQLJunction(n.Operands, "OR")
	case NotExpr:
		sub, err := translateSQL(n.Operand)
		if err != nil {
			return SQLCondition{}, err
		}
		return SQLCondition{Clause: "NOT (" + sub.Clause + ")", Args: sub.Args}, nil
	case RelatedExpr:
		return SQLCondition{}, fmt.Errorf("%w: related path %q", ErrUnsupported, n.Path)
	default:
		return SQLCondition{}, fmt.Errorf("%w: unknown node %T", ErrUnsupported, e)
	}
}

func translateSQLComparison(c Comparison) (SQLCondition, error) {
	if strings.ContainsAny(c.Field, " ;'\"") {
		return SQLCondition{}, fmt.Errorf("%w: field %q is not a plain column reference", ErrUnsupported, c.Field)
	}

	switch c.Op {
	case OpEq:
		return SQLCondition{Clause: c.Field + " = ?", Args: []any{c.Value}}, nil
	case OpNeq:
		return SQLCondition{Clause: c.Field + " <> ?", Args: []any{c.Value}}, nil
	case OpLt:
		return SQLCondition{Clause: c.Field + " < ?", Args: []any{c.Value}}, nil
	case OpLte:
		return SQLCondition{Clause: c.Field + " <= ?", Args: []any{c.Value}}, nil
	case OpGt:
		return SQLCondition{Clause: c.Field + " > ?", Args: []any{c.Value}}, nil
	case OpGte:
		return SQLCondition{Clause: c.Field + " >= ?", Args: []any{c.Value}}, nil
	case OpIn:
		values, ok := c.Value.([]any)
		if !ok || len(values) == 0 {
			return SQLCondition{}, fmt.Errorf("%w: in operator on %q requires a non-empty value list", ErrUnsupported, c.Field)
		}
		placeholders := strings.TrimSuffix(strings.Repeat("?, ", len(values)), ", ")
		return SQLCondition{Clause: c.Field + " IN (" + placeholders + ")", Args: values}, nil
	default:
		return SQLCondition{}, fmt.Errorf("%w: operator %q", ErrUnsupported, c.Op)
	}
}

func translateSQLJunction(operands []Expr, keyword string) (SQLCondition, error) {
	clauses := make([]string, 0, len(operands))
	var args []any
	for _, op := range operands {
		sub, err := translateSQL(op)
		if err != nil {
			return SQLCondition{}, err
		}
		clauses = append(clauses, sub.Clause)
		args = append(args, sub.Args...)
	}
	return SQLCondition{Clause: "(" + strings.Join(clauses, " "+keyword+" ") + ")", Args: args}, nil
}
