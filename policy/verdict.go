package policy

import (
	"fmt"

	"github.com/fystack/declarative-authz/filter"
)

// State classifies an authorization verdict.
type State int8

const (
	// StateForbidden denies the request outright.
	StateForbidden State = iota
	// StateAuthorized allows the request with no further constraint.
	StateAuthorized
	// StateFilterRequired allows the request only for data matching the
	// verdict's filter; the caller must apply it before use.
	StateFilterRequired
	// StateUndecided means the request cannot be resolved without
	// fetching candidate records and rechecking each one.
	StateUndecided
)

// String returns the state's readable name.
func (s State) String() string {
	switch s {
	case StateForbidden:
		return "forbidden"
	case StateAuthorized:
		return "authorized"
	case StateFilterRequired:
		return "filter_required"
	case StateUndecided:
		return "undecided"
	default:
		return fmt.Sprintf("state(%d)", s)
	}
}

// Verdict is the engine's answer for one request. A fresh verdict is
// constructed per authorization pass.
type Verdict struct {
	State State
	// Policy describes the policy that decided the verdict, when a single
	// policy did (a strict forbid or the first strict authorize).
	Policy string
	// Reason explains a forbidden verdict.
	Reason string
	// Filter constrains the data when State is StateFilterRequired.
	Filter filter.Expr
	// Evaluated counts how many check evaluations the pass performed.
	Evaluated int
	// Err aggregates non-fatal check evaluation failures observed during
	// the pass. A non-nil Err never accompanies StateAuthorized without
	// the failing checks having been resolved least-permissively.
	Err error
}

// Allows reports whether the verdict authorizes the request without any
// residual data constraint.
func (v Verdict) Allows() bool { return v.State == StateAuthorized }

func forbidden(policy, reason string, evaluated int, err error) Verdict {
	return Verdict{State: StateForbidden, Policy: policy, Reason: reason, Evaluated: evaluated, Err: err}
}

func authorized(policy string, evaluated int, err error) Verdict {
	return Verdict{State: StateAuthorized, Policy: policy, Evaluated: evaluated, Err: err}
}

func filterRequired(f filter.Expr, evaluated int, err error) Verdict {
	return Verdict{State: StateFilterRequired, Filter: f, Evaluated: evaluated, Err: err}
}

func undecided(evaluated int, err error) Verdict {
	return Verdict{State: StateUndecided, Evaluated: evaluated, Err: err}
}
