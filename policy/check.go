package policy

import (
	"context"
	"errors"
	"fmt"

	"github.com/fystack/declarative-authz/filter"
)

// Result is the tri-state outcome of evaluating a check at strict
// (pre-data) time.
type Result int8

const (
	// ResultFalse means the check is known to be false for this request.
	ResultFalse Result = iota
	// ResultTrue means the check is known to be true for this request.
	ResultTrue
	// ResultUnknown means the check cannot be resolved without data.
	ResultUnknown
)

// String returns a readable form of the result.
func (r Result) String() string {
	switch r {
	case ResultFalse:
		return "false"
	case ResultTrue:
		return "true"
	case ResultUnknown:
		return "unknown"
	default:
		return fmt.Sprintf("result(%d)", r)
	}
}

// Kind identifies a check's capability variant. The set is closed.
type Kind int8

const (
	// KindSimple is a pure predicate over actor and request context.
	KindSimple Kind = iota + 1
	// KindFilter produces a storage filter expression and resolves
	// strictly only once a record is materialized.
	KindFilter
	// KindManual is an arbitrary function that may perform I/O; it runs
	// under a timeout and fails safe.
	KindManual
)

// String returns the kind's configuration name.
func (k Kind) String() string {
	switch k {
	case KindSimple:
		return "simple"
	case KindFilter:
		return "filter"
	case KindManual:
		return "manual"
	default:
		return fmt.Sprintf("kind(%d)", k)
	}
}

// Check is a single reusable unit of boolean evaluation logic. Checks are
// immutable after construction and safe for concurrent use across
// authorization passes; they are built once via Simple, FilterCheck, or
// Manual and shared between policies.
type Check struct {
	kind        Kind
	description string

	simple func(req *Request) Result
	build  func(req *Request) (filter.Expr, error)
	manual func(ctx context.Context, req *Request) (bool, error)
}

// Simple builds a context-free predicate check. The function must be pure:
// no I/O, no mutation, only the request's actor and context.
func Simple(description string, fn func(req *Request) bool) Check {
	return Check{
		kind:        KindSimple,
		description: description,
		simple: func(req *Request) Result {
			if fn(req) {
				return ResultTrue
			}
			return ResultFalse
		},
	}
}

// SimpleResult builds a predicate check that may report Unknown, deferring
// resolution to the per-record recheck phase.
func SimpleResult(description string, fn func(req *Request) Result) Check {
	return Check{kind: KindSimple, description: description, simple: fn}
}

// FilterCheck builds a filter-capable check. The build function produces a
// filter expression constraining which records satisfy the check; at strict
// time the check is Unknown, and during recheck it is resolved by
// evaluating the built expression against the materialized record, keeping
// predicate and filter semantics aligned by construction.
func FilterCheck(description string, build func(req *Request) (filter.Expr, error)) Check {
	return Check{kind: KindFilter, description: description, build: build}
}

// Manual builds a check backed by an arbitrary function. The function may
// call external collaborators; it must return a strict boolean or an
// error. Errors, timeouts, and cancellations are treated as failing safe.
func Manual(description string, fn func(ctx context.Context, req *Request) (bool, error)) Check {
	return Check{kind: KindManual, description: description, manual: fn}
}

// Kind reports the check's capability variant.
func (c Check) Kind() Kind { return c.kind }

// Description returns the human-readable description.
func (c Check) Description() string { return c.description }

// FilterCapable reports whether the check can contribute a storage filter.
func (c Check) FilterCapable() bool { return c.kind == KindFilter }

// Filter builds the check's storage filter expression. Only valid for
// filter-capable checks.
func (c Check) Filter(req *Request) (filter.Expr, error) {
	if c.kind != KindFilter {
		return nil, fmt.Errorf("check %q (%s) cannot produce a filter", c.description, c.kind)
	}
	expr, err := c.build(req)
	if err != nil {
		return nil, err
	}
	return filter.Simplify(expr), nil
}

var errZeroCheck = errors.New("check is not initialized; use Simple, FilterCheck, or Manual")

// evaluate resolves the check as far as the request allows. Filter checks
// resolve strictly only when req.Record is set (the recheck phase); manual
// checks run under ctx, which the engine bounds with its configured
// timeout. A returned error always accompanies ResultUnknown at strict
// time; the engine maps it to the least-permissive outcome.
func (c Check) evaluate(ctx context.Context, req *Request) (Result, error) {
	switch c.kind {
	case KindSimple:
		return c.simple(req), nil
	case KindFilter:
		if req.Record == nil {
			return ResultUnknown, nil
		}
		expr, err := c.build(req)
		if err != nil {
			return ResultUnknown, err
		}
		ok, err := filter.Evaluate(expr, req.Record)
		if err != nil {
			return ResultUnknown, err
		}
		if ok {
			return ResultTrue, nil
		}
		return ResultFalse, nil
	case KindManual:
		ok, err := c.manual(ctx, req)
		if err != nil {
			return ResultUnknown, err
		}
		if err := ctx.Err(); err != nil {
			return ResultUnknown, err
		}
		if ok {
			return ResultTrue, nil
		}
		return ResultFalse, nil
	default:
		return ResultUnknown, errZeroCheck
	}
}
