// Package policy implements a policy-based authorization decision engine.
// Resources attach ordered policies to resource/action pairs; each policy
// carries condition checks (when the policy applies) and ordered access
// checks (authorize_if, forbid_if, and their negated variants). The engine
// resolves requests using only cheap strict information where possible,
// pushes filter-capable checks down to storage as a combined filter
// expression, and defers the rest to a per-record recheck phase.
package policy

import (
	"context"
	"fmt"

	"github.com/fystack/declarative-authz/filter"
)

// AccessType determines how a check's boolean outcome affects the policy.
type AccessType string

const (
	// AccessAuthorizeIf authorizes the policy when the check holds.
	AccessAuthorizeIf AccessType = "authorize_if"
	// AccessForbidIf forbids the whole request when the check holds.
	// Forbids are absolute: no later policy can override one.
	AccessForbidIf AccessType = "forbid_if"
	// AccessAuthorizeUnless authorizes the policy when the check fails.
	AccessAuthorizeUnless AccessType = "authorize_unless"
	// AccessForbidUnless forbids the whole request when the check fails.
	AccessForbidUnless AccessType = "forbid_unless"
)

// IsValid returns true when the access type is one of the supported values.
func (a AccessType) IsValid() bool {
	switch a {
	case AccessAuthorizeIf, AccessForbidIf, AccessAuthorizeUnless, AccessForbidUnless:
		return true
	default:
		return false
	}
}

// forbids reports whether the access type is forbid-sided.
func (a AccessType) forbids() bool {
	return a == AccessForbidIf || a == AccessForbidUnless
}

// negates reports whether the check result is inverted before the access
// rule is applied (the *_unless variants).
func (a AccessType) negates() bool {
	return a == AccessAuthorizeUnless || a == AccessForbidUnless
}

// PolicyCheck pairs a check with the access type governing it.
type PolicyCheck struct {
	Access AccessType
	Check  Check
}

// Policy is one authorization rule: condition checks deciding whether the
// policy applies to a request, and an ordered list of access checks.
// Policies are constructed at configuration time and read-only afterwards.
type Policy struct {
	Description string
	Condition   []Check
	Checks      []PolicyCheck
}

// PolicySet holds the ordered policies governing one resource/action pair.
// Order matters: policies are evaluated top to bottom and a strict forbid
// terminates evaluation. An empty set authorizes nothing (default deny).
type PolicySet struct {
	Resource string
	Action   string
	Policies []Policy
}

// Validate reports configuration errors. It must be called once at setup;
// the engine assumes a validated set at request time.
func (ps *PolicySet) Validate() error {
	if ps.Resource == "" {
		return &ConfigError{Detail: "policy set resource is required"}
	}
	if ps.Action == "" {
		return &ConfigError{Detail: fmt.Sprintf("policy set for resource %q: action is required", ps.Resource)}
	}
	for i, p := range ps.Policies {
		if len(p.Checks) == 0 {
			return &ConfigError{Detail: fmt.Sprintf("policy %d (%s): at least one check is required", i, p.Description)}
		}
		for _, cond := range p.Condition {
			if cond.kind == 0 {
				return &ConfigError{Detail: fmt.Sprintf("policy %d (%s): uninitialized condition check", i, p.Description)}
			}
		}
		for j, pc := range p.Checks {
			if !pc.Access.IsValid() {
				return &ConfigError{Detail: fmt.Sprintf("policy %d (%s) check %d: invalid access type %q", i, p.Description, j, pc.Access)}
			}
			if pc.Check.kind == 0 {
				return &ConfigError{Detail: fmt.Sprintf("policy %d (%s) check %d: uninitialized check", i, p.Description, j)}
			}
		}
	}
	return nil
}

// Operation classifies a request as a read or a write. Forbidden reads are
// silently filtered (unless strict reads are enabled); forbidden writes
// fail the operation.
type Operation int8

const (
	// OperationRead fetches data.
	OperationRead Operation = iota + 1
	// OperationWrite creates, updates, or destroys data.
	OperationWrite
)

// String returns the operation's readable name.
func (o Operation) String() string {
	switch o {
	case OperationRead:
		return "read"
	case OperationWrite:
		return "write"
	default:
		return fmt.Sprintf("operation(%d)", o)
	}
}

// Request is one concrete authorization question: can this actor perform
// this action on this subject. Context carries request-scoped metadata
// available to checks; Record is nil at strict time and set to the
// materialized record during the recheck phase.
type Request struct {
	Actor     any
	Resource  string
	Action    string
	Operation Operation
	Subject   any
	Context   map[string]any
	Record    map[string]any
}

// withRecord returns a shallow copy of the request bound to a materialized
// record. The original request is never mutated, so concurrent rechecks
// can share it.
func (r *Request) withRecord(record map[string]any) *Request {
	clone := *r
	clone.Record = record
	return &clone
}

// Executor is the storage collaborator that runs queries on the engine's
// behalf. The engine never executes storage queries itself; it constructs
// filter expressions and hands them to this interface. The native query
// value is opaque to this package.
type Executor interface {
	ApplyFilter(query any, f filter.Expr) (any, error)
	Fetch(ctx context.Context, query any) ([]map[string]any, error)
}
