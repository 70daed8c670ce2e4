package policy

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/fystack/declarative-authz/filter"
)

// ConditionMode controls how a policy whose condition cannot be resolved
// strictly (Unknown) is treated.
type ConditionMode int8

const (
	// ConditionOptimistic treats the policy as conditionally applying: its
	// checks are still evaluated, filter-capable conditions are folded
	// into the policy's filter, and anything unresolvable escalates to
	// per-record recheck. This is the default.
	ConditionOptimistic ConditionMode = iota
	// ConditionSkipUnknown treats an unresolved condition as not
	// applying and skips the policy entirely.
	ConditionSkipUnknown
)

// Engine evaluates policy sets against authorization requests. An engine
// is configured once and is safe for concurrent use; it holds no
// per-request state.
type Engine struct {
	logger             *zap.Logger
	manualTimeout      time.Duration
	conditionMode      ConditionMode
	strictReads        bool
	recheckParallelism int

	sets map[string]*PolicySet
}

// EngineOption configures engine behaviour.
type EngineOption func(*Engine)

// WithLogger sets the logger used for non-fatal check evaluation failures.
// Defaults to a no-op logger.
func WithLogger(logger *zap.Logger) EngineOption {
	return func(e *Engine) {
		e.logger = logger
	}
}

// WithManualTimeout bounds each manual check evaluation. A timeout is
// treated as a check failure (safe forbid), never as authorization.
// Defaults to 5 seconds; zero disables the bound.
func WithManualTimeout(d time.Duration) EngineOption {
	return func(e *Engine) {
		e.manualTimeout = d
	}
}

// WithConditionMode selects the treatment of policies whose condition is
// Unknown at strict time.
func WithConditionMode(mode ConditionMode) EngineOption {
	return func(e *Engine) {
		e.conditionMode = mode
	}
}

// WithStrictReads makes forbidden records fail read rechecks with
// ErrForbidden instead of being silently filtered out.
func WithStrictReads() EngineOption {
	return func(e *Engine) {
		e.strictReads = true
	}
}

// WithRecheckParallelism caps concurrent per-record rechecks. Defaults to 4.
func WithRecheckParallelism(n int) EngineOption {
	return func(e *Engine) {
		if n > 0 {
			e.recheckParallelism = n
		}
	}
}

// NewEngine builds an engine with the given options.
func NewEngine(opts ...EngineOption) *Engine {
	e := &Engine{
		logger:             zap.NewNop(),
		manualTimeout:      5 * time.Second,
		recheckParallelism: 4,
		sets:               make(map[string]*PolicySet),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Register validates a policy set and binds it to its resource/action
// pair. Registration happens at setup time, before the engine serves
// requests; a malformed set is a ConfigError here and never at request
// time.
func (e *Engine) Register(ps *PolicySet) error {
	if err := ps.Validate(); err != nil {
		return err
	}
	key := ps.Resource + "/" + ps.Action
	if _, exists := e.sets[key]; exists {
		return &ConfigError{Detail: fmt.Sprintf("policy set for %s already registered", key)}
	}
	e.sets[key] = ps
	return nil
}

// PolicySetFor returns the registered set for a resource/action pair.
func (e *Engine) PolicySetFor(resource, action string) (*PolicySet, bool) {
	ps, ok := e.sets[resource+"/"+action]
	return ps, ok
}

// AuthorizeAction resolves the registered policy set for the request's
// resource/action pair and authorizes against it. An unregistered pair is
// default deny.
func (e *Engine) AuthorizeAction(ctx context.Context, req *Request) Verdict {
	ps, ok := e.PolicySetFor(req.Resource, req.Action)
	if !ok {
		return forbidden("", fmt.Sprintf("no policy set registered for %s/%s", req.Resource, req.Action), 0, nil)
	}
	return e.Authorize(ctx, ps, req)
}

// solveState accumulates the cross-policy solver state for one pass.
type solveState struct {
	evaluated int
	errs      []error

	strictAuthorized bool
	authorizedBy     string
	authFilters      []filter.Expr
	pendingAuthorize bool
	forbidFilters    []filter.Expr
	forbidRisk       bool
}

// Authorize evaluates a policy set against a request and produces a
// verdict. Policies are evaluated in declared order; strict forbids
// short-circuit the whole set, filter-capable unknowns are pushed into a
// combined filter, and anything else escalates to StateUndecided for
// per-record recheck.
func (e *Engine) Authorize(ctx context.Context, ps *PolicySet, req *Request) Verdict {
	var st solveState

	for i := range ps.Policies {
		p := &ps.Policies[i]

		applies, condFilter, condUnresolved := e.evalCondition(ctx, p, req, &st)
		if !applies {
			continue
		}

		out := e.evalPolicy(ctx, p, req, &st)

		if out.forbade {
			switch {
			case condUnresolved:
				st.forbidRisk = true
			case condFilter != nil:
				st.forbidFilters = append(st.forbidFilters, condFilter)
			default:
				return forbidden(p.Description, out.forbidReason, st.evaluated, errors.Join(st.errs...))
			}
			continue
		}

		if out.forbidRisk || (len(out.forbidFilters) > 0 && condUnresolved) {
			st.forbidRisk = true
		} else {
			for _, f := range out.forbidFilters {
				if condFilter != nil {
					f = filter.And(condFilter, f)
				}
				st.forbidFilters = append(st.forbidFilters, f)
			}
		}

		switch {
		case out.authorized:
			switch {
			case condUnresolved:
				st.pendingAuthorize = true
			case condFilter != nil:
				st.authFilters = append(st.authFilters, condFilter)
			default:
				st.strictAuthorized = true
				if st.authorizedBy == "" {
					st.authorizedBy = p.Description
				}
			}
		case out.authFilter != nil:
			if condUnresolved {
				st.pendingAuthorize = true
				break
			}
			f := out.authFilter
			if condFilter != nil {
				f = filter.And(condFilter, f)
			}
			st.authFilters = append(st.authFilters, f)
		case out.pendingAuthorize:
			st.pendingAuthorize = true
		}
	}

	return e.resolve(&st)
}

// resolve combines the accumulated per-policy outcomes into the final
// verdict: forbids dominate, any one authorized path suffices, and
// anything unresolvable escalates to recheck.
func (e *Engine) resolve(st *solveState) Verdict {
	err := errors.Join(st.errs...)

	if st.forbidRisk {
		return undecided(st.evaluated, err)
	}

	var base filter.Expr
	switch {
	case st.strictAuthorized:
		base = filter.Bool(true)
	case len(st.authFilters) > 0:
		if st.pendingAuthorize {
			return undecided(st.evaluated, err)
		}
		base = filter.Or(st.authFilters...)
	case st.pendingAuthorize:
		return undecided(st.evaluated, err)
	default:
		return forbidden("", "no policy authorized the request", st.evaluated, err)
	}

	final := base
	if len(st.forbidFilters) > 0 {
		final = filter.And(base, filter.Not(filter.Or(st.forbidFilters...)))
	}
	final = filter.Simplify(final)

	if lit, ok := final.(filter.Literal); ok {
		if lit.Value {
			return authorized(st.authorizedBy, st.evaluated, err)
		}
		return forbidden("", "authorized paths are fully excluded by forbid filters", st.evaluated, err)
	}
	return filterRequired(final, st.evaluated, err)
}

// evalCondition strictly evaluates a policy's condition checks. It returns
// whether the policy applies, a filter scoping the policy when the
// condition is filter-capable but unresolved, and whether the condition is
// unresolved without filter capability (forcing recheck for any outcome
// the policy would produce).
func (e *Engine) evalCondition(ctx context.Context, p *Policy, req *Request, st *solveState) (applies bool, condFilter filter.Expr, unresolved bool) {
	var filters []filter.Expr

	for _, cond := range p.Condition {
		st.evaluated++
		result, err := e.evalCheck(ctx, cond, req)
		if err != nil {
			e.logCheckFailure(p, cond, err)
			st.errs = append(st.errs, &CheckError{Policy: p.Description, Check: cond.Description(), Err: err})
			unresolved = true
			continue
		}

		switch result {
		case ResultFalse:
			return false, nil, false
		case ResultTrue:
			// condition holds, next check
		case ResultUnknown:
			if e.conditionMode == ConditionSkipUnknown {
				return false, nil, false
			}
			if cond.FilterCapable() {
				f, err := cond.Filter(req)
				if err != nil {
					e.logCheckFailure(p, cond, err)
					st.errs = append(st.errs, &CheckError{Policy: p.Description, Check: cond.Description(), Err: err})
					unresolved = true
					continue
				}
				filters = append(filters, f)
			} else {
				unresolved = true
			}
		}
	}

	if len(filters) > 0 {
		condFilter = filter.And(filters...)
	}
	return true, condFilter, unresolved
}

// policyOutcome is the result of evaluating one policy's access checks.
type policyOutcome struct {
	forbade      bool
	forbidReason string

	authorized       bool
	authFilter       filter.Expr
	pendingAuthorize bool

	forbidFilters []filter.Expr
	forbidRisk    bool
}

// evalPolicy runs a policy's checks in declared order. Authorize-side
// strict truth stops the policy as authorized; forbid-side strict truth
// stops it as forbidding. Filter-capable unknowns accumulate: authorize
// filters are ANDed into the policy's candidate filter, forbid filters are
// reported for global exclusion. Unknowns without filter capability leave
// the corresponding side pending.
func (e *Engine) evalPolicy(ctx context.Context, p *Policy, req *Request, st *solveState) policyOutcome {
	var out policyOutcome
	var authFilters []filter.Expr

	for _, pc := range p.Checks {
		st.evaluated++
		result, err := e.evalCheck(ctx, pc.Check, req)
		if err != nil {
			e.logCheckFailure(p, pc.Check, err)
			st.errs = append(st.errs, &CheckError{Policy: p.Description, Check: pc.Check.Description(), Err: err})
			if req.Record == nil {
				// Strict time: the failure may resolve against data (an
				// unsupported filter, a timed-out collaborator). Escalate
				// to per-record recheck rather than guessing either way.
				if pc.Access.forbids() {
					out.forbidRisk = true
				} else {
					out.pendingAuthorize = true
				}
				continue
			}
			// Recheck time: the failure is final and fails safe.
			if pc.Access.forbids() {
				out.forbade = true
				out.forbidReason = fmt.Sprintf("check %q failed evaluation", pc.Check.Description())
				return out
			}
			// A failing authorize check simply does not authorize.
			continue
		}

		if pc.Access.negates() {
			result = negate(result)
		}

		if pc.Access.forbids() {
			switch result {
			case ResultTrue:
				out.forbade = true
				out.forbidReason = fmt.Sprintf("forbidden by check %q", pc.Check.Description())
				return out
			case ResultFalse:
				// forbid does not trigger, next check
			case ResultUnknown:
				if !pc.Check.FilterCapable() {
					out.forbidRisk = true
					continue
				}
				f, err := e.checkFilter(p, pc, req, st)
				if err != nil {
					out.forbidRisk = true
					continue
				}
				if pc.Access.negates() {
					f = filter.Not(f)
				}
				out.forbidFilters = append(out.forbidFilters, f)
			}
			continue
		}

		switch result {
		case ResultTrue:
			out.authorized = true
			out.authFilter = nil
			return out
		case ResultFalse:
			// this check does not authorize, next check
		case ResultUnknown:
			if !pc.Check.FilterCapable() {
				out.pendingAuthorize = true
				continue
			}
			f, err := e.checkFilter(p, pc, req, st)
			if err != nil {
				out.pendingAuthorize = true
				continue
			}
			if pc.Access.negates() {
				f = filter.Not(f)
			}
			authFilters = append(authFilters, f)
		}
	}

	if !out.authorized && len(authFilters) > 0 && !out.pendingAuthorize {
		out.authFilter = filter.And(authFilters...)
	}
	return out
}

// checkFilter builds a check's filter expression, recording failures. A
// panicking build function is contained here and reported like any other
// check failure.
func (e *Engine) checkFilter(p *Policy, pc PolicyCheck, req *Request, st *solveState) (filter.Expr, error) {
	f, err := func() (f filter.Expr, err error) {
		defer func() {
			if r := recover(); r != nil {
				f, err = nil, fmt.Errorf("check panicked: %v", r)
			}
		}()
		return pc.Check.Filter(req)
	}()
	if err != nil {
		e.logCheckFailure(p, pc.Check, err)
		st.errs = append(st.errs, &CheckError{Policy: p.Description, Check: pc.Check.Description(), Err: err})
		return nil, err
	}
	return f, nil
}

// evalCheck evaluates a single check, bounding manual checks with the
// configured timeout. Panics out of user-supplied check functions are
// contained and surfaced as evaluation failures so one bad check or record
// never crashes the request.
func (e *Engine) evalCheck(ctx context.Context, c Check, req *Request) (result Result, err error) {
	defer func() {
		if r := recover(); r != nil {
			result = ResultUnknown
			err = fmt.Errorf("check panicked: %v", r)
		}
	}()
	if c.Kind() == KindManual && e.manualTimeout > 0 {
		bounded, cancel := context.WithTimeout(ctx, e.manualTimeout)
		defer cancel()
		ctx = bounded
	}
	return c.evaluate(ctx, req)
}

func (e *Engine) logCheckFailure(p *Policy, c Check, err error) {
	e.logger.Warn("check evaluation failed",
		zap.String("policy", p.Description),
		zap.String("check", c.Description()),
		zap.Stringer("kind", c.Kind()),
		zap.Error(err),
	)
}

func negate(r Result) Result {
	switch r {
	case ResultTrue:
		return ResultFalse
	case ResultFalse:
		return ResultTrue
	default:
		return ResultUnknown
	}
}

// FilterFor resolves the residual filter a read path must apply to push
// authorization into the storage query. The boolean is false when the
// request cannot be reduced to a filter and requires per-record recheck.
// A forbidden request reduces to a filter matching nothing, an authorized
// one to a filter matching everything.
func (e *Engine) FilterFor(ctx context.Context, ps *PolicySet, req *Request) (filter.Expr, bool) {
	verdict := e.Authorize(ctx, ps, req)
	switch verdict.State {
	case StateAuthorized:
		return filter.Bool(true), true
	case StateForbidden:
		return filter.Bool(false), true
	case StateFilterRequired:
		return verdict.Filter, true
	default:
		return nil, false
	}
}
