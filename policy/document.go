package policy

import (
	"fmt"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"
)

// Document is the declarative form of a policy set, loadable from JSON or
// YAML. Check entries either reference a named check from a Registry
// (filter-capable and manual checks are built in code) or carry an
// expression compiled once at startup over the request environment:
// `actor`, `subject`, `context`, `record`, and `operation`.
type Document struct {
	Version  string      `json:"version,omitempty" yaml:"version,omitempty"`
	Resource string      `json:"resource" yaml:"resource"`
	Action   string      `json:"action" yaml:"action"`
	Policies []PolicyDoc `json:"policies" yaml:"policies"`
}

// PolicyDoc declares one policy.
type PolicyDoc struct {
	Description string           `json:"description,omitempty" yaml:"description,omitempty"`
	Condition   []CheckDoc       `json:"condition,omitempty" yaml:"condition,omitempty"`
	Checks      []AccessCheckDoc `json:"checks" yaml:"checks"`
}

// CheckDoc declares one check: either an inline expression or a reference
// to a registered check, never both.
type CheckDoc struct {
	Expr        string `json:"expr,omitempty" yaml:"expr,omitempty"`
	Check       string `json:"check,omitempty" yaml:"check,omitempty"`
	Description string `json:"description,omitempty" yaml:"description,omitempty"`
}

// AccessCheckDoc pairs a check declaration with its access type.
type AccessCheckDoc struct {
	Access   AccessType `json:"access" yaml:"access"`
	CheckDoc `yaml:",inline"`
}

// CompileOption configures document compilation.
type CompileOption func(*compileConfig)

type compileConfig struct {
	exprOptions []expr.Option
	env         any
	strictTypes bool
}

// WithExprOptions passes expr compilation options for every expression
// check in the document.
func WithExprOptions(opts ...expr.Option) CompileOption {
	return func(cfg *compileConfig) {
		cfg.exprOptions = append(cfg.exprOptions, opts...)
	}
}

// WithSchemaDefinition defines the expected request environment shape for
// type validation at compile time. Unknown fields or type mismatches are
// caught during compilation instead of at request time.
func WithSchemaDefinition(schema any) CompileOption {
	return func(cfg *compileConfig) {
		cfg.env = schema
		cfg.strictTypes = true
	}
}

// CompileDocument turns a declarative document into a validated policy
// set. All expressions compile here; a request against the compiled set
// never triggers compilation.
func CompileDocument(doc Document, reg *Registry, opts ...CompileOption) (*PolicySet, error) {
	var cfg compileConfig
	for _, opt := range opts {
		opt(&cfg)
	}

	baseOptions := make([]expr.Option, 0, len(cfg.exprOptions)+3)
	baseOptions = append(baseOptions, cfg.exprOptions...)
	if cfg.env != nil {
		baseOptions = append(baseOptions, expr.Env(cfg.env))
	} else {
		baseOptions = append(baseOptions, expr.Env(map[string]any{}))
	}
	if !cfg.strictTypes {
		baseOptions = append(baseOptions, expr.AllowUndefinedVariables())
	}
	baseOptions = append(baseOptions, expr.AsBool())

	ps := &PolicySet{
		Resource: doc.Resource,
		Action:   doc.Action,
		Policies: make([]Policy, 0, len(doc.Policies)),
	}

	for i, pd := range doc.Policies {
		p := Policy{Description: pd.Description}
		if p.Description == "" {
			p.Description = fmt.Sprintf("%s/%s policy %d", doc.Resource, doc.Action, i)
		}

		for _, cd := range pd.Condition {
			check, err := compileCheckDoc(cd, reg, baseOptions)
			if err != nil {
				return nil, &ConfigError{Detail: fmt.Sprintf("policy %q condition", p.Description), Err: err}
			}
			p.Condition = append(p.Condition, check)
		}

		for _, acd := range pd.Checks {
			if !acd.Access.IsValid() {
				return nil, &ConfigError{Detail: fmt.Sprintf("policy %q: invalid access type %q", p.Description, acd.Access)}
			}
			check, err := compileCheckDoc(acd.CheckDoc, reg, baseOptions)
			if err != nil {
				return nil, &ConfigError{Detail: fmt.Sprintf("policy %q checks", p.Description), Err: err}
			}
			p.Checks = append(p.Checks, PolicyCheck{Access: acd.Access, Check: check})
		}

		ps.Policies = append(ps.Policies, p)
	}

	if err := ps.Validate(); err != nil {
		return nil, err
	}
	return ps, nil
}

func compileCheckDoc(cd CheckDoc, reg *Registry, baseOptions []expr.Option) (Check, error) {
	switch {
	case cd.Expr != "" && cd.Check != "":
		return Check{}, fmt.Errorf("check declares both an expression and a reference %q", cd.Check)
	case cd.Check != "":
		if reg == nil {
			return Check{}, fmt.Errorf("check reference %q requires a registry", cd.Check)
		}
		check, ok := reg.Lookup(cd.Check)
		if !ok {
			return Check{}, fmt.Errorf("check %q is not registered", cd.Check)
		}
		return check, nil
	case cd.Expr != "":
		return compileExprCheck(cd, baseOptions)
	default:
		return Check{}, fmt.Errorf("check declares neither an expression nor a reference")
	}
}

// compileExprCheck compiles an expression into a simple check. Expressions
// referencing `record` resolve to Unknown at strict time (the record is
// nil) and settle during recheck once the record is materialized.
func compileExprCheck(cd CheckDoc, baseOptions []expr.Option) (Check, error) {
	program, err := expr.Compile(cd.Expr, baseOptions...)
	if err != nil {
		return Check{}, fmt.Errorf("compile expression %q: %w", cd.Expr, err)
	}

	description := cd.Description
	if description == "" {
		description = cd.Expr
	}

	return SimpleResult(description, func(req *Request) Result {
		return runExprProgram(program, req)
	}), nil
}

func runExprProgram(program *vm.Program, req *Request) Result {
	output, err := expr.Run(program, exprEnv(req))
	if err != nil {
		// Unresolvable at this stage, typically a reference to a record
		// field before data is fetched. Unknown escalates to recheck and
		// never authorizes by itself.
		return ResultUnknown
	}
	result, ok := output.(bool)
	if !ok {
		return ResultUnknown
	}
	if result {
		return ResultTrue
	}
	return ResultFalse
}

func exprEnv(req *Request) map[string]any {
	var record any
	if req.Record != nil {
		record = req.Record
	}
	return map[string]any{
		"actor":     req.Actor,
		"subject":   req.Subject,
		"context":   req.Context,
		"record":    record,
		"operation": req.Operation.String(),
	}
}
