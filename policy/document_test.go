package policy_test

import (
	"context"
	"strings"
	"testing"

	"github.com/fystack/declarative-authz/filter"
	"github.com/fystack/declarative-authz/policy"
)

const expenseYAML = `
version: "1"
resource: expense
action: read
policies:
  - description: managers may read everything
    condition:
      - expr: actor.role == "manager"
    checks:
      - access: authorize_if
        expr: "true"
  - description: owners may read their own expenses
    checks:
      - access: authorize_if
        check: is_owner
  - description: rejected expenses are hidden
    checks:
      - access: forbid_if
        expr: record.status == "rejected"
`

func expenseRegistry(t *testing.T) *policy.Registry {
	t.Helper()
	reg := policy.NewRegistry()
	reg.MustRegister("is_owner", policy.FilterCheck("expense belongs to actor", func(req *policy.Request) (filter.Expr, error) {
		actor, _ := req.Actor.(map[string]any)
		return filter.Eq("owner_id", actor["id"]), nil
	}))
	return reg
}

func TestCompileYAMLDocument(t *testing.T) {
	doc, err := policy.ParseYAMLDocument(strings.NewReader(expenseYAML))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}

	ps, err := policy.CompileDocument(doc, expenseRegistry(t))
	if err != nil {
		t.Fatalf("compile: %v", err)
	}
	if ps.Resource != "expense" || ps.Action != "read" {
		t.Fatalf("unexpected resource/action %s/%s", ps.Resource, ps.Action)
	}
	if len(ps.Policies) != 3 {
		t.Fatalf("expected 3 policies, got %d", len(ps.Policies))
	}

	engine := policy.NewEngine()

	manager := &policy.Request{
		Actor:     map[string]any{"id": "u9", "role": "manager"},
		Resource:  "expense",
		Action:    "read",
		Operation: policy.OperationRead,
	}
	verdict := engine.Authorize(context.Background(), ps, manager)
	// The manager path authorizes strictly, but the rejected-status forbid
	// can only resolve against data.
	if verdict.State != policy.StateFilterRequired && verdict.State != policy.StateUndecided {
		t.Fatalf("manager: expected a data-dependent verdict, got %s", verdict.State)
	}

	records := []map[string]any{
		{"id": "e1", "owner_id": "u1", "status": "approved"},
		{"id": "e2", "owner_id": "u2", "status": "rejected"},
	}
	allowed, err := engine.Recheck(context.Background(), ps, manager, records)
	if err != nil {
		t.Fatalf("recheck: %v", err)
	}
	if len(allowed) != 1 || allowed[0]["id"] != "e1" {
		t.Fatalf("expected only e1, got %v", allowed)
	}
}

func TestCompileJSONDocument(t *testing.T) {
	const source = `{
		"resource": "expense",
		"action": "read",
		"policies": [
			{
				"description": "owners may read",
				"checks": [{"access": "authorize_if", "check": "is_owner"}]
			}
		]
	}`

	doc, err := policy.ParseJSONDocument(strings.NewReader(source))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}

	ps, err := policy.CompileDocument(doc, expenseRegistry(t))
	if err != nil {
		t.Fatalf("compile: %v", err)
	}

	engine := policy.NewEngine()
	req := &policy.Request{
		Actor:     map[string]any{"id": "u1"},
		Resource:  "expense",
		Action:    "read",
		Operation: policy.OperationRead,
	}
	verdict := engine.Authorize(context.Background(), ps, req)
	if verdict.State != policy.StateFilterRequired {
		t.Fatalf("expected filter_required, got %s", verdict.State)
	}
	if got, want := verdict.Filter.String(), "owner_id eq u1"; got != want {
		t.Fatalf("expected filter %q, got %q", want, got)
	}
}

func TestParseRejectsUnknownFields(t *testing.T) {
	if _, err := policy.ParseJSONDocument(strings.NewReader(`{"resource": "expense", "surprise": 1}`)); err == nil {
		t.Fatalf("expected unknown JSON field to fail")
	}
	if _, err := policy.ParseYAMLDocument(strings.NewReader("resource: expense\nsurprise: 1\n")); err == nil {
		t.Fatalf("expected unknown YAML field to fail")
	}
}

func TestCompileRejectsMalformedDocuments(t *testing.T) {
	reg := expenseRegistry(t)

	cases := []struct {
		name string
		doc  policy.Document
	}{
		{
			name: "unregistered check reference",
			doc: policy.Document{
				Resource: "expense",
				Action:   "read",
				Policies: []policy.PolicyDoc{{
					Checks: []policy.AccessCheckDoc{{
						Access:   policy.AccessAuthorizeIf,
						CheckDoc: policy.CheckDoc{Check: "does_not_exist"},
					}},
				}},
			},
		},
		{
			name: "expression and reference together",
			doc: policy.Document{
				Resource: "expense",
				Action:   "read",
				Policies: []policy.PolicyDoc{{
					Checks: []policy.AccessCheckDoc{{
						Access:   policy.AccessAuthorizeIf,
						CheckDoc: policy.CheckDoc{Expr: "true", Check: "is_owner"},
					}},
				}},
			},
		},
		{
			name: "invalid expression",
			doc: policy.Document{
				Resource: "expense",
				Action:   "read",
				Policies: []policy.PolicyDoc{{
					Checks: []policy.AccessCheckDoc{{
						Access:   policy.AccessAuthorizeIf,
						CheckDoc: policy.CheckDoc{Expr: "actor.role =="},
					}},
				}},
			},
		},
		{
			name: "invalid access type",
			doc: policy.Document{
				Resource: "expense",
				Action:   "read",
				Policies: []policy.PolicyDoc{{
					Checks: []policy.AccessCheckDoc{{
						Access:   "allow_if",
						CheckDoc: policy.CheckDoc{Expr: "true"},
					}},
				}},
			},
		},
		{
			name: "missing resource",
			doc: policy.Document{
				Action: "read",
				Policies: []policy.PolicyDoc{{
					Checks: []policy.AccessCheckDoc{{
						Access:   policy.AccessAuthorizeIf,
						CheckDoc: policy.CheckDoc{Expr: "true"},
					}},
				}},
			},
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := policy.CompileDocument(tc.doc, reg); err == nil {
				t.Fatalf("expected compilation to fail")
			}
		})
	}
}

func TestRegistryRejectsDuplicates(t *testing.T) {
	reg := policy.NewRegistry()
	check := policy.Simple("noop", func(*policy.Request) bool { return true })

	if err := reg.Register("noop", check); err != nil {
		t.Fatalf("register: %v", err)
	}
	if err := reg.Register("noop", check); err == nil {
		t.Fatalf("expected duplicate registration to fail")
	}
	if err := reg.Register("", check); err == nil {
		t.Fatalf("expected empty name to fail")
	}

	names := reg.Names()
	if len(names) != 1 || names[0] != "noop" {
		t.Fatalf("unexpected names %v", names)
	}
}
