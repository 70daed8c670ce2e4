package policy

import (
	"fmt"
	"sort"
)

// Registry maps configuration names to checks built in code, so that
// declarative policy documents can reference filter-capable and manual
// checks that cannot be expressed as plain expressions. A registry is
// populated at startup and read-only afterwards.
type Registry struct {
	checks map[string]Check
}

// NewRegistry returns an empty check registry.
func NewRegistry() *Registry {
	return &Registry{checks: make(map[string]Check)}
}

// Register binds a name to a check. Duplicate names are a ConfigError.
func (r *Registry) Register(name string, check Check) error {
	if name == "" {
		return &ConfigError{Detail: "check name is required"}
	}
	if check.kind == 0 {
		return &ConfigError{Detail: fmt.Sprintf("check %q is not initialized", name)}
	}
	if _, exists := r.checks[name]; exists {
		return &ConfigError{Detail: fmt.Sprintf("check %q already registered", name)}
	}
	r.checks[name] = check
	return nil
}

// MustRegister is Register for static setup code; it panics on error.
func (r *Registry) MustRegister(name string, check Check) {
	if err := r.Register(name, check); err != nil {
		panic(err)
	}
}

// Lookup resolves a registered check by name.
func (r *Registry) Lookup(name string) (Check, bool) {
	c, ok := r.checks[name]
	return c, ok
}

// Names lists the registered check names, sorted.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.checks))
	for name := range r.checks {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
