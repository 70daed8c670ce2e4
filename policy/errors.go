package policy

import (
	"errors"
	"fmt"
)

// ConfigError reports a malformed policy configuration. It is only ever
// produced at setup time (Validate, CompileDocument, Engine.Register); a
// request against validated configuration cannot yield one.
type ConfigError struct {
	Detail string
	Err    error
}

func (e *ConfigError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("policy config: %s: %v", e.Detail, e.Err)
	}
	return "policy config: " + e.Detail
}

func (e *ConfigError) Unwrap() error { return e.Err }

// CheckError reports that a check failed to evaluate. The engine maps it
// to the least-permissive outcome for the failing check's polarity and
// logs it; it never crashes the request.
type CheckError struct {
	Policy string
	Check  string
	Err    error
}

func (e *CheckError) Error() string {
	return fmt.Sprintf("check %q in policy %q: %v", e.Check, e.Policy, e.Err)
}

func (e *CheckError) Unwrap() error { return e.Err }

// ErrForbidden is returned by write rechecks and strict reads when a
// record fails authorization.
var ErrForbidden = errors.New("policy: forbidden")
