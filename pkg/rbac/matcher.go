package rbac

import (
	"strings"

	"github.com/skyfactor/identity/pkg/errdefs"
)

const patternSegments = 3

// Pattern is a parsed permission pattern: three fixed segments with the verb
// optionally wildcarded
type Pattern struct {
	Service  string
	Resource string
	Verb     string
	Wildcard bool
}

// ParsePattern parses a dotted permission string such as "identity.Project.*".
// Only the final segment may be the wildcard.
func ParsePattern(s string) (Pattern, error) {
	parts := strings.Split(s, ".")
	if len(parts) != patternSegments {
		return Pattern{}, errdefs.Validation("permission %q must have %d segments", s, patternSegments)
	}
	for i, part := range parts {
		if part == "" {
			return Pattern{}, errdefs.Validation("permission %q has an empty segment", s)
		}
		if strings.Contains(part, "*") && !(i == patternSegments-1 && part == "*") {
			return Pattern{}, errdefs.Validation("permission %q: only the final segment may be the wildcard", s)
		}
	}
	p := Pattern{Service: parts[0], Resource: parts[1], Verb: parts[2]}
	if p.Verb == "*" {
		p.Wildcard = true
		p.Verb = ""
	}
	return p, nil
}

// String renders the pattern back to its dotted form
func (p Pattern) String() string {
	verb := p.Verb
	if p.Wildcard {
		verb = "*"
	}
	return p.Service + "." + p.Resource + "." + verb
}

// Action is a concrete requested action with no wildcards
type Action struct {
	Service  string
	Resource string
	Verb     string
}

// ParseAction parses a requested action string such as "identity.User.get"
func ParseAction(s string) (Action, error) {
	parts := strings.Split(s, ".")
	if len(parts) != patternSegments {
		return Action{}, errdefs.Validation("action %q must have %d segments", s, patternSegments)
	}
	for _, part := range parts {
		if part == "" || strings.Contains(part, "*") {
			return Action{}, errdefs.Validation("action %q may not be empty or wildcarded", s)
		}
	}
	return Action{Service: parts[0], Resource: parts[1], Verb: parts[2]}, nil
}

func (a Action) String() string {
	return a.Service + "." + a.Resource + "." + a.Verb
}

// Matches reports whether the pattern grants the action. All non-wildcard
// segments must equal the corresponding action segment exactly.
func (p Pattern) Matches(a Action) bool {
	if p.Service != a.Service || p.Resource != a.Resource {
		return false
	}
	return p.Wildcard || p.Verb == a.Verb
}

// PermissionSet is an ordered set of granted patterns
type PermissionSet []Pattern

// ParsePermissions parses a list of pattern strings, failing on the first
// malformed entry
func ParsePermissions(patterns []string) (PermissionSet, error) {
	set := make(PermissionSet, 0, len(patterns))
	for _, s := range patterns {
		p, err := ParsePattern(s)
		if err != nil {
			return nil, err
		}
		set = append(set, p)
	}
	return set, nil
}

// Allows reports whether any granted pattern matches the action
func (s PermissionSet) Allows(a Action) bool {
	for _, p := range s {
		if p.Matches(a) {
			return true
		}
	}
	return false
}

// Authorize gates an action string against the set, returning a FORBIDDEN
// error on a miss. Denial is an authorization outcome, not a lookup failure.
func (s PermissionSet) Authorize(action string) error {
	a, err := ParseAction(action)
	if err != nil {
		return err
	}
	if !s.Allows(a) {
		return errdefs.Forbidden(action)
	}
	return nil
}

// Strings renders the set back to dotted pattern strings
func (s PermissionSet) Strings() []string {
	out := make([]string, len(s))
	for i, p := range s {
		out[i] = p.String()
	}
	return out
}
