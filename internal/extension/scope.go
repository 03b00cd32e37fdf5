package extension

import (
	"fmt"
	"strings"
)

// Scope is a configuration layer recording enable/disable decisions.
// Workspace is the more specific layer; it takes precedence over User
// only while the workspace is trusted.
type Scope int

const (
	ScopeUser Scope = iota
	ScopeWorkspace
)

func (s Scope) String() string {
	switch s {
	case ScopeUser:
		return "user"
	case ScopeWorkspace:
		return "workspace"
	default:
		return fmt.Sprintf("scope(%d)", int(s))
	}
}

// ParseScope validates a scope string case-insensitively. It is the
// single string-to-enum boundary; everything past it works with the
// closed enum.
func ParseScope(raw string) (Scope, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "user":
		return ScopeUser, nil
	case "workspace":
		return ScopeWorkspace, nil
	default:
		return ScopeUser, fmt.Errorf("want user|workspace, got %q", raw)
	}
}
