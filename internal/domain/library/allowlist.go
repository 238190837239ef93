package library

import (
	"fmt"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
)

// Allowlist restricts which locators snippets may import on their own.
// Patterns use doublestar syntax, e.g. "https://cdn.jsdelivr.net/**".
type Allowlist struct {
	patterns []string
}

// NewAllowlist validates and stores patterns. Blank entries are ignored.
func NewAllowlist(patterns []string) (*Allowlist, error) {
	a := &Allowlist{}
	for _, p := range patterns {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		if !doublestar.ValidatePattern(p) {
			return nil, fmt.Errorf("invalid allowlist pattern %q", p)
		}
		a.patterns = append(a.patterns, p)
	}
	return a, nil
}

// Allowed reports whether locator matches any pattern. A nil allowlist allows everything.
func (a *Allowlist) Allowed(locator string) bool {
	if a == nil {
		return true
	}
	for _, p := range a.patterns {
		if ok, _ := doublestar.Match(p, locator); ok {
			return true
		}
	}
	return false
}

// Check returns ErrLocatorNotAllowed when locator is rejected
func (a *Allowlist) Check(locator string) error {
	if !a.Allowed(locator) {
		return fmt.Errorf("%w: %s", ErrLocatorNotAllowed, locator)
	}
	return nil
}

// Patterns returns a copy of the configured patterns
func (a *Allowlist) Patterns() []string {
	if a == nil {
		return nil
	}
	return append([]string(nil), a.patterns...)
}
