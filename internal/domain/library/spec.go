package library

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/dop251/goja"
)

var (
	// ErrDependencyLoad wraps every fetch, decode or compile failure of a library
	ErrDependencyLoad = errors.New("dependency load failed")
	// ErrLocatorNotAllowed is returned for locators outside the configured allowlist
	ErrLocatorNotAllowed = errors.New("locator not allowed")
	// ErrUnknownLibrary is returned when a spec id is not in the catalog
	ErrUnknownLibrary = errors.New("unknown library")
)

// Kind selects how a library source is installed into the runtime
type Kind string

const (
	// KindModule sources run inside a CommonJS-style scope; module.exports
	// becomes the value of the global binding.
	KindModule Kind = "module"
	// KindClassic sources run at global scope and install their own globals.
	KindClassic Kind = "classic"
)

// Spec describes one external library or skeleton script.
type Spec struct {
	ID      string `json:"id" yaml:"id" toml:"id"`
	Locator string `json:"locator" yaml:"locator" toml:"locator"`
	Kind    Kind   `json:"kind" yaml:"kind" toml:"kind"`

	// Global is the dotted global path the library is reachable under once
	// installed ("d3", "THREE.OrbitControls"). Empty for skeleton scripts.
	Global string `json:"global,omitempty" yaml:"global,omitempty" toml:"global,omitempty"`

	// Exports is the dotted global path handed to importers asking for the
	// module namespace. Defaults to Global.
	Exports string `json:"exports,omitempty" yaml:"exports,omitempty" toml:"exports,omitempty"`

	// Aliases are doublestar patterns matched against import locators so
	// snippets importing a CDN copy bind to the resident instance instead.
	Aliases []string `json:"aliases,omitempty" yaml:"aliases,omitempty" toml:"aliases,omitempty"`

	// Requires lists catalog ids that must be installed before this one.
	Requires []string `json:"requires,omitempty" yaml:"requires,omitempty" toml:"requires,omitempty"`
}

// Validate checks the fields every spec needs
func (s Spec) Validate() error {
	if strings.TrimSpace(s.ID) == "" {
		return errors.New("spec id is required")
	}
	if strings.TrimSpace(s.Locator) == "" {
		return fmt.Errorf("spec %q: locator is required", s.ID)
	}
	switch s.Kind {
	case KindModule, KindClassic:
	default:
		return fmt.Errorf("spec %q: unknown kind %q", s.ID, s.Kind)
	}
	if s.Kind == KindModule && s.BindingName() == "" {
		return fmt.Errorf("spec %q: module libraries need a global binding", s.ID)
	}
	return nil
}

// BindingName is the global path the library is exposed under
func (s Spec) BindingName() string {
	return s.Global
}

// ExportsName is the global path returned for namespace imports
func (s Spec) ExportsName() string {
	if s.Exports != "" {
		return s.Exports
	}
	return s.Global
}

// Handle is a loaded, compiled library. Handles are owned by the Registry
// and shared by every caller that asked for the same spec id.
type Handle struct {
	Spec              Spec
	GlobalBindingName string
	LoadedAt          time.Time
	Size              int
	Digest            string
	Program           *goja.Program `json:"-"`
}

// A module source is wrapped into a function expression the runtime calls
// with (module, exports).
const (
	modulePrologue = "(function (module, exports) {\n"
	moduleEpilogue = "\n})"
)

func compile(spec Spec, source string) (*goja.Program, error) {
	if spec.Kind == KindModule {
		source = modulePrologue + source + moduleEpilogue
	}
	return goja.Compile(spec.Locator, source, false)
}
