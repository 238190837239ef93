package sanitize

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/GriffinCanCode/Stochify/vizhost/internal/shared/types"
)

// ImportPolicy selects how static import statements are neutralized
type ImportPolicy int

const (
	// PolicyRewrite turns static imports into awaited dynamic loads bound to local names
	PolicyRewrite ImportPolicy = iota
	// PolicyStrip deletes static imports; snippets rely on installed globals
	PolicyStrip
)

func (p ImportPolicy) String() string {
	switch p {
	case PolicyRewrite:
		return "rewrite"
	case PolicyStrip:
		return "strip"
	default:
		return "unknown"
	}
}

// ParsePolicy parses a policy name from configuration
func ParsePolicy(s string) (ImportPolicy, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "rewrite", "dynamic":
		return PolicyRewrite, nil
	case "strip", "delete", "globals":
		return PolicyStrip, nil
	}
	return PolicyRewrite, fmt.Errorf("unknown import policy %q", s)
}

// DefaultLoader is the host function rewritten imports call
const DefaultLoader = "__vizImport"

// Options configures a Sanitizer
type Options struct {
	Policy      ImportPolicy
	ContainerID string
	Loader      string
}

// DefaultOptions returns the deployment defaults
func DefaultOptions() Options {
	return Options{
		Policy:      PolicyRewrite,
		ContainerID: "viz",
		Loader:      DefaultLoader,
	}
}

// Sanitizer turns untrusted snippet text into a function body that can run
// against the shared library globals. It is safe for concurrent use.
type Sanitizer struct {
	opts  Options
	steps []step
}

type step func(src string, dim types.Dimension) string

// maxPasses bounds the fixpoint loop; every step shrinks or stabilizes the text
const maxPasses = 4

var (
	fencePattern     = regexp.MustCompile("```[A-Za-z0-9_+.#-]*[ \t]*\r?\n|```")
	inlineTagPattern = regexp.MustCompile(`(?i)</?(?:pre|code)(?:\s[^<>]*)?>`)
	wrapperPattern   = regexp.MustCompile(`(?i)<!doctype[^<>]*>|</?(?:script|html|head|body)(?:\s[^<>]*)?>`)
	bodySelect       = regexp.MustCompile("d3\\.select\\(\\s*(?:'body'|\"body\"|`body`)\\s*\\)")
	documentBody     = regexp.MustCompile(`\bdocument\.body\b`)
	bareControls     = regexp.MustCompile(`\bnew(\s+)OrbitControls\b`)
)

// New creates a Sanitizer; zero-valued option fields take their defaults
func New(opts Options) *Sanitizer {
	def := DefaultOptions()
	if opts.ContainerID == "" {
		opts.ContainerID = def.ContainerID
	}
	if opts.Loader == "" {
		opts.Loader = def.Loader
	}

	s := &Sanitizer{opts: opts}
	s.steps = []step{
		s.stripFences,
		s.stripWrappers,
		s.rewriteModules,
		s.retargetMount,
		s.qualifyControls,
		s.decodeEntities,
	}
	return s
}

// Options returns the sanitizer configuration
func (s *Sanitizer) Options() Options {
	return s.opts
}

// Sanitize applies every step in order until the text stops changing. It never
// fails: text that cannot be fully cleaned is returned best-effort and left for
// execution to reject.
func (s *Sanitizer) Sanitize(source string, dim types.Dimension) string {
	out := strings.TrimSpace(source)
	for pass := 0; pass < maxPasses && out != ""; pass++ {
		next := out
		for _, st := range s.steps {
			next = st(next, dim)
		}
		next = strings.TrimSpace(next)
		if next == out {
			break
		}
		out = next
	}
	return out
}

var defaultSanitizer = New(DefaultOptions())

// Sanitize runs the default sanitizer (rewrite policy, #viz container)
func Sanitize(source string, dim types.Dimension) string {
	return defaultSanitizer.Sanitize(source, dim)
}

func (s *Sanitizer) stripFences(src string, _ types.Dimension) string {
	src = fencePattern.ReplaceAllString(src, "")
	return inlineTagPattern.ReplaceAllString(src, "")
}

func (s *Sanitizer) stripWrappers(src string, _ types.Dimension) string {
	return wrapperPattern.ReplaceAllString(src, "")
}

func (s *Sanitizer) rewriteModules(src string, _ types.Dimension) string {
	return newModuleRewriter(s.opts.Policy, s.opts.Loader).rewrite(src)
}

func (s *Sanitizer) retargetMount(src string, _ types.Dimension) string {
	sel := fmt.Sprintf("d3.select(%q)", "#"+s.opts.ContainerID)
	src = bodySelect.ReplaceAllLiteralString(src, sel)
	return documentBody.ReplaceAllLiteralString(src, fmt.Sprintf("document.getElementById(%q)", s.opts.ContainerID))
}

func (s *Sanitizer) qualifyControls(src string, dim types.Dimension) string {
	if dim != types.Dimension3D {
		return src
	}
	return bareControls.ReplaceAllString(src, "new${1}THREE.OrbitControls")
}

func (s *Sanitizer) decodeEntities(src string, _ types.Dimension) string {
	return strings.NewReplacer("&lt;", "<", "&gt;", ">").Replace(src)
}
