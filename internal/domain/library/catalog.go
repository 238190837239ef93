package library

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/goccy/go-yaml"
	"github.com/pelletier/go-toml/v2"
)

// Well-known catalog ids
const (
	D3            = "d3"
	Three         = "three"
	OrbitControls = "orbit-controls"
	CSS2DRenderer = "css2d-renderer"
	Cartesian2D   = "cartesian-2d"
	Cartesian3D   = "cartesian-3d"
)

// Catalog is the set of library specs the service knows by id.
type Catalog struct {
	mu    sync.RWMutex
	specs map[string]Spec
}

type catalogFile struct {
	Libraries []Spec `yaml:"libraries" toml:"libraries"`
}

// NewCatalog creates a catalog from specs; later specs replace earlier ones with the same id
func NewCatalog(specs ...Spec) (*Catalog, error) {
	c := &Catalog{specs: make(map[string]Spec, len(specs))}
	for _, s := range specs {
		if err := c.Put(s); err != nil {
			return nil, err
		}
	}
	return c, nil
}

// DefaultCatalog returns the built-in 2D, 3D and skeleton specs
func DefaultCatalog() *Catalog {
	c, err := NewCatalog(defaultSpecs()...)
	if err != nil {
		panic(err)
	}
	return c
}

func defaultSpecs() []Spec {
	return []Spec{
		{
			ID:      D3,
			Locator: "https://d3js.org/d3.v7.min.js",
			Kind:    KindClassic,
			Global:  "d3",
			Aliases: []string{"d3", "d3@*", "https://d3js.org/d3.v7*.js", "https://cdn.jsdelivr.net/npm/d3@7*", "https://cdn.jsdelivr.net/npm/d3@7*/**", "https://esm.sh/d3@7*", "https://esm.sh/d3"},
		},
		{
			ID:      Three,
			Locator: "https://cdn.jsdelivr.net/npm/three@0.147.0/build/three.min.js",
			Kind:    KindClassic,
			Global:  "THREE",
			Aliases: []string{"three", "three@*", "https://cdn.jsdelivr.net/npm/three@*/build/three*.js", "https://esm.sh/three", "https://esm.sh/three@*", "https://unpkg.com/three@*/build/three*.js"},
		},
		{
			ID:       OrbitControls,
			Locator:  "https://cdn.jsdelivr.net/npm/three@0.147.0/examples/js/controls/OrbitControls.js",
			Kind:     KindClassic,
			Global:   "THREE.OrbitControls",
			Exports:  "THREE",
			Requires: []string{Three},
			Aliases:  []string{"three/examples/**/OrbitControls.js", "three/addons/controls/OrbitControls.js", "https://**/OrbitControls.js"},
		},
		{
			ID:       CSS2DRenderer,
			Locator:  "https://cdn.jsdelivr.net/npm/three@0.147.0/examples/js/renderers/CSS2DRenderer.js",
			Kind:     KindClassic,
			Global:   "THREE.CSS2DRenderer",
			Exports:  "THREE",
			Requires: []string{Three},
			Aliases:  []string{"three/examples/**/CSS2DRenderer.js", "three/addons/renderers/CSS2DRenderer.js", "https://**/CSS2DRenderer.js"},
		},
		{
			ID:      Cartesian2D,
			Locator: "/static/cartesian2D.js",
			Kind:    KindClassic,
		},
		{
			ID:      Cartesian3D,
			Locator: "/static/cartesian3D.js",
			Kind:    KindClassic,
		},
	}
}

// LoadCatalog reads a YAML or TOML catalog file and layers it over the defaults.
// An empty path returns the defaults.
func LoadCatalog(path string) (*Catalog, error) {
	c := DefaultCatalog()
	if path == "" {
		return c, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read catalog: %w", err)
	}

	var file catalogFile
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".yaml", ".yml":
		err = yaml.Unmarshal(data, &file)
	case ".toml":
		err = toml.Unmarshal(data, &file)
	default:
		return nil, fmt.Errorf("unsupported catalog format %q", ext)
	}
	if err != nil {
		return nil, fmt.Errorf("parse catalog %s: %w", path, err)
	}

	for _, s := range file.Libraries {
		if base, ok := c.Get(s.ID); ok {
			s = merge(base, s)
		}
		if err := c.Put(s); err != nil {
			return nil, fmt.Errorf("catalog %s: %w", path, err)
		}
	}
	return c, nil
}

// merge fills the zero fields of override from base
func merge(base, override Spec) Spec {
	if override.Locator == "" {
		override.Locator = base.Locator
	}
	if override.Kind == "" {
		override.Kind = base.Kind
	}
	if override.Global == "" {
		override.Global = base.Global
	}
	if override.Exports == "" {
		override.Exports = base.Exports
	}
	if len(override.Aliases) == 0 {
		override.Aliases = base.Aliases
	}
	if len(override.Requires) == 0 {
		override.Requires = base.Requires
	}
	return override
}

// Put adds or replaces a spec
func (c *Catalog) Put(s Spec) error {
	if err := s.Validate(); err != nil {
		return err
	}
	for _, a := range s.Aliases {
		if !doublestar.ValidatePattern(a) {
			return fmt.Errorf("spec %q: invalid alias pattern %q", s.ID, a)
		}
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.specs[s.ID] = s
	return nil
}

// Get returns the spec registered under id
func (c *Catalog) Get(id string) (Spec, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	s, ok := c.specs[id]
	return s, ok
}

// MustGet returns the spec registered under id or an ErrUnknownLibrary error
func (c *Catalog) MustGet(id string) (Spec, error) {
	s, ok := c.Get(id)
	if !ok {
		return Spec{}, fmt.Errorf("%w: %s", ErrUnknownLibrary, id)
	}
	return s, nil
}

// Match finds the spec whose locator or alias patterns match locator.
// Exact locator matches win over alias matches; ties are broken by id.
func (c *Catalog) Match(locator string) (Spec, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	var candidates []Spec
	for _, s := range c.specs {
		if s.Locator == locator {
			return s, true
		}
		for _, a := range s.Aliases {
			if ok, _ := doublestar.Match(a, locator); ok {
				candidates = append(candidates, s)
				break
			}
		}
	}
	if len(candidates) == 0 {
		return Spec{}, false
	}
	sort.Slice(candidates, func(i, j int) bool { return candidates[i].ID < candidates[j].ID })
	return candidates[0], true
}

// Specs returns every spec sorted by id
func (c *Catalog) Specs() []Spec {
	c.mu.RLock()
	defer c.mu.RUnlock()

	out := make([]Spec, 0, len(c.specs))
	for _, s := range c.specs {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}
