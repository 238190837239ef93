package library

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultCatalog(t *testing.T) {
	c := DefaultCatalog()

	for _, id := range []string{D3, Three, OrbitControls, CSS2DRenderer, Cartesian2D, Cartesian3D} {
		s, ok := c.Get(id)
		require.True(t, ok, id)
		assert.NoError(t, s.Validate())
	}

	orbit, _ := c.Get(OrbitControls)
	assert.Equal(t, "THREE.OrbitControls", orbit.BindingName())
	assert.Equal(t, "THREE", orbit.ExportsName())

	d3, _ := c.Get(D3)
	assert.Equal(t, "d3", d3.ExportsName())

	assert.Len(t, c.Specs(), 6)
}

func TestLoadCatalogYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "libraries.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
libraries:
  - id: d3
    locator: /static/vendor/d3.min.js
  - id: plotly
    locator: https://cdn.plot.ly/plotly-2.35.2.min.js
    kind: classic
    global: Plotly
    aliases: ["plotly", "https://cdn.plot.ly/**"]
`), 0o644))

	c, err := LoadCatalog(path)
	require.NoError(t, err)

	d3, ok := c.Get(D3)
	require.True(t, ok)
	assert.Equal(t, "/static/vendor/d3.min.js", d3.Locator)
	assert.Equal(t, KindClassic, d3.Kind, "unset fields keep their defaults")
	assert.Equal(t, "d3", d3.Global)

	plotly, ok := c.Match("https://cdn.plot.ly/plotly-latest.min.js")
	require.True(t, ok)
	assert.Equal(t, "plotly", plotly.ID)
	assert.Equal(t, "Plotly", plotly.Global)
}

func TestLoadCatalogTOML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "libraries.toml")
	require.NoError(t, os.WriteFile(path, []byte(`
[[libraries]]
id = "three"
locator = "https://unpkg.com/three@0.147.0/build/three.min.js"

[[libraries]]
id = "echarts"
locator = "https://cdn.jsdelivr.net/npm/echarts@5/dist/echarts.min.js"
kind = "module"
global = "echarts"
`), 0o644))

	c, err := LoadCatalog(path)
	require.NoError(t, err)

	three, _ := c.Get(Three)
	assert.Equal(t, "https://unpkg.com/three@0.147.0/build/three.min.js", three.Locator)
	assert.Equal(t, "THREE", three.Global)

	echarts, ok := c.Get("echarts")
	require.True(t, ok)
	assert.Equal(t, KindModule, echarts.Kind)
}

func TestLoadCatalogErrors(t *testing.T) {
	dir := t.TempDir()

	_, err := LoadCatalog(filepath.Join(dir, "missing.yaml"))
	assert.Error(t, err)

	ini := filepath.Join(dir, "libraries.ini")
	require.NoError(t, os.WriteFile(ini, []byte("x=1"), 0o644))
	_, err = LoadCatalog(ini)
	assert.ErrorContains(t, err, "unsupported catalog format")

	bad := filepath.Join(dir, "bad.yaml")
	require.NoError(t, os.WriteFile(bad, []byte("libraries:\n  - id: broken\n    kind: wasm\n    locator: /static/x\n"), 0o644))
	_, err = LoadCatalog(bad)
	assert.ErrorContains(t, err, "unknown kind")

	c, err := LoadCatalog("")
	require.NoError(t, err)
	assert.Len(t, c.Specs(), 6)
}

func TestAllowlist(t *testing.T) {
	a, err := NewAllowlist([]string{"https://cdn.jsdelivr.net/**", " ", "/static/**"})
	require.NoError(t, err)
	assert.Equal(t, []string{"https://cdn.jsdelivr.net/**", "/static/**"}, a.Patterns())

	assert.True(t, a.Allowed("https://cdn.jsdelivr.net/npm/x@1/x.js"))
	assert.True(t, a.Allowed("/static/skeleton.js"))
	assert.False(t, a.Allowed("https://evil.example/x.js"))
	assert.ErrorIs(t, a.Check("https://evil.example/x.js"), ErrLocatorNotAllowed)

	var open *Allowlist
	assert.True(t, open.Allowed("https://anything.example/x.js"))

	_, err = NewAllowlist([]string{"https://[broken"})
	assert.Error(t, err)
}
