package server

import (
	"context"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/GriffinCanCode/Stochify/vizhost/internal/domain/pipeline"
	"github.com/GriffinCanCode/Stochify/vizhost/internal/infrastructure/config"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	gin.SetMode(gin.TestMode)

	root := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(root, "cartesian2D.js"), []byte(`(function () {
		var plane = document.createElement("div");
		plane.className = "plane";
		document.getElementById("viz").appendChild(plane);
	})();`), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(root, "demo.js"), []byte(`
		var s = document.createElement("span");
		s.textContent = "demo";
		document.getElementById("viz").appendChild(s);`), 0o644))

	cfg := config.Default()
	cfg.Server.Host = "127.0.0.1"
	cfg.Server.Port = "0"
	cfg.Libraries.StaticRoot = root
	cfg.RateLimit.Enabled = false
	cfg.Demo.Path = filepath.Join(root, "demo.js")
	cfg.Demo.Enabled = false
	cfg.Sandbox.PoolSize = 1
	return cfg
}

func newTestServer(t *testing.T, cfg *config.Config) *Server {
	t.Helper()
	srv, err := NewServer(cfg, nil)
	require.NoError(t, err)
	t.Cleanup(func() { srv.Close() })
	return srv
}

func get(t *testing.T, h http.Handler, path string) *httptest.ResponseRecorder {
	t.Helper()
	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, path, nil))
	return w
}

func TestNewServerRoutes(t *testing.T) {
	srv := newTestServer(t, testConfig(t))
	h := srv.Handler()

	tests := []struct {
		path   string
		status int
		body   string
	}{
		{"/", http.StatusOK, "online"},
		{"/health", http.StatusOK, "healthy"},
		{"/v1/state", http.StatusOK, "containerPresent"},
		{"/v1/libraries", http.StatusOK, "libraries"},
		{"/v1/metrics", http.StatusOK, "success_rate"},
		{"/metrics", http.StatusOK, "vizhost_"},
		{"/static/cartesian2D.js", http.StatusOK, "plane"},
		{"/static/missing.js", http.StatusNotFound, ""},
	}
	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			w := get(t, h, tt.path)
			assert.Equal(t, tt.status, w.Code)
			assert.Contains(t, w.Body.String(), tt.body)
		})
	}

	// responses carry a trace id
	w := get(t, h, "/health")
	assert.NotEmpty(t, w.Header().Get("X-Trace-ID"))
	assert.Contains(t, w.Body.String(), `"fetch_breaker":"closed"`)
}

func TestSharedPlaneFromStaticRoot(t *testing.T) {
	cfg := testConfig(t)
	root := cfg.Libraries.StaticRoot
	require.NoError(t, os.WriteFile(filepath.Join(root, "d3.js"), []byte(`var d3 = { version: "local" };`), 0o644))

	// point d3 at the static root so nothing leaves the machine
	cfg.Libraries.CatalogPath = filepath.Join(root, "catalog.yaml")
	require.NoError(t, os.WriteFile(cfg.Libraries.CatalogPath, []byte(`libraries:
  - id: d3
    locator: /static/d3.js
`), 0o644))

	srv := newTestServer(t, cfg)
	draw := `var p = document.createElement("p"); p.textContent = d3.version; document.getElementById("viz").appendChild(p);`

	out := srv.Pipeline().Submit(context.Background(), pipeline.Request{Source: draw, Dimension: "2D", UsesSharedPlane: true})
	require.Equal(t, pipeline.StatusSucceeded, out.Status, out.ErrorMessage)
	assert.Equal(t, `<div class="plane"></div><p>local</p>`, srv.Pipeline().Host().InnerHTML())

	w := get(t, srv.Handler(), "/v1/libraries")
	assert.Contains(t, w.Body.String(), "/static/d3.js")
	assert.Contains(t, w.Body.String(), "/static/cartesian2D.js")
}

func TestInvalidConfig(t *testing.T) {
	cfg := testConfig(t)
	cfg.Sandbox.ImportPolicy = "execute"
	_, err := NewServer(cfg, nil)
	assert.Error(t, err)

	cfg = testConfig(t)
	cfg.Libraries.CatalogPath = filepath.Join(t.TempDir(), "nope.yaml")
	_, err = NewServer(cfg, nil)
	assert.Error(t, err)
}

func TestRunServesDemo(t *testing.T) {
	cfg := testConfig(t)
	cfg.Demo.Enabled = true

	// reserve a port so the test can reach the listener
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	cfg.Server.Port = strings.TrimPrefix(ln.Addr().String(), "127.0.0.1:")
	require.NoError(t, ln.Close())

	srv := newTestServer(t, cfg)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- srv.Run(ctx) }()

	require.Eventually(t, func() bool {
		return srv.Pipeline().Host().InnerHTML() == "<span>demo</span>"
	}, 5*time.Second, 20*time.Millisecond)

	resp, err := http.Get("http://" + net.JoinHostPort(cfg.Server.Host, cfg.Server.Port) + "/health")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return")
	}
}
