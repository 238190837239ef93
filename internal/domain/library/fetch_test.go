package library

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testHTTPConfig() HTTPConfig {
	cfg := DefaultHTTPConfig()
	cfg.Timeout = 2 * time.Second
	cfg.MaxRetries = 0
	cfg.RetryWait = time.Millisecond
	return cfg
}

func TestHTTPFetcher(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		switch r.URL.Path {
		case "/d3.js":
			assert.Equal(t, "vizhost/1.0", r.Header.Get("User-Agent"))
			w.Header().Set("Content-Type", "application/javascript")
			_, _ = w.Write([]byte("var d3 = {};"))
		case "/broken.js":
			w.WriteHeader(http.StatusInternalServerError)
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	f := NewHTTPFetcher(testHTTPConfig())

	body, err := f.Fetch(context.Background(), srv.URL+"/d3.js")
	require.NoError(t, err)
	assert.Equal(t, "var d3 = {};", string(body))

	_, err = f.Fetch(context.Background(), srv.URL+"/missing.js")
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = f.Fetch(context.Background(), srv.URL+"/broken.js")
	assert.Error(t, err)
	assert.NotErrorIs(t, err, ErrNotFound)
}

func TestHTTPFetcherRetriesServerErrors(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if hits.Add(1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		_, _ = w.Write([]byte("var THREE = {};"))
	}))
	defer srv.Close()

	cfg := testHTTPConfig()
	cfg.MaxRetries = 3
	f := NewHTTPFetcher(cfg)

	body, err := f.Fetch(context.Background(), srv.URL+"/three.js")
	require.NoError(t, err)
	assert.Equal(t, "var THREE = {};", string(body))
	assert.Equal(t, int32(3), hits.Load())
}

func TestHTTPFetcherNotFoundKeepsBreakerClosed(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	defer srv.Close()

	f := NewHTTPFetcher(testHTTPConfig())
	for i := 0; i < 10; i++ {
		_, err := f.Fetch(context.Background(), srv.URL+"/nope.js")
		assert.ErrorIs(t, err, ErrNotFound)
	}
	assert.Equal(t, "closed", f.Breaker().State().String())
}

func writeFile(t *testing.T, root, rel, content string) {
	t.Helper()
	p := filepath.Join(root, filepath.FromSlash(rel))
	require.NoError(t, os.MkdirAll(filepath.Dir(p), 0o755))
	require.NoError(t, os.WriteFile(p, []byte(content), 0o644))
}

func TestLocalFetcher(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "cartesian2D.js", "drawPlane2D();")
	writeFile(t, root, "skeletons/plane.js", "drawPlane();")

	f := NewLocalFetcher(root)
	ctx := context.Background()

	tests := []struct {
		locator string
		want    string
	}{
		{"/static/cartesian2D.js", "drawPlane2D();"},
		{"cartesian2D.js", "drawPlane2D();"},
		{"./skeletons/plane.js", "drawPlane();"},
		{"/static/../cartesian2D.js", "drawPlane2D();"},
	}
	for _, tt := range tests {
		t.Run(tt.locator, func(t *testing.T) {
			body, err := f.Fetch(ctx, tt.locator)
			require.NoError(t, err)
			assert.Equal(t, tt.want, string(body))
		})
	}

	_, err := f.Fetch(ctx, "/static/missing.js")
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = f.Fetch(ctx, "/static/")
	assert.ErrorIs(t, err, ErrNotFound)

	assert.Equal(t, []string{"cartesian2D.js", "skeletons/plane.js"}, f.Files())
}

func TestLocalFetcherPicksUpNewFiles(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "a.js", "a();")

	f := NewLocalFetcher(root)
	require.NoError(t, f.Reindex(context.Background()))

	writeFile(t, root, "b.js", "b();")
	body, err := f.Fetch(context.Background(), "/static/b.js")
	require.NoError(t, err)
	assert.Equal(t, "b();", string(body))
}

func TestLocalFetcherMissingRoot(t *testing.T) {
	f := NewLocalFetcher(filepath.Join(t.TempDir(), "absent"))
	_, err := f.Fetch(context.Background(), "/static/a.js")
	assert.Error(t, err)
}

func TestMultiFetcher(t *testing.T) {
	remote := FetcherFunc(func(ctx context.Context, locator string) ([]byte, error) {
		return []byte("remote"), nil
	})
	local := FetcherFunc(func(ctx context.Context, locator string) ([]byte, error) {
		return []byte("local"), nil
	})
	m := MultiFetcher{Remote: remote, Local: local}

	body, err := m.Fetch(context.Background(), "https://cdn.example/x.js")
	require.NoError(t, err)
	assert.Equal(t, "remote", string(body))

	body, err = m.Fetch(context.Background(), "/static/x.js")
	require.NoError(t, err)
	assert.Equal(t, "local", string(body))

	_, err = m.Fetch(context.Background(), "ftp://host/x.js")
	assert.Error(t, err)

	_, err = MultiFetcher{}.Fetch(context.Background(), "/static/x.js")
	assert.Error(t, err)
}

func TestScheme(t *testing.T) {
	assert.Equal(t, "https", Scheme("https://cdn.example/x.js"))
	assert.Equal(t, "http", Scheme("HTTP://cdn.example/x.js"))
	assert.Equal(t, "local", Scheme("/static/x.js"))
	assert.Equal(t, "local", Scheme("three"))
}
