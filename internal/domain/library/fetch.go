package library

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/charlievieth/fastwalk"
	"github.com/go-resty/resty/v2"
	"github.com/hashicorp/go-retryablehttp"
	"golang.org/x/time/rate"

	"github.com/GriffinCanCode/Stochify/vizhost/internal/infrastructure/resilience"
)

// StaticPrefix is the locator prefix served from the local static root
const StaticPrefix = "/static/"

// ErrNotFound is returned by fetchers for locators that do not exist
var ErrNotFound = errors.New("resource not found")

// Fetcher retrieves the raw bytes behind a locator
type Fetcher interface {
	Fetch(ctx context.Context, locator string) ([]byte, error)
}

// FetcherFunc adapts a function to the Fetcher interface
type FetcherFunc func(ctx context.Context, locator string) ([]byte, error)

// Fetch calls f(ctx, locator)
func (f FetcherFunc) Fetch(ctx context.Context, locator string) ([]byte, error) {
	return f(ctx, locator)
}

// Scheme classifies a locator for routing and metrics: "http", "https" or "local"
func Scheme(locator string) string {
	if i := strings.Index(locator, "://"); i > 0 {
		return strings.ToLower(locator[:i])
	}
	return "local"
}

// HTTPConfig configures the remote fetcher
type HTTPConfig struct {
	Timeout    time.Duration
	RPS        float64 // 0 = unlimited
	MaxRetries int
	RetryWait  time.Duration
	UserAgent  string
}

// DefaultHTTPConfig returns production defaults
func DefaultHTTPConfig() HTTPConfig {
	return HTTPConfig{
		Timeout:    30 * time.Second,
		MaxRetries: 3,
		RetryWait:  500 * time.Millisecond,
		UserAgent:  "vizhost/1.0",
	}
}

// HTTPFetcher downloads libraries over HTTP with retries, rate limiting and a
// circuit breaker shared by every remote locator.
type HTTPFetcher struct {
	client  *resty.Client
	limiter *rate.Limiter
	breaker *resilience.Breaker
}

// NewHTTPFetcher creates a remote fetcher
func NewHTTPFetcher(cfg HTTPConfig) *HTTPFetcher {
	retryClient := retryablehttp.NewClient()
	retryClient.RetryMax = cfg.MaxRetries
	retryClient.RetryWaitMin = cfg.RetryWait
	retryClient.RetryWaitMax = 10 * cfg.RetryWait
	retryClient.Logger = nil

	client := resty.NewWithClient(retryClient.StandardClient())
	if cfg.Timeout > 0 {
		client.SetTimeout(cfg.Timeout)
	}
	if cfg.UserAgent != "" {
		client.SetHeader("User-Agent", cfg.UserAgent)
	}

	limiter := rate.NewLimiter(rate.Inf, 0)
	if cfg.RPS > 0 {
		burst := int(cfg.RPS)
		if burst < 1 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(cfg.RPS), burst)
	}

	breaker := resilience.New("library-fetch", resilience.Settings{
		MaxRequests: 2,
		Interval:    60 * time.Second,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts resilience.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		// a missing file is the caller's problem, not an unhealthy CDN
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, ErrNotFound)
		},
	})

	return &HTTPFetcher{client: client, limiter: limiter, breaker: breaker}
}

// Breaker exposes the circuit breaker for health reporting
func (f *HTTPFetcher) Breaker() *resilience.Breaker {
	return f.breaker
}

// Fetch downloads locator
func (f *HTTPFetcher) Fetch(ctx context.Context, locator string) ([]byte, error) {
	if err := f.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	return resilience.Execute(ctx, f.breaker, func(ctx context.Context) ([]byte, error) {
		resp, err := f.client.R().SetContext(ctx).Get(locator)
		if err != nil {
			return nil, fmt.Errorf("GET %s: %w", locator, err)
		}
		switch {
		case resp.StatusCode() == 404 || resp.StatusCode() == 410:
			return nil, fmt.Errorf("GET %s: %w", locator, ErrNotFound)
		case resp.IsError():
			return nil, fmt.Errorf("GET %s: status %d", locator, resp.StatusCode())
		}
		return resp.Body(), nil
	})
}

// LocalFetcher serves locators from files under a static root. The tree is
// indexed with fastwalk on first use and re-indexed once on a miss.
type LocalFetcher struct {
	root string

	mu    sync.RWMutex
	index map[string]string
}

// NewLocalFetcher creates a fetcher rooted at root
func NewLocalFetcher(root string) *LocalFetcher {
	return &LocalFetcher{root: root}
}

// Reindex walks the static root and rebuilds the file index
func (f *LocalFetcher) Reindex(ctx context.Context) error {
	idx := make(map[string]string)
	var mu sync.Mutex

	conf := fastwalk.Config{Follow: false}
	err := fastwalk.Walk(&conf, f.root, func(p string, d os.DirEntry, err error) error {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		if err != nil || d.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(f.root, p)
		if err != nil {
			return nil
		}

		mu.Lock()
		idx[filepath.ToSlash(rel)] = p
		mu.Unlock()
		return nil
	})
	if err != nil {
		return fmt.Errorf("index %s: %w", f.root, err)
	}

	f.mu.Lock()
	f.index = idx
	f.mu.Unlock()
	return nil
}

// Files lists indexed paths relative to the root
func (f *LocalFetcher) Files() []string {
	f.mu.RLock()
	defer f.mu.RUnlock()

	out := make([]string, 0, len(f.index))
	for rel := range f.index {
		out = append(out, rel)
	}
	sort.Strings(out)
	return out
}

// Fetch reads the file behind a "/static/..." or root-relative locator
func (f *LocalFetcher) Fetch(ctx context.Context, locator string) ([]byte, error) {
	rel, ok := localPath(locator)
	if !ok {
		return nil, fmt.Errorf("%s: %w", locator, ErrNotFound)
	}

	file, found := f.lookup(rel)
	if !found {
		if err := f.Reindex(ctx); err != nil {
			return nil, err
		}
		if file, found = f.lookup(rel); !found {
			return nil, fmt.Errorf("%s: %w", locator, ErrNotFound)
		}
	}

	data, err := os.ReadFile(file)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%s: %w", locator, ErrNotFound)
		}
		return nil, err
	}
	return data, nil
}

func (f *LocalFetcher) lookup(rel string) (string, bool) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	p, ok := f.index[rel]
	return p, ok
}

// localPath maps a locator onto a clean path relative to the static root
func localPath(locator string) (string, bool) {
	p := strings.TrimPrefix(locator, StaticPrefix)
	p = strings.TrimPrefix(path.Clean("/"+p), "/")
	return p, p != "" && p != "."
}

// MultiFetcher routes http(s) locators to Remote and everything else to Local
type MultiFetcher struct {
	Remote Fetcher
	Local  Fetcher
}

// Fetch dispatches on the locator scheme
func (m MultiFetcher) Fetch(ctx context.Context, locator string) ([]byte, error) {
	var f Fetcher
	switch Scheme(locator) {
	case "http", "https":
		f = m.Remote
	case "local":
		f = m.Local
	}
	if f == nil {
		return nil, fmt.Errorf("no fetcher for locator %q", locator)
	}
	return f.Fetch(ctx, locator)
}
