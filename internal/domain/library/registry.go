package library

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"github.com/GriffinCanCode/Stochify/vizhost/internal/infrastructure/logging"
	"github.com/GriffinCanCode/Stochify/vizhost/internal/infrastructure/monitoring"
	"github.com/GriffinCanCode/Stochify/vizhost/internal/shared/utils"
)

// Registry is the process-wide cache of loaded libraries. For each spec id at
// most one load is in flight and at most one handle is resident; concurrent
// callers share the pending load. Successful loads are kept for the life of
// the registry, failures are not remembered.
type Registry struct {
	fetcher      Fetcher
	catalog      *Catalog
	allow        *Allowlist
	log          *logging.Logger
	metrics      *monitoring.Metrics
	fetchTimeout time.Duration
	now          func() time.Time
	hasher       *utils.Hasher

	group   singleflight.Group
	mu      sync.RWMutex
	handles map[string]*Handle
	fetches atomic.Int64
}

// Option configures a Registry
type Option func(*Registry)

// WithCatalog sets the catalog used for id and locator resolution
func WithCatalog(c *Catalog) Option {
	return func(r *Registry) { r.catalog = c }
}

// WithAllowlist restricts locators that are not in the catalog
func WithAllowlist(a *Allowlist) Option {
	return func(r *Registry) { r.allow = a }
}

// WithLogger sets the logger
func WithLogger(l *logging.Logger) Option {
	return func(r *Registry) { r.log = logging.OrNop(l) }
}

// WithMetrics records loads and fetches
func WithMetrics(m *monitoring.Metrics) Option {
	return func(r *Registry) { r.metrics = m }
}

// WithFetchTimeout bounds each shared load; zero disables the bound
func WithFetchTimeout(d time.Duration) Option {
	return func(r *Registry) { r.fetchTimeout = d }
}

// WithClock overrides time.Now for LoadedAt stamps
func WithClock(now func() time.Time) Option {
	return func(r *Registry) { r.now = now }
}

// NewRegistry creates a registry that loads through fetcher
func NewRegistry(fetcher Fetcher, opts ...Option) *Registry {
	r := &Registry{
		fetcher: fetcher,
		catalog: DefaultCatalog(),
		log:     logging.NewNop(),
		now:     time.Now,
		hasher:  utils.DefaultHasher(),
		handles: make(map[string]*Handle),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Catalog returns the registry catalog
func (r *Registry) Catalog() *Catalog {
	return r.catalog
}

// EnsureLoaded returns the resident handle for spec.ID, loading it first if
// needed. A caller whose ctx ends early gets ctx.Err(); the shared load keeps
// running for the other callers and for the cache.
func (r *Registry) EnsureLoaded(ctx context.Context, spec Spec) (*Handle, error) {
	if err := spec.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDependencyLoad, err)
	}
	if h, ok := r.Lookup(spec.ID); ok {
		return h, nil
	}

	ch := r.group.DoChan(spec.ID, func() (interface{}, error) {
		// a flight that started after a previous one finished must not refetch
		if h, ok := r.Lookup(spec.ID); ok {
			return h, nil
		}

		lctx, cancel := r.loadContext(ctx)
		defer cancel()
		return r.load(lctx, spec)
	})

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(*Handle), nil
	}
}

func (r *Registry) loadContext(ctx context.Context) (context.Context, context.CancelFunc) {
	detached := context.WithoutCancel(ctx)
	if r.fetchTimeout > 0 {
		return context.WithTimeout(detached, r.fetchTimeout)
	}
	return context.WithCancel(detached)
}

func (r *Registry) load(ctx context.Context, spec Spec) (*Handle, error) {
	start := time.Now()
	scheme := Scheme(spec.Locator)
	r.fetches.Add(1)

	body, err := r.fetcher.Fetch(ctx, spec.Locator)
	if err != nil {
		r.metrics.RecordFetch(scheme, "error", 0)
		return nil, r.fail(spec, "fetch", err)
	}
	r.metrics.RecordFetch(scheme, "ok", len(body))

	source, err := DecodeSource(spec.Locator, body)
	if err != nil {
		return nil, r.fail(spec, "decode", err)
	}

	program, err := compile(spec, source)
	if err != nil {
		return nil, r.fail(spec, "compile", err)
	}

	h := &Handle{
		Spec:              spec,
		GlobalBindingName: spec.BindingName(),
		LoadedAt:          r.now(),
		Size:              len(source),
		Digest:            utils.Short(r.hasher.HashString(source)),
		Program:           program,
	}

	r.mu.Lock()
	r.handles[spec.ID] = h
	resident := len(r.handles)
	r.mu.Unlock()

	r.metrics.RecordLibraryLoad(spec.ID, "ok")
	r.metrics.SetLibrariesResident(resident)
	r.log.Info("library loaded",
		zap.String("id", spec.ID),
		zap.String("locator", spec.Locator),
		zap.String("global", h.GlobalBindingName),
		zap.Int("bytes", h.Size),
		zap.Duration("duration", time.Since(start)))
	return h, nil
}

func (r *Registry) fail(spec Spec, stage string, err error) error {
	r.metrics.RecordLibraryLoad(spec.ID, stage+"_error")
	r.log.Warn("library load failed",
		zap.String("id", spec.ID),
		zap.String("locator", spec.Locator),
		zap.String("stage", stage),
		zap.Error(err))
	return fmt.Errorf("%w: %s (%s): %v", ErrDependencyLoad, spec.ID, spec.Locator, err)
}

// EnsureAll loads specs concurrently and returns their handles in input order.
// The first failure is returned once every load has finished.
func (r *Registry) EnsureAll(ctx context.Context, specs []Spec) ([]*Handle, error) {
	handles := make([]*Handle, len(specs))
	var g errgroup.Group
	for i, spec := range specs {
		g.Go(func() error {
			h, err := r.EnsureLoaded(ctx, spec)
			handles[i] = h
			return err
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return handles, nil
}

// Lookup returns the resident handle for id
func (r *Registry) Lookup(id string) (*Handle, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	h, ok := r.handles[id]
	return h, ok
}

// LookupLocator returns the resident handle an import locator resolves to
func (r *Registry) LookupLocator(locator string) (*Handle, bool) {
	spec, err := r.SpecFor(locator)
	if err != nil {
		return nil, false
	}
	return r.Lookup(spec.ID)
}

// Handles returns every resident handle ordered by load time
func (r *Registry) Handles() []*Handle {
	r.mu.RLock()
	out := make([]*Handle, 0, len(r.handles))
	for _, h := range r.handles {
		out = append(out, h)
	}
	r.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].LoadedAt.Equal(out[j].LoadedAt) {
			return out[i].Spec.ID < out[j].Spec.ID
		}
		return out[i].LoadedAt.Before(out[j].LoadedAt)
	})
	return out
}

// Fetches reports how many underlying fetches the registry has started
func (r *Registry) Fetches() int64 {
	return r.fetches.Load()
}

// SpecFor resolves an import locator. Catalog ids, locators and aliases win;
// any other locator must pass the allowlist and is loaded as a module under a
// generated global name.
func (r *Registry) SpecFor(locator string) (Spec, error) {
	locator = strings.TrimSpace(locator)
	if s, ok := r.catalog.Get(locator); ok {
		return s, nil
	}
	if s, ok := r.catalog.Match(locator); ok {
		return s, nil
	}
	if Scheme(locator) == "local" && !strings.HasPrefix(locator, "/") && !strings.HasPrefix(locator, ".") {
		return Spec{}, fmt.Errorf("%w: bare specifier %q", ErrUnknownLibrary, locator)
	}
	if err := r.allow.Check(locator); err != nil {
		return Spec{}, err
	}
	return Spec{
		ID:      locator,
		Locator: locator,
		Kind:    KindModule,
		Global:  "__vizmod_" + utils.Short(r.hasher.HashString(locator)),
	}, nil
}

// Requirements expands spec into the ordered list of specs to install, with
// its catalog requirements first.
func (r *Registry) Requirements(spec Spec) ([]Spec, error) {
	var (
		out     []Spec
		visited = map[string]bool{}
		visit   func(s Spec, depth int) error
	)
	visit = func(s Spec, depth int) error {
		if visited[s.ID] {
			return nil
		}
		if depth > 8 {
			return fmt.Errorf("%w: requirement chain too deep at %s", ErrDependencyLoad, s.ID)
		}
		visited[s.ID] = true
		for _, id := range s.Requires {
			dep, err := r.catalog.MustGet(id)
			if err != nil {
				return fmt.Errorf("%w: %s requires %v", ErrDependencyLoad, s.ID, err)
			}
			if err := visit(dep, depth+1); err != nil {
				return err
			}
		}
		out = append(out, s)
		return nil
	}
	if err := visit(spec, 0); err != nil {
		return nil, err
	}
	return out, nil
}
