package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/GriffinCanCode/Stochify/vizhost/internal/domain/host"
	"github.com/GriffinCanCode/Stochify/vizhost/internal/domain/library"
	"github.com/GriffinCanCode/Stochify/vizhost/internal/domain/router"
	"github.com/GriffinCanCode/Stochify/vizhost/internal/domain/sandbox"
	"github.com/GriffinCanCode/Stochify/vizhost/internal/domain/sanitize"
	"github.com/GriffinCanCode/Stochify/vizhost/internal/infrastructure/logging"
	"github.com/GriffinCanCode/Stochify/vizhost/internal/infrastructure/monitoring"
	"github.com/GriffinCanCode/Stochify/vizhost/internal/infrastructure/tracing"
	"github.com/GriffinCanCode/Stochify/vizhost/internal/shared/id"
	"github.com/GriffinCanCode/Stochify/vizhost/internal/shared/types"
)

// Phase is the stage a pass is in
type Phase string

const (
	PhaseIdle       Phase = "idle"
	PhaseSanitizing Phase = "sanitizing"
	PhaseResolving  Phase = "resolving_dependencies"
	PhaseExecuting  Phase = "executing"
	PhaseSettled    Phase = "settled"
)

// Loader makes library specs resident
type Loader interface {
	EnsureAll(ctx context.Context, specs []library.Spec) ([]*library.Handle, error)
}

// Runtime is the shared execution environment bound to the host document
type Runtime interface {
	sandbox.Executor
	Install(h *library.Handle) error
	RunSkeleton(ctx context.Context, h *library.Handle) error
}

// Deps are the components a pass runs through
type Deps struct {
	Sanitizer *sanitize.Sanitizer
	Router    *router.Router
	Loader    Loader
	Runtime   Runtime
	Host      *host.Host
}

// Option configures an Orchestrator
type Option func(*Orchestrator)

// WithLogger sets the logger
func WithLogger(l *logging.Logger) Option {
	return func(o *Orchestrator) { o.log = logging.OrNop(l).Named("pipeline") }
}

// WithMetrics records passes and stage durations
func WithMetrics(m *monitoring.Metrics) Option {
	return func(o *Orchestrator) { o.metrics = m }
}

// WithTracer opens a span per pass
func WithTracer(t *tracing.Tracer) Option {
	return func(o *Orchestrator) { o.tracer = t }
}

// Orchestrator drives snippets through sanitize, resolve, execute and settle.
// Passes overlap until execution, which is serialized. Once a pass reaches
// execution, every pass with a lower sequence number is discarded without
// touching the host.
type Orchestrator struct {
	sanitizer *sanitize.Sanitizer
	router    *router.Router
	loader    Loader
	runtime   Runtime
	host      *host.Host
	log       *logging.Logger
	metrics   *monitoring.Metrics
	tracer    *tracing.Tracer

	seq     atomic.Uint64
	highest atomic.Uint64 // highest seq that reached execution
	execMu  sync.Mutex    // serializes execution and every host write

	phaseMu  sync.Mutex
	phase    Phase
	phaseSeq uint64
}

// New creates an orchestrator. Sanitizer and Router fall back to defaults;
// the other dependencies are required.
func New(d Deps, opts ...Option) (*Orchestrator, error) {
	if d.Loader == nil || d.Runtime == nil || d.Host == nil {
		return nil, errors.New("pipeline: loader, runtime and host are required")
	}
	if d.Sanitizer == nil {
		d.Sanitizer = sanitize.New(sanitize.DefaultOptions())
	}
	if d.Router == nil {
		d.Router = router.New(nil)
	}

	o := &Orchestrator{
		sanitizer: d.Sanitizer,
		router:    d.Router,
		loader:    d.Loader,
		runtime:   d.Runtime,
		host:      d.Host,
		log:       logging.NewNop(),
		phase:     PhaseIdle,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o, nil
}

// Host returns the host the orchestrator settles into
func (o *Orchestrator) Host() *host.Host {
	return o.host
}

// Phase returns the phase of the most recent pass
func (o *Orchestrator) Phase() Phase {
	o.phaseMu.Lock()
	defer o.phaseMu.Unlock()
	return o.phase
}

// LastSeq returns the sequence number of the most recent arrival
func (o *Orchestrator) LastSeq() uint64 {
	return o.seq.Load()
}

type pass struct {
	seq  uint64
	req  Request
	log  *logging.Logger
	span *tracing.Span
}

// Submit runs one request to settlement. It never returns an error; every
// failure is reported in the Outcome and, unless the pass went stale, on the
// host.
func (o *Orchestrator) Submit(ctx context.Context, req Request) Outcome {
	start := time.Now()
	if req.ID == "" {
		req.ID = id.NewRequestID()
	}
	p := &pass{seq: o.seq.Add(1), req: req}
	p.log = o.log.With(zap.Uint64("seq", p.seq), zap.String("request_id", req.ID.String()))
	p.span, ctx = o.tracer.StartSpan(ctx, "pipeline.pass")
	p.span.SetTag("request_id", req.ID.String())
	p.span.SetTag("dimension", req.Dimension)

	o.metrics.PassStarted()
	defer o.metrics.PassFinished()

	out := o.run(ctx, p)
	out.Seq = p.seq
	out.RequestID = req.ID
	out.Duration = time.Since(start)

	o.metrics.RecordPass(string(out.Status), dimensionLabel(req.Dimension))
	o.enter(p, PhaseSettled)
	p.log.Info("pass settled",
		zap.String("status", string(out.Status)),
		zap.String("kind", string(out.Kind)),
		zap.String("error", out.ErrorMessage),
		zap.Duration("duration", out.Duration))
	o.enter(p, PhaseIdle)

	p.span.SetTag("status", string(out.Status))
	if out.Status == StatusFailed || out.Status == StatusRejected {
		p.span.SetError(errors.New(out.ErrorMessage))
	}
	p.span.Finish()
	o.tracer.Submit(p.span)
	return out
}

func (o *Orchestrator) run(ctx context.Context, p *pass) Outcome {
	o.enter(p, PhaseSanitizing)

	route, err := o.router.Route(p.req.Dimension, p.req.UsesSharedPlane)
	if err != nil {
		return o.reject(p, err)
	}

	rctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var (
		handles  []*library.Handle
		skeleton *library.Handle
		loadErr  error
		resolved = make(chan struct{})
	)
	go func() {
		defer close(resolved)
		t := monitoring.NewTimer(o.metrics, string(PhaseResolving))
		handles, skeleton, loadErr = o.resolve(rctx, route)
		t.Stop()
	}()

	t := monitoring.NewTimer(o.metrics, string(PhaseSanitizing))
	code := o.sanitizer.Sanitize(p.req.Source, route.Dimension)
	t.Stop()

	if code == "" {
		cancel()
		<-resolved
		return Outcome{Status: StatusNoop, Kind: KindSanitizationNoop}
	}

	o.enter(p, PhaseResolving)
	<-resolved
	if loadErr != nil {
		return o.fail(p, code, KindDependencyLoad, loadErr.Error())
	}

	return o.execute(ctx, p, code, handles, skeleton)
}

// resolve loads the route libraries and skeleton in one batch
func (o *Orchestrator) resolve(ctx context.Context, route router.Route) ([]*library.Handle, *library.Handle, error) {
	specs := append([]library.Spec(nil), route.Specs...)
	if route.Skeleton != nil {
		specs = append(specs, *route.Skeleton)
	}
	if len(specs) == 0 {
		return nil, nil, nil
	}

	handles, err := o.loader.EnsureAll(ctx, specs)
	if err != nil {
		if !errors.Is(err, library.ErrDependencyLoad) {
			err = fmt.Errorf("%w: %v", library.ErrDependencyLoad, err)
		}
		return nil, nil, err
	}
	if route.Skeleton != nil {
		return handles[:len(handles)-1], handles[len(handles)-1], nil
	}
	return handles, nil, nil
}

func (o *Orchestrator) execute(ctx context.Context, p *pass, code string, handles []*library.Handle, skeleton *library.Handle) Outcome {
	if o.claim(p.seq) {
		return o.discard(p, "before execution")
	}

	o.execMu.Lock()
	defer o.execMu.Unlock()

	// a newer pass may have claimed execution while this one waited
	if o.stale(p.seq) {
		return o.discard(p, "before execution")
	}

	o.enter(p, PhaseExecuting)
	t := monitoring.NewTimer(o.metrics, string(PhaseExecuting))
	d := o.host.Prepare(p.req.UsesSharedPlane)
	res, kind := o.runDraft(ctx, d, code, handles, skeleton)
	t.Stop()

	if o.stale(p.seq) {
		o.host.Rollback(d)
		return o.discard(p, "before commit")
	}

	if !res.OK {
		o.host.Rollback(d)
		o.host.Settle(code, res.ErrorMessage)
		return Outcome{Status: StatusFailed, Kind: kind, ErrorMessage: res.ErrorMessage, Code: code, Console: res.Console}
	}

	o.host.Commit(d)
	o.host.Settle(code, "")
	return Outcome{Status: StatusSucceeded, Code: code, Console: res.Console}
}

// runDraft installs libraries, draws the skeleton when the draft lacks it and
// runs the snippet. The caller commits or rolls back d.
func (o *Orchestrator) runDraft(ctx context.Context, d *host.Draft, code string, handles []*library.Handle, skeleton *library.Handle) (sandbox.Result, Kind) {
	for _, h := range handles {
		if err := o.runtime.Install(h); err != nil {
			return sandbox.Result{ErrorMessage: err.Error(), Err: err}, KindDependencyLoad
		}
	}

	// skeletons are never installed; installing would draw them a second time
	if skeleton != nil && !d.HasSkeleton(skeleton.Spec.ID) {
		if err := o.runtime.RunSkeleton(ctx, skeleton); err != nil {
			return sandbox.Result{ErrorMessage: err.Error(), Err: err}, KindExecutionFault
		}
		d.MarkSkeleton(skeleton.Spec.ID)
	}

	res := o.runtime.Execute(ctx, code)
	if !res.OK {
		return res, KindExecutionFault
	}
	return res, KindNone
}

// reject reports a request no route exists for. The container is never
// touched.
func (o *Orchestrator) reject(p *pass, err error) Outcome {
	kind := KindExecutionFault
	if errors.Is(err, types.ErrUnsupportedDimension) {
		kind = KindUnsupportedDimension
	}

	o.execMu.Lock()
	defer o.execMu.Unlock()
	if o.stale(p.seq) {
		return o.discard(p, "before reporting")
	}
	o.host.Settle(p.req.Source, err.Error())
	return Outcome{Status: StatusRejected, Kind: kind, ErrorMessage: err.Error()}
}

// fail reports a pass that never reached execution
func (o *Orchestrator) fail(p *pass, code string, kind Kind, msg string) Outcome {
	o.execMu.Lock()
	defer o.execMu.Unlock()
	if o.stale(p.seq) {
		return o.discard(p, "before reporting")
	}
	o.host.Settle(code, msg)
	return Outcome{Status: StatusFailed, Kind: kind, ErrorMessage: msg, Code: code}
}

func (o *Orchestrator) discard(p *pass, at string) Outcome {
	p.log.Debug("stale pass discarded", zap.String("at", at), zap.Uint64("newest", o.highest.Load()))
	return Outcome{Status: StatusStale, Kind: KindStaleResult}
}

// claim records that seq reached execution and reports whether a newer pass
// got there first.
func (o *Orchestrator) claim(seq uint64) bool {
	for {
		cur := o.highest.Load()
		if seq < cur {
			return true
		}
		if seq == cur || o.highest.CompareAndSwap(cur, seq) {
			return false
		}
	}
}

func (o *Orchestrator) stale(seq uint64) bool {
	return seq < o.highest.Load()
}

func (o *Orchestrator) enter(p *pass, ph Phase) {
	o.phaseMu.Lock()
	if p.seq >= o.phaseSeq {
		o.phase = ph
		o.phaseSeq = p.seq
	}
	o.phaseMu.Unlock()
	p.span.AddEvent(string(ph))
	p.log.Debug("phase", zap.String("phase", string(ph)))
}

func dimensionLabel(raw string) string {
	if d, err := types.ParseDimension(raw); err == nil {
		return d.String()
	}
	return "unsupported"
}
