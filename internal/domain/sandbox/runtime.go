package sandbox

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/dop251/goja"
	"go.uber.org/zap"

	"github.com/GriffinCanCode/Stochify/vizhost/internal/domain/host"
	"github.com/GriffinCanCode/Stochify/vizhost/internal/domain/library"
	"github.com/GriffinCanCode/Stochify/vizhost/internal/domain/sanitize"
	"github.com/GriffinCanCode/Stochify/vizhost/internal/infrastructure/logging"
)

// Snippet code is compiled as the body of a function expression in this file.
// The opening line of the wrapper shifts every snippet line by one.
const (
	snippetFile       = "snippet.js"
	snippetLineOffset = 1
)

// Runtime is one goja VM: the global namespace every library and snippet
// shares, a document proxy over the host, and a task loop for callbacks
// posted from other goroutines. It runs one execution at a time.
type Runtime struct {
	config   Config
	host     *host.Host
	registry *library.Registry
	log      *logging.Logger

	mu         sync.Mutex
	vm         *goja.Runtime
	dom        *DOM
	installed  map[string]bool
	queue      *taskQueue
	trampoline goja.Callable
	current    func()
	broken     bool

	// per execution, owned by the VM goroutine
	ctx          context.Context
	gen          uint64
	outstanding  int
	timers       timers
	pendingFault *ExecutionError
	console      []LogEntry
}

// Option configures a Runtime
type Option func(*Runtime)

// WithHost binds document to h; by default the runtime owns a private host
func WithHost(h *host.Host) Option {
	return func(r *Runtime) { r.host = h }
}

// WithRegistry enables __vizImport through reg
func WithRegistry(reg *library.Registry) Option {
	return func(r *Runtime) { r.registry = reg }
}

// WithLogger sets the logger
func WithLogger(l *logging.Logger) Option {
	return func(r *Runtime) { r.log = logging.OrNop(l) }
}

// New creates a sandboxed runtime
func New(config Config, opts ...Option) (*Runtime, error) {
	r := &Runtime{
		config: config,
		log:    logging.NewNop(),
		queue:  newTaskQueue(),
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.host == nil {
		r.host = host.New("", r.log)
	}
	r.log = r.log.Named("sandbox")

	if err := r.setup(); err != nil {
		return nil, err
	}
	return r, nil
}

// Host returns the host whose document the runtime exposes
func (r *Runtime) Host() *host.Host {
	return r.host
}

// setup builds a fresh VM with the host globals
func (r *Runtime) setup() error {
	vm := goja.New()
	if r.config.MaxCallStackSize > 0 {
		vm.SetMaxCallStackSize(r.config.MaxCallStackSize)
	}
	r.vm = vm
	r.installed = make(map[string]bool)
	r.timers = timers{pending: make(map[int64]*time.Timer)}
	r.dom = newDOM(r, r.host.Document())
	r.broken = false

	tramp, ok := goja.AssertFunction(vm.ToValue(func(goja.FunctionCall) goja.Value {
		r.current()
		return goja.Undefined()
	}))
	if !ok {
		return errors.New("sandbox: task trampoline is not callable")
	}
	r.trampoline = tramp

	return r.setupGlobals()
}

// setupGlobals configures global objects and security
func (r *Runtime) setupGlobals() error {
	vm := r.vm
	global := vm.GlobalObject()

	// no module system or process access; UMD bundles fall back to globals
	for _, name := range []string{"require", "process", "module", "exports", "define"} {
		if err := vm.Set(name, goja.Undefined()); err != nil {
			return err
		}
	}

	console := vm.NewObject()
	for _, level := range []string{"log", "info", "warn", "error", "debug"} {
		_ = console.Set(level, r.makeConsoleFunc(level))
	}

	navigator := vm.NewObject()
	_ = navigator.Set("userAgent", "vizhost")
	_ = navigator.Set("language", "en-US")

	start := time.Now()
	performance := vm.NewObject()
	_ = performance.Set("now", func() float64 {
		return float64(time.Since(start).Microseconds()) / 1000
	})

	globals := map[string]interface{}{
		"window":                global,
		"self":                  global,
		"console":               console,
		"navigator":             navigator,
		"performance":           performance,
		"document":              r.dom.document(),
		"innerWidth":            r.config.ViewportWidth,
		"innerHeight":           r.config.ViewportHeight,
		"devicePixelRatio":      1,
		"setTimeout":            r.setTimeout,
		"clearTimeout":          r.clearTimeout,
		"setInterval":           r.never,
		"clearInterval":         func(goja.FunctionCall) goja.Value { return goja.Undefined() },
		"requestAnimationFrame": r.never,
		"cancelAnimationFrame":  func(goja.FunctionCall) goja.Value { return goja.Undefined() },
		"addEventListener":      func(goja.FunctionCall) goja.Value { return goja.Undefined() },
		"removeEventListener":   func(goja.FunctionCall) goja.Value { return goja.Undefined() },
		"getComputedStyle": func(call goja.FunctionCall) goja.Value {
			n := r.dom.node(call.Argument(0), "getComputedStyle")
			return r.dom.nodes[n].styleObject()
		},
		"__vizImport": r.vizImport,
	}
	for name, v := range globals {
		if err := vm.Set(name, v); err != nil {
			return fmt.Errorf("sandbox: set %s: %w", name, err)
		}
	}

	_, err := vm.RunString(`globalThis.queueMicrotask = function (fn) { Promise.resolve().then(fn); };`)
	return err
}

// makeConsoleFunc creates a console function
func (r *Runtime) makeConsoleFunc(level string) func(goja.FunctionCall) goja.Value {
	return func(call goja.FunctionCall) goja.Value {
		parts := make([]string, len(call.Arguments))
		for i, arg := range call.Arguments {
			parts[i] = arg.String()
		}
		msg := strings.Join(parts, " ")

		r.log.Debug("console", zap.String("level", level), zap.String("message", msg))
		if r.config.ConsoleLimit > 0 && len(r.console) >= r.config.ConsoleLimit {
			return goja.Undefined()
		}
		r.console = append(r.console, LogEntry{Level: level, Message: msg, Time: time.Now()})
		return goja.Undefined()
	}
}

// newError builds a JS error object of the given name
func (r *Runtime) newError(name, msg string) *goja.Object {
	ctorName := "Error"
	switch name {
	case "TypeError", "SyntaxError", "RangeError", "ReferenceError":
		ctorName = name
	}
	if ctor, ok := goja.AssertConstructor(r.vm.Get(ctorName)); ok {
		if obj, err := ctor(nil, r.vm.ToValue(msg)); err == nil {
			if ctorName != name {
				_ = obj.Set("name", name)
			}
			return obj
		}
	}
	return r.vm.NewGoError(errors.New(msg))
}

// Execute builds a function from code and runs it to completion. Code that
// uses await becomes an async function whose promise is driven by the task
// loop. Timers still pending when the snippet settles are dropped.
func (r *Runtime) Execute(ctx context.Context, code string) Result {
	r.mu.Lock()
	defer r.mu.Unlock()

	start := time.Now()
	if r.config.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.config.Timeout)
		defer cancel()
	}

	r.begin(ctx)
	stop := r.watch(ctx)
	fault := r.run(ctx, code)
	stop()
	console := r.end()

	res := Result{OK: fault == nil, Console: console, Duration: time.Since(start)}
	if fault != nil {
		res.Err = fault
		res.ErrorMessage = fault.Error()
		r.log.Debug("snippet failed", zap.String("error", res.ErrorMessage), zap.String("at", fault.Location()))
	}
	return res
}

func (r *Runtime) begin(ctx context.Context) {
	r.ctx = ctx
	r.gen++
	r.outstanding = 0
	r.pendingFault = nil
	r.console = nil
	r.queue.clear()
	r.dom.reset()
}

func (r *Runtime) end() []LogEntry {
	r.dropTimers()
	r.gen++
	r.queue.clear()
	r.ctx = nil

	console := r.console
	r.console = nil

	if r.broken {
		r.log.Warn("rebuilding runtime after host panic")
		if err := r.setup(); err != nil {
			r.log.Error("runtime rebuild failed", zap.Error(err))
		}
	}
	return console
}

// watch interrupts the VM when ctx ends. The returned func stops watching
// and clears any interrupt that was raised.
func (r *Runtime) watch(ctx context.Context) func() {
	vm := r.vm
	done := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		select {
		case <-ctx.Done():
			vm.Interrupt(interruptReason(ctx.Err()))
		case <-done:
		}
	}()
	return func() {
		close(done)
		wg.Wait()
		vm.ClearInterrupt()
	}
}

func interruptReason(err error) string {
	if errors.Is(err, context.DeadlineExceeded) {
		return "execution timed out"
	}
	return "execution cancelled"
}

func (r *Runtime) run(ctx context.Context, code string) (fault *ExecutionError) {
	defer func() {
		if x := recover(); x != nil {
			fault = fromPanic(x)
			r.broken = true
			r.log.Error("host binding panicked", zap.Any("panic", x), zap.Stack("stack"))
		}
	}()

	fn, fault := r.compile(code)
	if fault != nil {
		return fault
	}
	ret, err := fn(goja.Undefined())
	if err != nil {
		return fromError(r.vm, err)
	}
	if ret == nil {
		return nil
	}
	p, ok := ret.Export().(*goja.Promise)
	if !ok {
		return nil
	}
	return r.await(ctx, p)
}

// compile turns snippet code into a callable function value
func (r *Runtime) compile(code string) (goja.Callable, *ExecutionError) {
	head := "(function () {\n"
	if sanitize.UsesAwait(code) {
		head = "(async function () {\n"
	}
	prg, err := goja.Compile(snippetFile, head+code+"\n})", false)
	if err != nil {
		return nil, syntaxFault(err)
	}
	v, err := r.vm.RunProgram(prg)
	if err != nil {
		return nil, fromError(r.vm, err)
	}
	fn, ok := goja.AssertFunction(v)
	if !ok {
		return nil, &ExecutionError{Name: "TypeError", Message: "snippet is not a function body"}
	}
	return fn, nil
}

func syntaxFault(err error) *ExecutionError {
	var se *goja.CompilerSyntaxError
	if errors.As(err, &se) {
		out := &ExecutionError{Name: "SyntaxError", Message: se.Message}
		if se.File != nil {
			pos := se.File.Position(se.Offset)
			if pos.Line > snippetLineOffset {
				out.Line = pos.Line - snippetLineOffset
				out.Column = pos.Column
			}
		}
		return out
	}
	return &ExecutionError{Name: "SyntaxError", Message: err.Error()}
}

// await drives the task loop until p settles
func (r *Runtime) await(ctx context.Context, p *goja.Promise) *ExecutionError {
	for p.State() == goja.PromiseStatePending {
		if t, ok := r.queue.pop(); ok {
			if t.gen == r.gen {
				r.runTask(t.fn)
			}
			continue
		}
		if r.outstanding == 0 {
			return &ExecutionError{Name: "Error", Message: "snippet promise can never settle", Async: true}
		}
		select {
		case <-r.queue.wake:
		case <-ctx.Done():
			return &ExecutionError{Name: "InterruptedError", Message: interruptReason(ctx.Err()), Async: true}
		}
	}

	if p.State() == goja.PromiseStateRejected {
		fault := fromValue(r.vm, p.Result())
		fault.Async = true
		return fault
	}
	return r.pendingFault
}

// runTask runs fn inside a VM call so promise jobs it queues are drained
func (r *Runtime) runTask(fn func()) {
	r.current = fn
	_, err := r.trampoline(goja.Undefined())
	r.current = nil
	if err != nil {
		r.asyncFault(err)
	}
}

// Install runs a loaded library into the global namespace. Each spec id is
// installed at most once per runtime.
func (r *Runtime) Install(h *library.Handle) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.install(h)
}

func (r *Runtime) install(h *library.Handle) (err error) {
	if r.installed[h.Spec.ID] {
		return nil
	}
	defer func() {
		if x := recover(); x != nil {
			r.broken = true
			err = fmt.Errorf("%w: install %s: %v", library.ErrDependencyLoad, h.Spec.ID, x)
		}
	}()

	v, err := r.vm.RunProgram(h.Program)
	if err != nil {
		return fmt.Errorf("%w: install %s: %v", library.ErrDependencyLoad, h.Spec.ID, fromError(r.vm, err))
	}

	if h.Spec.Kind == library.KindModule {
		fn, ok := goja.AssertFunction(v)
		if !ok {
			return fmt.Errorf("%w: install %s: module wrapper is not callable", library.ErrDependencyLoad, h.Spec.ID)
		}
		module := r.vm.NewObject()
		exports := r.vm.NewObject()
		_ = module.Set("exports", exports)
		if _, err := fn(goja.Undefined(), module, exports); err != nil {
			return fmt.Errorf("%w: install %s: %v", library.ErrDependencyLoad, h.Spec.ID, fromError(r.vm, err))
		}
		if err := r.bind(h.GlobalBindingName, module.Get("exports")); err != nil {
			return fmt.Errorf("%w: install %s: %v", library.ErrDependencyLoad, h.Spec.ID, err)
		}
	}

	if name := h.GlobalBindingName; name != "" && !r.defined(name) {
		return fmt.Errorf("%w: install %s: global %s missing after install", library.ErrDependencyLoad, h.Spec.ID, name)
	}
	r.installed[h.Spec.ID] = true
	r.log.Debug("library installed", zap.String("id", h.Spec.ID), zap.String("global", h.GlobalBindingName))
	return nil
}

// Installed reports whether spec id has been installed
func (r *Runtime) Installed(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.installed[id]
}

// RunSkeleton runs a skeleton script into the current container. Unlike
// libraries, skeletons run every time they are asked for.
func (r *Runtime) RunSkeleton(ctx context.Context, h *library.Handle) (err error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.begin(ctx)
	stop := r.watch(ctx)
	defer func() {
		if x := recover(); x != nil {
			r.broken = true
			err = fmt.Errorf("skeleton %s: %w", h.Spec.ID, fromPanic(x))
		}
		stop()
		r.end()
	}()

	if _, runErr := r.vm.RunProgram(h.Program); runErr != nil {
		return fmt.Errorf("skeleton %s: %w", h.Spec.ID, fromError(r.vm, runErr))
	}
	return nil
}

// Global reads a dotted global path, mostly for tests and diagnostics
func (r *Runtime) Global(path string) interface{} {
	r.mu.Lock()
	defer r.mu.Unlock()
	v := r.lookup(path)
	if goja.IsUndefined(v) || goja.IsNull(v) {
		return nil
	}
	return v.Export()
}

func (r *Runtime) lookup(path string) goja.Value {
	if path == "" {
		return goja.Undefined()
	}
	var v goja.Value = r.vm.GlobalObject()
	for _, part := range strings.Split(path, ".") {
		obj, ok := v.(*goja.Object)
		if !ok {
			return goja.Undefined()
		}
		if v = obj.Get(part); v == nil {
			return goja.Undefined()
		}
	}
	return v
}

func (r *Runtime) defined(path string) bool {
	v := r.lookup(path)
	return !goja.IsUndefined(v) && !goja.IsNull(v)
}

// bind assigns v to a dotted global path, creating intermediate objects
func (r *Runtime) bind(path string, v goja.Value) error {
	parts := strings.Split(path, ".")
	obj := r.vm.GlobalObject()
	for _, part := range parts[:len(parts)-1] {
		next, ok := obj.Get(part).(*goja.Object)
		if !ok {
			next = r.vm.NewObject()
			if err := obj.Set(part, next); err != nil {
				return err
			}
		}
		obj = next
	}
	return obj.Set(parts[len(parts)-1], v)
}

// Reset discards the global namespace and every installed library
func (r *Runtime) Reset() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.setup()
}

// Close releases resources
func (r *Runtime) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.dropTimers()
	r.queue.clear()
	r.vm = nil
	r.console = nil
	return nil
}
