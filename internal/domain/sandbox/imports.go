package sandbox

import (
	"context"
	"errors"

	"github.com/dop251/goja"
	"go.uber.org/zap"

	"github.com/GriffinCanCode/Stochify/vizhost/internal/domain/library"
)

// ExportAll and ExportDefault are the export selectors __vizImport understands
const (
	ExportAll     = "*"
	ExportDefault = "default"
)

// vizImport implements __vizImport(locator, export). It returns a promise
// settled on the task loop once the library and its requirements are loaded
// and installed.
func (r *Runtime) vizImport(call goja.FunctionCall) goja.Value {
	locator := call.Argument(0).String()
	export := ExportAll
	if arg := call.Argument(1); !goja.IsUndefined(arg) && !goja.IsNull(arg) {
		export = arg.String()
	}

	p, resolve, reject := r.vm.NewPromise()
	fail := func(err error) {
		_ = reject(r.newError("Error", err.Error()))
	}

	if r.registry == nil {
		fail(errors.New("library loading is not available in this sandbox"))
		return r.vm.ToValue(p)
	}
	spec, err := r.registry.SpecFor(locator)
	if err != nil {
		fail(err)
		return r.vm.ToValue(p)
	}
	specs, err := r.registry.Requirements(spec)
	if err != nil {
		fail(err)
		return r.vm.ToValue(p)
	}

	gen, ctx := r.gen, r.ctx
	if ctx == nil {
		ctx = context.Background()
	}
	r.outstanding++
	go func() {
		handles, err := r.registry.EnsureAll(ctx, specs)
		r.queue.post(gen, func() {
			r.outstanding--
			if err != nil {
				r.log.Debug("import failed", zap.String("locator", locator), zap.Error(err))
				fail(err)
				return
			}
			for _, h := range handles {
				if err := r.install(h); err != nil {
					fail(err)
					return
				}
			}
			_ = resolve(r.exportOf(spec, export))
		})
	}()
	return r.vm.ToValue(p)
}

// exportOf returns what an import of spec evaluates to. A default import
// falls back to the namespace for libraries without a default export.
func (r *Runtime) exportOf(spec library.Spec, export string) goja.Value {
	ns := r.lookup(spec.ExportsName())
	if export == ExportDefault {
		if obj, ok := ns.(*goja.Object); ok {
			if d := obj.Get("default"); d != nil && !goja.IsUndefined(d) {
				return d
			}
		}
	}
	return ns
}
