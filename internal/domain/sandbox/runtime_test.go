package sandbox

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/GriffinCanCode/Stochify/vizhost/internal/domain/library"
)

func newRuntime(t *testing.T, opts ...Option) *Runtime {
	t.Helper()
	rt, err := New(DefaultConfig(), opts...)
	require.NoError(t, err)
	t.Cleanup(func() { rt.Close() })
	return rt
}

// runDraft runs code against a fresh draft of the runtime's container and commits it
func runDraft(t *testing.T, rt *Runtime, code string) (Result, string) {
	t.Helper()
	d := rt.Host().Prepare(false)
	res := rt.Execute(context.Background(), code)
	if res.OK {
		rt.Host().Commit(d)
	} else {
		rt.Host().Rollback(d)
	}
	return res, rt.Host().InnerHTML()
}

func TestExecute(t *testing.T) {
	rt := newRuntime(t)

	tests := []struct {
		name    string
		code    string
		wantOK  bool
		wantErr string
	}{
		{name: "empty body", code: "", wantOK: true},
		{name: "math", code: "var x = Math.sqrt(16); if (x !== 4) throw new Error('bad');", wantOK: true},
		{name: "return value ignored", code: "return 42;", wantOK: true},
		{name: "type error", code: "null.x;", wantErr: "TypeError"},
		{name: "thrown string", code: "throw 'plain';", wantErr: "plain"},
		{name: "custom error", code: "throw new RangeError('too far');", wantErr: "RangeError: too far"},
		{name: "syntax error", code: "function (", wantErr: "SyntaxError"},
		{name: "require removed", code: "require('fs');", wantErr: "TypeError"},
		{name: "process removed", code: "process.exit(1);", wantErr: "TypeError"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := rt.Execute(context.Background(), tt.code)
			assert.Equal(t, tt.wantOK, res.OK, res.ErrorMessage)
			if tt.wantErr != "" {
				assert.Contains(t, res.ErrorMessage, tt.wantErr)
				assert.True(t, errors.Is(res.Err, ErrExecution))
			}
		})
	}
}

func TestExecuteReportsLine(t *testing.T) {
	rt := newRuntime(t)

	res := rt.Execute(context.Background(), "var a = 1;\nvar b = 2;\nundefinedFn();")
	require.False(t, res.OK)

	var ee *ExecutionError
	require.True(t, errors.As(res.Err, &ee))
	assert.Equal(t, "ReferenceError", ee.Name)
	assert.Equal(t, 3, ee.Line)
}

func TestGlobalNamespacePersists(t *testing.T) {
	rt := newRuntime(t)

	require.True(t, rt.Execute(context.Background(), "window.counter = 1;").OK)
	res := rt.Execute(context.Background(), "counter += 1; if (counter !== 2) throw new Error('lost');")
	assert.True(t, res.OK, res.ErrorMessage)
	assert.Equal(t, int64(2), rt.Global("counter"))
}

func TestConsoleCapture(t *testing.T) {
	rt := newRuntime(t)

	res := rt.Execute(context.Background(), "console.log('points', 3); console.warn('careful');")
	require.True(t, res.OK)
	require.Len(t, res.Console, 2)
	assert.Equal(t, "log", res.Console[0].Level)
	assert.Equal(t, "points 3", res.Console[0].Message)
	assert.Equal(t, "warn", res.Console[1].Level)

	res = rt.Execute(context.Background(), "")
	assert.Empty(t, res.Console, "console is per execution")
}

func TestAsyncExecution(t *testing.T) {
	rt := newRuntime(t)

	res, markup := runDraft(t, rt, `
		await new Promise(resolve => setTimeout(resolve, 5));
		document.getElementById("viz").textContent = "late";
	`)
	require.True(t, res.OK, res.ErrorMessage)
	assert.Equal(t, "late", markup)
}

func TestAsyncRejection(t *testing.T) {
	rt := newRuntime(t)

	res := rt.Execute(context.Background(), "await Promise.resolve(); throw new Error('boom');")
	require.False(t, res.OK)
	assert.Equal(t, "Error: boom", res.ErrorMessage)

	var ee *ExecutionError
	require.True(t, errors.As(res.Err, &ee))
	assert.True(t, ee.Async)
}

func TestAwaitInLiteralStaysSynchronous(t *testing.T) {
	rt := newRuntime(t)

	res := rt.Execute(context.Background(), `
		const label = "await"; // await later
		throw new Error(label);
	`)
	require.False(t, res.OK)
	assert.Equal(t, "Error: await", res.ErrorMessage)

	var ee *ExecutionError
	require.True(t, errors.As(res.Err, &ee))
	assert.False(t, ee.Async)
}

func TestAsyncNeverSettles(t *testing.T) {
	rt := newRuntime(t)

	res := rt.Execute(context.Background(), "await new Promise(() => {});")
	assert.False(t, res.OK)
	assert.Contains(t, res.ErrorMessage, "never settle")
}

func TestTimerErrorFailsAsyncSnippet(t *testing.T) {
	rt := newRuntime(t)

	res := rt.Execute(context.Background(), `
		setTimeout(() => { throw new Error("in timer"); }, 0);
		await new Promise(resolve => setTimeout(resolve, 10));
	`)
	assert.False(t, res.OK)
	assert.Contains(t, res.ErrorMessage, "in timer")
}

func TestTimeoutInterruptsLoop(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Timeout = 50 * time.Millisecond
	rt, err := New(cfg)
	require.NoError(t, err)
	defer rt.Close()

	res := rt.Execute(context.Background(), "while (true) {}")
	require.False(t, res.OK)
	assert.Contains(t, res.ErrorMessage, "timed out")

	// the runtime stays usable
	assert.True(t, rt.Execute(context.Background(), "var ok = 1;").OK)
}

func TestCancelledContext(t *testing.T) {
	rt := newRuntime(t)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()
	res := rt.Execute(ctx, "await new Promise(resolve => setTimeout(resolve, 60000));")
	assert.False(t, res.OK)
	assert.Contains(t, res.ErrorMessage, "cancelled")
}

func TestPendingTimersAreDropped(t *testing.T) {
	rt := newRuntime(t)

	res, markup := runDraft(t, rt, `setTimeout(() => { document.getElementById("viz").textContent = "late"; }, 0);`)
	require.True(t, res.OK)
	assert.Empty(t, markup)

	time.Sleep(20 * time.Millisecond)
	require.True(t, rt.Execute(context.Background(), "").OK)
	assert.Empty(t, rt.Host().InnerHTML())
}

func TestStubbedSchedulers(t *testing.T) {
	rt := newRuntime(t)

	res := rt.Execute(context.Background(), `
		window.fired = false;
		var id = setInterval(() => { window.fired = true; }, 1);
		requestAnimationFrame(() => { window.fired = true; });
		clearInterval(id);
		queueMicrotask(() => {});
		if (typeof performance.now() !== "number") throw new Error("no clock");
		if (innerWidth !== 960 || window.innerHeight !== 600) throw new Error("viewport");
	`)
	assert.True(t, res.OK, res.ErrorMessage)
	assert.Equal(t, false, rt.Global("fired"))
}

func loadHandle(t *testing.T, spec library.Spec, source string) *library.Handle {
	t.Helper()
	reg := library.NewRegistry(library.FetcherFunc(func(ctx context.Context, locator string) ([]byte, error) {
		return []byte(source), nil
	}))
	h, err := reg.EnsureLoaded(context.Background(), spec)
	require.NoError(t, err)
	return h
}

func TestInstallClassic(t *testing.T) {
	rt := newRuntime(t)
	h := loadHandle(t,
		library.Spec{ID: "lib", Locator: "https://cdn.example/lib.js", Kind: library.KindClassic, Global: "lib"},
		"var installs = (typeof installs === 'number' ? installs : 0) + 1; var lib = { v: 1 };")

	require.NoError(t, rt.Install(h))
	require.NoError(t, rt.Install(h))

	assert.True(t, rt.Installed("lib"))
	assert.Equal(t, int64(1), rt.Global("lib.v"))
	assert.Equal(t, int64(1), rt.Global("installs"), "installed once per runtime")

	res := rt.Execute(context.Background(), "if (lib.v !== 1) throw new Error('missing');")
	assert.True(t, res.OK, res.ErrorMessage)
}

func TestInstallUMDFallsBackToGlobal(t *testing.T) {
	rt := newRuntime(t)
	umd := `!function (t, n) {
		"object" == typeof exports && "undefined" != typeof module ? n(exports) :
		"function" == typeof define && define.amd ? define(["exports"], n) :
		n((t = "undefined" != typeof globalThis ? globalThis : t || self).umdLib = {});
	}(this, function (e) { e.answer = 42; });`
	h := loadHandle(t, library.Spec{ID: "umd", Locator: "https://cdn.example/umd.js", Kind: library.KindClassic, Global: "umdLib"}, umd)

	require.NoError(t, rt.Install(h))
	assert.Equal(t, int64(42), rt.Global("umdLib.answer"))
}

func TestInstallModule(t *testing.T) {
	rt := newRuntime(t)
	h := loadHandle(t,
		library.Spec{ID: "mod", Locator: "https://cdn.example/mod.js", Kind: library.KindModule, Global: "vendor.mod"},
		"module.exports = { answer: 42 }; var hidden = 1;")

	require.NoError(t, rt.Install(h))
	assert.Equal(t, int64(42), rt.Global("vendor.mod.answer"))
	assert.Nil(t, rt.Global("hidden"), "module scope does not leak")
}

func TestInstallMissingGlobal(t *testing.T) {
	rt := newRuntime(t)
	h := loadHandle(t,
		library.Spec{ID: "liar", Locator: "https://cdn.example/liar.js", Kind: library.KindClassic, Global: "Liar"},
		"var somethingElse = 1;")

	err := rt.Install(h)
	assert.ErrorIs(t, err, library.ErrDependencyLoad)
	assert.False(t, rt.Installed("liar"))
}

func TestInstallThrowingLibrary(t *testing.T) {
	rt := newRuntime(t)
	h := loadHandle(t,
		library.Spec{ID: "bad", Locator: "https://cdn.example/bad.js", Kind: library.KindClassic, Global: "bad"},
		"throw new Error('init failed');")

	err := rt.Install(h)
	require.Error(t, err)
	assert.ErrorIs(t, err, library.ErrDependencyLoad)
	assert.Contains(t, err.Error(), "init failed")
}

func TestRunSkeletonEveryTime(t *testing.T) {
	rt := newRuntime(t)
	h := loadHandle(t,
		library.Spec{ID: "plane", Locator: "/static/plane.js", Kind: library.KindClassic},
		`(function () {
			var g = document.createElementNS("http://www.w3.org/2000/svg", "g");
			g.setAttribute("class", "plane");
			document.getElementById("viz").appendChild(g);
		})();`)

	d := rt.Host().Prepare(false)
	require.NoError(t, rt.RunSkeleton(context.Background(), h))
	require.NoError(t, rt.RunSkeleton(context.Background(), h))
	rt.Host().Commit(d)

	assert.Equal(t, 2, strings.Count(rt.Host().InnerHTML(), `class="plane"`))
}

func TestRunSkeletonFault(t *testing.T) {
	rt := newRuntime(t)
	h := loadHandle(t,
		library.Spec{ID: "plane", Locator: "/static/plane.js", Kind: library.KindClassic},
		"d3.select('#viz');")

	err := rt.RunSkeleton(context.Background(), h)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrExecution)
}
