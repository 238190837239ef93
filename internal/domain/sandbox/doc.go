/*
Package sandbox executes visualization snippets inside a goja runtime.

# Overview

A Runtime is the shared global namespace of the service. Libraries are
installed into it once and snippets run against it one at a time. Every fault
ends up in the Result and never escapes Execute:

  - exceptions and syntax errors raised by the snippet
  - rejections of the snippet's promise and errors thrown by its timers
  - interrupts from context cancellation or the optional timeout
  - panics inside host bindings, after which the VM is rebuilt

# Architecture

 1. Runtime: goja VM with browser-like globals (window, document, console, timers)
 2. DOM proxy: one JS object per html.Node of the host document, with expandos
 3. Task loop: callbacks posted from goroutines (timers, library imports) run
    on the VM goroutine while an async snippet is pending
 4. Pool: isolated runtimes with private hosts for dry runs

# Async snippets

Code containing await runs as an async function. Execute drives its promise
until it settles:

	res := rt.Execute(ctx, `const THREE = await __vizImport("three", "*");`)
	if !res.OK {
		log.Warn("snippet failed", zap.String("error", res.ErrorMessage))
	}

setInterval and requestAnimationFrame callbacks never fire, and timers still
pending when the snippet settles are dropped.

# Limits

There is no layout or canvas backend: element sizes come from attributes or
the configured viewport, and getContext returns null.
*/
package sandbox
