/*
Package tracing records timed spans for HTTP requests and pipeline passes.

Spans carry a trace id that follows one request through the HTTP layer and
into the pipeline pass it triggers. Finished spans are buffered and written to
the structured log by a single collector goroutine.

# Usage

	tracer := tracing.New("vizhost", logger)
	defer tracer.Close()

	router.Use(tracing.HTTPMiddleware(tracer))

	span, ctx := tracer.StartSpan(ctx, "pipeline.pass")
	span.SetTag("dimension", "2d")
	defer func() {
		span.Finish()
		tracer.Submit(span)
	}()

# Propagation

	X-Trace-ID  identifier for the whole request flow
	X-Span-ID   identifier of the caller's span

A full buffer drops spans rather than blocking the request.
*/
package tracing
