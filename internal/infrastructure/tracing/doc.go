/*
Package tracing provides lightweight request tracing through structured logs.

# Overview

Each HTTP request gets a trace ID and a request ID, either adopted from the
X-Trace-ID and X-Request-ID headers or freshly minted as ULIDs. The router
and providers open child spans for cache lookups, dependency calls, jobs
and shadow runs. Finished spans are buffered and written through zap by a
single collector goroutine; when the buffer is full spans are dropped
rather than blocking the request path.

# Usage

	tracer := tracing.New("docrefine", logger)
	defer tracer.Close()

	router.Use(tracing.HTTPMiddleware(tracer))

	span, ctx := tracer.StartSpan(ctx, "completion.primary")
	result, err := call(ctx)
	tracer.End(span, err)

Outbound calls propagate the context with InjectTraceContext.
*/
package tracing
