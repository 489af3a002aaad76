package tracing

import (
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/GriffinCanCode/DocRefine/backend/internal/shared/id"
)

// HTTPMiddleware creates Gin middleware for HTTP tracing. It adopts an
// incoming X-Trace-ID and X-Request-ID or mints new ones, and echoes both
// on the response.
func HTTPMiddleware(tracer *Tracer) gin.HandlerFunc {
	return func(c *gin.Context) {
		traceID, parentID := ExtractTraceContext(map[string]string{
			TraceHeader: c.GetHeader(TraceHeader),
			SpanHeader:  c.GetHeader(SpanHeader),
		})

		reqID := id.RequestID(c.GetHeader(RequestHeader))
		if reqID == "" {
			reqID = id.NewRequestID()
		}

		ctx := WithTraceContext(c.Request.Context(), traceID, parentID)
		ctx = WithRequestID(ctx, reqID)

		name := c.FullPath()
		if name == "" {
			name = "unmatched"
		}
		span, ctx := tracer.StartSpan(ctx, c.Request.Method+" "+name)
		span.SetTag("http.method", c.Request.Method)
		span.SetTag("http.path", c.Request.URL.Path)
		span.SetTag("request_id", reqID.String())

		c.Request = c.Request.WithContext(ctx)

		c.Header(TraceHeader, span.TraceID.String())
		c.Header(SpanHeader, span.SpanID.String())
		c.Header(RequestHeader, reqID.String())

		c.Next()

		span.SetStatus(c.Writer.Status())
		span.SetTag("http.status", strconv.Itoa(c.Writer.Status()))

		var err error
		if len(c.Errors) > 0 {
			err = c.Errors.Last()
		}
		tracer.End(span, err)
	}
}
