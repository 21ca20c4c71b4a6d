package middleware

import (
	"fmt"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/bnbong/bifrost/internal/observability"
)

// SpanKey is the gin context key for the server span.
const SpanKey = "otel-span"

// Tracing returns a middleware that continues the caller's trace and opens
// a server span per request. It passes requests through untouched when
// the tracer is disabled.
func Tracing(tracer *observability.Tracer) gin.HandlerFunc {
	return func(c *gin.Context) {
		if !tracer.Enabled() {
			c.Next()
			return
		}

		ctx := tracer.ExtractTraceContext(c.Request.Context(), c.Request.Header)
		ctx, span := tracer.StartSpan(ctx, c.Request.Method+" "+c.Request.URL.Path,
			trace.WithSpanKind(trace.SpanKindServer),
			trace.WithAttributes(
				attribute.String("http.method", c.Request.Method),
				attribute.String("http.target", c.Request.URL.Path),
				attribute.String("http.host", c.Request.Host),
				attribute.String("http.user_agent", c.Request.UserAgent()),
				attribute.String("net.peer.ip", c.ClientIP()),
			),
		)
		defer span.End()

		if requestID := GetRequestID(c); requestID != "" {
			span.SetAttributes(attribute.String("request.id", requestID))
		}
		if sc := span.SpanContext(); sc.HasTraceID() {
			ctx = observability.ContextWithTraceID(ctx, sc.TraceID().String())
		}

		c.Set(SpanKey, span)
		c.Request = c.Request.WithContext(ctx)

		c.Next()

		status := c.Writer.Status()
		span.SetAttributes(
			attribute.String("http.route", RouteLabel(c)),
			attribute.Int("http.status_code", status),
		)
		if len(c.Errors) > 0 {
			span.RecordError(fmt.Errorf("%s", c.Errors.String()))
		}
		if status >= 500 {
			span.SetStatus(codes.Error, fmt.Sprintf("HTTP %d", status))
		}
	}
}

// GetSpan returns the server span of the request, or nil.
func GetSpan(c *gin.Context) trace.Span {
	if span, exists := c.Get(SpanKey); exists {
		if s, ok := span.(trace.Span); ok {
			return s
		}
	}
	return nil
}
