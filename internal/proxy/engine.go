package proxy

import (
	"context"
	"io"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/bnbong/bifrost/internal/backend"
	"github.com/bnbong/bifrost/internal/observability"
)

// Resolver looks up backend descriptors by service name.
type Resolver interface {
	Lookup(name string) (backend.Descriptor, bool)
}

// ForwardRequest is one inbound request to relay.
type ForwardRequest struct {
	// Service is the registered service name.
	Service string

	Method string

	// Path is the escaped remainder after the service segment, e.g. "/foo/bar".
	// Empty forwards to the backend root.
	Path string

	// RawQuery is appended verbatim.
	RawQuery string

	Header http.Header
	Body   io.Reader

	// ContentLength of Body, -1 if unknown.
	ContentLength int64
}

// ForwardResult is the backend's answer. Body streams from the backend and
// must be closed; closing it releases the outbound request.
type ForwardResult struct {
	StatusCode int
	Header     http.Header
	Body       io.ReadCloser

	// Elapsed is the time until response headers arrived.
	Elapsed time.Duration

	// Target is the outbound URL.
	Target string
}

// Engine forwards requests to backends resolved by name. It never retries.
type Engine struct {
	resolver Resolver
	client   *http.Client
	logger   observability.Logger
	metrics  *observability.Metrics
	tracer   *observability.Tracer
	now      func() time.Time
}

// EngineOption is a functional option for configuring the engine.
type EngineOption func(*Engine)

// WithLogger sets the logger.
func WithLogger(logger observability.Logger) EngineOption {
	return func(e *Engine) {
		if logger != nil {
			e.logger = logger
		}
	}
}

// WithMetrics sets the metrics sink.
func WithMetrics(m *observability.Metrics) EngineOption {
	return func(e *Engine) {
		e.metrics = m
	}
}

// WithTracer enables client spans and trace context propagation.
func WithTracer(t *observability.Tracer) EngineOption {
	return func(e *Engine) {
		e.tracer = t
	}
}

// NewEngine creates a new proxy engine. A nil client uses http.DefaultClient.
func NewEngine(resolver Resolver, client *http.Client, opts ...EngineOption) *Engine {
	if client == nil {
		client = http.DefaultClient
	}
	e := &Engine{
		resolver: resolver,
		client:   client,
		logger:   observability.NopLogger(),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Forward issues req against the backend registered as req.Service.
//
// The Host header is dropped so the transport sets it from the target;
// every other header is forwarded unchanged. The service's request
// timeout bounds the wait for response headers; ctx bounds the whole
// exchange including the body.
func (e *Engine) Forward(ctx context.Context, req *ForwardRequest) (*ForwardResult, error) {
	desc, ok := e.resolver.Lookup(req.Service)
	if !ok {
		return nil, &ServiceNotFoundError{Service: req.Service}
	}

	target := buildTarget(desc.BaseURL, req.Path, req.RawQuery)

	timeout := desc.RequestTimeout
	if timeout <= 0 {
		timeout = backend.DefaultRequestTimeout
	}
	// The timeout bounds the wait for response headers only. Once they
	// arrive the body streams for as long as the caller stays connected.
	attemptCtx, cancel := context.WithCancel(ctx)
	var timedOut atomic.Bool
	deadline := time.AfterFunc(timeout, func() {
		timedOut.Store(true)
		cancel()
	})

	var span trace.Span
	if e.tracer.Enabled() {
		attemptCtx, span = e.tracer.StartSpan(attemptCtx, "proxy.forward",
			trace.WithSpanKind(trace.SpanKindClient),
			trace.WithAttributes(
				attribute.String("bifrost.service", req.Service),
				attribute.String("http.request.method", req.Method),
				attribute.String("url.full", target),
			),
		)
	}
	finish := func(status int, err error) {
		if span == nil {
			return
		}
		if status > 0 {
			span.SetAttributes(attribute.Int("http.response.status_code", status))
		}
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		} else if status >= http.StatusInternalServerError {
			span.SetStatus(codes.Error, http.StatusText(status))
		}
		span.End()
	}

	body := req.Body
	if body == nil {
		body = http.NoBody
	}
	outReq, err := http.NewRequestWithContext(attemptCtx, req.Method, target, body)
	if err != nil {
		deadline.Stop()
		cancel()
		finish(0, err)
		e.recordError(req.Service, KindUnreachable)
		return nil, &UpstreamError{Kind: KindUnreachable, Service: req.Service, Target: target, Cause: err}
	}
	outReq.Header = cloneHeader(req.Header)
	if req.Body != nil && req.ContentLength >= 0 {
		outReq.ContentLength = req.ContentLength
	}
	e.tracer.InjectTraceContext(attemptCtx, outReq.Header)

	start := e.now()
	resp, err := e.client.Do(outReq)
	elapsed := e.now().Sub(start)
	if !deadline.Stop() && err == nil {
		// Headers raced the deadline; the body is already cut off.
		_ = resp.Body.Close()
		err = context.DeadlineExceeded
	}
	if err != nil {
		kind := classify(ctx, timedOut.Load(), err)
		cancel()
		finish(0, err)
		e.recordError(req.Service, kind)
		return nil, &UpstreamError{Kind: kind, Service: req.Service, Target: target, Cause: err}
	}

	finish(resp.StatusCode, nil)
	if e.metrics != nil {
		e.metrics.RecordProxyRequest(req.Service, resp.StatusCode, elapsed)
	}
	e.logger.Debug("forwarded request",
		observability.String("service", req.Service),
		observability.String("method", req.Method),
		observability.String("target", target),
		observability.Int("status", resp.StatusCode),
		observability.Duration("elapsed", elapsed),
	)

	return &ForwardResult{
		StatusCode: resp.StatusCode,
		Header:     resp.Header,
		Body:       &cancelOnClose{ReadCloser: resp.Body, cancel: cancel},
		Elapsed:    elapsed,
		Target:     target,
	}, nil
}

func (e *Engine) recordError(service string, kind Kind) {
	if e.metrics != nil {
		e.metrics.RecordProxyError(service, kind.String())
	}
}

// buildTarget joins the base URL, the remaining path and the raw query.
func buildTarget(baseURL, path, rawQuery string) string {
	switch {
	case path == "":
		path = "/"
	case !strings.HasPrefix(path, "/"):
		path = "/" + path
	}

	var b strings.Builder
	b.Grow(len(baseURL) + len(path) + len(rawQuery) + 1)
	b.WriteString(baseURL)
	b.WriteString(path)
	if rawQuery != "" {
		b.WriteByte('?')
		b.WriteString(rawQuery)
	}
	return b.String()
}

func cloneHeader(h http.Header) http.Header {
	out := h.Clone()
	if out == nil {
		out = make(http.Header)
	}
	out.Del("Host")
	return out
}

// cancelOnClose releases the attempt context once the body is consumed.
type cancelOnClose struct {
	io.ReadCloser
	cancel context.CancelFunc
	once   sync.Once
}

func (c *cancelOnClose) Close() error {
	err := c.ReadCloser.Close()
	c.once.Do(c.cancel)
	return err
}
