package http

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/bnbong/bifrost/internal/backend"
	"github.com/bnbong/bifrost/internal/gateway/server/http/middleware"
	"github.com/bnbong/bifrost/internal/observability"
	"github.com/bnbong/bifrost/internal/proxy"
)

// StatusClientClosedRequest is logged when the caller goes away before the
// backend answers. Nothing is sent to the caller.
const StatusClientClosedRequest = 499

// ProxyRoute labels requests handled by the catch-all proxy route.
const ProxyRoute = "proxy"

// ServiceRegistry is the registry surface the dispatcher needs.
type ServiceRegistry interface {
	Lookup(name string) (backend.Descriptor, bool)
	Add(name string, cfg backend.ServiceConfig) error
	Remove(name string) bool
	List() backend.Snapshot
	HealthCheck(ctx context.Context, name string) bool
}

// Forwarder relays one request to a backend.
type Forwarder interface {
	Forward(ctx context.Context, req *proxy.ForwardRequest) (*proxy.ForwardResult, error)
}

// Handler serves the admin routes and the catch-all proxy route.
type Handler struct {
	registry  ServiceRegistry
	forwarder Forwarder
	basePath  string
	logger    observability.Logger
}

// NewHandler creates a new dispatcher handler. basePath prefixes every
// route it serves ("" or "/" mounts them at the root).
func NewHandler(registry ServiceRegistry, forwarder Forwarder, basePath string, logger observability.Logger) *Handler {
	if logger == nil {
		logger = observability.NopLogger()
	}
	return &Handler{
		registry:  registry,
		forwarder: forwarder,
		basePath:  normalizeBasePath(basePath),
		logger:    logger,
	}
}

// AddServiceRequest is the body of POST /admin/services.
type AddServiceRequest struct {
	Name   string                `json:"name"`
	Config backend.ServiceConfig `json:"config"`
}

// ListServices handles GET /services.
func (h *Handler) ListServices(c *gin.Context) {
	services := h.registry.List()
	c.JSON(http.StatusOK, gin.H{
		"services": services,
		"count":    len(services),
	})
}

// ServiceHealth handles GET /services/:name/health. Unknown services and
// failed probes both report healthy=false.
func (h *Handler) ServiceHealth(c *gin.Context) {
	name := c.Param("name")
	c.JSON(http.StatusOK, gin.H{
		"service": name,
		"healthy": h.registry.HealthCheck(c.Request.Context(), name),
	})
}

// AddService handles POST /admin/services.
func (h *Handler) AddService(c *gin.Context) {
	var req AddServiceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		var tooLarge *http.MaxBytesError
		if !errors.As(err, &tooLarge) {
			err = &backend.ValidationError{Field: "body", Message: "invalid JSON: " + err.Error()}
		}
		h.writeError(c, err)
		return
	}
	if strings.TrimSpace(req.Name) == "" {
		h.writeError(c, &backend.ValidationError{Field: "name", Message: "Service name is required"})
		return
	}

	if err := h.registry.Add(req.Name, req.Config); err != nil {
		h.writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"message": fmt.Sprintf("Service '%s' added successfully", req.Name),
	})
}

// RemoveService handles DELETE /admin/services/:name.
func (h *Handler) RemoveService(c *gin.Context) {
	name := c.Param("name")
	if !h.registry.Remove(name) {
		h.writeError(c, &proxy.ServiceNotFoundError{Service: name})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"message": fmt.Sprintf("Service '%s' removed successfully", name),
	})
}

// Proxy is the catch-all route: /{basePath}/{service}/{path...}. The first
// segment after the base path names the service and the remainder, query
// included, is forwarded unchanged.
func (h *Handler) Proxy(c *gin.Context) {
	service, rest, ok := h.splitProxyPath(c.Request.URL.EscapedPath())
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{
			"error":   "Not Found",
			"message": "No route matched the request",
		})
		return
	}
	c.Set(middleware.RouteLabelKey, ProxyRoute)

	result, err := h.forwarder.Forward(c.Request.Context(), &proxy.ForwardRequest{
		Service:       service,
		Method:        c.Request.Method,
		Path:          rest,
		RawQuery:      c.Request.URL.RawQuery,
		Header:        c.Request.Header,
		Body:          c.Request.Body,
		ContentLength: c.Request.ContentLength,
	})
	if err != nil {
		h.writeError(c, err)
		return
	}
	defer result.Body.Close()

	h.relay(c, service, result)
}

// hopHeaders are connection-scoped and never relayed.
var hopHeaders = []string{
	"Connection",
	"Keep-Alive",
	"Proxy-Connection",
	"Transfer-Encoding",
	"Upgrade",
	"Trailer",
}

// relay streams the backend response to the caller.
func (h *Handler) relay(c *gin.Context, service string, result *proxy.ForwardResult) {
	dst := c.Writer.Header()
	for key, values := range result.Header {
		dst[key] = append([]string(nil), values...)
	}
	for _, key := range hopHeaders {
		dst.Del(key)
	}

	c.Status(result.StatusCode)
	c.Writer.WriteHeaderNow()

	var w io.Writer = c.Writer
	if isStreaming(result.Header) {
		w = flushWriter{c.Writer}
	}

	if _, err := io.Copy(w, result.Body); err != nil {
		// Headers are gone; the caller sees a truncated body.
		_ = c.Error(err)
		h.logger.WithContext(c.Request.Context()).Warn("response relay interrupted",
			observability.String("service", service),
			observability.Error(err),
		)
	}
}

func isStreaming(header http.Header) bool {
	return strings.HasPrefix(header.Get("Content-Type"), "text/event-stream")
}

type flushWriter struct {
	w gin.ResponseWriter
}

func (f flushWriter) Write(p []byte) (int, error) {
	n, err := f.w.Write(p)
	f.w.Flush()
	return n, err
}

// splitProxyPath strips the base path and splits the remainder into the
// service name and the escaped backend path. ok is false when the path is
// outside the base path or names no service.
func (h *Handler) splitProxyPath(path string) (service, rest string, ok bool) {
	if h.basePath != "" {
		trimmed, found := strings.CutPrefix(path, h.basePath)
		if !found || (trimmed != "" && trimmed[0] != '/') {
			return "", "", false
		}
		path = trimmed
	}

	path = strings.TrimPrefix(path, "/")
	service, rest, _ = strings.Cut(path, "/")
	if service == "" {
		return "", "", false
	}
	if rest != "" {
		rest = "/" + rest
	}
	return service, rest, true
}

// writeError maps err to a status and a generic body. Causes only go to
// logs and gin's error list.
func (h *Handler) writeError(c *gin.Context, err error) {
	_ = c.Error(err)
	logger := h.logger.WithContext(c.Request.Context())

	var (
		notFound   *proxy.ServiceNotFoundError
		validation *backend.ValidationError
		upstream   *proxy.UpstreamError
		tooLarge   *http.MaxBytesError
	)

	switch {
	case errors.As(err, &tooLarge):
		// A body without Content-Length only hits the cap while streaming.
		abortJSON(c, http.StatusRequestEntityTooLarge, "Request body too large")

	case errors.As(err, &notFound):
		abortJSON(c, http.StatusNotFound, fmt.Sprintf("Service '%s' not found", notFound.Service))

	case errors.As(err, &validation):
		abortJSON(c, http.StatusBadRequest, validation.Message)

	case errors.As(err, &upstream) && upstream.Kind == proxy.KindCanceled:
		logger.Info("caller canceled request",
			observability.String("service", upstream.Service),
			observability.Int("status", StatusClientClosedRequest),
		)
		c.AbortWithStatus(StatusClientClosedRequest)

	case errors.As(err, &upstream):
		logger.Error("upstream request failed",
			observability.String("service", upstream.Service),
			observability.String("target", upstream.Target),
			observability.String("kind", upstream.Kind.String()),
			observability.Error(upstream.Cause),
		)
		message := "Upstream service unavailable"
		if upstream.Kind == proxy.KindTimeout {
			message = "Upstream service timed out"
		}
		abortJSON(c, http.StatusBadGateway, message)

	default:
		logger.Error("internal error", observability.Error(err))
		abortJSON(c, http.StatusInternalServerError, "Internal server error")
	}
}

func abortJSON(c *gin.Context, status int, message string) {
	c.AbortWithStatusJSON(status, gin.H{
		"error":   http.StatusText(status),
		"message": message,
	})
}

func normalizeBasePath(p string) string {
	p = strings.TrimRight(strings.TrimSpace(p), "/")
	if p != "" && !strings.HasPrefix(p, "/") {
		p = "/" + p
	}
	return p
}
