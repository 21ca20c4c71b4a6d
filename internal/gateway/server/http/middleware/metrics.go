package middleware

import (
	"time"

	"github.com/gin-gonic/gin"

	"github.com/bnbong/bifrost/internal/observability"
)

// RouteLabelKey lets a handler override the route label of its request.
const RouteLabelKey = "routeLabel"

// UnmatchedRoute labels requests that matched no registered route.
const UnmatchedRoute = "unmatched"

// RouteLabel returns a bounded-cardinality label for the request: an
// explicit override, the gin route pattern, or UnmatchedRoute.
func RouteLabel(c *gin.Context) string {
	if label := c.GetString(RouteLabelKey); label != "" {
		return label
	}
	if path := c.FullPath(); path != "" {
		return path
	}
	return UnmatchedRoute
}

// Metrics returns a middleware that records request counts, latencies and
// in-flight requests.
func Metrics(m *observability.Metrics) gin.HandlerFunc {
	return func(c *gin.Context) {
		if m == nil {
			c.Next()
			return
		}

		start := time.Now()
		m.IncActiveRequests()
		defer m.DecActiveRequests()

		c.Next()

		m.RecordRequest(c.Request.Method, RouteLabel(c), c.Writer.Status(), time.Since(start))
	}
}
