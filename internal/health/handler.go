package health

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// HealthHandler serves the liveness document.
func (c *Checker) HealthHandler() gin.HandlerFunc {
	return func(ctx *gin.Context) {
		ctx.JSON(http.StatusOK, c.Health())
	}
}

// ReadinessHandler answers 503 when any check is unhealthy.
// A degraded gateway is still ready.
func (c *Checker) ReadinessHandler() gin.HandlerFunc {
	return func(ctx *gin.Context) {
		resp := c.Readiness(ctx.Request.Context())

		status := http.StatusOK
		if resp.Status == StatusUnhealthy {
			status = http.StatusServiceUnavailable
		}
		ctx.JSON(status, resp)
	}
}

// LivenessHandler is a minimal ping.
func (c *Checker) LivenessHandler() gin.HandlerFunc {
	return func(ctx *gin.Context) {
		ctx.JSON(http.StatusOK, gin.H{"status": "ok"})
	}
}

// RegisterRoutes registers the probe routes on r.
func (c *Checker) RegisterRoutes(r gin.IRoutes) {
	r.GET("/health", c.HealthHandler())
	r.GET("/healthz", c.LivenessHandler())
	r.GET("/ready", c.ReadinessHandler())
	r.GET("/readyz", c.ReadinessHandler())
}
