package middleware

import (
	"time"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/timetable-sync/internal/service"
)

const unmatchedRoute = "unmatched"

// Metrics records latency and status per route template. Routes listed in
// streaming are long-lived connections and are left out.
func Metrics(metrics *service.MetricsService, streaming ...string) gin.HandlerFunc {
	skip := make(map[string]struct{}, len(streaming))
	for _, route := range streaming {
		skip[route] = struct{}{}
	}

	return func(c *gin.Context) {
		route := c.FullPath()
		if _, ok := skip[route]; metrics == nil || ok {
			c.Next()
			return
		}
		if route == "" {
			route = unmatchedRoute
		}

		start := time.Now()
		c.Next()
		metrics.ObserveHTTPRequest(c.Request.Method, route, c.Writer.Status(), time.Since(start))
	}
}
