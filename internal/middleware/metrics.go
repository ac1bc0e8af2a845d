package middleware

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/riskmate/riskmate/internal/telemetry"
)

// noRouteLabel is the path label for requests that matched no route
const noRouteLabel = "<no-route>"

// MetricsMiddleware records http_requests_total{method, path, status} and
// http_request_duration_seconds{method, path} for every request.
//
// The path label is c.FullPath(), the matched route template such as
// /api/exports/:id, so export and job ids never become label values.
// Register it after RequestIDMiddleware so gate rejections are counted with
// their final status.
func MetricsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		c.Next()

		path := c.FullPath()
		if path == "" {
			path = noRouteLabel
		}
		method := c.Request.Method

		telemetry.HTTPRequestsTotal.WithLabelValues(method, path, strconv.Itoa(c.Writer.Status())).Inc()
		telemetry.HTTPRequestDuration.WithLabelValues(method, path).Observe(time.Since(start).Seconds())
	}
}
