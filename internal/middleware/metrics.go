// Package middleware - metrics.go records per-request Prometheus metrics.
// All middleware in this package is registered in internal/api/router.go
// before any route handlers so that every request is covered regardless of
// handler.
package middleware

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/pratikychavan/PyPI-clone/internal/telemetry"
)

// Metrics records http_requests_total and http_request_duration_seconds for
// every request. The path label comes from c.FullPath(), the matched route
// template (e.g. /simple/:package/), so project names and filenames never
// become label values; requests that matched no route are folded into the
// literal "<no-route>" to keep 404 scans from inflating cardinality.
//
// Register after gin.Recovery() so the status written by error handlers is
// the one observed. See the telemetry package for example PromQL.
func Metrics() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		path := c.FullPath()
		if path == "" {
			path = "<no-route>"
		}
		method := c.Request.Method
		status := strconv.Itoa(c.Writer.Status())

		telemetry.HTTPRequestsTotal.WithLabelValues(method, path, status).Inc()
		telemetry.HTTPRequestDuration.WithLabelValues(method, path).Observe(time.Since(start).Seconds())
	}
}
