package observability

import (
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
)

// observeRequests logs and counts each admin request under its route
// template. Websocket upgrades are only counted once the stream closes.
func observeRequests(node string, logger zerolog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		began := time.Now()
		c.Next()

		route := routePath(c)
		status := c.Writer.Status()
		took := time.Since(began)
		RecordHTTPRequest(node, c.Request.Method, route, status, took)

		level := zerolog.DebugLevel
		switch {
		case status >= 500:
			level = zerolog.ErrorLevel
		case status >= 400:
			level = zerolog.WarnLevel
		}
		logger.WithLevel(level).
			Str("node", node).
			Str("route", route).
			Int("status", status).
			Dur("took", took).
			Str("peer", c.ClientIP()).
			Msg("admin request")
	}
}

func routePath(c *gin.Context) string {
	if p := c.FullPath(); p != "" {
		return p
	}
	return "unmatched"
}
