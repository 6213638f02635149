package middleware

import (
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/stemsi/cbt-backend/internal/response"
)

// AccessLog writes one structured line per request. Server errors log at
// error level, client errors at warn and the rest at debug so autosave
// traffic stays quiet in production.
func AccessLog(log zerolog.Logger) gin.HandlerFunc {
	log = log.With().Str("component", "http").Logger()
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		status := c.Writer.Status()
		var ev *zerolog.Event
		switch {
		case status >= 500:
			ev = log.Error()
		case status >= 400:
			ev = log.Warn()
		default:
			ev = log.Debug()
		}
		if len(c.Errors) > 0 {
			ev = ev.Str("errors", c.Errors.String())
		}
		route := c.FullPath()
		if route == "" {
			route = c.Request.URL.Path
		}
		ev.Str("request_id", response.RequestID(c)).
			Str("method", c.Request.Method).
			Str("route", route).
			Int("status", status).
			Int("bytes", c.Writer.Size()).
			Dur("latency", time.Since(start)).
			Str("ip", c.ClientIP()).
			Msg("Request")
	}
}
