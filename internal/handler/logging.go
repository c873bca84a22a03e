package handler

import (
	"time"

	"github.com/gin-gonic/gin"
	"pkt.systems/pslog"
)

// RequestLogger attaches a request-scoped logger to the request context and
// logs one line per request.
func RequestLogger(base pslog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		logger := base.With("method", c.Request.Method, "path", c.Request.URL.Path)
		c.Request = c.Request.WithContext(pslog.ContextWithLogger(c.Request.Context(), logger))

		c.Next()

		logger = pslog.Ctx(c.Request.Context())
		status := c.Writer.Status()
		fields := []any{"status", status, "bytes", c.Writer.Size(), "duration_ms", time.Since(start).Milliseconds(), "remote", c.ClientIP()}
		if len(c.Errors) > 0 {
			fields = append(fields, "err", c.Errors.String())
		}
		if status >= 500 {
			logger.Warn("http request", fields...)
			return
		}
		logger.Info("http request", fields...)
	}
}

// withUserLogger tags the request logger with the logged-in user.
func withUserLogger(c *gin.Context, username string) {
	ctx := c.Request.Context()
	logger := pslog.Ctx(ctx).With("user", username)
	c.Request = c.Request.WithContext(pslog.ContextWithLogger(ctx, logger))
}
