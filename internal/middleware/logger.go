package middleware

import (
	"time"

	"github.com/gin-gonic/gin"
	"github.com/incidentsuite/backend/internal/logger"
)

// CustomLoggerMiddleware logs one line per HTTP request
func CustomLoggerMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		c.Next()

		latency := time.Since(start)

		subject := ""
		if sub, exists := c.Get(ContextSubject); exists {
			subject, _ = sub.(string)
		}

		fields := map[string]interface{}{
			"method":    c.Request.Method,
			"path":      c.Request.URL.Path,
			"status":    c.Writer.Status(),
			"latency":   latency.String(),
			"client_ip": c.ClientIP(),
		}
		if subject != "" {
			fields["subject"] = subject
		}

		switch {
		case c.Writer.Status() >= 500:
			logger.Error("[API] request failed", fields)
		case c.Writer.Status() >= 400:
			logger.Warn("[API] request rejected", fields)
		default:
			logger.Info("[API] request", fields)
		}
	}
}
