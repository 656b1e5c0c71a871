// internal/middleware/logging_middleware.go
package middleware

import (
	"time"

	"github.com/gin-gonic/gin"

	"afterglow/internal/utils"
)

// LoggingMiddleware logs every status request with the id RequestIDMiddleware assigned
func LoggingMiddleware(logger *utils.ServiceLogger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		logger.LogAPIRequest(utils.APIRequest{
			RequestID:  c.GetString("request_id"),
			Method:     c.Request.Method,
			Path:       c.Request.URL.Path,
			Route:      c.FullPath(),
			ClientIP:   c.ClientIP(),
			StatusCode: c.Writer.Status(),
			Duration:   time.Since(start),
		})
	}
}
