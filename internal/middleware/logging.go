// Package middleware provides HTTP middleware for the local control API.
package middleware

import (
	"time"

	"github.com/gin-gonic/gin"
	"github.com/talefeed/talefeed/internal/logger"
)

// RequestLogger returns a Gin middleware for logging HTTP requests
func RequestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path

		c.Next()

		duration := time.Since(start)

		logger.Log.Info().
			Str("method", c.Request.Method).
			Str("path", path).
			Int("status", c.Writer.Status()).
			Dur("duration", duration).
			Str("client_ip", c.ClientIP()).
			Msg("HTTP request")

		if len(c.Errors) > 0 {
			logger.Log.Error().
				Strs("errors", c.Errors.Errors()).
				Str("path", path).
				Msg("Request completed with errors")
		}
	}
}
