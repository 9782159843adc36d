package server

import (
	"net/http"
	"runtime/debug"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/nimburion/mailqueue/pkg/observability/logger"
	"github.com/nimburion/mailqueue/pkg/observability/metrics"
)

// RequestIDHeader is the HTTP header name for request ID.
const RequestIDHeader = "X-Request-ID"

const requestIDKey = "request_id"

// requestID reuses an incoming X-Request-ID or generates one, and echoes it
// in the response.
func requestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader(RequestIDHeader)
		if id == "" {
			id = uuid.NewString()
		}
		c.Set(requestIDKey, id)
		c.Header(RequestIDHeader, id)
		c.Next()
	}
}

// recovery turns handler panics into a 500 JSON answer.
func recovery(log logger.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			if r := recover(); r != nil {
				log.Error("panic recovered",
					"request_id", c.GetString(requestIDKey),
					"panic", r,
					"stack", string(debug.Stack()),
				)
				if !c.Writer.Written() {
					c.AbortWithStatusJSON(http.StatusInternalServerError, errorBody(c, "internal_server_error", "an unexpected error occurred"))
					return
				}
				c.Abort()
			}
		}()
		c.Next()
	}
}

// requestLogging logs each request at debug level; 5xx answers are logged as warnings.
func requestLogging(log logger.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		status := c.Writer.Status()
		fields := []any{
			"request_id", c.GetString(requestIDKey),
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"status", status,
			"duration_ms", time.Since(start).Milliseconds(),
		}
		if status >= http.StatusInternalServerError {
			log.Warn("http request failed", fields...)
			return
		}
		log.Debug("http request", fields...)
	}
}

// requestMetrics records request metrics labelled by route template.
func requestMetrics(registry *metrics.Registry) gin.HandlerFunc {
	return func(c *gin.Context) {
		registry.IncrementInFlight()
		start := time.Now()
		defer func() {
			registry.DecrementInFlight()
			path := c.FullPath()
			if path == "" {
				path = "unmatched"
			}
			registry.RecordHTTPRequest(c.Request.Method, path, c.Writer.Status(), time.Since(start))
		}()
		c.Next()
	}
}

func errorBody(c *gin.Context, code, message string) gin.H {
	return gin.H{
		"error":      code,
		"message":    message,
		"request_id": c.GetString(requestIDKey),
	}
}
