package middleware

import (
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
)

// RequestRecorder receives one entry per finished API request.
// monitor.Metrics implements it.
type RequestRecorder interface {
	RecordRequest(route string, statusCode int, latency time.Duration)
}

// Recovery turns a handler panic into a 500 JSON response and logs it.
func Recovery(logger *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			if rec := recover(); rec != nil {
				logger.Error(fmt.Sprintf("💥 [请求异常] [%s] %s %s: %v", GetRequestID(c), c.Request.Method, c.Request.URL.Path, rec))
				c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{
					"error":      "internal server error",
					"request_id": GetRequestID(c),
				})
			}
		}()
		c.Next()
	}
}
