package middleware

import (
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

const (
	// RequestIDHeader is echoed back on every response.
	RequestIDHeader = "X-Request-ID"
	requestIDKey    = "request_id"
	slowRequest     = 10 * time.Second
)

// RequestID assigns a request id, reusing the caller's header when present.
func RequestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader(RequestIDHeader)
		if id == "" || len(id) > 64 {
			id = uuid.NewString()
		}
		c.Set(requestIDKey, id)
		c.Header(RequestIDHeader, id)
		c.Next()
	}
}

// GetRequestID returns the id set by RequestID, or "".
func GetRequestID(c *gin.Context) string {
	return c.GetString(requestIDKey)
}

// LoggingMiddleware provides request/response logging
type LoggingMiddleware struct {
	logger   atomic.Pointer[slog.Logger]
	recorder RequestRecorder
}

// NewLoggingMiddleware creates a new logging middleware. recorder may be nil.
func NewLoggingMiddleware(logger *slog.Logger, recorder RequestRecorder) *LoggingMiddleware {
	lm := &LoggingMiddleware{recorder: recorder}
	lm.logger.Store(logger)
	return lm
}

// SetLogger swaps the logger after a config reload.
func (lm *LoggingMiddleware) SetLogger(logger *slog.Logger) {
	lm.logger.Store(logger)
}

// Handler returns the gin middleware.
func (lm *LoggingMiddleware) Handler() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		logger := lm.logger.Load()
		requestID := GetRequestID(c)
		method := c.Request.Method
		path := c.Request.URL.Path

		logger.Debug(fmt.Sprintf("📝 [请求接收] [%s] %s %s", requestID, method, path),
			"client_ip", c.ClientIP(),
			"user_agent", truncateString(c.Request.UserAgent(), 50),
			"content_length", c.Request.ContentLength,
		)

		c.Next()

		duration := time.Since(start)
		status := c.Writer.Status()
		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}

		if lm.recorder != nil {
			lm.recorder.RecordRequest(route, status, duration)
		}

		logger.Debug(fmt.Sprintf("%s [请求详情] [%s] %s %s → %d (%s)", getStatusEmoji(status), requestID, method, path, status, formatDuration(duration)),
			"route", route,
			"bytes_written", formatBytes(int64(max(c.Writer.Size(), 0))),
		)

		if duration > slowRequest {
			logger.Warn(fmt.Sprintf("🐌 慢请求 [%s]", requestID),
				"path", path,
				"duration", formatDuration(duration),
				"status_code", status,
			)
		}

		if status >= 400 {
			level := slog.LevelWarn
			emoji := "⚠️"
			if status >= 500 {
				level = slog.LevelError
				emoji = "❌"
			}
			attrs := []any{"method", method, "path", path, "status_code", status, "duration", formatDuration(duration), "request_id", requestID}
			if len(c.Errors) > 0 {
				attrs = append(attrs, "error", c.Errors.Last().Error())
			}
			logger.Log(c.Request.Context(), level, fmt.Sprintf("%s 请求失败", emoji), attrs...)
		}
	}
}

func truncateString(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen-3] + "..."
}

func getStatusEmoji(statusCode int) string {
	switch {
	case statusCode >= 200 && statusCode < 300:
		return "✅"
	case statusCode >= 300 && statusCode < 400:
		return "🔄"
	case statusCode >= 400 && statusCode < 500:
		return "⚠️"
	case statusCode >= 500:
		return "❌"
	default:
		return "❓"
	}
}

func formatBytes(bytes int64) string {
	if bytes < 1024 {
		return fmt.Sprintf("%dB", bytes)
	} else if bytes < 1024*1024 {
		return fmt.Sprintf("%.1fKB", float64(bytes)/1024)
	} else {
		return fmt.Sprintf("%.1fMB", float64(bytes)/(1024*1024))
	}
}

func formatDuration(d time.Duration) string {
	if d < time.Millisecond {
		return fmt.Sprintf("%.2fμs", float64(d.Nanoseconds())/1000)
	} else if d < time.Second {
		return fmt.Sprintf("%.1fms", float64(d.Nanoseconds())/1000000)
	} else {
		return fmt.Sprintf("%.2fs", d.Seconds())
	}
}
