package retry

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"syscall"
	"time"
)

// Outcome 单次尝试结果
type Outcome int

const (
	OutcomeSuccess Outcome = iota
	OutcomeRetryable
	OutcomeTerminal
	OutcomeCancelled
)

func (o Outcome) String() string {
	switch o {
	case OutcomeSuccess:
		return "success"
	case OutcomeRetryable:
		return "retryable_failure"
	case OutcomeTerminal:
		return "terminal_failure"
	case OutcomeCancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

// AttemptRecord 单次尝试记录，只随本次调用的结果返回
type AttemptRecord struct {
	Attempt    int           `json:"attempt"`
	Outcome    Outcome       `json:"-"`
	OutcomeStr string        `json:"outcome"`
	Elapsed    time.Duration `json:"elapsed"`
	StatusCode int           `json:"status_code,omitempty"`
	ErrorType  ErrorType     `json:"-"`
	Err        error         `json:"-"`
}

// RetryDecision 重试决策结果
type RetryDecision struct {
	Outcome Outcome
	Type    ErrorType
	Delay   time.Duration // 下次尝试前的等待
	Reason  string        // 决策原因（用于日志）
}

// ClassifyStatus maps an HTTP status to an outcome.
// 2xx/3xx 成功，5xx 可重试，4xx 终止
func ClassifyStatus(code int) (Outcome, ErrorType) {
	switch {
	case code >= 200 && code < 400:
		return OutcomeSuccess, ErrorTypeUnknown
	case code == http.StatusUnauthorized || code == http.StatusForbidden:
		return OutcomeTerminal, ErrorTypeAuth
	case code == http.StatusTooManyRequests:
		return OutcomeTerminal, ErrorTypeRateLimit
	case code >= 400 && code < 500:
		return OutcomeTerminal, ErrorTypeHTTP
	case code >= 500:
		return OutcomeRetryable, ErrorTypeServerError
	default:
		// 1xx 不应到达这里
		return OutcomeTerminal, ErrorTypeHTTP
	}
}

// ClassifyError maps a transport error from one attempt. parent is the
// caller's context: if it is done the call was cancelled, otherwise a
// deadline belongs to the attempt timeout.
func ClassifyError(parent context.Context, err error) (Outcome, ErrorType) {
	if parent.Err() != nil {
		return OutcomeCancelled, ErrorTypeClientCancel
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, syscall.ETIMEDOUT) {
		return OutcomeRetryable, ErrorTypeTimeout
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return OutcomeRetryable, ErrorTypeTimeout
	}
	return OutcomeRetryable, ErrorTypeNetwork
}

// extractDetail pulls a provider message out of an error body.
func extractDetail(body []byte) string {
	if len(body) == 0 {
		return ""
	}
	var payload map[string]any
	if err := json.Unmarshal(body, &payload); err == nil {
		if e, ok := payload["error"].(map[string]any); ok {
			if msg, ok := e["message"].(string); ok && msg != "" {
				return msg
			}
		}
		for _, key := range []string{"error", "message", "msg", "info"} {
			if msg, ok := payload[key].(string); ok && msg != "" {
				return msg
			}
		}
	}
	detail := strings.TrimSpace(string(body))
	if len([]rune(detail)) > 200 {
		detail = string([]rune(detail)[:200]) + "..."
	}
	return detail
}

// logDecision 记录重试决策日志
func logDecision(logger *slog.Logger, provider string, attempt int, d RetryDecision) {
	switch d.Outcome {
	case OutcomeRetryable:
		logger.Warn("🔄 [重试决策] 可重试失败，等待后重试",
			"provider", provider,
			"attempt", attempt,
			"error_type", d.Type.String(),
			"delay", d.Delay,
			"reason", d.Reason)
	case OutcomeTerminal:
		logger.Info("❌ [重试决策] 终止重试",
			"provider", provider,
			"attempt", attempt,
			"error_type", d.Type.String(),
			"reason", d.Reason)
	case OutcomeCancelled:
		logger.Info("🛑 [重试决策] 调用方已取消",
			"provider", provider,
			"attempt", attempt,
			"reason", d.Reason)
	default:
		logger.Debug("✅ [重试决策] 请求成功完成",
			"provider", provider,
			"attempt", attempt)
	}
}
