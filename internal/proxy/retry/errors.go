package retry

import (
	"errors"
	"fmt"
)

// ErrorType 错误类型枚举
type ErrorType int

const (
	ErrorTypeUnknown ErrorType = iota
	ErrorTypeNetwork
	ErrorTypeTimeout
	ErrorTypeHTTP
	ErrorTypeServerError
	ErrorTypeAuth
	ErrorTypeRateLimit
	ErrorTypeParsing
	ErrorTypeClientCancel
	ErrorTypeRequest
)

func (t ErrorType) String() string {
	switch t {
	case ErrorTypeNetwork:
		return "网络"
	case ErrorTypeTimeout:
		return "超时"
	case ErrorTypeHTTP:
		return "HTTP"
	case ErrorTypeServerError:
		return "服务器"
	case ErrorTypeAuth:
		return "认证"
	case ErrorTypeRateLimit:
		return "限流"
	case ErrorTypeParsing:
		return "解析"
	case ErrorTypeClientCancel:
		return "客户端取消"
	case ErrorTypeRequest:
		return "请求构造"
	default:
		return "未知"
	}
}

// ErrInvalidPolicy is returned before any attempt when a policy is malformed.
var ErrInvalidPolicy = errors.New("invalid retry policy")

// StatusError is an HTTP response outside 2xx/3xx.
type StatusError struct {
	StatusCode int
	Detail     string
}

func (e *StatusError) Error() string {
	if e.Detail == "" {
		return fmt.Sprintf("HTTP %d", e.StatusCode)
	}
	return fmt.Sprintf("HTTP %d: %s", e.StatusCode, e.Detail)
}

// TerminalError 不可重试的错误（4xx、凭证无效、请求无法构造）
type TerminalError struct {
	URL        string
	StatusCode int // 0 when no response was received
	Type       ErrorType
	Detail     string
	Attempts   []AttemptRecord
	Err        error
}

func (e *TerminalError) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("terminal %s error calling %s: HTTP %d: %s", e.Type, e.URL, e.StatusCode, e.Detail)
	}
	return fmt.Sprintf("terminal %s error calling %s: %v", e.Type, e.URL, e.Err)
}

func (e *TerminalError) Unwrap() error { return e.Err }

// IsAuth reports whether the failure points at credentials.
func (e *TerminalError) IsAuth() bool { return e.Type == ErrorTypeAuth }

// RetryExhaustedError 所有尝试均为可重试失败
type RetryExhaustedError struct {
	URL      string
	Attempts []AttemptRecord
	Last     error
}

func (e *RetryExhaustedError) Error() string {
	return fmt.Sprintf("calling %s failed after %d attempts: %v", e.URL, len(e.Attempts), e.Last)
}

func (e *RetryExhaustedError) Unwrap() error { return e.Last }

// CancelledError 调用方取消，与失败区分
type CancelledError struct {
	URL      string
	Attempts []AttemptRecord
	Err      error
}

func (e *CancelledError) Error() string {
	return fmt.Sprintf("call to %s cancelled after %d attempts: %v", e.URL, len(e.Attempts), e.Err)
}

func (e *CancelledError) Unwrap() error { return e.Err }

func IsTerminal(err error) bool {
	var te *TerminalError
	return errors.As(err, &te)
}

func IsExhausted(err error) bool {
	var re *RetryExhaustedError
	return errors.As(err, &re)
}

func IsCancelled(err error) bool {
	var ce *CancelledError
	return errors.As(err, &ce)
}
