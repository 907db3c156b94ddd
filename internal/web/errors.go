package web

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"webplanner/internal/endpoint"
	"webplanner/internal/geo"
	"webplanner/internal/itinerary"
	"webplanner/internal/middleware"
	"webplanner/internal/navigation"
	"webplanner/internal/proxy/retry"
	"webplanner/internal/storage"
	"webplanner/internal/weather"
)

// StatusClientClosedRequest 调用方在响应前断开
const StatusClientClosedRequest = 499

// apiError is the JSON body of every failed API call.
type apiError struct {
	Error     string   `json:"error"`
	Kind      string   `json:"kind"`
	Detail    string   `json:"detail,omitempty"`
	Problems  []string `json:"problems,omitempty"`
	RequestID string   `json:"request_id,omitempty"`
}

// classify maps an error to an HTTP status and a user-facing message.
// Cancellation and resolution failure are checked first because both may
// wrap a transport error.
func classify(err error) (int, apiError) {
	var (
		te  *retry.TerminalError
		ve  *storage.ValidationError
		wae *weather.APIError
		pe  *geo.ProviderError
		nae *navigation.APIError
	)
	switch {
	case retry.IsCancelled(err):
		return StatusClientClosedRequest, apiError{Error: "请求已取消", Kind: "cancelled"}
	case errors.Is(err, geo.ErrResolutionFailed):
		return http.StatusNotFound, apiError{Error: "无法解析该地址，请尝试更具体的地点名称", Kind: "resolution_failed"}
	case errors.Is(err, storage.ErrNotFound):
		return http.StatusNotFound, apiError{Error: "行程不存在", Kind: "not_found"}
	case errors.Is(err, storage.ErrItemNotFound):
		return http.StatusNotFound, apiError{Error: "行程项不存在", Kind: "not_found"}
	case errors.Is(err, endpoint.ErrUnknownEndpoint):
		return http.StatusNotFound, apiError{Error: "端点未找到", Kind: "not_found", Detail: err.Error()}
	case errors.As(err, &ve):
		return http.StatusBadRequest, apiError{Error: "参数校验失败", Kind: "validation", Problems: ve.Problems}
	case errors.Is(err, storage.ErrInvalidStatus), errors.Is(err, weather.ErrNoLocation),
		errors.Is(err, navigation.ErrInvalidMode), errors.Is(err, navigation.ErrBadPoint), errors.Is(err, navigation.ErrNoCity):
		return http.StatusBadRequest, apiError{Error: err.Error(), Kind: "bad_request"}
	case errors.Is(err, itinerary.ErrMissingKey), errors.Is(err, weather.ErrMissingKey), errors.Is(err, geo.ErrMissingKey),
		errors.Is(err, navigation.ErrMissingKey):
		return http.StatusServiceUnavailable, apiError{Error: "服务未配置API密钥，请检查配置", Kind: "not_configured"}
	case errors.As(err, &te):
		msg := "上游服务拒绝了请求，请检查配置"
		switch te.Type {
		case retry.ErrorTypeAuth:
			msg = "API密钥无效或已过期，请检查配置"
		case retry.ErrorTypeRateLimit:
			msg = "上游服务限流，请稍后再试"
		}
		return http.StatusBadGateway, apiError{Error: msg, Kind: "terminal", Detail: te.Detail}
	case retry.IsExhausted(err):
		return http.StatusServiceUnavailable, apiError{Error: "服务暂时不可用，请稍后重试", Kind: "retry_exhausted"}
	case errors.As(err, &wae), errors.As(err, &pe), errors.As(err, &nae):
		return http.StatusBadGateway, apiError{Error: "上游服务返回错误", Kind: "provider", Detail: err.Error()}
	case errors.Is(err, itinerary.ErrEmptyResponse), errors.Is(err, weather.ErrNoWeather), errors.Is(err, navigation.ErrNoRoute):
		return http.StatusBadGateway, apiError{Error: "上游服务返回空结果", Kind: "empty_response"}
	default:
		return http.StatusInternalServerError, apiError{Error: "内部错误", Kind: "internal"}
	}
}

// writeError records err on the gin context for the access log and renders
// the mapped response.
func writeError(c *gin.Context, err error) {
	_ = c.Error(err)
	status, body := classify(err)
	body.RequestID = middleware.GetRequestID(c)
	c.AbortWithStatusJSON(status, body)
}

func badRequest(c *gin.Context, msg string) {
	c.AbortWithStatusJSON(http.StatusBadRequest, apiError{
		Error:     msg,
		Kind:      "bad_request",
		RequestID: middleware.GetRequestID(c),
	})
}
