package web

import (
	"context"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"webplanner/internal/endpoint"
	"webplanner/internal/geo"
	"webplanner/internal/middleware"
	"webplanner/internal/transport"
	"webplanner/internal/utils"
	"webplanner/internal/weather"
)

const maxBatchQueries = 50

func unavailable(c *gin.Context, service string) {
	c.AbortWithStatusJSON(http.StatusServiceUnavailable, apiError{
		Error:     service + " 未启用",
		Kind:      "not_configured",
		RequestID: middleware.GetRequestID(c),
	})
}

// handleHealth 存储不可用时返回 503，端点部分不可达时为 degraded
func (ws *WebServer) handleHealth(c *gin.Context) {
	status := endpoint.StatusHealthy
	code := http.StatusOK
	checks := gin.H{}

	if ws.deps.Storage != nil {
		ctx, cancel := context.WithTimeout(c.Request.Context(), 3*time.Second)
		err := ws.deps.Storage.Ping(ctx)
		cancel()
		if err != nil {
			checks["storage"] = err.Error()
			status = endpoint.StatusUnhealthy
			code = http.StatusServiceUnavailable
		} else {
			checks["storage"] = "ok"
		}
	}

	if ws.deps.Network != nil {
		healthy, checked := 0, 0
		endpoints := ws.deps.Network.GetEndpoints()
		for _, ep := range endpoints {
			st := ep.GetStatus()
			if st.NeverChecked {
				continue
			}
			checked++
			if st.Healthy {
				healthy++
			}
		}
		checks["endpoints"] = gin.H{"healthy": healthy, "checked": checked, "total": len(endpoints)}
		if status == endpoint.StatusHealthy && healthy < checked {
			status = endpoint.StatusDegraded
		}
	}

	c.JSON(code, gin.H{
		"status": status,
		"uptime": utils.FormatUptime(time.Since(ws.startTime)),
		"checks": checks,
	})
}

func (ws *WebServer) handleStatus(c *gin.Context) {
	cfg := ws.cfg()
	resp := gin.H{
		"status":       "running",
		"version":      ws.deps.Version,
		"uptime":       utils.FormatUptime(time.Since(ws.startTime)),
		"start_time":   ws.startTime.Format("2006-01-02 15:04:05"),
		"geo_provider": cfg.Geo.Provider,
		"storage":      cfg.Storage.Type,
		"server": gin.H{
			"host": cfg.Server.Host,
			"port": cfg.Server.Port,
		},
	}
	if ws.deps.Router != nil {
		resp["proxy"] = transport.GetProxyInfo(ws.deps.Router)
	}
	if ws.deps.Settings != nil {
		keys := ws.deps.Settings.Keys()
		resp["keys_configured"] = gin.H{
			"deepseek": keys.DeepSeek != "",
			"baidu":    keys.BaiduAK != "",
			"amap":     keys.AMap != "",
		}
	}
	c.JSON(http.StatusOK, resp)
}

func (ws *WebServer) handleStats(c *gin.Context) {
	if ws.deps.Metrics == nil {
		unavailable(c, "监控")
		return
	}
	snap := ws.deps.Metrics.GetSnapshot()

	providers := make([]gin.H, 0, len(snap.Providers))
	for _, p := range snap.Providers {
		providers = append(providers, gin.H{
			"name":               p.Name,
			"total_calls":        p.TotalCalls,
			"successful_calls":   p.SuccessfulCalls,
			"terminal_failures":  p.TerminalFailures,
			"exhausted_failures": p.ExhaustedFailures,
			"cancelled_calls":    p.CancelledCalls,
			"total_attempts":     p.TotalAttempts,
			"retried_attempts":   p.RetriedAttempts,
			"success_rate":       utils.FormatPercentage(p.SuccessfulCalls, p.TotalCalls),
			"avg_call_time":      utils.FormatResponseTime(p.AverageCallTime()),
			"max_call_time":      utils.FormatResponseTime(p.MaxCallTime),
			"last_error_type":    p.LastErrorType,
		})
	}

	c.JSON(http.StatusOK, gin.H{
		"uptime":    utils.FormatUptime(snap.Uptime),
		"providers": providers,
		"requests":  snap.Requests,
		"resolutions": gin.H{
			"total":    snap.Resolutions,
			"fallback": snap.FallbackResolutions,
			"failed":   snap.FailedResolutions,
		},
	})
}

// handleRoute explains how a URL would be routed.
func (ws *WebServer) handleRoute(c *gin.Context) {
	if ws.deps.Router == nil {
		unavailable(c, "路由")
		return
	}
	raw := strings.TrimSpace(c.Query("url"))
	if raw == "" {
		badRequest(c, "缺少 url 参数")
		return
	}
	c.JSON(http.StatusOK, ws.deps.Router.Explain(raw))
}

func (ws *WebServer) handleGetProxy(c *gin.Context) {
	if ws.deps.Router == nil {
		unavailable(c, "路由")
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"config": ws.deps.Router.ProxyConfig(),
		"info":   transport.GetProxyInfo(ws.deps.Router),
	})
}

type setProxyRequest struct {
	UseProxyForAI *bool `json:"use_proxy_for_ai" binding:"required"`
}

// handleSetProxy toggles the AI proxy preference. The next call made by
// any client observes the new value.
func (ws *WebServer) handleSetProxy(c *gin.Context) {
	if ws.deps.Settings == nil || ws.deps.Router == nil {
		unavailable(c, "代理设置")
		return
	}
	var req setProxyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "请求体无效: "+err.Error())
		return
	}
	ws.deps.Settings.SetUseProxyForAI(*req.UseProxyForAI)
	ws.log().Info("🔗 [代理设置] AI代理偏好已更新", "use_proxy_for_ai", *req.UseProxyForAI)

	// 写回配置文件失败不影响本次切换，只是重启后不保留
	persisted := false
	if ws.deps.Preferences != nil {
		if err := ws.deps.Preferences.SaveUseProxyForAI(*req.UseProxyForAI); err != nil {
			ws.log().Warn("⚠️ [代理设置] 写入配置文件失败", "error", err)
		} else {
			persisted = true
		}
	}
	c.JSON(http.StatusOK, gin.H{
		"config":    ws.deps.Router.ProxyConfig(),
		"persisted": persisted,
	})
}

func (ws *WebServer) handleNetworkStatus(c *gin.Context) {
	if ws.deps.Network == nil {
		unavailable(c, "网络诊断")
		return
	}
	c.JSON(http.StatusOK, ws.deps.Network.NetworkStatus(c.Request.Context()))
}

func (ws *WebServer) handleEndpoints(c *gin.Context) {
	if ws.deps.Network == nil {
		unavailable(c, "网络诊断")
		return
	}
	endpoints := ws.deps.Network.GetEndpoints()
	data := make([]gin.H, 0, len(endpoints))
	for _, ep := range endpoints {
		st := ep.GetStatus()
		item := gin.H{
			"name":              ep.Target.Name,
			"url":               ep.Target.URL,
			"healthy":           st.Healthy,
			"never_checked":     st.NeverChecked,
			"response_time":     utils.FormatResponseTime(st.ResponseTime),
			"consecutive_fails": st.ConsecutiveFails,
			"error":             st.LastError,
		}
		if !st.NeverChecked {
			item["last_check"] = st.LastCheck.Format("2006-01-02 15:04:05")
		}
		data = append(data, item)
	}
	c.JSON(http.StatusOK, gin.H{"endpoints": data, "total": len(data)})
}

// handleCheckEndpoint runs one health check immediately.
func (ws *WebServer) handleCheckEndpoint(c *gin.Context) {
	if ws.deps.Network == nil {
		unavailable(c, "网络诊断")
		return
	}
	name := c.Param("name")
	result, err := ws.deps.Network.ManualHealthCheck(c.Request.Context(), name)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

// handleValidateDeepSeek lists models with the configured key. A rejected
// key answers 502 like any other terminal upstream failure.
func (ws *WebServer) handleValidateDeepSeek(c *gin.Context) {
	if ws.deps.KeyValidator == nil {
		unavailable(c, "密钥验证")
		return
	}
	models, err := ws.deps.KeyValidator.ValidateKey(c.Request.Context())
	if err != nil {
		ws.log().Warn("🔑 [密钥验证] DeepSeek 密钥验证失败", "error", err)
		writeError(c, err)
		return
	}
	ws.log().Info("🔑 [密钥验证] DeepSeek 密钥有效", "models", len(models))
	c.JSON(http.StatusOK, gin.H{"valid": true, "models": models})
}

type geocodeRequest struct {
	Address string `json:"address" binding:"required"`
	City    string `json:"city"`
}

func (ws *WebServer) handleGeocode(c *gin.Context) {
	if ws.deps.Resolver == nil {
		unavailable(c, "地址解析")
		return
	}
	var req geocodeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "请求体无效: "+err.Error())
		return
	}
	loc, err := ws.deps.Resolver.Resolve(c.Request.Context(), req.Address, req.City)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, loc)
}

type batchGeocodeRequest struct {
	Queries []geo.Query `json:"queries" binding:"required"`
}

type batchItem struct {
	Query    geo.Query     `json:"query"`
	Location *geo.Location `json:"location,omitempty"`
	Error    string        `json:"error,omitempty"`
	Kind     string        `json:"kind,omitempty"`
}

// handleGeocodeBatch resolves every query; one failed stop never fails the
// whole request.
func (ws *WebServer) handleGeocodeBatch(c *gin.Context) {
	if ws.deps.Resolver == nil {
		unavailable(c, "地址解析")
		return
	}
	var req batchGeocodeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "请求体无效: "+err.Error())
		return
	}
	if len(req.Queries) == 0 || len(req.Queries) > maxBatchQueries {
		badRequest(c, "queries 数量必须在 1 到 "+strconv.Itoa(maxBatchQueries)+" 之间")
		return
	}

	results, err := ws.deps.Resolver.ResolveAll(c.Request.Context(), req.Queries)
	if err != nil {
		writeError(c, err)
		return
	}

	var resolved, approximate, failed int
	items := make([]batchItem, len(results))
	for i, r := range results {
		items[i] = batchItem{Query: r.Query, Location: r.Location}
		switch {
		case r.Err != nil:
			_, body := classify(r.Err)
			items[i].Error = body.Error
			items[i].Kind = body.Kind
			failed++
		case r.Location != nil && r.Location.Approximate:
			approximate++
		default:
			resolved++
		}
	}

	c.JSON(http.StatusOK, gin.H{
		"results":     items,
		"resolved":    resolved,
		"approximate": approximate,
		"failed":      failed,
	})
}

func parseExtensions(s string) weather.Extensions {
	switch strings.ToLower(s) {
	case "forecast", "all":
		return weather.Forecast
	default:
		return weather.Live
	}
}

// handleWeather accepts either city or lng+lat.
func (ws *WebServer) handleWeather(c *gin.Context) {
	if ws.deps.Weather == nil {
		unavailable(c, "天气")
		return
	}
	ext := parseExtensions(c.Query("extensions"))

	var (
		report *weather.Report
		err    error
	)
	lngStr, latStr := c.Query("lng"), c.Query("lat")
	switch {
	case lngStr != "" && latStr != "":
		lng, errLng := strconv.ParseFloat(lngStr, 64)
		lat, errLat := strconv.ParseFloat(latStr, 64)
		if errLng != nil || errLat != nil {
			badRequest(c, "lng/lat 必须为数字")
			return
		}
		report, err = ws.deps.Weather.ByLocation(c.Request.Context(), lng, lat, ext)
	case strings.TrimSpace(c.Query("city")) != "":
		report, err = ws.deps.Weather.ByCity(c.Request.Context(), c.Query("city"), ext)
	default:
		badRequest(c, "需要 city 或 lng/lat 参数")
		return
	}
	if err != nil {
		writeError(c, err)
		return
	}

	resp := gin.H{"report": report}
	if display, err := weather.Format(report); err == nil {
		resp["display"] = display
	}
	c.JSON(http.StatusOK, resp)
}

type tripWeatherRequest struct {
	Places     []weather.Place `json:"places" binding:"required"`
	Extensions string          `json:"extensions"`
}

func (ws *WebServer) handleTripWeather(c *gin.Context) {
	if ws.deps.Weather == nil {
		unavailable(c, "天气")
		return
	}
	var req tripWeatherRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "请求体无效: "+err.Error())
		return
	}
	if len(req.Places) > maxBatchQueries {
		badRequest(c, "places 数量不能超过 "+strconv.Itoa(maxBatchQueries))
		return
	}
	results := ws.deps.Weather.TripWeather(c.Request.Context(), req.Places, parseExtensions(req.Extensions))
	c.JSON(http.StatusOK, gin.H{"results": results})
}
