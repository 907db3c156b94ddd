package endpoint

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"webplanner/config"
	"webplanner/internal/proxy"
	"webplanner/internal/utils"
)

// ErrUnknownEndpoint ManualHealthCheck 的名称不在监控列表中
var ErrUnknownEndpoint = errors.New("endpoint not found")

// Overall network states reported by NetworkStatus.
const (
	StatusHealthy   = "healthy"
	StatusDegraded  = "degraded"
	StatusUnhealthy = "unhealthy"
)

// EndpointStatus represents the reachability of a provider endpoint
type EndpointStatus struct {
	Healthy          bool          `json:"healthy"`
	LastCheck        time.Time     `json:"last_check"`
	ResponseTime     time.Duration `json:"response_time"`
	StatusCode       int           `json:"status_code,omitempty"`
	ConsecutiveFails int           `json:"consecutive_fails"`
	LastError        string        `json:"last_error,omitempty"`
	NeverChecked     bool          `json:"never_checked"` // 表示从未被检测过
}

// Endpoint is one probed provider URL and its latest status.
type Endpoint struct {
	Target config.HealthTarget
	Status EndpointStatus
	mutex  sync.RWMutex
}

// IsHealthy returns the health status of an endpoint
func (e *Endpoint) IsHealthy() bool {
	e.mutex.RLock()
	defer e.mutex.RUnlock()
	return e.Status.Healthy
}

// GetStatus returns a copy of the endpoint status
func (e *Endpoint) GetStatus() EndpointStatus {
	e.mutex.RLock()
	defer e.mutex.RUnlock()
	return e.Status
}

// ProbeResult 单次连接测试结果
type ProbeResult struct {
	Name         string `json:"name"`
	URL          string `json:"url"`
	Success      bool   `json:"success"`
	StatusCode   int    `json:"status,omitempty"`
	ResponseTime int64  `json:"response_time_ms"`
	ViaProxy     bool   `json:"via_proxy"`
	Error        string `json:"error,omitempty"`
}

// NetworkStatus 网络状态报告
type NetworkStatus struct {
	ProxyEnabled  bool          `json:"proxy_enabled"`
	ProxyConfig   proxy.Config  `json:"proxy_config"`
	Connections   []ProbeResult `json:"connections"`
	OverallStatus string        `json:"overall_status"`
	CheckedAt     time.Time     `json:"checked_at"`
}

// UpSetter receives the outcome of every probe, e.g. monitor.SetEndpointUp.
type UpSetter func(endpoint string, up bool)

// Manager probes provider endpoints through the proxy-aware client.
type Manager struct {
	mu        sync.RWMutex
	endpoints []*Endpoint
	config    config.HealthConfig
	client    *http.Client
	router    *proxy.Router
	setUp     UpSetter
	logger    *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewManager creates a new endpoint manager. client should be built by
// transport.NewClient so probes take the same route as real calls.
func NewManager(cfg config.HealthConfig, client *http.Client, router *proxy.Router, setUp UpSetter) *Manager {
	ctx, cancel := context.WithCancel(context.Background())
	if client == nil {
		client = http.DefaultClient
	}
	m := &Manager{
		client: client,
		router: router,
		setUp:  setUp,
		logger: slog.Default(),
		ctx:    ctx,
		cancel: cancel,
	}
	m.UpdateConfig(cfg)
	return m
}

// SetLogger replaces the logger, typically after a config reload.
func (m *Manager) SetLogger(l *slog.Logger) {
	m.mu.Lock()
	m.logger = l
	m.mu.Unlock()
}

func (m *Manager) log() *slog.Logger {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.logger
}

// UpdateConfig replaces the target list. Endpoints keep their status when
// the same name and URL survive the reload.
func (m *Manager) UpdateConfig(cfg config.HealthConfig) {
	m.mu.Lock()
	defer m.mu.Unlock()

	previous := make(map[config.HealthTarget]*Endpoint, len(m.endpoints))
	for _, ep := range m.endpoints {
		previous[ep.Target] = ep
	}

	endpoints := make([]*Endpoint, 0, len(cfg.Targets))
	for _, t := range cfg.Targets {
		if ep, ok := previous[t]; ok {
			endpoints = append(endpoints, ep)
			continue
		}
		endpoints = append(endpoints, &Endpoint{
			Target: t,
			Status: EndpointStatus{NeverChecked: true},
		})
	}
	m.endpoints = endpoints
	m.config = cfg
}

// Start starts the health checking routine when enabled.
func (m *Manager) Start() {
	m.mu.RLock()
	enabled := m.config.Enabled
	m.mu.RUnlock()
	if !enabled {
		return
	}
	m.wg.Add(1)
	go m.healthCheckLoop()
}

// Stop stops the health checking routine
func (m *Manager) Stop() {
	m.cancel()
	m.wg.Wait()
}

// GetEndpoints returns the current endpoints.
func (m *Manager) GetEndpoints() []*Endpoint {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]*Endpoint(nil), m.endpoints...)
}

func (m *Manager) healthCheckLoop() {
	defer m.wg.Done()

	m.mu.RLock()
	interval := m.config.CheckInterval
	m.mu.RUnlock()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	m.CheckAll(m.ctx)

	for {
		select {
		case <-m.ctx.Done():
			return
		case <-ticker.C:
			m.CheckAll(m.ctx)
		}
	}
}

// CheckAll probes every endpoint concurrently and returns results in
// configuration order.
func (m *Manager) CheckAll(ctx context.Context) []ProbeResult {
	endpoints := m.GetEndpoints()
	if len(endpoints) == 0 {
		m.log().Debug("🩺 [健康检查] 没有配置的端点，跳过健康检查")
		return nil
	}

	results := make([]ProbeResult, len(endpoints))
	var wg sync.WaitGroup
	for i, ep := range endpoints {
		wg.Add(1)
		go func() {
			defer wg.Done()
			results[i] = m.checkEndpoint(ctx, ep)
		}()
	}
	wg.Wait()

	healthy := 0
	for _, r := range results {
		if r.Success {
			healthy++
		}
	}
	m.log().Debug(fmt.Sprintf("🩺 [健康检查] 完成检查 - 总体健康: %d/%d", healthy, len(results)))
	return results
}

func (m *Manager) checkEndpoint(ctx context.Context, ep *Endpoint) ProbeResult {
	result := m.Probe(ctx, ep.Target.URL)
	result.Name = ep.Target.Name
	m.updateEndpointStatus(ep, result)
	if m.setUp != nil {
		m.setUp(ep.Target.Name, result.Success)
	}
	return result
}

// Probe sends a HEAD request bounded by the configured timeout. Any HTTP
// response counts as reachable; only transport failures do not.
func (m *Manager) Probe(ctx context.Context, url string) ProbeResult {
	m.mu.RLock()
	timeout := m.config.Timeout
	m.mu.RUnlock()
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	result := ProbeResult{URL: url}
	if m.router != nil {
		result.ViaProxy = m.router.ShouldUseProxy(url)
	}

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	start := time.Now()
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, url, nil)
	if err != nil {
		result.Error = err.Error()
		return result
	}

	resp, err := m.client.Do(req)
	elapsed := time.Since(start)
	result.ResponseTime = elapsed.Milliseconds()
	if err != nil {
		result.Error = err.Error()
		m.log().Warn(fmt.Sprintf("❌ [连接测试] 失败: %s - 错误: %s, 响应时间: %s",
			url, err.Error(), utils.FormatResponseTime(elapsed)))
		return result
	}
	resp.Body.Close()

	result.Success = true
	result.StatusCode = resp.StatusCode
	m.log().Debug(fmt.Sprintf("✅ [连接测试] 成功: %s - 状态码: %d, 响应时间: %s",
		url, resp.StatusCode, utils.FormatResponseTime(elapsed)))
	return result
}

// updateEndpointStatus updates the health status of an endpoint
func (m *Manager) updateEndpointStatus(ep *Endpoint, r ProbeResult) {
	ep.mutex.Lock()
	defer ep.mutex.Unlock()

	wasHealthy := ep.Status.Healthy
	neverChecked := ep.Status.NeverChecked

	ep.Status.LastCheck = time.Now()
	ep.Status.ResponseTime = time.Duration(r.ResponseTime) * time.Millisecond
	ep.Status.StatusCode = r.StatusCode
	ep.Status.NeverChecked = false
	ep.Status.LastError = r.Error

	if r.Success {
		ep.Status.Healthy = true
		ep.Status.ConsecutiveFails = 0
		if !wasHealthy && !neverChecked {
			m.log().Info(fmt.Sprintf("✅ [健康检查] 端点恢复正常: %s - 响应时间: %dms", ep.Target.Name, r.ResponseTime))
		}
		return
	}

	ep.Status.Healthy = false
	ep.Status.ConsecutiveFails++
	if wasHealthy {
		m.log().Warn(fmt.Sprintf("❌ [健康检查] 端点标记为不可用: %s - 连续失败: %d次",
			ep.Target.Name, ep.Status.ConsecutiveFails))
	}
}

// NetworkStatus probes all endpoints and summarises them: every probe
// succeeded is healthy, at least half is degraded, otherwise unhealthy.
func (m *Manager) NetworkStatus(ctx context.Context) NetworkStatus {
	status := NetworkStatus{
		Connections: m.CheckAll(ctx),
		CheckedAt:   time.Now(),
	}
	if m.router != nil {
		status.ProxyConfig = m.router.ProxyConfig()
		status.ProxyEnabled = status.ProxyConfig.Enabled
	}
	status.OverallStatus = Overall(status.Connections)

	m.log().Info("📡 [网络状态] 检测完成",
		"overall", status.OverallStatus,
		"connections", len(status.Connections),
		"proxy_enabled", status.ProxyEnabled)
	return status
}

// Overall classifies a set of probe results.
func Overall(results []ProbeResult) string {
	success := 0
	for _, r := range results {
		if r.Success {
			success++
		}
	}
	switch {
	case success == len(results):
		return StatusHealthy
	case float64(success) >= float64(len(results))/2:
		return StatusDegraded
	default:
		return StatusUnhealthy
	}
}

// ManualHealthCheck performs a health check on one endpoint by name.
func (m *Manager) ManualHealthCheck(ctx context.Context, name string) (ProbeResult, error) {
	for _, ep := range m.GetEndpoints() {
		if ep.Target.Name != name {
			continue
		}
		m.log().Info(fmt.Sprintf("🔍 [手动检查] 开始检查端点: %s", name))
		r := m.checkEndpoint(ctx, ep)
		return r, nil
	}
	return ProbeResult{}, fmt.Errorf("%w: %s", ErrUnknownEndpoint, name)
}
