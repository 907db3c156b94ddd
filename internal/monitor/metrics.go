package monitor

import (
	"sort"
	"sync"
	"time"

	"webplanner/internal/proxy/retry"
)

// ProviderMetrics 单个外部服务商的调用统计
type ProviderMetrics struct {
	Name              string        `json:"name"`
	TotalCalls        int64         `json:"total_calls"`
	SuccessfulCalls   int64         `json:"successful_calls"`
	TerminalFailures  int64         `json:"terminal_failures"`
	ExhaustedFailures int64         `json:"exhausted_failures"`
	CancelledCalls    int64         `json:"cancelled_calls"`
	TotalAttempts     int64         `json:"total_attempts"`
	RetriedAttempts   int64         `json:"retried_attempts"`
	TotalCallTime     time.Duration `json:"-"`
	MinCallTime       time.Duration `json:"min_call_time"`
	MaxCallTime       time.Duration `json:"max_call_time"`
	LastCall          time.Time     `json:"last_call"`
	LastErrorType     string        `json:"last_error_type,omitempty"`
}

// AverageCallTime 平均调用耗时（含重试与退避）
func (p *ProviderMetrics) AverageCallTime() time.Duration {
	if p.TotalCalls == 0 {
		return 0
	}
	return p.TotalCallTime / time.Duration(p.TotalCalls)
}

// SuccessRate 成功率百分比
func (p *ProviderMetrics) SuccessRate() float64 {
	if p.TotalCalls == 0 {
		return 0
	}
	return float64(p.SuccessfulCalls) / float64(p.TotalCalls) * 100
}

// RequestMetrics API 请求统计
type RequestMetrics struct {
	Total      int64            `json:"total"`
	Successful int64            `json:"successful"`
	Failed     int64            `json:"failed"`
	ByRoute    map[string]int64 `json:"by_route"`
}

// Metrics contains all monitoring metrics
type Metrics struct {
	mu sync.RWMutex

	Providers map[string]*ProviderMetrics
	Requests  RequestMetrics
	StartTime time.Time

	// Resolution metrics
	Resolutions         int64
	FallbackResolutions int64
	FailedResolutions   int64
}

// NewMetrics creates a new metrics instance
func NewMetrics() *Metrics {
	return &Metrics{
		Providers: make(map[string]*ProviderMetrics),
		Requests:  RequestMetrics{ByRoute: make(map[string]int64)},
		StartTime: time.Now(),
	}
}

func (m *Metrics) provider(name string) *ProviderMetrics {
	if name == "" {
		name = "unknown"
	}
	p, ok := m.Providers[name]
	if !ok {
		p = &ProviderMetrics{Name: name}
		m.Providers[name] = p
	}
	return p
}

// RecordAttempt implements retry.Recorder.
func (m *Metrics) RecordAttempt(provider string, rec retry.AttemptRecord) {
	m.mu.Lock()
	p := m.provider(provider)
	p.TotalAttempts++
	if rec.Attempt > 1 {
		p.RetriedAttempts++
	}
	if rec.Outcome != retry.OutcomeSuccess {
		p.LastErrorType = rec.ErrorType.String()
	}
	name := p.Name
	m.mu.Unlock()

	attemptsTotal.WithLabelValues(name, rec.Outcome.String()).Inc()
	attemptLatency.WithLabelValues(name).Observe(rec.Elapsed.Seconds())
}

// RecordCall implements retry.Recorder.
func (m *Metrics) RecordCall(provider string, outcome retry.Outcome, attempts int, elapsed time.Duration) {
	m.mu.Lock()
	p := m.provider(provider)
	p.TotalCalls++
	p.TotalCallTime += elapsed
	p.LastCall = time.Now()
	if p.MinCallTime == 0 || elapsed < p.MinCallTime {
		p.MinCallTime = elapsed
	}
	if elapsed > p.MaxCallTime {
		p.MaxCallTime = elapsed
	}

	label := "success"
	switch outcome {
	case retry.OutcomeSuccess:
		p.SuccessfulCalls++
	case retry.OutcomeTerminal:
		p.TerminalFailures++
		label = "terminal"
	case retry.OutcomeCancelled:
		p.CancelledCalls++
		label = "cancelled"
	default:
		p.ExhaustedFailures++
		label = "exhausted"
	}
	name := p.Name
	m.mu.Unlock()

	callsTotal.WithLabelValues(name, label).Inc()
	callLatency.WithLabelValues(name).Observe(elapsed.Seconds())
}

// RecordResolution 记录一次地址解析的来源: "remote" | "fallback" | "failed"
func (m *Metrics) RecordResolution(source string) {
	m.mu.Lock()
	m.Resolutions++
	switch source {
	case "fallback":
		m.FallbackResolutions++
	case "failed":
		m.FailedResolutions++
	}
	m.mu.Unlock()

	resolutionsTotal.WithLabelValues(source).Inc()
}

// RecordRequest 记录一次 API 请求
func (m *Metrics) RecordRequest(route string, statusCode int, latency time.Duration) {
	m.mu.Lock()
	m.Requests.Total++
	if statusCode < 400 {
		m.Requests.Successful++
	} else {
		m.Requests.Failed++
	}
	m.Requests.ByRoute[route]++
	m.mu.Unlock()

	httpRequestsTotal.WithLabelValues(route, statusClass(statusCode)).Inc()
	httpLatency.WithLabelValues(route).Observe(latency.Seconds())
}

func statusClass(code int) string {
	switch {
	case code >= 500:
		return "5xx"
	case code >= 400:
		return "4xx"
	case code >= 300:
		return "3xx"
	default:
		return "2xx"
	}
}

// Snapshot 指标快照，可安全序列化
type Snapshot struct {
	Uptime              time.Duration     `json:"uptime"`
	Providers           []ProviderMetrics `json:"providers"`
	Requests            RequestMetrics    `json:"requests"`
	Resolutions         int64             `json:"resolutions"`
	FallbackResolutions int64             `json:"fallback_resolutions"`
	FailedResolutions   int64             `json:"failed_resolutions"`
}

// GetSnapshot returns a deep copy of current metrics.
func (m *Metrics) GetSnapshot() Snapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()

	s := Snapshot{
		Uptime:              time.Since(m.StartTime),
		Providers:           make([]ProviderMetrics, 0, len(m.Providers)),
		Requests:            RequestMetrics{Total: m.Requests.Total, Successful: m.Requests.Successful, Failed: m.Requests.Failed, ByRoute: make(map[string]int64, len(m.Requests.ByRoute))},
		Resolutions:         m.Resolutions,
		FallbackResolutions: m.FallbackResolutions,
		FailedResolutions:   m.FailedResolutions,
	}
	for _, p := range m.Providers {
		s.Providers = append(s.Providers, *p)
	}
	sort.Slice(s.Providers, func(i, j int) bool { return s.Providers[i].Name < s.Providers[j].Name })
	for k, v := range m.Requests.ByRoute {
		s.Requests.ByRoute[k] = v
	}
	return s
}

// GetProvider returns a copy of one provider's stats.
func (m *Metrics) GetProvider(name string) (ProviderMetrics, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.Providers[name]
	if !ok {
		return ProviderMetrics{}, false
	}
	return *p, true
}
