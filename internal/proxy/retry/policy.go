package retry

import (
	"fmt"
	"math"
	"time"

	"webplanner/config"
)

const defaultMultiplier = 2.0

// Policy 重试策略，创建后不修改
type Policy struct {
	MaxAttempts int           `json:"max_attempts"`
	BaseDelay   time.Duration `json:"base_delay"`
	MaxDelay    time.Duration `json:"max_delay"`
	Timeout     time.Duration `json:"timeout"` // 单次尝试超时
	Multiplier  float64       `json:"multiplier"`
}

// PolicyFromConfig 从配置构建策略
func PolicyFromConfig(cfg config.RetryConfig) Policy {
	return Policy{
		MaxAttempts: cfg.MaxAttempts,
		BaseDelay:   cfg.BaseDelay,
		MaxDelay:    cfg.MaxDelay,
		Timeout:     cfg.Timeout,
		Multiplier:  cfg.Multiplier,
	}
}

func (p Policy) multiplier() float64 {
	if p.Multiplier == 0 {
		return defaultMultiplier
	}
	return p.Multiplier
}

func (p Policy) Validate() error {
	if p.MaxAttempts < 1 {
		return fmt.Errorf("%w: max_attempts must be at least 1, got %d", ErrInvalidPolicy, p.MaxAttempts)
	}
	if p.BaseDelay < 0 || p.MaxDelay < 0 {
		return fmt.Errorf("%w: delays must be non-negative", ErrInvalidPolicy)
	}
	if p.BaseDelay > p.MaxDelay {
		return fmt.Errorf("%w: base_delay %v exceeds max_delay %v", ErrInvalidPolicy, p.BaseDelay, p.MaxDelay)
	}
	if p.Timeout <= 0 {
		return fmt.Errorf("%w: timeout must be positive", ErrInvalidPolicy)
	}
	if p.multiplier() < 1 {
		return fmt.Errorf("%w: multiplier must be >= 1", ErrInvalidPolicy)
	}
	return nil
}

// Backoff 计算第 attempt 次失败后的等待时间
// 算法：min(baseDelay * multiplier^(attempt-1), maxDelay)
func (p Policy) Backoff(attempt int) time.Duration {
	exponent := float64(attempt - 1)
	if exponent < 0 {
		exponent = 0
	}

	delay := float64(p.BaseDelay) * math.Pow(p.multiplier(), exponent)
	if delay > float64(p.MaxDelay) || math.IsInf(delay, 0) || math.IsNaN(delay) {
		return p.MaxDelay
	}
	return time.Duration(delay)
}

// WorstCaseLatency is the upper bound on one Execute call that never
// succeeds: every attempt runs to its timeout and every backoff is waited.
// Callers use it to size "still working" thresholds.
func (p Policy) WorstCaseLatency() time.Duration {
	total := time.Duration(p.MaxAttempts) * p.Timeout
	for attempt := 1; attempt < p.MaxAttempts; attempt++ {
		total += p.Backoff(attempt)
	}
	return total
}
