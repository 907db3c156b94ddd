package monitor

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"webplanner/internal/proxy/retry"
)

func TestMetrics_RecordCall(t *testing.T) {
	m := NewMetrics()

	m.RecordAttempt("deepseek", retry.AttemptRecord{Attempt: 1, Outcome: retry.OutcomeRetryable, ErrorType: retry.ErrorTypeServerError, Elapsed: 10 * time.Millisecond})
	m.RecordAttempt("deepseek", retry.AttemptRecord{Attempt: 2, Outcome: retry.OutcomeSuccess, Elapsed: 20 * time.Millisecond})
	m.RecordCall("deepseek", retry.OutcomeSuccess, 2, 150*time.Millisecond)
	m.RecordCall("deepseek", retry.OutcomeTerminal, 1, 50*time.Millisecond)
	m.RecordCall("baidu", retry.OutcomeRetryable, 2, time.Second)
	m.RecordCall("baidu", retry.OutcomeCancelled, 1, time.Millisecond)

	p, ok := m.GetProvider("deepseek")
	require.True(t, ok)
	assert.Equal(t, int64(2), p.TotalCalls)
	assert.Equal(t, int64(1), p.SuccessfulCalls)
	assert.Equal(t, int64(1), p.TerminalFailures)
	assert.Equal(t, int64(2), p.TotalAttempts)
	assert.Equal(t, int64(1), p.RetriedAttempts)
	assert.Equal(t, "服务器", p.LastErrorType)
	assert.Equal(t, 50*time.Millisecond, p.MinCallTime)
	assert.Equal(t, 150*time.Millisecond, p.MaxCallTime)
	assert.Equal(t, 100*time.Millisecond, p.AverageCallTime())
	assert.InDelta(t, 50.0, p.SuccessRate(), 0.001)

	b, ok := m.GetProvider("baidu")
	require.True(t, ok)
	assert.Equal(t, int64(1), b.ExhaustedFailures)
	assert.Equal(t, int64(1), b.CancelledCalls)

	_, ok = m.GetProvider("amap")
	assert.False(t, ok)
}

func TestMetrics_SnapshotIsCopy(t *testing.T) {
	m := NewMetrics()
	m.RecordRequest("/api/v1/geocode", 200, time.Millisecond)
	m.RecordRequest("/api/v1/geocode", 404, time.Millisecond)
	m.RecordResolution("remote")
	m.RecordResolution("fallback")
	m.RecordResolution("failed")
	m.RecordCall("b", retry.OutcomeSuccess, 1, time.Millisecond)
	m.RecordCall("a", retry.OutcomeSuccess, 1, time.Millisecond)

	s := m.GetSnapshot()
	assert.Equal(t, int64(2), s.Requests.Total)
	assert.Equal(t, int64(1), s.Requests.Failed)
	assert.Equal(t, int64(2), s.Requests.ByRoute["/api/v1/geocode"])
	assert.Equal(t, int64(3), s.Resolutions)
	assert.Equal(t, int64(1), s.FallbackResolutions)
	assert.Equal(t, int64(1), s.FailedResolutions)
	require.Len(t, s.Providers, 2)
	assert.Equal(t, "a", s.Providers[0].Name)

	s.Requests.ByRoute["/api/v1/geocode"] = 99
	assert.Equal(t, int64(2), m.GetSnapshot().Requests.ByRoute["/api/v1/geocode"])
}

func TestMetrics_Concurrent(t *testing.T) {
	m := NewMetrics()
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				m.RecordCall("amap", retry.OutcomeSuccess, 1, time.Millisecond)
				_ = m.GetSnapshot()
			}
		}()
	}
	wg.Wait()

	p, _ := m.GetProvider("amap")
	assert.Equal(t, int64(1000), p.TotalCalls)
}
