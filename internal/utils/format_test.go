package utils

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestFormatResponseTime(t *testing.T) {
	tests := []struct {
		in       time.Duration
		expected string
	}{
		{0, "0ms"},
		{500 * time.Microsecond, "500μs"},
		{250 * time.Millisecond, "250ms"},
		{1500 * time.Millisecond, "1.5s"},
		{42 * time.Second, "42s"},
		{90 * time.Second, "1m30s"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.expected, FormatResponseTime(tt.in))
	}
}

func TestFormatPercentage(t *testing.T) {
	assert.Equal(t, "0.0%", FormatPercentage(1, 0))
	assert.Equal(t, "50.0%", FormatPercentage(1, 2))
}

func TestFormatCoordinate(t *testing.T) {
	assert.Equal(t, "118.796900,32.060300", FormatCoordinate(118.7969, 32.0603))
}

func TestFormatUptime(t *testing.T) {
	assert.Equal(t, "0秒", FormatUptime(-time.Second))
	assert.Equal(t, "45秒", FormatUptime(45*time.Second))
	assert.Equal(t, "3分钟5秒", FormatUptime(3*time.Minute+5*time.Second))
	assert.Equal(t, "2小时7分钟", FormatUptime(2*time.Hour+7*time.Minute+30*time.Second))
	assert.Equal(t, "1天4小时", FormatUptime(28*time.Hour+59*time.Minute))
}

func TestFormatDistance(t *testing.T) {
	assert.Equal(t, "850米", FormatDistance(850))
	assert.Equal(t, "12.3公里", FormatDistance(12345))
}

func TestFormatTravelTime(t *testing.T) {
	assert.Equal(t, "1分钟", FormatTravelTime(10*time.Second))
	assert.Equal(t, "25分钟", FormatTravelTime(25*time.Minute))
	assert.Equal(t, "2小时", FormatTravelTime(2*time.Hour))
	assert.Equal(t, "1小时5分钟", FormatTravelTime(64*time.Minute+10*time.Second))
}
