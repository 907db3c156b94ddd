// Package utils 提供通用的工具函数
package utils

import (
	"fmt"
	"time"
)

// FormatResponseTime 友好格式化耗时显示
// 用法: utils.FormatResponseTime(duration)
func FormatResponseTime(d time.Duration) string {
	switch {
	case d <= 0:
		return "0ms"
	case d < time.Millisecond:
		return fmt.Sprintf("%dμs", d.Microseconds())
	case d < time.Second:
		return fmt.Sprintf("%dms", d.Milliseconds())
	case d < 10*time.Second:
		return fmt.Sprintf("%.1fs", d.Seconds())
	case d < time.Minute:
		return fmt.Sprintf("%.0fs", d.Seconds())
	default:
		minutes := int(d / time.Minute)
		seconds := (d % time.Minute).Seconds()
		return fmt.Sprintf("%dm%.0fs", minutes, seconds)
	}
}

// FormatPercentage 格式化百分比显示
func FormatPercentage(value, total int64) string {
	if total == 0 {
		return "0.0%"
	}
	return fmt.Sprintf("%.1f%%", float64(value)/float64(total)*100)
}

// FormatCoordinate 经纬度保留6位小数，约0.1米精度
func FormatCoordinate(lng, lat float64) string {
	return fmt.Sprintf("%.6f,%.6f", lng, lat)
}

// FormatUptime 运行时间，只保留最高的两个单位
func FormatUptime(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	total := int64(d / time.Second)
	days, rest := total/86400, total%86400
	hours, rest := rest/3600, rest%3600
	minutes, seconds := rest/60, rest%60

	switch {
	case days > 0:
		return fmt.Sprintf("%d天%d小时", days, hours)
	case hours > 0:
		return fmt.Sprintf("%d小时%d分钟", hours, minutes)
	case minutes > 0:
		return fmt.Sprintf("%d分钟%d秒", minutes, seconds)
	default:
		return fmt.Sprintf("%d秒", seconds)
	}
}

// FormatDistance 米数转为展示文本，1公里以上保留一位小数
func FormatDistance(meters float64) string {
	if meters < 1000 {
		return fmt.Sprintf("%.0f米", meters)
	}
	return fmt.Sprintf("%.1f公里", meters/1000)
}

// FormatTravelTime 行程耗时，不足一分钟按一分钟计
func FormatTravelTime(d time.Duration) string {
	minutes := int64((d + time.Minute - 1) / time.Minute)
	if minutes < 1 {
		minutes = 1
	}
	if minutes < 60 {
		return fmt.Sprintf("%d分钟", minutes)
	}
	if minutes%60 == 0 {
		return fmt.Sprintf("%d小时", minutes/60)
	}
	return fmt.Sprintf("%d小时%d分钟", minutes/60, minutes%60)
}
