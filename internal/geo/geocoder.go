package geo

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
)

// Point 经纬度坐标
type Point struct {
	Longitude float64 `json:"longitude"`
	Latitude  float64 `json:"latitude"`
}

// Valid reports whether p is a usable coordinate. (0,0) counts as no result.
func (p Point) Valid() bool {
	if math.IsNaN(p.Longitude) || math.IsNaN(p.Latitude) {
		return false
	}
	if p.Longitude == 0 && p.Latitude == 0 {
		return false
	}
	return p.Longitude >= -180 && p.Longitude <= 180 && p.Latitude >= -90 && p.Latitude <= 90
}

// GeocodeResult 地理编码服务返回的结果
type GeocodeResult struct {
	Point
	FormattedAddress string
	City             string
}

// Geocoder resolves an address within an optional city scope. An empty
// city means unscoped resolution.
type Geocoder interface {
	Name() string
	Geocode(ctx context.Context, address, city string) (GeocodeResult, error)
}

// KeyFunc returns the current API key; it is read on every call so a
// reloaded key applies to the next request.
type KeyFunc func() string

// StaticKey wraps a fixed key.
func StaticKey(key string) KeyFunc {
	return func() string { return key }
}

// scopedAddress 有城市范围且地址未包含城市名时，把城市拼到地址前面。
// "南京" 与 "南京市" 视为同一城市。
func scopedAddress(address, city string) string {
	if city == "" {
		return address
	}
	short := strings.TrimSuffix(city, "市")
	if short == "" || strings.Contains(address, short) {
		return address
	}
	return city + address
}

var (
	// ErrResolutionFailed matches every *ResolutionFailedError.
	ErrResolutionFailed = errors.New("address resolution failed")

	ErrMissingKey = errors.New("geocoding API key not configured")
	ErrNoResult   = errors.New("geocoder returned no result")
	ErrEmptyQuery = errors.New("address is empty")
)

// ProviderError 服务商返回的业务错误（HTTP 200 但状态码非成功）
type ProviderError struct {
	Provider string
	Status   string
	Message  string
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("%s geocoder status %s: %s", e.Provider, e.Status, e.Message)
}

// ResolutionFailedError 远程解析与兜底表均失败
type ResolutionFailedError struct {
	Address string
	City    string
	Cause   error
}

func (e *ResolutionFailedError) Error() string {
	if e.Cause == nil {
		return fmt.Sprintf("cannot resolve %q: no geocoder result and no fallback entry", e.Address)
	}
	return fmt.Sprintf("cannot resolve %q: %v; no fallback entry for %q", e.Address, e.Cause, e.City)
}

func (e *ResolutionFailedError) Unwrap() error { return e.Cause }

func (e *ResolutionFailedError) Is(target error) bool { return target == ErrResolutionFailed }
