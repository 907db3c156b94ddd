package geo

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"webplanner/internal/proxy/retry"
)

const amapProvider = "amap"

// AMapGeocoder 高德地理编码
type AMapGeocoder struct {
	endpoint string
	key      KeyFunc
	executor *retry.Executor
	policy   retry.Policy
}

func NewAMapGeocoder(endpoint string, key KeyFunc, executor *retry.Executor, policy retry.Policy) *AMapGeocoder {
	return &AMapGeocoder{endpoint: endpoint, key: key, executor: executor, policy: policy}
}

func (g *AMapGeocoder) Name() string { return amapProvider }

type amapGeocodeResponse struct {
	Status   string `json:"status"`
	Info     string `json:"info"`
	InfoCode string `json:"infocode"`
	Count    string `json:"count"`
	Geocodes []struct {
		FormattedAddress string          `json:"formatted_address"`
		City             json.RawMessage `json:"city"`
		Location         string          `json:"location"`
	} `json:"geocodes"`
}

func (g *AMapGeocoder) Geocode(ctx context.Context, address, city string) (GeocodeResult, error) {
	key := ""
	if g.key != nil {
		key = g.key()
	}
	if key == "" {
		return GeocodeResult{}, ErrMissingKey
	}

	params := url.Values{}
	params.Set("address", scopedAddress(address, city))
	if city != "" {
		params.Set("city", city)
	}
	params.Set("key", key)

	resp, err := g.executor.Execute(ctx, retry.Request{
		Provider: amapProvider,
		URL:      g.endpoint + "?" + params.Encode(),
	}, g.policy)
	if err != nil {
		return GeocodeResult{}, err
	}

	var body amapGeocodeResponse
	if err := json.Unmarshal(resp.Body, &body); err != nil {
		return GeocodeResult{}, fmt.Errorf("decode amap response: %w", err)
	}
	if body.Status != "1" {
		return GeocodeResult{}, &ProviderError{Provider: amapProvider, Status: body.InfoCode, Message: body.Info}
	}
	if len(body.Geocodes) == 0 {
		return GeocodeResult{}, ErrNoResult
	}

	first := body.Geocodes[0]
	p, err := ParseLocation(first.Location)
	if err != nil {
		return GeocodeResult{}, err
	}
	if !p.Valid() {
		return GeocodeResult{}, ErrNoResult
	}
	return GeocodeResult{Point: p, FormattedAddress: first.FormattedAddress, City: amapCity(first.City, city)}, nil
}

// 高德在无城市时返回空数组 []，有城市时返回字符串
func amapCity(raw json.RawMessage, fallback string) string {
	var s string
	if err := json.Unmarshal(raw, &s); err == nil && s != "" {
		return s
	}
	return fallback
}

// ParseLocation parses the "lng,lat" form used by AMap.
func ParseLocation(s string) (Point, error) {
	lngStr, latStr, ok := strings.Cut(strings.TrimSpace(s), ",")
	if !ok {
		return Point{}, fmt.Errorf("invalid location %q", s)
	}
	lng, err := strconv.ParseFloat(strings.TrimSpace(lngStr), 64)
	if err != nil {
		return Point{}, fmt.Errorf("invalid longitude in %q: %w", s, err)
	}
	lat, err := strconv.ParseFloat(strings.TrimSpace(latStr), 64)
	if err != nil {
		return Point{}, fmt.Errorf("invalid latitude in %q: %w", s, err)
	}
	return Point{Longitude: lng, Latitude: lat}, nil
}
