package geo

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"

	"webplanner/internal/proxy/retry"
)

const baiduProvider = "baidu"

// BaiduGeocoder calls the Baidu geocoding v3 API through the retrying
// executor.
type BaiduGeocoder struct {
	endpoint string
	ak       KeyFunc
	executor *retry.Executor
	policy   retry.Policy
}

func NewBaiduGeocoder(endpoint string, ak KeyFunc, executor *retry.Executor, policy retry.Policy) *BaiduGeocoder {
	return &BaiduGeocoder{endpoint: endpoint, ak: ak, executor: executor, policy: policy}
}

func (g *BaiduGeocoder) Name() string { return baiduProvider }

type baiduResponse struct {
	Status  int    `json:"status"`
	Message string `json:"message"`
	Msg     string `json:"msg"`
	Result  struct {
		Location struct {
			Lng float64 `json:"lng"`
			Lat float64 `json:"lat"`
		} `json:"location"`
		Precise    int    `json:"precise"`
		Confidence int    `json:"confidence"`
		Level      string `json:"level"`
	} `json:"result"`
}

func (g *BaiduGeocoder) Geocode(ctx context.Context, address, city string) (GeocodeResult, error) {
	ak := ""
	if g.ak != nil {
		ak = g.ak()
	}
	if ak == "" {
		return GeocodeResult{}, ErrMissingKey
	}

	query := scopedAddress(address, city)
	params := url.Values{}
	params.Set("address", query)
	if city != "" {
		params.Set("city", city)
	}
	params.Set("output", "json")
	params.Set("ak", ak)

	resp, err := g.executor.Execute(ctx, retry.Request{
		Provider: baiduProvider,
		URL:      g.endpoint + "?" + params.Encode(),
	}, g.policy)
	if err != nil {
		return GeocodeResult{}, err
	}

	var body baiduResponse
	if err := json.Unmarshal(resp.Body, &body); err != nil {
		return GeocodeResult{}, fmt.Errorf("decode baidu response: %w", err)
	}
	if body.Status != 0 {
		msg := body.Message
		if msg == "" {
			msg = body.Msg
		}
		return GeocodeResult{}, &ProviderError{Provider: baiduProvider, Status: fmt.Sprint(body.Status), Message: msg}
	}

	p := Point{Longitude: body.Result.Location.Lng, Latitude: body.Result.Location.Lat}
	if !p.Valid() {
		return GeocodeResult{}, ErrNoResult
	}
	// v3 接口不返回规范化地址，沿用查询文本
	return GeocodeResult{Point: p, FormattedAddress: query, City: city}, nil
}
