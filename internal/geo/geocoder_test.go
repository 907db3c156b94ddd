package geo

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"webplanner/internal/proxy/retry"
)

var testPolicy = retry.Policy{MaxAttempts: 2, BaseDelay: 10 * time.Millisecond, MaxDelay: 20 * time.Millisecond, Timeout: time.Second}

func newGeoServer(t *testing.T, handler func(w http.ResponseWriter, q url.Values)) (*httptest.Server, *atomic.Int32) {
	t.Helper()
	var hits atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.Header().Set("Content-Type", "application/json")
		handler(w, r.URL.Query())
	}))
	t.Cleanup(server.Close)
	return server, &hits
}

func testExecutor(server *httptest.Server) *retry.Executor {
	return retry.NewExecutor(server.Client(), retry.WithLogger(quietLogger()))
}

func TestBaiduGeocoder_Success(t *testing.T) {
	var got url.Values
	server, _ := newGeoServer(t, func(w http.ResponseWriter, q url.Values) {
		got = q
		_, _ = w.Write([]byte(`{"status":0,"result":{"location":{"lng":118.8488,"lat":32.0584},"precise":1,"confidence":80,"level":"旅游景点"}}`))
	})
	g := NewBaiduGeocoder(server.URL, StaticKey("test-ak"), testExecutor(server), testPolicy)

	res, err := g.Geocode(context.Background(), "中山陵", "南京市")
	require.NoError(t, err)
	assert.InDelta(t, 118.8488, res.Longitude, 1e-6)
	assert.InDelta(t, 32.0584, res.Latitude, 1e-6)
	assert.Equal(t, "南京市中山陵", res.FormattedAddress)

	assert.Equal(t, "南京市中山陵", got.Get("address"))
	assert.Equal(t, "南京市", got.Get("city"))
	assert.Equal(t, "json", got.Get("output"))
	assert.Equal(t, "test-ak", got.Get("ak"))
}

func TestBaiduGeocoder_ProviderStatus(t *testing.T) {
	server, _ := newGeoServer(t, func(w http.ResponseWriter, q url.Values) {
		_, _ = w.Write([]byte(`{"status":240,"message":"APP 服务被禁用"}`))
	})
	g := NewBaiduGeocoder(server.URL, StaticKey("bad"), testExecutor(server), testPolicy)

	_, err := g.Geocode(context.Background(), "中山陵", "")
	var pe *ProviderError
	require.True(t, errors.As(err, &pe))
	assert.Equal(t, "240", pe.Status)
	assert.Equal(t, "APP 服务被禁用", pe.Message)
}

func TestBaiduGeocoder_MissingKey(t *testing.T) {
	server, hits := newGeoServer(t, func(w http.ResponseWriter, q url.Values) {})
	g := NewBaiduGeocoder(server.URL, StaticKey(""), testExecutor(server), testPolicy)

	_, err := g.Geocode(context.Background(), "中山陵", "")
	assert.ErrorIs(t, err, ErrMissingKey)
	assert.Equal(t, int32(0), hits.Load())
}

func TestBaiduGeocoder_KeyReadPerCall(t *testing.T) {
	var key atomic.Value
	key.Store("first")
	var seen []string
	server, _ := newGeoServer(t, func(w http.ResponseWriter, q url.Values) {
		seen = append(seen, q.Get("ak"))
		_, _ = w.Write([]byte(`{"status":0,"result":{"location":{"lng":118.8,"lat":32.0}}}`))
	})
	g := NewBaiduGeocoder(server.URL, func() string { return key.Load().(string) }, testExecutor(server), testPolicy)

	_, err := g.Geocode(context.Background(), "a", "")
	require.NoError(t, err)
	key.Store("second")
	_, err = g.Geocode(context.Background(), "b", "")
	require.NoError(t, err)
	assert.Equal(t, []string{"first", "second"}, seen)
}

func TestBaiduGeocoder_ServerErrorsExhaustRetries(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	t.Cleanup(server.Close)
	g := NewBaiduGeocoder(server.URL, StaticKey("ak"), testExecutor(server), testPolicy)

	_, err := g.Geocode(context.Background(), "中山陵", "南京")
	assert.True(t, retry.IsExhausted(err))
}

func TestAMapGeocoder_Success(t *testing.T) {
	var got url.Values
	server, _ := newGeoServer(t, func(w http.ResponseWriter, q url.Values) {
		got = q
		_, _ = w.Write([]byte(`{"status":"1","info":"OK","infocode":"10000","count":"1","geocodes":[{"formatted_address":"江苏省南京市玄武区中山陵","city":"南京市","location":"118.848759,32.058392"}]}`))
	})
	g := NewAMapGeocoder(server.URL, StaticKey("amap-key"), testExecutor(server), testPolicy)

	res, err := g.Geocode(context.Background(), "中山陵", "南京")
	require.NoError(t, err)
	assert.InDelta(t, 118.848759, res.Longitude, 1e-6)
	assert.Equal(t, "江苏省南京市玄武区中山陵", res.FormattedAddress)
	assert.Equal(t, "南京市", res.City)
	assert.Equal(t, "amap-key", got.Get("key"))
	assert.Equal(t, "南京中山陵", got.Get("address"))
	assert.Equal(t, "南京", got.Get("city"))
}

func TestBaiduGeocoder_AddressAlreadyNamesCity(t *testing.T) {
	var got url.Values
	server, _ := newGeoServer(t, func(w http.ResponseWriter, q url.Values) {
		got = q
		_, _ = w.Write([]byte(`{"status":0,"result":{"location":{"lng":118.7969,"lat":32.0603}}}`))
	})
	g := NewBaiduGeocoder(server.URL, StaticKey("test-ak"), testExecutor(server), testPolicy)

	res, err := g.Geocode(context.Background(), "南京夫子庙", "南京市")
	require.NoError(t, err)
	assert.Equal(t, "南京夫子庙", got.Get("address"))
	assert.Equal(t, "南京市", got.Get("city"))
	assert.Equal(t, "南京夫子庙", res.FormattedAddress)

	// 无城市范围时原样发送
	_, err = g.Geocode(context.Background(), "夫子庙", "")
	require.NoError(t, err)
	assert.Equal(t, "夫子庙", got.Get("address"))
	assert.Empty(t, got.Get("city"))
}

func TestScopedAddress(t *testing.T) {
	assert.Equal(t, "南京市中山陵", scopedAddress("中山陵", "南京市"))
	assert.Equal(t, "南京中山陵", scopedAddress("南京中山陵", "南京市"))
	assert.Equal(t, "杭州西湖", scopedAddress("西湖", "杭州"))
	assert.Equal(t, "西湖", scopedAddress("西湖", ""))
}

func TestAMapGeocoder_EmptyCityArray(t *testing.T) {
	server, _ := newGeoServer(t, func(w http.ResponseWriter, q url.Values) {
		_, _ = w.Write([]byte(`{"status":"1","info":"OK","geocodes":[{"formatted_address":"北京市","city":[],"location":"116.407,39.904"}]}`))
	})
	g := NewAMapGeocoder(server.URL, StaticKey("k"), testExecutor(server), testPolicy)

	res, err := g.Geocode(context.Background(), "北京", "北京")
	require.NoError(t, err)
	assert.Equal(t, "北京", res.City)
}

func TestAMapGeocoder_Failures(t *testing.T) {
	tests := []struct {
		name  string
		body  string
		check func(t *testing.T, err error)
	}{
		{
			name: "无效密钥",
			body: `{"status":"0","info":"INVALID_USER_KEY","infocode":"10001"}`,
			check: func(t *testing.T, err error) {
				var pe *ProviderError
				require.True(t, errors.As(err, &pe))
				assert.Equal(t, "10001", pe.Status)
			},
		},
		{
			name:  "无结果",
			body:  `{"status":"1","info":"OK","count":"0","geocodes":[]}`,
			check: func(t *testing.T, err error) { assert.ErrorIs(t, err, ErrNoResult) },
		},
		{
			name:  "坐标格式错误",
			body:  `{"status":"1","geocodes":[{"location":"bad"}]}`,
			check: func(t *testing.T, err error) { assert.Error(t, err) },
		},
		{
			name:  "零坐标",
			body:  `{"status":"1","geocodes":[{"location":"0,0"}]}`,
			check: func(t *testing.T, err error) { assert.ErrorIs(t, err, ErrNoResult) },
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server, _ := newGeoServer(t, func(w http.ResponseWriter, q url.Values) {
				_, _ = w.Write([]byte(tt.body))
			})
			g := NewAMapGeocoder(server.URL, StaticKey("k"), testExecutor(server), testPolicy)
			_, err := g.Geocode(context.Background(), "某地", "")
			tt.check(t, err)
		})
	}
}

func TestAMapGeocoder_UnauthorizedIsTerminal(t *testing.T) {
	server, hits := newGeoServer(t, func(w http.ResponseWriter, q url.Values) {
		w.WriteHeader(http.StatusForbidden)
		_, _ = w.Write([]byte(`{"info":"forbidden"}`))
	})
	g := NewAMapGeocoder(server.URL, StaticKey("k"), testExecutor(server), testPolicy)

	_, err := g.Geocode(context.Background(), "中山陵", "南京")
	assert.True(t, retry.IsTerminal(err))
	assert.Equal(t, int32(1), hits.Load())
}

func TestResolverOverBaidu_FallsBackOnOutage(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	t.Cleanup(server.Close)
	g := NewBaiduGeocoder(server.URL, StaticKey("ak"), testExecutor(server), testPolicy)
	r := NewResolver(g, WithResolverLogger(quietLogger()))

	loc, err := r.Resolve(context.Background(), "中山陵", "南京市")
	require.NoError(t, err)
	assert.True(t, loc.Approximate)
	assert.Equal(t, SourceFallback, loc.Source)
}
