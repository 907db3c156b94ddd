package weather

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"webplanner/config"
	"webplanner/internal/proxy/retry"
)

const liveNanjing = `{"status":"1","count":"1","info":"OK","infocode":"10000","lives":[{"province":"江苏","city":"南京市","adcode":"320100","weather":"多云","temperature":"23","winddirection":"东","windpower":"≤3","humidity":"65","reporttime":"2025-10-01 10:00:00"}]}`

func newTestClient(t *testing.T, handler func(w http.ResponseWriter, r *http.Request)) *Client {
	t.Helper()
	server := httptest.NewServer(http.HandlerFunc(handler))
	t.Cleanup(server.Close)

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	exec := retry.NewExecutor(server.Client(), retry.WithLogger(logger))
	cfg := config.AMapConfig{WeatherURL: server.URL + "/weather", RegeoURL: server.URL + "/regeo"}
	policy := retry.Policy{MaxAttempts: 2, BaseDelay: 5 * time.Millisecond, MaxDelay: 10 * time.Millisecond, Timeout: time.Second}
	c := NewClient(cfg, func() string { return "amap-key" }, exec, policy)
	c.logger = logger
	return c
}

func TestCleanCityName(t *testing.T) {
	tests := map[string]string{
		"江苏南京":   "南京",
		"南京。":    "南京",
		"  北京  ": "北京市",
		"上海!":    "上海市",
		"杭州":     "杭州",
		"":       "",
	}
	for in, want := range tests {
		assert.Equal(t, want, CleanCityName(in), in)
	}
}

func TestByCity(t *testing.T) {
	var got url.Values
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/weather", r.URL.Path)
		got = r.URL.Query()
		_, _ = io.WriteString(w, liveNanjing)
	})

	report, err := c.ByCity(context.Background(), "江苏南京", Live)
	require.NoError(t, err)
	require.Len(t, report.Lives, 1)
	assert.Equal(t, "南京市", report.Lives[0].City)

	assert.Equal(t, "南京", got.Get("city"))
	assert.Equal(t, "base", got.Get("extensions"))
	assert.Equal(t, "amap-key", got.Get("key"))
	assert.Equal(t, "JSON", got.Get("output"))
}

func TestByCity_APIError(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, `{"status":"0","info":"INVALID_USER_KEY","infocode":"10001"}`)
	})

	_, err := c.ByCity(context.Background(), "南京", Forecast)
	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, "10001", apiErr.InfoCode)
}

func TestByCity_MissingKeyAndCity(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		t.Error("no request expected")
	})

	_, err := c.ByCity(context.Background(), " 。", Live)
	assert.ErrorIs(t, err, ErrNoLocation)

	c.key = func() string { return "" }
	_, err = c.ByCity(context.Background(), "南京", Live)
	assert.ErrorIs(t, err, ErrMissingKey)
}

func TestByLocation_UsesRegeoAdcode(t *testing.T) {
	var weatherCity string
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/regeo":
			assert.Equal(t, "118.796877,32.060255", r.URL.Query().Get("location"))
			_, _ = io.WriteString(w, `{"status":"1","info":"OK","regeocode":{"addressComponent":{"adcode":"320102"}}}`)
		case "/weather":
			weatherCity = r.URL.Query().Get("city")
			_, _ = io.WriteString(w, liveNanjing)
		}
	})

	report, err := c.ByLocation(context.Background(), 118.796877, 32.060255, Live)
	require.NoError(t, err)
	assert.Equal(t, "320102", weatherCity)
	assert.Len(t, report.Lives, 1)
}

func TestByLocation_NoAdcode(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, `{"status":"1","regeocode":{"addressComponent":{"adcode":[]}}}`)
	})

	_, err := c.ByLocation(context.Background(), 0.1, 0.1, Live)
	assert.ErrorIs(t, err, ErrNoLocation)
}

func TestTripWeather_PerPlaceErrors(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("city") == "火星" {
			_, _ = io.WriteString(w, `{"status":"0","info":"INVALID_PARAMS","infocode":"20000"}`)
			return
		}
		_, _ = io.WriteString(w, liveNanjing)
	})

	results := c.TripWeather(context.Background(), []Place{
		{Name: "南京", City: "南京"},
		{City: "火星"},
		{Name: "无位置"},
		{},
	}, Live)

	require.Len(t, results, 4)
	assert.Equal(t, "南京", results[0].Location)
	require.NotNil(t, results[0].Live)
	assert.Equal(t, "多云", results[0].Live.Weather)
	assert.Empty(t, results[0].Error)

	assert.Equal(t, "火星", results[1].Location)
	assert.Contains(t, results[1].Error, "INVALID_PARAMS")

	assert.Equal(t, "无位置", results[2].Location)
	assert.Equal(t, ErrNoLocation.Error(), results[2].Error)
	assert.Equal(t, "未知地点", results[3].Location)
}

func TestFormat(t *testing.T) {
	d, err := Format(&Report{Lives: []LiveWeather{{City: "南京市", Weather: "多云", Temperature: "23", WindDirection: "东", WindPower: "≤3", Humidity: "65"}}})
	require.NoError(t, err)
	assert.Equal(t, "南京市", d.City)
	assert.Equal(t, "⛅", d.Icon)
	assert.Equal(t, "23°C", d.Temperature)
	assert.Equal(t, "东风 ≤3级", d.Wind)
	assert.Equal(t, "65%", d.Humidity)
	assert.Equal(t, "未知时间", d.ReportTime)

	_, err = Format(&Report{})
	assert.ErrorIs(t, err, ErrNoWeather)
	_, err = Format(nil)
	assert.ErrorIs(t, err, ErrNoWeather)
}

func TestIcon(t *testing.T) {
	assert.Equal(t, "☀️", Icon("晴"))
	assert.Equal(t, "🌤️", Icon("冰雹"))
}
