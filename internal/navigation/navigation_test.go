package navigation

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"webplanner/config"
	"webplanner/internal/geo"
	"webplanner/internal/proxy/retry"
	"webplanner/internal/storage"
)

const drivingOK = `{"status":"1","info":"OK","infocode":"10000","count":"1","route":{"origin":"118.848759,32.058392","destination":"118.796900,32.060300","paths":[{"distance":"6120","duration":"1080","strategy":"速度最快","tolls":"0","toll_distance":"0","restriction":"0","traffic_lights":"9","steps":[{"instruction":"向西行驶1200米右转","orientation":"西","road":"陵园路","distance":"1200","duration":"240","polyline":"118.848,32.058;118.836,32.058","action":"右转","assistant_action":[]},{"instruction":"沿中山东路行驶4920米到达目的地","orientation":"西","road":[],"distance":"4920","duration":"840","polyline":"118.836,32.058;118.797,32.060","action":[],"assistant_action":"到达目的地"}]}]}}`

const walkingOK = `{"status":"1","info":"OK","infocode":"10000","count":"1","route":{"paths":[{"distance":"850","duration":"680","steps":[{"instruction":"步行850米到达","road":"贡院街","distance":"850","duration":"680","action":[],"assistant_action":[]}]}]}}`

const transitOK = `{"status":"1","info":"OK","infocode":"10000","count":"1","route":{"distance":"6300","transits":[{"cost":"2","duration":"1900","walking_distance":"700","distance":"6300","segments":[{"walking":{"distance":"300","duration":"240","steps":[]},"bus":{"buslines":[{"name":"地铁2号线(油坊桥--经天路)","departure_stop":{"name":"下马坊"},"arrival_stop":{"name":"大行宫"},"distance":"5600","duration":"1200","polyline":"118.83,32.04;118.79,32.04"}]}},{"walking":{"distance":"400","duration":"300","steps":[]},"bus":{"buslines":[]}}]}]}}`

var (
	zhongshanling = geo.Point{Longitude: 118.848759, Latitude: 32.058392}
	fuzimiao      = geo.Point{Longitude: 118.7969, Latitude: 32.0603}
	quiet         = slog.New(slog.NewTextHandler(io.Discard, nil))
)

func newTestClient(t *testing.T, handler http.HandlerFunc, opts ...Option) *Client {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	exec := retry.NewExecutor(server.Client(), retry.WithLogger(quiet))
	policy := retry.Policy{MaxAttempts: 2, BaseDelay: 5 * time.Millisecond, MaxDelay: 10 * time.Millisecond, Timeout: time.Second}
	opts = append([]Option{WithLogger(quiet)}, opts...)
	return NewClient(config.AMapConfig{DirectionURL: server.URL + "/v3/direction/"},
		func() string { return "amap-key" }, exec, policy, opts...)
}

func TestParseMode(t *testing.T) {
	m, err := ParseMode("", Walking)
	require.NoError(t, err)
	assert.Equal(t, Walking, m)

	m, err = ParseMode(" Transit ", Driving)
	require.NoError(t, err)
	assert.Equal(t, Transit, m)

	m, err = ParseMode("bus", Driving)
	require.NoError(t, err)
	assert.Equal(t, Transit, m)

	_, err = ParseMode("flying", Driving)
	assert.ErrorIs(t, err, ErrInvalidMode)
}

func TestPlan_Driving(t *testing.T) {
	var path, query string
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		path, query = r.URL.Path, r.URL.RawQuery
		_, _ = w.Write([]byte(drivingOK))
	})

	plan, err := c.Plan(context.Background(), Request{
		Origin:      zhongshanling,
		Destination: fuzimiao,
		Waypoints:   []geo.Point{{Longitude: 118.82, Latitude: 32.05}},
	})
	require.NoError(t, err)
	assert.Equal(t, "/v3/direction/driving", path)
	assert.Contains(t, query, "origin=118.848759%2C32.058392")
	assert.Contains(t, query, "waypoints=118.820000%2C32.050000")
	assert.Contains(t, query, "key=amap-key")

	assert.False(t, plan.Fallback)
	assert.Equal(t, Driving, plan.Mode)
	require.Len(t, plan.Routes, 1)
	r := plan.Routes[0]
	assert.Equal(t, 6120, r.Distance)
	assert.Equal(t, 1080, r.Duration)
	assert.Equal(t, 9, r.TrafficLights)
	require.Len(t, r.Steps, 2)
	assert.Equal(t, "陵园路", r.Steps[0].Road)
	assert.Empty(t, r.Steps[0].AssistantAction)
	assert.Empty(t, r.Steps[1].Road)
	assert.Equal(t, "118.848,32.058;118.836,32.058;118.836,32.058;118.797,32.060", r.Polyline)
}

func TestPlan_Walking(t *testing.T) {
	var path string
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		path = r.URL.Path
		_, _ = w.Write([]byte(walkingOK))
	})

	sum, err := c.DistanceAndTime(context.Background(), Request{Origin: zhongshanling, Destination: fuzimiao, Mode: Walking})
	require.NoError(t, err)
	assert.Equal(t, "/v3/direction/walking", path)
	assert.Equal(t, &Summary{Distance: 850, Duration: 680, Steps: 1}, sum)
}

func TestPlan_Transit(t *testing.T) {
	var city string
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v3/direction/transit/integrated", r.URL.Path)
		city = r.URL.Query().Get("city")
		_, _ = w.Write([]byte(transitOK))
	})

	_, err := c.Plan(context.Background(), Request{Origin: zhongshanling, Destination: fuzimiao, Mode: Transit})
	assert.ErrorIs(t, err, ErrNoCity)

	plan, err := c.Plan(context.Background(), Request{Origin: zhongshanling, Destination: fuzimiao, Mode: "bus", City: "南京"})
	require.NoError(t, err)
	assert.Equal(t, "南京", city)
	assert.Equal(t, Transit, plan.Mode)
	require.Len(t, plan.Routes, 1)
	r := plan.Routes[0]
	assert.Equal(t, 1900, r.Duration)
	assert.Equal(t, 700, r.WalkDistance)
	assert.Equal(t, 2.0, r.Tolls)
	require.Len(t, r.Steps, 3)
	assert.Equal(t, "步行300米", r.Steps[0].Instruction)
	assert.Equal(t, "乘坐地铁2号线(油坊桥--经天路)，从下马坊到大行宫", r.Steps[1].Instruction)
	assert.Equal(t, "步行400米", r.Steps[2].Instruction)
}

func TestPlan_InputErrors(t *testing.T) {
	var hits atomic.Int32
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		_, _ = w.Write([]byte(drivingOK))
	})

	_, err := c.Plan(context.Background(), Request{Origin: geo.Point{}, Destination: fuzimiao})
	assert.ErrorIs(t, err, ErrBadPoint)
	_, err = c.Plan(context.Background(), Request{Origin: zhongshanling, Destination: fuzimiao, Mode: "flying"})
	assert.ErrorIs(t, err, ErrInvalidMode)

	c.key = func() string { return " " }
	_, err = c.Plan(context.Background(), Request{Origin: zhongshanling, Destination: fuzimiao})
	assert.ErrorIs(t, err, ErrMissingKey)
	assert.Equal(t, int32(0), hits.Load())
}

func TestPlan_FallbackOnProviderFailure(t *testing.T) {
	var hits atomic.Int32
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusBadGateway)
	})

	plan, err := c.Plan(context.Background(), Request{Origin: zhongshanling, Destination: fuzimiao})
	require.NoError(t, err)
	assert.Equal(t, int32(2), hits.Load())
	assert.True(t, plan.Fallback)
	assert.NotEmpty(t, plan.Reason)
	require.Len(t, plan.Routes, 1)
	assert.True(t, plan.Routes[0].Fallback)
	assert.Equal(t, EstimateRoute(zhongshanling, fuzimiao, Driving), plan.Routes[0])
}

func TestPlan_FallbackOnAPIStatus(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"status":"0","info":"OVER_DIRECTION_RANGE","infocode":"20803"}`))
	})
	plan, err := c.Plan(context.Background(), Request{Origin: zhongshanling, Destination: fuzimiao, Mode: Walking})
	require.NoError(t, err)
	assert.True(t, plan.Fallback)
	assert.Contains(t, plan.Reason, "OVER_DIRECTION_RANGE")

	strict := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"status":"0","info":"OVER_DIRECTION_RANGE","infocode":"20803"}`))
	}, WithFallback(false))
	_, err = strict.Plan(context.Background(), Request{Origin: zhongshanling, Destination: fuzimiao, Mode: Walking})
	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, "20803", apiErr.InfoCode)
}

func TestPlan_AuthFailureIsNotHidden(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	})
	_, err := c.Plan(context.Background(), Request{Origin: zhongshanling, Destination: fuzimiao})
	var te *retry.TerminalError
	require.True(t, errors.As(err, &te))
	assert.True(t, te.IsAuth())
}

func TestPlan_CancelledIsNotHidden(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(drivingOK))
	})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := c.Plan(ctx, Request{Origin: zhongshanling, Destination: fuzimiao})
	assert.True(t, retry.IsCancelled(err))
}

func TestHaversineAndEstimate(t *testing.T) {
	d := Haversine(zhongshanling, fuzimiao)
	assert.InDelta(t, 4880, d, 60)
	assert.Zero(t, Haversine(fuzimiao, fuzimiao))

	drive := EstimateRoute(zhongshanling, fuzimiao, Driving)
	walk := EstimateRoute(zhongshanling, fuzimiao, Walking)
	assert.Greater(t, drive.Distance, int(d))
	assert.Greater(t, walk.Duration, drive.Duration)
	assert.True(t, drive.Fallback)
	require.Len(t, drive.Steps, 1)

	same := EstimateRoute(fuzimiao, fuzimiao, Walking)
	assert.Zero(t, same.Distance)
	assert.Zero(t, same.Duration)
}

func TestItineraryDistances(t *testing.T) {
	var (
		mu      sync.Mutex
		origins []string
	)
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		origin := r.URL.Query().Get("origin")
		mu.Lock()
		origins = append(origins, origin)
		mu.Unlock()
		// 从夫子庙出发的一段返回错误
		if strings.HasPrefix(origin, "118.796900") {
			_, _ = w.Write([]byte(`{"status":"0","info":"INVALID_PARAMS","infocode":"20000"}`))
			return
		}
		_, _ = w.Write([]byte(walkingOK))
	}, WithFallback(false), WithConcurrency(2))

	items := []storage.ItineraryItem{
		{ID: "a", Day: 1, Title: "中山陵", Coordinates: &storage.Coordinates{Longitude: zhongshanling.Longitude, Latitude: zhongshanling.Latitude}},
		{ID: "x", Day: 1, Title: "未定位"},
		{ID: "b", Day: 1, Title: "夫子庙", Coordinates: &storage.Coordinates{Longitude: fuzimiao.Longitude, Latitude: fuzimiao.Latitude}},
		{ID: "c", Day: 2, Title: "玄武湖", Coordinates: &storage.Coordinates{Longitude: 118.7947, Latitude: 32.0731}},
	}

	legs, err := c.ItineraryDistances(context.Background(), items, Walking, "南京")
	require.NoError(t, err)
	require.Len(t, legs, 2)
	assert.Len(t, origins, 2)

	assert.Equal(t, "a", legs[0].FromID)
	assert.Equal(t, "b", legs[0].ToID)
	assert.Equal(t, 850, legs[0].Distance)
	assert.Empty(t, legs[0].Error)

	assert.Equal(t, "夫子庙", legs[1].From)
	assert.Equal(t, "玄武湖", legs[1].To)
	assert.Contains(t, legs[1].Error, "INVALID_PARAMS")

	advice := BuildAdvice(legs)
	require.Len(t, advice, 1)
	assert.Equal(t, "从 中山陵 到 夫子庙: 850米，约12分钟", advice[0].Summary)
}

func TestItineraryDistances_TooFewStops(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		t.Error("no request expected")
	})
	legs, err := c.ItineraryDistances(context.Background(), []storage.ItineraryItem{{ID: "a", Title: "x"}}, Driving, "")
	require.NoError(t, err)
	assert.Empty(t, legs)
	assert.NotNil(t, legs)
}

func TestBuildAdvice_MarksEstimates(t *testing.T) {
	advice := BuildAdvice([]Leg{
		{From: "A", To: "B", Distance: 12345, Duration: 1500, Fallback: true},
		{From: "B", To: "C", Error: "boom"},
	})
	require.Len(t, advice, 1)
	assert.Equal(t, "从 A 到 B: 12.3公里，约25分钟（估算）", advice[0].Summary)
}
