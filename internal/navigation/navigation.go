// Package navigation plans driving, walking and transit routes through the
// AMap direction API and derives per-leg distances for a trip's itinerary.
// When the provider cannot answer, a straight-line estimate is returned
// instead, flagged as Fallback.
package navigation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"webplanner/config"
	"webplanner/internal/geo"
	"webplanner/internal/proxy/retry"
)

const provider = "amap_direction"

var (
	ErrMissingKey  = errors.New("navigation API key not configured")
	ErrInvalidMode = errors.New("不支持的交通方式")
	ErrNoRoute     = errors.New("未找到路径")
	ErrBadPoint    = errors.New("起点或终点坐标无效")
	ErrNoCity      = errors.New("公交规划需要指定城市")
)

// Mode 交通方式
type Mode string

const (
	Driving Mode = "driving"
	Walking Mode = "walking"
	Transit Mode = "transit"
)

// ParseMode accepts the mode names case-insensitively; empty means def.
func ParseMode(s string, def Mode) (Mode, error) {
	switch Mode(strings.ToLower(strings.TrimSpace(s))) {
	case "":
		return def, nil
	case Driving:
		return Driving, nil
	case Walking:
		return Walking, nil
	case Transit, "bus":
		return Transit, nil
	default:
		return "", fmt.Errorf("%w: %s", ErrInvalidMode, s)
	}
}

// APIError AMap 返回 status != "1"
type APIError struct {
	Info     string
	InfoCode string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("路径规划API错误: %s (%s)", e.Info, e.InfoCode)
}

// Step 路线中的一段
type Step struct {
	Instruction     string `json:"instruction"`
	Road            string `json:"road,omitempty"`
	Action          string `json:"action,omitempty"`
	AssistantAction string `json:"assistant_action,omitempty"`
	Orientation     string `json:"orientation,omitempty"`
	Distance        int    `json:"distance"` // 米
	Duration        int    `json:"duration"` // 秒
	Polyline        string `json:"polyline,omitempty"`
}

// Route 一条候选路线，距离单位米，时间单位秒
type Route struct {
	Mode          Mode    `json:"type"`
	Distance      int     `json:"distance"`
	Duration      int     `json:"duration"`
	Tolls         float64 `json:"tolls"` // 公交方案为票价
	TollDistance  int     `json:"toll_distance"`
	TrafficLights int     `json:"traffic_lights"`
	WalkDistance  int     `json:"walking_distance,omitempty"`
	Steps         []Step  `json:"steps"`
	Polyline      string  `json:"polyline,omitempty"`
	Fallback      bool    `json:"fallback,omitempty"`
}

// Request 一次路径规划
type Request struct {
	Origin      geo.Point
	Destination geo.Point
	Mode        Mode
	City        string      // 公交规划必需，可为城市名或 adcode
	Waypoints   []geo.Point // 仅驾车使用
}

// Plan 规划结果。Fallback 为 true 时 Routes 为直线估算，Reason 记录原因
type Plan struct {
	Mode     Mode    `json:"mode"`
	Routes   []Route `json:"routes"`
	Fallback bool    `json:"fallback"`
	Reason   string  `json:"reason,omitempty"`
}

// Summary 两点间的距离与时间
type Summary struct {
	Distance int     `json:"distance"`
	Duration int     `json:"duration"`
	Tolls    float64 `json:"tolls"`
	Steps    int     `json:"steps"`
	Fallback bool    `json:"fallback,omitempty"`
}

// Client AMap 路径规划客户端
type Client struct {
	directionURL string
	key          func() string
	executor     *retry.Executor
	policy       retry.Policy
	fallback     bool
	concurrency  int
	logger       *slog.Logger
}

type Option func(*Client)

// WithFallback controls whether provider failures produce an estimate.
func WithFallback(enabled bool) Option {
	return func(c *Client) { c.fallback = enabled }
}

// WithConcurrency bounds parallel legs in ItineraryDistances.
func WithConcurrency(n int) Option {
	return func(c *Client) {
		if n > 0 {
			c.concurrency = n
		}
	}
}

func WithLogger(l *slog.Logger) Option {
	return func(c *Client) { c.logger = l }
}

func NewClient(cfg config.AMapConfig, key func() string, executor *retry.Executor, policy retry.Policy, opts ...Option) *Client {
	c := &Client{
		directionURL: strings.TrimRight(cfg.DirectionURL, "/"),
		key:          key,
		executor:     executor,
		policy:       policy,
		fallback:     true,
		concurrency:  3,
		logger:       slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Client) apiKey() (string, error) {
	if c.key == nil {
		return "", ErrMissingKey
	}
	k := strings.TrimSpace(c.key())
	if k == "" {
		return "", ErrMissingKey
	}
	return k, nil
}

// Plan asks the provider for routes. Missing keys, bad input, rejected
// credentials and cancellation are returned as errors; any other provider
// failure yields an estimated plan when fallback is enabled.
func (c *Client) Plan(ctx context.Context, req Request) (*Plan, error) {
	mode, err := ParseMode(string(req.Mode), Driving)
	if err != nil {
		return nil, err
	}
	req.Mode = mode
	if !req.Origin.Valid() || !req.Destination.Valid() {
		return nil, ErrBadPoint
	}
	if req.Mode == Transit && strings.TrimSpace(req.City) == "" {
		return nil, ErrNoCity
	}
	key, err := c.apiKey()
	if err != nil {
		return nil, err
	}

	routes, err := c.query(ctx, key, req)
	if err == nil {
		return &Plan{Mode: req.Mode, Routes: routes}, nil
	}
	if !c.fallback || !recoverable(ctx, err) {
		return nil, err
	}

	c.logger.Warn("⚠️ [导航] 路径规划失败，使用直线估算",
		"mode", req.Mode,
		"origin", req.Origin,
		"destination", req.Destination,
		"error", err)
	return &Plan{
		Mode:     req.Mode,
		Routes:   []Route{EstimateRoute(req.Origin, req.Destination, req.Mode)},
		Fallback: true,
		Reason:   err.Error(),
	}, nil
}

// DistanceAndTime summarises the first route between two points.
func (c *Client) DistanceAndTime(ctx context.Context, req Request) (*Summary, error) {
	plan, err := c.Plan(ctx, req)
	if err != nil {
		return nil, err
	}
	if len(plan.Routes) == 0 {
		return nil, ErrNoRoute
	}
	r := plan.Routes[0]
	return &Summary{
		Distance: r.Distance,
		Duration: r.Duration,
		Tolls:    r.Tolls,
		Steps:    len(r.Steps),
		Fallback: plan.Fallback,
	}, nil
}

// recoverable 配置或调用方问题不做降级
func recoverable(ctx context.Context, err error) bool {
	var te *retry.TerminalError
	switch {
	case ctx.Err() != nil, retry.IsCancelled(err):
		return false
	case errors.As(err, &te) && te.IsAuth():
		return false
	default:
		return true
	}
}
