package navigation

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"net/url"
	"strconv"
	"strings"

	"webplanner/internal/geo"
	"webplanner/internal/proxy/retry"
	"webplanner/internal/utils"
)

// text 高德在字段为空时返回 []，有值时返回字符串
type text string

func (t *text) UnmarshalJSON(b []byte) error {
	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*t = text(s)
		return nil
	}
	*t = ""
	return nil
}

func (t text) int() int {
	f, err := strconv.ParseFloat(strings.TrimSpace(string(t)), 64)
	if err != nil {
		return 0
	}
	return int(math.Round(f))
}

func (t text) float() float64 {
	f, err := strconv.ParseFloat(strings.TrimSpace(string(t)), 64)
	if err != nil {
		return 0
	}
	return f
}

type amapStep struct {
	Instruction     text `json:"instruction"`
	Orientation     text `json:"orientation"`
	Road            text `json:"road"`
	Distance        text `json:"distance"`
	Duration        text `json:"duration"`
	Polyline        text `json:"polyline"`
	Action          text `json:"action"`
	AssistantAction text `json:"assistant_action"`
}

func (s amapStep) step() Step {
	return Step{
		Instruction:     string(s.Instruction),
		Road:            string(s.Road),
		Action:          string(s.Action),
		AssistantAction: string(s.AssistantAction),
		Orientation:     string(s.Orientation),
		Distance:        s.Distance.int(),
		Duration:        s.Duration.int(),
		Polyline:        string(s.Polyline),
	}
}

type amapPath struct {
	Distance      text       `json:"distance"`
	Duration      text       `json:"duration"`
	Tolls         text       `json:"tolls"`
	TollDistance  text       `json:"toll_distance"`
	TrafficLights text       `json:"traffic_lights"`
	Steps         []amapStep `json:"steps"`
}

type amapBusStop struct {
	Name text `json:"name"`
}

type amapBusline struct {
	Name          text        `json:"name"`
	DepartureStop amapBusStop `json:"departure_stop"`
	ArrivalStop   amapBusStop `json:"arrival_stop"`
	Distance      text        `json:"distance"`
	Duration      text        `json:"duration"`
	Polyline      text        `json:"polyline"`
}

type amapSegment struct {
	Walking struct {
		Distance text       `json:"distance"`
		Duration text       `json:"duration"`
		Steps    []amapStep `json:"steps"`
	} `json:"walking"`
	Bus struct {
		Buslines []amapBusline `json:"buslines"`
	} `json:"bus"`
}

type amapTransit struct {
	Cost            text          `json:"cost"`
	Duration        text          `json:"duration"`
	WalkingDistance text          `json:"walking_distance"`
	Distance        text          `json:"distance"`
	Segments        []amapSegment `json:"segments"`
}

type amapDirectionResponse struct {
	Status   string `json:"status"`
	Info     string `json:"info"`
	InfoCode string `json:"infocode"`
	Route    struct {
		Distance text          `json:"distance"`
		Paths    []amapPath    `json:"paths"`
		Transits []amapTransit `json:"transits"`
	} `json:"route"`
}

func point(p geo.Point) string {
	return utils.FormatCoordinate(p.Longitude, p.Latitude)
}

func (c *Client) query(ctx context.Context, key string, req Request) ([]Route, error) {
	params := url.Values{}
	params.Set("key", key)
	params.Set("origin", point(req.Origin))
	params.Set("destination", point(req.Destination))
	params.Set("output", "JSON")

	var endpoint string
	switch req.Mode {
	case Walking:
		endpoint = c.directionURL + "/walking"
	case Transit:
		endpoint = c.directionURL + "/transit/integrated"
		params.Set("city", req.City)
	default:
		endpoint = c.directionURL + "/driving"
		params.Set("extensions", "base")
		if len(req.Waypoints) > 0 {
			wps := make([]string, 0, len(req.Waypoints))
			for _, wp := range req.Waypoints {
				wps = append(wps, point(wp))
			}
			params.Set("waypoints", strings.Join(wps, ";"))
		}
	}

	resp, err := c.executor.Execute(ctx, retry.Request{
		Provider: provider,
		URL:      endpoint + "?" + params.Encode(),
	}, c.policy)
	if err != nil {
		return nil, err
	}

	var body amapDirectionResponse
	if err := json.Unmarshal(resp.Body, &body); err != nil {
		return nil, fmt.Errorf("decode direction response: %w", err)
	}
	if body.Status != "1" {
		return nil, &APIError{Info: body.Info, InfoCode: body.InfoCode}
	}

	var routes []Route
	if req.Mode == Transit {
		routes = transitRoutes(body.Route.Transits)
	} else {
		routes = pathRoutes(req.Mode, body.Route.Paths)
	}
	if len(routes) == 0 {
		return nil, ErrNoRoute
	}
	c.logger.Debug("🧭 [导航] 路径规划成功",
		"mode", req.Mode,
		"routes", len(routes),
		"distance", routes[0].Distance,
		"attempts", len(resp.Attempts))
	return routes, nil
}

func pathRoutes(mode Mode, paths []amapPath) []Route {
	routes := make([]Route, 0, len(paths))
	for _, p := range paths {
		r := Route{
			Mode:          mode,
			Distance:      p.Distance.int(),
			Duration:      p.Duration.int(),
			Tolls:         p.Tolls.float(),
			TollDistance:  p.TollDistance.int(),
			TrafficLights: p.TrafficLights.int(),
			Steps:         make([]Step, 0, len(p.Steps)),
		}
		var line []string
		for _, s := range p.Steps {
			r.Steps = append(r.Steps, s.step())
			if s.Polyline != "" {
				line = append(line, string(s.Polyline))
			}
		}
		r.Polyline = strings.Join(line, ";")
		routes = append(routes, r)
	}
	return routes
}

// transitRoutes 每个方案的步行段与乘车段依次展开为步骤
func transitRoutes(transits []amapTransit) []Route {
	routes := make([]Route, 0, len(transits))
	for _, t := range transits {
		r := Route{
			Mode:         Transit,
			Distance:     t.Distance.int(),
			Duration:     t.Duration.int(),
			Tolls:        t.Cost.float(),
			WalkDistance: t.WalkingDistance.int(),
			Steps:        []Step{},
		}
		for _, seg := range t.Segments {
			if d := seg.Walking.Distance.int(); d > 0 {
				r.Steps = append(r.Steps, Step{
					Instruction: "步行" + utils.FormatDistance(float64(d)),
					Action:      "步行",
					Distance:    d,
					Duration:    seg.Walking.Duration.int(),
				})
			}
			if len(seg.Bus.Buslines) > 0 {
				// 同一段的多条线路互为备选，取第一条
				bl := seg.Bus.Buslines[0]
				r.Steps = append(r.Steps, Step{
					Instruction: fmt.Sprintf("乘坐%s，从%s到%s", bl.Name, bl.DepartureStop.Name, bl.ArrivalStop.Name),
					Road:        string(bl.Name),
					Action:      "乘车",
					Distance:    bl.Distance.int(),
					Duration:    bl.Duration.int(),
					Polyline:    string(bl.Polyline),
				})
			}
		}
		routes = append(routes, r)
	}
	return routes
}
