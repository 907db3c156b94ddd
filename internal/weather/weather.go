// Package weather queries AMap live weather and forecasts for trip
// destinations.
package weather

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"regexp"
	"strings"

	"golang.org/x/sync/errgroup"

	"webplanner/config"
	"webplanner/internal/proxy/retry"
)

const provider = "amap_weather"

var (
	ErrMissingKey  = errors.New("weather API key not configured")
	ErrNoLocation  = errors.New("缺少位置信息")
	ErrNoWeather   = errors.New("weather data is empty")
	trailingPunct  = regexp.MustCompile(`[。，、！？；：,.!?;:]+$`)
	cityNameByText = map[string]string{
		"江苏南京":  "南京",
		"江苏苏州":  "苏州",
		"江苏无锡":  "无锡",
		"江苏常州":  "常州",
		"江苏镇江":  "镇江",
		"江苏扬州":  "扬州",
		"江苏南通":  "南通",
		"江苏泰州":  "泰州",
		"江苏盐城":  "盐城",
		"江苏淮安":  "淮安",
		"江苏连云港": "连云港",
		"江苏宿迁":  "宿迁",
		"江苏徐州":  "徐州",
		"北京":    "北京市",
		"上海":    "上海市",
		"天津":    "天津市",
		"重庆":    "重庆市",
	}
)

// Extensions 选择实况(base)或预报(all)
type Extensions string

const (
	Live     Extensions = "base"
	Forecast Extensions = "all"
)

// LiveWeather 实况天气
type LiveWeather struct {
	Province      string `json:"province"`
	City          string `json:"city"`
	Adcode        string `json:"adcode"`
	Weather       string `json:"weather"`
	Temperature   string `json:"temperature"`
	WindDirection string `json:"winddirection"`
	WindPower     string `json:"windpower"`
	Humidity      string `json:"humidity"`
	ReportTime    string `json:"reporttime"`
}

// Cast 单日预报
type Cast struct {
	Date         string `json:"date"`
	Week         string `json:"week"`
	DayWeather   string `json:"dayweather"`
	NightWeather string `json:"nightweather"`
	DayTemp      string `json:"daytemp"`
	NightTemp    string `json:"nighttemp"`
	DayWind      string `json:"daywind"`
	NightWind    string `json:"nightwind"`
	DayPower     string `json:"daypower"`
	NightPower   string `json:"nightpower"`
}

type ForecastWeather struct {
	Province   string `json:"province"`
	City       string `json:"city"`
	Adcode     string `json:"adcode"`
	ReportTime string `json:"reporttime"`
	Casts      []Cast `json:"casts"`
}

// Report is the decoded weatherInfo response.
type Report struct {
	Status    string            `json:"status"`
	Info      string            `json:"info"`
	InfoCode  string            `json:"infocode"`
	Lives     []LiveWeather     `json:"lives,omitempty"`
	Forecasts []ForecastWeather `json:"forecasts,omitempty"`
}

// APIError AMap 返回 status != "1"
type APIError struct {
	Info     string
	InfoCode string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("天气API错误: %s (%s)", e.Info, e.InfoCode)
}

// CleanCityName trims trailing punctuation and maps common spellings to the
// names AMap expects.
func CleanCityName(city string) string {
	cleaned := strings.TrimSpace(trailingPunct.ReplaceAllString(strings.TrimSpace(city), ""))
	if mapped, ok := cityNameByText[cleaned]; ok {
		return mapped
	}
	return cleaned
}

// Client AMap 天气客户端
type Client struct {
	weatherURL string
	regeoURL   string
	key        func() string
	executor   *retry.Executor
	policy     retry.Policy
	logger     *slog.Logger
}

func NewClient(cfg config.AMapConfig, key func() string, executor *retry.Executor, policy retry.Policy) *Client {
	return &Client{
		weatherURL: cfg.WeatherURL,
		regeoURL:   cfg.RegeoURL,
		key:        key,
		executor:   executor,
		policy:     policy,
		logger:     slog.Default(),
	}
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

// ByCity queries weather for a city name or adcode.
func (c *Client) ByCity(ctx context.Context, city string, ext Extensions) (*Report, error) {
	key, err := c.apiKey()
	if err != nil {
		return nil, err
	}
	cleaned := CleanCityName(city)
	if cleaned == "" {
		return nil, ErrNoLocation
	}
	if ext == "" {
		ext = Live
	}

	params := url.Values{}
	params.Set("key", key)
	params.Set("city", cleaned)
	params.Set("extensions", string(ext))
	params.Set("output", "JSON")

	var report Report
	if err := c.get(ctx, c.weatherURL, params, &report); err != nil {
		return nil, err
	}
	if report.Status != "1" {
		return nil, &APIError{Info: report.Info, InfoCode: report.InfoCode}
	}
	c.logger.Debug("🌤️ [天气] 查询成功", "city", cleaned, "extensions", ext)
	return &report, nil
}

type regeoResponse struct {
	Status    string `json:"status"`
	Info      string `json:"info"`
	InfoCode  string `json:"infocode"`
	Regeocode struct {
		AddressComponent struct {
			Adcode json.RawMessage `json:"adcode"`
		} `json:"addressComponent"`
	} `json:"regeocode"`
}

// ByLocation reverse-geocodes the coordinate to an adcode, then queries
// weather for it. The weather endpoint has no coordinate parameter.
func (c *Client) ByLocation(ctx context.Context, lng, lat float64, ext Extensions) (*Report, error) {
	key, err := c.apiKey()
	if err != nil {
		return nil, err
	}

	params := url.Values{}
	params.Set("key", key)
	params.Set("location", fmt.Sprintf("%.6f,%.6f", lng, lat))
	params.Set("output", "JSON")

	var regeo regeoResponse
	if err := c.get(ctx, c.regeoURL, params, &regeo); err != nil {
		return nil, err
	}
	if regeo.Status != "1" {
		return nil, &APIError{Info: regeo.Info, InfoCode: regeo.InfoCode}
	}
	var adcode string
	if err := json.Unmarshal(regeo.Regeocode.AddressComponent.Adcode, &adcode); err != nil || adcode == "" {
		return nil, ErrNoLocation
	}
	return c.ByCity(ctx, adcode, ext)
}

func (c *Client) get(ctx context.Context, endpoint string, params url.Values, out any) error {
	resp, err := c.executor.Execute(ctx, retry.Request{
		Provider: provider,
		URL:      endpoint + "?" + params.Encode(),
	}, c.policy)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(resp.Body, out); err != nil {
		return fmt.Errorf("decode weather response: %w", err)
	}
	return nil
}

// Place 行程中的一个地点，坐标优先于城市名
type Place struct {
	Name      string  `json:"name,omitempty"`
	City      string  `json:"city,omitempty"`
	Longitude float64 `json:"longitude,omitempty"`
	Latitude  float64 `json:"latitude,omitempty"`
}

func (p Place) label() string {
	switch {
	case p.Name != "":
		return p.Name
	case p.City != "":
		return p.City
	default:
		return "未知地点"
	}
}

// PlaceWeather 单个地点的天气，失败时 Error 非空
type PlaceWeather struct {
	Location string           `json:"location"`
	Live     *LiveWeather     `json:"weather,omitempty"`
	Forecast *ForecastWeather `json:"forecasts,omitempty"`
	Error    string           `json:"error,omitempty"`
}

// TripWeather queries every place concurrently; one failing place only
// sets its own Error.
func (c *Client) TripWeather(ctx context.Context, places []Place, ext Extensions) []PlaceWeather {
	out := make([]PlaceWeather, len(places))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(4)

	for i, p := range places {
		out[i].Location = p.label()
		g.Go(func() error {
			var (
				report *Report
				err    error
			)
			switch {
			case p.Longitude != 0 && p.Latitude != 0:
				report, err = c.ByLocation(gctx, p.Longitude, p.Latitude, ext)
			case p.City != "":
				report, err = c.ByCity(gctx, p.City, ext)
			default:
				err = ErrNoLocation
			}
			if err != nil {
				out[i].Error = err.Error()
				return nil
			}
			if len(report.Lives) > 0 {
				out[i].Live = &report.Lives[0]
			}
			if len(report.Forecasts) > 0 {
				out[i].Forecast = &report.Forecasts[0]
			}
			return nil
		})
	}
	_ = g.Wait()
	return out
}

// Display 用于展示的天气文本
type Display struct {
	City        string `json:"city"`
	Weather     string `json:"weather"`
	Icon        string `json:"icon"`
	Temperature string `json:"temperature"`
	Wind        string `json:"wind"`
	Humidity    string `json:"humidity"`
	ReportTime  string `json:"report_time"`
}

func orDefault(s, def string) string {
	if s == "" {
		return def
	}
	return s
}

// Format renders the first live observation, or returns ErrNoWeather.
func Format(r *Report) (*Display, error) {
	if r == nil || len(r.Lives) == 0 {
		return nil, ErrNoWeather
	}
	w := r.Lives[0]
	return &Display{
		City:        orDefault(w.City, "未知城市"),
		Weather:     orDefault(w.Weather, "未知"),
		Icon:        Icon(w.Weather),
		Temperature: orDefault(w.Temperature, "--") + "°C",
		Wind:        orDefault(w.WindDirection, "未知") + "风 " + orDefault(w.WindPower, "未知") + "级",
		Humidity:    orDefault(w.Humidity, "--") + "%",
		ReportTime:  orDefault(w.ReportTime, "未知时间"),
	}, nil
}

var icons = map[string]string{
	"晴":   "☀️",
	"多云":  "⛅",
	"阴":   "☁️",
	"雨":   "🌧️",
	"小雨":  "🌦️",
	"中雨":  "🌧️",
	"大雨":  "⛈️",
	"雪":   "❄️",
	"雾":   "🌫️",
	"雷阵雨": "⛈️",
	"阵雨":  "🌦️",
}

func Icon(weather string) string {
	if icon, ok := icons[weather]; ok {
		return icon
	}
	return "🌤️"
}
