package web

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"webplanner/config"
	"webplanner/internal/endpoint"
	"webplanner/internal/geo"
	"webplanner/internal/itinerary"
	"webplanner/internal/middleware"
	"webplanner/internal/monitor"
	"webplanner/internal/navigation"
	"webplanner/internal/proxy"
	"webplanner/internal/settings"
	"webplanner/internal/storage"
	"webplanner/internal/weather"
)

// AddressResolver is implemented by *geo.Resolver.
type AddressResolver interface {
	Resolve(ctx context.Context, address, cityHint string) (*geo.Location, error)
	ResolveAll(ctx context.Context, queries []geo.Query) ([]geo.BatchResult, error)
}

// WeatherService is implemented by *weather.Client.
type WeatherService interface {
	ByCity(ctx context.Context, city string, ext weather.Extensions) (*weather.Report, error)
	ByLocation(ctx context.Context, lng, lat float64, ext weather.Extensions) (*weather.Report, error)
	TripWeather(ctx context.Context, places []weather.Place, ext weather.Extensions) []weather.PlaceWeather
}

// ItineraryGenerator is implemented by *itinerary.Client.
type ItineraryGenerator interface {
	Generate(ctx context.Context, trip *storage.Trip) (*itinerary.Result, error)
}

// KeyValidator is implemented by *itinerary.Client.
type KeyValidator interface {
	ValidateKey(ctx context.Context) ([]itinerary.Model, error)
}

// TripRepository is implemented by *storage.TripStore.
type TripRepository interface {
	Create(ctx context.Context, trip *storage.Trip) error
	Get(ctx context.Context, id string) (*storage.Trip, error)
	List(ctx context.Context, opts storage.ListOptions) ([]*storage.Trip, error)
	Update(ctx context.Context, id string, patch storage.TripPatch) (*storage.Trip, error)
	Delete(ctx context.Context, id string) error
	UpdateStatus(ctx context.Context, id string, status storage.TripStatus) error
	ReplaceItinerary(ctx context.Context, id string, items []storage.ItineraryItem, aiGenerated bool) error

	AddExpense(ctx context.Context, id string, expense storage.Expense) (*storage.Expense, error)
	UpdateExpense(ctx context.Context, id, expenseID string, patch storage.ExpensePatch) (*storage.Expense, error)
	DeleteExpense(ctx context.Context, id, expenseID string) error
	ExpenseStats(ctx context.Context, id string) (*storage.ExpenseStats, error)

	AddItineraryItem(ctx context.Context, id string, item storage.ItineraryItem) (*storage.ItineraryItem, error)
	UpdateItineraryItem(ctx context.Context, id, itemID string, patch storage.ItineraryItemPatch) (*storage.ItineraryItem, error)
	DeleteItineraryItem(ctx context.Context, id, itemID string) error
}

// Navigator is implemented by *navigation.Client.
type Navigator interface {
	Plan(ctx context.Context, req navigation.Request) (*navigation.Plan, error)
	DistanceAndTime(ctx context.Context, req navigation.Request) (*navigation.Summary, error)
	ItineraryDistances(ctx context.Context, items []storage.ItineraryItem, mode navigation.Mode, city string) ([]navigation.Leg, error)
}

// NetworkDiagnostics is implemented by *endpoint.Manager.
type NetworkDiagnostics interface {
	NetworkStatus(ctx context.Context) endpoint.NetworkStatus
	GetEndpoints() []*endpoint.Endpoint
	ManualHealthCheck(ctx context.Context, name string) (endpoint.ProbeResult, error)
}

// PreferenceStore persists runtime preference changes; *config.ConfigWatcher
// implements it.
type PreferenceStore interface {
	SaveUseProxyForAI(enabled bool) error
}

// Pinger reports storage liveness; storage.DatabaseAdapter implements it.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Dependencies are the services the API exposes. Nil services make their
// routes answer 503.
type Dependencies struct {
	Router       *proxy.Router
	Settings     *settings.Provider
	Preferences  PreferenceStore
	Resolver     AddressResolver
	Weather      WeatherService
	Planner      ItineraryGenerator
	KeyValidator KeyValidator
	Navigator    Navigator
	Trips        TripRepository
	Network      NetworkDiagnostics
	Metrics      *monitor.Metrics
	Storage      Pinger
	Version      string
}

// WebServer serves the JSON API.
type WebServer struct {
	mu        sync.RWMutex
	server    *http.Server
	engine    *gin.Engine
	logger    *slog.Logger
	config    *config.Config
	deps      Dependencies
	logging   *middleware.LoggingMiddleware
	startTime time.Time
}

// NewWebServer creates the server and registers every route.
func NewWebServer(cfg *config.Config, deps Dependencies, logger *slog.Logger, startTime time.Time) *WebServer {
	gin.SetMode(cfg.Server.Mode)

	var recorder middleware.RequestRecorder
	if deps.Metrics != nil {
		recorder = deps.Metrics
	}

	ws := &WebServer{
		engine:    gin.New(),
		logger:    logger,
		config:    cfg,
		deps:      deps,
		logging:   middleware.NewLoggingMiddleware(logger, recorder),
		startTime: startTime,
	}

	ws.engine.Use(middleware.RequestID())
	ws.engine.Use(ws.logging.Handler())
	ws.engine.Use(middleware.Recovery(logger))
	ws.setupRoutes()

	return ws
}

// Handler exposes the engine, mainly for tests.
func (ws *WebServer) Handler() http.Handler {
	return ws.engine
}

func (ws *WebServer) setupRoutes() {
	ws.engine.GET("/health", ws.handleHealth)
	ws.engine.GET("/metrics", gin.WrapH(promhttp.Handler()))

	api := ws.engine.Group("/api/v1")
	{
		api.GET("/status", ws.handleStatus)
		api.GET("/stats", ws.handleStats)

		api.GET("/route", ws.handleRoute)
		api.GET("/proxy", ws.handleGetProxy)
		api.PUT("/proxy", ws.handleSetProxy)
		api.GET("/network/status", ws.handleNetworkStatus)
		api.GET("/network/endpoints", ws.handleEndpoints)
		api.POST("/network/endpoints/:name/check", ws.handleCheckEndpoint)
		api.POST("/providers/deepseek/validate", ws.handleValidateDeepSeek)

		api.POST("/geocode", ws.handleGeocode)
		api.POST("/geocode/batch", ws.handleGeocodeBatch)

		api.GET("/weather", ws.handleWeather)
		api.POST("/weather/trip", ws.handleTripWeather)

		api.POST("/navigation/route", ws.handleNavigationRoute)
		api.POST("/navigation/distance", ws.handleNavigationDistance)

		trips := api.Group("/trips")
		{
			trips.GET("", ws.handleListTrips)
			trips.POST("", ws.handleCreateTrip)
			trips.GET("/:id", ws.handleGetTrip)
			trips.PUT("/:id", ws.handleUpdateTrip)
			trips.DELETE("/:id", ws.handleDeleteTrip)
			trips.PUT("/:id/status", ws.handleUpdateTripStatus)
			trips.POST("/:id/itinerary", ws.handleGenerateItinerary)
			trips.GET("/:id/distances", ws.handleTripDistances)
			trips.POST("/:id/itinerary/items", ws.handleAddItineraryItem)
			trips.PUT("/:id/itinerary/items/:itemId", ws.handleUpdateItineraryItem)
			trips.DELETE("/:id/itinerary/items/:itemId", ws.handleDeleteItineraryItem)
			trips.POST("/:id/expenses", ws.handleAddExpense)
			trips.GET("/:id/expenses/stats", ws.handleExpenseStats)
			trips.PUT("/:id/expenses/:expenseId", ws.handleUpdateExpense)
			trips.DELETE("/:id/expenses/:expenseId", ws.handleDeleteExpense)
		}
	}
}

// Start starts the HTTP server in the background.
func (ws *WebServer) Start() error {
	ws.mu.Lock()
	addr := net.JoinHostPort(ws.config.Server.Host, strconv.Itoa(ws.config.Server.Port))
	ws.server = &http.Server{
		Addr:              addr,
		Handler:           ws.engine,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		// 行程生成可能耗时数分钟
		WriteTimeout: 0,
		IdleTimeout:  120 * time.Second,
	}
	server := ws.server
	ws.mu.Unlock()

	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", addr, err)
	}

	ws.log().Info(fmt.Sprintf("🌐 HTTP 服务器启动中... - 地址: %s", addr))
	go func() {
		if err := server.Serve(listener); err != nil && err != http.ErrServerClosed {
			ws.log().Error(fmt.Sprintf("❌ HTTP 服务器运行错误: %v", err))
		}
	}()
	ws.log().Info(fmt.Sprintf("✅ 服务器启动成功！访问地址: http://%s", addr))
	return nil
}

// Stop gracefully shuts the server down.
func (ws *WebServer) Stop(ctx context.Context) error {
	ws.mu.RLock()
	server := ws.server
	ws.mu.RUnlock()
	if server == nil {
		return nil
	}

	ws.log().Info("🛑 正在关闭服务器...")
	if err := server.Shutdown(ctx); err != nil {
		ws.log().Error(fmt.Sprintf("❌ 服务器关闭失败: %v", err))
		return err
	}
	ws.log().Info("✅ 服务器已安全关闭")
	return nil
}

// UpdateConfig swaps the configuration used by handlers. Listen address
// changes take effect on restart.
func (ws *WebServer) UpdateConfig(newConfig *config.Config) {
	ws.mu.Lock()
	ws.config = newConfig
	ws.mu.Unlock()
	ws.log().Info("🔄 Web服务器配置已更新")
}

// SetLogger replaces the logger used by the server and access log.
func (ws *WebServer) SetLogger(logger *slog.Logger) {
	ws.mu.Lock()
	ws.logger = logger
	ws.mu.Unlock()
	ws.logging.SetLogger(logger)
}

func (ws *WebServer) cfg() *config.Config {
	ws.mu.RLock()
	defer ws.mu.RUnlock()
	return ws.config
}

func (ws *WebServer) log() *slog.Logger {
	ws.mu.RLock()
	defer ws.mu.RUnlock()
	return ws.logger
}
