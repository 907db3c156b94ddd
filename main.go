package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"webplanner/config"
	"webplanner/internal/endpoint"
	"webplanner/internal/geo"
	"webplanner/internal/itinerary"
	"webplanner/internal/logging"
	"webplanner/internal/monitor"
	"webplanner/internal/navigation"
	"webplanner/internal/proxy"
	"webplanner/internal/proxy/retry"
	"webplanner/internal/settings"
	"webplanner/internal/storage"
	"webplanner/internal/transport"
	"webplanner/internal/weather"
	"webplanner/internal/web"
)

var (
	configPath  = flag.String("config", "config/example.yaml", "Path to configuration file")
	showVersion = flag.Bool("version", false, "Show version information")

	// Build-time variables (set via ldflags)
	version = "dev"
	commit  = "unknown"
	date    = "unknown"

	startTime = time.Now()
)

func main() {
	flag.Parse()

	if *showVersion {
		fmt.Printf("Web Planner API\n")
		fmt.Printf("Version: %s\n", version)
		fmt.Printf("Commit: %s\n", commit)
		fmt.Printf("Built: %s\n", date)
		os.Exit(0)
	}

	if err := config.LoadEnvFile(*configPath); err != nil {
		fmt.Fprintf(os.Stderr, "⚠️ %v\n", err)
	}

	// 初始日志器，读取配置后替换
	bootLogger, _ := logging.Setup(config.LoggingConfig{Level: "info", Format: "text"})
	slog.SetDefault(bootLogger.Logger)

	configWatcher, err := config.NewConfigWatcher(*configPath, bootLogger.Logger)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to create configuration watcher: %v\n", err)
		os.Exit(1)
	}
	defer configWatcher.Close()

	cfg := configWatcher.GetConfig()

	currentLog, err := logging.Setup(cfg.Logging)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to set up logging: %v\n", err)
		os.Exit(1)
	}
	var activeLog atomic.Pointer[logging.Logger]
	activeLog.Store(currentLog)
	logger := currentLog.Logger
	slog.SetDefault(logger)
	configWatcher.UpdateLogger(logger)

	logger.Info("🚀 Web Planner 启动中...",
		"version", version,
		"commit", commit,
		"build_date", date,
		"config_file", *configPath,
		"geo_provider", cfg.Geo.Provider,
		"storage", cfg.Storage.Type)

	// 偏好与密钥，每次请求实时读取
	prefs := settings.NewProvider(settings.FromConfig(cfg))

	router, err := proxy.NewRouter(cfg.Proxy.AlwaysProxyDomains, cfg.Proxy.AIDomains, prefs)
	if err != nil {
		logger.Error(fmt.Sprintf("❌ 路由器初始化失败: %v", err))
		os.Exit(1)
	}
	logger.Info("🔗 " + transport.GetProxyInfo(router))

	httpClient, err := transport.NewClient(router, transport.Options{})
	if err != nil {
		logger.Error(fmt.Sprintf("❌ HTTP客户端创建失败: %v", err))
		os.Exit(1)
	}

	metrics := monitor.NewMetrics()
	executor := retry.NewExecutor(httpClient, retry.WithRecorder(metrics), retry.WithLogger(logger))

	keys := func(pick func(settings.APIKeys) string) func() string {
		return func() string { return pick(prefs.Keys()) }
	}

	var geocoder geo.Geocoder
	geoPolicy := retry.PolicyFromConfig(cfg.Retry.Geocode)
	switch cfg.Geo.Provider {
	case "amap":
		geocoder = geo.NewAMapGeocoder(cfg.Providers.AMap.GeocodeURL,
			keys(func(k settings.APIKeys) string { return k.AMap }), executor, geoPolicy)
	default:
		geocoder = geo.NewBaiduGeocoder(cfg.Providers.Baidu.GeocodeURL,
			keys(func(k settings.APIKeys) string { return k.BaiduAK }), executor, geoPolicy)
	}
	resolver := geo.NewResolver(geocoder,
		geo.WithResolutionRecorder(metrics),
		geo.WithResolverLogger(logger),
		geo.WithConcurrency(cfg.Geo.Concurrency))

	planner := itinerary.NewClient(cfg.Providers.DeepSeek,
		keys(func(k settings.APIKeys) string { return k.DeepSeek }),
		executor, retry.PolicyFromConfig(cfg.Retry.AI))
	weatherClient := weather.NewClient(cfg.Providers.AMap,
		keys(func(k settings.APIKeys) string { return k.AMap }),
		executor, retry.PolicyFromConfig(cfg.Retry.Weather))
	navigator := navigation.NewClient(cfg.Providers.AMap,
		keys(func(k settings.APIKeys) string { return k.AMap }),
		executor, retry.PolicyFromConfig(cfg.Retry.Navigation),
		navigation.WithFallback(!cfg.Navigation.DisableFallback),
		navigation.WithConcurrency(cfg.Navigation.Concurrency),
		navigation.WithLogger(logger))

	// 存储
	loc, err := time.LoadLocation(cfg.Timezone)
	if err != nil {
		loc = time.Local
	}
	adapter, err := storage.NewDatabaseAdapter(cfg.Storage)
	if err != nil {
		logger.Error(fmt.Sprintf("❌ 存储初始化失败: %v", err))
		os.Exit(1)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	if err := adapter.Open(ctx); err != nil {
		cancel()
		logger.Error(fmt.Sprintf("❌ 数据库连接失败: %v", err))
		os.Exit(1)
	}
	if err := adapter.InitSchema(ctx); err != nil {
		cancel()
		logger.Error(fmt.Sprintf("❌ 数据库表结构初始化失败: %v", err))
		os.Exit(1)
	}
	cancel()
	defer adapter.Close()
	trips := storage.NewTripStore(adapter, loc)

	// 连通性探测
	endpointManager := endpoint.NewManager(cfg.Health, httpClient, router, monitor.SetEndpointUp)
	endpointManager.SetLogger(logger)
	endpointManager.Start()
	defer endpointManager.Stop()

	webServer := web.NewWebServer(cfg, web.Dependencies{
		Router:       router,
		Settings:     prefs,
		Preferences:  configWatcher,
		Resolver:     resolver,
		Weather:      weatherClient,
		Planner:      planner,
		KeyValidator: planner,
		Navigator:    navigator,
		Trips:        trips,
		Network:      endpointManager,
		Metrics:      metrics,
		Storage:      adapter,
		Version:      version,
	}, logger, startTime)

	configWatcher.AddReloadCallback(func(newCfg *config.Config) {
		prefs.OnConfigReload(newCfg)

		newLog, err := logging.Setup(newCfg.Logging)
		if err != nil {
			slog.Default().Error(fmt.Sprintf("❌ 日志配置重载失败: %v", err))
		} else {
			old := activeLog.Swap(newLog)
			slog.SetDefault(newLog.Logger)
			configWatcher.UpdateLogger(newLog.Logger)
			endpointManager.SetLogger(newLog.Logger)
			webServer.SetLogger(newLog.Logger)
			_ = old.Close()
		}

		endpointManager.UpdateConfig(newCfg.Health)
		webServer.UpdateConfig(newCfg)

		slog.Default().Info("🔄 所有组件已更新为新配置")
	})
	logger.Info("🔄 配置文件自动重载已启用")

	if err := webServer.Start(); err != nil {
		logger.Error(fmt.Sprintf("❌ 服务器启动失败: %v", err))
		os.Exit(1)
	}

	interrupt := make(chan os.Signal, 1)
	signal.Notify(interrupt, os.Interrupt, syscall.SIGTERM)
	sig := <-interrupt
	slog.Default().Info(fmt.Sprintf("📡 收到终止信号，开始优雅关闭... - 信号: %v", sig))

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), configWatcher.GetConfig().Server.ShutdownTimeout)
	defer shutdownCancel()
	if err := webServer.Stop(shutdownCtx); err != nil {
		slog.Default().Error(fmt.Sprintf("❌ 服务器关闭失败: %v", err))
	}

	_ = activeLog.Load().Close()
}
