package config

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
	_ "time/tzdata"

	"github.com/fsnotify/fsnotify"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

type Config struct {
	Server     ServerConfig     `yaml:"server"`
	Logging    LoggingConfig    `yaml:"logging"`
	Proxy      ProxyConfig      `yaml:"proxy"`
	Retry      RetryPolicies    `yaml:"retry"`
	Providers  ProvidersConfig  `yaml:"providers"`
	Geo        GeoConfig        `yaml:"geo"`
	Navigation NavigationConfig `yaml:"navigation"`
	Storage    StorageConfig    `yaml:"storage"`
	Health     HealthConfig     `yaml:"health"`
	Timezone   string           `yaml:"timezone"` // Global timezone setting for all components
}

type ServerConfig struct {
	Host            string        `yaml:"host"`
	Port            int           `yaml:"port"`
	Mode            string        `yaml:"mode"`             // gin mode: "release" | "debug" | "test"
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"` // Graceful shutdown timeout, default: 10s
}

type LoggingConfig struct {
	Level       string `yaml:"level"`
	Format      string `yaml:"format"`       // "text" | "json" | "color"
	FileEnabled bool   `yaml:"file_enabled"` // Enable file logging
	FilePath    string `yaml:"file_path"`    // Log file path
}

// ProxyConfig 代理偏好配置
// use_proxy_for_ai 只影响 AI 类域名，always_proxy_domains 中的域名无论偏好如何都走代理
type ProxyConfig struct {
	UseProxyForAI      bool     `yaml:"use_proxy_for_ai"`
	Type               string   `yaml:"type"` // "http", "https", "socks5"
	Host               string   `yaml:"host"`
	Port               int      `yaml:"port"`
	Username           string   `yaml:"username,omitempty"`
	Password           string   `yaml:"password,omitempty"`
	AlwaysProxyDomains []string `yaml:"always_proxy_domains"`
	AIDomains          []string `yaml:"ai_domains"`
}

// RetryConfig 单个调用方的重试策略
type RetryConfig struct {
	MaxAttempts int           `yaml:"max_attempts"`
	BaseDelay   time.Duration `yaml:"base_delay"`
	MaxDelay    time.Duration `yaml:"max_delay"`
	Multiplier  float64       `yaml:"multiplier"`
	Timeout     time.Duration `yaml:"timeout"` // per-attempt timeout
}

// RetryPolicies 按调用方区分的重试策略
type RetryPolicies struct {
	Default    RetryConfig `yaml:"default"`
	AI         RetryConfig `yaml:"ai"`      // LLM 调用：慢，可容忍长时间等待
	Geocode    RetryConfig `yaml:"geocode"` // 交互路径：少量重试，短超时
	Weather    RetryConfig `yaml:"weather"`
	Navigation RetryConfig `yaml:"navigation"`
}

type ProvidersConfig struct {
	DeepSeek DeepSeekConfig `yaml:"deepseek"`
	Baidu    BaiduConfig    `yaml:"baidu"`
	AMap     AMapConfig     `yaml:"amap"`
}

type DeepSeekConfig struct {
	BaseURL     string  `yaml:"base_url"`
	APIKey      string  `yaml:"api_key,omitempty"`
	Model       string  `yaml:"model"`
	Temperature float64 `yaml:"temperature"`
	MaxTokens   int     `yaml:"max_tokens"`
}

type BaiduConfig struct {
	GeocodeURL string `yaml:"geocode_url"`
	AK         string `yaml:"ak,omitempty"`
}

type AMapConfig struct {
	GeocodeURL   string `yaml:"geocode_url"`
	WeatherURL   string `yaml:"weather_url"`
	RegeoURL     string `yaml:"regeo_url"`
	DirectionURL string `yaml:"direction_url"` // 路径规划前缀，后接 /driving、/walking、/transit/integrated
	APIKey       string `yaml:"api_key,omitempty"`
}

type GeoConfig struct {
	Provider    string `yaml:"provider"`    // "baidu" | "amap"
	Concurrency int    `yaml:"concurrency"` // 批量解析并发上限
}

// NavigationConfig 路径规划
type NavigationConfig struct {
	// 服务商失败时默认返回直线估算结果，设为 true 则直接报错
	DisableFallback bool   `yaml:"disable_fallback"`
	Concurrency     int    `yaml:"concurrency"`  // 行程距离计算并发上限
	DefaultMode     string `yaml:"default_mode"` // driving | walking | transit
}

// StorageConfig 行程存储配置
type StorageConfig struct {
	Type string `yaml:"type"` // "sqlite" | "mysql"

	// SQLite配置
	Path string `yaml:"path,omitempty"`

	// MySQL配置
	Host     string `yaml:"host,omitempty"`
	Port     int    `yaml:"port,omitempty"`
	Database string `yaml:"database,omitempty"`
	Username string `yaml:"username,omitempty"`
	Password string `yaml:"password,omitempty"`
	Charset  string `yaml:"charset,omitempty"`

	// 连接池配置
	MaxOpenConns    int           `yaml:"max_open_conns,omitempty"`
	MaxIdleConns    int           `yaml:"max_idle_conns,omitempty"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime,omitempty"`
}

// HealthConfig 服务商连通性探测
type HealthConfig struct {
	Enabled       bool           `yaml:"enabled"`
	CheckInterval time.Duration  `yaml:"check_interval"`
	Timeout       time.Duration  `yaml:"timeout"`
	Targets       []HealthTarget `yaml:"targets"`
}

type HealthTarget struct {
	Name string `yaml:"name"`
	URL  string `yaml:"url"`
}

// 环境变量中的密钥优先于 YAML 中的值
const (
	EnvDeepSeekKey = "DEEPSEEK_API_KEY"
	EnvBaiduAK     = "BAIDU_MAP_AK"
	EnvAMapKey     = "AMAP_API_KEY"
)

var (
	defaultAlwaysProxyDomains = []string{"firebaseapp.com", "firebaseio.com", "googleapis.com", "gstatic.com"}
	defaultAIDomains          = []string{"api.deepseek.com", "api.openai.com", "dashscope.aliyuncs.com", "aip.baidubce.com"}
	defaultHealthTargets      = []HealthTarget{
		{Name: "firebase", URL: "https://firebaseapp.com"},
		{Name: "deepseek", URL: "https://api.deepseek.com/v1/models"},
		{Name: "amap", URL: "https://lbs.amap.com"},
	}
)

// LoadEnvFile loads a dotenv file next to the config file if present.
// A missing file is not an error.
func LoadEnvFile(configPath string) error {
	envPath := filepath.Join(filepath.Dir(configPath), ".env")
	if _, err := os.Stat(envPath); err != nil {
		return nil
	}
	if err := godotenv.Load(envPath); err != nil {
		return fmt.Errorf("failed to load env file %s: %w", envPath, err)
	}
	return nil
}

// LoadConfig loads configuration from file
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var config Config
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	config.applyEnv()
	config.setDefaults()

	if err := config.validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &config, nil
}

func (c *Config) applyEnv() {
	if v := os.Getenv(EnvDeepSeekKey); v != "" {
		c.Providers.DeepSeek.APIKey = v
	}
	if v := os.Getenv(EnvBaiduAK); v != "" {
		c.Providers.Baidu.AK = v
	}
	if v := os.Getenv(EnvAMapKey); v != "" {
		c.Providers.AMap.APIKey = v
	}
}

// setDefaults sets default values for configuration
func (c *Config) setDefaults() {
	if c.Server.Host == "" {
		c.Server.Host = "localhost"
	}
	if c.Server.Port == 0 {
		c.Server.Port = 8080
	}
	if c.Server.Mode == "" {
		c.Server.Mode = "release"
	}
	if c.Server.ShutdownTimeout == 0 {
		c.Server.ShutdownTimeout = 10 * time.Second
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "text"
	}
	if c.Logging.FilePath == "" {
		c.Logging.FilePath = "logs/app.log"
	}

	// 代理默认值: 127.0.0.1:7890
	if c.Proxy.Type == "" {
		c.Proxy.Type = "http"
	}
	if c.Proxy.Host == "" {
		c.Proxy.Host = "127.0.0.1"
	}
	if c.Proxy.Port == 0 {
		c.Proxy.Port = 7890
	}
	if c.Proxy.AlwaysProxyDomains == nil {
		c.Proxy.AlwaysProxyDomains = append([]string(nil), defaultAlwaysProxyDomains...)
	}
	if c.Proxy.AIDomains == nil {
		c.Proxy.AIDomains = append([]string(nil), defaultAIDomains...)
	}

	c.Retry.Default.fill(RetryConfig{MaxAttempts: 3, BaseDelay: time.Second, MaxDelay: 10 * time.Second, Multiplier: 2, Timeout: 30 * time.Second})
	c.Retry.AI.fill(RetryConfig{MaxAttempts: 3, BaseDelay: time.Second, MaxDelay: 10 * time.Second, Multiplier: 2, Timeout: 60 * time.Second})
	c.Retry.Geocode.fill(RetryConfig{MaxAttempts: 2, BaseDelay: 200 * time.Millisecond, MaxDelay: time.Second, Multiplier: 2, Timeout: 5 * time.Second})
	c.Retry.Weather.fill(RetryConfig{MaxAttempts: 3, BaseDelay: 500 * time.Millisecond, MaxDelay: 4 * time.Second, Multiplier: 2, Timeout: 10 * time.Second})
	c.Retry.Navigation.fill(RetryConfig{MaxAttempts: 2, BaseDelay: 300 * time.Millisecond, MaxDelay: 2 * time.Second, Multiplier: 2, Timeout: 8 * time.Second})

	if c.Providers.DeepSeek.BaseURL == "" {
		c.Providers.DeepSeek.BaseURL = "https://api.deepseek.com/v1"
	}
	if c.Providers.DeepSeek.Model == "" {
		c.Providers.DeepSeek.Model = "deepseek-chat"
	}
	if c.Providers.DeepSeek.Temperature == 0 {
		c.Providers.DeepSeek.Temperature = 0.7
	}
	if c.Providers.DeepSeek.MaxTokens == 0 {
		c.Providers.DeepSeek.MaxTokens = 4000
	}
	if c.Providers.Baidu.GeocodeURL == "" {
		c.Providers.Baidu.GeocodeURL = "https://api.map.baidu.com/geocoding/v3/"
	}
	if c.Providers.AMap.GeocodeURL == "" {
		c.Providers.AMap.GeocodeURL = "https://restapi.amap.com/v3/geocode/geo"
	}
	if c.Providers.AMap.WeatherURL == "" {
		c.Providers.AMap.WeatherURL = "https://restapi.amap.com/v3/weather/weatherInfo"
	}
	if c.Providers.AMap.RegeoURL == "" {
		c.Providers.AMap.RegeoURL = "https://restapi.amap.com/v3/geocode/regeo"
	}
	if c.Providers.AMap.DirectionURL == "" {
		c.Providers.AMap.DirectionURL = "https://restapi.amap.com/v3/direction"
	}

	if c.Geo.Provider == "" {
		c.Geo.Provider = "baidu"
	}
	if c.Geo.Concurrency == 0 {
		c.Geo.Concurrency = 4
	}
	if c.Navigation.Concurrency == 0 {
		c.Navigation.Concurrency = 3
	}
	if c.Navigation.DefaultMode == "" {
		c.Navigation.DefaultMode = "driving"
	}

	if c.Storage.Type == "" {
		c.Storage.Type = "sqlite"
	}
	if c.Storage.Type == "sqlite" && c.Storage.Path == "" {
		c.Storage.Path = "data/trips.db"
	}
	if c.Storage.Type == "mysql" {
		if c.Storage.Port == 0 {
			c.Storage.Port = 3306
		}
		if c.Storage.Charset == "" {
			c.Storage.Charset = "utf8mb4"
		}
		if c.Storage.MaxOpenConns == 0 {
			c.Storage.MaxOpenConns = 10
		}
		if c.Storage.MaxIdleConns == 0 {
			c.Storage.MaxIdleConns = 5
		}
		if c.Storage.ConnMaxLifetime == 0 {
			c.Storage.ConnMaxLifetime = time.Hour
		}
	}

	if c.Health.CheckInterval == 0 {
		c.Health.CheckInterval = 60 * time.Second
	}
	if c.Health.Timeout == 0 {
		c.Health.Timeout = 10 * time.Second
	}
	if c.Health.Targets == nil {
		c.Health.Targets = append([]HealthTarget(nil), defaultHealthTargets...)
	}
	if c.Timezone == "" {
		c.Timezone = "Asia/Shanghai"
	}
}

func (r *RetryConfig) fill(def RetryConfig) {
	if r.MaxAttempts == 0 {
		r.MaxAttempts = def.MaxAttempts
	}
	if r.BaseDelay == 0 {
		r.BaseDelay = def.BaseDelay
	}
	if r.MaxDelay == 0 {
		r.MaxDelay = def.MaxDelay
	}
	if r.Multiplier == 0 {
		r.Multiplier = def.Multiplier
	}
	if r.Timeout == 0 {
		r.Timeout = def.Timeout
	}
}

func (r RetryConfig) validate(name string) error {
	if r.MaxAttempts < 1 {
		return fmt.Errorf("retry.%s: max_attempts must be at least 1", name)
	}
	if r.BaseDelay < 0 || r.MaxDelay < 0 {
		return fmt.Errorf("retry.%s: delays must be non-negative", name)
	}
	if r.BaseDelay > r.MaxDelay {
		return fmt.Errorf("retry.%s: base_delay (%v) must not exceed max_delay (%v)", name, r.BaseDelay, r.MaxDelay)
	}
	if r.Multiplier < 1 {
		return fmt.Errorf("retry.%s: multiplier must be >= 1", name)
	}
	if r.Timeout <= 0 {
		return fmt.Errorf("retry.%s: timeout must be greater than 0", name)
	}
	return nil
}

// validate validates the configuration
func (c *Config) validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("server port must be between 1 and 65535")
	}

	switch c.Logging.Format {
	case "text", "json", "color":
	default:
		return fmt.Errorf("logging format must be 'text', 'json' or 'color'")
	}

	if c.Proxy.Type != "http" && c.Proxy.Type != "https" && c.Proxy.Type != "socks5" {
		return fmt.Errorf("proxy type must be 'http', 'https', or 'socks5'")
	}
	if c.Proxy.Port < 1 || c.Proxy.Port > 65535 {
		return fmt.Errorf("proxy port must be between 1 and 65535")
	}
	// 一个域名只能属于一个分类
	seen := make(map[string]bool, len(c.Proxy.AlwaysProxyDomains))
	for _, d := range c.Proxy.AlwaysProxyDomains {
		seen[strings.ToLower(strings.TrimSpace(d))] = true
	}
	for _, d := range c.Proxy.AIDomains {
		if seen[strings.ToLower(strings.TrimSpace(d))] {
			return fmt.Errorf("proxy domain %q listed as both always-proxy and ai", d)
		}
	}

	policies := []struct {
		name string
		cfg  RetryConfig
	}{
		{"default", c.Retry.Default},
		{"ai", c.Retry.AI},
		{"geocode", c.Retry.Geocode},
		{"weather", c.Retry.Weather},
		{"navigation", c.Retry.Navigation},
	}
	for _, p := range policies {
		if err := p.cfg.validate(p.name); err != nil {
			return err
		}
	}

	if c.Geo.Provider != "baidu" && c.Geo.Provider != "amap" {
		return fmt.Errorf("geo provider must be 'baidu' or 'amap'")
	}
	if c.Geo.Concurrency < 1 {
		return fmt.Errorf("geo concurrency must be at least 1")
	}
	switch c.Navigation.DefaultMode {
	case "driving", "walking", "transit":
	default:
		return fmt.Errorf("navigation default_mode must be driving, walking or transit")
	}
	if c.Navigation.Concurrency < 1 {
		return fmt.Errorf("navigation concurrency must be at least 1")
	}

	switch c.Storage.Type {
	case "sqlite":
		if c.Storage.Path == "" {
			return fmt.Errorf("storage path is required for sqlite")
		}
	case "mysql":
		if c.Storage.Host == "" || c.Storage.Database == "" || c.Storage.Username == "" {
			return fmt.Errorf("storage host, database and username are required for mysql")
		}
	default:
		return fmt.Errorf("storage type must be 'sqlite' or 'mysql'")
	}

	if c.Health.Enabled && c.Health.CheckInterval <= 0 {
		return fmt.Errorf("health check interval must be greater than 0 when enabled")
	}
	for i, t := range c.Health.Targets {
		if t.Name == "" || t.URL == "" {
			return fmt.Errorf("health target %d: name and url are required", i)
		}
	}

	if _, err := time.LoadLocation(c.Timezone); err != nil {
		return fmt.Errorf("invalid timezone %q: %w", c.Timezone, err)
	}

	return nil
}

// ConfigWatcher handles automatic configuration reloading
type ConfigWatcher struct {
	configPath    string
	config        *Config
	mutex         sync.RWMutex
	watcher       *fsnotify.Watcher
	logger        *slog.Logger
	callbacks     []func(*Config)
	lastModTime   time.Time
	debounceTimer *time.Timer
}

// NewConfigWatcher creates a new configuration watcher
func NewConfigWatcher(configPath string, logger *slog.Logger) (*ConfigWatcher, error) {
	config, err := LoadConfig(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load initial config: %w", err)
	}

	fileInfo, err := os.Stat(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to get file info: %w", err)
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create file watcher: %w", err)
	}

	cw := &ConfigWatcher{
		configPath:  configPath,
		config:      config,
		watcher:     watcher,
		logger:      logger,
		callbacks:   make([]func(*Config), 0),
		lastModTime: fileInfo.ModTime(),
	}

	if err := watcher.Add(configPath); err != nil {
		watcher.Close()
		return nil, fmt.Errorf("failed to watch config file: %w", err)
	}

	go cw.watchLoop()

	return cw, nil
}

// GetConfig returns the current configuration (thread-safe)
func (cw *ConfigWatcher) GetConfig() *Config {
	cw.mutex.RLock()
	defer cw.mutex.RUnlock()
	return cw.config
}

// UpdateLogger updates the logger used by the config watcher
func (cw *ConfigWatcher) UpdateLogger(logger *slog.Logger) {
	cw.mutex.Lock()
	defer cw.mutex.Unlock()
	cw.logger = logger
}

// AddReloadCallback adds a callback function that will be called when config is reloaded
func (cw *ConfigWatcher) AddReloadCallback(callback func(*Config)) {
	cw.mutex.Lock()
	defer cw.mutex.Unlock()
	cw.callbacks = append(cw.callbacks, callback)
}

func (cw *ConfigWatcher) log() *slog.Logger {
	cw.mutex.RLock()
	defer cw.mutex.RUnlock()
	return cw.logger
}

func (cw *ConfigWatcher) watchLoop() {
	for {
		select {
		case event, ok := <-cw.watcher.Events:
			if !ok {
				return
			}

			if event.Has(fsnotify.Write) {
				fileInfo, err := os.Stat(cw.configPath)
				if err != nil {
					cw.log().Warn(fmt.Sprintf("⚠️ 无法获取配置文件信息: %v", err))
					continue
				}
				if !fileInfo.ModTime().After(cw.lastModTime) {
					continue
				}
				cw.lastModTime = fileInfo.ModTime()

				if cw.debounceTimer != nil {
					cw.debounceTimer.Stop()
				}
				// 编辑器保存时可能连续触发多次写事件
				cw.debounceTimer = time.AfterFunc(500*time.Millisecond, func() {
					cw.log().Info(fmt.Sprintf("🔄 检测到配置文件变更，正在重新加载... - 文件: %s", event.Name))
					if err := cw.reloadConfig(); err != nil {
						cw.log().Error(fmt.Sprintf("❌ 配置文件重新加载失败: %v", err))
					} else {
						cw.log().Info("✅ 配置文件重新加载成功")
					}
				})
			}

			// Some editors rename files during save
			if event.Has(fsnotify.Remove) || event.Has(fsnotify.Rename) {
				time.Sleep(100 * time.Millisecond)
				if _, err := os.Stat(cw.configPath); err == nil {
					cw.watcher.Add(cw.configPath)
					cw.log().Info(fmt.Sprintf("🔄 重新监听配置文件: %s", cw.configPath))
				}
			}

		case err, ok := <-cw.watcher.Errors:
			if !ok {
				return
			}
			cw.log().Error(fmt.Sprintf("⚠️ 配置文件监听错误: %v", err))
		}
	}
}

func (cw *ConfigWatcher) reloadConfig() error {
	newConfig, err := LoadConfig(cw.configPath)
	if err != nil {
		return err
	}

	cw.mutex.Lock()
	oldConfig := cw.config
	cw.config = newConfig
	callbacks := make([]func(*Config), len(cw.callbacks))
	copy(callbacks, cw.callbacks)
	cw.mutex.Unlock()

	for _, callback := range callbacks {
		callback(newConfig)
	}

	cw.logConfigChanges(oldConfig, newConfig)
	return nil
}

// logConfigChanges logs the key differences between old and new configurations
func (cw *ConfigWatcher) logConfigChanges(oldConfig, newConfig *Config) {
	logger := cw.log()

	if oldConfig.Proxy.UseProxyForAI != newConfig.Proxy.UseProxyForAI {
		logger.Info("🔀 AI代理偏好变更",
			"old_enabled", oldConfig.Proxy.UseProxyForAI,
			"new_enabled", newConfig.Proxy.UseProxyForAI)
	}

	if oldConfig.Proxy.Host != newConfig.Proxy.Host || oldConfig.Proxy.Port != newConfig.Proxy.Port {
		logger.Info("🔀 代理地址变更",
			"old_addr", fmt.Sprintf("%s:%d", oldConfig.Proxy.Host, oldConfig.Proxy.Port),
			"new_addr", fmt.Sprintf("%s:%d", newConfig.Proxy.Host, newConfig.Proxy.Port))
	}

	if oldConfig.Server.Port != newConfig.Server.Port {
		logger.Info("🌐 服务器端口变更(需重启生效)",
			"old_port", oldConfig.Server.Port,
			"new_port", newConfig.Server.Port)
	}

	if oldConfig.Geo.Provider != newConfig.Geo.Provider {
		logger.Info("🗺️ 地理编码服务商变更(需重启生效)",
			"old_provider", oldConfig.Geo.Provider,
			"new_provider", newConfig.Geo.Provider)
	}

	if oldConfig.Retry.AI != newConfig.Retry.AI {
		logger.Info("🔄 AI重试策略变更",
			"max_attempts", newConfig.Retry.AI.MaxAttempts,
			"timeout", newConfig.Retry.AI.Timeout)
	}

	if oldConfig.Providers.DeepSeek.APIKey != newConfig.Providers.DeepSeek.APIKey ||
		oldConfig.Providers.Baidu.AK != newConfig.Providers.Baidu.AK ||
		oldConfig.Providers.AMap.APIKey != newConfig.Providers.AMap.APIKey {
		logger.Info("🔑 API密钥配置变更")
	}

	if oldConfig.Timezone != newConfig.Timezone {
		logger.Info("🌍 全局时区配置变更",
			"old_timezone", oldConfig.Timezone,
			"new_timezone", newConfig.Timezone)
	}
}

// Close stops the configuration watcher
func (cw *ConfigWatcher) Close() error {
	if cw.debounceTimer != nil {
		cw.debounceTimer.Stop()
	}
	return cw.watcher.Close()
}

// SaveUseProxyForAI writes the AI proxy preference into the watched file.
// The write triggers a normal reload, so every component sees the value
// through its reload callback.
func (cw *ConfigWatcher) SaveUseProxyForAI(enabled bool) error {
	if err := SetFileValue(cw.configPath, enabled, "proxy", "use_proxy_for_ai"); err != nil {
		return err
	}
	cw.log().Info("💾 AI代理偏好已写入配置文件", "file", cw.configPath, "use_proxy_for_ai", enabled)
	return nil
}

// SetFileValue sets one key of a YAML file in place, creating missing
// parent mappings. Comments and unrelated keys are kept; values coming
// from the environment are never written back.
func SetFileValue(path string, value any, keys ...string) error {
	if len(keys) == 0 {
		return fmt.Errorf("no key given")
	}

	var doc yaml.Node
	data, err := os.ReadFile(path)
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to read config file: %w", err)
	}
	if len(strings.TrimSpace(string(data))) > 0 {
		if err := yaml.Unmarshal(data, &doc); err != nil {
			return fmt.Errorf("failed to parse config file: %w", err)
		}
	}
	if doc.Kind == 0 || len(doc.Content) == 0 {
		doc = yaml.Node{Kind: yaml.DocumentNode, Content: []*yaml.Node{{Kind: yaml.MappingNode, Tag: "!!map"}}}
	}

	var encoded yaml.Node
	if err := encoded.Encode(value); err != nil {
		return fmt.Errorf("failed to encode value: %w", err)
	}

	node := doc.Content[0]
	for i, key := range keys {
		if node.Kind != yaml.MappingNode {
			return fmt.Errorf("config key %s is not a mapping", strings.Join(keys[:i], "."))
		}
		child := mappingValue(node, key)
		last := i == len(keys)-1
		switch {
		case child == nil && last:
			node.Content = append(node.Content, &yaml.Node{Kind: yaml.ScalarNode, Tag: "!!str", Value: key}, &encoded)
		case child == nil:
			child = &yaml.Node{Kind: yaml.MappingNode, Tag: "!!map"}
			node.Content = append(node.Content, &yaml.Node{Kind: yaml.ScalarNode, Tag: "!!str", Value: key}, child)
		case last:
			// 保留行尾注释
			encoded.LineComment = child.LineComment
			encoded.HeadComment = child.HeadComment
			*child = encoded
		}
		node = child
	}

	var buf strings.Builder
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(&doc); err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if err := enc.Close(); err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}
	// 原地写入，保持 fsnotify 对该文件的监听
	if err := os.WriteFile(path, []byte(buf.String()), 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

func mappingValue(m *yaml.Node, key string) *yaml.Node {
	for i := 0; i+1 < len(m.Content); i += 2 {
		if m.Content[i].Value == key {
			return m.Content[i+1]
		}
	}
	return nil
}
