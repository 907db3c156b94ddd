package proxy

import (
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"webplanner/internal/settings"
)

// Category 目标域名分类
type Category int

const (
	CategoryDirect      Category = iota // 未匹配，直连
	CategoryAlwaysProxy                 // 会话/鉴权类后端，始终走代理
	CategoryAI                          // AI/LLM 服务商，由 use_proxy_for_ai 决定
)

func (c Category) String() string {
	switch c {
	case CategoryAlwaysProxy:
		return "always_proxy"
	case CategoryAI:
		return "ai"
	default:
		return "direct"
	}
}

const (
	DefaultProxyHost = "127.0.0.1"
	DefaultProxyPort = 7890
	DefaultProxyType = "http"
)

// PreferenceSource supplies the current user preferences.
type PreferenceSource interface {
	Preferences() settings.Preferences
}

// Config 代理连接参数
type Config struct {
	Enabled  bool   `json:"enabled"`
	Type     string `json:"type"`
	Host     string `json:"host"`
	Port     int    `json:"port"`
	Username string `json:"-"`
	Password string `json:"-"`
}

// Address returns host:port.
func (c Config) Address() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}

// URL returns the proxy URL including credentials when set.
func (c Config) URL() *url.URL {
	u := &url.URL{Scheme: c.Type, Host: c.Address()}
	if c.Username != "" {
		u.User = url.UserPassword(c.Username, c.Password)
	}
	return u
}

// Router decides per destination host whether a call goes through the proxy.
// The domain tables are fixed at construction and read without locking.
type Router struct {
	alwaysProxy []string
	ai          []string
	prefs       PreferenceSource
}

// NewRouter builds a router. A domain may belong to only one category.
func NewRouter(alwaysProxy, ai []string, prefs PreferenceSource) (*Router, error) {
	if prefs == nil {
		return nil, fmt.Errorf("preference source is required")
	}
	r := &Router{
		alwaysProxy: normalizeDomains(alwaysProxy),
		ai:          normalizeDomains(ai),
		prefs:       prefs,
	}
	for _, d := range r.ai {
		for _, a := range r.alwaysProxy {
			if d == a {
				return nil, fmt.Errorf("domain %q cannot be both always-proxy and ai", d)
			}
		}
	}
	return r, nil
}

func normalizeDomains(domains []string) []string {
	out := make([]string, 0, len(domains))
	for _, d := range domains {
		d = strings.Trim(strings.ToLower(strings.TrimSpace(d)), ".")
		if d != "" {
			out = append(out, d)
		}
	}
	return out
}

// matchesSuffix reports whether host equals domain or is a subdomain of it.
func matchesSuffix(host, domain string) bool {
	return host == domain || strings.HasSuffix(host, "."+domain)
}

// ClassifyHost returns the routing category of a bare hostname.
func (r *Router) ClassifyHost(host string) Category {
	host = strings.TrimSuffix(strings.ToLower(host), ".")
	for _, d := range r.alwaysProxy {
		if matchesSuffix(host, d) {
			return CategoryAlwaysProxy
		}
	}
	for _, d := range r.ai {
		if matchesSuffix(host, d) {
			return CategoryAI
		}
	}
	return CategoryDirect
}

// Classify parses rawURL and classifies its host. Malformed input is direct.
func (r *Router) Classify(rawURL string) Category {
	u, err := url.Parse(rawURL)
	if err != nil || u.Hostname() == "" {
		return CategoryDirect
	}
	return r.ClassifyHost(u.Hostname())
}

// ShouldUseProxy reports whether rawURL should be sent through the proxy.
// Routing never blocks a call: anything unparseable goes direct.
func (r *Router) ShouldUseProxy(rawURL string) bool {
	return r.decide(r.Classify(rawURL))
}

// ShouldUseProxyHost is ShouldUseProxy for a bare hostname.
func (r *Router) ShouldUseProxyHost(host string) bool {
	return r.decide(r.ClassifyHost(host))
}

func (r *Router) decide(c Category) bool {
	switch c {
	case CategoryAlwaysProxy:
		return true
	case CategoryAI:
		return r.prefs.Preferences().UseProxyForAI
	default:
		return false
	}
}

// ProxyConfig returns the proxy parameters with defaults filled in.
// Enabled mirrors the AI proxy preference.
func (r *Router) ProxyConfig() Config {
	p := r.prefs.Preferences()
	cfg := Config{
		Enabled:  p.UseProxyForAI,
		Type:     p.ProxyType,
		Host:     p.ProxyHost,
		Port:     p.ProxyPort,
		Username: p.ProxyUsername,
		Password: p.ProxyPassword,
	}
	if cfg.Type == "" {
		cfg.Type = DefaultProxyType
	}
	if cfg.Host == "" {
		cfg.Host = DefaultProxyHost
	}
	if cfg.Port == 0 {
		cfg.Port = DefaultProxyPort
	}
	return cfg
}

// ProxyURL is an http.Transport Proxy hook. A nil URL means direct.
func (r *Router) ProxyURL(req *http.Request) (*url.URL, error) {
	if req.URL == nil || !r.ShouldUseProxyHost(req.URL.Hostname()) {
		return nil, nil
	}
	cfg := r.ProxyConfig()
	// socks5 由 transport 的 Dialer 处理
	if cfg.Type == "socks5" {
		return nil, nil
	}
	return cfg.URL(), nil
}

// Decision describes one routing decision, used by the diagnostics API.
type Decision struct {
	URL      string `json:"url"`
	Host     string `json:"host"`
	Category string `json:"category"`
	UseProxy bool   `json:"use_proxy"`
	Proxy    string `json:"proxy,omitempty"`
}

func (r *Router) Explain(rawURL string) Decision {
	d := Decision{URL: rawURL, Category: CategoryDirect.String()}
	u, err := url.Parse(rawURL)
	if err != nil || u.Hostname() == "" {
		return d
	}
	c := r.ClassifyHost(u.Hostname())
	d.Host = u.Hostname()
	d.Category = c.String()
	d.UseProxy = r.decide(c)
	if d.UseProxy {
		d.Proxy = r.ProxyConfig().Address()
	}
	return d
}
