package transport

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"time"

	xproxy "golang.org/x/net/proxy"

	"webplanner/internal/proxy"
)

// Options tunes the underlying connection pool.
type Options struct {
	DialTimeout         time.Duration
	TLSHandshakeTimeout time.Duration
	IdleConnTimeout     time.Duration
	MaxIdleConnsPerHost int
}

func (o *Options) setDefaults() {
	if o.DialTimeout == 0 {
		o.DialTimeout = 10 * time.Second
	}
	if o.TLSHandshakeTimeout == 0 {
		o.TLSHandshakeTimeout = 10 * time.Second
	}
	if o.IdleConnTimeout == 0 {
		o.IdleConnTimeout = 90 * time.Second
	}
	if o.MaxIdleConnsPerHost == 0 {
		o.MaxIdleConnsPerHost = 10
	}
}

// CreateTransport returns an http.Transport that asks the router, per request,
// whether to go through the proxy. HTTP(S) proxies use the Proxy hook; SOCKS5
// is dialed through golang.org/x/net/proxy.
func CreateTransport(router *proxy.Router, opts Options) (*http.Transport, error) {
	if router == nil {
		return nil, fmt.Errorf("router is required")
	}
	opts.setDefaults()

	direct := &net.Dialer{
		Timeout:   opts.DialTimeout,
		KeepAlive: 30 * time.Second,
	}

	t := &http.Transport{
		Proxy:               router.ProxyURL,
		TLSHandshakeTimeout: opts.TLSHandshakeTimeout,
		IdleConnTimeout:     opts.IdleConnTimeout,
		MaxIdleConns:        100,
		MaxIdleConnsPerHost: opts.MaxIdleConnsPerHost,
		ForceAttemptHTTP2:   true,
	}

	t.DialContext = func(ctx context.Context, network, addr string) (net.Conn, error) {
		host, _, err := net.SplitHostPort(addr)
		if err != nil {
			host = addr
		}
		cfg := router.ProxyConfig()
		if cfg.Type != "socks5" || !router.ShouldUseProxyHost(host) {
			return direct.DialContext(ctx, network, addr)
		}
		dialer, err := socks5Dialer(cfg, direct)
		if err != nil {
			return nil, err
		}
		if cd, ok := dialer.(xproxy.ContextDialer); ok {
			return cd.DialContext(ctx, network, addr)
		}
		return dialer.Dial(network, addr)
	}

	return t, nil
}

func socks5Dialer(cfg proxy.Config, forward *net.Dialer) (xproxy.Dialer, error) {
	var auth *xproxy.Auth
	if cfg.Username != "" {
		auth = &xproxy.Auth{User: cfg.Username, Password: cfg.Password}
	}
	dialer, err := xproxy.SOCKS5("tcp", cfg.Address(), auth, forward)
	if err != nil {
		return nil, fmt.Errorf("failed to create SOCKS5 dialer: %w", err)
	}
	return dialer, nil
}

// NewClient wraps CreateTransport in an http.Client without a client-level
// timeout; callers bound each attempt with a context deadline.
func NewClient(router *proxy.Router, opts Options) (*http.Client, error) {
	t, err := CreateTransport(router, opts)
	if err != nil {
		return nil, err
	}
	return &http.Client{Transport: t}, nil
}

// GetProxyInfo returns a one-line description of the proxy setup for startup logs.
func GetProxyInfo(router *proxy.Router) string {
	cfg := router.ProxyConfig()
	aiMode := "直连"
	if cfg.Enabled {
		aiMode = "代理"
	}
	return fmt.Sprintf("%s://%s (AI请求: %s, 会话类域名: 始终代理)", cfg.Type, cfg.Address(), aiMode)
}
