// Package settings holds the user-controlled preferences and provider keys
// that the remote-call layer reads on every request. A Provider publishes
// immutable snapshots; readers never observe a half-applied update.
package settings

import (
	"sync"
	"sync/atomic"

	"webplanner/config"
)

// Preferences 用户偏好
type Preferences struct {
	UseProxyForAI bool
	ProxyType     string
	ProxyHost     string
	ProxyPort     int
	ProxyUsername string
	ProxyPassword string
}

// APIKeys 各服务商密钥
type APIKeys struct {
	DeepSeek string
	BaiduAK  string
	AMap     string
}

// Snapshot is one consistent view of preferences and keys.
type Snapshot struct {
	Preferences Preferences
	Keys        APIKeys
}

// Provider owns the current snapshot and swaps it atomically.
//
// A runtime toggle of UseProxyForAI is remembered together with the file
// value it replaced. Reloads keep the toggle until the file value for that
// field itself changes.
type Provider struct {
	current atomic.Pointer[Snapshot]

	mu       sync.Mutex // 串行化写入，读取不加锁
	override *proxyOverride
}

type proxyOverride struct {
	value     bool
	fileValue bool
}

func NewProvider(s Snapshot) *Provider {
	p := &Provider{}
	p.current.Store(&s)
	return p
}

// FromConfig builds a snapshot from the loaded configuration.
func FromConfig(cfg *config.Config) Snapshot {
	return Snapshot{
		Preferences: Preferences{
			UseProxyForAI: cfg.Proxy.UseProxyForAI,
			ProxyType:     cfg.Proxy.Type,
			ProxyHost:     cfg.Proxy.Host,
			ProxyPort:     cfg.Proxy.Port,
			ProxyUsername: cfg.Proxy.Username,
			ProxyPassword: cfg.Proxy.Password,
		},
		Keys: APIKeys{
			DeepSeek: cfg.Providers.DeepSeek.APIKey,
			BaiduAK:  cfg.Providers.Baidu.AK,
			AMap:     cfg.Providers.AMap.APIKey,
		},
	}
}

func (p *Provider) Snapshot() Snapshot {
	return *p.current.Load()
}

func (p *Provider) Preferences() Preferences {
	return p.current.Load().Preferences
}

func (p *Provider) Keys() APIKeys {
	return p.current.Load().Keys
}

// Update replaces the snapshot and forgets any runtime toggle.
func (p *Provider) Update(s Snapshot) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.override = nil
	p.current.Store(&s)
}

// SetUseProxyForAI flips the AI proxy preference, keeping everything else.
func (p *Provider) SetUseProxyForAI(enabled bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	old := p.current.Load()
	fileValue := old.Preferences.UseProxyForAI
	if p.override != nil {
		fileValue = p.override.fileValue
	}
	p.override = &proxyOverride{value: enabled, fileValue: fileValue}

	next := *old
	next.Preferences.UseProxyForAI = enabled
	p.current.Store(&next)
}

// OnConfigReload is suitable for config.ConfigWatcher.AddReloadCallback.
func (p *Provider) OnConfigReload(cfg *config.Config) {
	p.mu.Lock()
	defer p.mu.Unlock()

	next := FromConfig(cfg)
	if o := p.override; o != nil {
		if cfg.Proxy.UseProxyForAI == o.fileValue {
			next.Preferences.UseProxyForAI = o.value
		} else {
			// 文件中的值已被修改，以文件为准
			p.override = nil
		}
	}
	p.current.Store(&next)
}
