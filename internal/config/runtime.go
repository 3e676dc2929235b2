package config

import (
	"fmt"
	"net/url"
	"strings"
)

// CacheNames 是缓存名注册表：每个逻辑分类对应一个带版本号的物理缓存名。
// 修改 CacheVersion 会让旧名称成为孤儿，由下一次 activate 清理。
type CacheNames struct {
	Shell   string
	Images  string
	Videos  string
	API     string
	Dynamic string
}

// NewCacheNames 按 <prefix>-<category>-<version> 规则生成缓存名。
func NewCacheNames(prefix, version string) CacheNames {
	name := func(category string) string {
		return fmt.Sprintf("%s-%s-%s", prefix, category, version)
	}
	return CacheNames{
		Shell:   name("shell"),
		Images:  name("images"),
		Videos:  name("videos"),
		API:     name("api"),
		Dynamic: name("dynamic"),
	}
}

// All 返回当前版本下的全部缓存名。
func (n CacheNames) All() []string {
	return []string{n.Shell, n.Images, n.Videos, n.API, n.Dynamic}
}

// Contains 判断缓存名是否属于当前版本。
func (n CacheNames) Contains(name string) bool {
	for _, current := range n.All() {
		if current == name {
			return true
		}
	}
	return false
}

// Runtime 是启动时一次性构建的不可变运行时配置，按值传给各组件，
// 避免任何组件直接读取全局状态。
type Runtime struct {
	Version       string
	Names         CacheNames
	Origin        *url.URL
	Domain        string
	CDNHost       string
	VideoHosts    []string
	ExternalHosts []string
	ShellAssets   []string
	CDNAssets     []string
	Notification  NotificationConfig
}

// BuildRuntime 解析 Origin 并把相对的 Shell 资源路径解析为绝对 URL。
func BuildRuntime(cfg *Config) (Runtime, error) {
	if cfg == nil {
		return Runtime{}, fmt.Errorf("config is nil")
	}
	origin, err := url.Parse(cfg.App.Origin)
	if err != nil {
		return Runtime{}, fmt.Errorf("invalid app origin: %w", err)
	}
	base := *origin
	base.Path = "/"

	shell := make([]string, 0, len(cfg.Precache.Shell))
	for _, raw := range cfg.Precache.Shell {
		ref, err := url.Parse(strings.TrimSpace(raw))
		if err != nil {
			return Runtime{}, fmt.Errorf("invalid shell asset %q: %w", raw, err)
		}
		shell = append(shell, base.ResolveReference(ref).String())
	}

	return Runtime{
		Version:       cfg.App.CacheVersion,
		Names:         NewCacheNames(cfg.App.Name, cfg.App.CacheVersion),
		Origin:        origin,
		Domain:        cfg.App.Domain,
		CDNHost:       strings.ToLower(cfg.Hosts.CDN),
		VideoHosts:    lowerAll(cfg.Hosts.Video),
		ExternalHosts: lowerAll(cfg.Hosts.External),
		ShellAssets:   shell,
		CDNAssets:     append([]string(nil), cfg.Precache.CDN...),
		Notification:  cfg.Notification,
	}, nil
}

func lowerAll(values []string) []string {
	out := make([]string, 0, len(values))
	for _, v := range values {
		if trimmed := strings.ToLower(strings.TrimSpace(v)); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
