package server

import (
	"errors"
	"fmt"
	"net"
	"net/url"
	"sort"
	"strconv"
	"strings"

	"github.com/any-hub/offline-hub/internal/config"
)

// Route 描述一个入站请求应转发到的目标源站。
type Route struct {
	// Host 是规范化后的入站 Host（不含端口）。
	Host string
	// Target 只包含 scheme 与 host，路径和查询串由代理层拼接。
	Target *url.URL
	// App 表示目标是应用自身的源站。
	App bool
	// ListenPort 记录当前 CLI 监听端口，方便日志/转发头输出。
	ListenPort int
}

// OriginRegistry 把入站 Host 映射到目标源站：应用域名别名指向 App.Origin，
// 配置过的第三方 Host（[Hosts] 与 [Precache].CDN）按原 Host 回源，其余一律拒绝。
type OriginRegistry struct {
	origin     *url.URL
	aliases    map[string]struct{}
	thirdParty []string
	listenPort int
}

// NewOriginRegistry 根据配置构建 Host 映射。调用方应在启动阶段创建一次并复用。
func NewOriginRegistry(cfg *config.Config) (*OriginRegistry, error) {
	if cfg == nil {
		return nil, errors.New("config is nil")
	}
	origin, err := url.Parse(cfg.App.Origin)
	if err != nil || origin.Scheme == "" || origin.Host == "" {
		return nil, fmt.Errorf("invalid app origin %q", cfg.App.Origin)
	}

	registry := &OriginRegistry{
		origin:     &url.URL{Scheme: origin.Scheme, Host: origin.Host},
		aliases:    make(map[string]struct{}, 2),
		listenPort: cfg.Global.ListenPort,
	}
	for _, alias := range []string{cfg.App.Domain, origin.Host} {
		if host, _ := normalizeHost(alias); host != "" {
			registry.aliases[host] = struct{}{}
		}
	}

	patterns := append([]string{cfg.Hosts.CDN}, cfg.Hosts.Video...)
	patterns = append(patterns, cfg.Hosts.External...)
	for _, raw := range cfg.Precache.CDN {
		if parsed, err := url.Parse(strings.TrimSpace(raw)); err == nil {
			patterns = append(patterns, parsed.Host)
		}
	}
	seen := make(map[string]struct{}, len(patterns))
	for _, pattern := range patterns {
		pattern = strings.ToLower(strings.TrimSpace(pattern))
		if !strings.HasSuffix(pattern, ".") {
			pattern, _ = normalizeHost(pattern)
		}
		if pattern == "" {
			continue
		}
		if _, dup := seen[pattern]; dup {
			continue
		}
		seen[pattern] = struct{}{}
		registry.thirdParty = append(registry.thirdParty, pattern)
	}
	sort.Strings(registry.thirdParty)
	return registry, nil
}

// Lookup 根据 Host 或 Host:port 解析目标。未配置的 Host 返回 false。
// forwardedProto 为空时第三方 Host 默认使用 https。
func (r *OriginRegistry) Lookup(host, forwardedProto string) (*Route, bool) {
	if r == nil {
		return nil, false
	}
	normalized, port := normalizeHost(host)
	if normalized == "" {
		return nil, false
	}

	if _, ok := r.aliases[normalized]; ok {
		target := *r.origin
		return &Route{Host: normalized, Target: &target, App: true, ListenPort: r.listenPort}, true
	}

	if !r.allowsThirdParty(normalized) {
		return nil, false
	}

	scheme := strings.ToLower(strings.TrimSpace(forwardedProto))
	if scheme != "http" && scheme != "https" {
		scheme = "https"
	}
	targetHost := normalized
	if port > 0 && !isDefaultPort(scheme, port) {
		targetHost = net.JoinHostPort(normalized, strconv.Itoa(port))
	}
	return &Route{
		Host:       normalized,
		Target:     &url.URL{Scheme: scheme, Host: targetHost},
		ListenPort: r.listenPort,
	}, true
}

// Origin 返回应用源站。
func (r *OriginRegistry) Origin() *url.URL {
	copied := *r.origin
	return &copied
}

// Aliases 返回按字典序排列的应用域名别名，用于 /-/status 输出。
func (r *OriginRegistry) Aliases() []string {
	out := make([]string, 0, len(r.aliases))
	for alias := range r.aliases {
		out = append(out, alias)
	}
	sort.Strings(out)
	return out
}

// ThirdPartyHosts 返回允许回源的第三方 Host 规则。
func (r *OriginRegistry) ThirdPartyHosts() []string {
	return append([]string(nil), r.thirdParty...)
}

// allowsThirdParty 判断 host 是否命中某条规则：以 "." 结尾的规则按前缀匹配
// （如 "fonts."），其余规则匹配自身及其子域名。
func (r *OriginRegistry) allowsThirdParty(host string) bool {
	for _, pattern := range r.thirdParty {
		if strings.HasSuffix(pattern, ".") {
			if strings.HasPrefix(host, pattern) && net.ParseIP(host) == nil {
				return true
			}
			continue
		}
		if host == pattern || strings.HasSuffix(host, "."+pattern) {
			return true
		}
	}
	return false
}

func isDefaultPort(scheme string, port int) bool {
	return (scheme == "http" && port == 80) || (scheme == "https" && port == 443)
}

func normalizeHost(raw string) (string, int) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", 0
	}

	host := raw
	port := 0

	if strings.Contains(raw, ":") {
		if h, p, err := net.SplitHostPort(raw); err == nil {
			host = h
			if parsedPort, err := strconv.Atoi(p); err == nil {
				port = parsedPort
			}
		} else if idx := strings.LastIndex(raw, ":"); idx > -1 && strings.Count(raw[idx+1:], ":") == 0 {
			if parsedPort, err := strconv.Atoi(raw[idx+1:]); err == nil {
				host = raw[:idx]
				port = parsedPort
			}
		}
	}

	host = strings.TrimSuffix(host, ".")
	host = strings.ToLower(host)
	return host, port
}
