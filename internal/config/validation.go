package config

import (
	"errors"
	"fmt"
	"net"
	"net/url"
	"strings"
)

var supportedBackends = map[string]struct{}{
	BackendDisk:   {},
	BackendSQLite: {},
}

const supportedBackendList = "disk|sqlite"

// Validate 针对语义级别做进一步校验，防止非法配置启动服务。
func (c *Config) Validate() error {
	if c == nil {
		return errors.New("配置为空")
	}

	g := c.Global
	if g.ListenPort <= 0 || g.ListenPort > 65535 {
		return newFieldError("Global.ListenPort", "必须在 1-65535")
	}
	if err := validateListenAddr(g.ListenAddr); err != nil {
		return fmt.Errorf("Global.ListenAddr: %w", err)
	}
	if g.StoragePath == "" {
		return newFieldError("Global.StoragePath", "不能为空")
	}
	if _, ok := supportedBackends[strings.ToLower(g.StorageBackend)]; !ok {
		return newFieldError("Global.StorageBackend", "仅支持 "+supportedBackendList)
	}
	if g.UpstreamTimeout.DurationValue() <= 0 {
		return newFieldError("Global.UpstreamTimeout", "必须大于 0")
	}

	if err := validateCacheToken(c.App.Name); err != nil {
		return fmt.Errorf("%s: %w", appField("Name"), err)
	}
	if err := validateCacheToken(c.App.CacheVersion); err != nil {
		return fmt.Errorf("%s: %w", appField("CacheVersion"), err)
	}
	if err := validateOrigin(c.App.Origin); err != nil {
		return fmt.Errorf("%s: %w", appField("Origin"), err)
	}
	if c.App.Domain != "" {
		if err := validateDomain(c.App.Domain); err != nil {
			return fmt.Errorf("%s: %w", appField("Domain"), err)
		}
	}

	for i, raw := range c.Precache.Shell {
		if strings.TrimSpace(raw) == "" {
			return newFieldError(listField("Precache.Shell", i), "不能为空")
		}
	}
	for i, raw := range c.Precache.CDN {
		if err := validateUpstream(raw); err != nil {
			return fmt.Errorf("%s: %w", listField("Precache.CDN", i), err)
		}
	}

	if strings.TrimSpace(c.Notification.Title) == "" {
		return newFieldError("Notification.Title", "不能为空")
	}

	return nil
}

// validateCacheToken 校验会拼接进缓存名的片段，缓存名同时用作目录名。
func validateCacheToken(token string) error {
	if token == "" {
		return errors.New("不能为空")
	}
	if strings.ContainsAny(token, `/\ `) {
		return errors.New("不允许包含路径分隔符或空格")
	}
	if token == "." || token == ".." {
		return errors.New("非法取值")
	}
	return nil
}

func validateOrigin(raw string) error {
	if err := validateUpstream(raw); err != nil {
		return err
	}
	parsed, _ := url.Parse(raw)
	if parsed.Path != "" && parsed.Path != "/" {
		return fmt.Errorf("Origin 不应包含路径: %s", raw)
	}
	return nil
}

// validateListenAddr 只接受 IP 或主机名，端口由 ListenPort 单独配置。空值表示默认回环地址。
func validateListenAddr(addr string) error {
	if addr == "" || net.ParseIP(addr) != nil {
		return nil
	}
	if strings.ContainsAny(addr, ":/ ") {
		return fmt.Errorf("非法监听地址: %s", addr)
	}
	return nil
}

func validateDomain(domain string) error {
	if strings.Contains(domain, "/") {
		return errors.New("Domain 不允许包含路径")
	}
	if strings.Contains(domain, " ") {
		return errors.New("Domain 不允许包含空格")
	}
	if strings.HasPrefix(domain, "http") {
		return errors.New("Domain 不应包含协议头")
	}
	return nil
}

func validateUpstream(raw string) error {
	if raw == "" {
		return errors.New("缺少地址")
	}
	parsed, err := url.Parse(raw)
	if err != nil {
		return err
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return fmt.Errorf("仅支持 http/https: %s", raw)
	}
	if parsed.Host == "" {
		return fmt.Errorf("缺少 Host: %s", raw)
	}
	return nil
}
