package config

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Duration 提供更灵活的反序列化能力，同时兼容纯秒整数与 Go Duration 字符串。
type Duration time.Duration

// UnmarshalText 使 Viper 可以识别诸如 "30s"、"5m" 或纯数字秒值等配置写法。
func (d *Duration) UnmarshalText(text []byte) error {
	raw := strings.TrimSpace(string(text))
	if raw == "" {
		*d = Duration(0)
		return nil
	}

	if parsed, err := time.ParseDuration(raw); err == nil {
		*d = Duration(parsed)
		return nil
	}

	if intVal, err := parseInt(raw); err == nil {
		*d = Duration(time.Duration(intVal) * time.Second)
		return nil
	}

	return fmt.Errorf("invalid duration value: %s", raw)
}

// DurationValue 返回真实的 time.Duration，便于调用方计算。
func (d Duration) DurationValue() time.Duration {
	return time.Duration(d)
}

// parseInt 支持十进制或 0x 前缀的十六进制字符串解析。
func parseInt(value string) (int64, error) {
	if strings.HasPrefix(value, "0x") || strings.HasPrefix(value, "0X") {
		return strconv.ParseInt(value, 0, 64)
	}
	return strconv.ParseInt(value, 10, 64)
}

// DefaultListenAddr 是未配置 ListenAddr 时绑定的地址。
const DefaultListenAddr = "127.0.0.1"

// 存储后端取值。
const (
	BackendDisk   = "disk"
	BackendSQLite = "sqlite"
)

// GlobalConfig 描述进程级运行参数：监听地址与端口、日志与缓存存储位置。
// ListenAddr 默认只绑定回环地址，/-/ 控制接口没有鉴权。
type GlobalConfig struct {
	ListenAddr      string   `mapstructure:"ListenAddr"`
	ListenPort      int      `mapstructure:"ListenPort"`
	LogLevel        string   `mapstructure:"LogLevel"`
	LogFilePath     string   `mapstructure:"LogFilePath"`
	LogMaxSize      int      `mapstructure:"LogMaxSize"`
	LogMaxBackups   int      `mapstructure:"LogMaxBackups"`
	LogCompress     bool     `mapstructure:"LogCompress"`
	StoragePath     string   `mapstructure:"StoragePath"`
	StorageBackend  string   `mapstructure:"StorageBackend"`
	UpstreamTimeout Duration `mapstructure:"UpstreamTimeout"`
}

// AppConfig 描述被托管的 Web 应用：缓存名前缀、版本号以及自身 Origin。
type AppConfig struct {
	Name         string `mapstructure:"Name"`
	Origin       string `mapstructure:"Origin"`
	Domain       string `mapstructure:"Domain"`
	CacheVersion string `mapstructure:"CacheVersion"`
}

// PrecacheConfig 列出安装阶段需要预缓存的资源。
// Shell 为必需资源（整体原子写入），CDN 为尽力而为的外部资源。
type PrecacheConfig struct {
	Shell []string `mapstructure:"Shell"`
	CDN   []string `mapstructure:"CDN"`
}

// HostsConfig 为分类器提供主机名白名单，匹配方式为子串包含。
type HostsConfig struct {
	CDN      string   `mapstructure:"CDN"`
	Video    []string `mapstructure:"Video"`
	External []string `mapstructure:"External"`
}

// NotificationConfig 是推送通知的固定模板以及后台同步可识别的 tag。
type NotificationConfig struct {
	Title              string   `mapstructure:"Title"`
	DefaultBody        string   `mapstructure:"DefaultBody"`
	Icon               string   `mapstructure:"Icon"`
	Badge              string   `mapstructure:"Badge"`
	Tag                string   `mapstructure:"Tag"`
	URL                string   `mapstructure:"URL"`
	Vibrate            []int    `mapstructure:"Vibrate"`
	RequireInteraction bool     `mapstructure:"RequireInteraction"`
	SyncTags           []string `mapstructure:"SyncTags"`
}

// Config 是 TOML 文件映射的整体结构。
type Config struct {
	Global       GlobalConfig       `mapstructure:",squash"`
	App          AppConfig          `mapstructure:"App"`
	Precache     PrecacheConfig     `mapstructure:"Precache"`
	Hosts        HostsConfig        `mapstructure:"Hosts"`
	Notification NotificationConfig `mapstructure:"Notification"`
}

// Summary 输出启动日志使用的摘要字段。
func (c *Config) Summary() map[string]interface{} {
	return map[string]interface{}{
		"app":             c.App.Name,
		"origin":          c.App.Origin,
		"cache_version":   c.App.CacheVersion,
		"storage_backend": c.Global.StorageBackend,
		"shell_assets":    len(c.Precache.Shell),
		"cdn_assets":      len(c.Precache.CDN),
	}
}
