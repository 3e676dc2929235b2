package config

import (
	"fmt"
	"path/filepath"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"
)

// 默认值与原始 Service Worker 保持一致。
var (
	defaultShellAssets = []string{
		"./",
		"index.html",
		"manifest.json",
		"icons/icon-72x72.png",
		"icons/icon-96x96.png",
		"icons/icon-152x152.png",
		"icons/icon-180x180.png",
		"icons/icon-167x167.png",
	}
	defaultCDNAssets = []string{
		"https://cdn.jsdelivr.net/npm/chart.js",
		"https://fonts.googleapis.com/css2?family=Orbitron:wght@500;700&family=Poppins:wght@400;600;700&display=swap",
	}
	defaultVideoHosts    = []string{"youtube.com", "vimeo.com"}
	defaultExternalHosts = []string{"googleapis.com", "gstatic.com", "cdn.jsdelivr.net", "fonts."}
)

// Load 读取并解析 TOML 配置文件，同时注入默认值与校验逻辑。
func Load(path string) (*Config, error) {
	if path == "" {
		path = "config.toml"
	}

	v := viper.New()
	v.SetConfigFile(path)
	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("读取配置失败: %w", err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg, viper.DecodeHook(mapstructure.ComposeDecodeHookFunc(
		durationDecodeHook(),
		mapstructure.StringToSliceHookFunc(","),
	))); err != nil {
		return nil, fmt.Errorf("解析配置失败: %w", err)
	}

	applyGlobalDefaults(&cfg.Global)
	applyAppDefaults(&cfg.App)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	absStorage, err := filepath.Abs(cfg.Global.StoragePath)
	if err != nil {
		return nil, fmt.Errorf("无法解析缓存目录: %w", err)
	}
	cfg.Global.StoragePath = absStorage

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("ListenAddr", DefaultListenAddr)
	v.SetDefault("ListenPort", 5000)
	v.SetDefault("LogLevel", "info")
	v.SetDefault("LogFilePath", "")
	v.SetDefault("LogMaxSize", 100)
	v.SetDefault("LogMaxBackups", 10)
	v.SetDefault("LogCompress", true)
	v.SetDefault("StoragePath", "./storage")
	v.SetDefault("StorageBackend", BackendDisk)
	v.SetDefault("UpstreamTimeout", "30s")

	v.SetDefault("App.Name", "iq-trainer")
	v.SetDefault("App.CacheVersion", "2.0.0")

	v.SetDefault("Precache.Shell", defaultShellAssets)
	v.SetDefault("Precache.CDN", defaultCDNAssets)

	v.SetDefault("Hosts.CDN", "cdn.jsdelivr.net")
	v.SetDefault("Hosts.Video", defaultVideoHosts)
	v.SetDefault("Hosts.External", defaultExternalHosts)

	v.SetDefault("Notification.Title", "Daily IQ & Focus Trainer")
	v.SetDefault("Notification.DefaultBody", "Time for your daily training!")
	v.SetDefault("Notification.Icon", "icons/icon-192x192.png")
	v.SetDefault("Notification.Badge", "icons/icon-96x96.png")
	v.SetDefault("Notification.Tag", "iq-trainer-notification")
	v.SetDefault("Notification.URL", "/")
	v.SetDefault("Notification.Vibrate", []int{100, 50, 100})
	v.SetDefault("Notification.RequireInteraction", false)
	v.SetDefault("Notification.SyncTags", []string{"sync-history"})
}

func applyGlobalDefaults(g *GlobalConfig) {
	g.ListenAddr = strings.TrimSpace(g.ListenAddr)
	if g.ListenAddr == "" {
		g.ListenAddr = DefaultListenAddr
	}
	if g.ListenPort == 0 {
		g.ListenPort = 5000
	}
	if g.UpstreamTimeout.DurationValue() == 0 {
		g.UpstreamTimeout = Duration(30 * time.Second)
	}
	g.StorageBackend = strings.ToLower(strings.TrimSpace(g.StorageBackend))
	if g.StorageBackend == "" {
		g.StorageBackend = BackendDisk
	}
}

func applyAppDefaults(a *AppConfig) {
	a.Name = strings.TrimSpace(a.Name)
	a.CacheVersion = strings.TrimSpace(a.CacheVersion)
	a.Origin = strings.TrimSuffix(strings.TrimSpace(a.Origin), "/")
	a.Domain = strings.ToLower(strings.TrimSpace(a.Domain))
}

func durationDecodeHook() mapstructure.DecodeHookFunc {
	targetType := reflect.TypeOf(Duration(0))

	return func(from reflect.Type, to reflect.Type, data interface{}) (interface{}, error) {
		if to != targetType {
			return data, nil
		}

		switch v := data.(type) {
		case string:
			if v == "" {
				return Duration(0), nil
			}
			if parsed, err := time.ParseDuration(v); err == nil {
				return Duration(parsed), nil
			}
			if seconds, err := strconv.ParseFloat(v, 64); err == nil {
				return Duration(time.Duration(seconds * float64(time.Second))), nil
			}
			return nil, fmt.Errorf("无法解析 Duration 字段: %s", v)
		case int:
			return Duration(time.Duration(v) * time.Second), nil
		case int64:
			return Duration(time.Duration(v) * time.Second), nil
		case float64:
			return Duration(time.Duration(v * float64(time.Second))), nil
		case time.Duration:
			return Duration(v), nil
		case Duration:
			return v, nil
		default:
			return nil, fmt.Errorf("不支持的 Duration 类型: %T", v)
		}
	}
}
