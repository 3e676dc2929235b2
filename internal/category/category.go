package category

import (
	"github.com/any-hub/offline-hub/internal/config"
)

// Category 是请求的内容分类。
type Category string

const (
	Image        Category = "image"
	Video        Category = "video"
	External     Category = "external"
	HTMLOrScript Category = "html-or-script"
	Default      Category = "default"
)

// Strategy 标识缓存策略。
type Strategy string

const (
	StaleWhileRevalidate Strategy = "stale-while-revalidate"
	NetworkFirst         Strategy = "network-first"
	CacheFirst           Strategy = "cache-first"
)

// Fallback 描述网络失败且缓存未命中时的兜底行为。
type Fallback struct {
	// Status 为 0 表示不合成响应，交由调用方按"无响应"处理。
	Status     int
	StatusText string
	Body       string
}

// Binding 记录分类绑定的策略、缓存以及兜底响应。
type Binding struct {
	Category    Category
	Description string
	Strategy    Strategy
	Fallback    Fallback
	cacheName   func(config.CacheNames) string
}

// CacheName 返回该分类在当前版本下的物理缓存名。
func (b Binding) CacheName(names config.CacheNames) string {
	if b.cacheName == nil {
		return ""
	}
	return b.cacheName(names)
}

// bindings 按分类优先级排列，每个分类恰好绑定一个策略。
var bindings = []Binding{
	{
		Category:    Image,
		Description: "images tolerate staleness and are refreshed in the background",
		Strategy:    StaleWhileRevalidate,
		Fallback:    Fallback{Status: 404, StatusText: "Not Found", Body: "Image not available"},
		cacheName:   func(n config.CacheNames) string { return n.Images },
	},
	{
		Category:    Video,
		Description: "video streams prefer the network and fall back to cached copies",
		Strategy:    NetworkFirst,
		Fallback:    Fallback{Status: 503, StatusText: "Service Unavailable", Body: "Video not available offline"},
		cacheName:   func(n config.CacheNames) string { return n.Videos },
	},
	{
		Category:    External,
		Description: "third-party APIs, fonts and CDN resources",
		Strategy:    NetworkFirst,
		cacheName:   func(n config.CacheNames) string { return n.API },
	},
	{
		Category:    HTMLOrScript,
		Description: "application shell served from the precache",
		Strategy:    CacheFirst,
		cacheName:   func(n config.CacheNames) string { return n.Shell },
	},
	{
		Category:    Default,
		Description: "everything else, cached opportunistically",
		Strategy:    NetworkFirst,
		cacheName:   func(n config.CacheNames) string { return n.Dynamic },
	},
}

// Lookup 返回分类的绑定信息。
func Lookup(c Category) (Binding, bool) {
	for _, b := range bindings {
		if b.Category == c {
			return b, true
		}
	}
	return Binding{}, false
}

// List 按优先级返回全部绑定。
func List() []Binding {
	return append([]Binding(nil), bindings...)
}
