package category

import (
	"net/url"
	"path"
	"strings"

	"github.com/any-hub/offline-hub/internal/config"
)

var (
	imageExtensions  = map[string]struct{}{"jpg": {}, "jpeg": {}, "png": {}, "gif": {}, "webp": {}, "avif": {}, "svg": {}}
	videoExtensions  = map[string]struct{}{"mp4": {}, "webm": {}, "ogg": {}, "mov": {}}
	scriptExtensions = map[string]struct{}{"js": {}, "mjs": {}}
)

// Classifier 把 URL 映射到唯一分类。零值不可用，请使用 NewClassifier。
type Classifier struct {
	appOrigin     string
	cdnHost       string
	videoHosts    []string
	externalHosts []string
}

// NewClassifier 基于运行时配置构建分类器。
func NewClassifier(rt config.Runtime) Classifier {
	return Classifier{
		appOrigin:     originOf(rt.Origin),
		cdnHost:       rt.CDNHost,
		videoHosts:    rt.VideoHosts,
		externalHosts: rt.ExternalHosts,
	}
}

// Classify 按 Image → Video → External → HTMLOrScript → Default 的顺序判定，
// 第一条命中的规则决定结果。主机名匹配沿用子串包含语义。
func (c Classifier) Classify(u *url.URL) Category {
	if u == nil {
		return Default
	}
	p := u.EscapedPath()
	if p == "" {
		p = "/"
	}
	ext := extension(p)
	host := strings.ToLower(u.Hostname())
	origin := originOf(u)

	switch {
	case hasExt(imageExtensions, ext) ||
		(c.cdnHost != "" && strings.Contains(origin, c.cdnHost) && strings.Contains(p, "image")):
		return Image
	case hasExt(videoExtensions, ext) || containsAny(host, c.videoHosts):
		return Video
	case origin != c.appOrigin && containsAny(host, c.externalHosts):
		return External
	case strings.HasSuffix(p, ".html") || strings.HasSuffix(p, "/") || hasExt(scriptExtensions, ext):
		return HTMLOrScript
	default:
		return Default
	}
}

// originOf 返回 scheme://host[:port]，默认端口省略。
func originOf(u *url.URL) string {
	if u == nil {
		return ""
	}
	scheme := strings.ToLower(u.Scheme)
	host := strings.ToLower(u.Hostname())
	port := u.Port()
	if (scheme == "http" && port == "80") || (scheme == "https" && port == "443") {
		port = ""
	}
	if port != "" {
		host += ":" + port
	}
	return scheme + "://" + host
}

func extension(p string) string {
	return strings.ToLower(strings.TrimPrefix(path.Ext(p), "."))
}

func hasExt(set map[string]struct{}, ext string) bool {
	if ext == "" {
		return false
	}
	_, ok := set[ext]
	return ok
}

func containsAny(host string, needles []string) bool {
	for _, needle := range needles {
		if needle != "" && strings.Contains(host, needle) {
			return true
		}
	}
	return false
}
