package cache

import (
	"net/http"
	"net/url"
	"strings"
)

// Fingerprint 是缓存键："METHOD 规范化URL"。同方法同 URL 的请求总是映射到同一条目，
// 与请求头等其它属性无关。
type Fingerprint string

// NewFingerprint 规范化 URL 并拼接方法：scheme/host 小写、去掉默认端口与 fragment，
// 空路径补为 "/"，query 原样保留。
func NewFingerprint(method string, u *url.URL) Fingerprint {
	method = strings.ToUpper(strings.TrimSpace(method))
	if method == "" {
		method = http.MethodGet
	}
	return Fingerprint(method + " " + NormalizeURL(u))
}

// FingerprintFor 从请求计算指纹。
func FingerprintFor(req *http.Request) Fingerprint {
	return NewFingerprint(req.Method, req.URL)
}

// NormalizeURL 返回用于缓存键的 URL 字符串。
func NormalizeURL(u *url.URL) string {
	if u == nil {
		return ""
	}
	clean := *u
	clean.User = nil
	clean.Fragment = ""
	clean.RawFragment = ""
	clean.Scheme = strings.ToLower(clean.Scheme)
	host := strings.ToLower(clean.Host)
	switch {
	case clean.Scheme == "http" && strings.HasSuffix(host, ":80"):
		host = strings.TrimSuffix(host, ":80")
	case clean.Scheme == "https" && strings.HasSuffix(host, ":443"):
		host = strings.TrimSuffix(host, ":443")
	}
	clean.Host = host
	if clean.Path == "" && clean.Opaque == "" {
		clean.Path = "/"
		clean.RawPath = ""
	}
	return clean.String()
}

// Method 返回指纹中的请求方法。
func (f Fingerprint) Method() string {
	method, _, _ := strings.Cut(string(f), " ")
	return method
}

// URL 返回指纹中的规范化 URL。
func (f Fingerprint) URL() string {
	_, rest, _ := strings.Cut(string(f), " ")
	return rest
}

// Storable 仅 GET 指纹允许写入缓存。
func (f Fingerprint) Storable() bool {
	return f.Method() == http.MethodGet
}
