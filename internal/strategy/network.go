package strategy

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/any-hub/offline-hub/internal/cache"
)

// Fetcher 执行真实网络请求，*http.Client 即满足该接口。
type Fetcher interface {
	Do(req *http.Request) (*http.Response, error)
}

// FetcherFunc 让普通函数满足 Fetcher，便于测试注入。
type FetcherFunc func(req *http.Request) (*http.Response, error)

// Do 实现 Fetcher。
func (f FetcherFunc) Do(req *http.Request) (*http.Response, error) {
	return f(req)
}

// ErrNetwork 包装所有网络层失败（连接失败、超时、正文读取失败）。
var ErrNetwork = errors.New("network request failed")

// FetchSnapshot 发起网络请求并把响应完整读入快照。HTTP 状态码不视为失败，
// 只有传输层错误才返回 ErrNetwork。
func FetchSnapshot(ctx context.Context, fetcher Fetcher, req *http.Request) (*cache.Snapshot, error) {
	outreq := req.Clone(ctx)
	outreq.RequestURI = ""

	resp, err := fetcher.Do(outreq)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNetwork, err)
	}
	snap, err := cache.Capture(resp)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNetwork, err)
	}
	snap.Key = cache.FingerprintFor(req)
	return snap, nil
}
