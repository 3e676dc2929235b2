package strategy

import (
	"context"
	"errors"
	"net/http"

	"github.com/sirupsen/logrus"

	"github.com/any-hub/offline-hub/internal/cache"
	"github.com/any-hub/offline-hub/internal/category"
	"github.com/any-hub/offline-hub/internal/config"
	"github.com/any-hub/offline-hub/internal/logging"
)

// Source 标识响应的来源，用于响应头与日志。
type Source string

const (
	SourceNetwork     Source = "network"
	SourceCache       Source = "cache"
	SourceStale       Source = "stale"
	SourceFallback    Source = "fallback"
	SourceSynthesized Source = "synthesized"
	SourceNone        Source = "none"
	SourceBypass      Source = "bypass"
)

// Result 是一次请求的处理结果。Found 为 false 时 Response 为空，调用方需自行兜底。
type Result struct {
	Response  *http.Response
	Found     bool
	Source    Source
	Category  category.Category
	Strategy  category.Strategy
	CacheName string
	// Err 记录处理过程中遇到的最后一个网络/存储错误，仅用于日志。
	Err error
}

// CacheHit 表示响应是否来自缓存。
func (r Result) CacheHit() bool {
	return r.Source == SourceCache || r.Source == SourceStale || r.Source == SourceFallback
}

// Options 汇总 Engine 的依赖。
type Options struct {
	Fetcher Fetcher
	Storage cache.Storage
	Writer  *cache.Writer
	Runtime config.Runtime
	Logger  *logrus.Logger
}

// Engine 按分类把 GET 请求分派到对应的缓存策略。
type Engine struct {
	fetcher    Fetcher
	storage    cache.Storage
	writer     *cache.Writer
	names      config.CacheNames
	classifier category.Classifier
	log        *logrus.Entry
}

// NewEngine 校验依赖并构造 Engine。
func NewEngine(opts Options) (*Engine, error) {
	if opts.Fetcher == nil {
		return nil, errors.New("fetcher is required")
	}
	if opts.Storage == nil {
		return nil, errors.New("storage is required")
	}
	log := logging.Component(opts.Logger, "strategy")
	writer := opts.Writer
	if writer == nil {
		writer = cache.NewWriter(context.Background(), log)
	}
	return &Engine{
		fetcher:    opts.Fetcher,
		storage:    opts.Storage,
		writer:     writer,
		names:      opts.Runtime.Names,
		classifier: category.NewClassifier(opts.Runtime),
		log:        log,
	}, nil
}

// Serve 处理一个 GET 请求。非 GET 请求不做任何分类与缓存，直接返回 SourceBypass。
func (e *Engine) Serve(ctx context.Context, req *http.Request) Result {
	if req.Method != http.MethodGet {
		return Result{Source: SourceBypass}
	}

	cat := e.classifier.Classify(req.URL)
	binding, ok := category.Lookup(cat)
	if !ok {
		binding, _ = category.Lookup(category.Default)
	}

	var result Result
	switch binding.Strategy {
	case category.StaleWhileRevalidate:
		result = e.staleWhileRevalidate(ctx, req, binding)
	case category.CacheFirst:
		result = e.cacheFirst(ctx, req, binding)
	default:
		result = e.networkFirst(ctx, req, binding)
	}
	result.Category = binding.Category
	result.Strategy = binding.Strategy
	result.CacheName = binding.CacheName(e.names)
	return result
}

// staleWhileRevalidate 命中时立即返回旧值并在后台刷新；未命中时同步回源。
func (e *Engine) staleWhileRevalidate(ctx context.Context, req *http.Request, b category.Binding) Result {
	name := b.CacheName(e.names)
	fp := cache.FingerprintFor(req)

	store, err := e.storage.Open(ctx, name)
	if err != nil {
		e.warn(err, "cache_open_failed", name)
		return fallback(req, b, err)
	}

	cached, err := store.Match(ctx, fp)
	switch {
	case err == nil:
		e.revalidate(store, req, fp)
		return Result{Response: cached.Response(req), Found: true, Source: SourceStale}
	case !errors.Is(err, cache.ErrNotFound):
		e.warn(err, "cache_match_failed", name)
		return fallback(req, b, err)
	}

	fresh, err := FetchSnapshot(ctx, e.fetcher, req)
	if err != nil {
		return fallback(req, b, err)
	}
	if fresh.Status == http.StatusOK {
		e.writer.PutDetached(store, fp, fresh)
	}
	return Result{Response: fresh.Response(req), Found: true, Source: SourceNetwork}
}

// revalidate 在后台重新请求资源，成功时覆盖缓存，失败时静默丢弃。
func (e *Engine) revalidate(store cache.Store, req *http.Request, fp cache.Fingerprint) {
	detached := req.Clone(context.Background())
	e.writer.Go("revalidate", func(ctx context.Context) error {
		fresh, err := FetchSnapshot(ctx, e.fetcher, detached)
		if err != nil {
			return err
		}
		if fresh.Status != http.StatusOK {
			return nil
		}
		return store.Put(ctx, fp, fresh)
	}, logrus.Fields{"cache_name": store.Name(), "fingerprint": string(fp)})
}

// networkFirst 优先网络；仅当网络失败时才查缓存。
func (e *Engine) networkFirst(ctx context.Context, req *http.Request, b category.Binding) Result {
	name := b.CacheName(e.names)
	fp := cache.FingerprintFor(req)

	fresh, netErr := FetchSnapshot(ctx, e.fetcher, req)
	if netErr == nil {
		if fresh.Status == http.StatusOK {
			e.putDetached(name, fp, fresh)
		}
		return Result{Response: fresh.Response(req), Found: true, Source: SourceNetwork}
	}

	store, err := e.storage.Open(ctx, name)
	if err != nil {
		e.warn(err, "cache_open_failed", name)
		return fallback(req, b, netErr)
	}
	cached, err := store.Match(ctx, fp)
	if err == nil {
		return Result{Response: cached.Response(req), Found: true, Source: SourceFallback, Err: netErr}
	}
	if !errors.Is(err, cache.ErrNotFound) {
		e.warn(err, "cache_match_failed", name)
	}
	return fallback(req, b, netErr)
}

// cacheFirst 命中即返回，不触碰网络；未命中时回源并在 200 时写入。
func (e *Engine) cacheFirst(ctx context.Context, req *http.Request, b category.Binding) Result {
	name := b.CacheName(e.names)
	fp := cache.FingerprintFor(req)

	store, err := e.storage.Open(ctx, name)
	if err != nil {
		e.warn(err, "cache_open_failed", name)
	} else {
		cached, err := store.Match(ctx, fp)
		if err == nil {
			return Result{Response: cached.Response(req), Found: true, Source: SourceCache}
		}
		if !errors.Is(err, cache.ErrNotFound) {
			e.warn(err, "cache_match_failed", name)
		}
	}

	fresh, netErr := FetchSnapshot(ctx, e.fetcher, req)
	if netErr != nil {
		return fallback(req, b, netErr)
	}
	if fresh.Status == http.StatusOK && store != nil {
		e.writer.PutDetached(store, fp, fresh)
	}
	return Result{Response: fresh.Response(req), Found: true, Source: SourceNetwork}
}

// putDetached 在后台打开缓存并写入，整个过程都不阻塞响应。
func (e *Engine) putDetached(name string, fp cache.Fingerprint, snap *cache.Snapshot) {
	record := snap.Clone()
	e.writer.Go("cache_put", func(ctx context.Context) error {
		store, err := e.storage.Open(ctx, name)
		if err != nil {
			return err
		}
		return store.Put(ctx, fp, record)
	}, logrus.Fields{"cache_name": name, "fingerprint": string(fp)})
}

func (e *Engine) warn(err error, msg, cacheName string) {
	e.log.WithError(err).WithField("cache_name", cacheName).Warn(msg)
}

// fallback 返回分类配置的兜底响应；分类未配置兜底时 Found 为 false。
func fallback(req *http.Request, b category.Binding, cause error) Result {
	if b.Fallback.Status == 0 {
		return Result{Source: SourceNone, Err: cause}
	}
	snap := cache.Synthesize(b.Fallback.Status, b.Fallback.StatusText, b.Fallback.Body)
	return Result{Response: snap.Response(req), Found: true, Source: SourceSynthesized, Err: cause}
}
