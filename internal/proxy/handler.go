package proxy

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gofiber/fiber/v3"
	"github.com/sirupsen/logrus"

	"github.com/any-hub/offline-hub/internal/server"
	"github.com/any-hub/offline-hub/internal/strategy"
	"github.com/any-hub/offline-hub/internal/worker"
)

const (
	headerCache    = "X-Offline-Hub-Cache"
	headerCategory = "X-Offline-Hub-Category"
)

// FetchDispatcher 把请求作为 fetch 事件派发；responded 为 false 表示应直接透传。
type FetchDispatcher interface {
	Fetch(ctx context.Context, req *http.Request) (strategy.Result, bool, error)
}

// Handler 把 Fiber 请求转换为 fetch 事件，并把策略结果写回客户端。
// 未被 fetch 处理器认领的请求（非 GET）原样透传到上游。
type Handler struct {
	events FetchDispatcher
	client *http.Client
	logger *logrus.Logger
}

// NewHandler constructs the fetch bridge. client only carries pass-through
// requests; nil selects server.NewPassThroughClient defaults.
func NewHandler(events FetchDispatcher, client *http.Client, logger *logrus.Logger) *Handler {
	if client == nil {
		client = server.NewPassThroughClient(nil)
	}
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Handler{events: events, client: client, logger: logger}
}

// Handle 实现 server.ProxyHandler。
func (h *Handler) Handle(c fiber.Ctx, route *server.Route) (err error) {
	started := time.Now()
	requestID := server.RequestID(c)
	defer func() {
		if r := recover(); r != nil {
			err = h.respondHandlerPanic(c, route, fmt.Errorf("panic: %v", r), requestID)
		}
	}()

	ctx := c.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	req, err := buildUpstreamRequest(ctx, c, route)
	if err != nil {
		h.logResult(route, c.Method(), "", requestID, 0, "", started, err)
		return h.writeError(c, fiber.StatusBadRequest, "invalid_request")
	}

	result, responded, err := h.events.Fetch(ctx, req)
	switch {
	case errors.Is(err, worker.ErrHandlerPanic):
		return h.respondHandlerPanic(c, route, err, requestID)
	case err != nil:
		h.logResult(route, req.Method, req.URL.String(), requestID, 0, "", started, err)
		return h.writeError(c, fiber.StatusInternalServerError, "fetch_handler_failed")
	case !responded:
		return h.passThrough(c, route, req, requestID, started)
	}

	resp := result.Response
	defer resp.Body.Close()
	copyResponseHeaders(c, resp.Header)
	c.Set(headerCache, cacheHeaderValue(result.Source))
	c.Set(headerCategory, string(result.Category))
	if requestID != "" {
		c.Set("X-Request-ID", requestID)
	}
	c.Status(resp.StatusCode)

	_, err = io.Copy(c.Response().BodyWriter(), resp.Body)
	h.logResult(route, req.Method, req.URL.String(), requestID, resp.StatusCode, result.Source, started, err)
	if err != nil {
		return fiber.NewError(fiber.StatusBadGateway, fmt.Sprintf("write response failed: %v", err))
	}
	return nil
}

// passThrough 把请求原样发往上游，不分类也不缓存。
func (h *Handler) passThrough(c fiber.Ctx, route *server.Route, req *http.Request, requestID string, started time.Time) error {
	resp, err := h.client.Do(req)
	if err != nil {
		h.logResult(route, req.Method, req.URL.String(), requestID, 0, strategy.SourceBypass, started, err)
		return h.writeError(c, fiber.StatusBadGateway, "upstream_failed")
	}
	defer resp.Body.Close()

	copyResponseHeaders(c, resp.Header)
	c.Set(headerCache, cacheHeaderValue(strategy.SourceBypass))
	if requestID != "" {
		c.Set("X-Request-ID", requestID)
	}
	c.Status(resp.StatusCode)

	if req.Method == http.MethodHead {
		h.logResult(route, req.Method, req.URL.String(), requestID, resp.StatusCode, strategy.SourceBypass, started, nil)
		return nil
	}
	_, err = io.Copy(c.Response().BodyWriter(), resp.Body)
	h.logResult(route, req.Method, req.URL.String(), requestID, resp.StatusCode, strategy.SourceBypass, started, err)
	if err != nil {
		return fiber.NewError(fiber.StatusBadGateway, fmt.Sprintf("proxy stream failed: %v", err))
	}
	return nil
}

func (h *Handler) respondHandlerPanic(c fiber.Ctx, route *server.Route, cause error, requestID string) error {
	fields := routeFields(route, requestID)
	fields["action"] = "fetch"
	fields["error"] = "fetch_handler_panic"
	h.logger.WithFields(fields).Error(cause.Error())
	if requestID != "" {
		c.Set("X-Request-ID", requestID)
	}
	return c.Status(fiber.StatusInternalServerError).
		JSON(fiber.Map{"error": "fetch_handler_panic"})
}

func (h *Handler) writeError(c fiber.Ctx, status int, code string) error {
	return c.Status(status).JSON(fiber.Map{"error": code})
}

func (h *Handler) logResult(
	route *server.Route,
	method string,
	target string,
	requestID string,
	status int,
	source strategy.Source,
	started time.Time,
	err error,
) {
	fields := routeFields(route, requestID)
	fields["action"] = "fetch"
	fields["method"] = method
	fields["url"] = target
	fields["status"] = status
	fields["source"] = string(source)
	fields["elapsed_ms"] = time.Since(started).Milliseconds()
	if err != nil {
		fields["error"] = err.Error()
		h.logger.WithFields(fields).Error("fetch_failed")
		return
	}
	h.logger.WithFields(fields).Info("fetch_complete")
}

func routeFields(route *server.Route, requestID string) logrus.Fields {
	fields := logrus.Fields{"host": "", "app_origin": false}
	if route != nil {
		fields["host"] = route.Host
		fields["app_origin"] = route.App
	}
	if requestID != "" {
		fields["request_id"] = requestID
	}
	return fields
}

// buildUpstreamRequest 以目标源站 + 原始 path?query 构造上游请求，透传非 hop-by-hop 头。
func buildUpstreamRequest(ctx context.Context, c fiber.Ctx, route *server.Route) (*http.Request, error) {
	target, err := resolveUpstreamURL(route, c)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, c.Method(), target.String(), bytesReader(c.Body()))
	if err != nil {
		return nil, err
	}

	server.CopyHeaders(req.Header, fiberHeadersAsHTTP(c))
	req.Header.Del("Accept-Encoding")
	req.Host = target.Host
	req.Header.Set("X-Forwarded-Host", c.Hostname())
	if ip := c.IP(); ip != "" {
		if prior := req.Header.Get("X-Forwarded-For"); prior != "" {
			req.Header.Set("X-Forwarded-For", prior+", "+ip)
		} else {
			req.Header.Set("X-Forwarded-For", ip)
		}
	}
	req.Header.Set("X-Forwarded-Port", routePort(route))
	return req, nil
}

func resolveUpstreamURL(route *server.Route, c fiber.Ctx) (*url.URL, error) {
	if route == nil || route.Target == nil {
		return nil, errors.New("route target is required")
	}
	uri := c.Request().URI()
	rawPath := string(uri.PathOriginal())
	if rawPath == "" || !strings.HasPrefix(rawPath, "/") {
		rawPath = "/" + strings.TrimPrefix(rawPath, "/")
	}
	if idx := strings.IndexByte(rawPath, '?'); idx >= 0 {
		rawPath = rawPath[:idx]
	}
	relative, err := url.Parse(rawPath)
	if err != nil {
		return nil, fmt.Errorf("invalid request path: %w", err)
	}
	target := *route.Target
	target.Path = relative.Path
	target.RawPath = relative.RawPath
	target.RawQuery = string(uri.QueryString())
	return &target, nil
}

func cacheHeaderValue(source strategy.Source) string {
	switch source {
	case strategy.SourceCache:
		return "hit"
	case strategy.SourceNetwork:
		return "miss"
	case strategy.SourceStale:
		return "stale"
	case strategy.SourceFallback:
		return "fallback"
	case strategy.SourceBypass:
		return "bypass"
	default:
		return "synthesized"
	}
}

func bytesReader(b []byte) io.Reader {
	if len(b) == 0 {
		return http.NoBody
	}
	return bytes.NewReader(append([]byte(nil), b...))
}

func fiberHeadersAsHTTP(c fiber.Ctx) http.Header {
	header := http.Header{}
	c.Request().Header.VisitAll(func(key, value []byte) {
		header.Add(string(key), string(value))
	})
	return header
}

func copyResponseHeaders(c fiber.Ctx, headers http.Header) {
	for key, values := range headers {
		if server.IsHopByHopHeader(key) || strings.EqualFold(key, "Content-Length") {
			continue
		}
		for _, value := range values {
			c.Response().Header.Add(key, value)
		}
	}
}

func routePort(route *server.Route) string {
	if route == nil || route.ListenPort <= 0 {
		return "0"
	}
	return fmt.Sprintf("%d", route.ListenPort)
}
