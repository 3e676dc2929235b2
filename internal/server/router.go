package server

import (
	"errors"
	"fmt"
	"strings"

	"github.com/gofiber/fiber/v3"
	"github.com/gofiber/fiber/v3/middleware/recover"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// ProxyHandler turns an inbound request into a fetch event for the resolved
// route. Tests inject fakes through ProxyHandlerFunc.
type ProxyHandler interface {
	Handle(fiber.Ctx, *Route) error
}

// ProxyHandlerFunc adapts a function to the ProxyHandler interface.
type ProxyHandlerFunc func(fiber.Ctx, *Route) error

// Handle makes ProxyHandlerFunc satisfy ProxyHandler.
func (f ProxyHandlerFunc) Handle(c fiber.Ctx, route *Route) error {
	return f(c, route)
}

// AppOptions controls how the Fiber application should behave.
type AppOptions struct {
	Logger     *logrus.Logger
	Registry   *OriginRegistry
	Proxy      ProxyHandler
	ListenPort int
}

const localsRequestID = "_offlinehub_request_id"

// NewApp builds the Fiber application. Every request gets an X-Request-ID;
// requests outside /-/ must resolve to a configured origin before they reach
// the proxy, others are answered 404 host_unmapped. /-/ paths fall through to
// routes registered afterwards.
func NewApp(opts AppOptions) (*fiber.App, error) {
	switch {
	case opts.Logger == nil:
		return nil, errors.New("logger is required")
	case opts.Registry == nil:
		return nil, errors.New("origin registry is required")
	case opts.Proxy == nil:
		return nil, errors.New("proxy handler is required")
	case opts.ListenPort <= 0:
		return nil, fmt.Errorf("invalid listen port: %d", opts.ListenPort)
	}

	app := fiber.New(fiber.Config{
		CaseSensitive: true,
	})
	app.Use(recover.New())
	app.Use(assignRequestID)

	resolve := originResolver(opts.Registry, opts.Logger.WithField("component", "router"))
	app.All("/*", func(c fiber.Ctx) error {
		if isControlPath(c) {
			return c.Next()
		}
		route, err := resolve(c)
		if err != nil {
			return err
		}
		if route == nil {
			return nil
		}
		return opts.Proxy.Handle(c, route)
	})

	return app, nil
}

func assignRequestID(c fiber.Ctx) error {
	id := uuid.NewString()
	c.Locals(localsRequestID, id)
	c.Set("X-Request-ID", id)
	return c.Next()
}

// originResolver 根据 Host 与 X-Forwarded-Proto 查找目标源站。
// 未配置的 Host 直接写回 404，返回的 route 为 nil。
func originResolver(registry *OriginRegistry, log *logrus.Entry) func(fiber.Ctx) (*Route, error) {
	return func(c fiber.Ctx) (*Route, error) {
		host := strings.TrimSpace(inboundHost(c))
		proto := string(c.Request().Header.Peek("X-Forwarded-Proto"))
		if route, ok := registry.Lookup(host, proto); ok {
			return route, nil
		}

		log.WithFields(logrus.Fields{
			"action":     "route",
			"host":       host,
			"path":       string(c.Request().URI().Path()),
			"request_id": RequestID(c),
		}).Warn("host_unmapped")
		return nil, c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"error": "host_unmapped",
			"host":  host,
		})
	}
}

func inboundHost(c fiber.Ctx) string {
	if raw := c.Request().Header.Peek(fiber.HeaderHost); len(raw) > 0 {
		return string(raw)
	}
	return c.Hostname()
}

// RequestID returns the request identifier stored by the router middleware.
func RequestID(c fiber.Ctx) string {
	id, _ := c.Locals(localsRequestID).(string)
	return id
}

func isControlPath(c fiber.Ctx) bool {
	return strings.HasPrefix(string(c.Request().URI().Path()), "/-/")
}
