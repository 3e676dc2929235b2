package routes

import (
	"encoding/json"
	"errors"
	"strings"

	"github.com/gofiber/fiber/v3"
	"github.com/sirupsen/logrus"

	"github.com/any-hub/offline-hub/internal/server"
	"github.com/any-hub/offline-hub/internal/version"
	"github.com/any-hub/offline-hub/internal/worker"
)

// RegisterWorkerRoutes 暴露 /-/ 下的 worker 事件入口与诊断接口。
func RegisterWorkerRoutes(app *fiber.App, w *worker.Worker, registry *server.OriginRegistry, logger *logrus.Logger) {
	if app == nil || w == nil {
		return
	}
	if logger == nil {
		logger = logrus.StandardLogger()
	}

	app.Get("/-/status", func(c fiber.Ctx) error {
		return c.JSON(encodeStatus(w, registry))
	})

	app.Post("/-/message", func(c fiber.Ctx) error {
		reply, replied, err := w.Message(c.Context(), append([]byte(nil), c.Body()...))
		if err != nil {
			return eventError(c, logger, worker.EventMessage, err)
		}
		if !replied {
			return c.SendStatus(fiber.StatusNoContent)
		}
		return c.JSON(reply)
	})

	app.Post("/-/push", func(c fiber.Ctx) error {
		shown, err := w.Push(c.Context(), append([]byte(nil), c.Body()...))
		if err != nil {
			return eventError(c, logger, worker.EventPush, err)
		}
		return c.Status(fiber.StatusCreated).JSON(shown)
	})

	app.Post("/-/notificationclick", func(c fiber.Ctx) error {
		var body struct {
			Action         string `json:"action"`
			NotificationID string `json:"notificationId"`
		}
		if err := decodeOptional(c.Body(), &body); err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid_json"})
		}
		outcome, err := w.NotificationClick(c.Context(), body.NotificationID, body.Action)
		if err != nil {
			return eventError(c, logger, worker.EventNotificationClick, err)
		}
		return c.JSON(outcome)
	})

	app.Post("/-/sync", func(c fiber.Ctx) error {
		var body struct {
			Tag string `json:"tag"`
		}
		if err := decodeOptional(c.Body(), &body); err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid_json"})
		}
		handled, err := w.Sync(c.Context(), body.Tag)
		if err != nil {
			return eventError(c, logger, worker.EventSync, err)
		}
		return c.JSON(fiber.Map{"tag": body.Tag, "handled": handled})
	})

	app.Get("/-/clients", func(c fiber.Ctx) error {
		return c.JSON(fiber.Map{"clients": w.Clients().MatchAll()})
	})

	app.Post("/-/clients", func(c fiber.Ctx) error {
		var body struct {
			URL string `json:"url"`
		}
		if err := decodeOptional(c.Body(), &body); err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid_json"})
		}
		if strings.TrimSpace(body.URL) == "" {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "url_required"})
		}
		return c.Status(fiber.StatusCreated).JSON(w.Clients().Open(body.URL))
	})

	app.Delete("/-/clients/:id", func(c fiber.Ctx) error {
		if !w.Clients().Close(c.Params("id")) {
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "client_not_found"})
		}
		return c.SendStatus(fiber.StatusNoContent)
	})

	app.Get("/-/notifications", func(c fiber.Ctx) error {
		return c.JSON(fiber.Map{"notifications": w.Notifications().List()})
	})
}

type statusPayload struct {
	Name         string            `json:"name"`
	Version      string            `json:"version"`
	CacheVersion string            `json:"cache_version"`
	State        string            `json:"state"`
	Origin       string            `json:"origin"`
	Aliases      []string          `json:"aliases"`
	ThirdParty   []string          `json:"third_party_hosts"`
	CacheNames   []string          `json:"cache_names"`
	Handlers     map[string]string `json:"handlers"`
}

var allEvents = []worker.EventType{
	worker.EventInstall,
	worker.EventActivate,
	worker.EventFetch,
	worker.EventMessage,
	worker.EventPush,
	worker.EventNotificationClick,
	worker.EventSync,
}

func encodeStatus(w *worker.Worker, registry *server.OriginRegistry) statusPayload {
	rt := w.Runtime()
	payload := statusPayload{
		Name:         version.Name,
		Version:      version.Version,
		CacheVersion: rt.Version,
		State:        string(w.State()),
		CacheNames:   rt.Names.All(),
		Handlers:     w.Dispatcher().Snapshot(allEvents),
	}
	if registry != nil {
		payload.Origin = registry.Origin().String()
		payload.Aliases = registry.Aliases()
		payload.ThirdParty = registry.ThirdPartyHosts()
	}
	return payload
}

func decodeOptional(body []byte, dst interface{}) error {
	if len(strings.TrimSpace(string(body))) == 0 {
		return nil
	}
	return json.Unmarshal(body, dst)
}

func eventError(c fiber.Ctx, logger *logrus.Logger, event worker.EventType, err error) error {
	code := "event_handler_failed"
	if errors.Is(err, worker.ErrHandlerPanic) {
		code = "event_handler_panic"
	}
	logger.WithError(err).WithFields(logrus.Fields{
		"action":     string(event),
		"request_id": server.RequestID(c),
	}).Error(code)
	return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": code})
}
