package routes

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gofiber/fiber/v3"
	"github.com/sirupsen/logrus"

	"github.com/any-hub/offline-hub/internal/cache"
	"github.com/any-hub/offline-hub/internal/config"
	"github.com/any-hub/offline-hub/internal/control"
	"github.com/any-hub/offline-hub/internal/lifecycle"
	"github.com/any-hub/offline-hub/internal/server"
	"github.com/any-hub/offline-hub/internal/strategy"
	"github.com/any-hub/offline-hub/internal/worker"
)

func TestStatusReportsLifecycleAndHandlers(t *testing.T) {
	env := newRouteEnv(t)

	var payload statusPayload
	env.getJSON(t, "/-/status", &payload)
	if payload.State != string(lifecycle.StateIdle) || payload.CacheVersion != "2.0.0" {
		t.Fatalf("unexpected status: %+v", payload)
	}
	if len(payload.CacheNames) != 5 || payload.CacheNames[0] != "iq-trainer-shell-2.0.0" {
		t.Fatalf("unexpected cache names: %v", payload.CacheNames)
	}
	for event, status := range payload.Handlers {
		if status != "registered" {
			t.Fatalf("handler for %s is %s", event, status)
		}
	}
	if len(payload.Handlers) != len(allEvents) {
		t.Fatalf("expected %d handlers, got %d", len(allEvents), len(payload.Handlers))
	}
}

func TestMessageEndpoint(t *testing.T) {
	env := newRouteEnv(t)
	store, _ := env.storage.Open(context.Background(), "Images")
	u := httptest.NewRequest(http.MethodGet, "https://app.example/a.png", nil)
	_ = store.Put(context.Background(), cache.FingerprintFor(u), cache.Synthesize(200, "OK", "x"))

	resp := env.post(t, "/-/message", `{"action":"getCacheStats"}`)
	var reply control.Reply
	decode(t, resp, &reply)
	if !reply.Success || len(reply.Stats) != 1 || reply.Stats[0].Name != "Images" || reply.Stats[0].Size != 1 {
		t.Fatalf("unexpected reply: %+v", reply)
	}

	unknown := env.post(t, "/-/message", `{"type":"ping"}`)
	if unknown.StatusCode != fiber.StatusNoContent {
		t.Fatalf("unknown message should get 204, got %d", unknown.StatusCode)
	}

	cleared := env.post(t, "/-/message", `{"action":"clearCache"}`)
	decode(t, cleared, &reply)
	if !reply.Success {
		t.Fatalf("clear failed: %+v", reply)
	}
	names, _ := env.storage.Names(context.Background())
	if len(names) != 0 {
		t.Fatalf("expected empty storage, got %v", names)
	}
}

func TestPushAndNotificationClickEndpoints(t *testing.T) {
	env := newRouteEnv(t)

	resp := env.post(t, "/-/push", "Streak saved")
	if resp.StatusCode != fiber.StatusCreated {
		t.Fatalf("expected 201, got %d", resp.StatusCode)
	}
	var shown worker.Notification
	decode(t, resp, &shown)
	if shown.Body != "Streak saved" || shown.ID == "" {
		t.Fatalf("unexpected notification: %+v", shown)
	}

	var listed struct {
		Notifications []worker.Notification `json:"notifications"`
	}
	env.getJSON(t, "/-/notifications", &listed)
	if len(listed.Notifications) != 1 {
		t.Fatalf("expected one notification, got %d", len(listed.Notifications))
	}

	click := env.post(t, "/-/notificationclick", `{"action":"open","notificationId":"`+shown.ID+`"}`)
	var outcome worker.ClickOutcome
	decode(t, click, &outcome)
	if !outcome.Closed || outcome.Opened == nil {
		t.Fatalf("unexpected outcome: %+v", outcome)
	}

	var clients struct {
		Clients []worker.Client `json:"clients"`
	}
	env.getJSON(t, "/-/clients", &clients)
	if len(clients.Clients) != 1 || clients.Clients[0].ID != outcome.Opened.ID {
		t.Fatalf("unexpected clients: %+v", clients.Clients)
	}

	bad := env.post(t, "/-/notificationclick", `{"action":`)
	if bad.StatusCode != fiber.StatusBadRequest {
		t.Fatalf("malformed body should get 400, got %d", bad.StatusCode)
	}
}

func TestSyncEndpoint(t *testing.T) {
	env := newRouteEnv(t)

	var result struct {
		Tag     string `json:"tag"`
		Handled bool   `json:"handled"`
	}
	decode(t, env.post(t, "/-/sync", `{"tag":"sync-history"}`), &result)
	if !result.Handled {
		t.Fatalf("sync-history should be handled")
	}
	decode(t, env.post(t, "/-/sync", `{"tag":"other"}`), &result)
	if result.Handled {
		t.Fatalf("other tags should be ignored")
	}
}

func TestClientsEndpoints(t *testing.T) {
	env := newRouteEnv(t)

	if resp := env.post(t, "/-/clients", `{}`); resp.StatusCode != fiber.StatusBadRequest {
		t.Fatalf("missing url should get 400, got %d", resp.StatusCode)
	}
	var opened worker.Client
	decode(t, env.post(t, "/-/clients", `{"url":"https://app.example/"}`), &opened)
	if opened.ID == "" || !opened.Focused {
		t.Fatalf("unexpected client: %+v", opened)
	}

	del := httptest.NewRequest(http.MethodDelete, "http://app.local/-/clients/"+opened.ID, nil)
	resp, err := env.app.Test(del)
	if err != nil || resp.StatusCode != fiber.StatusNoContent {
		t.Fatalf("delete = %v, %v", resp, err)
	}
	resp, _ = env.app.Test(httptest.NewRequest(http.MethodDelete, "http://app.local/-/clients/"+opened.ID, nil))
	if resp.StatusCode != fiber.StatusNotFound {
		t.Fatalf("second delete should get 404, got %d", resp.StatusCode)
	}
}

type routeEnv struct {
	app     *fiber.App
	storage cache.Storage
}

func newRouteEnv(t *testing.T) *routeEnv {
	t.Helper()
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("ok"))
	}))
	t.Cleanup(upstream.Close)

	cfg := &config.Config{
		Global: config.GlobalConfig{ListenPort: 5000},
		App:    config.AppConfig{Name: "iq-trainer", Origin: upstream.URL, Domain: "app.local", CacheVersion: "2.0.0"},
		Notification: config.NotificationConfig{
			Title:       "Daily IQ & Focus Trainer",
			DefaultBody: "Time for your daily training!",
			SyncTags:    []string{"sync-history"},
		},
	}
	rt, err := config.BuildRuntime(cfg)
	if err != nil {
		t.Fatalf("runtime error: %v", err)
	}
	storage, err := cache.NewDiskStorage(t.TempDir())
	if err != nil {
		t.Fatalf("storage error: %v", err)
	}
	logger := logrus.New()
	logger.SetOutput(io.Discard)

	writer := cache.NewWriter(context.Background(), nil)
	t.Cleanup(writer.Wait)
	engine, err := strategy.NewEngine(strategy.Options{Fetcher: upstream.Client(), Storage: storage, Writer: writer, Runtime: rt, Logger: logger})
	if err != nil {
		t.Fatalf("engine error: %v", err)
	}
	clients := worker.NewClients()
	ctrl, err := lifecycle.New(lifecycle.Options{Fetcher: upstream.Client(), Storage: storage, Runtime: rt, Clients: clients, Logger: logger})
	if err != nil {
		t.Fatalf("lifecycle error: %v", err)
	}
	w, err := worker.New(worker.Options{
		Engine:    engine,
		Lifecycle: ctrl,
		Control:   control.NewChannel(storage, logger),
		Clients:   clients,
		Runtime:   rt,
		Logger:    logger,
	})
	if err != nil {
		t.Fatalf("worker error: %v", err)
	}

	registry, err := server.NewOriginRegistry(cfg)
	if err != nil {
		t.Fatalf("registry error: %v", err)
	}
	app, err := server.NewApp(server.AppOptions{
		Logger:     logger,
		Registry:   registry,
		Proxy:      server.ProxyHandlerFunc(func(c fiber.Ctx, _ *server.Route) error { return c.SendStatus(fiber.StatusTeapot) }),
		ListenPort: 5000,
	})
	if err != nil {
		t.Fatalf("app error: %v", err)
	}
	RegisterWorkerRoutes(app, w, registry, logger)
	return &routeEnv{app: app, storage: storage}
}

func (e *routeEnv) post(t *testing.T, path, body string) *http.Response {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "http://app.local"+path, strings.NewReader(body))
	resp, err := e.app.Test(req)
	if err != nil {
		t.Fatalf("POST %s failed: %v", path, err)
	}
	return resp
}

func (e *routeEnv) getJSON(t *testing.T, path string, dst interface{}) {
	t.Helper()
	resp, err := e.app.Test(httptest.NewRequest(http.MethodGet, "http://app.local"+path, nil))
	if err != nil {
		t.Fatalf("GET %s failed: %v", path, err)
	}
	decode(t, resp, dst)
}

func decode(t *testing.T, resp *http.Response, dst interface{}) {
	t.Helper()
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	if err := json.Unmarshal(data, dst); err != nil {
		t.Fatalf("decode %s: %v", data, err)
	}
}
