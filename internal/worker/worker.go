package worker

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/any-hub/offline-hub/internal/cache"
	"github.com/any-hub/offline-hub/internal/config"
	"github.com/any-hub/offline-hub/internal/control"
	"github.com/any-hub/offline-hub/internal/lifecycle"
	"github.com/any-hub/offline-hub/internal/logging"
	"github.com/any-hub/offline-hub/internal/strategy"
)

// OfflineBody 是策略无任何可用响应时返回的正文。
const OfflineBody = "Resource not available offline"

// Options 汇总 Worker 的依赖。
type Options struct {
	Engine        *strategy.Engine
	Lifecycle     *lifecycle.Controller
	Control       *control.Channel
	Clients       *Clients
	Notifications *Notifications
	Runtime       config.Runtime
	Logger        *logrus.Logger
	Now           func() time.Time
}

// ClickOutcome 描述一次通知点击的处理结果。
type ClickOutcome struct {
	Closed  bool    `json:"closed"`
	Focused *Client `json:"focused,omitempty"`
	Opened  *Client `json:"opened,omitempty"`
}

// Worker 把各类事件接入对应的处理器。
type Worker struct {
	dispatcher    *Dispatcher
	engine        *strategy.Engine
	lifecycle     *lifecycle.Controller
	control       *control.Channel
	clients       *Clients
	notifications *Notifications
	runtime       config.Runtime
	syncTags      map[string]struct{}
	now           func() time.Time
	log           *logrus.Entry
}

// New 构造 Worker 并注册全部默认处理器。
func New(opts Options) (*Worker, error) {
	if opts.Engine == nil {
		return nil, errors.New("engine is required")
	}
	if opts.Lifecycle == nil {
		return nil, errors.New("lifecycle controller is required")
	}
	if opts.Control == nil {
		return nil, errors.New("control channel is required")
	}
	if opts.Clients == nil {
		opts.Clients = NewClients()
	}
	if opts.Notifications == nil {
		opts.Notifications = NewNotifications()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	log := logging.Component(opts.Logger, "worker")
	w := &Worker{
		dispatcher:    NewDispatcher(log),
		engine:        opts.Engine,
		lifecycle:     opts.Lifecycle,
		control:       opts.Control,
		clients:       opts.Clients,
		notifications: opts.Notifications,
		runtime:       opts.Runtime,
		syncTags:      make(map[string]struct{}),
		now:           opts.Now,
		log:           log,
	}
	for _, tag := range opts.Runtime.Notification.SyncTags {
		if tag = strings.TrimSpace(tag); tag != "" {
			w.syncTags[tag] = struct{}{}
		}
	}

	handlers := map[EventType]Handler{
		EventInstall:           w.handleInstall,
		EventActivate:          w.handleActivate,
		EventFetch:             w.handleFetch,
		EventMessage:           w.handleMessage,
		EventPush:              w.handlePush,
		EventNotificationClick: w.handleNotificationClick,
		EventSync:              w.handleSync,
	}
	for eventType, handler := range handlers {
		if err := w.dispatcher.Register(eventType, handler); err != nil {
			return nil, err
		}
	}
	return w, nil
}

// Dispatcher 暴露事件分发器。
func (w *Worker) Dispatcher() *Dispatcher { return w.dispatcher }

// Clients 暴露客户端注册表。
func (w *Worker) Clients() *Clients { return w.clients }

// Notifications 暴露通知中心。
func (w *Worker) Notifications() *Notifications { return w.notifications }

// State 返回生命周期状态。
func (w *Worker) State() lifecycle.State { return w.lifecycle.State() }

// Runtime 返回运行时配置。
func (w *Worker) Runtime() config.Runtime { return w.runtime }

// Install 触发 install 事件。
func (w *Worker) Install(ctx context.Context) error {
	return w.dispatcher.Dispatch(ctx, &LifecycleEvent{Kind: EventInstall})
}

// Activate 触发 activate 事件。
func (w *Worker) Activate(ctx context.Context) (lifecycle.ActivateReport, error) {
	ev := &activateEvent{LifecycleEvent: LifecycleEvent{Kind: EventActivate}}
	err := w.dispatcher.Dispatch(ctx, ev)
	return ev.report, err
}

// Fetch 触发 fetch 事件。responded 为 false 时调用方应直接透传请求。
func (w *Worker) Fetch(ctx context.Context, req *http.Request) (strategy.Result, bool, error) {
	ev := &FetchEvent{Request: req}
	if err := w.dispatcher.Dispatch(ctx, ev); err != nil {
		return strategy.Result{}, false, err
	}
	result, responded := ev.Response()
	return result, responded, nil
}

// Message 触发 message 事件。未识别的消息不产生回复，replied 为 false。
func (w *Worker) Message(ctx context.Context, data []byte) (control.Reply, bool, error) {
	ev := &MessageEvent{Data: data, Port: make(chan control.Reply, 1)}
	if err := w.dispatcher.Dispatch(ctx, ev); err != nil {
		return control.Reply{}, false, err
	}
	select {
	case reply := <-ev.Port:
		return reply, true, nil
	default:
		return control.Reply{}, false, nil
	}
}

// Push 触发 push 事件并返回展示的通知。
func (w *Worker) Push(ctx context.Context, data []byte) (Notification, error) {
	ev := &pushEvent{PushEvent: PushEvent{Data: data, HasData: len(data) > 0}}
	err := w.dispatcher.Dispatch(ctx, ev)
	return ev.shown, err
}

// NotificationClick 触发 notificationclick 事件。
func (w *Worker) NotificationClick(ctx context.Context, notificationID, action string) (ClickOutcome, error) {
	ev := &clickEvent{NotificationClickEvent: NotificationClickEvent{Action: action, NotificationID: notificationID}}
	err := w.dispatcher.Dispatch(ctx, ev)
	return ev.outcome, err
}

// Sync 触发 sync 事件，返回标签是否被识别。
func (w *Worker) Sync(ctx context.Context, tag string) (bool, error) {
	ev := &syncEvent{SyncEvent: SyncEvent{Tag: tag}}
	err := w.dispatcher.Dispatch(ctx, ev)
	return ev.handled, err
}

type activateEvent struct {
	LifecycleEvent
	report lifecycle.ActivateReport
}

type pushEvent struct {
	PushEvent
	shown Notification
}

type clickEvent struct {
	NotificationClickEvent
	outcome ClickOutcome
}

type syncEvent struct {
	SyncEvent
	handled bool
}

func (w *Worker) handleInstall(_ context.Context, ev Event) error {
	ev.extendable().WaitUntil(func(ctx context.Context) error {
		return w.lifecycle.Install(ctx)
	})
	return nil
}

func (w *Worker) handleActivate(_ context.Context, ev Event) error {
	target, _ := ev.(*activateEvent)
	ev.extendable().WaitUntil(func(ctx context.Context) error {
		report, err := w.lifecycle.Activate(ctx)
		if target != nil {
			target.report = report
		}
		return err
	})
	return nil
}

func (w *Worker) handleFetch(ctx context.Context, ev Event) error {
	fetch, ok := ev.(*FetchEvent)
	if !ok || fetch.Request == nil || fetch.Request.Method != http.MethodGet {
		return nil
	}
	req := fetch.Request
	result := w.engine.Serve(ctx, req)
	if result.Source == strategy.SourceBypass {
		return nil
	}
	if !result.Found {
		snap := cache.Synthesize(http.StatusServiceUnavailable, "Service Unavailable", OfflineBody)
		result.Response = snap.Response(req)
		result.Found = true
	}

	entry := w.log.WithFields(logging.RequestFields(
		req.Method, req.URL.String(), string(result.Category), string(result.Strategy), result.CacheName, result.CacheHit(),
	)).WithField("source", string(result.Source))
	if result.Err != nil {
		entry = entry.WithError(result.Err)
	}
	entry.Debug("fetch_complete")
	return fetch.RespondWith(result)
}

func (w *Worker) handleMessage(ctx context.Context, ev Event) error {
	msg, ok := ev.(*MessageEvent)
	if !ok {
		return nil
	}
	action := control.Parse(msg.Data)
	if !control.Recognized(action) {
		return nil
	}
	ev.extendable().WaitUntil(func(ctx context.Context) error {
		w.control.Handle(ctx, control.Message{Action: action, Port: msg.Port})
		return nil
	})
	return nil
}

func (w *Worker) handlePush(_ context.Context, ev Event) error {
	push, ok := ev.(*pushEvent)
	if !ok {
		return nil
	}
	payload := ""
	if push.HasData {
		payload = push.Text()
	}
	notification := BuildNotification(w.runtime.Notification, payload, w.now())
	ev.extendable().WaitUntil(func(context.Context) error {
		push.shown = w.notifications.Show(notification)
		w.log.WithFields(logrus.Fields{"notification_id": push.shown.ID, "tag": push.shown.Tag}).Info("notification_shown")
		return nil
	})
	return nil
}

func (w *Worker) handleNotificationClick(_ context.Context, ev Event) error {
	click, ok := ev.(*clickEvent)
	if !ok {
		return nil
	}
	if click.NotificationID != "" {
		click.outcome.Closed = w.notifications.Close(click.NotificationID)
	}

	switch click.Action {
	case "open", "":
		ev.extendable().WaitUntil(func(context.Context) error {
			if client, found := w.clients.FindByPath("/"); found {
				focused, err := w.clients.Focus(client.ID)
				if err != nil {
					return err
				}
				click.outcome.Focused = &focused
				return nil
			}
			opened := w.clients.OpenWindow(w.rootURL())
			click.outcome.Opened = &opened
			return nil
		})
	case "dismiss":
	default:
		w.log.WithField("notification_action", click.Action).Debug("notification_action_ignored")
	}
	return nil
}

func (w *Worker) handleSync(_ context.Context, ev Event) error {
	syncEv, ok := ev.(*syncEvent)
	if !ok {
		return nil
	}
	if _, known := w.syncTags[syncEv.Tag]; !known {
		w.log.WithField("tag", syncEv.Tag).Debug("sync_tag_ignored")
		return nil
	}
	syncEv.handled = true
	ev.extendable().WaitUntil(func(context.Context) error {
		w.log.WithField("tag", syncEv.Tag).Info("background_sync")
		return nil
	})
	return nil
}

func (w *Worker) rootURL() string {
	if w.runtime.Origin == nil {
		return "/"
	}
	root := *w.runtime.Origin
	root.Path = "/"
	root.RawQuery = ""
	root.Fragment = ""
	return root.String()
}
