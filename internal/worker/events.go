package worker

import (
	"context"
	"errors"
	"net/http"
	"sync"

	"github.com/sourcegraph/conc/pool"

	"github.com/any-hub/offline-hub/internal/control"
	"github.com/any-hub/offline-hub/internal/strategy"
)

// EventType identifies a worker event.
type EventType string

const (
	EventInstall           EventType = "install"
	EventActivate          EventType = "activate"
	EventFetch             EventType = "fetch"
	EventMessage           EventType = "message"
	EventPush              EventType = "push"
	EventNotificationClick EventType = "notificationclick"
	EventSync              EventType = "sync"
)

// ErrAlreadyResponded is returned when RespondWith is called twice on one fetch event.
var ErrAlreadyResponded = errors.New("fetch event already responded")

// Event is implemented by every dispatchable event.
type Event interface {
	Type() EventType
	extendable() *ExtendableEvent
}

// ExtendableEvent lets handlers register work the dispatcher must wait for
// before the event counts as complete.
type ExtendableEvent struct {
	once  sync.Once
	mu    sync.Mutex
	tasks *pool.ContextPool
}

// WaitUntil registers fn as part of the event's lifetime. Errors are
// reported by Dispatch after the handler returns.
func (e *ExtendableEvent) WaitUntil(fn func(ctx context.Context) error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.init(context.Background())
	e.tasks.Go(fn)
}

func (e *ExtendableEvent) init(ctx context.Context) {
	e.once.Do(func() {
		e.tasks = pool.New().WithContext(ctx)
	})
}

func (e *ExtendableEvent) wait() error {
	e.mu.Lock()
	tasks := e.tasks
	e.mu.Unlock()
	if tasks == nil {
		return nil
	}
	return tasks.Wait()
}

func (e *ExtendableEvent) extendable() *ExtendableEvent { return e }

// LifecycleEvent carries install and activate.
type LifecycleEvent struct {
	ExtendableEvent
	Kind EventType
}

// Type implements Event.
func (e *LifecycleEvent) Type() EventType { return e.Kind }

// FetchEvent wraps one GET or pass-through request.
type FetchEvent struct {
	ExtendableEvent
	Request *http.Request

	respMu    sync.Mutex
	responded bool
	result    strategy.Result
}

// Type implements Event.
func (e *FetchEvent) Type() EventType { return EventFetch }

// RespondWith claims the response for this request. Without it the
// request goes to the network untouched.
func (e *FetchEvent) RespondWith(result strategy.Result) error {
	e.respMu.Lock()
	defer e.respMu.Unlock()
	if e.responded {
		return ErrAlreadyResponded
	}
	e.responded = true
	e.result = result
	return nil
}

// Response returns the claimed result, if any.
func (e *FetchEvent) Response() (strategy.Result, bool) {
	e.respMu.Lock()
	defer e.respMu.Unlock()
	return e.result, e.responded
}

// MessageEvent carries a control message and its reply port.
type MessageEvent struct {
	ExtendableEvent
	Data []byte
	Port chan control.Reply
}

// Type implements Event.
func (e *MessageEvent) Type() EventType { return EventMessage }

// PushEvent carries an optional text payload.
type PushEvent struct {
	ExtendableEvent
	Data    []byte
	HasData bool
}

// Type implements Event.
func (e *PushEvent) Type() EventType { return EventPush }

// Text returns the payload as text.
func (e *PushEvent) Text() string { return string(e.Data) }

// NotificationClickEvent is raised when a user clicks a notification or one of its actions.
type NotificationClickEvent struct {
	ExtendableEvent
	Action         string
	NotificationID string
}

// Type implements Event.
func (e *NotificationClickEvent) Type() EventType { return EventNotificationClick }

// SyncEvent is a background sync request identified by tag.
type SyncEvent struct {
	ExtendableEvent
	Tag string
}

// Type implements Event.
func (e *SyncEvent) Type() EventType { return EventSync }
