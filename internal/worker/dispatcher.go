package worker

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/sirupsen/logrus"
	"github.com/sourcegraph/conc/panics"
)

// Handler processes one event.
type Handler func(ctx context.Context, ev Event) error

var (
	// ErrDuplicateHandler indicates an event type already has a handler registered.
	ErrDuplicateHandler = errors.New("handler already registered")
	// ErrNoHandler indicates no handler is registered for the event type.
	ErrNoHandler = errors.New("no handler registered")
	// ErrHandlerPanic wraps a panic recovered at the handler boundary.
	ErrHandlerPanic = errors.New("handler panicked")
)

// Dispatcher routes events to exactly one handler per event type.
// Each dispatch is its own error boundary.
type Dispatcher struct {
	handlers sync.Map
	log      *logrus.Entry
}

// NewDispatcher creates an empty dispatcher.
func NewDispatcher(log *logrus.Entry) *Dispatcher {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	return &Dispatcher{log: log}
}

// Register stores the handler for the given event type.
func (d *Dispatcher) Register(eventType EventType, handler Handler) error {
	key := normalizeType(eventType)
	if key == "" {
		return errors.New("event type required")
	}
	if handler == nil {
		return errors.New("handler required")
	}
	if _, loaded := d.handlers.LoadOrStore(key, handler); loaded {
		return ErrDuplicateHandler
	}
	return nil
}

// MustRegister panics on registration failure.
func (d *Dispatcher) MustRegister(eventType EventType, handler Handler) {
	if err := d.Register(eventType, handler); err != nil {
		panic(err)
	}
}

// Lookup retrieves the handler for an event type.
func (d *Dispatcher) Lookup(eventType EventType) (Handler, bool) {
	key := normalizeType(eventType)
	if key == "" {
		return nil, false
	}
	if value, ok := d.handlers.Load(key); ok {
		if handler, ok := value.(Handler); ok {
			return handler, true
		}
	}
	return nil, false
}

// Status returns registration status for an event type.
func (d *Dispatcher) Status(eventType EventType) string {
	if _, ok := d.Lookup(eventType); ok {
		return "registered"
	}
	return "missing"
}

// Snapshot returns status for a list of event types.
func (d *Dispatcher) Snapshot(types []EventType) map[string]string {
	out := make(map[string]string, len(types))
	for _, t := range types {
		if normalized := normalizeType(t); normalized != "" {
			out[string(normalized)] = d.Status(normalized)
		}
	}
	return out
}

// Dispatch runs the handler and then waits for every WaitUntil task.
// Panics in the handler or its tasks are recovered and returned as ErrHandlerPanic.
func (d *Dispatcher) Dispatch(ctx context.Context, ev Event) error {
	handler, ok := d.Lookup(ev.Type())
	if !ok {
		return fmt.Errorf("%w: %s", ErrNoHandler, ev.Type())
	}
	ext := ev.extendable()
	ext.init(ctx)

	var handlerErr error
	var catcher panics.Catcher
	catcher.Try(func() { handlerErr = handler(ctx, ev) })

	var waitErr error
	var waitCatcher panics.Catcher
	waitCatcher.Try(func() { waitErr = ext.wait() })

	for _, c := range []*panics.Catcher{&catcher, &waitCatcher} {
		if recovered := c.Recovered(); recovered != nil {
			d.log.WithFields(logrus.Fields{
				"event": string(ev.Type()),
				"panic": fmt.Sprint(recovered.Value),
			}).Error("event_handler_panic")
			return fmt.Errorf("%w: %v", ErrHandlerPanic, recovered.Value)
		}
	}
	return errors.Join(handlerErr, waitErr)
}

func normalizeType(t EventType) EventType {
	return EventType(strings.ToLower(strings.TrimSpace(string(t))))
}
