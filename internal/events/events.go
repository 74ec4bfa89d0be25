// Package events fans workflow events out to registered handlers.
//
// Fan-out is fire-and-forget: each handler runs in its own goroutine with
// a bounded timeout, and a failing or panicking handler is logged and
// isolated so it can never stall the workflow that emitted the event.
package events

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/toolvet/toolvet/internal/review/model"
)

// defaultHandlerTimeout bounds a single handler invocation.
const defaultHandlerTimeout = 5 * time.Second

// Handler consumes workflow events. Implementations must honour the
// context deadline; the dispatcher will not wait longer than that.
type Handler interface {
	Name() string
	Handle(ctx context.Context, event model.Event) error
}

// Func adapts a plain function to the Handler interface under the given
// name. The name only appears in dispatcher logs.
func Func(name string, fn func(ctx context.Context, event model.Event) error) Handler {
	return funcHandler{name: name, fn: fn}
}

type funcHandler struct {
	name string
	fn   func(ctx context.Context, event model.Event) error
}

func (h funcHandler) Name() string { return h.name }

func (h funcHandler) Handle(ctx context.Context, event model.Event) error {
	return h.fn(ctx, event)
}

// Dispatcher delivers events to all registered handlers.
type Dispatcher struct {
	mu       sync.RWMutex
	handlers []Handler

	timeout time.Duration
	logger  *zap.Logger
	wg      sync.WaitGroup
}

// NewDispatcher creates a Dispatcher with the default per-handler timeout.
func NewDispatcher(logger *zap.Logger) *Dispatcher {
	return &Dispatcher{timeout: defaultHandlerTimeout, logger: logger}
}

// SetHandlerTimeout overrides the per-handler timeout. Must be called
// before the first Publish.
func (d *Dispatcher) SetHandlerTimeout(timeout time.Duration) {
	d.timeout = timeout
}

// Register adds a handler to the fan-out set. Safe to call while events
// are being published; the handler only sees events published after it
// was registered.
func (d *Dispatcher) Register(h Handler) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.handlers = append(d.handlers, h)
}

// Publish delivers the event to every registered handler, each in its
// own goroutine. It never blocks on handler execution.
func (d *Dispatcher) Publish(event model.Event) {
	d.mu.RLock()
	handlers := make([]Handler, len(d.handlers))
	copy(handlers, d.handlers)
	d.mu.RUnlock()

	for _, h := range handlers {
		d.wg.Add(1)
		go d.invoke(h, event)
	}
}

// Close waits for all in-flight handler invocations to finish. New
// events must not be published after Close.
func (d *Dispatcher) Close() {
	d.wg.Wait()
}

func (d *Dispatcher) invoke(h Handler, event model.Event) {
	defer d.wg.Done()
	defer func() {
		if r := recover(); r != nil {
			d.logger.Error("event handler panicked",
				zap.String("handler", h.Name()),
				zap.String("event_type", string(event.Type)),
				zap.Any("panic", r),
			)
		}
	}()

	ctx, cancel := context.WithTimeout(context.Background(), d.timeout)
	defer cancel()

	if err := h.Handle(ctx, event); err != nil {
		d.logger.Warn("event handler failed",
			zap.String("handler", h.Name()),
			zap.String("event_type", string(event.Type)),
			zap.String("review_id", event.ReviewID.String()),
			zap.Error(err),
		)
	}
}
