package events_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"go.uber.org/goleak"
	"go.uber.org/zap"

	"github.com/toolvet/toolvet/internal/events"
	"github.com/toolvet/toolvet/internal/review/model"
)

func testEvent(typ model.EventType) model.Event {
	return model.Event{
		ID:        uuid.New(),
		Type:      typ,
		ReviewID:  uuid.New(),
		ToolURI:   "tool://tools.example.com/file-reader",
		Timestamp: time.Now().UTC(),
	}
}

func TestDispatcher_fanOutReachesAllHandlers(t *testing.T) {
	defer goleak.VerifyNone(t)

	d := events.NewDispatcher(zap.NewNop())

	var mu sync.Mutex
	got := map[string]model.EventType{}
	for _, name := range []string{"first", "second", "third"} {
		name := name
		d.Register(events.Func(name, func(_ context.Context, e model.Event) error {
			mu.Lock()
			got[name] = e.Type
			mu.Unlock()
			return nil
		}))
	}

	d.Publish(testEvent(model.EventToolSubmitted))
	d.Close()

	if len(got) != 3 {
		t.Fatalf("expected 3 handler invocations, got %d", len(got))
	}
	for name, typ := range got {
		if typ != model.EventToolSubmitted {
			t.Errorf("handler %s saw event type %q", name, typ)
		}
	}
}

func TestDispatcher_failingHandlerIsIsolated(t *testing.T) {
	defer goleak.VerifyNone(t)

	d := events.NewDispatcher(zap.NewNop())

	var delivered atomic.Int32
	d.Register(events.Func("broken", func(context.Context, model.Event) error {
		return errors.New("downstream unavailable")
	}))
	d.Register(events.Func("healthy", func(context.Context, model.Event) error {
		delivered.Add(1)
		return nil
	}))

	d.Publish(testEvent(model.EventAnalysisCompleted))
	d.Close()

	if delivered.Load() != 1 {
		t.Errorf("healthy handler should still receive the event, got %d deliveries", delivered.Load())
	}
}

func TestDispatcher_panickingHandlerIsRecovered(t *testing.T) {
	defer goleak.VerifyNone(t)

	d := events.NewDispatcher(zap.NewNop())

	var delivered atomic.Int32
	d.Register(events.Func("panics", func(context.Context, model.Event) error {
		panic("handler bug")
	}))
	d.Register(events.Func("healthy", func(context.Context, model.Event) error {
		delivered.Add(1)
		return nil
	}))

	d.Publish(testEvent(model.EventHumanDecisionMade))
	d.Close()

	if delivered.Load() != 1 {
		t.Errorf("panic in one handler must not affect others, got %d deliveries", delivered.Load())
	}
}

func TestDispatcher_slowHandlerIsBounded(t *testing.T) {
	defer goleak.VerifyNone(t)

	d := events.NewDispatcher(zap.NewNop())
	d.SetHandlerTimeout(20 * time.Millisecond)

	d.Register(events.Func("slow", func(ctx context.Context, _ model.Event) error {
		<-ctx.Done()
		return ctx.Err()
	}))

	start := time.Now()
	d.Publish(testEvent(model.EventToolSigned))
	d.Close()

	if elapsed := time.Since(start); elapsed > time.Second {
		t.Errorf("dispatcher waited %v for a slow handler, expected the timeout to cut it off", elapsed)
	}
}

func TestDispatcher_lateRegistrationMissesEarlierEvents(t *testing.T) {
	defer goleak.VerifyNone(t)

	d := events.NewDispatcher(zap.NewNop())
	d.Publish(testEvent(model.EventToolSubmitted))

	var delivered atomic.Int32
	d.Register(events.Func("late", func(context.Context, model.Event) error {
		delivered.Add(1)
		return nil
	}))

	d.Publish(testEvent(model.EventToolSigned))
	d.Close()

	if delivered.Load() != 1 {
		t.Errorf("late handler should only see events published after registration, got %d", delivered.Load())
	}
}
