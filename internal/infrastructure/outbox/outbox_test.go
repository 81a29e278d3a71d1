package outbox

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	domoutbox "github.com/Zhima-Mochi/stockledger/internal/domain/outbox"
)

type pingEvent struct{ id string }

func (pingEvent) EventName() string { return "test.ping" }

func newTestBus(t *testing.T, maxDeliveries int) *Bus {
	t.Helper()
	b := NewBus(nil, nil, Options{MaxDeliveries: maxDeliveries, Backoff: time.Millisecond, HandlerTimeout: time.Second})
	b.Start(context.Background())
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		b.Stop(ctx)
	})
	return b
}

func waitFor(t *testing.T, ch <-chan struct{}) {
	t.Helper()
	select {
	case <-ch:
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for delivery")
	}
}

func TestBusRedeliversUntilHandlerSucceeds(t *testing.T) {
	b := newTestBus(t, 5)
	var calls atomic.Int32
	done := make(chan struct{})
	b.Subscribe("test.ping", func(ctx context.Context, e domoutbox.Event) error {
		if calls.Add(1) < 3 {
			return errors.New("not yet")
		}
		close(done)
		return nil
	})

	if err := b.Publish(context.Background(), pingEvent{id: "1"}); err != nil {
		t.Fatalf("publish: %v", err)
	}
	waitFor(t, done)
	if calls.Load() != 3 {
		t.Fatalf("expected 3 deliveries, got %d", calls.Load())
	}
}

func TestBusDeadLettersAfterMaxDeliveries(t *testing.T) {
	b := NewBus(nil, nil, Options{MaxDeliveries: 3, Backoff: time.Millisecond})
	b.Start(context.Background())
	var calls atomic.Int32
	b.Subscribe("test.ping", func(ctx context.Context, e domoutbox.Event) error {
		calls.Add(1)
		return errors.New("always")
	})

	if err := b.Publish(context.Background(), pingEvent{}); err != nil {
		t.Fatalf("publish: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	b.Stop(ctx)

	if calls.Load() != 3 {
		t.Fatalf("expected 3 deliveries before dead-lettering, got %d", calls.Load())
	}
}

func TestBusRecoversPanickingHandler(t *testing.T) {
	b := newTestBus(t, 2)
	var calls atomic.Int32
	done := make(chan struct{})
	b.Subscribe("test.ping", func(ctx context.Context, e domoutbox.Event) error {
		if calls.Add(1) == 1 {
			panic("boom")
		}
		close(done)
		return nil
	})

	if err := b.Publish(context.Background(), pingEvent{}); err != nil {
		t.Fatalf("publish: %v", err)
	}
	waitFor(t, done)
}

func TestBusAppliesMiddlewareInOrder(t *testing.T) {
	b := newTestBus(t, 1)
	var trail []string
	done := make(chan struct{})
	mark := func(tag string) Middleware {
		return func(name string, next domoutbox.Handler) domoutbox.Handler {
			return func(ctx context.Context, e domoutbox.Event) error {
				trail = append(trail, tag+":"+name)
				return next(ctx, e)
			}
		}
	}
	b.Use(mark("outer"), mark("inner"))
	b.Subscribe("test.ping", func(ctx context.Context, e domoutbox.Event) error {
		close(done)
		return nil
	})

	if err := b.Publish(context.Background(), pingEvent{}); err != nil {
		t.Fatalf("publish: %v", err)
	}
	waitFor(t, done)
	if len(trail) != 2 || trail[0] != "outer:test.ping" || trail[1] != "inner:test.ping" {
		t.Fatalf("unexpected middleware order: %v", trail)
	}
}

func TestBusDrainsOnStopAndRefusesAfter(t *testing.T) {
	b := NewBus(nil, nil, Options{})
	var delivered atomic.Int32
	b.Subscribe("test.ping", func(ctx context.Context, e domoutbox.Event) error {
		delivered.Add(1)
		return nil
	})
	b.Start(context.Background())
	for i := 0; i < 10; i++ {
		if err := b.Publish(context.Background(), pingEvent{}); err != nil {
			t.Fatalf("publish %d: %v", i, err)
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	b.Stop(ctx)

	if delivered.Load() != 10 {
		t.Fatalf("expected queued events to drain, got %d", delivered.Load())
	}
	if err := b.Publish(context.Background(), pingEvent{}); !errors.Is(err, ErrBusClosed) {
		t.Fatalf("expected ErrBusClosed, got %v", err)
	}
}

func TestBusFailingEventDoesNotHoldBackOthers(t *testing.T) {
	b := NewBus(nil, nil, Options{MaxDeliveries: 5, Backoff: 100 * time.Millisecond, HandlerTimeout: time.Second})
	b.Start(context.Background())
	release := make(chan struct{})
	t.Cleanup(func() {
		close(release)
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		b.Stop(ctx)
	})

	var stuckCalls atomic.Int32
	healthy := make(chan struct{})
	b.Subscribe("test.ping", func(ctx context.Context, e domoutbox.Event) error {
		if e.(pingEvent).id == "stuck" {
			stuckCalls.Add(1)
			select {
			case <-release:
			case <-ctx.Done():
			}
			return errors.New("storage unavailable")
		}
		close(healthy)
		return nil
	})

	if err := b.Publish(context.Background(), pingEvent{id: "stuck"}); err != nil {
		t.Fatalf("publish: %v", err)
	}
	if err := b.Publish(context.Background(), pingEvent{id: "healthy"}); err != nil {
		t.Fatalf("publish: %v", err)
	}
	waitFor(t, healthy)
	if n := stuckCalls.Load(); n != 1 {
		t.Fatalf("expected the failing event to still be on its first delivery, got %d", n)
	}
}

func TestBusSingleSlotKeepsOrder(t *testing.T) {
	b := NewBus(nil, nil, Options{Concurrency: 1, Backoff: time.Millisecond})
	var mu sync.Mutex
	var seen []string
	b.Subscribe("test.ping", func(ctx context.Context, e domoutbox.Event) error {
		mu.Lock()
		defer mu.Unlock()
		seen = append(seen, e.(pingEvent).id)
		return nil
	})
	b.Start(context.Background())
	for _, id := range []string{"a", "b", "c"} {
		if err := b.Publish(context.Background(), pingEvent{id: id}); err != nil {
			t.Fatalf("publish %s: %v", id, err)
		}
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	b.Stop(ctx)

	mu.Lock()
	defer mu.Unlock()
	if len(seen) != 3 || seen[0] != "a" || seen[1] != "b" || seen[2] != "c" {
		t.Fatalf("expected in-order delivery, got %v", seen)
	}
}
