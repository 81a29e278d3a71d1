package outbox

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	domoutbox "github.com/Zhima-Mochi/stockledger/internal/domain/outbox"
	"github.com/Zhima-Mochi/stockledger/internal/observability"
	"github.com/Zhima-Mochi/stockledger/internal/observability/logctx"
)

const componentOutbox = "outbox"

var ErrBusClosed = errors.New("outbox: bus closed")

// Middleware decorates every handler at delivery time.
type Middleware func(eventName string, h domoutbox.Handler) domoutbox.Handler

// Options tune the bus. Concurrency bounds the events in delivery at once and,
// separately, the handlers running for one event.
type Options struct {
	QueueSize      int
	Concurrency    int
	MaxDeliveries  int
	Backoff        time.Duration
	HandlerTimeout time.Duration
}

func DefaultOptions() Options {
	return Options{
		QueueSize:      1024,
		Concurrency:    8,
		MaxDeliveries:  5,
		Backoff:        100 * time.Millisecond,
		HandlerTimeout: 30 * time.Second,
	}
}

// Bus is an in-memory event bus with at-least-once delivery per subscriber. A handler
// that returns an error is retried with exponential backoff until MaxDeliveries, then
// the event is dead-lettered to the log. Nothing survives a restart.
type Bus struct {
	mu          sync.RWMutex
	subs        map[string][]domoutbox.Handler
	middlewares []Middleware

	// closeMu guards closed and the queue's close; the dispatcher never takes it.
	closeMu sync.RWMutex
	closed  bool

	queue     chan domoutbox.Event
	slots     chan struct{}
	startOnce sync.Once
	stopOnce  sync.Once
	cancel    context.CancelFunc
	done      chan struct{}
	opts      Options

	log        observability.Logger
	deliveries observability.Counter // event_deliveries_total{event,outcome}
}

func NewBus(logger observability.Logger, tel observability.Observability, opts Options) *Bus {
	if tel == nil {
		tel = observability.Nop()
	}
	if logger == nil {
		logger = tel.Logger()
	}
	def := DefaultOptions()
	if opts.QueueSize <= 0 {
		opts.QueueSize = def.QueueSize
	}
	if opts.Concurrency <= 0 {
		opts.Concurrency = def.Concurrency
	}
	if opts.MaxDeliveries <= 0 {
		opts.MaxDeliveries = def.MaxDeliveries
	}
	if opts.Backoff <= 0 {
		opts.Backoff = def.Backoff
	}
	if opts.HandlerTimeout <= 0 {
		opts.HandlerTimeout = def.HandlerTimeout
	}
	return &Bus{
		subs:       make(map[string][]domoutbox.Handler),
		queue:      make(chan domoutbox.Event, opts.QueueSize),
		slots:      make(chan struct{}, opts.Concurrency),
		done:       make(chan struct{}),
		opts:       opts,
		log:        logger.With(observability.F("component", componentOutbox)),
		deliveries: tel.Metrics().Counter(observability.MEventDeliveries),
	}
}

// Use appends middleware applied to handlers on every delivery, outermost first.
func (b *Bus) Use(mw ...Middleware) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.middlewares = append(b.middlewares, mw...)
}

func (b *Bus) Subscribe(eventName string, h domoutbox.Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subs[eventName] = append(b.subs[eventName], h)
}

func (b *Bus) Start(ctx context.Context) {
	b.startOnce.Do(func() {
		bg, cancel := context.WithCancel(context.WithoutCancel(ctx))
		b.cancel = cancel
		go b.dispatchLoop(bg)
		logctx.FromOr(ctx, b.log).Info("event_bus_started",
			observability.F("max_deliveries", b.opts.MaxDeliveries),
		)
	})
}

// Stop refuses new events, drains what is queued and returns once the dispatcher
// exits or ctx expires. Pending redeliveries are abandoned on expiry.
func (b *Bus) Stop(ctx context.Context) {
	b.stopOnce.Do(func() {
		b.closeMu.Lock()
		b.closed = true
		close(b.queue)
		b.closeMu.Unlock()

		if b.cancel != nil {
			select {
			case <-b.done:
			case <-ctx.Done():
			}
			b.cancel()
		}
		logctx.FromOr(ctx, b.log).Info("event_bus_stopped")
	})
}

func (b *Bus) Publish(ctx context.Context, e domoutbox.Event) error {
	if e == nil {
		return nil
	}
	b.closeMu.RLock()
	defer b.closeMu.RUnlock()
	if b.closed {
		return ErrBusClosed
	}

	logger := logctx.FromOr(ctx, b.log).With(observability.F("event", e.EventName()))
	select {
	case b.queue <- e:
		logger.Debug("event_enqueued")
		return nil
	case <-ctx.Done():
		logger.Warn("event_enqueue_aborted",
			observability.Err(ctx.Err()),
		)
		return ctx.Err()
	}
}

// dispatchLoop hands each event to its own goroutine, at most Concurrency at a time,
// so an event stuck in redelivery never holds back the rest of the queue.
func (b *Bus) dispatchLoop(ctx context.Context) {
	var inflight sync.WaitGroup
	defer close(b.done)
	defer inflight.Wait()
	for {
		select {
		case <-ctx.Done():
			return
		case e, ok := <-b.queue:
			if !ok {
				return
			}
			select {
			case b.slots <- struct{}{}:
			case <-ctx.Done():
				b.log.Warn("event_abandoned", observability.F("event", e.EventName()))
				return
			}
			inflight.Add(1)
			go func() {
				defer func() {
					<-b.slots
					inflight.Done()
				}()
				b.fanout(ctx, e)
			}()
		}
	}
}

func (b *Bus) fanout(ctx context.Context, e domoutbox.Event) {
	name := e.EventName()

	b.mu.RLock()
	handlers := append([]domoutbox.Handler(nil), b.subs[name]...)
	middlewares := append([]Middleware(nil), b.middlewares...)
	b.mu.RUnlock()

	if len(handlers) == 0 {
		b.log.Debug("event_dropped_no_subscriber", observability.F("event", name))
		return
	}

	sem := make(chan struct{}, b.opts.Concurrency)
	var wg sync.WaitGroup
	for _, h := range handlers {
		for i := len(middlewares) - 1; i >= 0; i-- {
			h = middlewares[i](name, h)
		}
		sem <- struct{}{}
		wg.Add(1)
		go func() {
			defer func() {
				<-sem
				wg.Done()
			}()
			b.deliver(ctx, name, h, e)
		}()
	}
	wg.Wait()

	b.log.Debug("event_fanned_out",
		observability.F("event", name),
		observability.F("handlers", len(handlers)),
	)
}

// deliver runs one handler until it succeeds or the delivery budget is spent.
func (b *Bus) deliver(ctx context.Context, name string, h domoutbox.Handler, e domoutbox.Event) {
	logger := b.log.With(observability.F("event", name))
	backoff := b.opts.Backoff
	var err error
	for attempt := 1; attempt <= b.opts.MaxDeliveries; attempt++ {
		err = b.invoke(ctx, logger, h, e)
		if err == nil {
			b.deliveries.Add(1, observability.L("event", name), observability.L("outcome", "delivered"))
			return
		}
		if attempt == b.opts.MaxDeliveries {
			break
		}
		b.deliveries.Add(1, observability.L("event", name), observability.L("outcome", "retry"))
		logger.Warn("event_handler_error",
			observability.F("attempt", attempt),
			observability.Err(err),
		)
		t := time.NewTimer(backoff)
		select {
		case <-ctx.Done():
			t.Stop()
			b.deadLetter(logger, name, attempt, ctx.Err())
			return
		case <-t.C:
		}
		backoff *= 2
	}
	b.deadLetter(logger, name, b.opts.MaxDeliveries, err)
}

func (b *Bus) invoke(ctx context.Context, logger observability.Logger, h domoutbox.Handler, e domoutbox.Event) (err error) {
	defer func() {
		if r := recover(); r != nil {
			logger.Error("event_handler_panic",
				observability.F("panic", r),
				observability.F("stack", string(debug.Stack())),
			)
			err = fmt.Errorf("outbox: handler panic: %v", r)
		}
	}()

	hctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), b.opts.HandlerTimeout)
	defer cancel()
	hctx = logctx.With(hctx, logger)
	return h(hctx, e)
}

func (b *Bus) deadLetter(logger observability.Logger, name string, attempts int, err error) {
	b.deliveries.Add(1, observability.L("event", name), observability.L("outcome", "dead_lettered"))
	logger.Error("event_dead_lettered",
		observability.F("attempts", attempts),
		observability.Err(err),
	)
}
