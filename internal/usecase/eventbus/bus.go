package eventbus

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/sourcegraph/conc"

	"localagent/internal/domain"
)

// DefaultHistorySize is the number of events retained when Options leaves it unset.
const DefaultHistorySize = 1000

// Options configures a Bus.
type Options struct {
	HistorySize int
	// Now overrides the clock used to stamp events. Defaults to time.Now.
	Now func() time.Time
}

type subscription struct {
	id      uint64
	handler domain.EventHandler
}

// Bus is an in-process, goroutine-safe event bus with bounded history.
type Bus struct {
	mu      sync.RWMutex
	typed   map[domain.EventType][]subscription
	allSubs []subscription
	nextID  atomic.Uint64
	logger  *slog.Logger
	now     func() time.Time

	histMu  sync.RWMutex
	history []domain.Event
	histCap int

	inflight sync.WaitGroup
	closed   atomic.Bool
}

// New creates an event bus.
func New(logger *slog.Logger, opts Options) *Bus {
	if opts.HistorySize <= 0 {
		opts.HistorySize = DefaultHistorySize
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Bus{
		typed:   make(map[domain.EventType][]subscription),
		logger:  logger,
		now:     opts.Now,
		histCap: opts.HistorySize,
	}
}

// Publish records the event in history and fans it out to matching typed
// subscribers and all-event subscribers. Handlers run concurrently; Publish
// returns once every handler for this event has finished. Panicking handlers
// are recovered and logged.
func (b *Bus) Publish(ctx context.Context, event domain.Event) {
	if b.closed.Load() {
		return
	}
	b.inflight.Add(1)
	defer b.inflight.Done()

	if event.ID == "" {
		event.ID = ulid.Make().String()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = b.now()
	}
	b.record(event)

	b.mu.RLock()
	subs := make([]subscription, 0, len(b.typed[event.Type])+len(b.allSubs))
	subs = append(subs, b.typed[event.Type]...)
	subs = append(subs, b.allSubs...)
	b.mu.RUnlock()

	var wg conc.WaitGroup
	for _, sub := range subs {
		wg.Go(func() { b.dispatch(ctx, event, sub) })
	}
	wg.Wait()
}

func (b *Bus) dispatch(ctx context.Context, event domain.Event, sub subscription) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.Error("event handler panicked",
				"event", string(event.Type),
				"event_id", event.ID,
				"panic", r,
			)
		}
	}()
	sub.handler(ctx, event)
}

func (b *Bus) record(event domain.Event) {
	b.histMu.Lock()
	defer b.histMu.Unlock()
	if len(b.history) >= b.histCap {
		drop := len(b.history) - b.histCap + 1
		clear(b.history[:drop])
		b.history = b.history[drop:]
	}
	b.history = append(b.history, event)
}

// Subscribe registers a handler for a specific event type.
// Returns an unsubscribe function. Removing the last handler for a type
// removes the type entry.
func (b *Bus) Subscribe(eventType domain.EventType, handler domain.EventHandler) func() {
	id := b.nextID.Add(1)
	sub := subscription{id: id, handler: handler}

	b.mu.Lock()
	b.typed[eventType] = append(b.typed[eventType], sub)
	b.mu.Unlock()

	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		subs := b.typed[eventType]
		for i, s := range subs {
			if s.id == id {
				subs = append(subs[:i:i], subs[i+1:]...)
				if len(subs) == 0 {
					delete(b.typed, eventType)
				} else {
					b.typed[eventType] = subs
				}
				return
			}
		}
	}
}

// SubscribeAll registers a handler that receives every event.
// Returns an unsubscribe function.
func (b *Bus) SubscribeAll(handler domain.EventHandler) func() {
	id := b.nextID.Add(1)
	sub := subscription{id: id, handler: handler}

	b.mu.Lock()
	b.allSubs = append(b.allSubs, sub)
	b.mu.Unlock()

	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		for i, s := range b.allSubs {
			if s.id == id {
				b.allSubs = append(b.allSubs[:i:i], b.allSubs[i+1:]...)
				return
			}
		}
	}
}

// SubscriberCount returns the number of handlers registered for eventType,
// excluding all-event subscribers.
func (b *Bus) SubscriberCount(eventType domain.EventType) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.typed[eventType])
}

// HasType reports whether any typed handler is registered for eventType.
func (b *Bus) HasType(eventType domain.EventType) bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	_, ok := b.typed[eventType]
	return ok
}

// History returns a copy of retained events, oldest first. When q.Type is
// set only events of that type are returned; when q.Limit is positive only
// the most recent q.Limit matches are returned.
func (b *Bus) History(q domain.HistoryQuery) []domain.Event {
	b.histMu.RLock()
	defer b.histMu.RUnlock()

	out := make([]domain.Event, 0, len(b.history))
	for _, e := range b.history {
		if q.Type != "" && e.Type != q.Type {
			continue
		}
		out = append(out, e)
	}
	if q.Limit > 0 && len(out) > q.Limit {
		out = out[len(out)-q.Limit:]
	}
	return out
}

// ClearHistory drops all retained events.
func (b *Bus) ClearHistory() {
	b.histMu.Lock()
	b.history = nil
	b.histMu.Unlock()
}

// Close prevents new publishes and waits for in-flight publishes to finish.
// Close is idempotent and safe to call multiple times.
func (b *Bus) Close() {
	if b.closed.Swap(true) {
		return
	}
	b.inflight.Wait()
}

// PublishJSON marshals payload and publishes it as an event of type t.
// Marshal failures are logged and the event is published without a payload.
func PublishJSON(ctx context.Context, bus domain.EventBus, logger *slog.Logger, t domain.EventType, source string, payload any) {
	if bus == nil {
		return
	}
	var raw json.RawMessage
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			logger.Warn("event payload marshal failed", "event", string(t), "error", err)
		} else {
			raw = data
		}
	}
	bus.Publish(ctx, domain.Event{Type: t, Source: source, Payload: raw})
}
