package eventbus

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"localagent/internal/domain"
)

func newTestBus() *Bus {
	return New(slog.Default(), Options{})
}

func newEvent(t domain.EventType) domain.Event {
	return domain.Event{Type: t}
}

func TestPublishSubscribe(t *testing.T) {
	bus := newTestBus()

	var got atomic.Int32
	bus.Subscribe(domain.EventTaskCreated, func(_ context.Context, e domain.Event) {
		if e.Type == domain.EventTaskCreated {
			got.Add(1)
		}
	})

	bus.Publish(context.Background(), newEvent(domain.EventTaskCreated))
	// Publish waits for its handlers.
	if got.Load() != 1 {
		t.Fatalf("expected 1, got %d", got.Load())
	}
	bus.Close()
}

func TestPublishStampsIDAndTimestamp(t *testing.T) {
	fixed := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	bus := New(slog.Default(), Options{Now: func() time.Time { return fixed }})

	var seen domain.Event
	bus.Subscribe(domain.EventToolStarted, func(_ context.Context, e domain.Event) { seen = e })
	bus.Publish(context.Background(), newEvent(domain.EventToolStarted))

	assert.NotEmpty(t, seen.ID)
	assert.Equal(t, fixed, seen.Timestamp)

	hist := bus.History(domain.HistoryQuery{})
	require.Len(t, hist, 1)
	assert.Equal(t, seen.ID, hist[0].ID)
}

func TestSubscribeAll(t *testing.T) {
	bus := newTestBus()

	var got atomic.Int32
	bus.SubscribeAll(func(_ context.Context, _ domain.Event) {
		got.Add(1)
	})

	bus.Publish(context.Background(), newEvent(domain.EventTaskCreated))
	bus.Publish(context.Background(), newEvent(domain.EventToolStarted))
	bus.Close()

	if got.Load() != 2 {
		t.Fatalf("expected 2, got %d", got.Load())
	}
}

func TestUnsubscribe(t *testing.T) {
	bus := newTestBus()

	var got atomic.Int32
	unsub := bus.Subscribe(domain.EventTaskCreated, func(_ context.Context, _ domain.Event) {
		got.Add(1)
	})

	bus.Publish(context.Background(), newEvent(domain.EventTaskCreated))
	unsub()
	bus.Publish(context.Background(), newEvent(domain.EventTaskCreated))
	bus.Close()

	if got.Load() != 1 {
		t.Fatalf("expected still 1 after unsub, got %d", got.Load())
	}
}

func TestUnsubscribeLastRemovesType(t *testing.T) {
	bus := newTestBus()
	noop := func(context.Context, domain.Event) {}

	unsub1 := bus.Subscribe(domain.EventAgentError, noop)
	unsub2 := bus.Subscribe(domain.EventAgentError, noop)
	assert.Equal(t, 2, bus.SubscriberCount(domain.EventAgentError))

	unsub1()
	assert.True(t, bus.HasType(domain.EventAgentError))
	assert.Equal(t, 1, bus.SubscriberCount(domain.EventAgentError))

	unsub2()
	assert.False(t, bus.HasType(domain.EventAgentError))

	// Calling again is a no-op.
	unsub2()
	assert.False(t, bus.HasType(domain.EventAgentError))
}

func TestHistoryBounded(t *testing.T) {
	bus := newTestBus()
	ctx := context.Background()

	for i := 0; i < 1001; i++ {
		bus.Publish(ctx, domain.Event{
			Type:    domain.EventTaskCreated,
			Payload: []byte(fmt.Sprintf(`{"n":%d}`, i)),
		})
	}

	hist := bus.History(domain.HistoryQuery{})
	require.Len(t, hist, DefaultHistorySize)
	assert.JSONEq(t, `{"n":1}`, string(hist[0].Payload), "oldest event must be evicted")
	assert.JSONEq(t, `{"n":1000}`, string(hist[len(hist)-1].Payload))
}

func TestHistoryFilterAndLimit(t *testing.T) {
	bus := New(slog.Default(), Options{HistorySize: 10})
	ctx := context.Background()

	for i := 0; i < 4; i++ {
		bus.Publish(ctx, domain.Event{Type: domain.EventTaskCreated, Source: fmt.Sprint(i)})
		bus.Publish(ctx, domain.Event{Type: domain.EventTaskCompleted, Source: fmt.Sprint(i)})
	}

	created := bus.History(domain.HistoryQuery{Type: domain.EventTaskCreated})
	require.Len(t, created, 4)

	last2 := bus.History(domain.HistoryQuery{Type: domain.EventTaskCompleted, Limit: 2})
	require.Len(t, last2, 2)
	assert.Equal(t, "2", last2[0].Source)
	assert.Equal(t, "3", last2[1].Source)

	// Mutating the returned slice leaves stored history intact.
	last2[0].Source = "changed"
	again := bus.History(domain.HistoryQuery{Type: domain.EventTaskCompleted, Limit: 2})
	assert.Equal(t, "2", again[0].Source)

	assert.Len(t, bus.History(domain.HistoryQuery{}), 8)
}

func TestClearHistory(t *testing.T) {
	bus := newTestBus()
	bus.Publish(context.Background(), newEvent(domain.EventSystemStarted))
	require.Len(t, bus.History(domain.HistoryQuery{}), 1)

	bus.ClearHistory()
	assert.Empty(t, bus.History(domain.HistoryQuery{}))
}

func TestConcurrentPublish(t *testing.T) {
	bus := newTestBus()

	var got atomic.Int32
	bus.Subscribe(domain.EventTaskCreated, func(_ context.Context, _ domain.Event) {
		got.Add(1)
	})

	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			bus.Publish(context.Background(), newEvent(domain.EventTaskCreated))
		}()
	}
	wg.Wait()
	bus.Close()

	if got.Load() != 100 {
		t.Fatalf("expected 100, got %d", got.Load())
	}
	assert.Len(t, bus.History(domain.HistoryQuery{}), 100)
}

func TestHandlersRunConcurrently(t *testing.T) {
	bus := newTestBus()

	release := make(chan struct{})
	var started sync.WaitGroup
	started.Add(2)
	for i := 0; i < 2; i++ {
		bus.Subscribe(domain.EventToolStarted, func(_ context.Context, _ domain.Event) {
			started.Done()
			<-release
		})
	}

	done := make(chan struct{})
	go func() {
		bus.Publish(context.Background(), newEvent(domain.EventToolStarted))
		close(done)
	}()

	// Both handlers must be running at the same time before either returns.
	started.Wait()
	close(release)

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("publish did not return")
	}
}

func TestPanicRecovery(t *testing.T) {
	bus := newTestBus()

	var got atomic.Int32
	// First subscriber panics
	bus.Subscribe(domain.EventTaskCreated, func(_ context.Context, _ domain.Event) {
		panic("boom")
	})
	// Second subscriber should still fire
	bus.Subscribe(domain.EventTaskCreated, func(_ context.Context, _ domain.Event) {
		got.Add(1)
	})

	assert.NotPanics(t, func() {
		bus.Publish(context.Background(), newEvent(domain.EventTaskCreated))
	})
	bus.Close()

	if got.Load() != 1 {
		t.Fatalf("expected 1 (second handler), got %d", got.Load())
	}
}

func TestCloseRejectsNew(t *testing.T) {
	bus := newTestBus()

	var got atomic.Int32
	bus.Subscribe(domain.EventTaskCreated, func(_ context.Context, _ domain.Event) {
		got.Add(1)
	})

	bus.Publish(context.Background(), newEvent(domain.EventTaskCreated))
	bus.Close()
	bus.Close()

	bus.Publish(context.Background(), newEvent(domain.EventTaskCreated))
	if got.Load() != 1 {
		t.Fatalf("expected no delivery after close, got %d", got.Load())
	}
	assert.Len(t, bus.History(domain.HistoryQuery{}), 1)
}

func TestPublishJSON(t *testing.T) {
	bus := newTestBus()
	PublishJSON(context.Background(), bus, slog.Default(), domain.EventTaskFailed, "controller_x",
		map[string]string{"task_id": "t1"})

	hist := bus.History(domain.HistoryQuery{Type: domain.EventTaskFailed})
	require.Len(t, hist, 1)
	assert.Equal(t, "controller_x", hist[0].Source)
	assert.JSONEq(t, `{"task_id":"t1"}`, string(hist[0].Payload))

	// Unmarshalable payloads still publish.
	PublishJSON(context.Background(), bus, slog.Default(), domain.EventTaskFailed, "c", make(chan int))
	hist = bus.History(domain.HistoryQuery{Type: domain.EventTaskFailed})
	require.Len(t, hist, 2)
	assert.Nil(t, hist[1].Payload)

	// Nil bus is tolerated.
	PublishJSON(context.Background(), nil, slog.Default(), domain.EventTaskFailed, "c", nil)
}
