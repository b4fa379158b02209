package eventbus

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

type collector struct {
	mu     sync.Mutex
	events []Event
}

func (c *collector) handle(ev Event) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, ev)
}

func (c *collector) snapshot() []Event {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]Event, len(c.events))
	copy(out, c.events)
	return out
}

func TestListenerOnlySeesOwnSession(t *testing.T) {
	bus := New(nil)
	defer bus.Close()

	var s, other collector
	ls, err := bus.Subscribe(context.Background(), "S", s.handle)
	require.NoError(t, err)
	lt, err := bus.Subscribe(context.Background(), "T", other.handle)
	require.NoError(t, err)

	require.NoError(t, bus.Publish(Event{Type: EventStep, SessionID: "S", Name: "Direct"}))
	require.NoError(t, bus.Publish(Event{Type: EventStep, SessionID: "T", Name: "Learn"}))
	require.NoError(t, bus.Publish(Event{Type: EventText, SessionID: "S", Content: "hi"}))

	// Publish blocks until every listener acked, so the events are already in.
	bus.Unsubscribe(ls)
	bus.Unsubscribe(lt)

	got := s.snapshot()
	require.Len(t, got, 2)
	for _, ev := range got {
		assert.Equal(t, "S", ev.SessionID)
	}
	require.Len(t, other.snapshot(), 1)
	assert.Equal(t, "Learn", other.snapshot()[0].Name)
}

func TestListenerSeesPublishOrder(t *testing.T) {
	bus := New(nil)
	defer bus.Close()

	var c collector
	l, err := bus.Subscribe(context.Background(), "S", c.handle)
	require.NoError(t, err)

	const n = 50
	for i := 0; i < n; i++ {
		require.NoError(t, bus.Publish(Event{Type: EventStep, SessionID: "S", Name: fmt.Sprintf("step-%d", i)}))
	}
	bus.Unsubscribe(l)

	got := c.snapshot()
	require.Len(t, got, n)
	for i, ev := range got {
		assert.Equal(t, fmt.Sprintf("step-%d", i), ev.Name)
	}
}

func TestConcurrentSessionsKeepTheirOrder(t *testing.T) {
	bus := New(nil)
	defer bus.Close()

	sessions := []string{"a", "b", "c"}
	collectors := make(map[string]*collector)
	listeners := make([]*Listener, 0, len(sessions))
	for _, sid := range sessions {
		c := &collector{}
		collectors[sid] = c
		l, err := bus.Subscribe(context.Background(), sid, c.handle)
		require.NoError(t, err)
		listeners = append(listeners, l)
	}

	var wg sync.WaitGroup
	for _, sid := range sessions {
		wg.Add(1)
		go func(sid string) {
			defer wg.Done()
			for i := 0; i < 20; i++ {
				assert.NoError(t, bus.Publish(Event{Type: EventStep, SessionID: sid, Name: fmt.Sprintf("%s-%d", sid, i)}))
			}
		}(sid)
	}
	wg.Wait()
	for _, l := range listeners {
		bus.Unsubscribe(l)
	}

	for _, sid := range sessions {
		got := collectors[sid].snapshot()
		require.Len(t, got, 20)
		for i, ev := range got {
			assert.Equal(t, fmt.Sprintf("%s-%d", sid, i), ev.Name)
		}
	}
}

func TestDetailsSurviveTheBus(t *testing.T) {
	bus := New(nil)
	defer bus.Close()

	var c collector
	l, err := bus.Subscribe(context.Background(), "S", c.handle)
	require.NoError(t, err)

	require.NoError(t, bus.Publish(Event{
		Type:      EventStep,
		SessionID: "S",
		Name:      "Document Search",
		Details:   map[string]any{"channel": "all", "count": 3},
	}))
	bus.Unsubscribe(l)

	got := c.snapshot()
	require.Len(t, got, 1)
	assert.Equal(t, "all", got[0].Details["channel"])
	assert.Equal(t, float64(3), got[0].Details["count"])
}

func TestUnsubscribeIsIdempotentAndStopsDelivery(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	bus := New(nil)

	var c collector
	l, err := bus.Subscribe(context.Background(), "S", c.handle)
	require.NoError(t, err)

	bus.Unsubscribe(l)
	bus.Unsubscribe(l)
	l.Close()

	select {
	case <-l.Done():
	case <-time.After(time.Second):
		t.Fatal("listener did not stop")
	}

	require.NoError(t, bus.Publish(Event{Type: EventStep, SessionID: "S", Name: "late"}))
	assert.Empty(t, c.snapshot())

	require.NoError(t, bus.Close())
}

func TestParentContextCancelStopsListener(t *testing.T) {
	bus := New(nil)
	defer bus.Close()

	ctx, cancel := context.WithCancel(context.Background())
	l, err := bus.Subscribe(ctx, "S", nil)
	require.NoError(t, err)

	cancel()
	select {
	case <-l.Done():
	case <-time.After(time.Second):
		t.Fatal("listener did not stop")
	}
	bus.Unsubscribe(l)
}

func TestClosedBus(t *testing.T) {
	bus := New(nil)
	require.NoError(t, bus.Close())
	require.NoError(t, bus.Close())

	assert.ErrorIs(t, bus.Publish(Event{SessionID: "S"}), ErrClosed)
	_, err := bus.Subscribe(context.Background(), "S", nil)
	assert.ErrorIs(t, err, ErrClosed)
}
