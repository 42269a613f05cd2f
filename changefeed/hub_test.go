package changefeed

import (
	"bytes"
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type collector struct {
	mu     sync.Mutex
	events []RowEvent
}

func (c *collector) callback(ev RowEvent) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, ev)
}

func (c *collector) len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.events)
}

func (c *collector) snapshot() []RowEvent {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]RowEvent, len(c.events))
	copy(out, c.events)
	return out
}

// logBuffer is a goroutine-safe log sink
type logBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *logBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *logBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func captureLog(t *testing.T) *logBuffer {
	t.Helper()
	out := &logBuffer{}
	prev := log.Logger
	log.Logger = zerolog.New(out).Level(zerolog.WarnLevel)
	t.Cleanup(func() { log.Logger = prev })
	return out
}

func orderInsert(id int64) RowEvent {
	return RowEvent{
		Schema: "public",
		Table:  "orders",
		Type:   EventInsert,
		Record: map[string]interface{}{"id": id, "amount": 10.0, "created_at": "2025-03-01T09:00:00Z"},
	}
}

func TestHub_DeliversMatchingEventsInOrder(t *testing.T) {
	hub := NewHub(16)
	defer hub.Close()

	c := &collector{}
	require.NoError(t, hub.Subscribe(context.Background(), Subscription{Schema: "public", Table: "orders", Event: EventInsert}, c.callback))

	hub.Publish(orderInsert(1))
	hub.Publish(RowEvent{Schema: "public", Table: "order_items", Type: EventInsert})
	hub.Publish(RowEvent{Schema: "public", Table: "orders", Type: EventUpdate})
	hub.Publish(orderInsert(2))

	require.Eventually(t, func() bool { return c.len() == 2 }, time.Second, 5*time.Millisecond)

	events := c.snapshot()
	assert.Equal(t, int64(1), events[0].Record["id"])
	assert.Equal(t, int64(2), events[1].Record["id"])
}

func TestHub_GlobSubscription(t *testing.T) {
	hub := NewHub(16)
	defer hub.Close()

	c := &collector{}
	require.NoError(t, hub.Subscribe(context.Background(), Subscription{Table: "order*"}, c.callback))

	hub.Publish(RowEvent{Schema: "public", Table: "orders", Type: EventInsert})
	hub.Publish(RowEvent{Schema: "shop", Table: "order_items", Type: EventDelete})
	hub.Publish(RowEvent{Schema: "public", Table: "plants", Type: EventInsert})

	require.Eventually(t, func() bool { return c.len() == 2 }, time.Second, 5*time.Millisecond)
}

func TestHub_ContextCancelUnsubscribes(t *testing.T) {
	hub := NewHub(16)
	defer hub.Close()

	ctx, cancel := context.WithCancel(context.Background())
	c := &collector{}
	require.NoError(t, hub.Subscribe(ctx, Subscription{Table: "orders"}, c.callback))
	assert.Equal(t, 1, hub.Len())

	cancel()
	require.Eventually(t, func() bool { return hub.Len() == 0 }, time.Second, 5*time.Millisecond)

	hub.Publish(orderInsert(1))
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, 0, c.len())
}

func TestHub_FullBufferDropsWithoutBlocking(t *testing.T) {
	hub := NewHub(1)

	release := make(chan struct{})
	var delivered int
	var mu sync.Mutex
	require.NoError(t, hub.Subscribe(context.Background(), Subscription{Table: "orders"}, func(RowEvent) {
		<-release
		mu.Lock()
		delivered++
		mu.Unlock()
	}))

	done := make(chan struct{})
	go func() {
		for i := int64(0); i < 10; i++ {
			hub.Publish(orderInsert(i))
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Publish blocked on a slow subscriber")
	}

	close(release)
	require.NoError(t, hub.Close())

	mu.Lock()
	defer mu.Unlock()
	assert.Less(t, delivered, 10)
	assert.GreaterOrEqual(t, delivered, 1)
	assert.Equal(t, uint64(10-delivered), hub.Dropped())
}

func TestHub_DroppedEventLogsRowID(t *testing.T) {
	out := captureLog(t)
	hub := NewHub(1)

	release := make(chan struct{})
	require.NoError(t, hub.Subscribe(context.Background(), Subscription{Table: "orders"}, func(RowEvent) {
		<-release
	}))

	// Two land in the channel or the handler, the rest overflow
	for i := int64(1); i <= 5; i++ {
		hub.Publish(orderInsert(i))
	}
	close(release)
	require.NoError(t, hub.Close())

	require.Positive(t, hub.Dropped())
	logged := out.String()
	assert.Contains(t, logged, `"level":"error"`)
	assert.Contains(t, logged, `"row_id":5`)
	assert.Equal(t, int(hub.Dropped()), strings.Count(logged, "event dropped"))
}

func TestHub_CloseDeliversBuffered(t *testing.T) {
	hub := NewHub(8)
	c := &collector{}
	require.NoError(t, hub.Subscribe(context.Background(), Subscription{Table: "orders"}, c.callback))

	for i := int64(0); i < 5; i++ {
		hub.Publish(orderInsert(i))
	}
	require.NoError(t, hub.Close())
	assert.Equal(t, 5, c.len())

	assert.Error(t, hub.Subscribe(context.Background(), Subscription{}, c.callback))
	assert.NoError(t, hub.Close())
}

func TestHub_InvalidPattern(t *testing.T) {
	hub := NewHub(1)
	defer hub.Close()

	err := hub.Subscribe(context.Background(), Subscription{Table: "orders["}, func(RowEvent) {})
	assert.Error(t, err)
}
