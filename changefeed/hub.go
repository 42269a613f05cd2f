package changefeed

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog/log"
)

// DefaultHubBufferSize is the per-subscription buffer of the in-process hub
const DefaultHubBufferSize = 256

const sourceLocal = "local"

// hubSubscription is one subscriber of the Hub
type hubSubscription struct {
	id      uint64
	matcher *matcher
	ch      chan RowEvent
	closed  atomic.Bool
	done    chan struct{}
}

// close closes the subscription channel if not already closed
func (s *hubSubscription) close() {
	if s.closed.CompareAndSwap(false, true) {
		close(s.ch)
	}
}

// Hub is the in-process change feed. Writers call Publish after their
// transaction commits; each subscription has a buffered channel drained by
// its own goroutine. Publish never blocks: when a subscriber's buffer is full
// the event is dropped for that subscriber and counted.
type Hub struct {
	mu            sync.RWMutex
	subscriptions map[uint64]*hubSubscription
	nextID        atomic.Uint64
	bufferSize    int
	closed        atomic.Bool
	dropped       atomic.Uint64
}

// NewHub creates an in-process change feed hub
func NewHub(bufferSize int) *Hub {
	if bufferSize <= 0 {
		bufferSize = DefaultHubBufferSize
	}
	return &Hub{
		subscriptions: make(map[uint64]*hubSubscription),
		bufferSize:    bufferSize,
	}
}

// Publish offers ev to every matching subscription (non-blocking)
func (h *Hub) Publish(ev RowEvent) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for _, sub := range h.subscriptions {
		if !sub.matcher.matches(ev) {
			countEvent(sourceLocal, "filtered")
			continue
		}

		select {
		case sub.ch <- ev:
			countEvent(sourceLocal, "accepted")
		default:
			h.dropped.Add(1)
			countEvent(sourceLocal, "dropped")
			logged := log.Error().
				Uint64("subscription", sub.id).
				Str("schema", ev.Schema).
				Str("table", ev.Table).
				Str("event", string(ev.Type))
			if id, err := int64Column(ev.Record, "id"); err == nil {
				logged = logged.Int64("row_id", id)
			}
			logged.Msg("Change feed subscriber is behind, event dropped")
		}
	}
}

// Dropped returns how many events were dropped for subscribers that fell behind
func (h *Hub) Dropped() uint64 {
	return h.dropped.Load()
}

// Subscribe implements Listener
func (h *Hub) Subscribe(ctx context.Context, sub Subscription, cb Callback) error {
	if h.closed.Load() {
		return errors.New("change feed hub is closed")
	}

	m, err := newMatcher(sub)
	if err != nil {
		return err
	}

	s := &hubSubscription{
		id:      h.nextID.Add(1),
		matcher: m,
		ch:      make(chan RowEvent, h.bufferSize),
		done:    make(chan struct{}),
	}

	h.mu.Lock()
	h.subscriptions[s.id] = s
	h.mu.Unlock()

	go func() {
		defer close(s.done)
		for ev := range s.ch {
			cb(ev)
		}
	}()

	go func() {
		select {
		case <-ctx.Done():
			h.unsubscribe(s.id)
		case <-s.done:
		}
	}()

	log.Info().
		Uint64("subscription", s.id).
		Str("schema", sub.Schema).
		Str("table", sub.Table).
		Str("event", string(m.event)).
		Msg("Subscribed to local change feed")

	return nil
}

// unsubscribe removes a subscription and closes its channel. Events already
// buffered are still delivered.
func (h *Hub) unsubscribe(id uint64) {
	h.mu.Lock()
	sub, ok := h.subscriptions[id]
	if ok {
		delete(h.subscriptions, id)
	}
	h.mu.Unlock()

	if ok {
		sub.close()
	}
}

// Close stops every subscription and waits for buffered events to be delivered
func (h *Hub) Close() error {
	if !h.closed.CompareAndSwap(false, true) {
		return nil
	}

	h.mu.Lock()
	subs := make([]*hubSubscription, 0, len(h.subscriptions))
	for id, sub := range h.subscriptions {
		subs = append(subs, sub)
		delete(h.subscriptions, id)
	}
	h.mu.Unlock()

	for _, sub := range subs {
		sub.close()
		<-sub.done
	}
	return nil
}

// Len returns the number of active subscriptions
func (h *Hub) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subscriptions)
}
