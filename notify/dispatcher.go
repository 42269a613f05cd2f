package notify

import (
	"fmt"
	"sort"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/rs/zerolog/log"
	"github.com/verdant/ordernotify/telemetry"
)

// DispatcherConfig configures a Dispatcher
type DispatcherConfig struct {
	Queue        *PendingQueue    // Defaults to an unbounded queue
	DedupeWindow int              // Recently seen (recipient, order) pairs to ignore, 0 disables
	Now          func() time.Time // Clock used to render messages, defaults to time.Now
}

// RecipientStatus is a point-in-time view of one recipient
type RecipientStatus struct {
	Recipient RecipientID `json:"recipient"`
	Connected bool        `json:"connected"`
	Pending   int         `json:"pending"`
}

type dedupeKey struct {
	recipient RecipientID
	orderID   int64
}

// Dispatcher routes order notifications to connected recipients and buffers
// them for disconnected ones, flushing on the next connect.
//
// Registry and queue are guarded by a single mutex and every operation,
// including the transport emit, runs to completion under it. That keeps
// drain-on-connect atomic with respect to concurrent dispatch and preserves
// per-recipient FIFO across the live and flushed paths.
type Dispatcher struct {
	mu       sync.Mutex
	registry *Registry
	queue    *PendingQueue
	seen     *lru.Cache[dedupeKey, struct{}]
	now      func() time.Time
}

// NewDispatcher creates a dispatcher with an empty registry
func NewDispatcher(config DispatcherConfig) (*Dispatcher, error) {
	queue := config.Queue
	if queue == nil {
		var err error
		queue, err = NewPendingQueue(QueueConfig{})
		if err != nil {
			return nil, err
		}
	}

	now := config.Now
	if now == nil {
		now = time.Now
	}

	d := &Dispatcher{
		registry: NewRegistry(),
		queue:    queue,
		now:      now,
	}

	if config.DedupeWindow > 0 {
		seen, err := lru.New[dedupeKey, struct{}](config.DedupeWindow)
		if err != nil {
			return nil, fmt.Errorf("failed to create dedupe window: %w", err)
		}
		d.seen = seen
	}

	return d, nil
}

// OnConnect registers t as the recipient's transport and flushes everything
// pending for the recipient to it as a single batch. Registration happens
// before the drain so nothing dispatched in between can be missed.
func (d *Dispatcher) OnConnect(recipient RecipientID, t Transport) {
	start := time.Now()
	defer func() {
		telemetry.DispatchDurationSeconds.With("connect").Observe(time.Since(start).Seconds())
	}()

	d.mu.Lock()
	defer d.mu.Unlock()

	_, replaced := d.registry.Lookup(recipient)
	d.registry.Register(recipient, t)

	log.Info().
		Str("recipient", string(recipient)).
		Bool("replaced", replaced).
		Msg("Recipient connected")

	d.flushLocked(recipient, t)
}

// flushLocked emits everything pending for recipient to t as one batch. On
// failure the batch goes back to the head of the queue and t is detached.
func (d *Dispatcher) flushLocked(recipient RecipientID, t Transport) {
	batch := d.queue.DrainAll(recipient)
	if len(batch) == 0 {
		return
	}

	if err := t.Emit(EventOrderCreated, batch); err != nil {
		d.queue.Requeue(recipient, batch)
		d.detachLocked(recipient, t)
		telemetry.EmitFailuresTotal.With("flush").Inc()
		log.Warn().
			Err(err).
			Str("recipient", string(recipient)).
			Int("count", len(batch)).
			Msg("Failed to flush pending notifications, requeued")
		return
	}

	telemetry.NotificationsTotal.With(telemetry.PathFlushed).Add(float64(len(batch)))
	log.Info().
		Str("recipient", string(recipient)).
		Int("count", len(batch)).
		Msg("Flushed pending notifications")
}

// OnDisconnect unregisters the recipient. Later notifications accumulate in the queue.
func (d *Dispatcher) OnDisconnect(recipient RecipientID) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if _, ok := d.registry.Lookup(recipient); !ok {
		return
	}
	d.registry.Unregister(recipient)

	log.Info().Str("recipient", string(recipient)).Msg("Recipient disconnected")
}

// Detach unregisters the recipient only if t is still its registered
// transport. A session replaced by a newer connection closing later must not
// knock the newer one out. Returns true if t was unregistered.
func (d *Dispatcher) Detach(recipient RecipientID, t Transport) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	if !d.detachLocked(recipient, t) {
		return false
	}

	log.Info().Str("recipient", string(recipient)).Msg("Recipient disconnected")
	return true
}

func (d *Dispatcher) detachLocked(recipient RecipientID, t Transport) bool {
	current, ok := d.registry.Lookup(recipient)
	if !ok || current != t {
		return false
	}
	d.registry.Unregister(recipient)
	return true
}

// OnOrderCreated builds the notification for order and delivers it to the
// recipient right away when connected, otherwise queues it. It never fails:
// the order that triggered it is already committed.
func (d *Dispatcher) OnOrderCreated(recipient RecipientID, order Order) {
	start := time.Now()
	defer func() {
		telemetry.DispatchDurationSeconds.With("order").Observe(time.Since(start).Seconds())
	}()

	d.mu.Lock()
	defer d.mu.Unlock()

	if d.seen != nil {
		if found, _ := d.seen.ContainsOrAdd(dedupeKey{recipient: recipient, orderID: order.ID}, struct{}{}); found {
			telemetry.NotificationsTotal.With(telemetry.PathDuplicate).Inc()
			log.Debug().
				Str("recipient", string(recipient)).
				Int64("order_id", order.ID).
				Msg("Ignoring duplicate order notification")
			return
		}
	}

	n := NewOrderNotification(order, d.now())

	t, ok := d.registry.Lookup(recipient)
	if ok && d.queue.Has(recipient) {
		// Older notifications are still pending, keep the order by going through the queue
		d.enqueueLocked(recipient, n)
		d.flushLocked(recipient, t)
		return
	}

	if ok {
		err := t.Emit(EventOrderCreated, []Notification{n})
		if err == nil {
			telemetry.NotificationsTotal.With(telemetry.PathLive).Inc()
			log.Debug().
				Str("recipient", string(recipient)).
				Int64("order_id", order.ID).
				Msg("Delivered order notification")
			return
		}

		// A transport that cannot take the write is as good as disconnected
		d.detachLocked(recipient, t)
		telemetry.EmitFailuresTotal.With("live").Inc()
		log.Warn().
			Err(err).
			Str("recipient", string(recipient)).
			Int64("order_id", order.ID).
			Msg("Failed to deliver order notification, queueing")
	}

	d.enqueueLocked(recipient, n)
}

func (d *Dispatcher) enqueueLocked(recipient RecipientID, n Notification) {
	result := d.queue.Enqueue(recipient, n)

	switch result {
	case Queued:
		telemetry.NotificationsTotal.With(telemetry.PathQueued).Inc()
	case Spilled:
		telemetry.NotificationsTotal.With(telemetry.PathQueued).Inc()
		telemetry.NotificationsTotal.With(telemetry.PathSpilled).Inc()
	case DroppedOldest:
		telemetry.NotificationsTotal.With(telemetry.PathQueued).Inc()
		telemetry.NotificationsTotal.With(telemetry.PathDropped).Inc()
	case Rejected:
		telemetry.NotificationsTotal.With(telemetry.PathRejected).Inc()
	}

	if d.registry.Len() == 0 {
		log.Info().
			Str("recipient", string(recipient)).
			Int64("order_id", n.ID).
			Int("pending", d.queue.Len(recipient)).
			Msg("No recipient connected, notification kept pending")
	}
}

// QueueLength returns how many notifications are pending for recipient
func (d *Dispatcher) QueueLength(recipient RecipientID) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.queue.Len(recipient)
}

// IsConnected reports whether recipient has a registered transport
func (d *Dispatcher) IsConnected(recipient RecipientID) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	_, ok := d.registry.Lookup(recipient)
	return ok
}

// Lookup returns the recipient's registered transport
func (d *Dispatcher) Lookup(recipient RecipientID) (Transport, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.registry.Lookup(recipient)
}

// Pending returns a copy of the recipient's in-memory pending notifications
func (d *Dispatcher) Pending(recipient RecipientID) []Notification {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.queue.Peek(recipient)
}

// Stats returns connected recipients and total pending notifications
func (d *Dispatcher) Stats() (connected, pending int) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.registry.Len(), d.queue.Total()
}

// Status returns one entry per recipient that is connected or has pending notifications
func (d *Dispatcher) Status() []RecipientStatus {
	d.mu.Lock()
	defer d.mu.Unlock()

	byRecipient := make(map[RecipientID]*RecipientStatus)
	for _, r := range d.registry.Recipients() {
		byRecipient[r] = &RecipientStatus{Recipient: r, Connected: true}
	}
	for _, r := range d.queue.Recipients() {
		st, ok := byRecipient[r]
		if !ok {
			st = &RecipientStatus{Recipient: r}
			byRecipient[r] = st
		}
		st.Pending = d.queue.Len(r)
	}

	out := make([]RecipientStatus, 0, len(byRecipient))
	for _, st := range byRecipient {
		out = append(out, *st)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Recipient < out[j].Recipient })
	return out
}
