package notify

import (
	"fmt"

	"github.com/rs/zerolog/log"
)

// OverflowPolicy decides what Enqueue does once a recipient's queue is at capacity
type OverflowPolicy int

const (
	// OverflowUnbounded ignores capacity and never drops
	OverflowUnbounded OverflowPolicy = iota
	// OverflowDropOldest evicts the oldest pending notification to make room
	OverflowDropOldest
	// OverflowRejectNewest keeps the queue as is and discards the incoming notification
	OverflowRejectNewest
	// OverflowSpill moves the oldest pending notification to the Overflow store
	OverflowSpill
)

// ParseOverflowPolicy maps a configuration value to an OverflowPolicy
func ParseOverflowPolicy(s string) (OverflowPolicy, error) {
	switch s {
	case "", "unbounded":
		return OverflowUnbounded, nil
	case "drop_oldest":
		return OverflowDropOldest, nil
	case "reject_newest":
		return OverflowRejectNewest, nil
	case "spill":
		return OverflowSpill, nil
	default:
		return OverflowUnbounded, fmt.Errorf("unknown overflow policy: %s", s)
	}
}

func (p OverflowPolicy) String() string {
	switch p {
	case OverflowUnbounded:
		return "unbounded"
	case OverflowDropOldest:
		return "drop_oldest"
	case OverflowRejectNewest:
		return "reject_newest"
	case OverflowSpill:
		return "spill"
	default:
		return fmt.Sprintf("OverflowPolicy(%d)", int(p))
	}
}

// EnqueueResult reports what Enqueue did with a notification
type EnqueueResult int

const (
	Queued EnqueueResult = iota
	DroppedOldest
	Rejected
	Spilled
)

// Overflow holds notifications pushed out of memory by the spill policy.
// Entries for a recipient are always older than anything still in memory.
type Overflow interface {
	Append(recipient RecipientID, n Notification) error
	DrainAll(recipient RecipientID) ([]Notification, error)
	Len(recipient RecipientID) int
	Recipients() []RecipientID
}

// QueueConfig configures a PendingQueue
type QueueConfig struct {
	Capacity int            // Per recipient, 0 = unbounded
	Policy   OverflowPolicy // Applied once Capacity is reached
	Overflow Overflow       // Required for OverflowSpill
}

// PendingQueue buffers notifications for recipients that are not connected.
// A recipient key only exists while it holds at least one notification.
//
// PendingQueue is not safe for concurrent use on its own; Dispatcher guards it.
type PendingQueue struct {
	pending  map[RecipientID][]Notification
	capacity int
	policy   OverflowPolicy
	overflow Overflow
}

// NewPendingQueue creates a pending queue with the given capacity policy
func NewPendingQueue(config QueueConfig) (*PendingQueue, error) {
	if config.Capacity < 0 {
		return nil, fmt.Errorf("queue capacity must be >= 0")
	}
	if config.Policy != OverflowUnbounded && config.Capacity == 0 {
		return nil, fmt.Errorf("overflow policy %s requires a capacity", config.Policy)
	}
	if config.Policy == OverflowSpill && config.Overflow == nil {
		return nil, fmt.Errorf("overflow store is required for spill policy")
	}

	return &PendingQueue{
		pending:  make(map[RecipientID][]Notification),
		capacity: config.Capacity,
		policy:   config.Policy,
		overflow: config.Overflow,
	}, nil
}

// Enqueue appends n to the tail of the recipient's queue
func (q *PendingQueue) Enqueue(recipient RecipientID, n Notification) EnqueueResult {
	queue := q.pending[recipient]

	if q.policy == OverflowUnbounded || len(queue) < q.capacity {
		q.pending[recipient] = append(queue, n)
		return Queued
	}

	switch q.policy {
	case OverflowDropOldest:
		dropped := queue[0]
		copy(queue, queue[1:])
		queue[len(queue)-1] = n
		log.Warn().
			Str("recipient", string(recipient)).
			Int64("dropped_id", dropped.ID).
			Int("capacity", q.capacity).
			Msg("Pending queue full, dropped oldest notification")
		return DroppedOldest

	case OverflowRejectNewest:
		log.Warn().
			Str("recipient", string(recipient)).
			Int64("rejected_id", n.ID).
			Int("capacity", q.capacity).
			Msg("Pending queue full, rejected notification")
		return Rejected

	case OverflowSpill:
		if err := q.overflow.Append(recipient, queue[0]); err != nil {
			// Keep it in memory over capacity rather than lose it
			log.Error().
				Err(err).
				Str("recipient", string(recipient)).
				Int64("order_id", queue[0].ID).
				Msg("Failed to spill notification, keeping it in memory")
			q.pending[recipient] = append(queue, n)
			return Queued
		}
		copy(queue, queue[1:])
		queue[len(queue)-1] = n
		return Spilled
	}

	q.pending[recipient] = append(queue, n)
	return Queued
}

// DrainAll removes and returns every pending notification for recipient,
// oldest first. Returns an empty slice when nothing is pending. If the spilled
// part cannot be read, nothing is removed so a later drain returns the whole
// sequence in order.
func (q *PendingQueue) DrainAll(recipient RecipientID) []Notification {
	var out []Notification

	if q.overflow != nil && q.overflow.Len(recipient) > 0 {
		spilled, err := q.overflow.DrainAll(recipient)
		if err != nil {
			log.Error().
				Err(err).
				Str("recipient", string(recipient)).
				Int("pending", q.Len(recipient)).
				Msg("Failed to drain spilled notifications, keeping queue intact")
			return []Notification{}
		}
		out = append(out, spilled...)
	}

	out = append(out, q.pending[recipient]...)
	delete(q.pending, recipient)

	if out == nil {
		return []Notification{}
	}
	return out
}

// Requeue puts a batch back at the head of the recipient's queue, ahead of
// anything enqueued since it was drained. Capacity is not enforced here.
func (q *PendingQueue) Requeue(recipient RecipientID, batch []Notification) {
	if len(batch) == 0 {
		return
	}

	queue := make([]Notification, 0, len(batch)+len(q.pending[recipient]))
	queue = append(queue, batch...)
	queue = append(queue, q.pending[recipient]...)
	q.pending[recipient] = queue
}

// Peek returns a copy of the in-memory notifications for recipient
func (q *PendingQueue) Peek(recipient RecipientID) []Notification {
	queue := q.pending[recipient]
	out := make([]Notification, len(queue))
	copy(out, queue)
	return out
}

// Len returns the number of pending notifications for recipient, spilled ones included
func (q *PendingQueue) Len(recipient RecipientID) int {
	n := len(q.pending[recipient])
	if q.overflow != nil {
		n += q.overflow.Len(recipient)
	}
	return n
}

// Has reports whether recipient has anything pending, in memory or spilled
func (q *PendingQueue) Has(recipient RecipientID) bool {
	if _, ok := q.pending[recipient]; ok {
		return true
	}
	return q.overflow != nil && q.overflow.Len(recipient) > 0
}

// Total returns the number of pending notifications across recipients
func (q *PendingQueue) Total() int {
	total := 0
	for _, recipient := range q.Recipients() {
		total += q.Len(recipient)
	}
	return total
}

// Recipients returns recipients with pending notifications, spilled ones included
func (q *PendingQueue) Recipients() []RecipientID {
	out := make([]RecipientID, 0, len(q.pending))
	for recipient := range q.pending {
		out = append(out, recipient)
	}
	if q.overflow == nil {
		return out
	}
	for _, recipient := range q.overflow.Recipients() {
		if _, ok := q.pending[recipient]; !ok && q.overflow.Len(recipient) > 0 {
			out = append(out, recipient)
		}
	}
	return out
}
