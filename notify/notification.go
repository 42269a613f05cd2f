package notify

import (
	"encoding/json"
	"fmt"
	"strconv"
	"time"
)

// RecipientID identifies the destination of a notification.
type RecipientID string

// Kind tags what happened to produce a notification.
type Kind string

const KindOrderCreated Kind = "order_created"

// ReadState is owned by the consumer; the dispatcher only ever creates unread notifications.
type ReadState string

const (
	Unread ReadState = "unread"
	Read   ReadState = "read"
)

const (
	orderTitle = "Nouvelle commande"
	orderType  = "order"
)

// Order is the subset of an inserted order row needed to notify about it.
type Order struct {
	ID        int64
	Amount    float64
	CreatedAt time.Time
}

// Notification is one order-created event for a recipient. It is built once
// by NewOrderNotification and passed by value afterwards.
type Notification struct {
	ID        int64     `msgpack:"id"`
	Kind      Kind      `msgpack:"kind"`
	Title     string    `msgpack:"title"`
	Message   string    `msgpack:"message"`
	CreatedAt time.Time `msgpack:"created_at"`
	ReadState ReadState `msgpack:"read_state"`
}

// NewOrderNotification builds the notification for a freshly created order.
// renderedAt is the wall clock used inside the human-readable message; the
// notification's CreatedAt is the order's own timestamp.
func NewOrderNotification(order Order, renderedAt time.Time) Notification {
	return Notification{
		ID:        order.ID,
		Kind:      KindOrderCreated,
		Title:     orderTitle,
		Message:   fmt.Sprintf("Commande de %s€ à %s", formatAmount(order.Amount), renderedAt.Format("15:04:05")),
		CreatedAt: order.CreatedAt,
		ReadState: Unread,
	}
}

// formatAmount renders 50 as "50" and 12.5 as "12.5"
func formatAmount(amount float64) string {
	return strconv.FormatFloat(amount, 'f', -1, 64)
}

type wireNotification struct {
	ID        int64     `json:"id"`
	Title     string    `json:"title"`
	Message   string    `json:"message"`
	CreatedAt time.Time `json:"created_at"`
	Type      string    `json:"type"`
	Status    ReadState `json:"status"`
}

// MarshalJSON renders the push payload: {id, title, message, created_at, type, status}.
func (n Notification) MarshalJSON() ([]byte, error) {
	return json.Marshal(wireNotification{
		ID:        n.ID,
		Title:     n.Title,
		Message:   n.Message,
		CreatedAt: n.CreatedAt,
		Type:      orderType,
		Status:    n.ReadState,
	})
}

// UnmarshalJSON reads the push payload back, for clients and tests.
func (n *Notification) UnmarshalJSON(data []byte) error {
	var w wireNotification
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	if w.Type != orderType {
		return fmt.Errorf("unexpected notification type %q", w.Type)
	}

	*n = Notification{
		ID:        w.ID,
		Kind:      KindOrderCreated,
		Title:     w.Title,
		Message:   w.Message,
		CreatedAt: w.CreatedAt,
		ReadState: w.Status,
	}
	return nil
}
