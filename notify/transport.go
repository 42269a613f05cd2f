package notify

// EventOrderCreated is the push event carrying a batch of notifications.
const EventOrderCreated = "order_created"

// Transport is a live push connection to one recipient.
//
// Emit must be safe to call from the dispatcher goroutine while the
// transport's own read loop is running. A non-nil error means the payload was
// not delivered and the transport should be treated as gone.
type Transport interface {
	Emit(event string, payload any) error
}
