package notify

// Registry maps a recipient to its live transport. At most one transport is
// kept per recipient; registering again replaces the previous one without
// closing it.
//
// Registry is not safe for concurrent use on its own; Dispatcher guards it
// together with the PendingQueue.
type Registry struct {
	transports map[RecipientID]Transport
}

// NewRegistry creates an empty connection registry
func NewRegistry() *Registry {
	return &Registry{
		transports: make(map[RecipientID]Transport),
	}
}

// Register stores or overwrites the transport for recipient
func (r *Registry) Register(recipient RecipientID, t Transport) {
	r.transports[recipient] = t
}

// Unregister removes the recipient's transport; absent recipients are a no-op
func (r *Registry) Unregister(recipient RecipientID) {
	delete(r.transports, recipient)
}

// Lookup returns the recipient's transport if one is registered
func (r *Registry) Lookup(recipient RecipientID) (Transport, bool) {
	t, ok := r.transports[recipient]
	return t, ok
}

// Len returns the number of connected recipients
func (r *Registry) Len() int {
	return len(r.transports)
}

// Recipients returns the connected recipients in no particular order
func (r *Registry) Recipients() []RecipientID {
	out := make([]RecipientID, 0, len(r.transports))
	for recipient := range r.transports {
		out = append(out, recipient)
	}
	return out
}
