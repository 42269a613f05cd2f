package changefeed

import (
	"fmt"
	"sync"

	"github.com/verdant/ordernotify/cfg"
)

// ListenerFactory creates a remote Listener from configuration
type ListenerFactory func(config cfg.ChangeFeedConfiguration, decoder Decoder) (Listener, error)

var (
	listenerFactories = make(map[string]ListenerFactory)
	listenerMu        sync.RWMutex
)

// RegisterListener registers a listener factory for a source type
func RegisterListener(source string, factory ListenerFactory) {
	listenerMu.Lock()
	defer listenerMu.Unlock()
	listenerFactories[source] = factory
}

// NewListener returns the listener for config.Source. The "local" source is
// the given hub; every other source is built by its registered factory with
// the decoder for config.Format.
func NewListener(config cfg.ChangeFeedConfiguration, hub *Hub) (Listener, error) {
	if config.Source == sourceLocal {
		if hub == nil {
			return nil, fmt.Errorf("local change feed requires a hub")
		}
		return hub, nil
	}

	listenerMu.RLock()
	factory, exists := listenerFactories[config.Source]
	listenerMu.RUnlock()

	if !exists {
		return nil, fmt.Errorf("unknown change feed source: %s", config.Source)
	}

	decoder, err := NewDecoder(config.Format)
	if err != nil {
		return nil, err
	}

	return factory(config, decoder)
}

// SubscriptionFromConfig builds the subscription described by config
func SubscriptionFromConfig(config cfg.ChangeFeedConfiguration) (Subscription, error) {
	event, err := ParseEventType(config.Event)
	if err != nil {
		return Subscription{}, err
	}
	return Subscription{Schema: config.Schema, Table: config.Table, Event: event}, nil
}

// topicFor names the subject or topic carrying changes for sub: <prefix>.<schema>.<table>
func topicFor(prefix string, sub Subscription) string {
	schema, table := sub.Schema, sub.Table
	if schema == "" {
		schema = "*"
	}
	if table == "" {
		table = "*"
	}
	if prefix == "" {
		return schema + "." + table
	}
	return prefix + "." + schema + "." + table
}

// deliver decodes one message and hands it to cb when it matches
func deliver(source string, decoder Decoder, m *matcher, data []byte, cb Callback) {
	ev, err := decoder.Decode(data)
	if err != nil {
		recordDecodeError(source, err)
		return
	}
	if !m.matches(ev) {
		countEvent(source, "filtered")
		return
	}
	countEvent(source, "accepted")
	cb(ev)
}
