// Package changefeed delivers row-change events for a table to subscribers.
//
// Events come from one of several sources: the in-process Hub, a NATS subject
// or a Kafka topic. Remote sources carry JSON in either the realtime format
// ({schema, table, eventType, new, old}) or the Debezium envelope; a Decoder
// turns both into a RowEvent.
package changefeed

import (
	"context"
	"errors"
	"strings"
	"time"
)

// ErrUnsupportedEvent is returned by decoders for messages that are not row changes
var ErrUnsupportedEvent = errors.New("unsupported change event")

// EventType is the kind of row change
type EventType string

const (
	EventInsert EventType = "INSERT"
	EventUpdate EventType = "UPDATE"
	EventDelete EventType = "DELETE"
	EventAny    EventType = "*"
)

// ParseEventType normalizes a configured event name
func ParseEventType(s string) (EventType, error) {
	switch EventType(strings.ToUpper(s)) {
	case EventInsert:
		return EventInsert, nil
	case EventUpdate:
		return EventUpdate, nil
	case EventDelete:
		return EventDelete, nil
	case EventAny, "":
		return EventAny, nil
	default:
		return "", errors.New("unknown event type: " + s)
	}
}

// RowEvent is one committed row change
type RowEvent struct {
	Schema   string
	Table    string
	Type     EventType
	Record   map[string]interface{} // Row after the change, nil for deletes
	Old      map[string]interface{} // Row before the change, when the source provides it
	CommitTS time.Time
}

// Subscription selects events by schema, table and type.
// Schema and Table accept glob patterns; empty matches everything.
type Subscription struct {
	Schema string
	Table  string
	Event  EventType
}

// Callback receives matching events. Callbacks for one subscription are
// invoked sequentially, in the order the source delivered them.
type Callback func(RowEvent)

// Listener is a source of row events
type Listener interface {
	// Subscribe starts delivering events matching sub to cb until ctx is
	// done or the listener is closed. It returns once the subscription is
	// established.
	Subscribe(ctx context.Context, sub Subscription, cb Callback) error
	// Close stops every subscription and releases the source
	Close() error
}

// Decoder turns a raw change message into a RowEvent
type Decoder interface {
	Decode(data []byte) (RowEvent, error)
}

// matcher is a compiled Subscription
type matcher struct {
	filter *GlobFilter
	event  EventType
}

func newMatcher(sub Subscription) (*matcher, error) {
	var schemas, tables []string
	if sub.Schema != "" {
		schemas = []string{sub.Schema}
	}
	if sub.Table != "" {
		tables = []string{sub.Table}
	}

	filter, err := NewGlobFilter(tables, schemas)
	if err != nil {
		return nil, err
	}

	event := sub.Event
	if event == "" {
		event = EventAny
	}

	return &matcher{filter: filter, event: event}, nil
}

func (m *matcher) matches(ev RowEvent) bool {
	if m.event != EventAny && m.event != ev.Type {
		return false
	}
	return m.filter.Match(ev.Schema, ev.Table)
}
