package changefeed

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sync"
	"time"
)

// DecoderFactory creates a Decoder
type DecoderFactory func() Decoder

var (
	decoderFactories = make(map[string]DecoderFactory)
	decoderMu        sync.RWMutex
)

func init() {
	RegisterDecoder("realtime", func() Decoder { return RealtimeDecoder{} })
	RegisterDecoder("debezium", func() Decoder { return DebeziumDecoder{} })
}

// RegisterDecoder registers a decoder factory for a message format
func RegisterDecoder(format string, factory DecoderFactory) {
	decoderMu.Lock()
	defer decoderMu.Unlock()
	decoderFactories[format] = factory
}

// NewDecoder creates the decoder registered for format
func NewDecoder(format string) (Decoder, error) {
	decoderMu.RLock()
	factory, exists := decoderFactories[format]
	decoderMu.RUnlock()

	if !exists {
		return nil, fmt.Errorf("unknown change feed format: %s", format)
	}
	return factory(), nil
}

// unmarshalJSON decodes numbers as json.Number so row ids keep full precision
func unmarshalJSON(data []byte, v interface{}) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	return dec.Decode(v)
}

// RealtimeDecoder reads postgres_changes style messages:
//
//	{"schema":"public","table":"orders","commit_timestamp":"...","eventType":"INSERT","new":{...},"old":{...}}
type RealtimeDecoder struct{}

type realtimeMessage struct {
	Schema          string                 `json:"schema"`
	Table           string                 `json:"table"`
	CommitTimestamp string                 `json:"commit_timestamp"`
	EventType       string                 `json:"eventType"`
	New             map[string]interface{} `json:"new"`
	Old             map[string]interface{} `json:"old"`
}

// Decode implements Decoder
func (RealtimeDecoder) Decode(data []byte) (RowEvent, error) {
	var msg realtimeMessage
	if err := unmarshalJSON(data, &msg); err != nil {
		return RowEvent{}, fmt.Errorf("invalid realtime message: %w", err)
	}

	eventType, err := ParseEventType(msg.EventType)
	if err != nil || eventType == EventAny {
		return RowEvent{}, fmt.Errorf("%w: eventType %q", ErrUnsupportedEvent, msg.EventType)
	}
	if msg.Table == "" {
		return RowEvent{}, fmt.Errorf("invalid realtime message: missing table")
	}

	ev := RowEvent{
		Schema: msg.Schema,
		Table:  msg.Table,
		Type:   eventType,
		Record: msg.New,
		Old:    msg.Old,
	}
	if msg.CommitTimestamp != "" {
		if ts, err := parseTimestamp(msg.CommitTimestamp); err == nil {
			ev.CommitTS = ts
		}
	}
	if ev.Type == EventDelete {
		ev.Record = nil
	}

	return ev, nil
}

// DebeziumDecoder reads Debezium change events, with or without the schema envelope
type DebeziumDecoder struct{}

type debeziumMessage struct {
	Schema  json.RawMessage  `json:"schema"`
	Payload *debeziumPayload `json:"payload"`
}

type debeziumPayload struct {
	Before map[string]interface{} `json:"before"`
	After  map[string]interface{} `json:"after"`
	Op     string                 `json:"op"`
	TsMs   int64                  `json:"ts_ms"`
	Source debeziumSource         `json:"source"`
}

type debeziumSource struct {
	Connector string `json:"connector"`
	Db        string `json:"db"`
	Schema    string `json:"schema"`
	Table     string `json:"table"`
}

// Decode implements Decoder
func (DebeziumDecoder) Decode(data []byte) (RowEvent, error) {
	if len(bytes.TrimSpace(data)) == 0 {
		return RowEvent{}, fmt.Errorf("%w: tombstone", ErrUnsupportedEvent)
	}

	var msg debeziumMessage
	if err := unmarshalJSON(data, &msg); err != nil {
		return RowEvent{}, fmt.Errorf("invalid debezium message: %w", err)
	}

	payload := msg.Payload
	if payload == nil {
		// Converter configured with schemas.enable=false
		payload = &debeziumPayload{}
		if err := unmarshalJSON(data, payload); err != nil {
			return RowEvent{}, fmt.Errorf("invalid debezium message: %w", err)
		}
	}

	var eventType EventType
	switch payload.Op {
	case "c":
		eventType = EventInsert
	case "u":
		eventType = EventUpdate
	case "d":
		eventType = EventDelete
	default:
		// "r" snapshot reads and tombstones are not row changes
		return RowEvent{}, fmt.Errorf("%w: op %q", ErrUnsupportedEvent, payload.Op)
	}

	schema := payload.Source.Schema
	if schema == "" {
		schema = payload.Source.Db
	}
	if payload.Source.Table == "" {
		return RowEvent{}, fmt.Errorf("invalid debezium message: missing source.table")
	}

	ev := RowEvent{
		Schema: schema,
		Table:  payload.Source.Table,
		Type:   eventType,
		Record: payload.After,
		Old:    payload.Before,
	}
	if payload.TsMs > 0 {
		ev.CommitTS = time.UnixMilli(payload.TsMs).UTC()
	}

	return ev, nil
}
