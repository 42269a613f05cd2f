package changefeed

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/verdant/ordernotify/notify"
)

const realtimeInsert = `{
	"schema": "public",
	"table": "orders",
	"commit_timestamp": "2025-02-14T18:45:00.123Z",
	"eventType": "INSERT",
	"new": {"id": 9007199254740993, "amount": 50, "created_at": "2025-02-14T18:45:00.1+00:00", "status": "In processing"},
	"old": {},
	"errors": null
}`

const debeziumInsert = `{
	"schema": {"type": "struct", "name": "shop.public.orders.Envelope", "fields": []},
	"payload": {
		"before": null,
		"after": {"id": 12, "amount": "19.90", "created_at": 1739558700000},
		"op": "c",
		"ts_ms": 1739558700500,
		"source": {"connector": "postgresql", "db": "shop", "schema": "public", "table": "orders"}
	}
}`

func TestRealtimeDecoder_Insert(t *testing.T) {
	ev, err := RealtimeDecoder{}.Decode([]byte(realtimeInsert))
	require.NoError(t, err)

	assert.Equal(t, "public", ev.Schema)
	assert.Equal(t, "orders", ev.Table)
	assert.Equal(t, EventInsert, ev.Type)
	assert.Equal(t, time.Date(2025, 2, 14, 18, 45, 0, 123000000, time.UTC), ev.CommitTS.UTC())

	order, err := ParseOrder(ev)
	require.NoError(t, err)
	assert.Equal(t, int64(9007199254740993), order.ID, "ids keep full precision")
	assert.Equal(t, float64(50), order.Amount)
	assert.Equal(t, time.Date(2025, 2, 14, 18, 45, 0, 100000000, time.UTC), order.CreatedAt.UTC())
}

func TestRealtimeDecoder_Errors(t *testing.T) {
	_, err := RealtimeDecoder{}.Decode([]byte(`not json`))
	assert.Error(t, err)
	assert.False(t, errors.Is(err, ErrUnsupportedEvent))

	_, err = RealtimeDecoder{}.Decode([]byte(`{"schema":"public","table":"orders","eventType":"TRUNCATE"}`))
	assert.ErrorIs(t, err, ErrUnsupportedEvent)

	_, err = RealtimeDecoder{}.Decode([]byte(`{"schema":"public","eventType":"INSERT","new":{}}`))
	assert.Error(t, err)
}

func TestRealtimeDecoder_DeleteHasNoRecord(t *testing.T) {
	ev, err := RealtimeDecoder{}.Decode([]byte(`{"schema":"public","table":"orders","eventType":"DELETE","new":{},"old":{"id":3}}`))
	require.NoError(t, err)
	assert.Equal(t, EventDelete, ev.Type)
	assert.Nil(t, ev.Record)
	assert.NotNil(t, ev.Old)
}

func TestDebeziumDecoder_Envelope(t *testing.T) {
	ev, err := DebeziumDecoder{}.Decode([]byte(debeziumInsert))
	require.NoError(t, err)

	assert.Equal(t, "public", ev.Schema)
	assert.Equal(t, "orders", ev.Table)
	assert.Equal(t, EventInsert, ev.Type)
	assert.Equal(t, time.UnixMilli(1739558700500).UTC(), ev.CommitTS)

	order, err := ParseOrder(ev)
	require.NoError(t, err)
	assert.Equal(t, notify.Order{ID: 12, Amount: 19.9, CreatedAt: time.UnixMilli(1739558700000).UTC()}, order)
}

func TestDebeziumDecoder_WithoutSchema(t *testing.T) {
	msg := `{"before":null,"after":{"id":1,"amount":5,"created_at":"2025-01-01T00:00:00Z"},"op":"c","ts_ms":1,"source":{"db":"app","table":"orders"}}`
	ev, err := DebeziumDecoder{}.Decode([]byte(msg))
	require.NoError(t, err)
	assert.Equal(t, "app", ev.Schema, "falls back to source.db")
	assert.Equal(t, EventInsert, ev.Type)
}

func TestDebeziumDecoder_Unsupported(t *testing.T) {
	_, err := DebeziumDecoder{}.Decode(nil)
	assert.ErrorIs(t, err, ErrUnsupportedEvent)

	_, err = DebeziumDecoder{}.Decode([]byte(`{"payload":{"op":"r","source":{"table":"orders"}}}`))
	assert.ErrorIs(t, err, ErrUnsupportedEvent)

	ev, err := DebeziumDecoder{}.Decode([]byte(`{"payload":{"op":"u","after":{"id":1},"source":{"db":"app","table":"orders"}}}`))
	require.NoError(t, err)
	assert.Equal(t, EventUpdate, ev.Type)
}

func TestNewDecoder(t *testing.T) {
	d, err := NewDecoder("realtime")
	require.NoError(t, err)
	assert.IsType(t, RealtimeDecoder{}, d)

	d, err = NewDecoder("debezium")
	require.NoError(t, err)
	assert.IsType(t, DebeziumDecoder{}, d)

	_, err = NewDecoder("avro")
	assert.Error(t, err)
}
