package changefeed

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/verdant/ordernotify/notify"
)

func TestParseOrder_ColumnTypes(t *testing.T) {
	created := time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)

	tests := []struct {
		name string
		row  map[string]interface{}
		want notify.Order
	}{
		{
			name: "native values",
			row:  map[string]interface{}{"id": int64(4), "amount": 12.5, "created_at": created},
			want: notify.Order{ID: 4, Amount: 12.5, CreatedAt: created},
		},
		{
			name: "json numbers",
			row:  map[string]interface{}{"id": json.Number("5"), "amount": json.Number("7.25"), "created_at": "2025-03-01T09:00:00Z"},
			want: notify.Order{ID: 5, Amount: 7.25, CreatedAt: created},
		},
		{
			name: "postgres text",
			row:  map[string]interface{}{"id": "6", "amount": "100.00", "created_at": "2025-03-01 09:00:00+00"},
			want: notify.Order{ID: 6, Amount: 100, CreatedAt: created},
		},
		{
			name: "timestamp without zone",
			row:  map[string]interface{}{"id": float64(7), "amount": 1, "created_at": "2025-03-01 09:00:00"},
			want: notify.Order{ID: 7, Amount: 1, CreatedAt: created},
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got, err := ParseOrder(RowEvent{Type: EventInsert, Record: tc.row})
			require.NoError(t, err)
			assert.Equal(t, tc.want.ID, got.ID)
			assert.Equal(t, tc.want.Amount, got.Amount)
			assert.True(t, tc.want.CreatedAt.Equal(got.CreatedAt), "got %v", got.CreatedAt)
		})
	}
}

func TestParseOrder_Invalid(t *testing.T) {
	rows := []map[string]interface{}{
		nil,
		{"amount": 1, "created_at": "2025-03-01T09:00:00Z"},
		{"id": 1.5, "amount": 1, "created_at": "2025-03-01T09:00:00Z"},
		{"id": 1, "created_at": "2025-03-01T09:00:00Z"},
		{"id": 1, "amount": "lots", "created_at": "2025-03-01T09:00:00Z"},
		{"id": 1, "amount": 1},
		{"id": 1, "amount": 1, "created_at": "yesterday"},
		{"id": true, "amount": 1, "created_at": "2025-03-01T09:00:00Z"},
	}

	for i, row := range rows {
		_, err := ParseOrder(RowEvent{Record: row})
		assert.Error(t, err, "row %d", i)
	}
}

func TestOrderHandler_SkipsInvalidRows(t *testing.T) {
	var got []notify.Order
	cb := OrderHandler(func(o notify.Order) { got = append(got, o) })

	cb(RowEvent{Record: map[string]interface{}{"id": "x"}})
	cb(RowEvent{Record: map[string]interface{}{"id": 3, "amount": 2, "created_at": "2025-03-01T09:00:00Z"}})

	require.Len(t, got, 1)
	assert.Equal(t, int64(3), got[0].ID)
}
