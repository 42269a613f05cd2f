package notify

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewOrderNotification(t *testing.T) {
	created := time.Date(2025, 5, 2, 8, 0, 0, 0, time.UTC)
	rendered := time.Date(2025, 5, 2, 14, 7, 9, 0, time.Local)

	n := NewOrderNotification(Order{ID: 17, Amount: 42.5, CreatedAt: created}, rendered)

	assert.Equal(t, int64(17), n.ID)
	assert.Equal(t, KindOrderCreated, n.Kind)
	assert.Equal(t, "Nouvelle commande", n.Title)
	assert.Equal(t, "Commande de 42.5€ à 14:07:09", n.Message)
	assert.True(t, created.Equal(n.CreatedAt), "created_at comes from the order, not the render clock")
	assert.Equal(t, Unread, n.ReadState)
}

func TestFormatAmount(t *testing.T) {
	tests := []struct {
		amount float64
		want   string
	}{
		{50, "50"},
		{12.5, "12.5"},
		{0.1, "0.1"},
		{1999.99, "1999.99"},
	}

	for _, tc := range tests {
		assert.Equal(t, tc.want, formatAmount(tc.amount))
	}
}

func TestNotificationJSONPayload(t *testing.T) {
	created := time.Date(2025, 1, 10, 9, 30, 0, 0, time.UTC)
	n := NewOrderNotification(Order{ID: 1, Amount: 50, CreatedAt: created}, created)

	data, err := json.Marshal([]Notification{n})
	require.NoError(t, err)

	var payload []map[string]interface{}
	require.NoError(t, json.Unmarshal(data, &payload))
	require.Len(t, payload, 1)

	item := payload[0]
	assert.Equal(t, float64(1), item["id"])
	assert.Equal(t, "Nouvelle commande", item["title"])
	assert.Contains(t, item["message"], "50")
	assert.Equal(t, "2025-01-10T09:30:00Z", item["created_at"])
	assert.Equal(t, "order", item["type"])
	assert.Equal(t, "unread", item["status"])
	assert.Len(t, item, 6)

	var back []Notification
	require.NoError(t, json.Unmarshal(data, &back))
	assert.Equal(t, n.Message, back[0].Message)
	assert.Equal(t, KindOrderCreated, back[0].Kind)
	assert.True(t, n.CreatedAt.Equal(back[0].CreatedAt))
}

func TestNotificationUnmarshalRejectsOtherTypes(t *testing.T) {
	var n Notification
	err := json.Unmarshal([]byte(`{"id":1,"type":"promo"}`), &n)
	assert.Error(t, err)
}
