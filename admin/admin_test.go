package admin

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/verdant/ordernotify/cfg"
	"github.com/verdant/ordernotify/notify"
	"github.com/verdant/ordernotify/orders"
	"github.com/verdant/ordernotify/transport"
)

type fakeSessions []transport.SessionInfo

func (f fakeSessions) Sessions() []transport.SessionInfo { return f }

type fakeOrders struct {
	list []orders.Order
	err  error
}

func (f *fakeOrders) ListOrders(context.Context) ([]orders.Order, error) {
	return f.list, f.err
}

func withSecret(t *testing.T, secret string) {
	t.Helper()
	prev := cfg.Config.Admin.Secret
	cfg.Config.Admin.Secret = secret
	t.Cleanup(func() { cfg.Config.Admin.Secret = prev })
}

func newDispatcher(t *testing.T) *notify.Dispatcher {
	t.Helper()
	d, err := notify.NewDispatcher(notify.DispatcherConfig{})
	require.NoError(t, err)
	return d
}

func get(t *testing.T, h http.Handler, path string, header http.Header) (*httptest.ResponseRecorder, map[string]interface{}) {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	for k, v := range header {
		req.Header[k] = v
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body), rec.Body.String())
	return rec, body
}

func TestAuthMiddleware(t *testing.T) {
	withSecret(t, "s3cret")
	h := NewRouter(NewAdminHandlers(newDispatcher(t), nil, nil))

	rec, body := get(t, h, "/stats", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "missing authentication header", body["error"])

	rec, body = get(t, h, "/stats", http.Header{"Authorization": []string{"Basic abc"}})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "invalid authorization header format", body["error"])

	rec, _ = get(t, h, "/stats", http.Header{SecretHeader: []string{"wrong"}})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec, _ = get(t, h, "/stats", http.Header{SecretHeader: []string{"s3cret"}})
	assert.Equal(t, http.StatusOK, rec.Code)

	rec, _ = get(t, h, "/stats", http.Header{"Authorization": []string{"Bearer s3cret"}})
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestAuthMiddleware_Disabled(t *testing.T) {
	withSecret(t, "")
	h := NewRouter(NewAdminHandlers(newDispatcher(t), nil, nil))

	rec, _ := get(t, h, "/stats", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestRecipientsAndStats(t *testing.T) {
	withSecret(t, "")
	d := newDispatcher(t)
	d.OnConnect("alice", &transport.MockTransport{})
	d.OnOrderCreated("bob", notify.Order{ID: 1, Amount: 5, CreatedAt: time.Now()})
	d.OnOrderCreated("bob", notify.Order{ID: 2, Amount: 5, CreatedAt: time.Now()})

	sessions := fakeSessions{{ID: "s1", Recipient: "alice"}}
	h := NewRouter(NewAdminHandlers(d, sessions, nil))

	rec, body := get(t, h, "/notifications/recipients", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	data := body["data"].([]interface{})
	require.Len(t, data, 2)
	assert.Equal(t, map[string]interface{}{"recipient": "alice", "connected": true, "pending": float64(0)}, data[0])
	assert.Equal(t, map[string]interface{}{"recipient": "bob", "connected": false, "pending": float64(2)}, data[1])

	_, body = get(t, h, "/stats", nil)
	stats := body["data"].(map[string]interface{})
	assert.Equal(t, float64(1), stats["connected_recipients"])
	assert.Equal(t, float64(2), stats["pending_notifications"])
	assert.Equal(t, float64(1), stats["sessions"])

	_, body = get(t, h, "/notifications/sessions", nil)
	list := body["data"].([]interface{})
	require.Len(t, list, 1)
	assert.Equal(t, "s1", list[0].(map[string]interface{})["id"])
}

func TestPending(t *testing.T) {
	withSecret(t, "")
	d := newDispatcher(t)
	for id := int64(1); id <= 3; id++ {
		d.OnOrderCreated("bob", notify.Order{ID: id, Amount: 10, CreatedAt: time.Now()})
	}
	h := NewRouter(NewAdminHandlers(d, nil, nil))

	rec, body := get(t, h, "/notifications/pending/bob?limit=2", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, true, body["has_more"])

	data := body["data"].(map[string]interface{})
	assert.Equal(t, "bob", data["recipient"])
	assert.Equal(t, false, data["connected"])
	assert.Equal(t, float64(3), data["pending"])
	notes := data["notifications"].([]interface{})
	require.Len(t, notes, 2)
	assert.Equal(t, float64(1), notes[0].(map[string]interface{})["id"])
	assert.Equal(t, "unread", notes[0].(map[string]interface{})["status"])

	_, body = get(t, h, "/notifications/pending/nobody", nil)
	data = body["data"].(map[string]interface{})
	assert.Equal(t, float64(0), data["pending"])
	assert.Empty(t, data["notifications"])
	assert.NotContains(t, body, "has_more")

	rec, _ = get(t, h, "/notifications/pending/bob?limit=0", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestOrders(t *testing.T) {
	withSecret(t, "")
	store := &fakeOrders{list: []orders.Order{
		{ID: 2, UserID: "u2", Amount: 7, Status: orders.StatusInProcessing, Items: []orders.OrderItem{}},
		{ID: 1, UserID: "u1", Amount: 19.9, Status: orders.StatusInProcessing, Items: []orders.OrderItem{{ID: 1, OrderID: 1, PlantID: 3, Quantity: 2}}},
	}}
	h := NewRouter(NewAdminHandlers(newDispatcher(t), nil, store))

	rec, body := get(t, h, "/orders", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	list := body["data"].([]interface{})
	require.Len(t, list, 2)
	assert.Equal(t, float64(2), list[0].(map[string]interface{})["id"])
	assert.Len(t, list[1].(map[string]interface{})["items"], 1)

	_, body = get(t, h, "/orders?limit=1", nil)
	assert.Len(t, body["data"], 1)
	assert.Equal(t, true, body["has_more"])

	store.err = errors.New("boom")
	rec, body = get(t, h, "/orders", nil)
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, "boom", body["error"])
}

func TestOrders_NotConfigured(t *testing.T) {
	withSecret(t, "")
	h := NewRouter(NewAdminHandlers(newDispatcher(t), nil, nil))

	rec, _ := get(t, h, "/orders", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestParseLimit(t *testing.T) {
	tests := []struct {
		query   string
		want    int
		wantErr bool
	}{
		{"", 256, false},
		{"?limit=10", 10, false},
		{"?limit=1024", 1024, false},
		{"?limit=1025", 0, true},
		{"?limit=-1", 0, true},
		{"?limit=abc", 0, true},
	}
	for _, tt := range tests {
		req := httptest.NewRequest(http.MethodGet, "/orders"+tt.query, nil)
		got, err := parseLimit(req)
		if tt.wantErr {
			assert.Error(t, err, tt.query)
			continue
		}
		require.NoError(t, err, tt.query)
		assert.Equal(t, tt.want, got)
	}
}
