package admin

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"

	"github.com/rs/zerolog/log"
	"github.com/verdant/ordernotify/notify"
	"github.com/verdant/ordernotify/orders"
	"github.com/verdant/ordernotify/transport"
)

// NotificationState is the read side of the dispatcher
type NotificationState interface {
	Status() []notify.RecipientStatus
	Stats() (connected, pending int)
	Pending(recipient notify.RecipientID) []notify.Notification
	QueueLength(recipient notify.RecipientID) int
	IsConnected(recipient notify.RecipientID) bool
}

// SessionLister lists open push sessions
type SessionLister interface {
	Sessions() []transport.SessionInfo
}

// OrderLister lists committed orders
type OrderLister interface {
	ListOrders(ctx context.Context) ([]orders.Order, error)
}

// AdminHandlers handles admin API endpoints
type AdminHandlers struct {
	notifications NotificationState
	sessions      SessionLister
	orders        OrderLister
}

// NewAdminHandlers creates a new AdminHandlers instance. sessions and orders may be nil.
func NewAdminHandlers(notifications NotificationState, sessions SessionLister, orders OrderLister) *AdminHandlers {
	return &AdminHandlers{
		notifications: notifications,
		sessions:      sessions,
		orders:        orders,
	}
}

// writeJSONResponse writes a successful JSON response
func writeJSONResponse(w http.ResponseWriter, data interface{}, hasMore bool) {
	response := map[string]interface{}{
		"data": data,
	}

	if hasMore {
		response["has_more"] = true
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(response); err != nil {
		log.Error().Err(err).Msg("Failed to encode JSON response")
	}
}

// writeErrorResponse writes an error JSON response
func writeErrorResponse(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	response := map[string]interface{}{
		"error": message,
	}
	if err := json.NewEncoder(w).Encode(response); err != nil {
		log.Error().Err(err).Msg("Failed to encode error response")
	}
}

// parseLimit parses limit parameter with defaults
func parseLimit(r *http.Request) (int, error) {
	limitStr := r.URL.Query().Get("limit")
	if limitStr == "" {
		return 256, nil // default
	}

	limit, err := strconv.Atoi(limitStr)
	if err != nil {
		return 0, fmt.Errorf("invalid limit parameter: %w", err)
	}

	if limit < 1 {
		return 0, fmt.Errorf("limit must be positive")
	}

	if limit > 1024 {
		return 0, fmt.Errorf("limit cannot exceed 1024")
	}

	return limit, nil
}
