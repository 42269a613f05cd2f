package admin

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/verdant/ordernotify/notify"
	"github.com/verdant/ordernotify/transport"
)

// handleStats returns dispatcher totals
func (h *AdminHandlers) handleStats(w http.ResponseWriter, r *http.Request) {
	connected, pending := h.notifications.Stats()

	response := map[string]interface{}{
		"connected_recipients":  connected,
		"pending_notifications": pending,
	}
	if h.sessions != nil {
		response["sessions"] = len(h.sessions.Sessions())
	}

	writeJSONResponse(w, response, false)
}

// handleRecipients lists recipients that are connected or have pending notifications
func (h *AdminHandlers) handleRecipients(w http.ResponseWriter, r *http.Request) {
	writeJSONResponse(w, h.notifications.Status(), false)
}

// handleSessions lists open websocket sessions, oldest first
func (h *AdminHandlers) handleSessions(w http.ResponseWriter, r *http.Request) {
	sessions := []transport.SessionInfo{}
	if h.sessions != nil {
		sessions = h.sessions.Sessions()
	}
	writeJSONResponse(w, sessions, false)
}

// handlePending returns the recipient's pending notifications, oldest first
func (h *AdminHandlers) handlePending(w http.ResponseWriter, r *http.Request) {
	recipient := notify.RecipientID(chi.URLParam(r, "recipient"))
	if recipient == "" {
		writeErrorResponse(w, http.StatusBadRequest, "recipient is required")
		return
	}

	limit, err := parseLimit(r)
	if err != nil {
		writeErrorResponse(w, http.StatusBadRequest, err.Error())
		return
	}

	pending := h.notifications.Pending(recipient)
	hasMore := len(pending) > limit
	if hasMore {
		pending = pending[:limit]
	}
	if pending == nil {
		pending = []notify.Notification{}
	}

	response := map[string]interface{}{
		"recipient":     recipient,
		"connected":     h.notifications.IsConnected(recipient),
		"pending":       h.notifications.QueueLength(recipient),
		"notifications": pending,
	}

	writeJSONResponse(w, response, hasMore)
}
