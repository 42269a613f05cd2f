package admin

import "net/http"

// handleOrders lists orders with their items, newest first
func (h *AdminHandlers) handleOrders(w http.ResponseWriter, r *http.Request) {
	if h.orders == nil {
		writeErrorResponse(w, http.StatusNotFound, "order store is not configured")
		return
	}

	limit, err := parseLimit(r)
	if err != nil {
		writeErrorResponse(w, http.StatusBadRequest, err.Error())
		return
	}

	list, err := h.orders.ListOrders(r.Context())
	if err != nil {
		writeErrorResponse(w, http.StatusInternalServerError, err.Error())
		return
	}

	hasMore := len(list) > limit
	if hasMore {
		list = list[:limit]
	}

	writeJSONResponse(w, list, hasMore)
}
