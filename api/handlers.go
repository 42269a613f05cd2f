package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"
	"github.com/verdant/ordernotify/orders"
)

const defaultMaxBodyBytes = 1 << 20

// Handlers serves the public endpoints
type Handlers struct {
	service      *orders.Service
	maxBodyBytes int64
	checkers     []HealthChecker
}

func (h *Handlers) handleHealth(w http.ResponseWriter, r *http.Request) {
	for _, check := range h.checkers {
		if err := check(r); err != nil {
			log.Warn().Err(err).Msg("Health check failed")
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable", "error": err.Error()})
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *Handlers) handleProcessPayment(w http.ResponseWriter, r *http.Request) {
	var req orders.PaymentRequest
	if err := h.decodeBody(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	result, err := h.service.ProcessPayment(r.Context(), chi.URLParam(r, "userId"), req)
	if err != nil {
		writeServiceError(w, err, "Erreur lors du traitement du paiement")
		return
	}

	writeJSON(w, http.StatusOK, result)
}

func (h *Handlers) handleAddPaymentMethod(w http.ResponseWriter, r *http.Request) {
	var req orders.PaymentMethodRequest
	if err := h.decodeBody(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	pm, err := h.service.AddPaymentMethod(r.Context(), chi.URLParam(r, "userId"), req)
	if err != nil {
		writeServiceError(w, err, "Erreur serveur")
		return
	}

	writeJSON(w, http.StatusCreated, pm)
}

func (h *Handlers) handleListPaymentMethods(w http.ResponseWriter, r *http.Request) {
	methods, err := h.service.ListPaymentMethods(r.Context(), chi.URLParam(r, "userId"))
	if err != nil {
		writeServiceError(w, err, "Erreur serveur")
		return
	}

	writeJSON(w, http.StatusOK, methods)
}

func (h *Handlers) handleDeletePaymentMethod(w http.ResponseWriter, r *http.Request) {
	methodID, err := parseMethodID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	if err := h.service.DeletePaymentMethod(r.Context(), chi.URLParam(r, "userId"), methodID); err != nil {
		writeServiceError(w, err, "Erreur serveur")
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func (h *Handlers) handleSetDefaultPaymentMethod(w http.ResponseWriter, r *http.Request) {
	methodID, err := parseMethodID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	pm, err := h.service.SetDefaultPaymentMethod(r.Context(), chi.URLParam(r, "userId"), methodID)
	if err != nil {
		writeServiceError(w, err, "Erreur serveur")
		return
	}

	writeJSON(w, http.StatusOK, pm)
}

// decodeBody reads a single JSON object into v
func (h *Handlers) decodeBody(w http.ResponseWriter, r *http.Request, v interface{}) error {
	body := http.MaxBytesReader(w, r.Body, h.maxBodyBytes)
	dec := json.NewDecoder(body)
	if err := dec.Decode(v); err != nil {
		if errors.Is(err, io.EOF) {
			return fmt.Errorf("request body is required")
		}
		return fmt.Errorf("invalid request body: %w", err)
	}
	return nil
}

func parseMethodID(r *http.Request) (int64, error) {
	raw := chi.URLParam(r, "methodId")
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid payment method id: %s", raw)
	}
	return id, nil
}

// writeServiceError maps service errors onto status codes. Unexpected errors
// are logged and reported under fallback.
func writeServiceError(w http.ResponseWriter, err error, fallback string) {
	switch {
	case errors.Is(err, orders.ErrForbidden):
		writeError(w, http.StatusForbidden, err.Error())
	case errors.Is(err, orders.ErrPaymentMethodNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, orders.ErrInvalidRequest):
		writeError(w, http.StatusBadRequest, err.Error())
	default:
		log.Error().Err(err).Msg(fallback)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error":   fallback,
			"details": err.Error(),
		})
	}
}

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		log.Error().Err(err).Msg("Failed to encode JSON response")
	}
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": strings.TrimSpace(message)})
}
