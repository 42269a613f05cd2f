// Package api exposes the shop's payment endpoints, the health check and the
// notification websocket on one chi router.
package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"
	"github.com/verdant/ordernotify/orders"
)

// Options configures the router
type Options struct {
	WebSocketPath  string       // Mount point of the notification websocket
	WebSocket      http.Handler // nil leaves the websocket unmounted
	MetricsPath    string
	Metrics        http.Handler // nil leaves metrics unmounted
	Admin          http.Handler // Mounted under /admin when set
	MaxBodyBytes   int64
	HealthCheckers []HealthChecker
}

// HealthChecker reports whether a dependency is usable
type HealthChecker func(r *http.Request) error

// NewRouter builds the public HTTP surface
func NewRouter(service *orders.Service, opts Options) http.Handler {
	h := &Handlers{
		service:      service,
		maxBodyBytes: opts.MaxBodyBytes,
		checkers:     opts.HealthCheckers,
	}
	if h.maxBodyBytes <= 0 {
		h.maxBodyBytes = defaultMaxBodyBytes
	}
	if opts.WebSocketPath == "" {
		opts.WebSocketPath = "/ws"
	}
	if opts.MetricsPath == "" {
		opts.MetricsPath = "/metrics"
	}

	r := chi.NewRouter()

	r.Get("/health", h.handleHealth)

	r.Post("/processPayment/{userId}", h.handleProcessPayment)
	r.Post("/add-payment/{userId}", h.handleAddPaymentMethod)
	r.Get("/payment/{userId}", h.handleListPaymentMethods)
	r.Delete("/delete-payment/{userId}/{methodId}", h.handleDeletePaymentMethod)
	r.Patch("/default-payment/{userId}/{methodId}", h.handleSetDefaultPaymentMethod)

	if opts.WebSocket != nil {
		r.Handle(opts.WebSocketPath, opts.WebSocket)
		log.Info().Str("path", opts.WebSocketPath).Msg("Notification websocket enabled")
	}

	if opts.Metrics != nil {
		r.Handle(opts.MetricsPath, opts.Metrics)
		log.Info().Str("path", opts.MetricsPath).Msg("Metrics endpoint enabled")
	}

	if opts.Admin != nil {
		r.Mount("/admin", opts.Admin)
	}

	return r
}
