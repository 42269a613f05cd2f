package admin

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"
)

// NewRouter returns the admin API. Routes are relative to the mount point.
func NewRouter(handlers *AdminHandlers) http.Handler {
	r := chi.NewRouter()
	r.Use(AuthMiddleware)

	r.Get("/stats", handlers.handleStats)

	r.Route("/notifications", func(r chi.Router) {
		r.Get("/recipients", handlers.handleRecipients)
		r.Get("/sessions", handlers.handleSessions)
		r.Get("/pending/{recipient}", handlers.handlePending)
	})

	r.Get("/orders", handlers.handleOrders)

	log.Info().Msg("Admin endpoints enabled at /admin/*")
	return r
}
