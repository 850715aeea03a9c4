package handlers

import (
	"github.com/go-chi/chi/v5"
)

// RegisterRoutes registers all market data routes
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Route("/market", func(r chi.Router) {
		r.Post("/snapshots", h.HandleIngest)
		r.Get("/snapshots/id/{uuid}", h.HandleGetByID)
		r.Get("/snapshots/{layer}", h.HandleListRecent)
		r.Get("/snapshots/{layer}/latest", h.HandleLatest)
	})
}
