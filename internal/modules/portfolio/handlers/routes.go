package handlers

import (
	"github.com/go-chi/chi/v5"
)

// RegisterRoutes registers all portfolio routes
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Route("/portfolio", func(r chi.Router) {
		r.Get("/positions", h.HandleListPositions)
		r.Get("/positions/{asset}", h.HandleGetPosition)
		r.Post("/positions/{asset}/recompute", h.HandleRecompute)
		r.Post("/positions/{asset}/reconcile", h.HandleReconcile)
		r.Get("/flagged", h.HandleListFlagged)
	})
}
