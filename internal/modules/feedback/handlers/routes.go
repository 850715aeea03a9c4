package handlers

import (
	"github.com/go-chi/chi/v5"
)

// RegisterRoutes registers all feedback routes
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Route("/feedback", func(r chi.Router) {
		r.Post("/", h.HandleSubmit)
		r.Get("/{uuid}", h.HandleListForRecommendation)
	})
}
