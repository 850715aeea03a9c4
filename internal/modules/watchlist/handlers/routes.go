package handlers

import (
	"github.com/go-chi/chi/v5"
)

// RegisterRoutes registers all watchlist routes
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Route("/watchlists", func(r chi.Router) {
		r.Post("/", h.HandleCreate)
		r.Get("/", h.HandleList)
		r.Get("/default", h.HandleDefault)
		r.Get("/{uuid}", h.HandleGet)
		r.Delete("/{uuid}", h.HandleDelete)
		r.Post("/{uuid}/items", h.HandleAddItem)
		r.Delete("/{uuid}/items/{asset}", h.HandleRemoveItem)
	})
}
