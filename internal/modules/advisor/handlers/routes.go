package handlers

import (
	"github.com/go-chi/chi/v5"
)

// RegisterRoutes registers all advisor routes
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Route("/advisor", func(r chi.Router) {
		r.Get("/recommendations", h.HandleList)
		r.Get("/recommendations/{uuid}", h.HandleGet)
		r.Post("/recommendations/{uuid}/approve", h.HandleApprove)
		r.Post("/recommendations/{uuid}/reject", h.HandleReject)
		r.Post("/recommendations/{uuid}/implement", h.HandleImplement)
		r.Post("/recommendations/{uuid}/supersede", h.HandleSupersede)
		r.Post("/sweep", h.HandleSweep)
	})
}
