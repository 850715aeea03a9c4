package handlers

import (
	"net/http"

	"github.com/go-chi/chi/v5"
)

// RegisterRoutes registers all ledger routes
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Route("/ledger", func(r chi.Router) {
		r.Post("/actions", h.HandleAppend)
		r.Get("/actions", h.HandleListActions)
		r.Get("/actions/{id}", func(w http.ResponseWriter, r *http.Request) {
			h.HandleGetAction(w, r, chi.URLParam(r, "id"))
		})
		r.Get("/summary", h.HandleSummary)
	})
}
