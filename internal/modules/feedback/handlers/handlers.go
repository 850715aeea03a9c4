// Package handlers provides HTTP handlers for feedback operations.
package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/aristath/vantage/internal/domain"
	"github.com/aristath/vantage/internal/modules/feedback"
)

// Handler handles feedback HTTP requests
type Handler struct {
	service *feedback.Service
	log     zerolog.Logger
}

// NewHandler creates a new feedback handler
func NewHandler(service *feedback.Service, log zerolog.Logger) *Handler {
	return &Handler{
		service: service,
		log:     log.With().Str("handler", "feedback").Logger(),
	}
}

type submitRequest struct {
	RecommendationUUID string `json:"recommendation_uuid"`
	Rating             int    `json:"rating"`
	ActionTaken        string `json:"action_taken,omitempty"`
	Comment            string `json:"comment,omitempty"`
}

// HandleSubmit handles POST /api/feedback
func (h *Handler) HandleSubmit(w http.ResponseWriter, r *http.Request) {
	identity, ok := domain.IdentityFrom(r.Context())
	if !ok {
		http.Error(w, "Missing identity", http.StatusUnauthorized)
		return
	}

	var req submitRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	saved, err := h.service.Submit(&feedback.Feedback{
		RecommendationUUID: req.RecommendationUUID,
		ReviewerID:         identity.OwnerID,
		Rating:             req.Rating,
		ActionTaken:        req.ActionTaken,
		Comment:            req.Comment,
	})
	if err != nil {
		h.writeError(w, err, "Failed to submit feedback")
		return
	}

	h.writeJSON(w, http.StatusCreated, envelope(saved))
}

// HandleListForRecommendation handles GET /api/feedback/{uuid}
func (h *Handler) HandleListForRecommendation(w http.ResponseWriter, r *http.Request) {
	items, err := h.service.ForRecommendation(chi.URLParam(r, "uuid"))
	if err != nil {
		h.writeError(w, err, "Failed to list feedback")
		return
	}

	h.writeJSON(w, http.StatusOK, envelope(map[string]interface{}{
		"feedback": items,
		"count":    len(items),
	}))
}

func envelope(data interface{}) map[string]interface{} {
	return map[string]interface{}{
		"data": data,
		"metadata": map[string]interface{}{
			"timestamp": time.Now().Format(time.RFC3339),
		},
	}
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		h.log.Error().Err(err).Msg("Failed to encode response")
	}
}

func (h *Handler) writeError(w http.ResponseWriter, err error, msg string) {
	switch {
	case errors.Is(err, domain.ErrValidation):
		http.Error(w, err.Error(), http.StatusBadRequest)
	case errors.Is(err, domain.ErrNotFound):
		http.Error(w, err.Error(), http.StatusNotFound)
	case errors.Is(err, domain.ErrConflict):
		http.Error(w, err.Error(), http.StatusConflict)
	default:
		h.log.Error().Err(err).Msg(msg)
		http.Error(w, msg, http.StatusInternalServerError)
	}
}
