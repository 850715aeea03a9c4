// Package handlers provides HTTP handlers for portfolio operations.
package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/aristath/vantage/internal/domain"
	"github.com/aristath/vantage/internal/modules/portfolio"
)

// Handler handles portfolio HTTP requests
type Handler struct {
	positions  *portfolio.PositionRepository
	aggregator *portfolio.Aggregator
	log        zerolog.Logger
}

// NewHandler creates a new portfolio handler
func NewHandler(positions *portfolio.PositionRepository, aggregator *portfolio.Aggregator, log zerolog.Logger) *Handler {
	return &Handler{
		positions:  positions,
		aggregator: aggregator,
		log:        log.With().Str("handler", "portfolio").Logger(),
	}
}

// HandleListPositions handles GET /api/portfolio/positions
func (h *Handler) HandleListPositions(w http.ResponseWriter, r *http.Request) {
	identity, ok := domain.IdentityFrom(r.Context())
	if !ok {
		http.Error(w, "Missing identity", http.StatusUnauthorized)
		return
	}

	ownerID := r.URL.Query().Get("owner_id")
	if ownerID == "" {
		ownerID = identity.OwnerID
	}
	if ownerID != identity.OwnerID && !identity.IsAdmin() {
		http.Error(w, "Cannot read another owner's positions", http.StatusForbidden)
		return
	}

	status := domain.PositionStatus(r.URL.Query().Get("status"))
	positions, err := h.positions.ListByOwner(ownerID, status)
	if err != nil {
		h.writeError(w, err, "Failed to list positions")
		return
	}

	h.writeJSON(w, http.StatusOK, envelope(map[string]interface{}{
		"positions": positions,
		"count":     len(positions),
	}))
}

// HandleGetPosition handles GET /api/portfolio/positions/{asset}
func (h *Handler) HandleGetPosition(w http.ResponseWriter, r *http.Request) {
	identity, ok := domain.IdentityFrom(r.Context())
	if !ok {
		http.Error(w, "Missing identity", http.StatusUnauthorized)
		return
	}

	ownerID := r.URL.Query().Get("owner_id")
	if ownerID == "" {
		ownerID = identity.OwnerID
	}
	if ownerID != identity.OwnerID && !identity.IsAdmin() {
		http.Error(w, "Cannot read another owner's positions", http.StatusForbidden)
		return
	}

	asset := domain.NormalizeAsset(chi.URLParam(r, "asset"))
	position, err := h.positions.Get(ownerID, asset)
	if err != nil {
		h.writeError(w, err, "Failed to get position")
		return
	}

	h.writeJSON(w, http.StatusOK, envelope(position))
}

// HandleRecompute handles POST /api/portfolio/positions/{asset}/recompute
func (h *Handler) HandleRecompute(w http.ResponseWriter, r *http.Request) {
	identity, ok := domain.IdentityFrom(r.Context())
	if !ok {
		http.Error(w, "Missing identity", http.StatusUnauthorized)
		return
	}

	ownerID := r.URL.Query().Get("owner_id")
	if ownerID == "" {
		ownerID = identity.OwnerID
	}
	if !identity.CanActOn(ownerID) {
		http.Error(w, "Cannot recompute another owner's positions", http.StatusForbidden)
		return
	}

	asset := domain.NormalizeAsset(chi.URLParam(r, "asset"))
	position, err := h.aggregator.Recompute(r.Context(), ownerID, asset)
	if err != nil {
		h.writeError(w, err, "Failed to recompute position")
		return
	}

	h.writeJSON(w, http.StatusOK, envelope(position))
}

// HandleReconcile handles POST /api/portfolio/positions/{asset}/reconcile.
// A divergence is reported, not treated as a request failure: the corrected
// position and the mismatched fields come back with a 200.
func (h *Handler) HandleReconcile(w http.ResponseWriter, r *http.Request) {
	identity, ok := domain.IdentityFrom(r.Context())
	if !ok {
		http.Error(w, "Missing identity", http.StatusUnauthorized)
		return
	}

	ownerID := r.URL.Query().Get("owner_id")
	if ownerID == "" {
		ownerID = identity.OwnerID
	}
	if !identity.CanActOn(ownerID) {
		http.Error(w, "Cannot reconcile another owner's positions", http.StatusForbidden)
		return
	}

	asset := domain.NormalizeAsset(chi.URLParam(r, "asset"))
	position, divergences, err := h.aggregator.Reconcile(r.Context(), ownerID, asset)
	if err != nil && !errors.Is(err, domain.ErrReconciliationMismatch) {
		h.writeError(w, err, "Failed to reconcile position")
		return
	}

	h.writeJSON(w, http.StatusOK, envelope(map[string]interface{}{
		"position":    position,
		"consistent":  len(divergences) == 0,
		"divergences": divergences,
	}))
}

// HandleListFlagged handles GET /api/portfolio/flagged (admin only)
func (h *Handler) HandleListFlagged(w http.ResponseWriter, r *http.Request) {
	identity, ok := domain.IdentityFrom(r.Context())
	if !ok || !identity.IsAdmin() {
		http.Error(w, "Admin role required", http.StatusForbidden)
		return
	}

	flagged, err := h.positions.ListFlagged()
	if err != nil {
		h.writeError(w, err, "Failed to list flagged positions")
		return
	}

	h.writeJSON(w, http.StatusOK, envelope(map[string]interface{}{
		"positions": flagged,
		"count":     len(flagged),
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
