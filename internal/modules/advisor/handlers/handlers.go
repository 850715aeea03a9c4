// Package handlers provides HTTP handlers for recommendation operations.
package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/aristath/vantage/internal/domain"
	"github.com/aristath/vantage/internal/modules/advisor"
)

// Handler handles advisor HTTP requests
type Handler struct {
	service *advisor.Service
	engine  *advisor.Engine
	repo    *advisor.RecommendationRepository
	log     zerolog.Logger
}

// NewHandler creates a new advisor handler
func NewHandler(service *advisor.Service, engine *advisor.Engine, repo *advisor.RecommendationRepository, log zerolog.Logger) *Handler {
	return &Handler{
		service: service,
		engine:  engine,
		repo:    repo,
		log:     log.With().Str("handler", "advisor").Logger(),
	}
}

// HandleList handles GET /api/advisor/recommendations
func (h *Handler) HandleList(w http.ResponseWriter, r *http.Request) {
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
		http.Error(w, "Cannot read another owner's recommendations", http.StatusForbidden)
		return
	}

	status := advisor.Status(r.URL.Query().Get("status"))
	limit := 100
	if limitStr := r.URL.Query().Get("limit"); limitStr != "" {
		if parsed, err := strconv.Atoi(limitStr); err == nil && parsed > 0 {
			limit = parsed
		}
	}

	recs, err := h.repo.ListByOwner(ownerID, status, limit)
	if err != nil {
		h.writeError(w, err, "Failed to list recommendations")
		return
	}

	h.writeJSON(w, http.StatusOK, envelope(map[string]interface{}{
		"recommendations": recs,
		"count":           len(recs),
	}))
}

// HandleGet handles GET /api/advisor/recommendations/{uuid}
func (h *Handler) HandleGet(w http.ResponseWriter, r *http.Request) {
	rec, err := h.repo.GetByID(chi.URLParam(r, "uuid"))
	if err != nil {
		h.writeError(w, err, "Failed to get recommendation")
		return
	}

	identity, _ := domain.IdentityFrom(r.Context())
	if rec.OwnerID != identity.OwnerID && !identity.IsAdmin() {
		http.Error(w, "Cannot read another owner's recommendation", http.StatusForbidden)
		return
	}

	h.writeJSON(w, http.StatusOK, envelope(rec))
}

// HandleApprove handles POST /api/advisor/recommendations/{uuid}/approve
func (h *Handler) HandleApprove(w http.ResponseWriter, r *http.Request) {
	h.handleDecision(w, r, h.service.Approve)
}

// HandleReject handles POST /api/advisor/recommendations/{uuid}/reject
func (h *Handler) HandleReject(w http.ResponseWriter, r *http.Request) {
	h.handleDecision(w, r, h.service.Reject)
}

// HandleImplement handles POST /api/advisor/recommendations/{uuid}/implement
func (h *Handler) HandleImplement(w http.ResponseWriter, r *http.Request) {
	h.handleDecision(w, r, h.service.MarkImplemented)
}

func (h *Handler) handleDecision(w http.ResponseWriter, r *http.Request, decide func(string, string) (*advisor.Recommendation, error)) {
	identity, ok := domain.IdentityFrom(r.Context())
	if !ok {
		http.Error(w, "Missing identity", http.StatusUnauthorized)
		return
	}

	recUUID := chi.URLParam(r, "uuid")
	rec, err := h.repo.GetByID(recUUID)
	if err != nil {
		h.writeError(w, err, "Failed to get recommendation")
		return
	}
	if !identity.CanActOn(rec.OwnerID) {
		http.Error(w, "Cannot act on another owner's recommendation", http.StatusForbidden)
		return
	}

	updated, err := decide(recUUID, identity.OwnerID)
	if err != nil {
		h.writeError(w, err, "Failed to update recommendation")
		return
	}

	h.writeJSON(w, http.StatusOK, envelope(updated))
}

type supersedeRequest struct {
	Payload    string   `json:"payload,omitempty"`
	Confidence *float64 `json:"confidence,omitempty"`
	Priority   *int     `json:"priority,omitempty"`
	ExpiresAt  *string  `json:"expires_at,omitempty"` // RFC3339
}

// HandleSupersede handles POST /api/advisor/recommendations/{uuid}/supersede.
// Admin only: replaces a record with a fresh pending one instead of editing.
func (h *Handler) HandleSupersede(w http.ResponseWriter, r *http.Request) {
	identity, ok := domain.IdentityFrom(r.Context())
	if !ok || !identity.IsAdmin() {
		http.Error(w, "Admin role required", http.StatusForbidden)
		return
	}

	var req supersedeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	svcReq := advisor.SupersedeRequest{
		Payload:    req.Payload,
		Confidence: req.Confidence,
		Priority:   req.Priority,
	}
	if req.ExpiresAt != nil {
		expiresAt, err := time.Parse(time.RFC3339, *req.ExpiresAt)
		if err != nil {
			http.Error(w, "Invalid expires_at timestamp", http.StatusBadRequest)
			return
		}
		utc := expiresAt.UTC()
		svcReq.ExpiresAt = &utc
	}

	replacement, err := h.service.Supersede(chi.URLParam(r, "uuid"), identity.OwnerID, svcReq)
	if err != nil {
		h.writeError(w, err, "Failed to supersede recommendation")
		return
	}

	h.writeJSON(w, http.StatusCreated, envelope(replacement))
}

// HandleSweep handles POST /api/advisor/sweep (admin only, manual trigger)
func (h *Handler) HandleSweep(w http.ResponseWriter, r *http.Request) {
	identity, ok := domain.IdentityFrom(r.Context())
	if !ok || !identity.IsAdmin() {
		http.Error(w, "Admin role required", http.StatusForbidden)
		return
	}

	created, err := h.engine.Sweep(r.Context(), r.URL.Query().Get("owner_id"))
	if err != nil {
		h.writeError(w, err, "Sweep failed")
		return
	}

	h.writeJSON(w, http.StatusOK, envelope(map[string]interface{}{
		"created": created,
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
