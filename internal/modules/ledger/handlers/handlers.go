// Package handlers provides HTTP handlers for ledger operations.
package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/rs/zerolog"

	"github.com/aristath/vantage/internal/domain"
	"github.com/aristath/vantage/internal/modules/ledger"
)

// Handler handles ledger HTTP requests
type Handler struct {
	service *ledger.Service
	repo    *ledger.TradeActionRepository
	log     zerolog.Logger
}

// NewHandler creates a new ledger handler
func NewHandler(service *ledger.Service, repo *ledger.TradeActionRepository, log zerolog.Logger) *Handler {
	return &Handler{
		service: service,
		repo:    repo,
		log:     log.With().Str("handler", "ledger").Logger(),
	}
}

type appendRequest struct {
	OwnerID       string   `json:"owner_id"`
	Asset         string   `json:"asset"`
	AssetMeta     string   `json:"asset_meta,omitempty"`
	Kind          string   `json:"kind"`
	Direction     string   `json:"direction"`
	Price         float64  `json:"price"`
	Quantity      float64  `json:"quantity"`
	Leverage      float64  `json:"leverage,omitempty"`
	Fees          float64  `json:"fees,omitempty"`
	Context       string   `json:"context,omitempty"`
	StopPrice     *float64 `json:"stop_price,omitempty"`
	TargetPrice   *float64 `json:"target_price,omitempty"`
	MaxAllocation *float64 `json:"max_allocation_pct,omitempty"`
	Source        string   `json:"source,omitempty"`
	ExecutedAt    *string  `json:"executed_at,omitempty"` // RFC3339
}

// HandleAppend handles POST /api/ledger/actions
func (h *Handler) HandleAppend(w http.ResponseWriter, r *http.Request) {
	identity, ok := domain.IdentityFrom(r.Context())
	if !ok {
		http.Error(w, "Missing identity", http.StatusUnauthorized)
		return
	}

	var req appendRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	ownerID := req.OwnerID
	if ownerID == "" {
		ownerID = identity.OwnerID
	}
	if !identity.CanActOn(ownerID) {
		http.Error(w, "Cannot act on another owner's ledger", http.StatusForbidden)
		return
	}

	action := &domain.TradeAction{
		OwnerID:       ownerID,
		Asset:         req.Asset,
		AssetMeta:     req.AssetMeta,
		Kind:          domain.ActionKind(req.Kind),
		Direction:     domain.Direction(req.Direction),
		Price:         req.Price,
		Quantity:      req.Quantity,
		Leverage:      req.Leverage,
		Fees:          req.Fees,
		Context:       req.Context,
		StopPrice:     req.StopPrice,
		TargetPrice:   req.TargetPrice,
		MaxAllocation: req.MaxAllocation,
		Source:        domain.ActionSource(req.Source),
	}
	if identity.IsAdmin() && ownerID != identity.OwnerID {
		action.ActingAdmin = identity.OwnerID
	}
	if req.ExecutedAt != nil {
		executedAt, err := time.Parse(time.RFC3339, *req.ExecutedAt)
		if err != nil {
			http.Error(w, "Invalid executed_at timestamp", http.StatusBadRequest)
			return
		}
		action.ExecutedAt = executedAt.UTC()
	}

	appended, position, err := h.service.Append(action)
	if err != nil {
		h.writeError(w, err, "Failed to append trade action")
		return
	}

	h.writeJSON(w, http.StatusCreated, envelope(map[string]interface{}{
		"action":   appended,
		"position": position,
	}))
}

// HandleListActions handles GET /api/ledger/actions
func (h *Handler) HandleListActions(w http.ResponseWriter, r *http.Request) {
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
		http.Error(w, "Cannot read another owner's ledger", http.StatusForbidden)
		return
	}

	limit := 100
	if limitStr := r.URL.Query().Get("limit"); limitStr != "" {
		if parsed, err := strconv.Atoi(limitStr); err == nil && parsed > 0 {
			limit = parsed
		}
	}

	var actions []*domain.TradeAction
	var err error
	if asset := r.URL.Query().Get("asset"); asset != "" {
		actions, err = h.repo.ListByOwnerAsset(ownerID, domain.NormalizeAsset(asset))
	} else {
		actions, err = h.repo.ListByOwner(ownerID, limit)
	}
	if err != nil {
		h.writeError(w, err, "Failed to list trade actions")
		return
	}

	h.writeJSON(w, http.StatusOK, envelope(map[string]interface{}{
		"actions": actions,
		"count":   len(actions),
	}))
}

// HandleGetAction handles GET /api/ledger/actions/{id}
func (h *Handler) HandleGetAction(w http.ResponseWriter, r *http.Request, idStr string) {
	id, err := strconv.ParseInt(idStr, 10, 64)
	if err != nil {
		http.Error(w, "Invalid action ID", http.StatusBadRequest)
		return
	}

	action, err := h.repo.GetByID(id)
	if err != nil {
		h.writeError(w, err, "Failed to get trade action")
		return
	}

	identity, _ := domain.IdentityFrom(r.Context())
	if action.OwnerID != identity.OwnerID && !identity.IsAdmin() {
		http.Error(w, "Cannot read another owner's ledger", http.StatusForbidden)
		return
	}

	h.writeJSON(w, http.StatusOK, envelope(action))
}

// HandleSummary handles GET /api/ledger/summary
func (h *Handler) HandleSummary(w http.ResponseWriter, r *http.Request) {
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
		http.Error(w, "Cannot read another owner's ledger", http.StatusForbidden)
		return
	}

	summary, err := h.repo.Summarize(ownerID)
	if err != nil {
		h.writeError(w, err, "Failed to summarize ledger")
		return
	}

	h.writeJSON(w, http.StatusOK, envelope(summary))
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
