// Package handlers provides HTTP handlers for market context snapshots.
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
	"github.com/aristath/vantage/internal/modules/marketdata"
)

// Handler handles market data HTTP requests
type Handler struct {
	service *marketdata.Service
	repo    *marketdata.SnapshotRepository
	log     zerolog.Logger
}

// NewHandler creates a new market data handler
func NewHandler(service *marketdata.Service, repo *marketdata.SnapshotRepository, log zerolog.Logger) *Handler {
	return &Handler{
		service: service,
		repo:    repo,
		log:     log.With().Str("handler", "marketdata").Logger(),
	}
}

// HandleIngest handles POST /api/market/snapshots
func (h *Handler) HandleIngest(w http.ResponseWriter, r *http.Request) {
	var req marketdata.IngestRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	snapshot, err := h.service.Ingest(&req)
	if err != nil {
		h.writeError(w, err, "Failed to ingest snapshot")
		return
	}

	h.writeJSON(w, http.StatusCreated, envelope(snapshot))
}

// HandleLatest handles GET /api/market/snapshots/{layer}/latest
func (h *Handler) HandleLatest(w http.ResponseWriter, r *http.Request) {
	layer := marketdata.Layer(chi.URLParam(r, "layer"))
	if !layer.Valid() {
		http.Error(w, "Unknown snapshot layer", http.StatusBadRequest)
		return
	}

	snapshot, err := h.repo.Latest(layer)
	if err != nil {
		h.writeError(w, err, "Failed to get latest snapshot")
		return
	}

	h.writeJSON(w, http.StatusOK, envelope(snapshot))
}

// HandleListRecent handles GET /api/market/snapshots/{layer}
func (h *Handler) HandleListRecent(w http.ResponseWriter, r *http.Request) {
	layer := marketdata.Layer(chi.URLParam(r, "layer"))
	if !layer.Valid() {
		http.Error(w, "Unknown snapshot layer", http.StatusBadRequest)
		return
	}

	limit := 50
	if limitStr := r.URL.Query().Get("limit"); limitStr != "" {
		if parsed, err := strconv.Atoi(limitStr); err == nil && parsed > 0 {
			limit = parsed
		}
	}

	snapshots, err := h.repo.ListRecent(layer, limit)
	if err != nil {
		h.writeError(w, err, "Failed to list snapshots")
		return
	}

	h.writeJSON(w, http.StatusOK, envelope(map[string]interface{}{
		"snapshots": snapshots,
		"count":     len(snapshots),
	}))
}

// HandleGetByID handles GET /api/market/snapshots/id/{uuid}
func (h *Handler) HandleGetByID(w http.ResponseWriter, r *http.Request) {
	snapshot, err := h.repo.GetByID(chi.URLParam(r, "uuid"))
	if err != nil {
		h.writeError(w, err, "Failed to get snapshot")
		return
	}

	// Decode the payload for display; the raw blob is not JSON-friendly.
	var payload map[string]interface{}
	if err := snapshot.DecodePayload(&payload); err != nil {
		h.log.Warn().Err(err).Str("snapshot", snapshot.UUID).Msg("Snapshot payload is not decodable")
	}

	h.writeJSON(w, http.StatusOK, envelope(map[string]interface{}{
		"snapshot": snapshot,
		"payload":  payload,
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
	default:
		h.log.Error().Err(err).Msg(msg)
		http.Error(w, msg, http.StatusInternalServerError)
	}
}
