// Package handlers provides HTTP handlers for watchlist operations.
package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/aristath/vantage/internal/domain"
	"github.com/aristath/vantage/internal/modules/watchlist"
)

// Handler handles watchlist HTTP requests
type Handler struct {
	repo *watchlist.Repository
	log  zerolog.Logger
}

// NewHandler creates a new watchlist handler
func NewHandler(repo *watchlist.Repository, log zerolog.Logger) *Handler {
	return &Handler{
		repo: repo,
		log:  log.With().Str("handler", "watchlist").Logger(),
	}
}

type createRequest struct {
	Name      string `json:"name"`
	IsDefault bool   `json:"is_default,omitempty"`
	OwnerID   string `json:"owner_id,omitempty"` // admin use
}

// HandleCreate handles POST /api/watchlists
func (h *Handler) HandleCreate(w http.ResponseWriter, r *http.Request) {
	identity, ok := domain.IdentityFrom(r.Context())
	if !ok {
		http.Error(w, "Missing identity", http.StatusUnauthorized)
		return
	}

	var req createRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	ownerID := req.OwnerID
	if ownerID == "" {
		ownerID = identity.OwnerID
	}
	if !identity.CanActOn(ownerID) {
		http.Error(w, "Cannot create a watchlist for another owner", http.StatusForbidden)
		return
	}

	created, err := h.repo.Create(ownerID, req.Name, req.IsDefault)
	if err != nil {
		h.writeError(w, err, "Failed to create watchlist")
		return
	}

	h.writeJSON(w, http.StatusCreated, envelope(created))
}

// HandleList handles GET /api/watchlists
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
		http.Error(w, "Cannot read another owner's watchlists", http.StatusForbidden)
		return
	}

	lists, err := h.repo.ListByOwner(ownerID)
	if err != nil {
		h.writeError(w, err, "Failed to list watchlists")
		return
	}

	h.writeJSON(w, http.StatusOK, envelope(map[string]interface{}{
		"watchlists": lists,
		"count":      len(lists),
	}))
}

// HandleDefault handles GET /api/watchlists/default
func (h *Handler) HandleDefault(w http.ResponseWriter, r *http.Request) {
	identity, ok := domain.IdentityFrom(r.Context())
	if !ok {
		http.Error(w, "Missing identity", http.StatusUnauthorized)
		return
	}

	list, err := h.repo.Default(identity.OwnerID)
	if err != nil {
		h.writeError(w, err, "Failed to resolve default watchlist")
		return
	}

	h.writeJSON(w, http.StatusOK, envelope(list))
}

// HandleGet handles GET /api/watchlists/{uuid}
func (h *Handler) HandleGet(w http.ResponseWriter, r *http.Request) {
	list, err := h.repo.Get(chi.URLParam(r, "uuid"))
	if err != nil {
		h.writeError(w, err, "Failed to get watchlist")
		return
	}

	identity, _ := domain.IdentityFrom(r.Context())
	if list.OwnerID != identity.OwnerID && list.OwnerID != watchlist.SystemOwner && !identity.IsAdmin() {
		http.Error(w, "Cannot read another owner's watchlist", http.StatusForbidden)
		return
	}

	h.writeJSON(w, http.StatusOK, envelope(list))
}

// HandleDelete handles DELETE /api/watchlists/{uuid}
func (h *Handler) HandleDelete(w http.ResponseWriter, r *http.Request) {
	listUUID := chi.URLParam(r, "uuid")
	if !h.authorizeWrite(w, r, listUUID) {
		return
	}

	if err := h.repo.Delete(listUUID); err != nil {
		h.writeError(w, err, "Failed to delete watchlist")
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

type addItemRequest struct {
	Asset string `json:"asset"`
	Note  string `json:"note,omitempty"`
}

// HandleAddItem handles POST /api/watchlists/{uuid}/items
func (h *Handler) HandleAddItem(w http.ResponseWriter, r *http.Request) {
	listUUID := chi.URLParam(r, "uuid")
	if !h.authorizeWrite(w, r, listUUID) {
		return
	}

	var req addItemRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	item, err := h.repo.AddItem(listUUID, req.Asset, req.Note)
	if err != nil {
		h.writeError(w, err, "Failed to add watchlist item")
		return
	}

	h.writeJSON(w, http.StatusCreated, envelope(item))
}

// HandleRemoveItem handles DELETE /api/watchlists/{uuid}/items/{asset}
func (h *Handler) HandleRemoveItem(w http.ResponseWriter, r *http.Request) {
	listUUID := chi.URLParam(r, "uuid")
	if !h.authorizeWrite(w, r, listUUID) {
		return
	}

	if err := h.repo.RemoveItem(listUUID, chi.URLParam(r, "asset")); err != nil {
		h.writeError(w, err, "Failed to remove watchlist item")
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// authorizeWrite checks the caller may modify the watchlist. System lists
// are admin-only.
func (h *Handler) authorizeWrite(w http.ResponseWriter, r *http.Request, listUUID string) bool {
	identity, ok := domain.IdentityFrom(r.Context())
	if !ok {
		http.Error(w, "Missing identity", http.StatusUnauthorized)
		return false
	}

	list, err := h.repo.Get(listUUID)
	if err != nil {
		h.writeError(w, err, "Failed to get watchlist")
		return false
	}

	if list.OwnerID == watchlist.SystemOwner {
		if !identity.IsAdmin() {
			http.Error(w, "Admin role required for system watchlists", http.StatusForbidden)
			return false
		}
		return true
	}
	if !identity.CanActOn(list.OwnerID) {
		http.Error(w, "Cannot modify another owner's watchlist", http.StatusForbidden)
		return false
	}
	return true
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
