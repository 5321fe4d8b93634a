package handlers

import (
	"net/http"

	"flightplan-gateway/internal/models"
)

// ListAPIKeys godoc
// @Summary List API keys
// @Description Returns the caller's keys, newest first, without secrets
// @Tags api-keys
// @Produce json
// @Success 200 {array} models.APIKeyView
// @Router /v1/api-keys [get]
func (h *Handler) ListAPIKeys(w http.ResponseWriter, r *http.Request) {
	keys, err := h.apiKeys.List(r.Context(), principal(r).User.ID)
	if err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, keys)
}

// CreateAPIKey godoc
// @Summary Create API key
// @Description Issues a key scoped to the active organization; the secret is shown once
// @Tags api-keys
// @Accept json
// @Produce json
// @Param request body models.CreateAPIKeyInput true "Key"
// @Success 201 {object} models.CreateAPIKeyResponse
// @Failure 400 {object} errorBody
// @Router /v1/api-keys [post]
func (h *Handler) CreateAPIKey(w http.ResponseWriter, r *http.Request) {
	var input models.CreateAPIKeyInput
	if !decodeJSON(w, r, &input) {
		return
	}
	sc := principal(r)
	resp, err := h.apiKeys.Create(r.Context(), sc.User.ID, sc.ActiveOrganizationID(), input.Name)
	if err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusCreated, resp)
}

// RevokeAPIKey godoc
// @Summary Revoke API key
// @Description Disables a key; revoking twice succeeds
// @Tags api-keys
// @Param id path string true "API key ID"
// @Success 204
// @Failure 404 {object} errorBody
// @Router /v1/api-keys/{id} [delete]
func (h *Handler) RevokeAPIKey(w http.ResponseWriter, r *http.Request) {
	if err := h.apiKeys.Revoke(r.Context(), principal(r).User.ID, pathParam(r, "id")); err != nil {
		respondError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
