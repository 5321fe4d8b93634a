package handlers

import (
	"net/http"

	"flightplan-gateway/internal/apperr"
	"flightplan-gateway/internal/models"
)

// ListInvitations godoc
// @Summary List pending invitations
// @Description Returns open invitations of an organization, oldest first
// @Tags invitations
// @Produce json
// @Param orgID path string true "Organization ID"
// @Success 200 {array} models.Invitation
// @Failure 403 {object} errorBody
// @Router /v1/organizations/{orgID}/invitations [get]
func (h *Handler) ListInvitations(w http.ResponseWriter, r *http.Request) {
	pending, err := h.invitations.ListPending(r.Context(), principal(r).User.ID, pathParam(r, "orgID"))
	if err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, pending)
}

type invitationResult struct {
	Email      string             `json:"email"`
	Invitation *models.Invitation `json:"invitation,omitempty"`
	Resent     bool               `json:"resent"`
	Error      string             `json:"error,omitempty"`
	Code       string             `json:"code,omitempty"`
}

type createInvitationResponse struct {
	Invitation *models.Invitation `json:"invitation"`
	Resent     bool               `json:"resent"`
}

// CreateInvitations godoc
// @Summary Invite members
// @Description Invites one address ("email") or several ("emails"); an open invitation is refreshed
// @Tags invitations
// @Accept json
// @Produce json
// @Param orgID path string true "Organization ID"
// @Param request body models.CreateInvitationsInput true "Invitees"
// @Success 200 {object} createInvitationResponse
// @Success 201 {object} createInvitationResponse
// @Failure 400 {object} errorBody
// @Failure 403 {object} errorBody
// @Failure 409 {object} errorBody
// @Router /v1/organizations/{orgID}/invitations [post]
func (h *Handler) CreateInvitations(w http.ResponseWriter, r *http.Request) {
	var input models.CreateInvitationsInput
	if !decodeJSON(w, r, &input) {
		return
	}
	sc := principal(r)
	orgID := pathParam(r, "orgID")

	if len(input.Emails) == 0 {
		inv, resent, err := h.invitations.Create(r.Context(), sc.User, orgID, input.Email, input.Role)
		if err != nil {
			respondError(w, err)
			return
		}
		status := http.StatusCreated
		if resent {
			status = http.StatusOK
		}
		respondJSON(w, status, createInvitationResponse{Invitation: inv, Resent: resent})
		return
	}

	emails := input.Emails
	if input.Email != "" {
		emails = append([]string{input.Email}, emails...)
	}
	results, err := h.invitations.CreateMany(r.Context(), sc.User, orgID, emails, input.Role)
	if err != nil {
		respondError(w, err)
		return
	}
	out := make([]invitationResult, 0, len(results))
	for _, res := range results {
		item := invitationResult{Email: res.Email, Invitation: res.Invitation, Resent: res.Resent}
		if res.Err != nil {
			item.Error = apperr.MessageOf(res.Err)
			item.Code = string(apperr.CodeOf(res.Err))
		}
		out = append(out, item)
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{"results": out})
}

// GetInvitation godoc
// @Summary Invitation details
// @Description Public details of an open invitation for the acceptance page
// @Tags invitations
// @Produce json
// @Param id path string true "Invitation ID"
// @Success 200 {object} models.InvitationDetails
// @Failure 404 {object} errorBody
// @Router /v1/invitations/{id} [get]
func (h *Handler) GetInvitation(w http.ResponseWriter, r *http.Request) {
	details, err := h.invitations.Details(r.Context(), pathParam(r, "id"))
	if err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, details)
}

// AcceptInvitation godoc
// @Summary Accept invitation
// @Description Joins the organization; clients treat INVITATION_NOT_FOUND as already handled
// @Tags invitations
// @Produce json
// @Param id path string true "Invitation ID"
// @Success 200 {object} models.Membership
// @Failure 403 {object} errorBody
// @Failure 404 {object} errorBody
// @Failure 409 {object} errorBody
// @Router /v1/invitations/{id}/accept [post]
func (h *Handler) AcceptInvitation(w http.ResponseWriter, r *http.Request) {
	membership, err := h.invitations.Accept(r.Context(), principal(r).User, pathParam(r, "id"))
	if err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, membership)
}

// CancelInvitation godoc
// @Summary Cancel invitation
// @Description Withdraws a pending invitation; canceling twice succeeds
// @Tags invitations
// @Param id path string true "Invitation ID"
// @Success 204
// @Failure 403 {object} errorBody
// @Failure 404 {object} errorBody
// @Failure 409 {object} errorBody
// @Router /v1/invitations/{id} [delete]
func (h *Handler) CancelInvitation(w http.ResponseWriter, r *http.Request) {
	if err := h.invitations.Cancel(r.Context(), principal(r).User.ID, pathParam(r, "id")); err != nil {
		respondError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
