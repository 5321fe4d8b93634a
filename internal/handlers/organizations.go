package handlers

import (
	"net/http"

	"flightplan-gateway/internal/apperr"
	"flightplan-gateway/internal/models"
)

// ListOrganizations godoc
// @Summary List organizations
// @Description Returns the caller's organizations in the order they were joined
// @Tags organizations
// @Produce json
// @Success 200 {array} models.Organization
// @Router /v1/organizations [get]
func (h *Handler) ListOrganizations(w http.ResponseWriter, r *http.Request) {
	orgs, err := h.selector.List(r.Context(), principal(r).User.ID)
	if err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, orgs)
}

// CreateOrganization godoc
// @Summary Create organization
// @Description Creates an organization owned by the caller and makes it active
// @Tags organizations
// @Accept json
// @Produce json
// @Param request body models.CreateOrganizationInput true "Organization"
// @Success 201 {object} models.OrganizationDetail
// @Failure 400 {object} errorBody
// @Failure 409 {object} errorBody
// @Router /v1/organizations [post]
func (h *Handler) CreateOrganization(w http.ResponseWriter, r *http.Request) {
	var input models.CreateOrganizationInput
	if !decodeJSON(w, r, &input) {
		return
	}
	sc := principal(r)
	org, err := h.orgs.Create(r.Context(), sc.User, sc.SessionID(), input)
	if err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusCreated, org)
}

type setActiveRequest struct {
	OrganizationID string `json:"organization_id"`
}

// SetActiveOrganization godoc
// @Summary Switch organization
// @Description Points the caller's session at one of their organizations
// @Tags organizations
// @Accept json
// @Produce json
// @Param request body setActiveRequest true "Organization"
// @Success 200 {object} models.Session
// @Failure 403 {object} errorBody
// @Router /v1/organizations/active [post]
func (h *Handler) SetActiveOrganization(w http.ResponseWriter, r *http.Request) {
	var req setActiveRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.OrganizationID == "" {
		respondError(w, apperr.Invalid("organization_id is required"))
		return
	}
	sess, err := h.selector.SetActive(r.Context(), principal(r), req.OrganizationID)
	if err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, sess)
}

// GetOrganization godoc
// @Summary Get organization
// @Description Returns an organization with its members
// @Tags organizations
// @Produce json
// @Param orgID path string true "Organization ID"
// @Success 200 {object} models.OrganizationDetail
// @Failure 403 {object} errorBody
// @Router /v1/organizations/{orgID} [get]
func (h *Handler) GetOrganization(w http.ResponseWriter, r *http.Request) {
	org, err := h.orgs.GetFull(r.Context(), principal(r).User.ID, pathParam(r, "orgID"))
	if err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, org)
}

// RemoveMember godoc
// @Summary Remove member
// @Description Removes a member by membership id or email
// @Tags members
// @Produce json
// @Param orgID path string true "Organization ID"
// @Param member path string true "Membership ID or email"
// @Success 200 {object} models.MemberDetail
// @Failure 403 {object} errorBody
// @Failure 404 {object} errorBody
// @Failure 409 {object} errorBody
// @Router /v1/organizations/{orgID}/members/{member} [delete]
func (h *Handler) RemoveMember(w http.ResponseWriter, r *http.Request) {
	removed, err := h.orgs.RemoveMember(r.Context(), principal(r).User.ID, pathParam(r, "orgID"), pathParam(r, "member"))
	if err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, removed)
}

type updateRoleRequest struct {
	Role string `json:"role"`
}

// UpdateMemberRole godoc
// @Summary Change member role
// @Description Changes another member's role; only owners grant or revoke owner
// @Tags members
// @Accept json
// @Produce json
// @Param orgID path string true "Organization ID"
// @Param member path string true "Membership ID or email"
// @Param request body updateRoleRequest true "Role"
// @Success 200 {object} models.MemberDetail
// @Failure 403 {object} errorBody
// @Failure 409 {object} errorBody
// @Router /v1/organizations/{orgID}/members/{member} [patch]
func (h *Handler) UpdateMemberRole(w http.ResponseWriter, r *http.Request) {
	var req updateRoleRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	updated, err := h.orgs.UpdateMemberRole(r.Context(), principal(r).User.ID, pathParam(r, "orgID"), pathParam(r, "member"), req.Role)
	if err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, updated)
}
