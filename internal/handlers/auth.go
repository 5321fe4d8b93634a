package handlers

import (
	"net/http"
	"time"

	"flightplan-gateway/internal/apperr"
	"flightplan-gateway/internal/auth"
	"flightplan-gateway/internal/models"
	"flightplan-gateway/internal/session"
)

type authResponse struct {
	User      *models.User `json:"user"`
	SessionID string       `json:"session_id"`
	Token     string       `json:"token"`
	ExpiresAt time.Time    `json:"expires_at"`
}

// SignUp godoc
// @Summary Create an account
// @Description Registers an email and password and starts a session
// @Tags auth
// @Accept json
// @Produce json
// @Param request body models.SignUpInput true "Account"
// @Success 201 {object} authResponse
// @Failure 400 {object} errorBody
// @Failure 409 {object} errorBody
// @Router /v1/auth/sign-up [post]
func (h *Handler) SignUp(w http.ResponseWriter, r *http.Request) {
	var input models.SignUpInput
	if !decodeJSON(w, r, &input) {
		return
	}
	user, issued, err := h.auth.SignUp(r.Context(), input.Email, input.Password, input.Name)
	if err != nil {
		respondError(w, err)
		return
	}
	h.setSessionCookie(w, issued)
	respondJSON(w, http.StatusCreated, newAuthResponse(user, issued))
}

type signInRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// SignIn godoc
// @Summary Sign in
// @Description Exchanges an email and password for a session token
// @Tags auth
// @Accept json
// @Produce json
// @Param request body signInRequest true "Credentials"
// @Success 200 {object} authResponse
// @Failure 401 {object} errorBody
// @Failure 429 {object} errorBody
// @Router /v1/auth/sign-in [post]
func (h *Handler) SignIn(w http.ResponseWriter, r *http.Request) {
	var req signInRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	user, issued, err := h.auth.SignIn(r.Context(), req.Email, req.Password)
	if err != nil {
		respondError(w, err)
		return
	}
	h.setSessionCookie(w, issued)
	respondJSON(w, http.StatusOK, newAuthResponse(user, issued))
}

// SignOut godoc
// @Summary Sign out
// @Description Deletes the current session; repeating it is harmless
// @Tags auth
// @Success 204
// @Failure 401 {object} errorBody
// @Router /v1/auth/sign-out [post]
func (h *Handler) SignOut(w http.ResponseWriter, r *http.Request) {
	sc := principal(r)
	if sc.IsAPIKey() {
		respondError(w, apperr.New(apperr.CodeForbidden, "api keys cannot sign out"))
		return
	}
	if err := h.auth.SignOut(r.Context(), sc.SessionID()); err != nil {
		respondError(w, err)
		return
	}
	h.clearSessionCookie(w)
	w.WriteHeader(http.StatusNoContent)
}

// GetSession godoc
// @Summary Current session
// @Description Returns the caller with organizations and the active organization, or null
// @Tags auth
// @Produce json
// @Success 200 {object} session.Context
// @Router /v1/auth/session [get]
func (h *Handler) GetSession(w http.ResponseWriter, r *http.Request) {
	sc, ok := session.FromContext(r.Context())
	if !ok {
		respondJSON(w, http.StatusOK, nil)
		return
	}
	respondJSON(w, http.StatusOK, sc)
}

// UpdateProfile godoc
// @Summary Update profile
// @Description Changes the caller's display name or avatar; the email is fixed
// @Tags auth
// @Accept json
// @Produce json
// @Param request body models.UpdateProfileInput true "Profile"
// @Success 200 {object} models.User
// @Failure 400 {object} errorBody
// @Router /v1/auth/me [patch]
func (h *Handler) UpdateProfile(w http.ResponseWriter, r *http.Request) {
	var input models.UpdateProfileInput
	if !decodeJSON(w, r, &input) {
		return
	}
	sc := principal(r)
	name := sc.User.Name
	if input.Name != nil {
		name = *input.Name
	}
	user, err := h.auth.UpdateProfile(r.Context(), sc.User.ID, name, input.AvatarURL)
	if err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, user)
}

func newAuthResponse(user *models.User, issued *auth.IssuedSession) authResponse {
	return authResponse{
		User:      user,
		SessionID: issued.Session.ID,
		Token:     issued.Token,
		ExpiresAt: issued.Session.ExpiresAt,
	}
}

func (h *Handler) setSessionCookie(w http.ResponseWriter, issued *auth.IssuedSession) {
	http.SetCookie(w, &http.Cookie{
		Name:     session.CookieName,
		Value:    issued.Token,
		Path:     "/",
		Expires:  issued.Session.ExpiresAt,
		HttpOnly: true,
		Secure:   h.secureCookie,
		SameSite: http.SameSiteLaxMode,
	})
}

func (h *Handler) clearSessionCookie(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     session.CookieName,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   h.secureCookie,
		SameSite: http.SameSiteLaxMode,
	})
}
