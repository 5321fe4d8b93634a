package handlers

import (
	"encoding/json"
	"errors"
	"io"
	"log"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"flightplan-gateway/internal/apikeys"
	"flightplan-gateway/internal/apperr"
	"flightplan-gateway/internal/auth"
	"flightplan-gateway/internal/cache"
	"flightplan-gateway/internal/invitations"
	"flightplan-gateway/internal/middleware"
	"flightplan-gateway/internal/orgs"
	"flightplan-gateway/internal/session"
	"flightplan-gateway/internal/storage"
)

// Deps are the services the HTTP surface is built on.
type Deps struct {
	Store       *storage.Storage
	Auth        *auth.Service
	Resolver    *session.Resolver
	Selector    *session.Selector
	Orgs        *orgs.Service
	Invitations *invitations.Service
	APIKeys     *apikeys.Service

	// Limiter counts sign-up, sign-in and accept attempts per client.
	Limiter     cache.Counter
	LoginLimit  int
	LoginWindow time.Duration
	// TrustedProxies may report the client address in forwarding headers.
	TrustedProxies *middleware.TrustedProxies

	// BaseURL decides whether the session cookie is marked Secure.
	BaseURL string
}

type Handler struct {
	store       *storage.Storage
	auth        *auth.Service
	resolver    *session.Resolver
	selector    *session.Selector
	orgs        *orgs.Service
	invitations *invitations.Service
	apiKeys     *apikeys.Service

	limiter      cache.Counter
	loginLimit   int
	loginWindow  time.Duration
	proxies      *middleware.TrustedProxies
	secureCookie bool
}

func New(deps Deps) *Handler {
	secure := false
	if u, err := url.Parse(deps.BaseURL); err == nil && u.Scheme == "https" {
		secure = true
	}
	window := deps.LoginWindow
	if window <= 0 {
		window = time.Minute
	}
	return &Handler{
		store:        deps.Store,
		auth:         deps.Auth,
		resolver:     deps.Resolver,
		selector:     deps.Selector,
		orgs:         deps.Orgs,
		invitations:  deps.Invitations,
		apiKeys:      deps.APIKeys,
		limiter:      deps.Limiter,
		loginLimit:   deps.LoginLimit,
		loginWindow:  window,
		proxies:      deps.TrustedProxies,
		secureCookie: secure,
	}
}

func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Get("/healthz", h.Health)

	r.Route("/v1", func(r chi.Router) {
		r.Use(middleware.Authenticate(h.resolver, apikeys.SecretPrefix))

		// Public
		r.With(h.rateLimit("sign-up")).Post("/auth/sign-up", h.SignUp)
		r.With(h.rateLimit("sign-in")).Post("/auth/sign-in", h.SignIn)
		r.Get("/auth/session", h.GetSession)
		r.Get("/invitations/{id}", h.GetInvitation)

		r.Group(func(r chi.Router) {
			r.Use(middleware.RequireSession)

			// Account
			r.Post("/auth/sign-out", h.SignOut)
			r.Patch("/auth/me", h.UpdateProfile)

			// Organizations
			r.Get("/organizations", h.ListOrganizations)
			r.Post("/organizations", h.CreateOrganization)
			r.Post("/organizations/active", h.SetActiveOrganization)
			r.Get("/organizations/{orgID}", h.GetOrganization)
			r.Get("/organizations/{orgID}/invitations", h.ListInvitations)
			r.Post("/organizations/{orgID}/invitations", h.CreateInvitations)
			r.Delete("/organizations/{orgID}/members/{member}", h.RemoveMember)
			r.Patch("/organizations/{orgID}/members/{member}", h.UpdateMemberRole)

			// Invitations
			r.With(h.rateLimit("accept")).Post("/invitations/{id}/accept", h.AcceptInvitation)
			r.Delete("/invitations/{id}", h.CancelInvitation)

			// API keys
			r.Get("/api-keys", h.ListAPIKeys)
			r.Post("/api-keys", h.CreateAPIKey)
			r.Delete("/api-keys/{id}", h.RevokeAPIKey)
		})
	})
}

func (h *Handler) rateLimit(name string) func(http.Handler) http.Handler {
	return middleware.RateLimit(h.limiter, h.proxies, name, h.loginLimit, h.loginWindow)
}

// Health godoc
// @Summary Health check
// @Description Reports whether storage and, when configured, redis are reachable
// @Tags health
// @Produce json
// @Success 200 {object} map[string]string
// @Failure 503 {object} map[string]string
// @Router /healthz [get]
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	if err := h.store.Ping(r.Context()); err != nil {
		log.Printf("ERROR handlers: health ping: %v", err)
		respondJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
		return
	}
	body := map[string]string{"status": "ok"}
	if p, ok := h.limiter.(cache.Pinger); ok {
		body["redis"] = "ok"
		if err := p.Ping(r.Context()); err != nil {
			log.Printf("WARN handlers: health redis ping: %v", err)
			body["status"] = "degraded"
			body["redis"] = "unavailable"
		}
	}
	respondJSON(w, http.StatusOK, body)
}

// principal returns the resolved caller. Routes behind RequireSession always have one.
func principal(r *http.Request) *session.Context {
	sc, _ := session.FromContext(r.Context())
	return sc
}

const maxBodyBytes = 1 << 20

// decodeJSON reads a JSON body into dst. An empty body leaves dst untouched.
func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil && !errors.Is(err, io.EOF) {
		respondError(w, apperr.Invalid("invalid request body"))
		return false
	}
	return true
}

func respondJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		log.Printf("WARN handlers: encode response: %v", err)
	}
}

type errorBody struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

// respondError writes err with the status for its kind. Faults are logged
// and reported without detail.
func respondError(w http.ResponseWriter, err error) {
	status := statusFor(apperr.KindOf(err))
	if status == http.StatusServiceUnavailable {
		log.Printf("ERROR handlers: %v", err)
	}
	respondJSON(w, status, errorBody{Error: apperr.MessageOf(err), Code: string(apperr.CodeOf(err))})
}

func statusFor(kind apperr.Kind) int {
	switch kind {
	case apperr.KindUnauthenticated:
		return http.StatusUnauthorized
	case apperr.KindForbidden:
		return http.StatusForbidden
	case apperr.KindNotFound:
		return http.StatusNotFound
	case apperr.KindConflict:
		return http.StatusConflict
	case apperr.KindValidation:
		return http.StatusBadRequest
	default:
		return http.StatusServiceUnavailable
	}
}

// pathParam returns the decoded route parameter. chi matches on the raw
// path when one is set, so values such as b%40x.com arrive still escaped.
func pathParam(r *http.Request, name string) string {
	raw := chi.URLParam(r, name)
	if value, err := url.PathUnescape(raw); err == nil {
		raw = value
	}
	return strings.TrimSpace(raw)
}
