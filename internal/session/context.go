// Package session resolves request credentials into a principal and manages
// the session's active organization.
package session

import (
	"context"
	"net/http"
	"strings"

	"flightplan-gateway/internal/models"
)

const (
	CookieName   = "flightplan_session"
	APIKeyHeader = "X-API-Key"
)

// Context is the resolved principal of a request.
type Context struct {
	User                       *models.User               `json:"user"`
	Session                    *models.Session            `json:"session,omitempty"`
	Organizations              []models.Organization      `json:"organizations"`
	ActiveOrganization         *models.OrganizationDetail `json:"active_organization"`
	Role                       models.Role                `json:"role,omitempty"`
	NeedsOrganizationSelection bool                       `json:"needs_organization_selection"`
	APIKeyID                   string                     `json:"api_key_id,omitempty"`
}

// ActiveOrganizationID returns the id of the active organization or "".
func (c *Context) ActiveOrganizationID() string {
	if c == nil || c.ActiveOrganization == nil {
		return ""
	}
	return c.ActiveOrganization.ID
}

// IsAPIKey reports whether the principal authenticated with an API key.
func (c *Context) IsAPIKey() bool {
	return c != nil && c.APIKeyID != ""
}

// SessionID returns the backing session id, or "" for API-key principals.
func (c *Context) SessionID() string {
	if c == nil || c.Session == nil {
		return ""
	}
	return c.Session.ID
}

type contextKey string

const principalKey contextKey = "flightplan_principal"

func WithContext(ctx context.Context, sc *Context) context.Context {
	return context.WithValue(ctx, principalKey, sc)
}

// FromContext returns the principal stored on ctx, if any.
func FromContext(ctx context.Context) (*Context, bool) {
	sc, ok := ctx.Value(principalKey).(*Context)
	return sc, ok && sc != nil
}

// Credentials are the raw secrets a request presented.
type Credentials struct {
	SessionToken string
	APIKey       string
}

func (c Credentials) Empty() bool {
	return c.SessionToken == "" && c.APIKey == ""
}

// CredentialsFromRequest reads, in order of precedence, the Authorization
// bearer, the X-API-Key header and the session cookie. Bearer values carrying
// the API key prefix are treated as API keys.
func CredentialsFromRequest(r *http.Request, apiKeyPrefix string) Credentials {
	if header := r.Header.Get("Authorization"); strings.HasPrefix(header, "Bearer ") {
		token := strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
		if token != "" {
			if apiKeyPrefix != "" && strings.HasPrefix(token, apiKeyPrefix) {
				return Credentials{APIKey: token}
			}
			return Credentials{SessionToken: token}
		}
	}
	if key := strings.TrimSpace(r.Header.Get(APIKeyHeader)); key != "" {
		return Credentials{APIKey: key}
	}
	if cookie, err := r.Cookie(CookieName); err == nil && cookie.Value != "" {
		return Credentials{SessionToken: cookie.Value}
	}
	return Credentials{}
}
