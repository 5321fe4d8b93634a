package middleware

import (
	"context"
	"log"
	"net/http"

	"flightplan-gateway/internal/apperr"
	"flightplan-gateway/internal/session"
)

// Resolver turns request credentials into a principal.
type Resolver interface {
	Resolve(ctx context.Context, creds session.Credentials) (*session.Context, error)
}

// Authenticate resolves the caller on every request and stores the principal
// on the request context. Anonymous requests pass through without one.
func Authenticate(resolver Resolver, apiKeyPrefix string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			creds := session.CredentialsFromRequest(r, apiKeyPrefix)
			if creds.Empty() {
				next.ServeHTTP(w, r)
				return
			}
			sc, err := resolver.Resolve(r.Context(), creds)
			if err != nil {
				log.Printf("ERROR middleware: resolve session: %v", err)
				writeError(w, http.StatusServiceUnavailable, apperr.MessageOf(err), string(apperr.CodeUnavailable))
				return
			}
			if sc != nil {
				r = r.WithContext(session.WithContext(r.Context(), sc))
			}
			next.ServeHTTP(w, r)
		})
	}
}

// RequireSession rejects requests without a resolved principal.
func RequireSession(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if _, ok := session.FromContext(r.Context()); !ok {
			writeError(w, http.StatusUnauthorized, apperr.ErrUnauthenticated.Message, string(apperr.CodeUnauthenticated))
			return
		}
		next.ServeHTTP(w, r)
	})
}
