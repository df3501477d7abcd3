/*
middleware.go - Authentication and authorization middleware

PURPOSE:
  Bearer-token authentication and role gating for the API. The
  authenticated principal is stashed in the request context so
  handlers can read it without re-parsing the token.

GUARANTEES:
  - Requests without a valid token never reach protected handlers.
  - Role checks happen before any store access, so an actor with the
    wrong role gets 403 even for resources that do not exist.

SEE ALSO:
  - auth/token.go: Token issue/verify
  - server.go: Middleware wiring per route group
*/
package api

import (
	"context"
	"net/http"
	"strings"

	"github.com/promomundial/verification-engine/auth"
	"github.com/promomundial/verification-engine/engine"
)

type contextKey string

const principalKey contextKey = "principal"

// principalFrom extracts the authenticated principal from the request
// context. The bool is false on unauthenticated requests.
func principalFrom(ctx context.Context) (engine.Principal, bool) {
	p, ok := ctx.Value(principalKey).(engine.Principal)
	return p, ok
}

// Authenticator verifies the Authorization bearer token and injects
// the resulting principal into the request context.
func Authenticator(issuer *auth.TokenIssuer) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			header := r.Header.Get("Authorization")
			if header == "" {
				writeError(w, engine.ErrUnauthenticated)
				return
			}
			token := strings.TrimPrefix(header, "Bearer ")
			if token == header {
				writeError(w, engine.ErrUnauthenticated)
				return
			}
			principal, err := issuer.Verify(token)
			if err != nil {
				writeError(w, engine.ErrUnauthenticated)
				return
			}
			ctx := context.WithValue(r.Context(), principalKey, principal)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// RequireRoles rejects authenticated requests whose principal does not
// hold one of the given roles.
func RequireRoles(roles ...engine.Role) func(http.Handler) http.Handler {
	allowed := make(map[engine.Role]bool, len(roles))
	for _, role := range roles {
		allowed[role] = true
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			principal, ok := principalFrom(r.Context())
			if !ok {
				writeError(w, engine.ErrUnauthenticated)
				return
			}
			if !allowed[principal.Role] {
				writeError(w, engine.ErrForbidden)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
