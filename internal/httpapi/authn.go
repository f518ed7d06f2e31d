package httpapi

import (
	"errors"
	"net/http"
	"strings"

	"idgate.org/internal/identity"
)

const (
	authHeader = "Authorization"
	bearer     = "Bearer "
)

// authenticate verifies the bearer access token and stores its claims in the
// request context. Verification is purely local; no store round-trip.
func (a *API) authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodOptions {
			next.ServeHTTP(w, r)
			return
		}
		token, err := extractBearerToken(r.Header.Get(authHeader))
		if err != nil {
			unauthorized(w, r, err.Error())
			return
		}
		claims, err := a.codec.VerifyAccess(token)
		if err != nil {
			switch {
			case errors.Is(err, identity.ErrTokenExpired):
				unauthorized(w, r, "token expired")
			default:
				unauthorized(w, r, "invalid token")
			}
			return
		}
		ctx := identity.ContextWithClaims(r.Context(), claims)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// optionalAuthenticate attaches claims when a valid token is present and
// passes the request through anonymously otherwise.
func (a *API) optionalAuthenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token, err := extractBearerToken(r.Header.Get(authHeader))
		if err == nil {
			if claims, verr := a.codec.VerifyAccess(token); verr == nil {
				r = r.WithContext(identity.ContextWithClaims(r.Context(), claims))
			}
		}
		next.ServeHTTP(w, r)
	})
}

// RequireRole admits requests whose claims carry at least one of the given
// roles. The 403 body names both sides of the mismatch.
func RequireRole(roles ...identity.RoleName) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			claims, ok := identity.ClaimsFromContext(r.Context())
			if !ok {
				unauthorized(w, r, "authentication required")
				return
			}
			for _, role := range roles {
				if claims.HasRole(role) {
					next.ServeHTTP(w, r)
					return
				}
			}
			required := make([]string, 0, len(roles))
			for _, role := range roles {
				required = append(required, string(role))
			}
			w.Header().Set("WWW-Authenticate", `Bearer error="insufficient_scope"`)
			writeJSON(w, http.StatusForbidden, map[string]any{
				"error":          "insufficient permissions",
				"required_roles": required,
				"user_roles":     claims.Roles,
			})
		})
	}
}

func unauthorized(w http.ResponseWriter, r *http.Request, msg string) {
	w.Header().Set("WWW-Authenticate", `Bearer realm="idgate"`)
	writeError(w, r, http.StatusUnauthorized, msg)
}

func extractBearerToken(header string) (string, error) {
	header = strings.TrimSpace(header)
	if header == "" {
		return "", errors.New("missing bearer token")
	}
	if !strings.HasPrefix(strings.ToLower(header), strings.ToLower(bearer)) {
		return "", errors.New("invalid authorization scheme")
	}
	token := strings.TrimSpace(header[len(bearer):])
	if token == "" {
		return "", errors.New("missing bearer token")
	}
	return token, nil
}
