package identity

import "context"

type ctxKey string

const claimsKey ctxKey = "identity_claims"

// ContextWithClaims stores verified access claims in the context.
func ContextWithClaims(ctx context.Context, claims *AccessClaims) context.Context {
	return context.WithValue(ctx, claimsKey, claims)
}

// ClaimsFromContext returns the claims stored by the authentication
// middleware, if any.
func ClaimsFromContext(ctx context.Context) (*AccessClaims, bool) {
	claims, ok := ctx.Value(claimsKey).(*AccessClaims)
	if !ok || claims == nil {
		return nil, false
	}
	return claims, true
}

// ActorFromContext returns the authenticated subject id, or empty when the
// request is anonymous. Stores record it on audit rows.
func ActorFromContext(ctx context.Context) string {
	if claims, ok := ClaimsFromContext(ctx); ok {
		return claims.Subject
	}
	return ""
}
