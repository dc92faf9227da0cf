// Package auth resolves the tenant for a request. Tokens are issued by the
// platform gateway; this service only verifies the signature and lifts the
// tenant claim into the request context.
package auth

import (
	"context"

	"github.com/golang-jwt/jwt/v5"
)

// contextKey is a custom type for context keys to avoid collisions.
type contextKey string

// claimsKey is the context key for storing verified claims.
const claimsKey contextKey = "claims"

// Claims is the JWT claims structure issued by the gateway. RegisteredClaims
// carries the standard fields (sub, iss, exp); tenant scoping rides in tid.
type Claims struct {
	jwt.RegisteredClaims
	TenantID string `json:"tid,omitempty"`
	Email    string `json:"email,omitempty"`
}

// GetClaims retrieves verified claims from the request context.
func GetClaims(ctx context.Context) (*Claims, bool) {
	claims, ok := ctx.Value(claimsKey).(*Claims)
	return claims, ok
}

// WithClaims returns a context carrying verified claims.
func WithClaims(ctx context.Context, claims *Claims) context.Context {
	return context.WithValue(ctx, claimsKey, claims)
}

// TenantFromContext extracts the tenant id from verified claims.
func TenantFromContext(ctx context.Context) (string, bool) {
	claims, ok := GetClaims(ctx)
	if !ok || claims == nil || claims.TenantID == "" {
		return "", false
	}
	return claims.TenantID, true
}
