package testhelpers

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/quarrylabs/quarry-agent/pkg/auth"
)

// SignTestJWT issues an HS256 token carrying a tenant claim, signed with the
// given secret. Use alongside an auth middleware configured with the same
// secret.
func SignTestJWT(t *testing.T, secret, tenantID string) string {
	t.Helper()

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, &auth.Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "test-user",
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
		TenantID: tenantID,
	})
	signed, err := token.SignedString([]byte(secret))
	if err != nil {
		t.Fatalf("sign test token: %v", err)
	}
	return signed
}

// SignTestJWTWithBearer returns the token with the "Bearer " prefix for use
// in an Authorization header.
func SignTestJWTWithBearer(t *testing.T, secret, tenantID string) string {
	return "Bearer " + SignTestJWT(t, secret, tenantID)
}
