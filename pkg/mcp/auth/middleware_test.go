package mcpauth

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/quarrylabs/quarry-agent/pkg/auth"
	"github.com/quarrylabs/quarry-agent/pkg/config"
)

const testSecret = "mcp-test-secret"

func signToken(t *testing.T, tenantID string) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, &auth.Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
		TenantID: tenantID,
	})
	signed, err := token.SignedString([]byte(testSecret))
	require.NoError(t, err)
	return signed
}

func newTestMiddleware() *Middleware {
	verifier := auth.NewMiddleware(&config.AuthConfig{
		EnableVerification: true,
		SigningSecret:      testSecret,
	}, zap.NewNop())
	return NewMiddleware(verifier, zap.NewNop())
}

func TestRequireTenantValidToken(t *testing.T) {
	var gotTenant string
	handler := newTestMiddleware().RequireTenant(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotTenant, _ = auth.TenantFromContext(r.Context())
	}))

	req := httptest.NewRequest(http.MethodPost, "/mcp", nil)
	req.Header.Set("Authorization", "Bearer "+signToken(t, "acme"))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "acme", gotTenant)
}

func TestRequireTenantRejectsWithBearerChallenge(t *testing.T) {
	handler := newTestMiddleware().RequireTenant(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("handler must not run without a valid token")
	}))

	req := httptest.NewRequest(http.MethodPost, "/mcp", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Contains(t, rec.Header().Get("WWW-Authenticate"), "invalid_token")
}

func TestRequireTenantRejectsTokenWithoutTenant(t *testing.T) {
	handler := newTestMiddleware().RequireTenant(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("handler must not run without a tenant claim")
	}))

	req := httptest.NewRequest(http.MethodPost, "/mcp", nil)
	req.Header.Set("Authorization", "Bearer "+signToken(t, ""))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}
