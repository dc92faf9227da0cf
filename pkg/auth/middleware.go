package auth

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"

	"github.com/quarrylabs/quarry-agent/pkg/config"
)

// Middleware validates bearer tokens and injects tenant claims into the
// request context. With verification disabled (local development) every
// request runs as the configured dev tenant.
type Middleware struct {
	cfg    *config.AuthConfig
	secret []byte
	logger *zap.Logger
}

// NewMiddleware builds the auth middleware.
func NewMiddleware(cfg *config.AuthConfig, logger *zap.Logger) *Middleware {
	return &Middleware{
		cfg:    cfg,
		secret: []byte(cfg.SigningSecret),
		logger: logger.Named("auth"),
	}
}

// RequireTenant validates the request's token and requires a tenant claim.
func (m *Middleware) RequireTenant(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		claims, err := m.Validate(r)
		if err != nil {
			m.logger.Debug("rejected request", zap.Error(err))
			m.unauthorized(w, "Authentication required")
			return
		}

		next(w, r.WithContext(WithClaims(r.Context(), claims)))
	}
}

// Validate checks the request's bearer token and returns tenant claims. With
// verification disabled it returns the configured dev tenant.
func (m *Middleware) Validate(r *http.Request) (*Claims, error) {
	if !m.cfg.EnableVerification {
		return &Claims{TenantID: m.cfg.DevTenantID}, nil
	}

	claims, err := m.validateRequest(r)
	if err != nil {
		return nil, err
	}
	if claims.TenantID == "" {
		return nil, errors.New("token carries no tenant claim")
	}
	return claims, nil
}

func (m *Middleware) validateRequest(r *http.Request) (*Claims, error) {
	header := r.Header.Get("Authorization")
	if header == "" {
		return nil, errors.New("missing authorization header")
	}
	tokenString, ok := strings.CutPrefix(header, "Bearer ")
	if !ok {
		return nil, errors.New("authorization header is not a bearer token")
	}

	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (any, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return m.secret, nil
	})
	if err != nil {
		return nil, fmt.Errorf("parse token: %w", err)
	}
	if !token.Valid {
		return nil, errors.New("invalid token")
	}

	return claims, nil
}

func (m *Middleware) unauthorized(w http.ResponseWriter, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusUnauthorized)
	fmt.Fprintf(w, `{"error": "unauthorized", "message": %q}`, message)
}
