package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kotilabs/housing-backend/pkg/auth"
	"github.com/kotilabs/housing-backend/pkg/config"
	"github.com/kotilabs/housing-backend/pkg/enums"
)

var testJWT = config.JWTConfig{Secret: "secret", Issuer: "issuer", ExpirationMinutes: 60}

func mintTestToken(t *testing.T, role enums.TenantRole, tenantID uuid.UUID) string {
	t.Helper()
	token, err := auth.MintAccessToken(testJWT, time.Now(), auth.AccessTokenPayload{
		UserID:   uuid.New(),
		TenantID: tenantID,
		Role:     role,
	})
	require.NoError(t, err)
	return token
}

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
}

func TestAuthRejectsMissingAndInvalidTokens(t *testing.T) {
	handler := Auth(testJWT, nil)(okHandler())

	resp := httptest.NewRecorder()
	handler.ServeHTTP(resp, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusUnauthorized, resp.Code)

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer invalid")
	resp = httptest.NewRecorder()
	handler.ServeHTTP(resp, req)
	assert.Equal(t, http.StatusUnauthorized, resp.Code)

	other := config.JWTConfig{Secret: "other", Issuer: "issuer", ExpirationMinutes: 60}
	req = httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer "+mintTestToken(t, enums.TenantRoleManager, uuid.New()))
	resp = httptest.NewRecorder()
	Auth(other, nil)(okHandler()).ServeHTTP(resp, req)
	assert.Equal(t, http.StatusUnauthorized, resp.Code)
}

func TestAuthSeedsActor(t *testing.T) {
	tenantID := uuid.New()
	var captured auth.Actor
	handler := Auth(testJWT, nil)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		actor, ok := ActorFromContext(r.Context())
		require.True(t, ok)
		captured = actor
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "bearer "+mintTestToken(t, enums.TenantRoleManager, tenantID))
	resp := httptest.NewRecorder()
	handler.ServeHTTP(resp, req)

	require.Equal(t, http.StatusOK, resp.Code)
	assert.Equal(t, tenantID, captured.TenantID)
	assert.NotEqual(t, uuid.Nil, captured.UserID)
	assert.Equal(t, enums.TenantRoleManager, captured.Role)
}

func TestRoleGates(t *testing.T) {
	tenantID := uuid.New()
	cases := []struct {
		name    string
		role    enums.TenantRole
		gate    func(http.Handler) http.Handler
		allowed bool
	}{
		{"manager passes manager gate", enums.TenantRoleManager, RequireManager(nil), true},
		{"admin passes manager gate", enums.TenantRoleAdmin, RequireManager(nil), true},
		{"resident blocked by manager gate", enums.TenantRoleResident, RequireManager(nil), false},
		{"manager blocked by admin gate", enums.TenantRoleManager, RequireAdmin(nil), false},
		{"admin passes admin gate", enums.TenantRoleAdmin, RequireAdmin(nil), true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			handler := Auth(testJWT, nil)(tc.gate(okHandler()))
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			req.Header.Set("Authorization", "Bearer "+mintTestToken(t, tc.role, tenantID))
			resp := httptest.NewRecorder()
			handler.ServeHTTP(resp, req)
			if tc.allowed {
				assert.Equal(t, http.StatusOK, resp.Code)
			} else {
				assert.Equal(t, http.StatusForbidden, resp.Code)
			}
		})
	}
}

func TestRoleGateWithoutActor(t *testing.T) {
	resp := httptest.NewRecorder()
	RequireManager(nil)(okHandler()).ServeHTTP(resp, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusUnauthorized, resp.Code)
}
