package middleware

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/R3E-Network/savings_layer/pkg/logger"
	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testSecret = []byte("test-secret-with-enough-entropy!")

func echoCaller() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(CallerFrom(r.Context()) + "|" + RoleFrom(r.Context())))
	})
}

func authRequest(t *testing.T, m *AuthMiddleware, header string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, "/users/alice", nil)
	if header != "" {
		req.Header.Set("Authorization", header)
	}
	rec := httptest.NewRecorder()
	m.Handler(echoCaller()).ServeHTTP(rec, req)
	return rec
}

func TestAuthMiddleware_ValidToken(t *testing.T) {
	m := NewAuthMiddleware(testSecret, "savings", logger.NewDiscard(), nil)
	token, err := IssueToken(testSecret, "savings", "alice", "admin", time.Hour)
	require.NoError(t, err)

	rec := authRequest(t, m, "Bearer "+token)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "alice|admin", rec.Body.String())
}

func TestAuthMiddleware_Rejections(t *testing.T) {
	m := NewAuthMiddleware(testSecret, "savings", logger.NewDiscard(), nil)

	expired, err := IssueToken(testSecret, "savings", "alice", "", -time.Hour)
	require.NoError(t, err)
	wrongKey, err := IssueToken([]byte("another-secret-another-secret!!!"), "savings", "alice", "", time.Hour)
	require.NoError(t, err)
	wrongIssuer, err := IssueToken(testSecret, "elsewhere", "alice", "", time.Hour)
	require.NoError(t, err)
	noSubject, err := IssueToken(testSecret, "savings", "", "", time.Hour)
	require.NoError(t, err)
	none, err := jwt.NewWithClaims(jwt.SigningMethodNone, &Claims{
		RegisteredClaims: jwt.RegisteredClaims{Subject: "alice", Issuer: "savings"},
	}).SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)

	tests := []struct {
		name   string
		header string
	}{
		{"missing header", ""},
		{"basic scheme", "Basic abc"},
		{"no token", "Bearer"},
		{"garbage", "Bearer not.a.jwt"},
		{"expired", "Bearer " + expired},
		{"wrong key", "Bearer " + wrongKey},
		{"wrong issuer", "Bearer " + wrongIssuer},
		{"no subject", "Bearer " + noSubject},
		{"alg none", "Bearer " + none},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := authRequest(t, m, tt.header)
			assert.Equal(t, http.StatusUnauthorized, rec.Code)

			var body errorBody
			require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
			assert.Equal(t, "Unauthenticated", body.Error)
		})
	}
}

func TestAuthMiddleware_SkipPaths(t *testing.T) {
	m := NewAuthMiddleware(testSecret, "", logger.NewDiscard(), []string{"/healthz"})
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()
	m.Handler(echoCaller()).ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "|", rec.Body.String())
}

func TestAuthMiddleware_AnyIssuerWhenUnset(t *testing.T) {
	m := NewAuthMiddleware(testSecret, "", logger.NewDiscard(), nil)
	token, err := IssueToken(testSecret, "whoever", "bob", "", time.Hour)
	require.NoError(t, err)
	rec := authRequest(t, m, "Bearer "+token)
	assert.Equal(t, http.StatusOK, rec.Code)
}
